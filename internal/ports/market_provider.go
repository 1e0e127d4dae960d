package ports

import (
	"context"

	"github.com/alejandrodnm/dcabot/internal/domain"
	"github.com/shopspring/decimal"
)

// AccountProvider lee el estado de la cuenta en el exchange.
type AccountProvider interface {
	// GetBalance devuelve el saldo fiat y la cantidad de cada activo
	// configurado. Se consulta una vez por ciclo y tras cada compra.
	GetBalance(ctx context.Context) (domain.BalanceSnapshot, error)
}

// PriceProvider devuelve precios spot contra la moneda fiat configurada.
type PriceProvider interface {
	// GetSpotPrice returns the current price of one unit of asset.
	// A non-positive price is never returned without an error.
	GetSpotPrice(ctx context.Context, asset domain.AssetConfig) (decimal.Decimal, error)
}
