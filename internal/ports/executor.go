package ports

import (
	"context"

	"github.com/alejandrodnm/dcabot/internal/domain"
	"github.com/shopspring/decimal"
)

// OrderExecutor places market buys on the exchange.
type OrderExecutor interface {
	// PlaceMarketBuy buys volume units of asset with the configured fiat.
	// It is called at most once per asset per cycle and is never retried.
	PlaceMarketBuy(ctx context.Context, asset domain.AssetConfig, volume decimal.Decimal) (domain.OrderReceipt, error)
}

// WithdrawalExecutor sweeps holdings to an address registered on the exchange.
type WithdrawalExecutor interface {
	// PlaceWithdrawal withdraws amount of asset to the address saved under key.
	PlaceWithdrawal(ctx context.Context, asset domain.AssetConfig, key string, amount decimal.Decimal) (domain.WithdrawalReceipt, error)
}
