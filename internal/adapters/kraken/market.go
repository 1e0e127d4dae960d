package kraken

import (
	"context"
	"fmt"
	"net/url"

	"github.com/alejandrodnm/dcabot/internal/domain"
	"github.com/shopspring/decimal"
)

// GetSpotPrice devuelve el VWAP del día (p[0]) del par del activo.
// Si la respuesta no trae PriceKey pero contiene un único par, se usa ese.
func (c *Client) GetSpotPrice(ctx context.Context, asset domain.AssetConfig) (decimal.Decimal, error) {
	var res map[string]tickerInfo
	q := url.Values{"pair": {asset.PricePair}}
	if err := c.public(ctx, "Ticker", q, &res); err != nil {
		return decimal.Zero, fmt.Errorf("kraken.GetSpotPrice: %s: %w", asset.ID, err)
	}

	info, ok := res[asset.PriceKey]
	if !ok && len(res) == 1 {
		for _, only := range res {
			info, ok = only, true
		}
	}
	if !ok {
		return decimal.Zero, &domain.TransportError{Op: "Ticker", Err: fmt.Errorf("pair %s not in response", asset.PriceKey)}
	}
	if len(info.VWAP) == 0 {
		return decimal.Zero, &domain.TransportError{Op: "Ticker", Err: fmt.Errorf("pair %s: no vwap", asset.PriceKey)}
	}

	price, err := decimal.NewFromString(info.VWAP[0])
	if err != nil {
		return decimal.Zero, &domain.TransportError{Op: "Ticker", Err: fmt.Errorf("parse vwap %q: %w", info.VWAP[0], err)}
	}
	if !price.IsPositive() {
		return decimal.Zero, &domain.TransportError{Op: "Ticker", Err: fmt.Errorf("pair %s: non-positive price %s", asset.PriceKey, price)}
	}
	return price, nil
}
