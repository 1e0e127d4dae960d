package kraken

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/alejandrodnm/dcabot/internal/domain"
	"github.com/alejandrodnm/dcabot/internal/ports"
	"github.com/shopspring/decimal"
)

var (
	_ ports.AccountProvider    = (*Client)(nil)
	_ ports.PriceProvider      = (*Client)(nil)
	_ ports.OrderExecutor      = (*Client)(nil)
	_ ports.WithdrawalExecutor = (*Client)(nil)
)

// withdrawDecimals es la precisión que acepta Withdraw.
const withdrawDecimals = 8

// PlaceMarketBuy envía una orden market de compra. Sin retries: un timeout
// no garantiza que la orden no haya llegado.
func (c *Client) PlaceMarketBuy(ctx context.Context, asset domain.AssetConfig, volume decimal.Decimal) (domain.OrderReceipt, error) {
	form := url.Values{
		"pair":      {asset.OrderPair},
		"type":      {"buy"},
		"ordertype": {"market"},
		"volume":    {volume.String()},
	}
	var res addOrderResult
	if err := c.private(ctx, "AddOrder", form, false, &res); err != nil {
		return domain.OrderReceipt{}, fmt.Errorf("kraken.PlaceMarketBuy: %s: %w", asset.ID, err)
	}
	if len(res.TxID) == 0 {
		return domain.OrderReceipt{}, &domain.TransportError{Op: "AddOrder", Err: fmt.Errorf("no txid in response")}
	}

	slog.Debug("kraken: order accepted", "asset", asset.ID, "txid", res.TxID, "descr", res.Descr.Order)
	return domain.OrderReceipt{TxIDs: res.TxID, Description: res.Descr.Order}, nil
}

// PlaceWithdrawal retira amount (truncado a 8 decimales) a la dirección
// guardada bajo key.
func (c *Client) PlaceWithdrawal(ctx context.Context, asset domain.AssetConfig, key string, amount decimal.Decimal) (domain.WithdrawalReceipt, error) {
	form := url.Values{
		"asset":  {asset.OrderSymbol},
		"key":    {key},
		"amount": {amount.Truncate(withdrawDecimals).StringFixed(withdrawDecimals)},
	}
	var res withdrawResult
	if err := c.private(ctx, "Withdraw", form, false, &res); err != nil {
		return domain.WithdrawalReceipt{}, fmt.Errorf("kraken.PlaceWithdrawal: %s: %w", asset.ID, err)
	}
	if res.RefID == "" {
		return domain.WithdrawalReceipt{}, &domain.TransportError{Op: "Withdraw", Err: fmt.Errorf("no refid in response")}
	}
	return domain.WithdrawalReceipt{RefID: res.RefID}, nil
}
