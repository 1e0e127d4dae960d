package kraken

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/alejandrodnm/dcabot/internal/domain"
	"github.com/shopspring/decimal"
)

// GetBalance lee /0/private/Balance.
//
// El fiat se busca por FiatKey y, si falta, por el código de moneda sin
// prefijo; si tampoco está la consulta falla con domain.ErrFiatMissing.
// Cada activo se busca por BalanceKey y después por OrderSymbol; si no
// aparece se informa como cero y se anota en Missing.
func (c *Client) GetBalance(ctx context.Context) (domain.BalanceSnapshot, error) {
	var raw map[string]string
	if err := c.private(ctx, "Balance", url.Values{}, true, &raw); err != nil {
		return domain.BalanceSnapshot{}, fmt.Errorf("kraken.GetBalance: %w", err)
	}

	snap := domain.BalanceSnapshot{
		Holdings: make(map[string]decimal.Decimal, len(c.assets)),
		TakenAt:  time.Now(),
	}

	fiat, ok, err := lookup(raw, c.fiatKey, c.currency)
	if err != nil {
		return domain.BalanceSnapshot{}, fmt.Errorf("kraken.GetBalance: %w", err)
	}
	if !ok {
		return domain.BalanceSnapshot{}, fmt.Errorf("kraken.GetBalance: %s: %w", c.fiatKey, domain.ErrFiatMissing)
	}
	snap.Fiat = fiat

	for _, a := range c.assets {
		q, ok, err := lookup(raw, a.BalanceKey, a.OrderSymbol)
		if err != nil {
			return domain.BalanceSnapshot{}, fmt.Errorf("kraken.GetBalance: %w", err)
		}
		if !ok {
			slog.Debug("kraken: balance key missing", "asset", a.ID, "key", a.BalanceKey)
			snap.Missing = append(snap.Missing, a.ID)
			q = decimal.Zero
		}
		snap.Holdings[a.ID] = q
	}
	return snap, nil
}

// lookup returns the value under primary, else under fallback.
func lookup(raw map[string]string, primary, fallback string) (decimal.Decimal, bool, error) {
	for _, k := range []string{primary, fallback} {
		if k == "" {
			continue
		}
		s, ok := raw[k]
		if !ok {
			continue
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, false, &domain.TransportError{Op: "Balance", Err: fmt.Errorf("parse %s=%q: %w", k, s, err)}
		}
		return d, true, nil
	}
	return decimal.Zero, false, nil
}
