package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// WithdrawalConfig is the sweep destination for an asset. A nil
// *WithdrawalConfig on AssetConfig means withdrawals are disabled.
type WithdrawalConfig struct {
	Key       string              // address key registered on the exchange
	Threshold decimal.NullDecimal // Valid=false → date mode
}

// ThresholdMode reports whether the sweep fires on a balance threshold
// instead of the monthly schedule.
func (w *WithdrawalConfig) ThresholdMode() bool {
	return w != nil && w.Threshold.Valid
}

// AssetConfig is the static configuration of one purchased asset.
// It is built once at startup and never mutated.
type AssetConfig struct {
	ID           string          // internal identifier, e.g. "BTC"
	OrderSymbol  string          // exchange asset code used for orders/withdrawals, e.g. "XBT"
	OrderPair    string          // pair used in AddOrder, e.g. "XBTUSD"
	PricePair    string          // pair requested from the ticker, e.g. "XXBTZUSD"
	PriceKey     string          // key of the pair in the ticker response
	BalanceKey   string          // key of the asset in the balance response, e.g. "XXBT"
	Allocation   decimal.Decimal // percent of new fiat, 0–100
	MinOrderSize decimal.Decimal // quantity bought per order
	Withdrawal   *WithdrawalConfig
}

// Enabled reports whether the asset receives any fiat.
func (a AssetConfig) Enabled() bool {
	return a.Allocation.IsPositive()
}

// Share returns the fraction of fiat earmarked for this asset.
func (a AssetConfig) Share() decimal.Decimal {
	return a.Allocation.Div(hundred)
}

// OrderCost returns the fiat cost of one minimum-size order at price.
func (a AssetConfig) OrderCost(price decimal.Decimal) decimal.Decimal {
	return price.Mul(a.MinOrderSize)
}

// AssetState is the mutable runtime state of one asset. It lives for the
// whole process and is never persisted.
type AssetState struct {
	LastPrice        decimal.NullDecimal // Valid=false → unknown
	AllocatedFiat    decimal.Decimal
	NextPurchaseAt   time.Time
	Balance          decimal.Decimal
	HasEverPurchased bool
	RepacePending    bool      // reallocated but not yet paced with a known price
	WithdrawalDueAt  time.Time // date-mode sweeps only
}

// NewAssetState returns the startup state: unknown price, nothing
// allocated and a purchase due immediately.
func NewAssetState(now time.Time) AssetState {
	return AssetState{NextPurchaseAt: now}
}

// Price returns the last known price and whether it is usable.
func (s AssetState) Price() (decimal.Decimal, bool) {
	if !s.LastPrice.Valid || !s.LastPrice.Decimal.IsPositive() {
		return decimal.Zero, false
	}
	return s.LastPrice.Decimal, true
}

// SetPrice records a freshly fetched price.
func (s *AssetState) SetPrice(p decimal.Decimal) {
	s.LastPrice = decimal.NullDecimal{Decimal: p, Valid: true}
}

// ForgetPrice marks the price as unknown so no decision uses a stale quote.
func (s *AssetState) ForgetPrice() {
	s.LastPrice = decimal.NullDecimal{}
}

// Spend deducts the estimated cost of a filled order from the allocation.
// The allocation never goes below zero.
func (s *AssetState) Spend(cost decimal.Decimal) {
	s.AllocatedFiat = decimal.Max(decimal.Zero, s.AllocatedFiat.Sub(cost))
}
