package scheduler

import (
	"time"

	"github.com/alejandrodnm/dcabot/internal/domain"
	"github.com/shopspring/decimal"
)

// SkipReason explains why the gate held a purchase back.
type SkipReason string

const (
	SkipNone         SkipReason = ""
	SkipDisabled     SkipReason = "no allocation"
	SkipNoPrice      SkipReason = "price unknown"
	SkipNoFunds      SkipReason = "nothing allocated"
	SkipUnaffordable SkipReason = "allocation below order cost"
	SkipNotDue       SkipReason = "not due yet"
)

// GateDecision is the per-asset, per-cycle purchase verdict.
type GateDecision struct {
	Fire   bool
	Reason SkipReason
	Cost   decimal.Decimal // price × MinOrderSize, zero when the price is unknown
}

// EvaluateGate checks, in order: a nonzero allocation, a known positive
// price, a positive budget, a budget covering one minimum order, and
// finally timing (due, or new cash arrived this cycle).
func EvaluateGate(asset domain.AssetConfig, state domain.AssetState, now time.Time, newCash bool) GateDecision {
	if !asset.Enabled() {
		return GateDecision{Reason: SkipDisabled}
	}
	price, ok := state.Price()
	if !ok {
		return GateDecision{Reason: SkipNoPrice}
	}
	cost := asset.OrderCost(price)
	if !state.AllocatedFiat.IsPositive() {
		return GateDecision{Reason: SkipNoFunds, Cost: cost}
	}
	if state.AllocatedFiat.LessThan(cost) {
		return GateDecision{Reason: SkipUnaffordable, Cost: cost}
	}
	if now.Before(state.NextPurchaseAt) && !newCash {
		return GateDecision{Reason: SkipNotDue, Cost: cost}
	}
	return GateDecision{Fire: true, Cost: cost}
}
