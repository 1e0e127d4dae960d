package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MaxBalanceFailures is the number of consecutive failed balance queries
// after which a bot that never bought anything gives up.
const MaxBalanceFailures = 3

// Phase is the orchestrator state.
type Phase string

const (
	PhaseIdle        Phase = "IDLE"
	PhaseQuerying    Phase = "QUERYING"
	PhaseAllocating  Phase = "ALLOCATING"
	PhasePricing     Phase = "PRICING"
	PhaseGating      Phase = "GATING"
	PhaseWithdrawing Phase = "WITHDRAWING"
	PhaseSleeping    Phase = "SLEEPING"
	PhaseAborted     Phase = "ABORTED"
)

// CycleState is the process-wide scheduler state.
type CycleState struct {
	LastSeenFiat        decimal.NullDecimal // Valid=false until the first successful query
	RefillAt            time.Time
	ConsecutiveFailures int
	Phase               Phase
}

// FirstEvaluation reports whether no balance has been observed yet.
func (c CycleState) FirstEvaluation() bool {
	return !c.LastSeenFiat.Valid
}

// NewCash reports whether fiat is a new cash event: the first observed
// balance, or one strictly above the last seen balance.
func (c CycleState) NewCash(fiat decimal.Decimal) bool {
	return !c.LastSeenFiat.Valid || fiat.GreaterThan(c.LastSeenFiat.Decimal)
}

// ObserveFiat records the balance that triggered a reallocation.
func (c *CycleState) ObserveFiat(fiat decimal.Decimal, refillAt time.Time) {
	c.LastSeenFiat = decimal.NullDecimal{Decimal: fiat, Valid: true}
	c.RefillAt = refillAt
}

// RecordFailure counts a failed balance query and returns the new count.
func (c *CycleState) RecordFailure() int {
	c.ConsecutiveFailures++
	return c.ConsecutiveFailures
}

// RecordSuccess resets the failure counter.
func (c *CycleState) RecordSuccess() {
	c.ConsecutiveFailures = 0
}
