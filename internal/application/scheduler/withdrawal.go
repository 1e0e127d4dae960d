package scheduler

import (
	"fmt"
	"time"

	"github.com/alejandrodnm/dcabot/internal/domain"
	"github.com/robfig/cron/v3"
)

// DefaultWithdrawalSchedule fires at midnight on the first of each month.
const DefaultWithdrawalSchedule = "0 0 1 * *"

// WithdrawalPolicy decides when accumulated holdings are swept out.
type WithdrawalPolicy struct {
	schedule cron.Schedule
}

// NewWithdrawalPolicy parses a standard five-field cron expression for the
// date-mode sweep. An empty expression uses DefaultWithdrawalSchedule.
func NewWithdrawalPolicy(expr string) (*WithdrawalPolicy, error) {
	if expr == "" {
		expr = DefaultWithdrawalSchedule
	}
	s, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("scheduler.NewWithdrawalPolicy: %w", err)
	}
	return &WithdrawalPolicy{schedule: s}, nil
}

// FirstDue returns the first date-mode sweep instant after now.
func (p *WithdrawalPolicy) FirstDue(now time.Time) time.Time {
	return p.schedule.Next(now)
}

// Due reports whether the asset should be swept now. Threshold mode fires
// once the held balance reaches the threshold; date mode once now reaches
// WithdrawalDueAt. Assets without a destination are never due.
func (p *WithdrawalPolicy) Due(asset domain.AssetConfig, state domain.AssetState, now time.Time) bool {
	w := asset.Withdrawal
	if w == nil || w.Key == "" {
		return false
	}
	if w.ThresholdMode() {
		return state.Balance.GreaterThanOrEqual(w.Threshold.Decimal)
	}
	return !state.WithdrawalDueAt.IsZero() && !now.Before(state.WithdrawalDueAt)
}

// Advance moves the date-mode due instant forward by exactly one schedule
// step. Threshold-mode assets are left alone.
func (p *WithdrawalPolicy) Advance(asset domain.AssetConfig, state *domain.AssetState) {
	if asset.Withdrawal == nil || asset.Withdrawal.ThresholdMode() {
		return
	}
	state.WithdrawalDueAt = p.schedule.Next(state.WithdrawalDueAt)
}
