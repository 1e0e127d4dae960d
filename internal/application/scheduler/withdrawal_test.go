package scheduler_test

import (
	"testing"
	"time"

	"github.com/alejandrodnm/dcabot/internal/application/scheduler"
	"github.com/alejandrodnm/dcabot/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withThreshold(a domain.AssetConfig, key, threshold string) domain.AssetConfig {
	a.Withdrawal = &domain.WithdrawalConfig{Key: key}
	if threshold != "" {
		a.Withdrawal.Threshold = decimal.NullDecimal{Decimal: dec(threshold), Valid: true}
	}
	return a
}

func TestWithdrawalPolicy_InvalidSchedule(t *testing.T) {
	_, err := scheduler.NewWithdrawalPolicy("every tuesday")
	assert.Error(t, err)
}

func TestWithdrawalPolicy_Threshold(t *testing.T) {
	p, err := scheduler.NewWithdrawalPolicy("")
	require.NoError(t, err)
	btc := withThreshold(asset("BTC", "50", "0.01"), "cold", "0.5")

	s := domain.NewAssetState(t0)
	s.Balance = dec("0.49")
	assert.False(t, p.Due(btc, s, t0))

	s.Balance = dec("0.5")
	assert.True(t, p.Due(btc, s, t0))

	p.Advance(btc, &s)
	assert.True(t, s.WithdrawalDueAt.IsZero(), "threshold mode has no due date")
}

func TestWithdrawalPolicy_DateMode(t *testing.T) {
	p, err := scheduler.NewWithdrawalPolicy(scheduler.DefaultWithdrawalSchedule)
	require.NoError(t, err)
	btc := withThreshold(asset("BTC", "50", "0.01"), "cold", "")

	s := domain.NewAssetState(t0)
	s.Balance = dec("3")
	s.WithdrawalDueAt = p.FirstDue(t0)
	assert.Equal(t, time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC), s.WithdrawalDueAt)

	assert.False(t, p.Due(btc, s, t0))
	assert.True(t, p.Due(btc, s, s.WithdrawalDueAt))

	p.Advance(btc, &s)
	assert.Equal(t, time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC), s.WithdrawalDueAt)
}

func TestWithdrawalPolicy_NoDestination(t *testing.T) {
	p, err := scheduler.NewWithdrawalPolicy("")
	require.NoError(t, err)

	s := domain.NewAssetState(t0)
	s.Balance = dec("100")
	assert.False(t, p.Due(asset("BTC", "50", "0.01"), s, t0.Add(365*day)))
	assert.False(t, p.Due(withThreshold(asset("BTC", "50", "0.01"), "", "0.1"), s, t0))
}
