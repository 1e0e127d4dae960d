package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// AssetReport is the end-of-cycle view of one asset.
type AssetReport struct {
	ID             string
	Allocation     decimal.Decimal
	AllocatedFiat  decimal.Decimal
	Price          decimal.NullDecimal
	Balance        decimal.Decimal
	NextPurchaseAt time.Time
	Status         string
}

// CycleReport is everything that happened in one orchestrator cycle. Notes
// are accumulated while the cycle runs and flushed once at the end.
type CycleReport struct {
	ID          string
	StartedAt   time.Time
	Phase       Phase
	Currency    string
	Fiat        decimal.NullDecimal
	NewCash     bool
	RefillAt    time.Time
	Failures    int
	Notes       []string
	Assets      []AssetReport
	Purchases   []Purchase
	Withdrawals []Withdrawal
}

// Notef appends a formatted note to the cycle log.
func (r *CycleReport) Notef(format string, args ...any) {
	r.Notes = append(r.Notes, fmt.Sprintf(format, args...))
}

// Quiet reports whether nothing noteworthy happened: no new cash, no
// orders, no withdrawals and no failures.
func (r CycleReport) Quiet() bool {
	return !r.NewCash && len(r.Purchases) == 0 && len(r.Withdrawals) == 0 && r.Failures == 0
}

// Record returns the journal summary of the cycle.
func (r CycleReport) Record() CycleRecord {
	return CycleRecord{
		ID:          r.ID,
		StartedAt:   r.StartedAt,
		Fiat:        r.Fiat,
		NewCash:     r.NewCash,
		Purchases:   len(r.Purchases),
		Withdrawals: len(r.Withdrawals),
		Failures:    r.Failures,
		Phase:       r.Phase,
	}
}

// Countdown formats d as "Hh Mm Ss", rounding down to the second.
// Negative durations are shown as zero.
func Countdown(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Truncate(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	return fmt.Sprintf("%dh %dm %ds", h, m, d/time.Second)
}
