package scheduler

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultBackoff is how far a purchase is pushed when the allocation cannot
// cover a single order: the asset waits for the next cash event.
const DefaultBackoff = 7 * 24 * time.Hour

// PacingInput holds everything the pacing rule reads.
type PacingInput struct {
	Now           time.Time
	RefillAt      time.Time
	AllocatedFiat decimal.Decimal
	Price         decimal.Decimal
	MinOrderSize  decimal.Decimal
	PollInterval  time.Duration
	Backoff       time.Duration // zero means DefaultBackoff
}

// PacingResult is the outcome of NextPurchaseAt.
type PacingResult struct {
	NextPurchaseAt time.Time
	PossibleOrders int64
	Window         time.Duration
	Spacing        time.Duration
	BackedOff      bool
}

// NextPurchaseAt spreads the remaining affordable orders evenly over the
// time left until the next refill.
//
// possibleOrders = floor(allocated / (price × minOrderSize)). With no
// affordable order the purchase is pushed out by the backoff horizon. When
// the refill is at most one poll interval away the next order is one poll
// interval out; otherwise the window is divided by possibleOrders, never
// going below the poll interval.
//
// The function is pure: the same input always yields the same result.
func NextPurchaseAt(in PacingInput) PacingResult {
	backoff := in.Backoff
	if backoff <= 0 {
		backoff = DefaultBackoff
	}

	orders := possibleOrders(in.AllocatedFiat, in.Price, in.MinOrderSize)
	if orders < 1 {
		return PacingResult{
			NextPurchaseAt: in.Now.Add(backoff),
			Spacing:        backoff,
			BackedOff:      true,
		}
	}

	res := PacingResult{PossibleOrders: orders, Window: in.RefillAt.Sub(in.Now)}
	if res.Window <= in.PollInterval {
		res.Spacing = in.PollInterval
	} else {
		res.Spacing = max(in.PollInterval, res.Window/time.Duration(orders))
	}
	res.NextPurchaseAt = in.Now.Add(res.Spacing)
	return res
}

func possibleOrders(allocated, price, size decimal.Decimal) int64 {
	cost := price.Mul(size)
	if !cost.IsPositive() || !allocated.IsPositive() {
		return 0
	}
	q, _ := allocated.QuoRem(cost, 0)
	return q.IntPart()
}
