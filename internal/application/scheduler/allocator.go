package scheduler

import (
	"github.com/alejandrodnm/dcabot/internal/domain"
	"github.com/shopspring/decimal"
)

// Partition splits fiat across the enabled assets by their allocation
// percentage. Assets with a zero allocation are left out of the result so
// their previous budget is untouched.
//
// The sum of the returned budgets is exactly fiat × Σallocation / 100.
func Partition(assets []domain.AssetConfig, fiat decimal.Decimal) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(assets))
	for _, a := range assets {
		if !a.Enabled() {
			continue
		}
		out[a.ID] = fiat.Mul(a.Allocation).Div(decimal.NewFromInt(100))
	}
	return out
}

// TotalAllocation returns the sum of all allocation percentages.
func TotalAllocation(assets []domain.AssetConfig) decimal.Decimal {
	total := decimal.Zero
	for _, a := range assets {
		total = total.Add(a.Allocation)
	}
	return total
}
