package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BalanceSnapshot is one read of the account: the fiat balance and the
// held quantity of every configured asset, keyed by AssetConfig.ID.
type BalanceSnapshot struct {
	Fiat     decimal.Decimal
	Holdings map[string]decimal.Decimal
	// Missing lists asset IDs whose key was absent from the response.
	// Their holding is reported as zero.
	Missing []string
	TakenAt time.Time
}

// Holding returns the held quantity of an asset, zero if unknown.
func (s BalanceSnapshot) Holding(assetID string) decimal.Decimal {
	if q, ok := s.Holdings[assetID]; ok {
		return q
	}
	return decimal.Zero
}

// OrderReceipt is the exchange acknowledgement of a market buy.
type OrderReceipt struct {
	TxIDs       []string
	Description string
}

// WithdrawalReceipt is the exchange acknowledgement of a withdrawal.
type WithdrawalReceipt struct {
	RefID string
}

// Purchase is a successful buy as recorded in the journal.
type Purchase struct {
	ID         string
	AssetID    string
	Pair       string
	Volume     decimal.Decimal
	Price      decimal.Decimal
	EstCost    decimal.Decimal
	TxIDs      []string
	ExecutedAt time.Time
}

// Withdrawal is a sweep attempt as recorded in the journal.
type Withdrawal struct {
	ID         string
	AssetID    string
	Key        string
	Amount     decimal.Decimal
	RefID      string
	Success    bool
	Error      string
	ExecutedAt time.Time
}

// CycleRecord is the journal summary of one orchestrator cycle.
type CycleRecord struct {
	ID          string
	StartedAt   time.Time
	Fiat        decimal.NullDecimal
	NewCash     bool
	Purchases   int
	Withdrawals int
	Failures    int
	Phase       Phase
}

// PurchaseSummary aggregates the journal per asset.
type PurchaseSummary struct {
	AssetID      string
	Orders       int
	TotalVolume  decimal.Decimal
	TotalCost    decimal.Decimal
	FirstAt      time.Time
	LastAt       time.Time
	Withdrawals  int
	LastWithdraw *time.Time
}

// AveragePrice returns the volume-weighted purchase price.
func (p PurchaseSummary) AveragePrice() decimal.Decimal {
	if p.TotalVolume.IsZero() {
		return decimal.Zero
	}
	return p.TotalCost.Div(p.TotalVolume)
}
