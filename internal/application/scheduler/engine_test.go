package scheduler_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alejandrodnm/dcabot/internal/application/scheduler"
	"github.com/alejandrodnm/dcabot/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- fakes ---

type balanceResult struct {
	snap domain.BalanceSnapshot
	err  error
}

// fakeAccount returns scripted results in order, repeating the last one.
type fakeAccount struct {
	results []balanceResult
	calls   int
}

func (f *fakeAccount) GetBalance(_ context.Context) (domain.BalanceSnapshot, error) {
	i := min(f.calls, len(f.results)-1)
	f.calls++
	r := f.results[i]
	return r.snap, r.err
}

// script replaces the remaining results.
func (f *fakeAccount) script(r ...balanceResult) {
	f.results = r
	f.calls = 0
}

func snapshot(fiat string, holdings ...string) balanceResult {
	s := domain.BalanceSnapshot{Fiat: dec(fiat), Holdings: map[string]decimal.Decimal{}}
	for i := 0; i+1 < len(holdings); i += 2 {
		s.Holdings[holdings[i]] = dec(holdings[i+1])
	}
	return balanceResult{snap: s}
}

func failure(err error) balanceResult {
	return balanceResult{err: err}
}

type fakePrices struct {
	prices map[string]decimal.Decimal
	errs   map[string]error
	asked  []string
}

func (f *fakePrices) GetSpotPrice(_ context.Context, a domain.AssetConfig) (decimal.Decimal, error) {
	f.asked = append(f.asked, a.ID)
	if err := f.errs[a.ID]; err != nil {
		return decimal.Zero, err
	}
	return f.prices[a.ID], nil
}

type fakeOrders struct {
	err    error
	placed []string
}

func (f *fakeOrders) PlaceMarketBuy(_ context.Context, a domain.AssetConfig, volume decimal.Decimal) (domain.OrderReceipt, error) {
	if f.err != nil {
		return domain.OrderReceipt{}, f.err
	}
	f.placed = append(f.placed, a.ID+" "+volume.String())
	return domain.OrderReceipt{TxIDs: []string{"OTX-" + a.ID}, Description: "buy " + volume.String() + " " + a.OrderPair + " @ market"}, nil
}

type withdrawCall struct {
	asset  string
	key    string
	amount decimal.Decimal
}

type fakeWithdrawals struct {
	err   error
	calls []withdrawCall
}

func (f *fakeWithdrawals) PlaceWithdrawal(_ context.Context, a domain.AssetConfig, key string, amount decimal.Decimal) (domain.WithdrawalReceipt, error) {
	f.calls = append(f.calls, withdrawCall{asset: a.ID, key: key, amount: amount})
	if f.err != nil {
		return domain.WithdrawalReceipt{}, f.err
	}
	return domain.WithdrawalReceipt{RefID: "REF-" + a.ID}, nil
}

type fakeJournal struct {
	cycles      []domain.CycleRecord
	purchases   []domain.Purchase
	withdrawals []domain.Withdrawal
}

func (f *fakeJournal) SaveCycle(_ context.Context, c domain.CycleRecord) error {
	f.cycles = append(f.cycles, c)
	return nil
}

func (f *fakeJournal) SavePurchase(_ context.Context, p domain.Purchase) error {
	f.purchases = append(f.purchases, p)
	return nil
}

func (f *fakeJournal) SaveWithdrawal(_ context.Context, w domain.Withdrawal) error {
	f.withdrawals = append(f.withdrawals, w)
	return nil
}

func (f *fakeJournal) Summaries(context.Context) ([]domain.PurchaseSummary, error) { return nil, nil }
func (f *fakeJournal) Close() error                                                { return nil }

type reporterFunc func(domain.CycleReport)

func (f reporterFunc) Report(_ context.Context, r domain.CycleReport) error {
	f(r)
	return nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

// --- harness ---

type harness struct {
	account     *fakeAccount
	prices      *fakePrices
	orders      *fakeOrders
	withdrawals *fakeWithdrawals
	journal     *fakeJournal
	clock       *clock
	reports     []domain.CycleReport
	engine      *scheduler.Engine
}

func newHarness(t *testing.T, assets []domain.AssetConfig, prices map[string]string, balances ...balanceResult) *harness {
	t.Helper()
	h := &harness{
		account:     &fakeAccount{results: balances},
		prices:      &fakePrices{prices: map[string]decimal.Decimal{}, errs: map[string]error{}},
		orders:      &fakeOrders{},
		withdrawals: &fakeWithdrawals{},
		journal:     &fakeJournal{},
		clock:       &clock{t: t0},
	}
	for id, p := range prices {
		h.prices.prices[id] = dec(p)
	}
	policy, err := scheduler.NewWithdrawalPolicy("")
	require.NoError(t, err)

	h.engine = scheduler.New(
		scheduler.Config{PollInterval: time.Minute, Currency: "USD"},
		assets,
		h.account, h.prices, h.orders, h.withdrawals, policy,
		scheduler.WithClock(h.clock.now),
		scheduler.WithJournal(h.journal),
		scheduler.WithReporter(reporterFunc(func(r domain.CycleReport) { h.reports = append(h.reports, r) })),
	)
	return h
}

func (h *harness) state(t *testing.T, id string) domain.AssetState {
	t.Helper()
	s, ok := h.engine.Asset(id)
	require.True(t, ok)
	return s
}

var errTimeout = errors.New("dial tcp: i/o timeout")

// --- escalation ---

func TestEngine_AbortsAfterThreeFailuresWithoutPurchase(t *testing.T) {
	h := newHarness(t, []domain.AssetConfig{asset("BTC", "100", "0.001")}, nil, failure(errTimeout))
	ctx := context.Background()

	for i := 1; i < domain.MaxBalanceFailures; i++ {
		_, err := h.engine.RunOnce(ctx)
		require.NoError(t, err, "cycle %d", i)
		assert.Equal(t, i, h.engine.Cycle().ConsecutiveFailures)
	}

	rep, err := h.engine.RunOnce(ctx)
	require.ErrorIs(t, err, domain.ErrAborted)
	assert.Equal(t, domain.PhaseAborted, h.engine.Cycle().Phase)
	assert.Equal(t, domain.PhaseAborted, rep.Phase)
	assert.Len(t, h.journal.cycles, domain.MaxBalanceFailures)
}

func TestEngine_KeepsRunningAfterFailuresOncePurchased(t *testing.T) {
	h := newHarness(t,
		[]domain.AssetConfig{asset("BTC", "100", "0.001")},
		map[string]string{"BTC": "50000"},
		snapshot("100", "BTC", "0"),
		snapshot("50", "BTC", "0.001"),
		failure(errTimeout),
	)
	ctx := context.Background()

	_, err := h.engine.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, h.state(t, "BTC").HasEverPurchased)

	for i := 0; i < 5; i++ {
		_, err := h.engine.RunOnce(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, 5, h.engine.Cycle().ConsecutiveFailures)
	assert.Equal(t, domain.PhaseSleeping, h.engine.Cycle().Phase)
}

func TestEngine_SuccessResetsFailureCount(t *testing.T) {
	h := newHarness(t, []domain.AssetConfig{asset("BTC", "100", "0.001")},
		map[string]string{"BTC": "50000"},
		failure(errTimeout), failure(errTimeout), snapshot("10"), failure(errTimeout), failure(errTimeout),
	)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := h.engine.RunOnce(ctx)
		require.NoError(t, err, "cycle %d", i)
	}
	assert.Equal(t, 2, h.engine.Cycle().ConsecutiveFailures)
}

// --- allocation & pacing ---

func TestEngine_FirstCycleAllocatesBuysAndPaces(t *testing.T) {
	h := newHarness(t,
		[]domain.AssetConfig{asset("BTC", "100", "1"), asset("ETH", "0", "1")},
		map[string]string{"BTC": "100", "ETH": "10"},
		snapshot("300", "BTC", "0"),
		snapshot("200", "BTC", "1"),
	)

	rep, err := h.engine.RunOnce(context.Background())
	require.NoError(t, err)

	// Without a refill day the window is one month: 2026-11-16 is a Monday.
	refill := time.Date(2026, 11, 16, 10, 0, 0, 0, time.UTC)
	assert.True(t, rep.NewCash)
	assert.Equal(t, refill, h.engine.Cycle().RefillAt)
	assert.True(t, dec("300").Equal(h.engine.Cycle().LastSeenFiat.Decimal))

	assert.Equal(t, []string{"BTC 1"}, h.orders.placed)
	assert.Equal(t, []string{"BTC"}, h.prices.asked, "zero-allocation assets are not priced")

	btc := h.state(t, "BTC")
	assert.True(t, btc.HasEverPurchased)
	assert.True(t, dec("200").Equal(btc.AllocatedFiat))
	assert.True(t, dec("1").Equal(btc.Balance))
	// 200 left at 100 each → 2 orders over the 31 day window.
	assert.Equal(t, t0.Add(refill.Sub(t0)/2), btc.NextPurchaseAt)

	require.Len(t, h.journal.purchases, 1)
	assert.Equal(t, []string{"OTX-BTC"}, h.journal.purchases[0].TxIDs)
	require.Len(t, h.reports, 1)
	assert.Len(t, rep.Assets, 2)
}

func TestEngine_WaitsUntilDueWithoutNewCash(t *testing.T) {
	h := newHarness(t,
		[]domain.AssetConfig{asset("BTC", "100", "1")},
		map[string]string{"BTC": "100"},
		snapshot("300", "BTC", "0"),
		snapshot("200", "BTC", "1"),
	)
	ctx := context.Background()

	_, err := h.engine.RunOnce(ctx)
	require.NoError(t, err)
	next := h.state(t, "BTC").NextPurchaseAt

	h.clock.advance(time.Hour)
	rep, err := h.engine.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, rep.NewCash)
	assert.Len(t, h.orders.placed, 1)
	assert.Contains(t, rep.Notes, "BTC next order in "+domain.Countdown(next.Sub(h.clock.t)))

	h.account.script(snapshot("200", "BTC", "1"), snapshot("100", "BTC", "2"))
	h.clock.t = next
	_, err = h.engine.RunOnce(ctx)
	require.NoError(t, err)
	assert.Len(t, h.orders.placed, 2)

	btc := h.state(t, "BTC")
	assert.True(t, dec("100").Equal(btc.AllocatedFiat))
	assert.True(t, btc.NextPurchaseAt.After(next))
	assert.True(t, dec("300").Equal(h.engine.Cycle().LastSeenFiat.Decimal), "lower fiat never moves the watermark")
}

func TestEngine_NewCashReallocates(t *testing.T) {
	h := newHarness(t,
		[]domain.AssetConfig{asset("BTC", "50", "1"), asset("ETH", "50", "1")},
		map[string]string{"BTC": "1000", "ETH": "1000"},
		snapshot("100"),
	)
	ctx := context.Background()

	_, err := h.engine.RunOnce(ctx)
	require.NoError(t, err)
	assert.Empty(t, h.orders.placed, "50 each cannot cover a 1000 order")
	assert.True(t, h.state(t, "BTC").NextPurchaseAt.Equal(t0.Add(scheduler.DefaultBackoff)))

	h.account.script(snapshot("4000"))
	h.clock.advance(day)
	rep, err := h.engine.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, rep.NewCash)
	assert.Equal(t, []string{"BTC 1", "ETH 1"}, h.orders.placed)
	assert.True(t, dec("1000").Equal(h.state(t, "ETH").AllocatedFiat))
}

func TestEngine_ReallocationWaitsForPriceBeforePacing(t *testing.T) {
	h := newHarness(t,
		[]domain.AssetConfig{asset("BTC", "100", "1")},
		map[string]string{"BTC": "100"},
		snapshot("50"),
	)
	ctx := context.Background()

	_, err := h.engine.RunOnce(ctx)
	require.NoError(t, err)
	require.Empty(t, h.orders.placed)
	backoff := t0.Add(scheduler.DefaultBackoff)
	require.Equal(t, backoff, h.state(t, "BTC").NextPurchaseAt)

	// Cash arrives while the ticker is down.
	h.account.script(snapshot("3000"))
	h.prices.errs["BTC"] = &domain.TransportError{Op: "Ticker", Err: errTimeout}
	h.clock.advance(time.Minute)
	rep, err := h.engine.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, rep.NewCash)
	assert.Empty(t, h.orders.placed)
	btc := h.state(t, "BTC")
	assert.True(t, btc.RepacePending)
	assert.True(t, dec("3000").Equal(btc.AllocatedFiat))

	// Price is back: the pending reallocation is paced and the first order goes out.
	delete(h.prices.errs, "BTC")
	h.clock.advance(time.Minute)
	rep, err = h.engine.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, rep.NewCash)
	assert.Equal(t, []string{"BTC 1"}, h.orders.placed)

	btc = h.state(t, "BTC")
	assert.False(t, btc.RepacePending)
	assert.True(t, dec("2900").Equal(btc.AllocatedFiat))
	assert.True(t, btc.NextPurchaseAt.After(h.clock.t))
	assert.True(t, btc.NextPurchaseAt.Before(backoff), "the old backoff no longer applies")

	// Later cycles without new cash go back to waiting for the paced slot.
	h.clock.advance(time.Minute)
	_, err = h.engine.RunOnce(ctx)
	require.NoError(t, err)
	assert.Len(t, h.orders.placed, 1)
}

// --- purchase failures ---

func TestEngine_FailedPurchaseKeepsSchedule(t *testing.T) {
	h := newHarness(t,
		[]domain.AssetConfig{asset("BTC", "100", "1")},
		map[string]string{"BTC": "100"},
		snapshot("300"),
	)
	h.orders.err = &domain.ExchangeError{Op: "AddOrder", Messages: []string{"EOrder:Insufficient funds"}}

	rep, err := h.engine.RunOnce(context.Background())
	require.NoError(t, err)

	btc := h.state(t, "BTC")
	assert.False(t, btc.HasEverPurchased)
	assert.True(t, dec("300").Equal(btc.AllocatedFiat))
	// Paced on reallocation (3 orders), then untouched by the failed buy.
	refill := h.engine.Cycle().RefillAt
	assert.Equal(t, t0.Add(refill.Sub(t0)/3), btc.NextPurchaseAt)
	assert.Equal(t, 1, rep.Failures)
	assert.Empty(t, h.journal.purchases)
}

func TestEngine_PriceFailureIsAssetLocal(t *testing.T) {
	h := newHarness(t,
		[]domain.AssetConfig{asset("BTC", "50", "1"), asset("ETH", "50", "1")},
		map[string]string{"BTC": "10", "ETH": "10"},
		snapshot("100"),
	)
	h.prices.errs["BTC"] = &domain.TransportError{Op: "Ticker", Err: errTimeout}

	rep, err := h.engine.RunOnce(context.Background())
	require.NoError(t, err)

	_, known := h.state(t, "BTC").Price()
	assert.False(t, known)
	assert.Equal(t, []string{"ETH 1"}, h.orders.placed)
	assert.Equal(t, 0, h.engine.Cycle().ConsecutiveFailures)
	assert.Equal(t, string(scheduler.SkipNoPrice), rep.Assets[0].Status)
}

// --- withdrawals ---

func TestEngine_ThresholdWithdrawalSameCycle(t *testing.T) {
	btc := withThreshold(asset("BTC", "100", "0.01"), "cold", "0.5")
	h := newHarness(t, []domain.AssetConfig{btc}, map[string]string{"BTC": "100"},
		snapshot("1000", "BTC", "0.49"),
		snapshot("999", "BTC", "0.5"),
	)

	rep, err := h.engine.RunOnce(context.Background())
	require.NoError(t, err)

	require.Len(t, h.withdrawals.calls, 1)
	assert.Equal(t, "cold", h.withdrawals.calls[0].key)
	assert.True(t, dec("0.5").Equal(h.withdrawals.calls[0].amount))
	require.Len(t, h.journal.withdrawals, 1)
	assert.True(t, h.journal.withdrawals[0].Success)
	assert.Equal(t, "REF-BTC", h.journal.withdrawals[0].RefID)
	assert.Equal(t, "withdrawn", rep.Assets[0].Status)
}

func TestEngine_ThresholdNotReached(t *testing.T) {
	btc := withThreshold(asset("BTC", "100", "0.001"), "cold", "0.5")
	h := newHarness(t, []domain.AssetConfig{btc}, map[string]string{"BTC": "100"},
		snapshot("1000", "BTC", "0.48"),
		snapshot("999", "BTC", "0.49"),
	)

	_, err := h.engine.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Len(t, h.orders.placed, 1)
	assert.Empty(t, h.withdrawals.calls)
}

func TestEngine_WithdrawalOnlyAfterPurchase(t *testing.T) {
	btc := withThreshold(asset("BTC", "100", "1"), "cold", "0.5")
	h := newHarness(t, []domain.AssetConfig{btc}, map[string]string{"BTC": "100"},
		snapshot("50", "BTC", "7"),
	)

	_, err := h.engine.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, h.orders.placed)
	assert.Empty(t, h.withdrawals.calls, "no purchase this cycle, no sweep")
}

func TestEngine_DateModeWithdrawal(t *testing.T) {
	btc := withThreshold(asset("BTC", "100", "1"), "cold", "")
	h := newHarness(t, []domain.AssetConfig{btc}, map[string]string{"BTC": "1"},
		snapshot("10", "BTC", "0"),
		snapshot("9", "BTC", "1"),
	)
	ctx := context.Background()

	nov1 := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, nov1, h.state(t, "BTC").WithdrawalDueAt)

	_, err := h.engine.RunOnce(ctx)
	require.NoError(t, err)
	assert.Empty(t, h.withdrawals.calls)

	h.withdrawals.err = &domain.ExchangeError{Op: "Withdraw", Messages: []string{"EFunding:Unknown withdraw key"}}
	h.account.script(snapshot("9", "BTC", "1"), snapshot("8", "BTC", "2"))
	h.clock.t = time.Date(2026, 11, 2, 9, 0, 0, 0, time.UTC)
	_, err = h.engine.RunOnce(ctx)
	require.NoError(t, err)
	require.Len(t, h.withdrawals.calls, 1)
	assert.Equal(t, nov1, h.state(t, "BTC").WithdrawalDueAt, "failed sweep is retried")

	h.withdrawals.err = nil
	h.account.script(snapshot("8", "BTC", "2"), snapshot("7", "BTC", "3"))
	h.clock.t = h.state(t, "BTC").NextPurchaseAt
	_, err = h.engine.RunOnce(ctx)
	require.NoError(t, err)
	require.Len(t, h.withdrawals.calls, 2)
	assert.True(t, dec("3").Equal(h.withdrawals.calls[1].amount))
	assert.Equal(t, time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC), h.state(t, "BTC").WithdrawalDueAt)
}

// --- run loop ---

func TestEngine_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	account := &fakeAccount{results: []balanceResult{snapshot("0")}}
	policy, err := scheduler.NewWithdrawalPolicy("")
	require.NoError(t, err)

	cycles := 0
	e := scheduler.New(
		scheduler.Config{PollInterval: time.Millisecond, Currency: "USD"},
		[]domain.AssetConfig{asset("BTC", "100", "1")},
		account, &fakePrices{prices: map[string]decimal.Decimal{"BTC": dec("1")}}, &fakeOrders{}, &fakeWithdrawals{}, policy,
		scheduler.WithReporter(reporterFunc(func(domain.CycleReport) {
			cycles++
			if cycles == 3 {
				cancel()
			}
		})),
	)

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
		assert.Equal(t, 3, cycles)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestEngine_RunReturnsAbort(t *testing.T) {
	account := &fakeAccount{results: []balanceResult{failure(errTimeout)}}
	policy, err := scheduler.NewWithdrawalPolicy("")
	require.NoError(t, err)

	e := scheduler.New(
		scheduler.Config{PollInterval: time.Millisecond},
		[]domain.AssetConfig{asset("BTC", "100", "1")},
		account, &fakePrices{}, &fakeOrders{}, &fakeWithdrawals{}, policy,
	)

	err = e.Run(context.Background())
	require.ErrorIs(t, err, domain.ErrAborted)
	assert.Equal(t, domain.MaxBalanceFailures, account.calls)
}
