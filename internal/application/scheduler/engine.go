package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/dcabot/internal/domain"
	"github.com/alejandrodnm/dcabot/internal/ports"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Config contiene la configuración del ciclo.
type Config struct {
	PollInterval time.Duration
	Backoff      time.Duration // horizonte de espera sin fondos (0 = DefaultBackoff)
	Refill       domain.RefillCalendar
	Currency     string
}

type assetSlot struct {
	cfg   domain.AssetConfig
	state domain.AssetState
}

// Engine is the cycle orchestrator: query → allocate → price → gate →
// withdraw → sleep. It owns every piece of scheduler state and runs on a
// single goroutine.
type Engine struct {
	cfg         Config
	assets      []*assetSlot
	cycle       domain.CycleState
	account     ports.AccountProvider
	prices      ports.PriceProvider
	orders      ports.OrderExecutor
	withdrawals ports.WithdrawalExecutor
	policy      *WithdrawalPolicy
	journal     ports.Journal
	reporter    ports.Reporter
	now         func() time.Time
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithJournal records every cycle, purchase and withdrawal.
func WithJournal(j ports.Journal) Option {
	return func(e *Engine) { e.journal = j }
}

// WithReporter flushes each cycle's report.
func WithReporter(r ports.Reporter) Option {
	return func(e *Engine) { e.reporter = r }
}

// New crea un Engine con todas las dependencias inyectadas.
// Assets are processed in the order given.
func New(
	cfg Config,
	assets []domain.AssetConfig,
	account ports.AccountProvider,
	prices ports.PriceProvider,
	orders ports.OrderExecutor,
	withdrawals ports.WithdrawalExecutor,
	policy *WithdrawalPolicy,
	opts ...Option,
) *Engine {
	e := &Engine{
		cfg:         cfg,
		account:     account,
		prices:      prices,
		orders:      orders,
		withdrawals: withdrawals,
		policy:      policy,
		now:         time.Now,
		cycle:       domain.CycleState{Phase: domain.PhaseIdle},
	}
	for _, opt := range opts {
		opt(e)
	}

	start := e.now()
	e.assets = make([]*assetSlot, 0, len(assets))
	for _, a := range assets {
		slot := &assetSlot{cfg: a, state: domain.NewAssetState(start)}
		if a.Withdrawal != nil && !a.Withdrawal.ThresholdMode() && policy != nil {
			slot.state.WithdrawalDueAt = policy.FirstDue(start)
		}
		e.assets = append(e.assets, slot)
	}
	return e
}

// Cycle returns a copy of the process-wide scheduler state.
func (e *Engine) Cycle() domain.CycleState {
	return e.cycle
}

// Asset returns a copy of the runtime state of one asset.
func (e *Engine) Asset(id string) (domain.AssetState, bool) {
	for _, s := range e.assets {
		if s.cfg.ID == id {
			return s.state, true
		}
	}
	return domain.AssetState{}, false
}

// Run ejecuta ciclos hasta que el contexto se cancele o el ciclo aborte.
// Between cycles it sleeps PollInterval; the sleep ends early on cancellation.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("scheduler starting",
		"assets", len(e.assets),
		"poll", e.cfg.PollInterval,
		"currency", e.cfg.Currency,
	)

	for {
		if _, err := e.RunOnce(ctx); err != nil {
			if errors.Is(err, domain.ErrAborted) {
				return err
			}
			if ctx.Err() != nil {
				slog.Info("scheduler stopped")
				return nil
			}
			slog.Error("cycle failed", "err", err)
		}

		timer := time.NewTimer(e.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			slog.Info("scheduler stopped")
			return nil
		case <-timer.C:
		}
	}
}

// RunOnce executes exactly one cycle and returns its report. The only
// error it returns besides context cancellation is domain.ErrAborted.
func (e *Engine) RunOnce(ctx context.Context) (domain.CycleReport, error) {
	now := e.now()
	rep := domain.CycleReport{
		ID:        uuid.NewString(),
		StartedAt: now,
		Currency:  e.cfg.Currency,
	}

	e.setPhase(domain.PhaseQuerying)
	snap, err := e.account.GetBalance(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		n := e.cycle.RecordFailure()
		rep.Failures++
		rep.Notef("balance query failed (%d/%d): %v", n, domain.MaxBalanceFailures, err)
		slog.Warn("balance query failed",
			"attempt", n,
			"exchange_error", domain.IsExchangeError(err),
			"err", err,
		)

		if n >= domain.MaxBalanceFailures && !e.anyPurchased() {
			e.setPhase(domain.PhaseAborted)
			rep.Notef("aborting: no purchase ever succeeded")
			e.finish(ctx, &rep)
			return rep, fmt.Errorf("scheduler.RunOnce: %w", domain.ErrAborted)
		}
		e.setPhase(domain.PhaseSleeping)
		e.finish(ctx, &rep)
		return rep, nil
	}
	e.cycle.RecordSuccess()
	rep.Fiat = decimal.NullDecimal{Decimal: snap.Fiat, Valid: true}
	for _, id := range snap.Missing {
		rep.Notef("%s balance key missing, assuming 0", id)
	}
	for _, s := range e.assets {
		s.state.Balance = snap.Holding(s.cfg.ID)
	}

	rep.NewCash = e.cycle.NewCash(snap.Fiat)
	if rep.NewCash {
		e.allocate(snap.Fiat, now, &rep)
	}
	rep.RefillAt = e.cycle.RefillAt

	e.setPhase(domain.PhasePricing)
	for _, s := range e.assets {
		if !s.cfg.Enabled() {
			continue
		}
		price, err := e.prices.GetSpotPrice(ctx, s.cfg)
		if err != nil {
			s.state.ForgetPrice()
			rep.Failures++
			rep.Notef("%s price unavailable: %v", s.cfg.ID, err)
			continue
		}
		s.state.SetPrice(price)
		if s.state.RepacePending {
			e.pace(s, now)
		}
	}

	for _, s := range e.assets {
		// A reallocation whose pacing waited for a price counts as this
		// asset's cash event, so the first order is not held back.
		fresh := rep.NewCash || s.state.RepacePending
		if _, ok := s.state.Price(); ok {
			s.state.RepacePending = false
		}
		status := e.gate(ctx, s, fresh, &rep)
		rep.Assets = append(rep.Assets, assetReport(s, status))
	}

	e.setPhase(domain.PhaseSleeping)
	e.finish(ctx, &rep)
	return rep, nil
}

// allocate re-partitions new cash and re-estimates the refill instant in
// the same step, so both reflect the same cash event.
func (e *Engine) allocate(fiat decimal.Decimal, now time.Time, rep *domain.CycleReport) {
	e.setPhase(domain.PhaseAllocating)

	refill := e.cfg.Refill.Next(now, e.cycle.RefillAt, e.cycle.FirstEvaluation())
	budgets := Partition(e.configs(), fiat)
	for _, s := range e.assets {
		if b, ok := budgets[s.cfg.ID]; ok {
			s.state.AllocatedFiat = b
			s.state.RepacePending = true
		}
	}
	e.cycle.ObserveFiat(fiat, refill)

	rep.Notef("new cash %s %s, next refill %s", fiat.StringFixed(2), e.cfg.Currency, refill.Format("2006-01-02"))
	slog.Info("new cash detected",
		"fiat", fiat.String(),
		"refill_at", refill,
	)
}

// gate runs the purchase gate for one asset and, on a fill, the withdrawal
// trigger. It returns a short status for the report.
func (e *Engine) gate(ctx context.Context, s *assetSlot, newCash bool, rep *domain.CycleReport) string {
	e.setPhase(domain.PhaseGating)
	now := e.now()

	d := EvaluateGate(s.cfg, s.state, now, newCash)
	if !d.Fire {
		switch d.Reason {
		case SkipDisabled:
		case SkipNotDue:
			rep.Notef("%s next order in %s", s.cfg.ID, domain.Countdown(s.state.NextPurchaseAt.Sub(now)))
		case SkipUnaffordable:
			rep.Notef("%s %s (%s < %s)", s.cfg.ID, d.Reason, s.state.AllocatedFiat.StringFixed(2), d.Cost.StringFixed(2))
		default:
			rep.Notef("%s %s", s.cfg.ID, d.Reason)
		}
		return string(d.Reason)
	}

	price, _ := s.state.Price()
	receipt, err := e.orders.PlaceMarketBuy(ctx, s.cfg, s.cfg.MinOrderSize)
	if err != nil {
		rep.Failures++
		rep.Notef("%s order failed: %v", s.cfg.ID, err)
		slog.Warn("order failed",
			"asset", s.cfg.ID,
			"exchange_error", domain.IsExchangeError(err),
			"err", err,
		)
		return "order failed"
	}

	filledAt := e.now()
	s.state.HasEverPurchased = true
	s.state.Spend(d.Cost)

	p := domain.Purchase{
		ID:         uuid.NewString(),
		AssetID:    s.cfg.ID,
		Pair:       s.cfg.OrderPair,
		Volume:     s.cfg.MinOrderSize,
		Price:      price,
		EstCost:    d.Cost,
		TxIDs:      receipt.TxIDs,
		ExecutedAt: filledAt,
	}
	rep.Purchases = append(rep.Purchases, p)
	rep.Notef("bought %s %s for ~%s %s", s.cfg.MinOrderSize.String(), s.cfg.ID, d.Cost.StringFixed(2), e.cfg.Currency)
	slog.Info("order placed",
		"asset", s.cfg.ID,
		"volume", s.cfg.MinOrderSize.String(),
		"txid", receipt.TxIDs,
		"descr", receipt.Description,
	)
	if e.journal != nil {
		if err := e.journal.SavePurchase(ctx, p); err != nil {
			slog.Warn("journal error", "err", err)
		}
	}

	e.refreshBalance(ctx, s, rep)
	e.pace(s, filledAt)

	status := "bought"
	if e.policy != nil && e.policy.Due(s.cfg, s.state, filledAt) {
		status = e.withdraw(ctx, s, filledAt, rep)
	}
	return status
}

// refreshBalance re-reads the account after a fill. When the read fails
// the bought volume is added to the last known balance.
func (e *Engine) refreshBalance(ctx context.Context, s *assetSlot, rep *domain.CycleReport) {
	snap, err := e.account.GetBalance(ctx)
	if err != nil {
		s.state.Balance = s.state.Balance.Add(s.cfg.MinOrderSize)
		rep.Notef("%s balance refresh failed: %v", s.cfg.ID, err)
		return
	}
	s.state.Balance = snap.Holding(s.cfg.ID)
}

func (e *Engine) withdraw(ctx context.Context, s *assetSlot, now time.Time, rep *domain.CycleReport) string {
	e.setPhase(domain.PhaseWithdrawing)

	if !s.state.Balance.IsPositive() {
		rep.Notef("%s withdrawal skipped: nothing held", s.cfg.ID)
		return "bought"
	}

	w := domain.Withdrawal{
		ID:         uuid.NewString(),
		AssetID:    s.cfg.ID,
		Key:        s.cfg.Withdrawal.Key,
		Amount:     s.state.Balance,
		ExecutedAt: now,
	}
	receipt, err := e.withdrawals.PlaceWithdrawal(ctx, s.cfg, w.Key, w.Amount)
	if err != nil {
		w.Error = err.Error()
		rep.Failures++
		rep.Notef("%s withdrawal failed: %v", s.cfg.ID, err)
		slog.Warn("withdrawal failed", "asset", s.cfg.ID, "err", err)
	} else {
		w.Success = true
		w.RefID = receipt.RefID
		e.policy.Advance(s.cfg, &s.state)
		rep.Notef("withdrew %s %s to %s", w.Amount.String(), s.cfg.ID, w.Key)
		slog.Info("withdrawal placed",
			"asset", s.cfg.ID,
			"amount", w.Amount.String(),
			"refid", receipt.RefID,
		)
	}
	rep.Withdrawals = append(rep.Withdrawals, w)

	if e.journal != nil {
		if err := e.journal.SaveWithdrawal(ctx, w); err != nil {
			slog.Warn("journal error", "err", err)
		}
	}
	if !w.Success {
		return "withdrawal failed"
	}
	return "withdrawn"
}

func (e *Engine) pace(s *assetSlot, now time.Time) {
	price, ok := s.state.Price()
	if !ok {
		return
	}
	res := NextPurchaseAt(PacingInput{
		Now:           now,
		RefillAt:      e.cycle.RefillAt,
		AllocatedFiat: s.state.AllocatedFiat,
		Price:         price,
		MinOrderSize:  s.cfg.MinOrderSize,
		PollInterval:  e.cfg.PollInterval,
		Backoff:       e.cfg.Backoff,
	})
	s.state.NextPurchaseAt = res.NextPurchaseAt
	slog.Debug("pacing updated",
		"asset", s.cfg.ID,
		"orders", res.PossibleOrders,
		"spacing", res.Spacing,
		"backoff", res.BackedOff,
	)
}

func (e *Engine) finish(ctx context.Context, rep *domain.CycleReport) {
	rep.Phase = e.cycle.Phase
	if e.journal != nil {
		if err := e.journal.SaveCycle(ctx, rep.Record()); err != nil {
			slog.Warn("journal error", "err", err)
		}
	}
	if e.reporter != nil {
		if err := e.reporter.Report(ctx, *rep); err != nil {
			slog.Warn("reporter error", "err", err)
		}
	}
}

func (e *Engine) setPhase(p domain.Phase) {
	e.cycle.Phase = p
}

func (e *Engine) anyPurchased() bool {
	for _, s := range e.assets {
		if s.state.HasEverPurchased {
			return true
		}
	}
	return false
}

func (e *Engine) configs() []domain.AssetConfig {
	out := make([]domain.AssetConfig, len(e.assets))
	for i, s := range e.assets {
		out[i] = s.cfg
	}
	return out
}

func assetReport(s *assetSlot, status string) domain.AssetReport {
	return domain.AssetReport{
		ID:             s.cfg.ID,
		Allocation:     s.cfg.Allocation,
		AllocatedFiat:  s.state.AllocatedFiat,
		Price:          s.state.LastPrice,
		Balance:        s.state.Balance,
		NextPurchaseAt: s.state.NextPurchaseAt,
		Status:         status,
	}
}
