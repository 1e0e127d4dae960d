package paper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alejandrodnm/dcabot/internal/domain"
	"github.com/alejandrodnm/dcabot/internal/ports"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	_ ports.OrderExecutor      = (*Executor)(nil)
	_ ports.WithdrawalExecutor = (*Executor)(nil)
)

// Executor simula órdenes y retiros para el modo dry-run. Los precios
// siguen leyéndose del exchange real; aquí se generan recibos ficticios con
// prefijo PAPER- y se lleva la cuenta de lo comprado y retirado, que Account
// suma al saldo real.
type Executor struct {
	mu          sync.Mutex
	orders      int
	withdrawals int
	held        map[string]decimal.Decimal // neto simulado por activo
}

// NewExecutor crea un ejecutor simulado.
func NewExecutor() *Executor {
	return &Executor{held: make(map[string]decimal.Decimal)}
}

// PlaceMarketBuy devuelve un recibo simulado sin tocar el exchange.
func (e *Executor) PlaceMarketBuy(_ context.Context, asset domain.AssetConfig, volume decimal.Decimal) (domain.OrderReceipt, error) {
	if !volume.IsPositive() {
		return domain.OrderReceipt{}, fmt.Errorf("paper.PlaceMarketBuy: %s: non-positive volume %s", asset.ID, volume)
	}
	e.mu.Lock()
	e.orders++
	e.held[asset.ID] = e.held[asset.ID].Add(volume)
	e.mu.Unlock()

	txid := "PAPER-" + uuid.NewString()
	slog.Info("[PAPER] market buy", "asset", asset.ID, "pair", asset.OrderPair, "volume", volume.String(), "txid", txid)
	return domain.OrderReceipt{
		TxIDs:       []string{txid},
		Description: fmt.Sprintf("buy %s %s @ market", volume.String(), asset.OrderPair),
	}, nil
}

// PlaceWithdrawal devuelve un recibo simulado sin tocar el exchange.
func (e *Executor) PlaceWithdrawal(_ context.Context, asset domain.AssetConfig, key string, amount decimal.Decimal) (domain.WithdrawalReceipt, error) {
	if key == "" {
		return domain.WithdrawalReceipt{}, fmt.Errorf("paper.PlaceWithdrawal: %s: empty address key", asset.ID)
	}
	e.mu.Lock()
	e.withdrawals++
	e.held[asset.ID] = e.held[asset.ID].Sub(amount)
	e.mu.Unlock()

	ref := "PAPER-" + uuid.NewString()
	slog.Info("[PAPER] withdrawal", "asset", asset.ID, "key", key, "amount", amount.String(), "refid", ref)
	return domain.WithdrawalReceipt{RefID: ref}, nil
}

// Counts devuelve cuántas órdenes y retiros se han simulado.
func (e *Executor) Counts() (orders, withdrawals int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.orders, e.withdrawals
}

// Held devuelve el neto simulado de un activo: comprado menos retirado.
func (e *Executor) Held(assetID string) decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.held[assetID]
}

// Account envuelve el proveedor real para que los saldos de activos
// incluyan las operaciones simuladas. El fiat se devuelve sin tocar.
func (e *Executor) Account(live ports.AccountProvider) ports.AccountProvider {
	return &account{live: live, exec: e}
}

type account struct {
	live ports.AccountProvider
	exec *Executor
}

func (a *account) GetBalance(ctx context.Context) (domain.BalanceSnapshot, error) {
	snap, err := a.live.GetBalance(ctx)
	if err != nil {
		return snap, err
	}

	holdings := make(map[string]decimal.Decimal, len(snap.Holdings))
	for id, q := range snap.Holdings {
		holdings[id] = q
	}
	a.exec.mu.Lock()
	for id, d := range a.exec.held {
		holdings[id] = decimal.Max(decimal.Zero, holdings[id].Add(d))
	}
	a.exec.mu.Unlock()

	snap.Holdings = holdings
	return snap, nil
}
