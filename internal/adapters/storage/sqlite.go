package storage

// sqlite.go: diario de auditoría del bot.
//
// Estrategia:
//   - `cycles`: resumen ligero por ciclo (fiat, compras, retiros, fallos).
//   - `purchases` y `withdrawals`: una fila por operación, nunca se borran.
//   - Importes y cantidades se guardan como TEXT decimal para no perder
//     precisión; las agregaciones se hacen en Go con shopspring/decimal.
//   - Prune automático al arrancar: cycles > 90d.
//   - El scheduler solo escribe aquí. Nada se relee al arrancar.

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/alejandrodnm/dcabot/internal/domain"
	"github.com/alejandrodnm/dcabot/internal/ports"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

const schema = `
-- Resumen ligero por ciclo
CREATE TABLE IF NOT EXISTS cycles (
    id          TEXT PRIMARY KEY,
    started_at  TEXT    NOT NULL,
    phase       TEXT    NOT NULL,
    fiat        TEXT,
    new_cash    INTEGER NOT NULL DEFAULT 0,
    purchases   INTEGER NOT NULL DEFAULT 0,
    withdrawals INTEGER NOT NULL DEFAULT 0,
    failures    INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS purchases (
    id          TEXT PRIMARY KEY,
    asset_id    TEXT NOT NULL,
    pair        TEXT NOT NULL,
    volume      TEXT NOT NULL,
    price       TEXT NOT NULL,
    est_cost    TEXT NOT NULL,
    txids       TEXT NOT NULL DEFAULT '',
    executed_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS withdrawals (
    id          TEXT PRIMARY KEY,
    asset_id    TEXT    NOT NULL,
    address_key TEXT    NOT NULL,
    amount      TEXT    NOT NULL,
    refid       TEXT    NOT NULL DEFAULT '',
    success     INTEGER NOT NULL DEFAULT 0,
    error       TEXT    NOT NULL DEFAULT '',
    executed_at TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cycles_at      ON cycles(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_purchases_asset ON purchases(asset_id, executed_at);
CREATE INDEX IF NOT EXISTS idx_withdraw_asset ON withdrawals(asset_id, executed_at);
`

const retentionCycles = 90 * 24 * time.Hour // ciclos: 90 días

var _ ports.Journal = (*SQLiteJournal)(nil)

// SQLiteJournal implementa ports.Journal usando SQLite (pure Go, sin CGo).
type SQLiteJournal struct {
	db *sql.DB
}

// NewSQLiteJournal abre (o crea) la base de datos en la ruta dada.
// Aplica el schema y limpia ciclos antiguos.
func NewSQLiteJournal(path string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteJournal: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteJournal: apply schema: %w", err)
	}

	j := &SQLiteJournal{db: db}
	j.pruneOld(context.Background(), time.Now())
	return j, nil
}

// SaveCycle persiste el resumen de un ciclo.
func (j *SQLiteJournal) SaveCycle(ctx context.Context, c domain.CycleRecord) error {
	var fiat *string
	if c.Fiat.Valid {
		s := c.Fiat.Decimal.String()
		fiat = &s
	}
	if _, err := j.db.ExecContext(ctx,
		`INSERT INTO cycles (id, started_at, phase, fiat, new_cash, purchases, withdrawals, failures)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, formatTime(c.StartedAt), string(c.Phase), fiat, boolInt(c.NewCash),
		c.Purchases, c.Withdrawals, c.Failures,
	); err != nil {
		return fmt.Errorf("storage.SaveCycle: insert: %w", err)
	}
	return nil
}

// SavePurchase persiste una compra ejecutada.
func (j *SQLiteJournal) SavePurchase(ctx context.Context, p domain.Purchase) error {
	if _, err := j.db.ExecContext(ctx,
		`INSERT INTO purchases (id, asset_id, pair, volume, price, est_cost, txids, executed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.AssetID, p.Pair, p.Volume.String(), p.Price.String(), p.EstCost.String(),
		strings.Join(p.TxIDs, ","), formatTime(p.ExecutedAt),
	); err != nil {
		return fmt.Errorf("storage.SavePurchase: insert %s: %w", p.AssetID, err)
	}
	return nil
}

// SaveWithdrawal persiste un intento de retiro, exitoso o no.
func (j *SQLiteJournal) SaveWithdrawal(ctx context.Context, w domain.Withdrawal) error {
	if _, err := j.db.ExecContext(ctx,
		`INSERT INTO withdrawals (id, asset_id, address_key, amount, refid, success, error, executed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.AssetID, w.Key, w.Amount.String(), w.RefID, boolInt(w.Success), w.Error,
		formatTime(w.ExecutedAt),
	); err != nil {
		return fmt.Errorf("storage.SaveWithdrawal: insert %s: %w", w.AssetID, err)
	}
	return nil
}

// Purchases devuelve las compras en el rango dado, más antiguas primero.
func (j *SQLiteJournal) Purchases(ctx context.Context, from, to time.Time) ([]domain.Purchase, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, asset_id, pair, volume, price, est_cost, txids, executed_at
		FROM purchases
		WHERE executed_at BETWEEN ? AND ?
		ORDER BY executed_at ASC
	`, formatTime(from), formatTime(to))
	if err != nil {
		return nil, fmt.Errorf("storage.Purchases: query: %w", err)
	}
	defer rows.Close()

	var out []domain.Purchase
	for rows.Next() {
		var p domain.Purchase
		var volume, price, cost, txids, at string
		if err := rows.Scan(&p.ID, &p.AssetID, &p.Pair, &volume, &price, &cost, &txids, &at); err != nil {
			return nil, fmt.Errorf("storage.Purchases: scan row: %w", err)
		}
		p.Volume = parseDecimal(volume)
		p.Price = parseDecimal(price)
		p.EstCost = parseDecimal(cost)
		if txids != "" {
			p.TxIDs = strings.Split(txids, ",")
		}
		p.ExecutedAt = parseTime(at)
		out = append(out, p)
	}
	return out, rows.Err()
}

// Summaries agrega compras y retiros exitosos por activo, ordenados por ID.
func (j *SQLiteJournal) Summaries(ctx context.Context) ([]domain.PurchaseSummary, error) {
	byAsset := make(map[string]*domain.PurchaseSummary)
	get := func(id string) *domain.PurchaseSummary {
		s, ok := byAsset[id]
		if !ok {
			s = &domain.PurchaseSummary{AssetID: id}
			byAsset[id] = s
		}
		return s
	}

	rows, err := j.db.QueryContext(ctx,
		`SELECT asset_id, volume, est_cost, executed_at FROM purchases ORDER BY executed_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("storage.Summaries: query purchases: %w", err)
	}
	for rows.Next() {
		var id, volume, cost, at string
		if err := rows.Scan(&id, &volume, &cost, &at); err != nil {
			rows.Close()
			return nil, fmt.Errorf("storage.Summaries: scan purchase: %w", err)
		}
		s := get(id)
		t := parseTime(at)
		if s.Orders == 0 {
			s.FirstAt = t
		}
		s.Orders++
		s.LastAt = t
		s.TotalVolume = s.TotalVolume.Add(parseDecimal(volume))
		s.TotalCost = s.TotalCost.Add(parseDecimal(cost))
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage.Summaries: purchases: %w", err)
	}

	wrows, err := j.db.QueryContext(ctx,
		`SELECT asset_id, executed_at FROM withdrawals WHERE success = 1 ORDER BY executed_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("storage.Summaries: query withdrawals: %w", err)
	}
	defer wrows.Close()
	for wrows.Next() {
		var id, at string
		if err := wrows.Scan(&id, &at); err != nil {
			return nil, fmt.Errorf("storage.Summaries: scan withdrawal: %w", err)
		}
		s := get(id)
		t := parseTime(at)
		s.Withdrawals++
		s.LastWithdraw = &t
	}
	if err := wrows.Err(); err != nil {
		return nil, fmt.Errorf("storage.Summaries: withdrawals: %w", err)
	}

	out := make([]domain.PurchaseSummary, 0, len(byAsset))
	for _, s := range byAsset {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].AssetID < out[k].AssetID })
	return out, nil
}

// Close cierra la conexión a la base de datos.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

// --- helpers internos ---

// pruneOld elimina ciclos antiguos para mantener la DB ligera.
// Compras y retiros se conservan: son el histórico contable.
func (j *SQLiteJournal) pruneOld(ctx context.Context, now time.Time) {
	cutoff := formatTime(now.Add(-retentionCycles))
	j.db.ExecContext(ctx, `DELETE FROM cycles WHERE started_at < ?`, cutoff)
}

// formatTime usa un ancho fijo para que el orden lexicográfico sea el
// cronológico.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z")
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
