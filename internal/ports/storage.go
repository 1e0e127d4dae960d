package ports

import (
	"context"

	"github.com/alejandrodnm/dcabot/internal/domain"
)

// Journal persiste un registro de auditoría de cada ciclo.
// El scheduler solo escribe: nunca reconstruye su estado desde aquí.
type Journal interface {
	SaveCycle(ctx context.Context, cycle domain.CycleRecord) error
	SavePurchase(ctx context.Context, p domain.Purchase) error
	SaveWithdrawal(ctx context.Context, w domain.Withdrawal) error

	// Summaries agrega compras y retiros por activo.
	Summaries(ctx context.Context) ([]domain.PurchaseSummary, error)

	// Close cierra la conexión a la base de datos limpiamente.
	Close() error
}
