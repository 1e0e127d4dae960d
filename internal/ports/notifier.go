package ports

import (
	"context"

	"github.com/alejandrodnm/dcabot/internal/domain"
)

// Reporter presenta el resumen de cada ciclo al usuario.
type Reporter interface {
	// Report se llama una vez al final de cada ciclo, con todas las notas
	// acumuladas durante el mismo.
	Report(ctx context.Context, report domain.CycleReport) error
}
