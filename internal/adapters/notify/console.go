package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/alejandrodnm/dcabot/internal/domain"
	"github.com/alejandrodnm/dcabot/internal/ports"
	"github.com/olekukonko/tablewriter"
)

var _ ports.Reporter = (*Console)(nil)

// Console implementa ports.Reporter.
type Console struct {
	out     io.Writer
	table   bool
	verbose bool
}

// NewConsole crea un reporter que escribe a stdout.
func NewConsole(table, verbose bool) *Console {
	return &Console{out: os.Stdout, table: table, verbose: verbose}
}

// NewConsoleWriter crea un reporter para tests.
func NewConsoleWriter(w io.Writer, table, verbose bool) *Console {
	return &Console{out: w, table: table, verbose: verbose}
}

// Report imprime el resumen del ciclo. Los ciclos sin nada que contar
// (sin cash nuevo, compras, retiros ni fallos) solo se muestran en verbose.
func (c *Console) Report(_ context.Context, r domain.CycleReport) error {
	if r.Quiet() && !c.verbose {
		return nil
	}

	c.printCompact(r)
	if c.table && len(r.Assets) > 0 {
		c.printAssets(r)
	}
	return nil
}

// printCompact imprime una sola línea: "[hora] fiat > nota > nota".
func (c *Console) printCompact(r domain.CycleReport) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s]", r.StartedAt.Format("2006-01-02 15:04:05"))
	if r.Fiat.Valid {
		fmt.Fprintf(&sb, " %s %s", r.Fiat.Decimal.StringFixed(2), r.Currency)
	}
	for _, n := range r.Notes {
		sb.WriteString(" > ")
		sb.WriteString(n)
	}
	if r.Phase == domain.PhaseAborted {
		sb.WriteString(" > ABORTED")
	}
	fmt.Fprintln(c.out, sb.String())
}

// printAssets imprime la tabla por activo.
func (c *Console) printAssets(r domain.CycleReport) {
	table := tablewriter.NewWriter(c.out)
	table.Header("Asset", "Alloc %", "Budget", "Price", "Held", "Next order", "Status")

	for _, a := range r.Assets {
		price := "-"
		if a.Price.Valid {
			price = a.Price.Decimal.StringFixed(2)
		}
		next := "-"
		if !a.NextPurchaseAt.IsZero() && a.Allocation.IsPositive() {
			next = domain.Countdown(a.NextPurchaseAt.Sub(r.StartedAt))
		}
		status := a.Status
		if status == "" {
			status = "ok"
		}
		table.Append(
			a.ID,
			a.Allocation.String(),
			a.AllocatedFiat.StringFixed(2),
			price,
			a.Balance.String(),
			next,
			status,
		)
	}
	table.Render()

	if !r.RefillAt.IsZero() {
		fmt.Fprintf(c.out, "  next refill %s (in %s)\n",
			r.RefillAt.Format("Mon 2006-01-02"), domain.Countdown(r.RefillAt.Sub(r.StartedAt)))
	}
}

// PrintBanner imprime la configuración activa al arrancar.
func (c *Console) PrintBanner(assets []domain.AssetConfig, currency string, poll time.Duration, dryRun bool) {
	mode := "LIVE"
	if dryRun {
		mode = "DRY-RUN"
	}
	fmt.Fprintf(c.out, "dcabot %s: %s, polling every %s\n", mode, currency, poll)

	table := tablewriter.NewWriter(c.out)
	table.Header("Asset", "Pair", "Alloc %", "Min order", "Withdrawal")
	for _, a := range assets {
		w := "off"
		if a.Withdrawal != nil {
			w = "monthly → " + a.Withdrawal.Key
			if a.Withdrawal.ThresholdMode() {
				w = "≥ " + a.Withdrawal.Threshold.Decimal.String() + " → " + a.Withdrawal.Key
			}
		}
		table.Append(a.ID, a.OrderPair, a.Allocation.String(), a.MinOrderSize.String(), w)
	}
	table.Render()
}

// PrintReport imprime el histórico agregado del diario.
func (c *Console) PrintReport(sums []domain.PurchaseSummary, currency string) {
	if len(sums) == 0 {
		fmt.Fprintln(c.out, "no purchases recorded")
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Asset", "Orders", "Volume", "Cost "+currency, "Avg price", "First", "Last", "Withdrawals")
	for _, s := range sums {
		table.Append(
			s.AssetID,
			fmt.Sprintf("%d", s.Orders),
			s.TotalVolume.String(),
			s.TotalCost.StringFixed(2),
			s.AveragePrice().StringFixed(2),
			formatDay(s.FirstAt),
			formatDay(s.LastAt),
			fmt.Sprintf("%d", s.Withdrawals),
		)
	}
	table.Render()
}

func formatDay(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02")
}
