package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alejandrodnm/dcabot/config"
	"github.com/alejandrodnm/dcabot/internal/adapters/kraken"
	"github.com/alejandrodnm/dcabot/internal/adapters/notify"
	"github.com/alejandrodnm/dcabot/internal/adapters/paper"
	"github.com/alejandrodnm/dcabot/internal/adapters/storage"
	"github.com/alejandrodnm/dcabot/internal/application/scheduler"
	"github.com/alejandrodnm/dcabot/internal/domain"
	"github.com/alejandrodnm/dcabot/internal/ports"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	once := flag.Bool("once", false, "run one cycle and exit")
	dryRun := flag.Bool("dry-run", false, "read prices and fiat from Kraken but simulate orders and withdrawals; simulated fills count towards holdings")
	verbose := flag.Bool("verbose", false, "set log level to debug and print quiet cycles")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	table := flag.Bool("table", false, "print a per-asset table each cycle (default: compact 1-line)")
	report := flag.Bool("report", false, "print the purchase history from the journal and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	closeLog := setupLogger(cfg.Log)
	defer closeLog()

	console := notify.NewConsole(*table, *verbose)

	if *report {
		os.Exit(runReport(cfg, console))
	}

	warnings, err := cfg.Validate()
	for _, w := range warnings {
		slog.Warn("config", "warning", w)
	}
	if err != nil {
		slog.Error("invalid config", "err", err)
		os.Exit(1)
	}

	assets, err := buildAssets(cfg)
	if err != nil {
		slog.Error("failed to build assets", "err", err)
		os.Exit(1)
	}

	slog.Info("dcabot starting",
		"config", *configPath,
		"poll", cfg.PollInterval(),
		"currency", cfg.Exchange.Currency,
		"refill_day", cfg.Schedule.RefillDay,
		"dry_run", *dryRun,
		"once", *once,
	)

	client, err := kraken.NewClient(kraken.Config{
		BaseURL:   cfg.Exchange.BaseURL,
		APIKey:    cfg.Exchange.APIKey,
		APISecret: cfg.Exchange.APISecret,
		Currency:  cfg.Exchange.Currency,
		FiatKey:   cfg.Exchange.FiatKey,
		Assets:    assets,
		Timeout:   time.Duration(cfg.Exchange.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		slog.Error("failed to create kraken client", "err", err)
		os.Exit(1)
	}

	var (
		account     ports.AccountProvider    = client
		orders      ports.OrderExecutor      = client
		withdrawals ports.WithdrawalExecutor = client
	)
	if *dryRun {
		sim := paper.NewExecutor()
		account, orders, withdrawals = sim.Account(client), sim, sim
	}

	policy, err := scheduler.NewWithdrawalPolicy(cfg.Schedule.WithdrawalSchedule)
	if err != nil {
		slog.Error("invalid withdrawal schedule", "err", err, "schedule", cfg.Schedule.WithdrawalSchedule)
		os.Exit(1)
	}

	opts := []scheduler.Option{scheduler.WithReporter(console)}
	var journal io.Closer
	if cfg.Storage.DSN != "" {
		j, err := storage.NewSQLiteJournal(cfg.Storage.DSN)
		if err != nil {
			slog.Error("failed to open journal", "err", err, "dsn", cfg.Storage.DSN)
			os.Exit(1)
		}
		journal = j
		opts = append(opts, scheduler.WithJournal(j))
	}

	console.PrintBanner(assets, cfg.Exchange.Currency, cfg.PollInterval(), *dryRun)

	engine := scheduler.New(scheduler.Config{
		PollInterval: cfg.PollInterval(),
		Backoff:      cfg.Schedule.Backoff,
		Refill:       domain.RefillCalendar{Day: cfg.Schedule.RefillDay},
		Currency:     cfg.Exchange.Currency,
	}, assets, account, client, orders, withdrawals, policy, opts...)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err = runScheduler(ctx, engine, *once, journal)
	if err != nil {
		slog.Error("scheduler exited with error", "err", err)
		cancel()
		closeLog()
		os.Exit(1)
	}

	slog.Info("dcabot stopped cleanly")
}

// cycleRunner es lo que main necesita del scheduler.
type cycleRunner interface {
	Run(ctx context.Context) error
	RunOnce(ctx context.Context) (domain.CycleReport, error)
}

// runScheduler ejecuta uno o todos los ciclos y cierra el diario antes de
// volver, también cuando el scheduler aborta.
func runScheduler(ctx context.Context, r cycleRunner, once bool, journal io.Closer) error {
	var err error
	if once {
		_, err = r.RunOnce(ctx)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
	} else {
		err = r.Run(ctx)
	}

	if journal != nil {
		if cerr := journal.Close(); cerr != nil {
			slog.Warn("journal close error", "err", cerr)
		}
	}
	return err
}

// runReport imprime el resumen del diario. Devuelve el código de salida.
func runReport(cfg *config.Config, console *notify.Console) int {
	if cfg.Storage.DSN == "" {
		slog.Error("no journal configured (storage.dsn or DCABOT_DB)")
		return 1
	}
	journal, err := storage.NewSQLiteJournal(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open journal", "err", err, "dsn", cfg.Storage.DSN)
		return 1
	}
	defer journal.Close()

	sums, err := journal.Summaries(context.Background())
	if err != nil {
		slog.Error("failed to read journal", "err", err)
		return 1
	}
	console.PrintReport(sums, cfg.Exchange.Currency)
	return 0
}

// setupLogger configura slog. Con Log.File los logs van también a un
// archivo rotado por lumberjack; la función devuelta lo cierra.
func setupLogger(cfg config.LogConfig) func() {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stdout
	closer := func() {}
	if cfg.File != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    10, // MB
			MaxBackups: 3,
			MaxAge:     28, // días
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, file)
		closer = func() { _ = file.Close() }
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	slog.SetDefault(slog.New(handler))
	return closer
}
