package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// ErrInvalid envuelve todos los errores de validación fatales.
var ErrInvalid = errors.New("invalid configuration")

// Config es la configuración completa del bot.
type Config struct {
	Exchange ExchangeConfig `yaml:"exchange"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Assets   []AssetConfig  `yaml:"assets"`
	Storage  StorageConfig  `yaml:"storage"`
	Log      LogConfig      `yaml:"log"`

	// valor de DATE_OF_CASH_REFILL que no se pudo interpretar
	badRefillDay string
}

// ExchangeConfig contiene credenciales y endpoint de Kraken.
type ExchangeConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	APISecret      string `yaml:"api_secret"`
	Currency       string `yaml:"currency"`
	FiatKey        string `yaml:"fiat_key"` // vacío = derivado de currency (ZUSD, ZEUR...)
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// ScheduleConfig controla el ritmo del ciclo.
type ScheduleConfig struct {
	RefillDay          int           `yaml:"refill_day"` // 1–31; 0 = un mes desde ahora
	PollInterval       time.Duration `yaml:"poll_interval"`
	Backoff            time.Duration `yaml:"backoff"` // espera cuando no alcanza para una orden
	WithdrawalSchedule string        `yaml:"withdrawal_schedule"`
}

// AssetConfig es un activo tal como se escribe en YAML o env. Los importes
// son strings para parsearlos sin pasar por float.
type AssetConfig struct {
	ID               string `yaml:"id"`
	Symbol           string `yaml:"symbol"` // código en el exchange (BTC → XBT)
	Allocation       string `yaml:"allocation"`
	MinOrderSize     string `yaml:"min_order_size"`
	WithdrawalKey    string `yaml:"withdrawal_key"`
	WithdrawalTarget string `yaml:"withdrawal_target"` // vacío = modo fecha
	BalanceKey       string `yaml:"balance_key"`       // overrides opcionales de nombres Kraken
	PricePair        string `yaml:"price_pair"`
	OrderPair        string `yaml:"order_pair"`
}

// StorageConfig controla dónde se persiste el diario.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, ":memory:", o vacío para desactivar
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
	File   string `yaml:"file"`   // opcional, con rotación
}

// ParsedAsset es un AssetConfig con los importes ya convertidos.
type ParsedAsset struct {
	ID               string
	Symbol           string
	Allocation       decimal.Decimal
	MinOrderSize     decimal.Decimal
	WithdrawalKey    string
	WithdrawalTarget decimal.NullDecimal
	BalanceKey       string
	PricePair        string
	OrderPair        string
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Las variables de entorno sobreescriben los valores del YAML. Si el archivo
// no existe se arranca solo con entorno y defaults.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
			}
		}
	}

	if len(cfg.Assets) == 0 {
		cfg.Assets = defaultAssets()
	}
	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	setDefaults(&cfg)

	return &cfg, nil
}

// Validate comprueba la configuración antes de entrar en el loop.
// Devuelve avisos no fatales y un error que envuelve ErrInvalid.
func (c *Config) Validate() (warnings []string, err error) {
	var problems []string

	if c.Exchange.APIKey == "" || c.Exchange.APISecret == "" {
		problems = append(problems, "exchange credentials missing (KRAKEN_API_PUBLIC_KEY / KRAKEN_API_PRIVATE_KEY)")
	}
	if c.Schedule.PollInterval <= 0 {
		problems = append(problems, fmt.Sprintf("poll interval must be positive, got %s", c.Schedule.PollInterval))
	}
	if c.badRefillDay != "" {
		warnings = append(warnings, fmt.Sprintf("refill day %q is not a number, refill assumed one month ahead", c.badRefillDay))
	}
	if c.Schedule.RefillDay < 0 || c.Schedule.RefillDay > 31 {
		warnings = append(warnings, fmt.Sprintf("refill day %d ignored, refill assumed one month ahead", c.Schedule.RefillDay))
	}

	assets, perr := c.ParsedAssets()
	if perr != nil {
		problems = append(problems, perr.Error())
	}

	total := decimal.Zero
	seen := make(map[string]bool, len(assets))
	for _, a := range assets {
		if seen[a.ID] {
			problems = append(problems, fmt.Sprintf("asset %s listed twice", a.ID))
		}
		seen[a.ID] = true

		if a.Allocation.IsNegative() || a.Allocation.GreaterThan(decimal.NewFromInt(100)) {
			problems = append(problems, fmt.Sprintf("asset %s: allocation %s outside 0–100", a.ID, a.Allocation))
		}
		if !a.MinOrderSize.IsPositive() {
			problems = append(problems, fmt.Sprintf("asset %s: min order size must be positive, got %s", a.ID, a.MinOrderSize))
		}
		if a.WithdrawalTarget.Valid && !a.WithdrawalTarget.Decimal.IsPositive() {
			problems = append(problems, fmt.Sprintf("asset %s: withdrawal target must be positive", a.ID))
		}
		if a.WithdrawalTarget.Valid && a.WithdrawalKey == "" {
			warnings = append(warnings, fmt.Sprintf("asset %s: withdrawal target set without address key, withdrawals disabled", a.ID))
		}
		total = total.Add(a.Allocation)
	}

	hundred := decimal.NewFromInt(100)
	switch {
	case total.GreaterThan(hundred):
		problems = append(problems, fmt.Sprintf("allocations sum to %s%%, more than 100%%", total))
	case total.LessThan(hundred) && perr == nil:
		warnings = append(warnings, fmt.Sprintf("allocations sum to %s%%, the remaining fiat stays unallocated", total))
	}

	if len(problems) > 0 {
		return warnings, fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return warnings, nil
}

// ParsedAssets convierte los importes de cada activo.
func (c *Config) ParsedAssets() ([]ParsedAsset, error) {
	out := make([]ParsedAsset, 0, len(c.Assets))
	for _, a := range c.Assets {
		p := ParsedAsset{
			ID:            strings.ToUpper(a.ID),
			Symbol:        strings.ToUpper(a.Symbol),
			WithdrawalKey: a.WithdrawalKey,
			BalanceKey:    a.BalanceKey,
			PricePair:     a.PricePair,
			OrderPair:     a.OrderPair,
		}
		var err error
		if p.Allocation, err = parseDecimal(a.Allocation, "0"); err != nil {
			return nil, fmt.Errorf("asset %s: allocation: %w", a.ID, err)
		}
		if p.MinOrderSize, err = parseDecimal(a.MinOrderSize, "0"); err != nil {
			return nil, fmt.Errorf("asset %s: min order size: %w", a.ID, err)
		}
		if strings.TrimSpace(a.WithdrawalTarget) != "" {
			t, err := parseDecimal(a.WithdrawalTarget, "")
			if err != nil {
				return nil, fmt.Errorf("asset %s: withdrawal target: %w", a.ID, err)
			}
			p.WithdrawalTarget = decimal.NullDecimal{Decimal: t, Valid: true}
		}
		out = append(out, p)
	}
	return out, nil
}

// PollInterval devuelve el intervalo entre ciclos.
func (c *Config) PollInterval() time.Duration {
	return c.Schedule.PollInterval
}

// defaultAssets reproduce el reparto clásico 50/25/25.
func defaultAssets() []AssetConfig {
	return []AssetConfig{
		{ID: "BTC", Symbol: "XBT", Allocation: "50", MinOrderSize: "0.0001"},
		{ID: "ETH", Symbol: "ETH", Allocation: "25", MinOrderSize: "0.004"},
		{ID: "SOL", Symbol: "SOL", Allocation: "25", MinOrderSize: "0.04"},
	}
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
// Una variable presente pero vacía no cambia nada; "0" sí es un valor.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("KRAKEN_API_PUBLIC_KEY"); v != "" {
		cfg.Exchange.APIKey = v
	}
	if v := os.Getenv("KRAKEN_API_PRIVATE_KEY"); v != "" {
		cfg.Exchange.APISecret = v
	}
	if v := os.Getenv("CURRENCY"); v != "" {
		cfg.Exchange.Currency = v
	}
	if v := os.Getenv("DATE_OF_CASH_REFILL"); v != "" {
		// Un día ilegible equivale a no tener día: recarga a un mes vista.
		day, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			day = 0
			cfg.badRefillDay = v
		}
		cfg.Schedule.RefillDay = day
	}
	if v := os.Getenv("FIAT_CHECK_DELAY"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("FIAT_CHECK_DELAY=%q: %w", v, err)
		}
		cfg.Schedule.PollInterval = time.Duration(ms) * time.Millisecond
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Log.File = v
	}
	if v := os.Getenv("DCABOT_DB"); v != "" {
		cfg.Storage.DSN = v
	}

	for i := range cfg.Assets {
		a := &cfg.Assets[i]
		id := strings.ToUpper(a.ID)
		if v := os.Getenv(id + "_ALLOCATION"); v != "" {
			a.Allocation = v
		}
		if v := os.Getenv("KRAKEN_" + id + "_ORDER_SIZE"); v != "" {
			a.MinOrderSize = v
		}
		if v := os.Getenv("KRAKEN_" + id + "_WITHDRAWAL_ADDRESS_KEY"); v != "" {
			a.WithdrawalKey = v
		}
		if v := os.Getenv(id + "_WITHDRAW_TARGET"); v != "" {
			a.WithdrawalTarget = v
		}
	}
	return nil
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.Exchange.Currency == "" {
		cfg.Exchange.Currency = "USD"
	}
	cfg.Exchange.Currency = strings.ToUpper(cfg.Exchange.Currency)
	if cfg.Exchange.TimeoutSeconds <= 0 {
		cfg.Exchange.TimeoutSeconds = 15
	}
	if cfg.Schedule.PollInterval == 0 {
		cfg.Schedule.PollInterval = 60 * time.Second
	}
	if cfg.Schedule.Backoff <= 0 {
		cfg.Schedule.Backoff = 7 * 24 * time.Hour
	}
	if cfg.Schedule.WithdrawalSchedule == "" {
		cfg.Schedule.WithdrawalSchedule = "0 0 1 * *"
	}
	for i := range cfg.Assets {
		if cfg.Assets[i].Symbol == "" {
			cfg.Assets[i].Symbol = cfg.Assets[i].ID
		}
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

func parseDecimal(s, fallback string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		s = fallback
	}
	return decimal.NewFromString(s)
}
