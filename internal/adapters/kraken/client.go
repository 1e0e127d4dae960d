package kraken

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alejandrodnm/dcabot/internal/domain"
	"golang.org/x/time/rate"
)

const (
	defaultBase = "https://api.kraken.com"

	// Rate limits por debajo de los documentados.
	// Public: ~1 req/s por IP.
	publicRatePerSec = 1
	// Private: el contador de la cuenta baja 0.33/s en el tier Starter (máx 15).
	privateRatePerSec = 0.33

	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
)

// Config configura el cliente de Kraken.
type Config struct {
	BaseURL   string // vacío = producción
	APIKey    string
	APISecret string // base64, tal como lo entrega Kraken
	Currency  string // "USD"
	FiatKey   string // clave del fiat en /Balance, "ZUSD"
	Assets    []domain.AssetConfig
	Timeout   time.Duration
}

// Client es el HTTP client de Kraken con rate limiting y retries.
// It implements the account, price, order and withdrawal ports.
type Client struct {
	http           *http.Client
	base           string
	apiKey         string
	secret         []byte
	currency       string
	fiatKey        string
	assets         []domain.AssetConfig
	nonce          *nonceSource
	publicLimiter  *rate.Limiter
	privateLimiter *rate.Limiter
}

// NewClient crea un Client. Falla si el secreto no es base64 válido.
func NewClient(cfg Config) (*Client, error) {
	secret, err := base64.StdEncoding.DecodeString(cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("kraken.NewClient: decode secret: %w", err)
	}
	base := cfg.BaseURL
	if base == "" {
		base = defaultBase
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	fiatKey := cfg.FiatKey
	if fiatKey == "" {
		fiatKey = FiatKey(cfg.Currency)
	}
	return &Client{
		http:           &http.Client{Timeout: timeout},
		base:           strings.TrimRight(base, "/"),
		apiKey:         cfg.APIKey,
		secret:         secret,
		currency:       cfg.Currency,
		fiatKey:        fiatKey,
		assets:         cfg.Assets,
		nonce:          newNonceSource(time.Now),
		publicLimiter:  rate.NewLimiter(publicRatePerSec, 5),
		privateLimiter: rate.NewLimiter(privateRatePerSec, 15),
	}, nil
}

// envelope is the common shape of every Kraken REST response.
type envelope struct {
	Error  []string        `json:"error"`
	Result json.RawMessage `json:"result"`
}

// public hace un GET a /0/public/<method> con retries.
func (c *Client) public(ctx context.Context, method string, query url.Values, out any) error {
	endpoint := c.base + "/0/public/" + method
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	return c.do(ctx, method, c.publicLimiter, true, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	}, out)
}

// private hace un POST firmado a /0/private/<method>. Nonce y firma se
// regeneran en cada intento. Solo las lecturas deben pasar retry=true:
// AddOrder y Withdraw no son idempotentes.
func (c *Client) private(ctx context.Context, method string, form url.Values, retry bool, out any) error {
	path := "/0/private/" + method
	return c.do(ctx, method, c.privateLimiter, retry, func() (*http.Request, error) {
		body := url.Values{}
		for k, v := range form {
			body[k] = v
		}
		nonce := c.nonce.next()
		body.Set("nonce", nonce)
		encoded := body.Encode()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, strings.NewReader(encoded))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=utf-8")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("API-Key", c.apiKey)
		req.Header.Set("API-Sign", Sign(c.secret, path, nonce, encoded))
		return req, nil
	}, out)
}

// do ejecuta la request con backoff exponencial. Los errores de red, 429 y
// 5xx se reintentan si retry es true; los 4xx nunca. Un array "error" no
// vacío se devuelve como *domain.ExchangeError.
func (c *Client) do(ctx context.Context, op string, limiter *rate.Limiter, retry bool, build func() (*http.Request, error), out any) error {
	attempts := 1
	if retry {
		attempts += maxRetries
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			c.sleep(ctx, attempt-1)
		}
		if err := limiter.Wait(ctx); err != nil {
			return &domain.TransportError{Op: op, Err: fmt.Errorf("rate limiter: %w", err)}
		}

		req, err := build()
		if err != nil {
			return &domain.TransportError{Op: op, Err: fmt.Errorf("new request: %w", err)}
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request: %w", err)
			if ctx.Err() != nil {
				break
			}
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("server status %d", resp.StatusCode)
			slog.Warn("kraken: retryable status", "op", op, "status", resp.StatusCode, "attempt", attempt+1)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read body: %w", err)
			continue
		}
		if resp.StatusCode >= 400 {
			return &domain.TransportError{Op: op, Err: fmt.Errorf("client error %d: %s", resp.StatusCode, body)}
		}
		return decode(op, body, out)
	}

	if retry {
		lastErr = fmt.Errorf("after %d retries: %w", maxRetries, lastErr)
	}
	return &domain.TransportError{Op: op, Err: lastErr}
}

func decode(op string, body []byte, out any) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return &domain.TransportError{Op: op, Err: fmt.Errorf("decode envelope: %w", err)}
	}
	if len(env.Error) > 0 {
		return &domain.ExchangeError{Op: op, Messages: env.Error}
	}
	if len(env.Result) == 0 || string(env.Result) == "null" {
		return &domain.TransportError{Op: op, Err: fmt.Errorf("empty result")}
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return &domain.TransportError{Op: op, Err: fmt.Errorf("decode result: %w", err)}
	}
	return nil
}

// sleep espera con backoff exponencial, respetando el contexto.
func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * baseRetryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
