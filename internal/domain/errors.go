package domain

import (
	"errors"
	"strings"
)

// ErrAborted is returned by the orchestrator when the account could not be
// queried repeatedly and no purchase ever succeeded.
var ErrAborted = errors.New("aborted: too many failed balance queries before any purchase")

// ErrFiatMissing is returned when the balance response has no entry for the
// configured fiat currency.
var ErrFiatMissing = errors.New("fiat balance key not found")

// ExchangeError is a structured error reported by the exchange itself
// (invalid pair, insufficient funds, permission denied...).
type ExchangeError struct {
	Op       string
	Messages []string
}

func (e *ExchangeError) Error() string {
	return e.Op + ": exchange error: " + strings.Join(e.Messages, ", ")
}

// TransportError wraps network, HTTP status and decoding failures.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsExchangeError reports whether err carries an exchange-reported error.
func IsExchangeError(err error) bool {
	var ee *ExchangeError
	return errors.As(err, &ee)
}

// IsTransportError reports whether err is a transport failure.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
