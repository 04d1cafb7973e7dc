package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Sentinel errors shared across providers.
var (
	// ErrRateLimited means the local call budget for a provider is
	// exhausted; the call is skipped for this cycle, never retried.
	ErrRateLimited = errors.New("rate limit budget exhausted")
	// ErrUnknownSymbol means the provider does not know the symbol.
	// Terminal: retrying cannot help.
	ErrUnknownSymbol = errors.New("unknown symbol")
)

// ErrorKind classifies a provider failure for retry and fallback decisions.
type ErrorKind int

const (
	// KindNetwork covers connection failures and timeouts. Retryable.
	KindNetwork ErrorKind = iota
	// KindRateLimit is a local budget denial. Not retried; the fallback
	// chain escalates to the next provider instead.
	KindRateLimit
	// KindClient covers 4xx responses other than 429, including unknown
	// symbols and bad requests. Terminal.
	KindClient
	// KindServer covers 429 and 5xx responses. Retryable.
	KindServer
	// KindParse covers malformed provider payloads. Terminal.
	KindParse
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindRateLimit:
		return "rate_limit"
	case KindClient:
		return "client"
	case KindServer:
		return "server"
	case KindParse:
		return "parse"
	}
	return "unknown"
}

// Error is a classified provider failure.
type Error struct {
	Provider string
	Kind     ErrorKind
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s error: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether retrying the same provider can succeed.
func (e *Error) Retryable() bool {
	return e.Kind == KindNetwork || e.Kind == KindServer
}

// NewError wraps err with a provider name and classification.
func NewError(providerName string, kind ErrorKind, err error) *Error {
	return &Error{Provider: providerName, Kind: kind, Err: err}
}

// StatusError classifies an unexpected HTTP status into an Error.
func StatusError(providerName string, status int, body string) *Error {
	err := fmt.Errorf("unexpected status %d: %s", status, body)
	switch {
	case status == http.StatusTooManyRequests:
		return NewError(providerName, KindServer, err)
	case status >= 500:
		return NewError(providerName, KindServer, err)
	case status >= 400:
		return NewError(providerName, KindClient, err)
	}
	return NewError(providerName, KindNetwork, err)
}

// Retryable is the classification predicate handed to the backoff
// executor. Unclassified errors default to retryable: a raw transport
// error from net/http has no Error wrapper.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	// A per-call deadline is a timeout, and a timeout is a network error:
	// the next attempt gets a fresh deadline.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return true
}

// IsRateLimited reports whether err is a local budget denial.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}
