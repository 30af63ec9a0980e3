package inter

import (
	"context"
	"errors"
	"fmt"
	"net"
)

type ErrorKind string

const (
	KindTimeout        ErrorKind = "timeout"
	KindRejected       ErrorKind = "rejected"
	KindNoJob          ErrorKind = "no_job"
	KindEmptyAudio     ErrorKind = "empty_audio"
	KindNetworkFailure ErrorKind = "network_failure"
	// KindInvalidAudio is assigned by the orchestrator when a provider
	// returns bytes that fail container validation.
	KindInvalidAudio ErrorKind = "invalid_audio"
)

// Sentinels usable with errors.Is against a *ProviderError.
var (
	ErrTimeout        = &ProviderError{Kind: KindTimeout}
	ErrRejected       = &ProviderError{Kind: KindRejected}
	ErrNoJob          = &ProviderError{Kind: KindNoJob}
	ErrEmptyAudio     = &ProviderError{Kind: KindEmptyAudio}
	ErrNetworkFailure = &ProviderError{Kind: KindNetworkFailure}
	ErrInvalidAudio   = &ProviderError{Kind: KindInvalidAudio}
)

// ProviderError is the only error type adapters return.
type ProviderError struct {
	Provider   string
	Kind       ErrorKind
	StatusCode int
	Message    string
	Cause      error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("tts provider %s: %s", e.Provider, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// Is matches on Kind so callers can test errors.Is(err, inter.ErrTimeout).
func (e *ProviderError) Is(target error) bool {
	t, ok := target.(*ProviderError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Provider == "" || t.Provider == e.Provider)
}

func NewError(provider string, kind ErrorKind, message string, cause error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: kind, Message: message, Cause: cause}
}

// StatusError classifies a non-2xx HTTP status. 408 and 504 count as
// timeouts, 5xx as network failures and everything else as a rejection.
func StatusError(provider string, status int, body string) *ProviderError {
	kind := KindRejected
	switch {
	case status == 408 || status == 504:
		kind = KindTimeout
	case status >= 500:
		kind = KindNetworkFailure
	}
	if len(body) > 256 {
		body = body[:256]
	}
	return &ProviderError{Provider: provider, Kind: kind, StatusCode: status, Message: body}
}

// TransportError classifies an error from an HTTP round trip or socket.
func TransportError(provider string, err error) *ProviderError {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(provider, KindTimeout, "", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewError(provider, KindTimeout, "", err)
	}
	return NewError(provider, KindNetworkFailure, "", err)
}
