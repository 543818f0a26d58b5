package analyzer

import (
	"context"
	"errors"
	"net"
)

// Sentinel errors returned (wrapped) by Analyzer implementations.
var (
	ErrTimeout      = errors.New("analyzer timeout")
	ErrConnection   = errors.New("analyzer connection error")
	ErrInvalidInput = errors.New("analyzer invalid input")
)

// ErrorKind is the failure class of one analysis.
type ErrorKind int

// Error kinds. KindNone marks success.
const (
	KindNone ErrorKind = iota
	KindTimeout
	KindConnection
	KindInvalidInput
	KindUnknown
)

// String returns the lowercase kind name used in logs, metrics and results.
func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindTimeout:
		return "timeout"
	case KindConnection:
		return "connection"
	case KindInvalidInput:
		return "invalid_input"
	case KindUnknown:
		return "unknown"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k ErrorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Classify maps err to an ErrorKind. Deadline expiry and network timeouts
// count as timeouts; context cancellation is not a timeout.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindNone
	}

	var netErr net.Error

	switch {
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		return KindTimeout
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrConnection), netErr != nil:
		return KindConnection
	default:
		return KindUnknown
	}
}
