// --- File: pkg/fanout/errors.go ---
package fanout

import (
	"errors"
	"fmt"
)

var (
	// ErrNoRecipients is returned when every platform token list is empty.
	ErrNoRecipients = errors.New("no recipients")
	// ErrInvalidPayload is returned for an empty title or body.
	ErrInvalidPayload = errors.New("invalid payload")
)

// Stable per-token error codes carried on failed outcomes.
const (
	CodeUnregistered        = "UNREGISTERED"
	CodeInvalidArgument     = "INVALID_ARGUMENT"
	CodeQuotaExceeded       = "QUOTA_EXCEEDED"
	CodeUnavailable         = "UNAVAILABLE"
	CodeInternal            = "INTERNAL"
	CodeSenderIDMismatch    = "SENDER_ID_MISMATCH"
	CodeThirdPartyAuthError = "THIRD_PARTY_AUTH_ERROR"
	CodeTimeout             = "TIMEOUT"
	CodeUnknown             = "UNKNOWN"

	CodeDispatchUnavailable = "DISPATCH_UNAVAILABLE"
	CodeCancelled           = "CANCELLED"
	CodePanic               = "PANIC"
)

// TransportError is the failure a Transport reports for a single token.
type TransportError struct {
	Code    string
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *TransportError) Unwrap() error { return e.Err }

// NewTransportError wraps a provider error with a stable code.
func NewTransportError(code string, err error) *TransportError {
	msg := code
	if err != nil {
		msg = err.Error()
	}
	return &TransportError{Code: code, Message: msg, Err: err}
}

// ErrorDetails extracts the code and message to record on a failed outcome.
func ErrorDetails(err error) (code, message string) {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Code, te.Message
	}
	return CodeUnknown, err.Error()
}
