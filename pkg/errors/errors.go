package errors

import (
	"encoding/json"
	"errors"
	"fmt"
)

type AppError struct {
	Code    int    // HTTP status code or custom error code
	Message string // User-facing message
	Err     error  // Underlying error (optional)
}

// Validation rejections: expected, user-facing, never retried.
const (
	ErrAuctionNotOpen         = 1001
	ErrCertificateNotBiddable = 1002
	ErrBidderNotEligible      = 1003
	ErrBidTypeMismatch        = 1004
	ErrBidNotCompetitive      = 1005
)

// State-machine errors: the caller invoked an operation out of order.
const (
	ErrInvalidStateTransition       = 1101
	ErrAuctionNotReadyForSettlement = 1102
)

// Transport / infrastructure codes.
const (
	ErrBadMessageFormat   = 1201
	ErrUnknownMessageType = 1202
	ErrRateLimited        = 1203
	ErrNotFound           = 1204
	ErrWebSocketUpgrade   = 1205

	// ErrTxConflict marks serialization failures and deadlocks reported
	// by the store; the whole operation is safe to retry from scratch.
	ErrTxConflict = 1301

	ErrInternalServer = 500
)

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// ToJSON renders the error as a wire message for websocket clients.
func (e *AppError) ToJSON() string {
	payload := struct {
		Type    string `json:"type"`
		Code    int    `json:"code"`
		Message string `json:"message"`
	}{Type: "error", Code: e.Code, Message: e.Message}
	b, err := json.Marshal(payload)
	if err != nil {
		return `{"type":"error","message":"internal error"}`
	}
	return string(b)
}

// Wrapping utility
func Wrap(err error, message string) *AppError {
	return &AppError{Message: message, Err: err}
}

// Error creation utility
func New(code int, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

func Newf(code int, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Code extracts the AppError code from err, or 0 if err carries none.
func Code(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return 0
}

// HasCode reports whether err is (or wraps) an AppError with the given code.
func HasCode(err error, code int) bool {
	return Code(err) == code
}

// Retryable reports whether the failed operation can be re-run from
// scratch. Bid submission and settlement re-validate against fresh state,
// so transaction conflicts are the only retryable class.
func Retryable(err error) bool {
	return HasCode(err, ErrTxConflict)
}
