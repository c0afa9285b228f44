package types

import "errors"

// Error is the library's error type. Code is a stable machine-readable
// identifier; Message carries human-readable detail, verbatim from the
// provider or backend where one was given.
type Error struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// Common error codes
const (
	// ErrProviderUnavailable: no wallet provider is injected. Fatal for
	// wallet-funded flows, non-fatal for address-based flows.
	ErrProviderUnavailable = "PROVIDER_UNAVAILABLE"

	// ErrUserRejected: the user declined the provider's approval prompt.
	// Recoverable; the caller may re-invoke connect.
	ErrUserRejected = "USER_REJECTED"

	// ErrProvider: the provider threw an unexpected error, surfaced verbatim.
	ErrProvider = "PROVIDER_ERROR"

	// ErrValidation: bad amount, currency or network, fixed locally
	// before any network call.
	ErrValidation = "VALIDATION_ERROR"

	// ErrPaymentCreationFailed: the backend rejected order creation.
	ErrPaymentCreationFailed = "PAYMENT_CREATION_FAILED"

	// ErrNetwork: transient connectivity failure; retried silently
	// during polling.
	ErrNetwork = "NETWORK_ERROR"

	// ErrNotFound: order id unknown to the backend, fatal for that order.
	ErrNotFound = "NOT_FOUND"

	// ErrNotCancellable: cancel invoked after the order left
	// CREATED/PENDING.
	ErrNotCancellable = "NOT_CANCELLABLE"
)

// ErrorCode extracts the code from an error produced by this library,
// or "" for foreign errors.
func ErrorCode(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given error code.
func IsCode(err error, code string) bool {
	return ErrorCode(err) == code
}
