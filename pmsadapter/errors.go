package pmsadapter

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrCapabilityNotSupported is returned when a capability the vendor does
// not declare in its Metadata is invoked anyway.
var ErrCapabilityNotSupported = errors.New("capability not supported by this vendor")

// ErrNotAuthenticated is returned by data calls before Authenticate.
var ErrNotAuthenticated = errors.New("adapter is not authenticated")

// UnsupportedVendorError is returned by CreateAdapter for unknown vendor
// keys; Supported always lists the registered types.
type UnsupportedVendorError struct {
	VendorType string
	Supported  []string
}

func (e *UnsupportedVendorError) Error() string {
	return fmt.Sprintf("unsupported vendor type %q (supported: %s)", e.VendorType, strings.Join(e.Supported, ", "))
}

type AuthenticationError struct {
	VendorType string
	Reason     string
}

func (e *AuthenticationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s: authentication failed", e.VendorType)
	}
	return fmt.Sprintf("%s: authentication failed: %s", e.VendorType, e.Reason)
}

// RateLimitedError carries the vendor's retry-after hint when provided.
type RateLimitedError struct {
	VendorType string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: rate limited, retry after %s", e.VendorType, e.RetryAfter)
	}
	return fmt.Sprintf("%s: rate limited", e.VendorType)
}

// TransientNetworkError wraps timeouts and 5xx responses; safe to retry.
type TransientNetworkError struct {
	VendorType string
	Err        error
}

func (e *TransientNetworkError) Error() string {
	return fmt.Sprintf("%s: transient network error: %v", e.VendorType, e.Err)
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }

// PermanentAdapterError covers non-retryable vendor responses (4xx other
// than auth and throttle).
type PermanentAdapterError struct {
	VendorType string
	StatusCode int
	Message    string
}

func (e *PermanentAdapterError) Error() string {
	return fmt.Sprintf("%s: vendor error %d: %s", e.VendorType, e.StatusCode, e.Message)
}

// IsRetryable reports whether an error may succeed on retry.
func IsRetryable(err error) bool {
	var transient *TransientNetworkError
	if errors.As(err, &transient) {
		return true
	}
	var limited *RateLimitedError
	return errors.As(err, &limited)
}

// RetryAfterHint extracts the throttle hint, zero when absent.
func RetryAfterHint(err error) time.Duration {
	var limited *RateLimitedError
	if errors.As(err, &limited) {
		return limited.RetryAfter
	}
	return 0
}

func IsAuthenticationError(err error) bool {
	var authErr *AuthenticationError
	return errors.As(err, &authErr)
}
