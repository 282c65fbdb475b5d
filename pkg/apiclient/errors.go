package apiclient

import (
	"errors"
	"fmt"
)

// Static errors for err113 compliance.
var (
	// ErrInvalidArgument is returned for caller input problems. It is always
	// raised before any network activity and is never retried.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrHandleNotFound is returned by End for unknown or already consumed handles.
	ErrHandleNotFound = errors.New("handle not found")

	// ErrCacheMiss is returned by Cache.Get when no usable entry exists.
	ErrCacheMiss = errors.New("key not found")

	// ErrCacheDisabled is returned by NoOpCache.Get.
	ErrCacheDisabled = errors.New("cache disabled")

	// ErrInvalidResponseBody is returned when a response body is not JSON.
	ErrInvalidResponseBody = errors.New("response body is not valid JSON")

	// ErrInvalidCacheEntry is returned when a serialized cache entry is malformed.
	ErrInvalidCacheEntry = errors.New("invalid cache entry")

	// ErrUnexpectedStatus is returned by Collection when a page is not a 200.
	ErrUnexpectedStatus = errors.New("did not receive 200 from API")

	// ErrInvalidExpires is returned when an Expires header cannot be parsed.
	ErrInvalidExpires = errors.New("unable to parse Expires value")

	// ErrNoElements is returned by Collection accessors on an empty collection.
	ErrNoElements = errors.New("collection contains no elements")
)

// Messages carried by AuthenticationError.
const (
	InvalidCredentialsMessage = "Invalid Credentials"
	UnknownAPIErrorMessage    = "Unknown API error"
)

// AuthenticationError is returned when the token endpoint itself reports a
// failure. Retrying with the same credentials cannot succeed.
type AuthenticationError struct {
	Message  string
	HTTPCode int
}

// Error implements the error interface.
func (e *AuthenticationError) Error() string {
	return e.Message
}

// TransportError wraps a network or protocol failure raised by a Transport.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

// Unwrap returns the underlying failure.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// invalidArgument builds an ErrInvalidArgument naming the offending argument.
func invalidArgument(name, reason string) error {
	return fmt.Errorf("%w: %s %s", ErrInvalidArgument, name, reason)
}

// NewHandleNotFoundError reports an unknown handle. The result matches both
// ErrHandleNotFound and ErrInvalidArgument.
func NewHandleNotFoundError(handle string) error {
	return fmt.Errorf("%w: %q: %w", ErrHandleNotFound, handle, ErrInvalidArgument)
}

// IsValidationError reports whether err is a caller input problem.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidArgument)
}

// IsHandleNotFound reports whether err was caused by an unknown handle.
func IsHandleNotFound(err error) bool {
	return errors.Is(err, ErrHandleNotFound)
}

// IsAuthenticationError reports whether err came from the token endpoint.
func IsAuthenticationError(err error) bool {
	authErr := &AuthenticationError{}

	return errors.As(err, &authErr)
}

// IsTransportError reports whether err is a transport failure.
func IsTransportError(err error) bool {
	transportErr := &TransportError{}

	return errors.As(err, &transportErr)
}

// IsCacheMiss reports whether err signals an absent cache entry.
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss) || errors.Is(err, ErrCacheDisabled)
}

func invalidExpires(value string, err error) error {
	return fmt.Errorf("%w of %q: %w", ErrInvalidExpires, value, err)
}
