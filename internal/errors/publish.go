package errors

import (
	"errors"
	"fmt"
)

// PublishError describes a failed publish attempt against a social platform.
// Platform clients construct it from the provider response so callers can
// branch on structured fields instead of matching message text.
type PublishError struct {
	// Platform is the provider the request was sent to (e.g. "LINKEDIN").
	Platform string
	// StatusCode is the HTTP status returned by the provider, if any.
	StatusCode int
	// Code is the provider-specific error code, if one was returned.
	Code string
	// Message is the provider error message.
	Message string
	// RecoveredID holds the identifier of an already-accepted post when the
	// provider rejected the request as a duplicate. A publish that carries a
	// RecoveredID is treated as a success.
	RecoveredID string
	// Permanent marks failures that cannot succeed on retry
	// (malformed content, revoked permissions, deleted targets).
	Permanent bool
	// Cause is the underlying transport error, if any.
	Cause error
}

// Error implements the error interface.
func (e *PublishError) Error() string {
	switch {
	case e.StatusCode > 0 && e.Message != "":
		return fmt.Sprintf("%s publish failed (%d): %s", e.Platform, e.StatusCode, e.Message)
	case e.Message != "":
		return fmt.Sprintf("%s publish failed: %s", e.Platform, e.Message)
	case e.Cause != nil:
		return fmt.Sprintf("%s publish failed: %v", e.Platform, e.Cause)
	default:
		return fmt.Sprintf("%s publish failed (%d)", e.Platform, e.StatusCode)
	}
}

// Unwrap returns the underlying cause, enabling errors.Is and errors.As.
func (e *PublishError) Unwrap() error {
	return e.Cause
}

// Duplicate reports whether the provider identified the request as a
// duplicate of a post it already holds.
func (e *PublishError) Duplicate() bool {
	return e.RecoveredID != ""
}

// AsPublishError extracts a PublishError from an error chain.
func AsPublishError(err error) (*PublishError, bool) {
	var pe *PublishError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
