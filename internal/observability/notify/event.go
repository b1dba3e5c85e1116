package notify

import (
	"context"
	"time"
)

// AccountDisconnectedPayload captures the canonical data we emit when an
// account's refresh grant is rejected and the user must reconnect.
type AccountDisconnectedPayload struct {
	AccountID  string
	UserID     string
	UserEmail  string
	Platform   string
	Cause      string
	OccurredAt time.Time
}

// Sink describes a destination capable of consuming account disconnect notifications.
type Sink interface {
	SendAccountDisconnected(ctx context.Context, payload AccountDisconnectedPayload) error
}

// SinkFunc adapts a function to the Sink interface (useful for tests).
type SinkFunc func(ctx context.Context, payload AccountDisconnectedPayload) error

// SendAccountDisconnected implements the Sink interface.
func (f SinkFunc) SendAccountDisconnected(ctx context.Context, payload AccountDisconnectedPayload) error {
	if f == nil {
		return nil
	}
	return f(ctx, payload)
}
