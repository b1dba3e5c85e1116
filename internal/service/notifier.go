package service

import (
	"context"
	"log/slog"

	"github.com/socialsyncara/publish-worker/internal/data"
	"github.com/socialsyncara/publish-worker/internal/domain/model"
	"github.com/socialsyncara/publish-worker/internal/observability/notify"
)

// DisconnectNotifier delivers account-disconnected notifications to the
// owning user. Delivery failure is logged and swallowed: losing a
// notification must never undo or delay the revocation itself.
type DisconnectNotifier struct {
	sink   notify.Sink
	tp     data.TimeProvider
	logger *slog.Logger
}

// NewDisconnectNotifier creates a notifier over a delivery sink. A nil sink
// yields a notifier that drops everything.
func NewDisconnectNotifier(sink notify.Sink, logger *slog.Logger) *DisconnectNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &DisconnectNotifier{
		sink:   sink,
		tp:     &data.RealTimeProvider{},
		logger: logger.With("component", "notifier"),
	}
}

// AccountDisconnected tells the account owner their connection needs to be
// re-established.
func (n *DisconnectNotifier) AccountDisconnected(ctx context.Context, account *model.SocialAccount, cause string) {
	if n == nil || n.sink == nil || account == nil {
		return
	}
	payload := notify.AccountDisconnectedPayload{
		AccountID:  account.ID,
		UserID:     account.UserID,
		Platform:   account.Platform,
		Cause:      cause,
		OccurredAt: n.tp.Now(),
	}
	if account.OwnerEmail != nil {
		payload.UserEmail = *account.OwnerEmail
	}
	if err := n.sink.SendAccountDisconnected(ctx, payload); err != nil {
		n.logger.WarnContext(ctx, "account disconnect notification failed",
			"account_id", account.ID, "error", err)
	}
}
