package accounts

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/randalmurphal/jobflow/pkg/jobflow/event"
	"github.com/randalmurphal/jobflow/pkg/jobflow/observability"
)

// VerifyEmailHandler sends the verification email for a new account.
type VerifyEmailHandler struct {
	mailer Mailer
	logger *slog.Logger
}

// NewVerifyEmailHandler creates the handler.
func NewVerifyEmailHandler(mailer Mailer, logger *slog.Logger) *VerifyEmailHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &VerifyEmailHandler{mailer: mailer, logger: logger}
}

// Name is reported in dispatcher logs.
func (h *VerifyEmailHandler) Name() string { return "verify_account_email" }

// Handle implements event.Handler.
func (h *VerifyEmailHandler) Handle(ctx context.Context, evt event.Event) error {
	_, err := h.Send(ctx, evt)
	return err
}

// Send delivers the verification email and returns the message id.
func (h *VerifyEmailHandler) Send(ctx context.Context, evt event.Event) (string, error) {
	created, ok := evt.(event.AccountCreated)
	if !ok {
		return "", fmt.Errorf("verify email: unexpected event %T", evt)
	}
	id, err := h.mailer.Send(ctx, VerificationMessage(created))
	if err != nil {
		return "", err
	}
	h.logger.Info("account verification email sent",
		slog.String("account_id", created.AccountID()),
		slog.String("email", created.Email()),
		slog.String("message_id", id),
	)
	return id, nil
}

// VerificationMessage builds the email sent for a new account.
func VerificationMessage(evt event.AccountCreated) Message {
	return Message{
		To:      evt.Email(),
		Subject: "Verify your account",
		Body: fmt.Sprintf("Welcome! Confirm the address for account %s to finish signing up.",
			evt.AccountID()),
	}
}

// TrackNewAccountHandler records new accounts for analytics.
type TrackNewAccountHandler struct {
	logger  *slog.Logger
	metrics observability.MetricsRecorder
}

// NewTrackNewAccountHandler creates the handler. A nil recorder disables the
// counter.
func NewTrackNewAccountHandler(logger *slog.Logger, metrics observability.MetricsRecorder) *TrackNewAccountHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	return &TrackNewAccountHandler{logger: logger, metrics: metrics}
}

// Name is reported in dispatcher logs.
func (h *TrackNewAccountHandler) Name() string { return "track_new_account" }

// Handle implements event.Handler.
func (h *TrackNewAccountHandler) Handle(ctx context.Context, evt event.Event) error {
	created, ok := evt.(event.AccountCreated)
	if !ok {
		return fmt.Errorf("track account: unexpected event %T", evt)
	}
	h.metrics.RecordAccountCreated(ctx)
	h.logger.Info("new account tracked",
		slog.String("account_id", created.AccountID()),
		slog.String("event_id", created.ID().String()),
		slog.Time("occurred_at", created.OccurredAt()),
	)
	return nil
}
