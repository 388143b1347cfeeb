package accounts

import (
	"context"
	"fmt"
	"log/slog"

	ferrors "github.com/randalmurphal/jobflow/pkg/jobflow/errors"
	"github.com/randalmurphal/jobflow/pkg/jobflow/event"
	"github.com/randalmurphal/jobflow/pkg/jobflow/observability"
	"github.com/randalmurphal/jobflow/pkg/jobflow/worker"
)

// JobVerifyEmail is the job (and default task) name of the verification
// email.
const JobVerifyEmail = "verify_account_email"

// VerifyEmailTask returns the worker task behind JobVerifyEmail. On success
// the task result is {"status":"sent","message_id":...,"to":...}. Mailer
// errors keep their transient or permanent category.
func VerifyEmailTask(codec *event.Codec, mailer Mailer, logger *slog.Logger) worker.TaskFunc {
	handler := NewVerifyEmailHandler(mailer, logger)
	return func(ctx context.Context, call worker.Call) (any, error) {
		evt, err := worker.DecodeEvent(codec, call)
		if err != nil {
			return nil, err
		}
		created, ok := evt.(event.AccountCreated)
		if !ok {
			return nil, ferrors.Permanent(fmt.Errorf("expected %s, got %s", event.TypeAccountCreated, evt.Type()), "verify email")
		}
		id, err := handler.Send(ctx, created)
		if err != nil {
			return nil, err
		}
		return map[string]string{
			"status":     "sent",
			"message_id": id,
			"to":         created.Email(),
		}, nil
	}
}

// RegisterHandlers subscribes the in-process account handlers.
func RegisterHandlers(d event.Dispatcher, logger *slog.Logger, metrics observability.MetricsRecorder) {
	d.Register(event.TypeAccountCreated, NewTrackNewAccountHandler(logger, metrics))
}

// RegisterTasks binds the account tasks on w under taskName.
func RegisterTasks(w *worker.Worker, taskName string, codec *event.Codec, mailer Mailer, logger *slog.Logger, opts ...worker.TaskOption) {
	w.Register(taskName, VerifyEmailTask(codec, mailer, logger), opts...)
}
