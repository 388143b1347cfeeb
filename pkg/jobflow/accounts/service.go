package accounts

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/randalmurphal/jobflow/pkg/jobflow/event"
	"github.com/randalmurphal/jobflow/pkg/jobflow/job"
)

// Registration is the response to an account registration.
type Registration struct {
	AccountID         string `json:"account_id"`
	Status            string `json:"status"`
	Message           string `json:"message"`
	VerificationJobID string `json:"verification_job_id"`
}

// Service registers accounts.
type Service struct {
	events event.Dispatcher
	jobs   *job.Dispatcher
	logger *slog.Logger
}

// NewService creates a Service publishing to events and dispatching jobs
// through jobs.
func NewService(events event.Dispatcher, jobs *job.Dispatcher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{events: events, jobs: jobs, logger: logger}
}

// Register creates an account for email. The account is pending until the
// verification job has run.
func (s *Service) Register(ctx context.Context, email string) (Registration, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return Registration{}, fmt.Errorf("register account: empty email")
	}

	accountID := uuid.Must(uuid.NewV7()).String()
	created := event.NewAccountCreated(accountID, email)

	if err := s.events.Dispatch(ctx, created); err != nil {
		return Registration{}, fmt.Errorf("register account %s: %w", accountID, err)
	}
	verification, err := s.jobs.Dispatch(ctx, JobVerifyEmail, created)
	if err != nil {
		return Registration{}, fmt.Errorf("register account %s: %w", accountID, err)
	}

	s.logger.Info("account registered",
		slog.String("account_id", accountID),
		slog.String("verification_job_id", verification.ID),
	)
	return Registration{
		AccountID:         accountID,
		Status:            "pending",
		Message:           "Account verification pending",
		VerificationJobID: verification.ID,
	}, nil
}
