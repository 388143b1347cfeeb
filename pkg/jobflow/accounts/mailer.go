package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/jonboulle/clockwork"

	ferrors "github.com/randalmurphal/jobflow/pkg/jobflow/errors"
)

var (
	// ErrMailerUnavailable means the mail server could not be reached. It is
	// returned wrapped as a transient error.
	ErrMailerUnavailable = errors.New("mail server temporarily unavailable")

	// ErrInvalidAddress means the recipient can never receive mail. It is
	// returned wrapped as a permanent error.
	ErrInvalidAddress = errors.New("invalid email address")
)

// Message is an outgoing email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer delivers email and returns the provider's message id. Errors should
// be categorized with errors.Transient or errors.Permanent so the worker can
// decide whether to retry.
type Mailer interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// MailerFunc adapts a function to Mailer.
type MailerFunc func(ctx context.Context, msg Message) (string, error)

// Send implements Mailer.
func (f MailerFunc) Send(ctx context.Context, msg Message) (string, error) {
	return f(ctx, msg)
}

// LogMailer pretends to deliver mail by logging it. Message ids look like
// msg_20260102150405_0001.
type LogMailer struct {
	logger *slog.Logger
	clock  clockwork.Clock
	seq    atomic.Int64
}

// NewLogMailer creates a LogMailer. Nil arguments select slog.Default() and
// the real clock.
func NewLogMailer(logger *slog.Logger, clock clockwork.Clock) *LogMailer {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &LogMailer{logger: logger, clock: clock}
}

// Send implements Mailer.
func (m *LogMailer) Send(ctx context.Context, msg Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", ferrors.Transient(err, "send email")
	}
	if err := ValidateEmail(msg.To); err != nil {
		return "", err
	}
	id := fmt.Sprintf("msg_%s_%04d", m.clock.Now().UTC().Format("20060102150405"), m.seq.Add(1)%10000)
	m.logger.Info("email sent",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.String("message_id", id),
	)
	return id, nil
}

// ValidateEmail performs the minimal shape check used before sending:
// one @ with a non-empty local part and a dotted domain.
func ValidateEmail(addr string) error {
	local, domain, ok := strings.Cut(addr, "@")
	if !ok || local == "" || strings.Contains(domain, "@") ||
		!strings.Contains(domain, ".") || strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") ||
		strings.ContainsAny(addr, " \t\r\n") {
		return ferrors.Permanent(fmt.Errorf("%w: %q", ErrInvalidAddress, addr), "validate recipient")
	}
	return nil
}
