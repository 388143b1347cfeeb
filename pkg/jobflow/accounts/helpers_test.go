package accounts_test

import (
	"bytes"
	"context"
	"log/slog"
	"sync"

	"github.com/randalmurphal/jobflow/pkg/jobflow/accounts"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestLogger() (*slog.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	return slog.New(slog.NewJSONHandler(buf, nil)), buf
}

// outbox is a Mailer that records messages and can be told to fail.
type outbox struct {
	mu   sync.Mutex
	sent []accounts.Message
	errs []error
}

func (o *outbox) Send(_ context.Context, msg accounts.Message) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.errs) > 0 {
		err := o.errs[0]
		o.errs = o.errs[1:]
		return "", err
	}
	o.sent = append(o.sent, msg)
	return "msg_test", nil
}

func (o *outbox) messages() []accounts.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]accounts.Message(nil), o.sent...)
}
