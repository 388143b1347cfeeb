package accounts_test

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/jobflow/pkg/jobflow/accounts"
	ferrors "github.com/randalmurphal/jobflow/pkg/jobflow/errors"
)

func TestLogMailerSend(t *testing.T) {
	logger, buf := newTestLogger()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC))
	m := accounts.NewLogMailer(logger, clock)

	id, err := m.Send(context.Background(), accounts.Message{To: "u@x.com", Subject: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "msg_20260102150405_0001", id)

	id, err = m.Send(context.Background(), accounts.Message{To: "v@x.com"})
	require.NoError(t, err)
	assert.Equal(t, "msg_20260102150405_0002", id)

	assert.Contains(t, buf.String(), `"msg":"email sent"`)
	assert.Contains(t, buf.String(), `"to":"u@x.com"`)
}

func TestLogMailerInvalidAddressIsPermanent(t *testing.T) {
	m := accounts.NewLogMailer(nil, nil)

	_, err := m.Send(context.Background(), accounts.Message{To: "not-an-address"})
	require.Error(t, err)
	assert.ErrorIs(t, err, accounts.ErrInvalidAddress)
	assert.True(t, ferrors.IsPermanent(err))
}

func TestLogMailerCancelledIsTransient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := accounts.NewLogMailer(nil, nil).Send(ctx, accounts.Message{To: "u@x.com"})
	require.Error(t, err)
	assert.True(t, ferrors.IsRetryable(err))
}

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		addr  string
		valid bool
	}{
		{"u@x.com", true},
		{"first.last@mail.example.org", true},
		{"", false},
		{"u@", false},
		{"@x.com", false},
		{"u@x", false},
		{"u@@x.com", false},
		{"u@x.com.", false},
		{"u v@x.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			err := accounts.ValidateEmail(tt.addr)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, accounts.ErrInvalidAddress)
			}
		})
	}
}
