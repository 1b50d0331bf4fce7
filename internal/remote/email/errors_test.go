package email

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"testing"

	"github.com/emersion/go-imap/v2"
	"github.com/stretchr/testify/assert"

	"github.com/nhle/mail-outbox/internal/outbox"
	"github.com/nhle/mail-outbox/internal/store"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want outbox.Outcome
	}{
		{"nil", nil, outbox.OutcomeSuccess},
		{"auth", fmt.Errorf("login: %w", &AuthError{Account: "a", Message: "no"}), outbox.OutcomeTransient},
		{"missing draft", fmt.Errorf("draft d1: %w", store.ErrNotFound), outbox.OutcomeDropRelated},
		{"malformed", ErrMalformedTask, outbox.OutcomeDropRelated},
		{"message gone", ErrMessageNotFound, outbox.OutcomeDropRelated},
		{"deadline", context.DeadlineExceeded, outbox.OutcomeTransient},
		{"eof", fmt.Errorf("read: %w", io.EOF), outbox.OutcomeTransient},
		{"net", &net.OpError{Op: "dial", Err: errors.New("refused")}, outbox.OutcomeTransient},
		{
			"imap unavailable",
			&imap.Error{Type: imap.StatusResponseTypeNo, Code: imap.ResponseCodeUnavailable},
			outbox.OutcomeTransient,
		},
		{
			"imap nonexistent",
			fmt.Errorf("selecting Work: %w", &imap.Error{Type: imap.StatusResponseTypeNo, Code: imap.ResponseCodeNonExistent}),
			outbox.OutcomeDropRelated,
		},
		{"smtp 4xx", &textproto.Error{Code: 451, Msg: "try later"}, outbox.OutcomeRetry},
		{"smtp 5xx", fmt.Errorf("rcpt: %w", &textproto.Error{Code: 550, Msg: "no such user"}), outbox.OutcomeDropRelated},
		{"unknown", errors.New("boom"), outbox.OutcomeTransient},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res := Classify(tt.err)
			assert.Equal(t, tt.want, res.Outcome)
			if tt.err != nil {
				assert.ErrorIs(t, res.Err, tt.err)
			}
		})
	}
}

func TestIsAuthError(t *testing.T) {
	t.Parallel()

	assert.True(t, IsAuthError(fmt.Errorf("wrapped: %w", &AuthError{Account: "a"})))
	assert.False(t, IsAuthError(errors.New("other")))
}
