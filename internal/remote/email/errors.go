package email

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"

	"github.com/emersion/go-imap/v2"

	"github.com/nhle/mail-outbox/internal/outbox"
	"github.com/nhle/mail-outbox/internal/store"
)

// AuthError indicates that the server rejected the account's credentials.
type AuthError struct {
	Account string
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %s", e.Account, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

var (
	// ErrMalformedTask is returned when a task's parameters cannot be
	// mapped onto a server command.
	ErrMalformedTask = errors.New("malformed task parameters")

	// ErrMessageNotFound is returned when a UID is gone from its mailbox.
	ErrMessageNotFound = errors.New("message not found")
)

// Classify maps an execution error onto a coordinator outcome. Unknown
// errors keep the task queued.
func Classify(err error) outbox.Result {
	if err == nil {
		return outbox.Success()
	}

	switch {
	case IsAuthError(err):
		return outbox.Transient(err)
	case errors.Is(err, store.ErrNotFound), errors.Is(err, ErrMalformedTask),
		errors.Is(err, ErrMessageNotFound):
		return outbox.DropRelated(err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return outbox.Transient(err)
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return outbox.Transient(err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return outbox.Transient(err)
	}

	var imapErr *imap.Error
	if errors.As(err, &imapErr) {
		switch imapErr.Code {
		case imap.ResponseCodeUnavailable, imap.ResponseCodeServerBug, imap.ResponseCodeLimit:
			return outbox.Transient(err)
		}
		return outbox.DropRelated(err)
	}

	var smtpErr *textproto.Error
	if errors.As(err, &smtpErr) {
		switch {
		case smtpErr.Code >= 400 && smtpErr.Code < 500:
			return outbox.Retry(err)
		case smtpErr.Code >= 500:
			return outbox.DropRelated(err)
		}
	}

	return outbox.Transient(err)
}
