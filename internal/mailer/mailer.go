// Package mailer delivers rendered messages.
//
// SMTP delivery uses go-mail; the log mailer only writes to the log and is
// meant for development.
package mailer

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotConfigured reports that no provider is available. Callers should
// stop the current run rather than retry.
var ErrNotConfigured = errors.New("mailer not configured")

// Attachment is a file carried by a message.
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

type Message struct {
	MessageID   string
	To          string
	Subject     string
	Text        string
	HTML        string
	Attachments []Attachment
}

// Mailer sends one message. Implementations must honour ctx.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Permanent marks a send error as not worth retrying (rejected recipient,
// malformed message).
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err is wrapped with Permanent.
func IsPermanent(err error) bool {
	var e permanentError
	return errors.As(err, &e)
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return fmt.Sprintf("permanent: %v", e.err) }
func (e permanentError) Unwrap() error { return e.err }
