package dispatch

import (
	"errors"
	"fmt"

	"remindd/internal/mailer"
)

// ErrNotConfigured is the configuration error: no usable mailer. A run
// that sees it stops instead of failing every item.
var ErrNotConfigured = mailer.ErrNotConfigured

// TransportError wraps a mailer failure with the attempt it happened on.
type TransportError struct {
	Attempt int
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("attempt %d: %v", e.Attempt, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsConfiguration reports whether err means dispatch cannot work at all.
func IsConfiguration(err error) bool { return errors.Is(err, ErrNotConfigured) }
