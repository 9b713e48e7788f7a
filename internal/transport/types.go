// Package transport defines the delivery channels behind the notifier.
package transport

import (
	"context"
	"errors"

	"bizflow/internal/domain"
)

// Channel names as referenced by notification flags and config.
const (
	ChannelEmail = "email"
	ChannelPush  = "push"
)

// ErrPermanent marks a delivery error that retrying cannot fix.
var ErrPermanent = errors.New("permanent delivery failure")

// Channel delivers one notification out of process.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, n domain.Notification) error
}

// Permanent wraps err so the notifier stops retrying it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string        { return e.err.Error() }
func (e *permanentError) Unwrap() error        { return e.err }
func (e *permanentError) Is(target error) bool { return target == ErrPermanent }
