package service

import (
	"errors"
	"fmt"
)

// Sentinel errors for the domain authentication service.
var (
	ErrNotFound          = errors.New("domain not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrFreeMailbox       = fmt.Errorf("%w: use a business email (no public providers)", ErrInvalidInput)
	ErrOTPExpired        = errors.New("code expired; resend a new one")
	ErrOTPMismatch       = errors.New("invalid code")
	ErrOTPLocked         = errors.New("too many incorrect codes; resend a new one")
	ErrPendingConflict   = errors.New("verification email already pending")
	ErrDelivery          = errors.New("failed to send verification email")
	ErrConcurrentUpdate  = errors.New("domain was modified concurrently; retry")
	ErrUnknownProvider   = fmt.Errorf("%w: unknown provider id", ErrInvalidInput)
	ErrNotPending        = errors.New("domain has no pending mailbox verification")
	ErrMailboxUnverified = errors.New("mailbox ownership has not been verified")
)

// PendingConflictError is returned when a code is already outstanding for
// the submitted mailbox. Its message is the same whether or not the mailbox
// exists so callers cannot probe for valid addresses.
type PendingConflictError struct {
	Email string
}

func (e *PendingConflictError) Error() string {
	return BounceMessage(e.Email)
}

func (e *PendingConflictError) Unwrap() error { return ErrPendingConflict }

// BounceMessage is the masked text shown for a pending-conflict.
func BounceMessage(email string) string {
	return "Error sending verification email.\n\nWe're having some trouble delivering to " + email +
		". Looks like the verification email might've bounced."
}
