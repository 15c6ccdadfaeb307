package service

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the token and auth services. Callers branch on them with errors.Is.
var (
	// ErrInvalidCredentials covers unknown accounts and wrong passwords alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUnauthorized covers every rejected token: unknown, expired, revoked, replayed, or mismatched.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrAccountInactive is returned by Login for a deactivated account.
	ErrAccountInactive = errors.New("account inactive")
	// ErrSuspiciousActivity marks a rejection that triggered family revocation. It is only
	// ever returned wrapped inside ErrUnauthorized.
	ErrSuspiciousActivity = errors.New("suspicious activity")
	// ErrTransientStore wraps a storage failure. Every operation is transactional, so the
	// whole call is safe to retry.
	ErrTransientStore = errors.New("temporary store failure")
)

// rejection is an ErrUnauthorized whose message never reveals the cause.
type rejection struct {
	cause error
}

func (r *rejection) Error() string { return ErrUnauthorized.Error() }

func (r *rejection) Unwrap() []error {
	if r.cause == nil {
		return []error{ErrUnauthorized}
	}
	return []error{ErrUnauthorized, r.cause}
}

func unauthorized(cause error) error {
	return &rejection{cause: cause}
}

func transient(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrTransientStore, err)
}
