package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")
)

// Login outcome errors. UnknownPrincipal and BadPrimarySecret are told apart
// only in audit records; callers render both as ErrInvalidCredentials.
var (
	ErrUnknownPrincipal = errors.New("unknown principal")
	ErrBadPrimarySecret = errors.New("bad primary secret")
	ErrBadSecondFactor  = errors.New("bad second factor")
	ErrAdmissionBlocked = errors.New("too many failed attempts")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrSigner           = errors.New("session signer failure")

	ErrInvalidCredentials = errors.New("invalid credentials")
)

// AdmissionBlockedError carries the remaining lockout for a blocked client.
type AdmissionBlockedError struct {
	RetryAfterSeconds int
}

func (e *AdmissionBlockedError) Error() string {
	return fmt.Sprintf("%s: retry after %ds", ErrAdmissionBlocked, e.RetryAfterSeconds)
}

// Is lets errors.Is(err, ErrAdmissionBlocked) match.
func (e *AdmissionBlockedError) Is(target error) bool {
	return target == ErrAdmissionBlocked
}

// IsCredentialRejection reports whether err is a primary-secret rejection.
func IsCredentialRejection(err error) bool {
	return errors.Is(err, ErrUnknownPrincipal) || errors.Is(err, ErrBadPrimarySecret)
}
