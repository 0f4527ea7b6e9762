package common

import (
	"errors"
	"fmt"
)

// PreconditionErr is returned synchronously when an operation is invoked in
// the wrong sequence, for example joining a party the local identity already
// belongs to, or using a closed manager. It is never retried.
type PreconditionErr struct {
	Op     string
	Reason string
}

// NewPreconditionErr ...
func NewPreconditionErr(op, reason string) PreconditionErr {
	return PreconditionErr{Op: op, Reason: reason}
}

// Error ...
func (e PreconditionErr) Error() string {
	return fmt.Sprintf("%s: precondition failed: %s", e.Op, e.Reason)
}

// IsPrecondition reports whether err, or any error it wraps, is a
// PreconditionErr.
func IsPrecondition(err error) bool {
	var p PreconditionErr
	return errors.As(err, &p)
}

// IntegrityErr is returned when a message, credential or invitation fails
// validation: bad signature, hash mismatch, malformed payload. The offending
// message or session is rejected and party state is left untouched.
type IntegrityErr struct {
	Subject string
	Reason  string
}

// NewIntegrityErr ...
func NewIntegrityErr(subject, reason string) IntegrityErr {
	return IntegrityErr{Subject: subject, Reason: reason}
}

// Error ...
func (e IntegrityErr) Error() string {
	return fmt.Sprintf("%s: integrity check failed: %s", e.Subject, e.Reason)
}

// IsIntegrity reports whether err, or any error it wraps, is an IntegrityErr.
func IsIntegrity(err error) bool {
	var i IntegrityErr
	return errors.As(err, &i)
}
