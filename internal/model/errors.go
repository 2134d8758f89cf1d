package model

import (
	"errors"
	"fmt"
)

// ErrNotFound signals a missing referenced entity.
var ErrNotFound = errors.New("not found")

// ValidationError rejects malformed input before any write happens.
type ValidationError struct {
	Entity string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s %s", e.Entity, e.Field, e.Reason)
}

// ConflictError is a definitive "try a different action" signal: a cycle would
// form, the user already holds an active assignment, or the task stopped being
// eligible by commit time. Never retried by the engine.
type ConflictError struct {
	Op       string
	EntityID int
	Reason   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s conflict on id=%d: %s", e.Op, e.EntityID, e.Reason)
}

// CollaboratorError wraps a natural-language or geolocation collaborator
// failure. Timeout marks it as such; both are recoverable.
type CollaboratorError struct {
	Collaborator string
	Timeout      bool
	Err          error
}

func (e *CollaboratorError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s collaborator timed out: %v", e.Collaborator, e.Err)
	}
	return fmt.Sprintf("%s collaborator failed: %v", e.Collaborator, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

// IntegrityError reports corrupted durable state found during a read, e.g. a
// dependency cycle already present in the store. Fatal: surfaced to the
// operator path, never silently repaired.
type IntegrityError struct {
	Entity   string
	EntityID int
	Detail   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("data integrity violation in %s id=%d: %s", e.Entity, e.EntityID, e.Detail)
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}

func IsCollaborator(err error) bool {
	var c *CollaboratorError
	return errors.As(err, &c)
}

func IsIntegrity(err error) bool {
	var i *IntegrityError
	return errors.As(err, &i)
}
