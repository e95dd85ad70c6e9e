package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrAccess              = errors.New("access denied")
	ErrInvalidInput        = errors.New("invalid input")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrTemporary           = errors.New("temporary failure")
	ErrCallTimeout         = errors.New("collaborator call timed out")
	ErrContractUnsatisfied = errors.New("contract unsatisfied")
	ErrSessionLocked       = errors.New("session locked")
	ErrStateNotFound       = errors.New("phase state not found")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// CollaboratorError is a failure of an external collaborator call
// (document store, recognizer, generator, uploader).
type CollaboratorError struct {
	Phase Phase
	Op    string
	Err   error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s collaborator %s: %v", e.Phase, e.Op, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

// Temporary reports whether a retry of the same call may succeed.
func (e *CollaboratorError) Temporary() bool {
	return errors.Is(e.Err, ErrTemporary) || errors.Is(e.Err, ErrCallTimeout)
}

// MalformedEntryError is returned when an entry cannot be constructed.
type MalformedEntryError struct {
	Index  int
	Field  string
	Reason string
}

func (e *MalformedEntryError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("malformed entry %d: %s: %s", e.Index, e.Field, e.Reason)
	}
	return fmt.Sprintf("malformed entry: %s: %s", e.Field, e.Reason)
}

// UnreadableDocumentError marks a document the recognizer could not read at all.
type UnreadableDocumentError struct {
	DocumentID string
	Name       string
	Reason     string
}

func (e *UnreadableDocumentError) Error() string {
	name := strings.TrimSpace(e.Name)
	if name == "" {
		name = e.DocumentID
	}
	return fmt.Sprintf("unreadable document %s: %s", name, e.Reason)
}

// PhaseError is the failure surfaced by the orchestrator for a session.
type PhaseError struct {
	Phase Phase
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("phase %s failed: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error { return e.Err }

func AsMalformed(err error) (*MalformedEntryError, bool) {
	var target *MalformedEntryError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

func AsUnreadable(err error) (*UnreadableDocumentError, bool) {
	var target *UnreadableDocumentError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

func AsCollaborator(err error) (*CollaboratorError, bool) {
	var target *CollaboratorError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
