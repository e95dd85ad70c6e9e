package resilience

import (
	"context"
	"errors"

	"github.com/kirillkom/medical-chronology/internal/core/domain"
)

// CollaboratorClassifier retries temporary collaborator failures and call timeouts.
// Permanent failures such as missing references are returned at once.
func CollaboratorClassifier(err error) ErrorClassification {
	if err == nil {
		return ErrorClassification{}
	}
	if collab, ok := domain.AsCollaborator(err); ok {
		if collab.Temporary() {
			return ErrorClassification{Retryable: true, RecordFailure: true}
		}
		return ErrorClassification{Retryable: false, RecordFailure: !isCallerError(err)}
	}
	if errors.Is(err, domain.ErrTemporary) || errors.Is(err, domain.ErrCallTimeout) || IsCircuitOpen(err) {
		return ErrorClassification{Retryable: true, RecordFailure: true}
	}
	if errors.Is(err, context.Canceled) {
		return ErrorClassification{Retryable: false, RecordFailure: false}
	}
	return ErrorClassification{Retryable: false, RecordFailure: !isCallerError(err)}
}

func isCallerError(err error) bool {
	return errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrAccess) ||
		errors.Is(err, domain.ErrInvalidInput) ||
		errors.Is(err, domain.ErrUnauthorized)
}
