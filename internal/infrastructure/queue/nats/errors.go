package nats

import (
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/medical-chronology/internal/core/domain"
	"github.com/kirillkom/medical-chronology/internal/infrastructure/resilience"
)

// transientPublishErrors clear up once the connection recovers.
var transientPublishErrors = []error{
	nats.ErrNoServers,
	nats.ErrTimeout,
	nats.ErrConnectionClosed,
	nats.ErrConnectionReconnecting,
	nats.ErrDisconnected,
	nats.ErrReconnectBufExceeded,
}

// rejectedPublishErrors mean the request itself can never be delivered.
var rejectedPublishErrors = []error{
	nats.ErrMaxPayload,
	nats.ErrBadSubject,
}

// publishError tags a publish failure for session sessionID with its domain kind
// so the executor can classify it with the collaborator rules.
func publishError(sessionID string, err error) error {
	if err == nil {
		return nil
	}
	op := fmt.Sprintf("publish session %s", sessionID)
	for _, target := range rejectedPublishErrors {
		if errors.Is(err, target) {
			return domain.WrapError(domain.ErrInvalidInput, op, err)
		}
	}
	for _, target := range transientPublishErrors {
		if errors.Is(err, target) {
			return domain.WrapError(domain.ErrTemporary, op, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// finalPublishError marks an open breaker as temporary so callers can retry later.
func finalPublishError(sessionID string, err error) error {
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	if resilience.IsCircuitOpen(err) {
		return domain.WrapError(domain.ErrTemporary, fmt.Sprintf("publish session %s", sessionID), err)
	}
	return err
}
