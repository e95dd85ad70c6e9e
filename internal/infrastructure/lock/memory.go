package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kirillkom/medical-chronology/internal/core/domain"
)

// MemoryLocker serializes sessions inside one process. TTL is ignored.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]struct{})}
}

func (l *MemoryLocker) Acquire(_ context.Context, sessionID string, _ time.Duration) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[sessionID]; ok {
		return nil, domain.WrapError(domain.ErrSessionLocked, "acquire session lock", fmt.Errorf("session %s is already running", sessionID))
	}
	l.held[sessionID] = struct{}{}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, sessionID)
			l.mu.Unlock()
		})
		return nil
	}, nil
}
