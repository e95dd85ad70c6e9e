package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"github.com/kirillkom/medical-chronology/internal/core/domain"
)

const keyPrefix = "chronology:session-lock:"

// heldLock is the subset of *redislock.Lock the locker needs.
type heldLock interface {
	Refresh(ctx context.Context, ttl time.Duration, opt *redislock.Options) error
	Release(ctx context.Context) error
}

type obtainer interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (heldLock, error)
}

type redislockObtainer struct {
	client *redislock.Client
}

func (o redislockObtainer) Obtain(ctx context.Context, key string, ttl time.Duration) (heldLock, error) {
	l, err := o.client.Obtain(ctx, key, ttl, nil)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// RedisLocker keeps a session single-threaded across api and worker
// processes. Held locks are refreshed at half the TTL until released.
type RedisLocker struct {
	obtainer obtainer
	logger   *slog.Logger
}

func NewRedisLocker(client *redis.Client, logger *slog.Logger) *RedisLocker {
	return newRedisLocker(redislockObtainer{client: redislock.New(client)}, logger)
}

func newRedisLocker(o obtainer, logger *slog.Logger) *RedisLocker {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLocker{obtainer: o, logger: logger}
}

func (l *RedisLocker) Acquire(ctx context.Context, sessionID string, ttl time.Duration) (func(context.Context) error, error) {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	held, err := l.obtainer.Obtain(ctx, keyPrefix+sessionID, ttl)
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return nil, domain.WrapError(domain.ErrSessionLocked, "acquire session lock", fmt.Errorf("session %s is running elsewhere", sessionID))
		}
		return nil, domain.WrapError(domain.ErrTemporary, "acquire session lock", err)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(held, sessionID, ttl, stop, done)

	var once sync.Once
	release := func(ctx context.Context) error {
		var releaseErr error
		once.Do(func() {
			close(stop)
			<-done
			releaseErr = held.Release(ctx)
			if errors.Is(releaseErr, redislock.ErrLockNotHeld) {
				releaseErr = nil
			}
		})
		return releaseErr
	}
	return release, nil
}

func (l *RedisLocker) keepAlive(held heldLock, sessionID string, ttl time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := held.Refresh(ctx, ttl, nil)
			cancel()
			if err != nil {
				l.logger.Warn("session_lock_refresh_failed", "session_id", sessionID, "error", err)
				if errors.Is(err, redislock.ErrNotObtained) {
					return
				}
			}
		}
	}
}

// NewRedisClient connects and pings a redis server.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return client, nil
}
