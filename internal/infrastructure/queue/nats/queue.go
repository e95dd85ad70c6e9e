package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/medical-chronology/internal/core/domain"
	"github.com/kirillkom/medical-chronology/internal/infrastructure/resilience"
)

const defaultQueueGroup = "chronology-workers"

type publisher interface {
	Publish(subject string, data []byte) error
}

type Queue struct {
	conn     *nats.Conn
	pub      publisher
	subject  string
	group    string
	executor *resilience.Executor
	logger   *slog.Logger
}

func New(url, subject string) (*Queue, error) {
	return NewWithOptions(url, subject, Options{})
}

type Options struct {
	QueueGroup           string
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	Logger               *slog.Logger
}

func NewWithOptions(url, subject string, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(
		url,
		nats.Name("medical-chronology"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	q := newQueue(conn, subject, options, logger)
	q.conn = conn
	return q, nil
}

func newQueue(pub publisher, subject string, options Options, logger *slog.Logger) *Queue {
	group := options.QueueGroup
	if group == "" {
		group = defaultQueueGroup
	}
	return &Queue{
		pub:      pub,
		subject:  subject,
		group:    group,
		executor: options.ResilienceExecutor,
		logger:   logger,
	}
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) PublishSession(ctx context.Context, req domain.SessionRequest) error {
	payload, err := encodeRequest(req)
	if err != nil {
		return err
	}
	call := func(_ context.Context) error {
		return publishError(req.SessionID, q.pub.Publish(q.subject, payload))
	}

	if q.executor != nil {
		err = q.executor.Execute(ctx, "nats.publish", call, resilience.CollaboratorClassifier)
	} else {
		err = call(ctx)
	}
	return finalPublishError(req.SessionID, err)
}

func (q *Queue) SubscribeSessions(ctx context.Context, handler func(context.Context, domain.SessionRequest) error) error {
	if q.conn == nil {
		return errors.New("nats subscribe: queue is not connected")
	}
	sub, err := q.conn.QueueSubscribe(q.subject, q.group, func(msg *nats.Msg) {
		q.dispatch(ctx, msg.Data, handler)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func (q *Queue) dispatch(ctx context.Context, data []byte, handler func(context.Context, domain.SessionRequest) error) {
	if ctx.Err() != nil {
		return
	}
	req, err := decodeRequest(data)
	if err != nil {
		q.logger.Error("session_message_invalid", "error", err)
		return
	}

	handlerCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := handler(handlerCtx, req); err != nil {
		q.logger.Error("session_handler_failed", "session_id", req.SessionID, "error", err)
	}
}

func encodeRequest(req domain.SessionRequest) ([]byte, error) {
	if req.SessionID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "nats publish", errors.New("session id is required"))
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode session request: %w", err)
	}
	return payload, nil
}

func decodeRequest(data []byte) (domain.SessionRequest, error) {
	var req domain.SessionRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return domain.SessionRequest{}, fmt.Errorf("decode session request: %w", err)
	}
	if req.SessionID == "" {
		return domain.SessionRequest{}, errors.New("decode session request: missing session id")
	}
	return req, nil
}
