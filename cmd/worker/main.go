package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/kirillkom/medical-chronology/internal/bootstrap"
	"github.com/kirillkom/medical-chronology/internal/config"
	"github.com/kirillkom/medical-chronology/internal/core/domain"
	"github.com/kirillkom/medical-chronology/internal/observability/logging"
	"github.com/kirillkom/medical-chronology/internal/observability/tracing"
)

const serviceName = "chronology-worker"

func main() {
	cfg := config.Load()
	logger := logging.New(os.Stdout, serviceName, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, serviceName, cfg.ServiceVersion, cfg.OTLPEndpoint)
	if err != nil {
		logger.Error("tracing_setup_failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{Service: "worker", Queue: true})
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           app.Metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("worker_metrics_listening", "port", cfg.WorkerMetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker_metrics_failed", "error", err)
		}
	}()

	pool := newSessionPool(cfg.WorkerConcurrency, func(runCtx context.Context, req domain.SessionRequest) {
		done := app.Metrics.StartSession()
		defer done()
		result, err := app.Sessions.Run(runCtx, req)
		if err != nil {
			logger.Warn("session_failed", "session_id", req.SessionID, "error", err)
			return
		}
		logger.Info("session_completed",
			"session_id", result.SessionID,
			"entries", result.Entries,
			"rounds", result.RoundsUsed,
		)
	})

	logger.Info("worker_subscribed", "subject", cfg.NATSSubject, "concurrency", cfg.WorkerConcurrency)
	if err := app.Queue.SubscribeSessions(ctx, pool.Submit); err != nil {
		logger.Error("worker_subscribe_failed", "error", err)
	}

	pool.Wait()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)
}

// sessionPool bounds the number of sessions running at once. Submit blocks
// until a slot frees up so the subscription applies backpressure.
type sessionPool struct {
	slots chan struct{}
	wg    sync.WaitGroup
	run   func(context.Context, domain.SessionRequest)
}

func newSessionPool(concurrency int, run func(context.Context, domain.SessionRequest)) *sessionPool {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &sessionPool{slots: make(chan struct{}, concurrency), run: run}
}

func (p *sessionPool) Submit(ctx context.Context, req domain.SessionRequest) error {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	p.wg.Add(1)
	go func() {
		defer func() {
			<-p.slots
			p.wg.Done()
		}()
		p.run(ctx, req)
	}()
	return nil
}

func (p *sessionPool) Wait() {
	p.wg.Wait()
}
