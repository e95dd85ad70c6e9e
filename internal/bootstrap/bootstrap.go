package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/kirillkom/medical-chronology/internal/config"
	"github.com/kirillkom/medical-chronology/internal/core/consolidation"
	"github.com/kirillkom/medical-chronology/internal/core/contract"
	"github.com/kirillkom/medical-chronology/internal/core/ports"
	"github.com/kirillkom/medical-chronology/internal/core/usecase"
	"github.com/kirillkom/medical-chronology/internal/infrastructure/export/xlsx"
	"github.com/kirillkom/medical-chronology/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/medical-chronology/internal/infrastructure/lock"
	"github.com/kirillkom/medical-chronology/internal/infrastructure/queue/nats"
	"github.com/kirillkom/medical-chronology/internal/infrastructure/ratelimit"
	"github.com/kirillkom/medical-chronology/internal/infrastructure/recognizer"
	"github.com/kirillkom/medical-chronology/internal/infrastructure/recognizer/pdftext"
	"github.com/kirillkom/medical-chronology/internal/infrastructure/recognizer/plaintext"
	"github.com/kirillkom/medical-chronology/internal/infrastructure/recognizer/vision"
	"github.com/kirillkom/medical-chronology/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/medical-chronology/internal/infrastructure/resilience"
	"github.com/kirillkom/medical-chronology/internal/infrastructure/schema"
	"github.com/kirillkom/medical-chronology/internal/infrastructure/storage/gcs"
	"github.com/kirillkom/medical-chronology/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/medical-chronology/internal/observability/metrics"
)

// Options selects which outer collaborators New connects.
type Options struct {
	Service string
	// Queue connects NATS; cmd/run works without it.
	Queue bool

	// DocumentsRoot overrides cfg.DocumentsRoot.
	DocumentsRoot string
}

type App struct {
	Config config.Config

	Queue      *nats.Queue
	States     ports.PhaseStateStore
	Sessions   *usecase.SessionUseCase
	Submitter  *usecase.SubmitSessionUseCase
	Narratives *usecase.NarrativeValidationUseCase
	Engine     *consolidation.Engine
	Metrics    *metrics.SessionMetrics
	RuleConfig contract.Config
	Limiter    *ratelimit.FIFOLimiter

	closeFns []func()
}

func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	if opts.Service == "" {
		opts.Service = "chronology"
	}
	app := &App{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	rules, err := config.LoadContractRules(cfg.ContractRulesPath, ruleDefaults(cfg))
	if err != nil {
		return nil, fmt.Errorf("load contract rules: %w", err)
	}
	app.RuleConfig = rules

	storage, err := localfs.New(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("init artifact storage: %w", err)
	}

	states, err := app.stateStore(ctx, cfg, storage)
	if err != nil {
		return nil, err
	}
	app.States = states

	app.Metrics = metrics.NewSessionMetrics(opts.Service)
	retryHook := func(operation string, attempt int, err error) {
		slog.Warn("retry_attempt", "operation", operation, "attempt", attempt, "error", err)
	}
	adapterExec := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    2,
		RetryInitialBackoff: cfg.RetryInitialBackoff,
		RetryMaxBackoff:     cfg.RetryMaxBackoff,
		BreakerEnabled:      true,
	}).WithRetryHook(retryHook)
	phaseExec := resilience.NewExecutor(resilience.PhaseConfig(
		cfg.RetryMaxAttempts, cfg.RetryInitialBackoff, cfg.RetryMaxBackoff,
	)).WithRetryHook(retryHook)

	recordSchema, err := schema.NewRecordValidator()
	if err != nil {
		return nil, fmt.Errorf("compile record schema: %w", err)
	}
	generator := ollama.NewGenerator(ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, adapterExec), recordSchema)

	app.Limiter = ratelimit.NewFIFOLimiter(ratelimit.Config{
		MaxConcurrent: cfg.GenMaxConcurrent,
		PerMinute:     cfg.GenPerMinute,
		Burst:         cfg.GenBurst,
	})

	validator := contract.NewValidator(rules)
	app.Engine = consolidation.NewEngine(consolidation.Config{MaxLapse: rules.TherapyMaxLapse})
	refiner := usecase.NewRefineUseCase(generator, app.Limiter, validator, app.Engine, cfg.MaxRounds, cfg.CallTimeout)
	app.Narratives = usecase.NewNarrativeValidationUseCase(validator)

	uploader, err := app.uploader(ctx, cfg, adapterExec)
	if err != nil {
		return nil, err
	}
	locker, err := app.locker(ctx, cfg)
	if err != nil {
		return nil, err
	}

	root := cfg.DocumentsRoot
	if opts.DocumentsRoot != "" {
		root = opts.DocumentsRoot
	}

	sessionCfg := usecase.DefaultSessionConfig()
	sessionCfg.CallTimeout = cfg.CallTimeout
	sessionCfg.MaxRounds = cfg.MaxRounds
	sessionCfg.GapThreshold = cfg.GapThreshold
	sessionCfg.Destination = cfg.UploadDestination
	sessionCfg.LockTTL = cfg.LockTTL

	app.Sessions = usecase.NewSessionUseCase(usecase.SessionDeps{
		Documents:   localfs.NewDocumentStore(root, cfg.DocumentExtensions),
		Recognizer:  buildRecognizer(cfg, adapterExec),
		Generator:   generator,
		Limiter:     app.Limiter,
		Uploader:    uploader,
		Artifacts:   storage,
		States:      states,
		Retrier:     phaseExec,
		Locker:      locker,
		Observer:    app.Metrics,
		Spreadsheet: xlsx.NewWriter(),
		Refiner:     refiner,
	}, sessionCfg)

	if opts.Queue {
		queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
			QueueGroup:         cfg.NATSQueueGroup,
			ResilienceExecutor: adapterExec,
		})
		if err != nil {
			return nil, fmt.Errorf("init message queue: %w", err)
		}
		app.Queue = queue
		app.onClose(queue.Close)
		app.Submitter = usecase.NewSubmitSessionUseCase(states, queue)
	}

	ok = true
	return app, nil
}

func ruleDefaults(cfg config.Config) contract.Config {
	rules := contract.DefaultConfig()
	rules.TherapyMaxLapse = cfg.TherapyMaxLapse
	return rules
}

func (a *App) stateStore(ctx context.Context, cfg config.Config, storage *localfs.Storage) (ports.PhaseStateStore, error) {
	if cfg.PostgresDSN == "" {
		return localfs.NewStateStore(storage), nil
	}
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	a.onClose(func() { closeDB(db) })
	repo := postgres.NewPhaseStateRepository(db)
	if cfg.PostgresEnsureSchema {
		if err := repo.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
	}
	return repo, nil
}

func (a *App) uploader(ctx context.Context, cfg config.Config, exec *resilience.Executor) (ports.RemoteUploader, error) {
	if cfg.UploadDestination == "" && cfg.GCSCredentialsFile == "" {
		return nil, nil
	}
	uploader, err := gcs.New(ctx, cfg.GCSCredentialsFile, exec)
	if err != nil {
		return nil, fmt.Errorf("init gcs uploader: %w", err)
	}
	a.onClose(func() { _ = uploader.Close() })
	return uploader, nil
}

func (a *App) locker(ctx context.Context, cfg config.Config) (ports.SessionLocker, error) {
	if cfg.RedisAddr == "" {
		return lock.NewMemoryLocker(), nil
	}
	client, err := lock.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, err
	}
	a.onClose(func() { _ = client.Close() })
	return lock.NewRedisLocker(client, slog.Default()), nil
}

func buildRecognizer(cfg config.Config, exec *resilience.Executor) ports.TextRecognizer {
	pdf := recognizer.Chain{pdftext.NewRecognizer()}
	if cfg.VisionURL != "" {
		pdf = append(pdf, vision.New(cfg.VisionURL, cfg.VisionAPIKey, cfg.VisionBatchPages, exec))
	}
	text := plaintext.NewRecognizer()
	return recognizer.NewRouter().
		Handle("application/pdf", pdf).
		Handle("text/plain", text).
		Handle("text/markdown", text)
}

func closeDB(db *sql.DB) {
	_ = db.Close()
}

func (a *App) onClose(fn func()) {
	a.closeFns = append(a.closeFns, fn)
}

func (a *App) Close() {
	for i := len(a.closeFns) - 1; i >= 0; i-- {
		a.closeFns[i]()
	}
	a.closeFns = nil
}
