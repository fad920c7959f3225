package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/vietddude/postforge/internal/core/config"
	"github.com/vietddude/postforge/internal/core/worker"
	"github.com/vietddude/postforge/internal/health"
	"github.com/vietddude/postforge/internal/infra/eventlog"
	"github.com/vietddude/postforge/internal/infra/objectstore"
	redisclient "github.com/vietddude/postforge/internal/infra/redis"
	"github.com/vietddude/postforge/internal/infra/storage"
	"github.com/vietddude/postforge/internal/pipeline"
)

// Options carry the process-level collaborators of an App.
type Options struct {
	// In and Out back the interactive fallback prompt.
	In  io.Reader
	Out io.Writer
}

// App owns the pipeline and the infrastructure it runs on.
type App struct {
	cfg          *config.AppConfig
	orch         *pipeline.Orchestrator
	topics       storage.TopicRepository
	events       *eventlog.Log
	redisClient  *redisclient.Client
	healthServer *health.Server
	pruner       *worker.Pruner
	log          *slog.Logger
}

// NewApp creates an App with all dependencies initialized. Optional
// infrastructure that cannot be reached is logged and skipped.
func NewApp(ctx context.Context, cfg *config.AppConfig, opts Options) (*App, error) {
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stderr
	}
	log := slog.Default().With("component", "App")

	// 1. Topic storage
	topics, err := OpenTopics(ctx, cfg.Topics)
	if err != nil {
		return nil, err
	}

	app := &App{
		cfg:    cfg,
		topics: topics,
		pruner: worker.NewPruner(cfg.Pipeline.OutputDir, cfg.Pipeline.Retention),
		log:    log,
	}
	deps := pipeline.Deps{Topics: topics, Logger: slog.Default()}

	// 2. Redis event mirror and failed-run index
	var sinks []eventlog.Sink
	if cfg.Redis.Enabled() {
		client, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			log.Warn("Failed to connect to Redis, event mirroring disabled", "error", err)
		} else {
			app.redisClient = client
			sinks = append(sinks, client)
			failedRuns := redisclient.NewFailedRunRepo(client)
			deps.FailedRuns = failedRuns
			app.pruner.SetIndex(failedRuns)
			log.Info("Mirroring events to Redis")
		}
	}

	// 3. Event log
	events, err := eventlog.Open(cfg.Pipeline.EventLog, sinks...)
	if err != nil {
		app.close()
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	app.events = events
	deps.Events = events

	// 4. Artifact mirror
	if cfg.ObjectStore.Enabled() {
		mirror, err := objectstore.NewMirror(ctx, cfg.ObjectStore)
		if err != nil {
			log.Warn("Failed to connect to object store, artifact mirroring disabled", "error", err)
		} else {
			deps.Mirror = mirror
			log.Info("Mirroring artifacts to object store", "bucket", cfg.ObjectStore.Bucket)
		}
	}

	// 5. Generation and fallback approval
	gen, err := NewGenerator(ctx, cfg)
	if err != nil {
		app.close()
		return nil, err
	}
	deps.Generator = gen

	prompter, err := NewPrompter(cfg.Fallback.Mode, opts.In, opts.Out)
	if err != nil {
		app.close()
		return nil, err
	}
	deps.Prompter = prompter

	// 6. Pipeline
	orch, err := pipeline.New(pipeline.ConfigFrom(cfg), deps)
	if err != nil {
		app.close()
		return nil, err
	}
	app.orch = orch

	// 7. Health and metrics
	if cfg.Metrics.Port > 0 {
		app.healthServer = health.NewServer(health.NewMonitor(orch), cfg.Metrics.Port)
	}
	return app, nil
}

// Start starts the background servers and the run pruner.
func (a *App) Start(ctx context.Context) error {
	go a.pruner.Start(ctx)
	if a.healthServer != nil {
		a.healthServer.Start()
		a.log.Info("Health server started", "port", a.cfg.Metrics.Port)
	}
	return nil
}

// Run executes one pipeline run.
func (a *App) Run(ctx context.Context) *pipeline.Report {
	return a.orch.Run(ctx)
}

// Stop shuts down the servers and releases connections.
func (a *App) Stop(ctx context.Context) error {
	a.log.Debug("Stopping app")
	var errs []error
	if a.healthServer != nil {
		if err := a.healthServer.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop health server: %w", err))
		}
	}
	if err := a.close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) close() error {
	var errs []error
	if a.topics != nil {
		if err := a.topics.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close topics: %w", err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.log.Warn("Failed to close Redis", "error", err)
		}
	}
	return errors.Join(errs...)
}
