// Package app assembles the packet parser from configuration. Both binaries build on it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/packet-parser/internal/artifacts"
	"github.com/joseph-ayodele/packet-parser/internal/async"
	"github.com/joseph-ayodele/packet-parser/internal/classify"
	"github.com/joseph-ayodele/packet-parser/internal/common"
	"github.com/joseph-ayodele/packet-parser/internal/events"
	"github.com/joseph-ayodele/packet-parser/internal/export"
	"github.com/joseph-ayodele/packet-parser/internal/extract"
	"github.com/joseph-ayodele/packet-parser/internal/kvstore"
	"github.com/joseph-ayodele/packet-parser/internal/lifecycle"
	"github.com/joseph-ayodele/packet-parser/internal/llm"
	"github.com/joseph-ayodele/packet-parser/internal/llm/openai"
	"github.com/joseph-ayodele/packet-parser/internal/llm/vertex"
	"github.com/joseph-ayodele/packet-parser/internal/progress"
	"github.com/joseph-ayodele/packet-parser/internal/render"
	"github.com/joseph-ayodele/packet-parser/internal/repository"
	"github.com/joseph-ayodele/packet-parser/internal/retry"
	"github.com/joseph-ayodele/packet-parser/internal/server"
)

// App holds the wired components and what must be released on shutdown.
type App struct {
	Config     *common.Config
	DB         *repository.DB
	Manager    *lifecycle.Manager
	Exporter   *export.Service
	Renderer   render.Renderer
	Classifier *classify.Classifier
	KV         kvstore.Store
	Sweepers   []lifecycle.Sweeper

	closers []func(ctx context.Context) error
	logger  *slog.Logger
}

// Options tweak Build for embedded use.
type Options struct {
	// Vision replaces the configured provider.
	Vision llm.VisionProvider
	// Synchronous leaves the manager without a scheduler; callers drive Run themselves.
	Synchronous bool
}

// Build connects storage, the vision provider and the pipeline stages.
func Build(ctx context.Context, cfg *common.Config, opts Options, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close(context.Background())
		}
	}()

	db, err := server.ConnectDB(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	a.DB = db
	a.closers = append(a.closers, func(context.Context) error { db.Close(logger); return nil })

	kv, err := a.kvStore(ctx)
	if err != nil {
		return nil, err
	}
	a.KV = kv
	store, err := a.artifactStore(ctx)
	if err != nil {
		return nil, err
	}
	provider := opts.Vision
	if provider == nil {
		if provider, err = a.visionProvider(ctx); err != nil {
			return nil, err
		}
	}

	pc := cfg.Pipeline
	policy := retry.Policy{Attempts: pc.RetryAttempts, Initial: pc.RetryInitialBackoff, Max: pc.RetryMaxBackoff, Multiplier: 2}
	a.Renderer = render.NewPDFRenderer(render.Config{
		Binary:      cfg.Render.PdftoppmPath,
		Parallelism: cfg.Render.Parallelism,
		Timeout:     cfg.Render.Timeout,
	}, nil, logger)

	a.Classifier = classify.New(provider, classify.Config{BatchSize: pc.ClassifyBatchSize, Parallelism: pc.ClassifyParallelism, Retry: policy}, logger)
	repo := repository.NewParseRepository(db, logger)
	a.Manager = lifecycle.NewManager(lifecycle.Deps{
		Repo:       repo,
		Artifacts:  store,
		Renderer:   a.Renderer,
		Classifier: a.Classifier,
		Extractor:  extract.New(provider, extract.Config{Parallelism: pc.ExtractParallelism, Retry: policy}, logger),
		Cache:      classify.NewCache(kv, pc.ClassificationTTL),
		Progress:   progress.NewTracker(kv, pc.ProgressTTL, logger),
		Events:     a.publisher(),
	}, lifecycle.Config{
		LowDPI:           cfg.Render.LowDPI,
		HighDPI:          cfg.Render.HighDPI,
		RunTimeout:       pc.RunTimeout,
		RenderRetry:      policy,
		PreviewRetention: pc.PreviewRetention,
	}, logger)
	a.Exporter = export.NewService(repo, logger)

	if !opts.Synchronous {
		queue := async.NewWorkerQueue(a.Manager, logger,
			async.WithWorkers(pc.Workers),
			async.WithQueueSize(pc.QueueSize),
			async.WithRunTimeout(pc.RunTimeout),
		)
		a.Manager.SetScheduler(queue)
		// the queue drains before storage goes away
		a.closers = append(a.closers, func(ctx context.Context) error { queue.Shutdown(ctx); return nil })
	}
	ok = true
	return a, nil
}

// Health pings the database.
func (a *App) Health(ctx context.Context) error {
	return server.PingDB(ctx, a.DB, a.logger, 2*time.Second)
}

// Close releases components in reverse order of construction.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) kvStore(ctx context.Context) (kvstore.Store, error) {
	switch a.Config.KV.Backend {
	case "", "memory":
		s := kvstore.NewMemoryStore(kvstore.WithSweepInterval(a.Config.KV.SweepInterval))
		a.closers = append(a.closers, func(context.Context) error { s.Close(); return nil })
		return s, nil
	case "sql":
		s := kvstore.NewSQLStore(a.DB.SQL, a.DB.Dialect, a.logger)
		if err := s.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		a.Sweepers = append(a.Sweepers, s)
		return s, nil
	default:
		return nil, fmt.Errorf("unknown kv backend %q", a.Config.KV.Backend)
	}
}

func (a *App) artifactStore(ctx context.Context) (artifacts.Store, error) {
	sc := a.Config.Storage
	switch sc.Backend {
	case "", "memory":
		return artifacts.NewMemoryStore(), nil
	case "minio":
		s, err := artifacts.NewMinioStore(artifacts.MinioConfig{
			Endpoint:  sc.Minio.Endpoint,
			AccessKey: sc.Minio.AccessKey,
			SecretKey: sc.Minio.SecretKey,
			Bucket:    sc.Minio.Bucket,
			UseSSL:    sc.Minio.UseSSL,
		}, a.logger)
		if err != nil {
			return nil, err
		}
		if err := s.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return s, nil
	case "gcs":
		s, err := artifacts.NewGCSStore(ctx, sc.GCS.Bucket, sc.GCS.CredentialsFile, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return s.Close() })
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", sc.Backend)
	}
}

func (a *App) visionProvider(ctx context.Context) (llm.VisionProvider, error) {
	vc := a.Config.Vision
	switch vc.Provider {
	case "", "openai":
		return openai.NewClient(openai.Config{
			APIKey:      vc.OpenAI.APIKey,
			BaseURL:     vc.OpenAI.BaseURL,
			Model:       vc.OpenAI.Model,
			Temperature: vc.OpenAI.Temperature,
			Timeout:     vc.OpenAI.Timeout,
		}, a.logger), nil
	case "vertex":
		p, err := vertex.NewProvider(ctx, vertex.Config{
			Project:         vc.Vertex.Project,
			Region:          vc.Vertex.Region,
			Model:           vc.Vertex.Model,
			CredentialsFile: vc.Vertex.CredentialsFile,
		}, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return p.Close() })
		return p, nil
	default:
		return nil, fmt.Errorf("unknown vision provider %q", vc.Provider)
	}
}

func (a *App) publisher() events.Publisher {
	ec := a.Config.Events
	if ec.TargetURL == "" {
		return nil
	}
	notifier, err := events.NewCloudEventsNotifier(ec.TargetURL, ec.Source, a.logger)
	if err != nil {
		a.logger.Warn("event delivery disabled", "error", err)
		return nil
	}
	policy := retry.DefaultPolicy
	if ec.RetryAttempts > 0 {
		policy.Attempts = ec.RetryAttempts
	}
	em := events.NewEmitter(notifier, ec.BufferSize, policy, a.logger)
	a.closers = append(a.closers, em.Close)
	return em
}
