// Package bootstrap provides dependency initialization for the video generation API.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"

	"github.com/maauso/videogen-lro/internal/config"
	"github.com/maauso/videogen-lro/internal/generator"
	"github.com/maauso/videogen-lro/internal/job"
	"github.com/maauso/videogen-lro/internal/observability"
	"github.com/maauso/videogen-lro/internal/poller"
	"github.com/maauso/videogen-lro/internal/scheduler"
	"github.com/maauso/videogen-lro/internal/storage"
	"github.com/maauso/videogen-lro/internal/veo"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	Scheduler  *scheduler.Scheduler
	Generator  *generator.Service
	JobService *job.Service
	Store      storage.Store
	Telemetry  *observability.Providers

	logger *slog.Logger
}

// ServiceName tags exported telemetry.
const ServiceName = "videogen-lro"

// NewDependencies creates and initializes all dependencies for the application.
// It installs SDK meter and tracer providers as the OpenTelemetry globals.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	if logger == nil {
		logger = slog.Default()
	}

	strategy, err := cfg.Strategy()
	if err != nil {
		return nil, fmt.Errorf("parse poll strategy: %w", err)
	}

	telemetry, err := initTelemetry(cfg)
	if err != nil {
		return nil, err
	}
	otel.SetMeterProvider(telemetry.MeterProvider)
	otel.SetTracerProvider(telemetry.TracerProvider)

	metrics := observability.NewMetrics(telemetry.MeterProvider)
	tracer := observability.NewTracer(telemetry.TracerProvider)

	// Initialize storage
	store, err := initStorage(ctx, cfg, logger)
	if err != nil {
		return nil, errors.Join(err, telemetry.Shutdown(ctx))
	}

	// Initialize the video API client
	client, err := veo.NewClient(
		veo.WithAPIKey(cfg.GeminiAPIKey),
		veo.WithBaseURL(cfg.VeoBaseURL),
		veo.WithModel(cfg.VeoModel),
		veo.WithMaxRetries(cfg.VeoRetries),
	)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("create video client: %w", err), telemetry.Shutdown(ctx))
	}
	traced := veo.NewTraced(client, client.Model(), tracer, metrics, logger)

	sched := scheduler.New(cfg.SchedulerWorkers, scheduler.WithLogger(logger))

	pollers, err := poller.NewAll(sched,
		poller.WithLogger(logger),
		poller.WithMetrics(metrics),
		poller.WithTracer(tracer),
	)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("create pollers: %w", err), sched.Shutdown(ctx), telemetry.Shutdown(ctx))
	}

	gen, err := generator.NewService(traced, pollers,
		generator.WithLogger(logger),
		generator.WithDefaultStrategy(strategy),
		generator.WithPollConfig(cfg.PollConfig()),
	)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("create generator: %w", err), sched.Shutdown(ctx), telemetry.Shutdown(ctx))
	}

	svc := job.NewService(job.NewMemoryRepository(), gen, store,
		job.WithLogger(logger),
		job.WithMetrics(metrics),
		job.WithTracer(tracer),
		job.WithMaxConcurrent(cfg.MaxConcurrentJobs),
	)

	logger.Info("dependencies initialized",
		slog.String("model", client.Model()),
		slog.String("poll_strategy", strategy.String()),
		slog.Duration("poll_interval", cfg.PollInterval),
		slog.Duration("poll_max_wait", cfg.PollMaxWait),
		slog.Int("scheduler_workers", cfg.SchedulerWorkers),
		slog.Int("max_concurrent_jobs", cfg.MaxConcurrentJobs),
		slog.String("traces_exporter", cfg.TracesExporter),
	)

	return &Dependencies{
		Scheduler:  sched,
		Generator:  gen,
		JobService: svc,
		Store:      store,
		Telemetry:  telemetry,
		logger:     logger,
	}, nil
}

// Close stops the job service, then the scheduler, then flushes telemetry.
// Running jobs are cancelled; ctx bounds how long this may take.
func (d *Dependencies) Close(ctx context.Context) error {
	var errs []error
	if err := d.JobService.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close jobs: %w", err))
	}
	if err := d.Scheduler.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown scheduler: %w", err))
	}
	if err := d.Telemetry.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown telemetry: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	d.logger.Info("dependencies closed")
	return nil
}

// initTelemetry creates the SDK providers and the span exporter named by
// cfg.TracesExporter.
func initTelemetry(cfg *config.Config) (*observability.Providers, error) {
	var opts []observability.ProviderOption
	switch cfg.TracesExporter {
	case "stdout":
		exp, err := stdouttrace.New(stdouttrace.WithWriter(os.Stdout))
		if err != nil {
			return nil, fmt.Errorf("create stdout span exporter: %w", err)
		}
		opts = append(opts, observability.WithSpanExporter(exp))
	case "", "none":
	default:
		return nil, fmt.Errorf("unknown traces exporter %q", cfg.TracesExporter)
	}
	return observability.NewProviders(ServiceName, opts...), nil
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(ctx, cfg.OutputDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
			slog.String("output_dir", cfg.OutputDir),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("output_dir", localStore.Root()),
	)
	return localStore, nil
}
