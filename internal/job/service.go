package job

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/maauso/videogen-lro/internal/generator"
	"github.com/maauso/videogen-lro/internal/observability"
	"github.com/maauso/videogen-lro/internal/operation"
	"github.com/maauso/videogen-lro/internal/poller"
	"github.com/maauso/videogen-lro/internal/storage"
	"github.com/maauso/videogen-lro/internal/veo"
)

// Static errors for the job service.
var (
	// ErrServiceClosed is returned when a job is created after Close.
	ErrServiceClosed = errors.New("job: service is closed")
	// ErrJobTerminal is returned when cancelling a job that already finished.
	ErrJobTerminal = errors.New("job: job already finished")
	// ErrJobActive is returned when deleting a job that has not finished.
	ErrJobActive = errors.New("job: job is still active")
	// ErrNoVideo is returned when a job has no stored video.
	ErrNoVideo = errors.New("job: job has no stored video")
	// ErrCancelledByCaller is the cancellation cause for CancelJob.
	ErrCancelledByCaller = errors.New("cancelled by caller")
)

// Generator is the part of generator.Service a job needs.
type Generator interface {
	DefaultStrategy() poller.Strategy
	Submit(ctx context.Context, req veo.Request) (operation.Handle, error)
	Await(ctx context.Context, handle operation.Handle, opts generator.Options) (operation.Result, poller.Strategy, error)
	Fetch(ctx context.Context, res operation.Result) (operation.Artifact, error)
}

var _ Generator = (*generator.Service)(nil)

// CreateInput contains the parameters for a new job.
type CreateInput struct {
	Request veo.Request
	// Strategy selects the poll strategy; empty uses the generator default.
	Strategy poller.Strategy
}

// Service creates jobs and runs them in the background: submit, poll, download
// and store. At most maxConcurrent jobs run at once; the rest wait IN_QUEUE.
type Service struct {
	repo    Repository
	gen     Generator
	store   storage.Store
	logger  *slog.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer

	maxConcurrent int
	slots         *semaphore.Weighted

	mu      sync.Mutex
	closed  bool
	running map[string]context.CancelCauseFunc
	jobs    errgroup.Group
	base    context.Context
	stop    context.CancelCauseFunc
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *observability.Metrics) ServiceOption {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(t *observability.Tracer) ServiceOption {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithMaxConcurrent limits how many jobs run at once. Values below 1 are ignored.
func WithMaxConcurrent(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.maxConcurrent = n
		}
	}
}

// NewService creates a new job Service.
func NewService(repo Repository, gen Generator, store storage.Store, opts ...ServiceOption) *Service {
	s := &Service{
		repo:          repo,
		gen:           gen,
		store:         store,
		logger:        slog.Default(),
		metrics:       observability.NewNoopMetrics(),
		tracer:        observability.NewNoopTracer(),
		maxConcurrent: 4,
		running:       make(map[string]context.CancelCauseFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.slots = semaphore.NewWeighted(int64(s.maxConcurrent))
	s.base, s.stop = context.WithCancelCause(context.Background())
	return s
}

// CreateJob persists a new IN_QUEUE job and starts running it in the background.
func (s *Service) CreateJob(ctx context.Context, input CreateInput) (*Job, error) {
	strategy := input.Strategy
	if strategy == "" {
		strategy = s.gen.DefaultStrategy()
	}

	job := New()
	job.Prompt = input.Request.Prompt
	job.NegativePrompt = input.Request.NegativePrompt
	job.AspectRatio = input.Request.AspectRatio
	job.PersonGeneration = input.Request.PersonGeneration
	job.DurationSeconds = input.Request.DurationSeconds
	job.Strategy = strategy.String()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrServiceClosed
	}

	s.logger.Info("creating new job",
		slog.String("job_id", job.ID),
		slog.String("strategy", job.Strategy),
		slog.String("aspect_ratio", job.AspectRatio),
	)

	if err := s.repo.Save(ctx, job); err != nil {
		s.logger.Error("failed to save job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	jobCtx, cancel := context.WithCancelCause(s.base)
	s.running[job.ID] = cancel
	s.jobs.Go(func() error {
		defer s.forget(job.ID)
		s.run(jobCtx, job, input.Request, strategy)
		return nil
	})

	return job.Clone(), nil
}

// GetJob retrieves a job by ID.
func (s *Service) GetJob(ctx context.Context, id string) (*Job, error) {
	return s.repo.FindByID(ctx, id)
}

// ListJobs returns every job, oldest first.
func (s *Service) ListJobs(ctx context.Context) ([]*Job, error) {
	return s.repo.List(ctx)
}

// CancelJob signals a running or queued job to stop. The job moves to
// CANCELLED once its current step returns.
func (s *Service) CancelJob(ctx context.Context, id string) (*Job, error) {
	job, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.IsTerminal() {
		return job, ErrJobTerminal
	}

	s.mu.Lock()
	cancel, ok := s.running[id]
	s.mu.Unlock()
	if ok {
		cancel(ErrCancelledByCaller)
		s.logger.Info("job cancellation requested", slog.String("job_id", id))
	}
	return job, nil
}

// DeleteJob removes a finished job and its stored video.
func (s *Service) DeleteJob(ctx context.Context, id string) error {
	job, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if !job.IsTerminal() {
		return ErrJobActive
	}
	if job.VideoKey != "" {
		if err := s.store.Delete(ctx, job.VideoKey); err != nil {
			return fmt.Errorf("delete video: %w", err)
		}
		// Keep the record consistent with storage if the removal below fails.
		job.ClearOutput()
		if err := s.repo.Save(ctx, job); err != nil {
			return fmt.Errorf("save job: %w", err)
		}
	}
	return s.repo.Delete(ctx, id)
}

// OpenVideo returns a reader for a completed job's video.
// The caller is responsible for closing the returned ReadCloser.
func (s *Service) OpenVideo(ctx context.Context, id string) (io.ReadCloser, *Job, error) {
	job, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if job.Status != StatusCompleted || job.VideoKey == "" {
		return nil, job, ErrNoVideo
	}
	rc, err := s.store.Open(ctx, job.VideoKey)
	if err != nil {
		return nil, job, err
	}
	return rc, job, nil
}

// Close stops accepting jobs, cancels the ones still running and waits for
// them to record their final state or for ctx to end.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	active := len(s.running)
	s.mu.Unlock()

	s.logger.Info("job service closing", slog.Int("active_jobs", active))
	s.stop(ErrServiceClosed)

	done := make(chan struct{})
	go func() {
		_ = s.jobs.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("job: close: %w", ctx.Err())
	}
}

func (s *Service) forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.running[id]; ok {
		cancel(nil)
		delete(s.running, id)
	}
}

// run drives one job to a terminal state.
func (s *Service) run(ctx context.Context, job *Job, req veo.Request, strategy poller.Strategy) {
	ctx, span := s.tracer.StartSpan(ctx, "videogen.job", observability.JobIDAttr(job.ID))
	defer span.End()
	logger := observability.LoggerWithTrace(ctx, s.logger).With(slog.String("job_id", job.ID))

	if err := s.slots.Acquire(ctx, 1); err != nil {
		s.finish(ctx, logger, job, err)
		return
	}
	defer s.slots.Release(1)

	if err := job.Start(); err != nil {
		logger.Warn("job could not start", slog.String("error", err.Error()))
		return
	}
	s.metrics.JobStarted(ctx)
	defer s.metrics.JobFinished(context.WithoutCancel(ctx))
	s.save(ctx, logger, job)

	handle, err := s.gen.Submit(ctx, req)
	if err != nil {
		s.finish(ctx, logger, job, err)
		return
	}
	job.SetOperation(handle.String(), strategy.String())
	s.save(ctx, logger, job)
	logger.Info("job running", slog.String("operation", handle.String()), slog.String("strategy", strategy.String()))

	res, _, err := s.gen.Await(ctx, handle, generator.Options{Strategy: strategy})
	if err != nil {
		s.finish(ctx, logger, job, err)
		return
	}
	job.SetPollResult(res.Checks, res.Advisories)
	s.save(ctx, logger, job)

	artifact, err := s.gen.Fetch(ctx, res)
	if err != nil {
		s.finish(ctx, logger, job, err)
		return
	}

	obj, err := s.store.Save(ctx, job.ID, artifact)
	if err != nil {
		s.finish(ctx, logger, job, fmt.Errorf("store video: %w", err))
		return
	}
	job.SetOutput(obj.Key, obj.Path, obj.URL, obj.ContentType, obj.Size)

	if err := job.Complete(); err != nil {
		logger.Warn("job could not complete", slog.String("error", err.Error()))
		return
	}
	s.save(ctx, logger, job)
	logger.Info("job completed",
		slog.Int("checks", res.Checks),
		slog.Int64("bytes", obj.Size),
		slog.String("video_key", obj.Key),
	)
}

// finish moves the job to the terminal state that matches err.
func (s *Service) finish(ctx context.Context, logger *slog.Logger, job *Job, err error) {
	kind := operation.KindOf(err)
	if ctx.Err() != nil && kind != operation.KindTimeout {
		kind = operation.KindCancelled
	}

	var transitionErr error
	switch kind {
	case operation.KindCancelled:
		reason := context.Cause(ctx)
		if reason == nil {
			reason = err
		}
		transitionErr = job.Cancel(reason.Error())
	case operation.KindTimeout:
		transitionErr = job.Timeout(err.Error())
	default:
		transitionErr = job.Fail(string(kind), err.Error())
	}
	if transitionErr != nil {
		logger.Warn("job state not updated",
			slog.String("status", string(job.GetStatus())),
			slog.String("error", transitionErr.Error()),
		)
		return
	}

	s.save(ctx, logger, job)
	logger.Warn("job finished without video",
		slog.String("status", string(job.GetStatus())),
		slog.String("kind", string(kind)),
		slog.String("error", err.Error()),
	)
}

func (s *Service) save(ctx context.Context, logger *slog.Logger, job *Job) {
	if err := s.repo.Save(context.WithoutCancel(ctx), job); err != nil {
		logger.Error("failed to save job", slog.String("error", err.Error()))
	}
}
