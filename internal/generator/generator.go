// Package generator runs the submit, poll and fetch workflow for one video
// generation request.
package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maauso/videogen-lro/internal/operation"
	"github.com/maauso/videogen-lro/internal/poller"
	"github.com/maauso/videogen-lro/internal/veo"
)

// Static errors for the generator service.
var (
	// ErrClientRequired is returned when no API client is given.
	ErrClientRequired = errors.New("generator: client is required")
	// ErrNoPollers is returned when no pollers are given.
	ErrNoPollers = errors.New("generator: at least one poller is required")
	// ErrStrategyUnavailable is returned when no poller is registered for a strategy.
	ErrStrategyUnavailable = errors.New("generator: strategy unavailable")
)

// Options overrides the service defaults for one call. Zero values keep the defaults.
type Options struct {
	Strategy poller.Strategy
	Interval time.Duration
	MaxWait  time.Duration
}

// Output is the outcome of a completed generation.
type Output struct {
	Result   operation.Result
	Artifact operation.Artifact
	Strategy poller.Strategy
}

// Service submits jobs, waits for them with the selected poller and downloads the result.
type Service struct {
	client          veo.Client
	pollers         map[poller.Strategy]poller.Poller
	defaultStrategy poller.Strategy
	pollConfig      poller.Config
	logger          *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithDefaultStrategy sets the strategy used when a call does not name one.
func WithDefaultStrategy(strategy poller.Strategy) Option {
	return func(s *Service) {
		s.defaultStrategy = strategy
	}
}

// WithPollConfig sets the default poll interval and deadline.
func WithPollConfig(cfg poller.Config) Option {
	return func(s *Service) {
		s.pollConfig = cfg
	}
}

// NewService creates a generator service.
func NewService(client veo.Client, pollers map[poller.Strategy]poller.Poller, opts ...Option) (*Service, error) {
	if client == nil {
		return nil, ErrClientRequired
	}
	if len(pollers) == 0 {
		return nil, ErrNoPollers
	}

	s := &Service{
		client:          client,
		pollers:         pollers,
		defaultStrategy: poller.StrategyReschedule,
		pollConfig:      poller.Config{Interval: 10 * time.Second, MaxWait: 10 * time.Minute},
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if _, ok := s.pollers[s.defaultStrategy]; !ok {
		return nil, fmt.Errorf("%w: default %q", ErrStrategyUnavailable, s.defaultStrategy)
	}
	if err := s.pollConfig.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// DefaultStrategy returns the strategy used when a call does not name one.
func (s *Service) DefaultStrategy() poller.Strategy {
	return s.defaultStrategy
}

// Submit starts a generation job.
func (s *Service) Submit(ctx context.Context, req veo.Request) (operation.Handle, error) {
	handle, err := s.client.Submit(ctx, req)
	if err != nil {
		return "", fmt.Errorf("generator: submit: %w", err)
	}
	s.logger.Info("operation submitted", slog.String("operation", handle.String()))
	return handle, nil
}

// Await polls handle until it reaches a terminal status.
func (s *Service) Await(ctx context.Context, handle operation.Handle, opts Options) (operation.Result, poller.Strategy, error) {
	strategy := opts.Strategy
	if strategy == "" {
		strategy = s.defaultStrategy
	}
	p, ok := s.pollers[strategy]
	if !ok {
		return operation.Result{}, strategy, fmt.Errorf("%w: %q", ErrStrategyUnavailable, strategy)
	}

	cfg := s.pollConfig
	if opts.Interval > 0 {
		cfg.Interval = opts.Interval
	}
	if opts.MaxWait > 0 {
		cfg.MaxWait = opts.MaxWait
	}

	res, err := p.Poll(ctx, handle, s.client.CheckStatus, cfg)
	if err != nil {
		return operation.Result{}, strategy, fmt.Errorf("generator: poll: %w", err)
	}
	return res, strategy, nil
}

// Fetch downloads the artifact for a successful result.
func (s *Service) Fetch(ctx context.Context, res operation.Result) (operation.Artifact, error) {
	artifact, err := s.client.Download(ctx, res)
	if err != nil {
		return operation.Artifact{}, fmt.Errorf("generator: download: %w", err)
	}
	return artifact, nil
}

// Generate runs the whole workflow for req.
func (s *Service) Generate(ctx context.Context, req veo.Request, opts Options) (Output, error) {
	handle, err := s.Submit(ctx, req)
	if err != nil {
		return Output{}, err
	}

	res, strategy, err := s.Await(ctx, handle, opts)
	if err != nil {
		return Output{Strategy: strategy}, err
	}

	artifact, err := s.Fetch(ctx, res)
	if err != nil {
		return Output{Result: res, Strategy: strategy}, err
	}

	s.logger.Info("generation completed",
		slog.String("operation", handle.String()),
		slog.String("strategy", strategy.String()),
		slog.Int("checks", res.Checks),
		slog.Duration("elapsed", res.Elapsed),
		slog.Int("bytes", len(artifact.Data)),
	)
	return Output{Result: res, Artifact: artifact, Strategy: strategy}, nil
}
