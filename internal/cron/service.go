package cron

import (
	"context"
	"errors"
	"time"

	"marketplace-settlement/internal/core/ports"
	"marketplace-settlement/pkg/metrics"

	"github.com/rs/zerolog"
)

const (
	defaultInterval = time.Minute
	lockKeyPrefix   = "cron:"
)

// ServiceParams configure the cron service.
type ServiceParams struct {
	Registry *Registry
	Lock     ports.DistributedLock
	Metrics  *metrics.CronJobMetrics
	Interval time.Duration
	// LockTTL bounds how long a crashed replica can block a job. It should
	// be shorter than Interval.
	LockTTL time.Duration
	Log     zerolog.Logger
}

// Service runs every registered job on a fixed cadence. Each job takes its
// own distributed lock, so with several replicas a job runs on one of them
// per cycle while the others skip it.
type Service struct {
	registry *Registry
	lock     ports.DistributedLock
	metrics  *metrics.CronJobMetrics
	interval time.Duration
	lockTTL  time.Duration
	log      zerolog.Logger
}

// NewService builds a cron service.
func NewService(p ServiceParams) (*Service, error) {
	if p.Lock == nil {
		return nil, errors.New("cron: lock required")
	}
	registry := p.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	interval := p.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	lockTTL := p.LockTTL
	if lockTTL <= 0 || lockTTL > interval {
		lockTTL = interval
	}
	return &Service{
		registry: registry,
		lock:     p.Lock,
		metrics:  p.Metrics,
		interval: interval,
		lockTTL:  lockTTL,
		log:      p.Log,
	}, nil
}

// Run executes a cycle immediately and then on every tick until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	s.log.Info().
		Dur("interval", s.interval).
		Int("jobs", len(s.registry.Jobs())).
		Msg("cron service started")

	s.RunCycle(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("cron service stopped")
			return ctx.Err()
		case <-ticker.C:
			s.RunCycle(ctx)
		}
	}
}

// RunCycle runs every job once. A failing job does not stop the others.
func (s *Service) RunCycle(ctx context.Context) {
	for _, job := range s.registry.Jobs() {
		if ctx.Err() != nil {
			return
		}
		s.runJob(ctx, job)
	}
}

func (s *Service) runJob(ctx context.Context, job Job) {
	name := job.Name()
	log := s.log.With().Str("job", name).Logger()

	token, ok, err := s.lock.Acquire(ctx, lockKeyPrefix+name, s.lockTTL)
	if err != nil {
		log.Error().Err(err).Msg("cron lock acquire failed")
		s.metrics.IncFailure(name)
		return
	}
	if !ok {
		log.Debug().Msg("job held by another replica, skipping")
		s.metrics.IncSkipped(name)
		return
	}
	defer func() {
		// Release even when ctx was cancelled mid-run.
		if err := s.lock.Release(context.WithoutCancel(ctx), lockKeyPrefix+name, token); err != nil {
			log.Warn().Err(err).Msg("failed to release cron lock")
		}
	}()

	start := time.Now()
	err = job.Run(ctx)
	elapsed := time.Since(start)
	s.metrics.ObserveDuration(name, elapsed)

	if err != nil {
		log.Error().Err(err).Dur("duration", elapsed).Msg("job failed")
		s.metrics.IncFailure(name)
		return
	}
	log.Debug().Dur("duration", elapsed).Msg("job completed")
	s.metrics.IncSuccess(name)
}
