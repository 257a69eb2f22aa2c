// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package sweep removes uploads that were abandoned before completion.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/LeeDigitalWorks/zaptus/pkg/logger"
	"github.com/LeeDigitalWorks/zaptus/pkg/metadata"
	"github.com/LeeDigitalWorks/zaptus/pkg/tus"
	"github.com/LeeDigitalWorks/zaptus/pkg/utils"

	"golang.org/x/time/rate"
)

// Expirer deletes one upload with its bytes. tus.Handler implements it.
type Expirer interface {
	Expire(ctx context.Context, id string) error
}

// Config holds configuration for the sweep service
type Config struct {
	// ExpireAfter is the age, measured from creation, past which an
	// incomplete upload is removed
	ExpireAfter time.Duration

	// Interval between runs. 0 disables the periodic loop; RunOnce still
	// works.
	Interval time.Duration

	// BatchSize caps uploads removed per run
	BatchSize int

	// DeleteRate caps deletions per second. 0 is unlimited.
	DeleteRate float64

	// DryRun logs candidates without deleting them
	DryRun bool
}

func DefaultConfig() Config {
	return Config{
		ExpireAfter: 24 * time.Hour,
		Interval:    10 * time.Minute,
		BatchSize:   500,
		DeleteRate:  50,
	}
}

// Report contains the results of one run
type Report struct {
	Scanned  int
	Expired  int
	Skipped  int
	Failed   int
	Duration time.Duration
	Err      error
}

// Service periodically expires stale uploads
type Service struct {
	cfg     Config
	store   metadata.Store
	expirer Expirer
	limiter *rate.Limiter

	mu         sync.Mutex
	running    bool
	lastReport *Report

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func New(cfg Config, store metadata.Store, expirer Expirer) (*Service, error) {
	if store == nil || expirer == nil {
		return nil, errors.New("store and expirer are required")
	}
	if cfg.ExpireAfter <= 0 {
		return nil, fmt.Errorf("invalid expire after %s", cfg.ExpireAfter)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}

	limit := rate.Inf
	if cfg.DeleteRate > 0 {
		limit = rate.Limit(cfg.DeleteRate)
	}
	return &Service{
		cfg:     cfg,
		store:   store,
		expirer: expirer,
		limiter: rate.NewLimiter(limit, 1),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

// Start begins periodic sweeping (if interval > 0)
func (s *Service) Start(ctx context.Context) {
	if s.cfg.Interval <= 0 {
		logger.Info().Msg("Periodic upload sweep disabled (interval=0)")
		close(s.doneCh)
		return
	}
	go s.runPeriodic(ctx)
}

// Stop halts the periodic loop and waits for an in-flight run
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.doneCh
}

func (s *Service) runPeriodic(ctx context.Context) {
	defer close(s.doneCh)

	ticks, stop := utils.JitteredTicker(s.cfg.Interval, 0.1)
	defer stop()

	for {
		select {
		case <-ticks:
			s.RunOnce(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce expires up to BatchSize stale uploads. It returns nil when a run
// is already in progress.
func (s *Service) RunOnce(ctx context.Context) *Report {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		logger.Warn().Msg("Upload sweep already in progress, skipping")
		return nil
	}
	s.running = true
	s.mu.Unlock()

	start := time.Now()
	report := s.run(ctx)
	report.Duration = time.Since(start)

	s.mu.Lock()
	s.running = false
	s.lastReport = report
	s.mu.Unlock()

	observeRun(report)
	log := logger.Ctx(ctx).Info()
	if report.Err != nil {
		log = logger.Ctx(ctx).Error().Err(report.Err)
	}
	log.Int("scanned", report.Scanned).
		Int("expired", report.Expired).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Dur("duration", report.Duration).
		Bool("dry_run", s.cfg.DryRun).
		Msg("Upload sweep finished")
	return report
}

func (s *Service) run(ctx context.Context) *Report {
	report := &Report{}
	cutoff := time.Now().Add(-s.cfg.ExpireAfter)

	stale, err := s.store.ListStale(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		report.Err = fmt.Errorf("list stale uploads: %w", err)
		return report
	}
	report.Scanned = len(stale)

	for _, u := range stale {
		if s.cfg.DryRun {
			logger.Ctx(ctx).Info().
				Str("upload_id", u.ID).
				Time("created_at", u.CreatedAt).
				Int64("offset", u.Offset).
				Msg("Would expire upload")
			report.Skipped++
			continue
		}

		if err := s.limiter.Wait(ctx); err != nil {
			report.Err = err
			return report
		}

		switch err := s.expirer.Expire(ctx, u.ID); {
		case err == nil:
			report.Expired++
		case tus.IsCode(err, tus.ErrCodeNotFound):
			// Completed or terminated since the listing
			report.Skipped++
		default:
			report.Failed++
			logger.Ctx(ctx).Warn().Err(err).Str("upload_id", u.ID).Msg("failed to expire upload")
		}
	}
	return report
}

// LastReport returns the most recent run's report
func (s *Service) LastReport() *Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReport
}

// IsRunning returns true if a run is in progress
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
