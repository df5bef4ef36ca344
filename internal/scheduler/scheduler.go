// Package scheduler sweeps ended events and finalizes them.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xaenox/circle-bot/internal/models"
	"github.com/xaenox/circle-bot/internal/storage"
)

// ErrAlreadyFinalized is returned by FinalizeNow for a closed event.
var ErrAlreadyFinalized = errors.New("event already finalized")

// ErrAlreadyRunning is returned by Start on a running scheduler.
var ErrAlreadyRunning = errors.New("scheduler already running")

// Finalizer turns an event's responses into group channels.
type Finalizer interface {
	FinalizeEvent(ctx context.Context, eventID int64) *models.FinalizeSummary
}

type Config struct {
	CheckInterval time.Duration
	StartupDelay  time.Duration
	// MinResponses is the response count below which an event is closed
	// without classification.
	MinResponses int
}

func DefaultConfig() Config {
	return Config{
		CheckInterval: 5 * time.Minute,
		StartupDelay:  10 * time.Second,
		MinResponses:  2,
	}
}

// RunResult reports what one sweep did.
type RunResult struct {
	Skipped   bool
	Finalized []int64
	Summaries []*models.FinalizeSummary
	Errors    []error
}

// Scheduler owns the periodic sweep. Sweeps never overlap: a tick that fires
// while one is running is dropped.
type Scheduler struct {
	events    storage.EventStore
	responses storage.ResponseStore
	finalizer Finalizer
	config    Config
	logger    *zap.Logger

	runMu sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(events storage.EventStore, responses storage.ResponseStore, finalizer Finalizer, config Config, logger *zap.Logger) *Scheduler {
	defaults := DefaultConfig()
	if config.CheckInterval <= 0 {
		config.CheckInterval = defaults.CheckInterval
	}
	if config.StartupDelay < 0 {
		config.StartupDelay = defaults.StartupDelay
	}
	if config.MinResponses <= 0 {
		config.MinResponses = defaults.MinResponses
	}
	return &Scheduler{
		events:    events,
		responses: responses,
		finalizer: finalizer,
		config:    config,
		logger:    logger,
	}
}

// Start launches the background loop: one sweep after StartupDelay, then one
// every CheckInterval until ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)

	s.logger.Info("Scheduler started",
		zap.Duration("check_interval", s.config.CheckInterval),
		zap.Duration("startup_delay", s.config.StartupDelay))
	return nil
}

// Stop cancels the loop and waits for an in-flight sweep to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	startup := time.NewTimer(s.config.StartupDelay)
	defer startup.Stop()
	ticker := time.NewTicker(s.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-startup.C:
			s.tick(ctx)
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	result := s.RunOnce(ctx)
	if result.Skipped {
		return
	}
	if len(result.Finalized) > 0 || len(result.Errors) > 0 {
		s.logger.Info("Sweep finished",
			zap.Int64s("finalized", result.Finalized),
			zap.Int("errors", len(result.Errors)))
	}
}

// RunOnce performs one sweep unless another is in progress, in which case it
// returns a result with Skipped set.
func (s *Scheduler) RunOnce(ctx context.Context) *RunResult {
	if !s.runMu.TryLock() {
		s.logger.Warn("Previous sweep still running, skipping")
		return &RunResult{Skipped: true}
	}
	defer s.runMu.Unlock()

	result := &RunResult{}
	logger := s.logger.With(zap.String("run_id", uuid.NewString()))

	events, err := s.events.GetUnfinalizedEndedEvents(ctx)
	if err != nil {
		logger.Error("Failed to list ended events", zap.Error(err))
		result.Errors = append(result.Errors, err)
		return result
	}
	if len(events) > 0 {
		logger.Info("Found ended events", zap.Int("count", len(events)))
	}

	for _, e := range events {
		summary, err := s.finalizeContained(ctx, e.ID, logger)
		if err != nil {
			result.Errors = append(result.Errors, err)
			continue
		}
		result.Finalized = append(result.Finalized, e.ID)
		if summary != nil {
			result.Summaries = append(result.Summaries, summary)
		}
	}
	return result
}

// FinalizeNow finalizes one event immediately, waiting for any running sweep
// to finish first.
func (s *Scheduler) FinalizeNow(ctx context.Context, eventID int64) (*models.FinalizeSummary, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	e, err := s.events.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if e.IsFinalized {
		return nil, ErrAlreadyFinalized
	}

	logger := s.logger.With(zap.String("run_id", uuid.NewString()), zap.Bool("manual", true))
	summary, err := s.finalizeContained(ctx, eventID, logger)
	if err != nil {
		return nil, err
	}
	if summary == nil {
		summary = &models.FinalizeSummary{
			EventID:         eventID,
			ChannelsCreated: []string{},
			Errors:          []string{fmt.Sprintf("fewer than %d responses; closed without grouping", s.config.MinResponses)},
		}
	}
	return summary, nil
}

// finalizeContained finalizes one event and marks it finalized whatever the
// outcome, so an event is attempted at most once. Panics become errors and
// the remaining events of a sweep still run. The summary is nil when the
// event was closed without classification.
func (s *Scheduler) finalizeContained(ctx context.Context, eventID int64, logger *zap.Logger) (summary *models.FinalizeSummary, err error) {
	logger = logger.With(zap.Int64("event_id", eventID))
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic while finalizing event", zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("finalize event %d: panic: %v", eventID, r)
		}
	}()

	responses, err := s.responses.GetResponsesWithUsers(ctx, eventID)
	if err != nil {
		logger.Error("Failed to load responses", zap.Error(err))
		return nil, fmt.Errorf("finalize event %d: %w", eventID, err)
	}

	var finalizeErr error
	if len(responses) < s.config.MinResponses {
		logger.Info("Too few responses, closing without grouping", zap.Int("responses", len(responses)))
	} else {
		summary, finalizeErr = s.runFinalizer(ctx, eventID)
		if finalizeErr != nil {
			logger.Error("Finalizer failed", zap.Error(finalizeErr))
		}
	}

	if err := s.events.MarkFinalized(ctx, eventID); err != nil {
		logger.Error("Failed to mark event finalized", zap.Error(err))
		return summary, fmt.Errorf("mark event %d finalized: %w", eventID, err)
	}
	logger.Info("Event marked finalized")
	return summary, finalizeErr
}

func (s *Scheduler) runFinalizer(ctx context.Context, eventID int64) (summary *models.FinalizeSummary, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("finalize event %d: panic: %v", eventID, r)
		}
	}()
	return s.finalizer.FinalizeEvent(ctx, eventID), nil
}
