// Package scheduler implements the bounded, chunked crawl loop:
// skip-on-marker, a fixed concurrency ceiling within each chunk, a
// snapshot barrier between chunks, and per-unit failure isolation.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/miscite/citecrawl/internal/crawl"
	"github.com/miscite/citecrawl/internal/metrics"
)

// Config controls Scheduler behavior.
type Config struct {
	// Stage names the pipeline stage for logs and metrics.
	Stage string
	// ChunkSize is the number of units resolved between snapshots.
	ChunkSize int
	// Concurrency caps in-flight units within a chunk.
	Concurrency int
	// MaxAttempts bounds the refresh-and-retry loop after an auth
	// rejection. Other errors fail the unit on the first attempt.
	MaxAttempts int
	// RetryDelay is slept between attempts.
	RetryDelay time.Duration
}

// Stats summarizes a completed run.
type Stats struct {
	Skipped   int
	Succeeded int
	Empty     int
	Failed    int
}

// Total returns the number of units the run touched.
func (s Stats) Total() int {
	return s.Skipped + s.Succeeded + s.Empty + s.Failed
}

// Scheduler drives work units through the executor and records their
// terminal states in the ledger.
type Scheduler struct {
	cfg       Config
	ledger    crawl.Ledger
	exec      crawl.Executor
	refresher crawl.Refresher
	logger    *zap.Logger
	runID     string

	mu    sync.Mutex
	stats Stats
}

// New constructs a Scheduler. refresher may be nil for executors that
// never report auth rejection.
func New(cfg Config, ledger crawl.Ledger, exec crawl.Executor, refresher crawl.Refresher, logger *zap.Logger) (*Scheduler, error) {
	if ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if exec == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 100
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	metrics.Init()
	return &Scheduler{
		cfg:       cfg,
		ledger:    ledger,
		exec:      exec,
		refresher: refresher,
		logger:    logger.With(zap.String("stage", cfg.Stage)),
		runID:     uuid.NewString(),
	}, nil
}

// RunID identifies this run in logs and the status listener.
func (s *Scheduler) RunID() string {
	return s.runID
}

// Run processes every unit and returns aggregate stats. Per-unit
// failures never abort the run; only context cancellation does. The
// full unit set is snapshotted after each chunk and once more at the
// end.
func (s *Scheduler) Run(ctx context.Context, units []crawl.WorkUnit) (Stats, error) {
	total := len(units)
	s.logger.Info("run starting",
		zap.String("run_id", s.runID),
		zap.Int("units", total),
		zap.Int("chunk_size", s.cfg.ChunkSize),
		zap.Int("concurrency", s.cfg.Concurrency))

	for start := 0; start < total; start += s.cfg.ChunkSize {
		if err := ctx.Err(); err != nil {
			return s.snapshotStats(), fmt.Errorf("run canceled: %w", err)
		}

		end := min(start+s.cfg.ChunkSize, total)
		s.runChunk(ctx, units[start:end])

		if err := s.ledger.Snapshot(units); err != nil {
			// The snapshot is a progress report; marker state on disk
			// is still authoritative, so a failed write does not stop
			// the run.
			s.logger.Error("snapshot failed", zap.Error(err))
		}
		metrics.ObserveChunk(s.cfg.Stage)
		s.logger.Info("chunk complete", zap.Int("processed", end), zap.Int("total", total))
	}

	if err := s.ledger.Snapshot(units); err != nil {
		s.logger.Error("final snapshot failed", zap.Error(err))
	}

	stats := s.snapshotStats()
	s.logger.Info("run finished",
		zap.String("run_id", s.runID),
		zap.Int("skipped", stats.Skipped),
		zap.Int("succeeded", stats.Succeeded),
		zap.Int("empty", stats.Empty),
		zap.Int("failed", stats.Failed))
	return stats, nil
}

// runChunk resolves one chunk under the concurrency ceiling. All
// units are awaited before returning; the group never carries an
// error because unit failures are converted to ledger state.
func (s *Scheduler) runChunk(ctx context.Context, chunk []crawl.WorkUnit) {
	g := new(errgroup.Group)
	g.SetLimit(s.cfg.Concurrency)
	for _, unit := range chunk {
		g.Go(func() error {
			s.processUnit(ctx, unit)
			return nil
		})
	}
	g.Wait() //nolint:errcheck // workers never return errors
}

func (s *Scheduler) processUnit(ctx context.Context, unit crawl.WorkUnit) {
	logger := s.unitLogger(unit)

	if outcome := s.ledger.OutcomeOf(unit); outcome.Terminal() {
		logger.Info("unit already terminal, skipping", zap.Stringer("outcome", outcome))
		s.count(func(st *Stats) { st.Skipped++ })
		metrics.ObserveUnit(s.cfg.Stage, "skip")
		return
	}

	dir, err := s.ledger.EnsureUnitDir(unit)
	if err != nil {
		logger.Error("unit dir creation failed", zap.Error(err))
		s.count(func(st *Stats) { st.Failed++ })
		metrics.ObserveUnit(s.cfg.Stage, crawl.OutcomeFailure.String())
		return
	}

	disp, err := s.executeWithRetry(ctx, unit, dir, logger)
	if err != nil {
		// Unit stays unmarked: reported as fail now, retried next run.
		logger.Error("unit failed", zap.Error(err))
		s.count(func(st *Stats) { st.Failed++ })
		metrics.ObserveUnit(s.cfg.Stage, crawl.OutcomeFailure.String())
		return
	}

	switch disp {
	case crawl.DispositionEmpty:
		if err := s.ledger.MarkEmpty(unit); err != nil {
			logger.Error("empty marker write failed", zap.Error(err))
		}
		logger.Info("unit empty")
		s.count(func(st *Stats) { st.Empty++ })
		metrics.ObserveUnit(s.cfg.Stage, crawl.OutcomeEmpty.String())
	default:
		if err := s.ledger.MarkSuccess(unit); err != nil {
			logger.Error("success marker write failed", zap.Error(err))
		}
		logger.Info("unit succeeded")
		s.count(func(st *Stats) { st.Succeeded++ })
		metrics.ObserveUnit(s.cfg.Stage, crawl.OutcomeSuccess.String())
	}
}

// executeWithRetry runs the page action. An auth rejection triggers a
// session refresh and another attempt, up to the attempt ceiling; any
// other error fails the unit immediately (transient errors are
// retried by the next run, not within this one).
func (s *Scheduler) executeWithRetry(ctx context.Context, unit crawl.WorkUnit, dir string, logger *zap.Logger) (crawl.Disposition, error) {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		metrics.ObserveAttempt(s.cfg.Stage)
		metrics.IncInFlight()
		disp, err := s.exec.Execute(ctx, unit, dir)
		metrics.DecInFlight()
		if err == nil {
			return disp, nil
		}
		if !errors.Is(err, crawl.ErrAuthRejected) {
			return 0, err
		}

		lastErr = err
		logger.Warn("auth rejected, refreshing session",
			zap.Int("attempt", attempt), zap.Error(err))
		if s.refresher != nil {
			metrics.ObserveRefresh()
			if rerr := s.refresher.Refresh(ctx); rerr != nil {
				logger.Warn("session refresh failed", zap.Error(rerr))
			}
		}
		if err := sleep(ctx, s.cfg.RetryDelay); err != nil {
			return 0, err
		}
	}
	return 0, fmt.Errorf("auth retries exhausted: %w", lastErr)
}

func (s *Scheduler) unitLogger(unit crawl.WorkUnit) *zap.Logger {
	fields := []zap.Field{zap.String("unit", unit.UnitKey)}
	if unit.ParentKey != "" {
		fields = append(fields, zap.String("parent", unit.ParentKey))
	}
	return s.logger.With(fields...)
}

func (s *Scheduler) count(update func(*Stats)) {
	s.mu.Lock()
	update(&s.stats)
	s.mu.Unlock()
}

func (s *Scheduler) snapshotStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
