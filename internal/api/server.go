// Package api serves the optional status listener for long runs: a
// JSON view of the ledger and the Prometheus metrics endpoint.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/miscite/citecrawl/internal/crawl"
	"github.com/miscite/citecrawl/internal/metrics"
)

// SnapshotFunc returns the current per-unit report rows.
type SnapshotFunc func() []crawl.UnitReport

// Server is a read-only HTTP listener running alongside a crawl.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
	runID      string
	stage      string
	snapshot   SnapshotFunc
	started    time.Time
}

// New constructs a Server listening on addr.
func New(addr, runID, stage string, snapshot SnapshotFunc, logger *zap.Logger) *Server {
	s := &Server{
		logger:   logger,
		runID:    runID,
		stage:    stage,
		snapshot: snapshot,
		started:  time.Now(),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Handle("/metrics", metrics.Handler())

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start serves in a goroutine and shuts down when ctx finishes.
func (s *Server) Start(ctx context.Context) {
	go func() {
		s.logger.Info("status listener up", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("status listener stopped", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("status listener shutdown", zap.Error(err))
		}
	}()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok")) //nolint:errcheck // best-effort response
}

type statusRow struct {
	ParentKey string `json:"parent_key,omitempty"`
	UnitKey   string `json:"unit_key"`
	Status    string `json:"status"`
}

type statusPayload struct {
	RunID     string         `json:"run_id"`
	Stage     string         `json:"stage"`
	UptimeSec int64          `json:"uptime_seconds"`
	Counts    map[string]int `json:"counts"`
	Units     []statusRow    `json:"units"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	rows := s.snapshot()
	payload := statusPayload{
		RunID:     s.runID,
		Stage:     s.stage,
		UptimeSec: int64(time.Since(s.started).Seconds()),
		Counts:    map[string]int{},
		Units:     make([]statusRow, 0, len(rows)),
	}
	for _, row := range rows {
		status := row.Outcome.String()
		payload.Counts[status]++
		payload.Units = append(payload.Units, statusRow{
			ParentKey: row.Unit.ParentKey,
			UnitKey:   row.Unit.UnitKey,
			Status:    status,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("status encode failed", zap.Error(err))
	}
}
