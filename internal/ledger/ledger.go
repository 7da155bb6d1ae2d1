// Package ledger persists per-unit terminal outcomes as filesystem
// markers and materializes status snapshots. Markers, not memory, are
// the source of truth: outcomes are re-derived from disk on every
// query so that a restarted run sees exactly what the last one left.
package ledger

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/miscite/citecrawl/internal/crawl"
)

var _ crawl.Ledger = (*Store)(nil)

const (
	successMarker = "success.txt"
	emptyMarker   = "empty.txt"
	reportName    = "status.csv"
)

// Store is a filesystem-backed ledger rooted at a stage's output
// directory. KeyColumns name the report's unit key columns: one entry
// for single-key stages, two (parent first) for pair stages.
type Store struct {
	root       string
	keyColumns []string
}

// New creates a Store. The root directory is created lazily when the
// first unit directory or snapshot is written.
func New(root string, keyColumns []string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("ledger root is required")
	}
	if n := len(keyColumns); n < 1 || n > 2 {
		return nil, fmt.Errorf("ledger needs 1 or 2 key columns, got %d", n)
	}
	return &Store{root: root, keyColumns: keyColumns}, nil
}

// UnitDir returns the storage directory for a unit without creating it.
func (s *Store) UnitDir(unit crawl.WorkUnit) string {
	if unit.ParentKey != "" {
		return filepath.Join(s.root, unit.ParentKey, unit.UnitKey)
	}
	return filepath.Join(s.root, unit.UnitKey)
}

// EnsureUnitDir creates the unit's storage directory if absent and
// returns its path. Creating the directory before the page action runs
// is what makes an interrupted unit show up as fail (retryable) rather
// than not_started.
func (s *Store) EnsureUnitDir(unit crawl.WorkUnit) (string, error) {
	dir := s.UnitDir(unit)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create unit dir: %w", err)
	}
	return dir, nil
}

// OutcomeOf derives a unit's outcome from its markers. Pure stat
// calls, no caching.
func (s *Store) OutcomeOf(unit crawl.WorkUnit) crawl.Outcome {
	dir := s.UnitDir(unit)
	if _, err := os.Stat(dir); err != nil {
		return crawl.OutcomeNotStarted
	}
	if fileExists(filepath.Join(dir, successMarker)) {
		return crawl.OutcomeSuccess
	}
	if fileExists(filepath.Join(dir, emptyMarker)) {
		return crawl.OutcomeEmpty
	}
	return crawl.OutcomeFailure
}

// MarkSuccess records the success marker for a unit. Idempotent.
func (s *Store) MarkSuccess(unit crawl.WorkUnit) error {
	return s.touch(unit, successMarker)
}

// MarkEmpty records the empty marker for a unit. Idempotent.
func (s *Store) MarkEmpty(unit crawl.WorkUnit) error {
	return s.touch(unit, emptyMarker)
}

func (s *Store) touch(unit crawl.WorkUnit, name string) error {
	dir, err := s.EnsureUnitDir(unit)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("write marker %s: %w", name, err)
	}
	return f.Close()
}

// Report computes the outcome of every supplied unit, in order.
func (s *Store) Report(units []crawl.WorkUnit) []crawl.UnitReport {
	rows := make([]crawl.UnitReport, 0, len(units))
	for _, unit := range units {
		rows = append(rows, crawl.UnitReport{Unit: unit, Outcome: s.OutcomeOf(unit)})
	}
	return rows
}

// ReportPath returns the location of the status report file.
func (s *Store) ReportPath() string {
	return filepath.Join(s.root, reportName)
}

// Snapshot fully rewrites the status report for the supplied units.
// The write goes to a temp file first and is renamed into place so a
// reader never observes a partial report.
func (s *Store) Snapshot(units []crawl.WorkUnit) error {
	if err := os.MkdirAll(s.root, 0o750); err != nil {
		return fmt.Errorf("create ledger root: %w", err)
	}

	tmp, err := os.CreateTemp(s.root, reportName+".tmp-*")
	if err != nil {
		return fmt.Errorf("create snapshot temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	w := csv.NewWriter(tmp)
	header := append(append([]string{}, s.keyColumns...), "Status")
	if err := w.Write(header); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot header: %w", err)
	}
	for _, row := range s.Report(units) {
		record := make([]string, 0, 3)
		if len(s.keyColumns) == 2 {
			record = append(record, row.Unit.ParentKey)
		}
		record = append(record, row.Unit.UnitKey, row.Outcome.String())
		if err := w.Write(record); err != nil {
			tmp.Close()
			return fmt.Errorf("write snapshot row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot temp file: %w", err)
	}

	if err := os.Rename(tmpName, s.ReportPath()); err != nil {
		return fmt.Errorf("publish snapshot: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
