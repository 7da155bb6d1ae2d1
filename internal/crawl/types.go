// Package crawl defines the core types shared across the crawl pipeline.
package crawl

import "context"

// WorkUnit identifies one crawl task. ParentKey is empty for
// single-key pipeline stages.
type WorkUnit struct {
	ParentKey string
	UnitKey   string
}

// Outcome is the terminal state of a work unit, derived from ledger
// markers at query time.
type Outcome int

// Outcome values in the order a unit progresses through them.
const (
	OutcomeNotStarted Outcome = iota
	OutcomeSuccess
	OutcomeEmpty
	OutcomeFailure
)

// String returns the status token written to the report file.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeEmpty:
		return "empty"
	case OutcomeFailure:
		return "fail"
	default:
		return "not_started"
	}
}

// Terminal reports whether a unit with this outcome is skipped on
// re-runs. Failure is terminal for a single run but retryable on the
// next one, so it is not terminal here.
func (o Outcome) Terminal() bool {
	return o == OutcomeSuccess || o == OutcomeEmpty
}

// UnitReport is one row of a status snapshot.
type UnitReport struct {
	Unit    WorkUnit
	Outcome Outcome
}

// ProbeResult is the tri-state answer of a page's result probe. It
// replaces timeout-as-signal "no results" detection: a selector that
// fails to appear for reasons other than genuine emptiness reports
// Indeterminate, not NoResults.
type ProbeResult int

// Probe states.
const (
	ProbeHasResults ProbeResult = iota
	ProbeNoResults
	ProbeIndeterminate
)

// Disposition is what an Executor reports for a unit it finished
// without error.
type Disposition int

// Executor dispositions.
const (
	// DispositionSuccess means the artifact was fetched and written
	// into the unit directory.
	DispositionSuccess Disposition = iota
	// DispositionEmpty means the remote side had zero results for the
	// unit.
	DispositionEmpty
)

// Executor performs the page action for one work unit. dir is the
// unit's storage directory, already created. A returned error leaves
// the unit unmarked (reported as fail, retried next run).
type Executor interface {
	Execute(ctx context.Context, unit WorkUnit, dir string) (Disposition, error)
}

// Ledger records terminal outcomes as durable filesystem markers and
// materializes status snapshots.
type Ledger interface {
	OutcomeOf(unit WorkUnit) Outcome
	MarkSuccess(unit WorkUnit) error
	MarkEmpty(unit WorkUnit) error
	EnsureUnitDir(unit WorkUnit) (string, error)
	Report(units []WorkUnit) []UnitReport
	Snapshot(units []WorkUnit) error
}

// Refresher renews shared session credentials. Implementations gate
// refreshes behind a cooldown so concurrent callers collapse into a
// single re-login.
type Refresher interface {
	Refresh(ctx context.Context) error
}
