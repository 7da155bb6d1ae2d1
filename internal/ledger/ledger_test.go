package ledger

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/miscite/citecrawl/internal/crawl"
)

func TestStore_New_Validation(t *testing.T) {
	t.Parallel()

	_, err := New("", []string{"EID"})
	require.Error(t, err)

	_, err = New(t.TempDir(), nil)
	require.Error(t, err)

	_, err = New(t.TempDir(), []string{"A", "B", "C"})
	require.Error(t, err)
}

func TestStore_OutcomeOf_MarkerStates(t *testing.T) {
	t.Parallel()

	store, err := New(t.TempDir(), []string{"EID"})
	require.NoError(t, err)
	unit := crawl.WorkUnit{UnitKey: "2-s2.0-1"}

	// No directory yet.
	require.Equal(t, crawl.OutcomeNotStarted, store.OutcomeOf(unit))

	// Directory without marker: the unit was started and interrupted.
	_, err = store.EnsureUnitDir(unit)
	require.NoError(t, err)
	require.Equal(t, crawl.OutcomeFailure, store.OutcomeOf(unit))

	require.NoError(t, store.MarkEmpty(unit))
	require.Equal(t, crawl.OutcomeEmpty, store.OutcomeOf(unit))

	// Success wins when both markers are present.
	require.NoError(t, store.MarkSuccess(unit))
	require.Equal(t, crawl.OutcomeSuccess, store.OutcomeOf(unit))
}

func TestStore_MarksAreIdempotent(t *testing.T) {
	t.Parallel()

	store, err := New(t.TempDir(), []string{"EID"})
	require.NoError(t, err)
	unit := crawl.WorkUnit{UnitKey: "2-s2.0-2"}

	require.NoError(t, store.MarkSuccess(unit))
	require.NoError(t, store.MarkSuccess(unit))
	require.Equal(t, crawl.OutcomeSuccess, store.OutcomeOf(unit))
}

func TestStore_PairUnitsNestUnderParent(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	store, err := New(root, []string{"Cited EID", "Miscited EID"})
	require.NoError(t, err)

	unit := crawl.WorkUnit{ParentKey: "2-s2.0-p", UnitKey: "2-s2.0-c"}
	dir, err := store.EnsureUnitDir(unit)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "2-s2.0-p", "2-s2.0-c"), dir)

	require.NoError(t, store.MarkSuccess(unit))
	require.FileExists(t, filepath.Join(dir, "success.txt"))
}

func TestStore_SnapshotWritesEveryUnit(t *testing.T) {
	t.Parallel()

	store, err := New(t.TempDir(), []string{"EID"})
	require.NoError(t, err)

	units := []crawl.WorkUnit{
		{UnitKey: "2-s2.0-a"},
		{UnitKey: "2-s2.0-b"},
		{UnitKey: "2-s2.0-c"},
		{UnitKey: "2-s2.0-d"},
	}
	require.NoError(t, store.MarkSuccess(units[0]))
	require.NoError(t, store.MarkEmpty(units[1]))
	_, err = store.EnsureUnitDir(units[2])
	require.NoError(t, err)
	// units[3] never touched.

	require.NoError(t, store.Snapshot(units))

	f, err := os.Open(store.ReportPath())
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Equal(t, [][]string{
		{"EID", "Status"},
		{"2-s2.0-a", "success"},
		{"2-s2.0-b", "empty"},
		{"2-s2.0-c", "fail"},
		{"2-s2.0-d", "not_started"},
	}, rows)
}

func TestStore_SnapshotRewritesInFull(t *testing.T) {
	t.Parallel()

	store, err := New(t.TempDir(), []string{"EID"})
	require.NoError(t, err)

	units := []crawl.WorkUnit{{UnitKey: "2-s2.0-a"}, {UnitKey: "2-s2.0-b"}}
	require.NoError(t, store.Snapshot(units))

	require.NoError(t, store.MarkSuccess(units[0]))
	require.NoError(t, store.Snapshot(units))

	f, err := os.Open(store.ReportPath())
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Equal(t, [][]string{
		{"EID", "Status"},
		{"2-s2.0-a", "success"},
		{"2-s2.0-b", "not_started"},
	}, rows)

	// No stray temp files survive a snapshot.
	entries, err := os.ReadDir(filepath.Dir(store.ReportPath()))
	require.NoError(t, err)
	for _, e := range entries {
		require.NotContains(t, e.Name(), ".tmp-")
	}
}

func TestStore_SnapshotPairHeader(t *testing.T) {
	t.Parallel()

	store, err := New(t.TempDir(), []string{"Cited EID", "Miscited EID"})
	require.NoError(t, err)

	units := []crawl.WorkUnit{{ParentKey: "2-s2.0-p", UnitKey: "2-s2.0-c"}}
	require.NoError(t, store.MarkSuccess(units[0]))
	require.NoError(t, store.Snapshot(units))

	f, err := os.Open(store.ReportPath())
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Equal(t, [][]string{
		{"Cited EID", "Miscited EID", "Status"},
		{"2-s2.0-p", "2-s2.0-c", "success"},
	}, rows)
}
