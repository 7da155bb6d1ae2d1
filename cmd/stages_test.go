package cmd

import (
	"encoding/csv"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/miscite/citecrawl/internal/config"
	"github.com/miscite/citecrawl/internal/crawl"
	"github.com/miscite/citecrawl/internal/discover"
)

func TestUsableTitles_FiltersPlaceholders(t *testing.T) {
	t.Parallel()

	rows := []discover.Row{
		{EID: "2-s2.0-1", Title: "Real Title"},
		{EID: "2-s2.0-2", Title: "Error"},
		{EID: "2-s2.0-3", Title: "404 Not Found"},
		{EID: "2-s2.0-4", Title: "Title not found"},
		{EID: "2-s2.0-5", Title: ""},
	}
	got := usableTitles(rows)
	require.Equal(t, map[string]string{"2-s2.0-1": "Real Title"}, got)
}

func TestDedupeRows_KeepsFirstOccurrence(t *testing.T) {
	t.Parallel()

	rows := []discover.Row{
		{EID: "2-s2.0-a", Title: "first"},
		{EID: "2-s2.0-b"},
		{EID: "2-s2.0-a", Title: "second"},
	}
	got := dedupeRows(rows)
	require.Len(t, got, 2)
	require.Equal(t, "2-s2.0-a", got[0].EID)
	require.Equal(t, "first", got[0].Title)
	require.Equal(t, "2-s2.0-b", got[1].EID)
}

func TestCitingLedger_ColumnsNameTheKeyRoles(t *testing.T) {
	t.Parallel()

	paths := config.PathsConfig{CitingDir: t.TempDir()}
	store, err := citingLedger(paths)
	require.NoError(t, err)

	// The parent key is the cited seed, the unit key the miscited
	// candidate. The snapshot header must say so.
	unit := crawl.WorkUnit{ParentKey: "2-s2.0-cited", UnitKey: "2-s2.0-miscited"}
	require.NoError(t, store.MarkSuccess(unit))
	require.NoError(t, store.Snapshot([]crawl.WorkUnit{unit}))

	f, err := os.Open(store.ReportPath())
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Equal(t, [][]string{
		{"Cited EID", "Miscited EID", "Status"},
		{"2-s2.0-cited", "2-s2.0-miscited", "success"},
	}, rows)
}

func TestRootCommandRegistersStages(t *testing.T) {
	t.Parallel()

	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	require.Contains(t, names, "login")
	require.Contains(t, names, "titles")
	require.Contains(t, names, "miscited")
	require.Contains(t, names, "citing")
	require.Contains(t, names, "references")
	require.Contains(t, names, "status")
}
