package discover

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/miscite/citecrawl/internal/crawl"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestFromCSV_ReadsRowsInOrder(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "eid.csv")
	writeFile(t, path, "EID,Title,Link\n2-s2.0-1,First,https://x/1\n2-s2.0-2,Second,\n")

	rows, err := FromCSV(path)
	require.NoError(t, err)
	require.Equal(t, []Row{
		{EID: "2-s2.0-1", Title: "First", Link: "https://x/1"},
		{EID: "2-s2.0-2", Title: "Second"},
	}, rows)
}

func TestFromCSV_MissingFileIsNotAnError(t *testing.T) {
	t.Parallel()

	rows, err := FromCSV(filepath.Join(t.TempDir(), "absent.csv"))
	require.NoError(t, err)
	require.Nil(t, rows)
}

func TestFromCSV_SkipsBlankAndMalformedRows(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "eid.csv")
	writeFile(t, path, "EID,Title\n,NoKey\n2-s2.0-3,Kept\n2-s2.0-bad,ba\"d\n2-s2.0-4,AlsoKept\n")

	rows, err := FromCSV(path)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "2-s2.0-3", rows[0].EID)
	require.Equal(t, "2-s2.0-4", rows[1].EID)
}

type brokenReader struct {
	data []byte
	err  error
}

func (r *brokenReader) Read(p []byte) (int, error) {
	if len(r.data) > 0 {
		n := copy(p, r.data)
		r.data = r.data[n:]
		return n, nil
	}
	return 0, r.err
}

func TestReadRows_UnderlyingReadErrorIsFatal(t *testing.T) {
	t.Parallel()

	readErr := errors.New("device gone")
	_, err := readRows(&brokenReader{
		data: []byte("EID,Title\n2-s2.0-1,ok\n"),
		err:  readErr,
	})
	require.ErrorIs(t, err, readErr)
}

func TestFromCSV_RequiresEIDColumn(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "eid.csv")
	writeFile(t, path, "Identifier,Title\nx,y\n")

	_, err := FromCSV(path)
	require.ErrorContains(t, err, "EID column")
}

func TestUnits_FlattensRows(t *testing.T) {
	t.Parallel()

	units := Units([]Row{{EID: "2-s2.0-1"}, {EID: "2-s2.0-2"}})
	require.Equal(t, []crawl.WorkUnit{
		{UnitKey: "2-s2.0-1"},
		{UnitKey: "2-s2.0-2"},
	}, units)
}

func TestFromTree_BuildsPairUnitsSorted(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "2-s2.0-b", "2-s2.0-b.csv"), "EID\n2-s2.0-b1\n")
	writeFile(t, filepath.Join(root, "2-s2.0-a", "2-s2.0-a.csv"), "EID\n2-s2.0-a1\n2-s2.0-a2\n")

	units, err := FromTree(root, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, []crawl.WorkUnit{
		{ParentKey: "2-s2.0-a", UnitKey: "2-s2.0-a1"},
		{ParentKey: "2-s2.0-a", UnitKey: "2-s2.0-a2"},
		{ParentKey: "2-s2.0-b", UnitKey: "2-s2.0-b1"},
	}, units)
}

func TestFromTree_SkipsParentsWithoutUnitFile(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "2-s2.0-bare"), 0o750))
	writeFile(t, filepath.Join(root, "2-s2.0-ok", "2-s2.0-ok.csv"), "EID\n2-s2.0-x\n")

	units, err := FromTree(root, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, []crawl.WorkUnit{{ParentKey: "2-s2.0-ok", UnitKey: "2-s2.0-x"}}, units)
}

func TestFromTree_AbsentRootYieldsNothing(t *testing.T) {
	t.Parallel()

	units, err := FromTree(filepath.Join(t.TempDir(), "absent"), zap.NewNop())
	require.NoError(t, err)
	require.Empty(t, units)
}

func TestFromNestedTree_FlattensChildRows(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "2-s2.0-p", "2-s2.0-c1", "2-s2.0-c1.csv"), "EID,Title\n2-s2.0-r1,T1\n")
	writeFile(t, filepath.Join(root, "2-s2.0-p", "2-s2.0-c2", "2-s2.0-c2.csv"), "EID,Title\n2-s2.0-r2,T2\n2-s2.0-r3,T3\n")

	rows, err := FromNestedTree(root, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, "2-s2.0-r1", rows[0].EID)
	require.Equal(t, "T3", rows[2].Title)
}
