package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadStatusCounts(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "status.csv")
	require.NoError(t, os.WriteFile(path, []byte(
		"EID,Status\n2-s2.0-a,success\n2-s2.0-b,success\n2-s2.0-c,empty\n2-s2.0-d,fail\n",
	), 0o600))

	counts, total, err := readStatusCounts(path)
	require.NoError(t, err)
	require.Equal(t, 4, total)
	require.Equal(t, map[string]int{"success": 2, "empty": 1, "fail": 1}, counts)
}

func TestReadStatusCounts_MissingSnapshot(t *testing.T) {
	t.Parallel()

	_, _, err := readStatusCounts(filepath.Join(t.TempDir(), "status.csv"))
	require.ErrorContains(t, err, "has not run")
}
