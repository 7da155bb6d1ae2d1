package cmd

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"
)

// newStatusCmd reports the last written status snapshot of a stage.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "status [miscited|citing|references]",
		Short:     "Summarizes a stage's last status snapshot",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"miscited", "citing", "references"},
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			var root string
			switch args[0] {
			case "miscited":
				root = app.Cfg.Paths.MiscitedDir
			case "citing":
				root = app.Cfg.Paths.CitingDir
			case "references":
				root = app.Cfg.Paths.ReferencesDir
			default:
				return fmt.Errorf("unknown stage %q", args[0])
			}

			counts, total, err := readStatusCounts(filepath.Join(root, "status.csv"))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %d units\n", args[0], total)
			statuses := make([]string, 0, len(counts))
			for status := range counts {
				statuses = append(statuses, status)
			}
			sort.Strings(statuses)
			for _, status := range statuses {
				fmt.Fprintf(out, "  %-12s %d\n", status, counts[status])
			}
			return nil
		},
	}
}

func readStatusCounts(path string) (map[string]int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, fmt.Errorf("no snapshot at %s: stage has not run", path)
		}
		return nil, 0, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, 0, fmt.Errorf("read snapshot: %w", err)
	}
	if len(rows) == 0 {
		return nil, 0, fmt.Errorf("snapshot %s is empty", path)
	}

	counts := map[string]int{}
	for _, row := range rows[1:] {
		if len(row) == 0 {
			continue
		}
		counts[row[len(row)-1]]++
	}
	return counts, len(rows) - 1, nil
}
