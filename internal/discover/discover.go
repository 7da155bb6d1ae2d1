// Package discover derives the ordered work-unit set for a pipeline
// stage from the previous stage's on-disk artifacts.
package discover

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/miscite/citecrawl/internal/crawl"
)

// Row is one record of a stage input file, keyed by EID with the
// columns later stages care about.
type Row struct {
	EID   string
	Title string
	Link  string
}

// FromCSV reads a flat input CSV (at least an EID column) into ordered
// rows. Rows with a missing or blank EID are skipped. A missing file
// is not an error: it yields an empty sequence, logged by the caller.
func FromCSV(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open input csv: %w", err)
	}
	defer f.Close()

	return readRows(f)
}

// Units flattens rows into single-key work units.
func Units(rows []Row) []crawl.WorkUnit {
	units := make([]crawl.WorkUnit, 0, len(rows))
	for _, row := range rows {
		units = append(units, crawl.WorkUnit{UnitKey: row.EID})
	}
	return units
}

// FromTree scans root for per-parent subdirectories, each holding
// <parent>/<parent>.csv listing child EIDs, and flattens them into
// (parent, child) work units. Parents are visited in name order so the
// sequence is stable given identical directory state. An absent root
// yields an empty set.
func FromTree(root string, logger *zap.Logger) ([]crawl.WorkUnit, error) {
	parents, err := subdirs(root)
	if err != nil {
		return nil, err
	}
	if parents == nil {
		logger.Info("discovery root absent, nothing to do", zap.String("root", root))
		return nil, nil
	}

	var units []crawl.WorkUnit
	for _, parent := range parents {
		csvPath := filepath.Join(root, parent, parent+".csv")
		rows, err := FromCSV(csvPath)
		if err != nil {
			return nil, err
		}
		if rows == nil {
			logger.Warn("parent has no unit file, skipping",
				zap.String("parent", parent), zap.String("path", csvPath))
			continue
		}
		for _, row := range rows {
			units = append(units, crawl.WorkUnit{ParentKey: parent, UnitKey: row.EID})
		}
	}
	logger.Info("discovered work units", zap.String("root", root), zap.Int("count", len(units)))
	return units, nil
}

// FromNestedTree scans a two-level root (<parent>/<child>/<child>.csv)
// and flattens the child CSVs' EID rows into single-key units carrying
// title and link columns. Used by the references stage, whose units
// come from every citing row of the previous stage's exports.
func FromNestedTree(root string, logger *zap.Logger) ([]Row, error) {
	parents, err := subdirs(root)
	if err != nil {
		return nil, err
	}
	if parents == nil {
		logger.Info("discovery root absent, nothing to do", zap.String("root", root))
		return nil, nil
	}

	var rows []Row
	for _, parent := range parents {
		children, err := subdirs(filepath.Join(root, parent))
		if err != nil {
			return nil, err
		}
		for _, child := range children {
			csvPath := filepath.Join(root, parent, child, child+".csv")
			childRows, err := FromCSV(csvPath)
			if err != nil {
				return nil, err
			}
			if childRows == nil {
				logger.Warn("child has no unit file, skipping",
					zap.String("parent", parent), zap.String("child", child))
				continue
			}
			rows = append(rows, childRows...)
		}
	}
	logger.Info("discovered citing rows", zap.String("root", root), zap.Int("count", len(rows)))
	return rows, nil
}

func subdirs(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read discovery root: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func readRows(r io.Reader) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return []Row{}, nil
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	eidCol, titleCol, linkCol := -1, -1, -1
	for i, name := range header {
		switch strings.TrimSpace(name) {
		case "EID":
			eidCol = i
		case "Title":
			titleCol = i
		case "Link":
			linkCol = i
		}
	}
	if eidCol < 0 {
		return nil, fmt.Errorf("input csv has no EID column")
	}

	rows := []Row{}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Malformed rows are skipped; anything else (an underlying
			// read failure) would recur forever, so it is fatal.
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				continue
			}
			return nil, fmt.Errorf("read csv row: %w", err)
		}
		row := Row{}
		if eidCol < len(record) {
			row.EID = strings.TrimSpace(record[eidCol])
		}
		if row.EID == "" {
			continue
		}
		if titleCol >= 0 && titleCol < len(record) {
			row.Title = strings.TrimSpace(record[titleCol])
		}
		if linkCol >= 0 && linkCol < len(record) {
			row.Link = strings.TrimSpace(record[linkCol])
		}
		rows = append(rows, row)
	}
	return rows, nil
}
