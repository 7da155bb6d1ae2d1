package titles

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Record is one row of the titles ledger CSV.
type Record struct {
	EID      string
	Abstract string
	Year     string
	Title    string
}

var outputHeader = []string{"EID", "Abstract", "Year", "Title"}

// LoadSeeds reads the seed CSV. Column order is taken from the
// header; rows with a blank EID are skipped.
func LoadSeeds(path string) ([]Record, error) {
	records, err := readRecords(path)
	if err != nil {
		return nil, fmt.Errorf("read seeds %s: %w", path, err)
	}
	if records == nil {
		return nil, fmt.Errorf("seed file %s does not exist", path)
	}
	return records, nil
}

// LoadOutput reads a previous run's output. A missing file is an
// empty ledger, not an error.
func LoadOutput(path string) ([]Record, error) {
	records, err := readRecords(path)
	if err != nil {
		return nil, fmt.Errorf("read titles output %s: %w", path, err)
	}
	return records, nil
}

func readRecords(path string) ([]Record, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseRecords(f)
}

func parseRecords(src io.Reader) ([]Record, error) {
	r := csv.NewReader(src)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := map[string]int{}
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	if _, ok := col["EID"]; !ok {
		return nil, fmt.Errorf("header has no EID column")
	}

	field := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var out []Record
	for {
		row, err := r.Read()
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
			return nil, fmt.Errorf("read row: %w", err)
		}
		rec := Record{
			EID:      field(row, "EID"),
			Abstract: field(row, "Abstract"),
			Year:     field(row, "Year"),
			Title:    field(row, "Title"),
		}
		if rec.EID == "" {
			continue
		}
		out = append(out, rec)
	}
	if out == nil {
		out = []Record{}
	}
	return out, nil
}

// outputSet merges seeds with previously resolved titles and tracks
// which keys still need work.
type outputSet struct {
	order   []string
	records map[string]*Record
}

func newOutputSet(seeds, existing []Record) *outputSet {
	set := &outputSet{records: map[string]*Record{}}
	for _, s := range seeds {
		if _, ok := set.records[s.EID]; ok {
			continue
		}
		rec := s
		set.order = append(set.order, s.EID)
		set.records[s.EID] = &rec
	}
	for _, e := range existing {
		rec, ok := set.records[e.EID]
		if !ok {
			continue
		}
		rec.Title = e.Title
	}
	return set
}

// pending returns seeds whose title is absent or a retryable error
// marker, in seed order.
func (s *outputSet) pending() []Record {
	var out []Record
	for _, eid := range s.order {
		rec := s.records[eid]
		if rec.Title == "" || rec.Title == titleError {
			out = append(out, *rec)
		}
	}
	return out
}

func (s *outputSet) setTitle(eid, title string) {
	if rec, ok := s.records[eid]; ok {
		rec.Title = title
	}
}

// write rewrites the full output CSV atomically.
func (s *outputSet) write(path string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".titles-*.csv")
	if err != nil {
		return fmt.Errorf("create titles temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(outputHeader); err != nil {
		tmp.Close()
		return fmt.Errorf("write titles header: %w", err)
	}
	for _, eid := range s.order {
		rec := s.records[eid]
		if err := w.Write([]string{rec.EID, rec.Abstract, rec.Year, rec.Title}); err != nil {
			tmp.Close()
			return fmt.Errorf("write titles row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush titles output: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close titles temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("publish titles output: %w", err)
	}
	return nil
}
