// csv.go implements the CSV Store variant (spec.md §4.9 "CSV — append
// rows; header written once"), grounded on the teacher's plain
// encoding/csv usage pattern for flat log exports.
package cdrstore

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// CSVStore appends Row frames to a single CSV file, writing the header
// exactly once.
type CSVStore struct {
	path         string
	file         *os.File
	writer       *csv.Writer
	headerWritten bool
}

// NewCSVStore returns an unopened CSVStore.
func NewCSVStore() *CSVStore { return &CSVStore{} }

func (s *CSVStore) Open(path string, mode string) error {
	flags := os.O_CREATE | os.O_WRONLY
	switch mode {
	case "append", "":
		flags |= os.O_APPEND
	case "truncate":
		flags |= os.O_TRUNC
	default:
		return fmt.Errorf("cdrstore: unknown csv open mode %q", mode)
	}

	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return fmt.Errorf("cdrstore: open csv %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}

	s.path = path
	s.file = f
	s.writer = csv.NewWriter(f)
	s.headerWritten = info.Size() > 0
	return nil
}

func (s *CSVStore) Put(frame []Row) error {
	if s.writer == nil {
		return fmt.Errorf("cdrstore: csv store not open")
	}
	if !s.headerWritten {
		if err := s.writer.Write(Columns()); err != nil {
			return err
		}
		s.headerWritten = true
	}
	for _, row := range frame {
		if err := s.writer.Write(rowToRecord(row)); err != nil {
			return err
		}
	}
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		return err
	}
	return s.file.Sync()
}

func (s *CSVStore) Read() ([]Row, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readCSVFile(f)
}

func (s *CSVStore) MultiWrite(dir string, items map[string][]Row) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for name, rows := range items {
		sub := NewCSVStore()
		if err := sub.Open(filepath.Join(dir, name+".csv"), "truncate"); err != nil {
			return err
		}
		if err := sub.Put(rows); err != nil {
			sub.Close()
			return err
		}
		if err := sub.Close(); err != nil {
			return err
		}
	}
	return nil
}

func (s *CSVStore) MultiRead(dir string) (map[string][]Row, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]Row)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := filepath.Ext(name)
		if ext != ".csv" {
			continue
		}
		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		rows, err := readCSVFile(f)
		f.Close()
		if err != nil {
			return nil, err
		}
		out[name[:len(name)-len(ext)]] = rows
	}
	return out, nil
}

func (s *CSVStore) Close() error {
	if s.file == nil {
		return nil
	}
	s.writer.Flush()
	return s.file.Close()
}

func rowToRecord(r Row) []string {
	return []string{
		r.SwitchyApp, r.HangupCause,
		strconv.FormatFloat(r.CallerCreate, 'f', -1, 64),
		strconv.FormatFloat(r.CallerAnswer, 'f', -1, 64),
		strconv.FormatFloat(r.CallerReqOriginate, 'f', -1, 64),
		strconv.FormatFloat(r.CallerOriginate, 'f', -1, 64),
		strconv.FormatFloat(r.CallerHangup, 'f', -1, 64),
		strconv.FormatFloat(r.JobLaunch, 'f', -1, 64),
		strconv.FormatFloat(r.CalleeCreate, 'f', -1, 64),
		strconv.FormatFloat(r.CalleeAnswer, 'f', -1, 64),
		strconv.FormatFloat(r.CalleeHangup, 'f', -1, 64),
		strconv.FormatUint(uint64(r.FailedCalls), 10),
		strconv.FormatUint(uint64(r.ActiveSessions), 10),
		strconv.FormatUint(uint64(r.Erlangs), 10),
	}
}

func recordToRow(rec []string) (Row, error) {
	if len(rec) != len(Columns()) {
		return Row{}, fmt.Errorf("cdrstore: expected %d columns, got %d", len(Columns()), len(rec))
	}
	parseFloat := func(s string) float64 {
		v, _ := strconv.ParseFloat(s, 64)
		return v
	}
	parseUint := func(s string) uint32 {
		v, _ := strconv.ParseUint(s, 10, 32)
		return uint32(v)
	}
	return Row{
		SwitchyApp:         rec[0],
		HangupCause:        rec[1],
		CallerCreate:       parseFloat(rec[2]),
		CallerAnswer:       parseFloat(rec[3]),
		CallerReqOriginate: parseFloat(rec[4]),
		CallerOriginate:    parseFloat(rec[5]),
		CallerHangup:       parseFloat(rec[6]),
		JobLaunch:          parseFloat(rec[7]),
		CalleeCreate:       parseFloat(rec[8]),
		CalleeAnswer:       parseFloat(rec[9]),
		CalleeHangup:       parseFloat(rec[10]),
		FailedCalls:        parseUint(rec[11]),
		ActiveSessions:     parseUint(rec[12]),
		Erlangs:            parseUint(rec[13]),
	}, nil
}

func readCSVFile(f *os.File) ([]Row, error) {
	reader := csv.NewReader(f)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	rows := make([]Row, 0, len(records)-1)
	for _, rec := range records[1:] { // skip header
		row, err := recordToRow(rec)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}
