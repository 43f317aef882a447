// sqlite.go implements the "HDF-like columnar" Store variant (spec.md
// §4.9, §6: "one named table per data series (<app>) plus one child
// table per derived operator (<app>/<op>)"; "the writer enforces a
// minimum string-column width of 30 bytes"). SQLite has no fixed-width
// column type, so the width is enforced application-side by right-padding
// string columns with trailing spaces before insert. Grounded on the teacher's
// internal/storage/db.go (database/sql over modernc.org/sqlite, a
// validIdent guard against identifier injection, CREATE TABLE IF NOT
// EXISTS).
package cdrstore

import (
	"database/sql"
	"fmt"
	"regexp"

	_ "modernc.org/sqlite"
)

const minStringColumnWidth = 30

var safeIdentRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validIdent(s string) bool {
	return len(s) > 0 && len(s) <= 64 && safeIdentRe.MatchString(s)
}

// sanitizeTableName maps a series name (possibly "<app>/<op>") to a valid
// SQL identifier: every non-identifier rune becomes an underscore and a
// leading digit gets an "s_" prefix so the result always passes validIdent.
func sanitizeTableName(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	if len(out) == 0 || (out[0] >= '0' && out[0] <= '9') {
		return "s_" + string(out)
	}
	return string(out)
}

// padString right-pads s with trailing spaces to the minimum column width
// (spec.md §6).
func padString(s string) string {
	for len(s) < minStringColumnWidth {
		s += " "
	}
	return s
}

// SQLiteStore is the columnar Store backend.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore returns an unopened SQLiteStore.
func NewSQLiteStore() *SQLiteStore { return &SQLiteStore{} }

func (s *SQLiteStore) Open(path string, mode string) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("cdrstore: open sqlite %s: %w", path, err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;`); err != nil {
		db.Close()
		return fmt.Errorf("cdrstore: configure sqlite: %w", err)
	}
	s.db = db
	return nil
}

const createSeriesTableFmt = `
CREATE TABLE IF NOT EXISTS %s (
	switchy_app TEXT NOT NULL,
	hangup_cause TEXT NOT NULL,
	caller_create REAL, caller_answer REAL, caller_req_originate REAL,
	caller_originate REAL, caller_hangup REAL, job_launch REAL,
	callee_create REAL, callee_answer REAL, callee_hangup REAL,
	failed_calls INTEGER, active_sessions INTEGER, erlangs INTEGER
)`

func (s *SQLiteStore) ensureTable(name string) error {
	if !validIdent(name) {
		return fmt.Errorf("cdrstore: invalid table name %q", name)
	}
	_, err := s.db.Exec(fmt.Sprintf(createSeriesTableFmt, name))
	return err
}

func (s *SQLiteStore) insertInto(table string, frame []Row) error {
	if err := s.ensureTable(table); err != nil {
		return err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(fmt.Sprintf(`INSERT INTO %s (
		switchy_app, hangup_cause,
		caller_create, caller_answer, caller_req_originate,
		caller_originate, caller_hangup, job_launch,
		callee_create, callee_answer, callee_hangup,
		failed_calls, active_sessions, erlangs
	) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`, table))
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, r := range frame {
		_, err := stmt.Exec(
			padString(r.SwitchyApp), padString(r.HangupCause),
			r.CallerCreate, r.CallerAnswer, r.CallerReqOriginate,
			r.CallerOriginate, r.CallerHangup, r.JobLaunch,
			r.CalleeCreate, r.CalleeAnswer, r.CalleeHangup,
			r.FailedCalls, r.ActiveSessions, r.Erlangs,
		)
		if err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Put appends frame to the default "cdr" series table.
func (s *SQLiteStore) Put(frame []Row) error {
	return s.insertInto("cdr", frame)
}

func (s *SQLiteStore) queryTable(table string) ([]Row, error) {
	if !validIdent(table) {
		return nil, fmt.Errorf("cdrstore: invalid table name %q", table)
	}
	rows, err := s.db.Query(fmt.Sprintf(`SELECT
		switchy_app, hangup_cause,
		caller_create, caller_answer, caller_req_originate,
		caller_originate, caller_hangup, job_launch,
		callee_create, callee_answer, callee_hangup,
		failed_calls, active_sessions, erlangs
	FROM %s ORDER BY rowid`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(
			&r.SwitchyApp, &r.HangupCause,
			&r.CallerCreate, &r.CallerAnswer, &r.CallerReqOriginate,
			&r.CallerOriginate, &r.CallerHangup, &r.JobLaunch,
			&r.CalleeCreate, &r.CalleeAnswer, &r.CalleeHangup,
			&r.FailedCalls, &r.ActiveSessions, &r.Erlangs,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Read() ([]Row, error) {
	return s.queryTable("cdr")
}

// MultiWrite inserts rows into one table per series name, sanitized to a
// valid SQL identifier: a "<app>/<op>" child series becomes "<app>_<op>"
// (spec.md §6 "one named table per data series ... plus one child table
// per derived operator").
func (s *SQLiteStore) MultiWrite(dir string, items map[string][]Row) error {
	for name, rows := range items {
		table := sanitizeTableName(name)
		if err := s.insertInto(table, rows); err != nil {
			return fmt.Errorf("cdrstore: multiwrite %s: %w", name, err)
		}
	}
	return nil
}

// MultiRead reads back every registered series table.
func (s *SQLiteStore) MultiRead(dir string) (map[string][]Row, error) {
	rows, err := s.db.Query(`SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'`)
	if err != nil {
		return nil, err
	}
	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, err
		}
		tables = append(tables, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make(map[string][]Row, len(tables))
	for _, t := range tables {
		series, err := s.queryTable(t)
		if err != nil {
			return nil, err
		}
		out[t] = series
	}
	return out, nil
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
