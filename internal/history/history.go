// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.


package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite ledger of calibration and batch runs
type Store struct {
	DB *sql.DB
}

// Opens or creates the database at path. ":memory:" gives a private in-memory store
func New(path string) (*Store, error) {
	db, err:=sql.Open("sqlite", path)
	if err!=nil { return nil, err }
	db.SetMaxOpenConns(1)   // serializes writers from concurrent batch workers
	s:=&Store{DB:db}
	if err:=s.ensureSchema(); err!=nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	stmts:=[]string{
		`CREATE TABLE IF NOT EXISTS runs (
			id          TEXT PRIMARY KEY,
			kind        TEXT NOT NULL,
			reference   TEXT,
			targets     INTEGER,
			state       TEXT NOT NULL,
			succeeded   INTEGER DEFAULT 0,
			skipped     INTEGER DEFAULT 0,
			failed      INTEGER DEFAULT 0,
			started_at  TEXT NOT NULL,
			finished_at TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS targets (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id      TEXT NOT NULL,
			path        TEXT NOT NULL,
			output      TEXT,
			status      TEXT NOT NULL,
			ratio       REAL,
			pairs_used  INTEGER,
			warnings    TEXT,
			error       TEXT,
			recorded_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_targets_run_id ON targets(run_id);`,
	}
	for _,stmt:=range stmts {
		if _,err:=s.DB.Exec(stmt); err!=nil { return err }
	}
	return nil
}

func (s *Store) Close() error {
	if s==nil || s.DB==nil { return nil }
	return s.DB.Close()
}

// A recorded run
type Run struct {
	ID         string
	Kind       string
	Reference  string
	Targets    int
	State      string
	Succeeded  int
	Skipped    int
	Failed     int
	StartedAt  time.Time
	FinishedAt *time.Time
}

// A recorded target outcome
type Target struct {
	Path       string
	Output     string
	Status     string
	Ratio      float64
	PairsUsed  int
	Warnings   string
	Error      string
	RecordedAt time.Time
}

func (s *Store) StartRun(id, kind, reference string, targets int) error {
	_, err:=s.DB.Exec(`INSERT INTO runs (id, kind, reference, targets, state, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, kind, reference, targets, "running", now())
	return err
}

func (s *Store) RecordTarget(runID string, t Target) error {
	_, err:=s.DB.Exec(`INSERT INTO targets (run_id, path, output, status, ratio, pairs_used, warnings, error, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, t.Path, t.Output, t.Status, t.Ratio, t.PairsUsed, t.Warnings, t.Error, now())
	return err
}

func (s *Store) FinishRun(id, state string, succeeded, skipped, failed int) error {
	res, err:=s.DB.Exec(`UPDATE runs SET state=?, succeeded=?, skipped=?, failed=?, finished_at=? WHERE id=?`,
		state, succeeded, skipped, failed, now(), id)
	if err!=nil { return err }
	if n,_:=res.RowsAffected(); n==0 {
		return fmt.Errorf("run %s not found", id)
	}
	return nil
}

// Most recent runs first, at most limit many
func (s *Store) ListRuns(limit int) ([]Run, error) {
	rows, err:=s.DB.Query(`SELECT id, kind, reference, targets, state, succeeded, skipped, failed, started_at, finished_at
		FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err!=nil { return nil, err }
	defer rows.Close()
	runs:=[]Run{}
	for rows.Next() {
		var r Run
		var started string
		var finished sql.NullString
		if err:=rows.Scan(&r.ID, &r.Kind, &r.Reference, &r.Targets, &r.State, &r.Succeeded, &r.Skipped, &r.Failed, &started, &finished); err!=nil {
			return nil, err
		}
		r.StartedAt, _=time.Parse(timeLayout, started)
		if finished.Valid {
			t, _:=time.Parse(timeLayout, finished.String)
			r.FinishedAt=&t
		}
		runs=append(runs, r)
	}
	return runs, rows.Err()
}

// Target outcomes of a run, in recording order
func (s *Store) Targets(runID string) ([]Target, error) {
	rows, err:=s.DB.Query(`SELECT path, output, status, ratio, pairs_used, warnings, error, recorded_at
		FROM targets WHERE run_id=? ORDER BY id`, runID)
	if err!=nil { return nil, err }
	defer rows.Close()
	ts:=[]Target{}
	for rows.Next() {
		var t Target
		var recorded string
		if err:=rows.Scan(&t.Path, &t.Output, &t.Status, &t.Ratio, &t.PairsUsed, &t.Warnings, &t.Error, &recorded); err!=nil {
			return nil, err
		}
		t.RecordedAt, _=time.Parse(timeLayout, recorded)
		ts=append(ts, t)
	}
	return ts, rows.Err()
}

// Fixed width, so text order is time order
const timeLayout="2006-01-02T15:04:05.000000000Z07:00"

func now() string {
	return time.Now().UTC().Format(timeLayout)
}
