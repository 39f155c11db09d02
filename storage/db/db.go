// Copyright 2022 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package db stores the history of benchmark observations that
// lookback z-scores are computed from.
package db

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"strings"
	"text/template"
	"time"
)

// DB is a history store backed by a SQL database. It's safe for
// concurrent use by multiple goroutines.
type DB struct {
	sql *sql.DB // underlying database connection
	// prepared statements
	insertObservation  *sql.Stmt
	lookback           *sql.Stmt
	commitObservations *sql.Stmt
}

// An Observation is one benchmark value measured at one commit.
type Observation struct {
	CommitSHA  string
	CommitTime time.Time
	// Context identifies where the value was measured, typically
	// the hardware name. Values from different contexts are never
	// compared.
	Context string
	CaseKey string // benchcmp.Case.Key of the benchmark
	Unit    string
	Value   float64
}

// A Key selects the series of one case in one context.
type Key struct {
	Context string
	CaseKey string
}

// Key returns the series key of o.
func (o Observation) Key() Key {
	return Key{Context: o.Context, CaseKey: o.CaseKey}
}

// Open creates a DB backed by a SQL database. The parameters are the
// same as the parameters for sql.Open. Only mysql and sqlite3 are
// explicitly supported; other database engines will receive MySQL
// query syntax which may or may not be compatible.
func Open(driverName, dataSourceName string) (*DB, error) {
	db, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		return nil, err
	}
	if hook := openHooks[driverName]; hook != nil {
		if err := hook(db); err != nil {
			db.Close()
			return nil, err
		}
	}
	d := &DB{sql: db}
	if err := d.createTables(driverName); err != nil {
		db.Close()
		return nil, err
	}
	if err := d.prepareStatements(); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

var openHooks = make(map[string]func(*sql.DB) error)

// RegisterOpenHook registers a hook to be called after opening a
// connection to driverName. It must be called from an init function.
func RegisterOpenHook(driverName string, hook func(*sql.DB) error) {
	openHooks[driverName] = hook
}

// createTmpl is the template used to prepare the CREATE statements
// for the database. It is evaluated with . as a map containing one
// entry whose key is the driver name.
var createTmpl = template.Must(template.New("create").Parse(`
CREATE TABLE IF NOT EXISTS Observations (
	ObservationID {{if .sqlite3}}INTEGER PRIMARY KEY AUTOINCREMENT{{else}}SERIAL PRIMARY KEY AUTO_INCREMENT{{end}},
	CommitSHA VARCHAR(64) NOT NULL,
	CommitTime BIGINT NOT NULL,
	Context VARCHAR(255) NOT NULL,
	CaseKey VARCHAR(1024) NOT NULL,
	Unit VARCHAR(64) NOT NULL,
	Value DOUBLE NOT NULL{{if not .sqlite3}},
	Index (Context(100), CaseKey(255), CommitTime),
	Index (CommitSHA){{end}}
);
{{if .sqlite3}}
CREATE INDEX IF NOT EXISTS ObservationsSeries ON Observations(Context, CaseKey, CommitTime);
CREATE INDEX IF NOT EXISTS ObservationsCommit ON Observations(CommitSHA);
{{end}}
`))

// createTables creates any missing tables on the connection in
// db.sql. driverName is the same driver name passed to sql.Open and
// is used to select the correct syntax.
func (db *DB) createTables(driverName string) error {
	var buf bytes.Buffer
	if err := createTmpl.Execute(&buf, map[string]bool{driverName: true}); err != nil {
		return err
	}
	for _, q := range strings.Split(buf.String(), ";") {
		if strings.TrimSpace(q) == "" {
			continue
		}
		if _, err := db.sql.Exec(q); err != nil {
			return fmt.Errorf("create table: %v", err)
		}
	}
	return nil
}

// prepareStatements calls db.sql.Prepare on reusable SQL statements.
func (db *DB) prepareStatements() error {
	var err error
	db.insertObservation, err = db.sql.Prepare("INSERT INTO Observations(CommitSHA, CommitTime, Context, CaseKey, Unit, Value) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}
	// Newest first, so LIMIT keeps the most recent history.
	db.lookback, err = db.sql.Prepare("SELECT Value FROM Observations WHERE Context = ? AND CaseKey = ? AND CommitTime < ? ORDER BY CommitTime DESC, ObservationID DESC LIMIT ?")
	if err != nil {
		return err
	}
	db.commitObservations, err = db.sql.Prepare("SELECT CommitSHA, CommitTime, Context, CaseKey, Unit, Value FROM Observations WHERE CommitSHA = ? ORDER BY Context, CaseKey, ObservationID")
	if err != nil {
		return err
	}
	return nil
}

// Insert records observations in a single transaction.
func (db *DB) Insert(ctx context.Context, obs ...Observation) (err error) {
	tx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()
	stmt := tx.StmtContext(ctx, db.insertObservation)
	for _, o := range obs {
		if o.CommitSHA == "" || o.CaseKey == "" {
			return fmt.Errorf("insert observation: missing commit or case in %+v", o)
		}
		if _, err := stmt.ExecContext(ctx, o.CommitSHA, o.CommitTime.UnixNano(), o.Context, o.CaseKey, o.Unit, o.Value); err != nil {
			return fmt.Errorf("insert observation: %v", err)
		}
	}
	return nil
}

// Lookback returns up to n values of the series key observed at
// commits strictly before before, oldest first.
func (db *DB) Lookback(ctx context.Context, key Key, before time.Time, n int) ([]float64, error) {
	rows, err := db.lookback.QueryContext(ctx, key.Context, key.CaseKey, before.UnixNano(), n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var vals []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		vals = append(vals, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(vals)-1; i < j; i, j = i+1, j-1 {
		vals[i], vals[j] = vals[j], vals[i]
	}
	return vals, nil
}

// CommitObservations returns every observation recorded for the
// commit sha, ordered by context and case.
func (db *DB) CommitObservations(ctx context.Context, sha string) ([]Observation, error) {
	rows, err := db.commitObservations.QueryContext(ctx, sha)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var obs []Observation
	for rows.Next() {
		var o Observation
		var t int64
		if err := rows.Scan(&o.CommitSHA, &t, &o.Context, &o.CaseKey, &o.Unit, &o.Value); err != nil {
			return nil, err
		}
		o.CommitTime = time.Unix(0, t).UTC()
		obs = append(obs, o)
	}
	return obs, rows.Err()
}

// CountObservations returns the number of stored observations.
func (db *DB) CountObservations(ctx context.Context) (int, error) {
	var n int
	err := db.sql.QueryRowContext(ctx, "SELECT COUNT(*) FROM Observations").Scan(&n)
	return n, err
}

// Close closes the database connections, releasing any open resources.
func (db *DB) Close() error {
	for _, stmt := range []*sql.Stmt{db.insertObservation, db.lookback, db.commitObservations} {
		if err := stmt.Close(); err != nil {
			return err
		}
	}
	return db.sql.Close()
}
