// Copyright 2022 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dbtest opens history stores for tests.
package dbtest

import (
	"context"
	"flag"
	"testing"

	_ "github.com/go-sql-driver/mysql"

	"github.com/benchalert/benchalert/storage/db"
	_ "github.com/benchalert/benchalert/storage/db/sqlite3"
)

var mysqlDSN = flag.String("mysql", "", "run tests against the MySQL database `dsn` instead of in-memory SQLite")

// NewDB makes a connection to a testing database, either in-memory
// sqlite3 or MySQL depending on the -mysql flag. The database is
// closed when the test finishes.
func NewDB(t *testing.T) *db.DB {
	t.Helper()
	driverName, dataSourceName := "sqlite3", ":memory:"
	if *mysqlDSN != "" {
		driverName, dataSourceName = "mysql", *mysqlDSN
	}
	d, err := db.Open(driverName, dataSourceName)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { d.Close() })

	// Make sure the database really is empty.
	n, err := d.CountObservations(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("found %d row(s) in Observations, want 0", n)
	}
	return d
}
