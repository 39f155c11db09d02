// Copyright 2022 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sqlite3 provides the sqlite3 driver for
// github.com/benchalert/benchalert/storage/db. It must be imported
// instead of go-sqlite3 to ensure the history store is usable.
package sqlite3

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"

	"github.com/benchalert/benchalert/storage/db"
)

func init() {
	db.RegisterOpenHook("sqlite3", func(d *sql.DB) error {
		// Every connection to ":memory:" opens a new, empty
		// database, and sqlite serializes writers anyway.
		d.SetMaxOpenConns(1)
		return nil
	})
}
