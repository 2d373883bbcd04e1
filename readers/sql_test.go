//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Copyright (C) 2025 Aaron Mathis aaron.mathis@gmail.com
//
// This file is part of Pipeflow.
//
// Pipeflow is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Pipeflow is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Pipeflow. If not, see https://www.gnu.org/licenses/.

package readers

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/aaronlmathis/pipeflow/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedSQLite(t *testing.T) string {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "source.db")
	db, err := sql.Open(DriverSQLite, dsn)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT, score REAL, note TEXT)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO users (id, name, score, note) VALUES (1, 'Alice', 9.5, NULL), (2, 'Bob', 7.0, 'x'), (3, 'Cara', 8.25, NULL)`)
	require.NoError(t, err)
	return dsn
}

func TestSQLReaderSQLite(t *testing.T) {
	dsn := seedSQLite(t)
	r, err := NewSQLReader(
		WithSQLDriver(DriverSQLite),
		WithSQLDSN(dsn),
		WithSQLQuery(`SELECT id, name, score, note FROM users WHERE id >= ? ORDER BY id`, 1),
	)
	require.NoError(t, err)
	defer r.Close()

	records := readAll(t, r)
	require.Len(t, records, 3)
	assert.Equal(t, []string{"id", "name", "score", "note"}, records[0].Keys())
	assert.Equal(t, core.Int(1), records[0].Lookup("id"))
	assert.Equal(t, core.String("Alice"), records[0].Lookup("name"))
	assert.Equal(t, core.Float(9.5), records[0].Lookup("score"))
	assert.Equal(t, core.Null{}, records[0].Lookup("note"))
	assert.Equal(t, core.String("x"), records[1].Lookup("note"))

	stats := r.Stats()
	assert.Equal(t, int64(3), stats.RecordsRead)
	assert.Equal(t, int64(2), stats.NullValueCounts["note"])
	assert.Equal(t, []string{"id", "name", "score", "note"}, r.Columns())
}

func TestSQLReaderSharedDB(t *testing.T) {
	dsn := seedSQLite(t)
	db, err := sql.Open(DriverSQLite, dsn)
	require.NoError(t, err)
	defer db.Close()

	r, err := NewSQLReader(WithSQLDriver(DriverSQLite), WithSQLDB(db), WithSQLQuery(`SELECT name FROM users ORDER BY id`))
	require.NoError(t, err)
	assert.Len(t, readAll(t, r), 3)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	// The shared handle stays usable.
	assert.NoError(t, db.Ping())
}

func TestSQLReaderQueryError(t *testing.T) {
	dsn := seedSQLite(t)
	r, err := NewSQLReader(WithSQLDriver(DriverSQLite), WithSQLDSN(dsn), WithSQLQuery(`SELECT * FROM missing`))
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Read(context.Background())
	var sqlErr *SQLReaderError
	require.ErrorAs(t, err, &sqlErr)
	assert.Equal(t, "query", sqlErr.Op)
}

func TestSQLReaderValidation(t *testing.T) {
	tests := []struct {
		name        string
		options     []ReaderOptionSQL
		expectedErr string
	}{
		{"missing query", []ReaderOptionSQL{WithSQLDSN("x")}, "query is required"},
		{"missing dsn", []ReaderOptionSQL{WithSQLQuery("SELECT 1")}, "dsn is required"},
		{"bad driver", []ReaderOptionSQL{WithSQLDriver("oracle"), WithSQLQuery("SELECT 1")}, "unsupported driver"},
		{"cursor on sqlite", []ReaderOptionSQL{WithSQLDriver(DriverSQLite), WithSQLQuery("SELECT 1"), WithSQLCursor(true, "c")}, "cursors require postgres"},
		{"bad cursor name", []ReaderOptionSQL{WithSQLQuery("SELECT 1"), WithSQLCursor(true, "c; DROP TABLE x")}, "invalid cursor name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSQLReader(tt.options...)
			assert.ErrorContains(t, err, tt.expectedErr)
		})
	}
}

func TestSQLReaderErrorFormat(t *testing.T) {
	err := &SQLReaderError{Op: "connect", Err: assert.AnError}
	assert.Equal(t, "sql reader connect: "+assert.AnError.Error(), err.Error())
	assert.ErrorIs(t, err, assert.AnError)
}

func TestConvertSQLValue(t *testing.T) {
	assert.Equal(t, core.Int(12), convertSQLValue([]byte("12"), "NUMERIC"))
	assert.Equal(t, core.Float(1.25), convertSQLValue([]byte("1.25"), "numeric"))
	assert.Equal(t, core.String("abc"), convertSQLValue([]byte("abc"), "TEXT"))
	assert.Equal(t, core.Int(5), convertSQLValue(int64(5), "INTEGER"))
	assert.Equal(t, core.Bool(true), convertSQLValue(true, "BOOL"))
}
