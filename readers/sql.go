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
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/aaronlmathis/pipeflow/core"
	_ "github.com/lib/pq"  // PostgreSQL driver
	_ "modernc.org/sqlite" // SQLite driver
)

// Driver names accepted by the SQL reader and writer.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// SQLReaderError provides structured error information for SQL reader operations
type SQLReaderError struct {
	Op  string // Operation that failed (e.g., "connect", "query", "scan", "read")
	Err error  // Underlying error
}

func (e *SQLReaderError) Error() string {
	return fmt.Sprintf("sql reader %s: %v", e.Op, e.Err)
}

func (e *SQLReaderError) Unwrap() error {
	return e.Err
}

// SQLReaderStats holds statistics about the SQL reader's performance
type SQLReaderStats struct {
	RecordsRead     int64
	QueryDuration   time.Duration
	ReadDuration    time.Duration
	LastReadTime    time.Time
	NullValueCounts map[string]int64
}

// SQLReaderOptions configures the SQL reader
type SQLReaderOptions struct {
	Driver          string        // "postgres" or "sqlite"
	DSN             string        // Database connection string
	DB              *sql.DB       // Externally owned handle; DSN is ignored and Close leaves it open
	Query           string        // SQL query to execute
	Params          []any         // Optional query parameters
	BatchSize       int           // Rows per FETCH when a cursor is used
	MaxOpenConns    int           // Maximum open connections
	ConnMaxLifetime time.Duration // Maximum connection lifetime
	UseCursor       bool          // Stream through a server-side cursor (PostgreSQL)
	CursorName      string        // Name for the cursor (if UseCursor is true)
}

// ReaderOptionSQL represents a configuration function for SQLReaderOptions
type ReaderOptionSQL func(*SQLReaderOptions)

// WithSQLDriver selects the database driver.
func WithSQLDriver(driver string) ReaderOptionSQL {
	return func(opts *SQLReaderOptions) { opts.Driver = driver }
}

// WithSQLDSN sets the connection string.
func WithSQLDSN(dsn string) ReaderOptionSQL {
	return func(opts *SQLReaderOptions) { opts.DSN = dsn }
}

// WithSQLDB reads through an existing handle.
func WithSQLDB(db *sql.DB) ReaderOptionSQL {
	return func(opts *SQLReaderOptions) { opts.DB = db }
}

// WithSQLQuery sets the SQL query and optional parameters.
func WithSQLQuery(query string, params ...any) ReaderOptionSQL {
	return func(opts *SQLReaderOptions) {
		opts.Query = query
		opts.Params = append([]any(nil), params...)
	}
}

// WithSQLBatchSize sets the cursor fetch size.
func WithSQLBatchSize(size int) ReaderOptionSQL {
	return func(opts *SQLReaderOptions) { opts.BatchSize = size }
}

// WithSQLConnectionPool configures the connection pool.
func WithSQLConnectionPool(maxOpen int, lifetime time.Duration) ReaderOptionSQL {
	return func(opts *SQLReaderOptions) {
		opts.MaxOpenConns = maxOpen
		opts.ConnMaxLifetime = lifetime
	}
}

// WithSQLCursor enables server-side cursor streaming for large results.
func WithSQLCursor(useCursor bool, cursorName string) ReaderOptionSQL {
	return func(opts *SQLReaderOptions) {
		opts.UseCursor = useCursor
		opts.CursorName = cursorName
	}
}

// SQLReader implements core.Extractor over the rows of one query. The query
// runs on the first Read and rows are scanned one at a time.
type SQLReader struct {
	db          *sql.DB
	ownsDB      bool
	tx          *sql.Tx
	rows        *sql.Rows
	columnNames []string
	columnTypes []*sql.ColumnType
	scanBuffer  []any
	values      []any
	fetched     int // rows returned by the current FETCH
	started     bool
	finished    bool
	stats       SQLReaderStats
	opts        *SQLReaderOptions
}

// NewSQLReader creates a reader. The connection is opened immediately; the
// query runs on the first Read.
func NewSQLReader(options ...ReaderOptionSQL) (*SQLReader, error) {
	opts := &SQLReaderOptions{
		Driver:       DriverPostgres,
		BatchSize:    1000,
		MaxOpenConns: 4,
		CursorName:   "pipeflow_cursor",
	}
	for _, option := range options {
		option(opts)
	}

	if opts.Query == "" {
		return nil, &SQLReaderError{Op: "validate", Err: errors.New("query is required")}
	}
	if opts.Driver != DriverPostgres && opts.Driver != DriverSQLite {
		return nil, &SQLReaderError{Op: "validate", Err: fmt.Errorf("unsupported driver %q", opts.Driver)}
	}
	if opts.UseCursor {
		if opts.Driver != DriverPostgres {
			return nil, &SQLReaderError{Op: "validate", Err: errors.New("cursors require postgres")}
		}
		if !isValidCursorName(opts.CursorName) {
			return nil, &SQLReaderError{Op: "validate_cursor", Err: fmt.Errorf("invalid cursor name: %s", opts.CursorName)}
		}
		if opts.BatchSize <= 0 {
			opts.BatchSize = 1000
		}
	}

	reader := &SQLReader{
		opts:  opts,
		db:    opts.DB,
		stats: SQLReaderStats{NullValueCounts: make(map[string]int64)},
	}
	if reader.db == nil {
		if opts.DSN == "" {
			return nil, &SQLReaderError{Op: "validate", Err: errors.New("dsn is required")}
		}
		db, err := sql.Open(opts.Driver, opts.DSN)
		if err != nil {
			return nil, &SQLReaderError{Op: "connect", Err: err}
		}
		if opts.MaxOpenConns > 0 {
			db.SetMaxOpenConns(opts.MaxOpenConns)
		}
		if opts.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(opts.ConnMaxLifetime)
		}
		reader.db = db
		reader.ownsDB = true
	}
	return reader, nil
}

// Read implements core.Extractor.
func (p *SQLReader) Read(ctx context.Context) (core.Record, error) {
	startTime := time.Now()
	defer func() {
		p.stats.ReadDuration += time.Since(startTime)
		p.stats.LastReadTime = time.Now()
	}()

	select {
	case <-ctx.Done():
		return core.Record{}, &SQLReaderError{Op: "read", Err: ctx.Err()}
	default:
	}

	if p.db == nil {
		return core.Record{}, &SQLReaderError{Op: "read", Err: errors.New("reader is closed")}
	}
	if p.finished {
		return core.Record{}, io.EOF
	}
	if !p.started {
		p.started = true
		if err := p.executeQuery(ctx); err != nil {
			return core.Record{}, err
		}
	}

	for !p.rows.Next() {
		if err := p.rows.Err(); err != nil {
			return core.Record{}, &SQLReaderError{Op: "read", Err: err}
		}
		// A full FETCH means the cursor may have more rows.
		if p.tx != nil && p.fetched == p.opts.BatchSize {
			if err := p.fetchNext(ctx); err != nil {
				return core.Record{}, err
			}
			continue
		}
		p.finished = true
		return core.Record{}, io.EOF
	}
	p.fetched++

	if err := p.rows.Scan(p.scanBuffer...); err != nil {
		return core.Record{}, &SQLReaderError{Op: "scan", Err: err}
	}

	p.stats.RecordsRead++
	return p.convertRowToRecord(), nil
}

// Close releases all resources held by the SQL reader
func (p *SQLReader) Close() error {
	var errs []error

	if p.rows != nil {
		if err := p.rows.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing rows: %w", err))
		}
		p.rows = nil
	}
	if p.tx != nil {
		if err := p.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			errs = append(errs, fmt.Errorf("rolling back transaction: %w", err))
		}
		p.tx = nil
	}
	if p.db != nil && p.ownsDB {
		if err := p.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing database: %w", err))
		}
	}
	p.db = nil

	if len(errs) > 0 {
		return &SQLReaderError{Op: "close", Err: errors.Join(errs...)}
	}
	return nil
}

// Stats returns statistics about the SQL reader's performance
func (p *SQLReader) Stats() SQLReaderStats {
	stats := p.stats
	stats.NullValueCounts = make(map[string]int64, len(p.stats.NullValueCounts))
	for k, v := range p.stats.NullValueCounts {
		stats.NullValueCounts[k] = v
	}
	return stats
}

// Columns returns the result column names once the query has run.
func (p *SQLReader) Columns() []string {
	return append([]string(nil), p.columnNames...)
}

// executeQuery runs the query and prepares scan buffers.
func (p *SQLReader) executeQuery(ctx context.Context) error {
	startTime := time.Now()

	if p.opts.UseCursor {
		tx, err := p.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
		if err != nil {
			return &SQLReaderError{Op: "begin_transaction", Err: err}
		}
		p.tx = tx
		declareSQL := fmt.Sprintf("DECLARE %s NO SCROLL CURSOR FOR %s", p.opts.CursorName, p.opts.Query)
		if _, err := tx.ExecContext(ctx, declareSQL, p.opts.Params...); err != nil {
			return &SQLReaderError{Op: "declare_cursor", Err: err}
		}
		if err := p.fetchNext(ctx); err != nil {
			return err
		}
	} else {
		rows, err := p.db.QueryContext(ctx, p.opts.Query, p.opts.Params...)
		if err != nil {
			return &SQLReaderError{Op: "query", Err: err}
		}
		p.rows = rows
	}
	p.stats.QueryDuration = time.Since(startTime)

	columnNames, err := p.rows.Columns()
	if err != nil {
		return &SQLReaderError{Op: "columns", Err: err}
	}
	columnTypes, err := p.rows.ColumnTypes()
	if err != nil {
		return &SQLReaderError{Op: "column_types", Err: err}
	}
	p.columnNames = columnNames
	p.columnTypes = columnTypes

	p.values = make([]any, len(columnNames))
	p.scanBuffer = make([]any, len(columnNames))
	for i := range p.scanBuffer {
		p.scanBuffer[i] = &p.values[i]
	}
	return nil
}

func (p *SQLReader) fetchNext(ctx context.Context) error {
	if p.rows != nil {
		if err := p.rows.Close(); err != nil {
			return &SQLReaderError{Op: "fetch_cursor", Err: err}
		}
	}
	rows, err := p.tx.QueryContext(ctx, fmt.Sprintf("FETCH %d FROM %s", p.opts.BatchSize, p.opts.CursorName))
	if err != nil {
		return &SQLReaderError{Op: "fetch_cursor", Err: err}
	}
	p.rows = rows
	p.fetched = 0
	return nil
}

// isValidCursorName validates cursor name for SQL injection prevention
func isValidCursorName(name string) bool {
	for _, r := range name {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '_') {
			return false
		}
	}
	return len(name) > 0 && len(name) <= 63 // PostgreSQL identifier limit
}

// convertRowToRecord converts the scanned row values to a record
func (p *SQLReader) convertRowToRecord() core.Record {
	fields := make([]core.Field, len(p.columnNames))
	for i, name := range p.columnNames {
		value := p.values[i]
		if value == nil {
			p.stats.NullValueCounts[name]++
			fields[i] = core.F(name, core.Null{})
			continue
		}
		fields[i] = core.F(name, convertSQLValue(value, p.columnTypes[i].DatabaseTypeName()))
	}
	return core.NewRecord(fields...)
}

// convertSQLValue converts driver values to Values. Drivers return
// NUMERIC and text columns as bytes; those are decoded by column type.
func convertSQLValue(value any, dbType string) core.Value {
	b, ok := value.([]byte)
	if !ok {
		return core.FromGo(value)
	}
	s := string(b)
	switch strings.ToUpper(dbType) {
	case "NUMERIC", "DECIMAL":
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return core.Int(i)
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return core.Float(f)
		}
	}
	return core.String(s)
}
