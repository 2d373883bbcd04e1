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

package writers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/aaronlmathis/pipeflow/core"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// SQLWriterError wraps SQL write errors with context about the operation.
type SQLWriterError struct {
	Op  string // The operation being performed (e.g., "connect", "load")
	Err error  // The underlying error
}

// Error returns the error string for SQLWriterError.
func (e *SQLWriterError) Error() string {
	return fmt.Sprintf("sql writer %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for SQLWriterError.
func (e *SQLWriterError) Unwrap() error {
	return e.Err
}

// SQLWriterStats holds SQL write performance statistics.
type SQLWriterStats struct {
	RecordsWritten   int64            // Total records written
	BatchesWritten   int64            // Number of batches written
	TransactionCount int64            // Number of transactions committed
	LastWriteTime    time.Time        // Time of last write
	WriteDuration    time.Duration    // Total time spent writing
	ConnectionTime   time.Duration    // Time spent establishing connection
	NullValueCounts  map[string]int64 // Count of null values per column
	ConflictCount    int64            // Rows skipped by ON CONFLICT DO NOTHING
}

// Dialect selects the SQL flavour and database/sql driver.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// ConflictResolution defines how to handle INSERT conflicts.
type ConflictResolution int

const (
	// ConflictError returns an error on conflict (plain INSERT).
	ConflictError ConflictResolution = iota
	// ConflictIgnore ignores conflicting rows (ON CONFLICT DO NOTHING).
	ConflictIgnore
	// ConflictUpdate updates conflicting rows (ON CONFLICT DO UPDATE).
	ConflictUpdate
)

// SQLWriterOptions configures the SQL writer.
type SQLWriterOptions struct {
	Dialect            Dialect            // postgres or sqlite
	DSN                string             // Connection string, or database path for sqlite
	DB                 *sql.DB            // Externally managed handle; not closed by the writer
	TableName          string             // Target table name
	Columns            []string           // Columns to write; defaults to the first record's fields
	CreateTable        bool               // Create table if not exists
	TruncateTable      bool               // Empty the table before the first batch
	ConflictResolution ConflictResolution // Conflict handling strategy
	ConflictColumns    []string           // Columns that define uniqueness
	UpdateColumns      []string           // Columns to update on conflict; defaults to every other column
	ConnMaxLifetime    time.Duration      // Max connection lifetime
	MaxOpenConns       int                // Max open connections
	QueryTimeout       time.Duration      // Timeout for each batch
}

// SQLWriterOption represents a configuration function for SQLWriterOptions.
type SQLWriterOption func(*SQLWriterOptions)

// WithSQLDialect selects the database flavour.
func WithSQLDialect(dialect Dialect) SQLWriterOption {
	return func(opts *SQLWriterOptions) {
		opts.Dialect = dialect
	}
}

// WithSQLWriterDSN sets the connection string.
func WithSQLWriterDSN(dsn string) SQLWriterOption {
	return func(opts *SQLWriterOptions) {
		opts.DSN = dsn
	}
}

// WithSQLWriterDB writes through an existing handle.
func WithSQLWriterDB(db *sql.DB) SQLWriterOption {
	return func(opts *SQLWriterOptions) {
		opts.DB = db
	}
}

// WithTableName sets the target table name.
func WithTableName(tableName string) SQLWriterOption {
	return func(opts *SQLWriterOptions) {
		opts.TableName = tableName
	}
}

// WithColumns sets the columns to write.
func WithColumns(columns []string) SQLWriterOption {
	return func(opts *SQLWriterOptions) {
		opts.Columns = append([]string(nil), columns...)
	}
}

// WithCreateTable enables or disables table creation.
func WithCreateTable(create bool) SQLWriterOption {
	return func(opts *SQLWriterOptions) {
		opts.CreateTable = create
	}
}

// WithTruncateTable enables or disables table truncation before writing.
func WithTruncateTable(truncate bool) SQLWriterOption {
	return func(opts *SQLWriterOptions) {
		opts.TruncateTable = truncate
	}
}

// WithConflictResolution sets the conflict resolution strategy and columns.
func WithConflictResolution(resolution ConflictResolution, conflictCols, updateCols []string) SQLWriterOption {
	return func(opts *SQLWriterOptions) {
		opts.ConflictResolution = resolution
		opts.ConflictColumns = append([]string(nil), conflictCols...)
		opts.UpdateColumns = append([]string(nil), updateCols...)
	}
}

// WithUpsert is shorthand for ConflictUpdate on a single key, updating every other column.
func WithUpsert(conflictKey string) SQLWriterOption {
	return WithConflictResolution(ConflictUpdate, []string{conflictKey}, nil)
}

// WithSQLWriterConnectionPool configures the connection pool.
func WithSQLWriterConnectionPool(maxOpen int, maxLifetime time.Duration) SQLWriterOption {
	return func(opts *SQLWriterOptions) {
		opts.MaxOpenConns = maxOpen
		opts.ConnMaxLifetime = maxLifetime
	}
}

// WithSQLQueryTimeout sets the per-batch timeout.
func WithSQLQueryTimeout(timeout time.Duration) SQLWriterOption {
	return func(opts *SQLWriterOptions) {
		opts.QueryTimeout = timeout
	}
}

// SQLWriter implements core.Loader for PostgreSQL and SQLite. The table is
// created from the first record and every batch is written in one transaction.
type SQLWriter struct {
	db          *sql.DB
	ownsDB      bool
	options     SQLWriterOptions
	columns     []string
	columnSet   map[string]struct{}
	insertSQL   string
	stats       SQLWriterStats
	initialized bool
	errorState  bool
	closed      bool
	mu          sync.Mutex
}

// NewSQLWriter creates a new SQL writer. The connection is opened on the
// first non-empty batch.
func NewSQLWriter(opts ...SQLWriterOption) (*SQLWriter, error) {
	options := &SQLWriterOptions{
		Dialect:     DialectSQLite,
		CreateTable: true,
	}
	for _, opt := range opts {
		opt(options)
	}
	options = options.withDefaults()

	if err := validateSQLWriterOptions(options); err != nil {
		return nil, &SQLWriterError{Op: "validate", Err: err}
	}

	return &SQLWriter{
		options: *options,
		stats:   SQLWriterStats{NullValueCounts: make(map[string]int64)},
	}, nil
}

// withDefaults applies default values to SQLWriterOptions.
func (opts *SQLWriterOptions) withDefaults() *SQLWriterOptions {
	if opts.QueryTimeout == 0 {
		opts.QueryTimeout = 30 * time.Second
	}
	if opts.ConnMaxLifetime == 0 {
		opts.ConnMaxLifetime = 5 * time.Minute
	}
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 10
	}
	return opts
}

// validateSQLWriterOptions validates the SQL writer options.
func validateSQLWriterOptions(opts *SQLWriterOptions) error {
	if opts.Dialect != DialectPostgres && opts.Dialect != DialectSQLite {
		return fmt.Errorf("unsupported dialect %q", opts.Dialect)
	}
	if opts.DSN == "" && opts.DB == nil {
		return errors.New("dsn is required")
	}
	if opts.TableName == "" {
		return errors.New("table name is required")
	}
	if opts.ConflictResolution != ConflictError && len(opts.ConflictColumns) == 0 {
		return errors.New("conflict columns required for conflict resolution")
	}
	return nil
}

// Stats returns a copy of the current write statistics.
func (w *SQLWriter) Stats() SQLWriterStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	statsCopy := w.stats
	statsCopy.NullValueCounts = make(map[string]int64, len(w.stats.NullValueCounts))
	for k, v := range w.stats.NullValueCounts {
		statsCopy.NullValueCounts[k] = v
	}
	return statsCopy
}

// Columns returns the target columns, or nil before the first batch.
func (w *SQLWriter) Columns() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.columns...)
}

// Load implements core.Loader. Either the whole batch is committed or none of it is.
func (w *SQLWriter) Load(ctx context.Context, records []core.Record) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(records) == 0 {
		return 0, nil
	}
	if w.closed {
		return 0, &SQLWriterError{Op: "load", Err: errors.New("writer is closed")}
	}
	if w.errorState {
		return 0, &SQLWriterError{Op: "load", Err: errors.New("writer is in error state")}
	}

	ctx, cancel := context.WithTimeout(ctx, w.options.QueryTimeout)
	defer cancel()

	if w.db == nil {
		if err := w.connectUnsafe(ctx); err != nil {
			w.errorState = true
			return 0, &SQLWriterError{Op: "connect", Err: err}
		}
	}
	if !w.initialized {
		if err := w.initializeUnsafe(ctx, records[0]); err != nil {
			w.errorState = true
			return 0, &SQLWriterError{Op: "initialize", Err: err}
		}
	}

	rows := make([][]any, len(records))
	for i, record := range records {
		for _, name := range record.Keys() {
			if _, ok := w.columnSet[name]; !ok {
				return 0, &SQLWriterError{Op: "load", Err: fmt.Errorf("record %d: column %q is not in table %q", i, name, w.options.TableName)}
			}
		}
		values := make([]any, len(w.columns))
		for j, col := range w.columns {
			values[j] = w.convertValue(record.Lookup(col))
		}
		rows[i] = values
	}

	if err := w.writeBatchUnsafe(ctx, rows); err != nil {
		return 0, &SQLWriterError{Op: "write_batch", Err: err}
	}

	for _, record := range records {
		for _, col := range w.columns {
			if core.IsNull(record.Lookup(col)) {
				w.stats.NullValueCounts[col]++
			}
		}
	}
	w.stats.RecordsWritten += int64(len(records))
	return len(records), nil
}

// connectUnsafe opens the database and configures the connection pool (must hold mutex).
func (w *SQLWriter) connectUnsafe(ctx context.Context) error {
	start := time.Now()

	if w.options.DB != nil {
		w.db = w.options.DB
		return nil
	}

	db, err := sql.Open(string(w.options.Dialect), w.options.DSN)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	if w.options.Dialect == DialectSQLite {
		// sqlite allows a single writer
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(w.options.MaxOpenConns)
	}
	db.SetConnMaxLifetime(w.options.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	w.db = db
	w.ownsDB = true
	w.stats.ConnectionTime = time.Since(start)
	return nil
}

// initializeUnsafe performs one-time initialization (must hold mutex).
func (w *SQLWriter) initializeUnsafe(ctx context.Context, firstRecord core.Record) error {
	w.columns = append([]string(nil), w.options.Columns...)
	if len(w.columns) == 0 {
		w.columns = firstRecord.Keys()
	}
	w.columnSet = make(map[string]struct{}, len(w.columns))
	for _, col := range w.columns {
		w.columnSet[col] = struct{}{}
	}
	for _, col := range w.options.ConflictColumns {
		if _, ok := w.columnSet[col]; !ok {
			return fmt.Errorf("conflict column %q is not one of the record columns", col)
		}
	}

	if w.options.CreateTable {
		if err := w.createTableUnsafe(ctx, firstRecord); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	if w.options.TruncateTable {
		if err := w.truncateTableUnsafe(ctx); err != nil {
			return fmt.Errorf("failed to truncate table: %w", err)
		}
	}

	w.insertSQL = w.buildInsertSQL()
	w.initialized = true
	return nil
}

// createTableUnsafe creates the target table based on the first record (must hold mutex).
func (w *SQLWriter) createTableUnsafe(ctx context.Context, record core.Record) error {
	defs := make([]string, 0, len(w.columns)+1)
	for _, col := range w.columns {
		defs = append(defs, fmt.Sprintf("%s %s", quoteIdent(col), w.inferSQLType(record.Lookup(col))))
	}
	if len(w.options.ConflictColumns) > 0 {
		defs = append(defs, fmt.Sprintf("UNIQUE (%s)", quoteIdents(w.options.ConflictColumns)))
	}

	query := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quoteIdent(w.options.TableName), strings.Join(defs, ", "))
	_, err := w.db.ExecContext(ctx, query)
	return err
}

// truncateTableUnsafe empties the target table (must hold mutex).
func (w *SQLWriter) truncateTableUnsafe(ctx context.Context) error {
	query := fmt.Sprintf("TRUNCATE TABLE %s", quoteIdent(w.options.TableName))
	if w.options.Dialect == DialectSQLite {
		query = fmt.Sprintf("DELETE FROM %s", quoteIdent(w.options.TableName))
	}
	_, err := w.db.ExecContext(ctx, query)
	return err
}

// buildInsertSQL renders the INSERT statement for the configured conflict strategy.
func (w *SQLWriter) buildInsertSQL() string {
	placeholders := make([]string, len(w.columns))
	for i := range placeholders {
		if w.options.Dialect == DialectPostgres {
			placeholders[i] = fmt.Sprintf("$%d", i+1)
		} else {
			placeholders[i] = "?"
		}
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(w.options.TableName),
		quoteIdents(w.columns),
		strings.Join(placeholders, ", "))

	switch w.options.ConflictResolution {
	case ConflictIgnore:
		query += fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", quoteIdents(w.options.ConflictColumns))
	case ConflictUpdate:
		updateCols := w.options.UpdateColumns
		if len(updateCols) == 0 {
			conflict := make(map[string]struct{}, len(w.options.ConflictColumns))
			for _, col := range w.options.ConflictColumns {
				conflict[col] = struct{}{}
			}
			for _, col := range w.columns {
				if _, ok := conflict[col]; !ok {
					updateCols = append(updateCols, col)
				}
			}
		}
		if len(updateCols) == 0 {
			query += fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", quoteIdents(w.options.ConflictColumns))
			break
		}
		updateClauses := make([]string, len(updateCols))
		for i, col := range updateCols {
			updateClauses[i] = fmt.Sprintf("%s = excluded.%s", quoteIdent(col), quoteIdent(col))
		}
		query += fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s",
			quoteIdents(w.options.ConflictColumns),
			strings.Join(updateClauses, ", "))
	}
	return query
}

// writeBatchUnsafe writes rows in a single transaction (must hold mutex).
func (w *SQLWriter) writeBatchUnsafe(ctx context.Context, rows [][]any) (err error) {
	start := time.Now()

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, w.insertSQL)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	var conflicts int64
	for _, values := range rows {
		result, execErr := stmt.ExecContext(ctx, values...)
		if execErr != nil {
			return fmt.Errorf("failed to execute insert: %w", execErr)
		}
		if affected, raErr := result.RowsAffected(); raErr == nil && affected == 0 {
			conflicts++
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	w.stats.ConflictCount += conflicts
	w.stats.TransactionCount++
	w.stats.BatchesWritten++
	w.stats.LastWriteTime = time.Now()
	w.stats.WriteDuration += time.Since(start)
	return nil
}

// inferSQLType infers a column type from the first record's value.
func (w *SQLWriter) inferSQLType(value core.Value) string {
	pg := w.options.Dialect == DialectPostgres
	switch value.(type) {
	case core.Bool:
		if pg {
			return "BOOLEAN"
		}
		return "INTEGER"
	case core.Int:
		if pg {
			return "BIGINT"
		}
		return "INTEGER"
	case core.Float:
		if pg {
			return "DOUBLE PRECISION"
		}
		return "REAL"
	case core.Time:
		if pg {
			return "TIMESTAMPTZ"
		}
		return "TEXT"
	case core.List, core.Map:
		if pg {
			return "JSONB"
		}
		return "TEXT"
	default:
		return "TEXT"
	}
}

// convertValue converts a record value to a driver argument.
func (w *SQLWriter) convertValue(value core.Value) any {
	switch v := value.(type) {
	case nil, core.Null:
		return nil
	case core.Bool:
		return bool(v)
	case core.Int:
		return int64(v)
	case core.Float:
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		return f
	case core.String:
		return string(v)
	case core.Time:
		if w.options.Dialect == DialectSQLite {
			return v.Std().Format(time.RFC3339Nano)
		}
		return v.Std()
	case core.List, core.Map:
		data, err := core.MarshalValue(v)
		if err != nil {
			return v.String()
		}
		return string(data)
	default:
		return value.String()
	}
}

// Close releases the connection. It is idempotent and never closes an external handle.
func (w *SQLWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	if w.db != nil && w.ownsDB {
		if err := w.db.Close(); err != nil {
			return &SQLWriterError{Op: "close", Err: err}
		}
	}
	w.db = nil
	return nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteIdents(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = quoteIdent(n)
	}
	return strings.Join(quoted, ", ")
}
