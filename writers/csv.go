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
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/aaronlmathis/pipeflow/core"
)

// CSVWriterError wraps CSV-specific write errors with context.
type CSVWriterError struct {
	Op  string
	Err error
}

func (e *CSVWriterError) Error() string {
	return fmt.Sprintf("csv writer %s: %v", e.Op, e.Err)
}

func (e *CSVWriterError) Unwrap() error {
	return e.Err
}

// CSVWriterStats holds CSV write performance statistics.
type CSVWriterStats struct {
	RecordsWritten  int64
	FlushCount      int64
	FlushDuration   time.Duration
	LastFlushTime   time.Time
	NullValueCounts map[string]int64
}

// CSVWriterOptions configures CSV output.
type CSVWriterOptions struct {
	Comma       rune
	UseCRLF     bool
	WriteHeader bool
	Headers     []string
}

// WriterOptionCSV is a functional option.
type WriterOptionCSV func(*CSVWriterOptions)

// WithHeaders fixes the column order instead of taking it from the first record.
func WithHeaders(headers []string) WriterOptionCSV {
	return func(opts *CSVWriterOptions) {
		opts.Headers = append([]string(nil), headers...) // copy
	}
}

func WithComma(delim rune) WriterOptionCSV {
	return func(opts *CSVWriterOptions) {
		opts.Comma = delim
	}
}

func WithWriteHeader(write bool) WriterOptionCSV {
	return func(opts *CSVWriterOptions) {
		opts.WriteHeader = write
	}
}

func WithUseCRLF(useCRLF bool) WriterOptionCSV {
	return func(opts *CSVWriterOptions) {
		opts.UseCRLF = useCRLF
	}
}

// CSVWriter implements core.Loader for CSV output. The destination is opened
// on the first non-empty batch, so a run that loads nothing leaves no file.
type CSVWriter struct {
	open        func() (io.WriteCloser, error)
	writer      *csv.Writer
	closer      io.Closer
	options     CSVWriterOptions
	headers     []string
	columns     map[string]struct{}
	stats       CSVWriterStats
	wroteHeader bool
	errorState  bool
	closed      bool
	mu          sync.Mutex
}

// NewCSVWriter writes to an already open destination, which Close closes.
func NewCSVWriter(w io.WriteCloser, opts ...WriterOptionCSV) (*CSVWriter, error) {
	if w == nil {
		return nil, &CSVWriterError{Op: "new", Err: errors.New("writer is nil")}
	}
	return newCSVWriter(func() (io.WriteCloser, error) { return w, nil }, opts...)
}

// NewCSVFileWriter creates (or truncates) path when the first records arrive.
func NewCSVFileWriter(path string, opts ...WriterOptionCSV) (*CSVWriter, error) {
	if path == "" {
		return nil, &CSVWriterError{Op: "new", Err: errors.New("path is required")}
	}
	return newCSVWriter(func() (io.WriteCloser, error) { return os.Create(path) }, opts...)
}

func newCSVWriter(open func() (io.WriteCloser, error), opts ...WriterOptionCSV) (*CSVWriter, error) {
	options := CSVWriterOptions{
		Comma:       ',',
		UseCRLF:     false,
		WriteHeader: true,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.Comma == '\r' || options.Comma == '\n' || options.Comma == '"' || options.Comma == 0 {
		return nil, &CSVWriterError{Op: "new", Err: fmt.Errorf("invalid delimiter %q", options.Comma)}
	}

	c := &CSVWriter{
		open:    open,
		options: options,
		stats:   CSVWriterStats{NullValueCounts: make(map[string]int64)},
	}
	if len(options.Headers) > 0 {
		c.setHeaders(options.Headers)
	}
	return c, nil
}

func (c *CSVWriter) setHeaders(headers []string) {
	c.headers = append([]string(nil), headers...)
	c.columns = make(map[string]struct{}, len(headers))
	for _, h := range headers {
		c.columns[h] = struct{}{}
	}
}

// Load implements core.Loader. The whole batch is checked against the header
// before any row is written, so a rejected batch leaves the file untouched.
func (c *CSVWriter) Load(ctx context.Context, records []core.Record) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(records) == 0 {
		return 0, nil
	}
	if c.closed {
		return 0, &CSVWriterError{Op: "load", Err: errors.New("writer is closed")}
	}
	if c.errorState {
		return 0, &CSVWriterError{Op: "load", Err: errors.New("writer is in error state")}
	}
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	if c.headers == nil {
		c.setHeaders(records[0].Keys())
	}
	for i, record := range records {
		for _, name := range record.Keys() {
			if _, ok := c.columns[name]; !ok {
				return 0, &CSVWriterError{
					Op:  "load",
					Err: fmt.Errorf("record %d: dict contains fields not in fieldnames: '%s'", i, name),
				}
			}
		}
	}

	if c.writer == nil {
		w, err := c.open()
		if err != nil {
			c.errorState = true
			return 0, &CSVWriterError{Op: "open", Err: err}
		}
		c.closer = w
		c.writer = csv.NewWriter(w)
		c.writer.Comma = c.options.Comma
		c.writer.UseCRLF = c.options.UseCRLF
	}

	if !c.wroteHeader && c.options.WriteHeader {
		if err := c.writer.Write(c.headers); err != nil {
			c.errorState = true
			return 0, &CSVWriterError{Op: "write_header", Err: err}
		}
		c.wroteHeader = true
	}

	row := make([]string, len(c.headers))
	for _, record := range records {
		for i, h := range c.headers {
			v := record.Lookup(h)
			if core.IsNull(v) {
				c.stats.NullValueCounts[h]++
			}
			row[i] = csvCell(v)
		}
		if err := c.writer.Write(row); err != nil {
			c.errorState = true
			return 0, &CSVWriterError{Op: "write_record", Err: err}
		}
	}

	if err := c.flushUnsafe(); err != nil {
		c.errorState = true
		return 0, &CSVWriterError{Op: "flush", Err: err}
	}
	c.stats.RecordsWritten += int64(len(records))
	return len(records), nil
}

// csvCell renders a value the way str() does, with null as an empty cell.
func csvCell(v core.Value) string {
	if core.IsNull(v) {
		return ""
	}
	return v.String()
}

func (c *CSVWriter) flushUnsafe() error {
	start := time.Now()
	c.writer.Flush()
	if err := c.writer.Error(); err != nil {
		return err
	}
	c.stats.FlushCount++
	c.stats.FlushDuration += time.Since(start)
	c.stats.LastFlushTime = time.Now()
	return nil
}

// Headers returns the column order in use, or nil before the first load.
func (c *CSVWriter) Headers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.headers...)
}

// Stats returns a copy of the write statistics.
func (c *CSVWriter) Stats() CSVWriterStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := c.stats
	stats.NullValueCounts = make(map[string]int64, len(c.stats.NullValueCounts))
	for k, v := range c.stats.NullValueCounts {
		stats.NullValueCounts[k] = v
	}
	return stats
}

// Close flushes buffered rows and closes the destination. It is idempotent.
func (c *CSVWriter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.writer == nil {
		return nil
	}
	var errs []error
	if !c.errorState {
		if err := c.flushUnsafe(); err != nil {
			errs = append(errs, &CSVWriterError{Op: "flush", Err: err})
		}
	}
	if err := c.closer.Close(); err != nil {
		errs = append(errs, &CSVWriterError{Op: "close", Err: err})
	}
	c.writer = nil
	return errors.Join(errs...)
}
