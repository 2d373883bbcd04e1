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
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/aaronlmathis/pipeflow/core"
)

// JSONWriterError wraps JSON-specific write errors with context.
type JSONWriterError struct {
	Op  string
	Err error
}

func (e *JSONWriterError) Error() string {
	return fmt.Sprintf("json writer %s: %v", e.Op, e.Err)
}

func (e *JSONWriterError) Unwrap() error {
	return e.Err
}

// JSONWriterStats holds JSON write statistics.
type JSONWriterStats struct {
	RecordsWritten int64
	BytesWritten   int64
	FlushCount     int64
}

// JSONWriterOptions configures JSON lines output.
type JSONWriterOptions struct {
	BufferSize   int
	FlushOnWrite bool
}

// WriterOptionJSON is a functional option.
type WriterOptionJSON func(*JSONWriterOptions)

func WithJSONBufferSize(size int) WriterOptionJSON {
	return func(opts *JSONWriterOptions) {
		opts.BufferSize = size
	}
}

// WithFlushOnWrite flushes after every batch instead of only on Close.
func WithFlushOnWrite(enabled bool) WriterOptionJSON {
	return func(opts *JSONWriterOptions) {
		opts.FlushOnWrite = enabled
	}
}

// JSONWriter implements core.Loader for line-delimited JSON. Each record is
// one object with keys in field order.
type JSONWriter struct {
	open       func() (io.WriteCloser, error)
	writer     *bufio.Writer
	closer     io.Closer
	options    JSONWriterOptions
	stats      JSONWriterStats
	errorState bool
	closed     bool
	mu         sync.Mutex
}

// NewJSONWriter creates a JSON lines writer over an open destination.
func NewJSONWriter(w io.WriteCloser, opts ...WriterOptionJSON) (*JSONWriter, error) {
	if w == nil {
		return nil, &JSONWriterError{Op: "new", Err: errors.New("writer is nil")}
	}
	return newJSONWriter(func() (io.WriteCloser, error) { return w, nil }, opts...), nil
}

// NewJSONFileWriter creates (or truncates) path when the first records arrive.
func NewJSONFileWriter(path string, opts ...WriterOptionJSON) (*JSONWriter, error) {
	if path == "" {
		return nil, &JSONWriterError{Op: "new", Err: errors.New("path is required")}
	}
	return newJSONWriter(func() (io.WriteCloser, error) { return os.Create(path) }, opts...), nil
}

func newJSONWriter(open func() (io.WriteCloser, error), opts ...WriterOptionJSON) *JSONWriter {
	options := JSONWriterOptions{
		BufferSize:   64 * 1024,
		FlushOnWrite: true,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.BufferSize <= 0 {
		options.BufferSize = 4096
	}
	return &JSONWriter{open: open, options: options}
}

// Load implements core.Loader. Records are encoded up front so a record that
// cannot be encoded rejects the batch before anything is written.
func (j *JSONWriter) Load(ctx context.Context, records []core.Record) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if len(records) == 0 {
		return 0, nil
	}
	if j.closed {
		return 0, &JSONWriterError{Op: "load", Err: errors.New("writer is closed")}
	}
	if j.errorState {
		return 0, &JSONWriterError{Op: "load", Err: errors.New("writer is in error state")}
	}
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	lines := make([][]byte, len(records))
	for i, record := range records {
		data, err := record.MarshalJSON()
		if err != nil {
			return 0, &JSONWriterError{Op: "marshal", Err: fmt.Errorf("record %d: %w", i, err)}
		}
		lines[i] = data
	}

	if j.writer == nil {
		w, err := j.open()
		if err != nil {
			j.errorState = true
			return 0, &JSONWriterError{Op: "open", Err: err}
		}
		j.closer = w
		j.writer = bufio.NewWriterSize(w, j.options.BufferSize)
	}

	for _, line := range lines {
		n, err := j.writer.Write(line)
		if err == nil {
			err = j.writer.WriteByte('\n')
			n++
		}
		j.stats.BytesWritten += int64(n)
		if err != nil {
			j.errorState = true
			return 0, &JSONWriterError{Op: "write", Err: err}
		}
	}

	if j.options.FlushOnWrite {
		if err := j.flushUnsafe(); err != nil {
			j.errorState = true
			return 0, &JSONWriterError{Op: "flush", Err: err}
		}
	}
	j.stats.RecordsWritten += int64(len(records))
	return len(records), nil
}

func (j *JSONWriter) flushUnsafe() error {
	if err := j.writer.Flush(); err != nil {
		return err
	}
	j.stats.FlushCount++
	return nil
}

// Stats returns a copy of the write statistics.
func (j *JSONWriter) Stats() JSONWriterStats {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.stats
}

// Close flushes and closes the destination. It is idempotent.
func (j *JSONWriter) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	if j.writer == nil {
		return nil
	}
	var errs []error
	if !j.errorState {
		if err := j.flushUnsafe(); err != nil {
			errs = append(errs, &JSONWriterError{Op: "flush", Err: err})
		}
	}
	if err := j.closer.Close(); err != nil {
		errs = append(errs, &JSONWriterError{Op: "close", Err: err})
	}
	j.writer = nil
	return errors.Join(errs...)
}
