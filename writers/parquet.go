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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/array"
	"github.com/apache/arrow/go/v12/arrow/memory"
	"github.com/apache/arrow/go/v12/parquet"
	"github.com/apache/arrow/go/v12/parquet/compress"
	"github.com/apache/arrow/go/v12/parquet/pqarrow"

	"github.com/aaronlmathis/pipeflow/core"
)

// ParquetWriterError wraps Parquet-specific write errors with context about the operation.
type ParquetWriterError struct {
	Op  string // Operation that failed (e.g., "schema", "append_value", "write_batch")
	Err error  // Underlying error
}

// Error returns the error string for ParquetWriterError.
func (e *ParquetWriterError) Error() string {
	return fmt.Sprintf("parquet writer %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for ParquetWriterError.
func (e *ParquetWriterError) Unwrap() error {
	return e.Err
}

// ParquetWriterOptions configures the Parquet writer.
type ParquetWriterOptions struct {
	Compression  compress.Compression // Compression algorithm
	FieldOrder   []string             // Explicit field ordering
	RowGroupSize int64                // Upper bound on rows per row group
	Metadata     map[string]string    // File metadata
}

// ParquetWriterStats holds statistics about the Parquet writer's performance.
type ParquetWriterStats struct {
	RecordsWritten  int64
	BatchesWritten  int64
	FlushDuration   time.Duration
	LastFlushTime   time.Time
	NullValueCounts map[string]int64
}

// WriterOptionParquet represents a configuration function for ParquetWriterOptions.
type WriterOptionParquet func(*ParquetWriterOptions)

// WithCompression sets the Parquet compression algorithm.
func WithCompression(compression compress.Compression) WriterOptionParquet {
	return func(opts *ParquetWriterOptions) {
		opts.Compression = compression
	}
}

// WithFieldOrder sets the explicit field ordering for the Parquet schema.
func WithFieldOrder(fields []string) WriterOptionParquet {
	return func(opts *ParquetWriterOptions) {
		opts.FieldOrder = append([]string(nil), fields...)
	}
}

// WithRowGroupSize caps the number of rows in a row group.
func WithRowGroupSize(size int64) WriterOptionParquet {
	return func(opts *ParquetWriterOptions) {
		opts.RowGroupSize = size
	}
}

// WithMetadata sets user metadata stored with the Arrow schema.
func WithMetadata(metadata map[string]string) WriterOptionParquet {
	return func(opts *ParquetWriterOptions) {
		if opts.Metadata == nil {
			opts.Metadata = make(map[string]string)
		}
		for k, v := range metadata {
			opts.Metadata[k] = v
		}
	}
}

// ParquetWriter implements core.Loader for Parquet files. The Arrow schema
// is inferred from the first batch and each batch becomes one row group.
type ParquetWriter struct {
	filename   string
	file       *os.File
	writer     *pqarrow.FileWriter
	schema     *arrow.Schema
	fieldOrder []string
	fieldIndex map[string]int
	allocator  memory.Allocator
	opts       ParquetWriterOptions
	stats      ParquetWriterStats
	errorState bool
	closed     bool
	mu         sync.Mutex
}

// NewParquetWriter creates a writer for filename. The file is created when
// the first records arrive.
func NewParquetWriter(filename string, options ...WriterOptionParquet) (*ParquetWriter, error) {
	if filename == "" {
		return nil, &ParquetWriterError{Op: "new", Err: errors.New("filename is required")}
	}
	opts := ParquetWriterOptions{}
	for _, option := range options {
		option(&opts)
	}
	if opts.RowGroupSize <= 0 {
		opts.RowGroupSize = parquet.DefaultMaxRowGroupLen
	}
	if opts.Compression == 0 {
		opts.Compression = compress.Codecs.Snappy
	}

	return &ParquetWriter{
		filename:  filename,
		allocator: memory.NewGoAllocator(),
		opts:      opts,
		stats:     ParquetWriterStats{NullValueCounts: make(map[string]int64)},
	}, nil
}

// Stats returns a copy of the writer statistics.
func (p *ParquetWriter) Stats() ParquetWriterStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	stats := p.stats
	stats.NullValueCounts = make(map[string]int64, len(p.stats.NullValueCounts))
	for k, v := range p.stats.NullValueCounts {
		stats.NullValueCounts[k] = v
	}
	return stats
}

// Schema returns the inferred schema, or nil before the first batch.
func (p *ParquetWriter) Schema() *arrow.Schema {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.schema
}

// Load implements core.Loader. The batch is converted completely before
// anything is written, so a rejected batch leaves the file as it was.
func (p *ParquetWriter) Load(ctx context.Context, records []core.Record) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(records) == 0 {
		return 0, nil
	}
	if p.closed {
		return 0, &ParquetWriterError{Op: "load", Err: errors.New("parquet writer is closed")}
	}
	if p.errorState {
		return 0, &ParquetWriterError{Op: "load", Err: errors.New("writer is in error state")}
	}
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	if p.schema == nil {
		if err := p.initializeSchema(records); err != nil {
			p.errorState = true
			return 0, err
		}
	}

	startTime := time.Now()
	rec, nulls, err := p.createArrowRecord(records)
	if err != nil {
		return 0, err
	}
	defer rec.Release()

	if err := p.writer.Write(rec); err != nil {
		p.errorState = true
		return 0, &ParquetWriterError{Op: "write_batch", Err: fmt.Errorf("failed to write record batch: %w", err)}
	}

	for name, n := range nulls {
		p.stats.NullValueCounts[name] += n
	}
	p.stats.RecordsWritten += int64(len(records))
	p.stats.BatchesWritten++
	p.stats.FlushDuration += time.Since(startTime)
	p.stats.LastFlushTime = time.Now()
	return len(records), nil
}

// initializeSchema infers the Arrow schema from the first batch and opens the file.
func (p *ParquetWriter) initializeSchema(records []core.Record) error {
	fieldNames := p.opts.FieldOrder
	if len(fieldNames) == 0 {
		fieldNames = records[0].Keys()
	}

	fields := make([]arrow.Field, len(fieldNames))
	for i, name := range fieldNames {
		// the first non-null value in the batch decides the column type
		var dataType arrow.DataType = arrow.BinaryTypes.String
		for _, record := range records {
			if v := record.Lookup(name); !core.IsNull(v) {
				dataType = inferArrowType(v)
				break
			}
		}
		fields[i] = arrow.Field{Name: name, Type: dataType, Nullable: true}
	}

	var md *arrow.Metadata
	if len(p.opts.Metadata) > 0 {
		m := arrow.MetadataFrom(p.opts.Metadata)
		md = &m
	}
	schema := arrow.NewSchema(fields, md)

	dir := filepath.Dir(p.filename)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return &ParquetWriterError{Op: "create_directory", Err: fmt.Errorf("failed to create directory %s: %w", dir, err)}
		}
	}
	file, err := os.Create(p.filename)
	if err != nil {
		return &ParquetWriterError{Op: "open_file", Err: fmt.Errorf("failed to create parquet file %s: %w", p.filename, err)}
	}

	props := parquet.NewWriterProperties(
		parquet.WithCompression(p.opts.Compression),
		parquet.WithMaxRowGroupLength(p.opts.RowGroupSize),
		parquet.WithAllocator(p.allocator),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema(), pqarrow.WithAllocator(p.allocator))

	writer, err := pqarrow.NewFileWriter(schema, file, props, arrowProps)
	if err != nil {
		file.Close()
		return &ParquetWriterError{Op: "create_writer", Err: fmt.Errorf("failed to create parquet file writer: %w", err)}
	}

	p.file = file
	p.writer = writer
	p.schema = schema
	p.fieldOrder = fieldNames
	p.fieldIndex = make(map[string]int, len(fieldNames))
	for i, name := range fieldNames {
		p.fieldIndex[name] = i
	}
	return nil
}

// inferArrowType maps a record value to the Arrow type of its column.
func inferArrowType(value core.Value) arrow.DataType {
	switch value.(type) {
	case core.Bool:
		return arrow.FixedWidthTypes.Boolean
	case core.Int:
		return arrow.PrimitiveTypes.Int64
	case core.Float:
		return arrow.PrimitiveTypes.Float64
	case core.Time:
		return arrow.FixedWidthTypes.Timestamp_us
	default:
		// strings, and lists and maps as JSON text
		return arrow.BinaryTypes.String
	}
}

// createArrowRecord converts a batch into an Arrow record.
func (p *ParquetWriter) createArrowRecord(records []core.Record) (arrow.Record, map[string]int64, error) {
	builder := array.NewRecordBuilder(p.allocator, p.schema)
	defer builder.Release()

	nulls := make(map[string]int64)
	for i, record := range records {
		for _, name := range record.Keys() {
			if _, ok := p.fieldIndex[name]; !ok {
				return nil, nil, &ParquetWriterError{Op: "schema", Err: fmt.Errorf("record %d: field %q is not in the schema", i, name)}
			}
		}
		for j, name := range p.fieldOrder {
			value := record.Lookup(name)
			if core.IsNull(value) {
				builder.Field(j).AppendNull()
				nulls[name]++
				continue
			}
			if err := appendValue(builder.Field(j), value); err != nil {
				return nil, nil, &ParquetWriterError{
					Op:  "append_value",
					Err: fmt.Errorf("record %d field %s (%s): %w", i, name, p.schema.Field(j).Type, err),
				}
			}
		}
	}
	return builder.NewRecord(), nulls, nil
}

// appendValue appends a non-null value to the builder of its column.
func appendValue(builder array.Builder, value core.Value) error {
	switch b := builder.(type) {
	case *array.BooleanBuilder:
		if v, ok := value.(core.Bool); ok {
			b.Append(bool(v))
			return nil
		}
	case *array.Int64Builder:
		if v, ok := value.(core.Int); ok {
			b.Append(int64(v))
			return nil
		}
	case *array.Float64Builder:
		// ints widen into float columns
		if f, ok := value.(core.Float); ok {
			b.Append(float64(f))
			return nil
		}
		if v, ok := value.(core.Int); ok {
			b.Append(float64(v))
			return nil
		}
	case *array.TimestampBuilder:
		if v, ok := value.(core.Time); ok {
			b.Append(arrow.Timestamp(v.Std().UnixMicro()))
			return nil
		}
	case *array.StringBuilder:
		switch v := value.(type) {
		case core.List, core.Map:
			data, err := core.MarshalValue(v)
			if err != nil {
				return err
			}
			b.Append(string(data))
		default:
			b.Append(value.String())
		}
		return nil
	default:
		return fmt.Errorf("unsupported builder type %T", builder)
	}
	return fmt.Errorf("cannot store %s value %s", value.Kind(), core.Repr(value))
}

// Close finalizes the file footer and closes the file. It is idempotent.
func (p *ParquetWriter) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	if p.writer != nil {
		// FileWriter.Close also closes the underlying file
		err := p.writer.Close()
		p.writer = nil
		p.file = nil
		if err != nil {
			return &ParquetWriterError{Op: "close_writer", Err: fmt.Errorf("failed to close parquet writer: %w", err)}
		}
	}
	return nil
}
