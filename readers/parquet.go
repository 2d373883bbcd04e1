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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/aaronlmathis/pipeflow/core"
	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/array"
	"github.com/apache/arrow/go/v12/arrow/memory"
	"github.com/apache/arrow/go/v12/parquet"
	"github.com/apache/arrow/go/v12/parquet/file"
	"github.com/apache/arrow/go/v12/parquet/pqarrow"
)

// ParquetReaderError provides structured error information for Parquet reader operations
type ParquetReaderError struct {
	Op  string // Operation that failed (e.g., "read", "load_batch", "open_file", "schema")
	Err error  // Underlying error
}

func (e *ParquetReaderError) Error() string {
	return fmt.Sprintf("parquet reader %s: %v", e.Op, e.Err)
}

func (e *ParquetReaderError) Unwrap() error {
	return e.Err
}

// ParquetReaderStats holds statistics about the Parquet reader's performance
type ParquetReaderStats struct {
	RecordsRead     int64
	BatchesRead     int64
	ReadDuration    time.Duration
	LastReadTime    time.Time
	NullValueCounts map[string]int64
}

// ParquetReaderOptions configures the Parquet reader
type ParquetReaderOptions struct {
	BatchSize int64    // Rows decoded per Arrow record batch
	Columns   []string // Optional column projection, in output order
}

// ReaderOptionParquet represents a configuration function
type ReaderOptionParquet func(*ParquetReaderOptions)

func WithParquetBatchSize(size int64) ReaderOptionParquet {
	return func(opts *ParquetReaderOptions) {
		opts.BatchSize = size
	}
}

func WithParquetColumns(columns ...string) ReaderOptionParquet {
	return func(opts *ParquetReaderOptions) {
		opts.Columns = append([]string(nil), columns...)
	}
}

// ParquetReader implements core.Extractor for Parquet files. Rows are
// decoded an Arrow record batch at a time and returned one by one.
type ParquetReader struct {
	closer          io.Closer
	recordReader    pqarrow.RecordReader
	currentBatch    arrow.Record
	currentBatchIdx int
	totalRows       int64
	schema          *arrow.Schema
	stats           ParquetReaderStats
}

// NewParquetReader opens a Parquet file.
func NewParquetReader(filename string, options ...ReaderOptionParquet) (*ParquetReader, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, &ParquetReaderError{Op: "open_file", Err: err}
	}
	reader, err := NewParquetReaderFrom(f, options...)
	if err != nil {
		f.Close()
		return nil, err
	}
	reader.closer = f
	return reader, nil
}

// NewParquetReaderFrom reads Parquet data from any random-access source.
func NewParquetReaderFrom(src parquet.ReaderAtSeeker, options ...ReaderOptionParquet) (*ParquetReader, error) {
	opts := &ParquetReaderOptions{BatchSize: 1024}
	for _, option := range options {
		option(opts)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1024
	}

	parquetReader, err := file.NewParquetReader(src)
	if err != nil {
		return nil, &ParquetReaderError{Op: "create_reader", Err: err}
	}

	arrowReader, err := pqarrow.NewFileReader(parquetReader, pqarrow.ArrowReadProperties{BatchSize: opts.BatchSize}, memory.NewGoAllocator())
	if err != nil {
		parquetReader.Close()
		return nil, &ParquetReaderError{Op: "create_arrow_reader", Err: err}
	}

	schema, err := arrowReader.Schema()
	if err != nil {
		parquetReader.Close()
		return nil, &ParquetReaderError{Op: "get_schema", Err: err}
	}

	var colIndices []int
	for _, name := range opts.Columns {
		idx := schema.FieldIndices(name)
		if len(idx) == 0 {
			parquetReader.Close()
			return nil, &ParquetReaderError{Op: "column_projection", Err: fmt.Errorf("column %q not found in schema", name)}
		}
		colIndices = append(colIndices, idx[0])
	}

	recordReader, err := arrowReader.GetRecordReader(context.Background(), colIndices, nil)
	if err != nil {
		parquetReader.Close()
		return nil, &ParquetReaderError{Op: "create_record_reader", Err: err}
	}

	return &ParquetReader{
		recordReader: recordReader,
		totalRows:    parquetReader.NumRows(),
		schema:       recordReader.Schema(),
		stats:        ParquetReaderStats{NullValueCounts: make(map[string]int64)},
	}, nil
}

// Read implements core.Extractor.
func (p *ParquetReader) Read(ctx context.Context) (core.Record, error) {
	startTime := time.Now()
	defer func() {
		p.stats.ReadDuration += time.Since(startTime)
		p.stats.LastReadTime = time.Now()
	}()

	select {
	case <-ctx.Done():
		return core.Record{}, &ParquetReaderError{Op: "read", Err: ctx.Err()}
	default:
	}

	for p.currentBatch == nil || p.currentBatchIdx >= int(p.currentBatch.NumRows()) {
		if err := p.loadNextBatch(); err != nil {
			if errors.Is(err, io.EOF) {
				return core.Record{}, io.EOF
			}
			return core.Record{}, &ParquetReaderError{Op: "load_batch", Err: err}
		}
	}

	result, err := p.extractRecordFromBatch(p.currentBatch, p.currentBatchIdx)
	if err != nil {
		return core.Record{}, &ParquetReaderError{Op: "decode", Err: err}
	}
	p.currentBatchIdx++
	p.stats.RecordsRead++
	return result, nil
}

// Close releases Arrow buffers and closes the underlying file.
func (p *ParquetReader) Close() error {
	if p.currentBatch != nil {
		p.currentBatch.Release()
		p.currentBatch = nil
	}
	if p.recordReader != nil {
		p.recordReader.Release()
		p.recordReader = nil
	}
	if p.closer != nil {
		err := p.closer.Close()
		p.closer = nil
		return err
	}
	return nil
}

// Schema returns the Arrow schema of the rows being read.
func (p *ParquetReader) Schema() *arrow.Schema {
	return p.schema
}

// NumRows returns the total row count from the file metadata.
func (p *ParquetReader) NumRows() int64 {
	return p.totalRows
}

// Stats returns statistics about the Parquet reader's performance
func (p *ParquetReader) Stats() ParquetReaderStats {
	return p.stats
}

func (p *ParquetReader) loadNextBatch() error {
	if p.currentBatch != nil {
		p.currentBatch.Release()
		p.currentBatch = nil
	}
	if p.recordReader == nil {
		return io.EOF
	}

	rec, err := p.recordReader.Read()
	if err != nil {
		return err
	}
	if rec == nil {
		return io.EOF
	}
	// The record reader owns rec until its next Read.
	rec.Retain()
	p.currentBatch = rec
	p.currentBatchIdx = 0
	p.stats.BatchesRead++
	return nil
}

// extractRecordFromBatch builds a record from one row of an Arrow batch.
func (p *ParquetReader) extractRecordFromBatch(batch arrow.Record, pos int) (core.Record, error) {
	sch := batch.Schema()
	fields := make([]core.Field, batch.NumCols())
	for i := range fields {
		name := sch.Field(i).Name
		v, err := p.extractValueFromColumn(batch.Column(i), pos, name)
		if err != nil {
			return core.Record{}, fmt.Errorf("column %s: %w", name, err)
		}
		fields[i] = core.F(name, v)
	}
	return core.NewRecord(fields...), nil
}

func (p *ParquetReader) extractValueFromColumn(col arrow.Array, rowIdx int, fieldName string) (core.Value, error) {
	if col.IsNull(rowIdx) {
		p.stats.NullValueCounts[fieldName]++
		return core.Null{}, nil
	}
	return arrowValue(col, rowIdx)
}

// arrowValue converts one Arrow cell to a Value. Nested types go through
// their JSON rendering.
func arrowValue(col arrow.Array, i int) (core.Value, error) {
	switch arr := col.(type) {
	case *array.Boolean:
		return core.Bool(arr.Value(i)), nil
	case *array.Int8:
		return core.Int(arr.Value(i)), nil
	case *array.Int16:
		return core.Int(arr.Value(i)), nil
	case *array.Int32:
		return core.Int(arr.Value(i)), nil
	case *array.Int64:
		return core.Int(arr.Value(i)), nil
	case *array.Uint8:
		return core.Int(arr.Value(i)), nil
	case *array.Uint16:
		return core.Int(arr.Value(i)), nil
	case *array.Uint32:
		return core.Int(arr.Value(i)), nil
	case *array.Uint64:
		return core.FromGo(arr.Value(i)), nil
	case *array.Float32:
		return core.Float(arr.Value(i)), nil
	case *array.Float64:
		return core.Float(arr.Value(i)), nil
	case *array.String:
		return core.String(arr.Value(i)), nil
	case *array.LargeString:
		return core.String(arr.Value(i)), nil
	case *array.Binary:
		return core.String(arr.Value(i)), nil
	case *array.Timestamp:
		unit := arr.DataType().(*arrow.TimestampType).Unit
		return core.Time(arr.Value(i).ToTime(unit).UTC()), nil
	case *array.Date32:
		return core.Time(arr.Value(i).ToTime()), nil
	case *array.Date64:
		return core.Time(arr.Value(i).ToTime()), nil
	}

	raw := col.GetOneForMarshal(i)
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return core.DecodeValue(dec)
}
