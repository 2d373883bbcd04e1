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
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/aaronlmathis/pipeflow/core"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// CSVReaderError wraps structured error information for the CSV reader.
type CSVReaderError struct {
	Op  string
	Err error
}

func (e *CSVReaderError) Error() string {
	return fmt.Sprintf("csv reader %s: %v", e.Op, e.Err)
}

func (e *CSVReaderError) Unwrap() error {
	return e.Err
}

// CSVReaderStats holds statistics about the CSV reader's performance.
type CSVReaderStats struct {
	RecordsRead     int64
	ReadDuration    time.Duration
	LastReadTime    time.Time
	NullValueCounts map[string]int64
}

// CSVReaderOptions configures the CSV reader.
type CSVReaderOptions struct {
	Comma            rune
	Comment          rune
	LazyQuotes       bool
	TrimLeadingSpace bool
	HasHeaders       bool
	Encoding         string
	InferTypes       bool
}

// ReaderOptionCSV allows functional customization of CSVReader.
type ReaderOptionCSV func(*CSVReaderOptions)

func WithCSVComma(r rune) ReaderOptionCSV {
	return func(o *CSVReaderOptions) { o.Comma = r }
}

func WithCSVComment(r rune) ReaderOptionCSV {
	return func(o *CSVReaderOptions) { o.Comment = r }
}

func WithCSVHasHeaders(hasHeaders bool) ReaderOptionCSV {
	return func(o *CSVReaderOptions) { o.HasHeaders = hasHeaders }
}

func WithCSVTrimSpace(trim bool) ReaderOptionCSV {
	return func(o *CSVReaderOptions) { o.TrimLeadingSpace = trim }
}

func WithCSVLazyQuotes(lazy bool) ReaderOptionCSV {
	return func(o *CSVReaderOptions) { o.LazyQuotes = lazy }
}

// WithCSVEncoding sets the source character encoding by its WHATWG name
// ("utf-8", "latin1", "windows-1252", "shift_jis", ...).
func WithCSVEncoding(name string) ReaderOptionCSV {
	return func(o *CSVReaderOptions) { o.Encoding = name }
}

// WithCSVInferTypes enables int/float/bool inference on cell values.
// Blank cells become null when inference is on.
func WithCSVInferTypes(infer bool) ReaderOptionCSV {
	return func(o *CSVReaderOptions) { o.InferTypes = infer }
}

// CSVReader implements core.Extractor for delimited text.
type CSVReader struct {
	reader  *csv.Reader
	headers []string
	closer  io.Closer
	stats   CSVReaderStats
	opts    CSVReaderOptions
}

// NewCSVReader creates a CSVReader with default or overridden options.
// Values are strings unless type inference is enabled.
func NewCSVReader(r io.ReadCloser, options ...ReaderOptionCSV) (*CSVReader, error) {
	opts := CSVReaderOptions{
		Comma:      ',',
		HasHeaders: true,
		Encoding:   "utf-8",
	}

	for _, opt := range options {
		opt(&opts)
	}

	enc, err := htmlindex.Get(opts.Encoding)
	if err != nil {
		return nil, &CSVReaderError{Op: "encoding", Err: fmt.Errorf("%q: %w", opts.Encoding, err)}
	}
	decoded := transform.NewReader(r, unicode.BOMOverride(enc.NewDecoder()))

	csvReader := csv.NewReader(decoded)
	csvReader.Comma = opts.Comma
	csvReader.Comment = opts.Comment
	csvReader.FieldsPerRecord = -1
	csvReader.LazyQuotes = opts.LazyQuotes
	csvReader.TrimLeadingSpace = opts.TrimLeadingSpace
	csvReader.ReuseRecord = true

	reader := &CSVReader{
		reader: csvReader,
		closer: r,
		opts:   opts,
		stats:  CSVReaderStats{NullValueCounts: make(map[string]int64)},
	}

	if opts.HasHeaders {
		headers, err := csvReader.Read()
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, &CSVReaderError{Op: "read_headers", Err: err}
		}
		reader.headers = append([]string(nil), headers...)
	}

	return reader, nil
}

// Headers returns the header row, or nil when the source has none.
func (c *CSVReader) Headers() []string {
	return append([]string(nil), c.headers...)
}

// Read implements core.Extractor.
func (c *CSVReader) Read(ctx context.Context) (core.Record, error) {
	start := time.Now()

	select {
	case <-ctx.Done():
		return core.Record{}, &CSVReaderError{Op: "read", Err: ctx.Err()}
	default:
	}

	if c.opts.HasHeaders && c.headers == nil {
		return core.Record{}, io.EOF
	}

	row, err := c.reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return core.Record{}, io.EOF
		}
		return core.Record{}, &CSVReaderError{Op: "read_record", Err: err}
	}

	width := len(row)
	if c.headers != nil {
		if len(row) > len(c.headers) {
			line, _ := c.reader.FieldPos(0)
			return core.Record{}, &CSVReaderError{
				Op:  "read_record",
				Err: fmt.Errorf("line %d: %d fields, header has %d", line, len(row), len(c.headers)),
			}
		}
		width = len(c.headers)
	}

	fields := make([]core.Field, width)
	for i := 0; i < width; i++ {
		key := c.columnName(i)
		if i >= len(row) {
			// short rows are padded with null
			fields[i] = core.F(key, core.Null{})
			c.stats.NullValueCounts[key]++
			continue
		}
		fields[i] = core.F(key, c.parseValue(key, row[i]))
	}

	c.stats.RecordsRead++
	c.stats.LastReadTime = time.Now()
	c.stats.ReadDuration += time.Since(start)

	return core.NewRecord(fields...), nil
}

func (c *CSVReader) columnName(i int) string {
	if c.headers != nil {
		return c.headers[i]
	}
	return "col_" + strconv.Itoa(i)
}

// Close implements core.Extractor.
func (c *CSVReader) Close() error {
	if c.closer == nil {
		return nil
	}
	err := c.closer.Close()
	c.closer = nil
	return err
}

// Stats returns CSV reader performance stats.
func (c *CSVReader) Stats() CSVReaderStats {
	return c.stats
}

// parseValue returns the cell as a string, or its inferred int, float or
// bool value when inference is enabled.
func (c *CSVReader) parseValue(key, value string) core.Value {
	if !c.opts.InferTypes {
		return core.String(value)
	}
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		c.stats.NullValueCounts[key]++
		return core.Null{}
	}
	return InferValue(trimmed)
}

// InferValue parses s as an int, float or bool, falling back to a string.
func InferValue(s string) core.Value {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return core.Int(i)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return core.Float(f)
	}
	switch strings.ToLower(s) {
	case "true":
		return core.Bool(true)
	case "false":
		return core.Bool(false)
	}
	return core.String(s)
}
