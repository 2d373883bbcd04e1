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
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aaronlmathis/pipeflow/core"
)

// JSON source formats.
const (
	JSONFormatAuto  = "json"  // array of objects or a single object
	JSONFormatLines = "jsonl" // one object per line
)

// JSONReaderError wraps structured error information for the JSON reader.
type JSONReaderError struct {
	Op   string
	Line int // set for jsonl sources
	Err  error
}

func (e *JSONReaderError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("json reader %s line %d: %v", e.Op, e.Line, e.Err)
	}
	return fmt.Sprintf("json reader %s: %v", e.Op, e.Err)
}

func (e *JSONReaderError) Unwrap() error {
	return e.Err
}

// JSONReaderStats holds statistics about the JSON reader's performance.
type JSONReaderStats struct {
	RecordsRead  int64
	ReadDuration time.Duration
	LastReadTime time.Time
}

// JSONReaderOptions configures the JSON reader.
type JSONReaderOptions struct {
	Format string
}

// ReaderOptionJSON allows functional customization of JSONReader.
type ReaderOptionJSON func(*JSONReaderOptions)

// WithJSONFormat selects "json" (array or object root) or "jsonl".
func WithJSONFormat(format string) ReaderOptionJSON {
	return func(o *JSONReaderOptions) { o.Format = format }
}

// JSONReader implements core.Extractor for JSON documents and JSON lines.
// Array roots are decoded one element at a time.
type JSONReader struct {
	buf    *bufio.Reader
	dec    *json.Decoder
	closer io.Closer
	opts   JSONReaderOptions
	stats  JSONReaderStats

	started bool
	done    bool
	line    int
}

// NewJSONReader creates a JSON reader over r.
func NewJSONReader(r io.ReadCloser, options ...ReaderOptionJSON) (*JSONReader, error) {
	opts := JSONReaderOptions{Format: JSONFormatAuto}
	for _, opt := range options {
		opt(&opts)
	}
	if opts.Format != JSONFormatAuto && opts.Format != JSONFormatLines {
		return nil, &JSONReaderError{Op: "init", Err: fmt.Errorf("unknown format %q", opts.Format)}
	}
	return &JSONReader{
		buf:    bufio.NewReader(r),
		closer: r,
		opts:   opts,
	}, nil
}

// Read implements core.Extractor.
func (j *JSONReader) Read(ctx context.Context) (core.Record, error) {
	start := time.Now()

	select {
	case <-ctx.Done():
		return core.Record{}, &JSONReaderError{Op: "read", Err: ctx.Err()}
	default:
	}

	if j.done {
		return core.Record{}, io.EOF
	}

	var (
		rec core.Record
		err error
	)
	if j.opts.Format == JSONFormatLines {
		rec, err = j.readLine()
	} else {
		rec, err = j.readDocument()
	}
	if err != nil {
		if errors.Is(err, io.EOF) {
			j.done = true
		}
		return core.Record{}, err
	}

	j.stats.RecordsRead++
	j.stats.LastReadTime = time.Now()
	j.stats.ReadDuration += time.Since(start)
	return rec, nil
}

func (j *JSONReader) readLine() (core.Record, error) {
	for {
		data, err := j.buf.ReadBytes('\n')
		if len(data) == 0 && err != nil {
			if errors.Is(err, io.EOF) {
				return core.Record{}, io.EOF
			}
			return core.Record{}, &JSONReaderError{Op: "read_line", Line: j.line + 1, Err: err}
		}
		j.line++
		data = bytes.TrimSpace(data)
		if len(data) == 0 {
			continue
		}
		rec, perr := core.ParseRecordJSON(data)
		if perr != nil {
			return core.Record{}, &JSONReaderError{Op: "decode", Line: j.line, Err: perr}
		}
		return rec, nil
	}
}

func (j *JSONReader) readDocument() (core.Record, error) {
	if !j.started {
		j.started = true
		j.dec = json.NewDecoder(j.buf)
		j.dec.UseNumber()

		tok, err := j.dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return core.Record{}, &JSONReaderError{Op: "decode", Err: io.ErrUnexpectedEOF}
			}
			return core.Record{}, &JSONReaderError{Op: "decode", Err: err}
		}
		switch tok {
		case json.Delim('['):
		case json.Delim('{'):
			// single object root: the whole document is one record
			j.done = true
			rec, err := j.objectAfterBrace()
			if err != nil {
				return core.Record{}, &JSONReaderError{Op: "decode", Err: err}
			}
			return rec, nil
		default:
			return core.Record{}, &JSONReaderError{Op: "decode", Err: fmt.Errorf("unexpected JSON root %v", tok)}
		}
	}

	if !j.dec.More() {
		if _, err := j.dec.Token(); err != nil {
			return core.Record{}, &JSONReaderError{Op: "decode", Err: err}
		}
		return core.Record{}, io.EOF
	}
	v, err := core.DecodeValue(j.dec)
	if err != nil {
		return core.Record{}, &JSONReaderError{Op: "decode", Err: err}
	}
	m, ok := v.(core.Map)
	if !ok {
		return core.Record{}, &JSONReaderError{Op: "decode", Err: fmt.Errorf("array element is %s, not an object", v.Kind())}
	}
	return m.Record, nil
}

// objectAfterBrace decodes the members of an object whose opening brace has
// already been consumed.
func (j *JSONReader) objectAfterBrace() (core.Record, error) {
	var fields []core.Field
	for j.dec.More() {
		keyTok, err := j.dec.Token()
		if err != nil {
			return core.Record{}, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return core.Record{}, fmt.Errorf("unexpected object key %v", keyTok)
		}
		v, err := core.DecodeValue(j.dec)
		if err != nil {
			return core.Record{}, err
		}
		fields = append(fields, core.F(key, v))
	}
	if _, err := j.dec.Token(); err != nil {
		return core.Record{}, err
	}
	return core.NewRecord(fields...), nil
}

// Close implements core.Extractor.
func (j *JSONReader) Close() error {
	if j.closer == nil {
		return nil
	}
	err := j.closer.Close()
	j.closer = nil
	return err
}

// Stats returns JSON reader performance stats.
func (j *JSONReader) Stats() JSONReaderStats {
	return j.stats
}
