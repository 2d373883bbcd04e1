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
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aaronlmathis/pipeflow/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// readAll drains an extractor.
func readAll(t *testing.T, ex core.Extractor) []core.Record {
	t.Helper()
	var out []core.Record
	for {
		rec, err := ex.Read(context.Background())
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, rec)
	}
}

func csvReader(t *testing.T, data string, opts ...ReaderOptionCSV) *CSVReader {
	t.Helper()
	r, err := NewCSVReader(io.NopCloser(strings.NewReader(data)), opts...)
	require.NoError(t, err)
	return r
}

func TestCSVReaderStrings(t *testing.T) {
	r := csvReader(t, "name,age,city\nAlice,30,NYC\nBob,25,\n")
	records := readAll(t, r)
	require.Len(t, records, 2)

	assert.Equal(t, []string{"name", "age", "city"}, records[0].Keys())
	assert.Equal(t, core.String("30"), records[0].Lookup("age"))
	assert.Equal(t, core.String(""), records[1].Lookup("city"))
	assert.Equal(t, int64(2), r.Stats().RecordsRead)
	assert.Equal(t, []string{"name", "age", "city"}, r.Headers())
}

func TestCSVReaderInferTypes(t *testing.T) {
	r := csvReader(t, "id,score,active,note\n1,9.5,true,\n", WithCSVInferTypes(true))
	records := readAll(t, r)
	require.Len(t, records, 1)
	assert.Equal(t, core.Int(1), records[0].Lookup("id"))
	assert.Equal(t, core.Float(9.5), records[0].Lookup("score"))
	assert.Equal(t, core.Bool(true), records[0].Lookup("active"))
	assert.Equal(t, core.Null{}, records[0].Lookup("note"))
	assert.Equal(t, int64(1), r.Stats().NullValueCounts["note"])
}

func TestCSVReaderDelimiterAndShortRows(t *testing.T) {
	r := csvReader(t, "a;b;c\n1;2\n", WithCSVComma(';'))
	records := readAll(t, r)
	require.Len(t, records, 1)
	assert.Equal(t, core.String("2"), records[0].Lookup("b"))
	v, ok := records[0].Get("c")
	assert.True(t, ok)
	assert.Equal(t, core.Null{}, v)
}

func TestCSVReaderLongRowFails(t *testing.T) {
	r := csvReader(t, "a,b\n1,2,3\n")
	_, err := r.Read(context.Background())
	var csvErr *CSVReaderError
	require.ErrorAs(t, err, &csvErr)
	assert.Equal(t, "read_record", csvErr.Op)
}

func TestCSVReaderEncoding(t *testing.T) {
	latin1 := "name\ncaf\xe9\n"
	records := readAll(t, csvReader(t, latin1, WithCSVEncoding("latin1")))
	require.Len(t, records, 1)
	assert.Equal(t, core.String("café"), records[0].Lookup("name"))

	bom := "\xef\xbb\xbfname\nx\n"
	records = readAll(t, csvReader(t, bom))
	require.Len(t, records, 1)
	assert.True(t, records[0].Has("name"))

	_, err := NewCSVReader(io.NopCloser(strings.NewReader("a\n")), WithCSVEncoding("klingon"))
	assert.Error(t, err)
}

func TestCSVReaderNoHeaders(t *testing.T) {
	records := readAll(t, csvReader(t, "x,y\n", WithCSVHasHeaders(false)))
	require.Len(t, records, 1)
	assert.Equal(t, []string{"col_0", "col_1"}, records[0].Keys())
}

func TestCSVReaderEmptyInput(t *testing.T) {
	assert.Empty(t, readAll(t, csvReader(t, "")))
	assert.Empty(t, readAll(t, csvReader(t, "a,b\n")))
}

func TestCSVReaderContextCancelled(t *testing.T) {
	r := csvReader(t, "a\n1\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Read(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInferValue(t *testing.T) {
	assert.Equal(t, core.Int(-4), InferValue("-4"))
	assert.Equal(t, core.Float(1e3), InferValue("1e3"))
	assert.Equal(t, core.Bool(false), InferValue("False"))
	assert.Equal(t, core.String("abc"), InferValue("abc"))
	assert.Equal(t, core.String("T"), InferValue("T"))
}

func jsonReader(t *testing.T, data string, opts ...ReaderOptionJSON) *JSONReader {
	t.Helper()
	r, err := NewJSONReader(io.NopCloser(strings.NewReader(data)), opts...)
	require.NoError(t, err)
	return r
}

func TestJSONReaderArray(t *testing.T) {
	records := readAll(t, jsonReader(t, `[{"b": 1, "a": {"z": 1, "y": [1, 2.5]}}, {"b": null}]`))
	require.Len(t, records, 2)
	assert.Equal(t, []string{"b", "a"}, records[0].Keys())
	nested, ok := records[0].Lookup("a").(core.Map)
	require.True(t, ok)
	assert.Equal(t, []string{"z", "y"}, nested.Keys())
	assert.Equal(t, core.List{core.Int(1), core.Float(2.5)}, nested.Lookup("y"))
	assert.Equal(t, core.Null{}, records[1].Lookup("b"))
}

func TestJSONReaderSingleObject(t *testing.T) {
	records := readAll(t, jsonReader(t, `{"id": 7}`))
	require.Len(t, records, 1)
	assert.Equal(t, core.Int(7), records[0].Lookup("id"))
}

func TestJSONReaderRejectsScalars(t *testing.T) {
	_, err := jsonReader(t, `42`).Read(context.Background())
	var jsonErr *JSONReaderError
	require.ErrorAs(t, err, &jsonErr)

	r := jsonReader(t, `[{"a": 1}, 2]`)
	_, err = r.Read(context.Background())
	require.NoError(t, err)
	_, err = r.Read(context.Background())
	assert.ErrorContains(t, err, "not an object")
}

func TestJSONReaderLines(t *testing.T) {
	data := "{\"id\": 1}\n\n  {\"id\": 2}\n{\"id\": 3}"
	records := readAll(t, jsonReader(t, data, WithJSONFormat(JSONFormatLines)))
	require.Len(t, records, 3)
	assert.Equal(t, core.Int(3), records[2].Lookup("id"))
}

func TestJSONReaderLinesBadLine(t *testing.T) {
	r := jsonReader(t, "{\"id\": 1}\nnope\n", WithJSONFormat(JSONFormatLines))
	_, err := r.Read(context.Background())
	require.NoError(t, err)
	_, err = r.Read(context.Background())
	var jsonErr *JSONReaderError
	require.ErrorAs(t, err, &jsonErr)
	assert.Equal(t, 2, jsonErr.Line)
}

func TestJSONReaderUnknownFormat(t *testing.T) {
	_, err := NewJSONReader(io.NopCloser(strings.NewReader("")), WithJSONFormat("xml"))
	assert.Error(t, err)
}
