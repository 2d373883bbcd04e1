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
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aaronlmathis/pipeflow/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONWriter_OrderedLines(t *testing.T) {
	mock := newMockWriteCloser()
	writer, err := NewJSONWriter(mock)
	require.NoError(t, err)

	ctx := context.Background()
	n, err := writer.Load(ctx, []core.Record{
		core.RecordOf("z", 1, "a", "x", "m", nil),
		core.NewRecord(
			core.F("nested", core.NewMap(core.F("b", core.Int(2)), core.F("a", core.Float(1.5)))),
			core.F("list", core.List{core.Bool(true), core.Float(math.NaN())}),
		),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, writer.Close())

	assert.Equal(t,
		`{"z":1,"a":"x","m":null}`+"\n"+
			`{"nested":{"b":2,"a":1.5},"list":[true,null]}`+"\n",
		mock.String())
	assert.Equal(t, int64(2), writer.Stats().RecordsWritten)
	assert.Equal(t, int64(len(mock.String())), writer.Stats().BytesWritten)
}

func TestJSONWriter_RoundTrip(t *testing.T) {
	mock := newMockWriteCloser()
	writer, err := NewJSONWriter(mock)
	require.NoError(t, err)

	in := core.RecordOf("id", 7, "name", "Ada", "score", 9.5, "tags", []any{"a", "b"})
	_, err = writer.Load(context.Background(), []core.Record{in})
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	out, err := core.ParseRecordJSON([]byte(strings.TrimSpace(mock.String())))
	require.NoError(t, err)
	assert.True(t, in.Equal(out), "got %s", out)
}

func TestJSONWriter_BufferedUntilClose(t *testing.T) {
	mock := newMockWriteCloser()
	writer, err := NewJSONWriter(mock, WithFlushOnWrite(false))
	require.NoError(t, err)

	_, err = writer.Load(context.Background(), []core.Record{core.RecordOf("a", 1)})
	require.NoError(t, err)
	assert.Empty(t, mock.String())

	require.NoError(t, writer.Close())
	assert.Equal(t, "{\"a\":1}\n", mock.String())
	assert.Equal(t, 1, mock.closed)
}

func TestJSONWriter_ErrorHandling(t *testing.T) {
	t.Run("write_error", func(t *testing.T) {
		mock := newMockWriteCloser()
		mock.failWrite = true
		writer, err := NewJSONWriter(mock)
		require.NoError(t, err)

		_, err = writer.Load(context.Background(), []core.Record{core.RecordOf("test", "value")})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "json writer")

		_, err = writer.Load(context.Background(), []core.Record{core.RecordOf("test", "value")})
		assert.ErrorContains(t, err, "error state")
	})

	t.Run("close_error", func(t *testing.T) {
		mock := newMockWriteCloser()
		mock.failClose = true
		writer, err := NewJSONWriter(mock)
		require.NoError(t, err)

		_, err = writer.Load(context.Background(), []core.Record{core.RecordOf("test", "value")})
		require.NoError(t, err)

		err = writer.Close()
		var jsonErr *JSONWriterError
		require.True(t, errors.As(err, &jsonErr))
		assert.Equal(t, "close", jsonErr.Op)
		assert.NoError(t, writer.Close())
	})

	t.Run("nil_writer", func(t *testing.T) {
		_, err := NewJSONWriter(nil)
		assert.Error(t, err)
		_, err = NewJSONFileWriter("")
		assert.Error(t, err)
	})
}

func TestJSONFileWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")
	writer, err := NewJSONFileWriter(path)
	require.NoError(t, err)

	n, err := writer.Load(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))

	_, err = writer.Load(context.Background(), []core.Record{core.RecordOf("a", 1), core.RecordOf("a", 2)})
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	require.NoError(t, writer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\"a\":1}\n{\"a\":2}\n", string(data))
}
