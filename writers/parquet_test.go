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
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/parquet/compress"
	"github.com/apache/arrow/go/v12/parquet/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/pipeflow/core"
	"github.com/aaronlmathis/pipeflow/readers"
)

func readParquet(t *testing.T, filename string) []core.Record {
	t.Helper()
	r, err := readers.NewParquetReader(filename)
	require.NoError(t, err)
	defer r.Close()

	var out []core.Record
	for {
		rec, err := r.Read(context.Background())
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, rec)
	}
}

func TestParquetWriter_RoundTrip(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "nested", "out.parquet")
	writer, err := NewParquetWriter(filename, WithCompression(compress.Codecs.Snappy))
	require.NoError(t, err)

	ts := time.Date(2024, 5, 6, 7, 8, 9, 123456000, time.UTC)
	ctx := context.Background()
	n, err := writer.Load(ctx, []core.Record{
		core.NewRecord(
			core.F("id", core.Int(1)),
			core.F("name", core.String("Alice")),
			core.F("active", core.Bool(true)),
			core.F("score", core.Float(95.5)),
			core.F("seen", core.Time(ts)),
		),
		core.RecordOf("id", 2, "name", "Bob", "score", 87),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = writer.Load(ctx, []core.Record{core.RecordOf("id", 3, "name", nil, "active", false, "score", 1.25)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, writer.Close())
	require.NoError(t, writer.Close())

	records := readParquet(t, filename)
	require.Len(t, records, 3)
	assert.Equal(t, []string{"id", "name", "active", "score", "seen"}, records[0].Keys())
	assert.Equal(t, core.Int(1), records[0].Lookup("id"))
	assert.Equal(t, core.String("Alice"), records[0].Lookup("name"))
	assert.Equal(t, core.Bool(true), records[0].Lookup("active"))
	assert.Equal(t, core.Float(95.5), records[0].Lookup("score"))
	assert.True(t, core.Equal(core.Time(ts), records[0].Lookup("seen")))

	assert.Equal(t, core.Null{}, records[1].Lookup("active"))
	assert.Equal(t, core.Float(87), records[1].Lookup("score"))
	assert.Equal(t, core.Null{}, records[2].Lookup("name"))

	stats := writer.Stats()
	assert.Equal(t, int64(3), stats.RecordsWritten)
	assert.Equal(t, int64(2), stats.BatchesWritten)
	assert.Equal(t, int64(2), stats.NullValueCounts["seen"])

	pf, err := file.OpenParquetFile(filename, false)
	require.NoError(t, err)
	defer pf.Close()
	assert.Equal(t, 2, pf.NumRowGroups())
}

func TestParquetWriter_SchemaInference(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "schema.parquet")
	writer, err := NewParquetWriter(filename, WithMetadata(map[string]string{"source": "test"}))
	require.NoError(t, err)
	defer writer.Close()

	assert.Nil(t, writer.Schema())
	_, err = writer.Load(context.Background(), []core.Record{
		core.RecordOf("a", nil, "b", "x", "c", []any{1, 2}),
		core.RecordOf("a", 5, "b", "y", "c", nil),
	})
	require.NoError(t, err)

	schema := writer.Schema()
	require.NotNil(t, schema)
	assert.Equal(t, arrow.INT64, schema.Field(0).Type.ID())
	assert.Equal(t, arrow.STRING, schema.Field(1).Type.ID())
	assert.Equal(t, arrow.STRING, schema.Field(2).Type.ID())
	md := schema.Metadata()
	idx := md.FindKey("source")
	require.GreaterOrEqual(t, idx, 0)
	assert.Equal(t, "test", md.Values()[idx])

	require.NoError(t, writer.Close())
	records := readParquet(t, filename)
	assert.Equal(t, core.String("[1,2]"), records[0].Lookup("c"))
}

func TestParquetWriter_FieldOrder(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "order.parquet")
	writer, err := NewParquetWriter(filename, WithFieldOrder([]string{"b", "a"}))
	require.NoError(t, err)

	_, err = writer.Load(context.Background(), []core.Record{core.RecordOf("a", 1, "b", 2)})
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	records := readParquet(t, filename)
	assert.Equal(t, []string{"b", "a"}, records[0].Keys())
}

func TestParquetWriter_TypeMismatch(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "mismatch.parquet")
	writer, err := NewParquetWriter(filename)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = writer.Load(ctx, []core.Record{core.RecordOf("id", 1)})
	require.NoError(t, err)

	n, err := writer.Load(ctx, []core.Record{core.RecordOf("id", 2), core.RecordOf("id", "three")})
	require.Error(t, err)
	assert.Zero(t, n)
	var pqErr *ParquetWriterError
	require.True(t, errors.As(err, &pqErr))
	assert.Equal(t, "append_value", pqErr.Op)

	_, err = writer.Load(ctx, []core.Record{core.RecordOf("id", 4, "extra", true)})
	assert.ErrorContains(t, err, `"extra"`)

	// rejected batches do not poison the writer
	_, err = writer.Load(ctx, []core.Record{core.RecordOf("id", math.MaxInt64)})
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	records := readParquet(t, filename)
	require.Len(t, records, 2)
	assert.Equal(t, core.Int(math.MaxInt64), records[1].Lookup("id"))
}

func TestParquetWriter_EmptyAndClosed(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "empty.parquet")
	writer, err := NewParquetWriter(filename)
	require.NoError(t, err)

	n, err := writer.Load(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, writer.Close())

	_, statErr := os.Stat(filename)
	assert.True(t, os.IsNotExist(statErr))

	_, err = writer.Load(context.Background(), []core.Record{core.RecordOf("a", 1)})
	assert.ErrorContains(t, err, "closed")

	_, err = NewParquetWriter("")
	assert.Error(t, err)
}
