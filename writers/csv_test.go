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
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aaronlmathis/pipeflow/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Mock writer for CSV testing
type mockWriteCloser struct {
	*strings.Builder
	closed    int
	failWrite bool
	failClose bool
	mu        sync.Mutex
}

func (m *mockWriteCloser) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrite {
		return 0, io.ErrUnexpectedEOF
	}
	return m.Builder.Write(p)
}

func (m *mockWriteCloser) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	if m.failClose {
		return io.ErrUnexpectedEOF
	}
	return nil
}

func (m *mockWriteCloser) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Builder.String()
}

func newMockWriteCloser() *mockWriteCloser {
	return &mockWriteCloser{Builder: &strings.Builder{}}
}

func parseCSV(t *testing.T, s string) [][]string {
	t.Helper()
	rows, err := csv.NewReader(strings.NewReader(s)).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestCSVWriter_HeaderFromFirstRecord(t *testing.T) {
	mock := newMockWriteCloser()
	writer, err := NewCSVWriter(mock)
	require.NoError(t, err)

	ctx := context.Background()
	n, err := writer.Load(ctx, []core.Record{
		core.RecordOf("name", "Alice", "age", 30, "active", true),
		core.RecordOf("age", 25, "name", "Bob"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = writer.Load(ctx, []core.Record{core.RecordOf("name", "Carol", "age", 2.5, "active", nil)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, writer.Close())

	assert.Equal(t, [][]string{
		{"name", "age", "active"},
		{"Alice", "30", "True"},
		{"Bob", "25", ""},
		{"Carol", "2.5", ""},
	}, parseCSV(t, mock.String()))
	assert.Equal(t, []string{"name", "age", "active"}, writer.Headers())

	stats := writer.Stats()
	assert.Equal(t, int64(3), stats.RecordsWritten)
	assert.Equal(t, int64(2), stats.NullValueCounts["active"])
	assert.Equal(t, int64(3), stats.FlushCount)
}

func TestCSVWriter_WithHeaders(t *testing.T) {
	mock := newMockWriteCloser()
	headers := []string{"id", "name", "email"}
	writer, err := NewCSVWriter(mock, WithHeaders(headers))
	require.NoError(t, err)

	_, err = writer.Load(context.Background(), []core.Record{
		core.RecordOf("email", "alice@test.com", "id", 1, "name", "Alice"),
	})
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	rows := parseCSV(t, mock.String())
	assert.Equal(t, headers, rows[0])
	assert.Equal(t, []string{"1", "Alice", "alice@test.com"}, rows[1])
}

func TestCSVWriter_Options(t *testing.T) {
	mock := newMockWriteCloser()
	writer, err := NewCSVWriter(mock, WithComma(';'), WithWriteHeader(false), WithUseCRLF(true))
	require.NoError(t, err)

	_, err = writer.Load(context.Background(), []core.Record{core.RecordOf("a", "x;y", "b", 1)})
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	assert.Equal(t, "\"x;y\";1\r\n", mock.String())
}

func TestCSVWriter_ValueRendering(t *testing.T) {
	mock := newMockWriteCloser()
	writer, err := NewCSVWriter(mock)
	require.NoError(t, err)

	ts := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	_, err = writer.Load(context.Background(), []core.Record{core.NewRecord(
		core.F("f", core.Float(1)),
		core.F("b", core.Bool(false)),
		core.F("t", core.Time(ts)),
		core.F("l", core.List{core.Int(1), core.String("a")}),
	)})
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	rows := parseCSV(t, mock.String())
	assert.Equal(t, []string{"1.0", "False", "2024-03-01 12:30:00", "[1, 'a']"}, rows[1])
}

func TestCSVWriter_ExtraFieldRejected(t *testing.T) {
	mock := newMockWriteCloser()
	writer, err := NewCSVWriter(mock)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = writer.Load(ctx, []core.Record{core.RecordOf("a", 1)})
	require.NoError(t, err)

	n, err := writer.Load(ctx, []core.Record{core.RecordOf("a", 2), core.RecordOf("a", 3, "b", 4)})
	require.Error(t, err)
	assert.Zero(t, n)

	var csvErr *CSVWriterError
	require.True(t, errors.As(err, &csvErr))
	assert.Equal(t, "load", csvErr.Op)
	assert.Contains(t, err.Error(), "'b'")

	require.NoError(t, writer.Close())
	// the rejected batch wrote nothing
	assert.Equal(t, [][]string{{"a"}, {"1"}}, parseCSV(t, mock.String()))
}

func TestCSVWriter_EmptyBatch(t *testing.T) {
	mock := newMockWriteCloser()
	writer, err := NewCSVWriter(mock)
	require.NoError(t, err)

	n, err := writer.Load(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, writer.Close())

	assert.Empty(t, mock.String())
	assert.Zero(t, mock.closed)
}

func TestCSVWriter_CloseIdempotent(t *testing.T) {
	mock := newMockWriteCloser()
	writer, err := NewCSVWriter(mock)
	require.NoError(t, err)

	_, err = writer.Load(context.Background(), []core.Record{core.RecordOf("a", 1)})
	require.NoError(t, err)

	require.NoError(t, writer.Close())
	require.NoError(t, writer.Close())
	assert.Equal(t, 1, mock.closed)

	_, err = writer.Load(context.Background(), []core.Record{core.RecordOf("a", 1)})
	assert.Error(t, err)
}

func TestCSVWriter_WriteFailure(t *testing.T) {
	mock := newMockWriteCloser()
	mock.failWrite = true
	writer, err := NewCSVWriter(mock)
	require.NoError(t, err)

	_, err = writer.Load(context.Background(), []core.Record{core.RecordOf("a", 1)})
	require.Error(t, err)

	_, err = writer.Load(context.Background(), []core.Record{core.RecordOf("a", 1)})
	assert.ErrorContains(t, err, "error state")
	assert.NoError(t, writer.Close())
}

func TestCSVWriter_CloseFailure(t *testing.T) {
	mock := newMockWriteCloser()
	mock.failClose = true
	writer, err := NewCSVWriter(mock)
	require.NoError(t, err)

	_, err = writer.Load(context.Background(), []core.Record{core.RecordOf("a", 1)})
	require.NoError(t, err)

	err = writer.Close()
	var csvErr *CSVWriterError
	require.True(t, errors.As(err, &csvErr))
	assert.Equal(t, "close", csvErr.Op)
}

func TestCSVFileWriter_LazyCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	writer, err := NewCSVFileWriter(path)
	require.NoError(t, err)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))

	_, err = writer.Load(context.Background(), []core.Record{core.RecordOf("id", 1, "name", "Ünïcode")})
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "id,name\n1,Ünïcode\n", string(data))
}

func TestCSVWriter_InvalidOptions(t *testing.T) {
	_, err := NewCSVWriter(nil)
	assert.Error(t, err)

	_, err = NewCSVFileWriter("")
	assert.Error(t, err)

	_, err = NewCSVWriter(newMockWriteCloser(), WithComma('"'))
	assert.Error(t, err)
}

func TestCSVWriter_ContextCancelled(t *testing.T) {
	writer, err := NewCSVWriter(newMockWriteCloser())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = writer.Load(ctx, []core.Record{core.RecordOf("a", 1)})
	assert.ErrorIs(t, err, context.Canceled)
}
