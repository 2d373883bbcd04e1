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

package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/pipeflow"
	"github.com/aaronlmathis/pipeflow/core"
)

func TestNewRecorder(t *testing.T) {
	_, err := NewRecorder(nil)
	assert.Error(t, err)

	reg := prometheus.NewRegistry()
	_, err = NewRecorder(reg)
	require.NoError(t, err)

	// a second recorder on the same registry collides
	_, err = NewRecorder(reg)
	assert.Error(t, err)
}

func TestRecorder_Events(t *testing.T) {
	reg := prometheus.NewRegistry()
	r, err := NewRecorder(reg)
	require.NoError(t, err)

	ctx := context.Background()
	r.Emit(ctx, pipeflow.Event{Type: pipeflow.EventRunStarted, Pipeline: "users"})
	r.Emit(ctx, pipeflow.Event{Type: pipeflow.EventRecordDropped, Pipeline: "users", Stage: "0:filter"})
	r.Emit(ctx, pipeflow.Event{Type: pipeflow.EventRecordDropped, Pipeline: "users", Stage: "0:filter"})
	r.Emit(ctx, pipeflow.Event{Type: pipeflow.EventBatchLoaded, Pipeline: "users", Count: 2, Duration: 20 * time.Millisecond})
	r.Emit(ctx, pipeflow.Event{Type: pipeflow.EventRunCompleted, Pipeline: "users", Result: &pipeflow.Result{
		RecordsExtracted:   5,
		RecordsTransformed: 3,
		RecordsValid:       2,
		RecordsInvalid:     1,
		RecordsLoaded:      2,
		Duration:           time.Second,
		FinishedAt:         time.Unix(1700000000, 0),
	}})

	assert.Equal(t, 2.0, testutil.ToFloat64(r.dropped.WithLabelValues("users", "0:filter")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.batches.WithLabelValues("users")))
	assert.Equal(t, 5.0, testutil.ToFloat64(r.records.WithLabelValues("users", "extracted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.records.WithLabelValues("users", "invalid")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.records.WithLabelValues("users", "loaded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runs.WithLabelValues("users", "completed")))
	assert.Equal(t, 1700000000.0, testutil.ToFloat64(r.lastRun.WithLabelValues("users", "completed")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.batchDuration))
	assert.Equal(t, 1, testutil.CollectAndCount(r.runDuration))
}

func TestRecorder_FailedRunWithoutResult(t *testing.T) {
	r, err := NewRecorder(prometheus.NewRegistry())
	require.NoError(t, err)

	r.Emit(context.Background(), pipeflow.Event{Type: pipeflow.EventRunFailed, Pipeline: "p", Err: errors.New("boom")})
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runs.WithLabelValues("p", "failed")))
	assert.Equal(t, 0, testutil.CollectAndCount(r.records))
}

type listExtractor struct {
	n, pos int
}

func (l *listExtractor) Read(ctx context.Context) (pipeflow.Record, error) {
	if l.pos >= l.n {
		return pipeflow.Record{}, io.EOF
	}
	l.pos++
	return core.RecordOf("n", l.pos), nil
}

func (l *listExtractor) Close() error { return nil }

type countingLoader struct{}

func (countingLoader) Load(ctx context.Context, records []pipeflow.Record) (int, error) {
	return len(records), nil
}

func (countingLoader) Close() error { return nil }

func TestRecorder_WiredIntoPipeline(t *testing.T) {
	reg := prometheus.NewRegistry()
	r, err := NewRecorder(reg)
	require.NoError(t, err)

	p, err := pipeflow.NewPipeline().
		Named("wired").
		From(&listExtractor{n: 3}).
		To(countingLoader{}).
		WithBatchSize(2).
		WithEvents(r).
		Build()
	require.NoError(t, err)
	_, err = p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.batches.WithLabelValues("wired")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.records.WithLabelValues("wired", "loaded")))
}

func TestPush(t *testing.T) {
	var method, path string
	var bodyLen int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer req.Body.Close()
		body, _ := io.ReadAll(req.Body)
		method, path, bodyLen = req.Method, req.URL.Path, len(body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	reg := prometheus.NewRegistry()
	r, err := NewRecorder(reg)
	require.NoError(t, err)
	r.Emit(context.Background(), pipeflow.Event{Type: pipeflow.EventRunFailed, Pipeline: "p"})

	require.NoError(t, Push(context.Background(), server.URL, "", reg))
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/metrics/job/pipeflow", path)
	assert.Greater(t, bodyLen, 0)

	assert.Error(t, Push(context.Background(), "", "job", reg))
}

func TestPush_GatewayError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	err := Push(context.Background(), server.URL, "job", prometheus.NewRegistry())
	assert.ErrorContains(t, err, "push to")
}
