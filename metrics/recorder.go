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

// Package metrics exports pipeline run events as Prometheus metrics.
//
// A Recorder is a pipeflow.EventSink: attach it to a pipeline with
// WithEvents and it updates its collectors as the run progresses. Nothing is
// served over HTTP; callers either expose the registry themselves or push it
// to a Pushgateway with Push at the end of a run.
package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/aaronlmathis/pipeflow"
)

// Recorder updates Prometheus collectors from pipeline events.
type Recorder struct {
	records       *prometheus.CounterVec   // pipeflow_records_total
	dropped       *prometheus.CounterVec   // pipeflow_records_dropped_total
	batches       *prometheus.CounterVec   // pipeflow_batches_total
	batchDuration *prometheus.HistogramVec // pipeflow_batch_duration_seconds
	runs          *prometheus.CounterVec   // pipeflow_runs_total
	runDuration   *prometheus.HistogramVec // pipeflow_run_duration_seconds
	lastRun       *prometheus.GaugeVec     // pipeflow_last_run_timestamp_seconds
}

// NewRecorder creates the collectors and registers them on reg.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	if reg == nil {
		return nil, fmt.Errorf("metrics: registerer is required")
	}

	r := &Recorder{
		records: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeflow_records_total",
				Help: "Records per pipeline and stage of processing (extracted, transformed, valid, invalid, loaded).",
			},
			[]string{"pipeline", "kind"},
		),
		dropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeflow_records_dropped_total",
				Help: "Records dropped by a transform stage.",
			},
			[]string{"pipeline", "stage"},
		),
		batches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeflow_batches_total",
				Help: "Batches handed to the loader.",
			},
			[]string{"pipeline"},
		),
		batchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipeflow_batch_duration_seconds",
				Help:    "Time spent in a single loader call.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"pipeline"},
		),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeflow_runs_total",
				Help: "Finished pipeline runs by status.",
			},
			[]string{"pipeline", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipeflow_run_duration_seconds",
				Help:    "Wall-clock duration of pipeline runs.",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
			},
			[]string{"pipeline", "status"},
		),
		lastRun: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pipeflow_last_run_timestamp_seconds",
				Help: "Unix time the last run of a pipeline finished.",
			},
			[]string{"pipeline", "status"},
		),
	}

	for name, c := range map[string]prometheus.Collector{
		"records":        r.records,
		"dropped":        r.dropped,
		"batches":        r.batches,
		"batch duration": r.batchDuration,
		"runs":           r.runs,
		"run duration":   r.runDuration,
		"last run":       r.lastRun,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("metrics: register %s: %w", name, err)
		}
	}
	return r, nil
}

// Emit implements pipeflow.EventSink.
func (r *Recorder) Emit(ctx context.Context, event pipeflow.Event) {
	switch event.Type {
	case pipeflow.EventRecordDropped:
		r.dropped.WithLabelValues(event.Pipeline, event.Stage).Inc()
	case pipeflow.EventBatchLoaded:
		r.batches.WithLabelValues(event.Pipeline).Inc()
		r.batchDuration.WithLabelValues(event.Pipeline).Observe(event.Duration.Seconds())
	case pipeflow.EventRunCompleted:
		r.finish(event, "completed")
	case pipeflow.EventRunFailed:
		r.finish(event, "failed")
	}
}

func (r *Recorder) finish(event pipeflow.Event, status string) {
	r.runs.WithLabelValues(event.Pipeline, status).Inc()
	res := event.Result
	if res == nil {
		return
	}
	for kind, n := range map[string]int{
		"extracted":   res.RecordsExtracted,
		"transformed": res.RecordsTransformed,
		"valid":       res.RecordsValid,
		"invalid":     res.RecordsInvalid,
		"loaded":      res.RecordsLoaded,
	} {
		r.records.WithLabelValues(event.Pipeline, kind).Add(float64(n))
	}
	r.runDuration.WithLabelValues(event.Pipeline, status).Observe(res.Duration.Seconds())
	r.lastRun.WithLabelValues(event.Pipeline, status).Set(float64(res.FinishedAt.Unix()))
}

// Push sends everything gathered by g to the Pushgateway at gatewayURL,
// grouped under job.
func Push(ctx context.Context, gatewayURL, job string, g prometheus.Gatherer) error {
	if gatewayURL == "" {
		return fmt.Errorf("metrics: gateway URL is required")
	}
	if job == "" {
		job = "pipeflow"
	}
	if err := push.New(gatewayURL, job).Gatherer(g).PushContext(ctx); err != nil {
		return fmt.Errorf("metrics: push to %s: %w", gatewayURL, err)
	}
	return nil
}
