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

package pipeflow

import (
	"context"
	"log/slog"
	"time"

	"github.com/aaronlmathis/pipeflow/core"
)

// EventType names a run event.
type EventType string

const (
	EventRunStarted    EventType = "run_started"
	EventRecordDropped EventType = "record_dropped"
	EventRecordInvalid EventType = "record_invalid"
	EventBatchLoaded   EventType = "batch_loaded"
	EventRunCompleted  EventType = "run_completed"
	EventRunFailed     EventType = "run_failed"
)

// Event is one structured occurrence during a run. Only the fields relevant
// to Type are set.
type Event struct {
	Type     EventType
	RunID    string
	Pipeline string
	Time     time.Time

	// Index is the extraction position of the record concerned.
	Index int
	// Stage names the stage that dropped a record.
	Stage  string
	Record core.Record
	Errors []core.FieldError

	// Count is the batch size offered to the loader and Loaded what it accepted.
	Count    int
	Loaded   int
	Duration time.Duration

	Err    error
	Result *Result
}

// NopSink discards every event.
type NopSink struct{}

func (NopSink) Emit(context.Context, Event) {}

// MultiSink fans an event out to several sinks in order.
type MultiSink []EventSink

func (m MultiSink) Emit(ctx context.Context, event Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, event)
		}
	}
}

// SlogSink writes events to a slog.Logger. Per-record events log at debug
// (dropped) and warn (invalid); run and batch events log at info, and a
// failed run at error.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink returns a sink that logs to logger, or to slog.Default when nil.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

func (s *SlogSink) Emit(ctx context.Context, event Event) {
	attrs := []slog.Attr{
		slog.String("run_id", event.RunID),
		slog.String("pipeline", event.Pipeline),
	}
	level := slog.LevelInfo
	msg := string(event.Type)

	switch event.Type {
	case EventRunStarted:
		msg = "pipeline starting"
	case EventRecordDropped:
		level = slog.LevelDebug
		msg = "record dropped"
		attrs = append(attrs, slog.Int("index", event.Index), slog.String("stage", event.Stage))
	case EventRecordInvalid:
		level = slog.LevelWarn
		msg = "record failed validation"
		attrs = append(attrs, slog.Int("index", event.Index), slog.Any("errors", event.Errors))
	case EventBatchLoaded:
		msg = "batch loaded"
		attrs = append(attrs,
			slog.Int("records", event.Count),
			slog.Int("loaded", event.Loaded),
			slog.Duration("duration", event.Duration))
	case EventRunCompleted:
		msg = "pipeline complete"
		attrs = append(attrs, resultAttrs(event.Result)...)
	case EventRunFailed:
		level = slog.LevelError
		msg = "pipeline failed"
		attrs = append(attrs, slog.Any("error", event.Err))
		attrs = append(attrs, resultAttrs(event.Result)...)
	}
	s.logger.LogAttrs(ctx, level, msg, attrs...)
}

func resultAttrs(r *Result) []slog.Attr {
	if r == nil {
		return nil
	}
	return []slog.Attr{
		slog.Int("records_extracted", r.RecordsExtracted),
		slog.Int("records_transformed", r.RecordsTransformed),
		slog.Int("records_valid", r.RecordsValid),
		slog.Int("records_invalid", r.RecordsInvalid),
		slog.Int("records_loaded", r.RecordsLoaded),
		slog.Float64("duration_seconds", r.DurationSeconds()),
		slog.Int("error_count", r.ErrorCount()),
	}
}
