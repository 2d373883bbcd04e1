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
	"encoding/json"
	"math"
	"time"

	"github.com/aaronlmathis/pipeflow/core"
)

// RunState is the lifecycle state of a pipeline run.
type RunState int32

const (
	StateIdle RunState = iota
	StateRunning
	StateCompleted
	StateFailed
)

func (s RunState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name.
func (s RunState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ErrorEntry is one validation failure kept in the run's error log.
type ErrorEntry struct {
	Index  int               `json:"index"`
	Record core.Record       `json:"record"`
	Errors []core.FieldError `json:"errors"`
}

// Result reports what a run accomplished. It is returned even when the run
// fails, with the counters reached before the failure.
type Result struct {
	RunID              string
	Pipeline           string
	State              RunState
	RecordsExtracted   int
	RecordsTransformed int
	RecordsValid       int
	RecordsInvalid     int
	RecordsLoaded      int
	Errors             []ErrorEntry
	StartedAt          time.Time
	FinishedAt         time.Time
	Duration           time.Duration
}

// ErrorCount is the number of entries in the error log.
func (r *Result) ErrorCount() int {
	return len(r.Errors)
}

// DurationSeconds is the run duration in seconds rounded to three decimals.
func (r *Result) DurationSeconds() float64 {
	return math.Round(r.Duration.Seconds()*1000) / 1000
}

// Map returns the fixed seven-key summary of the run.
func (r *Result) Map() map[string]any {
	return map[string]any{
		"records_extracted":   r.RecordsExtracted,
		"records_transformed": r.RecordsTransformed,
		"records_valid":       r.RecordsValid,
		"records_invalid":     r.RecordsInvalid,
		"records_loaded":      r.RecordsLoaded,
		"duration_seconds":    r.DurationSeconds(),
		"error_count":         r.ErrorCount(),
	}
}

type resultSummary struct {
	RecordsExtracted   int     `json:"records_extracted"`
	RecordsTransformed int     `json:"records_transformed"`
	RecordsValid       int     `json:"records_valid"`
	RecordsInvalid     int     `json:"records_invalid"`
	RecordsLoaded      int     `json:"records_loaded"`
	DurationSeconds    float64 `json:"duration_seconds"`
	ErrorCount         int     `json:"error_count"`
}

// MarshalJSON encodes the seven-key summary with keys in a stable order.
func (r *Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(resultSummary{
		RecordsExtracted:   r.RecordsExtracted,
		RecordsTransformed: r.RecordsTransformed,
		RecordsValid:       r.RecordsValid,
		RecordsInvalid:     r.RecordsInvalid,
		RecordsLoaded:      r.RecordsLoaded,
		DurationSeconds:    r.DurationSeconds(),
		ErrorCount:         r.ErrorCount(),
	})
}
