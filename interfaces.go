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

	"github.com/aaronlmathis/pipeflow/core"
)

// Package pipeflow runs configuration-driven ETL pipelines.
//
// A Pipeline pulls records one at a time from an Extractor, passes each one
// through an ordered chain of Stages, optionally checks it with a Validator,
// and hands valid records to a Loader in fixed-size batches. Memory use is
// bounded by the batch size regardless of input size.
//
// Example usage:
//
//	filter, _ := transform.Filter("age >= 18")
//	p, err := pipeflow.NewPipeline().
//	    Named("adults").
//	    From(csvReader).
//	    Stage(filter).
//	    To(jsonWriter).
//	    WithBatchSize(500).
//	    WithEvents(pipeflow.NewSlogSink(slog.Default())).
//	    Build()
//	if err != nil { return err }
//	result, err := p.Run(ctx)
//
// Stage, extraction and load failures abort the run; validation failures are
// recorded per record in Result.Errors and never abort.

// The collaborator contracts are defined in core and re-exported here so that
// callers composing a pipeline need a single import.
type (
	Record    = core.Record
	Extractor = core.Extractor
	Loader    = core.Loader
	Validator = core.Validator
	Stage     = core.Stage
)

// EventSink receives structured events emitted during a run. Emit must not
// block for long; it is called synchronously from the run loop.
type EventSink interface {
	Emit(ctx context.Context, event Event)
}

// EventSinkFunc is a function adapter for the EventSink interface.
type EventSinkFunc func(ctx context.Context, event Event)

// Emit implements the EventSink interface for EventSinkFunc.
func (f EventSinkFunc) Emit(ctx context.Context, event Event) {
	f(ctx, event)
}
