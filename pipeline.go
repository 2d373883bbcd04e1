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
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/aaronlmathis/pipeflow/core"
)

// DefaultBatchSize is the loader batch size used when none is configured.
const DefaultBatchSize = 100

// PipelineBuilder provides a fluent API for constructing pipelines.
// Use NewPipeline() to create a new builder, then chain From, Stage,
// Validate, To and configuration methods.
type PipelineBuilder struct {
	pipeline *Pipeline
}

// NewPipeline creates a new PipelineBuilder.
func NewPipeline() *PipelineBuilder {
	return &PipelineBuilder{
		pipeline: &Pipeline{
			name:      "pipeline",
			stages:    make([]Stage, 0),
			batchSize: DefaultBatchSize,
			events:    NopSink{},
		},
	}
}

// Named sets the name reported in events.
func (pb *PipelineBuilder) Named(name string) *PipelineBuilder {
	pb.pipeline.name = name
	return pb
}

// From sets the Extractor for the pipeline.
func (pb *PipelineBuilder) From(extractor Extractor) *PipelineBuilder {
	pb.pipeline.extractor = extractor
	return pb
}

// Stage appends stages to the transform chain. Stages run in the order added.
func (pb *PipelineBuilder) Stage(stages ...Stage) *PipelineBuilder {
	pb.pipeline.stages = append(pb.pipeline.stages, stages...)
	return pb
}

// Validate sets the Validator applied after the transform chain.
func (pb *PipelineBuilder) Validate(validator Validator) *PipelineBuilder {
	pb.pipeline.validator = validator
	return pb
}

// To sets the Loader for the pipeline.
func (pb *PipelineBuilder) To(loader Loader) *PipelineBuilder {
	pb.pipeline.loader = loader
	return pb
}

// WithBatchSize sets how many valid records are buffered per Load call.
func (pb *PipelineBuilder) WithBatchSize(size int) *PipelineBuilder {
	pb.pipeline.batchSize = size
	return pb
}

// WithEvents sets the sink that receives run events. Several sinks can be
// combined with MultiSink.
func (pb *PipelineBuilder) WithEvents(sink EventSink) *PipelineBuilder {
	if sink == nil {
		sink = NopSink{}
	}
	pb.pipeline.events = sink
	return pb
}

// Build validates and constructs the Pipeline from the builder.
func (pb *PipelineBuilder) Build() (*Pipeline, error) {
	if pb.pipeline.extractor == nil {
		return nil, fmt.Errorf("pipeline requires an extractor")
	}
	if pb.pipeline.loader == nil {
		return nil, fmt.Errorf("pipeline requires a loader")
	}
	if pb.pipeline.batchSize < 1 {
		return nil, fmt.Errorf("batch size must be at least 1, got %d", pb.pipeline.batchSize)
	}
	for i, s := range pb.pipeline.stages {
		if s == nil {
			return nil, fmt.Errorf("stage %d is nil", i)
		}
	}
	return pb.pipeline, nil
}

// Pipeline streams records from an Extractor through the stage chain and
// optional Validator into a Loader.
type Pipeline struct {
	name      string
	extractor Extractor
	stages    []Stage
	validator Validator
	loader    Loader
	batchSize int
	events    EventSink

	started atomic.Bool
	state   atomic.Int32
}

// Name returns the pipeline name.
func (p *Pipeline) Name() string { return p.name }

// State returns the current lifecycle state.
func (p *Pipeline) State() RunState { return RunState(p.state.Load()) }

// run holds the per-run state owned by Run.
type run struct {
	p      *Pipeline
	ctx    context.Context
	result *Result
	batch  []core.Record
}

// Run executes the pipeline once. The Extractor and Loader are closed exactly
// once before Run returns, on every path. A panic raised by a stage, the
// validator or the Loader still closes both and marks the run failed before
// it is re-raised. The returned Result is never nil
// unless the pipeline was already run; on failure it carries the counters
// reached and the error is a *StageError, *ExtractionError, *LoadError or
// the context's error.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	if !p.started.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRun
	}

	r := &run{
		p:   p,
		ctx: ctx,
		result: &Result{
			RunID:     uuid.NewString(),
			Pipeline:  p.name,
			State:     StateRunning,
			StartedAt: time.Now(),
		},
		batch: make([]core.Record, 0, p.batchSize),
	}
	p.state.Store(int32(StateRunning))
	p.emit(ctx, r.event(EventRunStarted))

	for _, s := range p.stages {
		if rs, ok := s.(core.Resetter); ok {
			rs.Reset()
		}
	}

	closed := false
	defer func() {
		v := recover()
		if v == nil {
			return
		}
		if !closed {
			closed = true
			_ = r.closeAll()
		}
		r.finish(fmt.Errorf("panic: %v", v))
		panic(v)
	}()

	err := r.loop()
	closed = true
	if closeErr := r.closeAll(); err == nil {
		err = closeErr
	}
	return r.finish(err)
}

// finish stamps the result and emits the terminal event for err.
func (r *run) finish(err error) (*Result, error) {
	p := r.p
	res := r.result
	res.FinishedAt = time.Now()
	res.Duration = res.FinishedAt.Sub(res.StartedAt)
	if err != nil {
		res.State = StateFailed
		p.state.Store(int32(StateFailed))
		ev := r.event(EventRunFailed)
		ev.Err = err
		ev.Result = res
		p.emit(r.ctx, ev)
		return res, err
	}
	res.State = StateCompleted
	p.state.Store(int32(StateCompleted))
	ev := r.event(EventRunCompleted)
	ev.Result = res
	ev.Duration = res.Duration
	p.emit(r.ctx, ev)
	return res, nil
}

func (p *Pipeline) emit(ctx context.Context, event Event) {
	// events go out even when the run was aborted by ctx
	p.events.Emit(context.WithoutCancel(ctx), event)
}

func (r *run) event(t EventType) Event {
	return Event{
		Type:     t,
		RunID:    r.result.RunID,
		Pipeline: r.p.name,
		Time:     time.Now(),
	}
}

func (r *run) loop() error {
	res := r.result
	for {
		if err := r.ctx.Err(); err != nil {
			return err
		}

		record, err := r.p.extractor.Read(r.ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctxErr := r.ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				return ctxErr
			}
			return &ExtractionError{Index: res.RecordsExtracted, Err: err}
		}
		index := res.RecordsExtracted
		res.RecordsExtracted++

		current, keep, err := r.applyStages(index, record)
		if err != nil {
			return err
		}
		if !keep {
			continue
		}
		res.RecordsTransformed++

		if r.p.validator != nil {
			if fieldErrs := r.p.validator.Validate(current); len(fieldErrs) > 0 {
				res.RecordsInvalid++
				res.Errors = append(res.Errors, ErrorEntry{Index: index, Record: current, Errors: fieldErrs})
				ev := r.event(EventRecordInvalid)
				ev.Index = index
				ev.Record = current
				ev.Errors = fieldErrs
				r.p.emit(r.ctx, ev)
				continue
			}
		}
		res.RecordsValid++

		r.batch = append(r.batch, current)
		if len(r.batch) >= r.p.batchSize {
			if err := r.flush(); err != nil {
				return err
			}
		}
	}
	return r.flush()
}

// applyStages runs the chain in order and stops at the first stage that drops the record.
func (r *run) applyStages(index int, record core.Record) (core.Record, bool, error) {
	current := record
	for _, s := range r.p.stages {
		out, keep, err := s.Apply(r.ctx, current)
		if err != nil {
			return core.Record{}, false, &StageError{Stage: s.Name(), Index: index, Record: current, Err: err}
		}
		if !keep {
			ev := r.event(EventRecordDropped)
			ev.Index = index
			ev.Stage = s.Name()
			ev.Record = current
			r.p.emit(r.ctx, ev)
			return core.Record{}, false, nil
		}
		current = out
	}
	return current, true, nil
}

// flush hands the current batch to the loader. A loader may keep the slice,
// so each flush starts a fresh one.
func (r *run) flush() error {
	if len(r.batch) == 0 {
		return nil
	}
	batch := r.batch
	r.batch = make([]core.Record, 0, r.p.batchSize)

	start := time.Now()
	loaded, err := r.p.loader.Load(r.ctx, batch)
	if loaded > 0 {
		r.result.RecordsLoaded += loaded
	}
	if err != nil {
		return &LoadError{Records: len(batch), Err: err}
	}

	ev := r.event(EventBatchLoaded)
	ev.Count = len(batch)
	ev.Loaded = loaded
	ev.Duration = time.Since(start)
	r.p.emit(r.ctx, ev)
	return nil
}

// closeAll closes the loader and the extractor. A loader close failure is a
// LoadError; an extractor close failure is an ExtractionError.
func (r *run) closeAll() error {
	var errs []error
	if err := r.p.loader.Close(); err != nil {
		errs = append(errs, &LoadError{Err: err})
	}
	if err := r.p.extractor.Close(); err != nil {
		errs = append(errs, &ExtractionError{Index: r.result.RecordsExtracted, Err: err})
	}
	return errors.Join(errs...)
}
