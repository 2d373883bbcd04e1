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

package core

import "context"

// Extractor produces a finite, non-restartable stream of records.
type Extractor interface {
	// Read returns the next record or io.EOF when no more records are available.
	Read(ctx context.Context) (Record, error)
	// Close releases any resources held by the extractor.
	Close() error
}

// Loader accepts batches of records.
type Loader interface {
	// Load writes a batch and returns how many records were accepted.
	Load(ctx context.Context, records []Record) (int, error)
	// Close flushes and releases resources. It must be safe to call more than once.
	Close() error
}

// Validator checks a record against a schema. An empty result means valid.
type Validator interface {
	Validate(record Record) []FieldError
}

// Stage is one unit of the transform chain.
type Stage interface {
	// Name identifies the stage in error reports.
	Name() string
	// Apply returns the transformed record and whether to keep it.
	// keep == false drops the record and skips the remaining stages.
	Apply(ctx context.Context, record Record) (out Record, keep bool, err error)
}

// Resetter is implemented by stages holding per-run state.
type Resetter interface {
	Reset()
}

// StageFunc adapts a function to the Stage interface.
type StageFunc func(ctx context.Context, record Record) (Record, bool, error)

type funcStage struct {
	name string
	fn   StageFunc
}

// NewStage wraps fn as a named Stage.
func NewStage(name string, fn StageFunc) Stage {
	return &funcStage{name: name, fn: fn}
}

func (s *funcStage) Name() string { return s.name }

func (s *funcStage) Apply(ctx context.Context, record Record) (Record, bool, error) {
	return s.fn(ctx, record)
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc func(record Record) []FieldError

func (f ValidatorFunc) Validate(record Record) []FieldError {
	return f(record)
}
