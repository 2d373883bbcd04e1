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

package transform

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aaronlmathis/pipeflow/core"
	"github.com/aaronlmathis/pipeflow/expr"
)

// Package transform provides the record stages of a pipeflow transform chain.
//
// Every stage treats its input as read-only and returns a new record when it
// changes anything. Filter and Derive evaluate expressions through the expr
// sandbox; their expressions are compiled once at construction.

// ErrInvalidDerive is returned when a derive expression has no "target = expr" form.
var ErrInvalidDerive = errors.New(`derive expression must have the form "<target> = <expression>"`)

// RenameStage renames fields according to a mapping.
//
// Fields are visited in record order. When several fields end up with the same
// name the last one visited supplies the value and the first one keeps its position.
type RenameStage struct {
	mapping map[string]string
}

// Rename creates a stage that renames fields. Keys are original field names,
// values are new field names. Unmapped fields pass through unchanged.
func Rename(mapping map[string]string) *RenameStage {
	m := make(map[string]string, len(mapping))
	for k, v := range mapping {
		m[k] = v
	}
	return &RenameStage{mapping: m}
}

func (s *RenameStage) Name() string { return "rename" }

func (s *RenameStage) Apply(ctx context.Context, record core.Record) (core.Record, bool, error) {
	fields := record.Fields()
	for i := range fields {
		if to, ok := s.mapping[fields[i].Name]; ok {
			fields[i].Name = to
		}
	}
	return core.NewRecord(fields...), true, nil
}

// FilterStage keeps records for which its condition is truthy.
type FilterStage struct {
	cond *expr.Program
}

// Filter compiles condition and returns a filtering stage. An empty
// condition keeps every record.
func Filter(condition string) (*FilterStage, error) {
	if strings.TrimSpace(condition) == "" {
		condition = "True"
	}
	prog, err := expr.Compile(condition)
	if err != nil {
		return nil, fmt.Errorf("filter condition: %w", err)
	}
	return &FilterStage{cond: prog}, nil
}

func (s *FilterStage) Name() string { return "filter" }

// Condition returns the compiled condition.
func (s *FilterStage) Condition() *expr.Program { return s.cond }

func (s *FilterStage) Apply(ctx context.Context, record core.Record) (core.Record, bool, error) {
	v, err := s.cond.Eval(record)
	if err != nil {
		return core.Record{}, false, fmt.Errorf("evaluate %q: %w", s.cond.Source(), err)
	}
	return record, core.Truthy(v), nil
}

// DeriveStage adds or replaces one field with the value of an expression.
type DeriveStage struct {
	target string
	value  *expr.Program
}

// Derive parses an assignment of the form "target = expression". The first
// '=' separates the target from the expression.
func Derive(assignment string) (*DeriveStage, error) {
	target, source, ok := strings.Cut(assignment, "=")
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDerive, assignment)
	}
	return NewDerive(target, source)
}

// NewDerive builds a derive stage from a target field and an expression.
func NewDerive(target, expression string) (*DeriveStage, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, fmt.Errorf("%w: empty target", ErrInvalidDerive)
	}
	prog, err := expr.Compile(strings.TrimSpace(expression))
	if err != nil {
		return nil, fmt.Errorf("derive %s: %w", target, err)
	}
	return &DeriveStage{target: target, value: prog}, nil
}

func (s *DeriveStage) Name() string { return "derive" }

// Target returns the field the stage writes.
func (s *DeriveStage) Target() string { return s.target }

func (s *DeriveStage) Apply(ctx context.Context, record core.Record) (core.Record, bool, error) {
	v, err := s.value.Eval(record)
	if err != nil {
		return core.Record{}, false, fmt.Errorf("derive %s = %s: %w", s.target, s.value.Source(), err)
	}
	return record.With(s.target, v), true, nil
}

// Select creates a stage that keeps only the listed fields, in the listed order.
// Listed fields missing from a record are skipped.
func Select(fields ...string) core.Stage {
	fields = append([]string(nil), fields...)
	return core.NewStage("select", func(ctx context.Context, record core.Record) (core.Record, bool, error) {
		out := make([]core.Field, 0, len(fields))
		for _, name := range fields {
			if v, ok := record.Get(name); ok {
				out = append(out, core.F(name, v))
			}
		}
		return core.NewRecord(out...), true, nil
	})
}

// Drop creates a stage that removes the listed fields.
func Drop(fields ...string) core.Stage {
	remove := make(map[string]bool, len(fields))
	for _, f := range fields {
		remove[f] = true
	}
	return core.NewStage("drop", func(ctx context.Context, record core.Record) (core.Record, bool, error) {
		out := make([]core.Field, 0, record.Len())
		for _, f := range record.Fields() {
			if !remove[f.Name] {
				out = append(out, f)
			}
		}
		return core.NewRecord(out...), true, nil
	})
}

type namedStage struct {
	core.Stage
	name string
}

// Named overrides the name a stage reports in errors. Reset is forwarded to
// the wrapped stage.
func Named(name string, stage core.Stage) core.Stage {
	return &namedStage{Stage: stage, name: name}
}

func (n *namedStage) Name() string { return n.name }

func (n *namedStage) Reset() {
	if r, ok := n.Stage.(core.Resetter); ok {
		r.Reset()
	}
}

// Unwrap returns the wrapped stage.
func (n *namedStage) Unwrap() core.Stage { return n.Stage }
