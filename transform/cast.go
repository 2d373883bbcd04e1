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
	"fmt"
	"strconv"
	"strings"

	"github.com/aaronlmathis/pipeflow/core"
	"github.com/aaronlmathis/pipeflow/expr"
)

// TypeTag names a cast target.
type TypeTag string

const (
	TypeInt      TypeTag = "int"
	TypeFloat    TypeTag = "float"
	TypeStr      TypeTag = "str"
	TypeBool     TypeTag = "bool"
	TypeDatetime TypeTag = "datetime"
)

// ParseTypeTag validates a cast type name.
func ParseTypeTag(s string) (TypeTag, error) {
	switch t := TypeTag(strings.ToLower(strings.TrimSpace(s))); t {
	case TypeInt, TypeFloat, TypeStr, TypeBool, TypeDatetime:
		return t, nil
	}
	return "", fmt.Errorf("unknown cast type %q (want int, float, str, bool or datetime)", s)
}

// CastError reports a value that could not be coerced.
type CastError struct {
	Column string
	Value  core.Value
	Target TypeTag
	Err    error
}

func (e *CastError) Error() string {
	return fmt.Sprintf("cannot cast column %q value %s to %s: %v", e.Column, core.Repr(e.Value), e.Target, e.Err)
}

func (e *CastError) Unwrap() error {
	return e.Err
}

// CastColumn pairs a column with its target type.
type CastColumn struct {
	Column string
	Type   TypeTag
}

// CastStage coerces configured columns. Missing columns and null values are left alone.
// Strings cast to bool must be one of the strconv.ParseBool spellings
// ("1", "t", "true", "0", "f", "false" and their case variants), so "false"
// becomes False and "yes" is a cast error rather than a truthy value.
type CastStage struct {
	columns []CastColumn
}

// Cast creates a stage that coerces columns in the given order.
func Cast(columns ...CastColumn) (*CastStage, error) {
	cols := make([]CastColumn, len(columns))
	for i, c := range columns {
		tag, err := ParseTypeTag(string(c.Type))
		if err != nil {
			return nil, fmt.Errorf("cast column %q: %w", c.Column, err)
		}
		cols[i] = CastColumn{Column: c.Column, Type: tag}
	}
	return &CastStage{columns: cols}, nil
}

func (s *CastStage) Name() string { return "cast" }

func (s *CastStage) Apply(ctx context.Context, record core.Record) (core.Record, bool, error) {
	out := record
	for _, c := range s.columns {
		v, ok := record.Get(c.Column)
		if !ok || core.IsNull(v) {
			continue
		}
		converted, err := Convert(v, c.Type)
		if err != nil {
			return core.Record{}, false, &CastError{Column: c.Column, Value: v, Target: c.Type, Err: err}
		}
		out = out.With(c.Column, converted)
	}
	return out, true, nil
}

// Convert coerces v to the type named by tag.
func Convert(v core.Value, tag TypeTag) (core.Value, error) {
	switch tag {
	case TypeInt:
		return expr.ToInt(v)
	case TypeFloat:
		return expr.ToFloat(v)
	case TypeStr:
		if s, ok := v.(core.String); ok {
			return s, nil
		}
		return core.String(v.String()), nil
	case TypeBool:
		return toBool(v)
	case TypeDatetime:
		switch x := v.(type) {
		case core.Time:
			return x, nil
		case core.String:
			t, err := core.ParseTime(string(x))
			if err != nil {
				return nil, err
			}
			return core.Time(t), nil
		}
		return nil, fmt.Errorf("cannot convert %s to datetime", v.Kind())
	}
	return nil, fmt.Errorf("unknown cast type %q", tag)
}

func toBool(v core.Value) (core.Value, error) {
	switch x := v.(type) {
	case core.Bool:
		return x, nil
	case core.Int:
		return core.Bool(x != 0), nil
	case core.Float:
		return core.Bool(x != 0), nil
	case core.String:
		b, err := strconv.ParseBool(strings.TrimSpace(string(x)))
		if err != nil {
			return nil, fmt.Errorf("invalid boolean %q", string(x))
		}
		return core.Bool(b), nil
	}
	return nil, fmt.Errorf("cannot convert %s to bool", v.Kind())
}
