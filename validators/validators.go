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

// validators.go - Record schema validation
package validators

import (
	"fmt"
	"math"
	"net/mail"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/aaronlmathis/pipeflow/core"
	"github.com/google/uuid"
)

// FieldDataType represents expected data types for validation
type FieldDataType string

const (
	FieldTypeString   FieldDataType = "str"
	FieldTypeInt      FieldDataType = "int"
	FieldTypeFloat    FieldDataType = "float"
	FieldTypeBool     FieldDataType = "bool"
	FieldTypeDatetime FieldDataType = "datetime"
	FieldTypeEmail    FieldDataType = "email"
	FieldTypeURL      FieldDataType = "url"
	FieldTypeUUID     FieldDataType = "uuid"
	FieldTypeAny      FieldDataType = "any"
)

var typeAliases = map[string]FieldDataType{
	"string":    FieldTypeString,
	"integer":   FieldTypeInt,
	"number":    FieldTypeFloat,
	"boolean":   FieldTypeBool,
	"date":      FieldTypeDatetime,
	"timestamp": FieldTypeDatetime,
}

// ParseFieldDataType resolves a type name, accepting a few common aliases.
// An empty name means any.
func ParseFieldDataType(s string) (FieldDataType, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "" {
		return FieldTypeAny, nil
	}
	if t, ok := typeAliases[name]; ok {
		return t, nil
	}
	switch t := FieldDataType(name); t {
	case FieldTypeString, FieldTypeInt, FieldTypeFloat, FieldTypeBool, FieldTypeDatetime,
		FieldTypeEmail, FieldTypeURL, FieldTypeUUID, FieldTypeAny:
		return t, nil
	}
	return "", fmt.Errorf("unknown field type %q", s)
}

// FieldValidator defines validation rules for one field
type FieldValidator struct {
	Name          string
	DataType      FieldDataType
	Required      bool
	Pattern       *regexp.Regexp // applied to string values
	MinValue      *float64       // inclusive, numeric values only
	MaxValue      *float64       // inclusive, numeric values only
	AllowedValues []core.Value
	CustomFunc    func(core.Value) error
}

// SchemaValidator checks each record against a list of field rules and
// reports every violation it finds. A validator without fields accepts
// every record.
type SchemaValidator struct {
	model  string
	fields []FieldValidator
}

// NewSchemaValidator creates a validator for the named model.
func NewSchemaValidator(model string, fields ...FieldValidator) (*SchemaValidator, error) {
	seen := make(map[string]bool, len(fields))
	out := make([]FieldValidator, len(fields))
	for i, f := range fields {
		if f.Name == "" {
			return nil, fmt.Errorf("schema %s: field %d has no name", model, i)
		}
		if seen[f.Name] {
			return nil, fmt.Errorf("schema %s: field %q declared twice", model, f.Name)
		}
		seen[f.Name] = true
		dt, err := ParseFieldDataType(string(f.DataType))
		if err != nil {
			return nil, fmt.Errorf("schema %s: field %q: %w", model, f.Name, err)
		}
		f.DataType = dt
		if f.MinValue != nil && f.MaxValue != nil && *f.MinValue > *f.MaxValue {
			return nil, fmt.Errorf("schema %s: field %q: min %v exceeds max %v", model, f.Name, *f.MinValue, *f.MaxValue)
		}
		out[i] = f
	}
	return &SchemaValidator{model: model, fields: out}, nil
}

// Model returns the schema name.
func (v *SchemaValidator) Model() string { return v.model }

// Fields returns the configured field rules.
func (v *SchemaValidator) Fields() []FieldValidator {
	return append([]FieldValidator(nil), v.fields...)
}

// Validate implements core.Validator.
func (v *SchemaValidator) Validate(record core.Record) []core.FieldError {
	var errs []core.FieldError
	for _, f := range v.fields {
		value, exists := record.Get(f.Name)
		if !exists {
			if f.Required {
				errs = append(errs, core.FieldError{Field: f.Name, Message: "Field required", Kind: "missing"})
			}
			continue
		}
		if core.IsNull(value) {
			if f.Required && f.DataType != FieldTypeAny {
				errs = append(errs, typeMismatch(f))
			}
			continue
		}
		if fe := validateField(f, value); fe != nil {
			errs = append(errs, *fe)
		}
	}
	return errs
}

func validateField(f FieldValidator, value core.Value) *core.FieldError {
	normalized, fe := checkType(f, value)
	if fe != nil {
		return fe
	}

	if f.Pattern != nil {
		if s, ok := normalized.(core.String); ok && !f.Pattern.MatchString(string(s)) {
			return fieldError(f, "string_pattern_mismatch", "String should match pattern '%s'", f.Pattern.String())
		}
	}

	if n, ok := core.AsFloat(normalized); ok {
		if f.MinValue != nil && n < *f.MinValue {
			return fieldError(f, "greater_than_equal", "Input should be greater than or equal to %s", formatBound(*f.MinValue))
		}
		if f.MaxValue != nil && n > *f.MaxValue {
			return fieldError(f, "less_than_equal", "Input should be less than or equal to %s", formatBound(*f.MaxValue))
		}
	}

	if len(f.AllowedValues) > 0 {
		allowed := false
		for _, a := range f.AllowedValues {
			if core.Equal(a, normalized) {
				allowed = true
				break
			}
		}
		if !allowed {
			names := make([]string, len(f.AllowedValues))
			for i, a := range f.AllowedValues {
				names[i] = core.Repr(a)
			}
			return fieldError(f, "literal_error", "Input should be %s", strings.Join(names, " or "))
		}
	}

	if f.CustomFunc != nil {
		if err := f.CustomFunc(normalized); err != nil {
			return fieldError(f, "value_error", "Value error, %v", err)
		}
	}
	return nil
}

func fieldError(f FieldValidator, kind, format string, args ...any) *core.FieldError {
	return &core.FieldError{Field: f.Name, Message: fmt.Sprintf(format, args...), Kind: kind}
}

func formatBound(b float64) string {
	if b == math.Trunc(b) && math.Abs(b) < 1e15 {
		return strconv.FormatInt(int64(b), 10)
	}
	return core.FormatFloat(b)
}

func typeMismatch(f FieldValidator) core.FieldError {
	switch f.DataType {
	case FieldTypeInt:
		return core.FieldError{Field: f.Name, Message: "Input should be a valid integer", Kind: "int_type"}
	case FieldTypeFloat:
		return core.FieldError{Field: f.Name, Message: "Input should be a valid number", Kind: "float_type"}
	case FieldTypeBool:
		return core.FieldError{Field: f.Name, Message: "Input should be a valid boolean", Kind: "bool_type"}
	case FieldTypeDatetime:
		return core.FieldError{Field: f.Name, Message: "Input should be a valid datetime", Kind: "datetime_type"}
	default:
		return core.FieldError{Field: f.Name, Message: "Input should be a valid string", Kind: "string_type"}
	}
}

var boolStrings = map[string]bool{
	"0": false, "off": false, "f": false, "false": false, "n": false, "no": false,
	"1": true, "on": true, "t": true, "true": true, "y": true, "yes": true,
}

// checkType validates value against the field type. Strings that parse as
// the target type are accepted and returned converted, so range and
// allowed-value checks see the parsed value.
func checkType(f FieldValidator, value core.Value) (core.Value, *core.FieldError) {
	switch f.DataType {
	case FieldTypeAny:
		return value, nil

	case FieldTypeString:
		if _, ok := value.(core.String); ok {
			return value, nil
		}

	case FieldTypeInt:
		switch x := value.(type) {
		case core.Int:
			return x, nil
		case core.Float:
			fv := float64(x)
			if math.IsNaN(fv) || math.IsInf(fv, 0) || fv != math.Trunc(fv) {
				return nil, fieldError(f, "int_from_float", "Input should be a valid integer, got a number with a fractional part")
			}
			return core.Int(fv), nil
		case core.String:
			i, err := strconv.ParseInt(strings.TrimSpace(string(x)), 10, 64)
			if err != nil {
				return nil, fieldError(f, "int_parsing", "Input should be a valid integer, unable to parse string as an integer")
			}
			return core.Int(i), nil
		}

	case FieldTypeFloat:
		switch x := value.(type) {
		case core.Int, core.Float:
			return x, nil
		case core.String:
			fv, err := strconv.ParseFloat(strings.TrimSpace(string(x)), 64)
			if err != nil {
				return nil, fieldError(f, "float_parsing", "Input should be a valid number, unable to parse string as a number")
			}
			return core.Float(fv), nil
		}

	case FieldTypeBool:
		switch x := value.(type) {
		case core.Bool:
			return x, nil
		case core.Int:
			if x == 0 || x == 1 {
				return core.Bool(x == 1), nil
			}
			return nil, fieldError(f, "bool_parsing", "Input should be a valid boolean, unable to interpret input")
		case core.String:
			if b, ok := boolStrings[strings.ToLower(strings.TrimSpace(string(x)))]; ok {
				return core.Bool(b), nil
			}
			return nil, fieldError(f, "bool_parsing", "Input should be a valid boolean, unable to interpret input")
		}

	case FieldTypeDatetime:
		switch x := value.(type) {
		case core.Time:
			return x, nil
		case core.Int:
			return core.Time(time.Unix(int64(x), 0).UTC()), nil
		case core.String:
			t, err := core.ParseTime(string(x))
			if err != nil {
				return nil, fieldError(f, "datetime_parsing", "Input should be a valid datetime, %v", err)
			}
			return core.Time(t), nil
		}

	case FieldTypeEmail:
		if s, ok := value.(core.String); ok {
			addr, err := mail.ParseAddress(string(s))
			if err == nil && addr.Address == strings.TrimSpace(string(s)) && strings.Contains(addr.Address[strings.LastIndex(addr.Address, "@")+1:], ".") {
				return s, nil
			}
			return nil, fieldError(f, "value_error", "value is not a valid email address")
		}

	case FieldTypeURL:
		if s, ok := value.(core.String); ok {
			u, err := url.Parse(strings.TrimSpace(string(s)))
			if err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != "" {
				return s, nil
			}
			return nil, fieldError(f, "url_parsing", "Input should be a valid URL")
		}

	case FieldTypeUUID:
		if s, ok := value.(core.String); ok {
			if _, err := uuid.Parse(strings.TrimSpace(string(s))); err == nil {
				return s, nil
			}
			return nil, fieldError(f, "uuid_parsing", "Input should be a valid UUID")
		}
	}

	fe := typeMismatch(f)
	return nil, &fe
}
