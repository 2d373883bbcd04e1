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

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindTime
	KindList
	KindMap
)

// String returns the type name used in error messages.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "NoneType"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "str"
	case KindTime:
		return "datetime"
	case KindList:
		return "list"
	case KindMap:
		return "dict"
	default:
		return "unknown"
	}
}

// Value is the closed set of types that flow through records and expressions.
// The unexported method keeps the set closed to this package.
type Value interface {
	Kind() Kind
	// String renders the value the way the str() builtin does.
	String() string
	isValue()
}

type (
	Null   struct{}
	Bool   bool
	Int    int64
	Float  float64
	String string
	Time   time.Time
	List   []Value
	// Map is an ordered string-keyed mapping.
	Map struct{ Record }
)

func (Null) Kind() Kind   { return KindNull }
func (Bool) Kind() Kind   { return KindBool }
func (Int) Kind() Kind    { return KindInt }
func (Float) Kind() Kind  { return KindFloat }
func (String) Kind() Kind { return KindString }
func (Time) Kind() Kind   { return KindTime }
func (List) Kind() Kind   { return KindList }
func (Map) Kind() Kind    { return KindMap }

func (Null) isValue()   {}
func (Bool) isValue()   {}
func (Int) isValue()    {}
func (Float) isValue()  {}
func (String) isValue() {}
func (Time) isValue()   {}
func (List) isValue()   {}
func (Map) isValue()    {}

func (Null) String() string { return "None" }

func (b Bool) String() string {
	if b {
		return "True"
	}
	return "False"
}

func (i Int) String() string { return strconv.FormatInt(int64(i), 10) }

func (f Float) String() string { return FormatFloat(float64(f)) }

func (s String) String() string { return string(s) }

func (t Time) String() string {
	tt := time.Time(t)
	out := tt.Format("2006-01-02 15:04:05")
	if us := tt.Nanosecond() / 1000; us != 0 {
		out += "." + strconv.Itoa(us+1000000)[1:]
	}
	if tt.Location() != time.UTC {
		out += tt.Format("-07:00")
	}
	return out
}

// Std returns the underlying time.Time.
func (t Time) Std() time.Time { return time.Time(t) }

func (l List) String() string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, v := range l {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(Repr(v))
	}
	sb.WriteByte(']')
	return sb.String()
}

func (m Map) String() string { return m.Record.String() }

// NewMap builds an ordered Map from fields.
func NewMap(fields ...Field) Map { return Map{NewRecord(fields...)} }

// FormatFloat renders f with the shortest representation that round-trips,
// always keeping a decimal point or exponent so floats read as floats.
func FormatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	abs := math.Abs(f)
	if abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(f, 'e', -1, 64)
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

// Repr renders v the way it appears inside a container: strings are quoted.
func Repr(v Value) string {
	s, ok := v.(String)
	if !ok {
		return v.String()
	}
	quote := byte('\'')
	if strings.ContainsRune(string(s), '\'') && !strings.ContainsRune(string(s), '"') {
		quote = '"'
	}
	var sb strings.Builder
	sb.WriteByte(quote)
	for _, r := range string(s) {
		switch r {
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		default:
			if r == rune(quote) {
				sb.WriteByte('\\')
			}
			sb.WriteRune(r)
		}
	}
	sb.WriteByte(quote)
	return sb.String()
}

// Truthy reports the boolean interpretation of v.
func Truthy(v Value) bool {
	switch x := v.(type) {
	case nil, Null:
		return false
	case Bool:
		return bool(x)
	case Int:
		return x != 0
	case Float:
		return x != 0
	case String:
		return x != ""
	case Time:
		return true
	case List:
		return len(x) > 0
	case Map:
		return x.Len() > 0
	default:
		return false
	}
}

// IsNull reports whether v is nil or Null.
func IsNull(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(Null)
	return ok
}

// IsNumeric reports whether v is an Int or Float. Bool is not numeric.
func IsNumeric(v Value) bool {
	switch v.(type) {
	case Int, Float:
		return true
	}
	return false
}

// AsFloat returns the numeric value of an Int or Float.
func AsFloat(v Value) (float64, bool) {
	switch x := v.(type) {
	case Int:
		return float64(x), true
	case Float:
		return float64(x), true
	}
	return 0, false
}
