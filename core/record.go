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
	"fmt"
	"strings"
)

// indexThreshold is the field count above which a Record keeps a name index.
const indexThreshold = 16

// Field is one named value in a Record.
type Field struct {
	Name  string
	Value Value
}

// F is shorthand for building a Field.
func F(name string, v Value) Field { return Field{Name: name, Value: v} }

// Record is an ordered mapping from unique field names to values.
//
// Records are values: With and Without return modified copies and never touch
// the receiver, so a record handed to one stage stays valid for diagnostics
// after later stages have run. The zero Record is empty and ready to use.
type Record struct {
	fields []Field
	index  map[string]int
}

// NewRecord builds a Record from fields in order. A repeated name overwrites
// the earlier value and keeps the earlier position.
func NewRecord(fields ...Field) Record {
	r := Record{fields: make([]Field, 0, len(fields))}
	for _, f := range fields {
		v := f.Value
		if v == nil {
			v = Null{}
		}
		if i := r.position(f.Name); i >= 0 {
			r.fields[i].Value = v
			continue
		}
		r.fields = append(r.fields, Field{Name: f.Name, Value: v})
		if r.index != nil {
			r.index[f.Name] = len(r.fields) - 1
		} else if len(r.fields) > indexThreshold {
			r.buildIndex()
		}
	}
	return r
}

// RecordOf builds a Record from alternating name and Go value arguments,
// converting values with FromGo. It panics on malformed input and is meant
// for literals in tests and examples.
func RecordOf(kv ...any) Record {
	if len(kv)%2 != 0 {
		panic("core.RecordOf: odd number of arguments")
	}
	fields := make([]Field, 0, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		name, ok := kv[i].(string)
		if !ok {
			panic(fmt.Sprintf("core.RecordOf: field name %v is not a string", kv[i]))
		}
		fields = append(fields, Field{Name: name, Value: FromGo(kv[i+1])})
	}
	return NewRecord(fields...)
}

func (r *Record) buildIndex() {
	r.index = make(map[string]int, len(r.fields))
	for i, f := range r.fields {
		r.index[f.Name] = i
	}
}

func (r Record) position(name string) int {
	if r.index != nil {
		if i, ok := r.index[name]; ok {
			return i
		}
		return -1
	}
	for i := range r.fields {
		if r.fields[i].Name == name {
			return i
		}
	}
	return -1
}

// Len returns the number of fields.
func (r Record) Len() int { return len(r.fields) }

// Get returns the value stored under name.
func (r Record) Get(name string) (Value, bool) {
	if i := r.position(name); i >= 0 {
		return r.fields[i].Value, true
	}
	return nil, false
}

// Lookup returns the value stored under name, or Null when absent.
func (r Record) Lookup(name string) Value {
	if v, ok := r.Get(name); ok {
		return v
	}
	return Null{}
}

// Has reports whether the record contains name.
func (r Record) Has(name string) bool { return r.position(name) >= 0 }

// Keys returns the field names in order.
func (r Record) Keys() []string {
	keys := make([]string, len(r.fields))
	for i, f := range r.fields {
		keys[i] = f.Name
	}
	return keys
}

// Fields returns a copy of the fields in order.
func (r Record) Fields() []Field {
	out := make([]Field, len(r.fields))
	copy(out, r.fields)
	return out
}

// With returns a copy of r with name set to v. An existing field keeps its
// position; a new field is appended.
func (r Record) With(name string, v Value) Record {
	if v == nil {
		v = Null{}
	}
	i := r.position(name)
	n := len(r.fields)
	if i < 0 {
		n++
	}
	out := Record{fields: make([]Field, len(r.fields), n)}
	copy(out.fields, r.fields)
	if i >= 0 {
		out.fields[i].Value = v
	} else {
		out.fields = append(out.fields, Field{Name: name, Value: v})
	}
	if len(out.fields) > indexThreshold {
		out.buildIndex()
	}
	return out
}

// Without returns a copy of r with name removed.
func (r Record) Without(name string) Record {
	i := r.position(name)
	if i < 0 {
		return r
	}
	out := Record{fields: make([]Field, 0, len(r.fields)-1)}
	out.fields = append(out.fields, r.fields[:i]...)
	out.fields = append(out.fields, r.fields[i+1:]...)
	if len(out.fields) > indexThreshold {
		out.buildIndex()
	}
	return out
}

// Equal reports whether both records hold the same names in the same order
// with equal values.
func (r Record) Equal(o Record) bool {
	if len(r.fields) != len(o.fields) {
		return false
	}
	for i := range r.fields {
		if r.fields[i].Name != o.fields[i].Name || !Equal(r.fields[i].Value, o.fields[i].Value) {
			return false
		}
	}
	return true
}

// ToMap converts the record to plain Go values.
func (r Record) ToMap() map[string]any {
	out := make(map[string]any, len(r.fields))
	for _, f := range r.fields {
		out[f.Name] = ToGo(f.Value)
	}
	return out
}

// String renders the record as a dict literal.
func (r Record) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, f := range r.fields {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(Repr(String(f.Name)))
		sb.WriteString(": ")
		sb.WriteString(Repr(f.Value))
	}
	sb.WriteByte('}')
	return sb.String()
}
