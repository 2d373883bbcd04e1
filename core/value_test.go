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
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordWithIsCopyOnWrite(t *testing.T) {
	base := RecordOf("id", 1, "name", "Alice")
	updated := base.With("name", String("Bob")).With("age", Int(30))

	assert.Equal(t, String("Alice"), base.Lookup("name"))
	assert.False(t, base.Has("age"))
	assert.Equal(t, []string{"id", "name", "age"}, updated.Keys())
	assert.Equal(t, String("Bob"), updated.Lookup("name"))
}

func TestRecordDuplicateNamesKeepFirstPosition(t *testing.T) {
	r := NewRecord(F("a", Int(1)), F("b", Int(2)), F("a", Int(3)))
	assert.Equal(t, []string{"a", "b"}, r.Keys())
	assert.Equal(t, Int(3), r.Lookup("a"))
}

func TestRecordWithout(t *testing.T) {
	r := RecordOf("a", 1, "b", 2, "c", 3)
	assert.Equal(t, []string{"a", "c"}, r.Without("b").Keys())
	assert.Equal(t, 3, r.Len())
	assert.True(t, r.Without("missing").Equal(r))
}

func TestRecordLargeUsesIndex(t *testing.T) {
	var fields []Field
	for i := 0; i < 40; i++ {
		fields = append(fields, F(strings.Repeat("k", i+1), Int(int64(i))))
	}
	r := NewRecord(fields...)
	require.NotNil(t, r.index)
	assert.Equal(t, Int(39), r.Lookup(strings.Repeat("k", 40)))

	r2 := r.With("extra", Bool(true)).Without("k")
	assert.Equal(t, Bool(true), r2.Lookup("extra"))
	assert.False(t, r2.Has("k"))
	assert.Equal(t, Int(1), r2.Lookup("kk"))
}

func TestRecordJSONPreservesOrder(t *testing.T) {
	r, err := ParseRecordJSON([]byte(`{"z": 1, "a": {"y": [1, 2.5, "x"], "b": null}, "m": true}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"z", "a", "m"}, r.Keys())

	nested, ok := r.Lookup("a").(Map)
	require.True(t, ok)
	assert.Equal(t, []string{"y", "b"}, nested.Keys())

	out, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Equal(t, `{"z":1,"a":{"y":[1,2.5,"x"],"b":null},"m":true}`, string(out))
}

func TestParseRecordJSONRejectsNonObject(t *testing.T) {
	_, err := ParseRecordJSON([]byte(`[1,2]`))
	require.Error(t, err)
}

func TestMarshalValueSpecialFloats(t *testing.T) {
	out, err := MarshalValue(List{Float(math.NaN()), Float(math.Inf(1)), Float(1.5)})
	require.NoError(t, err)
	assert.Equal(t, `[null,null,1.5]`, string(out))
}

func TestValueString(t *testing.T) {
	ts := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	tests := []struct {
		v    Value
		want string
	}{
		{Null{}, "None"},
		{Bool(true), "True"},
		{Int(-42), "-42"},
		{Float(3), "3.0"},
		{Float(95.5), "95.5"},
		{Float(1e16), "1e+16"},
		{Float(0.00001), "1e-05"},
		{String("hi"), "hi"},
		{Time(ts), "2024-01-15 10:30:00"},
		{Time(ts.Add(1500 * time.Microsecond)), "2024-01-15 10:30:00.001500"},
		{Time(ts.Add(500 * time.Nanosecond)), "2024-01-15 10:30:00"},
		{Time(ts.Add(1500 * time.Nanosecond)), "2024-01-15 10:30:00.000001"},
		{List{Int(1), String("a"), Null{}}, "[1, 'a', None]"},
		{NewMap(F("k", String("it's"))), `{'k': "it's"}`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.v.String())
	}
}

func TestTruthy(t *testing.T) {
	assert.False(t, Truthy(Null{}))
	assert.False(t, Truthy(Int(0)))
	assert.False(t, Truthy(Float(0)))
	assert.False(t, Truthy(String("")))
	assert.False(t, Truthy(List{}))
	assert.False(t, Truthy(NewMap()))
	assert.True(t, Truthy(String("0")))
	assert.True(t, Truthy(List{Null{}}))
	assert.True(t, Truthy(Time(time.Unix(0, 0))))
}

func TestEqualAndCompare(t *testing.T) {
	assert.True(t, Equal(Int(1), Float(1.0)))
	assert.False(t, Equal(Bool(true), Int(1)))
	assert.True(t, Equal(Null{}, nil))
	assert.True(t, Equal(NewMap(F("a", Int(1)), F("b", Int(2))), NewMap(F("b", Int(2)), F("a", Float(1)))))
	assert.False(t, Equal(String("1"), Int(1)))

	c, ok := Compare(Int(2), Float(2.5))
	require.True(t, ok)
	assert.Equal(t, -1, c)

	c, ok = Compare(List{Int(1), Int(2)}, List{Int(1), Int(3)})
	require.True(t, ok)
	assert.Equal(t, -1, c)

	c, ok = Compare(List{Int(1), Int(2)}, List{Int(1)})
	require.True(t, ok)
	assert.Equal(t, 1, c)

	_, ok = Compare(String("a"), Int(1))
	assert.False(t, ok)
	_, ok = Compare(Bool(true), Bool(false))
	assert.False(t, ok)
	_, ok = Compare(Float(math.NaN()), Int(1))
	assert.False(t, ok)
	assert.True(t, Orderable(Float(math.NaN()), Int(1)))
}

func TestFromGoAndToGo(t *testing.T) {
	v := FromGo(map[string]any{"b": []any{int32(1), "x"}, "a": nil})
	m, ok := v.(Map)
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, m.Keys())
	assert.Equal(t, List{Int(1), String("x")}, m.Lookup("b"))

	assert.Equal(t, Int(7), FromGo(json.Number("7")))
	assert.Equal(t, Float(7.5), FromGo(json.Number("7.5")))
	assert.Equal(t, Float(1e300), FromGo(json.Number("1e300")))

	assert.Equal(t, map[string]any{"a": nil, "b": []any{int64(1), "x"}}, ToGo(m))
}
