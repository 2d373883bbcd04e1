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

package expr

import (
	"testing"

	"github.com/aaronlmathis/pipeflow/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bindings() core.Record {
	return core.RecordOf(
		"first", "Alice",
		"last", "Smith",
		"name", "alice",
		"age", 30,
		"price", 2.5,
		"quantity", 4,
		"email", "alice@example.com",
		"missing_value", nil,
		"tags", []any{"a", "b"},
		"address", core.NewMap(core.F("city", core.String("Paris"))),
	)
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		src  string
		want core.Value
	}{
		{"age >= 18", core.Bool(true)},
		{"age < 18", core.Bool(false)},
		{"first + ' ' + last", core.String("Alice Smith")},
		{"price * quantity", core.Float(10)},
		{"quantity * 3", core.Int(12)},
		{"7 / 2", core.Float(3.5)},
		{"6 / 3", core.Float(2)},
		{"7 // 2", core.Int(3)},
		{"-7 // 2", core.Int(-4)},
		{"-7 % 3", core.Int(2)},
		{"7 % -3", core.Int(-2)},
		{"7.5 // 2", core.Float(3)},
		{"-7.5 % 2", core.Float(0.5)},
		{"1 < 2 < 3", core.Bool(true)},
		{"1 < 3 < 2", core.Bool(false)},
		{"1 == 1.0", core.Bool(true)},
		{"True == 1", core.Bool(false)},
		{"0 or 'x'", core.String("x")},
		{"'' or 0", core.Int(0)},
		{"1 and 0", core.Int(0)},
		{"1 and 2", core.Int(2)},
		{"not ''", core.Bool(true)},
		{"'adult' if age >= 18 else 'minor'", core.String("adult")},
		{"name.upper()", core.String("ALICE")},
		{"'  padded '.strip()", core.String("padded")},
		{"'xxhixx'.strip('x')", core.String("hi")},
		{"'  left'.lstrip()", core.String("left")},
		{"'right  '.rstrip()", core.String("right")},
		{"'hello world'.title()", core.String("Hello World")},
		{"'Mixed'.lower()", core.String("mixed")},
		{"'abcb'.replace('b', 'x')", core.String("axcx")},
		{"'abcb'.replace('b', 'x', 1)", core.String("axcb")},
		{"'a,b,c'.split(',')", core.List{core.String("a"), core.String("b"), core.String("c")}},
		{"'a,b,c'.split(',', 1)", core.List{core.String("a"), core.String("b,c")}},
		{"' a  b '.split()", core.List{core.String("a"), core.String("b")}},
		{"'a b  c'.split(None, 1)", core.List{core.String("a"), core.String("b  c")}},
		{"email.endswith('@example.com')", core.Bool(true)},
		{"name.startswith(('x', 'al'))", core.Bool(true)},
		{"len(name)", core.Int(5)},
		{"len('héllo')", core.Int(5)},
		{"len(tags)", core.Int(2)},
		{"str(42)", core.String("42")},
		{"str(2.0)", core.String("2.0")},
		{"str(None)", core.String("None")},
		{"int('7')", core.Int(7)},
		{"int(3.9)", core.Int(3)},
		{"int(-3.9)", core.Int(-3)},
		{"float('2.5')", core.Float(2.5)},
		{"bool('')", core.Bool(false)},
		{"bool([0])", core.Bool(true)},
		{"abs(-3)", core.Int(3)},
		{"abs(-1.5)", core.Float(1.5)},
		{"min(3, 1, 2)", core.Int(1)},
		{"max([1, 5, 2])", core.Int(5)},
		{"max('abc')", core.String("c")},
		{"min(2, 1.5)", core.Float(1.5)},
		{"round(2.5)", core.Int(2)},
		{"round(3.5)", core.Int(4)},
		{"round(1.25, 1)", core.Float(1.2)},
		{"round(1234, -2)", core.Int(1200)},
		{"round(1250, -2)", core.Int(1200)},
		{"round(1350, -2)", core.Int(1400)},
		{"round(-1350, -2)", core.Int(-1400)},
		{"'a' in 'cat'", core.Bool(true)},
		{"2 in [1, 2]", core.Bool(true)},
		{"2.0 in [1, 2]", core.Bool(true)},
		{"'k' in {'k': 1}", core.Bool(true)},
		{"'z' not in {'k': 1}", core.Bool(true)},
		{"'a' in tags", core.Bool(true)},
		{"missing_value is None", core.Bool(true)},
		{"age is not None", core.Bool(true)},
		{"[1] is [1]", core.Bool(false)},
		{"address.city", core.String("Paris")},
		{"address['city']", core.String("Paris")},
		{"tags[-1]", core.String("b")},
		{"first[0]", core.String("A")},
		{"'héllo'[1]", core.String("é")},
		{"{'a': 1}['a']", core.Int(1)},
		{"f'{first} {last}'", core.String("Alice Smith")},
		{"f'total={price * 2}'", core.String("total=5.0")},
		{"f'{tags}'", core.String("['a', 'b']")},
		{"'ab' * 3", core.String("ababab")},
		{"2 * [0]", core.List{core.Int(0), core.Int(0)}},
		{"[1] + [2]", core.List{core.Int(1), core.Int(2)}},
		{"(1, 2) == [1, 2]", core.Bool(true)},
		{"[1, 2] < [1, 3]", core.Bool(true)},
		{"'apple' < 'banana'", core.Bool(true)},
		{"-age", core.Int(-30)},
		{"+price", core.Float(2.5)},
		{"None", core.Null{}},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			got, err := Evaluate(tt.src, bindings())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestShortCircuit(t *testing.T) {
	for _, src := range []string{
		"False and undefined_name",
		"True or undefined_name",
		"False and 1 / 0",
		"1 > 2 < undefined_name",
		"undefined_name if False else 1",
	} {
		t.Run(src, func(t *testing.T) {
			_, err := Evaluate(src, bindings())
			require.NoError(t, err)
		})
	}
}

func TestEvaluationErrors(t *testing.T) {
	tests := []struct {
		src   string
		check func(t *testing.T, err error)
	}{
		{"undefined_name", isErr[*NameError]},
		{"True + 1", isErr[*TypeError]},
		{"'a' + 1", isErr[*TypeError]},
		{"'a' < 1", isErr[*TypeError]},
		{"None < 1", isErr[*TypeError]},
		{"len(1)", isErr[*TypeError]},
		{"len", isErr[*TypeError]},
		{"True()", isErr[*TypeError]},
		{"age.city", isErr[*TypeError]},
		{"{1: 2}", isErr[*TypeError]},
		{"1 in 5", isErr[*TypeError]},
		{"1 in 'abc'", isErr[*TypeError]},
		{"int()", nil},
		{"name.upper(1)", isErr[*TypeError]},
		{"1 / 0", isErr[*ValueError]},
		{"1 // 0", isErr[*ValueError]},
		{"1 % 0", isErr[*ValueError]},
		{"int('abc')", isErr[*ValueError]},
		{"int('3.5')", isErr[*ValueError]},
		{"float('x')", isErr[*ValueError]},
		{"min([])", isErr[*ValueError]},
		{"9223372036854775807 + 1", isErr[*ValueError]},
		{"'x' * 10000000", isErr[*ValueError]},
		{"''.split('')", isErr[*ValueError]},
		{"tags[5]", isErr[*LookupError]},
		{"address.zip", isErr[*LookupError]},
		{"address['zip']", isErr[*LookupError]},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			_, err := Evaluate(tt.src, bindings())
			if tt.check == nil {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func isErr[T error](t *testing.T, err error) {
	t.Helper()
	var target T
	assert.ErrorAs(t, err, &target)
}

func TestProgramIsDeterministic(t *testing.T) {
	p := MustCompile("f'{name.title()}-{age * 2}' if age > 1 else None")
	b := bindings()
	first, err := p.Eval(b)
	require.NoError(t, err)
	second, err := p.Eval(b)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, core.String("Alice-60"), first)
}

func TestBindingsAreNotMutated(t *testing.T) {
	b := bindings()
	_, err := Evaluate("tags + ['c']", b)
	require.NoError(t, err)
	assert.Equal(t, core.List{core.String("a"), core.String("b")}, b.Lookup("tags"))
}

func TestBuiltinsShadowBindings(t *testing.T) {
	b := core.RecordOf("len", 5, "None", "x")
	v, err := Evaluate("None", b)
	require.NoError(t, err)
	assert.Equal(t, core.Null{}, v)

	_, err = Evaluate("len + 1", b)
	var te *TypeError
	assert.ErrorAs(t, err, &te)
}
