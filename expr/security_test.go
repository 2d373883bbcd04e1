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

func TestCompileRejectsDisallowedConstructs(t *testing.T) {
	tests := []string{
		"name.__class__",
		"name.__class__.__mro__",
		"name.__len__()",
		"address.__dict__",
		"{'a': 1}.__dict__",
		"__import__('os')",
		"open('/etc/passwd')",
		"eval('1 + 1')",
		"exec('x = 1')",
		"getattr(name, 'upper')",
		"globals()",
		"vars()",
		"compile('1', '', 'eval')",
		"print(name)",
		"name.format(1)",
		"name.encode()",
		"tags[0](1)",
		"(name)(1)",
		"name.upper()()",
		"2 ** 10",
		"f'{name.__class__}'",
		"len(name.__doc__)",
		"1 if name.__class__ else 2",
	}
	for _, src := range tests {
		t.Run(src, func(t *testing.T) {
			_, err := Compile(src)
			var sv *SecurityViolation
			require.ErrorAs(t, err, &sv)
		})
	}
}

func TestEvalChecksBeforeEvaluating(t *testing.T) {
	// The left operand would raise NameError if evaluation had started.
	n, err := Parse("undefined_name + name.__class__")
	require.NoError(t, err)
	_, err = Eval(n, bindings())
	var sv *SecurityViolation
	require.ErrorAs(t, err, &sv)

	n, err = Parse("undefined_name or open('x')")
	require.NoError(t, err)
	_, err = Eval(n, bindings())
	require.ErrorAs(t, err, &sv)
}

func TestEvalRejectsHandBuiltNodes(t *testing.T) {
	call := &Call{Func: &Name{Ident: "system"}, Args: []Node{&Literal{Value: core.String("ls")}}}
	_, err := Eval(call, core.Record{})
	var sv *SecurityViolation
	require.ErrorAs(t, err, &sv)
	assert.Equal(t, "system", sv.Name)

	attr := &Attribute{X: &Name{Ident: "name"}, Attr: "__globals__"}
	_, err = Eval(attr, bindings())
	require.ErrorAs(t, err, &sv)

	_, err = Eval(nil, bindings())
	require.ErrorAs(t, err, &sv)
}

func TestMethodOnNonStringReceiver(t *testing.T) {
	p, err := Compile("age.upper()")
	require.NoError(t, err)
	_, err = p.Eval(bindings())
	var sv *SecurityViolation
	require.ErrorAs(t, err, &sv)

	_, err = Evaluate("tags.split(',')", bindings())
	require.ErrorAs(t, err, &sv)
}

func TestNoAmbientNames(t *testing.T) {
	for _, name := range []string{"os", "sys", "__builtins__", "self", "record", "globals"} {
		_, err := Evaluate(name, bindings())
		var ne *NameError
		require.ErrorAs(t, err, &ne, name)
	}
}

func TestBuiltinTable(t *testing.T) {
	for _, name := range []string{"len", "str", "int", "float", "bool", "abs", "min", "max", "round", "True", "False", "None"} {
		assert.True(t, IsBuiltin(name), name)
	}
	for _, name := range []string{"lower", "upper", "strip", "startswith", "endswith", "lstrip", "rstrip", "title", "replace", "split"} {
		assert.True(t, IsStringMethod(name), name)
	}
	assert.False(t, IsBuiltin("open"))
	assert.False(t, IsStringMethod("format"))
}
