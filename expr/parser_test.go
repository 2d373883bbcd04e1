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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"a + b * c", "(a + (b * c))"},
		{"(a + b) * c", "((a + b) * c)"},
		{"a - b - c", "((a - b) - c)"},
		{"1 < 2 < 3", "(1 < 2 < 3)"},
		{"not a == b", "(not (a == b))"},
		{"a not in b", "(a not in b)"},
		{"a is not None", "(a is not None)"},
		{"a or b and c", "(a or (b and c))"},
		{"a and b and c", "(a and b and c)"},
		{"x if c else y if d else z", "(x if c else (y if d else z))"},
		{"-x * +y", "((-x) * (+y))"},
		{"name.upper()", "name.upper()"},
		{"items[0].city", "items[0].city"},
		{"[1, 2.5, 'a']", "[1, 2.5, 'a']"},
		{"(1,)", "(1,)"},
		{"()", "()"},
		{"a, b", "(a, b)"},
		{"{'k': v, 'n': 1}", "{'k': v, 'n': 1}"},
		{"'a' 'b'", "'ab'"},
		{`"it's"`, `"it's"`},
		{"f'Hi {name}!'", "f'Hi {name}!'"},
		{"f'{{literal}}'", "f'{{literal}}'"},
		{"0x1F + 1_000", "(31 + 1000)"},
		{"1e3", "1000.0"},
		{"'tab\\there'", "'tab\\there'"},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			n, err := Parse(tt.src)
			require.NoError(t, err)
			assert.Equal(t, tt.want, Format(n))
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []string{
		"",
		"   ",
		"a +",
		"a = 1",
		"1 2",
		"(a",
		"a[1:2]",
		"a[]",
		"f(x=1)",
		"{1, 2}",
		"'abc",
		"x $ y",
		"a & b",
		"lambda: 1",
		"[x for x in y]",
		"f'{x!r}'",
		"f'{x:>10}'",
		"f'{}'",
		"f'a } b'",
		"007",
		"99999999999999999999",
		"a if b",
		"a not b",
		strings.Repeat("(", 200) + "1" + strings.Repeat(")", 200),
		strings.Repeat("-", 200) + "1",
		strings.Repeat("a", MaxSourceLength+1),
	}
	for _, src := range tests {
		name := src
		if len(name) > 30 {
			name = name[:30]
		}
		t.Run(name, func(t *testing.T) {
			_, err := Parse(src)
			var pe *ParseError
			require.ErrorAs(t, err, &pe)
		})
	}
}

func TestParseErrorPositionInTemplate(t *testing.T) {
	_, err := Parse("f'ok {a +}'")
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "f'ok {a +}'", pe.Source)
	assert.Equal(t, 9, pe.Pos)
}
