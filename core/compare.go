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
	"strings"
	"time"
)

// Equal reports value equality. Int and Float compare numerically; Bool is
// only equal to Bool; Maps compare by key set and values regardless of order.
func Equal(a, b Value) bool {
	if a == nil {
		a = Null{}
	}
	if b == nil {
		b = Null{}
	}
	if IsNumeric(a) && IsNumeric(b) {
		if ai, ok := a.(Int); ok {
			if bi, ok := b.(Int); ok {
				return ai == bi
			}
		}
		af, _ := AsFloat(a)
		bf, _ := AsFloat(b)
		return af == bf
	}
	switch x := a.(type) {
	case Null:
		_, ok := b.(Null)
		return ok
	case Bool:
		y, ok := b.(Bool)
		return ok && x == y
	case String:
		y, ok := b.(String)
		return ok && x == y
	case Time:
		y, ok := b.(Time)
		return ok && time.Time(x).Equal(time.Time(y))
	case List:
		y, ok := b.(List)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case Map:
		y, ok := b.(Map)
		if !ok || x.Len() != y.Len() {
			return false
		}
		for _, f := range x.fields {
			other, ok := y.Get(f.Name)
			if !ok || !Equal(f.Value, other) {
				return false
			}
		}
		return true
	}
	return false
}

// Compare orders a and b, returning -1, 0 or +1. ok is false when the pair
// has no ordering: mismatched kinds, Bool, Null, Map, or a NaN operand.
func Compare(a, b Value) (c int, ok bool) {
	if IsNumeric(a) && IsNumeric(b) {
		if ai, isInt := a.(Int); isInt {
			if bi, isInt := b.(Int); isInt {
				return cmp3(ai < bi, ai > bi), true
			}
		}
		af, _ := AsFloat(a)
		bf, _ := AsFloat(b)
		if math.IsNaN(af) || math.IsNaN(bf) {
			return 0, false
		}
		return cmp3(af < bf, af > bf), true
	}
	switch x := a.(type) {
	case String:
		if y, isStr := b.(String); isStr {
			return strings.Compare(string(x), string(y)), true
		}
	case Time:
		if y, isTime := b.(Time); isTime {
			return time.Time(x).Compare(time.Time(y)), true
		}
	case List:
		y, isList := b.(List)
		if !isList {
			return 0, false
		}
		for i := 0; i < len(x) && i < len(y); i++ {
			if Equal(x[i], y[i]) {
				continue
			}
			return Compare(x[i], y[i])
		}
		return cmp3(len(x) < len(y), len(x) > len(y)), true
	}
	return 0, false
}

// Orderable reports whether a and b can be compared for ordering, ignoring
// NaN operands.
func Orderable(a, b Value) bool {
	if IsNumeric(a) && IsNumeric(b) {
		return true
	}
	if a.Kind() != b.Kind() {
		return false
	}
	switch a.Kind() {
	case KindString, KindTime:
		return true
	case KindList:
		_, ok := Compare(a, b)
		return ok
	}
	return false
}

func cmp3(less, greater bool) int {
	switch {
	case less:
		return -1
	case greater:
		return 1
	}
	return 0
}
