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
	"math"
	"strings"
	"unicode/utf8"

	"github.com/aaronlmathis/pipeflow/core"
)

// MaxRepeatLength caps the size of a string or list produced by repetition.
const MaxRepeatLength = 1 << 20

func unary(op UnaryOp, x core.Value) (core.Value, error) {
	switch op {
	case UnaryNot:
		return core.Bool(!core.Truthy(x)), nil
	case UnaryPlus:
		if core.IsNumeric(x) {
			return x, nil
		}
	case UnaryMinus:
		switch v := x.(type) {
		case core.Int:
			if v == math.MinInt64 {
				return nil, valueErrorf("integer overflow")
			}
			return -v, nil
		case core.Float:
			return -v, nil
		}
	}
	return nil, typeErrorf("bad operand type for unary %s: '%s'", op, x.Kind())
}

func binary(op BinaryOp, x, y core.Value) (core.Value, error) {
	xi, xInt := x.(core.Int)
	yi, yInt := y.(core.Int)
	bothInt := xInt && yInt
	numeric := core.IsNumeric(x) && core.IsNumeric(y)
	xf, _ := core.AsFloat(x)
	yf, _ := core.AsFloat(y)

	switch op {
	case OpAdd:
		switch {
		case bothInt:
			s := xi + yi
			if (s > xi) != (yi > 0) {
				return nil, valueErrorf("integer overflow")
			}
			return s, nil
		case numeric:
			return core.Float(xf + yf), nil
		}
		if xs, ok := x.(core.String); ok {
			if ys, ok := y.(core.String); ok {
				return xs + ys, nil
			}
		}
		if xl, ok := x.(core.List); ok {
			if yl, ok := y.(core.List); ok {
				out := make(core.List, 0, len(xl)+len(yl))
				return append(append(out, xl...), yl...), nil
			}
		}
	case OpSub:
		switch {
		case bothInt:
			d := xi - yi
			if (d < xi) != (yi > 0) {
				return nil, valueErrorf("integer overflow")
			}
			return d, nil
		case numeric:
			return core.Float(xf - yf), nil
		}
	case OpMul:
		switch {
		case bothInt:
			if xi != 0 && yi != 0 {
				p := xi * yi
				if p/yi != xi || (xi == -1 && yi == math.MinInt64) || (yi == -1 && xi == math.MinInt64) {
					return nil, valueErrorf("integer overflow")
				}
				return p, nil
			}
			return core.Int(0), nil
		case numeric:
			return core.Float(xf * yf), nil
		case yInt:
			if v, ok, err := repeat(x, int64(yi)); ok {
				return v, err
			}
		case xInt:
			if v, ok, err := repeat(y, int64(xi)); ok {
				return v, err
			}
		}
	case OpDiv:
		if numeric {
			if yf == 0 {
				return nil, valueErrorf("division by zero")
			}
			return core.Float(xf / yf), nil
		}
	case OpFloorDiv:
		switch {
		case bothInt:
			if yi == 0 {
				return nil, valueErrorf("integer division or modulo by zero")
			}
			if xi == math.MinInt64 && yi == -1 {
				return nil, valueErrorf("integer overflow")
			}
			q := xi / yi
			if (xi%yi != 0) && ((xi < 0) != (yi < 0)) {
				q--
			}
			return q, nil
		case numeric:
			if yf == 0 {
				return nil, valueErrorf("float floor division by zero")
			}
			return core.Float(math.Floor(xf / yf)), nil
		}
	case OpMod:
		switch {
		case bothInt:
			if yi == 0 {
				return nil, valueErrorf("integer division or modulo by zero")
			}
			if yi == -1 {
				return core.Int(0), nil
			}
			r := xi % yi
			if r != 0 && (r < 0) != (yi < 0) {
				r += yi
			}
			return r, nil
		case numeric:
			if yf == 0 {
				return nil, valueErrorf("float modulo")
			}
			r := math.Mod(xf, yf)
			if r != 0 && (r < 0) != (yf < 0) {
				r += yf
			}
			return core.Float(r), nil
		}
	case OpPow:
		return nil, &SecurityViolation{Construct: "operator", Name: op.String(), Msg: "operator is not allowed"}
	}
	return nil, typeErrorf("unsupported operand type(s) for %s: '%s' and '%s'", op, x.Kind(), y.Kind())
}

// repeat implements sequence * int. ok is false when v is not a sequence.
func repeat(v core.Value, n int64) (core.Value, bool, error) {
	if n < 0 {
		n = 0
	}
	switch s := v.(type) {
	case core.String:
		if n > 0 && int64(len(s)) > MaxRepeatLength/n {
			return nil, true, valueErrorf("repeated string exceeds %d bytes", MaxRepeatLength)
		}
		return core.String(strings.Repeat(string(s), int(n))), true, nil
	case core.List:
		if n > 0 && int64(len(s)) > MaxRepeatLength/n {
			return nil, true, valueErrorf("repeated list exceeds %d elements", MaxRepeatLength)
		}
		out := make(core.List, 0, int64(len(s))*n)
		for i := int64(0); i < n; i++ {
			out = append(out, s...)
		}
		return out, true, nil
	}
	return nil, false, nil
}

func compare(op CompareOp, x, y core.Value) (bool, error) {
	switch op {
	case CmpEq:
		return core.Equal(x, y), nil
	case CmpNotEq:
		return !core.Equal(x, y), nil
	case CmpIs:
		return identical(x, y), nil
	case CmpIsNot:
		return !identical(x, y), nil
	case CmpIn:
		return contains(y, x)
	case CmpNotIn:
		ok, err := contains(y, x)
		return !ok, err
	}

	if !core.Orderable(x, y) {
		return false, typeErrorf("'%s' not supported between instances of '%s' and '%s'", op, x.Kind(), y.Kind())
	}
	c, ok := core.Compare(x, y)
	if !ok {
		// NaN is unordered: every ordering comparison is false.
		return false, nil
	}
	switch op {
	case CmpLt:
		return c < 0, nil
	case CmpLtE:
		return c <= 0, nil
	case CmpGt:
		return c > 0, nil
	case CmpGtE:
		return c >= 0, nil
	}
	return false, typeErrorf("unknown comparison %s", op)
}

// identical implements "is": singletons and scalars of the same kind and
// value are identical; containers never are.
func identical(x, y core.Value) bool {
	if x.Kind() != y.Kind() {
		return false
	}
	switch x.Kind() {
	case core.KindList, core.KindMap:
		return false
	}
	return core.Equal(x, y)
}

func contains(container, item core.Value) (bool, error) {
	switch c := container.(type) {
	case core.String:
		s, ok := item.(core.String)
		if !ok {
			return false, typeErrorf("'in <string>' requires string as left operand, not %s", item.Kind())
		}
		return strings.Contains(string(c), string(s)), nil
	case core.List:
		for _, e := range c {
			if core.Equal(e, item) {
				return true, nil
			}
		}
		return false, nil
	case core.Map:
		key, ok := item.(core.String)
		if !ok {
			return false, nil
		}
		return c.Has(string(key)), nil
	}
	return false, typeErrorf("argument of type '%s' is not iterable", container.Kind())
}

func subscript(x, idx core.Value) (core.Value, error) {
	switch c := x.(type) {
	case core.List:
		i, err := index(idx, len(c), "list")
		if err != nil {
			return nil, err
		}
		return c[i], nil
	case core.String:
		if i, ok := idx.(core.Int); ok && i >= 0 && utf8.RuneCountInString(string(c)) == len(c) {
			if int(i) >= len(c) {
				return nil, lookupErrorf("string index out of range")
			}
			return c[i : i+1], nil
		}
		runes := []rune(string(c))
		i, err := index(idx, len(runes), "string")
		if err != nil {
			return nil, err
		}
		return core.String(runes[i]), nil
	case core.Map:
		key, ok := idx.(core.String)
		if !ok {
			return nil, lookupErrorf("key %s not found", core.Repr(idx))
		}
		v, found := c.Get(string(key))
		if !found {
			return nil, lookupErrorf("key %s not found", core.Repr(key))
		}
		return v, nil
	}
	return nil, typeErrorf("'%s' object is not subscriptable", x.Kind())
}

func index(idx core.Value, n int, what string) (int, error) {
	i, ok := idx.(core.Int)
	if !ok {
		return 0, typeErrorf("%s indices must be integers, not %s", what, idx.Kind())
	}
	if i < 0 {
		i += core.Int(n)
	}
	if i < 0 || int64(i) >= int64(n) {
		return 0, lookupErrorf("%s index out of range", what)
	}
	return int(i), nil
}
