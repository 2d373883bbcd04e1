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
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/aaronlmathis/pipeflow/core"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

type builtinFunc func(args []core.Value) (core.Value, error)

type stringMethod func(s string, args []core.Value) (core.Value, error)

var constants = map[string]core.Value{
	"True":  core.Bool(true),
	"False": core.Bool(false),
	"None":  core.Null{},
}

var builtinFuncs = map[string]builtinFunc{
	"len":   builtinLen,
	"str":   builtinStr,
	"int":   builtinInt,
	"float": builtinFloat,
	"bool":  builtinBool,
	"abs":   builtinAbs,
	"min":   func(args []core.Value) (core.Value, error) { return extremum("min", args, -1) },
	"max":   func(args []core.Value) (core.Value, error) { return extremum("max", args, 1) },
	"round": builtinRound,
}

var stringMethods = map[string]stringMethod{
	"lower":      noArgs("lower", strings.ToLower),
	"upper":      noArgs("upper", strings.ToUpper),
	"title":      noArgs("title", titleCase),
	"strip":      trimMethod("strip", strings.TrimSpace, strings.Trim),
	"lstrip":     trimMethod("lstrip", trimLeftSpace, strings.TrimLeft),
	"rstrip":     trimMethod("rstrip", trimRightSpace, strings.TrimRight),
	"startswith": affixMethod("startswith", strings.HasPrefix),
	"endswith":   affixMethod("endswith", strings.HasSuffix),
	"replace":    methodReplace,
	"split":      methodSplit,
}

func isConstant(name string) bool {
	_, ok := constants[name]
	return ok
}

// IsBuiltin reports whether name resolves to the builtin table.
func IsBuiltin(name string) bool {
	_, fn := builtinFuncs[name]
	return fn || isConstant(name)
}

// IsStringMethod reports whether name is an allowed string method.
func IsStringMethod(name string) bool {
	_, ok := stringMethods[name]
	return ok
}

func arity(name string, args []core.Value, lo, hi int) error {
	if len(args) < lo || len(args) > hi {
		if lo == hi {
			return typeErrorf("%s() takes exactly %d argument(s) (%d given)", name, lo, len(args))
		}
		return typeErrorf("%s() takes from %d to %d arguments (%d given)", name, lo, hi, len(args))
	}
	return nil
}

func builtinLen(args []core.Value) (core.Value, error) {
	if err := arity("len", args, 1, 1); err != nil {
		return nil, err
	}
	switch v := args[0].(type) {
	case core.String:
		return core.Int(utf8.RuneCountInString(string(v))), nil
	case core.List:
		return core.Int(len(v)), nil
	case core.Map:
		return core.Int(v.Len()), nil
	}
	return nil, typeErrorf("object of type '%s' has no len()", args[0].Kind())
}

func builtinStr(args []core.Value) (core.Value, error) {
	if err := arity("str", args, 0, 1); err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return core.String(""), nil
	}
	return core.String(args[0].String()), nil
}

func builtinInt(args []core.Value) (core.Value, error) {
	if err := arity("int", args, 0, 1); err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return core.Int(0), nil
	}
	return ToInt(args[0])
}

// ToInt converts v the way the int() builtin does.
func ToInt(v core.Value) (core.Value, error) {
	switch x := v.(type) {
	case core.Int:
		return x, nil
	case core.Bool:
		if x {
			return core.Int(1), nil
		}
		return core.Int(0), nil
	case core.Float:
		f := float64(x)
		switch {
		case math.IsNaN(f):
			return nil, valueErrorf("cannot convert float NaN to integer")
		case math.IsInf(f, 0):
			return nil, valueErrorf("cannot convert float infinity to integer")
		}
		t := math.Trunc(f)
		if t < math.MinInt64 || t >= math.MaxInt64 {
			return nil, valueErrorf("float %s is out of integer range", x)
		}
		return core.Int(t), nil
	case core.String:
		s := strings.TrimSpace(string(x))
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, valueErrorf("invalid literal for int() with base 10: %s", core.Repr(x))
		}
		return core.Int(i), nil
	}
	return nil, typeErrorf("int() argument must be a string or a number, not '%s'", v.Kind())
}

func builtinFloat(args []core.Value) (core.Value, error) {
	if err := arity("float", args, 0, 1); err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return core.Float(0), nil
	}
	return ToFloat(args[0])
}

// ToFloat converts v the way the float() builtin does.
func ToFloat(v core.Value) (core.Value, error) {
	switch x := v.(type) {
	case core.Float:
		return x, nil
	case core.Int:
		return core.Float(x), nil
	case core.Bool:
		if x {
			return core.Float(1), nil
		}
		return core.Float(0), nil
	case core.String:
		s := strings.TrimSpace(string(x))
		if strings.HasPrefix(strings.ToLower(strings.TrimLeft(s, "+-")), "0x") {
			return nil, valueErrorf("could not convert string to float: %s", core.Repr(x))
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			if ne, ok := err.(*strconv.NumError); !ok || ne.Err != strconv.ErrRange {
				return nil, valueErrorf("could not convert string to float: %s", core.Repr(x))
			}
		}
		return core.Float(f), nil
	}
	return nil, typeErrorf("float() argument must be a string or a number, not '%s'", v.Kind())
}

func builtinBool(args []core.Value) (core.Value, error) {
	if err := arity("bool", args, 0, 1); err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return core.Bool(false), nil
	}
	return core.Bool(core.Truthy(args[0])), nil
}

func builtinAbs(args []core.Value) (core.Value, error) {
	if err := arity("abs", args, 1, 1); err != nil {
		return nil, err
	}
	switch x := args[0].(type) {
	case core.Int:
		if x == math.MinInt64 {
			return nil, valueErrorf("integer overflow")
		}
		if x < 0 {
			return -x, nil
		}
		return x, nil
	case core.Float:
		return core.Float(math.Abs(float64(x))), nil
	}
	return nil, typeErrorf("bad operand type for abs(): '%s'", args[0].Kind())
}

// extremum implements min (sign -1) and max (sign +1). Ties keep the first.
func extremum(name string, args []core.Value, sign int) (core.Value, error) {
	if len(args) == 0 {
		return nil, typeErrorf("%s expected at least 1 argument, got 0", name)
	}
	items := args
	if len(args) == 1 {
		var err error
		if items, err = iterate(args[0]); err != nil {
			return nil, err
		}
		if len(items) == 0 {
			return nil, valueErrorf("%s() arg is an empty sequence", name)
		}
	}
	best := items[0]
	for _, v := range items[1:] {
		if !core.Orderable(v, best) {
			return nil, typeErrorf("'%s' not supported between instances of '%s' and '%s'",
				map[int]string{-1: "<", 1: ">"}[sign], v.Kind(), best.Kind())
		}
		if c, ok := core.Compare(v, best); ok && c == sign {
			best = v
		}
	}
	return best, nil
}

func iterate(v core.Value) ([]core.Value, error) {
	switch x := v.(type) {
	case core.List:
		return x, nil
	case core.String:
		out := make([]core.Value, 0, len(x))
		for _, r := range string(x) {
			out = append(out, core.String(r))
		}
		return out, nil
	case core.Map:
		keys := x.Keys()
		out := make([]core.Value, len(keys))
		for i, k := range keys {
			out[i] = core.String(k)
		}
		return out, nil
	}
	return nil, typeErrorf("'%s' object is not iterable", v.Kind())
}

func builtinRound(args []core.Value) (core.Value, error) {
	if err := arity("round", args, 1, 2); err != nil {
		return nil, err
	}
	if len(args) == 1 || core.IsNull(args[1]) {
		switch x := args[0].(type) {
		case core.Int:
			return x, nil
		case core.Float:
			return ToInt(core.Float(math.RoundToEven(float64(x))))
		}
		return nil, typeErrorf("type %s doesn't define __round__ method", args[0].Kind())
	}
	nd, ok := args[1].(core.Int)
	if !ok {
		return nil, typeErrorf("'%s' object cannot be interpreted as an integer", args[1].Kind())
	}
	switch x := args[0].(type) {
	case core.Int:
		if nd >= 0 {
			return x, nil
		}
		return roundInt(x, int64(-nd)), nil
	case core.Float:
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) || nd > 22 {
			return x, nil
		}
		if nd < -22 {
			return core.Float(math.Copysign(0, f)), nil
		}
		if nd >= 0 {
			scale := math.Pow10(int(nd))
			r := math.RoundToEven(f*scale) / scale
			if math.IsInf(r, 0) || math.IsNaN(r) {
				return x, nil
			}
			return core.Float(r), nil
		}
		scale := math.Pow10(int(-nd))
		return core.Float(math.RoundToEven(f/scale) * scale), nil
	}
	return nil, typeErrorf("type %s doesn't define __round__ method", args[0].Kind())
}

// roundInt rounds x to a multiple of 10^digits, halves to even.
func roundInt(x core.Int, digits int64) core.Int {
	if digits > 18 {
		return 0
	}
	p := uint64(math.Pow10(int(digits)))
	neg := x < 0
	ax := uint64(x)
	if neg {
		ax = uint64(-(x + 1)) + 1
	}
	q, r := ax/p, ax%p
	if 2*r > p || (2*r == p && q%2 == 1) {
		q++
	}
	out := q * p
	if out > math.MaxInt64 {
		return x
	}
	if neg {
		return -core.Int(out)
	}
	return core.Int(out)
}

func noArgs(name string, fn func(string) string) stringMethod {
	return func(s string, args []core.Value) (core.Value, error) {
		if err := arity(name, args, 0, 0); err != nil {
			return nil, err
		}
		return core.String(fn(s)), nil
	}
}

func titleCase(s string) string {
	return cases.Title(language.Und).String(s)
}

func trimLeftSpace(s string) string  { return strings.TrimLeftFunc(s, unicode.IsSpace) }
func trimRightSpace(s string) string { return strings.TrimRightFunc(s, unicode.IsSpace) }

func trimMethod(name string, space func(string) string, cutset func(string, string) string) stringMethod {
	return func(s string, args []core.Value) (core.Value, error) {
		if err := arity(name, args, 0, 1); err != nil {
			return nil, err
		}
		if len(args) == 0 || core.IsNull(args[0]) {
			return core.String(space(s)), nil
		}
		chars, ok := args[0].(core.String)
		if !ok {
			return nil, typeErrorf("%s arg must be None or str", name)
		}
		return core.String(cutset(s, string(chars))), nil
	}
}

func affixMethod(name string, test func(string, string) bool) stringMethod {
	return func(s string, args []core.Value) (core.Value, error) {
		if err := arity(name, args, 1, 1); err != nil {
			return nil, err
		}
		switch a := args[0].(type) {
		case core.String:
			return core.Bool(test(s, string(a))), nil
		case core.List:
			for _, e := range a {
				es, ok := e.(core.String)
				if !ok {
					return nil, typeErrorf("tuple for %s must only contain str, not %s", name, e.Kind())
				}
				if test(s, string(es)) {
					return core.Bool(true), nil
				}
			}
			return core.Bool(false), nil
		}
		return nil, typeErrorf("%s first arg must be str or a tuple of str, not %s", name, args[0].Kind())
	}
}

func methodReplace(s string, args []core.Value) (core.Value, error) {
	if err := arity("replace", args, 2, 3); err != nil {
		return nil, err
	}
	old, ok1 := args[0].(core.String)
	repl, ok2 := args[1].(core.String)
	if !ok1 || !ok2 {
		return nil, typeErrorf("replace() arguments must be str")
	}
	count := -1
	if len(args) == 3 {
		n, ok := args[2].(core.Int)
		if !ok {
			return nil, typeErrorf("'%s' object cannot be interpreted as an integer", args[2].Kind())
		}
		if n >= 0 {
			count = int(n)
		}
	}
	return core.String(strings.Replace(s, string(old), string(repl), count)), nil
}

func methodSplit(s string, args []core.Value) (core.Value, error) {
	if err := arity("split", args, 0, 2); err != nil {
		return nil, err
	}
	maxsplit := -1
	if len(args) == 2 {
		n, ok := args[1].(core.Int)
		if !ok {
			return nil, typeErrorf("'%s' object cannot be interpreted as an integer", args[1].Kind())
		}
		if n >= 0 {
			maxsplit = int(n)
		}
	}

	var parts []string
	if len(args) == 0 || core.IsNull(args[0]) {
		parts = splitSpace(s, maxsplit)
	} else {
		sep, ok := args[0].(core.String)
		if !ok {
			return nil, typeErrorf("must be str or None, not %s", args[0].Kind())
		}
		if sep == "" {
			return nil, valueErrorf("empty separator")
		}
		if maxsplit < 0 {
			parts = strings.Split(s, string(sep))
		} else {
			parts = strings.SplitN(s, string(sep), maxsplit+1)
		}
	}

	out := make(core.List, len(parts))
	for i, p := range parts {
		out[i] = core.String(p)
	}
	return out, nil
}

// splitSpace splits on runs of whitespace. With max >= 0 at most max splits
// happen and the remainder keeps its trailing whitespace.
func splitSpace(s string, max int) []string {
	if max < 0 {
		return strings.Fields(s)
	}
	out := []string{}
	s = trimLeftSpace(s)
	for len(out) < max && s != "" {
		i := strings.IndexFunc(s, unicode.IsSpace)
		if i < 0 {
			break
		}
		out = append(out, s[:i])
		s = trimLeftSpace(s[i:])
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}
