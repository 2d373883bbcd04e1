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
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// FromGo converts a Go value produced by a driver or decoder into a Value.
// Unknown types are rendered with fmt and stored as String.
func FromGo(v any) Value {
	switch x := v.(type) {
	case nil:
		return Null{}
	case Value:
		return x
	case Record:
		return Map{x}
	case bool:
		return Bool(x)
	case int:
		return Int(x)
	case int8:
		return Int(x)
	case int16:
		return Int(x)
	case int32:
		return Int(x)
	case int64:
		return Int(x)
	case uint8:
		return Int(x)
	case uint16:
		return Int(x)
	case uint32:
		return Int(x)
	case uint:
		if uint64(x) > math.MaxInt64 {
			return Float(x)
		}
		return Int(x)
	case uint64:
		if x > math.MaxInt64 {
			return Float(x)
		}
		return Int(x)
	case float32:
		return Float(x)
	case float64:
		return Float(x)
	case string:
		return String(x)
	case []byte:
		return String(x)
	case time.Time:
		return Time(x)
	case *time.Time:
		if x == nil {
			return Null{}
		}
		return Time(*x)
	case json.Number:
		return numberValue(string(x))
	case []string:
		out := make(List, len(x))
		for i, s := range x {
			out[i] = String(s)
		}
		return out
	case []any:
		out := make(List, len(x))
		for i, e := range x {
			out[i] = FromGo(e)
		}
		return out
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fields := make([]Field, len(keys))
		for i, k := range keys {
			fields[i] = Field{Name: k, Value: FromGo(x[k])}
		}
		return NewMap(fields...)
	default:
		return String(fmt.Sprint(v))
	}
}

// ToGo converts v into plain Go values: nil, bool, int64, float64, string,
// time.Time, []any and map[string]any.
func ToGo(v Value) any {
	switch x := v.(type) {
	case nil, Null:
		return nil
	case Bool:
		return bool(x)
	case Int:
		return int64(x)
	case Float:
		return float64(x)
	case String:
		return string(x)
	case Time:
		return time.Time(x)
	case List:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = ToGo(e)
		}
		return out
	case Map:
		return x.ToMap()
	default:
		return nil
	}
}

// numberValue keeps integral literals as Int and everything else as Float.
func numberValue(s string) Value {
	if !strings.ContainsAny(s, ".eE") {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return Int(i)
		}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return Float(f)
	}
	return String(s)
}
