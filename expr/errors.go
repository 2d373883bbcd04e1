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

import "fmt"

// ParseError reports malformed expression source.
type ParseError struct {
	Source string
	Pos    int
	Msg    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at offset %d in %q: %s", e.Pos, e.Source, e.Msg)
}

// SecurityViolation reports an attempt to use a capability outside the
// sandbox: reserved attribute names, calls outside the builtin table, or
// operators that are not allowed.
type SecurityViolation struct {
	Construct string
	Name      string
	Msg       string
}

func (e *SecurityViolation) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("security violation: %s %q: %s", e.Construct, e.Name, e.Msg)
	}
	return fmt.Sprintf("security violation: %s: %s", e.Construct, e.Msg)
}

// NameError reports an identifier that is neither a builtin nor bound.
type NameError struct {
	Name string
}

func (e *NameError) Error() string {
	return fmt.Sprintf("name %q is not defined", e.Name)
}

// TypeError reports an operation applied to values of the wrong kind.
type TypeError struct {
	Msg string
}

func (e *TypeError) Error() string { return "type error: " + e.Msg }

// LookupError reports a missing map key or an index out of range.
type LookupError struct {
	Msg string
}

func (e *LookupError) Error() string { return "lookup error: " + e.Msg }

// ValueError reports a value of the right kind that cannot be used, such as
// an unparsable number or a division by zero.
type ValueError struct {
	Msg string
}

func (e *ValueError) Error() string { return "value error: " + e.Msg }

func typeErrorf(format string, args ...any) error {
	return &TypeError{Msg: fmt.Sprintf(format, args...)}
}

func valueErrorf(format string, args ...any) error {
	return &ValueError{Msg: fmt.Sprintf(format, args...)}
}

func lookupErrorf(format string, args ...any) error {
	return &LookupError{Msg: fmt.Sprintf(format, args...)}
}
