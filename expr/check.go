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
	"fmt"
	"strings"
)

// reservedPrefix marks attribute and method names that are never reachable.
const reservedPrefix = "__"

// Check walks n and rejects every construct outside the sandbox with a
// *SecurityViolation. It never evaluates anything.
func Check(n Node) error {
	switch n := n.(type) {
	case *Literal, *Name:
		return nil
	case *Attribute:
		if err := checkAttr("attribute", n.Attr); err != nil {
			return err
		}
		return Check(n.X)
	case *Subscript:
		return checkAll(n.X, n.Index)
	case *Unary:
		return Check(n.X)
	case *Binary:
		if n.Op == OpPow {
			return &SecurityViolation{Construct: "operator", Name: n.Op.String(), Msg: "operator is not allowed"}
		}
		return checkAll(n.X, n.Y)
	case *BoolOp:
		return checkAll(n.Operands...)
	case *Compare:
		return checkAll(n.Operands...)
	case *Conditional:
		return checkAll(n.Cond, n.Then, n.Else)
	case *Call:
		if err := checkCallee(n.Func); err != nil {
			return err
		}
		return checkAll(n.Args...)
	case *ListLit:
		return checkAll(n.Elems...)
	case *TupleLit:
		return checkAll(n.Elems...)
	case *MapLit:
		if err := checkAll(n.Keys...); err != nil {
			return err
		}
		return checkAll(n.Values...)
	case *Template:
		return checkAll(n.Parts...)
	case nil:
		return &SecurityViolation{Construct: "node", Msg: "missing expression"}
	default:
		return &SecurityViolation{Construct: "node", Msg: fmt.Sprintf("unsupported node %T", n)}
	}
}

func checkAll(nodes ...Node) error {
	for _, n := range nodes {
		if err := Check(n); err != nil {
			return err
		}
	}
	return nil
}

func checkAttr(construct, name string) error {
	if strings.HasPrefix(name, reservedPrefix) {
		return &SecurityViolation{Construct: construct, Name: name, Msg: "reserved names are not accessible"}
	}
	return nil
}

func checkCallee(fn Node) error {
	switch fn := fn.(type) {
	case *Name:
		if _, ok := builtinFuncs[fn.Ident]; !ok && !isConstant(fn.Ident) {
			return &SecurityViolation{Construct: "call", Name: fn.Ident, Msg: "only builtin functions may be called"}
		}
		return nil
	case *Attribute:
		if err := checkAttr("method", fn.Attr); err != nil {
			return err
		}
		if _, ok := stringMethods[fn.Attr]; !ok {
			return &SecurityViolation{Construct: "method", Name: fn.Attr, Msg: "method is not in the allowed string methods"}
		}
		return Check(fn.X)
	default:
		return &SecurityViolation{Construct: "call", Msg: "callee must be a builtin name or a string method"}
	}
}
