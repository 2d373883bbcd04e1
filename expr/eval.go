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

	"github.com/aaronlmathis/pipeflow/core"
)

// Program is a parsed and checked expression, safe for concurrent use.
type Program struct {
	source string
	root   Node
}

// Compile parses src and runs the capability check. Errors are *ParseError
// or *SecurityViolation.
func Compile(src string) (*Program, error) {
	root, err := Parse(src)
	if err != nil {
		return nil, err
	}
	if err := Check(root); err != nil {
		return nil, err
	}
	return &Program{source: src, root: root}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(src string) *Program {
	p, err := Compile(src)
	if err != nil {
		panic(err)
	}
	return p
}

// Source returns the expression text.
func (p *Program) Source() string { return p.source }

// Root returns the syntax tree.
func (p *Program) Root() Node { return p.root }

func (p *Program) String() string { return p.source }

// Eval evaluates the program with bindings as the only variable scope.
func (p *Program) Eval(bindings core.Record) (core.Value, error) {
	return eval(p.root, bindings)
}

// Eval checks n and then evaluates it. A node that fails the check is never
// evaluated, not even partially.
func Eval(n Node, bindings core.Record) (core.Value, error) {
	if err := Check(n); err != nil {
		return nil, err
	}
	return eval(n, bindings)
}

// Evaluate compiles and evaluates src in one step.
func Evaluate(src string, bindings core.Record) (core.Value, error) {
	p, err := Compile(src)
	if err != nil {
		return nil, err
	}
	return p.Eval(bindings)
}

func eval(n Node, env core.Record) (core.Value, error) {
	switch n := n.(type) {
	case *Literal:
		return n.Value, nil
	case *Name:
		return resolve(n.Ident, env)
	case *Attribute:
		return evalAttribute(n, env)
	case *Subscript:
		x, err := eval(n.X, env)
		if err != nil {
			return nil, err
		}
		idx, err := eval(n.Index, env)
		if err != nil {
			return nil, err
		}
		return subscript(x, idx)
	case *Unary:
		x, err := eval(n.X, env)
		if err != nil {
			return nil, err
		}
		return unary(n.Op, x)
	case *Binary:
		if n.Op == OpPow {
			return nil, &SecurityViolation{Construct: "operator", Name: n.Op.String(), Msg: "operator is not allowed"}
		}
		x, err := eval(n.X, env)
		if err != nil {
			return nil, err
		}
		y, err := eval(n.Y, env)
		if err != nil {
			return nil, err
		}
		return binary(n.Op, x, y)
	case *BoolOp:
		return evalBoolOp(n, env)
	case *Compare:
		return evalCompare(n, env)
	case *Conditional:
		cond, err := eval(n.Cond, env)
		if err != nil {
			return nil, err
		}
		if core.Truthy(cond) {
			return eval(n.Then, env)
		}
		return eval(n.Else, env)
	case *Call:
		return evalCall(n, env)
	case *ListLit:
		return evalList(n.Elems, env)
	case *TupleLit:
		return evalList(n.Elems, env)
	case *MapLit:
		return evalMap(n, env)
	case *Template:
		var sb strings.Builder
		for _, part := range n.Parts {
			v, err := eval(part, env)
			if err != nil {
				return nil, err
			}
			sb.WriteString(v.String())
		}
		return core.String(sb.String()), nil
	default:
		return nil, &SecurityViolation{Construct: "node", Msg: fmt.Sprintf("unsupported node %T", n)}
	}
}

func resolve(name string, env core.Record) (core.Value, error) {
	if v, ok := constants[name]; ok {
		return v, nil
	}
	if _, ok := builtinFuncs[name]; ok {
		return nil, typeErrorf("builtin function %q cannot be used as a value", name)
	}
	if v, ok := env.Get(name); ok {
		return v, nil
	}
	return nil, &NameError{Name: name}
}

func evalAttribute(n *Attribute, env core.Record) (core.Value, error) {
	if err := checkAttr("attribute", n.Attr); err != nil {
		return nil, err
	}
	x, err := eval(n.X, env)
	if err != nil {
		return nil, err
	}
	m, ok := x.(core.Map)
	if !ok {
		return nil, typeErrorf("'%s' object has no attribute %q", x.Kind(), n.Attr)
	}
	v, ok := m.Get(n.Attr)
	if !ok {
		return nil, lookupErrorf("key %q not found", n.Attr)
	}
	return v, nil
}

func evalBoolOp(n *BoolOp, env core.Record) (core.Value, error) {
	var last core.Value
	for _, operand := range n.Operands {
		v, err := eval(operand, env)
		if err != nil {
			return nil, err
		}
		truthy := core.Truthy(v)
		if (n.Op == OpAnd && !truthy) || (n.Op == OpOr && truthy) {
			return v, nil
		}
		last = v
	}
	return last, nil
}

func evalCompare(n *Compare, env core.Record) (core.Value, error) {
	left, err := eval(n.Operands[0], env)
	if err != nil {
		return nil, err
	}
	for i, op := range n.Ops {
		right, err := eval(n.Operands[i+1], env)
		if err != nil {
			return nil, err
		}
		ok, err := compare(op, left, right)
		if err != nil {
			return nil, err
		}
		if !ok {
			return core.Bool(false), nil
		}
		left = right
	}
	return core.Bool(true), nil
}

func evalCall(n *Call, env core.Record) (core.Value, error) {
	switch fn := n.Func.(type) {
	case *Name:
		f, ok := builtinFuncs[fn.Ident]
		if !ok {
			if v, isConst := constants[fn.Ident]; isConst {
				return nil, typeErrorf("'%s' object is not callable", v.Kind())
			}
			return nil, &SecurityViolation{Construct: "call", Name: fn.Ident, Msg: "only builtin functions may be called"}
		}
		args, err := evalArgs(n.Args, env)
		if err != nil {
			return nil, err
		}
		return f(args)
	case *Attribute:
		if err := checkAttr("method", fn.Attr); err != nil {
			return nil, err
		}
		method, ok := stringMethods[fn.Attr]
		if !ok {
			return nil, &SecurityViolation{Construct: "method", Name: fn.Attr, Msg: "method is not in the allowed string methods"}
		}
		recv, err := eval(fn.X, env)
		if err != nil {
			return nil, err
		}
		s, ok := recv.(core.String)
		if !ok {
			return nil, &SecurityViolation{Construct: "method", Name: fn.Attr, Msg: fmt.Sprintf("methods may only be called on str, not %s", recv.Kind())}
		}
		args, err := evalArgs(n.Args, env)
		if err != nil {
			return nil, err
		}
		return method(string(s), args)
	default:
		return nil, &SecurityViolation{Construct: "call", Msg: "callee must be a builtin name or a string method"}
	}
}

func evalArgs(nodes []Node, env core.Record) ([]core.Value, error) {
	args := make([]core.Value, len(nodes))
	for i, a := range nodes {
		v, err := eval(a, env)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return args, nil
}

func evalList(nodes []Node, env core.Record) (core.Value, error) {
	vals, err := evalArgs(nodes, env)
	if err != nil {
		return nil, err
	}
	return core.List(vals), nil
}

func evalMap(n *MapLit, env core.Record) (core.Value, error) {
	fields := make([]core.Field, 0, len(n.Keys))
	for i := range n.Keys {
		k, err := eval(n.Keys[i], env)
		if err != nil {
			return nil, err
		}
		key, ok := k.(core.String)
		if !ok {
			return nil, typeErrorf("map keys must be str, not %s", k.Kind())
		}
		v, err := eval(n.Values[i], env)
		if err != nil {
			return nil, err
		}
		fields = append(fields, core.F(string(key), v))
	}
	return core.NewMap(fields...), nil
}
