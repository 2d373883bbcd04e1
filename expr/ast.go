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

	"github.com/aaronlmathis/pipeflow/core"
)

// Node is an expression syntax tree node. The set of node types is closed:
// only this package can add variants, and eval and Check switch over all of them.
type Node interface {
	// Pos is the byte offset of the node in the source.
	Pos() int
	node()
}

// Span carries a node's source offset.
type Span struct {
	Offset int
}

// Pos implements Node.
func (s Span) Pos() int { return s.Offset }

type (
	// Literal is a constant number or string.
	Literal struct {
		Span
		Value core.Value
	}

	// Name is an identifier resolved against the builtins and then the bindings.
	Name struct {
		Span
		Ident string
	}

	// Attribute is x.attr.
	Attribute struct {
		Span
		X    Node
		Attr string
	}

	// Subscript is x[index].
	Subscript struct {
		Span
		X     Node
		Index Node
	}

	// Unary is a prefix operator applied to X.
	Unary struct {
		Span
		Op UnaryOp
		X  Node
	}

	// Binary is an arithmetic operator.
	Binary struct {
		Span
		Op BinaryOp
		X  Node
		Y  Node
	}

	// BoolOp is a chain of and/or operands sharing one operator.
	BoolOp struct {
		Span
		Op       BoolOperator
		Operands []Node
	}

	// Compare is a comparison chain: Operands[0] Ops[0] Operands[1] Ops[1] ...
	Compare struct {
		Span
		Ops      []CompareOp
		Operands []Node
	}

	// Conditional is "Then if Cond else Else".
	Conditional struct {
		Span
		Cond Node
		Then Node
		Else Node
	}

	// Call invokes a builtin (Func is a *Name) or a string method (Func is an *Attribute).
	Call struct {
		Span
		Func Node
		Args []Node
	}

	ListLit struct {
		Span
		Elems []Node
	}

	TupleLit struct {
		Span
		Elems []Node
	}

	MapLit struct {
		Span
		Keys   []Node
		Values []Node
	}

	// Template concatenates its parts after converting each to a string.
	Template struct {
		Span
		Parts []Node
	}
)

func (*Literal) node()     {}
func (*Name) node()        {}
func (*Attribute) node()   {}
func (*Subscript) node()   {}
func (*Unary) node()       {}
func (*Binary) node()      {}
func (*BoolOp) node()      {}
func (*Compare) node()     {}
func (*Conditional) node() {}
func (*Call) node()        {}
func (*ListLit) node()     {}
func (*TupleLit) node()    {}
func (*MapLit) node()      {}
func (*Template) node()    {}

// UnaryOp is a prefix operator.
type UnaryOp uint8

const (
	UnaryPlus UnaryOp = iota
	UnaryMinus
	UnaryNot
)

func (op UnaryOp) String() string {
	switch op {
	case UnaryPlus:
		return "+"
	case UnaryMinus:
		return "-"
	case UnaryNot:
		return "not"
	}
	return "?"
}

// BinaryOp is an arithmetic operator. OpPow is parsed so it can be rejected
// with a SecurityViolation rather than a syntax error.
type BinaryOp uint8

const (
	OpAdd BinaryOp = iota
	OpSub
	OpMul
	OpDiv
	OpFloorDiv
	OpMod
	OpPow
)

func (op BinaryOp) String() string {
	switch op {
	case OpAdd:
		return "+"
	case OpSub:
		return "-"
	case OpMul:
		return "*"
	case OpDiv:
		return "/"
	case OpFloorDiv:
		return "//"
	case OpMod:
		return "%"
	case OpPow:
		return "**"
	}
	return "?"
}

// BoolOperator is and/or.
type BoolOperator uint8

const (
	OpAnd BoolOperator = iota
	OpOr
)

func (op BoolOperator) String() string {
	if op == OpAnd {
		return "and"
	}
	return "or"
}

// CompareOp is a comparison operator.
type CompareOp uint8

const (
	CmpEq CompareOp = iota
	CmpNotEq
	CmpLt
	CmpLtE
	CmpGt
	CmpGtE
	CmpIs
	CmpIsNot
	CmpIn
	CmpNotIn
)

func (op CompareOp) String() string {
	switch op {
	case CmpEq:
		return "=="
	case CmpNotEq:
		return "!="
	case CmpLt:
		return "<"
	case CmpLtE:
		return "<="
	case CmpGt:
		return ">"
	case CmpGtE:
		return ">="
	case CmpIs:
		return "is"
	case CmpIsNot:
		return "is not"
	case CmpIn:
		return "in"
	case CmpNotIn:
		return "not in"
	}
	return "?"
}

// Format renders n as fully parenthesized source. It is used in error
// messages and tests.
func Format(n Node) string {
	var sb strings.Builder
	format(&sb, n)
	return sb.String()
}

func format(sb *strings.Builder, n Node) {
	switch n := n.(type) {
	case *Literal:
		sb.WriteString(core.Repr(n.Value))
	case *Name:
		sb.WriteString(n.Ident)
	case *Attribute:
		format(sb, n.X)
		sb.WriteByte('.')
		sb.WriteString(n.Attr)
	case *Subscript:
		format(sb, n.X)
		sb.WriteByte('[')
		format(sb, n.Index)
		sb.WriteByte(']')
	case *Unary:
		sb.WriteByte('(')
		sb.WriteString(n.Op.String())
		if n.Op == UnaryNot {
			sb.WriteByte(' ')
		}
		format(sb, n.X)
		sb.WriteByte(')')
	case *Binary:
		sb.WriteByte('(')
		format(sb, n.X)
		sb.WriteString(" " + n.Op.String() + " ")
		format(sb, n.Y)
		sb.WriteByte(')')
	case *BoolOp:
		sb.WriteByte('(')
		for i, o := range n.Operands {
			if i > 0 {
				sb.WriteString(" " + n.Op.String() + " ")
			}
			format(sb, o)
		}
		sb.WriteByte(')')
	case *Compare:
		sb.WriteByte('(')
		format(sb, n.Operands[0])
		for i, op := range n.Ops {
			sb.WriteString(" " + op.String() + " ")
			format(sb, n.Operands[i+1])
		}
		sb.WriteByte(')')
	case *Conditional:
		sb.WriteByte('(')
		format(sb, n.Then)
		sb.WriteString(" if ")
		format(sb, n.Cond)
		sb.WriteString(" else ")
		format(sb, n.Else)
		sb.WriteByte(')')
	case *Call:
		format(sb, n.Func)
		sb.WriteByte('(')
		formatList(sb, n.Args)
		sb.WriteByte(')')
	case *ListLit:
		sb.WriteByte('[')
		formatList(sb, n.Elems)
		sb.WriteByte(']')
	case *TupleLit:
		sb.WriteByte('(')
		formatList(sb, n.Elems)
		if len(n.Elems) == 1 {
			sb.WriteByte(',')
		}
		sb.WriteByte(')')
	case *MapLit:
		sb.WriteByte('{')
		for i := range n.Keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			format(sb, n.Keys[i])
			sb.WriteString(": ")
			format(sb, n.Values[i])
		}
		sb.WriteByte('}')
	case *Template:
		sb.WriteString("f'")
		for _, p := range n.Parts {
			if lit, ok := p.(*Literal); ok {
				if s, ok := lit.Value.(core.String); ok {
					sb.WriteString(strings.NewReplacer("{", "{{", "}", "}}").Replace(string(s)))
					continue
				}
			}
			sb.WriteByte('{')
			format(sb, p)
			sb.WriteByte('}')
		}
		sb.WriteByte('\'')
	default:
		sb.WriteString("<?>")
	}
}

func formatList(sb *strings.Builder, nodes []Node) {
	for i, e := range nodes {
		if i > 0 {
			sb.WriteString(", ")
		}
		format(sb, e)
	}
}
