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

	"github.com/aaronlmathis/pipeflow/core"
)

const (
	// MaxSourceLength bounds the size of an expression.
	MaxSourceLength = 16 << 10
	// MaxDepth bounds syntactic nesting.
	MaxDepth = 100
)

type parser struct {
	src   string
	toks  []token
	i     int
	depth int
}

// Parse parses an expression into a syntax tree. Parsing has no side
// effects; malformed input yields a *ParseError.
func Parse(src string) (Node, error) {
	if len(src) > MaxSourceLength {
		return nil, &ParseError{Source: src, Msg: fmt.Sprintf("expression longer than %d bytes", MaxSourceLength)}
	}
	p, err := newParser(src, src, 0, 0)
	if err != nil {
		return nil, err
	}
	return p.parseAll()
}

func newParser(full, src string, base, depth int) (*parser, error) {
	toks, err := lex(src, base)
	if err != nil {
		if pe, ok := err.(*ParseError); ok {
			pe.Source = full
		}
		return nil, err
	}
	return &parser{src: full, toks: toks, depth: depth}, nil
}

func (p *parser) parseAll() (Node, error) {
	if p.peek().kind == tokEOF {
		return nil, p.errorf(p.peek(), "empty expression")
	}
	n, err := p.parseExprList()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		if tok.kind == tokOp && tok.text == "=" {
			return nil, p.errorf(tok, "assignment is not allowed in expressions")
		}
		return nil, p.errorf(tok, "unexpected "+describe(tok))
	}
	return n, nil
}

func (p *parser) peek() token { return p.toks[p.i] }

func (p *parser) advance() token {
	tok := p.toks[p.i]
	if tok.kind != tokEOF {
		p.i++
	}
	return tok
}

func (p *parser) isOp(text string) bool {
	tok := p.peek()
	return tok.kind == tokOp && tok.text == text
}

func (p *parser) isKeyword(text string) bool {
	tok := p.peek()
	return tok.kind == tokKeyword && tok.text == text
}

func (p *parser) expectOp(text string) error {
	if !p.isOp(text) {
		return p.errorf(p.peek(), fmt.Sprintf("expected %q, found %s", text, describe(p.peek())))
	}
	p.advance()
	return nil
}

func (p *parser) errorf(tok token, msg string) error {
	return &ParseError{Source: p.src, Pos: tok.pos, Msg: msg}
}

func (p *parser) enter() error {
	p.depth++
	if p.depth > MaxDepth {
		return p.errorf(p.peek(), "expression is nested too deeply")
	}
	return nil
}

func (p *parser) leave() { p.depth-- }

func describe(tok token) string {
	switch tok.kind {
	case tokEOF:
		return "end of expression"
	case tokString, tokTemplate:
		return "string literal"
	case tokInt, tokFloat:
		return "number " + tok.text
	}
	return fmt.Sprintf("%q", tok.text)
}

// parseExprList parses "expr {, expr} [,]", producing a tuple when a comma is present.
func (p *parser) parseExprList() (Node, error) {
	start := p.peek()
	first, err := p.parseTernary()
	if err != nil {
		return nil, err
	}
	if !p.isOp(",") {
		return first, nil
	}
	elems := []Node{first}
	for p.isOp(",") {
		p.advance()
		if p.endsList() {
			break
		}
		e, err := p.parseTernary()
		if err != nil {
			return nil, err
		}
		elems = append(elems, e)
	}
	return &TupleLit{Span: Span{start.pos}, Elems: elems}, nil
}

func (p *parser) endsList() bool {
	tok := p.peek()
	return tok.kind == tokEOF || (tok.kind == tokOp && (tok.text == ")" || tok.text == "]" || tok.text == "}"))
}

func (p *parser) parseTernary() (Node, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	then, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.isKeyword("if") {
		return then, nil
	}
	p.advance()
	cond, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.isKeyword("else") {
		return nil, p.errorf(p.peek(), "expected 'else' in conditional expression")
	}
	p.advance()
	els, err := p.parseTernary()
	if err != nil {
		return nil, err
	}
	return &Conditional{Span: Span{then.Pos()}, Cond: cond, Then: then, Else: els}, nil
}

func (p *parser) parseOr() (Node, error) {
	return p.parseBool(OpOr, "or", p.parseAnd)
}

func (p *parser) parseAnd() (Node, error) {
	return p.parseBool(OpAnd, "and", p.parseNot)
}

func (p *parser) parseBool(op BoolOperator, kw string, operand func() (Node, error)) (Node, error) {
	first, err := operand()
	if err != nil {
		return nil, err
	}
	if !p.isKeyword(kw) {
		return first, nil
	}
	operands := []Node{first}
	for p.isKeyword(kw) {
		p.advance()
		next, err := operand()
		if err != nil {
			return nil, err
		}
		operands = append(operands, next)
	}
	return &BoolOp{Span: Span{first.Pos()}, Op: op, Operands: operands}, nil
}

func (p *parser) parseNot() (Node, error) {
	if !p.isKeyword("not") {
		return p.parseComparison()
	}
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()
	tok := p.advance()
	x, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	return &Unary{Span: Span{tok.pos}, Op: UnaryNot, X: x}, nil
}

var compareOps = map[string]CompareOp{
	"==": CmpEq, "!=": CmpNotEq, "<": CmpLt, "<=": CmpLtE, ">": CmpGt, ">=": CmpGtE,
}

// compareOp consumes a comparison operator if one is next.
func (p *parser) compareOp() (CompareOp, bool, error) {
	tok := p.peek()
	switch tok.kind {
	case tokOp:
		if op, ok := compareOps[tok.text]; ok {
			p.advance()
			return op, true, nil
		}
	case tokKeyword:
		switch tok.text {
		case "in":
			p.advance()
			return CmpIn, true, nil
		case "is":
			p.advance()
			if p.isKeyword("not") {
				p.advance()
				return CmpIsNot, true, nil
			}
			return CmpIs, true, nil
		case "not":
			next := p.toks[p.i+1]
			if next.kind == tokKeyword && next.text == "in" {
				p.advance()
				p.advance()
				return CmpNotIn, true, nil
			}
			return 0, false, p.errorf(tok, "unexpected 'not'")
		}
	}
	return 0, false, nil
}

func (p *parser) parseComparison() (Node, error) {
	first, err := p.parseArith()
	if err != nil {
		return nil, err
	}
	var (
		ops      []CompareOp
		operands = []Node{first}
	)
	for {
		op, ok, err := p.compareOp()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		next, err := p.parseArith()
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
		operands = append(operands, next)
	}
	if len(ops) == 0 {
		return first, nil
	}
	return &Compare{Span: Span{first.Pos()}, Ops: ops, Operands: operands}, nil
}

func (p *parser) parseArith() (Node, error) {
	x, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for p.isOp("+") || p.isOp("-") {
		op := OpAdd
		if p.advance().text == "-" {
			op = OpSub
		}
		y, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		x = &Binary{Span: Span{x.Pos()}, Op: op, X: x, Y: y}
	}
	return x, nil
}

var termOps = map[string]BinaryOp{"*": OpMul, "/": OpDiv, "//": OpFloorDiv, "%": OpMod}

func (p *parser) parseTerm() (Node, error) {
	x, err := p.parseFactor()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		op, ok := termOps[tok.text]
		if tok.kind != tokOp || !ok {
			return x, nil
		}
		p.advance()
		y, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		x = &Binary{Span: Span{x.Pos()}, Op: op, X: x, Y: y}
	}
}

func (p *parser) parseFactor() (Node, error) {
	if !p.isOp("+") && !p.isOp("-") {
		return p.parsePower()
	}
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()
	tok := p.advance()
	x, err := p.parseFactor()
	if err != nil {
		return nil, err
	}
	op := UnaryPlus
	if tok.text == "-" {
		op = UnaryMinus
	}
	return &Unary{Span: Span{tok.pos}, Op: op, X: x}, nil
}

func (p *parser) parsePower() (Node, error) {
	x, err := p.parsePostfix()
	if err != nil {
		return nil, err
	}
	if !p.isOp("**") {
		return x, nil
	}
	p.advance()
	y, err := p.parseFactor()
	if err != nil {
		return nil, err
	}
	return &Binary{Span: Span{x.Pos()}, Op: OpPow, X: x, Y: y}, nil
}

func (p *parser) parsePostfix() (Node, error) {
	x, err := p.parseAtom()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.kind != tokOp {
			return x, nil
		}
		switch tok.text {
		case ".":
			p.advance()
			name := p.peek()
			if name.kind != tokName {
				return nil, p.errorf(name, "expected attribute name after '.'")
			}
			p.advance()
			x = &Attribute{Span: Span{x.Pos()}, X: x, Attr: name.text}
		case "[":
			p.advance()
			if p.isOp("]") {
				return nil, p.errorf(p.peek(), "empty subscript")
			}
			idx, err := p.parseExprList()
			if err != nil {
				return nil, err
			}
			if p.isOp(":") {
				return nil, p.errorf(p.peek(), "slices are not supported")
			}
			if err := p.expectOp("]"); err != nil {
				return nil, err
			}
			x = &Subscript{Span: Span{x.Pos()}, X: x, Index: idx}
		case "(":
			p.advance()
			args, err := p.parseArgs()
			if err != nil {
				return nil, err
			}
			x = &Call{Span: Span{x.Pos()}, Func: x, Args: args}
		default:
			return x, nil
		}
	}
}

func (p *parser) parseArgs() ([]Node, error) {
	var args []Node
	for !p.isOp(")") {
		if tok := p.peek(); tok.kind == tokName && p.toks[p.i+1].kind == tokOp && p.toks[p.i+1].text == "=" {
			return nil, p.errorf(tok, "keyword arguments are not supported")
		}
		arg, err := p.parseTernary()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if !p.isOp(",") {
			break
		}
		p.advance()
	}
	if err := p.expectOp(")"); err != nil {
		return nil, err
	}
	return args, nil
}

func (p *parser) parseAtom() (Node, error) {
	tok := p.peek()
	switch tok.kind {
	case tokInt:
		p.advance()
		return &Literal{Span: Span{tok.pos}, Value: core.Int(tok.ival)}, nil
	case tokFloat:
		p.advance()
		return &Literal{Span: Span{tok.pos}, Value: core.Float(tok.fval)}, nil
	case tokString, tokTemplate:
		return p.parseStrings()
	case tokName:
		p.advance()
		return &Name{Span: Span{tok.pos}, Ident: tok.text}, nil
	case tokOp:
		switch tok.text {
		case "(":
			return p.parseParen()
		case "[":
			return p.parseList()
		case "{":
			return p.parseMap()
		}
	case tokEOF:
		return nil, p.errorf(tok, "unexpected end of expression")
	}
	return nil, p.errorf(tok, "unexpected "+describe(tok))
}

func (p *parser) parseParen() (Node, error) {
	open := p.advance()
	if p.isOp(")") {
		p.advance()
		return &TupleLit{Span: Span{open.pos}}, nil
	}
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()
	x, err := p.parseExprList()
	if err != nil {
		return nil, err
	}
	if err := p.expectOp(")"); err != nil {
		return nil, err
	}
	return x, nil
}

func (p *parser) parseList() (Node, error) {
	open := p.advance()
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()
	var elems []Node
	for !p.isOp("]") {
		e, err := p.parseTernary()
		if err != nil {
			return nil, err
		}
		elems = append(elems, e)
		if !p.isOp(",") {
			break
		}
		p.advance()
	}
	if err := p.expectOp("]"); err != nil {
		return nil, err
	}
	return &ListLit{Span: Span{open.pos}, Elems: elems}, nil
}

func (p *parser) parseMap() (Node, error) {
	open := p.advance()
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()
	m := &MapLit{Span: Span{open.pos}}
	for !p.isOp("}") {
		k, err := p.parseTernary()
		if err != nil {
			return nil, err
		}
		if !p.isOp(":") {
			return nil, p.errorf(p.peek(), "set literals are not supported")
		}
		p.advance()
		v, err := p.parseTernary()
		if err != nil {
			return nil, err
		}
		m.Keys = append(m.Keys, k)
		m.Values = append(m.Values, v)
		if !p.isOp(",") {
			break
		}
		p.advance()
	}
	if err := p.expectOp("}"); err != nil {
		return nil, err
	}
	return m, nil
}

// parseStrings joins adjacent string and template literals.
func (p *parser) parseStrings() (Node, error) {
	start := p.peek().pos
	var (
		parts      []Node
		isTemplate bool
	)
	appendText := func(pos int, s string) {
		if s == "" {
			return
		}
		if n := len(parts); n > 0 {
			if lit, ok := parts[n-1].(*Literal); ok {
				if prev, ok := lit.Value.(core.String); ok {
					parts[n-1] = &Literal{Span: lit.Span, Value: prev + core.String(s)}
					return
				}
			}
		}
		parts = append(parts, &Literal{Span: Span{pos}, Value: core.String(s)})
	}

	for {
		tok := p.peek()
		if tok.kind == tokString {
			p.advance()
			appendText(tok.pos, tok.text)
			continue
		}
		if tok.kind != tokTemplate {
			break
		}
		p.advance()
		isTemplate = true
		for _, part := range tok.parts {
			if !part.isExpr {
				appendText(tok.pos, part.text)
				continue
			}
			sub, err := newParser(p.src, part.text, part.pos, p.depth)
			if err != nil {
				return nil, err
			}
			n, err := sub.parseAll()
			if err != nil {
				return nil, err
			}
			parts = append(parts, n)
		}
	}

	if !isTemplate {
		var s core.String
		if len(parts) == 1 {
			s = parts[0].(*Literal).Value.(core.String)
		}
		return &Literal{Span: Span{start}, Value: s}, nil
	}
	return &Template{Span: Span{start}, Parts: parts}, nil
}
