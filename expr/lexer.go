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
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind uint8

const (
	tokEOF tokenKind = iota
	tokInt
	tokFloat
	tokString
	tokTemplate
	tokName
	tokKeyword
	tokOp
)

// templatePart is either literal text or the source of an embedded expression.
type templatePart struct {
	text   string
	isExpr bool
	pos    int
}

type token struct {
	kind  tokenKind
	text  string
	pos   int
	ival  int64
	fval  float64
	parts []templatePart
}

var keywords = map[string]bool{
	"and": true, "or": true, "not": true, "in": true, "is": true, "if": true, "else": true,
}

// reserved are statement keywords that never form part of a valid expression.
var reserved = map[string]bool{
	"lambda": true, "import": true, "from": true, "def": true, "class": true, "for": true,
	"while": true, "yield": true, "await": true, "async": true, "as": true, "with": true,
	"del": true, "global": true, "nonlocal": true, "pass": true, "return": true, "raise": true,
	"try": true, "except": true, "finally": true, "assert": true, "break": true,
	"continue": true, "elif": true,
}

var operators2 = []string{"//", "**", "==", "!=", "<=", ">="}

const operators1 = "+-*/%<>()[]{},.:="

type lexer struct {
	src  string
	base int
	pos  int
	toks []token
}

// lex splits src into tokens. base is added to every reported offset so
// template sub-expressions report positions in the enclosing source.
func lex(src string, base int) ([]token, error) {
	lx := &lexer{src: src, base: base}
	for {
		lx.skipSpace()
		if lx.pos >= len(lx.src) {
			lx.toks = append(lx.toks, token{kind: tokEOF, pos: base + lx.pos})
			return lx.toks, nil
		}
		if err := lx.next(); err != nil {
			return nil, err
		}
	}
}

func (lx *lexer) errorf(pos int, msg string) error {
	return &ParseError{Source: lx.src, Pos: lx.base + pos, Msg: msg}
}

func (lx *lexer) skipSpace() {
	for lx.pos < len(lx.src) {
		r, size := utf8.DecodeRuneInString(lx.src[lx.pos:])
		if !unicode.IsSpace(r) {
			return
		}
		lx.pos += size
	}
}

func (lx *lexer) next() error {
	start := lx.pos
	c := lx.src[lx.pos]

	switch {
	case c == '"' || c == '\'':
		return lx.lexString(start, false, false)
	case (c == 'f' || c == 'F' || c == 'r' || c == 'R') && lx.pos+1 < len(lx.src) &&
		(lx.src[lx.pos+1] == '"' || lx.src[lx.pos+1] == '\''):
		lx.pos++
		return lx.lexString(start, c == 'f' || c == 'F', c == 'r' || c == 'R')
	case isDigit(c) || (c == '.' && lx.pos+1 < len(lx.src) && isDigit(lx.src[lx.pos+1])):
		return lx.lexNumber(start)
	case c == '_' || c >= utf8.RuneSelf || isLetter(c):
		return lx.lexName(start)
	}

	for _, op := range operators2 {
		if strings.HasPrefix(lx.src[lx.pos:], op) {
			lx.pos += len(op)
			lx.toks = append(lx.toks, token{kind: tokOp, text: op, pos: lx.base + start})
			return nil
		}
	}
	if strings.IndexByte(operators1, c) >= 0 {
		lx.pos++
		lx.toks = append(lx.toks, token{kind: tokOp, text: string(c), pos: lx.base + start})
		return nil
	}
	r, _ := utf8.DecodeRuneInString(lx.src[lx.pos:])
	return lx.errorf(start, "unexpected character "+strconv.QuoteRune(r))
}

func (lx *lexer) lexName(start int) error {
	for lx.pos < len(lx.src) {
		r, size := utf8.DecodeRuneInString(lx.src[lx.pos:])
		if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			break
		}
		lx.pos += size
	}
	if lx.pos == start {
		r, _ := utf8.DecodeRuneInString(lx.src[lx.pos:])
		return lx.errorf(start, "unexpected character "+strconv.QuoteRune(r))
	}
	word := lx.src[start:lx.pos]
	switch {
	case keywords[word]:
		lx.toks = append(lx.toks, token{kind: tokKeyword, text: word, pos: lx.base + start})
	case reserved[word]:
		return lx.errorf(start, "reserved keyword "+strconv.Quote(word)+" is not allowed in expressions")
	default:
		lx.toks = append(lx.toks, token{kind: tokName, text: word, pos: lx.base + start})
	}
	return nil
}

func (lx *lexer) lexNumber(start int) error {
	src := lx.src
	if src[lx.pos] == '0' && lx.pos+1 < len(src) && strings.IndexByte("xXoObB", src[lx.pos+1]) >= 0 {
		lx.pos += 2
		for lx.pos < len(src) && (isHexDigit(src[lx.pos]) || src[lx.pos] == '_') {
			lx.pos++
		}
		text := src[start:lx.pos]
		v, err := strconv.ParseInt(text, 0, 64)
		if err != nil {
			return lx.errorf(start, "invalid integer literal "+strconv.Quote(text))
		}
		lx.toks = append(lx.toks, token{kind: tokInt, text: text, pos: lx.base + start, ival: v})
		return nil
	}

	isFloat := false
	digits := func() {
		for lx.pos < len(src) && (isDigit(src[lx.pos]) || src[lx.pos] == '_') {
			lx.pos++
		}
	}
	digits()
	if lx.pos < len(src) && src[lx.pos] == '.' {
		isFloat = true
		lx.pos++
		digits()
	}
	if lx.pos < len(src) && (src[lx.pos] == 'e' || src[lx.pos] == 'E') {
		save := lx.pos
		lx.pos++
		if lx.pos < len(src) && (src[lx.pos] == '+' || src[lx.pos] == '-') {
			lx.pos++
		}
		if lx.pos < len(src) && isDigit(src[lx.pos]) {
			isFloat = true
			digits()
		} else {
			lx.pos = save
		}
	}
	if lx.pos < len(src) && (isLetter(src[lx.pos]) || src[lx.pos] == '_') {
		return lx.errorf(start, "invalid number literal "+strconv.Quote(src[start:lx.pos+1]))
	}

	text := src[start:lx.pos]
	clean := strings.ReplaceAll(text, "_", "")
	if strings.Contains(text, "__") || strings.HasSuffix(text, "_") {
		return lx.errorf(start, "invalid number literal "+strconv.Quote(text))
	}
	if isFloat {
		f, err := strconv.ParseFloat(clean, 64)
		if err != nil {
			return lx.errorf(start, "invalid float literal "+strconv.Quote(text))
		}
		lx.toks = append(lx.toks, token{kind: tokFloat, text: text, pos: lx.base + start, fval: f})
		return nil
	}
	if len(clean) > 1 && clean[0] == '0' && strings.Trim(clean, "0") != "" {
		return lx.errorf(start, "leading zeros in integer literals are not permitted")
	}
	v, err := strconv.ParseInt(clean, 10, 64)
	if err != nil {
		return lx.errorf(start, "integer literal "+strconv.Quote(text)+" is out of range")
	}
	lx.toks = append(lx.toks, token{kind: tokInt, text: text, pos: lx.base + start, ival: v})
	return nil
}

// lexString scans a quoted literal. lx.pos is on the opening quote.
func (lx *lexer) lexString(start int, template, raw bool) error {
	quote := lx.src[lx.pos]
	lx.pos++

	var (
		sb    strings.Builder
		parts []templatePart
	)
	flush := func() {
		if sb.Len() > 0 {
			parts = append(parts, templatePart{text: sb.String()})
			sb.Reset()
		}
	}

	for {
		if lx.pos >= len(lx.src) {
			return lx.errorf(start, "unterminated string literal")
		}
		c := lx.src[lx.pos]
		switch {
		case c == quote:
			lx.pos++
			if !template {
				lx.toks = append(lx.toks, token{kind: tokString, text: sb.String(), pos: lx.base + start})
				return nil
			}
			flush()
			lx.toks = append(lx.toks, token{kind: tokTemplate, pos: lx.base + start, parts: parts})
			return nil
		case c == '\n':
			return lx.errorf(start, "unterminated string literal")
		case c == '\\' && !raw:
			if err := lx.lexEscape(&sb); err != nil {
				return err
			}
		case c == '\\' && raw:
			// A raw string still cannot end on an escaped quote.
			sb.WriteByte(c)
			lx.pos++
			if lx.pos < len(lx.src) {
				sb.WriteByte(lx.src[lx.pos])
				lx.pos++
			}
		case template && c == '{':
			if lx.pos+1 < len(lx.src) && lx.src[lx.pos+1] == '{' {
				sb.WriteByte('{')
				lx.pos += 2
				continue
			}
			flush()
			part, err := lx.lexTemplateExpr(quote)
			if err != nil {
				return err
			}
			parts = append(parts, part)
		case template && c == '}':
			if lx.pos+1 < len(lx.src) && lx.src[lx.pos+1] == '}' {
				sb.WriteByte('}')
				lx.pos += 2
				continue
			}
			return lx.errorf(lx.pos, "single '}' is not allowed in a template")
		default:
			sb.WriteByte(c)
			lx.pos++
		}
	}
}

// lexTemplateExpr scans "{expr}" inside a template. lx.pos is on the '{'.
func (lx *lexer) lexTemplateExpr(quote byte) (templatePart, error) {
	open := lx.pos
	lx.pos++
	depth := 0
	var inStr byte
	for lx.pos < len(lx.src) {
		c := lx.src[lx.pos]
		switch {
		case inStr != 0:
			if c == '\\' {
				lx.pos++
			} else if c == inStr {
				inStr = 0
			}
		case c == quote:
			return templatePart{}, lx.errorf(open, "unterminated expression in template")
		case c == '"' || c == '\'':
			inStr = c
		case c == '(' || c == '[' || c == '{':
			depth++
		case c == ')' || c == ']' || (c == '}' && depth > 0):
			depth--
		case c == '}':
			text := lx.src[open+1 : lx.pos]
			lx.pos++
			if strings.TrimSpace(text) == "" {
				return templatePart{}, lx.errorf(open, "empty expression in template")
			}
			return templatePart{text: text, isExpr: true, pos: lx.base + open + 1}, nil
		case depth == 0 && c == '!' && (lx.pos+1 >= len(lx.src) || lx.src[lx.pos+1] != '='):
			return templatePart{}, lx.errorf(lx.pos, "template conversions are not supported")
		case depth == 0 && c == ':':
			return templatePart{}, lx.errorf(lx.pos, "template format specifiers are not supported")
		case c == '!' || c == '=' || c == '<' || c == '>':
			if lx.pos+1 < len(lx.src) && lx.src[lx.pos+1] == '=' {
				lx.pos++
			}
		}
		lx.pos++
	}
	return templatePart{}, lx.errorf(open, "unterminated expression in template")
}

func (lx *lexer) lexEscape(sb *strings.Builder) error {
	at := lx.pos
	lx.pos++
	if lx.pos >= len(lx.src) {
		return lx.errorf(at, "unterminated string literal")
	}
	c := lx.src[lx.pos]
	lx.pos++
	switch c {
	case 'n':
		sb.WriteByte('\n')
	case 't':
		sb.WriteByte('\t')
	case 'r':
		sb.WriteByte('\r')
	case '0':
		sb.WriteByte(0)
	case '\\', '\'', '"':
		sb.WriteByte(c)
	case 'x', 'u', 'U':
		n := map[byte]int{'x': 2, 'u': 4, 'U': 8}[c]
		if lx.pos+n > len(lx.src) {
			return lx.errorf(at, "truncated escape sequence")
		}
		code, err := strconv.ParseUint(lx.src[lx.pos:lx.pos+n], 16, 32)
		if err != nil || !utf8.ValidRune(rune(code)) {
			return lx.errorf(at, "invalid escape sequence")
		}
		sb.WriteRune(rune(code))
		lx.pos += n
	default:
		// Unknown escapes are kept verbatim.
		sb.WriteByte('\\')
		sb.WriteByte(c)
	}
	return nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isHexDigit(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func isLetter(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }
