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

package transform

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/aaronlmathis/pipeflow/core"
	"github.com/zeebo/xxh3"
)

// ErrSeenSetFull is returned by a deduplicate stage whose key limit has been reached.
var ErrSeenSetFull = errors.New("deduplicate: seen-set limit reached")

// DedupStage drops records whose key tuple has already been seen.
//
// Keys are encoded canonically so that equal values (such as 1 and 1.0)
// share an encoding, bucketed by their xxh3 hash and compared byte for byte.
// The seen-set grows for the life of the stage; WithMaxKeys turns unbounded
// growth into a hard failure rather than eviction.
type DedupStage struct {
	keys    []string
	seen    map[uint64][][]byte
	count   int
	maxKeys int
	buf     []byte
}

// DedupOption configures a DedupStage.
type DedupOption func(*DedupStage)

// WithMaxKeys fails the stage once more than n distinct keys would be held.
// Zero means unbounded.
func WithMaxKeys(n int) DedupOption {
	return func(s *DedupStage) { s.maxKeys = n }
}

// Deduplicate creates a stage keyed on the given fields. Missing fields count as null.
func Deduplicate(keys []string, opts ...DedupOption) (*DedupStage, error) {
	if len(keys) == 0 {
		return nil, errors.New("deduplicate: at least one key field is required")
	}
	s := &DedupStage{
		keys: append([]string(nil), keys...),
		seen: make(map[uint64][][]byte),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxKeys < 0 {
		return nil, fmt.Errorf("deduplicate: max keys must be >= 0, got %d", s.maxKeys)
	}
	return s, nil
}

func (s *DedupStage) Name() string { return "deduplicate" }

// Keys returns the key fields.
func (s *DedupStage) Keys() []string { return append([]string(nil), s.keys...) }

// Len returns the number of distinct keys seen.
func (s *DedupStage) Len() int { return s.count }

// Reset forgets every key seen so far.
func (s *DedupStage) Reset() {
	s.seen = make(map[uint64][][]byte)
	s.count = 0
}

func (s *DedupStage) Apply(ctx context.Context, record core.Record) (core.Record, bool, error) {
	s.buf = s.buf[:0]
	for _, k := range s.keys {
		s.buf = appendKey(s.buf, record.Lookup(k))
	}
	h := xxh3.Hash(s.buf)
	for _, prev := range s.seen[h] {
		if bytes.Equal(prev, s.buf) {
			return record, false, nil
		}
	}
	if s.maxKeys > 0 && s.count >= s.maxKeys {
		return core.Record{}, false, fmt.Errorf("%w (%d keys)", ErrSeenSetFull, s.maxKeys)
	}
	s.seen[h] = append(s.seen[h], append([]byte(nil), s.buf...))
	s.count++
	return record, true, nil
}

// appendKey appends a self-delimiting canonical encoding of v.
func appendKey(b []byte, v core.Value) []byte {
	switch x := v.(type) {
	case core.Null:
		return append(b, 'n')
	case core.Bool:
		if x {
			return append(b, 'b', 1)
		}
		return append(b, 'b', 0)
	case core.Int:
		return binary.BigEndian.AppendUint64(append(b, 'i'), uint64(x))
	case core.Float:
		f := float64(x)
		if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
			return binary.BigEndian.AppendUint64(append(b, 'i'), uint64(int64(f)))
		}
		if math.IsNaN(f) {
			f = math.NaN()
		}
		return binary.BigEndian.AppendUint64(append(b, 'f'), math.Float64bits(f))
	case core.String:
		b = binary.AppendUvarint(append(b, 's'), uint64(len(x)))
		return append(b, x...)
	case core.Time:
		t := time.Time(x)
		b = binary.BigEndian.AppendUint64(append(b, 't'), uint64(t.Unix()))
		return binary.BigEndian.AppendUint32(b, uint32(t.Nanosecond()))
	case core.List:
		b = binary.AppendUvarint(append(b, 'l'), uint64(len(x)))
		for _, e := range x {
			b = appendKey(b, e)
		}
		return b
	case core.Map:
		keys := x.Keys()
		sort.Strings(keys)
		b = binary.AppendUvarint(append(b, 'm'), uint64(len(keys)))
		for _, k := range keys {
			b = appendKey(b, core.String(k))
			b = appendKey(b, x.Lookup(k))
		}
		return b
	}
	return append(b, 'n')
}
