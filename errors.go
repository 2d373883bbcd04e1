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

package pipeflow

import (
	"errors"
	"fmt"

	"github.com/aaronlmathis/pipeflow/core"
)

// ErrAlreadyRun is returned by Run on a pipeline that has been run before.
// Extractors are not restartable, so a pipeline runs at most once.
var ErrAlreadyRun = errors.New("pipeline has already been run")

// StageError reports a stage that failed on a record. Record is the input
// the stage received, not the record as extracted.
type StageError struct {
	Stage  string
	Index  int
	Record core.Record
	Err    error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed on record %d %s: %v", e.Stage, e.Index, e.Record, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// ExtractionError reports a failure reading from the extractor. Index is the
// position of the record that could not be read.
type ExtractionError struct {
	Index int
	Err   error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract record %d: %v", e.Index, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// LoadError reports a failed batch load or loader close. Records is the
// size of the batch in flight, zero for a failed close.
type LoadError struct {
	Records int
	Err     error
}

func (e *LoadError) Error() string {
	if e.Records == 0 {
		return fmt.Sprintf("close loader: %v", e.Err)
	}
	return fmt.Sprintf("load batch of %d records: %v", e.Records, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}
