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

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/pipeflow/core"
	"github.com/aaronlmathis/pipeflow/writers"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func runCLI(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func pipelineConfig(t *testing.T, dir, condition string) string {
	t.Helper()
	in := writeFile(t, dir, "in.csv", "id,score\n1,10\n2,20\n3,30\n")
	out := filepath.Join(dir, "out.jsonl")
	return writeFile(t, dir, "pipeline.yaml", `
name: scores
extract:
  type: csv
  path: `+in+`
  infer_types: true
transforms:
  - type: filter
    condition: "`+condition+`"
load:
  type: jsonl
  path: `+out+`
  batch_size: 2
`)
}

func TestRunPrintsResult(t *testing.T) {
	dir := t.TempDir()
	cfg := pipelineConfig(t, dir, "score > 10")

	code, stdout, stderr := runCLI("run", "--log-format", "json", cfg)
	require.Equal(t, 0, code, stderr)

	var res map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &res))
	assert.Len(t, res, 7)
	assert.Equal(t, 3.0, res["records_extracted"])
	assert.Equal(t, 2.0, res["records_transformed"])
	assert.Equal(t, 2.0, res["records_loaded"])
	assert.Equal(t, 0.0, res["error_count"])

	assert.Contains(t, stderr, `"msg":"pipeline complete"`)
	data, err := os.ReadFile(filepath.Join(dir, "out.jsonl"))
	require.NoError(t, err)
	assert.Equal(t, "{\"id\":2,\"score\":20}\n{\"id\":3,\"score\":30}\n", string(data))
}

func TestRunFailureExitsOne(t *testing.T) {
	dir := t.TempDir()
	cfg := pipelineConfig(t, dir, "score / 0 > 1")

	code, stdout, stderr := runCLI("run", cfg)
	assert.Equal(t, 1, code)
	assert.Contains(t, stdout, `"records_extracted"`)
	assert.Contains(t, stderr, "pipeline failed")
}

func TestRunBadFlags(t *testing.T) {
	code, _, _ := runCLI("run", "--log-format", "xml", "p.yaml")
	assert.Equal(t, 2, code)
	code, _, _ = runCLI("run")
	assert.Equal(t, 2, code)
	code, _, _ = runCLI("frobnicate")
	assert.Equal(t, 2, code)
	code, _, _ = runCLI()
	assert.Equal(t, 2, code)
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	cfg := pipelineConfig(t, dir, "score > 10")
	code, stdout, _ := runCLI("validate", cfg)
	assert.Equal(t, 0, code)
	assert.Equal(t, "scores: ok (csv -> 1 stages -> jsonl)\n", stdout)

	bad := pipelineConfig(t, t.TempDir(), "score.__class__")
	code, _, stderr := runCLI("validate", bad)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "transforms[0]")
}

func TestInspectCommand(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "rows.jsonl", `{"a": 1}
{"a": 2, "b": "x"}
{"c": null}
`)
	code, stdout, stderr := runCLI("inspect", "-n", "2", path)
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, "columns: a, b, c\nrows: 3\n{\"a\":1}\n{\"a\":2,\"b\":\"x\"}\n", stdout)

	code, _, stderr = runCLI("inspect", writeFile(t, dir, "rows.xml", "<a/>"))
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "unsupported file format: .xml")
}

func TestInspectParquet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.parquet")
	w, err := writers.NewParquetWriter(path)
	require.NoError(t, err)
	ctx := context.Background()
	_, err = w.Load(ctx, []core.Record{core.RecordOf("id", 1, "kind", "a"), core.RecordOf("id", 2, "kind", "b")})
	require.NoError(t, err)
	_, err = w.Load(ctx, []core.Record{core.RecordOf("id", 3, "kind", "c")})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	code, stdout, stderr := runCLI("inspect", "-n", "1", path)
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, "columns: id, kind\nrows: 3\nrow_groups: 2\n{\"id\":1,\"kind\":\"a\"}\n", stdout)
}
