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

package config

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/aaronlmathis/pipeflow"
	"github.com/aaronlmathis/pipeflow/core"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const fullYAML = `
name: people
extract:
  type: csv
  path: people.csv
transforms:
  - type: rename
    mapping:
      b: B
      a: A
  - type: cast
    columns:
      id: int
      age: int
  - type: filter
    condition: "age >= 18"
  - type: deduplicate
    key: id
  - type: derive
    expression: "adult = age >= 18"
validate:
  model: Person
  fields:
    name: {}
    age:
      type: int
      min: 35
      required: false
load:
  type: jsonl
  path: out.jsonl
`

func TestParseYAML(t *testing.T) {
	cfg, err := Parse([]byte(fullYAML), "yaml")
	require.NoError(t, err)

	assert.Equal(t, "people", cfg.Name)
	assert.Equal(t, ",", cfg.Extract.Delimiter)
	assert.Equal(t, "utf-8", cfg.Extract.Encoding)
	require.Len(t, cfg.Transforms, 5)
	assert.Equal(t, []string{"b", "a"}, cfg.Transforms[0].Mapping.Keys())
	assert.Equal(t, []string{"id", "age"}, cfg.Transforms[1].Columns.Keys())
	assert.Equal(t, StringList{"id"}, cfg.Transforms[3].Key)

	require.NotNil(t, cfg.Validation)
	assert.Equal(t, []string{"name", "age"}, cfg.Validation.Fields.Keys())
	name, ok := cfg.Validation.Fields.Get("name")
	require.True(t, ok)
	assert.Equal(t, "str", name.Type)
	assert.True(t, name.IsRequired())
	age, _ := cfg.Validation.Fields.Get("age")
	assert.False(t, age.IsRequired())
	require.NotNil(t, age.Min)
	assert.Equal(t, 35.0, *age.Min)

	assert.Equal(t, "insert", cfg.Load.Mode)
	assert.Equal(t, 100, cfg.Load.BatchSize)
}

func TestParseJSON(t *testing.T) {
	doc := `{
		"name": "api",
		"extract": {"type": "api", "url": "https://example.com/items", "timeout": "5s",
			"pagination": {"type": "offset", "limit": 50}},
		"transforms": [{"type": "cast", "columns": {"z": "float", "a": "int"}}],
		"validate": {"fields": {"status": {"type": "str", "allowed": ["open", "closed"]}, "n": {"type": "int", "allowed": [1, 2]}}},
		"load": {"type": "sqlite", "mode": "upsert", "conflict_key": ["id", "region"]}
	}`
	cfg, err := Parse([]byte(doc), "json")
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.Extract.Timeout.Std())
	require.NotNil(t, cfg.Extract.Pagination)
	assert.Equal(t, 50, cfg.Extract.Pagination.Limit)
	assert.Equal(t, []string{"z", "a"}, cfg.Transforms[0].Columns.Keys())
	assert.Equal(t, StringList{"id", "region"}, cfg.Load.ConflictKey)
	assert.Equal(t, ":memory:", cfg.Load.Database)
	assert.Equal(t, "data", cfg.Load.Table)

	v, err := BuildValidator(cfg.Validation)
	require.NoError(t, err)
	errs := v.Validate(core.RecordOf("status", "open", "n", 2))
	assert.Empty(t, errs)
	errs = v.Validate(core.RecordOf("status", "pending", "n", 3))
	require.Len(t, errs, 2)
	assert.Equal(t, "status", errs[0].Field)
	assert.Equal(t, "n", errs[1].Field)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("name: x\nextract: {type: csv, path: a.csv, delimeter: ';'}\nload: {type: jsonl, path: o}\n"), "yaml")
	require.Error(t, err)

	_, err = Parse([]byte(`{"name": "x", "extract": {"type": "csv", "path": "a"}, "load": {"type": "jsonl", "path": "o"}, "extra": 1}`), "json")
	require.Error(t, err)

	_, err = Parse([]byte(`{"name": "x", "extract": {"type": "csv", "path": "a"}, "load": {"type": "jsonl", "path": "o"},
		"validate": {"fields": {"a": {"typ": "int"}}}}`), "json")
	require.Error(t, err)
}

func TestParseEmptyDocument(t *testing.T) {
	_, err := Parse(nil, "yaml")
	assert.ErrorContains(t, err, "empty document")
	_, err = Parse([]byte("  "), "json")
	assert.ErrorContains(t, err, "empty document")
}

func TestValidateReportsEveryProblem(t *testing.T) {
	doc := `
extract:
  type: sql
  driver: mysql
transforms:
  - type: cast
    columns: {a: decimal}
  - type: explode
  - type: derive
validate:
  fields:
    a: {type: money}
load:
  type: csv
  mode: upsert
  batch_size: -1
`
	_, err := Parse([]byte(doc), "yaml")
	require.Error(t, err)

	for _, field := range []string{
		"name", "extract.driver", "extract.dsn", "extract.query",
		"transforms[0].columns.a", "transforms[1].type", "transforms[2].expression",
		"validate.fields.a.type", "load.mode", "load.conflict_key", "load.batch_size",
	} {
		assert.ErrorContains(t, err, "config "+field+":")
	}

	var cfgErr *ConfigError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestLoadByExtension(t *testing.T) {
	dir := t.TempDir()
	yml := writeFile(t, dir, "p.yml", fullYAML)
	cfg, err := Load(yml)
	require.NoError(t, err)
	assert.Equal(t, "people", cfg.Name)

	js := writeFile(t, dir, "p.json", `{"name": "j", "extract": {"type": "jsonl", "path": "in.jsonl"}, "load": {"type": "csv"}}`)
	cfg, err = Load(js)
	require.NoError(t, err)
	assert.Equal(t, "output.csv", cfg.Load.Path)

	_, err = Load(writeFile(t, dir, "p.toml", "name = 'x'"))
	assert.ErrorContains(t, err, "unsupported file format: .toml")

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("PIPEFLOW_TEST_DSN", "postgres://db/app")

	out, err := ExpandEnv("dsn: ${PIPEFLOW_TEST_DSN}\ntable: ${PIPEFLOW_TEST_TABLE:-events}\nprice: $5")
	require.NoError(t, err)
	assert.Equal(t, "dsn: postgres://db/app\ntable: events\nprice: $5", out)

	_, err = ExpandEnv("a: ${PIPEFLOW_TEST_UNSET_1}\nb: ${PIPEFLOW_TEST_UNSET_2}")
	assert.ErrorContains(t, err, "PIPEFLOW_TEST_UNSET_1, PIPEFLOW_TEST_UNSET_2")
}

func TestStringListAndDuration(t *testing.T) {
	var v struct {
		One  StringList `yaml:"one"`
		Many StringList `yaml:"many"`
		D1   Duration   `yaml:"d1"`
		D2   Duration   `yaml:"d2"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("one: id\nmany: [a, b]\nd1: 1m30s\nd2: 2.5\n"), &v))
	assert.Equal(t, StringList{"id"}, v.One)
	assert.Equal(t, StringList{"a", "b"}, v.Many)
	assert.Equal(t, 90*time.Second, v.D1.Std())
	assert.Equal(t, 2500*time.Millisecond, v.D2.Std())

	var j struct {
		Key StringList `json:"key"`
		D   Duration   `json:"d"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"key": "id", "d": 3}`), &j))
	assert.Equal(t, StringList{"id"}, j.Key)
	assert.Equal(t, 3*time.Second, j.D.Std())

	assert.Error(t, yaml.Unmarshal([]byte("d1: soon\n"), &v))
}

func TestOrderedMapRejectsDuplicates(t *testing.T) {
	var m OrderedMap[string]
	assert.Error(t, yaml.Unmarshal([]byte("a: x\na: y\n"), &m))
	assert.Error(t, json.Unmarshal([]byte(`{"a": "x", "a": "y"}`), &m))
}

func TestBuildStagesNamesByPosition(t *testing.T) {
	stages, err := BuildStages([]TransformConfig{
		{Type: TransformRename, Mapping: OrderedMap[string]{{Key: "a", Value: "b"}}},
		{Type: TransformFilter},
		{Type: TransformSelect, Fields: StringList{"b"}},
	})
	require.NoError(t, err)
	require.Len(t, stages, 3)
	assert.Equal(t, "0:rename", stages[0].Name())
	assert.Equal(t, "1:filter", stages[1].Name())
	assert.Equal(t, "2:select", stages[2].Name())

	_, err = BuildStages([]TransformConfig{{Type: TransformFilter, Condition: "__import__('os')"}})
	assert.ErrorContains(t, err, "transforms[0]")
}

func TestBuildValidatorNil(t *testing.T) {
	v, err := BuildValidator(nil)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestBuildRunsCSVToJSONL(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "people.csv", "id,name,age\n1,alice,30\n2,bob,17\n2,bob,17\n3,,40\n")
	cfg, err := Parse([]byte(fullYAML), "yaml")
	require.NoError(t, err)
	cfg.Extract.Path = filepath.Join(dir, "people.csv")
	cfg.Load.Path = filepath.Join(dir, "out.jsonl")

	p, err := Build(context.Background(), cfg, nil)
	require.NoError(t, err)
	res, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, pipeflow.StateCompleted, res.State)
	assert.Equal(t, 4, res.RecordsExtracted)
	assert.Equal(t, 2, res.RecordsTransformed)
	assert.Equal(t, 1, res.RecordsValid)
	assert.Equal(t, 1, res.RecordsInvalid)
	assert.Equal(t, 1, res.RecordsLoaded)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "age", res.Errors[0].Errors[0].Field)

	f, err := os.Open(cfg.Load.Path)
	require.NoError(t, err)
	defer f.Close()
	sc := bufio.NewScanner(f)
	require.True(t, sc.Scan())
	rec, err := core.ParseRecordJSON(sc.Bytes())
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name", "age", "adult"}, rec.Keys())
	assert.Equal(t, core.Int(3), rec.Lookup("id"))
	assert.Equal(t, core.Bool(true), rec.Lookup("adult"))
	assert.False(t, sc.Scan())
}

func TestBuildRunsJSONLToSQLiteUpsert(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "in.jsonl", `{"id": 1, "v": "a"}
{"id": 2, "v": "b"}
{"id": 1, "v": "c"}
`)
	dbPath := filepath.Join(dir, "out.db")
	doc := `{"name": "upsert",
		"extract": {"type": "jsonl", "path": "` + in + `"},
		"load": {"type": "sqlite", "database": "` + dbPath + `", "table": "items", "mode": "upsert", "conflict_key": "id", "batch_size": 2}}`
	cfg, err := Parse([]byte(doc), "json")
	require.NoError(t, err)

	p, err := Build(context.Background(), cfg, nil)
	require.NoError(t, err)
	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.RecordsLoaded)

	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	defer db.Close()
	rows, err := db.Query(`SELECT id, v FROM items ORDER BY id`)
	require.NoError(t, err)
	defer rows.Close()
	got := map[int64]string{}
	for rows.Next() {
		var id int64
		var v string
		require.NoError(t, rows.Scan(&id, &v))
		got[id] = v
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, map[int64]string{1: "c", 2: "b"}, got)
}

func TestBuildMissingSource(t *testing.T) {
	cfg := &Config{
		Name:    "missing",
		Extract: ExtractConfig{Type: ExtractCSV, Path: filepath.Join(t.TempDir(), "nope.csv")},
		Load:    LoadConfig{Type: LoadJSONL, Path: filepath.Join(t.TempDir(), "out.jsonl")},
	}
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())

	_, err := Build(context.Background(), cfg, nil)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestBuildMongoRejectsBadFilter(t *testing.T) {
	_, err := BuildExtractor(context.Background(), ExtractConfig{
		Type: ExtractMongo, URI: "mongodb://localhost:27017", Database: "db", Collection: "c",
		Filter: `{"status": `,
	})
	assert.ErrorContains(t, err, "extract.filter")
}

func TestValidateS3Target(t *testing.T) {
	doc := `
name: lake
extract: {type: jsonl, path: in.jsonl}
load:
  type: parquet
  s3: {bucket: lake, key: events/part-0.parquet, region: us-east-1}
`
	cfg, err := Parse([]byte(doc), "yaml")
	require.NoError(t, err)
	require.NotNil(t, cfg.Load.S3)
	assert.Equal(t, "lake", cfg.Load.S3.Bucket)
	assert.Empty(t, cfg.Load.Path)

	bad := `
name: lake
extract: {type: jsonl, path: in.jsonl}
load:
  type: sqlite
  s3: {bucket: lake}
`
	_, err = Parse([]byte(bad), "yaml")
	assert.ErrorContains(t, err, "config load.s3:")
	assert.ErrorContains(t, err, "config load.s3.key:")
}
