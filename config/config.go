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
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/aaronlmathis/pipeflow/transform"
	"github.com/aaronlmathis/pipeflow/validators"
)

// Defaults applied by Parse when a field is left out.
const (
	DefaultBatchSize = 100
	DefaultDelimiter = ","
	DefaultEncoding  = "utf-8"
	DefaultLoadMode  = "insert"
	DefaultTable     = "data"
	DefaultDatabase  = ":memory:"
	DefaultCSVOutput = "output.csv"
	DefaultFieldType = "str"
)

// Extractor types.
const (
	ExtractCSV     = "csv"
	ExtractJSON    = "json"
	ExtractJSONL   = "jsonl"
	ExtractAPI     = "api"
	ExtractS3      = "s3"
	ExtractMongo   = "mongo"
	ExtractParquet = "parquet"
	ExtractSQL     = "sql"
)

// Loader types.
const (
	LoadCSV      = "csv"
	LoadJSONL    = "jsonl"
	LoadSQLite   = "sqlite"
	LoadPostgres = "postgres"
	LoadParquet  = "parquet"
)

// Load modes.
const (
	ModeInsert = "insert"
	ModeUpsert = "upsert"
	ModeIgnore = "ignore"
)

// Transform types.
const (
	TransformRename      = "rename"
	TransformCast        = "cast"
	TransformFilter      = "filter"
	TransformDerive      = "derive"
	TransformDeduplicate = "deduplicate"
	TransformSelect      = "select"
	TransformDrop        = "drop"
)

// Config is the declarative description of one pipeline.
type Config struct {
	Name       string            `yaml:"name" json:"name"`
	Extract    ExtractConfig     `yaml:"extract" json:"extract"`
	Transforms []TransformConfig `yaml:"transforms" json:"transforms"`
	Validation *ValidateConfig   `yaml:"validate" json:"validate"`
	Load       LoadConfig        `yaml:"load" json:"load"`
}

// ExtractConfig selects and configures the record source. Only the fields
// relevant to Type are read.
type ExtractConfig struct {
	Type string `yaml:"type" json:"type"`

	// csv, json, jsonl, parquet
	Path       string `yaml:"path" json:"path"`
	Delimiter  string `yaml:"delimiter" json:"delimiter"`
	Encoding   string `yaml:"encoding" json:"encoding"`
	Header     *bool  `yaml:"header" json:"header"`
	InferTypes bool   `yaml:"infer_types" json:"infer_types"`

	// api
	URL        string            `yaml:"url" json:"url"`
	Headers    map[string]string `yaml:"headers" json:"headers"`
	Params     map[string]string `yaml:"params" json:"params"`
	Pagination *PaginationConfig `yaml:"pagination" json:"pagination"`
	Auth       *AuthConfig       `yaml:"auth" json:"auth"`
	DataPath   string            `yaml:"data_path" json:"data_path"`
	Timeout    Duration          `yaml:"timeout" json:"timeout"`
	Retries    int               `yaml:"retries" json:"retries"`
	RateLimit  Duration          `yaml:"rate_limit" json:"rate_limit"`

	// s3
	Bucket    string `yaml:"bucket" json:"bucket"`
	Prefix    string `yaml:"prefix" json:"prefix"`
	Suffix    string `yaml:"suffix" json:"suffix"`
	Pattern   string `yaml:"pattern" json:"pattern"`
	Region    string `yaml:"region" json:"region"`
	Profile   string `yaml:"profile" json:"profile"`
	Endpoint  string `yaml:"endpoint" json:"endpoint"`
	PathStyle bool   `yaml:"path_style" json:"path_style"`
	Format    string `yaml:"format" json:"format"`

	// mongo
	URI        string `yaml:"uri" json:"uri"`
	Database   string `yaml:"database" json:"database"`
	Collection string `yaml:"collection" json:"collection"`
	Filter     string `yaml:"filter" json:"filter"`
	Projection string `yaml:"projection" json:"projection"`
	Sort       string `yaml:"sort" json:"sort"`
	Pipeline   string `yaml:"pipeline" json:"pipeline"`
	Limit      int64  `yaml:"limit" json:"limit"`

	// sql
	Driver string `yaml:"driver" json:"driver"`
	DSN    string `yaml:"dsn" json:"dsn"`
	Query  string `yaml:"query" json:"query"`
	Args   []any  `yaml:"args" json:"args"`

	// parquet
	Columns []string `yaml:"columns" json:"columns"`

	BatchSize int `yaml:"batch_size" json:"batch_size"`
}

// PaginationConfig mirrors readers.PaginationConfig.
type PaginationConfig struct {
	Type        string `yaml:"type" json:"type"`
	Limit       int    `yaml:"limit" json:"limit"`
	LimitParam  string `yaml:"limit_param" json:"limit_param"`
	OffsetParam string `yaml:"offset_param" json:"offset_param"`
	PageParam   string `yaml:"page_param" json:"page_param"`
	CursorParam string `yaml:"cursor_param" json:"cursor_param"`
	CursorField string `yaml:"cursor_field" json:"cursor_field"`
	MaxPages    int    `yaml:"max_pages" json:"max_pages"`
}

// AuthConfig mirrors readers.AuthConfig.
type AuthConfig struct {
	Type       string `yaml:"type" json:"type"`
	Token      string `yaml:"token" json:"token"`
	Username   string `yaml:"username" json:"username"`
	Password   string `yaml:"password" json:"password"`
	HeaderName string `yaml:"header" json:"header"`
	QueryParam string `yaml:"query_param" json:"query_param"`
}

// TransformConfig describes one stage. Which fields apply depends on Type:
// rename uses Mapping, cast uses Columns, filter uses Condition, derive uses
// Expression (optionally with Target), deduplicate uses Key, select and
// drop use Fields.
type TransformConfig struct {
	Type       string             `yaml:"type" json:"type"`
	Mapping    OrderedMap[string] `yaml:"mapping" json:"mapping"`
	Columns    OrderedMap[string] `yaml:"columns" json:"columns"`
	Condition  string             `yaml:"condition" json:"condition"`
	Expression string             `yaml:"expression" json:"expression"`
	Target     string             `yaml:"target" json:"target"`
	Key        StringList         `yaml:"key" json:"key"`
	Fields     StringList         `yaml:"fields" json:"fields"`
	MaxKeys    int                `yaml:"max_keys" json:"max_keys"`
}

// ValidateConfig declares the schema records must satisfy.
type ValidateConfig struct {
	Model  string                `yaml:"model" json:"model"`
	Fields OrderedMap[FieldSpec] `yaml:"fields" json:"fields"`
}

// FieldSpec holds the rules for one schema field.
type FieldSpec struct {
	Type     string   `yaml:"type" json:"type"`
	Required *bool    `yaml:"required" json:"required"`
	Pattern  string   `yaml:"pattern" json:"pattern"`
	Min      *float64 `yaml:"min" json:"min"`
	Max      *float64 `yaml:"max" json:"max"`
	Allowed  []any    `yaml:"allowed" json:"allowed"`
}

// IsRequired reports whether the field must be present. Fields are
// required unless the config says otherwise.
func (f FieldSpec) IsRequired() bool {
	return f.Required == nil || *f.Required
}

// LoadConfig selects and configures the record sink.
type LoadConfig struct {
	Type        string     `yaml:"type" json:"type"`
	Path        string     `yaml:"path" json:"path"`
	Database    string     `yaml:"database" json:"database"`
	DSN         string     `yaml:"dsn" json:"dsn"`
	Table       string     `yaml:"table" json:"table"`
	Mode        string     `yaml:"mode" json:"mode"`
	ConflictKey StringList `yaml:"conflict_key" json:"conflict_key"`
	BatchSize   int        `yaml:"batch_size" json:"batch_size"`
	Delimiter   string     `yaml:"delimiter" json:"delimiter"`
	Headers     []string   `yaml:"headers" json:"headers"`
	Compression string     `yaml:"compression" json:"compression"`
	Truncate    bool       `yaml:"truncate" json:"truncate"`
	S3          *S3Target  `yaml:"s3" json:"s3"`
}

// S3Target uploads the output of a csv, jsonl or parquet loader to an
// object instead of keeping it on local disk.
type S3Target struct {
	Bucket    string `yaml:"bucket" json:"bucket"`
	Key       string `yaml:"key" json:"key"`
	Region    string `yaml:"region" json:"region"`
	Profile   string `yaml:"profile" json:"profile"`
	Endpoint  string `yaml:"endpoint" json:"endpoint"`
	PathStyle bool   `yaml:"path_style" json:"path_style"`
}

// ConfigError reports a problem with one config field.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Load reads a pipeline config from a YAML (.yaml, .yml) or JSON (.json)
// file, expands ${VAR} references, applies defaults and validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var format string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		format = "json"
	case ".yaml", ".yml":
		format = "yaml"
	default:
		return nil, fmt.Errorf("unsupported file format: %s", filepath.Ext(path))
	}
	return Parse(data, format)
}

// Parse decodes a config document in the given format ("yaml" or "json").
func Parse(data []byte, format string) (*Config, error) {
	expanded, err := ExpandEnv(string(data))
	if err != nil {
		return nil, err
	}

	var cfg Config
	switch format {
	case "json":
		if err := decodeJSONStrict([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	case "yaml":
		dec := yaml.NewDecoder(strings.NewReader(expanded))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("failed to parse YAML: empty document")
			}
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", format)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// ExpandEnv replaces ${NAME} and ${NAME:-default} with environment values.
// A reference to an unset variable without a default is an error.
func ExpandEnv(s string) (string, error) {
	var missing []string
	out := envRef.ReplaceAllStringFunc(s, func(ref string) string {
		m := envRef.FindStringSubmatch(ref)
		if v, ok := os.LookupEnv(m[1]); ok {
			return v
		}
		if m[2] != "" {
			return m[3]
		}
		missing = append(missing, m[1])
		return ref
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("undefined environment variables: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

// ApplyDefaults fills in the values a config may leave out.
func (c *Config) ApplyDefaults() {
	e := &c.Extract
	e.Type = strings.ToLower(strings.TrimSpace(e.Type))
	if e.Delimiter == "" {
		e.Delimiter = DefaultDelimiter
	}
	if e.Encoding == "" {
		e.Encoding = DefaultEncoding
	}

	for i := range c.Transforms {
		t := &c.Transforms[i]
		t.Type = strings.ToLower(strings.TrimSpace(t.Type))
		if t.Type == TransformFilter && strings.TrimSpace(t.Condition) == "" {
			t.Condition = "True"
		}
	}

	if c.Validation != nil {
		for i := range c.Validation.Fields {
			if c.Validation.Fields[i].Value.Type == "" {
				c.Validation.Fields[i].Value.Type = DefaultFieldType
			}
		}
	}

	l := &c.Load
	l.Type = strings.ToLower(strings.TrimSpace(l.Type))
	l.Mode = strings.ToLower(strings.TrimSpace(l.Mode))
	if l.Mode == "" {
		l.Mode = DefaultLoadMode
	}
	if l.BatchSize == 0 {
		l.BatchSize = DefaultBatchSize
	}
	switch l.Type {
	case LoadSQLite:
		if l.Database == "" {
			l.Database = DefaultDatabase
		}
		if l.Table == "" {
			l.Table = DefaultTable
		}
	case LoadPostgres:
		if l.Table == "" {
			l.Table = DefaultTable
		}
	case LoadCSV:
		if l.Path == "" && l.S3 == nil {
			l.Path = DefaultCSVOutput
		}
		if l.Delimiter == "" {
			l.Delimiter = DefaultDelimiter
		}
	}
}

// Validate checks the config for missing or contradictory settings and
// reports every problem it finds.
func (c *Config) Validate() error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, &ConfigError{Field: field, Err: fmt.Errorf(format, args...)})
	}

	if strings.TrimSpace(c.Name) == "" {
		add("name", "is required")
	}

	e := c.Extract
	switch e.Type {
	case "":
		add("extract.type", "is required")
	case ExtractCSV, ExtractJSON, ExtractJSONL, ExtractParquet:
		if e.Path == "" {
			add("extract.path", "is required for %s", e.Type)
		}
	case ExtractAPI:
		if e.URL == "" {
			add("extract.url", "is required for api")
		}
	case ExtractS3:
		if e.Bucket == "" {
			add("extract.bucket", "is required for s3")
		}
	case ExtractMongo:
		if e.URI == "" {
			add("extract.uri", "is required for mongo")
		}
		if e.Database == "" {
			add("extract.database", "is required for mongo")
		}
		if e.Collection == "" {
			add("extract.collection", "is required for mongo")
		}
	case ExtractSQL:
		if e.Driver != "postgres" && e.Driver != "sqlite" {
			add("extract.driver", "must be postgres or sqlite, got %q", e.Driver)
		}
		if e.DSN == "" {
			add("extract.dsn", "is required for sql")
		}
		if e.Query == "" {
			add("extract.query", "is required for sql")
		}
	default:
		add("extract.type", "unknown extractor %q", e.Type)
	}
	if e.Type == ExtractCSV && len([]rune(e.Delimiter)) != 1 {
		add("extract.delimiter", "must be a single character, got %q", e.Delimiter)
	}

	for i, t := range c.Transforms {
		field := fmt.Sprintf("transforms[%d]", i)
		switch t.Type {
		case "":
			add(field+".type", "is required")
		case TransformRename:
			if len(t.Mapping) == 0 {
				add(field+".mapping", "is required for rename")
			}
		case TransformCast:
			if len(t.Columns) == 0 {
				add(field+".columns", "is required for cast")
			}
			for _, col := range t.Columns {
				if _, err := transform.ParseTypeTag(col.Value); err != nil {
					add(field+".columns."+col.Key, "%v", err)
				}
			}
		case TransformFilter:
		case TransformDerive:
			if strings.TrimSpace(t.Expression) == "" {
				add(field+".expression", "is required for derive")
			}
		case TransformDeduplicate:
			if len(t.Key) == 0 {
				add(field+".key", "is required for deduplicate")
			}
			if t.MaxKeys < 0 {
				add(field+".max_keys", "must not be negative")
			}
		case TransformSelect, TransformDrop:
			if len(t.Fields) == 0 {
				add(field+".fields", "is required for %s", t.Type)
			}
		default:
			add(field+".type", "unknown transform %q", t.Type)
		}
	}

	if c.Validation != nil {
		for _, f := range c.Validation.Fields {
			field := "validate.fields." + f.Key
			if _, err := validators.ParseFieldDataType(f.Value.Type); err != nil {
				add(field+".type", "%v", err)
			}
			if f.Value.Pattern != "" {
				if _, err := regexp.Compile(f.Value.Pattern); err != nil {
					add(field+".pattern", "%v", err)
				}
			}
		}
	}

	l := c.Load
	switch l.Type {
	case "":
		add("load.type", "is required")
	case LoadCSV, LoadJSONL, LoadParquet:
		if l.Path == "" && l.S3 == nil {
			add("load.path", "is required for %s", l.Type)
		}
	case LoadSQLite:
	case LoadPostgres:
		if l.DSN == "" {
			add("load.dsn", "is required for postgres")
		}
	default:
		add("load.type", "unknown loader %q", l.Type)
	}
	switch l.Mode {
	case ModeInsert:
	case ModeUpsert, ModeIgnore:
		if l.Type != LoadSQLite && l.Type != LoadPostgres {
			add("load.mode", "%s is only supported by sql loaders", l.Mode)
		}
		if len(l.ConflictKey) == 0 {
			add("load.conflict_key", "is required for mode %s", l.Mode)
		}
	default:
		add("load.mode", "must be insert, upsert or ignore, got %q", l.Mode)
	}
	if l.S3 != nil {
		if l.Type != LoadCSV && l.Type != LoadJSONL && l.Type != LoadParquet {
			add("load.s3", "is only supported by csv, jsonl and parquet loaders")
		}
		if l.S3.Bucket == "" {
			add("load.s3.bucket", "is required")
		}
		if l.S3.Key == "" {
			add("load.s3.key", "is required")
		}
	}
	if l.BatchSize < 1 {
		add("load.batch_size", "must be at least 1")
	}
	if l.Type == LoadCSV && len([]rune(l.Delimiter)) != 1 {
		add("load.delimiter", "must be a single character, got %q", l.Delimiter)
	}
	if l.Type == LoadParquet {
		if _, err := parseCompression(l.Compression); err != nil {
			add("load.compression", "%v", err)
		}
	}

	return errors.Join(errs...)
}
