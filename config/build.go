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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/apache/arrow/go/v12/parquet/compress"
	"github.com/google/uuid"

	"github.com/aaronlmathis/pipeflow"
	"github.com/aaronlmathis/pipeflow/core"
	"github.com/aaronlmathis/pipeflow/readers"
	"github.com/aaronlmathis/pipeflow/transform"
	"github.com/aaronlmathis/pipeflow/validators"
	"github.com/aaronlmathis/pipeflow/writers"
)

const defaultRetryDelay = time.Second

// Build assembles a runnable pipeline from cfg. The extractor is opened
// last so a bad stage or validator definition does not leave files or
// connections open.
func Build(ctx context.Context, cfg *Config, events pipeflow.EventSink) (*pipeflow.Pipeline, error) {
	stages, err := BuildStages(cfg.Transforms)
	if err != nil {
		return nil, err
	}
	validator, err := BuildValidator(cfg.Validation)
	if err != nil {
		return nil, err
	}
	loader, err := BuildLoader(ctx, cfg.Load)
	if err != nil {
		return nil, err
	}
	extractor, err := BuildExtractor(ctx, cfg.Extract)
	if err != nil {
		return nil, errors.Join(err, loader.Close())
	}

	builder := pipeflow.NewPipeline().
		Named(cfg.Name).
		From(extractor).
		Stage(stages...).
		To(loader).
		WithBatchSize(cfg.Load.BatchSize).
		WithEvents(events)
	if validator != nil {
		builder = builder.Validate(validator)
	}
	p, err := builder.Build()
	if err != nil {
		return nil, errors.Join(err, extractor.Close(), loader.Close())
	}
	return p, nil
}

// BuildStages compiles the transform list in order. Each stage is named
// "<index>:<type>" so failures point at the config entry that caused them.
func BuildStages(cfgs []TransformConfig) ([]core.Stage, error) {
	stages := make([]core.Stage, 0, len(cfgs))
	for i, t := range cfgs {
		stage, err := buildStage(t)
		if err != nil {
			return nil, &ConfigError{Field: fmt.Sprintf("transforms[%d]", i), Err: err}
		}
		stages = append(stages, transform.Named(fmt.Sprintf("%d:%s", i, t.Type), stage))
	}
	return stages, nil
}

func buildStage(t TransformConfig) (core.Stage, error) {
	switch t.Type {
	case TransformRename:
		return transform.Rename(t.Mapping.ToMap()), nil
	case TransformCast:
		cols := make([]transform.CastColumn, 0, len(t.Columns))
		for _, c := range t.Columns {
			tag, err := transform.ParseTypeTag(c.Value)
			if err != nil {
				return nil, err
			}
			cols = append(cols, transform.CastColumn{Column: c.Key, Type: tag})
		}
		return transform.Cast(cols...)
	case TransformFilter:
		cond := t.Condition
		if strings.TrimSpace(cond) == "" {
			cond = "True"
		}
		return transform.Filter(cond)
	case TransformDerive:
		if t.Target != "" {
			return transform.NewDerive(t.Target, t.Expression)
		}
		return transform.Derive(t.Expression)
	case TransformDeduplicate:
		var opts []transform.DedupOption
		if t.MaxKeys > 0 {
			opts = append(opts, transform.WithMaxKeys(t.MaxKeys))
		}
		return transform.Deduplicate(t.Key, opts...)
	case TransformSelect:
		return transform.Select(t.Fields...), nil
	case TransformDrop:
		return transform.Drop(t.Fields...), nil
	default:
		return nil, fmt.Errorf("unknown transform %q", t.Type)
	}
}

// BuildValidator returns nil when no validate section is configured.
func BuildValidator(cfg *ValidateConfig) (core.Validator, error) {
	if cfg == nil {
		return nil, nil
	}
	fields := make([]validators.FieldValidator, 0, len(cfg.Fields))
	for _, f := range cfg.Fields {
		spec := f.Value
		typ := spec.Type
		if typ == "" {
			typ = DefaultFieldType
		}
		dt, err := validators.ParseFieldDataType(typ)
		if err != nil {
			return nil, &ConfigError{Field: "validate.fields." + f.Key, Err: err}
		}
		fv := validators.FieldValidator{
			Name:     f.Key,
			DataType: dt,
			Required: spec.IsRequired(),
			MinValue: spec.Min,
			MaxValue: spec.Max,
		}
		if spec.Pattern != "" {
			re, err := regexp.Compile(spec.Pattern)
			if err != nil {
				return nil, &ConfigError{Field: "validate.fields." + f.Key + ".pattern", Err: err}
			}
			fv.Pattern = re
		}
		for _, a := range spec.Allowed {
			fv.AllowedValues = append(fv.AllowedValues, configValue(a))
		}
		fields = append(fields, fv)
	}
	model := cfg.Model
	if model == "" {
		model = "Record"
	}
	return validators.NewSchemaValidator(model, fields...)
}

// BuildExtractor opens the configured source.
func BuildExtractor(ctx context.Context, e ExtractConfig) (core.Extractor, error) {
	switch e.Type {
	case ExtractCSV:
		f, err := os.Open(e.Path)
		if err != nil {
			return nil, fmt.Errorf("open csv source: %w", err)
		}
		r, err := readers.NewCSVReader(f, csvReaderOptions(e, true)...)
		if err != nil {
			f.Close()
			return nil, err
		}
		return r, nil

	case ExtractJSON, ExtractJSONL:
		f, err := os.Open(e.Path)
		if err != nil {
			return nil, fmt.Errorf("open %s source: %w", e.Type, err)
		}
		r, err := readers.NewJSONReader(f, readers.WithJSONFormat(e.Type))
		if err != nil {
			f.Close()
			return nil, err
		}
		return r, nil

	case ExtractAPI:
		return readers.NewHTTPReader(e.URL, httpReaderOptions(e)...)

	case ExtractS3:
		opts := []readers.ReaderOptionS3{
			readers.WithS3Bucket(e.Bucket),
			readers.WithS3Prefix(e.Prefix),
			readers.WithS3Suffix(e.Suffix),
			readers.WithS3PathStyle(e.PathStyle),
			readers.WithS3CSVOptions(csvReaderOptions(e, e.Delimiter != DefaultDelimiter)...),
		}
		if e.Pattern != "" {
			opts = append(opts, readers.WithS3FilePattern(e.Pattern))
		}
		if e.Region != "" {
			opts = append(opts, readers.WithS3Region(e.Region))
		}
		if e.Profile != "" {
			opts = append(opts, readers.WithS3Profile(e.Profile))
		}
		if e.Endpoint != "" {
			opts = append(opts, readers.WithS3Endpoint(e.Endpoint))
		}
		if e.Format != "" {
			opts = append(opts, readers.WithS3Format(e.Format))
		}
		return readers.NewS3Reader(ctx, opts...)

	case ExtractMongo:
		opts := []readers.ReaderOptionMongo{
			readers.WithMongoURI(e.URI),
			readers.WithMongoDB(e.Database),
			readers.WithMongoCollection(e.Collection),
		}
		if e.Filter != "" {
			doc, err := readers.ParseMongoDocument(e.Filter)
			if err != nil {
				return nil, &ConfigError{Field: "extract.filter", Err: err}
			}
			opts = append(opts, readers.WithMongoFilter(doc))
		}
		if e.Projection != "" {
			doc, err := readers.ParseMongoDocument(e.Projection)
			if err != nil {
				return nil, &ConfigError{Field: "extract.projection", Err: err}
			}
			opts = append(opts, readers.WithMongoProjection(doc))
		}
		if e.Sort != "" {
			doc, err := readers.ParseMongoDocument(e.Sort)
			if err != nil {
				return nil, &ConfigError{Field: "extract.sort", Err: err}
			}
			opts = append(opts, readers.WithMongoSort(doc))
		}
		if e.Pipeline != "" {
			stages, err := readers.ParseMongoPipeline(e.Pipeline)
			if err != nil {
				return nil, &ConfigError{Field: "extract.pipeline", Err: err}
			}
			opts = append(opts, readers.WithMongoPipeline(stages))
		}
		if e.Limit > 0 {
			opts = append(opts, readers.WithMongoLimit(e.Limit))
		}
		if e.BatchSize > 0 {
			opts = append(opts, readers.WithMongoBatchSize(int32(e.BatchSize)))
		}
		if e.Timeout > 0 {
			opts = append(opts, readers.WithMongoTimeout(e.Timeout.Std()))
		}
		return readers.NewMongoReader(opts...)

	case ExtractParquet:
		var opts []readers.ReaderOptionParquet
		if len(e.Columns) > 0 {
			opts = append(opts, readers.WithParquetColumns(e.Columns...))
		}
		if e.BatchSize > 0 {
			opts = append(opts, readers.WithParquetBatchSize(int64(e.BatchSize)))
		}
		return readers.NewParquetReader(e.Path, opts...)

	case ExtractSQL:
		args := make([]any, len(e.Args))
		for i, a := range e.Args {
			args[i] = goValue(a)
		}
		opts := []readers.ReaderOptionSQL{
			readers.WithSQLDriver(e.Driver),
			readers.WithSQLDSN(e.DSN),
			readers.WithSQLQuery(e.Query, args...),
		}
		if e.BatchSize > 0 {
			opts = append(opts, readers.WithSQLBatchSize(e.BatchSize))
		}
		return readers.NewSQLReader(opts...)

	default:
		return nil, fmt.Errorf("unknown extractor %q", e.Type)
	}
}

// csvReaderOptions maps the csv settings. S3 objects only get an explicit
// delimiter so .tsv keys keep their tab default.
func csvReaderOptions(e ExtractConfig, withComma bool) []readers.ReaderOptionCSV {
	opts := []readers.ReaderOptionCSV{
		readers.WithCSVEncoding(e.Encoding),
		readers.WithCSVInferTypes(e.InferTypes),
	}
	if d := []rune(e.Delimiter); withComma && len(d) == 1 {
		opts = append(opts, readers.WithCSVComma(d[0]))
	}
	if e.Header != nil {
		opts = append(opts, readers.WithCSVHasHeaders(*e.Header))
	}
	return opts
}

func httpReaderOptions(e ExtractConfig) []readers.ReaderOptionHTTP {
	var opts []readers.ReaderOptionHTTP
	if len(e.Headers) > 0 {
		opts = append(opts, readers.WithHTTPHeaders(e.Headers))
	}
	if len(e.Params) > 0 {
		opts = append(opts, readers.WithHTTPQueryParams(e.Params))
	}
	if p := e.Pagination; p != nil {
		opts = append(opts, readers.WithHTTPPagination(&readers.PaginationConfig{
			Type:        p.Type,
			Limit:       p.Limit,
			LimitParam:  p.LimitParam,
			OffsetParam: p.OffsetParam,
			PageParam:   p.PageParam,
			CursorParam: p.CursorParam,
			CursorField: p.CursorField,
			MaxPages:    p.MaxPages,
		}))
	}
	if a := e.Auth; a != nil {
		opts = append(opts, readers.WithHTTPAuth(&readers.AuthConfig{
			Type:       a.Type,
			Token:      a.Token,
			Username:   a.Username,
			Password:   a.Password,
			HeaderName: a.HeaderName,
			QueryParam: a.QueryParam,
		}))
	}
	if e.DataPath != "" {
		opts = append(opts, readers.WithHTTPDataPath(e.DataPath))
	}
	if e.Format != "" {
		opts = append(opts, readers.WithHTTPResponseFormat(e.Format))
	}
	if e.Timeout > 0 {
		opts = append(opts, readers.WithHTTPTimeout(e.Timeout.Std()))
	}
	if e.Retries > 0 {
		opts = append(opts, readers.WithHTTPRetries(e.Retries, defaultRetryDelay))
	}
	if e.RateLimit > 0 {
		opts = append(opts, readers.WithHTTPRateLimit(e.RateLimit.Std()))
	}
	return opts
}

// BuildLoader creates the configured sink. File and database sinks open
// their destination on the first batch. With an s3 target, csv and jsonl
// output is buffered and uploaded on close, and parquet output is staged in
// a temporary file.
func BuildLoader(ctx context.Context, l LoadConfig) (core.Loader, error) {
	switch l.Type {
	case LoadCSV:
		var opts []writers.WriterOptionCSV
		if d := []rune(l.Delimiter); len(d) == 1 {
			opts = append(opts, writers.WithComma(d[0]))
		}
		if len(l.Headers) > 0 {
			opts = append(opts, writers.WithHeaders(l.Headers))
		}
		if l.S3 != nil {
			obj, err := writers.NewS3ObjectWriter(ctx, s3UploadOptions(l.S3, "text/csv")...)
			if err != nil {
				return nil, err
			}
			return writers.NewCSVWriter(obj, opts...)
		}
		return writers.NewCSVFileWriter(l.Path, opts...)

	case LoadJSONL:
		if l.S3 != nil {
			obj, err := writers.NewS3ObjectWriter(ctx, s3UploadOptions(l.S3, "application/x-ndjson")...)
			if err != nil {
				return nil, err
			}
			return writers.NewJSONWriter(obj)
		}
		return writers.NewJSONFileWriter(l.Path)

	case LoadParquet:
		codec, err := parseCompression(l.Compression)
		if err != nil {
			return nil, &ConfigError{Field: "load.compression", Err: err}
		}
		opts := []writers.WriterOptionParquet{writers.WithCompression(codec)}
		if len(l.Headers) > 0 {
			opts = append(opts, writers.WithFieldOrder(l.Headers))
		}
		path, removeLocal := l.Path, false
		if l.S3 != nil && path == "" {
			path = filepath.Join(os.TempDir(), "pipeflow-"+uuid.NewString()+".parquet")
			removeLocal = true
		}
		pw, err := writers.NewParquetWriter(path, opts...)
		if err != nil {
			return nil, err
		}
		if l.S3 == nil {
			return pw, nil
		}
		return writers.NewS3FileUploader(ctx, pw, path, removeLocal, s3UploadOptions(l.S3, "application/vnd.apache.parquet")...)

	case LoadSQLite, LoadPostgres:
		opts := []writers.SQLWriterOption{
			writers.WithTableName(l.Table),
			writers.WithTruncateTable(l.Truncate),
		}
		if l.Type == LoadSQLite {
			opts = append(opts, writers.WithSQLDialect(writers.DialectSQLite), writers.WithSQLWriterDSN(l.Database))
		} else {
			opts = append(opts, writers.WithSQLDialect(writers.DialectPostgres), writers.WithSQLWriterDSN(l.DSN))
		}
		switch l.Mode {
		case ModeUpsert:
			opts = append(opts, writers.WithConflictResolution(writers.ConflictUpdate, l.ConflictKey, nil))
		case ModeIgnore:
			opts = append(opts, writers.WithConflictResolution(writers.ConflictIgnore, l.ConflictKey, nil))
		}
		return writers.NewSQLWriter(opts...)

	default:
		return nil, fmt.Errorf("unknown loader %q", l.Type)
	}
}

func s3UploadOptions(t *S3Target, contentType string) []writers.S3UploadOption {
	opts := []writers.S3UploadOption{
		writers.WithS3Object(t.Bucket, t.Key),
		writers.WithS3UploadContentType(contentType),
	}
	if t.Region != "" {
		opts = append(opts, writers.WithS3UploadRegion(t.Region))
	}
	if t.Profile != "" {
		opts = append(opts, writers.WithS3UploadProfile(t.Profile))
	}
	if t.Endpoint != "" {
		opts = append(opts, writers.WithS3UploadEndpoint(t.Endpoint, t.PathStyle))
	}
	return opts
}

func parseCompression(name string) (compress.Compression, error) {
	switch strings.ToLower(name) {
	case "", "snappy":
		return compress.Codecs.Snappy, nil
	case "gzip":
		return compress.Codecs.Gzip, nil
	case "zstd":
		return compress.Codecs.Zstd, nil
	case "brotli":
		return compress.Codecs.Brotli, nil
	default:
		return 0, fmt.Errorf("unsupported compression %q", name)
	}
}

// decodeJSONStrict rejects unknown keys and keeps numbers exact.
func decodeJSONStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("empty document")
		}
		return err
	}
	if dec.More() {
		return fmt.Errorf("unexpected data after the config object")
	}
	return nil
}

// goValue turns decoded JSON numbers into int64 or float64.
func goValue(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = goValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = goValue(e)
		}
		return out
	default:
		return v
	}
}

func configValue(v any) core.Value {
	return core.FromGo(goValue(v))
}
