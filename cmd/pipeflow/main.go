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

// Command pipeflow runs declarative extract-transform-validate-load pipelines.
//
//	pipeflow run [flags] <config>
//	pipeflow validate <config>
//	pipeflow inspect [-n N] <file>
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/apache/arrow/go/v12/parquet/file"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/aaronlmathis/pipeflow"
	"github.com/aaronlmathis/pipeflow/config"
	"github.com/aaronlmathis/pipeflow/core"
	"github.com/aaronlmathis/pipeflow/metrics"
	"github.com/aaronlmathis/pipeflow/readers"
)

const (
	exitSuccess = 0
	exitFailure = 1
	exitUsage   = 2
)

const usage = `usage:
  pipeflow run [--log-format json|text] [--log-level LEVEL] [--push-gateway URL] <config>
  pipeflow validate <config>
  pipeflow inspect [-n N] <file>
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return exitUsage
	}
	switch args[0] {
	case "run":
		return runCmd(ctx, args[1:], stdout, stderr)
	case "validate":
		return validateCmd(args[1:], stdout, stderr)
	case "inspect":
		return inspectCmd(ctx, args[1:], stdout, stderr)
	case "-h", "--help", "help":
		fmt.Fprint(stdout, usage)
		return exitSuccess
	default:
		fmt.Fprintf(stderr, "unknown command %q\n%s", args[0], usage)
		return exitUsage
	}
}

func runCmd(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	logFormat := fs.String("log-format", "text", "log output format: json or text")
	logLevel := fs.String("log-level", "info", "minimum log level: debug, info, warn, error")
	pushGateway := fs.String("push-gateway", "", "Pushgateway base URL for run metrics (disabled when empty)")
	job := fs.String("job", "pipeflow", "Pushgateway job name")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() != 1 {
		fmt.Fprint(stderr, usage)
		return exitUsage
	}

	logger, err := newLogger(stderr, *logFormat, *logLevel)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}

	cfg, err := config.Load(fs.Arg(0))
	if err != nil {
		logger.Error("invalid configuration", "path", fs.Arg(0), "error", err)
		return exitFailure
	}

	sinks := pipeflow.MultiSink{pipeflow.NewSlogSink(logger)}
	var reg *prometheus.Registry
	if *pushGateway != "" {
		reg = prometheus.NewRegistry()
		rec, err := metrics.NewRecorder(reg)
		if err != nil {
			logger.Error("metrics setup failed", "error", err)
			return exitFailure
		}
		sinks = append(sinks, rec)
	}

	p, err := config.Build(ctx, cfg, sinks)
	if err != nil {
		logger.Error("pipeline setup failed", "pipeline", cfg.Name, "error", err)
		return exitFailure
	}

	res, runErr := p.Run(ctx)
	if res != nil {
		out, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			logger.Error("encode result", "error", err)
			return exitFailure
		}
		fmt.Fprintln(stdout, string(out))
	}

	if reg != nil {
		if err := metrics.Push(context.WithoutCancel(ctx), *pushGateway, *job, reg); err != nil {
			logger.Warn("metrics push failed", "gateway", *pushGateway, "error", err)
		}
	}

	if runErr != nil {
		return exitFailure
	}
	return exitSuccess
}

func validateCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() != 1 {
		fmt.Fprint(stderr, usage)
		return exitUsage
	}

	cfg, err := config.Load(fs.Arg(0))
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitFailure
	}
	stages, err := config.BuildStages(cfg.Transforms)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitFailure
	}
	if _, err := config.BuildValidator(cfg.Validation); err != nil {
		fmt.Fprintln(stderr, err)
		return exitFailure
	}
	fmt.Fprintf(stdout, "%s: ok (%s -> %d stages -> %s)\n", cfg.Name, cfg.Extract.Type, len(stages), cfg.Load.Type)
	return exitSuccess
}

func inspectCmd(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	fs.SetOutput(stderr)
	n := fs.Int("n", 5, "number of sample rows to print")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() != 1 || *n < 0 {
		fmt.Fprint(stderr, usage)
		return exitUsage
	}

	summary, err := inspectFile(ctx, fs.Arg(0), *n)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitFailure
	}
	fmt.Fprintf(stdout, "columns: %s\n", strings.Join(summary.columns, ", "))
	fmt.Fprintf(stdout, "rows: %d\n", summary.rows)
	if summary.rowGroups > 0 {
		fmt.Fprintf(stdout, "row_groups: %d\n", summary.rowGroups)
	}
	for _, rec := range summary.sample {
		line, err := rec.MarshalJSON()
		if err != nil {
			fmt.Fprintln(stderr, err)
			return exitFailure
		}
		fmt.Fprintln(stdout, string(line))
	}
	return exitSuccess
}

type fileSummary struct {
	columns   []string
	rows      int
	rowGroups int
	sample    []core.Record
}

// inspectFile streams the whole file, collecting the union of field names
// in first-seen order and the first n records.
func inspectFile(ctx context.Context, path string, n int) (*fileSummary, error) {
	src, err := openSource(path)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	summary := &fileSummary{}
	if strings.EqualFold(filepath.Ext(path), ".parquet") {
		groups, err := parquetRowGroups(path)
		if err != nil {
			return nil, err
		}
		summary.rowGroups = groups
	}

	seen := map[string]bool{}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := src.Read(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", summary.rows+1, err)
		}
		summary.rows++
		for _, k := range rec.Keys() {
			if !seen[k] {
				seen[k] = true
				summary.columns = append(summary.columns, k)
			}
		}
		if len(summary.sample) < n {
			summary.sample = append(summary.sample, rec)
		}
	}
	return summary, nil
}

func openSource(path string) (core.Extractor, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".parquet" {
		return readers.NewParquetReader(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	var src core.Extractor
	switch ext {
	case ".csv", ".tsv":
		opts := []readers.ReaderOptionCSV{readers.WithCSVInferTypes(true)}
		if ext == ".tsv" {
			opts = append(opts, readers.WithCSVComma('\t'))
		}
		src, err = readers.NewCSVReader(f, opts...)
	case ".json":
		src, err = readers.NewJSONReader(f, readers.WithJSONFormat("json"))
	case ".jsonl", ".ndjson":
		src, err = readers.NewJSONReader(f, readers.WithJSONFormat("jsonl"))
	default:
		err = fmt.Errorf("unsupported file format: %s", ext)
	}
	if err != nil {
		f.Close()
		return nil, err
	}
	return src, nil
}

func parquetRowGroups(path string) (int, error) {
	pf, err := file.OpenParquetFile(path, false)
	if err != nil {
		return 0, fmt.Errorf("open parquet file: %w", err)
	}
	defer pf.Close()
	return pf.NumRowGroups(), nil
}

func newLogger(w io.Writer, format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q (want json or text)", format)
	}
}
