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

package readers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/aaronlmathis/pipeflow/core"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3ReaderError provides structured error information for S3 reader operations
type S3ReaderError struct {
	Op  string // Operation that failed (e.g., "list_objects", "get_object", "read")
	Key string // Object key, when the failure concerns one object
	Err error  // Underlying error
}

func (e *S3ReaderError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("s3 reader %s %s: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("s3 reader %s: %v", e.Op, e.Err)
}

func (e *S3ReaderError) Unwrap() error {
	return e.Err
}

// S3ReaderStats holds statistics about the S3 reader's performance
type S3ReaderStats struct {
	ObjectsListed  int64         // Total objects discovered
	ObjectsRead    int64         // Total objects opened
	RecordsRead    int64         // Total records read across all objects
	ReadDuration   time.Duration // Total time spent reading
	LastReadTime   time.Time     // Time of last read operation
	CurrentObject  string        // Currently processing object
	ProcessedFiles []string      // Objects fully read
}

// S3API is the subset of the S3 client used by S3Reader.
type S3API interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3ReaderOptions configures the S3 reader behavior
type S3ReaderOptions struct {
	Bucket          string            // S3 bucket name
	Prefix          string            // Key prefix filter
	Suffix          string            // Key suffix filter (e.g., ".csv", ".json")
	MaxKeys         int32             // Page size for object listing
	Region          string            // AWS region
	Profile         string            // AWS profile to use
	Credentials     aws.Credentials   // Explicit credentials
	EndpointURL     string            // Custom S3 endpoint (for S3-compatible services)
	ForcePathStyle  bool              // Use path-style addressing
	FilePattern     string            // Regex matched against the object key
	Recursive       bool              // Include keys below the prefix's "directory"
	SortOrder       SortOrder         // Order to process files
	IncludeMetadata bool              // Add _s3_* fields to every record
	Format          string            // Force "csv", "json", "jsonl" or "parquet" instead of the key extension
	CSVOptions      []ReaderOptionCSV // Options for CSV objects
	Client          S3API             // Pre-built client; skips AWS config loading
}

// SortOrder defines how files should be ordered for processing
type SortOrder string

const (
	SortByName         SortOrder = "name"          // Sort by object key
	SortByLastModified SortOrder = "last_modified" // Sort by modification time
	SortBySize         SortOrder = "size"          // Sort by object size
	SortNone           SortOrder = "none"          // No sorting (S3 order)
)

// ReaderOptionS3 represents a configuration function for S3Reader
type ReaderOptionS3 func(*S3ReaderOptions)

func WithS3Bucket(bucket string) ReaderOptionS3 {
	return func(opts *S3ReaderOptions) { opts.Bucket = bucket }
}

func WithS3Prefix(prefix string) ReaderOptionS3 {
	return func(opts *S3ReaderOptions) { opts.Prefix = prefix }
}

func WithS3Suffix(suffix string) ReaderOptionS3 {
	return func(opts *S3ReaderOptions) { opts.Suffix = suffix }
}

func WithS3Region(region string) ReaderOptionS3 {
	return func(opts *S3ReaderOptions) { opts.Region = region }
}

func WithS3Profile(profile string) ReaderOptionS3 {
	return func(opts *S3ReaderOptions) { opts.Profile = profile }
}

func WithS3Credentials(creds aws.Credentials) ReaderOptionS3 {
	return func(opts *S3ReaderOptions) { opts.Credentials = creds }
}

func WithS3Endpoint(endpoint string) ReaderOptionS3 {
	return func(opts *S3ReaderOptions) { opts.EndpointURL = endpoint }
}

func WithS3PathStyle(pathStyle bool) ReaderOptionS3 {
	return func(opts *S3ReaderOptions) { opts.ForcePathStyle = pathStyle }
}

func WithS3MaxKeys(maxKeys int32) ReaderOptionS3 {
	return func(opts *S3ReaderOptions) { opts.MaxKeys = maxKeys }
}

func WithS3FilePattern(pattern string) ReaderOptionS3 {
	return func(opts *S3ReaderOptions) { opts.FilePattern = pattern }
}

func WithS3Recursive(recursive bool) ReaderOptionS3 {
	return func(opts *S3ReaderOptions) { opts.Recursive = recursive }
}

func WithS3SortOrder(order SortOrder) ReaderOptionS3 {
	return func(opts *S3ReaderOptions) { opts.SortOrder = order }
}

func WithS3IncludeMetadata(include bool) ReaderOptionS3 {
	return func(opts *S3ReaderOptions) { opts.IncludeMetadata = include }
}

func WithS3Format(format string) ReaderOptionS3 {
	return func(opts *S3ReaderOptions) { opts.Format = format }
}

func WithS3CSVOptions(options ...ReaderOptionCSV) ReaderOptionS3 {
	return func(opts *S3ReaderOptions) { opts.CSVOptions = append(opts.CSVOptions, options...) }
}

// WithS3Client injects a client, e.g. one shared across readers or a fake.
func WithS3Client(client S3API) ReaderOptionS3 {
	return func(opts *S3ReaderOptions) { opts.Client = client }
}

// S3Object represents an S3 object with metadata
type S3Object struct {
	Key          string
	Size         int64
	LastModified time.Time
	ETag         string
}

// S3Reader implements core.Extractor over the objects under a bucket
// prefix. Objects are listed on the first Read and streamed one at a time
// through the CSV, JSON or Parquet reader chosen by key extension.
type S3Reader struct {
	client        S3API
	pattern       *regexp.Regexp
	objects       []S3Object
	listed        bool
	currentIndex  int
	currentReader core.Extractor
	stats         S3ReaderStats
	opts          S3ReaderOptions
}

// NewS3Reader creates a new S3 reader with the specified options
func NewS3Reader(ctx context.Context, options ...ReaderOptionS3) (*S3Reader, error) {
	opts := S3ReaderOptions{
		MaxKeys:   1000,
		SortOrder: SortByName,
		Recursive: true,
	}
	for _, option := range options {
		option(&opts)
	}

	if opts.Bucket == "" {
		return nil, &S3ReaderError{Op: "validate_options", Err: errors.New("bucket is required")}
	}

	reader := &S3Reader{opts: opts, client: opts.Client}
	if opts.FilePattern != "" {
		re, err := regexp.Compile(opts.FilePattern)
		if err != nil {
			return nil, &S3ReaderError{Op: "validate_options", Err: err}
		}
		reader.pattern = re
	}

	if reader.client == nil {
		cfg, err := createAWSConfig(ctx, opts)
		if err != nil {
			return nil, &S3ReaderError{Op: "create_aws_config", Err: err}
		}
		reader.client = s3.NewFromConfig(cfg, func(o *s3.Options) {
			if opts.EndpointURL != "" {
				o.BaseEndpoint = aws.String(opts.EndpointURL)
			}
			o.UsePathStyle = opts.ForcePathStyle
		})
	}

	return reader, nil
}

// Read implements core.Extractor.
func (s *S3Reader) Read(ctx context.Context) (core.Record, error) {
	start := time.Now()
	defer func() {
		s.stats.ReadDuration += time.Since(start)
		s.stats.LastReadTime = time.Now()
	}()

	select {
	case <-ctx.Done():
		return core.Record{}, &S3ReaderError{Op: "read", Err: ctx.Err()}
	default:
	}

	if !s.listed {
		if err := s.listObjects(ctx); err != nil {
			return core.Record{}, &S3ReaderError{Op: "list_objects", Err: err}
		}
		s.listed = true
	}

	for {
		if s.currentReader == nil {
			if s.currentIndex >= len(s.objects) {
				return core.Record{}, io.EOF
			}
			if err := s.openNextObject(ctx); err != nil {
				return core.Record{}, err
			}
		}

		record, err := s.currentReader.Read(ctx)
		if errors.Is(err, io.EOF) {
			s.stats.ProcessedFiles = append(s.stats.ProcessedFiles, s.objects[s.currentIndex].Key)
			if err := s.closeCurrentReader(); err != nil {
				return core.Record{}, &S3ReaderError{Op: "close_object", Err: err}
			}
			continue
		}
		if err != nil {
			return core.Record{}, &S3ReaderError{Op: "read_record", Key: s.objects[s.currentIndex].Key, Err: err}
		}

		if s.opts.IncludeMetadata {
			obj := s.objects[s.currentIndex]
			record = record.
				With("_s3_key", core.String(obj.Key)).
				With("_s3_size", core.Int(obj.Size)).
				With("_s3_last_modified", core.Time(obj.LastModified)).
				With("_s3_etag", core.String(obj.ETag))
		}

		s.stats.RecordsRead++
		return record, nil
	}
}

// Close implements core.Extractor.
func (s *S3Reader) Close() error {
	return s.closeCurrentReader()
}

// Stats returns S3 reader performance statistics
func (s *S3Reader) Stats() S3ReaderStats {
	return s.stats
}

// Objects returns the objects selected for reading. It is empty until the
// first Read.
func (s *S3Reader) Objects() []S3Object {
	return append([]S3Object(nil), s.objects...)
}

// createAWSConfig creates AWS configuration from options
func createAWSConfig(ctx context.Context, opts S3ReaderOptions) (aws.Config, error) {
	var configOpts []func(*config.LoadOptions) error

	if opts.Region != "" {
		configOpts = append(configOpts, config.WithRegion(opts.Region))
	}
	if opts.Profile != "" {
		configOpts = append(configOpts, config.WithSharedConfigProfile(opts.Profile))
	}

	cfg, err := config.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return aws.Config{}, err
	}

	if opts.Credentials.AccessKeyID != "" {
		cfg.Credentials = aws.NewCredentialsCache(
			credentials.NewStaticCredentialsProvider(
				opts.Credentials.AccessKeyID,
				opts.Credentials.SecretAccessKey,
				opts.Credentials.SessionToken,
			),
		)
	}

	return cfg, nil
}

// listObjects retrieves and filters objects from S3
func (s *S3Reader) listObjects(ctx context.Context) error {
	input := &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.opts.Bucket),
		MaxKeys: aws.Int32(s.opts.MaxKeys),
	}
	if s.opts.Prefix != "" {
		input.Prefix = aws.String(s.opts.Prefix)
	}

	var objects []S3Object
	paginator := s3.NewListObjectsV2Paginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if !s.shouldIncludeObject(key) {
				continue
			}
			objects = append(objects, S3Object{
				Key:          key,
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
				ETag:         strings.Trim(aws.ToString(obj.ETag), "\""),
			})
		}
	}

	sortObjects(objects, s.opts.SortOrder)
	s.objects = objects
	s.stats.ObjectsListed = int64(len(objects))
	return nil
}

// shouldIncludeObject determines if an object should be processed
func (s *S3Reader) shouldIncludeObject(key string) bool {
	if strings.HasSuffix(key, "/") {
		return false
	}
	if s.opts.Suffix != "" && !strings.HasSuffix(key, s.opts.Suffix) {
		return false
	}
	if !s.opts.Recursive && strings.Contains(strings.TrimPrefix(key, s.opts.Prefix), "/") {
		return false
	}
	if s.pattern != nil && !s.pattern.MatchString(key) {
		return false
	}
	return true
}

// sortObjects orders objects for processing. Ties keep listing order.
func sortObjects(objects []S3Object, order SortOrder) {
	switch order {
	case SortByName:
		sort.SliceStable(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	case SortByLastModified:
		sort.SliceStable(objects, func(i, j int) bool { return objects[i].LastModified.Before(objects[j].LastModified) })
	case SortBySize:
		sort.SliceStable(objects, func(i, j int) bool { return objects[i].Size < objects[j].Size })
	}
}

// openNextObject opens the next S3 object for reading
func (s *S3Reader) openNextObject(ctx context.Context) error {
	obj := s.objects[s.currentIndex]
	s.stats.CurrentObject = obj.Key

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(obj.Key),
	})
	if err != nil {
		return &S3ReaderError{Op: "get_object", Key: obj.Key, Err: err}
	}

	reader, err := s.createReaderForObject(result.Body, obj.Key)
	if err != nil {
		result.Body.Close()
		return &S3ReaderError{Op: "open_object", Key: obj.Key, Err: err}
	}

	s.currentReader = reader
	s.stats.ObjectsRead++
	return nil
}

// createReaderForObject creates the appropriate reader based on file extension
func (s *S3Reader) createReaderForObject(body io.ReadCloser, key string) (core.Extractor, error) {
	format := s.opts.Format
	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(path.Ext(key)), ".")
	}

	switch format {
	case "csv", "tsv", "txt":
		opts := s.opts.CSVOptions
		if format == "tsv" {
			opts = append([]ReaderOptionCSV{WithCSVComma('\t')}, opts...)
		}
		return NewCSVReader(body, opts...)
	case "json":
		return NewJSONReader(body)
	case "jsonl", "ndjson":
		return NewJSONReader(body, WithJSONFormat(JSONFormatLines))
	case "parquet":
		// Parquet needs random access; the object is buffered in memory.
		data, err := io.ReadAll(body)
		body.Close()
		if err != nil {
			return nil, err
		}
		return NewParquetReaderFrom(bytes.NewReader(data))
	default:
		return nil, fmt.Errorf("unsupported object format %q", format)
	}
}

// closeCurrentReader closes the current file reader
func (s *S3Reader) closeCurrentReader() error {
	if s.currentReader == nil {
		return nil
	}
	err := s.currentReader.Close()
	s.currentReader = nil
	s.currentIndex++
	return err
}
