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

package writers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/aaronlmathis/pipeflow/core"
)

// S3WriterError represents an error that occurred while uploading to S3.
type S3WriterError struct {
	Op  string
	Err error
}

func (e *S3WriterError) Error() string {
	return fmt.Sprintf("s3 writer %s: %v", e.Op, e.Err)
}

func (e *S3WriterError) Unwrap() error {
	return e.Err
}

// S3PutAPI is the subset of the S3 client used for uploads.
type S3PutAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3UploadOptions configures the destination object.
type S3UploadOptions struct {
	Bucket         string
	Key            string
	Region         string
	Profile        string
	EndpointURL    string
	ForcePathStyle bool
	ContentType    string
	Client         S3PutAPI // Pre-built client; skips AWS config loading
}

// S3UploadOption represents a configuration function for S3 uploads.
type S3UploadOption func(*S3UploadOptions)

// WithS3Object sets the destination bucket and key.
func WithS3Object(bucket, key string) S3UploadOption {
	return func(opts *S3UploadOptions) {
		opts.Bucket = bucket
		opts.Key = key
	}
}

func WithS3UploadRegion(region string) S3UploadOption {
	return func(opts *S3UploadOptions) { opts.Region = region }
}

func WithS3UploadProfile(profile string) S3UploadOption {
	return func(opts *S3UploadOptions) { opts.Profile = profile }
}

// WithS3UploadEndpoint targets an S3-compatible service.
func WithS3UploadEndpoint(endpoint string, pathStyle bool) S3UploadOption {
	return func(opts *S3UploadOptions) {
		opts.EndpointURL = endpoint
		opts.ForcePathStyle = pathStyle
	}
}

func WithS3UploadContentType(contentType string) S3UploadOption {
	return func(opts *S3UploadOptions) { opts.ContentType = contentType }
}

// WithS3UploadClient injects a client, e.g. a fake in tests.
func WithS3UploadClient(client S3PutAPI) S3UploadOption {
	return func(opts *S3UploadOptions) { opts.Client = client }
}

func newS3Upload(ctx context.Context, options []S3UploadOption) (S3UploadOptions, error) {
	var opts S3UploadOptions
	for _, option := range options {
		option(&opts)
	}
	if opts.Bucket == "" || opts.Key == "" {
		return opts, &S3WriterError{Op: "validate", Err: errors.New("bucket and key are required")}
	}
	if opts.Client != nil {
		return opts, nil
	}

	var configOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		configOpts = append(configOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.Profile != "" {
		configOpts = append(configOpts, awsconfig.WithSharedConfigProfile(opts.Profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return opts, &S3WriterError{Op: "create_aws_config", Err: err}
	}
	opts.Client = s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.EndpointURL != "" {
			o.BaseEndpoint = aws.String(opts.EndpointURL)
		}
		o.UsePathStyle = opts.ForcePathStyle
	})
	return opts, nil
}

func putObject(ctx context.Context, opts S3UploadOptions, body io.Reader) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(opts.Bucket),
		Key:    aws.String(opts.Key),
		Body:   body,
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if _, err := opts.Client.PutObject(ctx, input); err != nil {
		return &S3WriterError{Op: "put_object", Err: err}
	}
	return nil
}

// S3ObjectWriter is an io.WriteCloser that buffers everything written to it
// and uploads it as a single object on Close. Nothing is uploaded when
// nothing was written. Use it as the destination of a CSV or JSON writer.
type S3ObjectWriter struct {
	ctx      context.Context
	opts     S3UploadOptions
	buf      bytes.Buffer
	uploaded bool
	closed   bool
	mu       sync.Mutex
}

// NewS3ObjectWriter creates a buffered object writer. ctx bounds the upload
// performed by Close.
func NewS3ObjectWriter(ctx context.Context, options ...S3UploadOption) (*S3ObjectWriter, error) {
	opts, err := newS3Upload(ctx, options)
	if err != nil {
		return nil, err
	}
	return &S3ObjectWriter{ctx: ctx, opts: opts}, nil
}

func (w *S3ObjectWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, &S3WriterError{Op: "write", Err: errors.New("writer is closed")}
	}
	return w.buf.Write(p)
}

// Close uploads the buffered bytes. It is idempotent.
func (w *S3ObjectWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if w.buf.Len() == 0 {
		return nil
	}
	if err := putObject(w.ctx, w.opts, bytes.NewReader(w.buf.Bytes())); err != nil {
		return err
	}
	w.uploaded = true
	w.buf.Reset()
	return nil
}

// Uploaded reports whether Close stored an object.
func (w *S3ObjectWriter) Uploaded() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.uploaded
}

// S3FileUploader wraps a loader that writes a local file and uploads that
// file once the loader is closed. The local file is removed after a
// successful upload when RemoveLocal is set.
type S3FileUploader struct {
	core.Loader
	ctx         context.Context
	path        string
	opts        S3UploadOptions
	removeLocal bool
	closed      bool
	mu          sync.Mutex
}

// NewS3FileUploader uploads path after loader is closed.
func NewS3FileUploader(ctx context.Context, loader core.Loader, path string, removeLocal bool, options ...S3UploadOption) (*S3FileUploader, error) {
	if loader == nil {
		return nil, &S3WriterError{Op: "validate", Err: errors.New("loader is nil")}
	}
	opts, err := newS3Upload(ctx, options)
	if err != nil {
		return nil, err
	}
	return &S3FileUploader{Loader: loader, ctx: ctx, path: path, opts: opts, removeLocal: removeLocal}, nil
}

// Close closes the wrapped loader, then uploads its file if one was written.
func (u *S3FileUploader) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return nil
	}
	u.closed = true

	if err := u.Loader.Close(); err != nil {
		return err
	}
	f, err := os.Open(u.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return &S3WriterError{Op: "open", Err: err}
	}
	err = putObject(u.ctx, u.opts, f)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = &S3WriterError{Op: "close", Err: cerr}
	}
	if err != nil {
		return err
	}
	if u.removeLocal {
		if err := os.Remove(u.path); err != nil {
			return &S3WriterError{Op: "remove_local", Err: err}
		}
	}
	return nil
}
