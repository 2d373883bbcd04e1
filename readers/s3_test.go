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
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/pipeflow/core"
)

type fakeObject struct {
	body     string
	modified time.Time
}

// fakeS3 serves a fixed bucket, two keys per listing page.
type fakeS3 struct {
	objects map[string]fakeObject
	order   []string
	getErr  error
	gets    []string
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	var keys []string
	for _, k := range f.order {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	start := 0
	if in.ContinuationToken != nil {
		for i, k := range keys {
			if k == *in.ContinuationToken {
				start = i
			}
		}
	}
	end := min(start+2, len(keys))
	out := &s3.ListObjectsV2Output{}
	for _, k := range keys[start:end] {
		obj := f.objects[k]
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(k),
			Size:         aws.Int64(int64(len(obj.body))),
			LastModified: aws.Time(obj.modified),
			ETag:         aws.String(`"etag-` + k + `"`),
		})
	}
	if end < len(keys) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(keys[end])
	}
	return out, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	key := aws.ToString(in.Key)
	f.gets = append(f.gets, key)
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(f.objects[key].body))}, nil
}

func newFakeS3() *fakeS3 {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := &fakeS3{objects: map[string]fakeObject{
		"in/b.csv":        {body: "id,name\n3,c\n", modified: base},
		"in/a.csv":        {body: "id,name\n1,a\n2,b\n", modified: base.Add(time.Hour)},
		"in/c.jsonl":      {body: `{"id": 4}` + "\n", modified: base.Add(2 * time.Hour)},
		"in/sub/d.csv":    {body: "id\n5\n", modified: base},
		"in/notes.txt.gz": {body: "zz", modified: base},
		"other/e.csv":     {body: "id\n6\n", modified: base},
	}}
	f.order = []string{"in/b.csv", "in/a.csv", "in/c.jsonl", "in/sub/d.csv", "in/notes.txt.gz", "other/e.csv"}
	return f
}

func TestS3Reader_ReadsObjectsInOrder(t *testing.T) {
	client := newFakeS3()
	r, err := NewS3Reader(context.Background(),
		WithS3Bucket("bucket"),
		WithS3Prefix("in/"),
		WithS3FilePattern(`\.(csv|jsonl)$`),
		WithS3Recursive(false),
		WithS3Client(client))
	require.NoError(t, err)

	records := readAll(t, r)
	require.NoError(t, r.Close())

	require.Len(t, records, 4)
	assert.Equal(t, core.String("1"), records[0].Lookup("id"))
	assert.Equal(t, core.String("3"), records[2].Lookup("id"))
	assert.Equal(t, core.Int(4), records[3].Lookup("id"))
	assert.Equal(t, []string{"in/a.csv", "in/b.csv", "in/c.jsonl"}, client.gets)

	stats := r.Stats()
	assert.Equal(t, int64(3), stats.ObjectsListed)
	assert.Equal(t, []string{"in/a.csv", "in/b.csv", "in/c.jsonl"}, stats.ProcessedFiles)
}

func TestS3Reader_SortAndMetadata(t *testing.T) {
	client := newFakeS3()
	r, err := NewS3Reader(context.Background(),
		WithS3Bucket("bucket"),
		WithS3Prefix("in/"),
		WithS3Suffix(".csv"),
		WithS3SortOrder(SortByLastModified),
		WithS3IncludeMetadata(true),
		WithS3CSVOptions(WithCSVInferTypes(true)),
		WithS3Client(client))
	require.NoError(t, err)

	records := readAll(t, r)
	require.Len(t, records, 4)
	assert.Equal(t, core.Int(3), records[0].Lookup("id"))
	assert.Equal(t, core.String("in/b.csv"), records[0].Lookup("_s3_key"))
	assert.Equal(t, core.String("etag-in/b.csv"), records[0].Lookup("_s3_etag"))
	assert.Equal(t, core.Int(5), records[1].Lookup("id"))
	assert.Equal(t, core.String("in/sub/d.csv"), records[1].Lookup("_s3_key"))
}

func TestS3Reader_GetObjectError(t *testing.T) {
	client := newFakeS3()
	client.getErr = errors.New("access denied")
	r, err := NewS3Reader(context.Background(), WithS3Bucket("bucket"), WithS3Prefix("other/"), WithS3Client(client))
	require.NoError(t, err)

	_, err = r.Read(context.Background())
	var s3Err *S3ReaderError
	require.ErrorAs(t, err, &s3Err)
	assert.Equal(t, "get_object", s3Err.Op)
	assert.Equal(t, "other/e.csv", s3Err.Key)
}

func TestS3Reader_UnsupportedFormat(t *testing.T) {
	r, err := NewS3Reader(context.Background(), WithS3Bucket("bucket"), WithS3Suffix(".gz"), WithS3Client(newFakeS3()))
	require.NoError(t, err)

	_, err = r.Read(context.Background())
	assert.ErrorContains(t, err, `unsupported object format "gz"`)
}

func TestS3Reader_Validation(t *testing.T) {
	_, err := NewS3Reader(context.Background(), WithS3Client(newFakeS3()))
	assert.ErrorContains(t, err, "bucket is required")

	_, err = NewS3Reader(context.Background(), WithS3Bucket("b"), WithS3FilePattern("("), WithS3Client(newFakeS3()))
	assert.Error(t, err)
}
