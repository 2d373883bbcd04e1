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
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/aaronlmathis/pipeflow/core"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoReaderError provides structured error information for MongoDB reader operations
type MongoReaderError struct {
	Op         string // Operation that failed (e.g., "connect", "query", "decode", "aggregate")
	Collection string // Collection being accessed when error occurred
	Err        error  // Underlying error
}

func (e *MongoReaderError) Error() string {
	if e.Collection != "" {
		return fmt.Sprintf("mongo reader %s [%s]: %v", e.Op, e.Collection, e.Err)
	}
	return fmt.Sprintf("mongo reader %s: %v", e.Op, e.Err)
}

func (e *MongoReaderError) Unwrap() error {
	return e.Err
}

// MongoReaderStats holds statistics about the MongoDB reader's performance
type MongoReaderStats struct {
	RecordsRead     int64            // Total records read
	QueriesExecuted int64            // Total queries executed
	ReadDuration    time.Duration    // Total time spent reading
	LastReadTime    time.Time        // Time of last read
	NullValueCounts map[string]int64 // Count of null values per field
}

// MongoReadMode defines how data should be read from MongoDB
type MongoReadMode string

const (
	ModeFind      MongoReadMode = "find"      // Standard find query
	ModeAggregate MongoReadMode = "aggregate" // Aggregation pipeline
)

// MongoReaderOptions configures the MongoDB reader
type MongoReaderOptions struct {
	URI            string        // MongoDB connection URI
	Database       string        // Database name
	Collection     string        // Collection name
	Mode           MongoReadMode // Read mode
	Filter         bson.D        // Query filter for find operations
	Projection     bson.D        // Field projection
	Sort           bson.D        // Sort specification
	Pipeline       []bson.D      // Aggregation pipeline stages
	BatchSize      int32         // Batch size for cursor
	Limit          int64         // Maximum number of documents to read
	Skip           int64         // Number of documents to skip
	Timeout        time.Duration // Connect timeout
	MaxPoolSize    uint64        // Connection pool size
	ReadPreference string        // Read preference: primary, secondary, etc.
	ReadConcern    string        // Read concern level
	AuthDatabase   string        // Authentication database
	Username       string        // Authentication username
	Password       string        // Authentication password
	TLS            bool          // Enable TLS
	TLSInsecure    bool          // Skip TLS verification
	AllowDiskUse   bool          // Allow aggregation to use disk
	MaxTime        time.Duration // Server-side execution limit
}

// ReaderOptionMongo is a functional option for MongoReaderOptions
type ReaderOptionMongo func(*MongoReaderOptions)

func WithMongoURI(uri string) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) { opts.URI = uri }
}

func WithMongoDB(database string) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) { opts.Database = database }
}

func WithMongoCollection(collection string) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) { opts.Collection = collection }
}

func WithMongoFilter(filter bson.D) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) { opts.Filter = filter }
}

func WithMongoProjection(projection bson.D) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) { opts.Projection = projection }
}

func WithMongoSort(sort bson.D) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) { opts.Sort = sort }
}

func WithMongoPipeline(pipeline []bson.D) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) {
		opts.Pipeline = pipeline
		opts.Mode = ModeAggregate
	}
}

func WithMongoLimit(limit int64) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) { opts.Limit = limit }
}

func WithMongoSkip(skip int64) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) { opts.Skip = skip }
}

func WithMongoBatchSize(batchSize int32) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) { opts.BatchSize = batchSize }
}

func WithMongoTimeout(timeout time.Duration) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) { opts.Timeout = timeout }
}

func WithMongoReadPreference(preference string) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) { opts.ReadPreference = preference }
}

func WithMongoReadConcern(concern string) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) { opts.ReadConcern = concern }
}

func WithMongoAuth(username, password, authDB string) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) {
		opts.Username = username
		opts.Password = password
		opts.AuthDatabase = authDB
	}
}

func WithMongoTLS(enabled, insecure bool) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) {
		opts.TLS = enabled
		opts.TLSInsecure = insecure
	}
}

func WithMongoAllowDiskUse(allow bool) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) { opts.AllowDiskUse = allow }
}

func WithMongoMaxTime(d time.Duration) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) { opts.MaxTime = d }
}

// ParseMongoDocument parses a relaxed Extended JSON object such as
// `{"age": {"$gte": 18}}` into an ordered document.
func ParseMongoDocument(extJSON string) (bson.D, error) {
	var doc bson.D
	if extJSON == "" {
		return bson.D{}, nil
	}
	if err := bson.UnmarshalExtJSON([]byte(extJSON), false, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// ParseMongoPipeline parses a relaxed Extended JSON array of stages.
func ParseMongoPipeline(extJSON string) ([]bson.D, error) {
	var wrapper struct {
		Stages []bson.D `bson:"stages"`
	}
	if err := bson.UnmarshalExtJSON([]byte(`{"stages":`+extJSON+`}`), false, &wrapper); err != nil {
		return nil, err
	}
	return wrapper.Stages, nil
}

// MongoReader implements core.Extractor for a MongoDB find or aggregate
// cursor. Documents keep their field order.
type MongoReader struct {
	client     *mongo.Client
	collection *mongo.Collection
	cursor     *mongo.Cursor
	opts       *MongoReaderOptions
	stats      MongoReaderStats
	connected  bool
}

// NewMongoReader creates a new MongoDB reader with configurable options.
// The connection is made on the first Read.
func NewMongoReader(options ...ReaderOptionMongo) (*MongoReader, error) {
	opts := &MongoReaderOptions{
		URI:            "mongodb://localhost:27017",
		Mode:           ModeFind,
		BatchSize:      1000,
		Timeout:        30 * time.Second,
		MaxPoolSize:    10,
		ReadPreference: "primary",
		ReadConcern:    "local",
	}

	for _, option := range options {
		option(opts)
	}

	if opts.Database == "" {
		return nil, &MongoReaderError{Op: "validate", Err: errors.New("database name is required")}
	}
	if opts.Collection == "" {
		return nil, &MongoReaderError{Op: "validate", Err: errors.New("collection name is required")}
	}
	switch opts.Mode {
	case ModeFind:
	case ModeAggregate:
		if len(opts.Pipeline) == 0 {
			return nil, &MongoReaderError{Op: "validate", Err: errors.New("pipeline is required for aggregate mode")}
		}
	default:
		return nil, &MongoReaderError{Op: "validate", Err: fmt.Errorf("unsupported read mode: %s", opts.Mode)}
	}

	return &MongoReader{
		opts:  opts,
		stats: MongoReaderStats{NullValueCounts: make(map[string]int64)},
	}, nil
}

// Connect establishes connection to MongoDB
func (mr *MongoReader) Connect(ctx context.Context) error {
	if mr.connected {
		return nil
	}

	clientOpts, err := mr.buildClientOptions()
	if err != nil {
		return &MongoReaderError{Op: "build_options", Err: err}
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return &MongoReaderError{Op: "connect", Err: err}
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return &MongoReaderError{Op: "ping", Err: err}
	}

	mr.client = client
	mr.collection = client.Database(mr.opts.Database).Collection(mr.opts.Collection)
	mr.connected = true
	return nil
}

// buildClientOptions constructs MongoDB client options from reader configuration
func (mr *MongoReader) buildClientOptions() (*options.ClientOptions, error) {
	clientOpts := options.Client().ApplyURI(mr.opts.URI)

	if mr.opts.MaxPoolSize > 0 {
		clientOpts.SetMaxPoolSize(mr.opts.MaxPoolSize)
	}
	if mr.opts.Timeout > 0 {
		clientOpts.SetConnectTimeout(mr.opts.Timeout)
		clientOpts.SetServerSelectionTimeout(mr.opts.Timeout)
	}

	if mr.opts.Username != "" {
		auth := options.Credential{
			Username:   mr.opts.Username,
			Password:   mr.opts.Password,
			AuthSource: mr.opts.AuthDatabase,
		}
		if auth.AuthSource == "" {
			auth.AuthSource = mr.opts.Database
		}
		clientOpts.SetAuth(auth)
	}

	if mr.opts.TLS {
		clientOpts.SetTLSConfig(&tls.Config{InsecureSkipVerify: mr.opts.TLSInsecure})
	}

	if mr.opts.ReadPreference != "" {
		var readPref *readpref.ReadPref
		switch mr.opts.ReadPreference {
		case "primary":
			readPref = readpref.Primary()
		case "primaryPreferred":
			readPref = readpref.PrimaryPreferred()
		case "secondary":
			readPref = readpref.Secondary()
		case "secondaryPreferred":
			readPref = readpref.SecondaryPreferred()
		case "nearest":
			readPref = readpref.Nearest()
		default:
			return nil, fmt.Errorf("invalid read preference: %s", mr.opts.ReadPreference)
		}
		clientOpts.SetReadPreference(readPref)
	}

	if mr.opts.ReadConcern != "" {
		var rc *readconcern.ReadConcern
		switch mr.opts.ReadConcern {
		case "local":
			rc = readconcern.Local()
		case "available":
			rc = readconcern.Available()
		case "majority":
			rc = readconcern.Majority()
		case "linearizable":
			rc = readconcern.Linearizable()
		case "snapshot":
			rc = readconcern.Snapshot()
		default:
			return nil, fmt.Errorf("invalid read concern: %s", mr.opts.ReadConcern)
		}
		clientOpts.SetReadConcern(rc)
	}

	return clientOpts, nil
}

// Read implements core.Extractor.
func (mr *MongoReader) Read(ctx context.Context) (core.Record, error) {
	start := time.Now()
	defer func() {
		mr.stats.ReadDuration += time.Since(start)
		mr.stats.LastReadTime = time.Now()
	}()

	select {
	case <-ctx.Done():
		return core.Record{}, &MongoReaderError{Op: "read", Collection: mr.opts.Collection, Err: ctx.Err()}
	default:
	}

	if !mr.connected {
		if err := mr.Connect(ctx); err != nil {
			return core.Record{}, err
		}
	}

	if mr.cursor == nil {
		if err := mr.initializeCursor(ctx); err != nil {
			return core.Record{}, &MongoReaderError{Op: "init_cursor", Collection: mr.opts.Collection, Err: err}
		}
	}

	if !mr.cursor.Next(ctx) {
		if err := mr.cursor.Err(); err != nil {
			return core.Record{}, &MongoReaderError{Op: "cursor_next", Collection: mr.opts.Collection, Err: err}
		}
		return core.Record{}, io.EOF
	}

	var doc bson.D
	if err := mr.cursor.Decode(&doc); err != nil {
		return core.Record{}, &MongoReaderError{Op: "decode", Collection: mr.opts.Collection, Err: err}
	}

	record := convertBSONDocument(doc)
	for _, f := range record.Fields() {
		if core.IsNull(f.Value) {
			mr.stats.NullValueCounts[f.Name]++
		}
	}
	mr.stats.RecordsRead++
	return record, nil
}

// Close implements core.Extractor.
func (mr *MongoReader) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var errs []error
	if mr.cursor != nil {
		if err := mr.cursor.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("cursor close: %w", err))
		}
		mr.cursor = nil
	}
	if mr.client != nil {
		if err := mr.client.Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("client disconnect: %w", err))
		}
		mr.client = nil
	}
	mr.connected = false

	if len(errs) > 0 {
		return &MongoReaderError{Op: "close", Err: errors.Join(errs...)}
	}
	return nil
}

// Stats returns MongoDB reader performance statistics
func (mr *MongoReader) Stats() MongoReaderStats {
	return mr.stats
}

// initializeCursor creates the cursor for the configured read mode
func (mr *MongoReader) initializeCursor(ctx context.Context) error {
	mr.stats.QueriesExecuted++

	if mr.opts.Mode == ModeAggregate {
		aggOpts := options.Aggregate()
		if mr.opts.BatchSize > 0 {
			aggOpts.SetBatchSize(mr.opts.BatchSize)
		}
		if mr.opts.AllowDiskUse {
			aggOpts.SetAllowDiskUse(true)
		}
		if mr.opts.MaxTime > 0 {
			aggOpts.SetMaxTime(mr.opts.MaxTime)
		}
		pipeline := make(mongo.Pipeline, len(mr.opts.Pipeline))
		copy(pipeline, mr.opts.Pipeline)
		cursor, err := mr.collection.Aggregate(ctx, pipeline, aggOpts)
		if err != nil {
			return err
		}
		mr.cursor = cursor
		return nil
	}

	findOpts := options.Find()
	if mr.opts.BatchSize > 0 {
		findOpts.SetBatchSize(mr.opts.BatchSize)
	}
	if mr.opts.Limit > 0 {
		findOpts.SetLimit(mr.opts.Limit)
	}
	if mr.opts.Skip > 0 {
		findOpts.SetSkip(mr.opts.Skip)
	}
	if mr.opts.Projection != nil {
		findOpts.SetProjection(mr.opts.Projection)
	}
	if mr.opts.Sort != nil {
		findOpts.SetSort(mr.opts.Sort)
	}
	if mr.opts.MaxTime > 0 {
		findOpts.SetMaxTime(mr.opts.MaxTime)
	}

	filter := mr.opts.Filter
	if filter == nil {
		filter = bson.D{}
	}
	cursor, err := mr.collection.Find(ctx, filter, findOpts)
	if err != nil {
		return err
	}
	mr.cursor = cursor
	return nil
}

// convertBSONDocument converts an ordered BSON document to a record.
func convertBSONDocument(doc bson.D) core.Record {
	fields := make([]core.Field, len(doc))
	for i, e := range doc {
		fields[i] = core.F(e.Key, convertBSONValue(e.Value))
	}
	return core.NewRecord(fields...)
}

// convertBSONValue maps BSON types onto Values. Types with no natural
// counterpart become their string form.
func convertBSONValue(value any) core.Value {
	switch v := value.(type) {
	case nil, primitive.Null, primitive.Undefined:
		return core.Null{}
	case primitive.ObjectID:
		return core.String(v.Hex())
	case primitive.DateTime:
		return core.Time(v.Time().UTC())
	case primitive.Timestamp:
		return core.Time(time.Unix(int64(v.T), 0).UTC())
	case primitive.Decimal128:
		return core.String(v.String())
	case primitive.Binary:
		return core.String(v.Data)
	case primitive.Regex:
		return core.String(v.Pattern)
	case primitive.JavaScript:
		return core.String(v)
	case primitive.Symbol:
		return core.String(v)
	case primitive.CodeWithScope:
		return core.String(v.Code)
	case primitive.MinKey:
		return core.String("MinKey")
	case primitive.MaxKey:
		return core.String("MaxKey")
	case bson.D:
		return core.Map{Record: convertBSONDocument(v)}
	case bson.M:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		d := make(bson.D, len(keys))
		for i, k := range keys {
			d[i] = bson.E{Key: k, Value: v[k]}
		}
		return core.Map{Record: convertBSONDocument(d)}
	case bson.A:
		list := make(core.List, len(v))
		for i, val := range v {
			list[i] = convertBSONValue(val)
		}
		return list
	default:
		return core.FromGo(v)
	}
}
