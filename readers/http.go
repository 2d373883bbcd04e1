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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aaronlmathis/pipeflow/core"
)

// Package readers provides core.Extractor implementations for reading data from various sources.
//
// This file implements a paginated HTTP API reader. It follows Link headers, next-URL body
// fields and offset, page or cursor parameters, retrying rate-limited and failed requests.

// HTTPReaderError provides structured error information for HTTP reader operations
type HTTPReaderError struct {
	Op         string // Operation that failed (e.g., "request", "auth", "parse", "pagination")
	StatusCode int    // HTTP status code if applicable
	URL        string // URL being accessed when error occurred
	Err        error  // Underlying error
}

func (e *HTTPReaderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("http reader %s [%d] %s: %v", e.Op, e.StatusCode, e.URL, e.Err)
	}
	return fmt.Sprintf("http reader %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *HTTPReaderError) Unwrap() error {
	return e.Err
}

// HTTPReaderStats holds statistics about the HTTP reader's performance
type HTTPReaderStats struct {
	RequestCount  int64         // Total HTTP requests made
	PagesRead     int64         // Pages successfully decoded
	RecordsRead   int64         // Total records read
	BytesRead     int64         // Total bytes read
	ReadDuration  time.Duration // Total time spent reading
	LastReadTime  time.Time     // Time of last read
	RetryCount    int64         // Number of retries performed
	RateLimitHits int64         // Number of 429 responses
}

// AuthConfig defines authentication configuration
type AuthConfig struct {
	Type       string // "bearer", "basic", "apikey"
	Token      string // Bearer token or API key
	Username   string // For basic auth
	Password   string // For basic auth
	HeaderName string // Header carrying the API key
	QueryParam string // Query parameter carrying the API key
}

// Pagination types.
const (
	PaginationNone   = "none"
	PaginationOffset = "offset"
	PaginationPage   = "page"
	PaginationCursor = "cursor"
)

// PaginationConfig defines explicit pagination behavior. Link headers and
// next-URL body fields are always followed, whatever the type.
type PaginationConfig struct {
	Type        string // "offset", "page", "cursor", "none"
	Limit       int    // Records per page
	LimitParam  string // Parameter name for limit/page size
	OffsetParam string // Parameter name for offset
	PageParam   string // Parameter name for page number
	CursorParam string // Parameter name for cursor
	CursorField string // JSON field containing next cursor
	MaxPages    int    // Maximum pages to fetch (0 = unlimited)
}

// HTTPReaderOptions configures the HTTP reader
type HTTPReaderOptions struct {
	Headers         map[string]string // Additional headers
	QueryParams     map[string]string // Query parameters
	Auth            *AuthConfig       // Authentication configuration
	Pagination      *PaginationConfig // Pagination configuration
	Timeout         time.Duration     // Per-request timeout
	RetryAttempts   int               // Number of retry attempts
	RetryDelay      time.Duration     // Base delay between retries
	RateLimit       time.Duration     // Minimum time between requests
	ResponseFormat  string            // "json", "jsonl", "csv"
	DataPath        string            // Dotted path to the record array
	MaxResponseSize int64             // Maximum response size in bytes
	UserAgent       string            // User agent string
	CustomClient    *http.Client      // Custom HTTP client
}

// ReaderOptionHTTP is a functional option for HTTPReaderOptions
type ReaderOptionHTTP func(*HTTPReaderOptions)

func WithHTTPHeaders(headers map[string]string) ReaderOptionHTTP {
	return func(opts *HTTPReaderOptions) {
		for k, v := range headers {
			opts.Headers[k] = v
		}
	}
}

func WithHTTPQueryParams(params map[string]string) ReaderOptionHTTP {
	return func(opts *HTTPReaderOptions) {
		for k, v := range params {
			opts.QueryParams[k] = v
		}
	}
}

func WithHTTPAuth(auth *AuthConfig) ReaderOptionHTTP {
	return func(opts *HTTPReaderOptions) {
		opts.Auth = auth
	}
}

func WithHTTPBearerToken(token string) ReaderOptionHTTP {
	return func(opts *HTTPReaderOptions) {
		opts.Auth = &AuthConfig{Type: "bearer", Token: token}
	}
}

func WithHTTPBasicAuth(username, password string) ReaderOptionHTTP {
	return func(opts *HTTPReaderOptions) {
		opts.Auth = &AuthConfig{Type: "basic", Username: username, Password: password}
	}
}

func WithHTTPAPIKey(headerName, apiKey string) ReaderOptionHTTP {
	return func(opts *HTTPReaderOptions) {
		opts.Auth = &AuthConfig{Type: "apikey", HeaderName: headerName, Token: apiKey}
	}
}

func WithHTTPPagination(pagination *PaginationConfig) ReaderOptionHTTP {
	return func(opts *HTTPReaderOptions) {
		opts.Pagination = pagination
	}
}

// WithHTTPOffsetPagination pages with limit/offset query parameters until a
// short page is returned.
func WithHTTPOffsetPagination(limit int) ReaderOptionHTTP {
	return WithHTTPPagination(&PaginationConfig{Type: PaginationOffset, Limit: limit})
}

func WithHTTPTimeout(timeout time.Duration) ReaderOptionHTTP {
	return func(opts *HTTPReaderOptions) {
		opts.Timeout = timeout
	}
}

func WithHTTPRetries(attempts int, delay time.Duration) ReaderOptionHTTP {
	return func(opts *HTTPReaderOptions) {
		opts.RetryAttempts = attempts
		opts.RetryDelay = delay
	}
}

func WithHTTPRateLimit(delay time.Duration) ReaderOptionHTTP {
	return func(opts *HTTPReaderOptions) {
		opts.RateLimit = delay
	}
}

func WithHTTPResponseFormat(format string) ReaderOptionHTTP {
	return func(opts *HTTPReaderOptions) {
		opts.ResponseFormat = format
	}
}

func WithHTTPDataPath(path string) ReaderOptionHTTP {
	return func(opts *HTTPReaderOptions) {
		opts.DataPath = path
	}
}

func WithHTTPUserAgent(userAgent string) ReaderOptionHTTP {
	return func(opts *HTTPReaderOptions) {
		opts.UserAgent = userAgent
	}
}

func WithHTTPClient(client *http.Client) ReaderOptionHTTP {
	return func(opts *HTTPReaderOptions) {
		opts.CustomClient = client
	}
}

// envelopeKeys are the object keys searched for a record array when a page
// is a JSON object.
var envelopeKeys = []string{"results", "data", "items", "records"}

// nextURLKeys are the object keys carrying the next page URL.
var nextURLKeys = []string{"next", "next_url", "next_page"}

// HTTPReader implements core.Extractor for paginated HTTP APIs. Only one
// page is held in memory at a time.
type HTTPReader struct {
	client *http.Client
	opts   *HTTPReaderOptions
	stats  HTTPReaderStats

	nextURL         string
	page            []core.Record
	pageIndex       int
	pagesFetched    int
	offset          int
	exhausted       bool
	lastRequestTime time.Time
}

// NewHTTPReader creates a new HTTP API reader with configurable options
func NewHTTPReader(rawURL string, options ...ReaderOptionHTTP) (*HTTPReader, error) {
	opts := &HTTPReaderOptions{
		Headers:         make(map[string]string),
		QueryParams:     make(map[string]string),
		Timeout:         30 * time.Second,
		RetryAttempts:   3,
		RetryDelay:      time.Second,
		ResponseFormat:  "json",
		MaxResponseSize: 100 * 1024 * 1024, // 100MB
		UserAgent:       "pipeflow/1.0",
	}

	for _, option := range options {
		option(opts)
	}

	switch opts.ResponseFormat {
	case "json", "jsonl", "csv":
	default:
		return nil, &HTTPReaderError{Op: "init", URL: rawURL, Err: fmt.Errorf("unsupported response format: %s", opts.ResponseFormat)}
	}
	if pg := opts.Pagination; pg != nil {
		switch pg.Type {
		case "", PaginationNone, PaginationCursor:
		case PaginationOffset, PaginationPage:
			if pg.Limit <= 0 {
				pg.Limit = 100
			}
		default:
			return nil, &HTTPReaderError{Op: "init", URL: rawURL, Err: fmt.Errorf("unsupported pagination type: %s", pg.Type)}
		}
		if pg.LimitParam == "" {
			pg.LimitParam = "limit"
		}
		if pg.OffsetParam == "" {
			pg.OffsetParam = "offset"
		}
		if pg.PageParam == "" {
			pg.PageParam = "page"
		}
		if pg.CursorParam == "" {
			pg.CursorParam = "cursor"
		}
	}

	first, err := url.Parse(rawURL)
	if err != nil {
		return nil, &HTTPReaderError{Op: "init", URL: rawURL, Err: err}
	}
	q := first.Query()
	for k, v := range opts.QueryParams {
		q.Set(k, v)
	}
	if pg := opts.Pagination; pg != nil {
		switch pg.Type {
		case PaginationOffset:
			q.Set(pg.LimitParam, strconv.Itoa(pg.Limit))
			q.Set(pg.OffsetParam, "0")
		case PaginationPage:
			q.Set(pg.LimitParam, strconv.Itoa(pg.Limit))
			q.Set(pg.PageParam, "1")
		}
	}
	first.RawQuery = q.Encode()

	client := opts.CustomClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}

	return &HTTPReader{
		client:  client,
		opts:    opts,
		nextURL: first.String(),
	}, nil
}

// Read implements core.Extractor.
func (hr *HTTPReader) Read(ctx context.Context) (core.Record, error) {
	start := time.Now()
	defer func() {
		hr.stats.ReadDuration += time.Since(start)
		hr.stats.LastReadTime = time.Now()
	}()

	select {
	case <-ctx.Done():
		return core.Record{}, &HTTPReaderError{Op: "read", URL: hr.nextURL, Err: ctx.Err()}
	default:
	}

	// Empty pages are skipped until a page with records or the last page.
	for hr.pageIndex >= len(hr.page) {
		if hr.exhausted {
			return core.Record{}, io.EOF
		}
		if err := hr.loadNextPage(ctx); err != nil {
			return core.Record{}, err
		}
	}

	record := hr.page[hr.pageIndex]
	hr.page[hr.pageIndex] = core.Record{}
	hr.pageIndex++
	hr.stats.RecordsRead++
	return record, nil
}

// Close implements core.Extractor.
func (hr *HTTPReader) Close() error {
	hr.page = nil
	hr.exhausted = true
	return nil
}

// Stats returns HTTP reader performance statistics
func (hr *HTTPReader) Stats() HTTPReaderStats {
	return hr.stats
}

// loadNextPage fetches the page at nextURL and works out the page after it.
func (hr *HTTPReader) loadNextPage(ctx context.Context) error {
	if hr.opts.RateLimit > 0 && !hr.lastRequestTime.IsZero() {
		if wait := hr.opts.RateLimit - time.Since(hr.lastRequestTime); wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return &HTTPReaderError{Op: "rate_limit", URL: hr.nextURL, Err: ctx.Err()}
			}
		}
	}

	requestURL := hr.nextURL
	data, header, err := hr.executeRequestWithRetry(ctx, requestURL)
	if err != nil {
		return err
	}
	hr.lastRequestTime = time.Now()
	hr.pagesFetched++

	records, body, err := hr.parseResponse(data)
	if err != nil {
		return &HTTPReaderError{Op: "parse", URL: requestURL, Err: err}
	}
	hr.stats.PagesRead++
	hr.page = records
	hr.pageIndex = 0

	next, err := hr.nextPageURL(requestURL, header, body, len(records))
	if err != nil {
		return &HTTPReaderError{Op: "pagination", URL: requestURL, Err: err}
	}
	if pg := hr.opts.Pagination; pg != nil && pg.MaxPages > 0 && hr.pagesFetched >= pg.MaxPages {
		next = ""
	}
	if next == "" || next == requestURL {
		hr.exhausted = true
	}
	hr.nextURL = next
	return nil
}

// executeRequestWithRetry executes an HTTP request, retrying 429, 5xx and
// transport failures with exponential backoff.
func (hr *HTTPReader) executeRequestWithRetry(ctx context.Context, requestURL string) ([]byte, http.Header, error) {
	var lastErr error

	for attempt := 0; attempt <= hr.opts.RetryAttempts; attempt++ {
		if attempt > 0 {
			delay := hr.opts.RetryDelay * time.Duration(1<<uint(attempt-1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, nil, &HTTPReaderError{Op: "retry", URL: requestURL, Err: ctx.Err()}
			}
			hr.stats.RetryCount++
		}

		data, header, err := hr.executeRequest(ctx, requestURL)
		if err == nil {
			return data, header, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
		var httpErr *HTTPReaderError
		if errors.As(err, &httpErr) {
			if httpErr.StatusCode == http.StatusTooManyRequests {
				hr.stats.RateLimitHits++
				continue
			}
			if httpErr.StatusCode >= 500 || (httpErr.StatusCode == 0 && httpErr.Op == "request") {
				continue
			}
		}
		// Other client errors are final.
		break
	}

	return nil, nil, lastErr
}

// executeRequest executes a single HTTP request
func (hr *HTTPReader) executeRequest(ctx context.Context, requestURL string) ([]byte, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, nil, &HTTPReaderError{Op: "create_request", URL: requestURL, Err: err}
	}

	req.Header.Set("User-Agent", hr.opts.UserAgent)
	req.Header.Set("Accept", "application/json")
	for k, v := range hr.opts.Headers {
		req.Header.Set(k, v)
	}
	if err := hr.addAuthentication(req); err != nil {
		return nil, nil, &HTTPReaderError{Op: "auth", URL: requestURL, Err: err}
	}

	hr.stats.RequestCount++
	resp, err := hr.client.Do(req)
	if err != nil {
		return nil, nil, &HTTPReaderError{Op: "request", URL: requestURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, nil, &HTTPReaderError{
			Op:         "status_check",
			URL:        requestURL,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status code: %d", resp.StatusCode),
		}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, hr.opts.MaxResponseSize+1))
	if err != nil {
		return nil, nil, &HTTPReaderError{Op: "read_response", URL: requestURL, Err: err}
	}
	if int64(len(data)) > hr.opts.MaxResponseSize {
		return nil, nil, &HTTPReaderError{Op: "read_response", URL: requestURL, Err: fmt.Errorf("response exceeds %d bytes", hr.opts.MaxResponseSize)}
	}

	hr.stats.BytesRead += int64(len(data))
	return data, resp.Header, nil
}

// addAuthentication adds authentication to the request
func (hr *HTTPReader) addAuthentication(req *http.Request) error {
	auth := hr.opts.Auth
	if auth == nil {
		return nil
	}

	switch auth.Type {
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+auth.Token)
	case "basic":
		req.SetBasicAuth(auth.Username, auth.Password)
	case "apikey":
		if auth.HeaderName != "" {
			req.Header.Set(auth.HeaderName, auth.Token)
		}
		if auth.QueryParam != "" {
			q := req.URL.Query()
			q.Set(auth.QueryParam, auth.Token)
			req.URL.RawQuery = q.Encode()
		}
	default:
		return fmt.Errorf("unsupported auth type: %s", auth.Type)
	}
	return nil
}

// parseResponse decodes a page into records. For JSON pages the decoded
// body is returned as well so pagination can inspect it.
func (hr *HTTPReader) parseResponse(data []byte) ([]core.Record, core.Value, error) {
	switch hr.opts.ResponseFormat {
	case "jsonl":
		records, err := hr.parseJSONLResponse(data)
		return records, nil, err
	case "csv":
		records, err := hr.parseCSVResponse(data)
		return records, nil, err
	default:
		return hr.parseJSONResponse(data)
	}
}

func (hr *HTTPReader) parseJSONResponse(data []byte) ([]core.Record, core.Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	body, err := core.DecodeValue(dec)
	if err != nil {
		return nil, nil, fmt.Errorf("json decode failed: %w", err)
	}

	payload := body
	if hr.opts.DataPath != "" {
		payload, err = extractDataFromPath(body, hr.opts.DataPath)
		if err != nil {
			return nil, nil, fmt.Errorf("data path extraction failed: %w", err)
		}
	} else if m, ok := body.(core.Map); ok {
		for _, key := range envelopeKeys {
			if list, ok := m.Lookup(key).(core.List); ok {
				payload = list
				break
			}
		}
	}

	records, err := convertToRecords(payload)
	return records, body, err
}

func (hr *HTTPReader) parseJSONLResponse(data []byte) ([]core.Record, error) {
	var records []core.Record
	for i, line := range bytes.Split(data, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		rec, err := core.ParseRecordJSON(line)
		if err != nil {
			return nil, fmt.Errorf("jsonl line %d: %w", i+1, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func (hr *HTTPReader) parseCSVResponse(data []byte) ([]core.Record, error) {
	r, err := NewCSVReader(io.NopCloser(bytes.NewReader(data)))
	if err != nil {
		return nil, err
	}
	var records []core.Record
	for {
		rec, err := r.Read(context.Background())
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
}

// extractDataFromPath walks a dotted path of object keys.
func extractDataFromPath(data core.Value, path string) (core.Value, error) {
	current := data
	for _, part := range strings.Split(path, ".") {
		if part == "" {
			continue
		}
		m, ok := current.(core.Map)
		if !ok {
			return nil, fmt.Errorf("cannot traverse path %s: expected object", part)
		}
		v, exists := m.Get(part)
		if !exists {
			return nil, fmt.Errorf("path element %s not found", part)
		}
		current = v
	}
	return current, nil
}

// convertToRecords turns a page payload into records: an array of objects,
// or a single object.
func convertToRecords(payload core.Value) ([]core.Record, error) {
	switch v := payload.(type) {
	case core.List:
		records := make([]core.Record, 0, len(v))
		for i, item := range v {
			m, ok := item.(core.Map)
			if !ok {
				return nil, fmt.Errorf("element %d is %s, not an object", i, item.Kind())
			}
			records = append(records, m.Record)
		}
		return records, nil
	case core.Map:
		return []core.Record{v.Record}, nil
	case core.Null:
		return nil, nil
	default:
		return nil, fmt.Errorf("unexpected response payload: %s", payload.Kind())
	}
}

// nextPageURL determines the next page: Link header first, then a next-URL
// field in the body, then the configured pagination type.
func (hr *HTTPReader) nextPageURL(current string, header http.Header, body core.Value, n int) (string, error) {
	base, err := url.Parse(current)
	if err != nil {
		return "", err
	}

	for _, link := range header.Values("Link") {
		if next := parseLinkHeader(link); next != "" {
			return resolve(base, next)
		}
	}

	m, isObject := body.(core.Map)
	if isObject {
		for _, key := range nextURLKeys {
			v, ok := m.Get(key)
			if !ok || !core.Truthy(v) {
				continue
			}
			return resolve(base, v.String())
		}
	}

	pg := hr.opts.Pagination
	if pg == nil {
		return "", nil
	}
	q := base.Query()
	switch pg.Type {
	case PaginationOffset:
		if n < pg.Limit {
			return "", nil
		}
		offset, _ := strconv.Atoi(q.Get(pg.OffsetParam))
		q.Set(pg.OffsetParam, strconv.Itoa(offset+pg.Limit))
		q.Set(pg.LimitParam, strconv.Itoa(pg.Limit))
	case PaginationPage:
		if n < pg.Limit {
			return "", nil
		}
		page, _ := strconv.Atoi(q.Get(pg.PageParam))
		if page < 1 {
			page = 1
		}
		q.Set(pg.PageParam, strconv.Itoa(page+1))
	case PaginationCursor:
		if !isObject || pg.CursorField == "" {
			return "", nil
		}
		cursor := m.Lookup(pg.CursorField)
		if !core.Truthy(cursor) {
			return "", nil
		}
		q.Set(pg.CursorParam, cursor.String())
	default:
		return "", nil
	}
	next := *base
	next.RawQuery = q.Encode()
	return next.String(), nil
}

func resolve(base *url.URL, ref string) (string, error) {
	u, err := base.Parse(ref)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// parseLinkHeader returns the rel="next" target of an RFC 8288 Link header.
func parseLinkHeader(header string) string {
	for _, part := range strings.Split(header, ",") {
		segments := strings.Split(strings.TrimSpace(part), ";")
		target := strings.TrimSpace(segments[0])
		if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
			continue
		}
		for _, param := range segments[1:] {
			name, value, ok := strings.Cut(strings.TrimSpace(param), "=")
			if !ok || !strings.EqualFold(strings.TrimSpace(name), "rel") {
				continue
			}
			for _, rel := range strings.Fields(strings.Trim(strings.TrimSpace(value), `"'`)) {
				if strings.EqualFold(rel, "next") {
					return target[1 : len(target)-1]
				}
			}
		}
	}
	return ""
}
