// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"log/slog"
	"net/http"
	"time"
)

// RequestIDHeader carries the inbound request identifier.
const RequestIDHeader = "X-Request-ID"

// HTTPRequest represents an inbound HTTP request for logging purposes.
// Only the path is recorded: query strings on the OAuth endpoints carry
// sealed state and authorization codes.
type HTTPRequest struct {
	Method     string
	Path       string
	RequestID  string
	RemoteAddr string
}

// HTTPResponse represents the outcome of an HTTP request for logging purposes.
type HTTPResponse struct {
	Status     int
	Bytes      int
	DurationMs int64
}

// LogHTTPRequest logs an incoming HTTP request at debug level.
func LogHTTPRequest(logger *slog.Logger, req *HTTPRequest) {
	attrs := []any{
		EventKey, "http_request",
		"method", req.Method,
		"path", req.Path,
		"remote", req.RemoteAddr,
	}
	if req.RequestID != "" {
		attrs = append(attrs, RequestIDKey, req.RequestID)
	}
	logger.Debug("http request received", attrs...)
}

// LogHTTPResponse logs a completed HTTP request. Server errors log at
// error level, client errors at warn.
func LogHTTPResponse(logger *slog.Logger, req *HTTPRequest, resp *HTTPResponse) {
	attrs := []any{
		EventKey, "http_response",
		"method", req.Method,
		"path", req.Path,
		"status", resp.Status,
		"bytes", resp.Bytes,
		DurationKey, resp.DurationMs,
	}
	if req.RequestID != "" {
		attrs = append(attrs, RequestIDKey, req.RequestID)
	}

	level := slog.LevelInfo
	switch {
	case resp.Status >= 500:
		level = slog.LevelError
	case resp.Status >= 400:
		level = slog.LevelWarn
	}

	logger.Log(nil, level, "http request completed", attrs...)
}

// HTTPMiddleware wraps an http.Handler with request logging.
type HTTPMiddleware struct {
	logger *slog.Logger
}

// NewHTTPMiddleware creates a new HTTP logging middleware.
func NewHTTPMiddleware(logger *slog.Logger) *HTTPMiddleware {
	return &HTTPMiddleware{logger: logger}
}

// Wrap returns a handler that logs each request before and after next runs.
func (m *HTTPMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		req := &HTTPRequest{
			Method:     r.Method,
			Path:       r.URL.Path,
			RequestID:  r.Header.Get(RequestIDHeader),
			RemoteAddr: r.RemoteAddr,
		}
		LogHTTPRequest(m.logger, req)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		LogHTTPResponse(m.logger, req, &HTTPResponse{
			Status:     rec.status,
			Bytes:      rec.bytes,
			DurationMs: time.Since(start).Milliseconds(),
		})
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
