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

// Package transport sends single vendor API requests over HTTP with OAuth2
// bearer authentication and client-side rate limiting.
//
// A transport never retries. Retrying is the caller's decision and lives in
// the retry package, so that one logical remote call maps to exactly one
// retry sequence.
package transport

import (
	"context"
	"net/http"
)

// Transport executes requests against a vendor API.
type Transport interface {
	// Execute sends a request and returns a response.
	// Returns *TransportError on failure, including HTTP status >= 400.
	Execute(ctx context.Context, req *Request) (*Response, error)

	// Name returns the transport identifier.
	Name() string
}

// Request represents a single vendor API request.
type Request struct {
	// Method is the HTTP method. Required.
	Method string

	// URL is either absolute or relative to the transport's base URL. Required.
	URL string

	// Headers are request headers. Optional.
	Headers map[string]string

	// Body is the request body. Optional.
	Body []byte
}

// Response represents a vendor API response.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// RateLimiter blocks until a request is allowed.
type RateLimiter interface {
	Wait(ctx context.Context) error
}
