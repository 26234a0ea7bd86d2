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

package errors

import (
	"fmt"
	"time"
)

// ValidationError represents a request input that is missing or malformed.
// Use this for absent filenames, destinations, or unparseable state.
type ValidationError struct {
	// Field identifies which input field failed validation
	Field string

	// Message is the human-readable error description
	Message string

	// Suggestion provides actionable guidance for fixing the error
	Suggestion string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// UserMessage implements UserVisibleError.
func (e *ValidationError) UserMessage() string { return e.Message }

// NotFoundError represents a resource not found error.
type NotFoundError struct {
	// Resource is the type of resource (e.g., "action", "document", "secret")
	Resource string

	// ID is the identifier that was not found
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// RemoteError represents a failed call to a destination vendor API.
// The Message carries the vendor's own error text when the response had one.
type RemoteError struct {
	// Service is the vendor API that failed (e.g., "google_docs", "graph")
	Service string

	// Operation is the logical call (e.g., "create", "batch_update", "list_drives")
	Operation string

	// StatusCode is the HTTP status code (0 when no response was received)
	StatusCode int

	// Message is the vendor-supplied error message, credential-free
	Message string

	// Reason is the vendor-specific reason code, if any
	Reason string

	// Retryable is set by the caller that classified the failure
	Retryable bool

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	msg := fmt.Sprintf("%s %s failed", e.Service, e.Operation)
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s [HTTP %d]", msg, e.StatusCode)
	}
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *RemoteError) Unwrap() error {
	return e.Cause
}

// HTTPStatus returns the vendor response status code.
func (e *RemoteError) HTTPStatus() int {
	return e.StatusCode
}

// UserMessage implements UserVisibleError. The vendor text is preferred
// because it is what the user can act on.
func (e *RemoteError) UserMessage() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Error()
}

// ErrorType implements ErrorClassifier.
func (e *RemoteError) ErrorType() string {
	return "remote"
}

// IsRetryable implements ErrorClassifier.
func (e *RemoteError) IsRetryable() bool {
	return e.Retryable
}

// SealError represents a failure to seal or unseal handshake state.
// It always points at key configuration, never at the vendor.
type SealError struct {
	// Op is "seal" or "unseal"
	Op string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *SealError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("state %s failed", e.Op)
	}
	return fmt.Sprintf("state %s failed: %v", e.Op, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *SealError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *SealError) ErrorType() string {
	return "seal"
}

// IsRetryable implements ErrorClassifier. Sealing failures never are.
func (e *SealError) IsRetryable() bool {
	return false
}

// ConfigError represents configuration problems.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "seal.key")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// TimeoutError represents operation timeouts.
type TimeoutError struct {
	// Operation describes what timed out (e.g., "callback notification")
	Operation string

	// Duration is how long the operation ran before timing out
	Duration time.Duration

	// Cause is the underlying error (if any)
	Cause error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s operation timed out after %v", e.Operation, e.Duration)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *TimeoutError) Unwrap() error {
	return e.Cause
}
