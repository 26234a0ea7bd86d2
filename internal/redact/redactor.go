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

// Package redact strips OAuth credential material from strings, errors and
// span attributes before they reach a log line, a trace, or an action
// response.
package redact

import (
	"regexp"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// Mode determines how aggressively values are redacted.
type Mode string

const (
	// ModeNone disables redaction. Only useful in tests.
	ModeNone Mode = "none"

	// ModeStandard applies pattern-based redaction for credential material.
	ModeStandard Mode = "standard"

	// ModeStrict redacts every string value.
	ModeStrict Mode = "strict"
)

// Placeholder replaces every redacted value.
const Placeholder = "[REDACTED]"

// Pattern defines a redaction pattern with a name and regular expression.
type Pattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
}

// StandardPatterns returns the credential patterns seen in OAuth token
// responses, vendor error bodies and callback payloads.
func StandardPatterns() []Pattern {
	return []Pattern{
		{
			// JSON token fields: "access_token":"...", "refresh_token": "..."
			Name:        "json_token_field",
			Regex:       regexp.MustCompile(`(?i)("(?:access_token|refresh_token|id_token|client_secret|code)"\s*:\s*")[^"]*(")`),
			Replacement: "${1}" + Placeholder + "${2}",
		},
		{
			// Form and query encodings: access_token=...&refresh_token=...
			Name:        "form_token_field",
			Regex:       regexp.MustCompile(`(?i)\b(access_token|refresh_token|id_token|client_secret|code|assertion)=([^&\s"]+)`),
			Replacement: "${1}=" + Placeholder,
		},
		{
			Name:        "bearer_token",
			Regex:       regexp.MustCompile(`(?i)(bearer\s+)([a-zA-Z0-9_\-\.~+/=]{8,})`),
			Replacement: "${1}" + Placeholder,
		},
		{
			// Google OAuth access and refresh tokens.
			Name:        "google_token",
			Regex:       regexp.MustCompile(`\b(ya29\.[0-9A-Za-z_\-]+|1//[0-9A-Za-z_\-]{20,})`),
			Replacement: Placeholder,
		},
		{
			Name:        "jwt",
			Regex:       regexp.MustCompile(`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`),
			Replacement: Placeholder,
		},
		{
			Name:        "age_identity",
			Regex:       regexp.MustCompile(`AGE-SECRET-KEY-1[0-9A-Z]+`),
			Replacement: Placeholder,
		},
		{
			Name:        "generic_secret",
			Regex:       regexp.MustCompile(`(?i)(secret|token|password)["\s:=]+([a-zA-Z0-9_\-]{16,})`),
			Replacement: "${1}=" + Placeholder,
		},
	}
}

// Redactor applies redaction rules.
type Redactor struct {
	mode     Mode
	patterns []Pattern
}

// NewRedactor creates a new redactor with the specified mode.
func NewRedactor(mode Mode) *Redactor {
	return &Redactor{
		mode:     mode,
		patterns: StandardPatterns(),
	}
}

// NewRedactorWithPatterns creates a redactor with custom patterns.
func NewRedactorWithPatterns(mode Mode, patterns []Pattern) *Redactor {
	return &Redactor{
		mode:     mode,
		patterns: patterns,
	}
}

var standard = NewRedactor(ModeStandard)

// String redacts s with the standard patterns.
func String(s string) string {
	return standard.RedactString(s)
}

// Error redacts err with the standard patterns.
func Error(err error) error {
	return standard.RedactError(err)
}

// RedactString applies redaction patterns to a string value.
func (r *Redactor) RedactString(s string) string {
	switch r.mode {
	case ModeNone:
		return s
	case ModeStrict:
		return Placeholder
	}

	result := s
	for _, pattern := range r.patterns {
		result = pattern.Regex.ReplaceAllString(result, pattern.Replacement)
	}
	return result
}

// RedactError returns err unchanged when its message carries no credential
// material. Otherwise it returns an error whose message is redacted but which
// still unwraps to err, so errors.As keeps finding typed causes.
func (r *Redactor) RedactError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	clean := r.RedactString(msg)
	if clean == msg {
		return err
	}
	return &sanitizedError{msg: clean, cause: err}
}

type sanitizedError struct {
	msg   string
	cause error
}

func (e *sanitizedError) Error() string { return e.msg }

func (e *sanitizedError) Unwrap() error { return e.cause }

// RedactAttributes applies redaction to span attributes.
func (r *Redactor) RedactAttributes(attrs []attribute.KeyValue) []attribute.KeyValue {
	if r.mode == ModeNone {
		return attrs
	}

	redacted := make([]attribute.KeyValue, len(attrs))
	for i, attr := range attrs {
		key := string(attr.Key)

		if r.shouldRedactKey(key) {
			redacted[i] = attribute.String(key, Placeholder)
			continue
		}

		if attr.Value.Type() == attribute.STRING {
			redacted[i] = attribute.String(key, r.RedactString(attr.Value.AsString()))
		} else if r.mode == ModeStrict {
			redacted[i] = attribute.String(key, Placeholder)
		} else {
			redacted[i] = attr
		}
	}
	return redacted
}

// shouldRedactKey checks if an attribute key indicates sensitive data.
func (r *Redactor) shouldRedactKey(key string) bool {
	lowerKey := strings.ToLower(key)
	sensitiveKeys := []string{
		"secret", "token",
		"authorization", "password",
		"cookie", "state_json",
		"refresh", "code_verifier",
	}

	for _, sensitive := range sensitiveKeys {
		if strings.Contains(lowerKey, sensitive) {
			return true
		}
	}
	return false
}
