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

// Package hub defines the wire protocol spoken with the host orchestrator:
// action requests, responses, forms and the structured error table.
package hub

import (
	"encoding/json"
	"io"
	"strings"
)

// ActionType is a kind of payload an action accepts.
type ActionType string

// Supported action types.
const (
	ActionTypeQuery ActionType = "query"
)

// ActionFormat is a data format an action accepts.
type ActionFormat string

// Supported formats.
const (
	FormatCSV ActionFormat = "csv"
)

// ScheduledPlan carries the schedule that triggered a request.
type ScheduledPlan struct {
	Title     string `json:"title,omitempty"`
	URL       string `json:"url,omitempty"`
	WebhookID string `json:"webhook_id,omitempty"`
}

// Attachment is the inline form of the request payload.
type Attachment struct {
	Data      string `json:"data,omitempty"`
	MimeType  string `json:"mime_type,omitempty"`
	Extension string `json:"extension,omitempty"`
	Filename  string `json:"filename,omitempty"`
}

// Request is an action request from the orchestrator.
type Request struct {
	Type          ActionType        `json:"type,omitempty"`
	Params        map[string]string `json:"data,omitempty"`
	FormParams    map[string]string `json:"form_params,omitempty"`
	ScheduledPlan *ScheduledPlan    `json:"scheduled_plan,omitempty"`
	Attachment    *Attachment       `json:"attachment,omitempty"`
	WebhookID     string            `json:"webhook_id,omitempty"`

	// stream is set when the payload arrives as a separate streamed part.
	stream io.Reader
}

// DecodeRequest reads a JSON request body.
func DecodeRequest(r io.Reader) (*Request, error) {
	var req Request
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, err
	}
	req.normalize()
	return &req, nil
}

func (r *Request) normalize() {
	if r.Params == nil {
		r.Params = map[string]string{}
	}
	if r.FormParams == nil {
		r.FormParams = map[string]string{}
	}
	if r.WebhookID == "" && r.ScheduledPlan != nil {
		r.WebhookID = r.ScheduledPlan.WebhookID
	}
}

// SetStream attaches a streamed payload. It takes precedence over the
// inline attachment data.
func (r *Request) SetStream(stream io.Reader) {
	r.stream = stream
}

// Data returns the payload reader, or nil when the request carries none.
func (r *Request) Data() io.Reader {
	if r.stream != nil {
		return r.stream
	}
	if r.Attachment != nil {
		return strings.NewReader(r.Attachment.Data)
	}
	return nil
}

// Param returns a request parameter.
func (r *Request) Param(name string) string {
	return r.Params[name]
}

// FormParam returns a form parameter.
func (r *Request) FormParam(name string) string {
	return r.FormParams[name]
}

// SuggestedFilename derives a document name from the scheduled plan title,
// falling back to the attachment's own filename.
func (r *Request) SuggestedFilename() string {
	if r.ScheduledPlan != nil && strings.TrimSpace(r.ScheduledPlan.Title) != "" {
		title := strings.TrimSpace(r.ScheduledPlan.Title)
		if r.Attachment != nil && r.Attachment.Extension != "" {
			return title + "." + r.Attachment.Extension
		}
		return title
	}
	if r.Attachment != nil {
		return r.Attachment.Filename
	}
	return ""
}
