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

package hub

// ResetState is the state value that tells the orchestrator to discard
// stored credentials and show the login form again.
const ResetState = "reset"

// State is per-user state persisted by the orchestrator.
type State struct {
	Data string `json:"data"`
}

// FieldValidationError flags a single form field.
type FieldValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Response is the result of an execute request.
type Response struct {
	Success          bool                   `json:"success"`
	Message          string                 `json:"message,omitempty"`
	RefreshQuery     bool                   `json:"refresh_query"`
	ValidationErrors []FieldValidationError `json:"validation_errors"`
	Error            *Error                 `json:"error,omitempty"`
	WebhookID        string                 `json:"webhookId,omitempty"`
	State            *State                 `json:"state,omitempty"`
}

// NewResponse returns an empty, unsuccessful response.
func NewResponse() *Response {
	return &Response{ValidationErrors: []FieldValidationError{}}
}

// Reset marks the response as a credential reset.
func (r *Response) Reset(message string) *Response {
	r.Success = false
	r.Message = message
	r.State = &State{Data: ResetState}
	return r
}

// Fail records err as the response outcome.
func (r *Response) Fail(err Error, message, webhookID string) *Response {
	r.Success = false
	r.Error = &err
	r.Message = message
	r.WebhookID = webhookID
	return r
}

// Option is a select field choice.
type Option struct {
	Name  string `json:"name"`
	Label string `json:"label"`
}

// Field types.
const (
	FieldString    = "string"
	FieldSelect    = "select"
	FieldOAuthLink = "oauth_link"
)

// Field is one form field.
type Field struct {
	Name        string   `json:"name"`
	Label       string   `json:"label,omitempty"`
	Description string   `json:"description,omitempty"`
	Type        string   `json:"type,omitempty"`
	Required    bool     `json:"required,omitempty"`
	Default     string   `json:"default,omitempty"`
	Interactive bool     `json:"interactive,omitempty"`
	Options     []Option `json:"options,omitempty"`
	OAuthURL    string   `json:"oauth_url,omitempty"`
}

// Form is the form rendered by the orchestrator before an execute.
type Form struct {
	Fields []Field `json:"fields"`
	State  *State  `json:"state,omitempty"`
	Error  string  `json:"error,omitempty"`
}

// Integration describes a registered action in the listing.
type Integration struct {
	Name                 string         `json:"name"`
	Label                string         `json:"label"`
	Description          string         `json:"description"`
	URL                  string         `json:"url"`
	FormURL              string         `json:"form_url"`
	SupportedActionTypes []ActionType   `json:"supported_action_types"`
	SupportedFormats     []ActionFormat `json:"supported_formats"`
	MimeType             string         `json:"mime_type,omitempty"`
	UsesOAuth            bool           `json:"uses_oauth"`
}

// Listing is the response of the action index.
type Listing struct {
	Label        string        `json:"label"`
	Integrations []Integration `json:"integrations"`
}
