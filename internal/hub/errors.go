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

import (
	"fmt"
)

// ErrorLocation is reported as the origin of every action error.
const ErrorLocation = "ActionContainer"

// DocumentationURL is the documentation link the orchestrator expects on
// every error. It is a fixed placeholder in the protocol.
const DocumentationURL = "TODO"

// HTTPError is one row of the protocol's error table.
type HTTPError struct {
	Code        int
	Status      string
	Description string
}

// The error table.
var (
	BadRequest       = HTTPError{400, "BAD_REQUEST", "Server cannot process request due to client request error."}
	Unauthenticated  = HTTPError{401, "UNAUTHENTICATED", "Request not authenticated due to missing, invalid, or expired credentials."}
	PermissionDenied = HTTPError{403, "PERMISSION_DENIED", "Client does not have sufficient permission."}
	NotFound         = HTTPError{404, "NOT_FOUND", "A specified resource is not found."}
	Conflict         = HTTPError{409, "ALREADY_EXISTS", "The resource that a client tried to create already exists."}
	TooManyRequests  = HTTPError{429, "RESOURCE_EXHAUSTED", "Either out of resource quota or reaching rate limiting."}
	Internal         = HTTPError{500, "INTERNAL", "Internal server error."}
	BadGateway       = HTTPError{502, "BAD_GATEWAY", "Invalid response from an upstream server."}
	Unavailable      = HTTPError{503, "UNAVAILABLE", "Service unavailable."}
	Timeout          = HTTPError{504, "DEADLINE_EXCEEDED", "Request deadline exceeded."}
)

var errorsByCode = map[int]HTTPError{
	400: BadRequest,
	401: Unauthenticated,
	403: PermissionDenied,
	404: NotFound,
	409: Conflict,
	429: TooManyRequests,
	500: Internal,
	502: BadGateway,
	503: Unavailable,
	504: Timeout,
}

// ErrorTypeFor maps a status code onto the table. Unknown codes map to
// Internal.
func ErrorTypeFor(code int) HTTPError {
	if t, ok := errorsByCode[code]; ok {
		return t
	}
	return Internal
}

// Error is the structured error of a failed action response.
type Error struct {
	DocumentationURL string `json:"documentation_url"`
	HTTPCode         int    `json:"http_code"`
	Location         string `json:"location"`
	Message          string `json:"message"`
	StatusCode       string `json:"status_code"`
}

// ErrorWith builds an Error of type t. The message is prefixed with the
// type's description.
func ErrorWith(t HTTPError, message string) Error {
	return Error{
		DocumentationURL: DocumentationURL,
		HTTPCode:         t.Code,
		Location:         ErrorLocation,
		Message:          fmt.Sprintf("%s %s", t.Description, message),
		StatusCode:       t.Status,
	}
}
