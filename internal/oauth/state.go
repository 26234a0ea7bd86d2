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

package oauth

import (
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/oauth2"

	"github.com/tombee/docrelay/internal/seal"
	relayerrors "github.com/tombee/docrelay/pkg/errors"
)

// NoCorrelationID stands in for a missing webhook id.
const NoCorrelationID = "no-id"

// State is the handshake payload sealed into the authorization URL. It is
// the only thing that survives between the login form and the callback.
type State struct {
	// StateURL is the orchestrator's one-time endpoint for persisting
	// the user's credentials.
	StateURL string `json:"stateUrl"`

	// WebhookID correlates log lines across the handshake.
	WebhookID string `json:"webhookId,omitempty"`
}

// CorrelationID returns the webhook id, or NoCorrelationID.
func (s State) CorrelationID() string {
	if s.WebhookID == "" {
		return NoCorrelationID
	}
	return s.WebhookID
}

// SealState serializes and seals s.
func SealState(sealer seal.Sealer, s State) (string, error) {
	plaintext, err := json.Marshal(s)
	if err != nil {
		return "", &relayerrors.SealError{Op: "seal", Cause: err}
	}
	return sealer.Seal(plaintext)
}

// UnsealState reverses SealState. Any failure, including a payload that
// decrypts but does not parse, is a *SealError.
func UnsealState(sealer seal.Sealer, token string) (State, error) {
	plaintext, err := sealer.Unseal(token)
	if err != nil {
		return State{}, err
	}
	var s State
	if err := json.Unmarshal(plaintext, &s); err != nil {
		return State{}, &relayerrors.SealError{Op: "unseal", Cause: fmt.Errorf("state payload is not valid JSON: %w", err)}
	}
	if s.StateURL == "" {
		return State{}, &relayerrors.SealError{Op: "unseal", Cause: errors.New("state payload has no callback URL")}
	}
	return s, nil
}

// Credentials is what the orchestrator stores for a user and sends back
// on every later request as state_json.
type Credentials struct {
	Tokens   *oauth2.Token `json:"tokens"`
	Redirect string        `json:"redirect"`
}

// ErrMissingCredentials reports state_json without usable tokens.
var ErrMissingCredentials = errors.New("request did not carry oauth tokens")

// ErrRedirectMismatch reports credentials issued for another redirect URI.
var ErrRedirectMismatch = errors.New("credentials were issued for a different redirect URI")

// ParseCredentials decodes state_json. Malformed JSON and payloads without
// an access or refresh token both yield ErrMissingCredentials.
func ParseCredentials(stateJSON string) (Credentials, error) {
	var creds Credentials
	if err := json.Unmarshal([]byte(stateJSON), &creds); err != nil {
		return Credentials{}, fmt.Errorf("%w: %v", ErrMissingCredentials, err)
	}
	if creds.Tokens == nil || (creds.Tokens.AccessToken == "" && creds.Tokens.RefreshToken == "") {
		return Credentials{}, ErrMissingCredentials
	}
	if creds.Redirect == "" {
		return Credentials{}, ErrMissingCredentials
	}
	return creds, nil
}

// Encode serializes c as state_json.
func (c Credentials) Encode() (string, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
