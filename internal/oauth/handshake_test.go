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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/tombee/docrelay/internal/seal"
	relayerrors "github.com/tombee/docrelay/pkg/errors"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func newSealer(t *testing.T) seal.Sealer {
	t.Helper()
	key, err := seal.GenerateKey()
	require.NoError(t, err)
	s, err := seal.New(seal.ModeAEAD, key)
	require.NoError(t, err)
	return s
}

func newHandshake(t *testing.T, tokenURL string, client *http.Client, logs *bytes.Buffer) *Handshake {
	t.Helper()
	if logs == nil {
		logs = &bytes.Buffer{}
	}
	h, err := New(Config{
		Action:       "google_docs",
		BaseURL:      "https://hub.example.com/",
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		Scopes:       []string{"https://www.googleapis.com/auth/documents"},
		Provider: Provider{
			Name:     "Google",
			Endpoint: oauth2.Endpoint{AuthURL: "https://accounts.example.com/auth", TokenURL: tokenURL, AuthStyle: oauth2.AuthStyleInParams},
			LinkType: "oauth_link_google",
			Prompt:   "consent",
		},
		Sealer:     newSealer(t),
		HTTPClient: client,
		Logger:     slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
	})
	require.NoError(t, err)
	return h
}

func tokenHandler(t *testing.T, access string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"`+access+`","refresh_token":"1//refresh-abc","token_type":"Bearer","expires_in":3600}`)
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Action: "x", ClientID: "id"})
	var cfgErr *relayerrors.ConfigError
	require.True(t, errors.As(err, &cfgErr))

	_, err = New(Config{Action: "x", ClientID: "id", ClientSecret: "s"})
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "seal", cfgErr.Key)
}

func TestLoginForm(t *testing.T) {
	h := newHandshake(t, "https://accounts.example.com/token", nil, nil)

	form, err := h.LoginForm("https://orchestrator.example.com/state/abc", "wh-42")
	require.NoError(t, err)

	require.Len(t, form.Fields, 1)
	field := form.Fields[0]
	assert.Equal(t, "login", field.Name)
	assert.Equal(t, "oauth_link_google", field.Type)
	assert.Contains(t, field.Description, "Google account")
	require.NotNil(t, form.State)
	assert.Equal(t, "reset", form.State.Data)

	u, err := url.Parse(field.OAuthURL)
	require.NoError(t, err)
	assert.Equal(t, "/actions/google_docs/oauth", u.Path)

	state, err := UnsealState(h.cfg.Sealer, u.Query().Get("state"))
	require.NoError(t, err)
	assert.Equal(t, State{StateURL: "https://orchestrator.example.com/state/abc", WebhookID: "wh-42"}, state)
}

func TestAuthURL(t *testing.T) {
	h := newHandshake(t, "https://accounts.example.com/token", nil, nil)

	raw := h.AuthURL(h.RedirectURI(), "sealed-token")
	u, err := url.Parse(raw)
	require.NoError(t, err)

	q := u.Query()
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "consent", q.Get("prompt"))
	assert.Equal(t, "sealed-token", q.Get("state"))
	assert.Equal(t, "https://hub.example.com/actions/google_docs/oauth_redirect", q.Get("redirect_uri"))
	assert.Equal(t, "client-id", q.Get("client_id"))
	assert.Equal(t, "https://www.googleapis.com/auth/documents", q.Get("scope"))
}

func TestComplete_PostsCredentials(t *testing.T) {
	tokenSrv := httptest.NewServer(tokenHandler(t, "ya29.fresh-token"))
	defer tokenSrv.Close()

	var posts atomic.Int32
	var got Credentials
	callback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posts.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer callback.Close()

	h := newHandshake(t, tokenSrv.URL, nil, nil)
	sealed, err := SealState(h.cfg.Sealer, State{StateURL: callback.URL + "/state", WebhookID: "wh-1"})
	require.NoError(t, err)

	err = h.Complete(context.Background(), "auth-code", sealed, h.RedirectURI())
	require.NoError(t, err)

	assert.Equal(t, int32(1), posts.Load())
	require.NotNil(t, got.Tokens)
	assert.Equal(t, "ya29.fresh-token", got.Tokens.AccessToken)
	assert.Equal(t, "1//refresh-abc", got.Tokens.RefreshToken)
	assert.Equal(t, h.RedirectURI(), got.Redirect)
}

func TestComplete_TamperedState(t *testing.T) {
	var exchanged atomic.Bool
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		exchanged.Store(true)
	}))
	defer tokenSrv.Close()

	h := newHandshake(t, tokenSrv.URL, nil, nil)
	sealed, err := SealState(h.cfg.Sealer, State{StateURL: "https://orchestrator.example.com/state"})
	require.NoError(t, err)

	tampered := []byte(sealed)
	tampered[len(tampered)/2] ^= 'A' ^ 'B'
	err = h.Complete(context.Background(), "code", string(tampered), h.RedirectURI())

	var sealErr *relayerrors.SealError
	require.True(t, errors.As(err, &sealErr))
	assert.False(t, exchanged.Load())
}

func TestComplete_StatusBelow100IsSuccess(t *testing.T) {
	const tokenURL = "https://accounts.example.com/token"
	const stateURL = "https://orchestrator.example.com/state"

	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		resp := &http.Response{Header: http.Header{}, Request: r}
		switch r.URL.String() {
		case tokenURL:
			resp.StatusCode = 200
			resp.Header.Set("Content-Type", "application/json")
			resp.Body = io.NopCloser(strings.NewReader(`{"access_token":"ya29.t","token_type":"Bearer"}`))
		case stateURL:
			resp.StatusCode = 99
			resp.Body = io.NopCloser(strings.NewReader(""))
		default:
			t.Fatalf("unexpected request to %s", r.URL)
		}
		return resp, nil
	})}

	logs := &bytes.Buffer{}
	h := newHandshake(t, tokenURL, client, logs)
	sealed, err := SealState(h.cfg.Sealer, State{StateURL: stateURL, WebhookID: "wh-9"})
	require.NoError(t, err)

	require.NoError(t, h.Complete(context.Background(), "code", sealed, h.RedirectURI()))
	assert.Contains(t, logs.String(), "level=WARN")
	assert.Contains(t, logs.String(), "status=99")
	assert.Contains(t, logs.String(), "webhook_id=wh-9")
}

func TestComplete_CallbackErrorIsSanitized(t *testing.T) {
	tokenSrv := httptest.NewServer(tokenHandler(t, "ya29.secret-access"))
	defer tokenSrv.Close()

	callback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write(body) // echo credentials back in the error
	}))
	defer callback.Close()

	logs := &bytes.Buffer{}
	h := newHandshake(t, tokenSrv.URL, nil, logs)
	sealed, err := SealState(h.cfg.Sealer, State{StateURL: callback.URL})
	require.NoError(t, err)

	err = h.Complete(context.Background(), "code", sealed, h.RedirectURI())
	require.Error(t, err)

	var remote *relayerrors.RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, 500, remote.StatusCode)
	assert.NotContains(t, err.Error(), "ya29.secret-access")
	assert.NotContains(t, remote.Cause.Error(), "ya29.secret-access")
	assert.NotContains(t, logs.String(), "ya29.secret-access")
	assert.Contains(t, logs.String(), "level=ERROR")
	assert.Contains(t, logs.String(), "webhook_id=no-id")
}

func TestComplete_ExchangeFailure(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":"invalid_grant"}`)
	}))
	defer tokenSrv.Close()

	var posted atomic.Bool
	callback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posted.Store(true)
	}))
	defer callback.Close()

	h := newHandshake(t, tokenSrv.URL, nil, nil)
	sealed, err := SealState(h.cfg.Sealer, State{StateURL: callback.URL})
	require.NoError(t, err)

	err = h.Complete(context.Background(), "bad-code", sealed, h.RedirectURI())
	var remote *relayerrors.RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, "token_exchange", remote.Operation)
	assert.Equal(t, 400, remote.StatusCode)
	assert.False(t, posted.Load())
}

func TestRefresh(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "1//refresh", r.PostForm.Get("refresh_token"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"ya29.new","token_type":"Bearer","expires_in":3600}`)
	}))
	defer tokenSrv.Close()

	h := newHandshake(t, tokenSrv.URL, nil, nil)
	creds := Credentials{
		Tokens: &oauth2.Token{
			AccessToken:  "ya29.old",
			RefreshToken: "1//refresh",
			Expiry:       time.Now().Add(-time.Hour),
		},
		Redirect: h.RedirectURI(),
	}

	fresh, changed, err := h.Refresh(context.Background(), creds)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "ya29.new", fresh.Tokens.AccessToken)
	assert.Equal(t, h.RedirectURI(), fresh.Redirect)
}

func TestRefresh_StillValid(t *testing.T) {
	h := newHandshake(t, "http://127.0.0.1:1/token", nil, nil)
	creds := Credentials{
		Tokens:   &oauth2.Token{AccessToken: "ya29.current", Expiry: time.Now().Add(time.Hour)},
		Redirect: h.RedirectURI(),
	}

	fresh, changed, err := h.Refresh(context.Background(), creds)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, "ya29.current", fresh.Tokens.AccessToken)
}

func TestCheck(t *testing.T) {
	h := newHandshake(t, "https://accounts.example.com/token", nil, nil)
	assert.NoError(t, h.Check(Credentials{Redirect: h.RedirectURI()}))
	assert.ErrorIs(t, h.Check(Credentials{Redirect: "https://other.example.com/cb"}), ErrRedirectMismatch)
}

func TestParseCredentials(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid", `{"tokens":{"access_token":"a"},"redirect":"https://hub/cb"}`, false},
		{"refresh only", `{"tokens":{"refresh_token":"r"},"redirect":"https://hub/cb"}`, false},
		{"no tokens", `{"redirect":"https://hub/cb"}`, true},
		{"no redirect", `{"tokens":{"access_token":"a"}}`, true},
		{"string tokens", `{"tokens":"access","redirect":"url"}`, true},
		{"not json", `not json`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCredentials(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMissingCredentials)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestUnsealState_RejectsPayloadWithoutURL(t *testing.T) {
	sealer := newSealer(t)
	token, err := sealer.Seal([]byte(`{"webhookId":"x"}`))
	require.NoError(t, err)

	_, err = UnsealState(sealer, token)
	var sealErr *relayerrors.SealError
	assert.True(t, errors.As(err, &sealErr))
}

func TestState_CorrelationID(t *testing.T) {
	assert.Equal(t, "no-id", State{}.CorrelationID())
	assert.Equal(t, "wh", State{WebhookID: "wh"}.CorrelationID())
}

func TestProviders(t *testing.T) {
	assert.Equal(t, "consent", Google().Prompt)
	assert.Contains(t, Google().Endpoint.TokenURL, "googleapis.com")
	assert.Contains(t, Microsoft("").Endpoint.TokenURL, "/common/")
	assert.Contains(t, Microsoft("contoso").Endpoint.AuthURL, "/contoso/")
}
