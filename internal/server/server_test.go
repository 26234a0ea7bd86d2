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

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/tombee/docrelay/internal/action"
	"github.com/tombee/docrelay/internal/hub"
	"github.com/tombee/docrelay/internal/oauth"
	"github.com/tombee/docrelay/internal/pipeline"
	"github.com/tombee/docrelay/internal/retry"
	"github.com/tombee/docrelay/internal/seal"
)

const (
	baseURL     = "https://relay.example.com"
	staticToken = "orchestrator-token"
	jwtSecret   = "0123456789abcdef0123456789abcdef"
)

type recordingDest struct {
	mu      sync.Mutex
	names   []string
	batches int
}

func (d *recordingDest) Name() string                    { return "recording" }
func (d *recordingDest) Scopes() []string                { return nil }
func (d *recordingDest) Addressing() pipeline.Addressing { return pipeline.AbsoluteAddressing }

func (d *recordingDest) Create(ctx context.Context, spec pipeline.DocumentSpec) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.names = append(d.names, spec.Name)
	return "doc-1", nil
}

func (d *recordingDest) Apply(ctx context.Context, id string, b pipeline.Batch) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.batches++
	return nil
}

type stubVendor struct{ dest *recordingDest }

func (v *stubVendor) Destination(ts oauth2.TokenSource, logger *slog.Logger) (pipeline.Destination, error) {
	return v.dest, nil
}

func (v *stubVendor) Fields(ctx context.Context, ts oauth2.TokenSource, req *hub.Request, exec *retry.Executor) ([]hub.Field, error) {
	return []hub.Field{{Name: "filename", Type: hub.FieldString, Required: true}}, nil
}

type fixture struct {
	server *Server
	http   *httptest.Server
	dest   *recordingDest
	sealer seal.Sealer
	logs   *bytes.Buffer
}

// newFixture serves one google_docs action whose token endpoint is tokenURL.
func newFixture(t *testing.T, tokenURL string) *fixture {
	t.Helper()
	key, err := seal.GenerateKey()
	require.NoError(t, err)
	sealer, err := seal.New(seal.ModeAEAD, key)
	require.NoError(t, err)

	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	h, err := oauth.New(oauth.Config{
		Action:       "google_docs",
		BaseURL:      baseURL,
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		Provider: oauth.Provider{
			Name:     "Google",
			Endpoint: oauth2.Endpoint{AuthURL: "https://accounts.example.com/auth", TokenURL: tokenURL, AuthStyle: oauth2.AuthStyleInParams},
			LinkType: "oauth_link_google",
			Prompt:   "consent",
		},
		Sealer: sealer,
		Logger: logger,
	})
	require.NoError(t, err)

	dest := &recordingDest{}
	a, err := action.New(action.Options{
		Metadata:  action.GoogleDocsMetadata,
		Handshake: h,
		Vendor:    &stubVendor{dest: dest},
		Retry:     retry.DefaultPolicy(),
		Logger:    logger,
	})
	require.NoError(t, err)

	registry := action.NewRegistry()
	registry.Register(a)

	s := New(Config{BaseURL: baseURL, Token: staticToken, JWTSecret: jwtSecret, Version: "test"}, registry, logger)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	return &fixture{server: s, http: srv, dest: dest, sealer: sealer, logs: logs}
}

func (f *fixture) do(t *testing.T, method, path, contentType string, body io.Reader, auth string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.http.URL+path, body)
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if auth != "" {
		req.Header.Set("Authorization", "Bearer "+auth)
	}
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func credentialsJSON(t *testing.T) string {
	t.Helper()
	creds := oauth.Credentials{
		Tokens:   &oauth2.Token{AccessToken: "ya29.a", RefreshToken: "r", TokenType: "Bearer", Expiry: time.Now().Add(time.Hour)},
		Redirect: baseURL + "/actions/google_docs/oauth_redirect",
	}
	s, err := creds.Encode()
	require.NoError(t, err)
	return s
}

func signJWT(t *testing.T, secret string, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    "orchestrator",
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestHealth(t *testing.T) {
	f := newFixture(t, "http://unused")
	resp := f.do(t, http.MethodGet, "/health", "", nil, "")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestListing_Auth(t *testing.T) {
	f := newFixture(t, "http://unused")

	tests := []struct {
		name string
		auth string
		want int
	}{
		{"no credential", "", http.StatusUnauthorized},
		{"wrong token", "nope", http.StatusUnauthorized},
		{"static token", staticToken, http.StatusOK},
		{"valid jwt", signJWT(t, jwtSecret, time.Now().Add(time.Minute)), http.StatusOK},
		{"expired jwt", signJWT(t, jwtSecret, time.Now().Add(-time.Hour)), http.StatusUnauthorized},
		{"jwt with other secret", signJWT(t, "another-secret-another-secret-12", time.Now().Add(time.Minute)), http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.do(t, http.MethodPost, "/", "", nil, tt.auth)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestListing(t *testing.T) {
	f := newFixture(t, "http://unused")
	resp := f.do(t, http.MethodGet, "/", "", nil, staticToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var listing hub.Listing
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listing))
	assert.Equal(t, ListingLabel, listing.Label)
	require.Len(t, listing.Integrations, 1)
	assert.Equal(t, "google_docs", listing.Integrations[0].Name)
	assert.Equal(t, baseURL+"/actions/google_docs/execute", listing.Integrations[0].URL)
}

func TestForm_Login(t *testing.T) {
	f := newFixture(t, "http://unused")
	body := `{"data":{"state_url":"https://hub.example.com/state/1"},"webhook_id":"wh-1"}`
	resp := f.do(t, http.MethodPost, "/actions/google_docs/form", "application/json", strings.NewReader(body), staticToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var form hub.Form
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&form))
	require.Len(t, form.Fields, 1)
	assert.Equal(t, "oauth_link_google", form.Fields[0].Type)
	assert.True(t, strings.HasPrefix(form.Fields[0].OAuthURL, baseURL+"/actions/google_docs/oauth?state="))
}

func TestForm_MissingStateURL(t *testing.T) {
	f := newFixture(t, "http://unused")
	resp := f.do(t, http.MethodPost, "/actions/google_docs/form", "application/json", strings.NewReader(`{}`), staticToken)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUnknownAction(t *testing.T) {
	f := newFixture(t, "http://unused")
	resp := f.do(t, http.MethodPost, "/actions/nope/form", "application/json", strings.NewReader(`{}`), staticToken)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestOAuthStart_RedirectsToConsent(t *testing.T) {
	f := newFixture(t, "http://unused")
	resp := f.do(t, http.MethodGet, "/actions/google_docs/oauth?state=sealed-token", "", nil, "")

	require.Equal(t, http.StatusFound, resp.StatusCode)
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "accounts.example.com", loc.Host)
	assert.Equal(t, "sealed-token", loc.Query().Get("state"))
	assert.Equal(t, "offline", loc.Query().Get("access_type"))
	assert.Equal(t, "consent", loc.Query().Get("prompt"))
	assert.Equal(t, baseURL+"/actions/google_docs/oauth_redirect", loc.Query().Get("redirect_uri"))

	missing := f.do(t, http.MethodGet, "/actions/google_docs/oauth", "", nil, "")
	assert.Equal(t, http.StatusBadRequest, missing.StatusCode)
}

func TestOAuthRedirect_Completes(t *testing.T) {
	var posted []byte
	vendor := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token":
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"access_token":"ya29.new","refresh_token":"1//r","token_type":"Bearer","expires_in":3600}`)
		case "/state":
			posted, _ = io.ReadAll(r.Body)
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer vendor.Close()

	f := newFixture(t, vendor.URL+"/token")
	sealed, err := oauth.SealState(f.sealer, oauth.State{StateURL: vendor.URL + "/state", WebhookID: "wh-7"})
	require.NoError(t, err)

	resp := f.do(t, http.MethodGet, "/actions/google_docs/oauth_redirect?code=auth-code&state="+url.QueryEscape(sealed), "", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")

	creds, err := oauth.ParseCredentials(string(posted))
	require.NoError(t, err)
	assert.Equal(t, "ya29.new", creds.Tokens.AccessToken)
	assert.Equal(t, baseURL+"/actions/google_docs/oauth_redirect", creds.Redirect)
}

func TestOAuthRedirect_Errors(t *testing.T) {
	f := newFixture(t, "http://unused")

	tampered := f.do(t, http.MethodGet, "/actions/google_docs/oauth_redirect?code=c&state=not-sealed", "", nil, "")
	assert.Equal(t, http.StatusBadRequest, tampered.StatusCode)

	declined := f.do(t, http.MethodGet, "/actions/google_docs/oauth_redirect?error=access_denied", "", nil, "")
	assert.Equal(t, http.StatusBadRequest, declined.StatusCode)

	missing := f.do(t, http.MethodGet, "/actions/google_docs/oauth_redirect?code=c", "", nil, "")
	assert.Equal(t, http.StatusBadRequest, missing.StatusCode)
}

func TestExecute_JSON(t *testing.T) {
	f := newFixture(t, "http://unused")

	payload, err := json.Marshal(map[string]any{
		"data":        map[string]string{"state_json": credentialsJSON(t)},
		"form_params": map[string]string{"filename": "inline"},
		"attachment":  map[string]string{"data": "a,b\n1,2\n"},
		"webhook_id":  "wh-1",
	})
	require.NoError(t, err)

	resp := f.do(t, http.MethodPost, "/actions/google_docs/execute", "application/json", bytes.NewReader(payload), staticToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out hub.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.True(t, out.Success, out.Message)
	assert.Equal(t, []string{"inline"}, f.dest.names)
	assert.Equal(t, 3, f.dest.batches)
}

func TestExecute_MultipartStream(t *testing.T) {
	f := newFixture(t, "http://unused")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	reqPart, err := mw.CreateFormField(PartRequest)
	require.NoError(t, err)
	require.NoError(t, json.NewEncoder(reqPart).Encode(map[string]any{
		"data":        map[string]string{"state_json": credentialsJSON(t)},
		"form_params": map[string]string{"filename": "streamed"},
	}))
	dataPart, err := mw.CreateFormFile(PartData, "result.csv")
	require.NoError(t, err)
	_, err = io.WriteString(dataPart, "h\nv1\nv2\n")
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp := f.do(t, http.MethodPost, "/actions/google_docs/execute", mw.FormDataContentType(), &buf, staticToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out hub.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.True(t, out.Success, out.Message)
	assert.Equal(t, []string{"streamed"}, f.dest.names)
}

func TestExecute_MultipartDataFirst(t *testing.T) {
	f := newFixture(t, "http://unused")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	dataPart, err := mw.CreateFormFile(PartData, "result.csv")
	require.NoError(t, err)
	_, _ = io.WriteString(dataPart, "h\nv\n")
	require.NoError(t, mw.Close())

	resp := f.do(t, http.MethodPost, "/actions/google_docs/execute", mw.FormDataContentType(), &buf, staticToken)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, f.dest.names)
}

func TestExecute_ResetIsNotHTTPError(t *testing.T) {
	f := newFixture(t, "http://unused")
	resp := f.do(t, http.MethodPost, "/actions/google_docs/execute", "application/json", strings.NewReader(`{"webhook_id":"wh-1"}`), staticToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out hub.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.False(t, out.Success)
	require.NotNil(t, out.State)
	assert.Equal(t, hub.ResetState, out.State.Data)
}

func TestMetrics(t *testing.T) {
	f := newFixture(t, "http://unused")
	_ = f.do(t, http.MethodGet, "/health", "", nil, "")

	resp := f.do(t, http.MethodGet, "/metrics", "", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "docrelay_http_requests_total")
}

func TestServe_Shutdown(t *testing.T) {
	f := newFixture(t, "http://unused")
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- f.server.Run(ctx)
	}()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header  string
		want    string
		wantErr bool
	}{
		{"Bearer abc", "abc", false},
		{"bearer abc", "abc", false},
		{"BEARER abc", "abc", false},
		{"Basic abc", "", true},
		{"Bearer   ", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			got, err := ExtractBearerToken(r)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAuthenticator_Disabled(t *testing.T) {
	a := NewAuthenticator("", "")
	assert.False(t, a.Enabled())
	assert.NoError(t, a.Authenticate(httptest.NewRequest(http.MethodGet, "/", nil)))
}
