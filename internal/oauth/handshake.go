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

// Package oauth implements the three-step authorization code handshake.
// The handshake spans independent HTTP requests, possibly days apart, and
// keeps no server-side session: everything it needs travels sealed in the
// OAuth state parameter.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/tombee/docrelay/internal/hub"
	"github.com/tombee/docrelay/internal/log"
	"github.com/tombee/docrelay/internal/redact"
	"github.com/tombee/docrelay/internal/seal"
	"github.com/tombee/docrelay/internal/transport"
	relayerrors "github.com/tombee/docrelay/pkg/errors"
)

// DefaultCallbackTimeout bounds the credential POST to the orchestrator.
const DefaultCallbackTimeout = 30 * time.Second

// Config configures a Handshake.
type Config struct {
	// Action is the action name used in handshake URLs.
	Action string

	// BaseURL is this server's public base URL.
	BaseURL string

	ClientID     string
	ClientSecret string
	Scopes       []string
	Provider     Provider

	// Sealer seals the handshake state.
	Sealer seal.Sealer

	// HTTPClient is used for token exchange and the callback POST.
	// Defaults to http.DefaultClient.
	HTTPClient *http.Client

	// CallbackTimeout bounds the callback POST (default 30s).
	CallbackTimeout time.Duration

	Logger *slog.Logger
}

// Handshake runs the login form, consent redirect and callback steps.
type Handshake struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

// New validates cfg and returns a Handshake.
func New(cfg Config) (*Handshake, error) {
	if cfg.Action == "" {
		return nil, &relayerrors.ConfigError{Key: "action", Reason: "action name is required"}
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, &relayerrors.ConfigError{Key: "destinations." + cfg.Action, Reason: "client_id and client_secret are required"}
	}
	if cfg.Sealer == nil {
		return nil, &relayerrors.ConfigError{Key: "seal", Reason: "a sealer is required"}
	}
	if cfg.CallbackTimeout <= 0 {
		cfg.CallbackTimeout = DefaultCallbackTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Handshake{
		cfg:    cfg,
		client: client,
		logger: log.WithComponent(logger, "oauth"),
	}, nil
}

// RedirectURI is where the vendor sends the user back after consent.
func (h *Handshake) RedirectURI() string {
	return fmt.Sprintf("%s/actions/%s/oauth_redirect", h.cfg.BaseURL, h.cfg.Action)
}

// StartURL is this server's entry into the handshake for a sealed state.
func (h *Handshake) StartURL(sealedState string) string {
	return fmt.Sprintf("%s/actions/%s/oauth?state=%s", h.cfg.BaseURL, h.cfg.Action, url.QueryEscape(sealedState))
}

// OAuth2Config returns the client configuration bound to redirectURI.
func (h *Handshake) OAuth2Config(redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     h.cfg.ClientID,
		ClientSecret: h.cfg.ClientSecret,
		Endpoint:     h.cfg.Provider.Endpoint,
		RedirectURL:  redirectURI,
		Scopes:       h.cfg.Scopes,
	}
}

// LoginForm seals the callback URL and correlation id and returns a form
// whose only field links into the handshake. The form resets stored state.
func (h *Handshake) LoginForm(callbackURL, webhookID string) (*hub.Form, error) {
	logger := log.WithAction(h.logger, h.cfg.Action, webhookID)

	sealed, err := SealState(h.cfg.Sealer, State{StateURL: callbackURL, WebhookID: webhookID})
	if err != nil {
		logger.Error("payload sealing failed", log.Error(redact.Error(err)))
		return nil, err
	}

	startURL := h.StartURL(sealed)
	logger.Debug("login form built")

	return &hub.Form{
		State: &hub.State{Data: hub.ResetState},
		Fields: []hub.Field{{
			Name:  "login",
			Type:  h.cfg.Provider.LinkType,
			Label: "Log in",
			Description: fmt.Sprintf("In order to send to this destination, you will need to log in once to your %s account.",
				h.cfg.Provider.Name),
			OAuthURL: startURL,
		}},
	}, nil
}

// AuthURL returns the vendor consent URL. The sealed state is passed
// through untouched; nothing is retained locally.
func (h *Handshake) AuthURL(redirectURI, sealedState string) string {
	opts := []oauth2.AuthCodeOption{oauth2.AccessTypeOffline}
	if h.cfg.Provider.Prompt != "" {
		opts = append(opts, oauth2.SetAuthURLParam("prompt", h.cfg.Provider.Prompt))
	}
	return h.OAuth2Config(redirectURI).AuthCodeURL(sealedState, opts...)
}

// Complete handles the vendor redirect. It unseals the state, exchanges
// the code, binds the tokens to redirectURI and POSTs them to the
// callback URL exactly once.
//
// A callback response status below 100 is logged as a warning and treated
// as success: the orchestrator has been seen to store the state and still
// reply with one.
func (h *Handshake) Complete(ctx context.Context, code, sealedState, redirectURI string) error {
	state, err := UnsealState(h.cfg.Sealer, sealedState)
	if err != nil {
		h.logger.Error("state unseal failed, check the sealing key configuration",
			log.Error(redact.Error(err)))
		return err
	}
	logger := log.WithAction(h.logger, h.cfg.Action, state.CorrelationID())

	token, err := h.OAuth2Config(redirectURI).Exchange(h.clientContext(ctx), code)
	if err != nil {
		err = redact.Error(err)
		logger.Error("code exchange failed", log.Error(err))
		return &relayerrors.RemoteError{
			Service:    h.cfg.Provider.Name,
			Operation:  "token_exchange",
			StatusCode: retrieveStatus(err),
			Message:    "authorization code exchange failed",
			Cause:      err,
		}
	}

	creds := Credentials{Tokens: token, Redirect: redirectURI}
	if err := h.notify(ctx, state.StateURL, creds, logger); err != nil {
		return err
	}

	logger.Info("oauth login flow complete")
	return nil
}

func (h *Handshake) notify(ctx context.Context, stateURL string, creds Credentials, logger *slog.Logger) error {
	body, err := json.Marshal(creds)
	if err != nil {
		return relayerrors.Wrap(err, "encoding credentials")
	}

	t, err := transport.NewHTTPTransport(&transport.HTTPTransportConfig{
		BaseURL: stateURL,
		Timeout: h.cfg.CallbackTimeout,
		Base:    h.client.Transport,
	})
	if err != nil {
		logger.Error("invalid callback URL", log.Error(redact.Error(err)))
		return &relayerrors.ValidationError{Field: "stateUrl", Message: err.Error()}
	}

	resp, err := t.Execute(ctx, &transport.Request{Method: http.MethodPost, URL: stateURL, Body: body})
	if err != nil {
		return h.notifyError(err, logger)
	}
	if resp.StatusCode < 100 {
		logger.Warn("ignoring state update response with malformed status",
			slog.Int("status", resp.StatusCode))
	}
	return nil
}

func (h *Handshake) notifyError(err error, logger *slog.Logger) error {
	safe := redact.Error(err)
	logger.Error("sending user state to orchestrator failed", log.Error(safe))

	var te *transport.TransportError
	if errors.As(err, &te) && te.IsType(transport.ErrorTypeTimeout) {
		return &relayerrors.TimeoutError{Operation: "callback notification", Duration: h.cfg.CallbackTimeout, Cause: safe}
	}
	return &relayerrors.RemoteError{
		Service:    "orchestrator",
		Operation:  "state_update",
		StatusCode: relayerrors.StatusCode(err),
		Message:    "storing credentials failed",
		Cause:      safe,
	}
}

// Check verifies that creds were issued to this handshake's redirect URI.
func (h *Handshake) Check(creds Credentials) error {
	if creds.Redirect != h.RedirectURI() {
		return ErrRedirectMismatch
	}
	return nil
}

// TokenSource returns a refreshing token source for creds.
func (h *Handshake) TokenSource(ctx context.Context, creds Credentials) oauth2.TokenSource {
	return h.OAuth2Config(creds.Redirect).TokenSource(h.clientContext(ctx), creds.Tokens)
}

// Refresh returns creds with a current access token. The boolean reports
// whether the token changed and the orchestrator should store the result.
func (h *Handshake) Refresh(ctx context.Context, creds Credentials) (Credentials, bool, error) {
	token, err := h.TokenSource(ctx, creds).Token()
	if err != nil {
		err = redact.Error(err)
		return creds, false, &relayerrors.RemoteError{
			Service:    h.cfg.Provider.Name,
			Operation:  "token_refresh",
			StatusCode: retrieveStatus(err),
			Message:    "access token refresh failed",
			Cause:      err,
		}
	}
	changed := creds.Tokens == nil || token.AccessToken != creds.Tokens.AccessToken
	return Credentials{Tokens: token, Redirect: creds.Redirect}, changed, nil
}

// clientContext makes the oauth2 package use our HTTP client.
func (h *Handshake) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, h.client)
}

func retrieveStatus(err error) int {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		return re.Response.StatusCode
	}
	return 0
}
