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

// Package action binds a destination, its OAuth handshake and the batch
// pipeline into an action the orchestrator can list, render a form for,
// and execute.
package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/oauth2"

	"github.com/tombee/docrelay/internal/hub"
	"github.com/tombee/docrelay/internal/log"
	"github.com/tombee/docrelay/internal/oauth"
	"github.com/tombee/docrelay/internal/pipeline"
	"github.com/tombee/docrelay/internal/redact"
	"github.com/tombee/docrelay/internal/retry"
	"github.com/tombee/docrelay/internal/table"
	relayerrors "github.com/tombee/docrelay/pkg/errors"
)

// Response messages the orchestrator shows to users.
const (
	MsgNoState       = "No state found with oauth credentials."
	MsgNoTokens      = "Request did not have necessary oauth tokens saved. Fast failing"
	msgFilenameError = "Error creating file name"
)

// Metadata describes an action in the listing.
type Metadata struct {
	Name        string
	Label       string
	Description string
	MimeType    string
}

// LogPrefix is the tag used in user-facing error messages, e.g. "[GOOGLE_DOCS]".
func (m Metadata) LogPrefix() string {
	return "[" + strings.ToUpper(m.Name) + "]"
}

// Vendor builds the per-request pieces that differ between destinations.
type Vendor interface {
	// Destination returns a destination authenticated with ts.
	Destination(ts oauth2.TokenSource, logger *slog.Logger) (pipeline.Destination, error)

	// Fields returns the form fields shown once the user is logged in.
	Fields(ctx context.Context, ts oauth2.TokenSource, req *hub.Request, exec *retry.Executor) ([]hub.Field, error)
}

// Options configures a DocumentAction.
type Options struct {
	Metadata  Metadata
	Handshake *oauth.Handshake
	Vendor    Vendor

	// Retry is the policy applied to every vendor call after create.
	Retry retry.Policy

	// MaxBatchOperations caps operations per mutation request.
	MaxBatchOperations int

	// RetryOptions are passed to every executor (tests inject a sleeper).
	RetryOptions []retry.Option

	// PipelineOptions are passed to every pipeline.
	PipelineOptions []pipeline.Option

	Logger *slog.Logger
}

// DocumentAction uploads a table into a new document at one destination.
type DocumentAction struct {
	meta      Metadata
	handshake *oauth.Handshake
	vendor    Vendor
	policy    retry.Policy
	maxOps    int
	retryOpts []retry.Option
	pipeOpts  []pipeline.Option
	logger    *slog.Logger
}

// New validates opts and returns a DocumentAction.
func New(opts Options) (*DocumentAction, error) {
	if opts.Metadata.Name == "" {
		return nil, &relayerrors.ConfigError{Key: "action", Reason: "action name is required"}
	}
	if opts.Handshake == nil || opts.Vendor == nil {
		return nil, &relayerrors.ConfigError{Key: "destinations." + opts.Metadata.Name, Reason: "handshake and vendor are required"}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxBatchOperations <= 0 {
		opts.MaxBatchOperations = pipeline.DefaultMaxBatchOps
	}
	return &DocumentAction{
		meta:      opts.Metadata,
		handshake: opts.Handshake,
		vendor:    opts.Vendor,
		policy:    opts.Retry,
		maxOps:    opts.MaxBatchOperations,
		retryOpts: append([]retry.Option{retry.WithService(opts.Metadata.Name)}, opts.RetryOptions...),
		pipeOpts:  opts.PipelineOptions,
		logger:    log.WithComponent(logger, "action"),
	}, nil
}

// Name returns the action name.
func (a *DocumentAction) Name() string { return a.meta.Name }

// Metadata returns the listing metadata.
func (a *DocumentAction) Metadata() Metadata { return a.meta }

// Handshake returns the action's OAuth handshake.
func (a *DocumentAction) Handshake() *oauth.Handshake { return a.handshake }

// Integration describes the action for the listing at baseURL.
func (a *DocumentAction) Integration(baseURL string) hub.Integration {
	base := strings.TrimRight(baseURL, "/") + "/actions/" + a.meta.Name
	return hub.Integration{
		Name:                 a.meta.Name,
		Label:                a.meta.Label,
		Description:          a.meta.Description,
		URL:                  base + "/execute",
		FormURL:              base + "/form",
		SupportedActionTypes: []hub.ActionType{hub.ActionTypeQuery},
		SupportedFormats:     []hub.ActionFormat{hub.FormatCSV},
		MimeType:             a.meta.MimeType,
		UsesOAuth:            true,
	}
}

func (a *DocumentAction) executor(logger *slog.Logger) *retry.Executor {
	return retry.NewExecutor(a.policy, logger, a.retryOpts...)
}

// credentials extracts and checks the stored credentials.
func (a *DocumentAction) credentials(req *hub.Request) (oauth.Credentials, error) {
	creds, err := oauth.ParseCredentials(req.Param("state_json"))
	if err != nil {
		return creds, err
	}
	return creds, a.handshake.Check(creds)
}

// Execute builds a document from the request payload. Failures are
// reported in the response, never as a Go error.
func (a *DocumentAction) Execute(ctx context.Context, req *hub.Request) *hub.Response {
	resp := hub.NewResponse()
	logger := log.WithAction(a.logger, a.meta.Name, req.WebhookID)

	if req.Param("state_json") == "" {
		logger.Info("no state json found")
		return resp.Reset(MsgNoState)
	}

	creds, err := a.credentials(req)
	if err != nil {
		logger.Info("request did not have oauth tokens present", log.Error(redact.Error(err)))
		return resp.Reset(MsgNoTokens)
	}

	filename := SanitizeFilename(req.FormParam("filename"))
	if filename == "" {
		filename = SanitizeFilename(req.SuggestedFilename())
	}
	if filename == "" {
		e := hub.ErrorWith(hub.BadRequest, a.meta.LogPrefix()+" "+msgFilenameError)
		logger.Error(e.Message)
		return resp.Fail(e, e.Message, req.WebhookID)
	}

	data := req.Data()
	if data == nil {
		data = strings.NewReader("")
	}

	dest, err := a.vendor.Destination(a.handshake.TokenSource(ctx, creds), logger)
	if err != nil {
		return a.fail(resp, req, logger, err)
	}

	spec := pipeline.DocumentSpec{
		Name:      filename,
		Container: pipeline.ResolveContainer(req.FormParam("folderid"), req.FormParam("folder")),
		Params:    req.FormParams,
	}

	p := pipeline.New(dest, a.executor(logger), a.maxOps, logger, a.pipeOpts...)
	res, err := p.Run(ctx, spec, data)
	if err != nil {
		return a.fail(resp, req, logger, err)
	}

	log.WithDocument(logger, res.DocumentID).Info("execute complete",
		slog.Int("rows", res.Rows),
		slog.Int("columns", res.Columns),
		slog.Int("batches", res.Batches))
	resp.Success = true
	return resp
}

// fail maps err onto the protocol error table. Vendor failures carry the
// vendor's status code and message; input problems are bad requests.
func (a *DocumentAction) fail(resp *hub.Response, req *hub.Request, logger *slog.Logger, err error) *hub.Response {
	err = redact.Error(err)
	prefix := a.meta.LogPrefix()

	errType := hub.ErrorTypeFor(relayerrors.StatusCode(err))
	if isInputError(err) {
		errType = hub.BadRequest
	}

	e := hub.ErrorWith(errType, fmt.Sprintf("%s %s", prefix, err.Error()))
	message := err.Error()

	var remote *relayerrors.RemoteError
	if errors.As(err, &remote) && remote.StatusCode > 0 && remote.Message != "" {
		e.HTTPCode = remote.StatusCode
		message = remote.Message
	}

	// A failure after create leaves a document behind; say so.
	var partial *pipeline.PartialWriteError
	if errors.As(err, &partial) {
		message = redact.String(partial.UserMessage())
	}
	if message != err.Error() {
		e.Message = fmt.Sprintf("%s %s %s", errType.Description, prefix, message)
	}

	logger.Error(e.Message, slog.Int("http_code", e.HTTPCode), log.Error(err))
	return resp.Fail(e, message, req.WebhookID)
}

func isInputError(err error) bool {
	var parseErr *table.ParseError
	var validationErr *relayerrors.ValidationError
	return errors.Is(err, pipeline.ErrNoData) ||
		errors.As(err, &parseErr) ||
		errors.As(err, &validationErr)
}

// Form returns the login form until valid credentials are stored, then
// the destination form. The form state carries the credentials back,
// refreshed when the access token was renewed.
func (a *DocumentAction) Form(ctx context.Context, req *hub.Request) (*hub.Form, error) {
	logger := log.WithAction(a.logger, a.meta.Name, req.WebhookID)

	if req.Param("state_json") != "" {
		form, err := a.loggedInForm(ctx, req, logger)
		if err == nil {
			return form, nil
		}
		logger.Info("falling back to login form", log.Error(redact.Error(err)))
	}

	callbackURL := req.Param("state_url")
	if callbackURL == "" {
		return nil, &relayerrors.ValidationError{Field: "state_url", Message: "state_url is required to start a login"}
	}
	return a.handshake.LoginForm(callbackURL, req.WebhookID)
}

func (a *DocumentAction) loggedInForm(ctx context.Context, req *hub.Request, logger *slog.Logger) (*hub.Form, error) {
	creds, err := a.credentials(req)
	if err != nil {
		return nil, err
	}

	refreshed, changed, err := a.handshake.Refresh(ctx, creds)
	if err != nil {
		return nil, err
	}

	ts := oauth2.StaticTokenSource(refreshed.Tokens)
	fields, err := a.vendor.Fields(ctx, ts, req, a.executor(logger))
	if err != nil {
		return nil, err
	}

	state := req.Param("state_json")
	if changed {
		if state, err = refreshed.Encode(); err != nil {
			return nil, err
		}
		logger.Debug("access token refreshed")
	}
	return &hub.Form{Fields: fields, State: &hub.State{Data: state}}, nil
}

// SanitizeFilename trims surrounding whitespace. Quotes are kept as typed;
// destinations replace characters their own naming rules forbid.
func SanitizeFilename(name string) string {
	return strings.TrimSpace(name)
}
