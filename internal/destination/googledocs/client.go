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

// Package googledocs writes tables into new Google Docs through the Drive
// and Docs REST APIs.
package googledocs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/tombee/docrelay/internal/log"
	"github.com/tombee/docrelay/internal/pipeline"
	"github.com/tombee/docrelay/internal/redact"
	"github.com/tombee/docrelay/internal/transport"
	relayerrors "github.com/tombee/docrelay/pkg/errors"
)

// Name is the destination name.
const Name = "google_docs"

// MimeType is the Drive MIME type of a Google Doc.
const MimeType = "application/vnd.google-apps.document"

// MyDrive is the drive form value for the user's own drive.
const MyDrive = "mydrive"

// Scopes are the OAuth scopes the destination needs.
var Scopes = []string{
	"https://www.googleapis.com/auth/documents",
	"https://www.googleapis.com/auth/drive",
	"https://www.googleapis.com/auth/userinfo.email",
}

// Default API endpoints.
const (
	DefaultDocsURL  = "https://docs.googleapis.com"
	DefaultDriveURL = "https://www.googleapis.com"
)

// Config configures a Client.
type Config struct {
	DocsURL  string
	DriveURL string
	Timeout  time.Duration

	// RateLimiter is shared by every client of the destination.
	RateLimiter transport.RateLimiter

	// Base is the underlying round tripper. Optional.
	Base http.RoundTripper
}

// Client talks to Drive and Docs on behalf of one user.
type Client struct {
	docs   transport.Transport
	drive  transport.Transport
	logger *slog.Logger
}

// New returns a Client that authenticates with ts.
func New(cfg Config, ts oauth2.TokenSource, logger *slog.Logger) (*Client, error) {
	if cfg.DocsURL == "" {
		cfg.DocsURL = DefaultDocsURL
	}
	if cfg.DriveURL == "" {
		cfg.DriveURL = DefaultDriveURL
	}
	if logger == nil {
		logger = slog.Default()
	}

	docs, err := transport.NewHTTPTransport(&transport.HTTPTransportConfig{
		BaseURL:     cfg.DocsURL,
		Timeout:     cfg.Timeout,
		TokenSource: ts,
		RateLimiter: cfg.RateLimiter,
		Base:        cfg.Base,
	})
	if err != nil {
		return nil, relayerrors.Wrap(err, "creating docs transport")
	}
	drive, err := transport.NewHTTPTransport(&transport.HTTPTransportConfig{
		BaseURL:     cfg.DriveURL,
		Timeout:     cfg.Timeout,
		TokenSource: ts,
		RateLimiter: cfg.RateLimiter,
		Base:        cfg.Base,
	})
	if err != nil {
		return nil, relayerrors.Wrap(err, "creating drive transport")
	}

	return &Client{
		docs:   docs,
		drive:  drive,
		logger: log.WithComponent(logger, Name),
	}, nil
}

// Name implements pipeline.Destination.
func (c *Client) Name() string { return Name }

// Scopes implements pipeline.Destination.
func (c *Client) Scopes() []string { return Scopes }

// Addressing implements pipeline.Destination. Docs locates text by offset
// in a flat body.
func (c *Client) Addressing() pipeline.Addressing { return pipeline.OffsetAddressing }

type fileMetadata struct {
	Name     string   `json:"name"`
	MimeType string   `json:"mimeType"`
	Parents  []string `json:"parents,omitempty"`
	DriveID  string   `json:"driveId,omitempty"`
}

// Create implements pipeline.Destination. A spec.Params["drive"] other than
// MyDrive creates the document in that shared drive.
func (c *Client) Create(ctx context.Context, spec pipeline.DocumentSpec) (string, error) {
	meta := fileMetadata{Name: spec.Name, MimeType: MimeType}
	if spec.Container != "" {
		meta.Parents = []string{spec.Container}
	}

	query := url.Values{"fields": {"id"}}
	if drive := spec.Params["drive"]; drive != "" && drive != MyDrive {
		meta.DriveID = drive
		query.Set("supportsAllDrives", "true")
	}

	var file struct {
		ID string `json:"id"`
	}
	if err := c.call(ctx, c.drive, "create", http.MethodPost, "/drive/v3/files?"+query.Encode(), meta, &file); err != nil {
		return "", err
	}
	return file.ID, nil
}

// Apply implements pipeline.Destination with one documents.batchUpdate.
func (c *Client) Apply(ctx context.Context, documentID string, batch pipeline.Batch) error {
	body := struct {
		Requests []Request `json:"requests"`
	}{Requests: Requests(batch)}

	path := fmt.Sprintf("/v1/documents/%s:batchUpdate", url.PathEscape(documentID))
	return c.call(ctx, c.docs, "batch_update", http.MethodPost, path, body, nil)
}

// call sends one JSON request and decodes the response into out.
func (c *Client) call(ctx context.Context, t transport.Transport, op, method, path string, in, out any) error {
	req := &transport.Request{Method: method, URL: path}
	if in != nil {
		body, err := json.Marshal(in)
		if err != nil {
			return relayerrors.Wrapf(err, "encoding %s request", op)
		}
		req.Body = body
	}

	resp, err := t.Execute(ctx, req)
	if err != nil {
		err = remoteError(op, err)
		c.logger.Debug("google api call failed", slog.String("operation", op), log.Error(err))
		return err
	}

	if out != nil {
		if err := json.Unmarshal(resp.Body, out); err != nil {
			return &relayerrors.RemoteError{
				Service:    Name,
				Operation:  op,
				StatusCode: resp.StatusCode,
				Message:    "unexpected response body",
				Cause:      err,
			}
		}
	}
	return nil
}

// apiError is Google's JSON error envelope.
type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
		Errors  []struct {
			Message string `json:"message"`
			Reason  string `json:"reason"`
		} `json:"errors"`
	} `json:"error"`
}

// remoteError turns a transport failure into a *RemoteError carrying
// Google's own message. The first entry of the errors list is preferred
// because it is the most specific.
func remoteError(op string, err error) error {
	var te *transport.TransportError
	if !errors.As(err, &te) {
		return &relayerrors.RemoteError{Service: Name, Operation: op, Cause: redact.Error(err)}
	}

	remote := &relayerrors.RemoteError{
		Service:    Name,
		Operation:  op,
		StatusCode: te.StatusCode,
		Cause:      redact.Error(te),
	}

	var body apiError
	if len(te.Body) > 0 && json.Unmarshal(te.Body, &body) == nil {
		if body.Error.Code != 0 {
			remote.StatusCode = body.Error.Code
		}
		remote.Message = body.Error.Message
		if len(body.Error.Errors) > 0 && body.Error.Errors[0].Message != "" {
			remote.Message = body.Error.Errors[0].Message
			remote.Reason = body.Error.Errors[0].Reason
		}
		remote.Message = redact.String(remote.Message)
	}
	return remote
}
