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

// Package sharepoint writes tables into new Word documents in a SharePoint
// document library through Microsoft Graph.
//
// Graph has no incremental edit API for Word content, so cell batches are
// applied to an in-memory grid and the finished package is uploaded once
// every batch has been applied.
package sharepoint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/tombee/docrelay/internal/log"
	"github.com/tombee/docrelay/internal/pipeline"
	"github.com/tombee/docrelay/internal/redact"
	"github.com/tombee/docrelay/internal/transport"
	relayerrors "github.com/tombee/docrelay/pkg/errors"
)

// Name is the destination name.
const Name = "sharepoint_word"

// MimeType is the MIME type of a Word document.
const MimeType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

// DefaultGraphURL is the Microsoft Graph v1.0 endpoint.
const DefaultGraphURL = "https://graph.microsoft.com/v1.0"

// Scopes are the OAuth scopes the destination needs.
var Scopes = []string{
	"https://graph.microsoft.com/Files.ReadWrite.All",
	"https://graph.microsoft.com/Sites.ReadWrite.All",
	"offline_access",
}

// Config configures a Client.
type Config struct {
	GraphURL    string
	Timeout     time.Duration
	RateLimiter transport.RateLimiter
	Base        http.RoundTripper
}

// Client uploads one document on behalf of one user. It is not safe for
// concurrent use; one execute owns one client.
type Client struct {
	graph  transport.Transport
	logger *slog.Logger

	itemPath string
	docID    string
	table    *Grid
}

// New returns a Client that authenticates with ts.
func New(cfg Config, ts oauth2.TokenSource, logger *slog.Logger) (*Client, error) {
	if cfg.GraphURL == "" {
		cfg.GraphURL = DefaultGraphURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	graph, err := transport.NewHTTPTransport(&transport.HTTPTransportConfig{
		BaseURL:     cfg.GraphURL,
		Timeout:     cfg.Timeout,
		TokenSource: ts,
		RateLimiter: cfg.RateLimiter,
		Base:        cfg.Base,
	})
	if err != nil {
		return nil, relayerrors.Wrap(err, "creating graph transport")
	}
	return &Client{graph: graph, logger: log.WithComponent(logger, Name)}, nil
}

// Name implements pipeline.Destination.
func (c *Client) Name() string { return Name }

// Scopes implements pipeline.Destination.
func (c *Client) Scopes() []string { return Scopes }

// Addressing implements pipeline.Destination. Cells are set by row and column.
func (c *Client) Addressing() pipeline.Addressing { return pipeline.AbsoluteAddressing }

// forbiddenNameChars are rejected by SharePoint and OneDrive in item names.
var forbiddenNameChars = strings.NewReplacer(
	`"`, "_", "*", "_", ":", "_", "<", "_", ">", "_",
	"?", "_", "/", "_", `\`, "_", "|", "_",
)

// DocxName replaces characters SharePoint forbids in file names and appends
// the .docx extension when name lacks it.
func DocxName(name string) string {
	name = forbiddenNameChars.Replace(name)
	if strings.EqualFold(path.Ext(name), ".docx") {
		return name
	}
	return name + ".docx"
}

type driveItem struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Create implements pipeline.Destination. It uploads an empty document to
// spec.Params["site"] / spec.Params["library"] so that the name is claimed
// and permission problems surface before any work is done.
func (c *Client) Create(ctx context.Context, spec pipeline.DocumentSpec) (string, error) {
	site, library := spec.Params["site"], spec.Params["library"]
	if site == "" {
		return "", &relayerrors.ValidationError{Field: "site", Message: "SharePoint site is required"}
	}
	if library == "" {
		return "", &relayerrors.ValidationError{Field: "library", Message: "document library is required"}
	}

	folder := ""
	if spec.Container != "" && spec.Container != pipeline.RootContainer {
		folder = strings.Trim(spec.Container, "/") + "/"
	}

	var empty bytes.Buffer
	if err := NewGrid(0, 0, 0).WriteDocx(&empty); err != nil {
		return "", relayerrors.Wrap(err, "rendering empty document")
	}

	target := fmt.Sprintf("/sites/%s/drives/%s/root:/%s%s:/content",
		url.PathEscape(site), url.PathEscape(library), pathEscapeSegments(folder), url.PathEscape(DocxName(spec.Name)))

	var item driveItem
	if err := c.upload(ctx, "create", target, empty.Bytes(), &item); err != nil {
		return "", err
	}
	if item.ID != "" {
		c.itemPath = fmt.Sprintf("/sites/%s/drives/%s/items/%s/content",
			url.PathEscape(site), url.PathEscape(library), url.PathEscape(item.ID))
		c.docID = item.ID
	}
	return item.ID, nil
}

func pathEscapeSegments(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

// Apply implements pipeline.Destination. Batches are applied to the local
// grid; nothing is sent until Finalize.
func (c *Client) Apply(ctx context.Context, documentID string, batch pipeline.Batch) error {
	if documentID != c.docID {
		return fmt.Errorf("document %s was not created by this client", documentID)
	}

	switch batch.Kind {
	case pipeline.KindStructure:
		c.table = NewGrid(batch.Plan.Rows, batch.Plan.Columns, batch.Plan.HeaderColumns)
	case pipeline.KindCells:
		if c.table == nil {
			return errors.New("cell batch applied before table structure")
		}
		for _, e := range batch.Edits {
			if err := c.table.Set(e.Row, e.Column, e.Text, e.Bold); err != nil {
				return err
			}
		}
	case pipeline.KindPostProcess:
		if c.table == nil {
			return errors.New("post-processing applied before table structure")
		}
		c.table.Styled = true
	}
	return nil
}

// Finalize implements pipeline.Finalizer by uploading the rendered document
// over the placeholder created earlier.
func (c *Client) Finalize(ctx context.Context, documentID string, plan *pipeline.Plan) error {
	if c.table == nil || documentID != c.docID {
		return fmt.Errorf("no table assembled for document %s", documentID)
	}

	var buf bytes.Buffer
	if err := c.table.WriteDocx(&buf); err != nil {
		return relayerrors.Wrap(err, "rendering document")
	}
	c.logger.Debug("uploading document",
		slog.String(log.DocumentIDKey, documentID),
		slog.Int("bytes", buf.Len()),
		slog.Int("cells", plan.Cells()),
	)
	return c.upload(ctx, "upload", c.itemPath, buf.Bytes(), nil)
}

func (c *Client) upload(ctx context.Context, op, target string, body []byte, out any) error {
	resp, err := c.graph.Execute(ctx, &transport.Request{
		Method:  http.MethodPut,
		URL:     target,
		Headers: map[string]string{"Content-Type": MimeType},
		Body:    body,
	})
	if err != nil {
		err = remoteError(op, err)
		c.logger.Debug("graph call failed", slog.String("operation", op), log.Error(err))
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

// graphError is Graph's JSON error envelope.
type graphError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

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
	var body graphError
	if len(te.Body) > 0 && json.Unmarshal(te.Body, &body) == nil {
		remote.Message = redact.String(body.Error.Message)
		remote.Reason = body.Error.Code
	}
	return remote
}
