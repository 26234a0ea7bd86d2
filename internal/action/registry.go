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

package action

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/tombee/docrelay/internal/config"
	"github.com/tombee/docrelay/internal/destination/googledocs"
	"github.com/tombee/docrelay/internal/destination/sharepoint"
	"github.com/tombee/docrelay/internal/oauth"
	"github.com/tombee/docrelay/internal/retry"
	"github.com/tombee/docrelay/internal/seal"
	"github.com/tombee/docrelay/internal/transport"
	relayerrors "github.com/tombee/docrelay/pkg/errors"
)

// Registry holds the actions this server exposes.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]*DocumentAction
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]*DocumentAction)}
}

// Register adds a, replacing any action of the same name.
func (r *Registry) Register(a *DocumentAction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[a.Name()] = a
}

// Get retrieves an action by name.
func (r *Registry) Get(name string) (*DocumentAction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.actions[name]
	if !ok {
		return nil, &relayerrors.NotFoundError{Resource: "action", ID: name}
	}
	return a, nil
}

// List returns all actions sorted by name.
func (r *Registry) List() []*DocumentAction {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]*DocumentAction, 0, len(r.actions))
	for _, a := range r.actions {
		list = append(list, a)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name() < list[j].Name() })
	return list
}

// Endpoints overrides vendor API base URLs. Empty fields use the defaults.
type Endpoints struct {
	GoogleDocs     string
	GoogleDrive    string
	Graph          string
	GoogleOAuth    *oauth.Provider
	MicrosoftOAuth *oauth.Provider
}

// Deps are the process-wide collaborators every action shares.
type Deps struct {
	BaseURL string
	Sealer  seal.Sealer

	// HTTPClient is used for token exchange, the callback POST and vendor calls.
	HTTPClient *http.Client

	// Timeout bounds each vendor request.
	Timeout time.Duration

	Endpoints    Endpoints
	RetryOptions []retry.Option
	Logger       *slog.Logger
}

func (d Deps) roundTripper() http.RoundTripper {
	if d.HTTPClient == nil {
		return nil
	}
	return d.HTTPClient.Transport
}

// Google Docs metadata.
var GoogleDocsMetadata = Metadata{
	Name:        googledocs.Name,
	Label:       "Google Docs",
	Description: "Create a new Google Doc with data in a table.",
	MimeType:    googledocs.MimeType,
}

// SharePoint Word metadata.
var SharePointWordMetadata = Metadata{
	Name:        sharepoint.Name,
	Label:       "SharePoint Word",
	Description: "Create a new Word document with data in a table.",
	MimeType:    sharepoint.MimeType,
}

// NewGoogleDocs builds the google_docs action.
func NewGoogleDocs(dc config.DestinationConfig, deps Deps) (*DocumentAction, error) {
	provider := oauth.Google()
	if deps.Endpoints.GoogleOAuth != nil {
		provider = *deps.Endpoints.GoogleOAuth
	}
	vendor := &GoogleDocsVendor{Config: googledocs.Config{
		DocsURL:     deps.Endpoints.GoogleDocs,
		DriveURL:    deps.Endpoints.GoogleDrive,
		Timeout:     deps.Timeout,
		RateLimiter: transport.NewRateLimiter(dc.RateLimit.RequestsPerSecond, dc.RateLimit.Burst),
		Base:        deps.roundTripper(),
	}}
	return newAction(GoogleDocsMetadata, dc, deps, provider, googledocs.Scopes, vendor)
}

// NewSharePointWord builds the sharepoint_word action.
func NewSharePointWord(dc config.DestinationConfig, deps Deps) (*DocumentAction, error) {
	provider := oauth.Microsoft(dc.Tenant)
	if deps.Endpoints.MicrosoftOAuth != nil {
		provider = *deps.Endpoints.MicrosoftOAuth
	}
	vendor := &SharePointVendor{Config: sharepoint.Config{
		GraphURL:    deps.Endpoints.Graph,
		Timeout:     deps.Timeout,
		RateLimiter: transport.NewRateLimiter(dc.RateLimit.RequestsPerSecond, dc.RateLimit.Burst),
		Base:        deps.roundTripper(),
	}}
	return newAction(SharePointWordMetadata, dc, deps, provider, sharepoint.Scopes, vendor)
}

func newAction(meta Metadata, dc config.DestinationConfig, deps Deps, provider oauth.Provider, scopes []string, vendor Vendor) (*DocumentAction, error) {
	handshake, err := oauth.New(oauth.Config{
		Action:       meta.Name,
		BaseURL:      deps.BaseURL,
		ClientID:     dc.ClientID,
		ClientSecret: dc.ClientSecret,
		Scopes:       scopes,
		Provider:     provider,
		Sealer:       deps.Sealer,
		HTTPClient:   deps.HTTPClient,
		Logger:       deps.Logger,
	})
	if err != nil {
		return nil, err
	}

	policy := retry.DefaultPolicy()
	policy.Enabled = dc.Retry.Enabled
	policy.BaseDelay = dc.Retry.BaseDelay
	policy.MaxRetries = dc.Retry.MaxRetries

	return New(Options{
		Metadata:           meta,
		Handshake:          handshake,
		Vendor:             vendor,
		Retry:              policy,
		MaxBatchOperations: dc.MaxBatchOperations,
		RetryOptions:       deps.RetryOptions,
		Logger:             deps.Logger,
	})
}

// Build registers every destination whose client credentials are
// configured and warns about the rest.
func Build(cfg *config.Config, deps Deps) (*Registry, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	builders := []struct {
		meta  Metadata
		dc    config.DestinationConfig
		build func(config.DestinationConfig, Deps) (*DocumentAction, error)
	}{
		{GoogleDocsMetadata, cfg.Destinations.GoogleDocs, NewGoogleDocs},
		{SharePointWordMetadata, cfg.Destinations.SharePointWord, NewSharePointWord},
	}

	registry := NewRegistry()
	for _, b := range builders {
		if !b.dc.Configured() {
			logger.Warn(fmt.Sprintf("%s Action not registered because required environment variables are missing.", b.meta.LogPrefix()))
			continue
		}
		a, err := b.build(b.dc, deps)
		if err != nil {
			return nil, fmt.Errorf("building %s: %w", b.meta.Name, err)
		}
		registry.Register(a)
	}
	return registry, nil
}
