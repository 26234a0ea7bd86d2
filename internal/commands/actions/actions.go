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

// Package actions implements the actions command, which reports the
// destinations this configuration would register.
package actions

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tombee/docrelay/internal/action"
	"github.com/tombee/docrelay/internal/commands/shared"
	"github.com/tombee/docrelay/internal/config"
)

// ActionStatus is one row of the actions listing.
type ActionStatus struct {
	Name        string `json:"name"`
	Label       string `json:"label"`
	Configured  bool   `json:"configured"`
	Retry       bool   `json:"retry"`
	BatchSize   int    `json:"max_batch_operations"`
	RedirectURI string `json:"redirect_uri,omitempty"`
}

// NewCommand creates the actions command.
func NewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "actions",
		Short: "List destination actions and their configuration",
		Long: `List the destination actions, whether their OAuth client credentials
are configured, and the redirect URI to register with each vendor.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := shared.LoadConfig()
			if err != nil {
				return err
			}
			return printActions(cmd, Statuses(cfg))
		},
	}
}

// Statuses describes each destination under cfg.
func Statuses(cfg *config.Config) []ActionStatus {
	entries := []struct {
		meta action.Metadata
		dc   config.DestinationConfig
	}{
		{action.GoogleDocsMetadata, cfg.Destinations.GoogleDocs},
		{action.SharePointWordMetadata, cfg.Destinations.SharePointWord},
	}

	statuses := make([]ActionStatus, 0, len(entries))
	for _, e := range entries {
		s := ActionStatus{
			Name:       e.meta.Name,
			Label:      e.meta.Label,
			Configured: e.dc.Configured(),
			Retry:      e.dc.Retry.Enabled,
			BatchSize:  e.dc.MaxBatchOperations,
		}
		if cfg.Server.BaseURL != "" {
			s.RedirectURI = fmt.Sprintf("%s/actions/%s/oauth_redirect", strings.TrimRight(cfg.Server.BaseURL, "/"), e.meta.Name)
		}
		statuses = append(statuses, s)
	}
	return statuses
}

func printActions(cmd *cobra.Command, statuses []ActionStatus) error {
	out := cmd.OutOrStdout()

	if shared.GetJSON() {
		return shared.EmitJSON(out, map[string][]ActionStatus{"actions": statuses})
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tLABEL\tSTATUS\tRETRY\tBATCH\tREDIRECT URI")
	for _, s := range statuses {
		status := "missing credentials"
		if s.Configured {
			status = "ready"
		}
		retry := "off"
		if s.Retry {
			retry = "on"
		}
		redirect := s.RedirectURI
		if redirect == "" {
			redirect = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n", s.Name, s.Label, status, retry, s.BatchSize, redirect)
	}
	return w.Flush()
}
