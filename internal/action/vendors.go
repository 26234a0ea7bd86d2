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
	"context"
	"log/slog"

	"golang.org/x/oauth2"

	"github.com/tombee/docrelay/internal/destination/googledocs"
	"github.com/tombee/docrelay/internal/destination/sharepoint"
	"github.com/tombee/docrelay/internal/hub"
	"github.com/tombee/docrelay/internal/pipeline"
	"github.com/tombee/docrelay/internal/retry"
)

// Google Docs form text.
const (
	folderURLDescription = "Enter the full Google Drive URL of the folder where you want to save your data. " +
		"It should look something like https://drive.google.com/corp/drive/folders/xyz. " +
		"If this is inaccessible, your data will be saved to the root folder of your Google Drive. " +
		"You do not need to enter a URL if you have already chosen a folder in the dropdown menu.\n"
	fetchValue = "fetch"
)

// GoogleDocsVendor builds Google Docs destinations and forms.
type GoogleDocsVendor struct {
	Config googledocs.Config
}

// Destination implements Vendor.
func (v *GoogleDocsVendor) Destination(ts oauth2.TokenSource, logger *slog.Logger) (pipeline.Destination, error) {
	return googledocs.New(v.Config, ts, logger)
}

// Fields implements Vendor. Shared drives are listed on every render;
// folders of the chosen drive only when the user asks to fetch them.
func (v *GoogleDocsVendor) Fields(ctx context.Context, ts oauth2.TokenSource, req *hub.Request, exec *retry.Executor) ([]hub.Field, error) {
	client, err := googledocs.New(v.Config, ts, nil)
	if err != nil {
		return nil, err
	}

	drives, err := client.ListDrives(ctx, exec)
	if err != nil {
		return nil, err
	}
	options := []hub.Option{{Name: googledocs.MyDrive, Label: "My Drive"}}
	for _, d := range drives {
		options = append(options, hub.Option{Name: d.ID, Label: d.Name})
	}

	fields := []hub.Field{
		{
			Name:        "drive",
			Label:       "Select Drive to save file",
			Description: "Google Drive where your file will be saved",
			Type:        hub.FieldSelect,
			Options:     options,
			Default:     googledocs.MyDrive,
			Interactive: true,
			Required:    true,
		},
		{
			Name:        "folderid",
			Label:       "Google Drive Destination URL",
			Description: folderURLDescription,
			Type:        hub.FieldString,
		},
		{
			Name:        "fetchpls",
			Label:       "Select Fetch to fetch a list of folders in this drive",
			Description: "Fetch folders",
			Type:        hub.FieldSelect,
			Options:     []hub.Option{{Name: fetchValue, Label: "Fetch"}},
			Interactive: true,
		},
	}

	if req.FormParam("fetchpls") == fetchValue {
		drive := req.FormParam("drive")
		if drive == "" {
			drive = googledocs.MyDrive
		}
		folders, err := client.ListFolders(ctx, exec, drive)
		if err != nil {
			return nil, err
		}
		folderOptions := []hub.Option{{Name: pipeline.RootContainer, Label: "Drive Root"}}
		for _, f := range folders {
			folderOptions = append(folderOptions, hub.Option{Name: f.ID, Label: f.Name})
		}
		fields = append(fields, hub.Field{
			Name:     "folder",
			Label:    "Select folder to save file",
			Type:     hub.FieldSelect,
			Options:  folderOptions,
			Default:  pipeline.RootContainer,
			Required: true,
		})
	}

	fields = append(fields, hub.Field{
		Name:     "filename",
		Label:    "Enter a filename",
		Type:     hub.FieldString,
		Required: true,
	})
	return fields, nil
}

// SharePointVendor builds SharePoint Word destinations and forms.
type SharePointVendor struct {
	Config sharepoint.Config
}

// Destination implements Vendor.
func (v *SharePointVendor) Destination(ts oauth2.TokenSource, logger *slog.Logger) (pipeline.Destination, error) {
	return sharepoint.New(v.Config, ts, logger)
}

// Fields implements Vendor.
func (v *SharePointVendor) Fields(ctx context.Context, ts oauth2.TokenSource, req *hub.Request, exec *retry.Executor) ([]hub.Field, error) {
	return []hub.Field{
		{Name: "filename", Label: "Filename", Type: hub.FieldString, Required: true},
		{Name: "site", Label: "SharePoint Site", Type: hub.FieldString, Required: true},
		{Name: "library", Label: "Document Library", Type: hub.FieldString, Required: true},
	}, nil
}
