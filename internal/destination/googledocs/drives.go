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

package googledocs

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/tombee/docrelay/internal/retry"
)

// FolderMimeType is the Drive MIME type of a folder.
const FolderMimeType = "application/vnd.google-apps.folder"

// Drive is a shared drive the user can write to.
type Drive struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Folder is a Drive folder.
type Folder struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ListDrives returns every shared drive visible to the user. Each page is
// one logical call under exec.
func (c *Client) ListDrives(ctx context.Context, exec *retry.Executor) ([]Drive, error) {
	var drives []Drive
	pageToken := ""
	for {
		query := url.Values{"pageSize": {"100"}}
		if pageToken != "" {
			query.Set("pageToken", pageToken)
		}

		var page struct {
			Drives        []Drive `json:"drives"`
			NextPageToken string  `json:"nextPageToken"`
		}
		err := exec.Do(ctx, "list_drives", func(ctx context.Context) error {
			return c.call(ctx, c.drive, "list_drives", http.MethodGet, "/drive/v3/drives?"+query.Encode(), nil, &page)
		})
		if err != nil {
			return nil, err
		}

		drives = append(drives, page.Drives...)
		if page.NextPageToken == "" {
			return drives, nil
		}
		pageToken = page.NextPageToken
	}
}

// ListFolders returns the folders in drive (MyDrive for the user's own).
func (c *Client) ListFolders(ctx context.Context, exec *retry.Executor, drive string) ([]Folder, error) {
	var folders []Folder
	pageToken := ""
	for {
		query := url.Values{
			"q":        {fmt.Sprintf("mimeType='%s' and trashed=false", FolderMimeType)},
			"fields":   {"nextPageToken,files(id,name)"},
			"orderBy":  {"name"},
			"pageSize": {"1000"},
		}
		if drive != "" && drive != MyDrive {
			query.Set("driveId", drive)
			query.Set("corpora", "drive")
			query.Set("includeItemsFromAllDrives", "true")
			query.Set("supportsAllDrives", "true")
		}
		if pageToken != "" {
			query.Set("pageToken", pageToken)
		}

		var page struct {
			Files         []Folder `json:"files"`
			NextPageToken string   `json:"nextPageToken"`
		}
		err := exec.Do(ctx, "list_folders", func(ctx context.Context) error {
			return c.call(ctx, c.drive, "list_folders", http.MethodGet, "/drive/v3/files?"+query.Encode(), nil, &page)
		})
		if err != nil {
			return nil, err
		}

		folders = append(folders, page.Files...)
		if page.NextPageToken == "" {
			return folders, nil
		}
		pageToken = page.NextPageToken
	}
}
