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
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/tombee/docrelay/internal/pipeline"
	"github.com/tombee/docrelay/internal/retry"
	relayerrors "github.com/tombee/docrelay/pkg/errors"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Config{DocsURL: srv.URL, DriveURL: srv.URL},
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "ya29.test"}), nil)
	require.NoError(t, err)
	return c
}

func noSleep(context.Context, time.Duration) error { return nil }

func TestCreate(t *testing.T) {
	var got fileMetadata
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/drive/v3/files", r.URL.Path)
		assert.Equal(t, "id", r.URL.Query().Get("fields"))
		assert.Empty(t, r.URL.Query().Get("supportsAllDrives"))
		assert.Equal(t, "Bearer ya29.test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"id":"doc123"}`)
	}))

	id, err := c.Create(context.Background(), pipeline.DocumentSpec{
		Name:      `Barbara'sFile.doc`,
		Container: "stubSuggestedFolder",
		Params:    map[string]string{"drive": MyDrive},
	})
	require.NoError(t, err)
	assert.Equal(t, "doc123", id)
	assert.Equal(t, fileMetadata{
		Name:     `Barbara'sFile.doc`,
		MimeType: "application/vnd.google-apps.document",
		Parents:  []string{"stubSuggestedFolder"},
	}, got)
}

func TestCreate_SharedDrive(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("supportsAllDrives"))
		var meta fileMetadata
		require.NoError(t, json.NewDecoder(r.Body).Decode(&meta))
		assert.Equal(t, "shared-1", meta.DriveID)
		assert.Nil(t, meta.Parents)
		_, _ = io.WriteString(w, `{"id":"doc9"}`)
	}))

	id, err := c.Create(context.Background(), pipeline.DocumentSpec{Name: "x", Params: map[string]string{"drive": "shared-1"}})
	require.NoError(t, err)
	assert.Equal(t, "doc9", id)
}

func TestCreate_VendorError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"code":404,"message":"File not found: folder.","status":"NOT_FOUND",
			"errors":[{"message":"File not found: stubFolder.","reason":"notFound"}]}}`)
	}))

	_, err := c.Create(context.Background(), pipeline.DocumentSpec{Name: "x", Container: "stubFolder"})
	var remote *relayerrors.RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, 404, remote.StatusCode)
	assert.Equal(t, "File not found: stubFolder.", remote.Message)
	assert.Equal(t, "notFound", remote.Reason)
	assert.Equal(t, "create", remote.Operation)
}

func TestApply_BatchUpdate(t *testing.T) {
	var body struct {
		Requests []map[string]json.RawMessage `json:"requests"`
	}
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/documents/doc123:batchUpdate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = io.WriteString(w, `{"documentId":"doc123","replies":[]}`)
	}))

	plan, err := pipeline.BuildPlan([][]string{{"a"}, {"1"}}, pipeline.OffsetAddressing)
	require.NoError(t, err)
	err = c.Apply(context.Background(), "doc123", pipeline.Batch{Kind: pipeline.KindStructure, Plan: plan})
	require.NoError(t, err)

	require.Len(t, body.Requests, 2)
	assert.Contains(t, body.Requests[0], "updateDocumentStyle")
	assert.Contains(t, body.Requests[1], "insertTable")
}

func TestApply_RetriedThroughPipeline(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/drive/v3/files" {
			_, _ = io.WriteString(w, `{"id":"doc1"}`)
			return
		}
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = io.WriteString(w, `{"error":{"code":429,"message":"Quota exceeded"}}`)
			return
		}
		_, _ = io.WriteString(w, `{}`)
	}))

	policy := retry.DefaultPolicy()
	policy.Enabled = true
	exec := retry.NewExecutor(policy, nil, retry.WithSleeper(noSleep))

	p := pipeline.New(c, exec, pipeline.DefaultMaxBatchOps, nil)
	res, err := p.Run(context.Background(), pipeline.DocumentSpec{Name: "t"}, stringsReader("col1,col2\nval1,val2\n"))
	require.NoError(t, err)
	assert.Equal(t, "doc1", res.DocumentID)
	// structure (2 attempts), one cell batch, post-processing
	assert.Equal(t, int32(4), calls.Load())
}

func TestApply_ManyBatches(t *testing.T) {
	var batches atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/drive/v3/files" {
			_, _ = io.WriteString(w, `{"id":"doc1"}`)
			return
		}
		var body struct {
			Requests []json.RawMessage `json:"requests"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.LessOrEqual(t, len(body.Requests), 100)
		batches.Add(1)
		_, _ = io.WriteString(w, `{}`)
	}))

	// 21 rows of 10 columns: 210 inserts plus 10 bold styles.
	csv := ""
	for r := 0; r < 21; r++ {
		csv += "col0,col1,col2,col3,col4,col5,col6,col7,col8,col9\n"
	}

	p := pipeline.New(c, retry.NewExecutor(retry.DefaultPolicy(), nil), 100, nil)
	_, err := p.Run(context.Background(), pipeline.DocumentSpec{Name: "t"}, stringsReader(csv))
	require.NoError(t, err)
	assert.Equal(t, int32(5), batches.Load(), "structure, three cell batches, post-processing")
}

func TestListDrives_Paged(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/drive/v3/drives", r.URL.Path)
		if r.URL.Query().Get("pageToken") == "" {
			_, _ = io.WriteString(w, `{"drives":[{"id":"d1","name":"One"}],"nextPageToken":"p2"}`)
			return
		}
		_, _ = io.WriteString(w, `{"drives":[{"id":"d2","name":"Two"}]}`)
	}))

	drives, err := c.ListDrives(context.Background(), retry.NewExecutor(retry.DefaultPolicy(), nil))
	require.NoError(t, err)
	assert.Equal(t, []Drive{{ID: "d1", Name: "One"}, {ID: "d2", Name: "Two"}}, drives)
}

func TestListDrives_Retried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"drives":[{"id":"d1","name":"One"}]}`)
	}))

	policy := retry.DefaultPolicy()
	policy.Enabled = true
	drives, err := c.ListDrives(context.Background(), retry.NewExecutor(policy, nil, retry.WithSleeper(noSleep)))
	require.NoError(t, err)
	assert.Len(t, drives, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestListFolders_SharedDrive(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "/drive/v3/files", r.URL.Path)
		assert.Equal(t, "shared-1", q.Get("driveId"))
		assert.Equal(t, "drive", q.Get("corpora"))
		assert.Contains(t, q.Get("q"), FolderMimeType)
		_, _ = io.WriteString(w, `{"files":[{"id":"f1","name":"Reports"}]}`)
	}))

	folders, err := c.ListFolders(context.Background(), retry.NewExecutor(retry.DefaultPolicy(), nil), "shared-1")
	require.NoError(t, err)
	assert.Equal(t, []Folder{{ID: "f1", Name: "Reports"}}, folders)
}

func TestRemoteError_NonTransport(t *testing.T) {
	err := remoteError("create", errors.New("boom"))
	var remote *relayerrors.RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Zero(t, remote.StatusCode)
}

func stringsReader(s string) io.Reader {
	return strings.NewReader(s)
}
