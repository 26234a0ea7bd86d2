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

package serve

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/docrelay/internal/commands/shared"
	"github.com/tombee/docrelay/internal/config"
	"github.com/tombee/docrelay/internal/seal"
)

// syncBuffer is written by the server goroutine and read by the test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func serveConfig(t *testing.T) *config.Config {
	t.Helper()
	key, err := seal.GenerateKey()
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Server.Listen = "127.0.0.1:0"
	cfg.Server.BaseURL = "https://relay.example.com"
	cfg.Server.Token = "orchestrator-token"
	cfg.Seal.Key = key
	cfg.Destinations.GoogleDocs.ClientID = "gd-id"
	cfg.Destinations.GoogleDocs.ClientSecret = "gd-secret"
	return cfg
}

func TestRun_ShutsDownWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var logs syncBuffer
	err := Run(ctx, serveConfig(t), &logs)
	require.NoError(t, err)

	assert.Contains(t, logs.String(), "shutting down action server")
	assert.Contains(t, logs.String(), "[SHAREPOINT_WORD] Action not registered")
}

func TestRun_RequiresBaseURL(t *testing.T) {
	cfg := serveConfig(t)
	cfg.Server.BaseURL = ""

	err := Run(context.Background(), cfg, &bytes.Buffer{})
	require.Error(t, err)
	assert.Equal(t, shared.ExitConfigError, shared.ExitCode(err))
	assert.Contains(t, err.Error(), "server.base_url")
}

func TestRun_RejectsBadSealKey(t *testing.T) {
	cfg := serveConfig(t)
	cfg.Seal.Key = "not-hex"

	err := Run(context.Background(), cfg, &bytes.Buffer{})
	require.Error(t, err)
	assert.Equal(t, shared.ExitConfigError, shared.ExitCode(err))
}

func TestRun_TracingToLogOutput(t *testing.T) {
	cfg := serveConfig(t)
	cfg.Tracing.Enabled = true

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var logs syncBuffer
	require.NoError(t, Run(ctx, cfg, &logs))
}

func TestServeCommand_ListenFlag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docrelay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  listen: \":1\"\n"), 0o600))
	shared.SetConfigPathForTest(path)
	defer shared.SetConfigPathForTest("")
	t.Setenv("ACTION_HUB_BASE_URL", "")

	cmd := NewCommand()
	cmd.SetArgs([]string{"--listen", "127.0.0.1:0"})
	cmd.SetErr(&bytes.Buffer{})

	// No base URL is configured, so the command stops at validation.
	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, shared.ExitConfigError, shared.ExitCode(err))
	assert.NotNil(t, cmd.Flags().Lookup("listen"))
}
