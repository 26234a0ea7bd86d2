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

package secrets

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/tombee/docrelay/internal/commands/shared"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSecrets_SetGetDelete(t *testing.T) {
	keyring.MockInit()
	defer func() { secretUnmask = false }()

	out, err := run(t, "super-secret-value\n", "set", "google_docs/client_secret")
	require.NoError(t, err)
	assert.Contains(t, out, "secret:google_docs/client_secret")

	stored, err := keyring.Get("docrelay", "google_docs/client_secret")
	require.NoError(t, err)
	assert.Equal(t, "super-secret-value", stored)

	out, err = run(t, "", "get", "google_docs/client_secret")
	require.NoError(t, err)
	assert.Contains(t, out, "supe...alue")
	assert.NotContains(t, out, "super-secret-value")

	out, err = run(t, "", "get", "google_docs/client_secret", "--unmask")
	require.NoError(t, err)
	assert.Contains(t, out, "super-secret-value")

	_, err = run(t, "", "delete", "google_docs/client_secret")
	require.NoError(t, err)

	_, err = run(t, "", "get", "google_docs/client_secret")
	require.Error(t, err)
	assert.Equal(t, shared.ExitFailed, shared.ExitCode(err))
	assert.Contains(t, err.Error(), "secret not found")
}

func TestSecrets_SetRejectsEmptyValue(t *testing.T) {
	keyring.MockInit()
	_, err := run(t, "   \n", "set", "seal/key")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be empty")
}

func TestSecrets_SetKeychainUnavailable(t *testing.T) {
	keyring.MockInitWithError(keyring.ErrUnsupportedPlatform)
	defer keyring.MockInit()
	_, err := run(t, "value", "set", "seal/key")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DOCRELAY_SECRET_SEAL_KEY")
}

func TestSecrets_GetFromEnvironment(t *testing.T) {
	keyring.MockInit()
	t.Setenv("DOCRELAY_SECRET_SEAL_KEY", "from-env")
	secretUnmask = true
	defer func() { secretUnmask = false }()

	out, err := run(t, "", "get", "seal/key")
	require.NoError(t, err)
	assert.Contains(t, out, "from-env")
}

func TestValidateSecretKey(t *testing.T) {
	tests := []struct {
		key     string
		wantErr bool
	}{
		{"google_docs/client_secret", false},
		{"", true},
		{"has space", true},
		{`back\slash`, true},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			err := validateSecretKey(tt.key)
			assert.Equal(t, tt.wantErr, err != nil)
		})
	}
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "****", maskSecret("short"))
	assert.Equal(t, "abcd...wxyz", maskSecret("abcdefghijklmnopqrstuvwxyz"))
}

func TestNewCommand_Subcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range NewCommand().Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"set", "get", "delete"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}
