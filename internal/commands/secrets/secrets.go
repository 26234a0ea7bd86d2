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

// Package secrets implements the secrets command, which stores client
// secrets and sealing keys in the system keychain for "secret:" references.
package secrets

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tombee/docrelay/internal/commands/shared"
	"github.com/tombee/docrelay/internal/secrets"
)

var secretUnmask bool

// NewCommand creates the secrets command for secret management.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage secrets referenced from configuration",
		Long: `Manage secrets that configuration values reference as "secret:<key>".

Secrets are looked up in order:
  1. Environment variables (DOCRELAY_SECRET_<KEY>, read-only)
  2. System keychain (macOS Keychain, Linux Secret Service, Windows Credential Manager)

Examples:
  docrelay secrets set google_docs/client_secret
  docrelay secrets get google_docs/client_secret
  docrelay secrets delete google_docs/client_secret`,
	}

	cmd.AddCommand(newSecretsSetCommand())
	cmd.AddCommand(newSecretsGetCommand())
	cmd.AddCommand(newSecretsDeleteCommand())

	return cmd
}

func newSecretsSetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key>",
		Short: "Store a secret in the keychain",
		Long: `Store a secret in the first writable backend.

The value is read from standard input, or prompted for with hidden input
when standard input is a terminal:
  echo "value" | docrelay secrets set seal/key`,
		Args: cobra.ExactArgs(1),
		RunE: runSecretsSet,
	}
}

func newSecretsGetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Show a secret value (masked by default)",
		Args:  cobra.ExactArgs(1),
		RunE:  runSecretsGet,
	}
	cmd.Flags().BoolVar(&secretUnmask, "unmask", false, "Show the full secret value")
	return cmd
}

func newSecretsDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>",
		Short: "Remove a secret from the keychain",
		Args:  cobra.ExactArgs(1),
		RunE:  runSecretsDelete,
	}
}

func runSecretsSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	if err := validateSecretKey(key); err != nil {
		return err
	}

	value, err := readSecretValue(cmd)
	if err != nil {
		return fmt.Errorf("failed to read secret value: %w", err)
	}
	if value == "" {
		return errors.New("secret value cannot be empty")
	}

	if err := secrets.NewDefaultResolver().Set(cmd.Context(), key, value); err != nil {
		if errors.Is(err, secrets.ErrBackendUnavailable) {
			return fmt.Errorf("backend unavailable: %w\n\nSet the environment variable instead: export %s=<value>", err, secrets.EnvName(key))
		}
		return fmt.Errorf("failed to set secret: %w", err)
	}

	cmd.Printf("Secret %q stored. Reference it as %s%s\n", key, secrets.ReferencePrefix, key)
	return nil
}

func runSecretsGet(cmd *cobra.Command, args []string) error {
	key := args[0]

	value, err := secrets.NewDefaultResolver().Get(cmd.Context(), key)
	if err != nil {
		if errors.Is(err, secrets.ErrSecretNotFound) {
			return shared.NewFailedError(fmt.Sprintf("secret not found: %q", key), nil)
		}
		return fmt.Errorf("failed to get secret: %w", err)
	}

	if secretUnmask {
		cmd.Println(value)
	} else {
		cmd.Printf("%s (use --unmask to show full value)\n", maskSecret(value))
	}
	return nil
}

func runSecretsDelete(cmd *cobra.Command, args []string) error {
	key := args[0]
	if err := secrets.NewDefaultResolver().Delete(cmd.Context(), key); err != nil {
		if errors.Is(err, secrets.ErrSecretNotFound) {
			return shared.NewFailedError(fmt.Sprintf("secret not found: %q", key), nil)
		}
		return fmt.Errorf("failed to delete secret: %w", err)
	}
	cmd.Printf("Secret %q deleted\n", key)
	return nil
}

// readSecretValue prompts with hidden input on a terminal and otherwise
// reads all of standard input.
func readSecretValue(cmd *cobra.Command) (string, error) {
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		cmd.Print("Enter secret value (hidden): ")
		b, err := term.ReadPassword(int(f.Fd()))
		cmd.Println()
		if err != nil {
			return "", err
		}
		return string(b), nil
	}

	data, err := io.ReadAll(in)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// maskSecret masks a secret value for display.
func maskSecret(value string) string {
	if len(value) <= 8 {
		return "****"
	}
	return value[:4] + "..." + value[len(value)-4:]
}

func validateSecretKey(key string) error {
	if key == "" {
		return errors.New("secret key cannot be empty")
	}
	if strings.ContainsAny(key, " \t") {
		return errors.New("secret key cannot contain spaces")
	}
	if strings.Contains(key, "\\") {
		return errors.New("secret key should use forward slashes (/), not backslashes (\\)")
	}
	return nil
}
