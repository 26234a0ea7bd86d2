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

// Package keygen implements the keygen command, which creates the key
// used to seal OAuth handshake state.
package keygen

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tombee/docrelay/internal/commands/shared"
	"github.com/tombee/docrelay/internal/seal"
	"github.com/tombee/docrelay/internal/secrets"
)

// KeyInfo is the JSON output of keygen.
type KeyInfo struct {
	shared.JSONResponse
	Mode      string `json:"mode"`
	Key       string `json:"key,omitempty"`
	Recipient string `json:"recipient,omitempty"`
	Reference string `json:"reference,omitempty"`
}

// modeValue is a pflag.Value that only accepts known seal modes.
type modeValue seal.Mode

var _ pflag.Value = (*modeValue)(nil)

func (m *modeValue) String() string { return string(*m) }

func (m *modeValue) Set(s string) error {
	switch seal.Mode(s) {
	case seal.ModeAEAD, seal.ModeAge:
		*m = modeValue(s)
		return nil
	default:
		return fmt.Errorf("unknown seal mode %q (want aead or age)", s)
	}
}

func (m *modeValue) Type() string { return "mode" }

// NewCommand creates the keygen command.
func NewCommand() *cobra.Command {
	var store string
	mode := modeValue(seal.ModeAEAD)

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a state sealing key",
		Long: `Generate a key for sealing OAuth handshake state.

The aead mode prints a hex encoded 32 byte master key. The age mode prints
an X25519 identity. Set the output as CIPHER_MASTER (and seal.mode to match),
or pass --store to keep it in the system keychain and reference it as
"secret:<name>".

Examples:
  docrelay keygen
  docrelay keygen --mode age
  docrelay keygen --store seal/key`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeygen(cmd, seal.Mode(mode), store)
		},
	}

	cmd.Flags().Var(&mode, "mode", "Seal mode (aead, age)")
	cmd.Flags().StringVar(&store, "store", "", "Store the key in the keychain under this name instead of printing it")

	return cmd
}

func runKeygen(cmd *cobra.Command, mode seal.Mode, store string) error {
	info := KeyInfo{
		JSONResponse: shared.JSONResponse{Version: "1.0", Command: "keygen", Success: true},
		Mode:         string(mode),
	}

	var err error
	switch mode {
	case seal.ModeAEAD:
		info.Key, err = seal.GenerateKey()
	case seal.ModeAge:
		info.Key, info.Recipient, err = seal.GenerateIdentity()
	default:
		return shared.NewConfigError(fmt.Sprintf("unknown seal mode %q (want aead or age)", mode), nil)
	}
	if err != nil {
		return shared.NewFailedError("failed to generate key", err)
	}

	if store != "" {
		if err := secrets.NewDefaultResolver().Set(cmd.Context(), store, info.Key); err != nil {
			return shared.NewFailedError("failed to store key", err)
		}
		info.Key = ""
		info.Reference = secrets.ReferencePrefix + store
	}

	if shared.GetJSON() {
		return shared.EmitJSON(cmd.OutOrStdout(), info)
	}

	if info.Reference != "" {
		cmd.Printf("Key stored. Set CIPHER_MASTER=%s and seal.mode=%s\n", info.Reference, mode)
	} else {
		cmd.Println(info.Key)
	}
	if info.Recipient != "" {
		cmd.PrintErrf("# recipient: %s\n", info.Recipient)
	}
	return nil
}
