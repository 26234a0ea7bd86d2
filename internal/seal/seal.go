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

// Package seal encrypts the handshake state that travels through the
// untrusted OAuth redirect chain. Sealed tokens are URL-safe, tamper-evident
// and carry no server-side session.
package seal

import (
	"fmt"
	"strings"

	relayerrors "github.com/tombee/docrelay/pkg/errors"
)

// Mode selects the sealing construction.
type Mode string

const (
	// ModeAEAD uses a symmetric master key with XChaCha20-Poly1305.
	ModeAEAD Mode = "aead"

	// ModeAge uses an age X25519 identity.
	ModeAge Mode = "age"
)

// Sealer turns an opaque payload into a token and back.
// Unseal must reject any token that was not produced by Seal with the same key.
type Sealer interface {
	Seal(plaintext []byte) (string, error)
	Unseal(token string) ([]byte, error)
}

// New returns the Sealer for mode, keyed with key.
func New(mode Mode, key string) (Sealer, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, &relayerrors.ConfigError{Key: "seal.key", Reason: "sealing key is not configured"}
	}

	switch mode {
	case ModeAEAD, "":
		return NewAEAD(key)
	case ModeAge:
		return NewAge(key)
	default:
		return nil, &relayerrors.ConfigError{
			Key:    "seal.mode",
			Reason: fmt.Sprintf("unknown seal mode %q (want aead or age)", mode),
		}
	}
}

func sealErr(op string, err error) error {
	return &relayerrors.SealError{Op: op, Cause: err}
}
