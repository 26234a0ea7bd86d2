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

package seal

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"

	"filippo.io/age"
)

// Age seals to the X25519 recipient of a single age identity.
// Tokens are base64url of the binary age file.
type Age struct {
	identity  *age.X25519Identity
	recipient *age.X25519Recipient
}

// NewAge parses an AGE-SECRET-KEY-1... identity.
func NewAge(identity string) (*Age, error) {
	id, err := age.ParseX25519Identity(identity)
	if err != nil {
		return nil, fmt.Errorf("parsing age identity: %w", err)
	}
	return &Age{identity: id, recipient: id.Recipient()}, nil
}

// Recipient returns the public key tokens are sealed to.
func (s *Age) Recipient() string {
	return s.recipient.String()
}

// Seal implements Sealer.
func (s *Age) Seal(plaintext []byte) (string, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, s.recipient)
	if err != nil {
		return "", sealErr("seal", fmt.Errorf("creating age encryptor: %w", err))
	}
	if _, err := w.Write(plaintext); err != nil {
		return "", sealErr("seal", fmt.Errorf("writing plaintext: %w", err))
	}
	if err := w.Close(); err != nil {
		return "", sealErr("seal", fmt.Errorf("finalizing age encryption: %w", err))
	}
	return base64.RawURLEncoding.EncodeToString(buf.Bytes()), nil
}

// Unseal implements Sealer.
func (s *Age) Unseal(token string) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, sealErr("unseal", fmt.Errorf("decoding token: %w", err))
	}
	r, err := age.Decrypt(bytes.NewReader(raw), s.identity)
	if err != nil {
		return nil, sealErr("unseal", err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, sealErr("unseal", fmt.Errorf("reading plaintext: %w", err))
	}
	return plaintext, nil
}

// GenerateIdentity returns a new age identity and its recipient.
func GenerateIdentity() (identity, recipient string, err error) {
	id, err := age.GenerateX25519Identity()
	if err != nil {
		return "", "", fmt.Errorf("generating age identity: %w", err)
	}
	return id.String(), id.Recipient().String(), nil
}
