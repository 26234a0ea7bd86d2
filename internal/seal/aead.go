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
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// minKeyBytes is the shortest master key accepted.
const minKeyBytes = 16

// hkdfInfo binds derived keys to this use so a master key shared with
// another system never yields the same cipher key.
var hkdfInfo = []byte("docrelay oauth state seal v1")

// AEAD seals with XChaCha20-Poly1305 under a key derived from a master
// secret with HKDF-SHA256. Tokens are base64url(nonce || ciphertext).
type AEAD struct {
	aead cipher.AEAD
}

// NewAEAD parses a hex or base64 master key and derives the cipher key.
func NewAEAD(masterKey string) (*AEAD, error) {
	raw, err := decodeKey(masterKey)
	if err != nil {
		return nil, err
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, raw, nil, hkdfInfo), key); err != nil {
		return nil, fmt.Errorf("deriving seal key: %w", err)
	}

	a, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	return &AEAD{aead: a}, nil
}

// Seal implements Sealer.
func (s *AEAD) Seal(plaintext []byte) (string, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", sealErr("seal", fmt.Errorf("generating nonce: %w", err))
	}
	out := s.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.RawURLEncoding.EncodeToString(out), nil
}

// Unseal implements Sealer.
func (s *AEAD) Unseal(token string) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, sealErr("unseal", fmt.Errorf("decoding token: %w", err))
	}
	if len(raw) < s.aead.NonceSize()+s.aead.Overhead() {
		return nil, sealErr("unseal", errors.New("token too short"))
	}

	nonce, ct := raw[:s.aead.NonceSize()], raw[s.aead.NonceSize():]
	plaintext, err := s.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, sealErr("unseal", err)
	}
	return plaintext, nil
}

// GenerateKey returns a new random master key, hex encoded.
func GenerateKey() (string, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("generating key: %w", err)
	}
	return hex.EncodeToString(key), nil
}

func decodeKey(s string) ([]byte, error) {
	if raw, err := hex.DecodeString(s); err == nil && len(raw) >= minKeyBytes {
		return raw, nil
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if raw, err := enc.DecodeString(s); err == nil && len(raw) >= minKeyBytes {
			return raw, nil
		}
	}
	return nil, fmt.Errorf("master key must be hex or base64 encoded and at least %d bytes", minKeyBytes)
}
