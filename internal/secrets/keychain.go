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
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zalando/go-keyring"
)

const (
	// KeychainBackendPriority ranks the keychain below the environment.
	KeychainBackendPriority = 50

	keychainService = "docrelay"

	// probeKey is read once at construction to detect a locked keychain.
	probeKey = "__docrelay_availability_test__"
)

// KeychainBackend keeps relay credentials in the operating system keychain
// under the "docrelay" service. Config values of the form secret:<key> are
// looked up here, which is where operators put destination client secrets
// (for example google_docs/client_secret) and where `docrelay keygen --store`
// writes the state sealing key.
type KeychainBackend struct {
	available bool
}

// NewKeychainBackend probes the keychain and returns a backend that reports
// itself unavailable when the probe fails for any reason other than a
// missing entry.
func NewKeychainBackend() *KeychainBackend {
	_, err := keyring.Get(keychainService, probeKey)
	return &KeychainBackend{available: err == nil || errors.Is(err, keyring.ErrNotFound)}
}

// Name returns the backend identifier.
func (k *KeychainBackend) Name() string {
	return "keychain"
}

// Get reads a client secret or sealing key.
func (k *KeychainBackend) Get(ctx context.Context, key string) (string, error) {
	if !k.available {
		return "", errKeychainUnavailable
	}
	value, err := keyring.Get(keychainService, key)
	if err != nil {
		return "", keychainError(key, err)
	}
	return value, nil
}

// Set stores value under key, replacing any previous entry.
func (k *KeychainBackend) Set(ctx context.Context, key string, value string) error {
	if !k.available {
		return errKeychainUnavailable
	}
	if err := keyring.Set(keychainService, key, value); err != nil {
		return keychainError(key, err)
	}
	return nil
}

// Delete removes key. A missing entry yields ErrSecretNotFound.
func (k *KeychainBackend) Delete(ctx context.Context, key string) error {
	if !k.available {
		return errKeychainUnavailable
	}
	if err := keyring.Delete(keychainService, key); err != nil {
		return keychainError(key, err)
	}
	return nil
}

// Available reports whether the probe at construction succeeded.
func (k *KeychainBackend) Available() bool {
	return k.available
}

// Priority returns the backend priority.
func (k *KeychainBackend) Priority() int {
	return KeychainBackendPriority
}

var errKeychainUnavailable = fmt.Errorf("%w: keychain service unavailable", ErrBackendUnavailable)

// keychainError maps go-keyring failures onto the package sentinels.
func keychainError(key string, err error) error {
	switch {
	case errors.Is(err, keyring.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrSecretNotFound, key)
	case lockedKeychain(err):
		return fmt.Errorf("%w: %s", ErrBackendUnavailable, err.Error())
	default:
		return fmt.Errorf("keychain error for %s: %w", key, err)
	}
}

// lockedKeychainHints are substrings of the errors macOS, Secret Service and
// Windows return when the store exists but cannot be used right now.
var lockedKeychainHints = []string{
	"locked",
	"cannot access",
	"permission denied",
	"failed to unlock",
	"user interaction required",
	"secret service",
	"dbus",
	"user canceled",
}

func lockedKeychain(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, hint := range lockedKeychainHints {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}
