// Copyright 2026 The Cowork Authors
// SPDX-License-Identifier: Apache-2.0

// Package keychain is the bridge's secret store: one optional secret
// per known provider identifier, encrypted at rest.
//
// Entries are stored as individual age-encrypted files under a private
// directory, encrypted to a store-local x25519 keypair generated on
// first open. The private key lives on disk with owner-only
// permissions and in memory inside a secret.Buffer (mmap-backed,
// locked against swap, excluded from core dumps).
//
// The provider identifier set is closed — see lib/credential. Writes
// to unknown providers are rejected so a typo cannot create an orphan
// entry the assembler will never read.
package keychain

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"filippo.io/age"

	"github.com/cowork-app/cowork/lib/credential"
	"github.com/cowork-app/cowork/lib/secret"
)

// ErrUnknownProvider is returned for provider identifiers outside the
// closed set in lib/credential.
var ErrUnknownProvider = errors.New("unknown provider")

const identityFile = "identity.key"

// Keychain is a file-backed, age-encrypted secret store. Safe for
// concurrent use. The caller must Close it to release the private key
// memory.
type Keychain struct {
	mu        sync.Mutex
	directory string
	identity  *secret.Buffer
	recipient string
	logger    *slog.Logger
}

// Open opens (or initializes) the keychain rooted at directory. On
// first open a fresh x25519 keypair is generated and its private key
// written with owner-only permissions; subsequent opens reuse it. A
// nil logger discards diagnostics.
func Open(directory string, logger *slog.Logger) (*Keychain, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if err := os.MkdirAll(directory, 0o700); err != nil {
		return nil, fmt.Errorf("creating keychain directory: %w", err)
	}

	identity, recipient, err := loadOrCreateIdentity(filepath.Join(directory, identityFile), logger)
	if err != nil {
		return nil, err
	}

	return &Keychain{
		directory: directory,
		identity:  identity,
		recipient: recipient,
		logger:    logger,
	}, nil
}

// loadOrCreateIdentity reads the store's private key, generating one
// if the file does not exist. Returns the key in a secret.Buffer plus
// the derived public recipient string.
func loadOrCreateIdentity(path string, logger *slog.Logger) (*secret.Buffer, string, error) {
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		trimmed := bytes.TrimSpace(data)
		if len(trimmed) == 0 {
			secret.Zero(data)
			return nil, "", fmt.Errorf("keychain identity file %s is empty", path)
		}
		parsed, parseError := age.ParseX25519Identity(string(trimmed))
		if parseError != nil {
			secret.Zero(data)
			return nil, "", fmt.Errorf("parsing keychain identity: %w", parseError)
		}
		buffer, bufferError := secret.NewFromBytes(trimmed)
		secret.Zero(data)
		if bufferError != nil {
			return nil, "", fmt.Errorf("protecting keychain identity: %w", bufferError)
		}
		return buffer, parsed.Recipient().String(), nil

	case os.IsNotExist(err):
		generated, generateError := age.GenerateX25519Identity()
		if generateError != nil {
			return nil, "", fmt.Errorf("generating keychain identity: %w", generateError)
		}
		privateKey := []byte(generated.String())
		if writeError := os.WriteFile(path, privateKey, 0o600); writeError != nil {
			secret.Zero(privateKey)
			return nil, "", fmt.Errorf("writing keychain identity: %w", writeError)
		}
		buffer, bufferError := secret.NewFromBytes(privateKey)
		if bufferError != nil {
			return nil, "", fmt.Errorf("protecting keychain identity: %w", bufferError)
		}
		logger.Info("keychain initialized", "path", path)
		return buffer, generated.Recipient().String(), nil

	default:
		return nil, "", fmt.Errorf("reading keychain identity: %w", err)
	}
}

// entryPath returns the ciphertext file for a provider after
// validating the identifier against the closed set.
func (k *Keychain) entryPath(provider string) (string, error) {
	if !credential.KnownProvider(provider) {
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	return filepath.Join(k.directory, provider+".age"), nil
}

// Set stores (or replaces) the secret for a provider.
func (k *Keychain) Set(provider, value string) error {
	path, err := k.entryPath(provider)
	if err != nil {
		return err
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	recipient, err := age.ParseX25519Recipient(k.recipient)
	if err != nil {
		return fmt.Errorf("parsing keychain recipient: %w", err)
	}

	var ciphertext bytes.Buffer
	writer, err := age.Encrypt(&ciphertext, recipient)
	if err != nil {
		return fmt.Errorf("creating encryptor for %s: %w", provider, err)
	}
	if _, err := io.WriteString(writer, value); err != nil {
		return fmt.Errorf("encrypting %s secret: %w", provider, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("finalizing %s secret: %w", provider, err)
	}

	if err := os.WriteFile(path, ciphertext.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing %s secret: %w", provider, err)
	}
	k.logger.Debug("keychain entry stored", "provider", provider)
	return nil
}

// Get returns the stored secret for a provider. A provider with no
// stored entry returns found=false with no error.
func (k *Keychain) Get(provider string) (string, bool, error) {
	path, err := k.entryPath(provider)
	if err != nil {
		return "", false, err
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	ciphertext, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading %s secret: %w", provider, err)
	}

	identity, err := age.ParseX25519Identity(k.identity.String())
	if err != nil {
		return "", false, fmt.Errorf("parsing keychain identity: %w", err)
	}
	reader, err := age.Decrypt(bytes.NewReader(ciphertext), identity)
	if err != nil {
		return "", false, fmt.Errorf("decrypting %s secret: %w", provider, err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return "", false, fmt.Errorf("reading decrypted %s secret: %w", provider, err)
	}

	value := string(plaintext)
	secret.Zero(plaintext)
	return value, true, nil
}

// Exists reports whether a secret is stored for the provider.
func (k *Keychain) Exists(provider string) (bool, error) {
	path, err := k.entryPath(provider)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("checking %s secret: %w", provider, err)
	}
	return true, nil
}

// Delete removes the secret for a provider. Returns true if an entry
// was removed, false if none existed.
func (k *Keychain) Delete(provider string) (bool, error) {
	path, err := k.entryPath(provider)
	if err != nil {
		return false, err
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if err := os.Remove(path); os.IsNotExist(err) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("deleting %s secret: %w", provider, err)
	}
	k.logger.Debug("keychain entry deleted", "provider", provider)
	return true, nil
}

// Prefix returns the first few characters of a stored secret for
// display ("sk-ant-a..."), or found=false when no entry exists.
// Bedrock entries are JSON documents, so their prefix is not exposed.
func (k *Keychain) Prefix(provider string) (string, bool, error) {
	if provider == credential.ProviderBedrock {
		return "", false, nil
	}
	value, found, err := k.Get(provider)
	if err != nil || !found {
		return "", found, err
	}
	const prefixLength = 8
	if len(value) <= prefixLength {
		return value + "...", true, nil
	}
	return value[:prefixLength] + "...", true, nil
}

// Clear removes every stored entry, leaving the identity in place.
func (k *Keychain) Clear() error {
	var errs []error
	for _, provider := range credential.Providers {
		if _, err := k.Delete(provider); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close releases the private key memory. The keychain must not be
// used afterwards.
func (k *Keychain) Close() error {
	if k.identity != nil {
		return k.identity.Close()
	}
	return nil
}

// Status describes a provider entry for UI display without revealing
// the secret.
type Status struct {
	Exists bool   `json:"exists"`
	Prefix string `json:"prefix,omitempty"`
}

// AllStatus returns the Status of every known provider, keyed by
// provider identifier.
func (k *Keychain) AllStatus() (map[string]Status, error) {
	result := make(map[string]Status, len(credential.Providers))
	for _, provider := range credential.Providers {
		exists, err := k.Exists(provider)
		if err != nil {
			return nil, err
		}
		status := Status{Exists: exists}
		if exists {
			prefix, found, err := k.Prefix(provider)
			if err != nil {
				return nil, err
			}
			if found {
				status.Prefix = strings.TrimSpace(prefix)
			}
		}
		result[provider] = status
	}
	return result, nil
}
