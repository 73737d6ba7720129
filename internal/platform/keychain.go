// Package platform adapts OS facilities used by the vault: the secure key container.
package platform

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/awnumar/memguard"
	"github.com/zalando/go-keyring"

	"github.com/devnik/vaultcam/internal/crypto"
	"github.com/devnik/vaultcam/internal/errs"
)

// DefaultService is the keychain service name entries are stored under.
const DefaultService = "dev.nik.vaultcam"

const probeAccount = "__probe__"

// Keychain is a secure key container. Raw key bytes cross this interface only
// inside this package; callers receive AEAD handles from OpenKey/GenerateKey.
type Keychain interface {
	// Probe reports errs.ErrContainerUnavailable when the container cannot be reached.
	Probe() error
	// Load returns the stored key or errs.ErrNotFound.
	Load(alias string) ([]byte, error)
	// Store saves key under alias, replacing any previous value.
	Store(alias string, key []byte) error
	// Delete removes alias; absent aliases are not an error.
	Delete(alias string) error
}

// OSKeychain stores keys in the platform credential store
// (Secret Service, macOS Keychain, Windows Credential Manager).
type OSKeychain struct {
	service string
}

var _ Keychain = (*OSKeychain)(nil)

// NewOSKeychain constructs a keychain under service (DefaultService if empty).
func NewOSKeychain(service string) *OSKeychain {
	if service == "" {
		service = DefaultService
	}
	return &OSKeychain{service: service}
}

// Probe reads a sentinel entry that never exists. A clean "not found" proves the
// backend answers. Only a missing backend counts as unavailable; a keychain that
// exists but refuses (locked, denied) is reported as an ordinary error.
func (k *OSKeychain) Probe() error {
	_, err := keyring.Get(k.service, probeAccount)
	switch {
	case err == nil, errors.Is(err, keyring.ErrNotFound):
		return nil
	case errors.Is(err, keyring.ErrUnsupportedPlatform):
		return errs.ErrContainerUnavailable
	case backendAbsent(err):
		return fmt.Errorf("%w: %v", errs.ErrContainerUnavailable, err)
	default:
		return fmt.Errorf("keychain probe: %w", err)
	}
}

// Failures that mean no secret service is reachable at all: no session bus,
// or nothing on the bus provides org.freedesktop.secrets.
var absentMarkers = []string{
	"dbus: ",
	"org.freedesktop.DBus.Error.ServiceUnknown",
	"org.freedesktop.DBus.Error.NoServer",
	"org.freedesktop.DBus.Error.Spawn",
	"was not provided by any .service files",
}

func backendAbsent(err error) bool {
	msg := err.Error()
	for _, m := range absentMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// Load decodes the stored key for alias.
func (k *OSKeychain) Load(alias string) ([]byte, error) {
	s, err := keyring.Get(k.service, alias)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("keychain get %q: %w", alias, err)
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("keychain entry %q malformed: %w", alias, err)
	}
	return raw, nil
}

// Store encodes key and saves it under alias.
func (k *OSKeychain) Store(alias string, key []byte) error {
	if err := keyring.Set(k.service, alias, base64.StdEncoding.EncodeToString(key)); err != nil {
		return fmt.Errorf("keychain set %q: %w", alias, err)
	}
	return nil
}

// Delete removes alias from the keychain.
func (k *OSKeychain) Delete(alias string) error {
	err := keyring.Delete(k.service, alias)
	if err == nil || errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return fmt.Errorf("keychain delete %q: %w", alias, err)
}

// OpenKey loads alias and returns an AEAD over it. The raw bytes are wiped before return.
func OpenKey(kc Keychain, alias string) (crypto.AEAD, error) {
	raw, err := kc.Load(alias)
	if err != nil {
		return nil, err
	}
	defer memguard.WipeBytes(raw)
	if len(raw) != crypto.KeySize {
		return nil, fmt.Errorf("keychain entry %q: unexpected key length %d", alias, len(raw))
	}
	return crypto.NewAESGCM(raw)
}

// GenerateKey creates a fresh 256-bit AES-GCM key inside the container under alias.
func GenerateKey(kc Keychain, alias string) (crypto.AEAD, error) {
	raw, err := crypto.RandBytes(crypto.KeySize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrKeyGeneration, err)
	}
	defer memguard.WipeBytes(raw)
	if err := kc.Store(alias, raw); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrKeyGeneration, err)
	}
	a, err := crypto.NewAESGCM(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrKeyGeneration, err)
	}
	return a, nil
}
