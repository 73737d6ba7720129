// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"github.com/devnik/vaultcam/internal/crypto"
	model "github.com/devnik/vaultcam/internal/model"
)

// ItemRepository stores vault items encrypted at rest. Every item is bound to
// its own id through the AEAD associated data.
type ItemRepository interface {
	// Dir returns the vault directory, creating it on first access.
	Dir() (string, error)

	// List returns all items, newest first. An empty vault yields an empty slice.
	List() ([]model.VaultItem, error)

	// SaveEncrypted encrypts plaintext under a fresh id and returns the id.
	SaveEncrypted(plaintext []byte, aead crypto.AEAD) (string, error)

	// Decrypt returns the plaintext of item id.
	Decrypt(id string, aead crypto.AEAD) ([]byte, error)

	// Delete removes item id and reports whether a file was removed.
	Delete(id string) (bool, error)

	// Rotate rotates the image stored under id by 90 degrees clockwise.
	Rotate(id string, aead crypto.AEAD) (bool, error)

	// Wipe removes every item.
	Wipe() error
}
