// Package service exposes vault operations behind the session gate.
package service

import (
	"context"
	"fmt"

	"github.com/devnik/vaultcam/internal/crypto"
	"github.com/devnik/vaultcam/internal/errs"
	model "github.com/devnik/vaultcam/internal/model"
	"github.com/devnik/vaultcam/internal/repository"
	"github.com/devnik/vaultcam/internal/session"
)

// VaultService defines operations over encrypted vault items.
type VaultService interface {
	// Save encrypts and stores content. Capture may save while the vault is locked.
	Save(ctx context.Context, plaintext []byte) (string, error)
	// List returns stored items newest first.
	List(ctx context.Context) ([]model.VaultItem, error)
	// Open returns decrypted content of a single item.
	Open(ctx context.Context, id string) ([]byte, error)
	// Delete removes an item and reports whether it existed.
	Delete(ctx context.Context, id string) (bool, error)
	// Rotate turns an image item 90 degrees clockwise in place.
	Rotate(ctx context.Context, id string) (bool, error)
	// Wipe removes every item and the keyset, then locks the session.
	Wipe(ctx context.Context) error
}

// KeyManager supplies the data AEAD and owns the keyset lifecycle.
type KeyManager interface {
	AEAD() (crypto.AEAD, error)
	ClearCachedAEAD()
	DeleteKeyset() error
}

type VaultServiceImpl struct {
	repo repository.ItemRepository
	keys KeyManager
	gate *session.Gate
}

var _ VaultService = (*VaultServiceImpl)(nil)

// NewVaultService constructs VaultService.
func NewVaultService(repo repository.ItemRepository, keys KeyManager, gate *session.Gate) *VaultServiceImpl {
	return &VaultServiceImpl{repo: repo, keys: keys, gate: gate}
}

func (s *VaultServiceImpl) Save(ctx context.Context, plaintext []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	aead, err := s.keys.AEAD()
	if err != nil {
		return "", fmt.Errorf("keyset: %w", err)
	}
	return s.repo.SaveEncrypted(plaintext, aead)
}

func (s *VaultServiceImpl) List(ctx context.Context) ([]model.VaultItem, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	return s.repo.List()
}

func (s *VaultServiceImpl) Open(ctx context.Context, id string) ([]byte, error) {
	aead, err := s.unlockedAEAD(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.Decrypt(id, aead)
}

func (s *VaultServiceImpl) Delete(ctx context.Context, id string) (bool, error) {
	if err := s.check(ctx); err != nil {
		return false, err
	}
	return s.repo.Delete(id)
}

func (s *VaultServiceImpl) Rotate(ctx context.Context, id string) (bool, error) {
	aead, err := s.unlockedAEAD(ctx)
	if err != nil {
		return false, err
	}
	return s.repo.Rotate(id, aead)
}

// Wipe removes items first and the keyset only once they are gone.
func (s *VaultServiceImpl) Wipe(ctx context.Context) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if err := s.repo.Wipe(); err != nil {
		return err
	}
	if err := s.keys.DeleteKeyset(); err != nil {
		return err
	}
	s.keys.ClearCachedAEAD()
	s.gate.Clear()
	return nil
}

func (s *VaultServiceImpl) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.gate.IsUnlockedNow() {
		return errs.ErrLocked
	}
	return nil
}

func (s *VaultServiceImpl) unlockedAEAD(ctx context.Context) (crypto.AEAD, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	aead, err := s.keys.AEAD()
	if err != nil {
		return nil, fmt.Errorf("keyset: %w", err)
	}
	return aead, nil
}
