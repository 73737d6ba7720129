// Package fsvault implements repository.ItemRepository on the local filesystem.
//
// Each item is a single file <id>.enc in <root>/no_backup/secure_media holding
// the keyset primitive output with the id as associated data. A ciphertext
// renamed to another id no longer decrypts.
package fsvault

import (
	"cmp"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/devnik/vaultcam/internal/crypto"
	"github.com/devnik/vaultcam/internal/errs"
	"github.com/devnik/vaultcam/internal/fsutil"
	model "github.com/devnik/vaultcam/internal/model"
	"github.com/devnik/vaultcam/internal/repository"
)

// Layout under the storage root.
const (
	NoBackupDir = "no_backup"
	MediaDir    = "secure_media"
	Ext         = ".enc"
)

// cacheDirTag marks no_backup as a cache directory (bford.info/cachedir) so backup tools skip it.
const cacheDirTag = "Signature: 8a477f597d28d172789f06886806bc55\n" +
	"# This directory holds device-bound encrypted media.\n" +
	"# Its content cannot be restored on another device.\n"

// Store is the filesystem vault.
type Store struct {
	root      string
	transform Transformer
	log       *zap.Logger
}

var _ repository.ItemRepository = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithTransformer replaces the image rotation used by Rotate.
func WithTransformer(t Transformer) Option {
	return func(s *Store) {
		if t != nil {
			s.transform = t
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// New returns a vault rooted at root.
func New(root string, opts ...Option) *Store {
	s := &Store{
		root:      root,
		transform: ClockwiseRotator{JPEGQuality: DefaultJPEGQuality},
		log:       zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Dir returns the vault directory, creating it (0700) and the backup exclusion tag on first access.
func (s *Store) Dir() (string, error) {
	nb := filepath.Join(s.root, NoBackupDir)
	dir := filepath.Join(nb, MediaDir)
	if err := fsutil.EnsureDir(dir); err != nil {
		return "", fmt.Errorf("vault dir: %w", err)
	}
	tag := filepath.Join(nb, "CACHEDIR.TAG")
	if _, err := os.Stat(tag); errors.Is(err, os.ErrNotExist) {
		if err := fsutil.WriteFileAtomic(tag, []byte(cacheDirTag), 0o600); err != nil {
			return "", fmt.Errorf("cachedir tag: %w", err)
		}
	}
	return dir, nil
}

// List returns items newest first.
func (s *Store) List() ([]model.VaultItem, error) {
	dir, err := s.Dir()
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list vault: %w", err)
	}

	items := make([]model.VaultItem, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || !strings.HasSuffix(name, Ext) {
			continue
		}
		id := strings.TrimSuffix(name, Ext)
		if validateID(id) != nil {
			continue
		}
		info, err := e.Info()
		if errors.Is(err, os.ErrNotExist) {
			continue // removed meanwhile
		}
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", name, err)
		}
		items = append(items, model.VaultItem{
			ID:        id,
			Path:      filepath.Join(dir, name),
			CreatedAt: info.ModTime(),
		})
	}
	slices.SortFunc(items, func(a, b model.VaultItem) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return items, nil
}

// SaveEncrypted stores plaintext under a new random id.
func (s *Store) SaveEncrypted(plaintext []byte, aead crypto.AEAD) (string, error) {
	dir, err := s.Dir()
	if err != nil {
		return "", err
	}
	u, err := uuid.NewV4()
	if err != nil {
		return "", fmt.Errorf("new item id: %w", err)
	}
	id := u.String()

	ct, err := aead.Encrypt(plaintext, []byte(id))
	if err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(dir, id+Ext), ct, 0o600); err != nil {
		return "", fmt.Errorf("write item: %w", err)
	}
	s.log.Debug("item saved", zap.String("id", id), zap.Int("size", len(ct)))
	return id, nil
}

// Decrypt reads and authenticates item id.
func (s *Store) Decrypt(id string, aead crypto.AEAD) ([]byte, error) {
	path, err := s.itemPath(id)
	if err != nil {
		return nil, err
	}
	ct, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("item %s: %w", id, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read item %s: %w", id, err)
	}
	pt, err := aead.Decrypt(ct, []byte(id))
	if err != nil {
		return nil, fmt.Errorf("item %s: %w", id, err)
	}
	return pt, nil
}

// Delete removes item id. Deleting an absent item reports false.
func (s *Store) Delete(id string) (bool, error) {
	path, err := s.itemPath(id)
	if err != nil {
		return false, err
	}
	err = os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("delete item %s: %w", id, err)
	}
	return true, nil
}

// Rotate decrypts item id, transforms it and atomically replaces the file under
// the same id with a fresh nonce. On any failure the original file is untouched.
// The item keeps its modification time so its position in List does not change.
func (s *Store) Rotate(id string, aead crypto.AEAD) (bool, error) {
	pt, err := s.Decrypt(id, aead)
	if err != nil {
		return false, err
	}
	path, _ := s.itemPath(id)
	info, statErr := os.Stat(path)

	out, err := s.transform.Transform(pt)
	if err != nil {
		return false, fmt.Errorf("transform item %s: %w", id, err)
	}
	ct, err := aead.Encrypt(out, []byte(id))
	if err != nil {
		return false, fmt.Errorf("encrypt: %w", err)
	}
	if err := fsutil.WriteFileAtomic(path, ct, 0o600); err != nil {
		return false, fmt.Errorf("write item %s: %w", id, err)
	}

	if statErr == nil {
		if err := os.Chtimes(path, info.ModTime(), info.ModTime()); err != nil {
			s.log.Warn("keep item mtime", zap.String("id", id), zap.Error(err))
		}
	}
	return true, nil
}

// Wipe removes everything in the vault directory.
func (s *Store) Wipe() error {
	dir, err := s.Dir()
	if err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("wipe vault: %w", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return fmt.Errorf("wipe vault: %w", err)
		}
	}
	s.log.Info("vault wiped", zap.Int("entries", len(entries)))
	return nil
}

func (s *Store) itemPath(id string) (string, error) {
	if err := validateID(id); err != nil {
		return "", err
	}
	dir, err := s.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, id+Ext), nil
}

func validateID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) || strings.ContainsRune(id, 0) {
		return fmt.Errorf("%w: %q", errs.ErrInvalidID, id)
	}
	return nil
}
