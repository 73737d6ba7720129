// Package keyset owns the data-encryption keyset and the cached AEAD derived from it.
//
// With a key container the keyset is persisted wrapped under the master key, and a
// preference entry records which master key wraps it. Without one the keyset is
// written in cleartext to private storage. The mode follows the master key provider
// and a keyset written in one mode never loads in the other.
package keyset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/devnik/vaultcam/internal/convert"
	"github.com/devnik/vaultcam/internal/crypto"
	"github.com/devnik/vaultcam/internal/errs"
	"github.com/devnik/vaultcam/internal/fsutil"
	model "github.com/devnik/vaultcam/internal/model"
	"github.com/devnik/vaultcam/internal/prefs"
)

// Persisted layout under the storage root.
const (
	KeysetDir      = "keys"
	KeysetFileName = "keyset.pb"
	PrefsDir       = "shared_prefs"
	PrefsName      = "vaultcam_keyset_prefs"
)

// MasterKeySource is the master key provider as seen by the keyset manager.
type MasterKeySource interface {
	MasterKey() (crypto.AEAD, error)
	HardwareBacked() bool
	KeyURI() string
}

// Manager loads or creates the keyset and caches its primitive.
type Manager struct {
	root     string
	master   MasterKeySource
	prefs    *prefs.Store
	registry *Registry
	register func(*Registry) error
	log      *zap.Logger

	regOnce sync.Once
	mu      sync.Mutex
	cached  atomic.Pointer[primitive]
}

// Option configures a Manager.
type Option func(*Manager)

// WithRegistry sets the primitive registry and the function that populates it.
func WithRegistry(r *Registry, register func(*Registry) error) Option {
	return func(m *Manager) {
		m.registry = r
		m.register = register
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// NewManager constructs a manager for the storage root.
func NewManager(root string, master MasterKeySource, opts ...Option) *Manager {
	m := &Manager{
		root:     root,
		master:   master,
		prefs:    prefs.Open(filepath.Join(root, PrefsDir), PrefsName),
		registry: NewRegistry(),
		register: RegisterAEAD,
		log:      zap.NewNop(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Mode reports the persistence mode chosen from the master key provider.
func (m *Manager) Mode() model.KeysetMode {
	if m.master.HardwareBacked() {
		return model.KeysetWrapped
	}
	return model.KeysetCleartext
}

// KeysetPath returns the keyset file location.
func (m *Manager) KeysetPath() string {
	return filepath.Join(m.root, KeysetDir, KeysetFileName)
}

// AEAD returns the cached primitive, loading or creating the keyset on first use.
// Concurrent first callers receive the same instance.
func (m *Manager) AEAD() (crypto.AEAD, error) {
	if p := m.cached.Load(); p != nil {
		return p, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if p := m.cached.Load(); p != nil {
		return p, nil
	}

	m.regOnce.Do(func() {
		if err := m.register(m.registry); err != nil {
			m.log.Error("register aead key types", zap.Error(err))
		}
	})

	ks, err := m.loadOrCreate()
	if err != nil {
		return nil, err
	}
	p, err := newPrimitive(ks, m.registry)
	if err != nil {
		return nil, err
	}
	m.cached.Store(p)
	return p, nil
}

// ClearCachedAEAD drops the cached primitive; the next AEAD call reloads the keyset.
func (m *Manager) ClearCachedAEAD() {
	m.cached.Store(nil)
}

// DeleteKeyset removes the keyset file and its preference entry.
// Items encrypted under the deleted keyset become unreadable.
func (m *Manager) DeleteKeyset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := os.Remove(m.KeysetPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete keyset: %w", err)
	}
	if err := m.prefs.Remove(KeysetFileName); err != nil {
		return fmt.Errorf("delete keyset pref: %w", err)
	}
	m.cached.Store(nil)
	return nil
}

func (m *Manager) loadOrCreate() (model.Keyset, error) {
	if err := fsutil.EnsureDir(filepath.Join(m.root, KeysetDir)); err != nil {
		return model.Keyset{}, fmt.Errorf("keyset dir: %w", err)
	}
	if m.master.HardwareBacked() {
		return m.loadOrCreateWrapped()
	}
	return m.loadOrCreateCleartext()
}

func (m *Manager) loadOrCreateWrapped() (model.Keyset, error) {
	mk, err := m.master.MasterKey()
	if err != nil {
		return model.Keyset{}, fmt.Errorf("master key: %w", err)
	}
	uri := m.master.KeyURI()

	raw, err := os.ReadFile(m.KeysetPath())
	switch {
	case errors.Is(err, os.ErrNotExist):
		if _, ok, perr := m.prefs.Get(KeysetFileName); perr == nil && ok {
			m.log.Warn("wrapped keyset missing, generating a new one")
		}
		return m.createWrapped(mk, uri)
	case err != nil:
		return model.Keyset{}, fmt.Errorf("read keyset: %w", err)
	}

	ref, ok, err := m.prefs.Get(KeysetFileName)
	if err != nil {
		return model.Keyset{}, fmt.Errorf("keyset pref: %w", err)
	}
	if !ok || ref != uri {
		return model.Keyset{}, fmt.Errorf("%w: keyset not wrapped by %s", errs.ErrKeysetCorrupt, uri)
	}

	payload, err := convert.UnmarshalKeysetFile(model.KeysetWrapped, raw)
	if err != nil {
		return model.Keyset{}, err
	}
	plain, err := mk.Decrypt(payload, []byte(uri))
	if err != nil {
		return model.Keyset{}, fmt.Errorf("%w: unwrap: %v", errs.ErrKeysetCorrupt, err)
	}
	return convert.UnmarshalKeyset(plain)
}

func (m *Manager) createWrapped(mk crypto.AEAD, uri string) (model.Keyset, error) {
	ks, err := Generate()
	if err != nil {
		return model.Keyset{}, err
	}
	wrapped, err := mk.Encrypt(convert.MarshalKeyset(ks), []byte(uri))
	if err != nil {
		return model.Keyset{}, fmt.Errorf("wrap keyset: %w", err)
	}
	// The pref goes first: a pref without a file regenerates cleanly,
	// a file without its pref would not load.
	if err := m.prefs.Set(KeysetFileName, uri); err != nil {
		return model.Keyset{}, fmt.Errorf("keyset pref: %w", err)
	}
	if err := m.write(model.KeysetWrapped, wrapped); err != nil {
		return model.Keyset{}, err
	}
	m.log.Info("created wrapped keyset", zap.Uint32("primary_key_id", ks.PrimaryKeyID))
	return ks, nil
}

func (m *Manager) loadOrCreateCleartext() (model.Keyset, error) {
	raw, err := os.ReadFile(m.KeysetPath())
	if err == nil {
		payload, err := convert.UnmarshalKeysetFile(model.KeysetCleartext, raw)
		if err != nil {
			return model.Keyset{}, err
		}
		return convert.UnmarshalKeyset(payload)
	}
	if !errors.Is(err, os.ErrNotExist) {
		return model.Keyset{}, fmt.Errorf("read keyset: %w", err)
	}

	ks, err := Generate()
	if err != nil {
		return model.Keyset{}, err
	}
	if err := m.write(model.KeysetCleartext, convert.MarshalKeyset(ks)); err != nil {
		return model.Keyset{}, err
	}
	m.log.Info("created cleartext keyset", zap.Uint32("primary_key_id", ks.PrimaryKeyID))
	return ks, nil
}

func (m *Manager) write(mode model.KeysetMode, payload []byte) error {
	b, err := convert.MarshalKeysetFile(mode, payload)
	if err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(m.KeysetPath(), b, 0o600); err != nil {
		return fmt.Errorf("write keyset: %w", err)
	}
	return nil
}
