package keyset

import (
	"errors"
	"fmt"
	"sync"

	"github.com/devnik/vaultcam/internal/crypto"
	"github.com/devnik/vaultcam/internal/errs"
)

// AESGCMTypeURL names 256-bit AES-GCM data keys.
const AESGCMTypeURL = "type.vaultcam.dev/aead/AesGcmKey"

// PrimitiveFactory builds an AEAD from raw key material.
type PrimitiveFactory func(key []byte) (crypto.AEAD, error)

// Registry maps key type URLs to primitive factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]PrimitiveFactory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]PrimitiveFactory{}}
}

// Register adds f under typeURL. Registering a type twice keeps the first factory.
func (r *Registry) Register(typeURL string, f PrimitiveFactory) error {
	if typeURL == "" || f == nil {
		return errors.New("register: empty type url or factory")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[typeURL]; !ok {
		r.factories[typeURL] = f
	}
	return nil
}

func (r *Registry) primitive(typeURL string, key []byte) (crypto.AEAD, error) {
	r.mu.RLock()
	f, ok := r.factories[typeURL]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no primitive registered for key type %q", typeURL)
	}
	a, err := f(key)
	if err != nil {
		// key material the type cannot use
		return nil, fmt.Errorf("%w: %v", errs.ErrKeysetCorrupt, err)
	}
	return a, nil
}

// RegisterAEAD registers the AEAD key types the vault writes.
func RegisterAEAD(r *Registry) error {
	return r.Register(AESGCMTypeURL, func(key []byte) (crypto.AEAD, error) {
		return crypto.NewAESGCM(key)
	})
}
