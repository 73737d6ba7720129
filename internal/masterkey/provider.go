// Package masterkey obtains the symmetric master key that wraps the data keyset.
//
// Two strategies implement one capability. The container strategy keeps the key
// in the OS keychain under a fixed alias. The memory strategy generates a key
// that lives only in a memguard enclave and is lost when the process exits;
// anything wrapped under it is unrecoverable after a restart. The strategy is
// chosen once, by ProbeCapability, when the Provider is built.
package masterkey

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/awnumar/memguard"
	"go.uber.org/zap"

	"github.com/devnik/vaultcam/internal/crypto"
	"github.com/devnik/vaultcam/internal/errs"
	"github.com/devnik/vaultcam/internal/platform"
)

// Alias is the single master key alias of an installation.
const Alias = "VaultCamMasterKey"

// URIPrefix prefixes Alias in the master key URI recorded next to a wrapped keyset.
const URIPrefix = "vault-keychain://"

// Strategy produces the master key.
type Strategy interface {
	// MasterKey returns the existing key or creates it on first use.
	MasterKey() (crypto.AEAD, error)
	// HardwareBacked reports whether the key lives outside process memory.
	HardwareBacked() bool
}

// ProbeCapability reports whether kc is usable. Only errs.ErrContainerUnavailable
// is swallowed; any other probe failure is returned to the caller.
func ProbeCapability(kc platform.Keychain) (bool, error) {
	if kc == nil {
		return false, nil
	}
	err := kc.Probe()
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errs.ErrContainerUnavailable):
		return false, nil
	default:
		return false, fmt.Errorf("probe key container: %w", err)
	}
}

// Select probes kc once and returns the matching strategy.
func Select(kc platform.Keychain, log *zap.Logger) (Strategy, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if kc == nil {
		log.Info("master key: keychain disabled, using in-memory key")
		return &memoryStrategy{}, nil
	}
	ok, err := ProbeCapability(kc)
	if err != nil {
		return nil, err
	}
	if ok {
		log.Info("master key: keychain container")
		return &containerStrategy{kc: kc, alias: Alias}, nil
	}
	log.Warn("master key: keychain unavailable, using in-memory key")
	return &memoryStrategy{}, nil
}

// Provider hands out the master key of the selected strategy.
type Provider struct {
	strategy Strategy
}

// NewProvider probes kc and builds a provider. kc may be nil to force the memory strategy.
func NewProvider(kc platform.Keychain, log *zap.Logger) (*Provider, error) {
	s, err := Select(kc, log)
	if err != nil {
		return nil, err
	}
	return &Provider{strategy: s}, nil
}

// NewProviderWithStrategy wraps an explicit strategy.
func NewProviderWithStrategy(s Strategy) *Provider {
	return &Provider{strategy: s}
}

// MasterKey returns the master key, creating it on first use.
func (p *Provider) MasterKey() (crypto.AEAD, error) {
	return p.strategy.MasterKey()
}

// HardwareBacked reports whether the keyset may be wrapped and stored outside private storage.
func (p *Provider) HardwareBacked() bool {
	return p.strategy.HardwareBacked()
}

// KeyURI identifies the master key a wrapped keyset belongs to.
func (p *Provider) KeyURI() string {
	return URIPrefix + Alias
}

// Reset drops the in-memory key. Keys held by the container are not touched.
func (p *Provider) Reset() {
	if m, ok := p.strategy.(*memoryStrategy); ok {
		m.reset()
	}
}

type containerStrategy struct {
	kc    platform.Keychain
	alias string
	mu    sync.Mutex // serialises lookup-or-generate
}

func (s *containerStrategy) HardwareBacked() bool { return true }

func (s *containerStrategy) MasterKey() (crypto.AEAD, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, err := platform.OpenKey(s.kc, s.alias)
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, errs.ErrNotFound) {
		return nil, fmt.Errorf("load master key: %w", err)
	}
	return platform.GenerateKey(s.kc, s.alias)
}

type memoryStrategy struct {
	enclave atomic.Pointer[memguard.Enclave]
	mu      sync.Mutex
}

func (s *memoryStrategy) HardwareBacked() bool { return false }

func (s *memoryStrategy) MasterKey() (crypto.AEAD, error) {
	e := s.enclave.Load()
	if e == nil {
		s.mu.Lock()
		e = s.enclave.Load()
		if e == nil {
			e = memguard.NewEnclaveRandom(crypto.KeySize)
			s.enclave.Store(e)
		}
		s.mu.Unlock()
	}

	buf, err := e.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open enclave: %v", errs.ErrKeyGeneration, err)
	}
	defer buf.Destroy()
	return crypto.NewAESGCM(buf.Bytes())
}

func (s *memoryStrategy) reset() {
	s.mu.Lock()
	s.enclave.Store(nil)
	s.mu.Unlock()
}
