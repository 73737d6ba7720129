// Package model defines domain entities used by services and repositories.
package model

import "time"

// VaultItem is a single stored photo. Only metadata lives here; content stays on disk.
type VaultItem struct {
	ID        string    // random UUID, file stem and associated data
	Path      string    // absolute path of the .enc file
	CreatedAt time.Time // file modification time, display ordering only
}

// KeysetMode records how the data keyset is persisted.
type KeysetMode int

const (
	// KeysetCleartext stores the keyset unwrapped in private storage (no key container).
	KeysetCleartext KeysetMode = iota + 1
	// KeysetWrapped stores the keyset encrypted under the master key.
	KeysetWrapped
)

// String implements fmt.Stringer.
func (m KeysetMode) String() string {
	switch m {
	case KeysetCleartext:
		return "cleartext"
	case KeysetWrapped:
		return "wrapped"
	default:
		return "unknown"
	}
}

// KeyStatus is the lifecycle state of a key inside a keyset.
type KeyStatus int32

const (
	KeyEnabled   KeyStatus = 1
	KeyDisabled  KeyStatus = 2
	KeyDestroyed KeyStatus = 3
)

// KeysetKey is a single data-encryption key. Value is raw key material and must
// never be logged or persisted outside a keyset file.
type KeysetKey struct {
	ID      uint32
	TypeURL string
	Value   []byte
	Status  KeyStatus
}

// Keyset is the set of data keys; PrimaryKeyID selects the key used for new ciphertexts.
type Keyset struct {
	PrimaryKeyID uint32
	Keys         []KeysetKey
}

// Primary returns the primary key, if present and enabled.
func (ks Keyset) Primary() (KeysetKey, bool) {
	for _, k := range ks.Keys {
		if k.ID == ks.PrimaryKeyID && k.Status == KeyEnabled {
			return k, true
		}
	}
	return KeysetKey{}, false
}
