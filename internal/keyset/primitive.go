package keyset

import (
	"encoding/binary"
	"fmt"

	"github.com/devnik/vaultcam/internal/crypto"
	"github.com/devnik/vaultcam/internal/errs"
	model "github.com/devnik/vaultcam/internal/model"
)

// Ciphertext layout: version(1) || key id(4, big endian) || primitive output.
const (
	prefixVersion byte = 0x01
	prefixSize         = 5
)

// primitive routes decryption to the key named in the ciphertext prefix and
// encrypts with the primary key.
type primitive struct {
	primaryID uint32
	keys      map[uint32]crypto.AEAD
}

var _ crypto.AEAD = (*primitive)(nil)

// newPrimitive builds the keyset primitive from the enabled keys of ks.
func newPrimitive(ks model.Keyset, r *Registry) (*primitive, error) {
	p := &primitive{primaryID: ks.PrimaryKeyID, keys: make(map[uint32]crypto.AEAD, len(ks.Keys))}
	for _, k := range ks.Keys {
		if k.Status != model.KeyEnabled {
			continue
		}
		a, err := r.primitive(k.TypeURL, k.Value)
		if err != nil {
			return nil, fmt.Errorf("key %d: %w", k.ID, err)
		}
		p.keys[k.ID] = a
	}
	if _, ok := p.keys[p.primaryID]; !ok {
		return nil, fmt.Errorf("%w: primary key %d unusable", errs.ErrKeysetCorrupt, p.primaryID)
	}
	return p, nil
}

func (p *primitive) Encrypt(plaintext, associatedData []byte) ([]byte, error) {
	ct, err := p.keys[p.primaryID].Encrypt(plaintext, associatedData)
	if err != nil {
		return nil, err
	}
	out := make([]byte, prefixSize, prefixSize+len(ct))
	out[0] = prefixVersion
	binary.BigEndian.PutUint32(out[1:prefixSize], p.primaryID)
	return append(out, ct...), nil
}

func (p *primitive) Decrypt(ciphertext, associatedData []byte) ([]byte, error) {
	if len(ciphertext) < prefixSize || ciphertext[0] != prefixVersion {
		return nil, errs.ErrAuthFailed
	}
	a, ok := p.keys[binary.BigEndian.Uint32(ciphertext[1:prefixSize])]
	if !ok {
		// produced by a different keyset
		return nil, errs.ErrAuthFailed
	}
	return a.Decrypt(ciphertext[prefixSize:], associatedData)
}
