package keyset

import (
	"encoding/binary"
	"fmt"

	"github.com/devnik/vaultcam/internal/crypto"
	"github.com/devnik/vaultcam/internal/errs"
	model "github.com/devnik/vaultcam/internal/model"
)

// Generate creates a keyset with a single enabled AES-256-GCM key.
func Generate() (model.Keyset, error) {
	id, err := newKeyID()
	if err != nil {
		return model.Keyset{}, err
	}
	value, err := crypto.RandBytes(crypto.KeySize)
	if err != nil {
		return model.Keyset{}, fmt.Errorf("%w: %v", errs.ErrKeyGeneration, err)
	}
	return model.Keyset{
		PrimaryKeyID: id,
		Keys: []model.KeysetKey{{
			ID:      id,
			TypeURL: AESGCMTypeURL,
			Value:   value,
			Status:  model.KeyEnabled,
		}},
	}, nil
}

func newKeyID() (uint32, error) {
	for {
		b, err := crypto.RandBytes(4)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", errs.ErrKeyGeneration, err)
		}
		if id := binary.BigEndian.Uint32(b); id != 0 {
			return id, nil
		}
	}
}
