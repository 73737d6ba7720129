// Package convert encodes keysets in protobuf wire format.
//
// Messages:
//
//	KeysetFile { bytes encrypted_keyset = 1; bytes keyset = 2; }
//	Keyset     { uint32 primary_key_id = 1; repeated Key key = 2; }
//	Key        { uint32 key_id = 1; string type_url = 2; bytes value = 3; int32 status = 4; }
package convert

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/devnik/vaultcam/internal/errs"
	model "github.com/devnik/vaultcam/internal/model"
)

const (
	fileEncrypted protowire.Number = 1
	fileCleartext protowire.Number = 2

	keysetPrimary protowire.Number = 1
	keysetKey     protowire.Number = 2

	keyID      protowire.Number = 1
	keyTypeURL protowire.Number = 2
	keyValue   protowire.Number = 3
	keyStatus  protowire.Number = 4
)

// --- helpers ---

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errs.ErrKeysetCorrupt, fmt.Sprintf(format, args...))
}

// walk iterates over top-level fields of msg.
func walk(msg []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(msg) > 0 {
		num, typ, n := protowire.ConsumeTag(msg)
		if n < 0 {
			return corrupt("tag: %v", protowire.ParseError(n))
		}
		msg = msg[n:]
		m, err := fn(num, typ, msg)
		if err != nil {
			return err
		}
		if m == 0 {
			m = protowire.ConsumeFieldValue(num, typ, msg)
		}
		if m < 0 {
			return corrupt("field %d: %v", num, protowire.ParseError(m))
		}
		msg = msg[m:]
	}
	return nil
}

func consumeBytes(typ protowire.Type, b []byte) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, corrupt("unexpected wire type %d", typ)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, n, nil
	}
	return append([]byte(nil), v...), n, nil
}

func consumeVarint(typ protowire.Type, b []byte) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, corrupt("unexpected wire type %d", typ)
	}
	v, n := protowire.ConsumeVarint(b)
	return v, n, nil
}

// --- Keyset ---

// MarshalKeyset encodes ks.
func MarshalKeyset(ks model.Keyset) []byte {
	var b []byte
	b = protowire.AppendTag(b, keysetPrimary, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(ks.PrimaryKeyID))
	for _, k := range ks.Keys {
		b = protowire.AppendTag(b, keysetKey, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalKey(k))
	}
	return b
}

func marshalKey(k model.KeysetKey) []byte {
	var b []byte
	b = protowire.AppendTag(b, keyID, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(k.ID))
	b = protowire.AppendTag(b, keyTypeURL, protowire.BytesType)
	b = protowire.AppendString(b, k.TypeURL)
	b = protowire.AppendTag(b, keyValue, protowire.BytesType)
	b = protowire.AppendBytes(b, k.Value)
	b = protowire.AppendTag(b, keyStatus, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(k.Status))
	return b
}

// UnmarshalKeyset decodes and validates a keyset. Partial or inconsistent
// input is rejected with errs.ErrKeysetCorrupt.
func UnmarshalKeyset(b []byte) (model.Keyset, error) {
	var ks model.Keyset
	err := walk(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		switch num {
		case keysetPrimary:
			v, n, err := consumeVarint(typ, rest)
			ks.PrimaryKeyID = uint32(v)
			return n, err
		case keysetKey:
			raw, n, err := consumeBytes(typ, rest)
			if err != nil || n < 0 {
				return n, err
			}
			k, err := unmarshalKey(raw)
			if err != nil {
				return n, err
			}
			ks.Keys = append(ks.Keys, k)
			return n, nil
		}
		return 0, nil
	})
	if err != nil {
		return model.Keyset{}, err
	}
	if err := validate(ks); err != nil {
		return model.Keyset{}, err
	}
	return ks, nil
}

func unmarshalKey(b []byte) (model.KeysetKey, error) {
	var k model.KeysetKey
	err := walk(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		switch num {
		case keyID:
			v, n, err := consumeVarint(typ, rest)
			k.ID = uint32(v)
			return n, err
		case keyTypeURL:
			v, n, err := consumeBytes(typ, rest)
			k.TypeURL = string(v)
			return n, err
		case keyValue:
			v, n, err := consumeBytes(typ, rest)
			k.Value = v
			return n, err
		case keyStatus:
			v, n, err := consumeVarint(typ, rest)
			k.Status = model.KeyStatus(v)
			return n, err
		}
		return 0, nil
	})
	return k, err
}

func validate(ks model.Keyset) error {
	if len(ks.Keys) == 0 {
		return corrupt("empty keyset")
	}
	seen := make(map[uint32]bool, len(ks.Keys))
	for _, k := range ks.Keys {
		if seen[k.ID] {
			return corrupt("duplicate key id %d", k.ID)
		}
		seen[k.ID] = true
		if k.TypeURL == "" || len(k.Value) == 0 {
			return corrupt("key %d incomplete", k.ID)
		}
	}
	if _, ok := ks.Primary(); !ok {
		return corrupt("primary key %d missing or not enabled", ks.PrimaryKeyID)
	}
	return nil
}

// --- KeysetFile ---

// MarshalKeysetFile wraps payload as either an encrypted or a cleartext keyset.
func MarshalKeysetFile(mode model.KeysetMode, payload []byte) ([]byte, error) {
	var num protowire.Number
	switch mode {
	case model.KeysetWrapped:
		num = fileEncrypted
	case model.KeysetCleartext:
		num = fileCleartext
	default:
		return nil, fmt.Errorf("unknown keyset mode %d", mode)
	}
	b := protowire.AppendTag(nil, num, protowire.BytesType)
	return protowire.AppendBytes(b, payload), nil
}

// ErrModeMismatch reports a keyset file written in a different persistence mode.
var ErrModeMismatch = errors.New("keyset persistence mode mismatch")

// UnmarshalKeysetFile returns the payload of a keyset file written in mode want.
func UnmarshalKeysetFile(want model.KeysetMode, b []byte) ([]byte, error) {
	var (
		payload []byte
		got     model.KeysetMode
	)
	err := walk(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		switch num {
		case fileEncrypted, fileCleartext:
			if got != 0 {
				return 0, corrupt("keyset file holds both modes")
			}
			v, n, err := consumeBytes(typ, rest)
			payload = v
			got = model.KeysetWrapped
			if num == fileCleartext {
				got = model.KeysetCleartext
			}
			return n, err
		}
		return 0, nil
	})
	if err != nil {
		return nil, err
	}
	if got == 0 || len(payload) == 0 {
		return nil, corrupt("keyset file empty")
	}
	if got != want {
		return nil, fmt.Errorf("%w: %w: file is %s, expected %s", errs.ErrKeysetCorrupt, ErrModeMismatch, got, want)
	}
	return payload, nil
}
