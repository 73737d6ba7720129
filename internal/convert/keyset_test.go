package convert

import (
	"bytes"
	"errors"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/devnik/vaultcam/internal/errs"
	model "github.com/devnik/vaultcam/internal/model"
)

func sampleKeyset() model.Keyset {
	return model.Keyset{
		PrimaryKeyID: 42,
		Keys: []model.KeysetKey{
			{ID: 7, TypeURL: "t/aes", Value: bytes.Repeat([]byte{1}, 32), Status: model.KeyDisabled},
			{ID: 42, TypeURL: "t/aes", Value: bytes.Repeat([]byte{2}, 32), Status: model.KeyEnabled},
		},
	}
}

func TestKeyset_EncodeDecode(t *testing.T) {
	t.Parallel()
	in := sampleKeyset()
	out, err := UnmarshalKeyset(MarshalKeyset(in))
	if err != nil {
		t.Fatalf("UnmarshalKeyset: %v", err)
	}
	if out.PrimaryKeyID != 42 || len(out.Keys) != 2 {
		t.Fatalf("decoded keyset mismatch: %+v", out)
	}
	if out.Keys[1].Status != model.KeyEnabled || !bytes.Equal(out.Keys[1].Value, in.Keys[1].Value) {
		t.Fatalf("primary key mismatch")
	}
}

func TestKeyset_SkipsUnknownFields(t *testing.T) {
	t.Parallel()
	b := MarshalKeyset(sampleKeyset())
	b = protowire.AppendTag(b, 99, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte("future"))
	if _, err := UnmarshalKeyset(b); err != nil {
		t.Fatalf("unknown fields must be ignored: %v", err)
	}
}

func TestKeyset_RejectsCorruption(t *testing.T) {
	t.Parallel()
	good := MarshalKeyset(sampleKeyset())

	noPrimary := sampleKeyset()
	noPrimary.PrimaryKeyID = 7

	dup := sampleKeyset()
	dup.Keys[0].ID = 42

	empty := sampleKeyset()
	empty.Keys[1].Value = nil

	cases := map[string][]byte{
		"empty":            nil,
		"truncated":        good[:len(good)-5],
		"garbage":          []byte{0xff, 0xff, 0xff},
		"disabled primary": MarshalKeyset(noPrimary),
		"duplicate id":     MarshalKeyset(dup),
		"empty value":      MarshalKeyset(empty),
	}
	for name, b := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := UnmarshalKeyset(b); !errors.Is(err, errs.ErrKeysetCorrupt) {
				t.Fatalf("want ErrKeysetCorrupt, got %v", err)
			}
		})
	}
}

func TestKeysetFile_Modes(t *testing.T) {
	t.Parallel()
	payload := []byte("payload")

	wrapped, err := MarshalKeysetFile(model.KeysetWrapped, payload)
	if err != nil {
		t.Fatalf("MarshalKeysetFile: %v", err)
	}
	got, err := UnmarshalKeysetFile(model.KeysetWrapped, wrapped)
	if err != nil || !bytes.Equal(got, payload) {
		t.Fatalf("wrapped roundtrip: %q %v", got, err)
	}

	_, err = UnmarshalKeysetFile(model.KeysetCleartext, wrapped)
	if !errors.Is(err, errs.ErrKeysetCorrupt) || !errors.Is(err, ErrModeMismatch) {
		t.Fatalf("loading wrapped as cleartext must fail cleanly, got %v", err)
	}

	plain, _ := MarshalKeysetFile(model.KeysetCleartext, payload)
	if _, err := UnmarshalKeysetFile(model.KeysetWrapped, plain); !errors.Is(err, ErrModeMismatch) {
		t.Fatalf("loading cleartext as wrapped must fail cleanly, got %v", err)
	}

	if _, err := MarshalKeysetFile(model.KeysetMode(9), payload); err == nil {
		t.Fatalf("unknown mode must be rejected")
	}
	if _, err := UnmarshalKeysetFile(model.KeysetWrapped, nil); !errors.Is(err, errs.ErrKeysetCorrupt) {
		t.Fatalf("empty file must be corrupt, got %v", err)
	}
}
