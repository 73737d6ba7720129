package keyset

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sync/errgroup"

	"github.com/devnik/vaultcam/internal/convert"
	"github.com/devnik/vaultcam/internal/crypto"
	"github.com/devnik/vaultcam/internal/errs"
	model "github.com/devnik/vaultcam/internal/model"
	"github.com/devnik/vaultcam/internal/prefs"
)

const testURI = "vault-keychain://VaultCamMasterKey"

type fakeMaster struct {
	key      crypto.AEAD
	hardware bool
	err      error
}

func newFakeMaster(t *testing.T, hardware bool) *fakeMaster {
	t.Helper()
	k, err := crypto.RandBytes(crypto.KeySize)
	require.NoError(t, err)
	a, err := crypto.NewAESGCM(k)
	require.NoError(t, err)
	return &fakeMaster{key: a, hardware: hardware}
}

func (f *fakeMaster) MasterKey() (crypto.AEAD, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.key, nil
}
func (f *fakeMaster) HardwareBacked() bool { return f.hardware }
func (f *fakeMaster) KeyURI() string       { return testURI }

func TestManager_CachesPrimitive(t *testing.T) {
	t.Parallel()
	for _, hw := range []bool{false, true} {
		m := NewManager(t.TempDir(), newFakeMaster(t, hw))
		a, err := m.AEAD()
		require.NoError(t, err)
		b, err := m.AEAD()
		require.NoError(t, err)
		require.Same(t, a, b)
	}
}

func TestManager_Mode(t *testing.T) {
	t.Parallel()
	require.Equal(t, model.KeysetWrapped, NewManager(t.TempDir(), newFakeMaster(t, true)).Mode())
	require.Equal(t, model.KeysetCleartext, NewManager(t.TempDir(), newFakeMaster(t, false)).Mode())
}

func TestManager_PersistsAcrossReload(t *testing.T) {
	t.Parallel()
	for _, hw := range []bool{false, true} {
		root := t.TempDir()
		master := newFakeMaster(t, hw)
		m := NewManager(root, master)
		a, err := m.AEAD()
		require.NoError(t, err)
		ct, err := a.Encrypt([]byte("photo"), []byte("id-1"))
		require.NoError(t, err)

		m.ClearCachedAEAD()
		b, err := m.AEAD()
		require.NoError(t, err)
		require.NotSame(t, a, b)
		pt, err := b.Decrypt(ct, []byte("id-1"))
		require.NoError(t, err)
		require.Equal(t, []byte("photo"), pt)

		// A fresh manager over the same root loads the same keyset.
		c, err := NewManager(root, master).AEAD()
		require.NoError(t, err)
		pt, err = c.Decrypt(ct, []byte("id-1"))
		require.NoError(t, err)
		require.Equal(t, []byte("photo"), pt)
	}
}

func TestManager_WrappedLayout(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	m := NewManager(root, newFakeMaster(t, true))
	_, err := m.AEAD()
	require.NoError(t, err)

	raw, err := os.ReadFile(m.KeysetPath())
	require.NoError(t, err)
	_, err = convert.UnmarshalKeysetFile(model.KeysetWrapped, raw)
	require.NoError(t, err)

	v, ok, err := prefs.Open(filepath.Join(root, PrefsDir), PrefsName).Get(KeysetFileName)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, testURI, v)
}

func TestManager_CleartextLayout(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	m := NewManager(root, newFakeMaster(t, false))
	_, err := m.AEAD()
	require.NoError(t, err)

	raw, err := os.ReadFile(m.KeysetPath())
	require.NoError(t, err)
	payload, err := convert.UnmarshalKeysetFile(model.KeysetCleartext, raw)
	require.NoError(t, err)
	ks, err := convert.UnmarshalKeyset(payload)
	require.NoError(t, err)
	require.Len(t, ks.Keys, 1)

	_, err = os.Stat(filepath.Join(root, PrefsDir, PrefsName+".yaml"))
	require.True(t, errors.Is(err, os.ErrNotExist))
}

func TestManager_ModeMismatchIsCorrupt(t *testing.T) {
	t.Parallel()

	t.Run("cleartext file, wrapped manager", func(t *testing.T) {
		t.Parallel()
		root := t.TempDir()
		_, err := NewManager(root, newFakeMaster(t, false)).AEAD()
		require.NoError(t, err)

		m := NewManager(root, newFakeMaster(t, true))
		// Even with a matching pref, a cleartext file never loads as wrapped.
		require.NoError(t, prefs.Open(filepath.Join(root, PrefsDir), PrefsName).Set(KeysetFileName, testURI))
		_, err = m.AEAD()
		require.ErrorIs(t, err, errs.ErrKeysetCorrupt)
	})

	t.Run("wrapped file, cleartext manager", func(t *testing.T) {
		t.Parallel()
		root := t.TempDir()
		_, err := NewManager(root, newFakeMaster(t, true)).AEAD()
		require.NoError(t, err)

		_, err = NewManager(root, newFakeMaster(t, false)).AEAD()
		require.ErrorIs(t, err, errs.ErrKeysetCorrupt)
		require.ErrorIs(t, err, convert.ErrModeMismatch)
	})
}

func TestManager_WrongMasterKeyIsCorrupt(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	_, err := NewManager(root, newFakeMaster(t, true)).AEAD()
	require.NoError(t, err)

	_, err = NewManager(root, newFakeMaster(t, true)).AEAD()
	require.ErrorIs(t, err, errs.ErrKeysetCorrupt)
}

func TestManager_MissingPrefIsCorrupt(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	master := newFakeMaster(t, true)
	_, err := NewManager(root, master).AEAD()
	require.NoError(t, err)
	require.NoError(t, prefs.Open(filepath.Join(root, PrefsDir), PrefsName).Remove(KeysetFileName))

	_, err = NewManager(root, master).AEAD()
	require.ErrorIs(t, err, errs.ErrKeysetCorrupt)
}

func TestManager_CorruptFileNotCached(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	m := NewManager(root, newFakeMaster(t, false))
	require.NoError(t, os.MkdirAll(filepath.Join(root, KeysetDir), 0o700))
	require.NoError(t, os.WriteFile(m.KeysetPath(), []byte{0xff, 0xff, 0xff}, 0o600))

	_, err := m.AEAD()
	require.ErrorIs(t, err, errs.ErrKeysetCorrupt)

	// Once the bad file is gone the next call recovers.
	require.NoError(t, os.Remove(m.KeysetPath()))
	a, err := m.AEAD()
	require.NoError(t, err)
	require.NotNil(t, a)
}

func TestManager_ShortKeyIsCorrupt(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	m := NewManager(root, newFakeMaster(t, false))
	ks := model.Keyset{
		PrimaryKeyID: 7,
		Keys: []model.KeysetKey{{
			ID: 7, TypeURL: AESGCMTypeURL, Value: make([]byte, 16), Status: model.KeyEnabled,
		}},
	}
	raw, err := convert.MarshalKeysetFile(model.KeysetCleartext, convert.MarshalKeyset(ks))
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(root, KeysetDir), 0o700))
	require.NoError(t, os.WriteFile(m.KeysetPath(), raw, 0o600))

	_, err = m.AEAD()
	require.ErrorIs(t, err, errs.ErrKeysetCorrupt)
}

func TestManager_MasterKeyFailure(t *testing.T) {
	t.Parallel()
	master := newFakeMaster(t, true)
	master.err = errs.ErrKeyGeneration
	_, err := NewManager(t.TempDir(), master).AEAD()
	require.ErrorIs(t, err, errs.ErrKeyGeneration)
}

func TestManager_IOFailure(t *testing.T) {
	t.Parallel()
	root := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(root, []byte("x"), 0o600))

	_, err := NewManager(root, newFakeMaster(t, false)).AEAD()
	require.Error(t, err)
	require.NotErrorIs(t, err, errs.ErrKeysetCorrupt)
}

func TestManager_ConcurrentFirstUse(t *testing.T) {
	t.Parallel()
	for _, hw := range []bool{false, true} {
		m := NewManager(t.TempDir(), newFakeMaster(t, hw))
		got := make([]crypto.AEAD, 16)
		var g errgroup.Group
		for i := range got {
			i := i
			g.Go(func() error {
				a, err := m.AEAD()
				got[i] = a
				return err
			})
		}
		require.NoError(t, g.Wait())
		for _, a := range got[1:] {
			require.Same(t, got[0], a)
		}
	}
}

func TestManager_DeleteKeyset(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	m := NewManager(root, newFakeMaster(t, true))
	a, err := m.AEAD()
	require.NoError(t, err)
	ct, err := a.Encrypt([]byte("photo"), []byte("id"))
	require.NoError(t, err)

	require.NoError(t, m.DeleteKeyset())
	_, err = os.Stat(m.KeysetPath())
	require.True(t, errors.Is(err, os.ErrNotExist))
	_, ok, err := prefs.Open(filepath.Join(root, PrefsDir), PrefsName).Get(KeysetFileName)
	require.NoError(t, err)
	require.False(t, ok)

	b, err := m.AEAD()
	require.NoError(t, err)
	_, err = b.Decrypt(ct, []byte("id"))
	require.ErrorIs(t, err, errs.ErrAuthFailed)

	// deleting twice is fine
	require.NoError(t, m.DeleteKeyset())
	require.NoError(t, m.DeleteKeyset())
}

func TestManager_RegistrationFailureLogged(t *testing.T) {
	t.Parallel()
	core, logs := observer.New(zapcore.ErrorLevel)
	calls := 0
	failing := func(*Registry) error {
		calls++
		return errors.New("boom")
	}
	m := NewManager(t.TempDir(), newFakeMaster(t, false),
		WithRegistry(NewRegistry(), failing), WithLogger(zap.New(core)))

	_, err := m.AEAD()
	require.Error(t, err)
	_, err = m.AEAD()
	require.Error(t, err)

	require.Equal(t, 1, calls)
	require.Equal(t, 1, logs.FilterMessage("register aead key types").Len())
}

func TestRegistry_Register(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	require.Error(t, r.Register("", nil))
	require.NoError(t, RegisterAEAD(r))
	require.NoError(t, RegisterAEAD(r))

	_, err := r.primitive(AESGCMTypeURL, make([]byte, crypto.KeySize))
	require.NoError(t, err)
	_, err = r.primitive(AESGCMTypeURL, make([]byte, 16))
	require.ErrorIs(t, err, errs.ErrKeysetCorrupt)
	_, err = r.primitive("type.vaultcam.dev/unknown", nil)
	require.Error(t, err)
	require.NotErrorIs(t, err, errs.ErrKeysetCorrupt)
}

func TestPrimitive_ForeignKeysetFails(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	require.NoError(t, RegisterAEAD(r))

	ks1, err := Generate()
	require.NoError(t, err)
	ks2, err := Generate()
	require.NoError(t, err)
	p1, err := newPrimitive(ks1, r)
	require.NoError(t, err)
	p2, err := newPrimitive(ks2, r)
	require.NoError(t, err)

	ct, err := p1.Encrypt([]byte("x"), nil)
	require.NoError(t, err)
	_, err = p2.Decrypt(ct, nil)
	require.ErrorIs(t, err, errs.ErrAuthFailed)

	_, err = p1.Decrypt([]byte{0x01, 0x02}, nil)
	require.ErrorIs(t, err, errs.ErrAuthFailed)
}

func TestPrimitive_DisabledPrimaryIsCorrupt(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	require.NoError(t, RegisterAEAD(r))
	ks, err := Generate()
	require.NoError(t, err)
	ks.Keys[0].Status = model.KeyDisabled

	_, err = newPrimitive(ks, r)
	require.ErrorIs(t, err, errs.ErrKeysetCorrupt)
}
