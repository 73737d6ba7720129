package fsvault

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/devnik/vaultcam/internal/crypto"
	"github.com/devnik/vaultcam/internal/errs"
)

func newAEAD(t *testing.T) crypto.AEAD {
	t.Helper()
	k, err := crypto.RandBytes(crypto.KeySize)
	require.NoError(t, err)
	a, err := crypto.NewAESGCM(k)
	require.NoError(t, err)
	return a
}

func jpegFixture(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(40 * x), G: uint8(40 * y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func TestStore_Dir(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	s := New(root)

	dir, err := s.Dir()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, NoBackupDir, MediaDir), dir)

	fi, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, fi.IsDir())
	require.Equal(t, os.FileMode(0o700), fi.Mode().Perm())

	tag, err := os.ReadFile(filepath.Join(root, NoBackupDir, "CACHEDIR.TAG"))
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(tag, []byte("Signature: 8a477f597d28d172789f06886806bc55")))
}

func TestStore_SaveDecryptRoundTrip(t *testing.T) {
	t.Parallel()
	s := New(t.TempDir())
	a := newAEAD(t)

	for _, pt := range [][]byte{{}, []byte("x"), bytes.Repeat([]byte{0xab}, 1<<16)} {
		id, err := s.SaveEncrypted(pt, a)
		require.NoError(t, err)
		got, err := s.Decrypt(id, a)
		require.NoError(t, err)
		require.Equal(t, len(pt), len(got))
		require.True(t, bytes.Equal(pt, got))
	}
}

func TestStore_FileIsNotPlaintext(t *testing.T) {
	t.Parallel()
	s := New(t.TempDir())
	pt := []byte("very recognisable plaintext")
	id, err := s.SaveEncrypted(pt, newAEAD(t))
	require.NoError(t, err)

	dir, err := s.Dir()
	require.NoError(t, err)
	raw, err := os.ReadFile(filepath.Join(dir, id+Ext))
	require.NoError(t, err)
	require.False(t, bytes.Contains(raw, pt))
}

func TestStore_CrossIDFails(t *testing.T) {
	t.Parallel()
	s := New(t.TempDir())
	a := newAEAD(t)

	idA, err := s.SaveEncrypted([]byte("a"), a)
	require.NoError(t, err)
	idB, err := s.SaveEncrypted([]byte("b"), a)
	require.NoError(t, err)

	dir, err := s.Dir()
	require.NoError(t, err)
	// Put A's ciphertext under B's name.
	require.NoError(t, os.Rename(filepath.Join(dir, idA+Ext), filepath.Join(dir, idB+Ext)))

	_, err = s.Decrypt(idB, a)
	require.ErrorIs(t, err, errs.ErrAuthFailed)
}

func TestStore_WrongKeyAndTamper(t *testing.T) {
	t.Parallel()
	s := New(t.TempDir())
	a := newAEAD(t)
	id, err := s.SaveEncrypted([]byte("photo"), a)
	require.NoError(t, err)

	_, err = s.Decrypt(id, newAEAD(t))
	require.ErrorIs(t, err, errs.ErrAuthFailed)

	dir, err := s.Dir()
	require.NoError(t, err)
	path := filepath.Join(dir, id+Ext)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0x01
	require.NoError(t, os.WriteFile(path, raw, 0o600))
	_, err = s.Decrypt(id, a)
	require.ErrorIs(t, err, errs.ErrAuthFailed)

	require.NoError(t, os.WriteFile(path, raw[:4], 0o600))
	_, err = s.Decrypt(id, a)
	require.ErrorIs(t, err, errs.ErrAuthFailed)
}

func TestStore_DecryptMissing(t *testing.T) {
	t.Parallel()
	s := New(t.TempDir())
	_, err := s.Decrypt("1b4e28ba-2fa1-11d2-883f-0016d3cca427", newAEAD(t))
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.False(t, errors.Is(err, errs.ErrAuthFailed))
}

func TestStore_InvalidID(t *testing.T) {
	t.Parallel()
	s := New(t.TempDir())
	a := newAEAD(t)
	for _, id := range []string{"", ".", "..", "../keys/keyset", `a\b`, "a/b"} {
		_, err := s.Decrypt(id, a)
		require.ErrorIs(t, err, errs.ErrInvalidID, id)
		_, err = s.Delete(id)
		require.ErrorIs(t, err, errs.ErrInvalidID, id)
		_, err = s.Rotate(id, a)
		require.ErrorIs(t, err, errs.ErrInvalidID, id)
	}
}

func TestStore_ListEmpty(t *testing.T) {
	t.Parallel()
	items, err := New(t.TempDir()).List()
	require.NoError(t, err)
	require.NotNil(t, items)
	require.Empty(t, items)
}

func TestStore_ListNewestFirst(t *testing.T) {
	t.Parallel()
	s := New(t.TempDir())
	a := newAEAD(t)
	dir, err := s.Dir()
	require.NoError(t, err)

	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	var ids []string
	for i := 0; i < 3; i++ {
		id, err := s.SaveEncrypted([]byte{byte(i)}, a)
		require.NoError(t, err)
		ts := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, os.Chtimes(filepath.Join(dir, id+Ext), ts, ts))
		ids = append(ids, id)
	}
	// Foreign files are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".x.enc.tmp-123"), []byte("x"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.enc"), 0o700))

	items, err := s.List()
	require.NoError(t, err)
	require.Len(t, items, 3)
	require.Equal(t, ids[2], items[0].ID)
	require.Equal(t, ids[1], items[1].ID)
	require.Equal(t, ids[0], items[2].ID)
	require.Equal(t, filepath.Join(dir, ids[2]+Ext), items[0].Path)
	require.True(t, items[0].CreatedAt.Equal(base.Add(2*time.Minute)))
}

func TestStore_DeleteIdempotent(t *testing.T) {
	t.Parallel()
	s := New(t.TempDir())
	a := newAEAD(t)
	id, err := s.SaveEncrypted([]byte("x"), a)
	require.NoError(t, err)

	ok, err := s.Delete(id)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.Delete(id)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = s.Decrypt(id, a)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestStore_RotateJPEG(t *testing.T) {
	t.Parallel()
	s := New(t.TempDir())
	a := newAEAD(t)
	id, err := s.SaveEncrypted(jpegFixture(t, 2, 3), a)
	require.NoError(t, err)

	ok, err := s.Rotate(id, a)
	require.NoError(t, err)
	require.True(t, ok)

	items, err := s.List()
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, id, items[0].ID)

	out, err := s.Decrypt(id, a)
	require.NoError(t, err)
	cfg, format, err := image.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	require.Equal(t, "jpeg", format)
	require.Equal(t, 3, cfg.Width)
	require.Equal(t, 2, cfg.Height)
}

func TestStore_RotatePNGClockwise(t *testing.T) {
	t.Parallel()
	s := New(t.TempDir())
	a := newAEAD(t)

	src := image.NewNRGBA(image.Rect(0, 0, 2, 3))
	for i := range src.Pix {
		src.Pix[i] = 0xff // opaque white
	}
	src.Set(0, 0, color.NRGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, src))

	id, err := s.SaveEncrypted(buf.Bytes(), a)
	require.NoError(t, err)
	_, err = s.Rotate(id, a)
	require.NoError(t, err)

	out, err := s.Decrypt(id, a)
	require.NoError(t, err)
	img, format, err := image.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	require.Equal(t, "png", format)
	require.Equal(t, image.Rect(0, 0, 3, 2), img.Bounds())

	// Top-left moves to top-right when turning clockwise.
	got := color.NRGBAModel.Convert(img.At(2, 0)).(color.NRGBA)
	require.Equal(t, color.NRGBA{R: 255, A: 255}, got)
}

func TestStore_RotateFreshNonce(t *testing.T) {
	t.Parallel()
	s := New(t.TempDir(), WithTransformer(TransformerFunc(func(src []byte) ([]byte, error) {
		return src, nil
	})))
	a := newAEAD(t)
	id, err := s.SaveEncrypted([]byte("same"), a)
	require.NoError(t, err)
	dir, err := s.Dir()
	require.NoError(t, err)
	before, err := os.ReadFile(filepath.Join(dir, id+Ext))
	require.NoError(t, err)

	_, err = s.Rotate(id, a)
	require.NoError(t, err)
	after, err := os.ReadFile(filepath.Join(dir, id+Ext))
	require.NoError(t, err)
	require.NotEqual(t, before, after)
}

func TestStore_RotateFailureKeepsOriginal(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	s := New(t.TempDir(), WithTransformer(TransformerFunc(func([]byte) ([]byte, error) {
		return nil, boom
	})))
	a := newAEAD(t)
	pt := jpegFixture(t, 2, 3)
	id, err := s.SaveEncrypted(pt, a)
	require.NoError(t, err)
	dir, err := s.Dir()
	require.NoError(t, err)
	before, err := os.ReadFile(filepath.Join(dir, id+Ext))
	require.NoError(t, err)

	ok, err := s.Rotate(id, a)
	require.ErrorIs(t, err, boom)
	require.False(t, ok)

	after, err := os.ReadFile(filepath.Join(dir, id+Ext))
	require.NoError(t, err)
	require.Equal(t, before, after)
	got, err := s.Decrypt(id, a)
	require.NoError(t, err)
	require.Equal(t, pt, got)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestStore_RotateNotAnImage(t *testing.T) {
	t.Parallel()
	s := New(t.TempDir())
	a := newAEAD(t)
	id, err := s.SaveEncrypted([]byte("not an image"), a)
	require.NoError(t, err)

	ok, err := s.Rotate(id, a)
	require.Error(t, err)
	require.False(t, ok)
	got, err := s.Decrypt(id, a)
	require.NoError(t, err)
	require.Equal(t, []byte("not an image"), got)
}

func TestStore_RotateMissing(t *testing.T) {
	t.Parallel()
	ok, err := New(t.TempDir()).Rotate("1b4e28ba-2fa1-11d2-883f-0016d3cca427", newAEAD(t))
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.False(t, ok)
}

func TestStore_Wipe(t *testing.T) {
	t.Parallel()
	s := New(t.TempDir())
	a := newAEAD(t)
	for i := 0; i < 3; i++ {
		_, err := s.SaveEncrypted([]byte{byte(i)}, a)
		require.NoError(t, err)
	}
	require.NoError(t, s.Wipe())
	items, err := s.List()
	require.NoError(t, err)
	require.Empty(t, items)
}
