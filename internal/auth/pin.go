package auth

import (
	"bufio"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/awnumar/memguard"
	"go.uber.org/zap"
	"golang.org/x/crypto/argon2"
	"golang.org/x/term"

	"github.com/devnik/vaultcam/internal/crypto"
	"github.com/devnik/vaultcam/internal/errs"
	"github.com/devnik/vaultcam/internal/fsutil"
)

// Argon2id parameters.
const (
	argonTime    uint32 = 3         // iterations
	argonMemory  uint32 = 64 * 1024 // 64 MB
	argonThreads uint8  = 1
	argonKeyLen  uint32 = 32

	saltLen = 16
)

// MinPINLength is the shortest PIN SetPIN accepts.
const MinPINLength = 4

// ErrPINTooShort is returned by SetPIN.
var ErrPINTooShort = fmt.Errorf("pin shorter than %d characters", MinPINLength)

// HashPIN returns the Argon2id hash of pin using the provided salt.
func HashPIN(pin, salt []byte) []byte {
	return argon2.IDKey(pin, salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

// VerifyPIN verifies pin against expected Argon2id hash and salt.
func VerifyPIN(pin, salt, expected []byte) bool {
	got := HashPIN(pin, salt)
	return subtle.ConstantTimeCompare(got, expected) == 1
}

// SetPIN stores salt||hash of pin at path, replacing any previous PIN.
func SetPIN(path string, pin []byte) error {
	if len(pin) < MinPINLength {
		return ErrPINTooShort
	}
	salt, err := crypto.RandBytes(saltLen)
	if err != nil {
		return err
	}
	if err := fsutil.EnsureDir(filepath.Dir(path)); err != nil {
		return fmt.Errorf("pin dir: %w", err)
	}
	rec := append(salt, HashPIN(pin, salt)...)
	if err := fsutil.WriteFileAtomic(path, rec, 0o600); err != nil {
		return fmt.Errorf("write pin: %w", err)
	}
	return nil
}

// CheckPIN compares pin with the record at path. A missing record is errs.ErrNotFound.
func CheckPIN(path string, pin []byte) (bool, error) {
	rec, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("pin: %w", errs.ErrNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("read pin: %w", err)
	}
	if len(rec) != saltLen+int(argonKeyLen) {
		return false, fmt.Errorf("pin record has %d bytes", len(rec))
	}
	return VerifyPIN(pin, rec[:saltLen], rec[saltLen:]), nil
}

// PINLauncher challenges for the PIN stored at Path.
type PINLauncher struct {
	Path string
	// Read returns the entered PIN.
	Read func() ([]byte, error)
	Log  *zap.Logger
}

var _ Launcher = (*PINLauncher)(nil)

// TerminalReader returns a PIN reader. When tty is a terminal the PIN is read
// without echo; otherwise each call consumes one line from lines. Anything else
// reading the same input must share lines, or its buffering will swallow PINs.
func TerminalReader(tty *os.File, lines *bufio.Reader, out io.Writer) func() ([]byte, error) {
	return func() ([]byte, error) {
		fmt.Fprint(out, "PIN: ")
		if tty != nil && term.IsTerminal(int(tty.Fd())) {
			b, err := term.ReadPassword(int(tty.Fd()))
			fmt.Fprintln(out)
			return b, err
		}
		line, err := lines.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return nil, err
		}
		return []byte(strings.TrimRight(line, "\r\n")), nil
	}
}

// Launch reads a PIN and reports whether it matches. Read or storage errors count as failure.
func (p *PINLauncher) Launch(onResult func(bool)) {
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	pin, err := p.Read()
	if err != nil {
		log.Warn("pin entry failed", zap.Error(err))
		onResult(false)
		return
	}
	ok, err := CheckPIN(p.Path, pin)
	memguard.WipeBytes(pin)
	if err != nil {
		log.Warn("pin check failed", zap.Error(err))
		onResult(false)
		return
	}
	onResult(ok)
}
