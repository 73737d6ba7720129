// Package config resolves vaultctl settings from defaults, an optional .env
// file and VAULTCAM_* environment variables. Command-line flags are applied
// on top by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/devnik/vaultcam/internal/platform"
)

// Environment variables.
const (
	EnvRoot            = "VAULTCAM_ROOT"
	EnvKeychain        = "VAULTCAM_KEYCHAIN"
	EnvKeychainService = "VAULTCAM_KEYCHAIN_SERVICE"
	EnvLogLevel        = "VAULTCAM_LOG_LEVEL"
	EnvAuth            = "VAULTCAM_AUTH"
	EnvPINFile         = "VAULTCAM_PIN_FILE"
	EnvLimitWindow     = "VAULTCAM_LIMIT_WINDOW"
	EnvLimitMaxFails   = "VAULTCAM_LIMIT_MAX_FAILS"
	EnvLimitBlockFor   = "VAULTCAM_LIMIT_BLOCK_FOR"
	EnvLimitPace       = "VAULTCAM_LIMIT_PACE"
)

// Challenge kinds.
const (
	AuthPIN   = "pin"
	AuthAllow = "allow"
)

// Config holds runtime settings.
type Config struct {
	Root            string
	Keychain        bool
	KeychainService string
	LogLevel        string
	Auth            string
	PINFile         string

	LimitWindow   time.Duration
	LimitMaxFails int
	LimitBlockFor time.Duration
	LimitPace     time.Duration
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Root:            DefaultRoot(),
		Keychain:        true,
		KeychainService: platform.DefaultService,
		LogLevel:        "warn",
		Auth:            AuthPIN,
		LimitWindow:     15 * time.Minute,
		LimitMaxFails:   5,
		LimitBlockFor:   15 * time.Minute,
		LimitPace:       time.Second,
	}
}

// DefaultRoot is $XDG_DATA_HOME/vaultcam, falling back to ~/.local/share/vaultcam.
func DefaultRoot() string {
	if v := os.Getenv("XDG_DATA_HOME"); v != "" {
		return filepath.Join(v, "vaultcam")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "vaultcam")
}

// PINPath returns the PIN record location, <root>/auth/pin unless overridden.
func (c Config) PINPath() string {
	if c.PINFile != "" {
		return c.PINFile
	}
	return filepath.Join(c.Root, "auth", "pin")
}

// Load resolves settings from envFile (ignored when missing or empty) and the process environment.
func Load(envFile string) (Config, error) {
	dotenv := map[string]string{}
	if envFile != "" {
		m, err := godotenv.Read(envFile)
		switch {
		case err == nil:
			dotenv = m
		case errors.Is(err, os.ErrNotExist):
		default:
			return Config{}, fmt.Errorf("read %s: %w", envFile, err)
		}
	}
	return FromLookup(func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	})
}

// FromLookup applies variables returned by lookup over Default.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	c := Default()
	var err error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" && err == nil {
			b, perr := strconv.ParseBool(v)
			if perr != nil {
				err = fmt.Errorf("%s: %w", key, perr)
				return
			}
			*dst = b
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" && err == nil {
			d, perr := time.ParseDuration(v)
			if perr != nil {
				err = fmt.Errorf("%s: %w", key, perr)
				return
			}
			*dst = d
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" && err == nil {
			n, perr := strconv.Atoi(v)
			if perr != nil {
				err = fmt.Errorf("%s: %w", key, perr)
				return
			}
			*dst = n
		}
	}

	str(EnvRoot, &c.Root)
	boolean(EnvKeychain, &c.Keychain)
	str(EnvKeychainService, &c.KeychainService)
	str(EnvLogLevel, &c.LogLevel)
	str(EnvAuth, &c.Auth)
	str(EnvPINFile, &c.PINFile)
	duration(EnvLimitWindow, &c.LimitWindow)
	integer(EnvLimitMaxFails, &c.LimitMaxFails)
	duration(EnvLimitBlockFor, &c.LimitBlockFor)
	duration(EnvLimitPace, &c.LimitPace)
	if err != nil {
		return Config{}, err
	}
	return c, c.Validate()
}

// Validate checks field consistency.
func (c Config) Validate() error {
	if c.Root == "" {
		return errors.New("config: empty root")
	}
	switch c.Auth {
	case AuthPIN, AuthAllow:
	default:
		return fmt.Errorf("config: unknown auth %q", c.Auth)
	}
	if c.LimitMaxFails < 0 || c.LimitWindow < 0 || c.LimitBlockFor < 0 || c.LimitPace < 0 {
		return errors.New("config: negative limiter setting")
	}
	return nil
}
