package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/devnik/vaultcam/internal/auth"
	"github.com/devnik/vaultcam/internal/config"
	"github.com/devnik/vaultcam/internal/keyset"
	"github.com/devnik/vaultcam/internal/limiter"
	"github.com/devnik/vaultcam/internal/masterkey"
	"github.com/devnik/vaultcam/internal/platform"
	"github.com/devnik/vaultcam/internal/repository/fsvault"
	"github.com/devnik/vaultcam/internal/service"
	"github.com/devnik/vaultcam/internal/session"
)

// app is the composed vault for one process.
type app struct {
	cfg    config.Config
	log    *zap.Logger
	master *masterkey.Provider
	keys   *keyset.Manager
	store  *fsvault.Store
	gate   *session.Gate
	guard  *auth.Guard
	svc    service.VaultService

	// in is the only buffered reader over stdin; shell lines, PINs and
	// "add -" all read through it.
	in      *bufio.Reader
	readPIN func() ([]byte, error)
}

func newLogger(level string, verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	lvl, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

func newApp(cfg config.Config, log *zap.Logger, in io.Reader, out io.Writer) (*app, error) {
	var kc platform.Keychain
	if cfg.Keychain {
		kc = platform.NewOSKeychain(cfg.KeychainService)
	}
	master, err := masterkey.NewProvider(kc, log)
	if err != nil {
		return nil, err
	}

	keys := keyset.NewManager(cfg.Root, master, keyset.WithLogger(log))
	store := fsvault.New(cfg.Root, fsvault.WithLogger(log))
	gate := session.NewGate()

	lines := bufio.NewReader(in)
	tty, _ := in.(*os.File)
	readPIN := auth.TerminalReader(tty, lines, out)

	var launcher auth.Launcher = auth.AlwaysAllow
	if cfg.Auth == config.AuthPIN {
		launcher = &auth.PINLauncher{Path: cfg.PINPath(), Read: readPIN, Log: log}
	}
	lim := limiter.NewMemory(cfg.LimitWindow, cfg.LimitMaxFails, cfg.LimitBlockFor,
		limiter.WithPace(cfg.LimitPace, 1))

	return &app{
		cfg:    cfg,
		log:    log,
		master: master,
		keys:   keys,
		store:  store,
		gate:   gate,
		guard:  auth.NewGuard(gate, launcher, lim, log),
		svc:    service.WithLogging(service.NewVaultService(store, keys, gate), log),

		in:      lines,
		readPIN: readPIN,
	}, nil
}
