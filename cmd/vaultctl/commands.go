package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/devnik/vaultcam/internal/auth"
	"github.com/devnik/vaultcam/internal/config"
)

var errUsage = errors.New("usage")

// ---- root ----

type rootOptions struct {
	envFile    string
	root       string
	authKind   string
	logLevel   string
	noKeychain bool
	verbose    bool
}

func newRootCmd() *cobra.Command {
	var (
		opts rootOptions
		a    *app
	)
	cmd := &cobra.Command{
		Use:           "vaultctl",
		Short:         "Encrypted photo vault",
		Version:       fmt.Sprintf("%s (%s)", version, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd, opts)
			if err != nil {
				return err
			}
			log, err := newLogger(cfg.LogLevel, opts.verbose)
			if err != nil {
				return err
			}
			a, err = newApp(cfg, log, cmd.InOrStdin(), cmd.ErrOrStderr())
			return err
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a != nil {
				_ = a.log.Sync()
			}
		},
	}

	f := cmd.PersistentFlags()
	f.StringVar(&opts.envFile, "env-file", ".env", "optional dotenv file with VAULTCAM_* settings")
	f.StringVar(&opts.root, "root", "", "storage root (default $XDG_DATA_HOME/vaultcam)")
	f.StringVar(&opts.authKind, "auth", "", "unlock challenge: pin or allow")
	f.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	f.BoolVar(&opts.noKeychain, "no-keychain", false, "never use the OS keychain for the master key")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "development logging")

	getApp := func() *app { return a }
	addVaultCommands(cmd, getApp)
	cmd.AddCommand(newShellCmd(getApp))
	return cmd
}

// resolveConfig layers flags set on the command line over config.Load.
func resolveConfig(cmd *cobra.Command, opts rootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.envFile)
	if err != nil {
		return config.Config{}, err
	}
	fl := cmd.Flags()
	if fl.Changed("root") {
		cfg.Root = opts.root
	}
	if fl.Changed("auth") {
		cfg.Auth = opts.authKind
	}
	if fl.Changed("log-level") {
		cfg.LogLevel = opts.logLevel
	}
	if opts.noKeychain {
		cfg.Keychain = false
	}
	return cfg, cfg.Validate()
}

// ---- vault commands ----

func addVaultCommands(parent *cobra.Command, a func() *app) {
	parent.AddCommand(
		newInitCmd(a),
		newSetPINCmd(a),
		newStatusCmd(a),
		newAddCmd(a),
		newListCmd(a),
		newGetCmd(a),
		newRmCmd(a),
		newRotateCmd(a),
		newWipeCmd(a),
		newLockCmd(a),
	)
}

func newInitCmd(a func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the master key, keyset and vault directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			va := a()
			if _, err := va.keys.AEAD(); err != nil {
				return err
			}
			dir, err := va.store.Dir()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "vault:  %s\nkeyset: %s (%s)\n", dir, va.keys.KeysetPath(), va.keys.Mode())
			if va.cfg.Auth == config.AuthPIN {
				if _, err := os.Stat(va.cfg.PINPath()); errors.Is(err, os.ErrNotExist) {
					fmt.Fprintln(out, "no PIN set; run: vaultctl set-pin")
				}
			}
			return nil
		},
	}
}

func newSetPINCmd(a func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "set-pin",
		Short: "Set or change the unlock PIN",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			va := a()
			path := va.cfg.PINPath()
			if _, err := os.Stat(path); err == nil {
				// changing an existing PIN needs the old one
				if err := va.guard.Unlock(cmd.Context()); err != nil {
					return err
				}
			}
			first, err := va.readPIN()
			if err != nil {
				return err
			}
			second, err := va.readPIN()
			if err != nil {
				return err
			}
			if !bytes.Equal(first, second) {
				return fmt.Errorf("%w: PINs do not match", errUsage)
			}
			if err := auth.SetPIN(path, first); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "PIN updated")
			return nil
		},
	}
}

type statusView struct {
	Root           string `json:"root"`
	VaultDir       string `json:"vault_dir"`
	KeysetPath     string `json:"keyset_path"`
	KeysetMode     string `json:"keyset_mode"`
	KeysetPresent  bool   `json:"keyset_present"`
	HardwareBacked bool   `json:"hardware_backed"`
	Unlocked       bool   `json:"unlocked"`
}

func newStatusCmd(a func() *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show key and storage state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			va := a()
			dir, err := va.store.Dir()
			if err != nil {
				return err
			}
			_, statErr := os.Stat(va.keys.KeysetPath())
			v := statusView{
				Root:           va.cfg.Root,
				VaultDir:       dir,
				KeysetPath:     va.keys.KeysetPath(),
				KeysetMode:     va.keys.Mode().String(),
				KeysetPresent:  statErr == nil,
				HardwareBacked: va.master.HardwareBacked(),
				Unlocked:       va.gate.IsUnlockedNow(),
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), v)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "root\t%s\n", v.Root)
			fmt.Fprintf(tw, "vault\t%s\n", v.VaultDir)
			fmt.Fprintf(tw, "keyset\t%s (%s, present=%t)\n", v.KeysetPath, v.KeysetMode, v.KeysetPresent)
			fmt.Fprintf(tw, "hardware-backed\t%t\n", v.HardwareBacked)
			fmt.Fprintf(tw, "unlocked\t%t\n", v.Unlocked)
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newAddCmd(a func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "add FILE...",
		Short: "Encrypt files into the vault (- reads stdin)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			va := a()
			for _, p := range args {
				data, err := readInput(va, p)
				if err != nil {
					return err
				}
				id, err := va.svc.Save(cmd.Context(), data)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
}

type itemView struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

func newListCmd(a func() *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List vault items, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			va := a()
			if err := va.guard.Unlock(cmd.Context()); err != nil {
				return err
			}
			items, err := va.svc.List(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				out := make([]itemView, 0, len(items))
				for _, it := range items {
					out = append(out, itemView{ID: it.ID, CreatedAt: it.CreatedAt})
				}
				return printJSON(cmd.OutOrStdout(), out)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCREATED")
			for _, it := range items {
				fmt.Fprintf(tw, "%s\t%s\n", it.ID, it.CreatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newGetCmd(a func() *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "get ID",
		Short: "Decrypt an item to a file or stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			va := a()
			if err := va.guard.Unlock(cmd.Context()); err != nil {
				return err
			}
			pt, err := va.svc.Open(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(pt)
				return err
			}
			return os.WriteFile(output, pt, 0o600)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to file instead of stdout")
	return cmd
}

func newRmCmd(a func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rm ID...",
		Short: "Delete items",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			va := a()
			if err := va.guard.Unlock(cmd.Context()); err != nil {
				return err
			}
			for _, id := range args {
				ok, err := va.svc.Delete(cmd.Context(), id)
				if err != nil {
					return err
				}
				state := "deleted"
				if !ok {
					state = "absent"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", id, state)
			}
			return nil
		},
	}
}

func newRotateCmd(a func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rotate ID",
		Short: "Rotate an image item 90 degrees clockwise",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			va := a()
			if err := va.guard.Unlock(cmd.Context()); err != nil {
				return err
			}
			if _, err := va.svc.Rotate(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s rotated\n", args[0])
			return nil
		},
	}
}

func newWipeCmd(a func() *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "wipe",
		Short: "Delete every item and the keyset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return fmt.Errorf("%w: wipe is irreversible, pass --yes", errUsage)
			}
			va := a()
			if err := va.guard.Unlock(cmd.Context()); err != nil {
				return err
			}
			if err := va.svc.Wipe(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "vault wiped")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm")
	return cmd
}

func newLockCmd(a func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "lock",
		Short: "Close the unlock window",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			a().gate.Clear()
			return nil
		},
	}
}

// ---- shell ----

// newShellCmd keeps one process, and so one session window, across commands.
func newShellCmd(a func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive session; unlock once, run several commands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			errOut := cmd.ErrOrStderr()
			in := a().in
			for {
				fmt.Fprint(errOut, "vault> ")
				line, err := in.ReadString('\n')
				if err != nil && !(errors.Is(err, io.EOF) && line != "") {
					fmt.Fprintln(errOut)
					if errors.Is(err, io.EOF) {
						return nil
					}
					return err
				}
				args := strings.Fields(line)
				if len(args) == 0 {
					continue
				}
				if args[0] == "exit" || args[0] == "quit" {
					return nil
				}

				sub := &cobra.Command{Use: "vaultctl", SilenceUsage: true, SilenceErrors: true}
				addVaultCommands(sub, a)
				sub.SetArgs(args)
				sub.SetIn(in)
				sub.SetOut(cmd.OutOrStdout())
				sub.SetErr(errOut)
				if err := sub.ExecuteContext(cmd.Context()); err != nil {
					fmt.Fprintln(errOut, "error:", err)
				}
				if err := cmd.Context().Err(); err != nil {
					return err
				}
			}
		},
	}
}

// ---- utils ----

func readInput(va *app, p string) ([]byte, error) {
	if p == "-" {
		return io.ReadAll(va.in)
	}
	return os.ReadFile(p)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
