package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"relsync/internal/app"
	"relsync/internal/config"
	"relsync/internal/release"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates a ReleaseApp. The caller must defer
// app.Close(). operation names the CLI command for the history.
func newApp(ctx context.Context, operation string, params map[string]string) (*app.ReleaseApp, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewReleaseApp(ctx, cfg, operation, params, app.WithPassphrase(readPassphrase))
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// readPassphrase takes the passphrase from the environment, or prompts for
// it on the terminal.
func readPassphrase() (string, error) {
	if p, ok := app.PassphraseFromEnv(); ok {
		return p, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("passphrase required: set %s or run from a terminal", app.EnvPassphrase)
	}
	fmt.Fprint(os.Stderr, "Passphrase: ")
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

var rootCmd = &cobra.Command{
	Use:          "relsync",
	Short:        "Publish and apply content-addressed releases",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}
		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Base Dir:     %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:      %s\n", cfg.LogDir)
		fmt.Printf("Release:      %s\n", release.ReleaseKey(cfg.Release.Architecture, cfg.Release.InstallType))
		fmt.Printf("Store:        %s\n", cfg.Store.Type)
		fmt.Printf("Codec:        %s (sealed: %t)\n", cfg.Codec.Type, cfg.Codec.Sealed)
		fmt.Printf("Database:     %s\n", cfg.Database.Type)
		fmt.Printf("URL Prefix:   %s\n", cfg.Packer.URLPrefix)
		return nil
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage the key pair for sealed releases",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "keys-init", nil)
		if err != nil {
			return err
		}
		defer a.Close()

		passphrase, err := readPassphrase()
		if err != nil {
			return err
		}
		pub, err := a.InitKeys(passphrase)
		if err != nil {
			return fmt.Errorf("generating keys: %w", err)
		}
		if pub != "" {
			fmt.Printf("Public key: %s\n", pub)
		}
		return nil
	},
}

// store command
var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Manage the release store",
}

var storeInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Verify the store is reachable and writable",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "store-init", nil)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.InitStore(cmd.Context()); err != nil {
			return fmt.Errorf("store check failed: %w", err)
		}
		fmt.Println("Store ready.")
		return nil
	},
}

// pack command
var packCmd = &cobra.Command{
	Use:   "pack DIR",
	Short: "Pack a build directory into the store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		version, _ := cmd.Flags().GetString("version")
		diffFrom, _ := cmd.Flags().GetString("diff-from")

		src, err := filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("resolving path: %w", err)
		}

		a, err := newApp(cmd.Context(), "pack", map[string]string{"dir": src, "version": version, "diff_from": diffFrom})
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Pack(cmd.Context(), src, version, diffFrom)
		if err != nil {
			return fmt.Errorf("pack failed: %w", err)
		}

		fmt.Printf("Packed %d file(s): %d written, %d reused\n", res.Stats.Files, res.Stats.Written, res.Stats.Reused)
		fmt.Printf("Size: %d bytes (%d compressed)\n", res.Manifest.Size, res.Manifest.CompressedSize)
		for _, name := range res.Published {
			fmt.Printf("Published %s\n", name)
		}
		return nil
	},
}

// plan command
var planCmd = &cobra.Command{
	Use:   "plan [ROOT]",
	Short: "Show what apply would change",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		manifestURL, infoURL := targetFlags(cmd)

		a, err := newApp(cmd.Context(), "plan", nil)
		if err != nil {
			return err
		}
		defer a.Close()

		plan, err := a.Plan(cmd.Context(), rootArg(args), manifestURL, infoURL)
		if err != nil {
			return err
		}

		from := "(none)"
		if plan.Installed != nil {
			from = plan.Installed.Version
		}
		fmt.Printf("%s: %s -> %s\n", plan.InstallRoot, from, plan.Target.Version)
		for _, f := range plan.Changes.ToFetch {
			fmt.Printf("  + %s  %d bytes\n", f.Path, f.CompressedSize)
		}
		for _, p := range plan.Changes.ToRemove {
			fmt.Printf("  - %s\n", p)
		}
		fmt.Printf("Fetch: %d file(s), %d bytes. Remove: %d file(s).\n",
			len(plan.Changes.ToFetch), plan.Changes.FetchSize(), len(plan.Changes.ToRemove))
		fmt.Printf("Strategy: %s\n", plan.Strategy)
		if plan.AutoUpdateDisabled {
			fmt.Println("Automatic updates are disabled for this release.")
		}
		return nil
	},
}

// apply command
var applyCmd = &cobra.Command{
	Use:   "apply [ROOT]",
	Short: "Bring an install root to a release",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		manifestURL, infoURL := targetFlags(cmd)
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		root := rootArg(args)

		a, err := newApp(cmd.Context(), "apply", map[string]string{"root": root, "manifest_url": manifestURL, "release_info_url": infoURL})
		if err != nil {
			return err
		}
		defer a.Close()

		progress := make(chan release.Progress, 16)
		done := make(chan struct{})
		go showProgress(progress, done)

		m, err := a.Apply(cmd.Context(), root, manifestURL, infoURL, concurrency, progress)
		close(progress)
		<-done
		if err != nil {
			var applyErr *release.ApplyError
			if errors.As(err, &applyErr) {
				fmt.Fprintln(os.Stderr, applyErr.Error())
				return fmt.Errorf("apply failed for %d file(s)", len(applyErr.Failures))
			}
			return fmt.Errorf("apply failed: %w", err)
		}

		fmt.Printf("Installed %s (%d files, %d bytes)\n", m.Version, m.FileCount, m.Size)
		return nil
	},
}

// showProgress renders progress on stderr when it is a terminal and drains
// the channel either way.
func showProgress(ch <-chan release.Progress, done chan<- struct{}) {
	defer close(done)
	interactive := term.IsTerminal(int(os.Stderr.Fd()))
	var last release.Progress
	shown := false
	for p := range ch {
		last = p
		if interactive {
			fmt.Fprintf(os.Stderr, "\r%d/%d files  %d/%d bytes", p.FilesDone, p.FilesTotal, p.BytesDone, p.BytesTotal)
			shown = true
		}
	}
	if shown {
		fmt.Fprintf(os.Stderr, "\r%d/%d files  %d/%d bytes\n", last.FilesDone, last.FilesTotal, last.BytesDone, last.BytesTotal)
	}
}

// status command
var statusCmd = &cobra.Command{
	Use:   "status [ROOT]",
	Short: "Check an install root against its installed release",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")

		a, err := newApp(cmd.Context(), "status", nil)
		if err != nil {
			return err
		}
		defer a.Close()

		if all {
			records, err := a.Installed()
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("No releases installed.")
				return nil
			}
			for _, r := range records {
				fmt.Printf("%-10s  %s  %s\n", r.Manifest.Version, r.InstalledAt.Format("2006-01-02 15:04:05"), r.InstallRoot)
			}
			return nil
		}

		res, err := a.Status(cmd.Context(), rootArg(args))
		if err != nil {
			return err
		}
		if res.Installed == nil {
			fmt.Printf("%s: no release installed\n", res.InstallRoot)
			return nil
		}

		fmt.Printf("%s: %s installed %s\n", res.InstallRoot, res.Installed.Manifest.Version,
			res.Installed.InstalledAt.Format("2006-01-02 15:04:05"))
		clean := true
		for _, f := range res.Files {
			switch f.State {
			case release.StateMissing:
				fmt.Printf("  missing   %s\n", f.Path)
				clean = false
			case release.StateModified:
				fmt.Printf("  modified  %s\n", f.Path)
				clean = false
			}
		}
		if clean {
			fmt.Printf("All %d file(s) match.\n", len(res.Files))
		}
		return nil
	},
}

// forget command
var forgetCmd = &cobra.Command{
	Use:   "forget [ROOT]",
	Short: "Drop the installed record of an install root",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root := rootArg(args)
		a, err := newApp(cmd.Context(), "forget", map[string]string{"root": root})
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Forget(root); err != nil {
			return err
		}
		fmt.Printf("Forgot %s\n", root)
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View operation history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd.Context(), "history", nil)
		if err != nil {
			return err
		}
		defer a.Close()

		ops, err := a.History(limit)
		if err != nil {
			return err
		}
		if len(ops) == 0 {
			fmt.Println("No operations recorded.")
			return nil
		}

		for _, op := range ops {
			duration := ""
			if op.FinishedAt != nil {
				duration = op.FinishedAt.Sub(op.StartedAt).Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %-10s  %s  %-8s  %s\n",
				op.ID,
				op.Operation,
				op.StartedAt.Format("2006-01-02 15:04:05"),
				op.Status,
				duration,
			)
		}
		return nil
	},
}

// db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the record database",
}

var dbBackupCmd = &cobra.Command{
	Use:   "backup DEST",
	Short: "Write a copy of the record database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "db-backup", nil)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.BackupDatabase(args[0]); err != nil {
			return fmt.Errorf("backup failed: %w", err)
		}
		fmt.Printf("Database written to %s\n", args[0])
		return nil
	},
}

func targetFlags(cmd *cobra.Command) (manifestURL, releaseInfoURL string) {
	manifestURL, _ = cmd.Flags().GetString("manifest")
	releaseInfoURL, _ = cmd.Flags().GetString("release-info")
	return manifestURL, releaseInfoURL
}

func rootArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return "."
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	keysCmd.AddCommand(keysInitCmd)
	storeCmd.AddCommand(storeInitCmd)
	dbCmd.AddCommand(dbBackupCmd)

	packCmd.Flags().String("version", "", "Release version (required)")
	packCmd.Flags().String("diff-from", "", "Also publish an incremental manifest from this version")
	packCmd.MarkFlagRequired("version")

	for _, c := range []*cobra.Command{planCmd, applyCmd} {
		c.Flags().StringP("manifest", "m", "", "Manifest URL to apply")
		c.Flags().String("release-info", "", "Release info URL to pick the manifest from")
	}
	applyCmd.Flags().IntP("concurrency", "j", 0, "Files processed at once (0 uses the config)")
	statusCmd.Flags().BoolP("all", "a", false, "List every installed root")
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(storeCmd)
	rootCmd.AddCommand(packCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(forgetCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(dbCmd)
}
