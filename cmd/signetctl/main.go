// signetctl is the command-line client for Signet hardware tokens.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"signet/internal/config"
	"signet/internal/logging"
	"signet/internal/signetdev"
)

// app carries the state shared by every command. It is filled in by the
// root command's PersistentPreRunE.
type app struct {
	configPath string
	verbose    bool

	cfg    *config.Config
	loader *config.Loader
	logger *logging.Logger
	log    *slog.Logger
	audit  *logging.AuditLogger

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr}
	err := newRootCmd(a).ExecuteContext(ctx)
	a.close()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "signetctl",
		Short: "Manage a Signet hardware token",
		Long: `signetctl talks to a Signet token over hidraw or the emulator socket.
It keeps a local cache of the token's entries, imports accounts from
CSV, JSON and YAML exports, and calibrates the token's keyboard layout
against the host keymap.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	root.SetIn(a.stdin)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to config file (default "+config.ConfigPath()+")")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newDeviceCmd(a),
		newSyncCmd(a),
		newAccountsCmd(a),
		newCacheCmd(a),
		newImportCmd(a),
		newKeyboardCmd(a),
		newBackupCmd(a),
		newRestoreCmd(a),
		newConfigCmd(a),
		newDoctorCmd(a),
	)
	return root
}

// setup loads the configuration and starts logging. The config file is
// written with defaults on first use.
func (a *app) setup(cmd *cobra.Command) error {
	if a.cfg != nil {
		return nil
	}

	path := a.configPath
	if path == "" {
		path = config.ConfigPath()
	}

	loader := config.NewLoader(path, logging.Discard())
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		if err := config.SaveConfig(config.DefaultConfig(), path); err != nil {
			return fmt.Errorf("write default config: %w", err)
		}
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	a.configPath = path
	a.cfg = cfg
	a.loader = loader

	logCfg, err := cfg.Logging.Logging("signetctl")
	if err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	if a.verbose {
		logCfg.Level = logging.LevelDebug
	}
	if logCfg.Output == "stderr" {
		a.logger = logging.NewWriter(cmd.ErrOrStderr(), logCfg)
	} else {
		a.logger, err = logging.New(logCfg)
		if err != nil {
			return fmt.Errorf("start logging: %w", err)
		}
	}
	a.log = a.logger.Logger
	slog.SetDefault(a.log)

	if auditCfg := cfg.Logging.Audit(); auditCfg != nil {
		a.audit, err = logging.NewAuditLogger(auditCfg)
		if err != nil {
			a.log.Warn("audit log disabled", "error", err)
		}
	}

	if m := loader.Migrated(); m != nil {
		if err := a.audit.LogConfigMigrated(cmd.Context(), path, m.FromVersion, m.ToVersion, m.Changes); err != nil {
			a.log.Warn("audit config migration", "error", err)
		}
	}
	return nil
}

func (a *app) close() {
	if a.loader != nil {
		_ = a.loader.Close()
	}
	if a.audit != nil {
		_ = a.audit.Close()
	}
	if a.logger != nil {
		_ = a.logger.Close()
	}
}

// openDevice connects to the configured token.
func (a *app) openDevice(ctx context.Context) (*signetdev.Client, error) {
	cfg := a.cfg.Device.Signetdev()
	cfg.Logger = a.logger.WithComponent("signetdev")
	client, err := signetdev.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open device: %w", err)
	}
	return client, nil
}
