package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"signet/internal/backup"
	"signet/internal/config"
	"signet/internal/security"
)

func newBackupCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup [output-file]",
		Short: "Write a compressed (zstd) JSON backup of the cache",
		Long: `Dumps every cached entry, layout and import run into one
Zstandard-compressed JSON file. With storage.encrypt set the file is also
sealed with a key derived from the cache passphrase.

Without an output file the backup goes to backup.dir and older backups
beyond backup.keep are removed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := a.openCache(ctx)
			if err != nil {
				return err
			}
			defer c.release()
			opts, err := c.backupOptions(a.cfg.Backup.Level)
			if err != nil {
				return err
			}

			var (
				path string
				data *backup.Data
			)
			if len(args) == 1 {
				path = args[0]
				if !strings.HasSuffix(path, ".zst") {
					path += ".zst"
				}
				data, err = writeBackup(c, path, opts)
			} else {
				path, data, err = backup.Create(c.Store, config.ExpandPath(a.cfg.Backup.Dir), opts)
			}
			entries := 0
			if data != nil {
				entries = len(data.Entries)
			}
			if auditErr := a.audit.LogBackup(ctx, path, entries, err); auditErr != nil {
				a.log.Warn("audit backup", "error", auditErr)
			}
			if err != nil {
				return fmt.Errorf("backup: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Backed up %d entries, %d layouts to %s\n", entries, len(data.Layouts), path)
			if len(args) == 0 {
				removed, err := backup.Prune(config.ExpandPath(a.cfg.Backup.Dir), a.cfg.Backup.Keep)
				if err != nil {
					a.log.Warn("prune backups", "error", err)
				}
				for _, f := range removed {
					a.log.Info("old backup removed", "file", f)
				}
			}
			return nil
		},
	}
	cmd.AddCommand(newBackupListCmd(a))
	return cmd
}

func writeBackup(c *cache, path string, opts backup.Options) (*backup.Data, error) {
	data, err := backup.Snapshot(c.Store)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := backup.Encode(&buf, data, opts); err != nil {
		return nil, err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := security.EnsureSecureDir(dir); err != nil {
			return nil, err
		}
	}
	if err := security.WriteSecretFile(path, buf.Bytes()); err != nil {
		return nil, err
	}
	return data, nil
}

func newBackupListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List backups in backup.dir, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := backup.List(config.ExpandPath(a.cfg.Backup.Dir))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, f := range files {
				info, err := os.Stat(f)
				if err != nil {
					continue
				}
				fmt.Fprintf(out, "%s\t%d bytes\n", f, info.Size())
			}
			return nil
		},
	}
}

func newRestoreCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <backup-file>",
		Short: "Restore the cache from a backup file",
		Long: `Replaces every module contained in the backup and adds its layouts and
import history to the cache. Modules the backup does not mention are
kept. Sealed backups need the passphrase of the cache that wrote them.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path := args[0]

			c, err := a.openCache(ctx)
			if err != nil {
				return err
			}
			defer c.release()
			opts, err := c.backupOptions(a.cfg.Backup.Level)
			if err != nil {
				return err
			}

			data, err := backup.Read(path, opts)
			if errors.Is(err, backup.ErrSealed) {
				err = fmt.Errorf("%w: enable storage.encrypt with the original passphrase", err)
			}
			n := 0
			if err == nil {
				n, err = backup.Restore(c.Store, data)
			}
			if auditErr := a.audit.LogRestore(ctx, path, n, err); auditErr != nil {
				a.log.Warn("audit restore", "error", auditErr)
			}
			if err != nil {
				return fmt.Errorf("restore: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restored %d entries from %s\n", n, path)
			return nil
		},
	}
}
