package main

import (
	"context"
	"fmt"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"signet/internal/config"
	"signet/internal/health"
	"signet/internal/store"
)

func newDoctorCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, cache, token and host keymap",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := a.checker()
			results := c.Run(cmd.Context())

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, r := range results {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Status, r.Name, r.Message)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if overall := c.Overall(results); overall == health.StatusUnhealthy {
				return fmt.Errorf("doctor: %s", overall)
			}
			return nil
		},
	}
}

func (a *app) checker() *health.Checker {
	cfg := a.cfg
	c := health.NewChecker()

	c.RegisterFunc("config", true, func(ctx context.Context) health.Result {
		return health.FromError(cfg.Validate(), a.configPath)
	})

	c.RegisterFunc("cache", true, func(ctx context.Context) health.Result {
		st, err := store.Open(config.ExpandPath(cfg.Storage.Path))
		if err != nil {
			return health.FromError(err, "")
		}
		defer st.Close()
		if err := store.ValidateSchema(st.DB()); err != nil {
			return health.FromError(err, "")
		}
		stats, err := st.GetStats()
		if err != nil {
			return health.FromError(err, "")
		}
		return health.Result{Message: fmt.Sprintf("%d entries, %d sealed, %d layouts", stats.Entries, stats.Sealed, stats.Layouts)}
	})

	if cfg.Storage.Encrypt {
		c.RegisterFunc("cache key", false, health.FileExists(config.ExpandPath(cfg.Security.SaltPath), "no salt file yet, created on first unlock"))
	}

	c.RegisterFunc("token", true, func(ctx context.Context) health.Result {
		client, err := a.openDevice(ctx)
		if err != nil {
			return health.FromError(err, "")
		}
		defer client.Close()
		info, err := client.Startup(ctx)
		if err != nil {
			return health.FromError(err, "")
		}
		return health.Result{Message: fmt.Sprintf("%s firmware %s, %s", info.Serial, info.Firmware(), info.State)}
	})

	c.RegisterFunc("host keymap", false, func(ctx context.Context) health.Result {
		mod, err := a.inspector().RightAltIsModifier()
		if err != nil {
			return health.Result{Status: health.StatusDegraded, Message: "detection failed, right-Alt passes will be probed: " + err.Error()}
		}
		if mod {
			return health.Result{Message: "right-Alt is a plain modifier, its passes are skipped"}
		}
		return health.Result{Message: "right-Alt produces characters, its passes are probed"}
	})

	c.RegisterFunc("backups", false, health.WritableDir(config.ExpandPath(cfg.Backup.Dir)))
	if cfg.Logging.AuditPath != "" {
		c.RegisterFunc("audit log", false, health.WritableDir(filepath.Dir(config.ExpandPath(cfg.Logging.AuditPath))))
	}
	return c
}
