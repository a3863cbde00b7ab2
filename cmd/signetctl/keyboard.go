package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"signet/cmd/signetctl/internal/calibui"
	"signet/internal/calibrate"
	"signet/internal/config"
	"signet/internal/hostkbd"
	"signet/internal/keyboard"
	"signet/internal/logging"
	"signet/internal/signetdev"
	"signet/internal/store"
)

func newKeyboardCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "keyboard",
		Aliases: []string{"kbd"},
		Short:   "Calibrate and manage the token's keyboard layout",
	}
	cmd.AddCommand(
		newKeyboardCalibrateCmd(a),
		newKeyboardShowCmd(a),
		newKeyboardExportCmd(a),
		newKeyboardLoadCmd(a),
		newKeyboardHistoryCmd(a),
	)
	return cmd
}

// inspector picks the right-Alt answer: fixed by keyboard.right_alt, or
// asked of the host keymap in auto mode.
func (a *app) inspector() calibrate.Inspector {
	if skip, ok := a.cfg.Keyboard.SkipRightAlt(); ok {
		return hostkbd.Static(skip)
	}
	return hostkbd.Detect()
}

func newKeyboardCalibrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "calibrate",
		Short: "Learn the host keymap by having the token type every key",
		Long: `Opens a terminal view and has the token press each physical key under
each modifier pass while this terminal has focus. The characters that
arrive build a layout, which is written to the token and the cache when
you apply it. Leaving without applying keeps the current layout.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			// The terminal belongs to the UI; only file logging survives.
			if a.cfg.Logging.Output == "stderr" || a.cfg.Logging.Output == "stdout" {
				a.log = logging.Discard()
				a.logger.Logger = a.log
			}

			c, err := a.openCache(ctx)
			if err != nil {
				return err
			}
			defer c.release()
			client, err := a.openDevice(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			previous, err := client.GetKeyboardLayout(ctx)
			if err != nil && !errors.Is(err, signetdev.ErrNotFound) {
				return fmt.Errorf("read current layout: %w", err)
			}

			runner := calibrate.NewRunner(calibrate.Config{
				Device:    client,
				Inspector: a.inspector(),
				Previous:  previous,
				Logger:    a.logger.WithComponent("calibrate"),
			})

			runCtx, stop := context.WithCancel(ctx)
			done := make(chan error, 1)
			go func() { done <- runner.Run(runCtx) }()
			go func() {
				for resp := range client.Responses() {
					runner.DeviceResponse(resp.Token, resp.Err())
				}
			}()

			layout, uiErr := calibui.Run(ctx, runner, runtime.GOOS)
			stop()
			if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("calibration runner", "error", err)
			}
			if errors.Is(uiErr, calibui.ErrAborted) {
				fmt.Fprintln(cmd.OutOrStdout(), "Calibration aborted, layout unchanged")
				return nil
			}
			if uiErr != nil {
				return uiErr
			}

			err = client.SetKeyboardLayout(ctx, layout)
			if auditErr := a.audit.LogLayoutApplied(ctx, string(store.LayoutCalibrated), len(layout), err); auditErr != nil {
				a.log.Warn("audit layout", "error", auditErr)
			}
			if err != nil {
				return fmt.Errorf("write layout: %w", err)
			}
			if _, err := c.SaveLayout(store.LayoutCalibrated, layout); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied layout with %d characters\n", len(layout))
			return nil
		},
	}
}

// currentLayout returns the newest cached layout, or the token's when
// fromDevice is set.
func (a *app) currentLayout(cmd *cobra.Command, c *cache, fromDevice bool) (keyboard.Layout, error) {
	if !fromDevice {
		rec, err := c.LatestLayout()
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, errors.New("no cached layout: run 'signetctl keyboard calibrate' or use --device")
			}
			return nil, err
		}
		return rec.Layout, nil
	}

	ctx := cmd.Context()
	client, err := a.openDevice(ctx)
	if err != nil {
		return nil, err
	}
	defer client.Close()
	l, err := client.GetKeyboardLayout(ctx)
	if err != nil {
		return nil, fmt.Errorf("read layout: %w", err)
	}
	if _, err := c.SaveLayout(store.LayoutDevice, l); err != nil {
		a.log.Warn("cache device layout", "error", err)
	}
	return l, nil
}

func newKeyboardShowCmd(a *app) *cobra.Command {
	var fromDevice bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Draw the current layout as key grids",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.openCache(cmd.Context())
			if err != nil {
				return err
			}
			defer c.release()

			l, err := a.currentLayout(cmd, c, fromDevice)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, calibui.RenderLayout(l, keyboard.PhysicalKey{}, false))
			if composed := calibui.ComposedEntries(l); len(composed) > 0 {
				fmt.Fprintln(out, "Composed:")
				for _, s := range composed {
					fmt.Fprintln(out, "  "+s)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&fromDevice, "device", false, "read the layout from the token")
	return cmd
}

func newKeyboardExportCmd(a *app) *cobra.Command {
	var fromDevice bool
	cmd := &cobra.Command{
		Use:   "export [file]",
		Short: "Write the current layout as YAML (\"-\" for stdout)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.ExpandPath(a.cfg.Keyboard.ExportPath)
			if len(args) == 1 {
				path = args[0]
			}

			c, err := a.openCache(cmd.Context())
			if err != nil {
				return err
			}
			defer c.release()

			l, err := a.currentLayout(cmd, c, fromDevice)
			if err != nil {
				return err
			}
			data, err := keyboard.ExportYAML(l)
			if err != nil {
				return err
			}
			if path == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", path, err)
			}
			if err := a.audit.LogLayoutExported(cmd.Context(), path); err != nil {
				a.log.Warn("audit export", "error", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d characters to %s\n", len(l), path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&fromDevice, "device", false, "read the layout from the token")
	return cmd
}

func newKeyboardLoadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "load <file>",
		Short: "Write a YAML layout export to the token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			l, err := keyboard.ImportYAML(data)
			if err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}

			ctx := cmd.Context()
			c, err := a.openCache(ctx)
			if err != nil {
				return err
			}
			defer c.release()
			client, err := a.openDevice(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			err = client.SetKeyboardLayout(ctx, l)
			if auditErr := a.audit.LogLayoutApplied(ctx, args[0], len(l), err); auditErr != nil {
				a.log.Warn("audit layout", "error", auditErr)
			}
			if err != nil {
				return fmt.Errorf("write layout: %w", err)
			}
			if _, err := c.SaveLayout(store.LayoutImported, l); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Loaded %d characters from %s\n", len(l), args[0])
			return nil
		},
	}
}

func newKeyboardHistoryCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List cached layouts, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.openCache(cmd.Context())
			if err != nil {
				return err
			}
			defer c.release()

			recs, err := c.ListLayouts(limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCREATED\tSOURCE\tCHARS")
			for _, r := range recs {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%d\n", r.ID, r.CreatedAt.Local().Format("2006-01-02 15:04:05"), r.Source, len(r.Layout))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of layouts to show (0 for all)")
	return cmd
}
