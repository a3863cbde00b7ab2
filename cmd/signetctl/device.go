package main

import (
	"fmt"
	"net"
	"os"

	"github.com/spf13/cobra"

	"signet/internal/account"
	"signet/internal/config"
	"signet/internal/importer"
	"signet/internal/signetdev"
)

func newDeviceCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "device",
		Short: "Inspect or emulate a token",
	}
	cmd.AddCommand(newDeviceInfoCmd(a), newDeviceEmulateCmd(a))
	return cmd
}

func newDeviceInfoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the firmware version and state of the connected token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := a.openDevice(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			info, err := client.Startup(ctx)
			if err != nil {
				return fmt.Errorf("startup: %w", err)
			}
			if err := a.audit.LogDeviceConnected(ctx, a.cfg.Device.Path, signetdev.ProtocolVersion); err != nil {
				a.log.Warn("audit device", "error", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Serial:    %s\n", info.Serial)
			fmt.Fprintf(out, "Firmware:  %s\n", info.Firmware())
			fmt.Fprintf(out, "State:     %s\n", info.State)
			fmt.Fprintf(out, "Transport: %s\n", a.cfg.Device.Transport)
			return nil
		},
	}
}

func newDeviceEmulateCmd(a *app) *cobra.Command {
	var (
		socket string
		seed   string
	)
	cmd := &cobra.Command{
		Use:   "emulate",
		Short: "Serve an emulated token on a Unix socket",
		Long: `Runs an in-memory token that speaks the device protocol on a Unix
socket. Point device.path at the socket with transport "socket" to use
it. --seed loads accounts from an import file into the emulator.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if socket == "" {
				socket = config.ExpandPath(a.cfg.Device.Path)
			}
			if socket == "" {
				return fmt.Errorf("no socket path: pass --socket or set device.path")
			}

			emu := signetdev.NewEmulator(a.logger.WithComponent("emulator"))
			if seed != "" {
				blocks, err := a.seedBlocks(seed)
				if err != nil {
					return err
				}
				emu.SetEntries(account.Module, blocks)
				a.log.Info("emulator seeded", "file", seed, "entries", len(blocks))
			}

			if err := os.Remove(socket); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("remove stale socket: %w", err)
			}
			l, err := net.Listen("unix", socket)
			if err != nil {
				return fmt.Errorf("listen: %w", err)
			}
			defer os.Remove(socket)

			fmt.Fprintf(cmd.OutOrStdout(), "Emulating token on %s\n", socket)
			return emu.ListenAndServe(cmd.Context(), l)
		},
	}
	cmd.Flags().StringVar(&socket, "socket", "", "socket path (default device.path)")
	cmd.Flags().StringVar(&seed, "seed", "", "import file to preload as accounts")
	return cmd
}

// seedBlocks converts an import file into current-revision blocks numbered
// from 1.
func (a *app) seedBlocks(path string) ([]account.VersionedBlock, error) {
	res, err := a.importer(a.cfg.Import).ImportFile(path)
	if err != nil {
		return nil, err
	}
	blocks := make([]account.VersionedBlock, 0, len(res.Accounts))
	for i, acct := range res.Accounts {
		acct.ID = i + 1
		b, err := account.ToBlock(acct)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", acct, err)
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}

func (a *app) importer(ic config.ImportConfig) *importer.Importer {
	return importer.New(importer.Options{
		AliasMatch: ic.AliasMatch,
		Aliases:    ic.Aliases,
		Logger:     a.logger.WithComponent("importer"),
	})
}
