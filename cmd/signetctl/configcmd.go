package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"signet/internal/config"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and initialise the configuration",
	}
	cmd.AddCommand(
		newConfigInitCmd(a),
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				data, err := config.Encode(a.cfg, a.configPath)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			},
		},
		&cobra.Command{
			Use:   "path",
			Short: "Print the configuration file path",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(cmd.OutOrStdout(), a.configPath)
			},
		},
		&cobra.Command{
			Use:   "history",
			Short: "List past configuration migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				history, err := config.GetMigrationHistory()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(history) == 0 {
					fmt.Fprintln(out, "No migrations recorded")
					return nil
				}
				for _, m := range history {
					fmt.Fprintf(out, "%s  v%d -> v%d", m.At.Local().Format("2006-01-02 15:04:05"), m.FromVersion, m.ToVersion)
					if m.Backup != "" {
						fmt.Fprintf(out, "  (backup %s)", m.Backup)
					}
					fmt.Fprintln(out)
					for _, c := range m.Changes {
						fmt.Fprintln(out, "    "+c)
					}
					for _, w := range m.Warnings {
						fmt.Fprintln(out, "    warning: "+w)
					}
				}
				return nil
			},
		},
	)
	return cmd
}

func newConfigInitCmd(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init [file]",
		Short: "Write a default configuration file",
		Long: `Writes the default configuration to the given file or the configured
path. The format follows the extension: .toml, .json, .yaml or .yml.
An existing file is kept unless --force is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.configPath
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil && !force && len(args) == 1 {
				return fmt.Errorf("%s exists, use --force to overwrite", path)
			}
			if path == a.configPath && !force {
				fmt.Fprintf(cmd.OutOrStdout(), "Configuration at %s\n", path)
				return nil
			}
			if err := config.SaveConfig(config.DefaultConfig(), path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s configuration to %s\n", formatName(path), path)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	return cmd
}

func formatName(path string) string {
	switch {
	case strings.HasSuffix(path, ".json"):
		return "JSON"
	case strings.HasSuffix(path, ".yaml"), strings.HasSuffix(path, ".yml"):
		return "YAML"
	}
	return "TOML"
}
