package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"signet/internal/account"
)

func newSyncCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Copy the token's account entries into the local cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
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

			blocks, err := client.ReadEntries(ctx, account.Module)
			if err != nil {
				return fmt.Errorf("read entries: %w", err)
			}
			if err := c.ReplaceModule(account.Module, blocks); err != nil {
				return err
			}

			book, bad, err := c.LoadBook()
			if err != nil {
				return err
			}
			for _, e := range bad {
				a.log.Warn("entry not decoded", "error", e)
			}
			if err := a.audit.LogEntriesSynced(ctx, account.Module, len(blocks), len(bad)); err != nil {
				a.log.Warn("audit sync", "error", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Synced %d entries (%d accounts, %d undecodable)\n", len(blocks), book.Len(), len(bad))
			return nil
		},
	}
}

func newAccountsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "accounts",
		Aliases: []string{"acct"},
		Short:   "Browse cached accounts",
	}
	cmd.AddCommand(newAccountsListCmd(a), newAccountsShowCmd(a))
	return cmd
}

func newAccountsListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cached accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.openCache(cmd.Context())
			if err != nil {
				return err
			}
			defer c.release()

			book, bad, err := c.LoadBook()
			if err != nil {
				return err
			}
			for _, e := range bad {
				a.log.Warn("entry not decoded", "error", e)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tUSER\tURL")
			for _, acct := range book.All() {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", acct.ID, acct.AcctName, acct.UserName, acct.URL)
			}
			return tw.Flush()
		},
	}
}

func newAccountsShowCmd(a *app) *cobra.Command {
	var reveal bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one cached account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid id %q", args[0])
			}
			c, err := a.openCache(cmd.Context())
			if err != nil {
				return err
			}
			defer c.release()

			e, err := c.GetEntry(account.Module, id)
			if err != nil {
				return err
			}
			acct, err := account.Decode(e.EntryID, e.Revision, nil, e.Data)
			if err != nil {
				return err
			}

			password := "********"
			if reveal {
				password = acct.Password
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ID:       %d\n", acct.ID)
			fmt.Fprintf(out, "Name:     %s\n", acct.AcctName)
			fmt.Fprintf(out, "User:     %s\n", acct.UserName)
			fmt.Fprintf(out, "Password: %s\n", password)
			fmt.Fprintf(out, "URL:      %s\n", acct.URL)
			fmt.Fprintf(out, "Revision: %d (stored)\n", e.Revision)
			for _, f := range acct.Fields {
				fmt.Fprintf(out, "  %s: %s\n", f.Name, f.Value)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&reveal, "reveal", false, "print the password")
	return cmd
}

func newCacheCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Maintain the local cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "verify",
		Short: "Check that every cached entry opens and decodes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.openCache(cmd.Context())
			if err != nil {
				return err
			}
			defer c.release()

			problems, err := c.Verify()
			if err != nil {
				return err
			}
			stats, err := c.GetStats()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, p := range problems {
				fmt.Fprintln(out, "BAD", p.Error())
			}
			fmt.Fprintf(out, "%d entries (%d sealed), %d layouts, %d import runs\n",
				stats.Entries, stats.Sealed, stats.Layouts, stats.ImportRuns)
			if len(problems) > 0 {
				return fmt.Errorf("%d entries failed verification", len(problems))
			}
			return nil
		},
	})
	return cmd
}
