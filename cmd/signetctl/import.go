package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"signet/internal/account"
	"signet/internal/config"
	"signet/internal/importer"
	"signet/internal/signetdev"
	"signet/internal/store"
)

func newImportCmd(a *app) *cobra.Command {
	var (
		dryRun  bool
		noAlias bool
	)
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import accounts from a CSV, JSON or YAML export",
		Long: `Reads an export from another password manager and writes each record to
the token as a new account. Field names are matched against the known
aliases (name, username, password, url and their variants); everything
else is kept as an extra field. With --dry-run nothing is written.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ic := a.cfg.Import
			if noAlias {
				ic.AliasMatch = false
			}
			im := a.importer(ic)
			res, err := im.ImportFile(args[0])
			if err != nil {
				return err
			}
			if dryRun {
				return printImport(cmd.OutOrStdout(), res)
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

			n, err := a.commitImport(ctx, im, client, c, res)
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d of %d accounts from %s (%d records skipped)\n",
				n, len(res.Accounts), args[0], len(res.Skipped))
			return err
		},
	}
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "show what would be imported")
	cmd.Flags().BoolVar(&noAlias, "no-alias", false, "match field names exactly")
	cmd.AddCommand(newImportWatchCmd(a))
	return cmd
}

// commitImport writes res to the token, caches what was written and
// records the run.
func (a *app) commitImport(ctx context.Context, im *importer.Importer, client *signetdev.Client, c *cache, res *importer.Result) (int, error) {
	started := time.Now()
	n, err := im.Commit(ctx, client, res)

	for _, acct := range res.Accounts[:n] {
		b, encErr := account.ToBlock(acct)
		if encErr == nil {
			encErr = c.PutBlock(account.Module, b)
		}
		if encErr != nil {
			a.log.Warn("cache imported entry", "entry", acct.ID, "error", encErr)
		}
	}
	if _, runErr := c.RecordImportRun(&store.ImportRun{
		StartedAt: started,
		Source:    res.Source,
		Format:    string(res.Format),
		Imported:  n,
		Skipped:   len(res.Skipped),
	}); runErr != nil {
		a.log.Warn("record import run", "error", runErr)
	}
	if auditErr := a.audit.LogEntriesImported(ctx, res.Source, n, len(res.Skipped), err); auditErr != nil {
		a.log.Warn("audit import", "error", auditErr)
	}
	for _, s := range res.Skipped {
		a.log.Info("record skipped", "source", res.Source, "record", s.Index, "error", s.Err)
	}
	return n, err
}

func printImport(w io.Writer, res *importer.Result) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "%s (%s): %d accounts, %d skipped\n", res.Source, res.Format, len(res.Accounts), len(res.Skipped))
	fmt.Fprintln(tw, "NAME\tUSER\tURL\tEXTRA")
	for _, acct := range res.Accounts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", acct.AcctName, acct.UserName, acct.URL, len(acct.Fields))
	}
	for _, s := range res.Skipped {
		fmt.Fprintf(tw, "skipped\t%s\n", s.Error())
	}
	return tw.Flush()
}

func newImportWatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch [dir]",
		Short: "Import every export dropped into a directory",
		Long: `Watches a drop directory (import.watch_dir by default) and imports each
export once it has stopped changing for import.debounce_ms. Files already
present are imported on start. With import.remove_after_import set,
imported files are deleted. Edits to the import section of the config
file take effect without a restart.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := config.ExpandPath(a.cfg.Import.WatchDir)
			if len(args) == 1 {
				dir = args[0]
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

			settings := &importSettings{}
			settings.set(a.importer(a.cfg.Import), a.cfg.Import.RemoveAfterImport)
			a.loader.OnChange(func(_, next *config.Config) {
				settings.set(a.importer(next.Import), next.Import.RemoveAfterImport)
				a.log.Info("import settings reloaded", "alias_match", next.Import.AliasMatch)
			})
			if err := a.loader.Watch(); err != nil {
				a.log.Warn("config reload disabled", "error", err)
			}

			w, err := importer.NewWatcher(dir, a.cfg.Import.Debounce())
			if err != nil {
				return fmt.Errorf("watch %s: %w", dir, err)
			}
			if err := w.Start(); err != nil {
				return fmt.Errorf("watch %s: %w", dir, err)
			}
			defer w.Stop()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Watching %s\n", w.Dir())
			for {
				select {
				case <-ctx.Done():
					return nil
				case err := <-w.Errors():
					a.log.Warn("watch error", "error", err)
				case err := <-a.loader.Errors():
					a.log.Warn("config reload", "error", err)
				case path := <-w.Events():
					im, remove := settings.get()
					a.importDropped(ctx, im, remove, out, client, c, path)
				}
			}
		},
	}
}

// importSettings is the part of the import config that a reload may swap
// while the watch loop runs.
type importSettings struct {
	mu     sync.Mutex
	im     *importer.Importer
	remove bool
}

func (s *importSettings) set(im *importer.Importer, remove bool) {
	s.mu.Lock()
	s.im, s.remove = im, remove
	s.mu.Unlock()
}

func (s *importSettings) get() (*importer.Importer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.im, s.remove
}

func (a *app) importDropped(ctx context.Context, im *importer.Importer, remove bool, out io.Writer, client *signetdev.Client, c *cache, path string) {
	res, err := im.ImportFile(path)
	if err != nil {
		a.log.Error("import failed", "file", path, "error", err)
		return
	}
	n, err := a.commitImport(ctx, im, client, c, res)
	if err != nil {
		a.log.Error("import incomplete", "file", path, "imported", n, "error", err)
		return
	}
	fmt.Fprintf(out, "%s: imported %d accounts\n", path, n)
	if remove {
		if err := os.Remove(path); err != nil {
			a.log.Warn("remove imported file", "file", path, "error", err)
		}
	}
}
