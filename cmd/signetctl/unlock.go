package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"signet/internal/backup"
	"signet/internal/config"
	"signet/internal/security"
	"signet/internal/store"
)

// passphraseEnv lets scripts unlock the cache without a terminal.
const passphraseEnv = "SIGNET_PASSPHRASE"

var errNoPassphrase = errors.New("empty passphrase")

// cache is an open store plus, when encryption is on, the unlocked master
// key. release wipes the key and closes the store.
type cache struct {
	*store.Store
	master []byte
	locked bool
}

func (c *cache) release() {
	if c.master != nil {
		if c.locked {
			security.UnlockMemory(c.master)
		} else {
			security.Wipe(c.master)
		}
		c.master = nil
	}
	_ = c.Store.Close()
}

// backupOptions seals backups with the cache key when the cache is
// encrypted.
func (c *cache) backupOptions(level string) (backup.Options, error) {
	opts := backup.Options{Level: level}
	if c.master == nil {
		return opts, nil
	}
	sealer, err := security.NewSealerForLabel(c.master, security.LabelBackup)
	if err != nil {
		return opts, err
	}
	opts.Sealer = sealer
	return opts, nil
}

// openCache opens the local store and, if storage.encrypt is set, unlocks
// it with the user's passphrase. A missing salt file is created with the
// passphrase given.
func (a *app) openCache(ctx context.Context) (*cache, error) {
	path := config.ExpandPath(a.cfg.Storage.Path)
	st, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	c := &cache{Store: st}
	if !a.cfg.Storage.Encrypt {
		return c, nil
	}

	saltPath := config.ExpandPath(a.cfg.Security.SaltPath)
	pass, err := a.readPassphrase("Cache passphrase: ")
	if err != nil {
		st.Close()
		return nil, err
	}
	master, created, err := security.UnlockOrCreate(saltPath, pass, a.cfg.Security.KDF)
	security.Wipe(pass)
	if auditErr := a.audit.LogUnlock(ctx, saltPath, err); auditErr != nil {
		a.log.Warn("audit unlock", "error", auditErr)
	}
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("unlock cache: %w", err)
	}
	if created {
		a.log.Info("created cache key", "path", saltPath)
	}
	c.master = master

	if a.cfg.Security.LockMemory {
		if err := security.LockMemory(master); err != nil {
			a.log.Debug("mlock failed", "error", err)
		} else {
			c.locked = true
		}
	}

	sealer, err := security.NewSealerForLabel(master, security.LabelCache)
	if err != nil {
		c.release()
		return nil, err
	}
	st.SetSealer(sealer)
	return c, nil
}

// readPassphrase takes the passphrase from the environment, from the
// terminal without echo, or from the first line of stdin, in that order.
func (a *app) readPassphrase(prompt string) ([]byte, error) {
	if v := os.Getenv(passphraseEnv); v != "" {
		return []byte(v), nil
	}

	if f, ok := a.stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(a.stderr, prompt)
		pass, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(a.stderr)
		if err != nil {
			return nil, fmt.Errorf("read passphrase: %w", err)
		}
		if len(pass) == 0 {
			return nil, errNoPassphrase
		}
		return pass, nil
	}

	line, err := bufio.NewReader(a.stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read passphrase: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return nil, errNoPassphrase
	}
	return []byte(line), nil
}
