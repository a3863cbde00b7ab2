// Package importer reads account exports from other password managers and
// turns them into accounts through the alias-based field importer.
//
// CSV files carry one record per row with field names in the header. JSON
// and YAML files hold either a list of flat objects or an object with an
// "entries" list whose items carry an ordered "fields" list of name/value
// pairs. Field order is kept in every format since the first matching field
// wins a canonical slot.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"signet/internal/account"
)

// Format is an export file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

var (
	ErrUnsupportedFormat = errors.New("importer: unsupported format")
	ErrEmptyRecord       = errors.New("importer: record has no values")
	ErrInvalidDocument   = errors.New("importer: invalid document")
)

// DetectFormat picks the format from the file extension.
func DetectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV, nil
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Base(path))
}

// Record is one exported entry: its position in the file and its fields
// in file order.
type Record struct {
	Index  int
	Fields []account.GenericField
}

// RecordError explains why a record was skipped.
type RecordError struct {
	Index int
	Err   error
}

func (e RecordError) Error() string {
	return fmt.Sprintf("record %d: %v", e.Index, e.Err)
}

func (e RecordError) Unwrap() error { return e.Err }

// Parse reads every record of an export.
func Parse(r io.Reader, format Format) ([]Record, error) {
	switch format {
	case FormatCSV:
		return parseCSV(r)
	case FormatJSON:
		return parseJSON(r)
	case FormatYAML:
		return parseYAML(r)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
}

// Options control how fields are matched.
type Options struct {
	// AliasMatch enables loose aliases such as "login" for the user name.
	AliasMatch bool

	// Aliases extends the built-in loose aliases. Ignored without AliasMatch.
	Aliases account.AliasSet

	Logger *slog.Logger
}

// Importer converts exports into accounts.
type Importer struct {
	opts   Options
	logger *slog.Logger
}

// New returns an Importer.
func New(opts Options) *Importer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{opts: opts, logger: logger.With("component", "importer")}
}

// Result is the outcome of converting one export.
type Result struct {
	Source   string
	Format   Format
	Accounts []*account.Account
	Skipped  []RecordError
}

// Convert turns records into accounts. Records without any value are
// skipped.
func (im *Importer) Convert(records []Record) ([]*account.Account, []RecordError) {
	var (
		accounts []*account.Account
		skipped  []RecordError
	)
	for _, rec := range records {
		fields := nonEmpty(rec.Fields)
		if len(fields) == 0 {
			skipped = append(skipped, RecordError{Index: rec.Index, Err: ErrEmptyRecord})
			continue
		}
		var acct *account.Account
		if im.opts.AliasMatch {
			acct = account.ImportFieldsWith(fields, im.opts.Aliases)
		} else {
			acct = account.ImportFields(fields, false)
		}
		accounts = append(accounts, acct)
	}
	return accounts, skipped
}

func nonEmpty(fields []account.GenericField) []account.GenericField {
	out := make([]account.GenericField, 0, len(fields))
	for _, f := range fields {
		if strings.TrimSpace(f.Name) == "" || f.Value == "" {
			continue
		}
		out = append(out, f)
	}
	return out
}

// ImportReader parses and converts an export read from r.
func (im *Importer) ImportReader(r io.Reader, format Format, source string) (*Result, error) {
	records, err := Parse(r, format)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", source, err)
	}
	accounts, skipped := im.Convert(records)
	im.logger.Info("export parsed",
		"source", source,
		"format", format,
		"records", len(records),
		"accounts", len(accounts),
		"skipped", len(skipped))
	return &Result{Source: source, Format: format, Accounts: accounts, Skipped: skipped}, nil
}

// ImportFile parses and converts the export at path.
func (im *Importer) ImportFile(path string) (*Result, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return im.ImportReader(f, format, path)
}

// Sink stores new entries and reports the id each was given.
// *signetdev.Client is a Sink.
type Sink interface {
	AddEntry(ctx context.Context, module string, b account.VersionedBlock) (int, error)
}

// Commit writes the accounts of res to sink and sets their ids. It stops at
// the first failure; accounts written before it keep their new ids.
func (im *Importer) Commit(ctx context.Context, sink Sink, res *Result) (int, error) {
	for i, acct := range res.Accounts {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		b, err := account.ToBlock(acct)
		if err != nil {
			return i, fmt.Errorf("encode %q: %w", acct.AcctName, err)
		}
		id, err := sink.AddEntry(ctx, account.Module, b)
		if err != nil {
			return i, fmt.Errorf("add %q: %w", acct.AcctName, err)
		}
		acct.ID = id
		im.logger.Debug("entry added", "entry", id)
	}
	return len(res.Accounts), nil
}
