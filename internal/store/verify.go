package store

import (
	"fmt"

	"signet/internal/account"
)

// EntryProblem describes a cached entry that cannot be used.
type EntryProblem struct {
	Module  string
	EntryID int
	Err     error
}

func (p EntryProblem) Error() string {
	return fmt.Sprintf("%s/%d: %v", p.Module, p.EntryID, p.Err)
}

// Verify walks every cached entry, opening sealed rows and decoding
// account blocks, and reports the entries that fail. A sealed row with no
// sealer loaded is reported with ErrLocked.
func (s *Store) Verify() ([]EntryProblem, error) {
	rows, err := s.db.Query(`
		SELECT module, entry_id, revision, data, updated_at, sealed
		FROM entries
		ORDER BY module, entry_id`)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var problems []EntryProblem
	for rows.Next() {
		var module string
		var id int
		e, err := s.scanEntry(probe{rows, &module, &id})
		if err != nil {
			problems = append(problems, EntryProblem{Module: module, EntryID: id, Err: err})
			continue
		}
		if e.Module == account.Module {
			if _, err := account.Decode(e.EntryID, e.Revision, nil, e.Data); err != nil {
				problems = append(problems, EntryProblem{Module: e.Module, EntryID: e.EntryID, Err: err})
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return problems, nil
}

// probe remembers the key columns of a row so a failed open can still be
// attributed to its entry.
type probe struct {
	row    scanner
	module *string
	id     *int
}

func (p probe) Scan(dest ...any) error {
	if err := p.row.Scan(dest...); err != nil {
		return err
	}
	*p.module = *dest[0].(*string)
	*p.id = *dest[1].(*int)
	return nil
}
