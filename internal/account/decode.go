package account

import (
	"fmt"
	"math"
)

// VersionedBlock is a raw entry as read from the device.
type VersionedBlock struct {
	EntryID  int    `json:"entry_id"`
	Revision int    `json:"revision"`
	Data     []byte `json:"data"`
}

// Decode reconstructs an Account from a block written at the given revision.
//
// Older revisions are parsed into their own record and then upgraded one
// revision at a time until they reach the current schema. When prev is not
// nil the result is written into it and prev is returned, so other holders
// of the pointer observe the update. On failure prev is left untouched and no
// account is returned.
func Decode(id, revision int, prev *Account, data []byte) (*Account, error) {
	if revision < 0 || revision > CurrentRevision {
		return nil, fmt.Errorf("%w: %d (entry %d)", ErrUnknownRevision, revision, id)
	}

	r := newBlockReader(data)
	rec := revisionChain[revision].parse(id, r)
	if r.err != nil {
		return nil, fmt.Errorf("entry %d revision %d: %w", id, revision, r.err)
	}
	for next := revision + 1; next <= CurrentRevision; next++ {
		rec = revisionChain[next].upgrade(rec)
	}

	acct := rec.(*Account)
	if prev == nil {
		return acct, nil
	}
	prev.assign(acct)
	return prev, nil
}

// DecodeBlock is Decode for a VersionedBlock.
func DecodeBlock(b VersionedBlock, prev *Account) (*Account, error) {
	return Decode(b.EntryID, b.Revision, prev, b.Data)
}

// EncodeBlock serialises an account at the current revision.
func EncodeBlock(a *Account) ([]byte, error) {
	if len(a.Fields) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: %d extra fields", ErrFieldTooLong, len(a.Fields))
	}
	w := &blockWriter{}
	w.str16(a.AcctName)
	w.str16(a.UserName)
	w.str16(a.Password)
	w.str16(a.URL)
	w.u16(uint16(len(a.Fields)))
	w.fields(a.Fields)
	if w.err != nil {
		return nil, fmt.Errorf("encode entry %d: %w", a.ID, w.err)
	}
	return w.buf, nil
}

// ToBlock encodes an account as a current-revision VersionedBlock.
func ToBlock(a *Account) (VersionedBlock, error) {
	data, err := EncodeBlock(a)
	if err != nil {
		return VersionedBlock{}, err
	}
	return VersionedBlock{EntryID: a.ID, Revision: CurrentRevision, Data: data}, nil
}
