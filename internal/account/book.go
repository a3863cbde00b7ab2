package account

import (
	"sort"
	"sync"
)

// Book holds the decoded accounts of one device, keyed by entry id.
//
// Applying a newer block for an id re-decodes into the existing Account so
// pointers handed out earlier stay valid. A block that cannot be decoded
// drops the entry.
type Book struct {
	mu       sync.RWMutex
	accounts map[int]*Account
}

// NewBook returns an empty book.
func NewBook() *Book {
	return &Book{accounts: make(map[int]*Account)}
}

// Apply decodes b and stores the result. The returned error is the decode
// error, if any; the entry is removed in that case.
func (bk *Book) Apply(b VersionedBlock) (*Account, error) {
	bk.mu.Lock()
	defer bk.mu.Unlock()

	prev := bk.accounts[b.EntryID]
	acct, err := DecodeBlock(b, prev)
	if err != nil {
		delete(bk.accounts, b.EntryID)
		return nil, err
	}
	bk.accounts[b.EntryID] = acct
	return acct, nil
}

// Get returns the account with the given id.
func (bk *Book) Get(id int) (*Account, bool) {
	bk.mu.RLock()
	defer bk.mu.RUnlock()
	a, ok := bk.accounts[id]
	return a, ok
}

// Remove drops an entry.
func (bk *Book) Remove(id int) {
	bk.mu.Lock()
	defer bk.mu.Unlock()
	delete(bk.accounts, id)
}

// Len returns the number of accounts.
func (bk *Book) Len() int {
	bk.mu.RLock()
	defer bk.mu.RUnlock()
	return len(bk.accounts)
}

// All returns the accounts ordered by id.
func (bk *Book) All() []*Account {
	bk.mu.RLock()
	defer bk.mu.RUnlock()

	out := make([]*Account, 0, len(bk.accounts))
	for _, a := range bk.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
