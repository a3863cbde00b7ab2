// Package account decodes and imports Signet account entries.
//
// The token stores each account as a block tagged with the revision of the
// schema it was written with. Decode upgrades old revisions step by step into
// the current Account. ImportFields maps name/value pairs exported by other
// password managers onto the canonical account fields.
package account

import (
	"errors"
	"fmt"
)

// CurrentRevision is the revision of the Account schema itself.
const CurrentRevision = 6

// Module is the entry module name accounts are stored under on the device.
const Module = "accounts"

// Errors returned by the decoder.
var (
	ErrUnknownRevision = errors.New("account: unknown revision")
	ErrMalformedBlock  = errors.New("account: malformed block")
	ErrFieldTooLong    = errors.New("account: field too long")
)

// GenericField is a single name/value pair, either imported from a foreign
// export or stored as an extra field on an account.
type GenericField struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// Fields is an ordered set of extra fields keyed by name.
type Fields []GenericField

// Get returns the value of the first field called name.
func (f Fields) Get(name string) (string, bool) {
	for _, g := range f {
		if g.Name == name {
			return g.Value, true
		}
	}
	return "", false
}

// Set replaces the value of an existing field or appends a new one.
func (f *Fields) Set(name, value string) {
	for i := range *f {
		if (*f)[i].Name == name {
			(*f)[i].Value = value
			return
		}
	}
	*f = append(*f, GenericField{Name: name, Value: value})
}

// Clone returns a copy that does not share backing storage.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	copy(out, f)
	return out
}

// Account is a decoded account entry at the current revision.
type Account struct {
	ID       int    `json:"id"`
	AcctName string `json:"acct_name"`
	UserName string `json:"user_name"`
	Password string `json:"password"`
	URL      string `json:"url"`
	Fields   Fields `json:"fields,omitempty"`
}

// New returns an empty account with the given entry id.
func New(id int) *Account {
	return &Account{ID: id}
}

// String returns a short description that never includes the password.
func (a *Account) String() string {
	if a.UserName == "" {
		return fmt.Sprintf("#%d %s", a.ID, a.AcctName)
	}
	return fmt.Sprintf("#%d %s (%s)", a.ID, a.AcctName, a.UserName)
}

// Equal reports whether two accounts carry the same data.
func (a *Account) Equal(b *Account) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.ID != b.ID || a.AcctName != b.AcctName || a.UserName != b.UserName ||
		a.Password != b.Password || a.URL != b.URL || len(a.Fields) != len(b.Fields) {
		return false
	}
	for i := range a.Fields {
		if a.Fields[i] != b.Fields[i] {
			return false
		}
	}
	return true
}

// assign copies every data field of src into a, keeping a's identity.
func (a *Account) assign(src *Account) {
	a.ID = src.ID
	a.AcctName = src.AcctName
	a.UserName = src.UserName
	a.Password = src.Password
	a.URL = src.URL
	a.Fields = src.Fields.Clone()
}
