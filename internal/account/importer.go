package account

import (
	"golang.org/x/text/cases"
)

// ImportID is the entry id given to accounts built from foreign exports; the
// device assigns the real id when the entry is written.
const ImportID = -1

// Canonical field names, also the strict alias of each group.
const (
	FieldName     = "name"
	FieldUserName = "username"
	FieldPassword = "password"
	FieldURL      = "url"
)

// AliasGroup lists the input names accepted for one canonical field. Strict
// always matches; Loose only when alias matching is enabled.
type AliasGroup struct {
	Field  string
	Strict string
	Loose  []string
}

// AliasSet carries extra loose aliases per canonical field, appended after
// the built-in ones. The zero value adds nothing.
type AliasSet struct {
	Name     []string `toml:"name" json:"name" yaml:"name"`
	UserName []string `toml:"username" json:"username" yaml:"username"`
	Password []string `toml:"password" json:"password" yaml:"password"`
	URL      []string `toml:"url" json:"url" yaml:"url"`
}

func (s AliasSet) extra(field string) []string {
	switch field {
	case FieldName:
		return s.Name
	case FieldUserName:
		return s.UserName
	case FieldPassword:
		return s.Password
	case FieldURL:
		return s.URL
	}
	return nil
}

// DefaultAliases returns the built-in groups in assignment order.
func DefaultAliases() []AliasGroup {
	return []AliasGroup{
		{Field: FieldName, Strict: FieldName, Loose: []string{"title", "account", "url", "address"}},
		{Field: FieldUserName, Strict: FieldUserName, Loose: []string{"user", "login", "email"}},
		{Field: FieldPassword, Strict: FieldPassword, Loose: []string{"pass", "passphrase"}},
		{Field: FieldURL, Strict: FieldURL, Loose: []string{"address"}},
	}
}

// ImportFields builds an account from name/value pairs exported by another
// password manager. With aliasMatch false only the canonical names are
// recognised. Fields not used for a canonical slot are kept, in input order,
// as extra fields. The input slice is not modified.
func ImportFields(fields []GenericField, aliasMatch bool) *Account {
	if !aliasMatch {
		return importGroups(fields, DefaultAliases(), false)
	}
	return ImportFieldsWith(fields, AliasSet{})
}

// ImportFieldsWith is ImportFields with alias matching enabled and the
// extra aliases in set appended to the built-in ones.
func ImportFieldsWith(fields []GenericField, set AliasSet) *Account {
	groups := DefaultAliases()
	for i := range groups {
		groups[i].Loose = append(groups[i].Loose, set.extra(groups[i].Field)...)
	}
	return importGroups(fields, groups, true)
}

// importGroups assigns at most one field to each group. Canonical names are
// matched first for every group so that a field literally called "url" is
// never taken by the name group's url alias. Loose aliases are then tried
// group by group, skipping any alias that also belongs to a group whose slot
// is already filled. In both passes the first unconsumed field in input
// order wins and a consumed field is unavailable to later groups.
func importGroups(fields []GenericField, groups []AliasGroup, loose bool) *Account {
	fold := cases.Fold()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = fold.String(f.Name)
	}

	consumed := make([]bool, len(fields))
	matched := make([]int, len(groups))
	for i := range matched {
		matched[i] = -1
	}

	take := func(aliases []string) int {
		for i, n := range names {
			if consumed[i] {
				continue
			}
			for _, a := range aliases {
				if n == fold.String(a) {
					consumed[i] = true
					return i
				}
			}
		}
		return -1
	}

	for g := range groups {
		matched[g] = take([]string{groups[g].Strict})
	}
	if loose {
		for g := range groups {
			if matched[g] < 0 {
				matched[g] = take(available(groups, matched, g))
			}
		}
	}

	acct := New(ImportID)
	for g, idx := range matched {
		if idx < 0 {
			continue
		}
		v := fields[idx].Value
		switch groups[g].Field {
		case FieldName:
			acct.AcctName = v
		case FieldUserName:
			acct.UserName = v
		case FieldPassword:
			acct.Password = v
		case FieldURL:
			acct.URL = v
		}
	}
	for i, f := range fields {
		if !consumed[i] {
			acct.Fields = append(acct.Fields, f)
		}
	}
	return acct
}

// available returns the loose aliases of groups[g] that no other filled group
// also answers to.
func available(groups []AliasGroup, matched []int, g int) []string {
	fold := cases.Fold()
	owned := make(map[string]bool)
	for h, grp := range groups {
		if h == g || matched[h] < 0 {
			continue
		}
		owned[fold.String(grp.Strict)] = true
		for _, a := range grp.Loose {
			owned[fold.String(a)] = true
		}
	}
	var out []string
	for _, a := range groups[g].Loose {
		if !owned[fold.String(a)] {
			out = append(out, a)
		}
	}
	return out
}
