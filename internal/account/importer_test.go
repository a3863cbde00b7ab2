package account

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func gf(pairs ...string) []GenericField {
	out := make([]GenericField, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, GenericField{Name: pairs[i], Value: pairs[i+1]})
	}
	return out
}

func TestImportFields_Aliases(t *testing.T) {
	a := ImportFields(gf("title", "Bank", "user", "alice", "pass", "x"), true)

	assert.Equal(t, ImportID, a.ID)
	assert.Equal(t, "Bank", a.AcctName)
	assert.Equal(t, "alice", a.UserName)
	assert.Equal(t, "x", a.Password)
	assert.Equal(t, "", a.URL)
	assert.Empty(t, a.Fields)
}

func TestImportFields_StrictOnly(t *testing.T) {
	in := gf("title", "Bank", "user", "alice", "pass", "x")
	a := ImportFields(in, false)

	assert.Equal(t, "", a.AcctName)
	assert.Equal(t, "", a.UserName)
	assert.Equal(t, "", a.Password)
	assert.Equal(t, "", a.URL)
	assert.Equal(t, Fields(in), a.Fields)
}

func TestImportFields_CanonicalNames(t *testing.T) {
	a := ImportFields(gf("url", "u", "password", "p", "username", "n", "name", "N"), false)
	assert.Equal(t, "N", a.AcctName)
	assert.Equal(t, "n", a.UserName)
	assert.Equal(t, "p", a.Password)
	assert.Equal(t, "u", a.URL)
}

// A field literally named "url" belongs to the url slot even though the name
// group lists url as a loose alias and is assigned first. Once the url slot
// is filled, address is a url alias and does not fall back to the name slot.
func TestImportFields_NoFieldInTwoSlots(t *testing.T) {
	a := ImportFields(gf("url", "a", "address", "b"), true)

	assert.Equal(t, "a", a.URL)
	assert.Equal(t, "", a.AcctName)
	assert.Equal(t, Fields(gf("address", "b")), a.Fields)
}

// With no url field at all the name group may still use its url aliases.
func TestImportFields_NameFromAddressWithoutURL(t *testing.T) {
	a := ImportFields(gf("address", "b", "login", "u"), true)

	assert.Equal(t, "b", a.AcctName)
	assert.Equal(t, "", a.URL)
	assert.Equal(t, "u", a.UserName)
	assert.Empty(t, a.Fields)
}

// First field in input order wins when several match the same group; the
// rest stay as extra fields.
func TestImportFields_FirstFieldWins(t *testing.T) {
	a := ImportFields(gf("login", "first", "user", "second", "email", "third"), true)

	assert.Equal(t, "first", a.UserName)
	assert.Equal(t, Fields(gf("user", "second", "email", "third")), a.Fields)
}

func TestImportFields_ExtrasKeepOrder(t *testing.T) {
	a := ImportFields(gf("pin", "1", "name", "n", "note", "hello", "otp", "x"), true)
	assert.Equal(t, Fields(gf("pin", "1", "note", "hello", "otp", "x")), a.Fields)
}

func TestImportFields_CaseInsensitive(t *testing.T) {
	a := ImportFields(gf("Title", "Bank", "USERNAME", "alice", "PassPhrase", "x", "Address", "bank.example"), true)
	assert.Equal(t, "Bank", a.AcctName)
	assert.Equal(t, "alice", a.UserName)
	assert.Equal(t, "x", a.Password)
	assert.Equal(t, "bank.example", a.URL)
}

func TestImportFields_InputUntouched(t *testing.T) {
	in := gf("title", "Bank", "extra", "v")
	cp := append([]GenericField(nil), in...)

	a := ImportFields(in, true)
	a.Fields[0].Value = "changed"

	assert.Equal(t, cp, in)
}

func TestImportFields_Empty(t *testing.T) {
	a := ImportFields(nil, true)
	assert.Equal(t, ImportID, a.ID)
	assert.Nil(t, a.Fields)
}

func TestImportFieldsWith_ExtraAliases(t *testing.T) {
	set := AliasSet{
		Name:     []string{"site"},
		Password: []string{"secret"},
	}
	a := ImportFieldsWith(gf("site", "Shop", "secret", "s3", "login", "bob"), set)

	assert.Equal(t, "Shop", a.AcctName)
	assert.Equal(t, "s3", a.Password)
	assert.Equal(t, "bob", a.UserName)

	a = ImportFieldsWith(gf("site", "Shop", "title", "Bank"), set)
	assert.Equal(t, "Shop", a.AcctName, "input order decides, not alias order")
}
