package account

// record is any revision of an account entry, including Account itself.
type record interface {
	revision() int
}

// account0 is the original schema: three short strings.
type account0 struct {
	id       int
	acctName string
	userName string
	password string
}

// account1 added the url.
type account1 struct {
	id       int
	acctName string
	userName string
	password string
	url      string
}

// account2 added a dedicated email field.
type account2 struct {
	account1
	email string
}

// account3 is account2 with 16-bit string lengths.
type account3 struct {
	account2
}

// account4 added free-form extra fields.
type account4 struct {
	account3
	fields Fields
}

// account5 folded email into the extra fields.
type account5 struct {
	account1
	fields Fields
}

func (*account0) revision() int { return 0 }
func (*account1) revision() int { return 1 }
func (*account2) revision() int { return 2 }
func (*account3) revision() int { return 3 }
func (*account4) revision() int { return 4 }
func (*account5) revision() int { return 5 }
func (*Account) revision() int  { return CurrentRevision }

// revisionStep knows how to read one revision from a block and how to build
// it from the revision before it. Step 0 has no upgrade.
type revisionStep struct {
	parse   func(id int, r *blockReader) record
	upgrade func(prev record) record
}

// revisionChain is indexed by revision number; the last step produces Account.
var revisionChain = [CurrentRevision + 1]revisionStep{
	0: {parse: parseRev0},
	1: {parse: parseRev1, upgrade: upgradeRev1},
	2: {parse: parseRev2, upgrade: upgradeRev2},
	3: {parse: parseRev3, upgrade: upgradeRev3},
	4: {parse: parseRev4, upgrade: upgradeRev4},
	5: {parse: parseRev5, upgrade: upgradeRev5},
	6: {parse: parseCurrent, upgrade: upgradeCurrent},
}

func parseRev0(id int, r *blockReader) record {
	return &account0{
		id:       id,
		acctName: r.str8(),
		userName: r.str8(),
		password: r.str8(),
	}
}

func parseRev1(id int, r *blockReader) record {
	a := &account1{id: id}
	a.acctName = r.str8()
	a.userName = r.str8()
	a.password = r.str8()
	a.url = r.str8()
	return a
}

func upgradeRev1(prev record) record {
	p := prev.(*account0)
	return &account1{
		id:       p.id,
		acctName: p.acctName,
		userName: p.userName,
		password: p.password,
	}
}

func parseRev2(id int, r *blockReader) record {
	a := &account2{}
	a.account1 = *parseRev1(id, r).(*account1)
	a.email = r.str8()
	return a
}

func upgradeRev2(prev record) record {
	return &account2{account1: *prev.(*account1)}
}

func parseRev3(id int, r *blockReader) record {
	a := &account3{}
	a.id = id
	a.acctName = r.str16()
	a.userName = r.str16()
	a.password = r.str16()
	a.url = r.str16()
	a.email = r.str16()
	return a
}

func upgradeRev3(prev record) record {
	return &account3{account2: *prev.(*account2)}
}

func parseRev4(id int, r *blockReader) record {
	a := &account4{account3: *parseRev3(id, r).(*account3)}
	a.fields = r.fields(int(r.u8()))
	return a
}

func upgradeRev4(prev record) record {
	return &account4{account3: *prev.(*account3)}
}

func parseRev5(id int, r *blockReader) record {
	a := &account5{}
	a.id = id
	a.acctName = r.str16()
	a.userName = r.str16()
	a.password = r.str16()
	a.url = r.str16()
	a.fields = r.fields(int(r.u8()))
	return a
}

func upgradeRev5(prev record) record {
	p := prev.(*account4)
	a := &account5{account1: p.account1}
	if p.email != "" {
		a.fields = append(a.fields, GenericField{Name: "email", Value: p.email})
	}
	a.fields = append(a.fields, p.fields...)
	return a
}

func parseCurrent(id int, r *blockReader) record {
	a := &Account{ID: id}
	a.AcctName = r.str16()
	a.UserName = r.str16()
	a.Password = r.str16()
	a.URL = r.str16()
	a.Fields = r.fields(int(r.u16()))
	return a
}

func upgradeCurrent(prev record) record {
	p := prev.(*account5)
	return &Account{
		ID:       p.id,
		AcctName: p.acctName,
		UserName: p.userName,
		Password: p.password,
		URL:      p.url,
		Fields:   p.fields.Clone(),
	}
}
