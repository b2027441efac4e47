package model

// AccountKind names the two identity stores.
type AccountKind string

const (
	AccountKindStandard AccountKind = "standard"
	AccountKindLicensed AccountKind = "licensed"
)

// Account is a resolved student identity. It is closed to the two variants
// below; switch on the concrete type to handle both.
type Account interface {
	StudentID() string
	Department() string
	Kind() AccountKind
	// OneAttemptOnly is true when any existing session permanently blocks a new start.
	OneAttemptOnly() bool
	account()
}

// StandardAccount may resume an unfinished test but never repeat a completed one.
type StandardAccount struct {
	ID   string
	Name string
	Dept string
}

func (a StandardAccount) StudentID() string    { return a.ID }
func (a StandardAccount) Department() string   { return a.Dept }
func (a StandardAccount) Kind() AccountKind    { return AccountKindStandard }
func (a StandardAccount) OneAttemptOnly() bool { return false }
func (StandardAccount) account()               {}

// LicensedAccount gets exactly one session per test, ever.
type LicensedAccount struct {
	ID         string
	Name       string
	Dept       string
	LicenseKey string
}

func (a LicensedAccount) StudentID() string    { return a.ID }
func (a LicensedAccount) Department() string   { return a.Dept }
func (a LicensedAccount) Kind() AccountKind    { return AccountKindLicensed }
func (a LicensedAccount) OneAttemptOnly() bool { return true }
func (LicensedAccount) account()               {}
