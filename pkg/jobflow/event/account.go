package event

// TypeAccountCreated tags AccountCreated events.
const TypeAccountCreated = "account.created"

// AccountCreated is raised when a new account is registered.
type AccountCreated struct {
	Meta
	accountID string
	email     string
}

var _ Event = AccountCreated{}

// NewAccountCreated builds the event with a fresh id and timestamp.
func NewAccountCreated(accountID, email string) AccountCreated {
	return AccountCreated{
		Meta:      NewMeta(),
		accountID: accountID,
		email:     email,
	}
}

// AccountID returns the new account's identifier.
func (e AccountCreated) AccountID() string { return e.accountID }

// Email returns the address to verify.
func (e AccountCreated) Email() string { return e.email }

// Type returns TypeAccountCreated.
func (AccountCreated) Type() string { return TypeAccountCreated }

// ToMap serializes the event for transport.
func (e AccountCreated) ToMap() map[string]any {
	m := e.fields(TypeAccountCreated)
	m["account_id"] = e.accountID
	m["email"] = e.email
	return m
}

// DecodeAccountCreated is the inverse of ToMap.
func DecodeAccountCreated(data map[string]any) (AccountCreated, error) {
	if err := checkType(data, TypeAccountCreated); err != nil {
		return AccountCreated{}, err
	}
	meta, err := RestoreMeta(data)
	if err != nil {
		return AccountCreated{}, err
	}
	accountID, err := stringField(data, "account_id")
	if err != nil {
		return AccountCreated{}, err
	}
	email, err := stringField(data, "email")
	if err != nil {
		return AccountCreated{}, err
	}
	return AccountCreated{Meta: meta, accountID: accountID, email: email}, nil
}
