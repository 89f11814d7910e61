package submission

// Account holds the credit balance for a submission owner. One credit is
// consumed per intake and refunded when a submission is failed by the
// timeout sweep.
type Account struct {
	userRef        string
	availableCount int
}

// ReconstructAccount rebuilds an account from persistent storage.
func ReconstructAccount(userRef string, availableCount int) *Account {
	return &Account{userRef: userRef, availableCount: availableCount}
}

// UserRef returns the account's owner reference.
func (a *Account) UserRef() string { return a.userRef }

// AvailableCount returns the remaining submission credits.
func (a *Account) AvailableCount() int { return a.availableCount }
