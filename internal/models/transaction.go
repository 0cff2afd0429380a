package models

// DebtType marks the direction of a debt.
type DebtType string

const (
	// TypeOwed means the counterparty owes the user.
	TypeOwed DebtType = "OWED"
	// TypeOwe means the user owes the counterparty.
	TypeOwe DebtType = "OWE"
)

// Valid reports whether the value is one of the two known directions.
func (t DebtType) Valid() bool {
	return t == TypeOwed || t == TypeOwe
}

// Transaction represents one ledger entry. A record with ParentID set is a
// partial-payment child: always settled, amount fixed at creation.
type Transaction struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Amount        float64  `json:"amount"`
	InitialAmount *float64 `json:"initialAmount,omitempty"`
	Description   string   `json:"description"`
	Date          string   `json:"date"`
	Type          DebtType `json:"type"`
	IsSettled     bool     `json:"isSettled"`
	SettledDate   string   `json:"settledDate,omitempty"`
	ParentID      string   `json:"parentId,omitempty"`
	CreatedAt     int64    `json:"createdAt"`
}

// IsChild reports whether the record is a partial-payment record.
func (t *Transaction) IsChild() bool {
	return t.ParentID != ""
}

// Draft carries the caller-supplied fields for a new transaction.
type Draft struct {
	Name        string   `json:"name"`
	Amount      float64  `json:"amount"`
	Description string   `json:"description"`
	Date        string   `json:"date"`
	Type        DebtType `json:"type"`
}

// Fields is a partial update: nil pointers leave the current value untouched.
type Fields struct {
	Name        *string   `json:"name,omitempty"`
	Amount      *float64  `json:"amount,omitempty"`
	Description *string   `json:"description,omitempty"`
	Date        *string   `json:"date,omitempty"`
	Type        *DebtType `json:"type,omitempty"`
}
