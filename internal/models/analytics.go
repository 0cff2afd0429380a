package models

// Totals represents the global outstanding balances across the ledger.
type Totals struct {
	TotalOwed float64 `json:"total_owed"` // money people owe the user
	TotalOwe  float64 `json:"total_owe"`  // money the user owes people
}

// PersonSummary represents the aggregated position against one counterparty.
type PersonSummary struct {
	Name             string  `json:"name"`
	TotalDebt        float64 `json:"total_debt"` // positive = they owe the user
	TransactionCount int     `json:"transaction_count"`
}
