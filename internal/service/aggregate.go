package service

import (
	"sort"

	"github.com/dkeeper/debt-ledger/internal/models"
	"github.com/shopspring/decimal"
)

// Totals sums the outstanding amounts per direction. Partial-payment records
// are always settled and therefore never contribute.
func (s *Service) Totals() models.Totals {
	owed, owe := decimal.Zero, decimal.Zero
	for _, t := range s.store.Transactions() {
		if t.IsSettled {
			continue
		}
		switch t.Type {
		case models.TypeOwed:
			owed = owed.Add(decimal.NewFromFloat(t.Amount))
		case models.TypeOwe:
			owe = owe.Add(decimal.NewFromFloat(t.Amount))
		}
	}
	totalOwed, _ := owed.Round(2).Float64()
	totalOwe, _ := owe.Round(2).Float64()
	return models.Totals{TotalOwed: totalOwed, TotalOwe: totalOwe}
}

// GroupedByPerson nets every unsettled, non-child record per counterparty.
// Entries come back sorted by absolute net descending; ties keep the order
// in which each name first appears in the collection.
func (s *Service) GroupedByPerson() []models.PersonSummary {
	nets := make(map[string]decimal.Decimal)
	counts := make(map[string]int)
	var order []string

	for _, t := range s.store.Transactions() {
		if t.IsSettled || t.IsChild() {
			continue
		}
		amount := decimal.NewFromFloat(t.Amount)
		if t.Type == models.TypeOwe {
			amount = amount.Neg()
		}
		if _, seen := nets[t.Name]; !seen {
			order = append(order, t.Name)
		}
		nets[t.Name] = nets[t.Name].Add(amount)
		counts[t.Name]++
	}

	summaries := make([]models.PersonSummary, 0, len(order))
	for _, name := range order {
		net, _ := nets[name].Round(2).Float64()
		summaries = append(summaries, models.PersonSummary{
			Name:             name,
			TotalDebt:        net,
			TransactionCount: counts[name],
		})
	}
	sort.SliceStable(summaries, func(i, j int) bool {
		return abs(summaries[i].TotalDebt) > abs(summaries[j].TotalDebt)
	})
	return summaries
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
