package service

import (
	"math"
	"time"

	"github.com/dkeeper/debt-ledger/internal/apperr"
	"github.com/dkeeper/debt-ledger/internal/ledger"
	"github.com/dkeeper/debt-ledger/internal/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Description convention for partial-payment records; the engine stores it
// opaquely, the display layer localizes it.
const (
	descPartialPrefix = "KEY:partial_prefix:"
	descNoDescription = "KEY:no_description"
)

// Service exposes the settlement operations and aggregations built on the
// ledger store.
type Service struct {
	store *ledger.Store
	log   *logrus.Logger
}

// NewService initializes a new service
func NewService(store *ledger.Store, log *logrus.Logger) *Service {
	return &Service{store: store, log: log}
}

// AddTransaction creates a new debt record.
func (s *Service) AddTransaction(draft models.Draft) (models.Transaction, error) {
	t, err := s.store.Create(draft)
	if err != nil {
		return models.Transaction{}, err
	}
	s.log.Infof("Transaction added: %s (%s %.2f)", t.ID, t.Type, t.Amount)
	return t, nil
}

// UpdateTransaction merges caller-supplied fields into a record. The amount
// of a partial-payment record is fixed at creation and cannot be edited.
func (s *Service) UpdateTransaction(id string, fields models.Fields) (models.Transaction, error) {
	var updated models.Transaction
	err := s.store.Batch(func(tx *ledger.Tx) error {
		t := tx.Find(id)
		if t == nil {
			return apperr.NotFound(id)
		}
		if t.IsChild() && fields.Amount != nil {
			return apperr.Validation(apperr.CodeAmountInvalid, "partial payment amounts are fixed")
		}
		if err := ledger.ApplyFields(t, fields); err != nil {
			return err
		}
		updated = *t
		return nil
	})
	if err != nil {
		return models.Transaction{}, err
	}
	s.log.Infof("Transaction updated: %s", id)
	return updated, nil
}

// DeleteTransaction removes a single record without cascading to children.
func (s *Service) DeleteTransaction(id string) error {
	if err := s.store.Delete(id); err != nil {
		return err
	}
	s.log.Infof("Transaction deleted: %s", id)
	return nil
}

// Transactions returns a snapshot of the full ledger, most recent first.
func (s *Service) Transactions() []models.Transaction {
	return s.store.Transactions()
}

// SettleTransaction marks a debt fully resolved. Re-settling an already
// settled record refreshes the settled date; callers wanting a no-op must
// check state first.
func (s *Service) SettleTransaction(id string) (models.Transaction, error) {
	var settled models.Transaction
	err := s.store.Batch(func(tx *ledger.Tx) error {
		t := tx.Find(id)
		if t == nil {
			return apperr.NotFound(id)
		}
		t.IsSettled = true
		t.SettledDate = tx.Now().UTC().Format(time.RFC3339)
		settled = *t
		return nil
	})
	if err != nil {
		return models.Transaction{}, err
	}
	s.log.Infof("Transaction settled: %s", id)
	return settled, nil
}

// UnsettleTransaction reopens a debt, clearing the settled date. A parent
// with partial-payment children may be reopened.
func (s *Service) UnsettleTransaction(id string) (models.Transaction, error) {
	var reopened models.Transaction
	err := s.store.Batch(func(tx *ledger.Tx) error {
		t := tx.Find(id)
		if t == nil {
			return apperr.NotFound(id)
		}
		t.IsSettled = false
		t.SettledDate = ""
		reopened = *t
		return nil
	})
	if err != nil {
		return models.Transaction{}, err
	}
	s.log.Infof("Transaction unsettled: %s", id)
	return reopened, nil
}

// RecordPartialPayment books a repayment of part of a debt: a settled child
// record is created for history and the parent's remaining amount shrinks.
// A payment equal to or exceeding the remaining amount must go through
// SettleTransaction instead, so the remaining amount stays strictly positive.
func (s *Service) RecordPartialPayment(parentID string, amount float64, note, date string) (models.Transaction, error) {
	var child models.Transaction
	err := s.store.Batch(func(tx *ledger.Tx) error {
		parent := tx.Find(parentID)
		if parent == nil {
			return apperr.NotFound(parentID)
		}
		if parent.IsChild() {
			return apperr.Validation(apperr.CodeParentInvalid, "cannot record a payment against a partial payment record")
		}
		if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
			return apperr.Validation(apperr.CodePartialAmountInvalid, "payment amount must be greater than 0")
		}
		if amount >= parent.Amount {
			return apperr.Validationf(apperr.CodePartialAmountTooLarge, "payment amount must be less than %.2f", parent.Amount)
		}
		if err := ledger.ValidateDate(date); err != nil {
			return err
		}

		description := descNoDescription
		if note != "" {
			description = descPartialPrefix + note
		}
		id, err := tx.NewID()
		if err != nil {
			return err
		}
		now := tx.Now()
		child = models.Transaction{
			ID:          id,
			Name:        parent.Name,
			Amount:      round2(amount),
			Description: description,
			Date:        date,
			Type:        parent.Type,
			IsSettled:   true,
			SettledDate: now.UTC().Format(time.RFC3339),
			ParentID:    parent.ID,
			CreatedAt:   now.UnixMilli(),
		}

		// Captured exactly once, at the first partial payment.
		initial := parent.Amount
		if parent.InitialAmount != nil {
			initial = *parent.InitialAmount
		}
		parent.InitialAmount = &initial
		parent.Amount = sub2(parent.Amount, amount)

		// Insert reallocates the working slice; parent was updated first.
		return tx.Insert(child)
	})
	if err != nil {
		return models.Transaction{}, err
	}
	s.log.Infof("Partial payment recorded: %.2f against %s", child.Amount, parentID)
	return child, nil
}

// EditTransaction rewrites a parent's total and optionally removes part of
// its payment history in one atomic unit. The new total must cover what has
// already been paid; when no payments remain the record drops back to a
// simple debt with no initial amount.
func (s *Service) EditTransaction(id string, fields models.Fields, deletedChildIDs []string) (models.Transaction, error) {
	var updated models.Transaction
	err := s.store.Batch(func(tx *ledger.Tx) error {
		parent := tx.Find(id)
		if parent == nil {
			return apperr.NotFound(id)
		}
		if parent.IsChild() {
			return apperr.Validation(apperr.CodeParentInvalid, "cannot edit a partial payment record through reconciliation")
		}

		deleted := make(map[string]bool, len(deletedChildIDs))
		for _, childID := range deletedChildIDs {
			child := tx.Find(childID)
			if child == nil {
				return apperr.NotFound(childID)
			}
			if child.ParentID != id {
				return apperr.Validationf(apperr.CodeParentInvalid, "transaction %s is not a payment of %s", childID, id)
			}
			deleted[childID] = true
		}

		paid := decimal.Zero
		for _, child := range tx.Children(id) {
			if !deleted[child.ID] {
				paid = paid.Add(decimal.NewFromFloat(child.Amount))
			}
		}
		paidSoFar, _ := paid.Round(2).Float64()

		total := parent.Amount
		if parent.InitialAmount != nil {
			total = *parent.InitialAmount
		}
		if fields.Amount != nil {
			total = *fields.Amount
		}
		if err := ledger.ValidateAmount(total); err != nil {
			return err
		}
		// Equality is rejected too: a zero remaining amount on an open
		// debt is not representable; full repayment goes through settle.
		if total <= paidSoFar {
			return apperr.Validationf(apperr.CodeAmountWarningPartials,
				"total %.2f cannot be at or below the %.2f already paid", total, paidSoFar)
		}

		for childID := range deleted {
			if err := tx.Remove(childID); err != nil {
				return err
			}
		}

		// Remove reallocated the working slice; re-resolve the parent.
		parent = tx.Find(id)
		parent.Amount = sub2(total, paidSoFar)
		if paidSoFar > 0 {
			rounded := round2(total)
			parent.InitialAmount = &rounded
		} else {
			parent.InitialAmount = nil
		}

		rest := fields
		rest.Amount = nil
		if err := ledger.ApplyFields(parent, rest); err != nil {
			return err
		}
		updated = *parent
		return nil
	})
	if err != nil {
		return models.Transaction{}, err
	}
	s.log.Infof("Transaction edited with reconciliation: %s (%d payment(s) removed)", id, len(deletedChildIDs))
	return updated, nil
}

// LastSaveError exposes the most recent persistence failure, if any.
func (s *Service) LastSaveError() error {
	return s.store.LastSaveError()
}

// round2 rounds to two-decimal currency precision.
func round2(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}

// sub2 subtracts and rounds in decimal space so repeated partial payments
// cannot accumulate float drift.
func sub2(a, b float64) float64 {
	f, _ := decimal.NewFromFloat(a).Sub(decimal.NewFromFloat(b)).Round(2).Float64()
	return f
}
