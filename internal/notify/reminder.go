package notify

import (
	"time"

	"github.com/dkeeper/debt-ledger/internal/config"
	"github.com/dkeeper/debt-ledger/internal/models"
	"github.com/sirupsen/logrus"
)

// Ledger is the read-only slice of the engine the reminder needs.
type Ledger interface {
	Transactions() []models.Transaction
}

// Mailer sends the reminder digest. Satisfied by Sender.
type Mailer interface {
	SendDebtReminder(to string, stale []models.Transaction, afterDays int) error
}

// Reminder periodically mails the user about long-open debts. It only reads
// the ledger snapshot; it never mutates engine state.
type Reminder struct {
	ledger Ledger
	mailer Mailer
	cfg    *config.Config
	log    *logrus.Logger
	now    func() time.Time
}

// NewReminder initializes the reminder job.
func NewReminder(ledger Ledger, mailer Mailer, cfg *config.Config, log *logrus.Logger) *Reminder {
	return &Reminder{ledger: ledger, mailer: mailer, cfg: cfg, log: log, now: time.Now}
}

// Run executes one reminder pass. Wired to a cron schedule in main.
func (r *Reminder) Run() {
	stale := r.staleDebts()
	if len(stale) == 0 {
		r.log.Debug("No stale debts, skipping reminder")
		return
	}
	if err := r.mailer.SendDebtReminder(r.cfg.ReminderEmail, stale, r.cfg.ReminderAfterDays); err != nil {
		r.log.Errorf("Reminder pass failed: %v", err)
	}
}

func (r *Reminder) staleDebts() []models.Transaction {
	cutoff := r.now().AddDate(0, 0, -r.cfg.ReminderAfterDays)
	var stale []models.Transaction
	for _, t := range r.ledger.Transactions() {
		if t.IsSettled || t.IsChild() {
			continue
		}
		date, err := parseDate(t.Date)
		if err != nil {
			continue
		}
		if date.Before(cutoff) {
			stale = append(stale, t)
		}
	}
	return stale
}

func parseDate(date string) (time.Time, error) {
	if d, err := time.Parse(time.RFC3339, date); err == nil {
		return d, nil
	}
	return time.Parse("2006-01-02", date)
}
