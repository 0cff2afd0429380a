package notify

import (
	"fmt"
	"net/smtp"

	"github.com/dkeeper/debt-ledger/internal/config"
	"github.com/dkeeper/debt-ledger/internal/models"
	"github.com/jordan-wright/email"
	"github.com/sirupsen/logrus"
)

// Sender handles sending emails via SMTP
type Sender struct {
	cfg *config.Config
	log *logrus.Logger
}

// NewSender creates a new email sender
func NewSender(cfg *config.Config, log *logrus.Logger) *Sender {
	return &Sender{cfg: cfg, log: log}
}

// SendDebtReminder mails the user a digest of debts that have been open
// longer than the configured reminder window.
func (s *Sender) SendDebtReminder(to string, stale []models.Transaction, afterDays int) error {
	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = []string{to}
	e.Subject = fmt.Sprintf("Debt reminder: %d open transaction(s)", len(stale))

	body := fmt.Sprintf("The following debts have been open for more than %d days:\n\n", afterDays)
	for _, t := range stale {
		direction := "owes you"
		if t.Type == models.TypeOwe {
			direction = "you owe"
		}
		body += fmt.Sprintf("- %s %s %.2f (since %s)\n", t.Name, direction, t.Amount, t.Date)
	}
	body += "\nOpen the ledger to settle or update them."
	e.Text = []byte(body)

	addr := fmt.Sprintf("%s:%s", s.cfg.SMTPHost, s.cfg.SMTPPort)
	auth := smtp.PlainAuth("", s.cfg.SMTPUsername, s.cfg.SMTPPassword, s.cfg.SMTPHost)
	if err := e.Send(addr, auth); err != nil {
		s.log.Errorf("Failed to send reminder to %s: %v", to, err)
		return fmt.Errorf("failed to send reminder: %w", err)
	}

	s.log.Infof("Reminder sent to %s: %s", to, e.Subject)
	return nil
}
