package export

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/beevik/etree"
	"github.com/dkeeper/debt-ledger/internal/models"
)

// JSON serializes a read-only snapshot for external backup. Indented the way
// a user would expect a hand-inspectable export to look.
func JSON(transactions []models.Transaction) ([]byte, error) {
	data, err := json.MarshalIndent(transactions, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to serialize transactions: %w", err)
	}
	return data, nil
}

// XML builds the backup document. The export is one-way: nothing here is
// ever read back into the engine.
func XML(transactions []models.Transaction, exportedAt time.Time) ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement("ledger")
	root.CreateAttr("exportedAt", exportedAt.UTC().Format(time.RFC3339))
	root.CreateAttr("count", fmt.Sprintf("%d", len(transactions)))

	for _, t := range transactions {
		e := root.CreateElement("transaction")
		e.CreateAttr("id", t.ID)
		e.CreateAttr("type", string(t.Type))
		e.CreateElement("name").SetText(t.Name)
		e.CreateElement("amount").SetText(fmt.Sprintf("%.2f", t.Amount))
		if t.InitialAmount != nil {
			e.CreateElement("initialAmount").SetText(fmt.Sprintf("%.2f", *t.InitialAmount))
		}
		if t.Description != "" {
			e.CreateElement("description").SetText(t.Description)
		}
		e.CreateElement("date").SetText(t.Date)
		e.CreateElement("settled").SetText(fmt.Sprintf("%t", t.IsSettled))
		if t.SettledDate != "" {
			e.CreateElement("settledDate").SetText(t.SettledDate)
		}
		if t.ParentID != "" {
			e.CreateElement("parentId").SetText(t.ParentID)
		}
		e.CreateElement("createdAt").SetText(fmt.Sprintf("%d", t.CreatedAt))
	}

	doc.Indent(2)
	data, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("failed to build XML export: %w", err)
	}
	return data, nil
}
