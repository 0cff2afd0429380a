package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/dkeeper/debt-ledger/internal/apperr"
	"github.com/dkeeper/debt-ledger/internal/models"
	"github.com/sirupsen/logrus"
)

// snapshotVersion is written with every save. Legacy snapshots are a bare
// JSON array with no envelope; Load accepts both.
const snapshotVersion = 1

const (
	maxAttempts  = 3
	loadBackoff  = 1 * time.Second
	storeBackoff = 500 * time.Millisecond
)

type envelope struct {
	Version      int                  `json:"version"`
	Transactions []models.Transaction `json:"transactions"`
}

// Adapter wraps a KV backend with bounded retry and the snapshot codec.
type Adapter struct {
	kv           KV
	log          *logrus.Logger
	loadBackoff  time.Duration
	storeBackoff time.Duration
}

// NewAdapter initializes the persistence adapter on the given backend.
func NewAdapter(kv KV, log *logrus.Logger) *Adapter {
	return &Adapter{
		kv:           kv,
		log:          log,
		loadBackoff:  loadBackoff,
		storeBackoff: storeBackoff,
	}
}

// Load reads and decodes the snapshot. A missing key yields an empty
// collection. Records failing the structural check are dropped rather than
// failing the whole load; the dropped count is returned for diagnostics.
func (a *Adapter) Load(ctx context.Context) ([]models.Transaction, int, error) {
	var records []models.Transaction
	err := a.withRetry(ctx, "load", a.loadBackoff, func() error {
		raw, present, err := a.kv.Load(ctx)
		if err != nil {
			return err
		}
		if !present {
			records = nil
			return nil
		}
		// Decode inside the retry loop: a backend that served a torn or
		// half-written value can serve a good one on the next attempt.
		records, err = decodeSnapshot(raw)
		if err != nil {
			return apperr.Storage("failed to parse stored transactions", err)
		}
		return nil
	})
	if err != nil {
		return nil, 0, apperr.Storage("failed to load transactions, data may be unavailable", err)
	}
	if records == nil {
		return []models.Transaction{}, 0, nil
	}

	valid := make([]models.Transaction, 0, len(records))
	for _, t := range records {
		if structurallyValid(&t) {
			valid = append(valid, t)
		}
	}
	dropped := len(records) - len(valid)
	if dropped > 0 {
		a.log.Warnf("Dropped %d invalid transaction record(s) during load", dropped)
	}
	return valid, dropped, nil
}

// Save serializes the full collection and writes it with retry. A failure
// after exhausting retries surfaces a storage error; the caller's in-memory
// state is authoritative and is never rolled back.
func (a *Adapter) Save(ctx context.Context, collection []models.Transaction) error {
	data, err := json.Marshal(envelope{Version: snapshotVersion, Transactions: collection})
	if err != nil {
		return apperr.Unknown("failed to serialize transactions", err)
	}
	err = a.withRetry(ctx, "save", a.storeBackoff, func() error {
		return a.kv.Store(ctx, data)
	})
	if err != nil {
		return apperr.Storage("failed to save transactions, changes may not be persisted", err)
	}
	return nil
}

// withRetry runs op up to maxAttempts times with a linearly growing delay,
// skipping the sleep after the final failure.
func (a *Adapter) withRetry(ctx context.Context, name string, base time.Duration, op func() error) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if lastErr = op(); lastErr == nil {
			return nil
		}
		if e := apperr.Classify(lastErr); !e.Retryable && e.Kind != apperr.UnknownError {
			return lastErr
		}
		if attempt < maxAttempts {
			a.log.Warnf("Retry attempt %d for %s: %v", attempt, name, lastErr)
			select {
			case <-time.After(base * time.Duration(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return lastErr
}

func decodeSnapshot(raw []byte) ([]models.Transaction, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var records []models.Transaction
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, err
		}
		return records, nil
	}
	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, err
	}
	return env.Transactions, nil
}

// structurallyValid checks the required fields of one stored record. Looser
// than create-time validation on purpose: settled historical records may
// legitimately carry amounts a fresh draft could not.
func structurallyValid(t *models.Transaction) bool {
	if t.ID == "" || t.Name == "" || t.Date == "" {
		return false
	}
	if !t.Type.Valid() {
		return false
	}
	// Settled iff settled-date present, for children and parents alike.
	if t.IsSettled != (t.SettledDate != "") {
		return false
	}
	if t.ParentID != "" && !t.IsSettled {
		return false
	}
	return true
}
