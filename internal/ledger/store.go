package ledger

import (
	"context"
	"crypto/rand"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/dkeeper/debt-ledger/internal/apperr"
	"github.com/dkeeper/debt-ledger/internal/models"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

const (
	maxNameLength = 100
	maxAmount     = 1_000_000_000
)

// Saver persists the full snapshot. Satisfied by storage.Adapter.
type Saver interface {
	Save(ctx context.Context, collection []models.Transaction) error
}

// Reporter receives persistence failures that cannot be returned to any
// caller because the write happens after the operation completed.
type Reporter func(error)

// Subscriber is notified with a fresh snapshot after every committed mutation.
type Subscriber func([]models.Transaction)

// Store is the authoritative in-memory collection of transaction records.
// All mutations go through operation entry points under one mutex; durability
// is asynchronous, with a single-slot write queue so a stale snapshot can
// never overwrite a fresher one.
type Store struct {
	mu      sync.Mutex
	records []models.Transaction // head = most recent
	entropy *ulid.MonotonicEntropy
	subs    []Subscriber

	saver  Saver
	log    *logrus.Logger
	report Reporter
	now    func() time.Time

	pendingMu   sync.Mutex
	pending     []models.Transaction
	lastSaveErr error

	// writeMu serializes every saver.Save call. Flush and the background
	// writer both take it, so an in-flight write can never land after a
	// write of fresher state.
	writeMu sync.Mutex

	kick chan struct{}
	quit chan struct{}
	done chan struct{}
}

// NewStore seeds the collection and starts the background writer. The
// reporter may be nil; persistence failures are then only logged.
func NewStore(initial []models.Transaction, saver Saver, log *logrus.Logger, report Reporter) *Store {
	s := &Store{
		records: cloneRecords(initial),
		entropy: ulid.Monotonic(rand.Reader, 0),
		saver:   saver,
		log:     log,
		report:  report,
		now:     time.Now,
		kick:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go s.writeLoop()
	return s
}

// Subscribe registers a change observer. Observers receive a private snapshot
// and must not block for long; they run on the mutating goroutine.
func (s *Store) Subscribe(fn Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// Transactions returns a copy of the full current collection.
func (s *Store) Transactions() []models.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneRecords(s.records)
}

// Create validates the draft, assigns a fresh id and creation time, and
// inserts the record at the head of the collection.
func (s *Store) Create(draft models.Draft) (models.Transaction, error) {
	var created models.Transaction
	err := s.Batch(func(tx *Tx) error {
		var err error
		created, err = tx.Create(draft)
		return err
	})
	return created, err
}

// Update merges the supplied fields into an existing record. Amount, when
// supplied, is re-validated under the create rules.
func (s *Store) Update(id string, fields models.Fields) (models.Transaction, error) {
	var updated models.Transaction
	err := s.Batch(func(tx *Tx) error {
		t := tx.Find(id)
		if t == nil {
			return apperr.NotFound(id)
		}
		if err := ApplyFields(t, fields); err != nil {
			return err
		}
		updated = *t
		return nil
	})
	return updated, err
}

// Delete removes a single record. Children of a deleted parent are not
// cascaded here; cascade integrity belongs to the settlement layer.
func (s *Store) Delete(id string) error {
	return s.Batch(func(tx *Tx) error {
		return tx.Remove(id)
	})
}

// Batch runs fn against a working copy of the collection and commits it as
// one unit: on error none of the mutations are retained, on success the swap
// is atomic and exactly one persistence write is scheduled.
func (s *Store) Batch(fn func(tx *Tx) error) error {
	s.mu.Lock()
	tx := &Tx{s: s, records: cloneRecords(s.records)}
	if err := fn(tx); err != nil {
		s.mu.Unlock()
		return err
	}
	s.records = tx.records
	s.scheduleSaveLocked()
	subs := make([]Subscriber, len(s.subs))
	copy(subs, s.subs)
	snap := cloneRecords(s.records)
	s.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
	return nil
}

// LastSaveError reports the outcome of the most recent persistence write,
// nil when it succeeded. Consumers use it to warn that the working set may
// not be durable yet.
func (s *Store) LastSaveError() error {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	return s.lastSaveErr
}

// Flush writes the current snapshot synchronously. It waits for any write
// already in flight, supersedes the pending slot, and clones the collection
// only after both, so the flushed state covers every commit that preceded
// the call and nothing fresher can be lost or overwritten by it.
func (s *Store) Flush(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.pendingMu.Lock()
	s.pending = nil
	s.pendingMu.Unlock()
	s.mu.Lock()
	snap := cloneRecords(s.records)
	s.mu.Unlock()

	err := s.saver.Save(ctx, snap)
	s.pendingMu.Lock()
	s.lastSaveErr = err
	s.pendingMu.Unlock()
	return err
}

// Close stops the background writer after draining any pending snapshot.
func (s *Store) Close() {
	close(s.quit)
	<-s.done
}

// scheduleSaveLocked puts the freshest snapshot into the single write slot.
// A pending unsaved snapshot is superseded, never raced.
func (s *Store) scheduleSaveLocked() {
	snap := cloneRecords(s.records)
	s.pendingMu.Lock()
	s.pending = snap
	s.pendingMu.Unlock()
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Store) writeLoop() {
	defer close(s.done)
	for {
		select {
		case <-s.kick:
			s.drainPending()
		case <-s.quit:
			s.drainPending()
			return
		}
	}
}

func (s *Store) drainPending() {
	for {
		// Taking the slot and writing it must be atomic with respect to
		// Flush, or a snapshot popped here could land after a fresher
		// flushed one.
		s.writeMu.Lock()
		s.pendingMu.Lock()
		snap := s.pending
		s.pending = nil
		s.pendingMu.Unlock()
		if snap == nil {
			s.writeMu.Unlock()
			return
		}

		err := s.saver.Save(context.Background(), snap)
		s.pendingMu.Lock()
		s.lastSaveErr = err
		s.pendingMu.Unlock()
		s.writeMu.Unlock()
		if err != nil {
			s.log.Errorf("Failed to persist ledger snapshot: %v", err)
			if s.report != nil {
				s.report(err)
			}
		}
	}
}

// newIDLocked generates a ULID. Monotonic entropy keeps ids unique and
// ordered even within the same millisecond.
func (s *Store) newIDLocked() (string, error) {
	id, err := ulid.New(ulid.Timestamp(s.now()), s.entropy)
	if err != nil {
		return "", apperr.Unknown("failed to generate transaction id", err)
	}
	return id.String(), nil
}

// Tx is the working view handed to Batch callbacks. Pointers returned by
// Find are valid only inside the callback.
type Tx struct {
	s       *Store
	records []models.Transaction
}

// All returns the working collection, most recent first.
func (tx *Tx) All() []models.Transaction {
	return tx.records
}

// Find returns a mutable pointer to the record with the given id.
func (tx *Tx) Find(id string) *models.Transaction {
	for i := range tx.records {
		if tx.records[i].ID == id {
			return &tx.records[i]
		}
	}
	return nil
}

// Children returns pointers to the partial-payment records of a parent.
func (tx *Tx) Children(parentID string) []*models.Transaction {
	var out []*models.Transaction
	for i := range tx.records {
		if tx.records[i].ParentID == parentID {
			out = append(out, &tx.records[i])
		}
	}
	return out
}

// Create validates a draft and inserts the new record at the head.
func (tx *Tx) Create(draft models.Draft) (models.Transaction, error) {
	if err := validateName(draft.Name); err != nil {
		return models.Transaction{}, err
	}
	if err := ValidateAmount(draft.Amount); err != nil {
		return models.Transaction{}, err
	}
	if err := ValidateDate(draft.Date); err != nil {
		return models.Transaction{}, err
	}
	if !draft.Type.Valid() {
		return models.Transaction{}, apperr.Validation(apperr.CodeTypeInvalid, "transaction type must be OWED or OWE")
	}

	id, err := tx.s.newIDLocked()
	if err != nil {
		return models.Transaction{}, err
	}
	t := models.Transaction{
		ID:          id,
		Name:        strings.TrimSpace(draft.Name),
		Amount:      draft.Amount,
		Description: draft.Description,
		Date:        draft.Date,
		Type:        draft.Type,
		CreatedAt:   tx.s.now().UnixMilli(),
	}
	if err := tx.Insert(t); err != nil {
		return models.Transaction{}, err
	}
	return t, nil
}

// Insert adds a fully-formed record at the head of the collection. The store
// never silently overwrites: a colliding id is rejected.
func (tx *Tx) Insert(t models.Transaction) error {
	if tx.Find(t.ID) != nil {
		return apperr.Validationf(apperr.CodeIDConflict, "transaction id %s already exists", t.ID)
	}
	tx.records = append([]models.Transaction{t}, tx.records...)
	return nil
}

// Remove deletes the record with the given id.
func (tx *Tx) Remove(id string) error {
	for i := range tx.records {
		if tx.records[i].ID == id {
			tx.records = append(tx.records[:i], tx.records[i+1:]...)
			return nil
		}
	}
	return apperr.NotFound(id)
}

// NewID mints an id for records the settlement layer builds itself.
func (tx *Tx) NewID() (string, error) {
	return tx.s.newIDLocked()
}

// Now is the store clock, injected for tests.
func (tx *Tx) Now() time.Time {
	return tx.s.now()
}

// ApplyFields merges a partial update into a record, validating each
// supplied field under the create rules.
func ApplyFields(t *models.Transaction, fields models.Fields) error {
	if fields.Amount != nil {
		if err := ValidateAmount(*fields.Amount); err != nil {
			return err
		}
		t.Amount = *fields.Amount
	}
	if fields.Name != nil {
		if err := validateName(*fields.Name); err != nil {
			return err
		}
		t.Name = strings.TrimSpace(*fields.Name)
	}
	if fields.Description != nil {
		t.Description = *fields.Description
	}
	if fields.Date != nil {
		if err := ValidateDate(*fields.Date); err != nil {
			return err
		}
		t.Date = *fields.Date
	}
	if fields.Type != nil {
		if !fields.Type.Valid() {
			return apperr.Validation(apperr.CodeTypeInvalid, "transaction type must be OWED or OWE")
		}
		t.Type = *fields.Type
	}
	return nil
}

func validateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return apperr.Validation(apperr.CodeNameRequired, "person name is required")
	}
	if len(trimmed) > maxNameLength {
		return apperr.Validationf(apperr.CodeNameTooLong, "person name is too long (max %d characters)", maxNameLength)
	}
	return nil
}

// ValidateAmount enforces the finite, positive, bounded amount contract.
func ValidateAmount(amount float64) error {
	if math.IsNaN(amount) {
		return apperr.Validation(apperr.CodeAmountRequired, "amount is required and must be a valid number")
	}
	if math.IsInf(amount, 0) || amount <= 0 {
		return apperr.Validation(apperr.CodeAmountInvalid, "amount must be a finite number greater than 0")
	}
	if amount > maxAmount {
		return apperr.Validationf(apperr.CodeAmountTooLarge, "amount is too large (max %d)", maxAmount)
	}
	return nil
}

// ValidateDate accepts RFC 3339 timestamps and bare dates.
func ValidateDate(date string) error {
	if _, err := time.Parse(time.RFC3339, date); err == nil {
		return nil
	}
	if _, err := time.Parse("2006-01-02", date); err == nil {
		return nil
	}
	return apperr.Validation(apperr.CodeDateInvalid, "date must be an ISO-8601 timestamp")
}

// cloneRecords deep-copies the collection so snapshots handed to the writer,
// subscribers, and readers never alias store memory.
func cloneRecords(records []models.Transaction) []models.Transaction {
	out := make([]models.Transaction, len(records))
	copy(out, records)
	for i := range out {
		if out[i].InitialAmount != nil {
			v := *out[i].InitialAmount
			out[i].InitialAmount = &v
		}
	}
	return out
}
