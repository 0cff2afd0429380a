package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/dkeeper/debt-ledger/internal/apperr"
	"github.com/dkeeper/debt-ledger/internal/models"
	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testAdapter(kv KV) *Adapter {
	a := NewAdapter(kv, testLogger())
	a.loadBackoff = time.Millisecond
	a.storeBackoff = time.Millisecond
	return a
}

// fakeKV fails the first failures calls to each method, then succeeds.
type fakeKV struct {
	data         []byte
	present      bool
	failLoads    int
	corruptLoads int // serve a truncated value this many times first
	failStores   int
	loads        int
	stores       int
}

func (f *fakeKV) Load(context.Context) ([]byte, bool, error) {
	f.loads++
	if f.failLoads > 0 {
		f.failLoads--
		return nil, false, errors.New("storage unavailable")
	}
	if f.corruptLoads > 0 {
		f.corruptLoads--
		return []byte(`{"version":1,"transactions":[`), true, nil
	}
	return f.data, f.present, nil
}

func (f *fakeKV) Store(_ context.Context, data []byte) error {
	f.stores++
	if f.failStores > 0 {
		f.failStores--
		return errors.New("storage unavailable")
	}
	f.data = data
	f.present = true
	return nil
}

func sample(id, name string) models.Transaction {
	return models.Transaction{
		ID:        id,
		Name:      name,
		Amount:    50,
		Type:      models.TypeOwed,
		Date:      "2024-03-01T00:00:00Z",
		CreatedAt: 1709251200000,
	}
}

func TestLoadMissingKeyIsEmptyNotError(t *testing.T) {
	a := testAdapter(&fakeKV{})
	records, dropped, err := a.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(records) != 0 || dropped != 0 {
		t.Fatalf("expected empty collection, got %d records, %d dropped", len(records), dropped)
	}
}

func TestSaveLoadRoundtripThroughFile(t *testing.T) {
	kv, err := NewFileKV(filepath.Join(t.TempDir(), "ledger.json"))
	if err != nil {
		t.Fatalf("NewFileKV: %v", err)
	}
	a := testAdapter(kv)

	want := []models.Transaction{sample("a1", "Sam"), sample("a2", "Lina")}
	if err := a.Save(context.Background(), want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, dropped, err := a.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if dropped != 0 {
		t.Fatalf("dropped = %d, want 0", dropped)
	}
	if len(got) != 2 || got[0].ID != "a1" || got[1].Name != "Lina" {
		t.Fatalf("roundtrip mismatch: %+v", got)
	}
}

func TestLoadAcceptsLegacyBareArray(t *testing.T) {
	raw, _ := json.Marshal([]models.Transaction{sample("a1", "Sam")})
	a := testAdapter(&fakeKV{data: raw, present: true})
	got, _, err := a.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 1 || got[0].ID != "a1" {
		t.Fatalf("legacy array not accepted: %+v", got)
	}
}

func TestLoadDropsStructurallyInvalidRecords(t *testing.T) {
	settled := sample("ok2", "Lina")
	settled.IsSettled = true
	settled.SettledDate = "2024-03-05T00:00:00Z"

	noName := sample("bad1", "")
	badType := sample("bad2", "Ann")
	badType.Type = "LOAN"
	// Settled flag without a settled date breaks the settled<->date invariant.
	halfSettled := sample("bad3", "Bo")
	halfSettled.IsSettled = true

	raw, _ := json.Marshal(envelope{Version: 1, Transactions: []models.Transaction{
		sample("ok1", "Sam"), noName, badType, halfSettled, settled,
	}})
	a := testAdapter(&fakeKV{data: raw, present: true})

	got, dropped, err := a.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if dropped != 3 {
		t.Fatalf("dropped = %d, want 3", dropped)
	}
	if len(got) != 2 || got[0].ID != "ok1" || got[1].ID != "ok2" {
		t.Fatalf("kept records mismatch: %+v", got)
	}
}

func TestLoadRetriesTransientFailures(t *testing.T) {
	raw, _ := json.Marshal(envelope{Version: 1, Transactions: []models.Transaction{sample("a1", "Sam")}})
	kv := &fakeKV{data: raw, present: true, failLoads: 2}
	a := testAdapter(kv)

	got, _, err := a.Load(context.Background())
	if err != nil {
		t.Fatalf("Load should succeed on the final attempt: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d records, want 1", len(got))
	}
}

func TestLoadRetriesTornSnapshots(t *testing.T) {
	raw, _ := json.Marshal(envelope{Version: 1, Transactions: []models.Transaction{sample("a1", "Sam")}})
	kv := &fakeKV{data: raw, present: true, corruptLoads: 2}
	a := testAdapter(kv)

	got, _, err := a.Load(context.Background())
	if err != nil {
		t.Fatalf("Load should succeed once the backend serves a whole value: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d records, want 1", len(got))
	}
	if kv.loads != 3 {
		t.Fatalf("loads = %d, want 3 attempts", kv.loads)
	}
}

func TestLoadSurfacesStorageErrorWhenSnapshotStaysCorrupt(t *testing.T) {
	kv := &fakeKV{present: true, corruptLoads: maxAttempts}
	a := testAdapter(kv)

	_, _, err := a.Load(context.Background())
	if !apperr.IsKind(err, apperr.StorageError) {
		t.Fatalf("expected StorageError, got %v", err)
	}
	if kv.loads != maxAttempts {
		t.Fatalf("loads = %d, want %d attempts", kv.loads, maxAttempts)
	}
}

func TestSaveSurfacesStorageErrorAfterRetries(t *testing.T) {
	kv := &fakeKV{failStores: maxAttempts}
	a := testAdapter(kv)

	err := a.Save(context.Background(), []models.Transaction{sample("a1", "Sam")})
	if !apperr.IsKind(err, apperr.StorageError) {
		t.Fatalf("expected StorageError, got %v", err)
	}
	if kv.stores != maxAttempts {
		t.Fatalf("stores = %d, want %d attempts", kv.stores, maxAttempts)
	}
}
