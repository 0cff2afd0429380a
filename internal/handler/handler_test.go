package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dkeeper/debt-ledger/internal/config"
	"github.com/dkeeper/debt-ledger/internal/ledger"
	"github.com/dkeeper/debt-ledger/internal/middleware"
	"github.com/dkeeper/debt-ledger/internal/models"
	"github.com/dkeeper/debt-ledger/internal/service"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

type noopSaver struct{}

func (noopSaver) Save(context.Context, []models.Transaction) error { return nil }

func newTestRouter(t *testing.T, cfg *config.Config) *mux.Router {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	store := ledger.NewStore(nil, noopSaver{}, log, nil)
	t.Cleanup(store.Close)
	h := NewHandler(service.NewService(store, log), cfg, log)

	r := mux.NewRouter()
	r.HandleFunc("/login", h.Login).Methods("POST")
	r.HandleFunc("/health", h.Health).Methods("GET")
	authRouter := r.PathPrefix("/").Subrouter()
	authRouter.Use(middleware.AuthMiddleware(cfg))
	authRouter.HandleFunc("/transactions", h.ListTransactions).Methods("GET")
	authRouter.HandleFunc("/transactions", h.CreateTransaction).Methods("POST")
	authRouter.HandleFunc("/transactions/{id}", h.UpdateTransaction).Methods("PATCH")
	authRouter.HandleFunc("/transactions/{id}", h.DeleteTransaction).Methods("DELETE")
	authRouter.HandleFunc("/transactions/{id}/settle", h.SettleTransaction).Methods("POST")
	authRouter.HandleFunc("/transactions/{id}/payments", h.RecordPartialPayment).Methods("POST")
	authRouter.HandleFunc("/totals", h.Totals).Methods("GET")
	authRouter.HandleFunc("/export", h.Export).Methods("GET")
	return r
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func TestTransactionLifecycleOverHTTP(t *testing.T) {
	r := newTestRouter(t, &config.Config{})

	rr := doJSON(t, r, http.MethodPost, "/transactions", models.Draft{
		Name:   "Sam",
		Amount: 100,
		Date:   "2024-03-01T00:00:00Z",
		Type:   models.TypeOwed,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rr.Code, rr.Body.String())
	}
	var created models.Transaction
	json.Unmarshal(rr.Body.Bytes(), &created)

	rr = doJSON(t, r, http.MethodPost, fmt.Sprintf("/transactions/%s/payments", created.ID), map[string]any{
		"amount": 40.0,
		"note":   "lunch",
		"date":   "2024-03-02T00:00:00Z",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("payment status = %d, body %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, r, http.MethodGet, "/totals", nil)
	var totals models.Totals
	json.Unmarshal(rr.Body.Bytes(), &totals)
	if totals.TotalOwed != 60 {
		t.Fatalf("TotalOwed = %.2f, want 60", totals.TotalOwed)
	}

	rr = doJSON(t, r, http.MethodPost, fmt.Sprintf("/transactions/%s/settle", created.ID), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("settle status = %d", rr.Code)
	}

	rr = doJSON(t, r, http.MethodGet, "/transactions", nil)
	var list []models.Transaction
	json.Unmarshal(rr.Body.Bytes(), &list)
	if len(list) != 2 {
		t.Fatalf("ledger has %d records, want 2 (parent + payment)", len(list))
	}
}

func TestErrorStatusMapping(t *testing.T) {
	r := newTestRouter(t, &config.Config{})

	rr := doJSON(t, r, http.MethodPost, "/transactions/missing/settle", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("missing id: status = %d, want 404", rr.Code)
	}
	var body struct {
		Code string `json:"code"`
	}
	json.Unmarshal(rr.Body.Bytes(), &body)
	if body.Code != "NOT_FOUND" {
		t.Fatalf("code = %q, want NOT_FOUND", body.Code)
	}

	rr = doJSON(t, r, http.MethodPost, "/transactions", models.Draft{
		Name:   "",
		Amount: 10,
		Date:   "2024-03-01T00:00:00Z",
		Type:   models.TypeOwed,
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("invalid draft: status = %d, want 400", rr.Code)
	}
}

func TestLockGate(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("1234"), bcrypt.DefaultCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	cfg := &config.Config{JWTSecret: "test-secret", PasscodeHash: string(hash)}
	r := newTestRouter(t, cfg)

	if rr := doJSON(t, r, http.MethodGet, "/transactions", nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated read: status = %d, want 401", rr.Code)
	}

	if rr := doJSON(t, r, http.MethodPost, "/login", map[string]string{"passcode": "9999"}); rr.Code != http.StatusUnauthorized {
		t.Fatalf("wrong passcode: status = %d, want 401", rr.Code)
	}

	rr := doJSON(t, r, http.MethodPost, "/login", map[string]string{"passcode": "1234"})
	if rr.Code != http.StatusOK {
		t.Fatalf("login status = %d", rr.Code)
	}
	var login struct {
		Token string `json:"token"`
	}
	json.Unmarshal(rr.Body.Bytes(), &login)

	req := httptest.NewRequest(http.MethodGet, "/transactions", nil)
	req.Header.Set("Authorization", "Bearer "+login.Token)
	res := httptest.NewRecorder()
	r.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("authenticated read: status = %d, want 200", res.Code)
	}

	// Health stays reachable while locked.
	if rr := doJSON(t, r, http.MethodGet, "/health", nil); rr.Code != http.StatusOK {
		t.Fatalf("health status = %d, want 200", rr.Code)
	}
}

func TestExportFormats(t *testing.T) {
	r := newTestRouter(t, &config.Config{})
	doJSON(t, r, http.MethodPost, "/transactions", models.Draft{
		Name:   "Sam",
		Amount: 100,
		Date:   "2024-03-01T00:00:00Z",
		Type:   models.TypeOwed,
	})

	rr := doJSON(t, r, http.MethodGet, "/export", nil)
	if rr.Code != http.StatusOK || rr.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("json export: status %d, content-type %s", rr.Code, rr.Header().Get("Content-Type"))
	}
	var records []models.Transaction
	if err := json.Unmarshal(rr.Body.Bytes(), &records); err != nil || len(records) != 1 {
		t.Fatalf("json export malformed: %v, %d records", err, len(records))
	}

	rr = doJSON(t, r, http.MethodGet, "/export?format=xml", nil)
	if rr.Code != http.StatusOK || rr.Header().Get("Content-Type") != "application/xml" {
		t.Fatalf("xml export: status %d, content-type %s", rr.Code, rr.Header().Get("Content-Type"))
	}
	if !bytes.Contains(rr.Body.Bytes(), []byte("<ledger")) {
		t.Fatal("xml export missing ledger root")
	}
}
