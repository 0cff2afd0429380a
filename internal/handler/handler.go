package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/dkeeper/debt-ledger/internal/apperr"
	"github.com/dkeeper/debt-ledger/internal/config"
	"github.com/dkeeper/debt-ledger/internal/export"
	"github.com/dkeeper/debt-ledger/internal/models"
	"github.com/dkeeper/debt-ledger/internal/service"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// Handler adapts the engine's operation surface to HTTP.
type Handler struct {
	svc *service.Service
	cfg *config.Config
	log *logrus.Logger
}

// NewHandler initializes the HTTP handler layer.
func NewHandler(svc *service.Service, cfg *config.Config, log *logrus.Logger) *Handler {
	return &Handler{svc: svc, cfg: cfg, log: log}
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	// Mutations commit in memory before durability; surface a pending
	// persistence failure without blocking the response.
	if h.svc.LastSaveError() != nil {
		w.Header().Set("X-Storage-Warning", "last persistence write failed")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	e := apperr.Classify(err)
	status := http.StatusInternalServerError
	switch {
	case e.Code == apperr.CodeNotFound:
		status = http.StatusNotFound
	case e.Kind == apperr.ValidationError:
		status = http.StatusBadRequest
	case e.Kind == apperr.StorageError:
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, errorBody{Error: e.Message, Code: e.Code})
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Validation("", "invalid request body")
	}
	return nil
}

// Login exchanges the lock passcode for a session token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if h.cfg.PasscodeHash == "" {
		h.writeJSON(w, http.StatusOK, map[string]string{"token": ""})
		return
	}

	var req struct {
		Passcode string `json:"passcode"`
	}
	if err := decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(h.cfg.PasscodeHash), []byte(req.Passcode)); err != nil {
		h.writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid passcode"})
		return
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "owner",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
	})
	tokenString, err := token.SignedString([]byte(h.cfg.JWTSecret))
	if err != nil {
		h.writeError(w, apperr.Unknown("failed to generate token", err))
		return
	}

	h.log.Info("Ledger unlocked")
	h.writeJSON(w, http.StatusOK, map[string]string{"token": tokenString})
}

// ListTransactions returns the full ledger, most recent first.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.svc.Transactions())
}

// CreateTransaction adds a new debt record.
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var draft models.Draft
	if err := decode(r, &draft); err != nil {
		h.writeError(w, err)
		return
	}
	created, err := h.svc.AddTransaction(draft)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, created)
}

// UpdateTransaction merges partial fields into a record.
func (h *Handler) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	var fields models.Fields
	if err := decode(r, &fields); err != nil {
		h.writeError(w, err)
		return
	}
	updated, err := h.svc.UpdateTransaction(mux.Vars(r)["id"], fields)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, updated)
}

// DeleteTransaction removes a single record.
func (h *Handler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteTransaction(mux.Vars(r)["id"]); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusNoContent, nil)
}

// SettleTransaction marks a debt fully resolved.
func (h *Handler) SettleTransaction(w http.ResponseWriter, r *http.Request) {
	settled, err := h.svc.SettleTransaction(mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, settled)
}

// UnsettleTransaction reopens a settled debt.
func (h *Handler) UnsettleTransaction(w http.ResponseWriter, r *http.Request) {
	reopened, err := h.svc.UnsettleTransaction(mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, reopened)
}

// RecordPartialPayment books a repayment against a debt.
func (h *Handler) RecordPartialPayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount float64 `json:"amount"`
		Note   string  `json:"note"`
		Date   string  `json:"date"`
	}
	if err := decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	child, err := h.svc.RecordPartialPayment(mux.Vars(r)["id"], req.Amount, req.Note, req.Date)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, child)
}

// EditTransaction rewrites a parent's total and prunes payment history in
// one atomic operation.
func (h *Handler) EditTransaction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		models.Fields
		DeletedChildIDs []string `json:"deletedChildIds"`
	}
	if err := decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	updated, err := h.svc.EditTransaction(mux.Vars(r)["id"], req.Fields, req.DeletedChildIDs)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, updated)
}

// Totals returns the global outstanding balances.
func (h *Handler) Totals(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.svc.Totals())
}

// People returns per-counterparty net balances.
func (h *Handler) People(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.svc.GroupedByPerson())
}

// Export streams a read-only backup snapshot, JSON by default or XML when
// requested. Nothing from an export is ever read back into the engine.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	transactions := h.svc.Transactions()

	if r.URL.Query().Get("format") == "xml" {
		data, err := export.XML(transactions, time.Now())
		if err != nil {
			h.writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/xml")
		w.Write(data)
		return
	}

	data, err := export.JSON(transactions)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// Health reports liveness and the durability of the working set.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok", "storage": "ok"}
	if err := h.svc.LastSaveError(); err != nil {
		body["storage"] = "degraded"
		body["storage_error"] = err.Error()
	}
	h.writeJSON(w, http.StatusOK, body)
}
