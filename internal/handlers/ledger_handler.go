package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/parkrowpm/ledger/internal/services"
)

// LedgerHandler exposes transaction posting, line edits and balance reads.
// Org scoping comes from the X-Org-ID header set by the gateway.
type LedgerHandler struct {
	ledger   *services.LedgerService
	balances *services.BalanceService
}

func NewLedgerHandler(ledger *services.LedgerService, balances *services.BalanceService) *LedgerHandler {
	return &LedgerHandler{ledger: ledger, balances: balances}
}

// orgFromRequest pulls the org scope off the request. Every route requires
// it; there is no cross-org read.
func orgFromRequest(w http.ResponseWriter, r *http.Request) (string, bool) {
	orgID := r.Header.Get("X-Org-ID")
	if orgID == "" {
		services.SendErrorResponse(w, "Missing X-Org-ID header", http.StatusBadRequest, nil)
		return "", false
	}
	return orgID, true
}

// writeServiceError maps the service error taxonomy onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		services.SendErrorResponse(w, err.Error(), http.StatusNotFound, nil)
	case services.IsConflict(err):
		services.SendErrorResponse(w, err.Error(), http.StatusConflict, nil)
	case errors.Is(err, services.ErrOverApplication), errors.Is(err, services.ErrCrossOrgViolation):
		services.SendErrorResponse(w, err.Error(), http.StatusUnprocessableEntity, nil)
	case errors.Is(err, services.ErrValidation):
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
	default:
		services.SendErrorResponse(w, "Internal server error", http.StatusInternalServerError, nil)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}
	return true
}

// asOfFromQuery reads an optional as_of date, defaulting to today.
func asOfFromQuery(r *http.Request) (time.Time, error) {
	raw := r.URL.Query().Get("as_of")
	if raw == "" {
		return time.Now(), nil
	}
	return time.Parse("2006-01-02", raw)
}

func (h *LedgerHandler) PostTransaction(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgFromRequest(w, r)
	if !ok {
		return
	}

	var req services.TransactionInput
	if !decodeBody(w, r, &req) {
		return
	}

	transactionID, err := h.ledger.PostTransaction(r.Context(), orgID, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"success":        true,
		"transaction_id": transactionID,
	})
}

func (h *LedgerHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgFromRequest(w, r)
	if !ok {
		return
	}

	transaction, lines, err := h.ledger.GetTransaction(r.Context(), orgID, chi.URLParam(r, "txId"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"transaction": transaction,
		"lines":       lines,
	})
}

func (h *LedgerHandler) UpdateLine(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgFromRequest(w, r)
	if !ok {
		return
	}

	var req services.LineUpdateInput
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.ledger.UpdateLine(r.Context(), orgID, chi.URLParam(r, "lineId"), req); err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"success": true})
}

func (h *LedgerHandler) DeleteLine(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgFromRequest(w, r)
	if !ok {
		return
	}

	if err := h.ledger.DeleteLine(r.Context(), orgID, chi.URLParam(r, "lineId")); err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"success": true})
}

func (h *LedgerHandler) GetBankBalance(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgFromRequest(w, r)
	if !ok {
		return
	}
	asOf, err := asOfFromQuery(r)
	if err != nil {
		services.SendErrorResponse(w, "Invalid as_of date, expected YYYY-MM-DD", http.StatusBadRequest, nil)
		return
	}

	balance, err := h.balances.ComputeBankBalance(r.Context(), orgID, chi.URLParam(r, "glAccountId"), asOf)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"gl_account_id": chi.URLParam(r, "glAccountId"),
		"balance":       balance.StringFixed(2),
		"as_of":         asOf.Format("2006-01-02"),
	})
}

func (h *LedgerHandler) GetPropertyFinancials(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgFromRequest(w, r)
	if !ok {
		return
	}
	asOf, err := asOfFromQuery(r)
	if err != nil {
		services.SendErrorResponse(w, "Invalid as_of date, expected YYYY-MM-DD", http.StatusBadRequest, nil)
		return
	}

	financials, err := h.balances.ComputePropertyFinancials(r.Context(), orgID, chi.URLParam(r, "propertyId"), asOf)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(financials)
}
