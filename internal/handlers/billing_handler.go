package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/parkrowpm/ledger/internal/services"
)

// BillingHandler exposes bill applications.
type BillingHandler struct {
	bills *services.BillService
}

func NewBillingHandler(bills *services.BillService) *BillingHandler {
	return &BillingHandler{bills: bills}
}

func (h *BillingHandler) ApplyPayment(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgFromRequest(w, r)
	if !ok {
		return
	}

	var req services.ApplyInput
	if !decodeBody(w, r, &req) {
		return
	}

	applicationID, err := h.bills.ApplyPayment(r.Context(), orgID, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"success":        true,
		"application_id": applicationID,
	})
}

func (h *BillingHandler) UnapplyPayment(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgFromRequest(w, r)
	if !ok {
		return
	}

	if err := h.bills.UnapplyPayment(r.Context(), orgID, chi.URLParam(r, "applicationId")); err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"success": true})
}

func (h *BillingHandler) GetOutstanding(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgFromRequest(w, r)
	if !ok {
		return
	}

	billID := chi.URLParam(r, "billId")
	outstanding, err := h.bills.OutstandingAmount(r.Context(), orgID, billID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"bill_transaction_id": billID,
		"outstanding":         outstanding.StringFixed(2),
	})
}

func (h *BillingHandler) ListApplications(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgFromRequest(w, r)
	if !ok {
		return
	}

	apps, err := h.bills.ApplicationsForBill(r.Context(), orgID, chi.URLParam(r, "billId"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success":      true,
		"applications": apps,
	})
}
