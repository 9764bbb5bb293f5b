package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/parkrowpm/ledger/internal/models"
	"github.com/parkrowpm/ledger/internal/services"
)

// RestrictionHandler exposes payer payment-method restrictions.
type RestrictionHandler struct {
	restrictions *services.RestrictionService
}

func NewRestrictionHandler(restrictions *services.RestrictionService) *RestrictionHandler {
	return &RestrictionHandler{restrictions: restrictions}
}

func (h *RestrictionHandler) AddRestriction(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgFromRequest(w, r)
	if !ok {
		return
	}

	var req services.RestrictionInput
	if !decodeBody(w, r, &req) {
		return
	}

	restrictionID, err := h.restrictions.AddRestriction(r.Context(), orgID, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"success":        true,
		"restriction_id": restrictionID,
	})
}

func (h *RestrictionHandler) RemoveRestriction(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgFromRequest(w, r)
	if !ok {
		return
	}

	if err := h.restrictions.RemoveRestriction(r.Context(), orgID, chi.URLParam(r, "restrictionId")); err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"success": true})
}

func (h *RestrictionHandler) ListRestrictions(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgFromRequest(w, r)
	if !ok {
		return
	}

	restrictions, err := h.restrictions.Restrictions(r.Context(), orgID, chi.URLParam(r, "payerId"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success":      true,
		"restrictions": restrictions,
	})
}

// CheckRestriction answers whether the payer may use a payment method right
// now. Payment intake calls this before creating the transaction.
func (h *RestrictionHandler) CheckRestriction(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgFromRequest(w, r)
	if !ok {
		return
	}

	method, err := models.ParsePaymentMethod(r.URL.Query().Get("method"))
	if err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	restricted, err := h.restrictions.IsRestricted(r.Context(), orgID, chi.URLParam(r, "payerId"), method)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"payer_id":   chi.URLParam(r, "payerId"),
		"method":     string(method),
		"restricted": restricted,
	})
}
