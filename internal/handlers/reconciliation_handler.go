package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/parkrowpm/ledger/internal/services"
)

// ReconciliationHandler exposes external statement sync and the mirrored
// reconciliation log.
type ReconciliationHandler struct {
	reconciliations *services.ReconciliationService
	repair          *services.RepairService
}

func NewReconciliationHandler(reconciliations *services.ReconciliationService, repair *services.RepairService) *ReconciliationHandler {
	return &ReconciliationHandler{reconciliations: reconciliations, repair: repair}
}

func (h *ReconciliationHandler) Sync(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgFromRequest(w, r)
	if !ok {
		return
	}

	summary, err := h.reconciliations.SyncReconciliations(r.Context(), orgID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summary)
}

func (h *ReconciliationHandler) ListLogs(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgFromRequest(w, r)
	if !ok {
		return
	}

	logs, err := h.reconciliations.Logs(r.Context(), orgID, chi.URLParam(r, "glAccountId"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success":         true,
		"reconciliations": logs,
	})
}

// RunRepair scans for transactions missing their bank line. Pass apply=true
// to write the synthesized lines; the default is a dry run.
func (h *ReconciliationHandler) RunRepair(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgFromRequest(w, r)
	if !ok {
		return
	}

	apply := r.URL.Query().Get("apply") == "true"
	summary, err := h.repair.Repair(r.Context(), orgID, apply)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summary)
}

func (h *ReconciliationHandler) ListRepairCandidates(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgFromRequest(w, r)
	if !ok {
		return
	}

	candidates, err := h.repair.FindCandidates(r.Context(), orgID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success":    true,
		"candidates": candidates,
	})
}
