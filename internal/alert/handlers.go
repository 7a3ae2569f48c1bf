package alert

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/giftwell/fulfillment/internal/types/alert"
	"github.com/go-chi/chi/v5"
)

type Repository interface {
	ListAlerts(ctx context.Context, unresolvedOnly bool) ([]alert.Alert, error)
	ResolveAlert(ctx context.Context, id string) error
}

type Handler struct {
	repo Repository
}

func NewHandler(repo Repository) *Handler {
	return &Handler{repo: repo}
}

// ListAlerts handles GET /api/admin/alerts[?unresolved=1].
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	unresolvedOnly := r.URL.Query().Get("unresolved") == "1"

	alerts, err := h.repo.ListAlerts(r.Context(), unresolvedOnly)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if len(alerts) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(alerts)
}

// ResolveAlert handles POST /api/admin/alerts/{alertID}/resolve.
func (h *Handler) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "alertID")
	err := h.repo.ResolveAlert(r.Context(), id)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, sql.ErrNoRows):
		http.Error(w, "alert not found", http.StatusNotFound)
	default:
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
