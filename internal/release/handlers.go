package release

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	svc *Releaser
}

func NewHandler(svc *Releaser) *Handler {
	return &Handler{svc: svc}
}

type updateDateRequest struct {
	ScheduledDeliveryDate time.Time `json:"scheduled_delivery_date"`
}

// UpdateOrderDate handles PATCH /api/admin/orders/{orderID}/schedule.
func (h *Handler) UpdateOrderDate(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	var req updateDateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ScheduledDeliveryDate.IsZero() {
		http.Error(w, "invalid scheduled_delivery_date", http.StatusBadRequest)
		return
	}

	err := h.svc.UpdateOrderDate(r.Context(), orderID, req.ScheduledDeliveryDate)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, ErrOrderNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
