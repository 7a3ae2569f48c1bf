package autogift

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/giftwell/fulfillment/internal/types/autogift"
	"github.com/go-chi/chi/v5"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RecordSelection handles POST /api/autogift/executions.
func (h *Handler) RecordSelection(w http.ResponseWriter, r *http.Request) {
	var sel Selection
	if err := json.NewDecoder(r.Body).Decode(&sel); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	exec, err := h.svc.RecordSelection(r.Context(), sel)
	switch {
	case err == nil:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(exec)
	case errors.Is(err, ErrNoProducts):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// GetExecution handles GET /api/autogift/executions/{executionID}.
func (h *Handler) GetExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "executionID")
	exec, err := h.svc.GetExecution(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrExecutionNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(exec)
}

// Approve handles POST /api/autogift/approvals/{token}. The token itself is
// the credential; no other auth applies.
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.svc.Approve)
}

// Reject handles POST /api/autogift/rejections/{token}.
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.svc.Reject)
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, token string) (*autogift.AutoGiftExecution, error)) {
	token := chi.URLParam(r, "token")
	exec, err := fn(r.Context(), token)
	switch {
	case err == nil:
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(exec)
	case errors.Is(err, ErrTokenNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrTokenConsumed), errors.Is(err, ErrAlreadyDecided):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
