package orchestrator

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/giftwell/fulfillment/internal/types/signal"
	"github.com/go-chi/chi/v5"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type triggerResponse struct {
	Success    bool   `json:"success"`
	Processed  bool   `json:"processed,omitempty"`
	Status     string `json:"status,omitempty"`
	ZincStatus string `json:"zincStatus,omitempty"`
	Error      string `json:"error,omitempty"`
}

type stripeEvent struct {
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID       string            `json:"id"`
			Metadata map[string]string `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

// StripeWebhook is the primary trigger adapter. Only payment_intent events
// carrying an order id are driven into the pipeline; everything else is
// acknowledged and dropped so the processor stops redelivering.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	var ev stripeEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	if ev.Type != "payment_intent.succeeded" {
		w.WriteHeader(http.StatusOK)
		return
	}
	orderID := ev.Data.Object.Metadata["order_id"]
	if orderID == "" {
		http.Error(w, "missing order_id metadata", http.StatusBadRequest)
		return
	}

	res, err := h.svc.Handle(r.Context(), orderID, signal.SourceStripeWebhook, map[string]any{
		"event":          ev.Type,
		"payment_intent": ev.Data.Object.ID,
	})
	writeTriggerResponse(w, res, err)
}

// ProcessOrder is the client-poll adapter: the success page polls this while
// waiting for the webhook, and picks up the order if the webhook never lands.
func (h *Handler) ProcessOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	res, err := h.svc.Handle(r.Context(), orderID, signal.SourceClientPoll, nil)
	writeTriggerResponse(w, res, err)
}

func (h *Handler) OrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	o, err := h.svc.getOrder(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			http.Error(w, "order not found", http.StatusNotFound)
			return
		}
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(o)
}

func writeTriggerResponse(w http.ResponseWriter, res *Result, err error) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case err == nil:
		json.NewEncoder(w).Encode(triggerResponse{
			Success:    true,
			Processed:  res.Processed,
			Status:     string(res.Status),
			ZincStatus: res.ZincStatus,
		})
	case errors.Is(err, ErrOrderNotFound):
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(triggerResponse{Success: false, Error: err.Error()})
	case errors.Is(err, ErrUnknownTrigger):
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(triggerResponse{Success: false, Error: err.Error()})
	default:
		// Customer-facing surfaces never see raw vendor/payment error text.
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(triggerResponse{Success: false, Error: "order processing failed"})
	}
}
