package fulfillment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/giftwell/fulfillment/internal/types/order"
)

type OrderRequest struct {
	IdempotencyKey string        `json:"idempotency_key"`
	OrderNumber    string        `json:"order_number"`
	Items          []RequestItem `json:"items"`
	MaxPrice       float64       `json:"max_price"`
	Currency       string        `json:"currency"`
}

type RequestItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type OrderResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
}

type VendorClient interface {
	CreateOrder(ctx context.Context, req *OrderRequest) (*OrderResponse, error)
	GetOrder(ctx context.Context, requestID string) (*OrderResponse, error)
}

// VendorError is a vendor-side rejection (bad address, out of stock, account
// issue). Distinct from transport errors so the submitter can tell a rejected
// order from an unreachable vendor.
type VendorError struct {
	Code    string
	Message string
}

func (e *VendorError) Error() string {
	return fmt.Sprintf("vendor rejected order: %s (%s)", e.Message, e.Code)
}

// HTTPVendorClient talks to the fulfillment vendor's REST API. The
// idempotency key on every create request is the order id, so a retried
// create after a crash cannot double-purchase.
type HTTPVendorClient struct {
	Client  *http.Client
	Address string
	Token   string
}

func (c *HTTPVendorClient) CreateOrder(ctx context.Context, r *OrderRequest) (*OrderResponse, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/orders", c.Address)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", r.IdempotencyKey)
	req.SetBasicAuth(c.Token, "")

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	var or OrderResponse
	if err := json.NewDecoder(resp.Body).Decode(&or); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		return &or, nil
	case http.StatusBadRequest, http.StatusUnprocessableEntity, http.StatusConflict:
		return nil, &VendorError{Code: or.Code, Message: or.Message}
	default:
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
}

func (c *HTTPVendorClient) GetOrder(ctx context.Context, requestID string) (*OrderResponse, error) {
	url := fmt.Sprintf("%s/v1/orders/%s", c.Address, requestID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(c.Token, "")

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("vendor order %s not found", requestID)
	default:
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var or OrderResponse
	if err := json.NewDecoder(resp.Body).Decode(&or); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	return &or, nil
}

func buildRequest(o *order.Order, items []order.OrderItem) *OrderRequest {
	req := &OrderRequest{
		IdempotencyKey: o.ID,
		OrderNumber:    o.Number,
		MaxPrice:       o.Total,
		Currency:       o.Currency,
	}
	for _, it := range items {
		req.Items = append(req.Items, RequestItem{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return req
}
