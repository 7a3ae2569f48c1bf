package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Payment intent statuses consumed from the processor.
const (
	IntentSucceeded            = "succeeded"
	IntentRequiresConfirmation = "requires_confirmation"
	IntentRequiresAction       = "requires_action"
	IntentCanceled             = "canceled"
)

type Intent struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type Client interface {
	GetPaymentIntent(ctx context.Context, id string) (*Intent, error)
}

// HTTPClient reads payment intent status from the processor's REST API.
type HTTPClient struct {
	Client  *http.Client
	Address string
	APIKey  string
}

func (c *HTTPClient) GetPaymentIntent(ctx context.Context, id string) (*Intent, error) {
	url := fmt.Sprintf("%s/v1/payment_intents/%s", c.Address, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("payment intent %s not found", id)
	default:
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var in Intent
	if err := json.NewDecoder(resp.Body).Decode(&in); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	return &in, nil
}
