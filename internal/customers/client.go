// Package customers exposes the customer service as an external
// collaborator. Only the lookup needed by account opening lives here; KYC
// and profile management stay in the customer service itself.
package customers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-bank/meridian/internal/shared"
)

// Customer is the subset of the customer record the account service needs.
type Customer struct {
	ID     uuid.UUID `json:"id"`
	Name   string    `json:"name"`
	Email  string    `json:"email"`
	Status string    `json:"status"`
}

// Directory resolves customer ids.
type Directory interface {
	GetCustomer(ctx context.Context, id uuid.UUID) (*Customer, error)
}

// Client calls the customer service over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient constructs a Client against the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// GetCustomer fetches a customer by id. A 404 maps to ErrCustomerNotFound.
func (c *Client) GetCustomer(ctx context.Context, id uuid.UUID) (*Customer, error) {
	url := fmt.Sprintf("%s/api/v1/customers/%s", c.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("customers: build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("customers: get %s: %w", id, shared.ErrTransientStorage)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, shared.ErrCustomerNotFound
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("customers: upstream %d: %w", resp.StatusCode, shared.ErrTransientStorage)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("customers: unexpected status %d", resp.StatusCode)
	}

	var cust Customer
	if err := json.NewDecoder(resp.Body).Decode(&cust); err != nil {
		return nil, fmt.Errorf("customers: decode: %w", err)
	}
	return &cust, nil
}
