// Package broker is the HTTP client for the external passport broker, the
// canonical registry of visas and issued passports.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"lakegate.org/internal/fault"
	"lakegate.org/internal/visa"
)

const basePath = "/admin/ga4gh/passport/v1"

// Client talks JSON over HTTP to one broker endpoint.
type Client struct {
	baseURL string
	http    *http.Client
}

var _ visa.Broker = (*Client)(nil)

// New creates a client with a default request timeout.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+basePath+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("broker: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fault.NotFound("broker: %s not found", path)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("broker: %s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("broker: decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) CreateVisa(ctx context.Context, v visa.Visa) error {
	return c.do(ctx, http.MethodPost, "/visas", v, nil)
}

func (c *Client) GetVisa(ctx context.Context, id string) (visa.Visa, error) {
	var v visa.Visa
	if err := c.do(ctx, http.MethodGet, "/visas/"+id, nil, &v); err != nil {
		return visa.Visa{}, err
	}
	return v, nil
}

func (c *Client) ListVisas(ctx context.Context) ([]visa.Visa, error) {
	var out []visa.Visa
	if err := c.do(ctx, http.MethodGet, "/visas", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) UpdateVisa(ctx context.Context, v visa.Visa) (visa.Visa, error) {
	var out visa.Visa
	if err := c.do(ctx, http.MethodPut, "/visas/"+v.ID, v, &out); err != nil {
		return visa.Visa{}, err
	}
	return out, nil
}

func (c *Client) DeleteVisa(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/visas/"+id, nil, nil)
}

func (c *Client) RegisterUser(ctx context.Context, userID string) error {
	return c.do(ctx, http.MethodPost, "/users", map[string]string{"id": userID}, nil)
}

// PutPassport replaces the user's full assertion set at the broker.
func (c *Client) PutPassport(ctx context.Context, userID string, assertions []visa.Assertion) error {
	if assertions == nil {
		assertions = []visa.Assertion{}
	}
	payload := map[string]any{
		"id":                     userID,
		"passportVisaAssertions": assertions,
	}
	return c.do(ctx, http.MethodPut, "/users/"+userID, payload, nil)
}

func (c *Client) RemoveUser(ctx context.Context, userID string) error {
	return c.do(ctx, http.MethodDelete, "/users/"+userID, nil, nil)
}
