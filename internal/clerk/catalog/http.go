package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bitmerchant/clerk/common/trace"
)

const defaultTimeout = 10 * time.Second

// ClientConfig configures the HTTP catalog client.
type ClientConfig struct {
	// BaseURL is the catalog admin API root, e.g. "https://shop.example.com/admin/api".
	// Must not end with a trailing slash.
	BaseURL string
	// Token is the bearer token for the admin API.
	Token string
	// Timeout is the per-request HTTP timeout. Defaults to 10 s.
	Timeout time.Duration
}

// Client is an HTTP implementation of Service against a JSON admin API.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
}

// NewClient creates a catalog Client for the given admin API.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// itemsResponse is returned by GET /items.
type itemsResponse struct {
	Items []Item `json:"items"`
}

// errorResponse is returned by the admin API on errors.
type errorResponse struct {
	Error string `json:"error"`
}

// FindAll returns the full catalog snapshot.
func (c *Client) FindAll(ctx context.Context) ([]Item, error) {
	var resp itemsResponse
	if err := c.get(ctx, "/items", &resp); err != nil {
		return nil, fmt.Errorf("find all: %w", err)
	}
	return resp.Items, nil
}

// UpdateVariantPrice sets the price of one variant.
func (c *Client) UpdateVariantPrice(ctx context.Context, itemID, variantID string, price float64) error {
	body := map[string]any{"price": price}
	path := fmt.Sprintf("/items/%s/variants/%s/price", itemID, variantID)
	if err := c.put(ctx, path, body); err != nil {
		return fmt.Errorf("update variant price: %w", err)
	}
	return nil
}

// SetInventory sets the inventory of every variant of an item.
func (c *Client) SetInventory(ctx context.Context, itemID string, quantity int) error {
	body := map[string]any{"quantity": quantity}
	if err := c.put(ctx, fmt.Sprintf("/items/%s/inventory", itemID), body); err != nil {
		return fmt.Errorf("set inventory: %w", err)
	}
	return nil
}

// CreateItem creates a new listing.
func (c *Client) CreateItem(ctx context.Context, data CreateItemData) (*Item, error) {
	var created Item
	if err := c.post(ctx, "/items", data, &created); err != nil {
		return nil, fmt.Errorf("create item: %w", err)
	}
	return &created, nil
}

// DeleteItem permanently removes a listing.
func (c *Client) DeleteItem(ctx context.Context, itemID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.cfg.BaseURL+"/items/"+itemID, nil)
	if err != nil {
		return err
	}
	if err := c.do(req, nil); err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	return nil
}

// --- internal helpers ---

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.send(ctx, http.MethodPost, path, body, out)
}

func (c *Client) put(ctx context.Context, path string, body any) error {
	return c.send(ctx, http.MethodPut, path, body, nil)
}

func (c *Client) send(ctx context.Context, method, path string, body, out any) error {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bodyReader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

// do executes the request, mapping HTTP status codes onto the package's
// sentinel errors so callers can use errors.Is.
func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	if tid := trace.FromContext(req.Context()); tid != "" {
		req.Header.Set("X-Trace-ID", tid)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("catalog request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode >= 400:
		var apiErr errorResponse
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("catalog API error (HTTP %d): %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("catalog API error (HTTP %d)", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
