// Package apiclient is the HTTP gateway the settlement controller uses to
// reach the account API.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/domain/account"
)

const maxErrorBody = 64 << 10

// APIError is a non-2xx response from the account API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("account api: status %d", e.Status)
	}
	return fmt.Sprintf("account api: status %d: %s", e.Status, e.Message)
}

// UserMessage is the server-supplied text shown to the cashier.
func (e *APIError) UserMessage() string { return e.Message }

type Client struct {
	baseURL string
	http    *http.Client
	token   string
	tenant  string
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithToken sends token as a bearer credential on every request.
func WithToken(token string) Option {
	return func(cl *Client) { cl.token = token }
}

// WithTenant selects the tenant schema via X-Tenant-ID.
func WithTenant(tenant string) Option {
	return func(cl *Client) { cl.tenant = tenant }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// FetchAccount loads the account, its line items and server-side totals.
func (c *Client) FetchAccount(ctx context.Context, id uuid.UUID) (*account.Details, error) {
	var d account.Details
	if err := c.do(ctx, http.MethodGet, "/api/v1/accounts/"+id.String(), nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// CloseAccount submits a settlement. The response body is not used.
func (c *Client) CloseAccount(ctx context.Context, id uuid.UUID, req account.CloseRequest) error {
	return c.do(ctx, http.MethodPost, "/api/v1/accounts/"+id.String()+"/close", req, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.tenant != "" {
		req.Header.Set("X-Tenant-ID", c.tenant)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// decodeError reads the {"message": ...} body echo writes for HTTP errors.
func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := &APIError{Status: resp.StatusCode}
	var body struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &body) == nil && body.Message != "" {
		apiErr.Message = body.Message
	} else if text := strings.TrimSpace(string(data)); text != "" && !strings.HasPrefix(text, "{") {
		apiErr.Message = text
	}
	return apiErr
}
