// Package registry implements the HTTP client for the external tool
// registry consumed by the tool configuration engine.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aviary-labs/voxadmin/toolcfg"
)

// GatewayError codes for non-2xx registry responses.
const (
	CodeNotFound             = "NOT_FOUND"
	CodeNetworkOrServerError = "NETWORK_OR_SERVER_ERROR"
)

// GatewayError is a structured registry failure. NotFound wraps
// toolcfg.ErrToolNotFound so callers can branch with errors.Is.
type GatewayError struct {
	Code    string `json:"code"`
	Status  int    `json:"status,omitempty"`
	Message string `json:"message"`
	cause   error
}

func (e *GatewayError) Error() string {
	if e == nil {
		return ""
	}
	if e.Status > 0 {
		return fmt.Sprintf("%s (HTTP %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *GatewayError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// ClientConfig configures a registry client.
type ClientConfig struct {
	// BaseURL is the registry root, e.g. "https://registry.example.com".
	BaseURL string
	// Tokens supplies bearer tokens. A fresh token is requested immediately
	// before every call; the client never caches or refreshes tokens.
	Tokens toolcfg.TokenSource
	// HTTPClient overrides the default client (30s timeout).
	HTTPClient *http.Client
}

// Client is the HTTP implementation of toolcfg.Gateway.
type Client struct {
	baseURL string
	tokens  toolcfg.TokenSource
	client  *http.Client
}

var _ toolcfg.Gateway = (*Client)(nil)

// NewClient creates a registry client.
func NewClient(cfg ClientConfig) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("registry: base URL is required")
	}
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("registry: token source is required")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: base, tokens: cfg.Tokens, client: client}, nil
}

// ListTools returns the registry entries owned by userID.
func (c *Client) ListTools(ctx context.Context, userID string) ([]toolcfg.ToolSummary, error) {
	var out []toolcfg.ToolSummary
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/tools/%s", userID), nil, &out)
	return out, err
}

// GetTool fetches one tool's full definition.
func (c *Client) GetTool(ctx context.Context, userID, toolID string) (toolcfg.ToolDocument, error) {
	var doc toolcfg.ToolDocument
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/tools/%s/%s", userID, toolID), nil, &doc)
	return doc, err
}

// CreateTool persists a new tool document and returns its assigned id.
func (c *Client) CreateTool(ctx context.Context, userID string, doc toolcfg.ToolDocument) (string, error) {
	body := map[string]any{
		"tool_config": doc,
		"user_id":     userID,
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/tools/create/", body, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// PatchTool partially updates an existing tool; the registry merges
// server-side, last writer wins.
func (c *Client) PatchTool(ctx context.Context, userID, toolID string, patch toolcfg.ToolPatch) error {
	body := map[string]any{"tool_config": patch}
	return c.do(ctx, http.MethodPatch, fmt.Sprintf("/tools/%s/%s", userID, toolID), body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("registry: fetch token: %w", err)
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("registry: encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("registry: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &GatewayError{
			Code:    CodeNetworkOrServerError,
			Message: err.Error(),
			cause:   err,
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &GatewayError{
			Code:    CodeNetworkOrServerError,
			Message: fmt.Sprintf("read response: %v", err),
			cause:   err,
		}
	}

	if resp.StatusCode == http.StatusNotFound {
		return &GatewayError{
			Code:    CodeNotFound,
			Status:  resp.StatusCode,
			Message: fmt.Sprintf("%s %s", method, path),
			cause:   toolcfg.ErrToolNotFound,
		}
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		message := strings.TrimSpace(string(respBody))
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return &GatewayError{
			Code:    CodeNetworkOrServerError,
			Status:  resp.StatusCode,
			Message: message,
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("registry: decode response: %w", err)
	}
	return nil
}

// StaticTokenSource returns a TokenSource that always yields token. Intended
// for CLI usage where the operator supplies a long-lived token.
func StaticTokenSource(token string) toolcfg.TokenSource {
	return staticToken(token)
}

type staticToken string

func (t staticToken) Token(_ context.Context) (string, error) {
	if t == "" {
		return "", fmt.Errorf("registry: empty token")
	}
	return string(t), nil
}
