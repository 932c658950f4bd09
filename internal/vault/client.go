// Package vault provides a thin client for the external secret store. A
// stored API key is exchanged for an opaque token on write; the token is the
// only credential reference the primary database ever holds.
package vault

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rdeshpande/chat-gateway/internal/domain"
)

// Secret is the payload stored under a vault token.
type Secret struct {
	APIKey  string `json:"apiKey"`
	BaseURL string `json:"baseURL,omitempty"`
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// Client is an HTTP client for the vault's key-value data API.
type Client struct {
	hostURL    string
	product    string
	readKey    string
	writeKey   string
	httpClient *http.Client
}

// NewClient creates a new vault client. The read and write API keys authorize
// the corresponding vault operations.
func NewClient(hostURL, product, readKey, writeKey string, opts ...ClientOption) *Client {
	c := &Client{
		hostURL:    strings.TrimSuffix(hostURL, "/"),
		product:    product,
		readKey:    readKey,
		writeKey:   writeKey,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) dataURL(tenant, token string) string {
	u := fmt.Sprintf("%s/v1/vault/%s/%s/data", c.hostURL, url.PathEscape(tenant), url.PathEscape(c.product))
	if token != "" {
		u += "?token=" + url.QueryEscape(token)
	}
	return u
}

// Store writes a secret and returns the opaque token that references it.
func (c *Client) Store(ctx context.Context, tenant string, secret Secret) (string, error) {
	body, err := json.Marshal(secret)
	if err != nil {
		return "", fmt.Errorf("failed to marshal secret: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.dataURL(tenant, ""), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req, c.writeKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("vault write failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read vault response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", vaultError(resp.StatusCode, respBody)
	}

	var result struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("failed to unmarshal vault response: %w", err)
	}
	if result.Token == "" {
		return "", domain.ErrInternal("vault returned no token")
	}
	return result.Token, nil
}

// Retrieve exchanges a token for the stored secret. A token the vault does
// not know yields a not-found error.
func (c *Client) Retrieve(ctx context.Context, tenant, token string) (Secret, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.dataURL(tenant, token), nil)
	if err != nil {
		return Secret{}, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req, c.readKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Secret{}, fmt.Errorf("vault read failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Secret{}, fmt.Errorf("failed to read vault response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return Secret{}, domain.ErrNotFound("config not found in vault")
	}
	if resp.StatusCode != http.StatusOK {
		return Secret{}, vaultError(resp.StatusCode, respBody)
	}

	// The vault keys its response by token; each record wraps the secret as
	// a JSON-encoded string under "data".
	var result map[string]struct {
		Data string `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return Secret{}, fmt.Errorf("failed to unmarshal vault response: %w", err)
	}
	record, ok := result[token]
	if !ok {
		return Secret{}, domain.ErrNotFound("config not found in vault")
	}

	var secret Secret
	if err := json.Unmarshal([]byte(record.Data), &secret); err != nil {
		return Secret{}, fmt.Errorf("failed to decode vault secret: %w", err)
	}
	return secret, nil
}

// Update overwrites the secret referenced by a token.
func (c *Client) Update(ctx context.Context, tenant, token string, secret Secret) error {
	body, err := json.Marshal(secret)
	if err != nil {
		return fmt.Errorf("failed to marshal secret: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.dataURL(tenant, token), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req, c.writeKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("vault update failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusNotFound {
		return domain.ErrNotFound("config not found in vault")
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return vaultError(resp.StatusCode, respBody)
	}
	return nil
}

// Delete removes the secret referenced by a token. Deleting an unknown token
// is not an error; the caller may already hold a dangling reference.
func (c *Client) Delete(ctx context.Context, tenant, token string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.dataURL(tenant, token), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req, c.writeKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("vault delete failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
		return vaultError(resp.StatusCode, respBody)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request, apiKey string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "api-key "+apiKey)
}

func vaultError(status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(status)
	}
	return domain.ErrInternal(fmt.Sprintf("vault error (status %d): %s", status, msg))
}
