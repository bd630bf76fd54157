package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client calls the sandbox server's REST API to manage interpreter
// sessions and execute code in them.
type Client struct {
	httpClient *http.Client
	apiKey     string
}

// NewClient creates a sandbox HTTP client. The API key is sent as
// X-API-Key on every request; the server rejects requests without it
// when it was started with a key configured.
func NewClient(apiKey string) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 120 * time.Second, // Overall HTTP timeout (execution timeout is enforced by the sandbox).
		},
		apiKey: apiKey,
	}
}

// CreateInstance provisions a new interpreter session on the sandbox
// server and returns its handle.
func (c *Client) CreateInstance(ctx context.Context, baseURL string) (string, error) {
	respBody, err := c.do(ctx, http.MethodPost, baseURL+"/sessions", nil)
	if err != nil {
		return "", err
	}

	var created createResponse
	if err := json.Unmarshal(respBody, &created); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("sandbox returned an empty session id")
	}
	return created.ID, nil
}

// RunCode submits code to an existing session and returns the result.
func (c *Client) RunCode(ctx context.Context, baseURL, handle, code string, timeoutSeconds int) (*RunResponse, error) {
	body, err := json.Marshal(&RunRequest{Code: code, TimeoutSeconds: timeoutSeconds})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	respBody, err := c.do(ctx, http.MethodPost, baseURL+"/sessions/"+handle+"/execute", body)
	if err != nil {
		return nil, err
	}

	var runResp RunResponse
	if err := json.Unmarshal(respBody, &runResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &runResp, nil
}

// CloseInstance tears down a session. Closing an already-closed session
// is not an error.
func (c *Client) CloseInstance(ctx context.Context, baseURL, handle string) error {
	_, err := c.do(ctx, http.MethodDelete, baseURL+"/sessions/"+handle, nil)
	return err
}

// do performs one HTTP round trip and returns the response body, mapping
// non-2xx statuses to errors.
func (c *Client) do(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		httpReq.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sandbox request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("sandbox at capacity (HTTP 429)")
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("sandbox rejected the API key (HTTP 401)")
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("sandbox returned HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}
