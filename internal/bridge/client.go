package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxResponseSize caps how much of a remote response is read (10MB).
const maxResponseSize = 10 << 20

// InvokeRequest is the JSON body of POST /api/invoke/{command}.
type InvokeRequest struct {
	Args json.RawMessage `json:"args,omitempty"`
}

// InvokeResponse is the JSON body returned by the invoke endpoint.
type InvokeResponse struct {
	HTML  string `json:"html,omitempty"`
	Error string `json:"error,omitempty"`
}

// HTTPClient invokes commands on a running server.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a remote invoker for the server at baseURL.
func NewHTTPClient(baseURL string, timeout time.Duration) (*HTTPClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server address %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid server address %q: scheme must be http or https", baseURL)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// Invoke POSTs the command to the server and returns the fragment.
func (c *HTTPClient) Invoke(ctx context.Context, command string, args json.RawMessage) (string, error) {
	body, err := json.Marshal(InvokeRequest{Args: args})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	endpoint := c.baseURL + "/api/invoke/" + url.PathEscape(command)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("invoke %s: %w", command, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var out InvokeResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("invoke %s: HTTP %d: malformed response", command, resp.StatusCode)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", &UnknownCommandError{Command: command}
	case resp.StatusCode >= 400 || out.Error != "":
		msg := out.Error
		if msg == "" {
			msg = resp.Status
		}
		return "", &RemoteError{Command: command, StatusCode: resp.StatusCode, Message: msg}
	}
	return out.HTML, nil
}
