package chiefkeeper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the chief keeper operational API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// LeaderRecord mirrors the keeper's cached view of the approval-vote leader.
type LeaderRecord struct {
	Address string `json:"address"`
	Eta     uint64 `json:"eta"`
	Done    bool   `json:"done"`
}

// Status is the response of the /api/v1/status endpoint.
type Status struct {
	Network          string       `json:"network"`
	Running          bool         `json:"running"`
	LastBlockChecked uint64       `json:"last_block_checked"`
	Leader           LeaderRecord `json:"leader"`
	Errors           int          `json:"errors"`
	MaxErrors        int          `json:"max_errors"`
}

// APIError represents server side errors.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("chiefkeeper api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the keeper daemon API. When httpClient
// is nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// GetStatus fetches the keeper's current status snapshot.
func (c *Client) GetStatus(ctx context.Context) (Status, error) {
	var status Status
	if err := c.get(ctx, "/api/v1/status", &status); err != nil {
		return Status{}, err
	}
	return status, nil
}

// Healthy reports whether the daemon considers itself live.
func (c *Client) Healthy(ctx context.Context) (bool, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/healthz")
	if err != nil {
		return false, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK, nil
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(bytes.TrimSpace(data)),
		}
	}

	if out == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
