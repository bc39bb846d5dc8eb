package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

var ErrInvalidClientConfig = errors.New("httpapi: invalid client config")

// APIError is a non-2xx response. Code is ErrorResponse.Error, or the HTTP status text when
// the body carried none.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("httpapi: status %d: %s", e.Status, e.Code)
	}
	return fmt.Sprintf("httpapi: status %d: %s: %s", e.Status, e.Code, e.Message)
}

type ClientOption func(*Client) error

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) error {
		if hc == nil {
			return fmt.Errorf("%w: nil http client", ErrInvalidClientConfig)
		}
		c.hc = hc
		return nil
	}
}

func WithMaxResponseBytes(n int64) ClientOption {
	return func(c *Client) error {
		if n <= 0 {
			return fmt.Errorf("%w: max response bytes must be > 0", ErrInvalidClientConfig)
		}
		c.maxRespBytes = n
		return nil
	}
}

type Client struct {
	baseURL      *url.URL
	authToken    string
	hc           *http.Client
	maxRespBytes int64
}

func NewClient(baseURL string, authToken string, opts ...ClientOption) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("%w: missing base url", ErrInvalidClientConfig)
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse base url: %v", ErrInvalidClientConfig, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidClientConfig, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidClientConfig)
	}

	c := &Client{
		baseURL:      u,
		authToken:    authToken,
		hc:           &http.Client{Timeout: 10 * time.Minute},
		maxRespBytes: 4 << 20,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Client) State(ctx context.Context) (StateResponse, error) {
	var out StateResponse
	err := c.do(ctx, http.MethodGet, "/v1/state", nil, &out)
	return out, err
}

func (c *Client) Connect(ctx context.Context) (StateResponse, error) {
	var out StateResponse
	err := c.do(ctx, http.MethodPost, "/v1/connect", nil, &out)
	return out, err
}

func (c *Client) SetForm(ctx context.Context, f Form) (StateResponse, error) {
	var out StateResponse
	err := c.do(ctx, http.MethodPut, "/v1/form", f, &out)
	return out, err
}

func (c *Client) SetField(ctx context.Context, field, value string) (StateResponse, error) {
	var out StateResponse
	err := c.do(ctx, http.MethodPatch, "/v1/form/"+url.PathEscape(field), FieldRequest{Value: value}, &out)
	return out, err
}

func (c *Client) Send(ctx context.Context) (SubmissionResponse, error) {
	var out SubmissionResponse
	err := c.do(ctx, http.MethodPost, "/v1/send", nil, &out)
	return out, err
}

func (c *Client) Transactions(ctx context.Context) (TransactionsResponse, error) {
	var out TransactionsResponse
	err := c.do(ctx, http.MethodGet, "/v1/transactions", nil, &out)
	return out, err
}

func (c *Client) Alerts(ctx context.Context) (AlertsResponse, error) {
	var out AlertsResponse
	err := c.do(ctx, http.MethodGet, "/v1/alerts", nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, suffix string, in, out any) error {
	if c == nil || c.baseURL == nil || c.hc == nil {
		return fmt.Errorf("%w: nil client", ErrInvalidClientConfig)
	}

	u := *c.baseURL
	u.Path = joinPath(u.Path, suffix)

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("httpapi: marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	r, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("httpapi: build request: %w", err)
	}
	if in != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	r.Header.Set("Accept", "application/json")
	if c.authToken != "" {
		r.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.hc.Do(r)
	if err != nil {
		return fmt.Errorf("httpapi: http do: %w", err)
	}
	defer resp.Body.Close()

	b, err := readAllLimited(resp.Body, c.maxRespBytes)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{Status: resp.StatusCode, Code: http.StatusText(resp.StatusCode)}
		var er ErrorResponse
		if json.Unmarshal(b, &er) == nil && er.Error != "" {
			apiErr.Code = er.Error
			apiErr.Message = er.Message
		} else if msg := strings.TrimSpace(string(b)); msg != "" {
			apiErr.Message = msg
		}
		return apiErr
	}

	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("httpapi: unmarshal response: %w", err)
	}
	return nil
}

func joinPath(basePath string, suffix string) string {
	// path.Join cleans up redundant slashes, but preserves a leading slash.
	if basePath == "" {
		basePath = "/"
	}
	return path.Join(basePath, suffix)
}

func readAllLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("httpapi: read response: %w", err)
	}
	if int64(len(b)) > maxBytes {
		return nil, fmt.Errorf("httpapi: response too large")
	}
	return b, nil
}
