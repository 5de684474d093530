// Package api talks to the purchase analytics backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/verte-zerg/panier/internal/model"
)

// DefaultBaseURL is the backend the dashboard was built against.
const DefaultBaseURL = "https://gl-yrae-backend-24c518b70d2a.herokuapp.com"

// Endpoint paths.
const (
	TokenPath        = "/token/"
	TokenRefreshPath = "/token/refresh/"
	HomePath         = "/home/"
	TransactionsPath = "/combinedviewsets/"
)

// StatusError reports a non-2xx response.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Status string
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("request %s %s failed: %s (%s)", e.Method, e.Path, e.Status, e.Body)
	}
	return fmt.Sprintf("request %s %s failed: %s", e.Method, e.Path, e.Status)
}

// IsUnauthorized reports whether err is a 401 or 403 response.
func IsUnauthorized(err error) bool {
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		return false
	}
	return statusErr.Code == http.StatusUnauthorized || statusErr.Code == http.StatusForbidden
}

// Tokens is the token pair issued on login.
type Tokens struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// Config configures a Client.
type Config struct {
	BaseURL string
	// Timeout bounds every request. Zero means no timeout.
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client is an HTTP client for the backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New returns a Client for cfg.
func New(cfg Config) *Client {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = DefaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(base, "/"),
		httpClient: httpClient,
	}
}

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Login exchanges a username and password for a token pair.
func (c *Client) Login(ctx context.Context, username, password string) (Tokens, error) {
	payload := map[string]string{"username": username, "password": password}
	var tokens Tokens
	if err := c.postJSON(ctx, TokenPath, "", payload, &tokens); err != nil {
		return Tokens{}, err
	}
	if tokens.Access == "" {
		return Tokens{}, fmt.Errorf("login response carried no access token")
	}
	return tokens, nil
}

// Refresh posts the refresh token and returns the new access token.
func (c *Client) Refresh(ctx context.Context, refresh string) (string, error) {
	var out struct {
		Access string `json:"access"`
	}
	if err := c.postJSON(ctx, TokenRefreshPath, "", map[string]string{"refresh": refresh}, &out); err != nil {
		return "", err
	}
	return out.Access, nil
}

// Ping checks that token is accepted by the backend.
func (c *Client) Ping(ctx context.Context, token string) error {
	resp, err := c.do(ctx, http.MethodGet, c.baseURL+HomePath, token, nil)
	if err != nil {
		return err
	}
	defer closeBody(resp)
	_, err = io.Copy(io.Discard, resp.Body)
	return err
}

// FetchTransactions returns the raw purchase records matching params.
// Paginated responses are followed through their next links.
func (c *Client) FetchTransactions(ctx context.Context, token string, params url.Values) ([]model.RawFields, error) {
	target := c.baseURL + TransactionsPath
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	var records []model.RawFields
	// A next link back to a fetched page ends the walk.
	seen := make(map[string]struct{})
	for target != "" {
		if _, ok := seen[target]; ok {
			break
		}
		seen[target] = struct{}{}
		page, next, err := c.fetchPage(ctx, token, target)
		if err != nil {
			return nil, err
		}
		records = append(records, page...)
		target = next
	}
	return records, nil
}

type paginated struct {
	Next    *string           `json:"next"`
	Results []model.RawFields `json:"results"`
}

func (c *Client) fetchPage(ctx context.Context, token, target string) ([]model.RawFields, string, error) {
	resp, err := c.do(ctx, http.MethodGet, target, token, nil)
	if err != nil {
		return nil, "", err
	}
	defer closeBody(resp)

	var body json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, "", fmt.Errorf("decode %s: %w", TransactionsPath, err)
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var records []model.RawFields
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, "", fmt.Errorf("decode %s: %w", TransactionsPath, err)
		}
		return records, "", nil
	}

	var page paginated
	if err := json.Unmarshal(trimmed, &page); err != nil {
		return nil, "", fmt.Errorf("decode %s: %w", TransactionsPath, err)
	}
	next := ""
	if page.Next != nil {
		next = *page.Next
	}
	return page.Results, next, nil
}

func (c *Client) postJSON(ctx context.Context, path, token string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, http.MethodPost, c.baseURL+path, token, bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer closeBody(resp)

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, target, token string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer closeBody(resp)

	statusErr := &StatusError{
		Method: method,
		Path:   pathOf(target),
		Code:   resp.StatusCode,
		Status: resp.Status,
	}
	data, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if readErr != nil {
		return nil, fmt.Errorf("%w (read body: %v)", statusErr, readErr)
	}
	statusErr.Body = strings.TrimSpace(string(data))
	return nil, statusErr
}

func pathOf(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	return u.Path
}

func closeBody(resp *http.Response) {
	if cerr := resp.Body.Close(); cerr != nil {
		// Best-effort body close.
		_ = cerr
	}
}
