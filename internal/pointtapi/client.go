// Package pointtapi provides an HTTP client for the Bosch POINTTAPI
// resource tree of a single gateway. The tree is addressed by path
// ("/zones/zn1/temperatureActual"); every node is a small JSON document.
//
// The client performs one attempt per call. Retry policy belongs to the
// caller.
package pointtapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
)

// DefaultBaseURL is the production gateway collection.
const DefaultBaseURL = "https://pointt-api.bosch-thermotechnology.com/pointt-api/api/v1/gateways/"

const (
	userAgent     = "ha-bosch/0.1"
	jsonMediaType = "application/json"

	// maxErrorBody bounds how much of an error response ends up in a message.
	maxErrorBody = 512
)

// TokenSource provides bearer tokens. Defined at the consumer per Go
// convention "accept interfaces, return structs".
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Client talks to the resource tree of one gateway.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      TokenSource
	logger     *slog.Logger
}

// NewClient creates a client for deviceID. apiBase is the gateway
// collection URL; empty selects DefaultBaseURL. The per-call timeout is the
// httpClient's Timeout.
func NewClient(apiBase, deviceID string, httpClient *http.Client, token TokenSource, logger *slog.Logger) *Client {
	if apiBase == "" {
		apiBase = DefaultBaseURL
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    strings.TrimRight(apiBase, "/") + "/" + deviceID + "/resource/",
		httpClient: httpClient,
		token:      token,
		logger:     logger,
	}
}

// URL returns the absolute URL for a resource path.
func (c *Client) URL(path string) string {
	return c.baseURL + strings.TrimLeft(path, "/")
}

// Get fetches a resource. JSON responses are decoded (usually into a
// map[string]any); anything else is returned as a string.
func (c *Client) Get(ctx context.Context, path string) (any, error) {
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp, http.MethodGet, path)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RequestError{Method: http.MethodGet, Path: path, Err: ErrRequestFailed, Cause: err}
	}

	if !isJSON(resp.Header.Get("Content-Type")) {
		return string(body), nil
	}

	var out any
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &RequestError{
			Method: http.MethodGet, Path: path, StatusCode: resp.StatusCode,
			Message: "invalid JSON body", Err: ErrRequestFailed, Cause: err,
		}
	}

	return out, nil
}

// GetNode fetches a resource that must be a JSON object.
func (c *Client) GetNode(ctx context.Context, path string) (Node, error) {
	body, err := c.Get(ctx, path)
	if err != nil {
		return nil, err
	}

	node, ok := AsNode(body)
	if !ok {
		return nil, &RequestError{
			Method: http.MethodGet, Path: path, StatusCode: http.StatusOK,
			Message: fmt.Sprintf("unexpected body type %T", body), Err: ErrRequestFailed,
		}
	}

	return node, nil
}

// Put writes value to a resource as {"value": value}. 200 and 204 are
// success.
func (c *Client) Put(ctx context.Context, path string, value any) error {
	body, err := json.Marshal(map[string]any{"value": value})
	if err != nil {
		return fmt.Errorf("pointtapi: encoding value for %s: %w", path, err)
	}

	resp, err := c.do(ctx, http.MethodPut, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return c.statusError(resp, http.MethodPut, path)
	}

	_, _ = io.Copy(io.Discard, resp.Body)

	c.logger.Debug("resource written", slog.String("path", path))

	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	// Token errors keep their own classification (an oauth auth failure
	// stays an auth failure).
	tok, err := c.token.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("pointtapi: obtaining token: %w", err)
	}

	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.URL(path), rdr)
	if err != nil {
		return nil, fmt.Errorf("pointtapi: creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", jsonMediaType)

	if body != nil {
		req.Header.Set("Content-Type", jsonMediaType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &RequestError{Method: method, Path: path, Err: ErrRequestFailed, Cause: err}
	}

	return resp, nil
}

func (c *Client) statusError(resp *http.Response, method, path string) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	sentinel := classifyStatus(resp.StatusCode)

	if sentinel == ErrAuthFailed {
		c.logger.Warn("authorization refused",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
		)
	}

	return &RequestError{
		Method:     method,
		Path:       path,
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(msg)),
		Err:        sentinel,
	}
}

func isJSON(contentType string) bool {
	if contentType == "" {
		return false
	}

	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(contentType, jsonMediaType)
	}

	return mt == jsonMediaType || strings.HasSuffix(mt, "+json")
}
