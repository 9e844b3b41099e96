// Package catalog is the client for the remote catalog API that owns
// albums and photo records.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shutterlink/shutterlink/internal/logging"
	"github.com/shutterlink/shutterlink/internal/retry"
)

// Client talks to the catalog API with bearer-token auth.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Config holds client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Album is a catalog collection as returned by the API.
type Album struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CoverURL    string `json:"coverUrl,omitempty"`
}

// apiError is the JSON error body the API returns on non-2xx responses.
type apiError struct {
	Error string `json:"error"`
}

// StatusError reports a non-2xx catalog response with its decoded message.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("catalog: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("catalog: status %d", e.StatusCode)
}

// New creates a catalog client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
	}
}

// BaseURL returns the configured API base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Online reports whether the catalog host currently accepts TCP
// connections. Callers must probe immediately before acting; the result
// is never cached.
func (c *Client) Online(ctx context.Context) bool {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return false
	}
	host := u.Host
	if u.Port() == "" {
		switch u.Scheme {
		case "https":
			host += ":443"
		default:
			host += ":80"
		}
	}

	dialer := net.Dialer{Timeout: 5 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", host)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// AddPhoto registers an uploaded image URL against an album. Network and
// server-side (5xx) failures are marked retryable for the caller's policy.
func (c *Client) AddPhoto(ctx context.Context, albumID, imageURL, token string) error {
	body := map[string]string{"albumId": albumID, "imageUrl": imageURL}
	return c.do(ctx, http.MethodPost, "/api/upload-photo", token, body, nil)
}

// ListAlbums fetches all albums.
func (c *Client) ListAlbums(ctx context.Context, token string) ([]Album, error) {
	var albums []Album
	if err := c.do(ctx, http.MethodGet, "/api/albums", token, nil, &albums); err != nil {
		return nil, err
	}
	return albums, nil
}

// CreateAlbum creates an album.
func (c *Client) CreateAlbum(ctx context.Context, album Album, token string) error {
	return c.do(ctx, http.MethodPost, "/api/albums", token, album, nil)
}

// UpdateAlbum updates an album by id.
func (c *Client) UpdateAlbum(ctx context.Context, id string, album Album, token string) error {
	return c.do(ctx, http.MethodPut, "/api/albums/"+url.PathEscape(id), token, album, nil)
}

// DeleteAlbum deletes an album by id.
func (c *Client) DeleteAlbum(ctx context.Context, id, token string) error {
	return c.do(ctx, http.MethodDelete, "/api/albums/"+url.PathEscape(id), token, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("catalog: encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("catalog: build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Connection-level failure: transient by definition.
		return retry.Retryable(fmt.Errorf("catalog: %s %s: %w", method, path, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr apiError
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		_ = json.Unmarshal(data, &apiErr)
		statusErr := &StatusError{StatusCode: resp.StatusCode, Message: apiErr.Error}
		logging.Warn("catalog request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("error", apiErr.Error))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return retry.Retryable(statusErr)
		}
		return statusErr
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("catalog: decode response: %w", err)
		}
	}
	return nil
}
