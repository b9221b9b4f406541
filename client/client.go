// Package client talks to a record service: it commits documents and
// fetches records the way the browser pad does.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"recordpad/pkg/logger"
	"recordpad/pkg/record"

	"github.com/gorilla/websocket"
)

const DefaultEndpoint = "http://localhost:8000"

type Client struct {
	endpoint *url.URL
	http     *http.Client
	dialer   *websocket.Dialer
	inflight sync.WaitGroup
}

type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout bounds each request. Without it requests never time out.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		hc := *c.http
		hc.Timeout = d
		c.http = &hc
	}
}

func New(endpoint string, opts ...Option) (*Client, error) {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	u, err := url.Parse(strings.TrimRight(endpoint, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("endpoint %q: scheme must be http or https", endpoint)
	}

	c := &Client{
		endpoint: u,
		http:     &http.Client{},
		dialer:   websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Commit posts doc wrapped in an envelope with the placeholder signature
// and waits for the service to accept it.
func (c *Client) Commit(ctx context.Context, doc record.Document) error {
	commit, err := record.Seal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	body, err := record.Marshal(commit)
	if err != nil {
		return fmt.Errorf("encode commit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint.String()+"/commit", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var e struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&e); err == nil && e.Error != "" {
			return fmt.Errorf("commit rejected (%d): %s", resp.StatusCode, e.Error)
		}
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// CommitAsync starts a commit and returns immediately. The channel
// receives exactly one value, nil on success.
func (c *Client) CommitAsync(doc record.Document) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- c.Commit(context.Background(), doc)
	}()
	return done
}

// CommitDocument is fire-and-forget: the caller does not wait for the
// outcome and a failure is only visible in debug logs. Wait blocks until
// such commits have finished.
func (c *Client) CommitDocument(doc record.Document) {
	done := c.CommitAsync(doc)
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		if err := <-done; err != nil {
			logger.Sugar.Debugf("Commit of %q dropped: %v", doc.Key, err)
		}
	}()
}

// Wait returns once every CommitDocument started so far has completed, so a
// process can exit without cutting requests off.
func (c *Client) Wait() {
	c.inflight.Wait()
}

// FetchRecord gets /resource/{uri} with uri placed in the path as typed
// and returns the response body pretty-printed. The status code is not
// checked: whatever JSON the service answers with is the result.
func (c *Client) FetchRecord(ctx context.Context, uri string) (string, error) {
	return c.fetch(ctx, "/resource/", uri)
}

// FetchChildren gets /children/{uri}, the records that reference uri, the
// same way FetchRecord does.
func (c *Client) FetchChildren(ctx context.Context, uri string) (string, error) {
	return c.fetch(ctx, "/children/", uri)
}

func (c *Client) fetch(ctx context.Context, prefix, uri string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint.String(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.URL.Opaque = c.endpoint.EscapedPath() + prefix + literalPath(uri)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to perform request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	pretty, err := record.Pretty(body)
	if err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	return pretty, nil
}

// Watch streams feed events for owner (every owner when empty) to fn until
// ctx is done or the connection drops.
func (c *Client) Watch(ctx context.Context, owner string, fn func(record.Event)) error {
	u := *c.endpoint
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path += "/ws"
	u.RawQuery = url.Values{"owner": {owner}}.Encode()

	conn, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to dial feed: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("feed read: %w", err)
		}

		var event record.Event
		if err := json.Unmarshal(data, &event); err != nil {
			logger.Sugar.Warnf("Skipping malformed feed message: %v", err)
			continue
		}
		fn(event)
	}
}

// literalPath leaves s as typed except for bytes that cannot appear in a
// request line at all, which are percent-encoded like a browser would.
func literalPath(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch <= ' ' || ch >= 0x7f || strings.IndexByte(`"<>`+"`{}", ch) >= 0 {
			fmt.Fprintf(&b, "%%%02X", ch)
			continue
		}
		b.WriteByte(ch)
	}
	return b.String()
}
