// Package httpremote is the remote.Client for the HTTP mirror service.
package httpremote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/roach88/rxvault/internal/mirror"
	"github.com/roach88/rxvault/internal/model"
	"github.com/roach88/rxvault/internal/remote"
)

const (
	DefaultRequestTimeout = 10 * time.Second
	DefaultListenWait     = 25 * time.Second
)

// HTTPError is a non-2xx mirror response.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("mirror: status %d", e.StatusCode)
	}
	return fmt.Sprintf("mirror: status %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// Unwrap maps the status onto the remote sentinel errors.
func (e *HTTPError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden:
		return remote.ErrUnauthenticated
	case e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500:
		return remote.ErrUnavailable
	default:
		return remote.ErrRejected
	}
}

// Client talks to a mirror over HTTP.
type Client struct {
	baseURL        string
	http           *http.Client
	requestTimeout time.Duration
	listenWait     time.Duration

	mu       sync.Mutex
	identity remote.Identity
}

var _ remote.Client = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client (for tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithRequestTimeout bounds each non-listen request.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.requestTimeout = d
	}
}

// WithListenWait sets the long-poll window asked of the mirror.
func WithListenWait(d time.Duration) Option {
	return func(c *Client) {
		c.listenWait = d
	}
}

// New creates a Client for the mirror at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid mirror url: %w", err)
	}
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &http.Client{},
		requestTimeout: DefaultRequestTimeout,
		listenWait:     DefaultListenWait,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) Init(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("init: %w: %v", remote.ErrUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("init: %w: health status %d", remote.ErrUnavailable, resp.StatusCode)
	}
	return nil
}

func (c *Client) SignInAnonymously(ctx context.Context, prior remote.Identity) (remote.Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	var out mirror.SessionResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/sessions/anonymous", prior.Token, nil, &out); err != nil {
		return remote.Identity{}, fmt.Errorf("sign in: %w", err)
	}
	id := remote.Identity{UID: out.UID, Token: out.Token}

	c.mu.Lock()
	c.identity = id
	c.mu.Unlock()
	return id, nil
}

func (c *Client) Push(ctx context.Context, doc remote.Document) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	path := fmt.Sprintf("/v1/collections/%s/documents/%s", url.PathEscape(string(doc.Collection)), url.PathEscape(doc.ID))
	var out mirror.PushResponse
	if err := c.doJSON(ctx, http.MethodPut, path, c.token(), doc, &out); err != nil {
		return 0, fmt.Errorf("push %s/%s: %w", doc.Collection, doc.ID, err)
	}
	return out.Version, nil
}

// Listen fetches the first page immediately, so a refused subscription
// fails here rather than on the first Next.
func (c *Client) Listen(ctx context.Context, col model.Collection, since int64) (remote.Listener, error) {
	l := &listener{client: c, collection: col, since: since}
	docs, err := l.fetch(ctx, 0)
	if err != nil {
		return nil, err
	}
	l.pending = docs
	return l, nil
}

func (c *Client) token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity.Token
}

func (c *Client) doJSON(ctx context.Context, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		// Document fields travel as the exact bytes the digest covers.
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(in); err != nil {
			return fmt.Errorf("marshal json: %w", err)
		}
		body = &buf
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", remote.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", remote.ErrUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		herr := &HTTPError{StatusCode: resp.StatusCode}
		var er mirror.ErrorResponse
		if json.Unmarshal(raw, &er) == nil {
			herr.Code, herr.Message = er.Code, er.Message
		}
		return herr
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("unmarshal json: %w", err)
	}
	return nil
}

type listener struct {
	client     *Client
	collection model.Collection
	since      int64
	pending    []remote.Document
}

func (l *listener) Next(ctx context.Context) ([]remote.Document, error) {
	if len(l.pending) > 0 {
		docs := l.pending
		l.pending = nil
		return docs, nil
	}
	return l.fetch(ctx, l.client.listenWait)
}

func (l *listener) fetch(ctx context.Context, wait time.Duration) ([]remote.Document, error) {
	ctx, cancel := context.WithTimeout(ctx, wait+l.client.requestTimeout)
	defer cancel()

	q := url.Values{}
	q.Set("since", strconv.FormatInt(l.since, 10))
	if wait > 0 {
		q.Set("wait", wait.String())
	}
	path := fmt.Sprintf("/v1/collections/%s/documents?%s", url.PathEscape(string(l.collection)), q.Encode())

	var out mirror.ListResponse
	if err := l.client.doJSON(ctx, http.MethodGet, path, l.client.token(), nil, &out); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("listen %s: %w", l.collection, err)
	}
	if n := len(out.Documents); n > 0 {
		l.since = out.Documents[n-1].Version
	}
	if out.Documents == nil {
		out.Documents = []remote.Document{}
	}
	return out.Documents, nil
}

func (l *listener) Close() error {
	return nil
}
