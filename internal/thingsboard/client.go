package thingsboard

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nerrad567/tbdash/internal/credstore"
	"github.com/nerrad567/tbdash/internal/infrastructure/logging"
	"github.com/nerrad567/tbdash/internal/infrastructure/metrics"
)

// Client defaults.
const (
	DefaultBaseURL     = "http://localhost:8080/api"
	DefaultBrokerURL   = "mqtt://localhost:1883"
	DefaultTimeout     = 15 * time.Second
	DefaultRPCTimeout  = 30 * time.Second
	DefaultRefreshPath = "/auth/refresh"
	DefaultPageSize    = 100

	// maxResponseBytes caps how much of a response body is read.
	maxResponseBytes = 16 << 20

	refreshKey = "refresh"
)

// Options configures a Client.
type Options struct {
	// BaseURL is the REST root including /api.
	BaseURL string

	// BrokerURL is exposed through BrokerURL() for MQTT consumers; the
	// client itself never connects to it.
	BrokerURL string

	Timeout     time.Duration
	RPCTimeout  time.Duration
	RefreshPath string
	PageSize    int
}

func (o *Options) applyDefaults() {
	if o.BaseURL == "" {
		o.BaseURL = DefaultBaseURL
	}
	if o.BrokerURL == "" {
		o.BrokerURL = DefaultBrokerURL
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.RPCTimeout <= 0 {
		o.RPCTimeout = DefaultRPCTimeout
	}
	if o.RefreshPath == "" {
		o.RefreshPath = DefaultRefreshPath
	}
	if o.PageSize <= 0 {
		o.PageSize = DefaultPageSize
	}
	o.BaseURL = strings.TrimRight(o.BaseURL, "/")
}

// Option customises a Client.
type Option func(*Client)

// WithLogger sets the logger. The default discards output.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) { c.logger = l.With("component", "thingsboard") }
}

// WithMetrics records backend calls and refreshes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithHTTPClient replaces the transport. Per-request deadlines come from
// contexts, so the client's own Timeout is left as set by the caller.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// Request describes one backend call.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any

	// Timeout overrides the client's default per-request timeout.
	Timeout time.Duration

	// Op labels errors, logs and metrics.
	Op string

	// NoRefresh marks authentication calls: a 401 is terminal and never
	// triggers the refresh cycle.
	NoRefresh bool
}

// Client is an authenticated ThingsBoard REST client.
//
// A 401 on an ordinary call triggers one token refresh, shared by every
// call that hit the 401 concurrently, after which the original call is
// re-issued exactly once.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Client struct {
	opts    Options
	base    *url.URL
	http    *http.Client
	store   credstore.Store
	session Session
	group   singleflight.Group
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// New creates a client. It does not touch the network or the store; call
// Restore to pick up a persisted session.
func New(opts Options, store credstore.Store, options ...Option) (*Client, error) {
	opts.applyDefaults()

	base, err := url.Parse(opts.BaseURL)
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, &ValidationError{Field: "base URL", Message: fmt.Sprintf("%q is not an absolute http(s) URL", opts.BaseURL)}
	}
	if store == nil {
		store = credstore.NewMemoryStore()
	}

	c := &Client{
		opts:   opts,
		base:   base,
		http:   &http.Client{},
		store:  store,
		logger: logging.Discard(),
	}
	for _, o := range options {
		o(c)
	}
	return c, nil
}

// Options returns the effective options after defaults.
func (c *Client) Options() Options {
	return c.opts
}

// Do sends req and decodes a 2xx JSON body into out (nil discards it).
//
// Errors are one of *AuthError, *RequestError, *NetworkError.
func (c *Client) Do(ctx context.Context, req *Request, out any) error {
	start := time.Now()
	err := c.do(ctx, req, out)
	c.metrics.ObserveBackend(req.Op, err, time.Since(start))
	return err
}

func (c *Client) do(ctx context.Context, req *Request, out any) error {
	access := c.session.Access()

	resp, err := c.send(ctx, req, access)
	if err != nil {
		return err
	}

	if resp.status == http.StatusUnauthorized && !req.NoRefresh {
		if !c.session.HasRefresh() {
			c.endSession(ctx, req.Op)
			return &AuthError{Op: req.Op, Message: defaultAuthMessage}
		}
		if err := c.refresh(ctx, access); err != nil {
			return err
		}

		c.logger.Debug("retrying after token refresh", "op", req.Op)
		resp, err = c.send(ctx, req, c.session.Access())
		if err != nil {
			return err
		}
	}

	if resp.status == http.StatusUnauthorized {
		c.endSession(ctx, req.Op)
		return &AuthError{Op: req.Op, Message: resp.message(defaultAuthMessage)}
	}
	if resp.status < 200 || resp.status > 299 {
		return &RequestError{Op: req.Op, Status: resp.status, Message: resp.message(http.StatusText(resp.status))}
	}

	if out == nil || len(bytes.TrimSpace(resp.body)) == 0 {
		return nil
	}
	if raw, ok := out.(*json.RawMessage); ok {
		*raw = append((*raw)[:0], resp.body...)
		return nil
	}
	if err := json.Unmarshal(resp.body, out); err != nil {
		return &RequestError{Op: req.Op, Status: resp.status, Message: fmt.Sprintf("decoding response: %v", err)}
	}
	return nil
}

// response is a fully read HTTP response.
type response struct {
	status int
	body   []byte
}

// message extracts the backend's "message" field, falling back to def.
func (r *response) message(def string) string {
	var payload struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(r.body, &payload) == nil && payload.Message != "" {
		return payload.Message
	}
	return def
}

// send performs one round trip. A non-empty access token becomes the
// bearer header.
func (c *Client) send(ctx context.Context, req *Request, access string) (*response, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.opts.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	u := c.base.JoinPath(req.Path)
	if len(req.Query) > 0 {
		u.RawQuery = req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, &ValidationError{Field: "request body", Message: err.Error()}
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u.String(), body)
	if err != nil {
		return nil, &NetworkError{Op: req.Op, Err: err}
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if access != "" {
		httpReq.Header.Set("Authorization", "Bearer "+access)
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, networkError(req.Op, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, networkError(req.Op, fmt.Errorf("reading response: %w", err))
	}
	return &response{status: httpResp.StatusCode, body: data}, nil
}

func networkError(op string, err error) *NetworkError {
	var netErr net.Error
	timeout := errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout())
	return &NetworkError{Op: op, Err: err, timeout: timeout}
}

// tokenPair is the backend's token response shape.
type tokenPair struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

// refresh exchanges the refresh token for a new pair. Concurrent callers
// share one round trip; a caller whose stale token was already replaced
// returns immediately. The exchange runs detached from the caller's
// cancellation so one impatient caller cannot fail the others.
func (c *Client) refresh(ctx context.Context, stale string) error {
	_, err, shared := c.group.Do(refreshKey, func() (any, error) {
		if current := c.session.Access(); current != "" && current != stale {
			return nil, nil
		}

		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.Timeout)
		defer cancel()

		err := c.exchangeRefreshToken(rctx)
		c.metrics.ObserveRefresh(err)
		if err != nil {
			c.endSession(rctx, "refreshToken")
			return nil, err
		}
		return nil, nil
	})
	if shared {
		c.logger.Debug("joined in-flight token refresh")
	}
	return err
}

func (c *Client) exchangeRefreshToken(ctx context.Context) error {
	const op = "refreshToken"

	refreshToken := c.session.Pair().Refresh
	if refreshToken == "" {
		return &AuthError{Op: op, Message: defaultAuthMessage}
	}

	resp, err := c.send(ctx, &Request{
		Method: http.MethodPost,
		Path:   c.opts.RefreshPath,
		Body:   map[string]string{"refreshToken": refreshToken},
		Op:     op,
	}, "")
	if err != nil {
		return &AuthError{Op: op, Message: "Token refresh failed", Err: err}
	}
	if resp.status < 200 || resp.status > 299 {
		return &AuthError{Op: op, Message: "Token refresh failed: " + resp.message(http.StatusText(resp.status))}
	}

	var tp tokenPair
	if err := json.Unmarshal(resp.body, &tp); err != nil {
		return &AuthError{Op: op, Message: "Token refresh failed: malformed response", Err: err}
	}
	pair := credstore.Pair{Access: tp.Token, Refresh: tp.RefreshToken}
	if !pair.Complete() {
		return &AuthError{Op: op, Message: "Token refresh failed: incomplete token pair"}
	}

	c.setPair(ctx, pair)
	c.logger.Info("access token refreshed", "token", logging.Redact(pair.Access))
	return nil
}

// setPair installs a new pair in the session and persists it. A storage
// failure is logged; the session continues in memory.
func (c *Client) setPair(ctx context.Context, p credstore.Pair) {
	c.session.Set(p)
	if err := c.store.Save(ctx, p); err != nil {
		c.logger.Warn("persisting credentials failed, continuing in memory", "error", err)
	}
}

// endSession drops the pair from memory and storage.
func (c *Client) endSession(ctx context.Context, op string) {
	c.session.Clear()
	if err := c.store.Clear(context.WithoutCancel(ctx)); err != nil {
		c.logger.Warn("clearing credentials failed", "error", err)
	}
	c.logger.Info("session ended", "op", op)
}
