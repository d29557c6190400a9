package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/maltedev/yellowpages-scraper/internal/session"
	"github.com/maltedev/yellowpages-scraper/internal/transport"
)

// IdentityDeriver produces a fresh session identity, optionally capturing the
// rendered page at target. It never fails; a degraded identity has no HTML.
type IdentityDeriver interface {
	Derive(ctx context.Context, target string, fetchContent bool) session.Identity
}

// Getter sends one GET with the given headers. An error means no status was
// received.
type Getter interface {
	Get(ctx context.Context, target *url.URL, headers session.HeaderSet) (*transport.Response, error)
}

type Config struct {
	// MaxFallbacks caps browser re-derivations over the client's lifetime.
	// Zero means unbounded.
	MaxFallbacks int
}

type Stats struct {
	RunID          string `json:"run_id"`
	TotalRequests  int64  `json:"total_requests"`
	TotalFallbacks int64  `json:"total_fallbacks"`
	TotalWarmUps   int64  `json:"total_warm_ups"`
}

// Client fetches pages with a browser-derived identity and recovers from
// rejection by re-deriving it. One Client is one logical scraping session;
// concurrent searches need separate clients.
type Client struct {
	getter  Getter
	deriver IdentityDeriver
	store   *session.Store
	cfg     Config
	logger  *slog.Logger
	runID   string

	requests  atomic.Int64
	fallbacks atomic.Int64
	warmUps   atomic.Int64
}

func NewClient(getter Getter, deriver IdentityDeriver, store *session.Store, cfg Config, logger *slog.Logger) *Client {
	if store == nil {
		store = session.NewStore()
	}
	if logger == nil {
		logger = slog.Default()
	}
	runID := uuid.NewString()
	return &Client{
		getter:  getter,
		deriver: deriver,
		store:   store,
		cfg:     cfg,
		runID:   runID,
		logger:  logger.With("component", "fetch", "run_id", runID),
	}
}

func (c *Client) RunID() string {
	return c.runID
}

func (c *Client) Store() *session.Store {
	return c.store
}

func (c *Client) Stats() Stats {
	return Stats{
		RunID:          c.runID,
		TotalRequests:  c.requests.Load(),
		TotalFallbacks: c.fallbacks.Load(),
		TotalWarmUps:   c.warmUps.Load(),
	}
}

// WarmUp derives an identity for target without capturing content and
// installs it as the current session.
func (c *Client) WarmUp(ctx context.Context, target string) session.Identity {
	id := c.deriver.Derive(ctx, target, false)
	c.store.Apply(id)
	c.warmUps.Add(1)
	c.logger.Info("session warmed up", "target", target, "cookies", len(id.Cookies))
	return id
}

// Fetch GETs rawURL with params appended to its query. With allowFallback a
// 403 or a transport failure triggers at most one browser re-derivation.
func (c *Client) Fetch(ctx context.Context, rawURL string, params url.Values, allowFallback bool) (string, error) {
	target, err := resolve(rawURL, params)
	if err != nil {
		return "", err
	}

	resp, err := c.send(ctx, target)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		c.logger.Error("request failed", "url", target.String(), "error", err)
		if allowFallback && c.canFallback() {
			return c.fallback(ctx, target)
		}
		return "", &TransportError{URL: target.String(), Err: err}
	}

	if resp.StatusCode == http.StatusForbidden && allowFallback && c.canFallback() {
		c.logger.Warn("request rejected, refreshing session through browser", "url", target.String())
		return c.fallback(ctx, target)
	}

	return c.accept(target, resp)
}

// fallback re-derives the identity against target. Harvested markup is
// returned as is; otherwise one direct GET is made and its outcome is final.
func (c *Client) fallback(ctx context.Context, target *url.URL) (string, error) {
	c.fallbacks.Add(1)

	id := c.deriver.Derive(ctx, target.String(), true)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.store.Apply(id)

	if id.HasHTML() {
		c.logger.Info("using page content harvested by browser", "url", target.String())
		return id.HTML, nil
	}

	resp, err := c.send(ctx, target)
	if err != nil {
		return "", &TransportError{URL: target.String(), Err: err}
	}
	return c.accept(target, resp)
}

func (c *Client) send(ctx context.Context, target *url.URL) (*transport.Response, error) {
	c.requests.Add(1)
	resp, err := c.getter.Get(ctx, target, c.store.Headers())
	if err != nil {
		return nil, err
	}
	c.logger.Debug("response received", "url", target.String(), "status", resp.StatusCode)
	return resp, nil
}

func (c *Client) accept(target *url.URL, resp *transport.Response) (string, error) {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &HTTPStatusError{URL: target.String(), StatusCode: resp.StatusCode}
	}
	c.store.Absorb(resp.Cookies)
	return resp.Body, nil
}

func (c *Client) canFallback() bool {
	if c.cfg.MaxFallbacks <= 0 {
		return true
	}
	if c.fallbacks.Load() < int64(c.cfg.MaxFallbacks) {
		return true
	}
	c.logger.Warn("fallback limit reached", "max_fallbacks", c.cfg.MaxFallbacks)
	return false
}

// resolve appends params to the query of rawURL, keeping the existing query
// as written.
func resolve(rawURL string, params url.Values) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q is not an absolute http(s) url", ErrInvalidURL, rawURL)
	}
	if len(params) > 0 {
		extra := params.Encode()
		if u.RawQuery == "" {
			u.RawQuery = extra
		} else {
			u.RawQuery += "&" + extra
		}
	}
	return u, nil
}
