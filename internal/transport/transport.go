package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/url"
	"time"

	http "github.com/bogdanfinn/fhttp"
	tls_client "github.com/bogdanfinn/tls-client"
	"github.com/bogdanfinn/tls-client/profiles"
	"github.com/maltedev/yellowpages-scraper/internal/session"
)

const DefaultTimeout = 30 * time.Second

// pseudoHeaderOrder matches Chrome's HTTP/2 pseudo-header layout.
var pseudoHeaderOrder = []string{
	":method",
	":authority",
	":scheme",
	":path",
}

// Doer sends a single request. tls_client.HttpClient satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Config struct {
	Timeout time.Duration
	Proxy   string
	// Profile defaults to Chrome 124, matching the synthesized Sec-Ch-Ua.
	Profile *profiles.ClientProfile
}

// NewTLSClient builds the long-lived HTTP session. No cookie jar is attached:
// the session store owns cookies and the Cookie header is written per request.
func NewTLSClient(cfg Config, logger *slog.Logger) (tls_client.HttpClient, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	profile := profiles.Chrome_124
	if cfg.Profile != nil {
		profile = *cfg.Profile
	}

	options := []tls_client.HttpClientOption{
		tls_client.WithTimeoutSeconds(timeoutSeconds(cfg.Timeout)),
		tls_client.WithClientProfile(profile),
		tls_client.WithRandomTLSExtensionOrder(),
	}
	if cfg.Proxy != "" {
		options = append(options, tls_client.WithProxyUrl(cfg.Proxy))
	}

	client, err := tls_client.NewHttpClient(NewLogger(logger), options...)
	if err != nil {
		return nil, fmt.Errorf("failed to create tls client: %w", err)
	}
	return client, nil
}

// timeoutSeconds rounds d up to whole seconds so a sub-second timeout never
// becomes zero, which tls-client treats as no timeout at all.
func timeoutSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// Response is the part of an HTTP response the fetch layer consumes.
type Response struct {
	StatusCode int
	Body       string
	Cookies    []session.Cookie
}

// Client issues GET requests with an explicit header order and a per-request
// deadline.
type Client struct {
	doer    Doer
	timeout time.Duration
}

func NewClient(doer Doer, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{doer: doer, timeout: timeout}
}

// Get sends headers in the order they appear in the set. Any error returned
// happened below the HTTP layer: the request never produced a status.
func (c *Client) Get(ctx context.Context, target *url.URL, headers session.HeaderSet) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	applyHeaders(req, headers)

	resp, err := c.doer.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", target.Redacted(), err)
	}
	defer resp.Body.Close()

	body, err := readBody(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       string(body),
		Cookies:    responseCookies(resp),
	}, nil
}

func applyHeaders(req *http.Request, headers session.HeaderSet) {
	order := make([]string, 0, headers.Len())
	headers.Each(func(name, value string) {
		req.Header.Set(name, value)
		order = append(order, name)
	})
	req.Header[http.HeaderOrderKey] = order
	req.Header[http.PHeaderOrderKey] = pseudoHeaderOrder
}

func readBody(resp *http.Response) ([]byte, error) {
	body := http.DecompressBody(resp)
	defer body.Close()
	return io.ReadAll(body)
}

func responseCookies(resp *http.Response) []session.Cookie {
	raw := resp.Cookies()
	if len(raw) == 0 {
		return nil
	}
	cookies := make([]session.Cookie, 0, len(raw))
	for _, c := range raw {
		cookies = append(cookies, session.Cookie{
			Name:    c.Name,
			Value:   c.Value,
			Domain:  c.Domain,
			Path:    c.Path,
			Expires: c.Expires,
		})
	}
	return cookies
}
