// Package httpclient provides the rate-limited HTTP client shared by the
// remote data sources (NCBI E-utilities, arXiv).
package httpclient

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/bfhtw/errors"
)

// Options configures a Client.
type Options struct {
	Timeout           time.Duration // Default: 30s
	RequestsPerSecond float64       // Default: 3 (NCBI limit without an API key)
	MaxRetries        int           // Retries on transport errors, 429 and 5xx. Default: 3
	BaseBackoff       time.Duration // Default: 500ms, doubled per attempt
	UserAgent         string
	AllowedSchemes    []string // Default: ["http", "https"]
	MaxRedirects      int      // Default: 10
	AllowPrivateHosts bool     // Permits localhost and private ranges (mirrors, tests)
	Logger            *zap.SugaredLogger
}

// Client wraps http.Client with a token-bucket limiter and retry.
type Client struct {
	http    *http.Client
	limiter *rate.Limiter
	opts    Options
	logger  *zap.SugaredLogger
}

// New creates a Client, filling zero-valued options with defaults.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 3
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	} else if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = 500 * time.Millisecond
	}
	if opts.AllowedSchemes == nil {
		opts.AllowedSchemes = []string{"http", "https"}
	}
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = 10
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "bfhtw/1.0"
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	dial := dialer.DialContext
	if !opts.AllowPrivateHosts {
		dial = guardedDial(dialer)
	}

	c := &Client{
		http: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				DialContext:         dial,
				MaxIdleConns:        20,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1),
		opts:    opts,
		logger:  log,
	}
	c.http.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= c.opts.MaxRedirects {
			return errors.Newf("stopped after %d redirects", c.opts.MaxRedirects)
		}
		if err := c.validate(req.URL); err != nil {
			return errors.Wrap(err, "redirect blocked")
		}
		return nil
	}
	return c
}

// guardedDial resolves the host itself and refuses any private address it
// resolves to
func guardedDial(dialer *net.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, errors.Wrap(err, "invalid address")
		}
		ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to resolve host %q", host)
		}
		for _, ip := range ips {
			if isPrivateIP(ip) {
				return nil, errors.Newf("private IP address blocked: %s", ip)
			}
		}
		if len(ips) == 0 {
			return nil, errors.Newf("no addresses for host %q", host)
		}
		// dial the checked address, not the name
		return dialer.DialContext(ctx, network, net.JoinHostPort(ips[0].String(), port))
	}
}

// ValidateURL checks scheme and host before a request is made.
func (c *Client) ValidateURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalidRequest, err.Error())
	}
	if err := c.validate(u); err != nil {
		return nil, err
	}
	return u, nil
}

func (c *Client) validate(u *url.URL) error {
	scheme := strings.ToLower(u.Scheme)
	allowed := false
	for _, s := range c.opts.AllowedSchemes {
		if scheme == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return errors.NewInvalidRequestError("scheme %q not allowed (allowed: %v)", scheme, c.opts.AllowedSchemes)
	}
	if u.User != nil {
		return errors.NewInvalidRequestError("URL must not carry credentials")
	}
	host := u.Hostname()
	if host == "" {
		return errors.NewInvalidRequestError("URL missing hostname")
	}
	if c.opts.AllowPrivateHosts {
		return nil
	}
	if isLocalhost(host) {
		return errors.NewInvalidRequestError("localhost access blocked")
	}
	if ip := net.ParseIP(host); ip != nil && isPrivateIP(ip) {
		return errors.NewInvalidRequestError("private IP address blocked: %s", host)
	}
	return nil
}

// Get fetches rawURL with query params applied and returns the body.
// Transport failures and non-2xx answers that survive all retries are
// marked as connection failures.
func (c *Client) Get(ctx context.Context, rawURL string, params url.Values) ([]byte, error) {
	u, err := c.ValidateURL(rawURL)
	if err != nil {
		return nil, err
	}
	if len(params) > 0 {
		q := u.Query()
		for k, vs := range params {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	var lastErr error
	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.opts.BaseBackoff * time.Duration(1<<uint(attempt-1))
			c.logger.Debugw("Retrying request", "url", u.Host+u.Path, "attempt", attempt, "delay", delay)
			select {
			case <-ctx.Done():
				return nil, errors.Wrap(ctx.Err(), "request cancelled")
			case <-time.After(delay):
			}
		}

		body, retry, err := c.do(ctx, u.String())
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retry {
			break
		}
	}
	return nil, errors.MarkConnection(errors.Wrapf(lastErr, "GET %s%s", u.Host, u.Path))
}

// GetJSON fetches rawURL and decodes the JSON body into out.
func (c *Client) GetJSON(ctx context.Context, rawURL string, params url.Values, out interface{}) error {
	body, err := c.Get(ctx, rawURL, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errors.MarkProcessing(errors.Wrapf(err, "decode response from %s", rawURL))
	}
	return nil
}

// Ping issues a HEAD-equivalent GET and discards the body.
func (c *Client) Ping(ctx context.Context, rawURL string, params url.Values) error {
	_, err := c.Get(ctx, rawURL, params)
	return err
}

func (c *Client) do(ctx context.Context, rawURL string) ([]byte, bool, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, false, errors.Wrap(err, "rate limiter")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, false, errors.Wrap(err, "build request")
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, ctx.Err() == nil, errors.Wrap(err, "request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, errors.Wrap(err, "read body")
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, true, errors.Newf("status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, false, errors.Newf("status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
	return body, false, nil
}

func isLocalhost(hostname string) bool {
	hostname = strings.ToLower(hostname)
	return hostname == "localhost" ||
		hostname == "localhost.localdomain" ||
		strings.HasSuffix(hostname, ".localhost")
}

var privateBlocks = func() []*net.IPNet {
	cidrs := []string{
		"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16", // RFC 1918
		"127.0.0.0/8", "169.254.0.0/16", "0.0.0.0/8",
		"224.0.0.0/4", "240.0.0.0/4",
		"fc00::/7", "fec0::/10", "2001:db8::/32",
	}
	out := make([]*net.IPNet, len(cidrs))
	for i, c := range cidrs {
		_, n, _ := net.ParseCIDR(c)
		out[i] = n
	}
	return out
}()

// isPrivateIP reports loopback, link-local, multicast, unspecified and
// private or reserved ranges
func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsMulticast() || ip.IsUnspecified() {
		return true
	}
	for _, block := range privateBlocks {
		if block.Contains(ip) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
