// Package transport issues HTTP requests on behalf of a session, following
// redirects by hand so cookies from every hop land in the session store.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultTimeout      = 30 * time.Second
	DefaultMaxRedirects = 20
	DefaultUserAgent    = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
	defaultAccept       = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
)

var (
	// ErrTimeout is returned when the server does not answer within the client timeout.
	ErrTimeout = errors.New("request timed out")
	// ErrNetwork covers every other failure to get a response (refused, reset, DNS).
	ErrNetwork = errors.New("network error")
	// ErrTooManyRedirects is returned when a redirect chain exceeds MaxRedirects.
	ErrTooManyRedirects = errors.New("too many redirects")
)

// CookieStore is the part of the session the transport reads and updates.
type CookieStore interface {
	ApplyResponseCookies(header http.Header)
	CookieHeader() string
}

// Request describes one logical request; redirects are followed on top of it.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is the final response after all redirect hops.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// URL is the address that produced this response, after redirects.
	URL string
}

// Success reports a 2xx status.
func (r *Response) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Options tunes a Client. Zero values fall back to the defaults above.
// A negative MaxRedirects disables the redirect limit.
type Options struct {
	Timeout      time.Duration
	MaxRedirects int
	UserAgent    string
	Logger       *zerolog.Logger
}

// Client is the HTTP transport bound to one cookie store
type Client struct {
	httpClient   *http.Client
	cookies      CookieStore
	maxRedirects int
	userAgent    string
	log          zerolog.Logger
}

// NewClient creates a transport that reads and writes cookies through store
func NewClient(store CookieStore, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxRedirects := opts.MaxRedirects
	if maxRedirects == 0 {
		maxRedirects = DefaultMaxRedirects
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		cookies:      store,
		maxRedirects: maxRedirects,
		userAgent:    ua,
		log:          log,
	}
}

// Send performs req, following 3xx responses that carry a Location header.
// Set-Cookie headers from every hop are merged into the store before the
// next hop is issued and before the final response is returned.
func (c *Client) Send(ctx context.Context, req Request) (*Response, error) {
	target, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid request url %q: %w", req.URL, err)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	body := req.Body
	header := req.Header.Clone()
	if header == nil {
		header = http.Header{}
	}

	for hop := 0; ; hop++ {
		resp, err := c.do(ctx, method, target, header, body)
		if err != nil {
			return nil, err
		}
		c.cookies.ApplyResponseCookies(resp.Header)

		location := resp.Header.Get("Location")
		if !isRedirect(resp.StatusCode) || location == "" {
			return resp, nil
		}

		if c.maxRedirects > 0 && hop >= c.maxRedirects {
			return nil, fmt.Errorf("%w: stopped after %d hops at %s", ErrTooManyRedirects, hop, target)
		}

		next, err := target.Parse(location)
		if err != nil {
			return nil, fmt.Errorf("invalid redirect location %q: %w", location, err)
		}

		switch resp.StatusCode {
		case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther:
			if method != http.MethodGet && method != http.MethodHead {
				method = http.MethodGet
				body = nil
				header.Del("Content-Type")
			}
		}

		c.log.Debug().Int("status", resp.StatusCode).Str("location", next.String()).Msg("following redirect")
		target = next
	}
}

func (c *Client) do(ctx context.Context, method string, target *url.URL, header http.Header, body []byte) (*Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for k, vs := range header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", defaultAccept)
	}
	if httpReq.Header.Get("Accept-Language") == "" {
		httpReq.Header.Set("Accept-Language", "en-US,en;q=0.9")
	}
	if cookie := c.cookies.CookieHeader(); cookie != "" {
		httpReq.Header.Set("Cookie", cookie)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classify(ctx, method, target, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(ctx, method, target, err)
	}

	c.log.Debug().
		Str("method", method).
		Str("url", target.String()).
		Int("status", resp.StatusCode).
		Int("bytes", len(respBody)).
		Dur("elapsed", time.Since(start)).
		Msg("http request")

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       respBody,
		URL:        target.String(),
	}, nil
}

func classify(ctx context.Context, method string, target *url.URL, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s %s cancelled: %w", method, target, ctxErr)
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %s %s: %w", ErrTimeout, method, target, err)
	}
	return fmt.Errorf("%w: %s %s: %w", ErrNetwork, method, target, err)
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// IsTransient reports whether err is a network-level failure worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrNetwork)
}
