// Package livewire speaks the reactive component protocol on top of the
// transport and session layers: page loads that refresh the CSRF token,
// form posts, and component update calls.
package livewire

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/bgdnvk/coolctl/internal/extract"
	"github.com/bgdnvk/coolctl/internal/session"
	"github.com/bgdnvk/coolctl/internal/snapshot"
	"github.com/bgdnvk/coolctl/internal/transport"
)

const (
	DefaultUpdatePath    = "/livewire/update"
	DefaultRetryAttempts = 3
	DefaultRetryDelay    = 2 * time.Second
)

// SuffixMode controls how the update endpoint path is built.
type SuffixMode string

const (
	// SuffixNone posts every call to the base update path.
	SuffixNone SuffixMode = "none"
	// SuffixComponentID appends "/{componentID}" to the base path.
	SuffixComponentID SuffixMode = "component-id"
)

// Config holds the protocol client settings.
type Config struct {
	BaseURL       string
	UpdatePath    string
	IDSuffix      SuffixMode
	RetryAttempts int
	RetryDelay    time.Duration
	Transport     transport.Options
	Logger        *zerolog.Logger
}

// Client is a protocol client bound to one session.
type Client struct {
	base      *url.URL
	cfg       Config
	session   *session.Store
	transport *transport.Client
	tokens    extract.TokenExtractor
	log       zerolog.Logger
}

// NewClient creates a protocol client with a fresh session.
func NewClient(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", cfg.BaseURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q: scheme and host required", cfg.BaseURL)
	}

	if cfg.UpdatePath == "" {
		cfg.UpdatePath = DefaultUpdatePath
	}
	if cfg.IDSuffix == "" {
		cfg.IDSuffix = SuffixNone
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = DefaultRetryAttempts
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	} else if cfg.RetryDelay == 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}

	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = cfg.Logger.With().Str("component", "livewire").Logger()
	}
	if cfg.Transport.Logger == nil {
		cfg.Transport.Logger = &log
	}

	store := session.NewStore()
	return &Client{
		base:      base,
		cfg:       cfg,
		session:   store,
		transport: transport.NewClient(store, cfg.Transport),
		tokens:    extract.NewTokenExtractor(),
		log:       log,
	}, nil
}

// URL resolves path against the base URL.
func (c *Client) URL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	ref, err := url.Parse(path)
	if err != nil {
		return c.base.String() + path
	}
	if !strings.HasPrefix(ref.Path, "/") {
		ref.Path = "/" + ref.Path
	}
	return c.base.ResolveReference(ref).String()
}

func (c *Client) origin() string {
	return c.base.Scheme + "://" + c.base.Host
}

// Fetch loads a page and refreshes the session token from it. A non-2xx
// status is returned as *HTTPError together with the page.
func (c *Client) Fetch(ctx context.Context, path string) (*Page, error) {
	resp, err := c.send(ctx, transport.Request{Method: http.MethodGet, URL: c.URL(path)})
	if err != nil {
		return nil, err
	}
	return c.page(resp)
}

// SubmitForm posts an URL-encoded form. The session token is added as
// "_token" unless form already carries one.
func (c *Client) SubmitForm(ctx context.Context, path string, form url.Values, referer string) (*Page, error) {
	if form == nil {
		form = url.Values{}
	}
	if form.Get("_token") == "" {
		if tok, ok := c.session.Token(); ok {
			form.Set("_token", tok)
		}
	}

	header := http.Header{}
	header.Set("Content-Type", "application/x-www-form-urlencoded")
	header.Set("Origin", c.origin())
	if referer != "" {
		header.Set("Referer", c.URL(referer))
	}

	resp, err := c.send(ctx, transport.Request{
		Method: http.MethodPost,
		URL:    c.URL(path),
		Header: header,
		Body:   []byte(form.Encode()),
	})
	if err != nil {
		return nil, err
	}
	return c.page(resp)
}

func (c *Client) page(resp *transport.Response) (*Page, error) {
	p := &Page{URL: resp.URL, StatusCode: resp.StatusCode, Body: string(resp.Body)}
	if !resp.Success() {
		return p, &HTTPError{URL: resp.URL, StatusCode: resp.StatusCode, Body: resp.Body}
	}
	if tok, err := c.tokens.Extract(p.Body); err == nil {
		p.Token = tok
		c.session.SetToken(tok)
	}
	return p, nil
}

// Endpoint returns the update endpoint for a component.
func (c *Client) Endpoint(componentID string) string {
	path := c.cfg.UpdatePath
	if c.cfg.IDSuffix == SuffixComponentID && componentID != "" {
		path = strings.TrimRight(path, "/") + "/" + componentID
	}
	return c.URL(path)
}

// Call sends field updates and an optional method call for one component in a
// single request. The returned snapshot, if any, keeps the component id so
// calls can be chained.
func (c *Client) Call(ctx context.Context, call Call) (*Result, error) {
	if call.Snapshot == nil {
		return nil, fmt.Errorf("call %q: %w", call.Method, snapshot.ErrMalformedSnapshot)
	}
	token, ok := c.session.Token()
	if !ok {
		return nil, ErrNoToken
	}

	wire, err := call.Snapshot.Wire()
	if err != nil {
		return nil, err
	}

	payload := componentPayload{
		Snapshot: wire,
		Updates:  call.Updates,
		Calls:    []methodCall{},
	}
	if payload.Updates == nil {
		payload.Updates = map[string]any{}
	}
	if call.Method != "" {
		params := call.Params
		if params == nil {
			params = []any{}
		}
		payload.Calls = append(payload.Calls, methodCall{Method: call.Method, Params: params})
	}

	body, err := json.Marshal(updateRequest{Token: token, Components: []componentPayload{payload}})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal update request: %w", err)
	}

	endpoint := c.Endpoint(call.Snapshot.ComponentID)
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("Accept", "application/json, text/html")
	header.Set("X-Livewire", "true")
	header.Set("X-CSRF-TOKEN", token)
	header.Set("Origin", c.origin())
	if call.Referer != "" {
		header.Set("Referer", c.URL(call.Referer))
	}

	c.log.Debug().
		Str("component", call.Snapshot.ComponentID).
		Str("method", call.Method).
		Int("updates", len(payload.Updates)).
		Msg("component call")

	resp, err := c.send(ctx, transport.Request{
		Method: http.MethodPost,
		URL:    endpoint,
		Header: header,
		Body:   body,
	})
	if err != nil {
		return nil, err
	}
	if !resp.Success() {
		return nil, &ProtocolError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: resp.Body}
	}

	return parseResult(resp, call.Snapshot.ComponentID)
}

func parseResult(resp *transport.Response, componentID string) (*Result, error) {
	res := &Result{StatusCode: resp.StatusCode, Body: resp.Body}

	var decoded updateResponse
	if err := json.Unmarshal(resp.Body, &decoded); err != nil || len(decoded.Components) == 0 {
		return res, nil
	}
	first := decoded.Components[0]

	if len(first.Effects) > 0 && !bytes.Equal(first.Effects, []byte("null")) {
		res.Effects.Raw = first.Effects
		// Effects vary between server versions; unknown shapes stay in Raw.
		_ = json.Unmarshal(first.Effects, &res.Effects)
	}

	if first.Snapshot != "" {
		s, err := snapshot.Parse(first.Snapshot)
		if err != nil {
			return nil, fmt.Errorf("update response: %w", err)
		}
		if s.ComponentID == "" {
			s.ComponentID = componentID
		}
		res.Snapshot = s
	}
	return res, nil
}

// send performs req, retrying transient failures with a constant delay.
func (c *Client) send(ctx context.Context, req transport.Request) (*transport.Response, error) {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.cfg.RetryDelay), uint64(c.cfg.RetryAttempts-1)),
		ctx,
	)

	var resp *transport.Response
	attempt := 0
	op := func() error {
		attempt++
		r, err := c.transport.Send(ctx, req)
		if err != nil {
			if transport.IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		resp = r
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.log.Warn().Err(err).Int("attempt", attempt).Dur("wait", wait).Msg("retrying request")
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		if attempt > 1 {
			return nil, fmt.Errorf("after %d attempts: %w", attempt, err)
		}
		return nil, err
	}
	return resp, nil
}
