package livewire

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bgdnvk/coolctl/internal/snapshot"
	"github.com/bgdnvk/coolctl/internal/transport"
)

const formSnapshot = `{"data":{"repository_url":"","branch":"main"},"memo":{"id":"cmp1","name":"project.new.form"},"checksum":"abc"}`

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(Config{BaseURL: baseURL, RetryDelay: time.Millisecond})
	require.NoError(t, err)
	return c
}

func loginPage(token string) string {
	return `<html><head><meta name="csrf-token" content="` + token + `"></head><body></body></html>`
}

func TestNewClient_RejectsBadBaseURL(t *testing.T) {
	_, err := NewClient(Config{BaseURL: "not a url"})
	require.Error(t, err)
}

func TestFetch_RefreshesToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "coolify_session", Value: "s1"})
		w.Write([]byte(loginPage("tok-1")))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	page, err := c.Fetch(context.Background(), "/login")
	require.NoError(t, err)

	assert.Equal(t, "tok-1", page.Token)
	tok, ok := c.Session().Token()
	assert.True(t, ok)
	assert.Equal(t, "tok-1", tok)
	v, _ := c.Session().Cookie("coolify_session")
	assert.Equal(t, "s1", v)
}

func TestFetch_NonSuccessKeepsToken(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Write([]byte(loginPage("good")))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(loginPage("from-error-page")))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.Fetch(context.Background(), "/a")
	require.NoError(t, err)

	page, err := c.Fetch(context.Background(), "/b")
	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusInternalServerError, httpErr.StatusCode)
	assert.NotNil(t, page)

	tok, _ := c.Session().Token()
	assert.Equal(t, "good", tok)
}

func TestSubmitForm_AddsTokenAndHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.Write([]byte(loginPage("form-tok")))
		case http.MethodPost:
			assert.NoError(t, r.ParseForm())
			assert.Equal(t, "form-tok", r.PostForm.Get("_token"))
			assert.Equal(t, "me@example.com", r.PostForm.Get("email"))
			assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
			assert.NotEmpty(t, r.Header.Get("Origin"))
			assert.Contains(t, r.Header.Get("Referer"), "/login")
			w.Write([]byte(`<h1>Dashboard</h1>`))
		}
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.Fetch(context.Background(), "/login")
	require.NoError(t, err)

	page, err := c.SubmitForm(context.Background(), "/login", url.Values{"email": {"me@example.com"}}, "/login")
	require.NoError(t, err)
	assert.Contains(t, page.Body, "Dashboard")
}

func TestCall_RequiresToken(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1")
	s, err := snapshot.Parse(formSnapshot)
	require.NoError(t, err)

	_, err = c.Call(context.Background(), Call{Snapshot: s, Method: "submit"})
	assert.True(t, errors.Is(err, ErrNoToken))
}

func TestCall_SendsWireFormatAndParsesResponse(t *testing.T) {
	var received updateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.Write([]byte(loginPage("lw-tok")))
			return
		}
		assert.Equal(t, DefaultUpdatePath, r.URL.Path)
		assert.Equal(t, "true", r.Header.Get("X-Livewire"))
		assert.Equal(t, "lw-tok", r.Header.Get("X-CSRF-TOKEN"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Contains(t, r.Header.Get("Referer"), "/new")

		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &received))

		next := `{"data":{"repository_url":"https://github.com/acme/app","branch":"main"},"memo":{"id":"cmp1","name":"project.new.form"},"checksum":"def"}`
		resp := map[string]any{
			"components": []map[string]any{{
				"snapshot": next,
				"effects":  map[string]any{"redirect": "/project/p/environment/e/application/" + "abcdefghijklmnopqrstuvwx", "returns": []any{nil}},
			}},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.Fetch(context.Background(), "/new")
	require.NoError(t, err)

	s, err := snapshot.Parse(formSnapshot)
	require.NoError(t, err)

	res, err := c.Call(context.Background(), Call{
		Snapshot: s,
		Updates:  map[string]any{"repository_url": "https://github.com/acme/app"},
		Method:   "submit",
		Referer:  "/new",
	})
	require.NoError(t, err)

	assert.Equal(t, "lw-tok", received.Token)
	require.Len(t, received.Components, 1)
	assert.Equal(t, formSnapshot, received.Components[0].Snapshot)
	assert.Equal(t, "https://github.com/acme/app", received.Components[0].Updates["repository_url"])
	require.Len(t, received.Components[0].Calls, 1)
	assert.Equal(t, "submit", received.Components[0].Calls[0].Method)
	assert.Equal(t, "", received.Components[0].Calls[0].Path)
	assert.NotNil(t, received.Components[0].Calls[0].Params)

	require.NotNil(t, res.Snapshot)
	assert.Equal(t, "cmp1", res.Snapshot.ComponentID)
	assert.Equal(t, "def", res.Snapshot.Checksum())
	assert.Equal(t, "https://github.com/acme/app", res.Snapshot.String("repository_url"))
	assert.Contains(t, res.Effects.Redirect, "/application/abcdefghijklmnopqrstuvwx")
	assert.NotEmpty(t, res.Effects.Raw)
}

func TestCall_UpdatesOnlyHasEmptyCalls(t *testing.T) {
	var raw map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.Write([]byte(loginPage("t")))
			return
		}
		json.NewDecoder(r.Body).Decode(&raw)
		w.Write([]byte(`{"components":[]}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.Fetch(context.Background(), "/")
	require.NoError(t, err)
	s, _ := snapshot.Parse(formSnapshot)

	res, err := c.Call(context.Background(), Call{Snapshot: s})
	require.NoError(t, err)
	assert.Nil(t, res.Snapshot)

	comp := raw["components"].([]any)[0].(map[string]any)
	assert.Equal(t, []any{}, comp["calls"])
	assert.Equal(t, map[string]any{}, comp["updates"])
}

func TestCall_ProtocolErrorNotRetriedAndTokenKept(t *testing.T) {
	var posts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.Write([]byte(loginPage("keep-me")))
			return
		}
		atomic.AddInt32(&posts, 1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"message":"The repository url field is required.","csrf":"other"}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.Fetch(context.Background(), "/")
	require.NoError(t, err)
	s, _ := snapshot.Parse(formSnapshot)

	_, err = c.Call(context.Background(), Call{Snapshot: s, Method: "submit"})
	var perr *ProtocolError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, http.StatusUnprocessableEntity, perr.StatusCode)
	assert.Contains(t, string(perr.Body), "repository url field is required")
	assert.Equal(t, int32(1), atomic.LoadInt32(&posts))

	tok, _ := c.Session().Token()
	assert.Equal(t, "keep-me", tok)
}

func TestCall_ComponentIDSuffix(t *testing.T) {
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.Write([]byte(loginPage("t")))
			return
		}
		path = r.URL.Path
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c, err := NewClient(Config{BaseURL: server.URL, UpdatePath: "/livewire/message", IDSuffix: SuffixComponentID})
	require.NoError(t, err)
	_, err = c.Fetch(context.Background(), "/")
	require.NoError(t, err)
	s, _ := snapshot.Parse(formSnapshot)

	_, err = c.Call(context.Background(), Call{Snapshot: s})
	require.NoError(t, err)
	assert.Equal(t, "/livewire/message/cmp1", path)
}

// flakyListener closes the first n connections without answering.
type flakyListener struct {
	net.Listener
	remaining int32
}

func (l *flakyListener) Accept() (net.Conn, error) {
	for {
		conn, err := l.Listener.Accept()
		if err != nil {
			return nil, err
		}
		if atomic.AddInt32(&l.remaining, -1) >= 0 {
			conn.Close()
			continue
		}
		return conn, nil
	}
}

func TestFetch_RetriesTransientFailures(t *testing.T) {
	server := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(loginPage("after-retry")))
	}))
	server.Listener = &flakyListener{Listener: server.Listener, remaining: 2}
	server.Start()
	defer server.Close()

	c := newTestClient(t, server.URL)
	page, err := c.Fetch(context.Background(), "/")
	require.NoError(t, err)
	assert.Equal(t, "after-retry", page.Token)
}

func TestFetch_GivesUpAfterAttempts(t *testing.T) {
	server := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	server.Listener = &flakyListener{Listener: server.Listener, remaining: 100}
	server.Start()
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.Fetch(context.Background(), "/")
	require.Error(t, err)
	assert.True(t, errors.Is(err, transport.ErrNetwork))
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestURL(t *testing.T) {
	c := newTestClient(t, "https://coolify.example.com/")
	assert.Equal(t, "https://coolify.example.com/projects", c.URL("/projects"))
	assert.Equal(t, "https://coolify.example.com/projects", c.URL("projects"))
	assert.Equal(t, "https://coolify.example.com/new?type=x&server_id=0", c.URL("/new?type=x&server_id=0"))
	assert.Equal(t, "https://other.example.com/x", c.URL("https://other.example.com/x"))
}
