package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bgdnvk/coolctl/internal/session"
)

func TestSend_FollowsRedirectAndMergesCookies(t *testing.T) {
	var seenCookie string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login":
			http.SetCookie(w, &http.Cookie{Name: "first", Value: "1"})
			w.Header().Set("Location", "/dashboard")
			w.WriteHeader(http.StatusFound)
		case "/dashboard":
			seenCookie = r.Header.Get("Cookie")
			http.SetCookie(w, &http.Cookie{Name: "second", Value: "2"})
			w.Write([]byte("welcome"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	store := session.NewStore()
	client := NewClient(store, Options{})

	resp, err := client.Send(context.Background(), Request{URL: server.URL + "/login"})
	require.NoError(t, err)

	assert.True(t, resp.Success())
	assert.Equal(t, "welcome", string(resp.Body))
	assert.Equal(t, server.URL+"/dashboard", resp.URL)
	assert.Equal(t, "first=1", seenCookie)
	assert.Equal(t, "first=1; second=2", store.CookieHeader())
}

func TestSend_PostRedirectBecomesGet(t *testing.T) {
	var finalMethod string
	var finalBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/login" {
			http.Redirect(w, r, "/home", http.StatusFound)
			return
		}
		finalMethod = r.Method
		b, _ := io.ReadAll(r.Body)
		finalBody = string(b)
	}))
	defer server.Close()

	client := NewClient(session.NewStore(), Options{})
	resp, err := client.Send(context.Background(), Request{
		Method: http.MethodPost,
		URL:    server.URL + "/login",
		Header: http.Header{"Content-Type": []string{"application/x-www-form-urlencoded"}},
		Body:   []byte("email=a&password=b"),
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, http.MethodGet, finalMethod)
	assert.Empty(t, finalBody)
}

func TestSend_TemporaryRedirectKeepsMethod(t *testing.T) {
	var finalMethod, finalBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/old" {
			w.Header().Set("Location", "/new")
			w.WriteHeader(http.StatusTemporaryRedirect)
			return
		}
		finalMethod = r.Method
		b, _ := io.ReadAll(r.Body)
		finalBody = string(b)
	}))
	defer server.Close()

	client := NewClient(session.NewStore(), Options{})
	_, err := client.Send(context.Background(), Request{
		Method: http.MethodPost,
		URL:    server.URL + "/old",
		Body:   []byte(`{"a":1}`),
	})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, finalMethod)
	assert.Equal(t, `{"a":1}`, finalBody)
}

func TestSend_TooManyRedirects(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/loop", http.StatusFound)
	}))
	defer server.Close()

	client := NewClient(session.NewStore(), Options{MaxRedirects: 3})
	_, err := client.Send(context.Background(), Request{URL: server.URL + "/loop"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTooManyRedirects))
	assert.False(t, IsTransient(err))
}

func TestSend_Timeout(t *testing.T) {
	done := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()
	defer close(done)

	client := NewClient(session.NewStore(), Options{Timeout: 50 * time.Millisecond})
	_, err := client.Send(context.Background(), Request{URL: server.URL})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout), "got %v", err)
	assert.True(t, IsTransient(err))
}

func TestSend_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := server.URL
	server.Close()

	client := NewClient(session.NewStore(), Options{Timeout: time.Second})
	_, err := client.Send(context.Background(), Request{URL: addr})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNetwork), "got %v", err)
	assert.False(t, errors.Is(err, ErrTimeout))
}

func TestSend_CancelledContextIsNotTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewClient(session.NewStore(), Options{})
	_, err := client.Send(ctx, Request{URL: server.URL})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, IsTransient(err))
}

func TestSend_DefaultHeaders(t *testing.T) {
	var ua, accept string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
		accept = r.Header.Get("Accept")
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(session.NewStore(), Options{UserAgent: "coolctl-test"})
	resp, err := client.Send(context.Background(), Request{
		URL:    server.URL,
		Header: http.Header{"Accept": []string{"application/json"}},
	})
	require.NoError(t, err)

	assert.False(t, resp.Success())
	assert.Equal(t, "coolctl-test", ua)
	assert.True(t, strings.HasPrefix(accept, "application/json"))
}
