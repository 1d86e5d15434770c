// Package session holds the cookies and CSRF token of one logged-in run.
package session

import (
	"net/http"
	"strings"
)

// Store keeps cookies with flat overwrite semantics: each name maps to its
// latest value, with no expiry, path or domain tracking. Insertion order is
// kept so the Cookie header is stable. Not safe for concurrent use.
type Store struct {
	order   []string
	cookies map[string]string
	token   string
}

// NewStore creates an empty session store
func NewStore() *Store {
	return &Store{cookies: make(map[string]string)}
}

// ApplyResponseCookies merges every Set-Cookie header into the store.
func (s *Store) ApplyResponseCookies(header http.Header) {
	if len(header.Values("Set-Cookie")) == 0 {
		return
	}
	resp := &http.Response{Header: header}
	for _, c := range resp.Cookies() {
		s.Set(c.Name, c.Value)
	}
}

// Set overwrites a single cookie.
func (s *Store) Set(name, value string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	if _, ok := s.cookies[name]; !ok {
		s.order = append(s.order, name)
	}
	s.cookies[name] = value
}

// Cookie returns the current value of a cookie.
func (s *Store) Cookie(name string) (string, bool) {
	v, ok := s.cookies[name]
	return v, ok
}

// CookieHeader renders the store as a Cookie request header value.
func (s *Store) CookieHeader() string {
	if len(s.order) == 0 {
		return ""
	}
	parts := make([]string, 0, len(s.order))
	for _, name := range s.order {
		parts = append(parts, name+"="+s.cookies[name])
	}
	return strings.Join(parts, "; ")
}

// Len returns the number of cookies held.
func (s *Store) Len() int {
	return len(s.order)
}

// SetToken replaces the CSRF token. Empty values are ignored.
func (s *Store) SetToken(value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	s.token = value
}

// Token returns the current CSRF token, if any.
func (s *Store) Token() (string, bool) {
	return s.token, s.token != ""
}
