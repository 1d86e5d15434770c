package session

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApplyResponseCookies_Overwrite(t *testing.T) {
	s := NewStore()

	h := http.Header{}
	h.Add("Set-Cookie", "XSRF-TOKEN=first; path=/; secure")
	h.Add("Set-Cookie", "coolify_session=abc; path=/; httponly")
	s.ApplyResponseCookies(h)

	assert.Equal(t, "XSRF-TOKEN=first; coolify_session=abc", s.CookieHeader())

	h2 := http.Header{}
	h2.Add("Set-Cookie", "coolify_session=def; path=/")
	s.ApplyResponseCookies(h2)

	assert.Equal(t, "XSRF-TOKEN=first; coolify_session=def", s.CookieHeader())
	assert.Equal(t, 2, s.Len())
}

func TestApplyResponseCookies_NoHeader(t *testing.T) {
	s := NewStore()
	s.ApplyResponseCookies(http.Header{"Content-Type": []string{"text/html"}})
	assert.Equal(t, "", s.CookieHeader())
	assert.Equal(t, 0, s.Len())
}

func TestToken_LatestWins(t *testing.T) {
	s := NewStore()

	_, ok := s.Token()
	assert.False(t, ok)

	s.SetToken("one")
	s.SetToken("")
	s.SetToken("two")

	tok, ok := s.Token()
	assert.True(t, ok)
	assert.Equal(t, "two", tok)
}
