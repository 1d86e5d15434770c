// Package extract pulls protocol artifacts (CSRF tokens, component snapshots,
// resource identifiers) out of HTML and JSON response bodies.
//
// Every artifact kind has its own strategy so a markup change only breaks
// one pattern. Absence is reported as ErrNotFound, never as an empty value.
package extract

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/bgdnvk/coolctl/internal/snapshot"
)

// ErrNotFound is returned when a required artifact is absent from a body.
var ErrNotFound = errors.New("artifact not found")

// Extractor is one extraction strategy.
type Extractor[T any] interface {
	Extract(body string) (T, error)
}

var (
	_ Extractor[string]    = TokenExtractor{}
	_ Extractor[Component] = ComponentExtractor{}
	_ Extractor[string]    = IdentifierExtractor{}
	_ Extractor[Pair]      = PairExtractor{}
	_ Extractor[string]    = StatusExtractor{}
)

func notFound(what string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, what)
}

// TokenExtractor finds the CSRF token. Patterns are tried in order and the
// first non-empty match wins.
type TokenExtractor struct {
	Patterns []*regexp.Regexp
}

var defaultTokenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`<meta[^>]*name="csrf-token"[^>]*content="([^"]+)"`),
	regexp.MustCompile(`<meta[^>]*content="([^"]+)"[^>]*name="csrf-token"`),
	regexp.MustCompile(`<input[^>]*name="_token"[^>]*value="([^"]+)"`),
	regexp.MustCompile(`<input[^>]*value="([^"]+)"[^>]*name="_token"`),
	regexp.MustCompile(`data-csrf="([^"]+)"`),
}

// NewTokenExtractor returns the meta tag, hidden input, data-csrf chain.
func NewTokenExtractor() TokenExtractor {
	return TokenExtractor{Patterns: defaultTokenPatterns}
}

func (e TokenExtractor) Extract(body string) (string, error) {
	for _, re := range e.Patterns {
		if m := re.FindStringSubmatch(body); m != nil && strings.TrimSpace(m[1]) != "" {
			return m[1], nil
		}
	}
	return "", notFound("csrf token")
}

// Component is an embedded component: its id and the still-escaped snapshot.
type Component struct {
	ID      string
	Encoded string
}

// Decode turns the component into a snapshot carrying its id.
func (c Component) Decode() (*snapshot.Snapshot, error) {
	s, err := snapshot.Decode(c.Encoded)
	if err != nil {
		return nil, err
	}
	if c.ID != "" {
		s.ComponentID = c.ID
	}
	return s, nil
}

var componentPattern = regexp.MustCompile(`wire:snapshot="([^"]*)"[^>]*?wire:id="([^"]+)"`)

// ComponentExtractor scans every element carrying a snapshot and an id and
// selects the first one whose decoded payload contains one of Markers.
// With no markers the first component on the page is returned.
type ComponentExtractor struct {
	Markers []string
}

func (e ComponentExtractor) Extract(body string) (Component, error) {
	for _, m := range e.All(body) {
		if len(e.Markers) == 0 {
			return m, nil
		}
		decoded := snapshot.Unescape(m.Encoded)
		for _, marker := range e.Markers {
			if marker != "" && strings.Contains(decoded, marker) {
				return m, nil
			}
		}
	}
	if len(e.Markers) > 0 {
		return Component{}, notFound("component matching " + strings.Join(e.Markers, ", "))
	}
	return Component{}, notFound("component")
}

// All returns every component on the page in document order.
func (e ComponentExtractor) All(body string) []Component {
	matches := componentPattern.FindAllStringSubmatch(body, -1)
	out := make([]Component, 0, len(matches))
	for _, m := range matches {
		out = append(out, Component{ID: m[2], Encoded: m[1]})
	}
	return out
}

// IDPattern is the shape of a resource identifier.
const IDPattern = `[a-z0-9]{24}`

// IdentifierExtractor finds identifiers following a path segment such as
// "project/". Extract returns the most recent one (see Latest).
type IdentifierExtractor struct {
	Segment string
	re      *regexp.Regexp
}

// NewIdentifierExtractor builds an extractor for segment, e.g. "application/".
func NewIdentifierExtractor(segment string) IdentifierExtractor {
	return IdentifierExtractor{
		Segment: segment,
		re:      regexp.MustCompile(regexp.QuoteMeta(segment) + `(` + IDPattern + `)\b`),
	}
}

func (e IdentifierExtractor) pattern() *regexp.Regexp {
	if e.re != nil {
		return e.re
	}
	return regexp.MustCompile(regexp.QuoteMeta(e.Segment) + `(` + IDPattern + `)\b`)
}

// All returns the distinct identifiers in first-seen order.
func (e IdentifierExtractor) All(body string) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, m := range e.pattern().FindAllStringSubmatch(body, -1) {
		if seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		ids = append(ids, m[1])
	}
	return ids
}

// Latest returns the last distinct identifier. Listings are assumed to render
// oldest first, so this is taken as the most recently created resource; the
// ordering is not verified.
func (e IdentifierExtractor) Latest(body string) (string, error) {
	ids := e.All(body)
	if len(ids) == 0 {
		return "", notFound(e.Segment + " identifier")
	}
	return ids[len(ids)-1], nil
}

// First returns the first identifier on the page.
func (e IdentifierExtractor) First(body string) (string, error) {
	ids := e.All(body)
	if len(ids) == 0 {
		return "", notFound(e.Segment + " identifier")
	}
	return ids[0], nil
}

func (e IdentifierExtractor) Extract(body string) (string, error) {
	return e.Latest(body)
}

// Pair is a project/environment link as rendered on the dashboard.
type Pair struct {
	ProjectID     string
	EnvironmentID string
}

var pairPattern = regexp.MustCompile(`/project/(` + IDPattern + `)/environment/(` + IDPattern + `)\b`)

// PairExtractor finds project/environment link pairs; Extract returns the last.
type PairExtractor struct{}

func (PairExtractor) Extract(body string) (Pair, error) {
	matches := pairPattern.FindAllStringSubmatch(body, -1)
	if len(matches) == 0 {
		return Pair{}, notFound("project/environment link")
	}
	last := matches[len(matches)-1]
	return Pair{ProjectID: last[1], EnvironmentID: last[2]}, nil
}

// Deployment statuses rendered on the deployment page.
const (
	StatusQueued     = "queued"
	StatusInProgress = "in_progress"
	StatusFinished   = "finished"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled-by-user"
)

const statusWords = `queued|in_progress|in progress|finished|failed|cancelled-by-user`

var statusPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:&quot;|")status(?:&quot;|")\s*:\s*(?:&quot;|")(` + statusWords + `)(?:&quot;|")`),
	regexp.MustCompile(`(?i)data-status="(` + statusWords + `)"`),
	regexp.MustCompile(`(?i)\b(` + statusWords + `)\b`),
}

// StatusExtractor reads the deployment status from a deployment page or
// payload. Structured status fields are preferred over bare words; among
// bare words the first one wins since pages render the current status above
// the log output.
type StatusExtractor struct{}

func (StatusExtractor) Extract(body string) (string, error) {
	for _, re := range statusPatterns {
		m := re.FindStringSubmatch(body)
		if m == nil {
			continue
		}
		status := strings.ToLower(m[1])
		if status == "in progress" {
			status = StatusInProgress
		}
		return status, nil
	}
	return "", notFound("deployment status")
}

// IsTerminalStatus reports whether a deployment status will not change again.
func IsTerminalStatus(status string) bool {
	switch status {
	case StatusFinished, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

var (
	loginFormMarkers = []string{`name="password"`, `action="/login"`}
	rejectedMarkers  = []string{"These credentials do not match our records", "auth.failed"}
)

// LoginFormPresent reports whether body still renders the login form.
func LoginFormPresent(body string) bool {
	return containsAny(body, loginFormMarkers)
}

// CredentialsRejected reports whether body carries the bad-credentials message.
func CredentialsRejected(body string) bool {
	return containsAny(body, rejectedMarkers)
}

func containsAny(body string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(body, m) {
			return true
		}
	}
	return false
}
