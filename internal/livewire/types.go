package livewire

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bgdnvk/coolctl/internal/snapshot"
)

// ErrNoToken is returned when a protocol call is attempted before any page
// has provided a CSRF token.
var ErrNoToken = errors.New("no csrf token in session")

// ProtocolError is a non-2xx answer from the update endpoint. It is never
// retried; the body usually carries the validation failure.
type ProtocolError struct {
	Endpoint   string
	StatusCode int
	Body       []byte
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("update endpoint %s returned status %d: %s", e.Endpoint, e.StatusCode, preview(e.Body, 300))
}

// HTTPError is a non-2xx answer to a page load or form post.
type HTTPError struct {
	URL        string
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s returned status %d", e.URL, e.StatusCode)
}

func preview(b []byte, max int) string {
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "..."
}

// Page is a fetched HTML page.
type Page struct {
	URL        string
	StatusCode int
	Body       string
	// Token is the CSRF token found on this page, empty if none.
	Token string
}

// Call is one round trip against a component: field updates applied
// together with at most one method invocation.
type Call struct {
	Snapshot *snapshot.Snapshot
	Updates  map[string]any
	Method   string
	Params   []any
	// Referer is the page that produced the snapshot.
	Referer string
}

// Effects are the side-channel results the server attaches to a component.
type Effects struct {
	Redirect string          `json:"redirect,omitempty"`
	HTML     string          `json:"html,omitempty"`
	Returns  []any           `json:"returns,omitempty"`
	Raw      json.RawMessage `json:"-"`
}

// Result is the outcome of a successful call.
type Result struct {
	// Snapshot is the updated component state; nil when the response did not
	// carry one.
	Snapshot   *snapshot.Snapshot
	Effects    Effects
	StatusCode int
	Body       []byte
}

type updateRequest struct {
	Token      string             `json:"_token"`
	Components []componentPayload `json:"components"`
}

type componentPayload struct {
	Snapshot string         `json:"snapshot"`
	Updates  map[string]any `json:"updates"`
	Calls    []methodCall   `json:"calls"`
}

type methodCall struct {
	Path   string `json:"path"`
	Method string `json:"method"`
	Params []any  `json:"params"`
}

type updateResponse struct {
	Components []struct {
		Snapshot string          `json:"snapshot"`
		Effects  json.RawMessage `json:"effects"`
	} `json:"components"`
}
