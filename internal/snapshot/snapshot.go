package snapshot

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Snapshot is the decoded state of one server-side component.
//
// Only Data is meant to be touched. The memo, checksum and any other
// top-level keys are kept as raw JSON and forwarded unchanged; while Data has
// not been mutated the original JSON text is sent back byte for byte.
type Snapshot struct {
	ComponentID string
	Data        map[string]any

	raw    string
	fields map[string]json.RawMessage
	dirty  bool
}

// Wire returns the plain JSON text to send to the update endpoint.
func (s *Snapshot) Wire() (string, error) {
	if !s.dirty && s.raw != "" {
		return s.raw, nil
	}

	out := make(map[string]json.RawMessage, len(s.fields)+1)
	for k, v := range s.fields {
		out[k] = v
	}
	data, err := marshal(s.Data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal snapshot data: %w", err)
	}
	out["data"] = data

	b, err := marshal(out)
	if err != nil {
		return "", fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return string(b), nil
}

// Modified reports whether Data was changed through Set.
func (s *Snapshot) Modified() bool {
	return s.dirty
}

// Memo returns the opaque metadata block.
func (s *Snapshot) Memo() json.RawMessage {
	return s.fields["memo"]
}

// Checksum returns the server checksum, if present.
func (s *Snapshot) Checksum() string {
	var v string
	if raw, ok := s.fields["checksum"]; ok {
		_ = json.Unmarshal(raw, &v)
	}
	return v
}

// ComponentName returns memo.name, e.g. "project.application.general".
func (s *Snapshot) ComponentName() string {
	return s.memoString("name")
}

func (s *Snapshot) memoString(key string) string {
	raw, ok := s.fields["memo"]
	if !ok {
		return ""
	}
	var memo map[string]json.RawMessage
	if err := json.Unmarshal(raw, &memo); err != nil {
		return ""
	}
	var v string
	if err := json.Unmarshal(memo[key], &v); err != nil {
		return ""
	}
	return v
}

// Set assigns a data field. Dotted paths walk into nested objects, creating
// only the ones that are absent. A segment holding anything other than an
// object (a model tuple, a scalar) is an error and nothing is changed.
func (s *Snapshot) Set(path string, value any) error {
	if s.Data == nil {
		s.Data = map[string]any{}
	}
	parts := strings.Split(path, ".")

	cur := s.Data
	for i, p := range parts[:len(parts)-1] {
		v, exists := cur[p]
		if !exists {
			break
		}
		next, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: %s is not an object", ErrMalformedSnapshot, strings.Join(parts[:i+1], "."))
		}
		cur = next
	}

	cur = s.Data
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[p] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = value
	s.dirty = true
	return nil
}

// Get reads a data field by dotted path.
func (s *Snapshot) Get(path string) (any, bool) {
	var cur any = s.Data
	for _, p := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// String reads a data field and renders scalars as text.
func (s *Snapshot) String(path string) string {
	v, ok := s.Get(path)
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	}
	return ""
}

// TupleKeys reads the keys of a synthesized model collection, which the
// server serializes as [[...], {"keys": [...], "class": ...}].
func (s *Snapshot) TupleKeys(field string) []string {
	v, ok := s.Get(field)
	if !ok {
		return nil
	}
	tuple, ok := v.([]any)
	if !ok || len(tuple) < 2 {
		return nil
	}
	meta, ok := tuple[1].(map[string]any)
	if !ok {
		return nil
	}
	rawKeys, ok := meta["keys"].([]any)
	if !ok {
		return nil
	}

	keys := make([]string, 0, len(rawKeys))
	for _, k := range rawKeys {
		switch t := k.(type) {
		case json.Number:
			keys = append(keys, t.String())
		case string:
			keys = append(keys, t)
		}
	}
	return keys
}
