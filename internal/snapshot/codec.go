// Package snapshot decodes, mutates and re-encodes the serialized component
// state that the server embeds in pages and echoes through the update endpoint.
package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedSnapshot is returned when a snapshot does not decode to a JSON object.
var ErrMalformedSnapshot = errors.New("malformed snapshot")

type entity struct {
	encoded string
	decoded string
}

// Applied top to bottom when decoding and bottom to top when encoding, so
// "&amp;" is always the last entity expanded and the first one produced.
var entities = []entity{
	{"&quot;", `"`},
	{"&#39;", "'"},
	{"&#039;", "'"},
	{"&lt;", "<"},
	{"&gt;", ">"},
	{"&amp;", "&"},
}

// Unescape reverses the HTML entity substitutions applied to an attribute value.
func Unescape(s string) string {
	for _, e := range entities {
		s = strings.ReplaceAll(s, e.encoded, e.decoded)
	}
	return s
}

// Escape applies the inverse of Unescape.
func Escape(s string) string {
	for i := len(entities) - 1; i >= 0; i-- {
		s = strings.ReplaceAll(s, entities[i].decoded, entities[i].encoded)
	}
	return s
}

// Decode parses an HTML-escaped snapshot attribute.
func Decode(escaped string) (*Snapshot, error) {
	return Parse(Unescape(escaped))
}

// Encode renders s in its HTML-escaped attribute form.
func Encode(s *Snapshot) (string, error) {
	wire, err := s.Wire()
	if err != nil {
		return "", err
	}
	return Escape(wire), nil
}

// Parse reads a snapshot that is already plain JSON, as returned by the
// update endpoint.
func Parse(raw string) (*Snapshot, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedSnapshot)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: payload is not an object", ErrMalformedSnapshot)
	}

	data := map[string]any{}
	if rawData, ok := fields["data"]; ok && !isNull(rawData) {
		dec := json.NewDecoder(bytes.NewReader(rawData))
		dec.UseNumber()
		if err := dec.Decode(&data); err != nil {
			return nil, fmt.Errorf("%w: data: %v", ErrMalformedSnapshot, err)
		}
	}
	delete(fields, "data")

	s := &Snapshot{
		Data:   data,
		raw:    trimmed,
		fields: fields,
	}
	s.ComponentID = s.memoString("id")
	return s, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
