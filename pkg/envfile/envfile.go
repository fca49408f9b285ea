// Package envfile parses and serializes dotenv-style KEY=value files.
//
// The in-memory representation is an ordered map: insertion order is
// preserved so that a parse/stringify round trip is deterministic and
// diff-friendly. Comments and blank lines are parse-time information and
// are not retained.
package envfile

import (
	"strings"
)

// Map is an ordered mapping of variable name to string value.
// A later Set for an existing key overwrites the value but keeps the
// position of the first occurrence.
type Map struct {
	keys   []string
	values map[string]string
}

// New returns an empty Map.
func New() *Map {
	return &Map{values: make(map[string]string)}
}

// Set stores value under key, preserving the key's original position if it
// already exists.
func (m *Map) Set(key, value string) {
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

// Get returns the value for key and whether it is present.
func (m *Map) Get(key string) (string, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Delete removes key from the map. Removing an absent key is a no-op.
func (m *Map) Delete(key string) {
	if _, ok := m.values[key]; !ok {
		return
	}
	delete(m.values, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
}

// Len returns the number of entries.
func (m *Map) Len() int {
	return len(m.keys)
}

// Keys returns the variable names in insertion order.
// The returned slice is a copy.
func (m *Map) Keys() []string {
	keys := make([]string, len(m.keys))
	copy(keys, m.keys)
	return keys
}

// Equal reports whether two maps hold the same entries in the same order.
func (m *Map) Equal(other *Map) bool {
	if m.Len() != other.Len() {
		return false
	}
	for i, k := range m.keys {
		if other.keys[i] != k {
			return false
		}
		if m.values[k] != other.values[k] {
			return false
		}
	}
	return true
}

// Parse reads dotenv-style text into an ordered Map.
//
// Blank lines and lines starting with '#' are skipped. Each remaining line
// is split on the first '=', both sides are trimmed, and one layer of
// matching surrounding quotes (single or double) is stripped from the
// value. Lines without '=' are ignored. Later duplicate keys overwrite
// earlier values while keeping the first occurrence's position.
func Parse(text string) *Map {
	m := New()
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		m.Set(key, unquote(strings.TrimSpace(value)))
	}
	return m
}

// String serializes the map as KEY=value lines in insertion order.
// Values containing whitespace, '#', or '=' are wrapped in double quotes.
func (m *Map) String() string {
	var b strings.Builder
	for _, k := range m.keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(quote(m.values[k]))
		b.WriteByte('\n')
	}
	return b.String()
}

// Merge returns a new Map holding base's entries with overlay's entries
// applied on top. Overlay values win; key ordering follows base with
// overlay-only keys appended in overlay order.
func Merge(base, overlay *Map) *Map {
	out := New()
	for _, k := range base.keys {
		out.Set(k, base.values[k])
	}
	for _, k := range overlay.keys {
		out.Set(k, overlay.values[k])
	}
	return out
}

func unquote(s string) string {
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

func quote(s string) string {
	if strings.ContainsAny(s, " \t#=") {
		return `"` + s + `"`
	}
	return s
}
