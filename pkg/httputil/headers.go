// Package httputil provides small HTTP helpers used by the push ingester
// and REST surface that the standard library does not give us directly:
// an insertion-ordered, case-insensitive header bag for inspection by
// event subscribers. Names are stored lowercased, so the client's
// literal casing is not kept.
package httputil

import "strings"

// Headers is a case-insensitive, insertion-ordered header bag. Field names
// are normalised to lowercase at insertion time (per the redesign notes
// replacing char-traits-based case-insensitive comparison), but the first
// value set for a name determines its position when iterated with Names.
type Headers struct {
	order []string
	data  map[string][]string
}

// NewHeaders returns an empty header bag.
func NewHeaders() *Headers {
	return &Headers{data: make(map[string][]string)}
}

func key(name string) string { return strings.ToLower(name) }

// Set replaces all values for name.
func (h *Headers) Set(name, value string) {
	k := key(name)
	if _, exists := h.data[k]; !exists {
		h.order = append(h.order, k)
	}
	h.data[k] = []string{value}
}

// Add appends a value for name without discarding existing values.
func (h *Headers) Add(name, value string) {
	k := key(name)
	if _, exists := h.data[k]; !exists {
		h.order = append(h.order, k)
	}
	h.data[k] = append(h.data[k], value)
}

// Get returns the first value for name, or "" if absent.
func (h *Headers) Get(name string) string {
	vs := h.data[key(name)]
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

// Values returns all values for name.
func (h *Headers) Values(name string) []string {
	return h.data[key(name)]
}

// Has reports whether name has been set.
func (h *Headers) Has(name string) bool {
	_, ok := h.data[key(name)]
	return ok
}

// Names returns the lowercase header names in first-insertion order.
func (h *Headers) Names() []string {
	out := make([]string, len(h.order))
	copy(out, h.order)
	return out
}
