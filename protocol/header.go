package protocol

import "strings"

// Header is an ordered set of request headers. Keys compare case-insensitively;
// the spelling of the first Set wins and its position is kept on overwrite.
type Header struct {
	keys   []string
	values map[string]string
}

// NewHeader returns an empty header set.
func NewHeader() *Header {
	return &Header{values: make(map[string]string)}
}

// Set adds key or overwrites its value in place.
func (h *Header) Set(key, value string) {
	norm := strings.ToLower(key)
	if _, ok := h.values[norm]; !ok {
		h.keys = append(h.keys, key)
	}
	h.values[norm] = value
}

// Get returns the value for key and whether it is present.
func (h *Header) Get(key string) (string, bool) {
	v, ok := h.values[strings.ToLower(key)]
	return v, ok
}

// Each calls fn for every header in insertion order.
func (h *Header) Each(fn func(key, value string)) {
	for _, k := range h.keys {
		fn(k, h.values[strings.ToLower(k)])
	}
}
