package session

import (
	"net/url"
	"strings"
)

const (
	HeaderUserAgent = "User-Agent"
	HeaderReferer   = "Referer"
	HeaderCookie    = "Cookie"
)

// Static request fields copied from a desktop Chrome 124 navigation. These are
// literals on purpose: any drift from the real browser is a fingerprint.
const (
	acceptValue         = "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8"
	acceptLanguageValue = "en-US,en;q=0.9"
	acceptEncodingValue = "gzip, deflate, br"
	secChUaValue        = `"Not/A)Brand";v="8", "Chromium";v="124", "Google Chrome";v="124"`
	secChUaPlatform     = `"Windows"`
)

// HeaderSet is an ordered, case-insensitive mapping of header names to values.
// Insertion order is kept because the transport emits headers in that order.
type HeaderSet struct {
	names  []string
	values map[string]string
}

func NewHeaderSet() HeaderSet {
	return HeaderSet{values: make(map[string]string)}
}

func (h *HeaderSet) Set(name, value string) {
	if h.values == nil {
		h.values = make(map[string]string)
	}
	key := strings.ToLower(name)
	if _, ok := h.values[key]; !ok {
		h.names = append(h.names, name)
	}
	h.values[key] = value
}

func (h HeaderSet) Get(name string) string {
	return h.values[strings.ToLower(name)]
}

func (h HeaderSet) Has(name string) bool {
	_, ok := h.values[strings.ToLower(name)]
	return ok
}

func (h *HeaderSet) Del(name string) {
	key := strings.ToLower(name)
	if _, ok := h.values[key]; !ok {
		return
	}
	delete(h.values, key)
	for i, n := range h.names {
		if strings.ToLower(n) == key {
			h.names = append(h.names[:i:i], h.names[i+1:]...)
			break
		}
	}
}

// Names returns header names in insertion order.
func (h HeaderSet) Names() []string {
	out := make([]string, len(h.names))
	copy(out, h.names)
	return out
}

func (h HeaderSet) Len() int {
	return len(h.names)
}

// Each calls fn for every header in insertion order.
func (h HeaderSet) Each(fn func(name, value string)) {
	for _, n := range h.names {
		fn(n, h.values[strings.ToLower(n)])
	}
}

func (h HeaderSet) Clone() HeaderSet {
	c := HeaderSet{
		names:  make([]string, len(h.names)),
		values: make(map[string]string, len(h.values)),
	}
	copy(c.names, h.names)
	for k, v := range h.values {
		c.values[k] = v
	}
	return c
}

// BuildHeaders returns the browser-consistent header set for a navigation with
// the given user agent and referer. The Cookie field is left to the caller.
func BuildHeaders(userAgent, referer string) HeaderSet {
	h := NewHeaderSet()
	h.Set(HeaderUserAgent, userAgent)
	h.Set("Accept", acceptValue)
	h.Set("Accept-Language", acceptLanguageValue)
	h.Set("Accept-Encoding", acceptEncodingValue)
	h.Set("Cache-Control", "no-cache")
	h.Set("Pragma", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("Upgrade-Insecure-Requests", "1")
	h.Set("Sec-Fetch-Dest", "document")
	h.Set("Sec-Fetch-Mode", "navigate")
	h.Set("Sec-Fetch-Site", "same-origin")
	h.Set("Sec-Fetch-User", "?1")
	h.Set("Sec-Ch-Ua", secChUaValue)
	h.Set("Sec-Ch-Ua-Mobile", "?0")
	h.Set("Sec-Ch-Ua-Platform", secChUaPlatform)
	h.Set(HeaderReferer, referer)
	return h
}

// RefererFor derives the Referer from the scheme and host of target, falling
// back to base when target is empty or not absolute.
func RefererFor(target, base string) string {
	if target == "" {
		return base
	}
	u, err := url.Parse(target)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return base
	}
	return u.Scheme + "://" + u.Host + "/"
}
