package session

import (
	"strings"
	"time"
)

// Cookie is a single name/value pair harvested from the browser or delivered by
// a Set-Cookie header. Domain, Path and Expires are carried as-is and never
// evaluated.
type Cookie struct {
	Name    string    `json:"name"`
	Value   string    `json:"value"`
	Domain  string    `json:"domain,omitempty"`
	Path    string    `json:"path,omitempty"`
	Expires time.Time `json:"expires,omitempty"`
}

// Identity is the unit produced by a warm-up: the cookies and headers the HTTP
// layer should present, plus the page markup if the browser captured it.
// Treat it as immutable once returned.
type Identity struct {
	Cookies []Cookie
	Headers HeaderSet
	HTML    string
}

// HasHTML reports whether the warm-up captured rendered page content.
func (id Identity) HasHTML() bool {
	return id.HTML != ""
}

// SerializeCookies renders cookies the way a browser sends them:
// "name1=value1; name2=value2", preserving order.
func SerializeCookies(cookies []Cookie) string {
	if len(cookies) == 0 {
		return ""
	}

	var b strings.Builder
	for i, c := range cookies {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(c.Name)
		b.WriteByte('=')
		b.WriteString(c.Value)
	}
	return b.String()
}
