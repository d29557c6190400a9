package session

import "sync"

// Store holds the currently trusted identity. It is the only place the HTTP
// layer reads cookies and headers from, and it regenerates the Cookie header
// from the live cookie collection on every read.
type Store struct {
	mu      sync.Mutex
	headers HeaderSet
	cookies []Cookie
	index   map[string]int
}

func NewStore() *Store {
	return &Store{
		headers: NewHeaderSet(),
		index:   make(map[string]int),
	}
}

// Apply replaces the whole state with id. Cookies from a previous identity do
// not survive.
func (s *Store) Apply(id Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.headers = id.Headers.Clone()
	s.cookies = make([]Cookie, 0, len(id.Cookies))
	s.index = make(map[string]int, len(id.Cookies))
	for _, c := range id.Cookies {
		s.put(c)
	}
}

// Absorb merges cookies delivered by a response, overwriting by name.
func (s *Store) Absorb(cookies []Cookie) {
	if len(cookies) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range cookies {
		s.put(c)
	}
}

func (s *Store) put(c Cookie) {
	if i, ok := s.index[c.Name]; ok {
		s.cookies[i] = c
		return
	}
	s.index[c.Name] = len(s.cookies)
	s.cookies = append(s.cookies, c)
}

// Headers returns a copy of the current header set with the Cookie field
// serialized from the cookie collection at call time.
func (s *Store) Headers() HeaderSet {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.headers.Clone()
	if cookie := SerializeCookies(s.cookies); cookie != "" {
		h.Set(HeaderCookie, cookie)
	} else {
		h.Del(HeaderCookie)
	}
	return h
}

// Cookies returns a copy of the cookie collection in insertion order.
func (s *Store) Cookies() []Cookie {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Cookie, len(s.cookies))
	copy(out, s.cookies)
	return out
}

func (s *Store) Cookie(name string) (Cookie, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[name]
	if !ok {
		return Cookie{}, false
	}
	return s.cookies[i], true
}
