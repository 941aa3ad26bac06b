package session

import (
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	// ProtectedCookie is the session-identity cookie. It is handed out once
	// at login and must never be overwritten from a response, or the server
	// drops the authenticated session on the next request.
	ProtectedCookie = "ASP.NET_SessionId"

	// AuthCookie marks a successfully authenticated session.
	AuthCookie = ".ASPXAUTH"

	// GuestMarker showing up non-empty on a response means the server has
	// silently downgraded the session to anonymous; the jar is expired.
	GuestMarker = "GuestUser"
)

// Cookie is one stored cookie with the merge timestamp used for
// newest-wins conflict resolution.
type Cookie struct {
	Name      string    `json:"name"`
	Value     string    `json:"value"`
	Domain    string    `json:"domain"`
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
}

// Jar holds the cookies of one target's session.
type Jar struct {
	mu      sync.RWMutex
	cookies map[string]Cookie
	created time.Time
}

func NewJar() *Jar {
	return &Jar{
		cookies: make(map[string]Cookie),
		created: time.Now(),
	}
}

func (j *Jar) Set(c Cookie) {
	if c.Timestamp.IsZero() {
		c.Timestamp = time.Now()
	}
	j.mu.Lock()
	j.cookies[c.Name] = c
	j.mu.Unlock()
}

func (j *Jar) Get(name string) (Cookie, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	c, ok := j.cookies[name]
	return c, ok
}

// Merge applies an observed cookie with newest-wins semantics. The protected
// session-identity cookie is never replaced once present.
func (j *Jar) Merge(c Cookie) {
	if c.Timestamp.IsZero() {
		c.Timestamp = time.Now()
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	existing, ok := j.cookies[c.Name]
	if ok && c.Name == ProtectedCookie {
		return
	}
	if ok && !c.Timestamp.After(existing.Timestamp) {
		return
	}
	j.cookies[c.Name] = c
}

// Snapshot returns a copy of all cookies.
func (j *Jar) Snapshot() map[string]Cookie {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make(map[string]Cookie, len(j.cookies))
	for k, v := range j.cookies {
		out[k] = v
	}
	return out
}

// Header renders the jar as a Cookie request header value.
func (j *Jar) Header() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	parts := make([]string, 0, len(j.cookies))
	for _, c := range j.cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

func (j *Jar) Age() time.Duration {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return time.Since(j.created)
}

func (j *Jar) restore(cookies map[string]Cookie, created time.Time) {
	j.mu.Lock()
	j.cookies = cookies
	j.created = created
	j.mu.Unlock()
}

// Key derives the per-target jar key from a URL: the first path segment
// identifies the store on the shared host, falling back to the hostname for
// host-root URLs.
func Key(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	trimmed := strings.Trim(u.Path, "/")
	if trimmed == "" {
		return u.Hostname()
	}
	if i := strings.IndexByte(trimmed, '/'); i >= 0 {
		trimmed = trimmed[:i]
	}
	return trimmed
}
