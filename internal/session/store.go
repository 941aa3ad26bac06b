package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	http "github.com/bogdanfinn/fhttp"

	"github.com/maltedev/shop-monitor/internal/captcha"
	"github.com/maltedev/shop-monitor/internal/config"
	"github.com/maltedev/shop-monitor/internal/ratelimit"
)

var ErrSessionExpired = errors.New("session: expired")

// HTTPClient is the slice of the transport the session store needs for the
// login flow.
type HTTPClient interface {
	Get(ctx context.Context, rawURL string, headers map[string]string) (*http.Response, error)
	PostForm(ctx context.Context, rawURL string, form url.Values, headers map[string]string) (*http.Response, error)
}

type persistedJar struct {
	Created time.Time         `json:"created"`
	Cookies map[string]Cookie `json:"cookies"`
}

// Store maintains one authenticated cookie jar per target store, with disk
// persistence and lazy fetch-or-build semantics: a missing jar is derived
// from a persisted snapshot, a structured login, or a flat cookie export,
// in that order.
type Store struct {
	cfg     config.SessionConfig
	http    HTTPClient
	captcha *captcha.Resolver
	limiter *ratelimit.Keyed
	logger  *slog.Logger

	mu   sync.Mutex
	jars map[string]*Jar
}

// NewStore builds a session store. limiter paces the login requests per
// target host; the scraping pipeline shares the same instance so sign-in
// traffic counts against the same spacing.
func NewStore(cfg config.SessionConfig, client HTTPClient, resolver *captcha.Resolver, limiter *ratelimit.Keyed, logger *slog.Logger) *Store {
	return &Store{
		cfg:     cfg,
		http:    client,
		captcha: resolver,
		limiter: limiter,
		logger:  logger.With("component", "session"),
		jars:    make(map[string]*Jar),
	}
}

// Jar returns the cookie jar for the target, building one if none is cached
// or the cached jar went stale.
func (s *Store) Jar(ctx context.Context, targetURL string) (*Jar, error) {
	key := Key(targetURL)

	s.mu.Lock()
	jar, ok := s.jars[key]
	if ok && jar.Age() < s.cfg.MaxAge {
		s.mu.Unlock()
		return jar, nil
	}
	delete(s.jars, key)
	s.mu.Unlock()

	jar = NewJar()

	if s.loadFromDisk(key, jar) {
		s.logger.Debug("session restored from disk", "target", key)
	} else if err := s.buildJar(ctx, key, targetURL, jar); err != nil {
		return nil, err
	}

	s.mu.Lock()
	// First writer wins if two callers raced on the same uncached key.
	if existing, ok := s.jars[key]; ok {
		s.mu.Unlock()
		return existing, nil
	}
	s.jars[key] = jar
	s.mu.Unlock()
	return jar, nil
}

func (s *Store) buildJar(ctx context.Context, key, targetURL string, jar *Jar) error {
	if s.cfg.Username != "" && s.cfg.Password != "" {
		if err := s.login(ctx, key, targetURL, jar); err == nil {
			return nil
		} else {
			s.logger.Warn("login failed, falling back to cookie file", "target", key, "error", err)
		}
	}

	cookies, err := LoadNetscapeCookies(s.cfg.CookieFile)
	if err != nil {
		if os.IsNotExist(err) {
			// No credentials and no export: start with an anonymous jar.
			return nil
		}
		return fmt.Errorf("session: load cookie file: %w", err)
	}
	for _, c := range cookies {
		jar.Set(c)
	}
	return nil
}

// login posts credentials (with CAPTCHA transparency) to the store's sign-in
// endpoint, retrying up to the configured attempt count until the expected
// authentication cookie shows up.
func (s *Store) login(ctx context.Context, key, targetURL string, jar *Jar) error {
	base, err := baseURL(targetURL, key)
	if err != nil {
		return err
	}
	signInURL := base + "/SignIn.aspx"

	for attempt := 1; attempt <= s.cfg.LoginAttempts; attempt++ {
		if err := s.loginOnce(ctx, key, signInURL, jar); err != nil {
			s.logger.Warn("login attempt failed", "target", key, "attempt", attempt, "error", err)
			continue
		}
		if _, ok := jar.Get(AuthCookie); ok {
			s.logger.Info("session authenticated", "target", key, "attempt", attempt)
			return nil
		}
	}
	return fmt.Errorf("session: no %s cookie after %d attempts", AuthCookie, s.cfg.LoginAttempts)
}

func (s *Store) loginOnce(ctx context.Context, key, signInURL string, jar *Jar) error {
	headers := map[string]string{"Cookie": jar.Header()}
	call := s.paced(key, func(ctx context.Context) (*http.Response, error) {
		return s.http.Get(ctx, signInURL, headers)
	})

	var resp *http.Response
	var err error
	if s.captcha != nil {
		resp, err = s.captcha.Around(ctx, headers, call)
	} else {
		resp, err = call(ctx)
	}
	if err != nil {
		return err
	}

	s.absorb(jar, resp)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return err
	}

	form, err := hiddenFields(string(body))
	if err != nil {
		return err
	}
	form.Set("ctl00$LoginForm$UserName", s.cfg.Username)
	form.Set("ctl00$LoginForm$Password", s.cfg.Password)
	form.Set("ctl00$LoginForm$LoginButton", "Login")

	// The GET absorbed fresh cookies, so the POST headers are rebuilt.
	postHeaders := map[string]string{"Cookie": jar.Header()}
	post := s.paced(key, func(ctx context.Context) (*http.Response, error) {
		return s.http.PostForm(ctx, resp.Request.URL.String(), form, postHeaders)
	})

	var loginResp *http.Response
	if s.captcha != nil {
		loginResp, err = s.captcha.Around(ctx, postHeaders, post)
	} else {
		loginResp, err = post(ctx)
	}
	if err != nil {
		return err
	}
	defer loginResp.Body.Close()
	io.Copy(io.Discard, loginResp.Body)

	s.absorb(jar, loginResp)
	return nil
}

// paced wraps a login request in the per-host limiter slot so sign-in
// traffic never undercuts the host spacing.
func (s *Store) paced(key string, call func(ctx context.Context) (*http.Response, error)) func(ctx context.Context) (*http.Response, error) {
	if s.limiter == nil {
		return call
	}
	return func(ctx context.Context) (*http.Response, error) {
		l := s.limiter.For(key)
		if err := l.Acquire(ctx); err != nil {
			return nil, err
		}
		defer l.Release()
		return call(ctx)
	}
}

// absorb takes every Set-Cookie on a login response into the jar directly;
// unlike Sync this builds a fresh session, so nothing is protected yet.
func (s *Store) absorb(jar *Jar, resp *http.Response) {
	for _, c := range resp.Cookies() {
		jar.Set(Cookie{Name: c.Name, Value: c.Value, Domain: c.Domain, Path: c.Path, Timestamp: time.Now()})
	}
}

// Sync merges cookies observed on a response into the target's jar. A
// non-empty guest marker means the server dropped the authenticated session;
// the jar is invalidated instead of merged and ErrSessionExpired returned.
func (s *Store) Sync(targetURL string, resp *http.Response) error {
	key := Key(targetURL)

	s.mu.Lock()
	jar, ok := s.jars[key]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	for _, c := range resp.Cookies() {
		if c.Name == GuestMarker && c.Value != "" {
			s.logger.Info("guest marker observed, session expired", "target", key)
			s.Invalidate(targetURL)
			return ErrSessionExpired
		}
	}

	for _, c := range resp.Cookies() {
		jar.Merge(Cookie{Name: c.Name, Value: c.Value, Domain: c.Domain, Path: c.Path, Timestamp: time.Now()})
	}
	return nil
}

// Invalidate purges the cached jar and deletes its persisted snapshot so the
// next request re-derives a session from scratch.
func (s *Store) Invalidate(targetURL string) {
	key := Key(targetURL)

	s.mu.Lock()
	delete(s.jars, key)
	s.mu.Unlock()

	if err := os.Remove(s.jarPath(key)); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("failed to delete persisted jar", "target", key, "error", err)
	}
}

// SerializeAll writes every cached jar to its per-target JSON file.
func (s *Store) SerializeAll() error {
	s.mu.Lock()
	jars := make(map[string]*Jar, len(s.jars))
	for k, v := range s.jars {
		jars[k] = v
	}
	s.mu.Unlock()

	if err := os.MkdirAll(s.cfg.DataDir, 0o755); err != nil {
		return err
	}

	for key, jar := range jars {
		data, err := json.MarshalIndent(persistedJar{Created: time.Now().Add(-jar.Age()), Cookies: jar.Snapshot()}, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(s.jarPath(key), data, 0o644); err != nil {
			return fmt.Errorf("session: persist jar %s: %w", key, err)
		}
	}
	return nil
}

// StartSerializer periodically persists all jars until the context ends.
func (s *Store) StartSerializer(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SerializeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.SerializeAll(); err != nil {
				s.logger.Warn("session serialization failed", "error", err)
			}
		}
	}
}

func (s *Store) loadFromDisk(key string, jar *Jar) bool {
	data, err := os.ReadFile(s.jarPath(key))
	if err != nil {
		return false
	}

	var p persistedJar
	if err := json.Unmarshal(data, &p); err != nil {
		return false
	}
	if time.Since(p.Created) >= s.cfg.MaxAge {
		return false
	}

	jar.restore(p.Cookies, p.Created)
	return true
}

func (s *Store) jarPath(key string) string {
	return filepath.Join(s.cfg.DataDir, key+".json")
}

func hiddenFields(html string) (url.Values, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}
	form := url.Values{}
	doc.Find("input[type='hidden']").Each(func(_ int, sel *goquery.Selection) {
		if name, ok := sel.Attr("name"); ok {
			form.Set(name, sel.AttrOr("value", ""))
		}
	})
	return form, nil
}

func baseURL(rawURL, key string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	return u.Scheme + "://" + u.Host + "/" + key, nil
}
