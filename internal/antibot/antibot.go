package antibot

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Cookie is the computed anti-bot cookie, scoped to the site's root domain.
type Cookie struct {
	Name   string
	Value  string
	Domain string
	Path   string
}

// PageFetcher downloads the bootstrap page body. The plain HTTP transport is
// enough when the challenge script is inline; a browser-backed fetcher can be
// substituted when the site moves the computation behind further script
// indirection.
type PageFetcher interface {
	FetchPage(ctx context.Context, rawURL string) (string, error)
}

// Provider computes the site-wide anti-bot cookie and caches it behind a
// single slot. The cookie is global to the site, not per store, so one
// provider instance is shared by every session.
type Provider struct {
	fetcher  PageFetcher
	logger   *slog.Logger
	attempts int
	delay    time.Duration

	mu     sync.Mutex
	cached *Cookie
}

func NewProvider(fetcher PageFetcher, logger *slog.Logger) *Provider {
	return &Provider{
		fetcher:  fetcher,
		logger:   logger.With("component", "antibot"),
		attempts: 5,
		delay:    200 * time.Millisecond,
	}
}

// GetCookie returns the cached anti-bot cookie, computing it from the host's
// bootstrap page on first use or after Invalidate. A nil cookie with nil
// error means the challenge script was not found; callers proceed without
// the cookie and let the request fail downstream.
func (p *Provider) GetCookie(ctx context.Context, bootstrapURL string) (*Cookie, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != nil {
		return p.cached, nil
	}

	domain := rootDomain(bootstrapURL)

	var lastErr error
	for i := 0; i < p.attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.delay):
			}
		}

		body, err := p.fetcher.FetchPage(ctx, bootstrapURL)
		if err != nil {
			lastErr = err
			continue
		}

		name, value, err := DeriveCookie(body)
		if err != nil {
			lastErr = err
			continue
		}

		p.cached = &Cookie{Name: name, Value: value, Domain: domain, Path: "/"}
		p.logger.Debug("anti-bot cookie derived", "name", name, "domain", domain)
		return p.cached, nil
	}

	p.logger.Warn("anti-bot challenge not solvable", "url", bootstrapURL, "error", lastErr)
	return nil, nil
}

// Invalidate clears the cached cookie so the next caller recomputes it.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	p.cached = nil
	p.mu.Unlock()
}

func rootDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := u.Hostname()
	parts := strings.Split(host, ".")
	if len(parts) > 2 {
		host = strings.Join(parts[len(parts)-2:], ".")
	}
	return host
}
