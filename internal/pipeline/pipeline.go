package pipeline

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	http "github.com/bogdanfinn/fhttp"

	"github.com/maltedev/shop-monitor/internal/antibot"
	"github.com/maltedev/shop-monitor/internal/captcha"
	"github.com/maltedev/shop-monitor/internal/ratelimit"
	"github.com/maltedev/shop-monitor/internal/session"
	"github.com/maltedev/shop-monitor/internal/transport"
)

// Outcome classifies what the site actually answered, independent of HTTP
// status: the server prefers silent redirects over error codes.
type Outcome int

const (
	OK Outcome = iota
	SignInRedirect
	StoreClosed
	Blocked
)

// Result is one completed round trip through the pipeline.
type Result struct {
	Outcome  Outcome
	Body     string
	FinalURL *url.URL
}

// Pipeline composes session cookies, per-store rate limiting, the anti-bot
// cookie and CAPTCHA transparency around the raw transport. Every outbound
// request goes through here.
type Pipeline struct {
	transport *transport.Transport
	sessions  *session.Store
	limiter   *ratelimit.Keyed
	captcha   *captcha.Resolver
	antibot   *antibot.Provider
	timeout   time.Duration
	logger    *slog.Logger
}

func New(t *transport.Transport, sessions *session.Store, limiter *ratelimit.Keyed,
	resolver *captcha.Resolver, provider *antibot.Provider, timeout time.Duration, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		transport: t,
		sessions:  sessions,
		limiter:   limiter,
		captcha:   resolver,
		antibot:   provider,
		timeout:   timeout,
		logger:    logger.With("component", "pipeline"),
	}
}

// Get issues a rate-limited, cookie-augmented, CAPTCHA-transparent GET.
func (p *Pipeline) Get(ctx context.Context, rawURL string) (*Result, error) {
	return p.roundTrip(ctx, rawURL, func(ctx context.Context, headers map[string]string) (*http.Response, error) {
		return p.transport.Get(ctx, rawURL, headers)
	})
}

// PostForm issues a rate-limited, cookie-augmented, CAPTCHA-transparent
// form POST.
func (p *Pipeline) PostForm(ctx context.Context, rawURL string, form url.Values) (*Result, error) {
	return p.roundTrip(ctx, rawURL, func(ctx context.Context, headers map[string]string) (*http.Response, error) {
		return p.transport.PostForm(ctx, rawURL, form, headers)
	})
}

func (p *Pipeline) roundTrip(ctx context.Context, rawURL string,
	send func(ctx context.Context, headers map[string]string) (*http.Response, error)) (*Result, error) {

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	// Building the jar may log in, and login paces itself through the same
	// limiter, so the slot is taken only once the headers are ready.
	jar, err := p.sessions.Jar(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	cookieHeader := jar.Header()
	if bot, err := p.antibot.GetCookie(ctx, siteRoot(rawURL)); err != nil {
		return nil, err
	} else if bot != nil {
		if cookieHeader != "" {
			cookieHeader += "; "
		}
		cookieHeader += bot.Name + "=" + bot.Value
	}

	headers := map[string]string{}
	if cookieHeader != "" {
		headers["Cookie"] = cookieHeader
	}

	limiter := p.limiter.For(session.Key(rawURL))
	if err := limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer limiter.Release()

	resp, err := p.captcha.Around(ctx, headers, func(ctx context.Context) (*http.Response, error) {
		return send(ctx, headers)
	})
	if err != nil {
		return nil, err
	}

	if syncErr := p.sessions.Sync(rawURL, resp); syncErr != nil {
		p.logger.Debug("session invalidated by response", "url", rawURL)
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}

	result := &Result{Body: string(body), FinalURL: resp.Request.URL}
	result.Outcome = p.classify(resp, result)
	return result, nil
}

func (p *Pipeline) classify(resp *http.Response, result *Result) Outcome {
	path := ""
	if result.FinalURL != nil {
		path = result.FinalURL.Path
	}

	switch {
	case strings.Contains(path, "SignIn.aspx"):
		return SignInRedirect
	case strings.Contains(path, "StoreClosed.aspx"):
		return StoreClosed
	case resp.StatusCode == http.StatusServiceUnavailable:
		p.logger.Error("bot-block page served", "url", result.FinalURL, "status", resp.StatusCode)
		return Blocked
	default:
		return OK
	}
}

// InvalidateSession drops the session for a target after a scraper detects
// an unauthenticated page, forcing re-login on the next request.
func (p *Pipeline) InvalidateSession(targetURL string) {
	p.sessions.Invalidate(targetURL)
}

// InvalidateAntiBot clears the site-wide anti-bot cookie slot.
func (p *Pipeline) InvalidateAntiBot() {
	p.antibot.Invalidate()
}

func siteRoot(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Scheme + "://" + u.Host + "/"
}
