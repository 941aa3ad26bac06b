package transport

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	http "github.com/bogdanfinn/fhttp"
	tls_client "github.com/bogdanfinn/tls-client"
	"github.com/bogdanfinn/tls-client/profiles"
)

// Transport is the raw HTTP layer under the request pipeline. It speaks with
// a Chrome TLS fingerprint because the target site drops connections from
// clients whose handshake does not look like a browser.
type Transport struct {
	client    tls_client.HttpClient
	userAgent string
}

type Options struct {
	TimeoutSeconds int
	UserAgent      string
	Proxy          string
}

func New(opts Options) (*Transport, error) {
	if opts.TimeoutSeconds <= 0 {
		opts.TimeoutSeconds = 20
	}

	clientOpts := []tls_client.HttpClientOption{
		tls_client.WithTimeoutSeconds(opts.TimeoutSeconds),
		tls_client.WithClientProfile(profiles.Chrome_120),
	}
	if opts.Proxy != "" {
		clientOpts = append(clientOpts, tls_client.WithProxyUrl(opts.Proxy))
	}

	client, err := tls_client.NewHttpClient(tls_client.NewNoopLogger(), clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create tls client: %w", err)
	}

	return &Transport{client: client, userAgent: opts.UserAgent}, nil
}

// Do sends the request with browser-shaped default headers. Cookie handling
// stays with the caller; the transport never keeps a jar of its own.
func (t *Transport) Do(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" && t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	}
	if req.Header.Get("Accept-Language") == "" {
		req.Header.Set("Accept-Language", "es-ES,es;q=0.9,en;q=0.8")
	}

	return t.client.Do(req)
}

// Get issues a plain GET with optional extra headers.
func (t *Transport) Get(ctx context.Context, rawURL string, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return t.Do(req)
}

// PostForm issues an application/x-www-form-urlencoded POST.
func (t *Transport) PostForm(ctx context.Context, rawURL string, form url.Values, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return t.Do(req)
}

// FetchPage downloads a page body as a string. Satisfies the anti-bot
// provider's PageFetcher for the inline-script fast path.
func (t *Transport) FetchPage(ctx context.Context, rawURL string) (string, error) {
	resp, err := t.Get(ctx, rawURL, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}
