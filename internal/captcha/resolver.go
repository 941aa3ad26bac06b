package captcha

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	http "github.com/bogdanfinn/fhttp"
)

// Doer submits the solved answer and re-issues the original call.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Stats counts external-solver outcomes for accuracy telemetry.
type Stats struct {
	Shown    int
	Solved   int
	Rejected int
}

// Resolver makes HTTP calls transparent to CAPTCHA interposition: when the
// site redirects a request to its challenge page, the resolver persists the
// challenge for external solving, submits an available solution and retries
// the original call until the challenge clears or attempts run out.
type Resolver struct {
	dir         string
	pathSuffix  string
	maxAttempts int
	spacing     time.Duration
	doer        Doer
	logger      *slog.Logger

	mu    sync.Mutex
	stats Stats
}

// NewResolver builds a resolver. spacing is the minimum gap kept between
// the extra requests the resolver issues on its own (answer submissions
// and re-issued calls), matching the host pacing the callers observe.
func NewResolver(dir, pathSuffix string, maxAttempts int, spacing time.Duration, doer Doer, logger *slog.Logger) *Resolver {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Resolver{
		dir:         dir,
		pathSuffix:  pathSuffix,
		maxAttempts: maxAttempts,
		spacing:     spacing,
		doer:        doer,
		logger:      logger.With("component", "captcha"),
	}
}

// IsChallenge reports whether the response's final redirected URL landed on
// the challenge page.
func (r *Resolver) IsChallenge(resp *http.Response) bool {
	return resp != nil && resp.Request != nil &&
		strings.HasSuffix(resp.Request.URL.Path, r.pathSuffix)
}

// Stats returns a copy of the solver outcome counters.
func (r *Resolver) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Around issues the call and loops through challenge/solve/resubmit cycles
// until the response is no longer the challenge page. A challenge with no
// solution on disk is persisted for the external solver and surfaces as
// ErrUnsolved; the caller treats that as "no content this cycle".
//
// headers carries the original call's header set (session cookies, the
// anti-bot cookie) so the answer submission stays correlated with the
// blocked session.
func (r *Resolver) Around(ctx context.Context, headers map[string]string, call func(ctx context.Context) (*http.Response, error)) (*http.Response, error) {
	var last *Challenge

	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := r.pace(ctx); err != nil {
				return nil, err
			}
		}
		resp, err := call(ctx)
		if err != nil {
			return nil, err
		}

		if !r.IsChallenge(resp) {
			if last != nil {
				if err := last.MarkVerified(r.dir); err != nil {
					r.logger.Warn("failed to mark challenge verified", "id", last.ID(), "error", err)
				}
				r.mu.Lock()
				r.stats.Solved++
				r.mu.Unlock()
			}
			return resp, nil
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, readErr
		}

		challenge, form, parseErr := parseChallengePage(string(body))
		if parseErr != nil {
			return nil, parseErr
		}

		if last != nil && last.ID() == challenge.ID() {
			// The server rejected the previously submitted answer.
			if err := last.MarkFailed(r.dir); err != nil {
				r.logger.Warn("failed to flag challenge", "id", last.ID(), "error", err)
			}
			r.mu.Lock()
			r.stats.Rejected++
			r.mu.Unlock()
		}

		if err := challenge.Persist(r.dir); err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.stats.Shown++
		r.mu.Unlock()

		names, solveErr := challenge.TrySolve(r.dir)
		if solveErr != nil {
			if errors.Is(solveErr, ErrMalformedAnswer) {
				r.logger.Warn("unusable captcha solution moved aside", "id", challenge.ID())
				return nil, ErrUnsolved
			}
			if errors.Is(solveErr, ErrUnsolved) {
				r.logger.Info("captcha challenge awaiting external solution", "id", challenge.ID())
				return nil, ErrUnsolved
			}
			return nil, solveErr
		}

		if err := r.pace(ctx); err != nil {
			return nil, err
		}
		if err := r.submitAnswer(ctx, resp.Request.URL, form, names, headers); err != nil {
			return nil, err
		}
		last = challenge
	}

	if last != nil {
		if err := last.MarkFailed(r.dir); err != nil {
			r.logger.Warn("failed to flag challenge", "id", last.ID(), "error", err)
		}
		r.mu.Lock()
		r.stats.Rejected++
		r.mu.Unlock()
	}
	r.logger.Error("captcha still interposed after max attempts", "attempts", r.maxAttempts)
	return nil, ErrUnsolved
}

// pace waits out the request spacing before the resolver issues a request
// of its own.
func (r *Resolver) pace(ctx context.Context) error {
	if r.spacing <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(r.spacing):
		return nil
	}
}

// submitAnswer posts the selected candidate names back to the resolved
// challenge URL, carrying over the page's hidden form state and the
// original call's headers.
func (r *Resolver) submitAnswer(ctx context.Context, target *url.URL, hidden url.Values, names []string, headers map[string]string) error {
	form := url.Values{}
	for k, vs := range hidden {
		for _, v := range vs {
			form.Add(k, v)
		}
	}
	// Image inputs submit click coordinates per selected candidate.
	for _, name := range names {
		form.Set(name+".x", "16")
		form.Set(name+".y", "16")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.doer.Do(req)
	if err != nil {
		return fmt.Errorf("captcha: submit answer: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return nil
}

// parseChallengePage extracts the challenge text, the candidate image grid
// and the hidden form state from the challenge markup.
func parseChallengePage(html string) (*Challenge, url.Values, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, nil, fmt.Errorf("captcha: parse challenge page: %w", err)
	}

	text := strings.TrimSpace(doc.Find("#ctl00_MainContainer_CaptchaText, .captcha-text").First().Text())

	byHash := make(map[string]*CandidateImage)
	var order []string
	doc.Find("input[type='image']").Each(func(_ int, sel *goquery.Selection) {
		name, okName := sel.Attr("name")
		src, okSrc := sel.Attr("src")
		if !okName || !okSrc {
			return
		}
		data, ok := decodeImageData(src)
		if !ok {
			return
		}
		sum := sha256.Sum256(data)
		hash := hex.EncodeToString(sum[:])
		img, seen := byHash[hash]
		if !seen {
			img = &CandidateImage{Hash: hash, Data: data}
			byHash[hash] = img
			order = append(order, hash)
		}
		img.Names = append(img.Names, name)
	})

	if text == "" || len(byHash) == 0 {
		return nil, nil, fmt.Errorf("captcha: challenge markup not recognized")
	}

	images := make([]CandidateImage, 0, len(byHash))
	for _, hash := range order {
		images = append(images, *byHash[hash])
	}

	hidden := url.Values{}
	doc.Find("input[type='hidden']").Each(func(_ int, sel *goquery.Selection) {
		if name, ok := sel.Attr("name"); ok {
			hidden.Set(name, sel.AttrOr("value", ""))
		}
	})

	return NewChallenge(text, images), hidden, nil
}

func decodeImageData(src string) ([]byte, bool) {
	const marker = ";base64,"
	i := strings.Index(src, marker)
	if !strings.HasPrefix(src, "data:image/") || i < 0 {
		return nil, false
	}
	data, err := base64.StdEncoding.DecodeString(src[i+len(marker):])
	if err != nil {
		return nil, false
	}
	return data, true
}
