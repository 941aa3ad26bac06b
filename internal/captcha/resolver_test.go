package captcha

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	http "github.com/bogdanfinn/fhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func challengeHTML(text string, images map[string][]byte) string {
	var b strings.Builder
	b.WriteString(`<html><body><form>`)
	fmt.Fprintf(&b, `<span id="ctl00_MainContainer_CaptchaText">%s</span>`, text)
	b.WriteString(`<input type="hidden" name="__VIEWSTATE" value="vs123"/>`)
	b.WriteString(`<input type="hidden" name="__EVENTVALIDATION" value="ev456"/>`)
	for name, data := range images {
		fmt.Fprintf(&b, `<input type="image" name="%s" src="data:image/png;base64,%s"/>`,
			name, base64.StdEncoding.EncodeToString(data))
	}
	b.WriteString(`</form></body></html>`)
	return b.String()
}

func TestParseChallengePage(t *testing.T) {
	catPNG := []byte("cat-bytes")
	dogPNG := []byte("dog-bytes")
	html := challengeHTML("Seleccione los gatos", map[string][]byte{
		"ctl00$img1": catPNG,
		"ctl00$img2": dogPNG,
		"ctl00$img3": catPNG, // same image rendered twice
	})

	ch, hidden, err := parseChallengePage(html)
	require.NoError(t, err)

	assert.Equal(t, "Seleccione los gatos", ch.Text)
	assert.Equal(t, "vs123", hidden.Get("__VIEWSTATE"))
	assert.Equal(t, "ev456", hidden.Get("__EVENTVALIDATION"))

	// Identical renders collapse to one candidate carrying both names.
	require.Len(t, ch.Images, 2)
	catSum := sha256.Sum256(catPNG)
	for _, img := range ch.Images {
		if img.Hash == hex.EncodeToString(catSum[:]) {
			assert.Len(t, img.Names, 2)
		} else {
			assert.Len(t, img.Names, 1)
		}
	}
}

func TestParseChallengePageRejectsOtherMarkup(t *testing.T) {
	_, _, err := parseChallengePage(`<html><body><h1>Products</h1></body></html>`)
	assert.Error(t, err)
}

func TestIsChallenge(t *testing.T) {
	r := NewResolver(t.TempDir(), "/Captcha.aspx", 3, 0, nil, slog.Default())

	challengeURL, _ := url.Parse("https://example.cu/Captcha.aspx?ReturnUrl=%2ftienda1")
	pageURL, _ := url.Parse("https://example.cu/tienda1/Products?depPid=7")

	assert.True(t, r.IsChallenge(&http.Response{Request: &http.Request{URL: challengeURL}}))
	assert.False(t, r.IsChallenge(&http.Response{Request: &http.Request{URL: pageURL}}))
	assert.False(t, r.IsChallenge(nil))
}

type recordingDoer struct {
	requests []*http.Request
	bodies   []url.Values
}

func (d *recordingDoer) Do(req *http.Request) (*http.Response, error) {
	body, _ := io.ReadAll(req.Body)
	form, _ := url.ParseQuery(string(body))
	d.requests = append(d.requests, req)
	d.bodies = append(d.bodies, form)
	return &http.Response{
		Request: req,
		Body:    io.NopCloser(strings.NewReader("")),
	}, nil
}

func pageResponse(t *testing.T, rawURL, body string) *http.Response {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	return &http.Response{
		StatusCode: http.StatusOK,
		Request:    &http.Request{URL: u},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestAroundSolvesInterposedChallenge(t *testing.T) {
	dir := t.TempDir()
	catPNG := []byte("cat-bytes")
	html := challengeHTML("Seleccione los gatos", map[string][]byte{"ctl00$img1": catPNG})

	// Pre-seed the external solver's answer for this challenge.
	ch, _, err := parseChallengePage(html)
	require.NoError(t, err)
	require.NoError(t, ch.Persist(dir))
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, ch.ID(), "solution"), []byte(ch.Images[0].Hash+"\n"), 0o644))

	doer := &recordingDoer{}
	r := NewResolver(dir, "/Captcha.aspx", 5, 0, doer, slog.Default())

	headers := map[string]string{"Cookie": "ASP.NET_SessionId=abc123; .ASPXAUTH=tok"}
	calls := 0
	resp, err := r.Around(context.Background(), headers, func(context.Context) (*http.Response, error) {
		calls++
		if calls == 1 {
			return pageResponse(t, "https://example.cu/Captcha.aspx?ReturnUrl=%2ftienda1", html), nil
		}
		return pageResponse(t, "https://example.cu/tienda1/Products?depPid=7", "<html>listing</html>"), nil
	})
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 2, calls)

	// The answer submit carried hidden state plus click coordinates.
	require.Len(t, doer.bodies, 1)
	submitted := doer.bodies[0]
	assert.Equal(t, "vs123", submitted.Get("__VIEWSTATE"))
	assert.Equal(t, "16", submitted.Get("ctl00$img1.x"))
	assert.Equal(t, "16", submitted.Get("ctl00$img1.y"))

	// The submit carries the original call's cookies so the server can
	// correlate the answer with the blocked session.
	require.Len(t, doer.requests, 1)
	assert.Equal(t, "ASP.NET_SessionId=abc123; .ASPXAUTH=tok", doer.requests[0].Header.Get("Cookie"))

	// The accepted answer is marked verified and counted as solved.
	assert.True(t, ch.IsVerified(dir))
	stats := r.Stats()
	assert.Equal(t, 1, stats.Shown)
	assert.Equal(t, 1, stats.Solved)
	assert.Equal(t, 0, stats.Rejected)
}

func TestAroundWithoutSolutionPersistsAndReturnsUnsolved(t *testing.T) {
	dir := t.TempDir()
	html := challengeHTML("Seleccione los gatos", map[string][]byte{"ctl00$img1": []byte("cat")})

	r := NewResolver(dir, "/Captcha.aspx", 5, 0, &recordingDoer{}, slog.Default())

	_, err := r.Around(context.Background(), nil, func(context.Context) (*http.Response, error) {
		return pageResponse(t, "https://example.cu/Captcha.aspx", html), nil
	})
	assert.ErrorIs(t, err, ErrUnsolved)

	// The challenge landed on disk for the external solver.
	ch, _, parseErr := parseChallengePage(html)
	require.NoError(t, parseErr)
	_, statErr := os.Stat(filepath.Join(dir, ch.ID(), "problem"))
	assert.NoError(t, statErr)
	assert.Equal(t, 1, r.Stats().Shown)
}

func TestAroundSpacesResolverRequests(t *testing.T) {
	dir := t.TempDir()
	catPNG := []byte("cat-bytes")
	html := challengeHTML("Seleccione los gatos", map[string][]byte{"ctl00$img1": catPNG})

	ch, _, err := parseChallengePage(html)
	require.NoError(t, err)
	require.NoError(t, ch.Persist(dir))
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, ch.ID(), "solution"), []byte(ch.Images[0].Hash+"\n"), 0o644))

	const spacing = 40 * time.Millisecond
	r := NewResolver(dir, "/Captcha.aspx", 5, spacing, &recordingDoer{}, slog.Default())

	var times []time.Time
	_, err = r.Around(context.Background(), nil, func(context.Context) (*http.Response, error) {
		times = append(times, time.Now())
		if len(times) == 1 {
			return pageResponse(t, "https://example.cu/Captcha.aspx", html), nil
		}
		return pageResponse(t, "https://example.cu/tienda1/Products?depPid=7", "<html>listing</html>"), nil
	})
	require.NoError(t, err)
	require.Len(t, times, 2)

	// The answer submit and the re-issued call are each paced, so the two
	// calls sit at least two spacings apart.
	assert.GreaterOrEqual(t, times[1].Sub(times[0]), 2*spacing-5*time.Millisecond)
}
