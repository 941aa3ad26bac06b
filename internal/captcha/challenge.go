package captcha

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var (
	ErrUnsolved        = errors.New("captcha: challenge not solved yet")
	ErrMalformedAnswer = errors.New("captcha: solution references unknown image")
)

const (
	problemFile  = "problem"
	solutionFile = "solution"
	verifiedFile = "solution-verified"
	alertFile    = "solution-alert"
)

// CandidateImage is one cell of the challenge grid: its decoded bytes, the
// content hash identifying it across page renders, and the form element
// names it answers to on this particular render.
type CandidateImage struct {
	Hash  string
	Data  []byte
	Names []string
}

// Challenge is one text+image-grid puzzle, identified by the hash of the
// challenge text and the sorted image hash set. The identity is stable
// across renders even though the form element names are not.
type Challenge struct {
	Text   string
	Images []CandidateImage
}

func NewChallenge(text string, images []CandidateImage) *Challenge {
	sorted := make([]CandidateImage, len(images))
	copy(sorted, images)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Hash < sorted[j].Hash })
	return &Challenge{Text: text, Images: sorted}
}

// ID returns the content hash of {text, sorted image hashes}.
func (c *Challenge) ID() string {
	hashes := make([]string, len(c.Images))
	for i, img := range c.Images {
		hashes[i] = img.Hash
	}
	payload, _ := json.Marshal(struct {
		Text   string   `json:"text"`
		Images []string `json:"images"`
	}{Text: c.Text, Images: hashes})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func (c *Challenge) dir(base string) string {
	return filepath.Join(base, c.ID())
}

// Persist writes the challenge to its content-addressed directory for an
// external solver: the raw text as `problem` plus one PNG per distinct
// candidate image. Does nothing if the directory already exists.
func (c *Challenge) Persist(base string) error {
	dir := c.dir(base)
	if _, err := os.Stat(dir); err == nil {
		return nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("captcha: create challenge dir: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, problemFile), []byte(c.Text), 0o644); err != nil {
		return fmt.Errorf("captcha: write problem: %w", err)
	}

	for _, img := range c.Images {
		name := img.Hash + ".png"
		if err := os.WriteFile(filepath.Join(dir, name), img.Data, 0o644); err != nil {
			return fmt.Errorf("captcha: write image %s: %w", name, err)
		}
	}

	return nil
}

// TrySolve reads the externally provided solution file and maps each solved
// image hash back to the form element names of the current render. Returns
// ErrUnsolved when no solution file exists yet, ErrMalformedAnswer when the
// solution references an image hash that is not part of this challenge (the
// file is then renamed aside so the challenge reverts to unsolved).
func (c *Challenge) TrySolve(base string) ([]string, error) {
	dir := c.dir(base)
	data, err := os.ReadFile(filepath.Join(dir, solutionFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrUnsolved
		}
		return nil, err
	}

	byHash := make(map[string]CandidateImage, len(c.Images))
	for _, img := range c.Images {
		byHash[img.Hash] = img
	}

	var names []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		// Lines are either a bare image hash or "<hash>=<answer>".
		hash := line
		if i := strings.IndexByte(line, '='); i >= 0 {
			hash = strings.TrimSpace(line[:i])
		}

		img, ok := byHash[hash]
		if !ok {
			// Unusable file: move it aside and treat the challenge as unsolved.
			_ = os.Rename(filepath.Join(dir, solutionFile), filepath.Join(dir, solutionFile+".unusable"))
			return nil, ErrMalformedAnswer
		}
		names = append(names, img.Names...)
	}

	if len(names) == 0 {
		return nil, ErrUnsolved
	}
	return names, nil
}

// MarkVerified records that the server accepted the solved answer and clears
// any previous failure flag.
func (c *Challenge) MarkVerified(base string) error {
	dir := c.dir(base)
	_ = os.Remove(filepath.Join(dir, alertFile))
	return os.WriteFile(filepath.Join(dir, verifiedFile), []byte{}, 0o644)
}

// MarkFailed flags the challenge for manual review, unless it has been
// verified before (a historic verification outweighs one rejection).
func (c *Challenge) MarkFailed(base string) error {
	dir := c.dir(base)
	if _, err := os.Stat(filepath.Join(dir, verifiedFile)); err == nil {
		return nil
	}
	return os.WriteFile(filepath.Join(dir, alertFile), []byte{}, 0o644)
}

// IsVerified reports whether the challenge was accepted by the server at
// least once.
func (c *Challenge) IsVerified(base string) bool {
	_, err := os.Stat(filepath.Join(c.dir(base), verifiedFile))
	return err == nil
}
