// Package normalize turns raw source candidates into canonical store
// records: one cleaned URL, one content-derived id, one bounded summary.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"html"
	"net/url"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"aipulse/source"
	"aipulse/store"
)

const maxSummaryRunes = 500

var (
	// ErrNoURL marks a candidate without a usable link.
	ErrNoURL = errors.New("normalize: candidate has no usable url")
	// ErrStale marks a candidate published before the lookback window.
	ErrStale = errors.New("normalize: published outside the lookback window")
)

// trackingParams are stripped from URLs before hashing so the same article
// shared through different campaigns collapses to one id.
var trackingParams = map[string]bool{
	"fbclid": true,
	"gclid":  true,
	"mc_cid": true,
	"mc_eid": true,
	"ref":    true,
}

// Normalizer builds store records from candidates. The lookback window
// must be the same value the feed queries use.
type Normalizer struct {
	lookback time.Duration
	now      func() time.Time
}

// New creates a Normalizer with the given acceptance window.
func New(lookback time.Duration) *Normalizer {
	return &Normalizer{
		lookback: lookback,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Normalize builds the canonical article for one candidate. It returns
// ErrNoURL when the candidate has no link and ErrStale when the resolved
// publish time falls outside the lookback window.
func (n *Normalizer) Normalize(c source.Candidate, sourceName string) (store.Article, error) {
	canonical, err := CanonicalURL(c.Link)
	if err != nil {
		return store.Article{}, err
	}

	now := n.now()
	published := resolvePublished(c, now)
	if published.Before(now.Add(-n.lookback)) {
		return store.Article{}, fmt.Errorf("%w: %s published %s", ErrStale, canonical, published.Format(time.RFC3339))
	}

	title := strings.TrimSpace(c.Title)
	if title == "" {
		title = "Untitled"
	}

	tags := c.Tags
	if tags == nil {
		tags = []string{}
	}

	a := store.Article{
		ID:          ID(canonical),
		Source:      sourceName,
		Title:       title,
		Summary:     Summary(c.Summary),
		URL:         canonical,
		PublishedAt: published,
		ScrapedAt:   now,
		Author:      c.Author,
		Tags:        tags,
	}
	if c.ImageURL != "" {
		img := c.ImageURL
		a.ImageURL = &img
	}
	return a, nil
}

// resolvePublished picks the publish time: the reported timestamp first,
// then a parsed text form, then the ingestion time when the source
// reported nothing usable.
func resolvePublished(c source.Candidate, now time.Time) time.Time {
	if !c.Published.IsZero() {
		return c.Published.UTC()
	}
	if c.PublishedRaw != "" {
		if t, err := dateparse.ParseAny(c.PublishedRaw); err == nil {
			return t.UTC()
		}
	}
	return now
}

// CanonicalURL validates a link and reduces it to its canonical form: the
// fragment and known tracking parameters are dropped, and the remaining
// query is re-encoded in sorted order so equivalent URLs compare equal.
func CanonicalURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", ErrNoURL
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrNoURL, raw)
	}

	u.Fragment = ""
	q := u.Query()
	for key := range q {
		if isTrackingParam(key) {
			q.Del(key)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func isTrackingParam(key string) bool {
	k := strings.ToLower(key)
	return strings.HasPrefix(k, "utm_") || trackingParams[k]
}

// ID is the stable article identifier: the hex SHA-256 of the canonical URL.
func ID(canonicalURL string) string {
	h := sha256.Sum256([]byte(canonicalURL))
	return hex.EncodeToString(h[:])
}

// Summary strips markup and entities from raw source text, collapses
// whitespace and truncates the result for display.
func Summary(raw string) string {
	return truncate(stripHTML(raw), maxSummaryRunes)
}

func stripHTML(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(html.UnescapeString(b.String())), " ")
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
