// Package metadata produces a best-effort (title, performer) label for a raw URL.
// Resolution is cosmetic: it never fails, degrading to a labeled placeholder instead,
// so it can never block the relay pipeline.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"
)

// Placeholder values used when no strategy produces real metadata.
const (
	PlaceholderTitle     = "Unknown Track"
	PlaceholderPerformer = "Unknown Artist"
)

// TrackLabel is a best-effort (title, performer) pair. Never empty: absence of
// real metadata degrades to placeholders rather than empty strings.
type TrackLabel struct {
	Title     string
	Performer string
}

// Placeholder returns the degraded label used when every strategy comes up empty.
func Placeholder() TrackLabel {
	return TrackLabel{Title: PlaceholderTitle, Performer: PlaceholderPerformer}
}

// FilenameHint derives a safe attachment filename from the label.
func (l TrackLabel) FilenameHint() string {
	base := fmt.Sprintf("%s - %s", l.Performer, l.Title)
	base = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, base)
	return base + ".mp3"
}

// strategy attempts to extract a label for rawURL. Returning ok=false means
// "nothing useful here, try the next one"; errors are absorbed by the resolver.
type strategy interface {
	name() string
	extract(ctx context.Context, rawURL string) (TrackLabel, bool, error)
}

// Resolver tries strategies in a fixed priority order, each under its own
// short timeout, and returns the first non-empty label.
type Resolver struct {
	strategies []strategy
	timeout    time.Duration
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithTimeout overrides the per-strategy timeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) { r.timeout = d }
}

// NewResolver builds the default strategy stack: oEmbed lookup, HTML page
// scrape, filename derivation.
func NewResolver(client *http.Client, opts ...Option) *Resolver {
	if client == nil {
		client = http.DefaultClient
	}
	r := &Resolver{
		strategies: []strategy{
			&oembedStrategy{client: client},
			&pageScrapeStrategy{client: client},
			&filenameStrategy{},
		},
		timeout: 5 * time.Second,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve returns a TrackLabel for rawURL. It never returns an error; internal
// faults are logged and the next strategy is tried, ending at the placeholder.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) TrackLabel {
	for _, s := range r.strategies {
		sctx, cancel := context.WithTimeout(ctx, r.timeout)
		label, ok, err := s.extract(sctx, rawURL)
		cancel()
		if err != nil {
			slog.Debug("metadata strategy failed", slog.String("strategy", s.name()), slog.Any("err", err))
			continue
		}
		if ok && label.Title != "" && label.Performer != "" {
			return label
		}
	}
	return Placeholder()
}

// oembedStrategy queries the host's oEmbed endpoint when one is known.
type oembedStrategy struct {
	client *http.Client
}

func (*oembedStrategy) name() string { return "oembed" }

// oembedEndpoints maps host suffixes to their oEmbed JSON endpoints.
var oembedEndpoints = map[string]string{
	"youtube.com":    "https://www.youtube.com/oembed",
	"youtu.be":       "https://www.youtube.com/oembed",
	"soundcloud.com": "https://soundcloud.com/oembed",
	"vimeo.com":      "https://vimeo.com/api/oembed.json",
}

func (s *oembedStrategy) extract(ctx context.Context, rawURL string) (TrackLabel, bool, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return TrackLabel{}, false, err
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	var endpoint string
	for suffix, ep := range oembedEndpoints {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			endpoint = ep
			break
		}
	}
	if endpoint == "" {
		return TrackLabel{}, false, nil
	}

	q := url.Values{"url": {rawURL}, "format": {"json"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return TrackLabel{}, false, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return TrackLabel{}, false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return TrackLabel{}, false, fmt.Errorf("oembed status %d", resp.StatusCode)
	}
	var body struct {
		Title      string `json:"title"`
		AuthorName string `json:"author_name"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&body); err != nil {
		return TrackLabel{}, false, err
	}
	title, performer := splitArtistTitle(body.Title)
	if performer == "" {
		performer = body.AuthorName
	}
	if title == "" || performer == "" {
		return TrackLabel{}, false, nil
	}
	return TrackLabel{Title: title, Performer: performer}, true, nil
}

// pageScrapeStrategy pulls og:title / <title> out of the page HTML.
// Fragile by nature, so it is fully isolated here; breakage degrades silently.
type pageScrapeStrategy struct {
	client *http.Client
}

func (*pageScrapeStrategy) name() string { return "page-scrape" }

var (
	ogTitleRe   = regexp.MustCompile(`(?i)<meta[^>]+property=["']og:title["'][^>]+content=["']([^"']+)["']`)
	htmlTitleRe = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
)

func (s *pageScrapeStrategy) extract(ctx context.Context, rawURL string) (TrackLabel, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return TrackLabel{}, false, err
	}
	req.Header.Set("Accept", "text/html")
	resp, err := s.client.Do(req)
	if err != nil {
		return TrackLabel{}, false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return TrackLabel{}, false, fmt.Errorf("page status %d", resp.StatusCode)
	}
	// Titles live in the head; 256 KiB is more than enough.
	html, err := io.ReadAll(io.LimitReader(resp.Body, 256*1024))
	if err != nil {
		return TrackLabel{}, false, err
	}
	raw := ""
	if m := ogTitleRe.FindSubmatch(html); m != nil {
		raw = string(m[1])
	} else if m := htmlTitleRe.FindSubmatch(html); m != nil {
		raw = string(m[1])
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return TrackLabel{}, false, nil
	}
	title, performer := splitArtistTitle(raw)
	if title == "" {
		return TrackLabel{}, false, nil
	}
	if performer == "" {
		performer = PlaceholderPerformer
	}
	return TrackLabel{Title: title, Performer: performer}, true, nil
}

// filenameStrategy derives a label from the last URL path segment. Last resort:
// it always yields a title when the path has a plausible media filename.
type filenameStrategy struct{}

func (*filenameStrategy) name() string { return "filename" }

var audioExtensions = map[string]bool{
	".mp3": true, ".m4a": true, ".ogg": true, ".opus": true,
	".flac": true, ".wav": true, ".aac": true, ".oga": true,
}

func (*filenameStrategy) extract(_ context.Context, rawURL string) (TrackLabel, bool, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return TrackLabel{}, false, err
	}
	base := path.Base(u.Path)
	ext := strings.ToLower(path.Ext(base))
	if base == "." || base == "/" || base == "" {
		return TrackLabel{}, false, nil
	}
	name := strings.TrimSuffix(base, path.Ext(base))
	name = strings.NewReplacer("_", " ", "-", " ", "%20", " ").Replace(name)
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return TrackLabel{}, false, nil
	}
	if !audioExtensions[ext] && ext != "" {
		// Non-audio filename: weak evidence, let the placeholder take over.
		return TrackLabel{}, false, nil
	}
	return TrackLabel{Title: name, Performer: PlaceholderPerformer}, true, nil
}

// splitArtistTitle splits "Performer - Title" style strings. Returns the whole
// string as title with empty performer when no separator is present.
func splitArtistTitle(s string) (title, performer string) {
	s = strings.TrimSpace(s)
	for _, sep := range []string{" - ", " – ", " — ", " | "} {
		if i := strings.Index(s, sep); i > 0 {
			return strings.TrimSpace(s[i+len(sep):]), strings.TrimSpace(s[:i])
		}
	}
	return s, ""
}
