package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/trackrelay/trackrelay/metadata"
)

// ScrapeProvider pulls audio links out of the target page's HTML. It is the
// lowest-fidelity fallback and the most fragile parser, so all of that
// fragility is fenced in here per the adapter boundary.
type ScrapeProvider struct {
	client *http.Client
}

// NewScrapeProvider returns a page-scrape fallback adapter.
func NewScrapeProvider(client *http.Client) *ScrapeProvider {
	if client == nil {
		client = http.DefaultClient
	}
	return &ScrapeProvider{client: client}
}

func (*ScrapeProvider) ID() string { return "scrape" }

var (
	ogAudioRe   = regexp.MustCompile(`(?i)<meta[^>]+property=["']og:audio(?::secure_url)?["'][^>]+content=["']([^"']+)["']`)
	audioSrcRe  = regexp.MustCompile(`(?i)<(?:audio|source)[^>]+src=["']([^"']+)["']`)
	audioHrefRe = regexp.MustCompile(`(?i)href=["']([^"']+\.(?:mp3|m4a|ogg|opus|flac|wav)(?:\?[^"']*)?)["']`)
)

func (p *ScrapeProvider) Resolve(ctx context.Context, _ metadata.TrackLabel, rawURL string) (*Locator, error) {
	base, err := url.Parse(rawURL)
	if err != nil {
		return nil, ErrRejected
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/html")
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scrape: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, ErrNotFound
	default:
		return nil, fmt.Errorf("scrape: status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") {
		return nil, ErrNotFound
	}

	html, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("scrape read: %w", err)
	}

	for _, re := range []*regexp.Regexp{ogAudioRe, audioSrcRe, audioHrefRe} {
		if m := re.FindSubmatch(html); m != nil {
			raw := strings.TrimSpace(string(m[1]))
			ref, err := url.Parse(raw)
			if err != nil {
				continue
			}
			abs := base.ResolveReference(ref)
			if abs.Scheme != "http" && abs.Scheme != "https" {
				continue
			}
			return &Locator{URL: abs.String()}, nil
		}
	}
	return nil, ErrNotFound
}
