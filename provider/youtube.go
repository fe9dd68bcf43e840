package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	yt "github.com/kkdai/youtube/v2"

	"github.com/trackrelay/trackrelay/metadata"
)

// YouTubeProvider resolves YouTube watch links to a direct audio-only stream
// URL using the innertube client. Non-YouTube URLs are NotFound so the chain
// keeps moving.
type YouTubeProvider struct {
	client *yt.Client
}

// NewYouTubeProvider returns a YouTube stream resolver.
func NewYouTubeProvider(hc *http.Client) *YouTubeProvider {
	c := &yt.Client{}
	if hc != nil {
		c.HTTPClient = hc
	}
	return &YouTubeProvider{client: c}
}

func (*YouTubeProvider) ID() string { return "youtube" }

var ytVideoIDRe = regexp.MustCompile(`^[a-zA-Z0-9_-]{11}$`)

// extractVideoID pulls the 11-char video id out of watch/short/embed URL shapes.
func extractVideoID(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	switch {
	case host == "youtu.be":
		id := strings.Trim(strings.TrimPrefix(u.Path, "/"), "/")
		if ytVideoIDRe.MatchString(id) {
			return id
		}
	case host == "youtube.com" || strings.HasSuffix(host, ".youtube.com"):
		if id := u.Query().Get("v"); ytVideoIDRe.MatchString(id) {
			return id
		}
		for _, prefix := range []string{"/embed/", "/shorts/", "/live/"} {
			if strings.HasPrefix(u.Path, prefix) {
				id := strings.SplitN(strings.TrimPrefix(u.Path, prefix), "/", 2)[0]
				if ytVideoIDRe.MatchString(id) {
					return id
				}
			}
		}
	}
	return ""
}

func (p *YouTubeProvider) Resolve(ctx context.Context, _ metadata.TrackLabel, rawURL string) (*Locator, error) {
	id := extractVideoID(rawURL)
	if id == "" {
		return nil, ErrNotFound
	}

	video, err := p.client.GetVideoContext(ctx, id)
	if err != nil {
		var perr *yt.ErrPlayabiltyStatus
		if errors.As(err, &perr) {
			return nil, fmt.Errorf("%w: %s", ErrRejected, perr.Reason)
		}
		if errors.Is(err, yt.ErrVideoIDMinLength) || errors.Is(err, yt.ErrInvalidCharactersInVideoID) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("youtube lookup: %w", err)
	}

	formats := video.Formats.Type("audio")
	if len(formats) == 0 {
		return nil, ErrNotFound
	}
	// Highest bitrate wins; the chain is ordered by expected fidelity and this
	// adapter should honor the same principle within its own formats.
	best := formats[0]
	for _, f := range formats[1:] {
		if f.Bitrate > best.Bitrate {
			best = f
		}
	}

	streamURL, err := p.client.GetStreamURLContext(ctx, video, &best)
	if err != nil {
		return nil, fmt.Errorf("youtube stream url: %w", err)
	}

	var label *metadata.TrackLabel
	if video.Title != "" {
		title, performer := video.Title, video.Author
		if performer == "" {
			performer = metadata.PlaceholderPerformer
		}
		label = &metadata.TrackLabel{Title: title, Performer: performer}
	}
	mimeType := best.MimeType
	if i := strings.Index(mimeType, ";"); i > 0 {
		mimeType = mimeType[:i]
	}
	return &Locator{URL: streamURL, MimeType: mimeType, Label: label}, nil
}
