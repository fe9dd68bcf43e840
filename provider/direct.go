package provider

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/trackrelay/trackrelay/metadata"
)

// DirectProvider probes the raw URL itself: when the link already points at an
// audio byte stream there is nothing to resolve, and it is the highest-fidelity
// source available. Tried first by default.
type DirectProvider struct {
	client *http.Client
}

// NewDirectProvider returns a direct-link prober using the given client.
func NewDirectProvider(client *http.Client) *DirectProvider {
	if client == nil {
		client = http.DefaultClient
	}
	return &DirectProvider{client: client}
}

func (*DirectProvider) ID() string { return "direct" }

func (p *DirectProvider) Resolve(ctx context.Context, _ metadata.TrackLabel, rawURL string) (*Locator, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, ErrRejected
	}

	// Ranged GET instead of HEAD: several CDNs answer HEAD with 403 or lie
	// about the content type, while a 1-byte range is honored everywhere.
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", "bytes=0-0")
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("direct probe: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusPartialContent:
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, ErrNotFound
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrRejected
	default:
		return nil, fmt.Errorf("direct probe: status %d", resp.StatusCode)
	}

	ct := resp.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		ct = mt
	}
	if strings.HasPrefix(ct, "audio/") || ct == "application/ogg" {
		return &Locator{URL: rawURL, MimeType: ct}, nil
	}
	// Fall back on the extension when the server serves octet-stream.
	if ct == "" || ct == "application/octet-stream" || ct == "binary/octet-stream" {
		if isAudioPath(u.Path) {
			return &Locator{URL: rawURL, MimeType: "audio/mpeg"}, nil
		}
	}
	return nil, ErrNotFound
}

func isAudioPath(p string) bool {
	switch strings.ToLower(path.Ext(p)) {
	case ".mp3", ".m4a", ".ogg", ".opus", ".flac", ".wav", ".aac", ".oga":
		return true
	}
	return false
}
