package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/trackrelay/trackrelay/metadata"
)

// CatalogProvider queries a licensed track-catalog search API. The API is
// secured by OAuth2 client credentials; the token source caches and refreshes
// the app token transparently.
type CatalogProvider struct {
	baseURL string
	client  *http.Client
}

// CatalogConfig carries the catalog endpoint and credentials.
type CatalogConfig struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
}

// NewCatalogProvider builds the catalog adapter. baseCtx scopes the token
// source's own HTTP calls and should be the process root context.
func NewCatalogProvider(baseCtx context.Context, cfg CatalogConfig) *CatalogProvider {
	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
	}
	return &CatalogProvider{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  cc.Client(baseCtx),
	}
}

func (*CatalogProvider) ID() string { return "catalog" }

type catalogTrack struct {
	Title     string `json:"title"`
	Performer string `json:"performer"`
	StreamURL string `json:"stream_url"`
	MimeType  string `json:"mime_type"`
}

func (p *CatalogProvider) Resolve(ctx context.Context, label metadata.TrackLabel, _ string) (*Locator, error) {
	// Searching by a placeholder label would only return noise.
	if label.Title == metadata.PlaceholderTitle {
		return nil, ErrNotFound
	}

	q := url.Values{"title": {label.Title}}
	if label.Performer != metadata.PlaceholderPerformer {
		q.Set("performer", label.Performer)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v1/tracks/search?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog search: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnavailableForLegalReasons:
		return nil, ErrRejected
	default:
		return nil, fmt.Errorf("catalog search: status %d", resp.StatusCode)
	}

	var body struct {
		Tracks []catalogTrack `json:"tracks"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return nil, fmt.Errorf("catalog decode: %w", err)
	}
	for _, t := range body.Tracks {
		if t.StreamURL == "" {
			continue
		}
		loc := &Locator{URL: t.StreamURL, MimeType: t.MimeType}
		if t.Title != "" {
			performer := t.Performer
			if performer == "" {
				performer = metadata.PlaceholderPerformer
			}
			loc.Label = &metadata.TrackLabel{Title: t.Title, Performer: performer}
		}
		return loc, nil
	}
	return nil, ErrNotFound
}
