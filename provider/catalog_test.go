package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/trackrelay/trackrelay/metadata"
)

// newCatalogTestServer mocks the token endpoint plus the track search API.
func newCatalogTestServer(t *testing.T, search http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "test-token",
			"token_type":   "bearer",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/v1/tracks/search", search)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestCatalog(t *testing.T, srv *httptest.Server) *CatalogProvider {
	t.Helper()
	return NewCatalogProvider(context.Background(), CatalogConfig{
		BaseURL:      srv.URL,
		TokenURL:     srv.URL + "/oauth/token",
		ClientID:     "id",
		ClientSecret: "secret",
	})
}

func TestCatalogResolvesTrack(t *testing.T) {
	srv := newCatalogTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("authorization = %q", got)
		}
		if got := r.URL.Query().Get("title"); got != "Song" {
			t.Errorf("title query = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"tracks": []map[string]string{
				{"title": "Song", "performer": "Artist", "stream_url": "https://cdn.example.com/s.mp3", "mime_type": "audio/mpeg"},
			},
		})
	})

	p := newTestCatalog(t, srv)
	loc, err := p.Resolve(context.Background(), metadata.TrackLabel{Title: "Song", Performer: "Artist"}, "http://x")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if loc.URL != "https://cdn.example.com/s.mp3" {
		t.Errorf("locator url = %q", loc.URL)
	}
	if loc.Label == nil || loc.Label.Performer != "Artist" {
		t.Errorf("label = %+v", loc.Label)
	}
}

func TestCatalogSkipsPlaceholderLabel(t *testing.T) {
	called := false
	srv := newCatalogTestServer(t, func(w http.ResponseWriter, r *http.Request) { called = true })

	p := newTestCatalog(t, srv)
	_, err := p.Resolve(context.Background(), metadata.Placeholder(), "http://x")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if called {
		t.Error("search endpoint called for placeholder label")
	}
}

func TestCatalogEmptyResultIsNotFound(t *testing.T) {
	srv := newCatalogTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"tracks": []any{}})
	})

	p := newTestCatalog(t, srv)
	_, err := p.Resolve(context.Background(), metadata.TrackLabel{Title: "Song", Performer: "Artist"}, "http://x")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCatalogLegalBlockIsRejected(t *testing.T) {
	srv := newCatalogTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnavailableForLegalReasons)
	})

	p := newTestCatalog(t, srv)
	_, err := p.Resolve(context.Background(), metadata.TrackLabel{Title: "Song", Performer: "Artist"}, "http://x")
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("err = %v, want ErrRejected", err)
	}
}
