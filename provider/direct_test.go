package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/trackrelay/trackrelay/metadata"
)

func TestDirectAcceptsAudioContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Range") == "" {
			t.Error("expected ranged probe")
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write([]byte{0xff})
	}))
	defer srv.Close()

	p := NewDirectProvider(srv.Client())
	loc, err := p.Resolve(context.Background(), metadata.Placeholder(), srv.URL+"/track")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if loc.URL != srv.URL+"/track" || loc.MimeType != "audio/mpeg" {
		t.Errorf("locator = %+v", loc)
	}
}

func TestDirectRejectsHTMLPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html></html>"))
	}))
	defer srv.Close()

	p := NewDirectProvider(srv.Client())
	if _, err := p.Resolve(context.Background(), metadata.Placeholder(), srv.URL); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDirectOctetStreamWithAudioExtension(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewDirectProvider(srv.Client())
	loc, err := p.Resolve(context.Background(), metadata.Placeholder(), srv.URL+"/song.mp3")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if loc == nil || loc.URL != srv.URL+"/song.mp3" {
		t.Errorf("locator = %+v", loc)
	}
}

func TestDirectStatusMapping(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusNotFound, ErrNotFound},
		{http.StatusGone, ErrNotFound},
		{http.StatusForbidden, ErrRejected},
		{http.StatusUnauthorized, ErrRejected},
	}
	for _, c := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(c.status)
		}))
		p := NewDirectProvider(srv.Client())
		_, err := p.Resolve(context.Background(), metadata.Placeholder(), srv.URL)
		if !errors.Is(err, c.want) {
			t.Errorf("status %d: err = %v, want %v", c.status, err, c.want)
		}
		srv.Close()
	}
}

func TestDirectServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewDirectProvider(srv.Client())
	_, err := p.Resolve(context.Background(), metadata.Placeholder(), srv.URL)
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrRejected) {
		t.Fatalf("err = %v, want plain transient error", err)
	}
}

func TestDirectRejectsNonHTTPScheme(t *testing.T) {
	p := NewDirectProvider(nil)
	if _, err := p.Resolve(context.Background(), metadata.Placeholder(), "ftp://host/file.mp3"); !errors.Is(err, ErrRejected) {
		t.Fatalf("err = %v, want ErrRejected", err)
	}
}
