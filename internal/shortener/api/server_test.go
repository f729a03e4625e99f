package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"shortly"
	"shortly/internal/shortener/core"
)

type fakeShortener struct {
	shortenFn  func(ctx context.Context, originalURL, customCode string) (*shortly.URL, error)
	redirectFn func(ctx context.Context, code string) (string, error)
	statsFn    func(ctx context.Context, code string) (*shortly.URL, error)
}

func (f *fakeShortener) Shorten(ctx context.Context, originalURL, customCode string) (*shortly.URL, error) {
	return f.shortenFn(ctx, originalURL, customCode)
}

func (f *fakeShortener) Redirect(ctx context.Context, code string) (string, error) {
	return f.redirectFn(ctx, code)
}

func (f *fakeShortener) Stats(ctx context.Context, code string) (*shortly.URL, error) {
	return f.statsFn(ctx, code)
}

func newTestServer(t *testing.T, svc Shortener) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	NewServer(svc, nil).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func noRedirectClient() *http.Client {
	return &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func TestShorten_Created(t *testing.T) {
	svc := &fakeShortener{
		shortenFn: func(ctx context.Context, originalURL, customCode string) (*shortly.URL, error) {
			if originalURL != "https://example.com/long" || customCode != "" {
				t.Fatalf("unexpected args: %q %q", originalURL, customCode)
			}
			return &shortly.URL{ID: 1, ShortCode: "0000001", OriginalURL: originalURL}, nil
		},
	}
	srv := newTestServer(t, svc)

	resp, err := http.Post(srv.URL+"/api/shorten", "application/json",
		strings.NewReader(`{"url":"https://example.com/long"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var got shortly.URL
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.ShortCode != "0000001" {
		t.Fatalf("expected short code in response, got %q", got.ShortCode)
	}
}

func TestShorten_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid url", core.ErrInvalidURL, http.StatusBadRequest},
		{"invalid custom code", core.ErrInvalidCode, http.StatusBadRequest},
		{"custom code taken", core.ErrCustomCodeTaken, http.StatusConflict},
		{"allocator down", core.ErrAllocatorUnavailable, http.StatusServiceUnavailable},
		{"retries exhausted", core.ErrExhausted, http.StatusServiceUnavailable},
		{"backend down", core.ErrUnavailable, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeShortener{
				shortenFn: func(ctx context.Context, originalURL, customCode string) (*shortly.URL, error) {
					return nil, tt.err
				},
			}
			srv := newTestServer(t, svc)

			resp, err := http.Post(srv.URL+"/api/shorten", "application/json",
				strings.NewReader(`{"url":"https://example.com"}`))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, resp.StatusCode)
			}
		})
	}
}

func TestShorten_MalformedBody(t *testing.T) {
	srv := newTestServer(t, &fakeShortener{})

	resp, err := http.Post(srv.URL+"/api/shorten", "application/json", strings.NewReader(`{`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestRedirect_TemporaryRedirect(t *testing.T) {
	svc := &fakeShortener{
		redirectFn: func(ctx context.Context, code string) (string, error) {
			if code != "abc1234" {
				t.Fatalf("unexpected code %q", code)
			}
			return "https://example.com/long", nil
		},
	}
	srv := newTestServer(t, svc)

	resp, err := noRedirectClient().Get(srv.URL + "/abc1234")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusTemporaryRedirect {
		t.Fatalf("expected 307, got %d", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "https://example.com/long" {
		t.Fatalf("expected Location header, got %q", loc)
	}
}

func TestRedirect_UnknownCodeIs404(t *testing.T) {
	svc := &fakeShortener{
		redirectFn: func(ctx context.Context, code string) (string, error) {
			return "", core.ErrNotFound
		},
	}
	srv := newTestServer(t, svc)

	resp, err := noRedirectClient().Get(srv.URL + "/zzzzzzz")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestRedirect_BackendDownIs503(t *testing.T) {
	svc := &fakeShortener{
		redirectFn: func(ctx context.Context, code string) (string, error) {
			return "", core.ErrUnavailable
		},
	}
	srv := newTestServer(t, svc)

	resp, err := noRedirectClient().Get(srv.URL + "/abc1234")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

func TestStats_MergedCounts(t *testing.T) {
	svc := &fakeShortener{
		statsFn: func(ctx context.Context, code string) (*shortly.URL, error) {
			return &shortly.URL{ShortCode: code, OriginalURL: "https://example.com", Clicks: 15}, nil
		},
	}
	srv := newTestServer(t, svc)

	resp, err := http.Get(srv.URL + "/api/stats/abc1234")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var got shortly.URL
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Clicks != 15 {
		t.Fatalf("expected merged clicks 15, got %d", got.Clicks)
	}
}

func TestHealthIsNotAShortCode(t *testing.T) {
	svc := &fakeShortener{
		redirectFn: func(ctx context.Context, code string) (string, error) {
			t.Fatalf("redirect handler called for /health with code %q", code)
			return "", nil
		},
	}
	srv := newTestServer(t, svc)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
