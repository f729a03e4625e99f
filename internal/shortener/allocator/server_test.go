package allocator

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestServer(t *testing.T, primary, secondary Incrementer) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	NewServer(New(primary, secondary, "id_allocator:urls", nil), nil, nil, nil).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestServerClient_RoundTrip(t *testing.T) {
	srv := newTestServer(t, &fakeIncrementer{}, nil)
	c := NewClient(srv.URL)

	start, end, err := c.Allocate(context.Background(), 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if start != 1 || end != 1000 {
		t.Fatalf("expected [1, 1000], got [%d, %d]", start, end)
	}

	start, end, err = c.Allocate(context.Background(), 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if start != 1001 || end != 2000 {
		t.Fatalf("expected the next disjoint block, got [%d, %d]", start, end)
	}
}

func TestServer_InvalidSizeIsBadRequest(t *testing.T) {
	srv := newTestServer(t, &fakeIncrementer{}, nil)

	resp, err := http.Post(srv.URL+"/api/allocate", "application/json", strings.NewReader(`{"size":0}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestServer_MalformedBodyIsBadRequest(t *testing.T) {
	srv := newTestServer(t, &fakeIncrementer{}, nil)

	resp, err := http.Post(srv.URL+"/api/allocate", "application/json", strings.NewReader(`{size`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestServer_BothCountersDownIsServiceUnavailable(t *testing.T) {
	srv := newTestServer(t, &fakeIncrementer{err: errors.New("down")}, &fakeIncrementer{err: errors.New("down")})
	c := NewClient(srv.URL)

	_, _, err := c.Allocate(context.Background(), 100)
	if err == nil || !strings.Contains(err.Error(), "503") {
		t.Fatalf("expected a 503 error, got %v", err)
	}
}

type fakePinger struct{ err error }

func (f *fakePinger) Ping(ctx context.Context) error { return f.err }

func TestServer_HealthReportsCounterState(t *testing.T) {
	tests := []struct {
		name       string
		primary    Pinger
		secondary  Pinger
		wantStatus int
	}{
		{"both up", &fakePinger{}, &fakePinger{}, http.StatusOK},
		{"primary down, secondary up", &fakePinger{err: errors.New("down")}, &fakePinger{}, http.StatusOK},
		{"primary down, no secondary", &fakePinger{err: errors.New("down")}, nil, http.StatusServiceUnavailable},
		{"both down", &fakePinger{err: errors.New("down")}, &fakePinger{err: errors.New("down")}, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			NewServer(New(&fakeIncrementer{}, nil, "id_allocator:urls", nil), tt.primary, tt.secondary, nil).RegisterRoutes(mux)
			srv := httptest.NewServer(mux)
			defer srv.Close()

			resp, err := http.Get(srv.URL + "/healthz")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, resp.StatusCode)
			}
		})
	}
}
