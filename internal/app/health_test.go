package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"petition/api/internal/config"
	"petition/api/internal/petition"
	"petition/api/internal/remote"
	"petition/api/internal/signature"
)

type fakeStore struct {
	fetchAllFn func(context.Context) ([]signature.Signature, error)
	submitFn   func(context.Context, remote.Submission) (*signature.Signature, error)
	countFn    func(context.Context) (int, error)
}

func (f *fakeStore) FetchAll(ctx context.Context) ([]signature.Signature, error) {
	if f.fetchAllFn != nil {
		return f.fetchAllFn(ctx)
	}
	return []signature.Signature{}, nil
}

func (f *fakeStore) Submit(ctx context.Context, sub remote.Submission) (*signature.Signature, error) {
	if f.submitFn != nil {
		return f.submitFn(ctx, sub)
	}
	return &signature.Signature{
		ID:        "sig-" + sub.Handle,
		Handle:    sub.Handle,
		Comment:   sub.CommentText(),
		CreatedAt: time.Now(),
		Location:  sub.Location,
	}, nil
}

func (f *fakeStore) Count(ctx context.Context) (int, error) {
	if f.countFn != nil {
		return f.countFn(ctx)
	}
	return 0, nil
}

// fakeStoreForHealth extends fakeStore with ping functionality
type fakeStoreForHealth struct {
	fakeStore
	pingFn func(context.Context) error
}

func (f *fakeStoreForHealth) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func testConfig() config.Config {
	return config.Config{
		SiteKey:     "test-site-key",
		CaptchaPoll: time.Millisecond,
		RevertAfter: 30 * time.Second,
		SessionKey:  "test-secret",
		SessionIdle: time.Hour,
		PublicURL:   "https://petition.example/",
	}
}

func newTestService(t *testing.T, ds dataStore) *Service {
	t.Helper()
	return newTestServiceWithConfig(t, ds, testConfig())
}

func newTestServiceWithConfig(t *testing.T, ds dataStore, cfg config.Config) *Service {
	t.Helper()
	data, err := petition.Default()
	if err != nil {
		t.Fatalf("load petition: %v", err)
	}
	svc, err := New(cfg, ds, data, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	t.Cleanup(svc.Close)
	return svc
}

func TestHealthEndpoint(t *testing.T) {
	svc := newTestService(t, &fakeStore{})
	server := NewHTTPServer(svc, "*", nil)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}

	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if ok, exists := response["ok"]; !exists || ok != true {
		t.Errorf("expected ok=true, got %v", ok)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
}

func TestReadyEndpoint_Success(t *testing.T) {
	fs := &fakeStoreForHealth{
		pingFn: func(context.Context) error {
			return nil
		},
	}
	svc := newTestService(t, fs)
	server := NewHTTPServer(svc, "*", nil)

	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}

	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if status, exists := response["status"]; !exists || status != "ready" {
		t.Errorf("expected status=ready, got %v", status)
	}

	checks, exists := response["checks"].(map[string]any)
	if !exists {
		t.Fatalf("expected checks object, got %v", response["checks"])
	}
	backend, exists := checks["backend"].(map[string]any)
	if !exists {
		t.Fatalf("expected backend check, got %v", checks["backend"])
	}
	if backend["status"] != "ok" {
		t.Errorf("expected backend status=ok, got %v", backend["status"])
	}
}

func TestReadyEndpoint_BackendFailure(t *testing.T) {
	fs := &fakeStoreForHealth{
		pingFn: func(context.Context) error {
			return errors.New("connection refused")
		},
	}
	svc := newTestService(t, fs)
	server := NewHTTPServer(svc, "*", nil)

	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", rr.Code)
	}

	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if ok := response["ok"]; ok != false {
		t.Errorf("expected ok=false, got %v", ok)
	}
	checks := response["checks"].(map[string]any)
	backend := checks["backend"].(map[string]any)
	if backend["error"] != "connection refused" {
		t.Errorf("expected backend error, got %v", backend["error"])
	}
}

func TestReadyEndpoint_NoPinger(t *testing.T) {
	svc := newTestService(t, &fakeStore{})
	server := NewHTTPServer(svc, "*", nil)

	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
}

func TestPreflightAndUnknownRoutes(t *testing.T) {
	svc := newTestService(t, &fakeStore{})
	server := NewHTTPServer(svc, "https://petition.example", nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/form/submit", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://petition.example" {
		t.Fatalf("unexpected CORS origin %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/nope", nil)
	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}
