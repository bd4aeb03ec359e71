package core

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"llcstack/internal/types"
)

// --- Recoverer ---

func TestRecoverer_NoPanic(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Recoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK || rec.Body.String() != `{"ok":true}` {
		t.Errorf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
}

func TestRecoverer_PanicReturnsJSON500(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Recoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("nil catalog")
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/checkout", nil)
	req = req.WithContext(types.WithRequestID(req.Context(), `req"1`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	body := decodeErrorBody(t, rec)
	if body.Code != string(types.ErrCodeInternalUnexpected) {
		t.Errorf("unexpected code %s", body.Code)
	}
	if body.RequestID != `req"1` {
		t.Errorf("expected escaped request id to round-trip, got %q", body.RequestID)
	}
}

func TestRecoverer_RepanicsOnAbortHandler(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Recoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	defer func() {
		if rvr := recover(); rvr != http.ErrAbortHandler {
			t.Errorf("expected ErrAbortHandler to propagate, got %v", rvr)
		}
	}()
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}

// --- RequestLogger ---

func captureLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}

func TestRequestLogger_RedactsHeaders(t *testing.T) {
	logger, buf := captureLogger()
	h := RequestLogger(logger, redactedHeaders)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", nil)
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	req.Header.Set("Cookie", "session=abc")
	req.Header.Set("User-Agent", "Stripe/1.0")
	h.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	if strings.Contains(out, "deadbeef") || strings.Contains(out, "session=abc") {
		t.Errorf("sensitive header leaked: %s", out)
	}
	if !strings.Contains(out, "[REDACTED]") || !strings.Contains(out, "Stripe/1.0") {
		t.Errorf("expected redacted and plain headers: %s", out)
	}
}

func TestRequestLogger_LevelFollowsStatus(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "INFO"},
		{http.StatusBadRequest, "WARN"},
		{http.StatusBadGateway, "ERROR"},
	}
	for _, tt := range tests {
		logger, buf := captureLogger()
		h := RequestLogger(logger, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

		var entry map[string]any
		if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
			t.Fatalf("decode log: %v", err)
		}
		if entry["level"] != tt.level {
			t.Errorf("status %d: expected level %s, got %v", tt.status, tt.level, entry["level"])
		}
		if int(entry["status"].(float64)) != tt.status {
			t.Errorf("expected status %d in log, got %v", tt.status, entry["status"])
		}
	}
}

// --- MetricsMiddleware ---

type recordedRequest struct {
	method, endpoint, status string
}

type fakeMetrics struct {
	mu       sync.Mutex
	requests []recordedRequest
}

func (f *fakeMetrics) RecordRequest(method, endpoint, status string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, recordedRequest{method, endpoint, status})
}

func TestMetricsMiddleware_UsesRoutePattern(t *testing.T) {
	srv := newTestServer(t)
	metrics := &fakeMetrics{}
	srv.Metrics = metrics

	r := chi.NewRouter()
	r.Use(srv.MetricsMiddleware)
	r.Post("/v1/checkout/{kind}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/checkout/abc", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))

	want := []recordedRequest{
		{"POST", "/v1/checkout/{kind}", "202"},
		{"GET", "unmatched", "404"},
	}
	if len(metrics.requests) != len(want) {
		t.Fatalf("expected %d records, got %v", len(want), metrics.requests)
	}
	for i := range want {
		if metrics.requests[i] != want[i] {
			t.Errorf("record %d: expected %+v, got %+v", i, want[i], metrics.requests[i])
		}
	}
}

func TestMetricsMiddleware_NilCollectorPassesThrough(t *testing.T) {
	srv := newTestServer(t)
	called := false
	h := srv.MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !called {
		t.Error("expected next handler to run")
	}
}

// --- SecurityHeaders ---

func TestSecurityHeadersMiddleware(t *testing.T) {
	srv := newTestServer(t)
	h := srv.SecurityHeadersMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	want := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "no-referrer",
		"Cache-Control":          "no-store",
	}
	for name, value := range want {
		if got := rec.Header().Get(name); got != value {
			t.Errorf("%s: expected %q, got %q", name, value, got)
		}
	}
}

func TestEscapeJSON(t *testing.T) {
	got := escapeJSON("a\"b\\c\nd\te\r")
	want := `a\"b\\c\nd\te\r`
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}
