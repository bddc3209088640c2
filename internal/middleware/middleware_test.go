package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
})

func TestCORS_AllowedOrigin(t *testing.T) {
	handler := CORS([]string{"http://app.local/"})(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/api/files/x", nil)
	req.Header.Set("Origin", "http://app.local")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://app.local" {
		t.Fatalf("expected allowed origin, got %q", got)
	}
	if got := rec.Header().Get("Access-Control-Expose-Headers"); got != corsExposeHeaders {
		t.Fatalf("expected exposed headers, got %q", got)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestCORS_Preflight(t *testing.T) {
	handler := CORS([]string{"http://app.local"})(okHandler)

	cases := []struct {
		origin string
		want   int
	}{
		{"http://app.local", http.StatusNoContent},
		{"http://evil.local", http.StatusForbidden},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodOptions, "/api/files", nil)
		req.Header.Set("Origin", tc.origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != tc.want {
			t.Fatalf("origin %s: expected %d, got %d", tc.origin, tc.want, rec.Code)
		}
	}
}

func TestCORS_Wildcard(t *testing.T) {
	handler := CORS([]string{"*"})(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://any.local")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected *, got %q", got)
	}
	if rec.Header().Get("Vary") != "" {
		t.Fatal("wildcard response must not vary on origin")
	}
}

func TestRateLimit_BlocksAfterLimit(t *testing.T) {
	handler := RateLimit(2, time.Minute)(okHandler)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
		if rec.Code == http.StatusTooManyRequests && rec.Header().Get("Retry-After") != "60" {
			t.Fatalf("expected Retry-After 60, got %q", rec.Header().Get("Retry-After"))
		}
	}
	if codes[0] != 200 || codes[1] != 200 || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected codes %v", codes)
	}

	// 其他来源不受影响
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.2:5555"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected other client to pass, got %d", rec.Code)
	}
}

func TestIPRateLimiter_WindowResets(t *testing.T) {
	now := time.Unix(1000, 0)
	limiter := newIPRateLimiter(1, time.Second, func() time.Time { return now })

	if !limiter.Allow("a") {
		t.Fatal("first request should pass")
	}
	if limiter.Allow("a") {
		t.Fatal("second request inside window should be blocked")
	}
	now = now.Add(2 * time.Second)
	if !limiter.Allow("a") {
		t.Fatal("request after window should pass")
	}
}

func TestRateLimit_DisabledIsPassthrough(t *testing.T) {
	handler := RateLimit(0, time.Minute)(okHandler)
	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
	}
}

func TestRequestLogger_LogsRouteAndStatus(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(RequestLogger(zap.New(core)))
	r.Use(Metrics())
	r.Get("/api/files/{id}", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "missing", http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/files/abc", nil))

	entries := logs.FilterMessage("http request").All()
	if len(entries) != 1 {
		t.Fatalf("expected one log entry, got %d", len(entries))
	}
	entry := entries[0]
	fields := entry.ContextMap()
	if entry.Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level for 404, got %s", entry.Level)
	}
	if fields["route"] != "/api/files/{id}" || fields["status"] != int64(http.StatusNotFound) {
		t.Fatalf("unexpected fields %v", fields)
	}
	if fields["request_id"] == "" {
		t.Fatal("expected request id")
	}
}
