package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"upaste/cfg"
	"upaste/svc/db"
	"upaste/svc/lim"
	"upaste/svc/svc"
	"upaste/svc/util"
)

type testEnv struct {
	srv   *Server
	clock *util.FixedClock
}

func newTestEnv(t *testing.T, mutate func(*cfg.Cfg, *lim.Options)) *testEnv {
	t.Helper()
	c := &cfg.Cfg{
		Host:           "localhost",
		Port:           "3030",
		Environment:    "test",
		Version:        "1.2.3",
		MaxPasteBytes:  64,
		ContextTimeout: 5 * time.Second,
	}
	lo := lim.Options{RPM: 6000, Burst: 1000}
	if mutate != nil {
		mutate(c, &lo)
	}
	store, err := db.NewSQLiteWithConfig(filepath.Join(t.TempDir(), "api.db"), 4, 2, 5*time.Second)
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	l, err := lim.New(lo, nil, nil)
	if err != nil {
		t.Fatalf("failed to build limiter: %v", err)
	}
	clock := &util.FixedClock{T: time.Unix(1700000000, 0)}
	repo := svc.NewPastes(store, []byte("01234567890123456789012345678901"), clock)
	return &testEnv{srv: NewServer(c, repo, l, store, nil), clock: clock}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	req.RemoteAddr = "192.0.2.10:4000"
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) create(t *testing.T, target, body, passphrase string) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	if passphrase != "" {
		req.Header.Set(encryptionKeyHeader, passphrase)
	}
	rec := e.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("create returned %d: %s", rec.Code, rec.Body.String())
	}
	var resp NewPasteResp
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode create response: %v", err)
	}
	if resp.Message != "success" || !util.ValidKey(resp.Key) {
		t.Fatalf("unexpected create response %+v", resp)
	}
	return resp.Key
}

func TestCreateThenRaw(t *testing.T) {
	env := newTestEnv(t, nil)
	key := env.create(t, "/new", "line one\nline two\n", "")

	rec := env.do(httptest.NewRequest(http.MethodGet, "/raw/"+key, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("raw returned %d", rec.Code)
	}
	if got := rec.Body.String(); got != "line one\nline two\n" {
		t.Errorf("raw body = %q", got)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("raw content type = %q", ct)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}
}

func TestViewJSON(t *testing.T) {
	env := newTestEnv(t, nil)
	key := env.create(t, "/new?type=+rust+", "fn main() {}", "")

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/"+key, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("api returned %d", rec.Code)
	}
	var resp struct {
		Paste map[string]interface{} `json:"paste"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Paste["key"] != key || resp.Paste["content"] != "fn main() {}" || resp.Paste["content_type"] != "rust" {
		t.Errorf("unexpected paste %+v", resp.Paste)
	}
	if len(resp.Paste) != 3 {
		t.Errorf("paste exposes extra fields: %+v", resp.Paste)
	}
}

func TestDefaultContentType(t *testing.T) {
	env := newTestEnv(t, nil)
	key := env.create(t, "/new", "x", "")
	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/"+key, nil))
	if !strings.Contains(rec.Body.String(), `"content_type":"auto"`) {
		t.Errorf("expected auto type, got %s", rec.Body.String())
	}
}

func TestEncryptedRawNeedsHeader(t *testing.T) {
	env := newTestEnv(t, nil)
	key := env.create(t, "/new", "secret stuff", "hunter2")

	rec := env.do(httptest.NewRequest(http.MethodGet, "/raw/"+key, nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "decryption_key_required" {
		t.Errorf("error = %q", body["error"])
	}

	wrong := httptest.NewRequest(http.MethodGet, "/raw/"+key, nil)
	wrong.Header.Set(encryptionKeyHeader, "hunter3")
	if rec := env.do(wrong); rec.Code != http.StatusBadRequest {
		t.Errorf("wrong passphrase returned %d", rec.Code)
	}

	right := httptest.NewRequest(http.MethodGet, "/raw/"+key, nil)
	right.Header.Set(encryptionKeyHeader, "hunter2")
	rec = env.do(right)
	if rec.Code != http.StatusOK || rec.Body.String() != "secret stuff" {
		t.Errorf("right passphrase returned %d %q", rec.Code, rec.Body.String())
	}
}

func TestCreateRejects(t *testing.T) {
	env := newTestEnv(t, nil)
	tests := []struct {
		name   string
		target string
		body   string
		want   int
	}{
		{"oversized", "/new", strings.Repeat("a", 65), http.StatusRequestEntityTooLarge},
		{"invalid utf8", "/new", "\xff\xfe", http.StatusBadRequest},
		{"zero ttl", "/new?ttl_seconds=0", "x", http.StatusBadRequest},
		{"negative ttl", "/new?ttl_seconds=-5", "x", http.StatusBadRequest},
		{"garbage ttl", "/new?ttl_seconds=soon", "x", http.StatusBadRequest},
		{"long type", "/new?type=" + strings.Repeat("t", 65), "x", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(httptest.NewRequest(http.MethodPost, tt.target, strings.NewReader(tt.body)))
			if rec.Code != tt.want {
				t.Errorf("got %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestOversizedWithoutContentLength(t *testing.T) {
	env := newTestEnv(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/new", strings.NewReader(strings.Repeat("b", 100)))
	req.ContentLength = -1
	if rec := env.do(req); rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("got %d, want 413", rec.Code)
	}
}

func TestUnknownKey(t *testing.T) {
	env := newTestEnv(t, nil)
	for _, path := range []string{"/raw/zzzzzz", "/api/zzzzzz", "/raw/NOT-A-KEY"} {
		if rec := env.do(httptest.NewRequest(http.MethodGet, path, nil)); rec.Code != http.StatusNotFound {
			t.Errorf("%s returned %d", path, rec.Code)
		}
	}
}

func TestTTLExpiry(t *testing.T) {
	env := newTestEnv(t, nil)
	key := env.create(t, "/new?ttl_seconds=60", "short lived", "")

	env.clock.Advance(59 * time.Second)
	if rec := env.do(httptest.NewRequest(http.MethodGet, "/raw/"+key, nil)); rec.Code != http.StatusOK {
		t.Fatalf("paste gone before ttl: %d", rec.Code)
	}
	env.clock.Advance(time.Second)
	if rec := env.do(httptest.NewRequest(http.MethodGet, "/raw/"+key, nil)); rec.Code != http.StatusNotFound {
		t.Fatalf("paste visible at expiry: %d", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, func(_ *cfg.Cfg, o *lim.Options) {
		o.RPM = 1
		o.Burst = 1
	})
	env.create(t, "/new", "first", "")
	rec := env.do(httptest.NewRequest(http.MethodPost, "/new", strings.NewReader("second")))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
	if rec.Header().Get("X-RateLimit-Limit") != "1" {
		t.Errorf("X-RateLimit-Limit = %q", rec.Header().Get("X-RateLimit-Limit"))
	}
}

func TestAppInfoAndHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(httptest.NewRequest(http.MethodGet, "/appinfo", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"version":"1.2.3"`) {
		t.Errorf("appinfo: %d %s", rec.Code, rec.Body.String())
	}
	if rec := env.do(httptest.NewRequest(http.MethodGet, "/health", nil)); rec.Code != http.StatusOK {
		t.Errorf("health returned %d", rec.Code)
	}
	rec = env.do(httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("ready returned %d", rec.Code)
	}
	var ready ReadyResponse
	if err := json.NewDecoder(rec.Body).Decode(&ready); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !ready.Ready || ready.Database != "up" || ready.Redis != "unavailable" {
		t.Errorf("unexpected readiness %+v", ready)
	}
}

func TestMetricsBasicAuth(t *testing.T) {
	env := newTestEnv(t, func(c *cfg.Cfg, _ *lim.Options) {
		c.MetricsUser = "prom"
		c.MetricsPass = cfg.NewSecret("scrape")
	})
	if rec := env.do(httptest.NewRequest(http.MethodGet, "/metrics", nil)); rec.Code != http.StatusUnauthorized {
		t.Errorf("metrics without auth returned %d", rec.Code)
	}
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.SetBasicAuth("prom", "scrape")
	if rec := env.do(req); rec.Code != http.StatusOK {
		t.Errorf("metrics with auth returned %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, func(c *cfg.Cfg, _ *lim.Options) {
		c.AllowedOrigins = []string{"https://paste.example"}
	})
	req := httptest.NewRequest(http.MethodOptions, "/new", nil)
	req.Header.Set("Origin", "https://paste.example")
	rec := env.do(req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight returned %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://paste.example" {
		t.Errorf("allow origin = %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}
}
