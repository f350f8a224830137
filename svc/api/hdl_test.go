package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pastekv/cfg"
	"pastekv/pkg/token"
	"pastekv/svc/cache"
	"pastekv/svc/db"
	"pastekv/svc/exp"
	"pastekv/svc/lim"
	"pastekv/svc/svc"
)

func testServerCfg() *cfg.Cfg {
	return &cfg.Cfg{
		BindAddr:       "127.0.0.1",
		Port:           "12345",
		MaxTitleLen:    200,
		MaxContentSize: 80 * 1024,
		MaxTTL:         7 * 24 * time.Hour,
		ContextTimeout: 5 * time.Second,
		AllowedOrigins: []string{"https://paste.example.com"},
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	c := testServerCfg()
	table, err := db.Open(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("open table: %v", err)
	}
	t.Cleanup(func() { _ = table.Close() })
	codec, err := token.NewCodec([]byte("api-test-magic"))
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	lru, err := cache.NewLRU(64)
	if err != nil {
		t.Fatalf("new lru: %v", err)
	}
	p := svc.NewPaste(table, exp.NewIndex(), codec, lru, c)
	limiter := lim.New(6000, 6000, 1000, nil, nil)
	t.Cleanup(limiter.Stop)
	return NewServer(c, p, limiter, table, nil)
}

func postAdd(t *testing.T, s *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, "/add", bytes.NewReader([]byte(body)))
	r.Header.Set("Content-Type", "application/json")
	r.RemoteAddr = "10.0.0.1:5000"
	w := httptest.NewRecorder()
	s.ServeHTTP(w, r)
	return w
}

func getQuery(t *testing.T, s *Server, key string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, "/query/"+key, nil)
	r.RemoteAddr = "10.0.0.1:5000"
	w := httptest.NewRecorder()
	s.ServeHTTP(w, r)
	return w
}

func decodeErr(t *testing.T, w *httptest.ResponseRecorder) (code int, reason string) {
	t.Helper()
	var body struct {
		Code    int    `json:"code"`
		Reason  string `json:"reason"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", w.Body.String(), err)
	}
	return body.Code, body.Reason
}

func TestAddAndQuery(t *testing.T) {
	s := newTestServer(t)

	w := postAdd(t, s, `{"title":"note","content":"hello"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("add status %d: %s", w.Code, w.Body.String())
	}
	var add AddResp
	if err := json.Unmarshal(w.Body.Bytes(), &add); err != nil {
		t.Fatalf("decode add response: %v", err)
	}
	if add.Key == "" {
		t.Fatal("empty key in add response")
	}

	w = getQuery(t, s, add.Key)
	if w.Code != http.StatusOK {
		t.Fatalf("query status %d: %s", w.Code, w.Body.String())
	}
	var q QueryResp
	if err := json.Unmarshal(w.Body.Bytes(), &q); err != nil {
		t.Fatalf("decode query response: %v", err)
	}
	if q.Title != "note" || q.Content != "hello" {
		t.Fatalf("query returned %q/%q", q.Title, q.Content)
	}
	if _, err := time.Parse(time.RFC3339, q.CreatedAt); err != nil {
		t.Fatalf("created_at %q not RFC3339: %v", q.CreatedAt, err)
	}
	if q.ExpireAt != nil {
		t.Fatalf("expire_at = %v for paste without TTL, want null", *q.ExpireAt)
	}
	if !strings.Contains(w.Body.String(), `"expire_at":null`) {
		t.Fatalf("expire_at not rendered as explicit null: %s", w.Body.String())
	}
}

func TestAddWithExpiration(t *testing.T) {
	s := newTestServer(t)

	w := postAdd(t, s, `{"title":"note","content":"hello","expiration":3600}`)
	if w.Code != http.StatusOK {
		t.Fatalf("add status %d: %s", w.Code, w.Body.String())
	}
	var add AddResp
	if err := json.Unmarshal(w.Body.Bytes(), &add); err != nil {
		t.Fatalf("decode add response: %v", err)
	}

	w = getQuery(t, s, add.Key)
	var q QueryResp
	if err := json.Unmarshal(w.Body.Bytes(), &q); err != nil {
		t.Fatalf("decode query response: %v", err)
	}
	if q.ExpireAt == nil {
		t.Fatal("expire_at missing for paste with TTL")
	}
	expireAt, err := time.Parse(time.RFC3339, *q.ExpireAt)
	if err != nil {
		t.Fatalf("expire_at %q not RFC3339: %v", *q.ExpireAt, err)
	}
	until := time.Until(expireAt)
	if until < 59*time.Minute || until > 61*time.Minute {
		t.Fatalf("expire_at %v not about an hour out", until)
	}
}

func TestAddValidation(t *testing.T) {
	s := newTestServer(t)

	cases := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   int
	}{
		{"missing title", `{"content":"x"}`, http.StatusBadRequest, 2},
		{"missing content", `{"title":"t"}`, http.StatusBadRequest, 2},
		{"title too long", `{"title":"` + strings.Repeat("a", 201) + `","content":"x"}`, http.StatusBadRequest, 2},
		{"expiration too long", `{"title":"t","content":"x","expiration":604801}`, http.StatusBadRequest, 2},
		{"huge expiration", `{"title":"t","content":"x","expiration":18446744073709551615}`, http.StatusBadRequest, 2},
		{"unknown field", `{"title":"t","content":"x","bogus":1}`, http.StatusBadRequest, 2},
		{"malformed json", `{"title":`, http.StatusBadRequest, 2},
		{"empty body", ``, http.StatusBadRequest, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := postAdd(t, s, tc.body)
			if w.Code != tc.wantStatus {
				t.Fatalf("status %d, want %d: %s", w.Code, tc.wantStatus, w.Body.String())
			}
			code, _ := decodeErr(t, w)
			if code != tc.wantCode {
				t.Fatalf("error code %d, want %d", code, tc.wantCode)
			}
		})
	}
}

func TestAddAtMaxExpiration(t *testing.T) {
	s := newTestServer(t)
	w := postAdd(t, s, `{"title":"t","content":"x","expiration":604800}`)
	if w.Code != http.StatusOK {
		t.Fatalf("add at max TTL rejected: %d %s", w.Code, w.Body.String())
	}
}

func TestAddRequiresJSONContentType(t *testing.T) {
	s := newTestServer(t)
	r := httptest.NewRequest(http.MethodPost, "/add", strings.NewReader(`{"title":"t","content":"x"}`))
	r.Header.Set("Content-Type", "text/plain")
	r.RemoteAddr = "10.0.0.1:5000"
	w := httptest.NewRecorder()
	s.ServeHTTP(w, r)
	if w.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status %d, want 415", w.Code)
	}
}

func TestQueryUnknownTokenIsUniformNotFound(t *testing.T) {
	s := newTestServer(t)

	codec, err := token.NewCodec([]byte("some-other-magic"))
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	foreign, err := codec.Encode(42)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	for _, key := range []string{"garbage", "AAAAAA", foreign} {
		w := getQuery(t, s, key)
		if w.Code != http.StatusNotFound {
			t.Fatalf("query %q status %d, want 404", key, w.Code)
		}
		code, reason := decodeErr(t, w)
		if code != 1 || reason != "ERR_NOT_FOUND" {
			t.Fatalf("query %q error %d/%s, want 1/ERR_NOT_FOUND", key, code, reason)
		}
	}
}

func TestContentRoundTripsExactly(t *testing.T) {
	s := newTestServer(t)
	content := "a < b && c > d\t\"quoted\"\nsecond line"
	body, _ := json.Marshal(map[string]string{"title": "raw", "content": content})

	w := postAdd(t, s, string(body))
	if w.Code != http.StatusOK {
		t.Fatalf("add status %d: %s", w.Code, w.Body.String())
	}
	var add AddResp
	if err := json.Unmarshal(w.Body.Bytes(), &add); err != nil {
		t.Fatalf("decode add response: %v", err)
	}

	w = getQuery(t, s, add.Key)
	var q QueryResp
	if err := json.Unmarshal(w.Body.Bytes(), &q); err != nil {
		t.Fatalf("decode query response: %v", err)
	}
	if q.Content != content {
		t.Fatalf("content altered in round trip: %q != %q", q.Content, content)
	}
}

func TestSecurityHeadersSet(t *testing.T) {
	s := newTestServer(t)
	w := postAdd(t, s, `{"title":"t","content":"x"}`)
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("X-Content-Type-Options = %q", got)
	}
	if got := w.Header().Get("X-Request-ID"); got == "" {
		t.Fatal("X-Request-ID not set")
	}
	if got := w.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("Content-Type = %q", got)
	}
}

func TestRateLimitHeadersAndDenial(t *testing.T) {
	c := testServerCfg()
	table, err := db.Open(filepath.Join(t.TempDir(), "rl.db"))
	if err != nil {
		t.Fatalf("open table: %v", err)
	}
	t.Cleanup(func() { _ = table.Close() })
	codec, err := token.NewCodec([]byte("api-test-magic"))
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	p := svc.NewPaste(table, exp.NewIndex(), codec, nil, c)
	limiter := lim.New(6000, 60, 2, nil, nil)
	t.Cleanup(limiter.Stop)
	s := NewServer(c, p, limiter, table, nil)

	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		last = postAdd(t, s, `{"title":"t","content":"x"}`)
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("status %d after burst, want 429", last.Code)
	}
	if last.Header().Get("X-RateLimit-Limit") == "" {
		t.Fatal("X-RateLimit-Limit not set")
	}
	if last.Header().Get("Retry-After") == "" {
		t.Fatal("Retry-After not set on denial")
	}
	code, reason := decodeErr(t, last)
	if code != 4 || reason != "ERR_RATE_LIMITED" {
		t.Fatalf("error %d/%s, want 4/ERR_RATE_LIMITED", code, reason)
	}
}

func TestHealthAndReady(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("health status %d", w.Code)
	}

	w = httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("ready status %d: %s", w.Code, w.Body.String())
	}
	var ready ReadyResponse
	if err := json.Unmarshal(w.Body.Bytes(), &ready); err != nil {
		t.Fatalf("decode ready response: %v", err)
	}
	if !ready.Ready || ready.Database != "up" {
		t.Fatalf("ready = %+v", ready)
	}
	if ready.Redis != "unavailable" {
		t.Fatalf("redis = %q without a client, want unavailable", ready.Redis)
	}
}

func TestMetricsEndpointOpenWithoutAuth(t *testing.T) {
	s := newTestServer(t)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status %d", w.Code)
	}
}

func TestMetricsEndpointBasicAuth(t *testing.T) {
	c := testServerCfg()
	c.MetricsUser = "ops"
	c.MetricsPass = cfg.NewSecret("hunter2")
	table, err := db.Open(filepath.Join(t.TempDir(), "m.db"))
	if err != nil {
		t.Fatalf("open table: %v", err)
	}
	t.Cleanup(func() { _ = table.Close() })
	codec, err := token.NewCodec([]byte("api-test-magic"))
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	p := svc.NewPaste(table, exp.NewIndex(), codec, nil, c)
	limiter := lim.New(6000, 6000, 1000, nil, nil)
	t.Cleanup(limiter.Stop)
	s := NewServer(c, p, limiter, table, nil)

	w := httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated metrics status %d, want 401", w.Code)
	}

	r := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	r.SetBasicAuth("ops", "hunter2")
	w = httptest.NewRecorder()
	s.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("authenticated metrics status %d", w.Code)
	}
}

func TestCORSAllowsConfiguredOrigin(t *testing.T) {
	s := newTestServer(t)
	r := httptest.NewRequest(http.MethodPost, "/add", strings.NewReader(`{"title":"t","content":"x"}`))
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("Origin", "https://paste.example.com")
	r.RemoteAddr = "10.0.0.1:5000"
	w := httptest.NewRecorder()
	s.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("add status %d: %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://paste.example.com" {
		t.Fatalf("Access-Control-Allow-Origin = %q", got)
	}

	r = httptest.NewRequest(http.MethodPost, "/add", strings.NewReader(`{"title":"t","content":"x"}`))
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("Origin", "https://evil.example.com")
	r.RemoteAddr = "10.0.0.1:5000"
	w = httptest.NewRecorder()
	s.ServeHTTP(w, r)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unexpected Access-Control-Allow-Origin %q for foreign origin", got)
	}
}
