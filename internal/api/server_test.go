package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/org/sitepanel/internal/audit"
	"github.com/org/sitepanel/internal/auth"
	"github.com/org/sitepanel/internal/clock"
	"github.com/org/sitepanel/internal/content"
	"github.com/org/sitepanel/internal/crypto"
	"github.com/org/sitepanel/internal/ratelimit"
	"github.com/org/sitepanel/internal/storage"
	"github.com/org/sitepanel/pkg/models"
)

const testPassword = "correct horse battery staple"

var (
	hashOnce sync.Once
	testHash string
)

// passwordHash computes the scrypt hash once for the whole package.
func passwordHash(t *testing.T) string {
	t.Helper()
	hashOnce.Do(func() {
		h, err := crypto.HashPassword(testPassword)
		if err != nil {
			t.Fatalf("hashing test password: %v", err)
		}
		testHash = h
	})
	return testHash
}

// --- test helpers ---

func testConfig(t *testing.T) Config {
	return Config{
		PasswordHash: passwordHash(t),
		CookieSecure: true,
		LoginLimit:   ratelimit.Policy{MaxAttempts: 5, Window: 15 * time.Minute, BlockDuration: 15 * time.Minute},
		StorageName:  "memory",
	}
}

func newTestServer(t *testing.T, cfg Config) (*Server, *storage.MemoryBackend) {
	t.Helper()
	store := storage.NewMemoryBackend()
	srv := NewServer(cfg, Deps{
		Sessions: auth.NewSessionManager(store, 0, nil),
		Content:  content.NewStore(store, 0, nil),
		Limiter:  ratelimit.New(),
		Auditor:  audit.NewLogger(zerolog.Nop()),
	})
	return srv, store
}

func doRequest(t *testing.T, handler http.Handler, method, path string, body []byte, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.AddCookie(&http.Cookie{Name: SessionCookie, Value: token})
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func postJSON(t *testing.T, handler http.Handler, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	data, _ := json.Marshal(body)
	return doRequest(t, handler, "POST", path, data, token)
}

func getJSON(t *testing.T, handler http.Handler, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	return doRequest(t, handler, "GET", path, nil, token)
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var result map[string]any
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("decoding response: %v (body: %s)", err, w.Body.String())
	}
	return result
}

func sessionCookieFrom(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == SessionCookie {
			return c
		}
	}
	t.Fatalf("no %s cookie in response", SessionCookie)
	return nil
}

func login(t *testing.T, handler http.Handler) string {
	t.Helper()
	w := postJSON(t, handler, "/api/auth/login", map[string]any{"password": testPassword}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", w.Code, w.Body.String())
	}
	return sessionCookieFrom(t, w).Value
}

// --- tests ---

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(t))
	handler := srv.BuildRouter()

	w := getJSON(t, handler, "/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["storage"] != "memory" {
		t.Errorf("expected storage=memory, got %v", body["storage"])
	}
	if configured, _ := body["password_configured"].(bool); !configured {
		t.Error("expected password_configured=true")
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
}

func TestLoginSetsSessionCookie(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(t))
	handler := srv.BuildRouter()

	w := postJSON(t, handler, "/api/auth/login", map[string]any{"password": testPassword}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", w.Code, w.Body.String())
	}
	c := sessionCookieFrom(t, w)
	if c.Value == "" {
		t.Fatal("expected a session token in the cookie")
	}
	if !c.HttpOnly || !c.Secure || c.SameSite != http.SameSiteStrictMode || c.Path != "/" {
		t.Errorf("unexpected cookie attributes: %+v", c)
	}
	if c.MaxAge != int(auth.DefaultSessionTTL.Seconds()) {
		t.Errorf("expected max-age %d, got %d", int(auth.DefaultSessionTTL.Seconds()), c.MaxAge)
	}
	if bytes.Contains(w.Body.Bytes(), []byte(c.Value)) {
		t.Error("session token must only travel in the cookie")
	}
	if !srv.sessions.Validate(context.Background(), c.Value) {
		t.Error("issued token should validate")
	}
}

func TestLoginWrongPassword(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(t))
	handler := srv.BuildRouter()

	w := postJSON(t, handler, "/api/auth/login", map[string]any{"password": "hunter2"}, "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["remaining_attempts"] != float64(4) {
		t.Errorf("expected 4 remaining attempts, got %v", body["remaining_attempts"])
	}
	if len(w.Result().Cookies()) != 0 {
		t.Error("failed login must not set a cookie")
	}
}

func TestLoginEmptyPassword(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(t))
	handler := srv.BuildRouter()

	w := postJSON(t, handler, "/api/auth/login", map[string]any{}, "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}

	w = doRequest(t, handler, "POST", "/api/auth/login", []byte(`{not json`), "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

// recordingAuditor keeps auth events for inspection.
type recordingAuditor struct {
	mu     sync.Mutex
	events []models.AuditEvent
}

func (a *recordingAuditor) LogRequest(context.Context, *models.AuditEntry) {}

func (a *recordingAuditor) LogEvent(_ context.Context, e *models.AuditEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, *e)
}

func TestLoginMalformedBodyIsAudited(t *testing.T) {
	auditor := &recordingAuditor{}
	store := storage.NewMemoryBackend()
	srv := NewServer(testConfig(t), Deps{
		Sessions: auth.NewSessionManager(store, 0, nil),
		Content:  content.NewStore(store, 0, nil),
		Limiter:  ratelimit.New(),
		Auditor:  auditor,
	})
	handler := srv.BuildRouter()

	w := doRequest(t, handler, "POST", "/api/auth/login", []byte(`{not json`), "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if len(auditor.events) != 1 {
		t.Fatalf("expected one audit event, got %d", len(auditor.events))
	}
	if e := auditor.events[0]; e.Action != models.ActionLogin || e.Outcome != "malformed" {
		t.Errorf("unexpected audit event: %+v", e)
	}

	body := getJSON(t, handler, "/metrics", "").Body.String()
	if !strings.Contains(body, `sitepanel_login_attempts_total{result="malformed"}`) {
		t.Error("malformed login was not counted")
	}
}

func TestLoginExpiryFollowsSessionClock(t *testing.T) {
	fc := clock.NewFake(time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC))
	store := storage.NewMemoryBackend()
	srv := NewServer(testConfig(t), Deps{
		Sessions: auth.NewSessionManager(store, 0, fc),
		Content:  content.NewStore(store, 0, fc),
		Limiter:  ratelimit.New(ratelimit.WithClock(fc)),
		Auditor:  audit.NewLogger(zerolog.Nop()),
	})
	handler := srv.BuildRouter()

	w := postJSON(t, handler, "/api/auth/login", map[string]any{"password": testPassword}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", w.Code, w.Body.String())
	}
	want := fc.Now().Add(auth.DefaultSessionTTL).Format(time.RFC3339)
	if got := decodeBody(t, w)["expires_at"]; got != want {
		t.Errorf("expected expires_at %s, got %v", want, got)
	}
}

func TestLoginThrottledBeforeVerification(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(t))
	handler := srv.BuildRouter()

	for i := 1; i <= 5; i++ {
		w := postJSON(t, handler, "/api/auth/login", map[string]any{"password": "wrong"}, "")
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i, w.Code)
		}
	}

	// Even the right password is refused: the limiter answers first.
	w := postJSON(t, handler, "/api/auth/login", map[string]any{"password": testPassword}, "")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d %s", w.Code, w.Body.String())
	}
	retry, err := strconv.Atoi(w.Header().Get("Retry-After"))
	if err != nil || retry <= 0 {
		t.Errorf("expected positive Retry-After, got %q", w.Header().Get("Retry-After"))
	}
	body := decodeBody(t, w)
	if ms, _ := body["retry_after_ms"].(float64); ms <= 0 {
		t.Errorf("expected positive retry_after_ms, got %v", body["retry_after_ms"])
	}
}

func TestLoginSuccessResetsLimiter(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(t))
	handler := srv.BuildRouter()

	for i := 0; i < 4; i++ {
		postJSON(t, handler, "/api/auth/login", map[string]any{"password": "wrong"}, "")
	}
	login(t, handler)

	w := postJSON(t, handler, "/api/auth/login", map[string]any{"password": "wrong"}, "")
	body := decodeBody(t, w)
	if body["remaining_attempts"] != float64(4) {
		t.Errorf("expected a fresh window after success, got %v", body["remaining_attempts"])
	}
}

func TestLoginMisconfigured(t *testing.T) {
	cfg := testConfig(t)
	cfg.PasswordHash = ""
	srv, _ := newTestServer(t, cfg)
	handler := srv.BuildRouter()

	w := postJSON(t, handler, "/api/auth/login", map[string]any{"password": testPassword}, "")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	body := decodeBody(t, w)
	errs, _ := body["errors"].([]any)
	if len(errs) != 1 || errs[0] != "server misconfigured" {
		t.Errorf("expected server misconfigured, got %v", body)
	}
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(t))
	handler := srv.BuildRouter()

	for _, tc := range []struct{ method, path string }{
		{"GET", "/api/admin/content"},
		{"GET", "/api/admin/content/hero"},
		{"PATCH", "/api/admin/content/hero"},
		{"GET", "/api/admin/sections"},
	} {
		w := doRequest(t, handler, tc.method, tc.path, []byte(`{}`), "")
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s %s without session: expected 401, got %d", tc.method, tc.path, w.Code)
		}
		w = doRequest(t, handler, tc.method, tc.path, []byte(`{}`), "forged-token")
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s %s with forged session: expected 401, got %d", tc.method, tc.path, w.Code)
		}
	}
}

func TestPatchSectionAndRead(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(t))
	handler := srv.BuildRouter()
	token := login(t, handler)

	before := decodeBody(t, getJSON(t, handler, "/api/admin/content", token))["data"].(map[string]any)

	w := doRequest(t, handler, "PATCH", "/api/admin/content/hero", []byte(`{"title":"Fresh bread daily"}`), token)
	if w.Code != http.StatusOK {
		t.Fatalf("patch failed: %d %s", w.Code, w.Body.String())
	}

	w = getJSON(t, handler, "/api/admin/content/hero", token)
	if w.Code != http.StatusOK {
		t.Fatalf("section read failed: %d %s", w.Code, w.Body.String())
	}
	hero := decodeBody(t, w)["data"].(map[string]any)
	if hero["title"] != "Fresh bread daily" {
		t.Errorf("expected updated title, got %v", hero["title"])
	}

	// Public read sees the same document; other sections are untouched.
	after := decodeBody(t, getJSON(t, handler, "/api/content", ""))["data"].(map[string]any)
	for name, v := range before {
		if name == "hero" {
			continue
		}
		a, _ := json.Marshal(v)
		b, _ := json.Marshal(after[name])
		if !bytes.Equal(a, b) {
			t.Errorf("section %s changed: %s -> %s", name, a, b)
		}
	}
}

func TestPatchSectionValidation(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(t))
	handler := srv.BuildRouter()
	token := login(t, handler)

	w := doRequest(t, handler, "PATCH", "/api/admin/content/secrets", []byte(`{}`), token)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown section: expected 404, got %d", w.Code)
	}
	w = doRequest(t, handler, "PATCH", "/api/admin/content/hero", []byte(`{broken`), token)
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid JSON: expected 400, got %d", w.Code)
	}
	w = getJSON(t, handler, "/api/admin/content/secrets", token)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown section read: expected 404, got %d", w.Code)
	}
}

func TestCustomSectionAllowList(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sections = []string{"hero", "menu"}
	srv, _ := newTestServer(t, cfg)
	handler := srv.BuildRouter()
	token := login(t, handler)

	w := doRequest(t, handler, "PATCH", "/api/admin/content/menu", []byte(`["soup","bread"]`), token)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}
	w = doRequest(t, handler, "PATCH", "/api/admin/content/about", []byte(`{}`), token)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for section outside allow-list, got %d", w.Code)
	}

	body := decodeBody(t, getJSON(t, handler, "/api/admin/sections", token))
	sections, _ := body["sections"].([]any)
	if len(sections) != 2 || sections[0] != "hero" || sections[1] != "menu" {
		t.Errorf("unexpected sections: %v", body["sections"])
	}
}

func TestLogoutRevokesSession(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(t))
	handler := srv.BuildRouter()
	token := login(t, handler)

	w := postJSON(t, handler, "/api/auth/logout", nil, token)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if c := sessionCookieFrom(t, w); c.MaxAge >= 0 || c.Value != "" {
		t.Errorf("logout should clear the cookie, got %+v", c)
	}

	w = getJSON(t, handler, "/api/admin/content", token)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("revoked session: expected 401, got %d", w.Code)
	}

	// Logging out without a session is harmless.
	w = postJSON(t, handler, "/api/auth/logout", nil, "")
	if w.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", w.Code)
	}
}

func TestSessionEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(t))
	handler := srv.BuildRouter()

	body := decodeBody(t, getJSON(t, handler, "/api/auth/session", ""))
	if body["authenticated"] != false {
		t.Errorf("expected authenticated=false, got %v", body["authenticated"])
	}

	token := login(t, handler)
	body = decodeBody(t, getJSON(t, handler, "/api/auth/session", token))
	if body["authenticated"] != true {
		t.Errorf("expected authenticated=true, got %v", body["authenticated"])
	}
}

func TestBearerToken(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(t))
	handler := srv.BuildRouter()
	token := login(t, handler)

	req := httptest.NewRequest("GET", "/api/admin/content", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with bearer token, got %d", w.Code)
	}
}

func TestPublicContentWithoutPersistedDocument(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(t))
	handler := srv.BuildRouter()

	w := getJSON(t, handler, "/api/content", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	data, _ := decodeBody(t, w)["data"].(map[string]any)
	for _, name := range content.DefaultSections {
		if _, ok := data[name]; !ok {
			t.Errorf("default document missing section %s", name)
		}
	}
}

func TestAPIThrottle(t *testing.T) {
	cfg := testConfig(t)
	cfg.APILimit = ratelimit.Policy{MaxAttempts: 3, Window: time.Minute, BlockDuration: time.Minute}
	srv, _ := newTestServer(t, cfg)
	handler := srv.BuildRouter()

	for i := 0; i < 3; i++ {
		if w := getJSON(t, handler, "/api/content", ""); w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, w.Code)
		}
	}
	w := getJSON(t, handler, "/api/content", "")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") != "60" {
		t.Errorf("expected Retry-After 60, got %q", w.Header().Get("Retry-After"))
	}

	// Health and metrics sit outside the throttled /api tree.
	if w := getJSON(t, handler, "/healthz", ""); w.Code != http.StatusOK {
		t.Errorf("healthz should not be throttled, got %d", w.Code)
	}
}

func TestTrustProxyUsesForwardedAddress(t *testing.T) {
	cfg := testConfig(t)
	cfg.TrustProxy = true
	srv, _ := newTestServer(t, cfg)
	handler := srv.BuildRouter()

	attempt := func(ip string) int {
		data, _ := json.Marshal(map[string]any{"password": "wrong"})
		req := httptest.NewRequest("POST", "/api/auth/login", bytes.NewReader(data))
		req.Header.Set("X-Forwarded-For", ip)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	for i := 0; i < 5; i++ {
		attempt("203.0.113.7")
	}
	if code := attempt("203.0.113.7"); code != http.StatusTooManyRequests {
		t.Errorf("expected forwarded client to be throttled, got %d", code)
	}
	if code := attempt("203.0.113.8"); code != http.StatusUnauthorized {
		t.Errorf("a different forwarded client should not be throttled, got %d", code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(t))
	handler := srv.BuildRouter()
	login(t, handler)

	w := getJSON(t, handler, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	for _, name := range []string{
		`sitepanel_login_attempts_total{result="success"}`,
		`route="/api/auth/login"`,
		"sitepanel_active_sessions",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}

// contentReadFails breaks reads of the content record only.
type contentReadFails struct {
	*storage.MemoryBackend
	broken bool
}

func (b *contentReadFails) Get(ctx context.Context, key string) ([]byte, error) {
	if b.broken && key == storage.KeyContent {
		return nil, errors.New("connection reset by peer")
	}
	return b.MemoryBackend.Get(ctx, key)
}

func TestPatchSectionStorageReadFailure(t *testing.T) {
	backend := &contentReadFails{MemoryBackend: storage.NewMemoryBackend()}
	srv := NewServer(testConfig(t), Deps{
		Sessions: auth.NewSessionManager(backend, 0, nil),
		Content:  content.NewStore(backend, 0, nil),
		Limiter:  ratelimit.New(),
		Auditor:  audit.NewLogger(zerolog.Nop()),
	})
	handler := srv.BuildRouter()
	token := login(t, handler)

	w := doRequest(t, handler, "PATCH", "/api/admin/content/about", []byte(`"operator text"`), token)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	backend.broken = true
	w = doRequest(t, handler, "PATCH", "/api/admin/content/hero", []byte(`"new hero"`), token)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d: %s", w.Code, w.Body.String())
	}

	backend.broken = false
	data, err := backend.Get(context.Background(), storage.KeyContent)
	if err != nil {
		t.Fatalf("reading stored content: %v", err)
	}
	if !strings.Contains(string(data), `"about":"operator text"`) {
		t.Errorf("stored document lost the about section: %s", data)
	}
}
