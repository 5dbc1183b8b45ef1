package middleware

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"hyrepro-admin/pkg/config"
	"hyrepro-admin/pkg/utils"
)

const testSecret = "middleware-test-secret"

func testConfig() *config.Config {
	return &config.Config{Environment: "development", JWTSecret: testSecret, AllowedOrigins: []string{"*"}}
}

func bearer(t *testing.T, userID, email string) string {
	t.Helper()
	tok, _, err := utils.NewJWTService(testSecret).GenerateAccessToken(userID, email, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return "Bearer " + tok
}

func TestAuthMiddleware(t *testing.T) {
	t.Parallel()

	var seen string
	h := AuthMiddleware(testConfig())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := RequireUser(r.Context())
		if err != nil {
			t.Errorf("RequireUser: %v", err)
			return
		}
		seen = user.Email
	}))

	for _, header := range []string{"", "Token abc", "Bearer not-a-jwt"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("header %q: status = %d, want 401", header, rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", bearer(t, "user-1", "a@school.test"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || seen != "a@school.test" {
		t.Fatalf("valid token: status=%d seen=%q", rec.Code, seen)
	}
}

func TestOptionalAuthMiddleware(t *testing.T) {
	t.Parallel()

	var authed bool
	h := OptionalAuthMiddleware(testConfig())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, authed = GetUserFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if authed {
		t.Fatal("invalid optional token must stay anonymous")
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", bearer(t, "user-1", "a@school.test"))
	h.ServeHTTP(httptest.NewRecorder(), req)
	if !authed {
		t.Fatal("valid optional token should authenticate")
	}
}

func TestRequestLoggerRecordsUser(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	h := RequestLogger(logger)(AuthMiddleware(testConfig())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})))

	req := httptest.NewRequest(http.MethodPost, "/api/respond-invitation", nil)
	req.Header.Set("Authorization", bearer(t, "user-42", "a@school.test"))
	h.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	if !strings.Contains(out, "status=202") || !strings.Contains(out, "user=user-42") {
		t.Fatalf("access log = %q", out)
	}
}

func TestRecovery(t *testing.T) {
	t.Parallel()

	h := Recovery(&config.Config{Environment: "production"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError || strings.Contains(rec.Body.String(), "boom") {
		t.Fatalf("production panic response = %d %s", rec.Code, rec.Body.String())
	}
}

func TestContentTypeJSON(t *testing.T) {
	t.Parallel()

	h := ContentTypeJSON(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("a=b"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("form body status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("json body status = %d", rec.Code)
	}
}

func TestRateLimitByIP(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rl := NewIPRateLimiter(ctx, 1, 2, time.Minute)
	frozen := time.Now()
	rl.now = func() time.Time { return frozen }

	h := RateLimitByIP(rl)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	codes := []int{}
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/invite/tok", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[0] != 200 || codes[1] != 200 || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v, want burst of 2 then 429", codes)
	}

	req := httptest.NewRequest(http.MethodGet, "/invite/tok", nil)
	req.RemoteAddr = "10.0.0.2:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("other IP status = %d", rec.Code)
	}

	rl.now = func() time.Time { return frozen.Add(2 * time.Minute) }
	rl.sweep()
	rl.mu.Lock()
	n := len(rl.visitors)
	rl.mu.Unlock()
	if n != 0 {
		t.Fatalf("visitors after sweep = %d", n)
	}
}

func TestIdempotencyReplay(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := NewIdempotencyStore(ctx, time.Minute)

	var calls int32
	h := Idempotency(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		utils.WriteJSON(w, http.StatusOK, map[string]int32{"call": n})
	}))

	send := func(key, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/interview-confirmation", strings.NewReader(body))
		req.Header.Set(IdempotencyKeyHeader, key)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	key := "6F9619FF-8B86-D011-B42D-00C04FC964FF"
	first := send(key, `{"token":"t","action":"accept"}`)
	second := send(strings.ToLower(key), `{"token":"t","action":"accept"}`)
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("handler ran %d times, want 1", calls)
	}
	if second.Header().Get(IdempotentReplayedHeader) != "true" || second.Body.String() != first.Body.String() {
		t.Fatalf("replay = %q %q", second.Header(), second.Body.String())
	}

	if rec := send(key, `{"token":"t","action":"decline"}`); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("different body status = %d", rec.Code)
	}

	if rec := send("another", `{}`); rec.Code != http.StatusOK || atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("new key should reach the handler")
	}
}

func TestIdempotencyIgnoresForwardedHeaders(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := NewIdempotencyStore(ctx, time.Minute)

	var calls int32
	h := Idempotency(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		utils.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
	}))

	send := func(remote, forwarded, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/interview-confirmation", strings.NewReader(body))
		req.RemoteAddr = remote
		req.Header.Set("X-Forwarded-For", forwarded)
		req.Header.Set(IdempotencyKeyHeader, "key-1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	send("10.0.0.1:5555", "1.1.1.1", `{"token":"t","action":"accept"}`)
	// 伪造转发头不能换出新的键空间
	if rec := send("10.0.0.1:6666", "2.2.2.2", `{"token":"t","action":"decline"}`); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("spoofed forwarded header status = %d", rec.Code)
	}
	if rec := send("10.0.0.2:5555", "1.1.1.1", `{"token":"t","action":"decline"}`); rec.Code != http.StatusOK {
		t.Fatalf("other client status = %d", rec.Code)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Fatalf("handler ran %d times, want 2", n)
	}
}

func TestIdempotencyInFlightAndServerErrors(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := NewIdempotencyStore(ctx, time.Minute)

	release := make(chan struct{})
	started := make(chan struct{})
	slow := Idempotency(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
		w.WriteHeader(http.StatusInternalServerError)
	}))

	newReq := func() *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/api/respond-invitation", strings.NewReader(`{}`))
		req.Header.Set(IdempotencyKeyHeader, "k1")
		return req
	}

	done := make(chan struct{})
	go func() {
		slow.ServeHTTP(httptest.NewRecorder(), newReq())
		close(done)
	}()
	<-started

	rec := httptest.NewRecorder()
	slow.ServeHTTP(rec, newReq())
	if rec.Code != http.StatusConflict {
		t.Fatalf("in-flight duplicate status = %d, want 409", rec.Code)
	}

	close(release)
	<-done
	if store.Len() != 0 {
		t.Fatal("5xx responses must not be stored")
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	var gotToken, gotHost string
	h := Normalize()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.URL.Query().Get("token")
		gotHost = r.Host
	}))
	req := httptest.NewRequest(http.MethodGet, "/interview-confirmation?token=abc%20&action=accept", nil)
	req.Header.Set("X-Forwarded-Host", "app.hyrepro.test")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if gotToken != "abc" || gotHost != "app.hyrepro.test" {
		t.Fatalf("token=%q host=%q", gotToken, gotHost)
	}
}
