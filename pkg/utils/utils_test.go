package utils

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestJWTRoundTrip(t *testing.T) {
	t.Parallel()

	svc := NewJWTService("test-secret")
	token, exp, err := svc.GenerateAccessToken("user-1", "a@school.test", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if exp <= time.Now().Unix() {
		t.Fatalf("expiry %d is not in the future", exp)
	}

	user, err := svc.ExtractUserFromToken(token)
	if err != nil {
		t.Fatal(err)
	}
	if user.ID != "user-1" || user.Email != "a@school.test" || user.Role != RoleAuthenticated {
		t.Fatalf("unexpected user: %+v", user)
	}

	if _, err := NewJWTService("other-secret").ValidateToken(token); err == nil {
		t.Fatal("token signed with another secret must fail")
	}
}

func TestJWTExpired(t *testing.T) {
	t.Parallel()

	svc := NewJWTService("test-secret")
	svc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, _, err := svc.GenerateAccessToken("user-1", "a@school.test", time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	svc.now = time.Now
	if _, err := svc.ValidateToken(token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("err = %v, want ErrTokenExpired", err)
	}
}

func TestTokens(t *testing.T) {
	t.Parallel()

	a, err := GenerateURLToken(24)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := GenerateURLToken(0)
	if len(a) != 32 || a == b || strings.ContainsAny(a, "+/=") {
		t.Fatalf("unexpected tokens %q %q", a, b)
	}
	if TokenFingerprint("abc123") == TokenFingerprint("abc124") || len(TokenFingerprint("abc123")) != 12 {
		t.Fatal("fingerprint should be a 12-char hash")
	}
	if TokenFingerprint("") != "" {
		t.Fatal("empty token has no fingerprint")
	}
}

func TestWriters(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteFailure(rec, http.StatusBadRequest, "Token expired")
	if rec.Code != http.StatusBadRequest || strings.TrimSpace(rec.Body.String()) != `{"success":false,"error":"Token expired"}` {
		t.Fatalf("WriteFailure = %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	WriteFlatError(rec, http.StatusGone, "Invitation has expired")
	if strings.TrimSpace(rec.Body.String()) != `{"error":"Invitation has expired"}` {
		t.Fatalf("WriteFlatError = %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	WriteUnauthorizedResponse(rec, "Authorization header required")
	var env APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatal(err)
	}
	if env.Success || env.Error == nil || env.Error.Code != "UNAUTHORIZED" {
		t.Fatalf("envelope = %+v", env)
	}
}

func TestParseJSONBody(t *testing.T) {
	t.Parallel()

	var v map[string]string
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	if err := ParseJSONBody(req, &v); !errors.Is(err, ErrEmptyBody) {
		t.Fatalf("empty body err = %v", err)
	}
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a":"b"} {"c":"d"}`))
	if err := ParseJSONBody(req, &v); err == nil {
		t.Fatal("trailing data should fail")
	}
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a":"b"}`))
	if err := ParseJSONBody(req, &v); err != nil || v["a"] != "b" {
		t.Fatalf("valid body = %v, %v", v, err)
	}
}
