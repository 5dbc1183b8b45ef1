package router

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"hyrepro-admin/pkg/config"
	"hyrepro-admin/pkg/confirmations"
	"hyrepro-admin/pkg/database"
	"hyrepro-admin/pkg/invitations"
	"hyrepro-admin/pkg/middleware"
	"hyrepro-admin/pkg/models"
	"hyrepro-admin/pkg/utils"
)

const testSecret = "router-test-secret"

type fixture struct {
	handler http.Handler
	db      *database.LocalDatabase
	target  *models.School
	other   *models.School
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	db, err := database.NewLocalDatabase(ctx, filepath.Join(t.TempDir(), "router.db"))
	if err != nil {
		t.Fatalf("NewLocalDatabase: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	target, err := db.CreateSchool(ctx, "Target Academy")
	if err != nil {
		t.Fatal(err)
	}
	other, err := db.CreateSchool(ctx, "Old School")
	if err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{
		Environment:        "development",
		JWTSecret:          testSecret,
		DashboardPath:      "/dashboard",
		RequestTimeout:     30 * time.Second,
		RateLimitPerMinute: 600,
		RateLimitBurst:     100,
		IdempotencyTTL:     time.Minute,
		AllowedOrigins:     []string{"*"},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &fixture{handler: New(ctx, cfg, db, logger), db: db, target: target, other: other}
}

func (f *fixture) invite(t *testing.T, token, email string) {
	t.Helper()
	if _, err := f.db.CreateInvitation(context.Background(), database.NewInvitation{
		Token:     token,
		Email:     email,
		Role:      models.RoleHR,
		SchoolID:  f.target.ID,
		Status:    models.InvitationPending,
		ExpiresAt: time.Now().Add(72 * time.Hour),
	}); err != nil {
		t.Fatalf("CreateInvitation: %v", err)
	}
}

func (f *fixture) do(t *testing.T, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func bearer(t *testing.T, userID, email string) string {
	t.Helper()
	tok, _, err := utils.NewJWTService(testSecret).GenerateAccessToken(userID, email, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return "Bearer " + tok
}

func errorOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body utils.ErrorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return body.Error
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Success bool           `json:"success"`
		Data    map[string]any `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Success || resp.Data["database"] != "sqlite" || resp.Data["db_status"] != "healthy" {
		t.Fatalf("health = %+v", resp)
	}
}

func TestInvitationPageStates(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.invite(t, "tok-1", "teacher@school.test")

	rec := f.do(t, http.MethodGet, "/invite/unknown", "", nil)
	state, err := invitations.Decode(rec.Body.Bytes())
	if err != nil || state.Kind() != invitations.KindInvalid {
		t.Fatalf("unknown token = %s (%v)", rec.Body.String(), err)
	}

	rec = f.do(t, http.MethodGet, "/invite/tok-1", "", nil)
	state, err = invitations.Decode(rec.Body.Bytes())
	if err != nil || state.Kind() != invitations.KindPending || !state.Actionable() {
		t.Fatalf("anonymous = %s (%v)", rec.Body.String(), err)
	}

	if err := f.db.AddMember(context.Background(), "user-1", f.other.ID, models.RoleAdmin); err != nil {
		t.Fatal(err)
	}
	rec = f.do(t, http.MethodGet, "/invite/tok-1", "", map[string]string{
		"Authorization": bearer(t, "user-1", "teacher@school.test"),
	})
	state, err = invitations.Decode(rec.Body.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	conflict, ok := state.(invitations.Conflict)
	if !ok || conflict.Current.ID != f.other.ID || conflict.Target.ID != f.target.ID {
		t.Fatalf("member of other school = %#v", state)
	}
}

func TestInvitationAlreadyMemberRedirects(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.invite(t, "tok-1", "teacher@school.test")
	if err := f.db.AddMember(context.Background(), "user-1", f.target.ID, models.RoleHR); err != nil {
		t.Fatal(err)
	}
	auth := bearer(t, "user-1", "teacher@school.test")

	rec := f.do(t, http.MethodGet, "/invite/tok-1", "", map[string]string{
		"Authorization": auth,
		"Accept":        "text/html,application/xhtml+xml",
	})
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/dashboard" {
		t.Fatalf("html request = %d %q", rec.Code, rec.Header().Get("Location"))
	}

	rec = f.do(t, http.MethodGet, "/invite/tok-1", "", map[string]string{"Authorization": auth})
	state, err := invitations.Decode(rec.Body.Bytes())
	if err != nil || state.Kind() != invitations.KindAlreadyMember {
		t.Fatalf("json request = %s (%v)", rec.Body.String(), err)
	}
}

func TestRespondInvitationConflictFlow(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	f.invite(t, "tok-1", "teacher@school.test")
	if err := f.db.AddMember(ctx, "user-1", f.other.ID, models.RoleAdmin); err != nil {
		t.Fatal(err)
	}
	auth := map[string]string{"Authorization": bearer(t, "user-1", "Teacher@School.test")}

	rec := f.do(t, http.MethodPost, "/api/respond-invitation", `{"token":"tok-1","action":"accept"}`, auth)
	var resp models.RespondInvitationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusOK || !resp.RequiresConfirmation || resp.CurrentSchool.ID != f.other.ID {
		t.Fatalf("first accept = %d %s", rec.Code, rec.Body.String())
	}
	if school, _ := f.db.GetUserSchool(ctx, "user-1"); school.ID != f.other.ID {
		t.Fatal("unconfirmed accept must not move the user")
	}

	rec = f.do(t, http.MethodPost, "/api/respond-invitation", `{"token":"tok-1","action":"accept","confirmed":true}`, auth)
	resp = models.RespondInvitationResponse{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Success || resp.Message != "Joined Target Academy" {
		t.Fatalf("confirmed accept = %d %s", rec.Code, rec.Body.String())
	}
	if school, _ := f.db.GetUserSchool(ctx, "user-1"); school.ID != f.target.ID {
		t.Fatal("confirmed accept should move the user")
	}

	rec = f.do(t, http.MethodPost, "/api/respond-invitation", `{"token":"tok-1","action":"reject"}`, auth)
	if rec.Code != http.StatusConflict || errorOf(t, rec) != invitations.MsgAlreadyProcessed {
		t.Fatalf("second response = %d %s", rec.Code, rec.Body.String())
	}
}

func TestRespondInvitationGuards(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.invite(t, "tok-1", "teacher@school.test")

	rec := f.do(t, http.MethodPost, "/api/respond-invitation", `{"token":"tok-1","action":"accept"}`, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous = %d", rec.Code)
	}

	auth := map[string]string{"Authorization": bearer(t, "user-2", "someone@else.test")}
	rec = f.do(t, http.MethodPost, "/api/respond-invitation", `{"token":"tok-1","action":"accept"}`, auth)
	if rec.Code != http.StatusForbidden || errorOf(t, rec) != invitations.MsgEmailMismatch {
		t.Fatalf("wrong email = %d %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodPost, "/api/respond-invitation", `{"token":"tok-1","action":"maybe"}`, auth)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad action = %d", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/api/respond-invitation", `{"token":"nope","action":"accept"}`, auth)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown token = %d", rec.Code)
	}
}

func seedInterview(t *testing.T, f *fixture) {
	t.Helper()
	_, err := f.db.CreateInterview(context.Background(), models.InterviewSnapshot{
		Date:          "2030-02-01",
		Time:          "10:00",
		Duration:      45,
		Type:          "in_person",
		JobTitle:      "Math Teacher",
		SchoolName:    f.target.Name,
		CandidateName: "Ada",
	}, []database.NewRecipient{
		{Token: "cand", Email: "ada@mail.test", Name: "Ada", Type: models.RecipientCandidate},
		{Token: "pan", Email: "pat@school.test", Name: "Pat", Type: models.RecipientPanelist},
	})
	if err != nil {
		t.Fatalf("CreateInterview: %v", err)
	}
}

func TestInterviewConfirmationFlow(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	seedInterview(t, f)

	rec := f.do(t, http.MethodGet, "/interview-confirmation?token=cand&action=accept", "", nil)
	state, err := confirmations.Decode(rec.Body.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	pending, ok := state.(confirmations.Pending)
	if !ok || pending.SuggestedAction != models.ConfirmationActionAccept {
		t.Fatalf("deep link = %s", rec.Body.String())
	}
	if c, _ := f.db.GetInterviewConfirmation(context.Background(), "cand"); c.Status != models.ConfirmationPending {
		t.Fatal("deep link must not submit")
	}

	rec = f.do(t, http.MethodGet, "/interview-confirmation", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing token = %d", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/api/interview-confirmation",
		`{"token":"cand","action":"reschedule","suggested_times":[{"date":"2030-02-02","time":""}]}`, nil)
	if rec.Code != http.StatusBadRequest || errorOf(t, rec) != confirmations.MsgIncompleteSlots {
		t.Fatalf("incomplete slot = %d %s", rec.Code, rec.Body.String())
	}

	headers := map[string]string{middleware.IdempotencyKeyHeader: "4b0a7a4e-4ad7-4d9e-9c51-2b2d0f6d1a11"}
	first := f.do(t, http.MethodPost, "/api/interview-confirmation", `{"token":"cand","action":"accept"}`, headers)
	var res models.ConfirmationResult
	if err := json.Unmarshal(first.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if first.Code != http.StatusOK || !res.Success || res.Status != models.ConfirmationAccepted {
		t.Fatalf("accept = %d %s", first.Code, first.Body.String())
	}

	replay := f.do(t, http.MethodPost, "/api/interview-confirmation", `{"token":"cand","action":"accept"}`, headers)
	if replay.Header().Get(middleware.IdempotentReplayedHeader) != "true" || replay.Code != http.StatusOK {
		t.Fatalf("replay = %d %v", replay.Code, replay.Header())
	}

	again := f.do(t, http.MethodPost, "/api/interview-confirmation", `{"token":"cand","action":"accept"}`, nil)
	if again.Code != http.StatusConflict || errorOf(t, again) != confirmations.MsgAlreadyResponded {
		t.Fatalf("second submit = %d %s", again.Code, again.Body.String())
	}

	rec = f.do(t, http.MethodGet, "/interview-confirmation?token=cand", "", nil)
	state, err = confirmations.Decode(rec.Body.Bytes())
	if err != nil || state.Kind() != confirmations.KindProcessed || state.IsPending() {
		t.Fatalf("after submit = %s (%v)", rec.Body.String(), err)
	}
}

func TestMySchool(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	if err := f.db.AddMember(context.Background(), "user-1", f.target.ID, models.RoleAdmin); err != nil {
		t.Fatal(err)
	}

	rec := f.do(t, http.MethodGet, "/api/me/school", "", map[string]string{"Authorization": bearer(t, "user-1", "a@b.test")})
	var resp struct {
		Data struct {
			School *models.School `json:"school"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Data.School == nil || resp.Data.School.ID != f.target.ID {
		t.Fatalf("school = %s", rec.Body.String())
	}

	rec = f.do(t, http.MethodGet, "/api/me/school", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous = %d", rec.Code)
	}
}

func TestPostRequiresJSON(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/interview-confirmation", "", map[string]string{"Content-Type": "text/plain"})
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/nowhere", "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown route = %d", rec.Code)
	}
}

func TestNilBackendReportsGenericError(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cfg := &config.Config{Environment: "production", JWTSecret: testSecret, RateLimitPerMinute: 60, RateLimitBurst: 10}
	h := New(ctx, cfg, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	req := httptest.NewRequest(http.MethodPost, "/api/interview-confirmation", strings.NewReader(`{"token":"t","action":"accept"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError || !strings.Contains(rec.Body.String(), confirmations.MsgSomethingWrong) {
		t.Fatalf("nil backend = %d %s", rec.Code, rec.Body.String())
	}
}
