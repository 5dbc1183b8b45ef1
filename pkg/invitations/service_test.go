package invitations

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"hyrepro-admin/pkg/database"
	"hyrepro-admin/pkg/models"
)

var now = time.Date(2030, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeDB struct {
	database.DatabaseInterface

	invitation *models.InvitationDetails
	lookupErr  error
	school     *models.School
	acceptErr  error

	accepts []string
	rejects []string
}

func (f *fakeDB) GetInvitationDetails(ctx context.Context, token string) (*models.InvitationDetails, error) {
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	if f.invitation == nil {
		return nil, database.ErrNotFound
	}
	inv := *f.invitation
	return &inv, nil
}

func (f *fakeDB) GetUserSchool(ctx context.Context, userID string) (*models.School, error) {
	return f.school, nil
}

func (f *fakeDB) AcceptInvitation(ctx context.Context, token, userID string) (*models.AcceptResult, error) {
	f.accepts = append(f.accepts, token)
	if f.acceptErr != nil {
		return nil, f.acceptErr
	}
	return &models.AcceptResult{Success: true, SchoolID: f.invitation.SchoolID, SchoolName: f.invitation.SchoolName}, nil
}

func (f *fakeDB) RejectInvitation(ctx context.Context, token string) error {
	f.rejects = append(f.rejects, token)
	return nil
}

func pendingInvitation() *models.InvitationDetails {
	return &models.InvitationDetails{
		ID:         "inv-1",
		Email:      "Teacher@School.test",
		Role:       models.RoleHR,
		SchoolID:   "org-2",
		SchoolName: "Riverside High",
		Status:     models.InvitationPending,
		ExpiresAt:  now.Add(48 * time.Hour),
	}
}

var user = &models.User{ID: "user-1", Email: "teacher@school.test"}

func newService(db database.DatabaseInterface) *Service {
	return NewService(db, "/dashboard").WithClock(func() time.Time { return now })
}

func TestClassify(t *testing.T) {
	t.Parallel()

	pending := pendingInvitation()
	expired := pendingInvitation()
	expired.ExpiresAt = now
	rejectedAndExpired := pendingInvitation()
	rejectedAndExpired.Status = models.InvitationRejected
	rejectedAndExpired.ExpiresAt = now.Add(-time.Hour)

	tests := []struct {
		name    string
		details *models.InvitationDetails
		current *models.School
		want    Kind
	}{
		{"not found", nil, nil, KindInvalid},
		{"expires exactly now", expired, nil, KindExpired},
		{"processed beats expired", rejectedAndExpired, nil, KindProcessed},
		{"anonymous", pending, nil, KindPending},
		{"no school", pending, &models.School{}, KindPending},
		{"same school", pending, &models.School{ID: "org-2", Name: "Riverside High"}, KindAlreadyMember},
		{"other school", pending, &models.School{ID: "org-1", Name: "Hillcrest"}, KindConflict},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Classify(tt.details, tt.current, now, "/dashboard")
			if got.Kind() != tt.want {
				t.Fatalf("Classify = %s, want %s", got.Kind(), tt.want)
			}
			if got.Actionable() != (tt.want == KindPending || tt.want == KindConflict) {
				t.Fatalf("Actionable mismatch for %s", tt.want)
			}
		})
	}
}

func TestProcessedCopy(t *testing.T) {
	t.Parallel()

	inv := pendingInvitation()
	inv.Status = models.InvitationRejected
	s := Classify(inv, nil, now, "/dashboard")
	if s.Title() != "Invitation Already Processed" || s.Actionable() {
		t.Fatalf("unexpected processed state: %s %v", s.Title(), s.Actionable())
	}
}

func TestEncodeDecodeConflict(t *testing.T) {
	t.Parallel()

	in := Conflict{
		Invitation: *pendingInvitation(),
		Current:    models.School{ID: "org-1", Name: "Hillcrest"},
		Target:     models.School{ID: "org-2", Name: "Riverside High"},
	}
	raw, err := Encode(in)
	if err != nil {
		t.Fatal(err)
	}
	out, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := out.(Conflict)
	if !ok || got.Current.ID != "org-1" || got.Target.Name != "Riverside High" || got.Invitation.ID != "inv-1" {
		t.Fatalf("round trip mismatch: %#v", out)
	}

	if _, err := Decode([]byte(`{"kind":"bogus"}`)); err == nil {
		t.Fatal("unknown kind should fail")
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()

	if _, err := newService(&fakeDB{}).Resolve(context.Background(), "  ", nil); !errors.Is(err, ErrEmptyToken) {
		t.Fatalf("blank token err = %v", err)
	}

	s, err := newService(&fakeDB{}).Resolve(context.Background(), "missing", user)
	if err != nil || s.Kind() != KindInvalid {
		t.Fatalf("missing token = %v, %v", s, err)
	}

	_, err = newService(&fakeDB{lookupErr: errors.New("boom")}).Resolve(context.Background(), "tok", user)
	if err == nil || errors.Is(err, ErrEmptyToken) {
		t.Fatalf("lookup failure should surface, got %v", err)
	}

	db := &fakeDB{invitation: pendingInvitation(), school: &models.School{ID: "org-2"}}
	s, err = newService(db).Resolve(context.Background(), "tok", user)
	if err != nil {
		t.Fatal(err)
	}
	member, ok := s.(AlreadyMember)
	if !ok || member.RedirectTo != "/dashboard" {
		t.Fatalf("state = %#v, want already member", s)
	}
}

func TestRespondValidation(t *testing.T) {
	t.Parallel()

	inv := pendingInvitation()
	processed := pendingInvitation()
	processed.Status = models.InvitationAccepted
	expired := pendingInvitation()
	expired.ExpiresAt = now.Add(-time.Second)

	tests := []struct {
		name   string
		db     *fakeDB
		user   *models.User
		req    models.RespondInvitationRequest
		status int
	}{
		{"missing token", &fakeDB{invitation: inv}, user, models.RespondInvitationRequest{Action: "accept"}, http.StatusBadRequest},
		{"bad action", &fakeDB{invitation: inv}, user, models.RespondInvitationRequest{Token: "t", Action: "maybe"}, http.StatusBadRequest},
		{"anonymous", &fakeDB{invitation: inv}, nil, models.RespondInvitationRequest{Token: "t", Action: "accept"}, http.StatusUnauthorized},
		{"not found", &fakeDB{}, user, models.RespondInvitationRequest{Token: "t", Action: "accept"}, http.StatusNotFound},
		{"processed", &fakeDB{invitation: processed}, user, models.RespondInvitationRequest{Token: "t", Action: "reject"}, http.StatusConflict},
		{"expired", &fakeDB{invitation: expired}, user, models.RespondInvitationRequest{Token: "t", Action: "accept"}, http.StatusGone},
		{"wrong email", &fakeDB{invitation: inv}, &models.User{ID: "u2", Email: "other@school.test"}, models.RespondInvitationRequest{Token: "t", Action: "accept"}, http.StatusForbidden},
		{"backend failure", &fakeDB{invitation: inv, acceptErr: errors.New("rpc down")}, user, models.RespondInvitationRequest{Token: "t", Action: "accept"}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := newService(tt.db).Respond(context.Background(), tt.user, tt.req)
			var respErr *RespondError
			if !errors.As(err, &respErr) {
				t.Fatalf("err = %v, want *RespondError", err)
			}
			if respErr.Status != tt.status {
				t.Fatalf("status = %d (%s), want %d", respErr.Status, respErr.Message, tt.status)
			}
		})
	}
}

func TestRespondConflictRequiresConfirmation(t *testing.T) {
	t.Parallel()

	db := &fakeDB{invitation: pendingInvitation(), school: &models.School{ID: "org-1", Name: "Hillcrest"}}
	svc := newService(db)

	res, err := svc.Respond(context.Background(), user, models.RespondInvitationRequest{Token: "t", Action: "accept"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.RequiresConfirmation || res.CurrentSchool.ID != "org-1" || res.TargetSchool.ID != "org-2" {
		t.Fatalf("unexpected response: %+v", res)
	}
	if len(db.accepts) != 0 {
		t.Fatal("nothing may be committed before confirmation")
	}

	no := false
	if res, _ = svc.Respond(context.Background(), user, models.RespondInvitationRequest{Token: "t", Action: "accept", Confirmed: &no}); !res.RequiresConfirmation {
		t.Fatal("confirmed=false must still require confirmation")
	}

	yes := true
	res, err = svc.Respond(context.Background(), user, models.RespondInvitationRequest{Token: "t", Action: "accept", Confirmed: &yes})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.Message != "Joined Riverside High" || res.School.ID != "org-2" {
		t.Fatalf("unexpected accept response: %+v", res)
	}
	if len(db.accepts) != 1 {
		t.Fatalf("accepts = %d, want 1", len(db.accepts))
	}
}

func TestRespondSurfacesBackendMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		acceptErr  error
		wantStatus int
		wantMsg    string
	}{
		{"rejection keeps message", &database.APIError{Status: http.StatusBadRequest, Message: "Token expired"}, http.StatusBadRequest, "Token expired"},
		{"wrapped rejection", fmt.Errorf("accept: %w", &database.APIError{Status: http.StatusUnprocessableEntity, Message: "Seat limit reached"}), http.StatusUnprocessableEntity, "Seat limit reached"},
		{"empty message falls back", &database.APIError{Status: http.StatusBadRequest}, http.StatusInternalServerError, MsgFailed},
		{"unexpected error falls back", errors.New("connection reset"), http.StatusInternalServerError, MsgFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			db := &fakeDB{invitation: pendingInvitation(), acceptErr: tt.acceptErr}
			_, err := newService(db).Respond(context.Background(), user, models.RespondInvitationRequest{Token: "t", Action: "accept"})

			var re *RespondError
			if !errors.As(err, &re) {
				t.Fatalf("expected *RespondError, got %v", err)
			}
			if re.Status != tt.wantStatus || re.Message != tt.wantMsg {
				t.Errorf("got %d %q, want %d %q", re.Status, re.Message, tt.wantStatus, tt.wantMsg)
			}
		})
	}
}

func TestRespondReject(t *testing.T) {
	t.Parallel()

	db := &fakeDB{invitation: pendingInvitation(), school: &models.School{ID: "org-1"}}
	res, err := newService(db).Respond(context.Background(), user, models.RespondInvitationRequest{Token: "t", Action: "reject"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.RequiresConfirmation || len(db.rejects) != 1 {
		t.Fatalf("unexpected reject: %+v rejects=%d", res, len(db.rejects))
	}
}

func TestRespondAgainstLocalBackend(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	db, err := database.NewLocalDatabase(ctx, t.TempDir()+"/inv.db")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	db.SetClock(func() time.Time { return now })

	oldSchool, _ := db.CreateSchool(ctx, "Hillcrest")
	newSchool, _ := db.CreateSchool(ctx, "Riverside High")
	if err := db.AddMember(ctx, user.ID, oldSchool.ID, models.RoleAdmin); err != nil {
		t.Fatal(err)
	}
	if _, err := db.CreateInvitation(ctx, database.NewInvitation{
		Token: "abc123", Email: user.Email, Role: models.RoleHR, SchoolID: newSchool.ID, ExpiresAt: now.Add(time.Hour),
	}); err != nil {
		t.Fatal(err)
	}

	svc := newService(db)
	yes := true
	res, err := svc.Respond(ctx, user, models.RespondInvitationRequest{Token: "abc123", Action: "accept", Confirmed: &yes})
	if err != nil {
		t.Fatal(err)
	}
	if res.School.ID != newSchool.ID {
		t.Fatalf("joined %+v, want %s", res.School, newSchool.ID)
	}

	_, err = svc.Respond(ctx, user, models.RespondInvitationRequest{Token: "abc123", Action: "accept", Confirmed: &yes})
	var respErr *RespondError
	if !errors.As(err, &respErr) || respErr.Status != http.StatusConflict {
		t.Fatalf("replayed accept err = %v, want 409", err)
	}
}
