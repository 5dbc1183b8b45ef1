package database

import (
	"context"
	"errors"

	"hyrepro-admin/pkg/models"
	"hyrepro-admin/pkg/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracedDatabase wraps a backend and records one span per call.
type TracedDatabase struct {
	inner  DatabaseInterface
	kind   string
	tracer trace.Tracer
}

// NewTracedDatabase decorates inner with spans named database.<Operation>.
func NewTracedDatabase(inner DatabaseInterface) *TracedDatabase {
	return &TracedDatabase{
		inner:  inner,
		kind:   BackendKind(inner),
		tracer: telemetry.Tracer("hyrepro-admin/pkg/database"),
	}
}

// Unwrap returns the decorated backend.
func (t *TracedDatabase) Unwrap() DatabaseInterface {
	return t.inner
}

// BackendKind names the backend behind db.
func BackendKind(db DatabaseInterface) string {
	switch v := db.(type) {
	case *TracedDatabase:
		return v.kind
	case *SupabaseDatabase:
		return "supabase"
	case *PostgresDatabase:
		return "postgres"
	case *LocalDatabase:
		return "sqlite"
	default:
		return "unknown"
	}
}

func (t *TracedDatabase) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("db.backend", t.kind))
	return t.tracer.Start(ctx, "database."+op, trace.WithAttributes(attrs...))
}

func finish(span trace.Span, err error) {
	// not-found is an expected answer
	if err != nil && !errors.Is(err, ErrNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (t *TracedDatabase) GetInvitationDetails(ctx context.Context, token string) (inv *models.InvitationDetails, err error) {
	ctx, span := t.start(ctx, "GetInvitationDetails")
	defer func() { finish(span, err) }()
	return t.inner.GetInvitationDetails(ctx, token)
}

func (t *TracedDatabase) AcceptInvitation(ctx context.Context, token, userID string) (res *models.AcceptResult, err error) {
	ctx, span := t.start(ctx, "AcceptInvitation", attribute.String("enduser.id", userID))
	defer func() { finish(span, err) }()
	return t.inner.AcceptInvitation(ctx, token, userID)
}

func (t *TracedDatabase) RejectInvitation(ctx context.Context, token string) (err error) {
	ctx, span := t.start(ctx, "RejectInvitation")
	defer func() { finish(span, err) }()
	return t.inner.RejectInvitation(ctx, token)
}

func (t *TracedDatabase) GetUserSchool(ctx context.Context, userID string) (school *models.School, err error) {
	ctx, span := t.start(ctx, "GetUserSchool", attribute.String("enduser.id", userID))
	defer func() { finish(span, err) }()
	return t.inner.GetUserSchool(ctx, userID)
}

func (t *TracedDatabase) GetInterviewConfirmation(ctx context.Context, token string) (c *models.InterviewConfirmation, err error) {
	ctx, span := t.start(ctx, "GetInterviewConfirmation")
	defer func() { finish(span, err) }()
	return t.inner.GetInterviewConfirmation(ctx, token)
}

func (t *TracedDatabase) HandleInterviewConfirmation(ctx context.Context, req models.ConfirmationRequest) (res *models.ConfirmationResult, err error) {
	ctx, span := t.start(ctx, "HandleInterviewConfirmation", attribute.String("confirmation.action", string(req.Action)))
	defer func() { finish(span, err) }()
	return t.inner.HandleInterviewConfirmation(ctx, req)
}

func (t *TracedDatabase) HealthCheck(ctx context.Context) (err error) {
	ctx, span := t.start(ctx, "HealthCheck")
	defer func() { finish(span, err) }()
	return t.inner.HealthCheck(ctx)
}

func (t *TracedDatabase) Close() error {
	return t.inner.Close()
}
