package engine

import (
	"context"
	"database/sql"
	"time"

	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/berntpopp/gene-curator-sub000/internal/db"
	"github.com/berntpopp/gene-curator-sub000/internal/domain"
	"github.com/berntpopp/gene-curator-sub000/internal/engine/auth"
	"github.com/berntpopp/gene-curator-sub000/internal/events"
	"github.com/berntpopp/gene-curator-sub000/internal/logging"
	"github.com/berntpopp/gene-curator-sub000/internal/metrics"
	"github.com/berntpopp/gene-curator-sub000/internal/repo"
	"github.com/berntpopp/gene-curator-sub000/internal/workflow"
)

const tracerName = "github.com/berntpopp/gene-curator-sub000/internal/engine"

// PermissionOracle answers scope role and admin questions.
type PermissionOracle interface {
	UserRoleInScope(ctx context.Context, userID, scopeID string) (domain.Role, bool, error)
	IsApplicationAdmin(ctx context.Context, userID string) (bool, error)
}

// ActorResolver looks up the acting user.
type ActorResolver interface {
	GetUser(ctx context.Context, userID string) (domain.User, error)
}

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Rules   *workflow.Rules
	Oracle  PermissionOracle
	Actors  ActorResolver
	Logger  *log.Logger
	Metrics *metrics.WorkflowMetrics
	// Tracer defaults to the global otel provider when nil.
	Tracer trace.Tracer
	Now    func() time.Time
}

func New(conn *sql.DB, dialect db.Dialect, rules *workflow.Rules) Engine {
	r := repo.Repo{DB: conn, Dialect: dialect}
	if rules == nil {
		rules = workflow.MustDefault()
	}
	return Engine{
		DB:     conn,
		Repo:   r,
		Events: events.Writer{Dialect: dialect},
		Rules:  rules,
		Oracle: auth.Service{Repo: r},
		Actors: r,
		Logger: logging.Discard(),
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) tracer() trace.Tracer {
	if e.Tracer != nil {
		return e.Tracer
	}
	return otel.Tracer(tracerName)
}

func (e Engine) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return logging.Discard()
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
