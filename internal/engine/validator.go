package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/berntpopp/gene-curator-sub000/internal/domain"
	"github.com/berntpopp/gene-curator-sub000/internal/repo"
	"github.com/berntpopp/gene-curator-sub000/internal/workflow"
)

// reviewCapable are the roles allowed to act on review-bearing edges.
var reviewCapable = map[domain.Role]bool{
	domain.RoleCurator:    true,
	domain.RoleReviewer:   true,
	domain.RoleAdmin:      true,
	domain.RoleScopeAdmin: true,
}

// Validate checks whether actorID may move item from current to target.
// Rule violations are reported in the result; the error is only set when a
// permission or user lookup fails.
func (e Engine) Validate(ctx context.Context, current, target domain.Stage, actorID string, item domain.WorkItem) (domain.ValidationResult, error) {
	ctx, span := e.tracer().Start(ctx, "workflow.validate", trace.WithAttributes(
		attribute.String("item", item.Ref().String()),
		attribute.String("from", string(current)),
		attribute.String("to", string(target)),
		attribute.String("actor", actorID),
	))
	res, err := e.validate(ctx, current, target, actorID, item)
	span.SetAttributes(attribute.Bool("valid", res.IsValid), attribute.Int("errors", len(res.Errors)))
	if res.Has(domain.KindFourEyesViolation) {
		span.AddEvent("invariant.four_eyes_violation", trace.WithAttributes(
			attribute.String("actor", actorID),
			attribute.String("author", item.Author()),
		))
	}
	endSpan(span, err)
	if err == nil {
		e.Metrics.RecordValidationErrors(kindLabels(res.ErrorKinds))
	}
	return res, err
}

func (e Engine) validate(ctx context.Context, current, target domain.Stage, actorID string, item domain.WorkItem) (domain.ValidationResult, error) {
	res := domain.NewValidationResult()

	if !e.Rules.Allowed(current, target) {
		res.AddError(domain.KindInvalidTransition, fmt.Sprintf("invalid transition from %s to %s", current, target))
		return res, nil
	}

	actor, err := e.Actors.GetUser(ctx, actorID)
	if errors.Is(err, repo.ErrNotFound) || (err == nil && !actor.Active) {
		res.AddError(domain.KindNotFound, "actor not found")
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("resolve actor: %w", err)
	}

	role, member, err := e.effectiveRole(ctx, actor.ID, item.Scope())
	if err != nil {
		return res, err
	}
	if !e.Rules.RoleAllowed(current, target, role) {
		res.AddError(domain.KindUnauthorized, fmt.Sprintf("role %s cannot move items from %s to %s (requires %s)",
			roleLabel(role), current, target, joinRoles(e.Rules.RolesFor(current, target))))
	}

	if workflow.ReviewBearing(current, target) {
		if item.Author() == actor.ID {
			res.AddError(domain.KindFourEyesViolation, "four-eyes principle violation: the author of an item cannot review or activate it")
		}
		if !reviewCapable[role] || !member {
			res.AddError(domain.KindUnauthorized, fmt.Sprintf("actor %s lacks review permission in scope %s", actor.ID, item.Scope()))
		}
	}

	res.Requirements = append(res.Requirements, e.Rules.RequirementsFor(target)...)
	structuralChecks(&res, current, target, item)
	return res, nil
}

// effectiveRole returns admin for application admins, otherwise the scope
// role. member reports whether the actor belongs to the scope.
func (e Engine) effectiveRole(ctx context.Context, actorID, scopeID string) (domain.Role, bool, error) {
	admin, err := e.Oracle.IsApplicationAdmin(ctx, actorID)
	if err != nil {
		return "", false, fmt.Errorf("admin lookup: %w", err)
	}
	if admin {
		return domain.RoleAdmin, true, nil
	}
	role, ok, err := e.Oracle.UserRoleInScope(ctx, actorID, scopeID)
	if err != nil {
		return "", false, fmt.Errorf("scope role lookup: %w", err)
	}
	return role, ok, nil
}

func structuralChecks(res *domain.ValidationResult, current, target domain.Stage, item domain.WorkItem) {
	if item.CurrentStage() != current {
		res.AddError(domain.KindInvalidTransition, fmt.Sprintf("item %s is in %s, not %s", item.Ref(), item.CurrentStage(), current))
	}
	if target == domain.StageReview {
		if !item.EvidenceSummaryPresent() {
			res.AddError(domain.KindStructuralValidation, "evidence summary is required before review")
		}
		if !item.ComputedScorePresent() {
			res.AddWarning("no computed evidence score; reviewers will see an unscored curation")
		}
	}
	switch it := item.(type) {
	case *domain.Precuration:
		if target.Index() > domain.StageCuration.Index() {
			res.AddError(domain.KindStructuralValidation, "a precuration cannot advance beyond curation")
		}
	case *domain.ActiveCuration:
		if it.Archived() {
			res.AddError(domain.KindStructuralValidation, fmt.Sprintf("active curation %s is archived", it.ID))
		}
	}
}

func roleLabel(r domain.Role) string {
	if r == "" {
		return "none"
	}
	return string(r)
}

func joinRoles(roles []domain.Role) string {
	parts := make([]string, len(roles))
	for i, r := range roles {
		parts[i] = string(r)
	}
	return strings.Join(parts, ", ")
}

func kindLabels(kinds []domain.ErrorKind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}
