package engine

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/berntpopp/gene-curator-sub000/internal/domain"
	"github.com/berntpopp/gene-curator-sub000/internal/repo"
)

const autoActivationNote = "Automatically activated after all peer reviews approved"

type AssignRequest struct {
	ItemID     string
	ItemType   domain.ItemType
	ReviewerID string
	AssignedBy string
}

// AssignReviewer creates a pending review for an item in review.
func (e Engine) AssignReviewer(ctx context.Context, req AssignRequest) (rv domain.Review, err error) {
	ref := domain.ItemRef{ID: req.ItemID, Type: req.ItemType}
	ctx, span := e.tracer().Start(ctx, "review.assign", trace.WithAttributes(
		attribute.String("item", ref.String()),
		attribute.String("reviewer", req.ReviewerID),
	))
	defer func() { endSpan(span, err) }()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return rv, err
	}
	defer tx.Rollback()

	item, err := e.Repo.GetItemTx(ctx, tx, ref, true)
	if errors.Is(err, repo.ErrNotFound) {
		return rv, newError("assign reviewer", ErrNotFound, "work item %s not found", ref)
	}
	if err != nil {
		return rv, err
	}
	if req.ReviewerID == item.Author() {
		return rv, newError("assign reviewer", ErrFourEyesViolation, "%s created %s and cannot review it", req.ReviewerID, ref)
	}
	if item.CurrentStage() != domain.StageReview {
		return rv, newError("assign reviewer", ErrInvalidTransition, "%s is in %s; reviewers can only be assigned in review", ref, item.CurrentStage())
	}
	if err := e.requireActiveUser(ctx, "assign reviewer", req.ReviewerID); err != nil {
		return rv, err
	}
	if err := e.requireActiveUser(ctx, "assign reviewer", req.AssignedBy); err != nil {
		return rv, err
	}
	pending, err := e.Repo.ListPendingReviewsTx(ctx, tx, ref)
	if err != nil {
		return rv, err
	}
	for _, p := range pending {
		if p.ReviewerID == req.ReviewerID {
			return rv, newError("assign reviewer", ErrAlreadyAssigned, "%s already has pending review %s on %s", req.ReviewerID, p.ID, ref)
		}
	}

	rv, err = e.Repo.CreateReviewTx(ctx, tx, domain.Review{
		ID:           uuid.NewString(),
		WorkItemID:   ref.ID,
		WorkItemType: ref.Type,
		ScopeID:      item.Scope(),
		ReviewerID:   req.ReviewerID,
		AssignedBy:   req.AssignedBy,
		Status:       domain.ReviewPending,
		AssignedAt:   e.timestamp(),
	})
	if err != nil {
		return domain.Review{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Review{}, err
	}
	e.Metrics.RecordReviewAssigned()
	e.logger().Info("reviewer assigned", "item", ref.String(), "review", rv.ID, "reviewer", rv.ReviewerID, "by", rv.AssignedBy)
	return rv, nil
}

type SubmitRequest struct {
	ReviewID         string
	ReviewerID       string
	Decision         domain.Recommendation
	Comments         string
	SuggestedChanges *string
}

// SubmitReview completes a pending review. When it is the last outstanding
// approval the item is activated in the same transaction.
func (e Engine) SubmitReview(ctx context.Context, req SubmitRequest) (out domain.ReviewOutcome, err error) {
	ctx, span := e.tracer().Start(ctx, "review.submit", trace.WithAttributes(
		attribute.String("review", req.ReviewID),
		attribute.String("reviewer", req.ReviewerID),
		attribute.String("decision", string(req.Decision)),
	))
	defer func() {
		span.SetAttributes(attribute.Bool("activated", out.Activated))
		endSpan(span, err)
	}()

	if !req.Decision.Valid() {
		return out, newError("submit review", ErrInvalidInput, "invalid decision %q", req.Decision)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return out, err
	}
	defer tx.Rollback()

	// Lock the item before the review so every mutation takes locks in the
	// same order.
	rv, err := e.Repo.GetReviewTx(ctx, tx, req.ReviewID, false)
	if errors.Is(err, repo.ErrNotFound) {
		return out, newError("submit review", ErrNotFound, "review %s not found", req.ReviewID)
	}
	if err != nil {
		return out, err
	}
	ref := domain.ItemRef{ID: rv.WorkItemID, Type: rv.WorkItemType}
	item, err := e.Repo.GetItemTx(ctx, tx, ref, true)
	if errors.Is(err, repo.ErrNotFound) {
		return out, newError("submit review", ErrNotFound, "work item %s not found", ref)
	}
	if err != nil {
		return out, err
	}
	rv, err = e.Repo.GetReviewTx(ctx, tx, req.ReviewID, true)
	if err != nil {
		return out, err
	}
	if rv.ReviewerID != req.ReviewerID {
		return out, newError("submit review", ErrReviewerMismatch, "review %s is assigned to %s", rv.ID, rv.ReviewerID)
	}
	if rv.Completed() {
		return out, newError("submit review", ErrAlreadyCompleted, "review %s was already submitted", rv.ID)
	}
	if rv.Superseded() {
		return out, newError("submit review", ErrAlreadyCompleted, "review %s belongs to a closed review round", rv.ID)
	}

	now := e.timestamp()
	decision := req.Decision
	rv.Status = domain.ReviewApproved
	rv.Recommendation = &decision
	rv.Comments = req.Comments
	rv.SuggestedChanges = req.SuggestedChanges
	rv.ReviewedAt = &now
	rv, err = e.Repo.CompleteReviewTx(ctx, tx, rv)
	if errors.Is(err, repo.ErrNotFound) {
		return out, newError("submit review", ErrAlreadyCompleted, "review %s was already submitted", req.ReviewID)
	}
	if err != nil {
		return out, err
	}
	out.Review = rv

	if decision == domain.RecommendApprove {
		if err := e.autoActivate(ctx, tx, item, rv, &out); err != nil {
			return domain.ReviewOutcome{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.ReviewOutcome{}, err
	}
	e.Metrics.RecordReviewDecision(string(decision))
	e.logger().Info("review submitted", "item", ref.String(), "review", rv.ID, "reviewer", rv.ReviewerID, "decision", decision)
	if out.Activated {
		e.Metrics.RecordAutoActivation("activated")
		e.logger().Info("item activated by peer review", "item", ref.String(), "transition", out.Transition.ID)
	} else if len(out.ActivationErrors) > 0 {
		e.Metrics.RecordAutoActivation("blocked")
		e.logger().Warn("auto-activation blocked", "item", ref.String(), "errors", strings.Join(out.ActivationErrors, "; "))
	}
	return out, nil
}

// autoActivate moves item to active when every review of the current round
// is completed with an approve recommendation. Validation failures are reported on out
// and do not abort the surrounding transaction.
func (e Engine) autoActivate(ctx context.Context, tx *sql.Tx, item domain.WorkItem, rv domain.Review, out *domain.ReviewOutcome) error {
	if item.CurrentStage() != domain.StageReview {
		return nil
	}
	reviews, err := e.Repo.ListRoundReviewsTx(ctx, tx, item.Ref())
	if err != nil {
		return err
	}
	for _, r := range reviews {
		if !r.Completed() || r.Recommendation == nil || *r.Recommendation != domain.RecommendApprove {
			return nil
		}
	}
	rec, err := e.executeTx(ctx, tx, item, domain.StageActive, rv.ReviewerID, autoActivationNote, map[string]any{
		"trigger":   "peer_review",
		"review_id": rv.ID,
		"reviews":   len(reviews),
	})
	var werr *WorkflowError
	if errors.As(err, &werr) && werr.Result != nil {
		out.ActivationErrors = werr.Result.Errors
		return nil
	}
	if err != nil {
		return err
	}
	out.Activated = true
	out.Transition = &rec
	return nil
}

func (e Engine) requireActiveUser(ctx context.Context, op, userID string) error {
	u, err := e.Actors.GetUser(ctx, userID)
	if errors.Is(err, repo.ErrNotFound) || (err == nil && !u.Active) {
		return newError(op, ErrNotFound, "user %s not found", userID)
	}
	return err
}

// GetEligibleReviewers lists active users who could review work in scopeID,
// least loaded first. An empty scopeID considers every active user.
func (e Engine) GetEligibleReviewers(ctx context.Context, scopeID, excludeUserID string) ([]domain.ReviewerCandidate, error) {
	users, err := e.Repo.ListUsers(ctx, true)
	if err != nil {
		return nil, err
	}
	var roles map[string]domain.Role
	if scopeID != "" {
		members, err := e.Repo.ListScopeMembers(ctx, scopeID)
		if err != nil {
			return nil, err
		}
		roles = make(map[string]domain.Role, len(members))
		for _, m := range members {
			roles[m.UserID] = m.Role
		}
	}
	load, err := e.Repo.PendingReviewLoad(ctx)
	if err != nil {
		return nil, err
	}

	out := []domain.ReviewerCandidate{}
	for _, u := range users {
		if u.ID == excludeUserID {
			continue
		}
		c := domain.ReviewerCandidate{UserID: u.ID, Name: u.Name, Email: u.Email, PendingReviews: load[u.ID]}
		if scopeID != "" {
			role, ok := roles[u.ID]
			if !ok || !reviewCapable[role] {
				continue
			}
			c.Role = role
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].PendingReviews != out[j].PendingReviews {
			return out[i].PendingReviews < out[j].PendingReviews
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}
