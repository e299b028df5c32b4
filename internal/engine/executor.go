package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/berntpopp/gene-curator-sub000/internal/domain"
	"github.com/berntpopp/gene-curator-sub000/internal/repo"
)

// ExecuteRequest asks for one stage transition.
type ExecuteRequest struct {
	ItemID   string
	ItemType domain.ItemType
	Target   domain.Stage
	ActorID  string
	Notes    string
	Metadata map[string]any
}

// Execute validates and applies a transition, saving the item and one audit
// record in a single transaction.
func (e Engine) Execute(ctx context.Context, req ExecuteRequest) (rec domain.WorkflowTransition, err error) {
	start := time.Now()
	ref := domain.ItemRef{ID: req.ItemID, Type: req.ItemType}
	ctx, span := e.tracer().Start(ctx, "workflow.execute", trace.WithAttributes(
		attribute.String("item", ref.String()),
		attribute.String("to", string(req.Target)),
		attribute.String("actor", req.ActorID),
	))
	from := domain.Stage("")
	defer func() {
		outcome := "executed"
		switch {
		case errors.Is(err, ErrInvalidTransition):
			outcome = "rejected"
		case err != nil:
			outcome = "error"
		}
		span.SetAttributes(attribute.String("from", string(from)), attribute.String("outcome", outcome))
		endSpan(span, err)
		e.Metrics.RecordTransition(string(from), string(req.Target), outcome, time.Since(start))
	}()

	if !req.Target.Valid() {
		return rec, newError("execute", ErrInvalidInput, "invalid target stage %q", req.Target)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return rec, err
	}
	defer tx.Rollback()

	item, err := e.Repo.GetItemTx(ctx, tx, ref, true)
	if errors.Is(err, repo.ErrNotFound) {
		return rec, newError("execute", ErrNotFound, "work item %s not found", ref)
	}
	if err != nil {
		return rec, err
	}
	from = item.CurrentStage()

	rec, err = e.executeTx(ctx, tx, item, req.Target, req.ActorID, req.Notes, req.Metadata)
	if err != nil {
		return rec, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkflowTransition{}, err
	}
	e.logger().Info("transition executed",
		"item", ref.String(), "from", rec.FromStage, "to", rec.ToStage, "actor", rec.ExecutedBy, "transition", rec.ID)
	return rec, nil
}

// executeTx runs validation and the stage handler inside tx. The item must
// already be locked by the caller.
func (e Engine) executeTx(ctx context.Context, tx *sql.Tx, item domain.WorkItem, target domain.Stage, actorID, notes string, metadata map[string]any) (domain.WorkflowTransition, error) {
	from := item.CurrentStage()
	res, err := e.Validate(ctx, from, target, actorID, item)
	if err != nil {
		return domain.WorkflowTransition{}, err
	}
	if !res.IsValid {
		return domain.WorkflowTransition{}, &WorkflowError{
			Op:      "execute",
			Kind:    ErrInvalidTransition,
			Message: strings.Join(res.Errors, "; "),
			Result:  &res,
		}
	}

	now := e.timestamp()
	audited, extra, err := e.apply(ctx, tx, item, target, actorID, now)
	if err != nil {
		return domain.WorkflowTransition{}, err
	}
	if err := e.Repo.SaveItemTx(ctx, tx, audited); err != nil {
		return domain.WorkflowTransition{}, fmt.Errorf("save %s: %w", audited.Ref(), err)
	}
	if from == domain.StageReview {
		if _, err := e.Repo.SupersedeReviewsTx(ctx, tx, item.Ref(), now); err != nil {
			return domain.WorkflowTransition{}, fmt.Errorf("close review round of %s: %w", item.Ref(), err)
		}
	}

	meta := map[string]any{}
	for k, v := range metadata {
		meta[k] = v
	}
	for k, v := range extra {
		meta[k] = v
	}
	if len(res.Warnings) > 0 {
		meta["warnings"] = res.Warnings
	}
	ref := audited.Ref()
	return e.Events.Append(ctx, tx, domain.WorkflowTransition{
		WorkItemID:   ref.ID,
		WorkItemType: ref.Type,
		ScopeID:      audited.Scope(),
		FromStage:    from,
		ToStage:      target,
		ExecutedBy:   actorID,
		ExecutedAt:   now,
		Notes:        notes,
		Metadata:     meta,
	})
}

// apply moves item to target. It returns the item whose audit chain records
// the transition, which for an active curation is its backing curation.
func (e Engine) apply(ctx context.Context, tx *sql.Tx, item domain.WorkItem, target domain.Stage, actorID, now string) (domain.WorkItem, map[string]any, error) {
	switch target {
	case domain.StageEntry:
		return e.toEntry(ctx, tx, item, actorID, now)
	case domain.StagePrecuration:
		return e.toPrecuration(ctx, tx, item, actorID, now)
	case domain.StageCuration:
		return e.toCuration(ctx, tx, item, actorID, now)
	case domain.StageReview:
		return e.toReview(ctx, tx, item, actorID, now)
	case domain.StageActive:
		return e.toActive(ctx, tx, item, actorID, now)
	}
	panic(fmt.Sprintf("engine: no handler for stage %q", target))
}

func (e Engine) toEntry(ctx context.Context, tx *sql.Tx, item domain.WorkItem, actorID, now string) (domain.WorkItem, map[string]any, error) {
	switch it := item.(type) {
	case *domain.Precuration:
		it.Stage, it.Status, it.UpdatedAt = domain.StageEntry, "draft", now
		return it, nil, nil
	case *domain.Curation:
		it.Stage, it.Status, it.UpdatedAt = domain.StageEntry, "draft", now
		return it, nil, nil
	case *domain.ActiveCuration:
		return e.leaveActive(ctx, tx, it, domain.StageEntry, actorID, now)
	}
	panic(fmt.Sprintf("engine: unknown work item %T", item))
}

func (e Engine) toPrecuration(ctx context.Context, tx *sql.Tx, item domain.WorkItem, actorID, now string) (domain.WorkItem, map[string]any, error) {
	switch it := item.(type) {
	case *domain.Precuration:
		it.Stage, it.Status, it.UpdatedAt = domain.StagePrecuration, "in_progress", now
		return it, nil, nil
	case *domain.Curation:
		it.Stage, it.Status, it.UpdatedAt = domain.StagePrecuration, "draft", now
		return it, nil, nil
	case *domain.ActiveCuration:
		return e.leaveActive(ctx, tx, it, domain.StagePrecuration, actorID, now)
	}
	panic(fmt.Sprintf("engine: unknown work item %T", item))
}

func (e Engine) toCuration(ctx context.Context, tx *sql.Tx, item domain.WorkItem, actorID, now string) (domain.WorkItem, map[string]any, error) {
	switch it := item.(type) {
	case *domain.Precuration:
		it.Stage, it.Status, it.UpdatedAt = domain.StageCuration, "completed", now
		return it, nil, nil
	case *domain.Curation:
		it.Stage, it.Status, it.UpdatedAt = domain.StageCuration, "in_progress", now
		return it, nil, nil
	case *domain.ActiveCuration:
		return e.leaveActive(ctx, tx, it, domain.StageCuration, actorID, now)
	}
	panic(fmt.Sprintf("engine: unknown work item %T", item))
}

func (e Engine) toReview(ctx context.Context, tx *sql.Tx, item domain.WorkItem, actorID, now string) (domain.WorkItem, map[string]any, error) {
	switch it := item.(type) {
	case *domain.Precuration:
		it.Stage, it.Status, it.UpdatedAt = domain.StageReview, "completed", now
		return it, nil, nil
	case *domain.Curation:
		var extra map[string]any
		if it.Stage == domain.StageActive {
			n, err := e.Repo.ArchiveActiveCurationsTx(ctx, tx, it.ID, actorID, now)
			if err != nil {
				return nil, nil, err
			}
			extra = map[string]any{"archived_active_curations": n}
			it.ApprovedBy, it.ApprovedAt = nil, nil
		}
		it.Stage, it.Status, it.UpdatedAt = domain.StageReview, "submitted", now
		it.SubmittedBy, it.SubmittedAt = &actorID, &now
		return it, extra, nil
	case *domain.ActiveCuration:
		return e.leaveActive(ctx, tx, it, domain.StageReview, actorID, now)
	}
	panic(fmt.Sprintf("engine: unknown work item %T", item))
}

func (e Engine) toActive(ctx context.Context, tx *sql.Tx, item domain.WorkItem, actorID, now string) (domain.WorkItem, map[string]any, error) {
	switch it := item.(type) {
	case *domain.Precuration:
		it.Stage, it.Status, it.UpdatedAt = domain.StageActive, "completed", now
		return it, nil, nil
	case *domain.Curation:
		archived, err := e.Repo.ArchiveActiveCurationsTx(ctx, tx, it.ID, actorID, now)
		if err != nil {
			return nil, nil, err
		}
		active := &domain.ActiveCuration{
			ID:             uuid.NewString(),
			CurationID:     it.ID,
			ScopeID:        it.ScopeID,
			GeneID:         it.GeneID,
			Classification: it.Classification,
			ComputedScore:  it.ComputedScore,
			CreatedBy:      it.CreatedBy,
			ActivatedBy:    actorID,
			ActivatedAt:    now,
		}
		if it.EvidenceSummary != "" {
			summary := it.EvidenceSummary
			active.Summary = &summary
		}
		if err := e.Repo.CreateActiveCurationTx(ctx, tx, active); err != nil {
			return nil, nil, err
		}
		it.Stage, it.Status, it.UpdatedAt = domain.StageActive, "active", now
		it.ApprovedBy, it.ApprovedAt = &actorID, &now
		extra := map[string]any{"active_curation_id": active.ID}
		if archived > 0 {
			extra["archived_active_curations"] = archived
		}
		return it, extra, nil
	case *domain.ActiveCuration:
		// No active->active edge exists; the graph check rejects this first.
		return it, nil, nil
	}
	panic(fmt.Sprintf("engine: unknown work item %T", item))
}

// leaveActive moves the curation backing an active record, which archives
// the record on the way out.
func (e Engine) leaveActive(ctx context.Context, tx *sql.Tx, a *domain.ActiveCuration, target domain.Stage, actorID, now string) (domain.WorkItem, map[string]any, error) {
	backing, err := e.Repo.GetItemTx(ctx, tx, domain.ItemRef{ID: a.CurationID, Type: domain.ItemCuration}, true)
	if err != nil {
		return nil, nil, fmt.Errorf("load curation %s: %w", a.CurationID, err)
	}
	c := backing.(*domain.Curation)
	if c.Stage != domain.StageActive {
		return nil, nil, newError("execute", ErrInvalidTransition, "curation %s is in %s, not active", c.ID, c.Stage)
	}
	audited, extra, err := e.apply(ctx, tx, c, target, actorID, now)
	if err != nil {
		return nil, nil, err
	}
	if extra == nil {
		extra = map[string]any{}
	}
	extra["active_curation_id"] = a.ID
	return audited, extra, nil
}
