package engine

import (
	"context"
	"errors"

	"github.com/berntpopp/gene-curator-sub000/internal/domain"
	"github.com/berntpopp/gene-curator-sub000/internal/repo"
	"github.com/berntpopp/gene-curator-sub000/internal/workflow"
)

// GetState describes where an item is, where it can go next and how it got
// there.
func (e Engine) GetState(ctx context.Context, itemID string, itemType domain.ItemType) (domain.WorkflowStateInfo, error) {
	ref := domain.ItemRef{ID: itemID, Type: itemType}
	item, err := e.Repo.GetItem(ctx, ref)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.WorkflowStateInfo{}, newError("get state", ErrNotFound, "work item %s not found", ref)
	}
	if err != nil {
		return domain.WorkflowStateInfo{}, err
	}

	stage := item.CurrentStage()
	info := domain.WorkflowStateInfo{
		Item:           ref,
		CurrentStage:   stage,
		NextStages:     e.Rules.Next(stage),
		PendingReviews: []domain.Review{},
		Progress:       workflow.Progress(stage),
	}
	historyRef := ref
	if a, ok := item.(*domain.ActiveCuration); ok {
		historyRef = domain.ItemRef{ID: a.CurationID, Type: domain.ItemCuration}
		if a.Archived() {
			info.NextStages = []domain.Stage{}
		}
	}
	if info.NextStages == nil {
		info.NextStages = []domain.Stage{}
	}
	info.History, err = e.Repo.ListTransitions(ctx, historyRef)
	if err != nil {
		return domain.WorkflowStateInfo{}, err
	}
	if stage == domain.StageReview {
		info.PendingReviews, err = e.Repo.ListPendingReviews(ctx, ref)
		if err != nil {
			return domain.WorkflowStateInfo{}, err
		}
	}
	return info, nil
}
