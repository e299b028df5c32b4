package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/berntpopp/gene-curator-sub000/internal/domain"
)

const transitionColumns = `id,work_item_id,work_item_type,scope_id,from_stage,to_stage,executed_by,executed_at,COALESCE(notes,''),metadata_json`

func scanTransition(row scanner) (domain.WorkflowTransition, error) {
	var t domain.WorkflowTransition
	var itemType, from, to, meta string
	err := row.Scan(&t.ID, &t.WorkItemID, &itemType, &t.ScopeID, &from, &to, &t.ExecutedBy, &t.ExecutedAt, &t.Notes, &meta)
	if errors.Is(err, sql.ErrNoRows) {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.WorkItemType = domain.ItemType(itemType)
	t.FromStage = domain.Stage(from)
	t.ToStage = domain.Stage(to)
	if meta != "" && meta != "{}" {
		if err := json.Unmarshal([]byte(meta), &t.Metadata); err != nil {
			return t, err
		}
	}
	return t, nil
}

func collectTransitions(rows *sql.Rows) ([]domain.WorkflowTransition, error) {
	defer rows.Close()
	res := []domain.WorkflowTransition{}
	for rows.Next() {
		t, err := scanTransition(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// ListTransitions returns the audit history of a work item, oldest first.
func (r Repo) ListTransitions(ctx context.Context, ref domain.ItemRef) ([]domain.WorkflowTransition, error) {
	rows, err := r.query(ctx, r.DB, `SELECT `+transitionColumns+` FROM workflow_transitions WHERE work_item_type=? AND work_item_id=? ORDER BY executed_at, id`,
		string(ref.Type), ref.ID)
	if err != nil {
		return nil, err
	}
	return collectTransitions(rows)
}

// TransitionsSince returns audit records executed at or after since, grouped
// by item and ordered by time within each item.
func (r Repo) TransitionsSince(ctx context.Context, scopeID, since string) ([]domain.WorkflowTransition, error) {
	query := `SELECT ` + transitionColumns + ` FROM workflow_transitions WHERE executed_at>=?`
	args := []any{since}
	if scopeID != "" {
		query += ` AND scope_id=?`
		args = append(args, scopeID)
	}
	query += ` ORDER BY work_item_type, work_item_id, executed_at, id`
	rows, err := r.query(ctx, r.DB, query, args...)
	if err != nil {
		return nil, err
	}
	return collectTransitions(rows)
}

// TransitionsAfter pages through the audit log by id.
func (r Repo) TransitionsAfter(ctx context.Context, afterID int64, limit int) ([]domain.WorkflowTransition, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.query(ctx, r.DB, `SELECT `+transitionColumns+` FROM workflow_transitions WHERE id>? ORDER BY id LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, err
	}
	return collectTransitions(rows)
}

func (r Repo) LatestTransitionID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := r.queryRow(ctx, r.DB, `SELECT MAX(id) FROM workflow_transitions`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}

// StageCounts counts items by current stage among those updated at or after
// since. Precurations are only counted before hand-off to curation.
func (r Repo) StageCounts(ctx context.Context, scopeID, since string) (map[domain.Stage]int, error) {
	query := `SELECT stage, COUNT(*) FROM (
  SELECT stage, scope_id, updated_at FROM precurations WHERE stage IN (?,?)
  UNION ALL
  SELECT stage, scope_id, updated_at FROM curations
) items WHERE updated_at>=?`
	args := []any{string(domain.StageEntry), string(domain.StagePrecuration), since}
	if scopeID != "" {
		query += ` AND scope_id=?`
		args = append(args, scopeID)
	}
	query += ` GROUP BY stage`
	rows, err := r.query(ctx, r.DB, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[domain.Stage]int{}
	for _, s := range domain.Stages {
		counts[s] = 0
	}
	for rows.Next() {
		var stage string
		var n int
		if err := rows.Scan(&stage, &n); err != nil {
			return nil, err
		}
		counts[domain.Stage(stage)] = n
	}
	return counts, rows.Err()
}

type ReviewCounts struct {
	Total     int
	Completed int
	Pending   int
	Approved  int
}

// CountReviews aggregates reviews assigned at or after since.
func (r Repo) CountReviews(ctx context.Context, scopeID, since string) (ReviewCounts, error) {
	query := `SELECT COUNT(*),
  COALESCE(SUM(CASE WHEN status=? THEN 1 ELSE 0 END),0),
  COALESCE(SUM(CASE WHEN status=? AND superseded_at IS NULL THEN 1 ELSE 0 END),0),
  COALESCE(SUM(CASE WHEN status=? AND recommendation=? THEN 1 ELSE 0 END),0)
FROM reviews WHERE assigned_at>=?`
	args := []any{string(domain.ReviewApproved), string(domain.ReviewPending), string(domain.ReviewApproved), string(domain.RecommendApprove), since}
	if scopeID != "" {
		query += ` AND scope_id=?`
		args = append(args, scopeID)
	}
	var c ReviewCounts
	err := r.queryRow(ctx, r.DB, query, args...).Scan(&c.Total, &c.Completed, &c.Pending, &c.Approved)
	return c, err
}
