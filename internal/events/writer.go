// Package events writes the append-only workflow transition audit log.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/berntpopp/gene-curator-sub000/internal/db"
	"github.com/berntpopp/gene-curator-sub000/internal/domain"
)

type Writer struct {
	Dialect db.Dialect
	Now     func() time.Time
}

// Append inserts one audit record inside tx and returns it with its id and
// timestamp filled in. Audit records are never updated or deleted.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, t domain.WorkflowTransition) (domain.WorkflowTransition, error) {
	if t.ExecutedAt == "" {
		now := time.Now
		if w.Now != nil {
			now = w.Now
		}
		t.ExecutedAt = now().UTC().Format(time.RFC3339)
	}
	meta := t.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return t, fmt.Errorf("marshal transition metadata: %w", err)
	}
	query := `INSERT INTO workflow_transitions(work_item_id,work_item_type,scope_id,from_stage,to_stage,executed_by,executed_at,notes,metadata_json) VALUES (?,?,?,?,?,?,?,?,?) RETURNING id`
	if w.Dialect == db.Postgres {
		query = `INSERT INTO workflow_transitions(work_item_id,work_item_type,scope_id,from_stage,to_stage,executed_by,executed_at,notes,metadata_json) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`
	}
	err = tx.QueryRowContext(ctx, query,
		t.WorkItemID, string(t.WorkItemType), t.ScopeID, string(t.FromStage), string(t.ToStage),
		t.ExecutedBy, t.ExecutedAt, nullable(t.Notes), string(data)).Scan(&t.ID)
	if err != nil {
		return t, fmt.Errorf("append transition: %w", err)
	}
	return t, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
