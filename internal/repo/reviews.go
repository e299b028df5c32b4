package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/berntpopp/gene-curator-sub000/internal/domain"
)

const reviewColumns = `id,work_item_id,work_item_type,scope_id,reviewer_id,assigned_by,status,recommendation,COALESCE(comments,''),suggested_changes,assigned_at,reviewed_at,superseded_at`

func scanReview(row scanner) (domain.Review, error) {
	var rv domain.Review
	var itemType, status string
	var rec, suggested, reviewedAt, supersededAt sql.NullString
	err := row.Scan(&rv.ID, &rv.WorkItemID, &itemType, &rv.ScopeID, &rv.ReviewerID, &rv.AssignedBy, &status, &rec,
		&rv.Comments, &suggested, &rv.AssignedAt, &reviewedAt, &supersededAt)
	if errors.Is(err, sql.ErrNoRows) {
		return rv, ErrNotFound
	}
	if err != nil {
		return rv, err
	}
	rv.WorkItemType = domain.ItemType(itemType)
	rv.Status = domain.ReviewStatus(status)
	if rec.Valid {
		r := domain.Recommendation(rec.String)
		rv.Recommendation = &r
	}
	rv.SuggestedChanges = stringPtr(suggested)
	rv.ReviewedAt = stringPtr(reviewedAt)
	rv.SupersededAt = stringPtr(supersededAt)
	return rv, nil
}

func (r Repo) CreateReviewTx(ctx context.Context, tx *sql.Tx, rv domain.Review) (domain.Review, error) {
	_, err := r.exec(ctx, tx, `INSERT INTO reviews(id,work_item_id,work_item_type,scope_id,reviewer_id,assigned_by,status,comments,assigned_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		rv.ID, rv.WorkItemID, string(rv.WorkItemType), rv.ScopeID, rv.ReviewerID, rv.AssignedBy, string(rv.Status),
		nullable(rv.Comments), rv.AssignedAt)
	if err != nil {
		return domain.Review{}, err
	}
	return rv, nil
}

// CompleteReviewTx records a decision on a review that is still pending.
// ErrNotFound is returned if the review no longer is.
func (r Repo) CompleteReviewTx(ctx context.Context, tx *sql.Tx, rv domain.Review) (domain.Review, error) {
	var rec any
	if rv.Recommendation != nil {
		rec = string(*rv.Recommendation)
	}
	res, err := r.exec(ctx, tx, `UPDATE reviews SET status=?, recommendation=?, comments=?, suggested_changes=?, reviewed_at=? WHERE id=? AND status=? AND superseded_at IS NULL`,
		string(rv.Status), rec, nullable(rv.Comments), nullableStringPtr(rv.SuggestedChanges), nullableStringPtr(rv.ReviewedAt),
		rv.ID, string(domain.ReviewPending))
	if err != nil {
		return domain.Review{}, err
	}
	if err := requireAffected(res); err != nil {
		return domain.Review{}, err
	}
	return r.GetReviewTx(ctx, tx, rv.ID, false)
}

func (r Repo) GetReview(ctx context.Context, id string) (domain.Review, error) {
	return scanReview(r.queryRow(ctx, r.DB, `SELECT `+reviewColumns+` FROM reviews WHERE id=?`, id))
}

func (r Repo) GetReviewTx(ctx context.Context, tx *sql.Tx, id string, lock bool) (domain.Review, error) {
	return scanReview(r.queryRow(ctx, tx, r.forUpdate(`SELECT `+reviewColumns+` FROM reviews WHERE id=?`, lock), id))
}

// ListReviews returns the reviews of a work item, oldest assignment first.
func (r Repo) ListReviews(ctx context.Context, ref domain.ItemRef) ([]domain.Review, error) {
	return r.listReviews(ctx, r.DB, ref, "", false)
}

func (r Repo) ListPendingReviews(ctx context.Context, ref domain.ItemRef) ([]domain.Review, error) {
	return r.listReviews(ctx, r.DB, ref, domain.ReviewPending, true)
}

func (r Repo) ListPendingReviewsTx(ctx context.Context, tx *sql.Tx, ref domain.ItemRef) ([]domain.Review, error) {
	return r.listReviews(ctx, tx, ref, domain.ReviewPending, true)
}

// ListRoundReviewsTx returns the reviews of the item's current review round.
func (r Repo) ListRoundReviewsTx(ctx context.Context, tx *sql.Tx, ref domain.ItemRef) ([]domain.Review, error) {
	return r.listReviews(ctx, tx, ref, "", true)
}

// SupersedeReviewsTx closes the current review round of an item. Its reviews
// stay listed but no longer count as pending.
func (r Repo) SupersedeReviewsTx(ctx context.Context, tx *sql.Tx, ref domain.ItemRef, at string) (int64, error) {
	res, err := r.exec(ctx, tx, `UPDATE reviews SET superseded_at=? WHERE work_item_type=? AND work_item_id=? AND superseded_at IS NULL`,
		at, string(ref.Type), ref.ID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// listReviews filters by status when it is set. Pending reviews always come
// from the open round.
func (r Repo) listReviews(ctx context.Context, q querier, ref domain.ItemRef, status domain.ReviewStatus, openRound bool) ([]domain.Review, error) {
	query := `SELECT ` + reviewColumns + ` FROM reviews WHERE work_item_type=? AND work_item_id=?`
	args := []any{string(ref.Type), ref.ID}
	if status != "" {
		query += ` AND status=?`
		args = append(args, string(status))
	}
	if openRound || status == domain.ReviewPending {
		query += ` AND superseded_at IS NULL`
	}
	query += ` ORDER BY assigned_at, id`
	rows, err := r.query(ctx, q, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	reviews := []domain.Review{}
	for rows.Next() {
		rv, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		reviews = append(reviews, rv)
	}
	return reviews, rows.Err()
}

// PendingReviewLoad counts pending reviews per reviewer.
func (r Repo) PendingReviewLoad(ctx context.Context) (map[string]int, error) {
	rows, err := r.query(ctx, r.DB, `SELECT reviewer_id, COUNT(*) FROM reviews WHERE status=? AND superseded_at IS NULL GROUP BY reviewer_id`, string(domain.ReviewPending))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	load := map[string]int{}
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		load[id] = n
	}
	return load, rows.Err()
}
