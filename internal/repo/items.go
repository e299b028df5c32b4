package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/berntpopp/gene-curator-sub000/internal/domain"
)

const precurationColumns = `id,scope_id,gene_id,disease_name,mode_of_inheritance,COALESCE(rationale,''),stage,status,created_by,created_at,updated_at`

const curationColumns = `id,scope_id,gene_id,precuration_id,disease_name,mode_of_inheritance,evidence_json,COALESCE(evidence_summary,''),computed_score,classification,stage,status,submitted_by,submitted_at,approved_by,approved_at,created_by,created_at,updated_at`

const activeColumns = `id,curation_id,scope_id,gene_id,classification,summary,computed_score,created_by,activated_by,activated_at,archived_by,archived_at`

type scanner interface{ Scan(...any) error }

func scanPrecuration(row scanner) (*domain.Precuration, error) {
	var p domain.Precuration
	var disease, moi sql.NullString
	var stage string
	err := row.Scan(&p.ID, &p.ScopeID, &p.GeneID, &disease, &moi, &p.Rationale, &stage, &p.Status, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.DiseaseName = stringPtr(disease)
	p.ModeOfInheritance = stringPtr(moi)
	p.Stage = domain.Stage(stage)
	return &p, nil
}

func scanCuration(row scanner) (*domain.Curation, error) {
	var c domain.Curation
	var precID, disease, moi, evidence, classification, subBy, subAt, appBy, appAt sql.NullString
	var score sql.NullFloat64
	var stage string
	err := row.Scan(&c.ID, &c.ScopeID, &c.GeneID, &precID, &disease, &moi, &evidence, &c.EvidenceSummary, &score, &classification,
		&stage, &c.Status, &subBy, &subAt, &appBy, &appAt, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.PrecurationID = stringPtr(precID)
	c.DiseaseName = stringPtr(disease)
	c.ModeOfInheritance = stringPtr(moi)
	c.EvidenceJSON = stringPtr(evidence)
	c.ComputedScore = floatPtr(score)
	c.Classification = stringPtr(classification)
	c.Stage = domain.Stage(stage)
	c.SubmittedBy = stringPtr(subBy)
	c.SubmittedAt = stringPtr(subAt)
	c.ApprovedBy = stringPtr(appBy)
	c.ApprovedAt = stringPtr(appAt)
	return &c, nil
}

func scanActive(row scanner) (*domain.ActiveCuration, error) {
	var a domain.ActiveCuration
	var classification, summary, archBy, archAt sql.NullString
	var score sql.NullFloat64
	err := row.Scan(&a.ID, &a.CurationID, &a.ScopeID, &a.GeneID, &classification, &summary, &score,
		&a.CreatedBy, &a.ActivatedBy, &a.ActivatedAt, &archBy, &archAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.Classification = stringPtr(classification)
	a.Summary = stringPtr(summary)
	a.ComputedScore = floatPtr(score)
	a.ArchivedBy = stringPtr(archBy)
	a.ArchivedAt = stringPtr(archAt)
	return &a, nil
}

func (r Repo) InsertPrecuration(ctx context.Context, p *domain.Precuration) error {
	_, err := r.exec(ctx, r.DB, `INSERT INTO precurations(`+precurationColumnsInsert+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.ScopeID, p.GeneID, nullableStringPtr(p.DiseaseName), nullableStringPtr(p.ModeOfInheritance), nullable(p.Rationale),
		string(p.Stage), p.Status, p.CreatedBy, p.CreatedAt, p.UpdatedAt)
	return err
}

const precurationColumnsInsert = `id,scope_id,gene_id,disease_name,mode_of_inheritance,rationale,stage,status,created_by,created_at,updated_at`

func (r Repo) InsertCuration(ctx context.Context, c *domain.Curation) error {
	_, err := r.exec(ctx, r.DB, `INSERT INTO curations(id,scope_id,gene_id,precuration_id,disease_name,mode_of_inheritance,evidence_json,evidence_summary,computed_score,classification,stage,status,created_by,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.ScopeID, c.GeneID, nullableStringPtr(c.PrecurationID), nullableStringPtr(c.DiseaseName), nullableStringPtr(c.ModeOfInheritance),
		nullableStringPtr(c.EvidenceJSON), nullable(c.EvidenceSummary), nullableFloatPtr(c.ComputedScore), nullableStringPtr(c.Classification),
		string(c.Stage), c.Status, c.CreatedBy, c.CreatedAt, c.UpdatedAt)
	return err
}

func (r Repo) GetPrecuration(ctx context.Context, id string) (*domain.Precuration, error) {
	return scanPrecuration(r.queryRow(ctx, r.DB, `SELECT `+precurationColumns+` FROM precurations WHERE id=?`, id))
}

func (r Repo) GetCuration(ctx context.Context, id string) (*domain.Curation, error) {
	return scanCuration(r.queryRow(ctx, r.DB, `SELECT `+curationColumns+` FROM curations WHERE id=?`, id))
}

func (r Repo) GetActiveCuration(ctx context.Context, id string) (*domain.ActiveCuration, error) {
	return scanActive(r.queryRow(ctx, r.DB, `SELECT `+activeColumns+` FROM active_curations WHERE id=?`, id))
}

// GetItem loads a work item without locking.
func (r Repo) GetItem(ctx context.Context, ref domain.ItemRef) (domain.WorkItem, error) {
	return r.getItem(ctx, r.DB, ref, false)
}

// GetItemTx loads a work item inside tx and, when lock is set, holds a row
// lock on it until the transaction ends.
func (r Repo) GetItemTx(ctx context.Context, tx *sql.Tx, ref domain.ItemRef, lock bool) (domain.WorkItem, error) {
	return r.getItem(ctx, tx, ref, lock)
}

func (r Repo) getItem(ctx context.Context, q querier, ref domain.ItemRef, lock bool) (domain.WorkItem, error) {
	switch ref.Type {
	case domain.ItemPrecuration:
		return scanPrecuration(r.queryRow(ctx, q, r.forUpdate(`SELECT `+precurationColumns+` FROM precurations WHERE id=?`, lock), ref.ID))
	case domain.ItemCuration:
		return scanCuration(r.queryRow(ctx, q, r.forUpdate(`SELECT `+curationColumns+` FROM curations WHERE id=?`, lock), ref.ID))
	case domain.ItemActive:
		return scanActive(r.queryRow(ctx, q, r.forUpdate(`SELECT `+activeColumns+` FROM active_curations WHERE id=?`, lock), ref.ID))
	default:
		return nil, fmt.Errorf("unknown item type %q", ref.Type)
	}
}

// SaveItemTx persists the stage-owned fields of item.
func (r Repo) SaveItemTx(ctx context.Context, tx *sql.Tx, item domain.WorkItem) error {
	var (
		res sql.Result
		err error
	)
	switch it := item.(type) {
	case *domain.Precuration:
		res, err = r.exec(ctx, tx, `UPDATE precurations SET stage=?, status=?, updated_at=? WHERE id=?`,
			string(it.Stage), it.Status, it.UpdatedAt, it.ID)
	case *domain.Curation:
		res, err = r.exec(ctx, tx, `UPDATE curations SET stage=?, status=?, submitted_by=?, submitted_at=?, approved_by=?, approved_at=?, updated_at=? WHERE id=?`,
			string(it.Stage), it.Status, nullableStringPtr(it.SubmittedBy), nullableStringPtr(it.SubmittedAt),
			nullableStringPtr(it.ApprovedBy), nullableStringPtr(it.ApprovedAt), it.UpdatedAt, it.ID)
	case *domain.ActiveCuration:
		res, err = r.exec(ctx, tx, `UPDATE active_curations SET archived_by=?, archived_at=? WHERE id=?`,
			nullableStringPtr(it.ArchivedBy), nullableStringPtr(it.ArchivedAt), it.ID)
	default:
		return fmt.Errorf("unsupported work item %T", item)
	}
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// UpdateCurationContentTx changes evidence fields outside the workflow; stage
// and status are left untouched. Rows that have been submitted for review
// are not updated and ErrNotFound is returned.
func (r Repo) UpdateCurationContentTx(ctx context.Context, tx *sql.Tx, c *domain.Curation) error {
	res, err := r.exec(ctx, tx, `UPDATE curations SET disease_name=?, mode_of_inheritance=?, evidence_json=?, evidence_summary=?, computed_score=?, classification=?, updated_at=?
WHERE id=? AND stage IN (?,?,?)`,
		nullableStringPtr(c.DiseaseName), nullableStringPtr(c.ModeOfInheritance), nullableStringPtr(c.EvidenceJSON),
		nullable(c.EvidenceSummary), nullableFloatPtr(c.ComputedScore), nullableStringPtr(c.Classification), c.UpdatedAt, c.ID,
		string(domain.StageEntry), string(domain.StagePrecuration), string(domain.StageCuration))
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r Repo) CreateActiveCurationTx(ctx context.Context, tx *sql.Tx, a *domain.ActiveCuration) error {
	_, err := r.exec(ctx, tx, `INSERT INTO active_curations(`+activeColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.CurationID, a.ScopeID, a.GeneID, nullableStringPtr(a.Classification), nullableStringPtr(a.Summary),
		nullableFloatPtr(a.ComputedScore), a.CreatedBy, a.ActivatedBy, a.ActivatedAt,
		nullableStringPtr(a.ArchivedBy), nullableStringPtr(a.ArchivedAt))
	return err
}

// ArchiveActiveCurationsTx archives every unarchived active record of a curation
// and returns how many were archived.
func (r Repo) ArchiveActiveCurationsTx(ctx context.Context, tx *sql.Tx, curationID, archivedBy, at string) (int64, error) {
	res, err := r.exec(ctx, tx, `UPDATE active_curations SET archived_by=?, archived_at=? WHERE curation_id=? AND archived_at IS NULL`,
		archivedBy, at, curationID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CurrentActiveCuration returns the unarchived active record of a curation.
func (r Repo) CurrentActiveCuration(ctx context.Context, curationID string) (*domain.ActiveCuration, error) {
	return scanActive(r.queryRow(ctx, r.DB, `SELECT `+activeColumns+` FROM active_curations WHERE curation_id=? AND archived_at IS NULL ORDER BY activated_at DESC, id DESC LIMIT 1`, curationID))
}

func (r Repo) ListActiveCurations(ctx context.Context, curationID string) ([]domain.ActiveCuration, error) {
	rows, err := r.query(ctx, r.DB, `SELECT `+activeColumns+` FROM active_curations WHERE curation_id=? ORDER BY activated_at, id`, curationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ActiveCuration
	for rows.Next() {
		a, err := scanActive(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *a)
	}
	return res, rows.Err()
}

type ItemFilters struct {
	ScopeID string
	Stage   domain.Stage
	Limit   int
}

func (r Repo) ListCurations(ctx context.Context, f ItemFilters) ([]domain.Curation, error) {
	query := `SELECT ` + curationColumns + ` FROM curations WHERE 1=1`
	var args []any
	if f.ScopeID != "" {
		query += ` AND scope_id=?`
		args = append(args, f.ScopeID)
	}
	if f.Stage != "" {
		query += ` AND stage=?`
		args = append(args, string(f.Stage))
	}
	query += ` ORDER BY updated_at DESC, id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.query(ctx, r.DB, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Curation
	for rows.Next() {
		c, err := scanCuration(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *c)
	}
	return res, rows.Err()
}

func (r Repo) ListPrecurations(ctx context.Context, f ItemFilters) ([]domain.Precuration, error) {
	query := `SELECT ` + precurationColumns + ` FROM precurations WHERE 1=1`
	var args []any
	if f.ScopeID != "" {
		query += ` AND scope_id=?`
		args = append(args, f.ScopeID)
	}
	if f.Stage != "" {
		query += ` AND stage=?`
		args = append(args, string(f.Stage))
	}
	query += ` ORDER BY updated_at DESC, id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.query(ctx, r.DB, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Precuration
	for rows.Next() {
		p, err := scanPrecuration(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *p)
	}
	return res, rows.Err()
}
