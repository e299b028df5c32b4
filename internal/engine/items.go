package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/berntpopp/gene-curator-sub000/internal/domain"
	"github.com/berntpopp/gene-curator-sub000/internal/repo"
)

// PrecurationCreateOptions are parameters for creating a precuration.
type PrecurationCreateOptions struct {
	ID                string
	ScopeID           string
	GeneID            string
	DiseaseName       string
	ModeOfInheritance string
	Rationale         string
	Stage             domain.Stage
	ActorID           string
}

func (e Engine) CreatePrecuration(ctx context.Context, opts PrecurationCreateOptions) (*domain.Precuration, error) {
	stage, err := e.checkCreate(ctx, "create precuration", opts.ScopeID, opts.GeneID, opts.Stage, opts.ActorID)
	if err != nil {
		return nil, err
	}
	now := e.timestamp()
	p := &domain.Precuration{
		ID:                opts.ID,
		ScopeID:           opts.ScopeID,
		GeneID:            opts.GeneID,
		DiseaseName:       optional(opts.DiseaseName),
		ModeOfInheritance: optional(opts.ModeOfInheritance),
		Rationale:         opts.Rationale,
		Stage:             stage,
		Status:            "draft",
		CreatedBy:         opts.ActorID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if stage == domain.StagePrecuration {
		p.Status = "in_progress"
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if err := e.Repo.InsertPrecuration(ctx, p); err != nil {
		return nil, err
	}
	e.logger().Info("precuration created", "item", p.Ref().String(), "scope", p.ScopeID, "gene", p.GeneID, "actor", opts.ActorID)
	return p, nil
}

// CurationCreateOptions are parameters for creating a curation.
type CurationCreateOptions struct {
	ID                string
	ScopeID           string
	GeneID            string
	PrecurationID     string
	DiseaseName       string
	ModeOfInheritance string
	EvidenceJSON      string
	EvidenceSummary   string
	ComputedScore     *float64
	Classification    string
	Stage             domain.Stage
	ActorID           string
}

func (e Engine) CreateCuration(ctx context.Context, opts CurationCreateOptions) (*domain.Curation, error) {
	stage, err := e.checkCreate(ctx, "create curation", opts.ScopeID, opts.GeneID, opts.Stage, opts.ActorID)
	if err != nil {
		return nil, err
	}
	if opts.PrecurationID != "" {
		pre, err := e.Repo.GetPrecuration(ctx, opts.PrecurationID)
		if errors.Is(err, repo.ErrNotFound) {
			return nil, newError("create curation", ErrNotFound, "precuration %s not found", opts.PrecurationID)
		}
		if err != nil {
			return nil, err
		}
		if pre.ScopeID != opts.ScopeID {
			return nil, newError("create curation", ErrInvalidInput, "precuration %s belongs to scope %s", pre.ID, pre.ScopeID)
		}
	}
	now := e.timestamp()
	c := &domain.Curation{
		ID:                opts.ID,
		ScopeID:           opts.ScopeID,
		GeneID:            opts.GeneID,
		PrecurationID:     optional(opts.PrecurationID),
		DiseaseName:       optional(opts.DiseaseName),
		ModeOfInheritance: optional(opts.ModeOfInheritance),
		EvidenceJSON:      optional(opts.EvidenceJSON),
		EvidenceSummary:   opts.EvidenceSummary,
		ComputedScore:     opts.ComputedScore,
		Classification:    optional(opts.Classification),
		Stage:             stage,
		Status:            "draft",
		CreatedBy:         opts.ActorID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if err := e.Repo.InsertCuration(ctx, c); err != nil {
		return nil, err
	}
	e.logger().Info("curation created", "item", c.Ref().String(), "scope", c.ScopeID, "gene", c.GeneID, "actor", opts.ActorID)
	return c, nil
}

// EvidenceUpdate carries curation content edits. Nil fields are left as is.
type EvidenceUpdate struct {
	CurationID      string
	EvidenceJSON    *string
	EvidenceSummary *string
	ComputedScore   *float64
	Classification  *string
	ActorID         string
}

// UpdateEvidence edits the evidence of a curation that has not been
// submitted for review. The curation row stays locked until the edit is
// written so a concurrent submission sees either the old or the new evidence.
func (e Engine) UpdateEvidence(ctx context.Context, upd EvidenceUpdate) (*domain.Curation, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	item, err := e.Repo.GetItemTx(ctx, tx, domain.ItemRef{ID: upd.CurationID, Type: domain.ItemCuration}, true)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, newError("update evidence", ErrNotFound, "curation %s not found", upd.CurationID)
	}
	if err != nil {
		return nil, err
	}
	c, ok := item.(*domain.Curation)
	if !ok {
		return nil, fmt.Errorf("update evidence: unexpected work item %T", item)
	}
	if c.Stage.Index() > domain.StageCuration.Index() {
		return nil, newError("update evidence", ErrInvalidTransition, "curation %s is locked in %s", c.ID, c.Stage)
	}
	if err := e.requireActiveUser(ctx, "update evidence", upd.ActorID); err != nil {
		return nil, err
	}
	if upd.EvidenceJSON != nil {
		c.EvidenceJSON = optional(*upd.EvidenceJSON)
	}
	if upd.EvidenceSummary != nil {
		c.EvidenceSummary = *upd.EvidenceSummary
	}
	if upd.ComputedScore != nil {
		c.ComputedScore = upd.ComputedScore
	}
	if upd.Classification != nil {
		c.Classification = optional(*upd.Classification)
	}
	c.UpdatedAt = e.timestamp()
	err = e.Repo.UpdateCurationContentTx(ctx, tx, c)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, newError("update evidence", ErrInvalidTransition, "curation %s was submitted for review", c.ID)
	}
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return c, nil
}

func (e Engine) checkCreate(ctx context.Context, op, scopeID, geneID string, stage domain.Stage, actorID string) (domain.Stage, error) {
	if strings.TrimSpace(scopeID) == "" {
		return "", newError(op, ErrInvalidInput, "scope is required")
	}
	if strings.TrimSpace(geneID) == "" {
		return "", newError(op, ErrInvalidInput, "gene is required")
	}
	if stage == "" {
		stage = domain.StageEntry
	}
	if stage != domain.StageEntry && stage != domain.StagePrecuration {
		return "", newError(op, ErrInvalidInput, "new items start in entry or precuration, not %s", stage)
	}
	if err := e.requireActiveUser(ctx, op, actorID); err != nil {
		return "", err
	}
	return stage, nil
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
