package domain

// WorkItem is a record moving through the pipeline. The set of implementations
// is closed: *Precuration, *Curation and *ActiveCuration.
type WorkItem interface {
	Ref() ItemRef
	Author() string
	Scope() string
	CurrentStage() Stage
	EvidenceSummaryPresent() bool
	ComputedScorePresent() bool
	workItem()
}

type Precuration struct {
	ID                string  `json:"id"`
	ScopeID           string  `json:"scope_id"`
	GeneID            string  `json:"gene_id"`
	DiseaseName       *string `json:"disease_name,omitempty"`
	ModeOfInheritance *string `json:"mode_of_inheritance,omitempty"`
	Rationale         string  `json:"rationale,omitempty"`
	Stage             Stage   `json:"stage"`
	Status            string  `json:"status" enum:"draft,in_progress,completed"`
	CreatedBy         string  `json:"created_by"`
	CreatedAt         string  `json:"created_at" format:"date-time"`
	UpdatedAt         string  `json:"updated_at" format:"date-time"`
}

func (p *Precuration) Ref() ItemRef                 { return ItemRef{ID: p.ID, Type: ItemPrecuration} }
func (p *Precuration) Author() string               { return p.CreatedBy }
func (p *Precuration) Scope() string                { return p.ScopeID }
func (p *Precuration) CurrentStage() Stage          { return p.Stage }
func (p *Precuration) EvidenceSummaryPresent() bool { return p.Rationale != "" }
func (p *Precuration) ComputedScorePresent() bool   { return false }
func (p *Precuration) workItem()                    {}

type Curation struct {
	ID                string   `json:"id"`
	ScopeID           string   `json:"scope_id"`
	GeneID            string   `json:"gene_id"`
	PrecurationID     *string  `json:"precuration_id,omitempty"`
	DiseaseName       *string  `json:"disease_name,omitempty"`
	ModeOfInheritance *string  `json:"mode_of_inheritance,omitempty"`
	EvidenceJSON      *string  `json:"evidence_json,omitempty"`
	EvidenceSummary   string   `json:"evidence_summary,omitempty"`
	ComputedScore     *float64 `json:"computed_score,omitempty"`
	Classification    *string  `json:"classification,omitempty"`
	Stage             Stage    `json:"stage"`
	Status            string   `json:"status" enum:"draft,in_progress,submitted,active"`
	SubmittedBy       *string  `json:"submitted_by,omitempty"`
	SubmittedAt       *string  `json:"submitted_at,omitempty" format:"date-time"`
	ApprovedBy        *string  `json:"approved_by,omitempty"`
	ApprovedAt        *string  `json:"approved_at,omitempty" format:"date-time"`
	CreatedBy         string   `json:"created_by"`
	CreatedAt         string   `json:"created_at" format:"date-time"`
	UpdatedAt         string   `json:"updated_at" format:"date-time"`
}

func (c *Curation) Ref() ItemRef                 { return ItemRef{ID: c.ID, Type: ItemCuration} }
func (c *Curation) Author() string               { return c.CreatedBy }
func (c *Curation) Scope() string                { return c.ScopeID }
func (c *Curation) CurrentStage() Stage          { return c.Stage }
func (c *Curation) EvidenceSummaryPresent() bool { return c.EvidenceSummary != "" }
func (c *Curation) ComputedScorePresent() bool   { return c.ComputedScore != nil }
func (c *Curation) workItem()                    {}

// ActiveCuration is the record currently in force for a curation. It is
// archived, never deleted, when superseded.
type ActiveCuration struct {
	ID             string   `json:"id"`
	CurationID     string   `json:"curation_id"`
	ScopeID        string   `json:"scope_id"`
	GeneID         string   `json:"gene_id"`
	Classification *string  `json:"classification,omitempty"`
	Summary        *string  `json:"summary,omitempty"`
	ComputedScore  *float64 `json:"computed_score,omitempty"`
	CreatedBy      string   `json:"created_by"`
	ActivatedBy    string   `json:"activated_by"`
	ActivatedAt    string   `json:"activated_at" format:"date-time"`
	ArchivedBy     *string  `json:"archived_by,omitempty"`
	ArchivedAt     *string  `json:"archived_at,omitempty" format:"date-time"`
}

func (a *ActiveCuration) Ref() ItemRef        { return ItemRef{ID: a.ID, Type: ItemActive} }
func (a *ActiveCuration) Author() string      { return a.CreatedBy }
func (a *ActiveCuration) Scope() string       { return a.ScopeID }
func (a *ActiveCuration) CurrentStage() Stage { return StageActive }
func (a *ActiveCuration) EvidenceSummaryPresent() bool {
	return a.Summary != nil && *a.Summary != ""
}
func (a *ActiveCuration) ComputedScorePresent() bool { return a.ComputedScore != nil }
func (a *ActiveCuration) Archived() bool             { return a.ArchivedAt != nil }
func (a *ActiveCuration) workItem()                  {}
