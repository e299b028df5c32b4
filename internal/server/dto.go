package server

import (
	"github.com/berntpopp/gene-curator-sub000/internal/domain"
)

// Request payloads

type CreatePrecurationRequest struct {
	ID                string `json:"id,omitempty"`
	ScopeID           string `json:"scope_id"`
	GeneID            string `json:"gene_id"`
	DiseaseName       string `json:"disease_name,omitempty"`
	ModeOfInheritance string `json:"mode_of_inheritance,omitempty"`
	Rationale         string `json:"rationale,omitempty"`
	Stage             string `json:"stage,omitempty" enum:"entry,precuration"`
}

type CreateCurationRequest struct {
	ID                string   `json:"id,omitempty"`
	ScopeID           string   `json:"scope_id"`
	GeneID            string   `json:"gene_id"`
	PrecurationID     string   `json:"precuration_id,omitempty"`
	DiseaseName       string   `json:"disease_name,omitempty"`
	ModeOfInheritance string   `json:"mode_of_inheritance,omitempty"`
	EvidenceJSON      string   `json:"evidence_json,omitempty"`
	EvidenceSummary   string   `json:"evidence_summary,omitempty"`
	ComputedScore     *float64 `json:"computed_score,omitempty"`
	Classification    string   `json:"classification,omitempty"`
	Stage             string   `json:"stage,omitempty" enum:"entry,precuration"`
}

type EvidenceUpdateRequest struct {
	EvidenceJSON    *string  `json:"evidence_json,omitempty"`
	EvidenceSummary *string  `json:"evidence_summary,omitempty"`
	ComputedScore   *float64 `json:"computed_score,omitempty"`
	Classification  *string  `json:"classification,omitempty"`
}

type ValidateRequest struct {
	Target string `json:"target" enum:"entry,precuration,curation,review,active"`
}

type TransitionRequest struct {
	Target   string         `json:"target" enum:"entry,precuration,curation,review,active"`
	Notes    string         `json:"notes,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type AssignReviewerRequest struct {
	ReviewerID string `json:"reviewer_id"`
}

type SubmitReviewRequest struct {
	Decision         string  `json:"decision" enum:"approve,request_changes,reject"`
	Comments         string  `json:"comments,omitempty"`
	SuggestedChanges *string `json:"suggested_changes,omitempty"`
}

type UpsertUserRequest struct {
	Name   string `json:"name"`
	Email  string `json:"email,omitempty"`
	Active *bool  `json:"active,omitempty"`
	Admin  bool   `json:"admin,omitempty"`
}

type GrantRoleRequest struct {
	Role string `json:"role" enum:"viewer,curator,reviewer,scope_admin,admin"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
}

// Responses

type DevLoginResponse struct {
	Token string `json:"token"`
}

type WhoAmIResponse struct {
	ActorID string         `json:"actor_id"`
	Source  string         `json:"source"`
	User    *domain.User   `json:"user,omitempty"`
	Admin   bool           `json:"admin"`
	Scopes  []ScopeRoleDTO `json:"scopes"`
}

type ScopeRoleDTO struct {
	ScopeID string      `json:"scope_id"`
	Role    domain.Role `json:"role"`
}

// ItemResponse carries exactly one of the item variants.
type ItemResponse struct {
	Type        domain.ItemType        `json:"type" enum:"precuration,curation,active"`
	Stage       domain.Stage           `json:"stage"`
	Precuration *domain.Precuration    `json:"precuration,omitempty"`
	Curation    *domain.Curation       `json:"curation,omitempty"`
	Active      *domain.ActiveCuration `json:"active,omitempty"`
}

type ActiveCurationsResponse struct {
	Items []domain.ActiveCuration `json:"items"`
}

type ReviewersResponse struct {
	Items []domain.ReviewerCandidate `json:"items"`
}

type ReviewsResponse struct {
	Items []domain.Review `json:"items"`
}

type UsersResponse struct {
	Items []domain.User `json:"items"`
}

type MembersResponse struct {
	Items []domain.ScopeMember `json:"items"`
}

func itemResponse(item domain.WorkItem) ItemResponse {
	resp := ItemResponse{Type: item.Ref().Type, Stage: item.CurrentStage()}
	switch it := item.(type) {
	case *domain.Precuration:
		resp.Precuration = it
	case *domain.Curation:
		resp.Curation = it
	case *domain.ActiveCuration:
		resp.Active = it
	}
	return resp
}

func nonNilSlice[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
