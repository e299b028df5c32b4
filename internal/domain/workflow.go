package domain

type ReviewStatus string

const (
	ReviewPending ReviewStatus = "pending"
	// ReviewApproved means the review is completed; the verdict lives in Recommendation.
	ReviewApproved ReviewStatus = "approved"
)

type Recommendation string

const (
	RecommendApprove        Recommendation = "approve"
	RecommendRequestChanges Recommendation = "request_changes"
	RecommendReject         Recommendation = "reject"
)

func (r Recommendation) Valid() bool {
	switch r {
	case RecommendApprove, RecommendRequestChanges, RecommendReject:
		return true
	}
	return false
}

type Review struct {
	ID               string          `json:"id"`
	WorkItemID       string          `json:"work_item_id"`
	WorkItemType     ItemType        `json:"work_item_type"`
	ScopeID          string          `json:"scope_id"`
	ReviewerID       string          `json:"reviewer_id"`
	AssignedBy       string          `json:"assigned_by"`
	Status           ReviewStatus    `json:"status" enum:"pending,approved"`
	Recommendation   *Recommendation `json:"recommendation,omitempty"`
	Comments         string          `json:"comments,omitempty"`
	SuggestedChanges *string         `json:"suggested_changes,omitempty"`
	AssignedAt       string          `json:"assigned_at" format:"date-time"`
	ReviewedAt       *string         `json:"reviewed_at,omitempty" format:"date-time"`
	// SupersededAt is set once the item leaves the review round the review belonged to.
	SupersededAt *string `json:"superseded_at,omitempty" format:"date-time"`
}

func (r Review) Completed() bool { return r.Status == ReviewApproved }

func (r Review) Superseded() bool { return r.SupersededAt != nil }

// WorkflowTransition is one append-only audit record.
type WorkflowTransition struct {
	ID           int64          `json:"id"`
	WorkItemID   string         `json:"work_item_id"`
	WorkItemType ItemType       `json:"work_item_type"`
	ScopeID      string         `json:"scope_id"`
	FromStage    Stage          `json:"from_stage"`
	ToStage      Stage          `json:"to_stage"`
	ExecutedBy   string         `json:"executed_by"`
	ExecutedAt   string         `json:"executed_at" format:"date-time"`
	Notes        string         `json:"notes,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

type ErrorKind string

const (
	KindNotFound             ErrorKind = "not_found"
	KindInvalidTransition    ErrorKind = "invalid_transition"
	KindUnauthorized         ErrorKind = "unauthorized"
	KindFourEyesViolation    ErrorKind = "four_eyes_violation"
	KindStructuralValidation ErrorKind = "structural_validation_failed"
)

// ValidationResult is the verdict of a transition check. ErrorKinds is
// parallel to Errors.
type ValidationResult struct {
	IsValid      bool        `json:"is_valid"`
	Errors       []string    `json:"errors"`
	Warnings     []string    `json:"warnings"`
	Requirements []string    `json:"requirements"`
	ErrorKinds   []ErrorKind `json:"error_kinds"`
}

func NewValidationResult() ValidationResult {
	return ValidationResult{
		IsValid:      true,
		Errors:       []string{},
		Warnings:     []string{},
		Requirements: []string{},
		ErrorKinds:   []ErrorKind{},
	}
}

func (r *ValidationResult) AddError(kind ErrorKind, msg string) {
	r.Errors = append(r.Errors, msg)
	r.ErrorKinds = append(r.ErrorKinds, kind)
	r.IsValid = false
}

func (r *ValidationResult) AddWarning(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

func (r ValidationResult) Has(kind ErrorKind) bool {
	for _, k := range r.ErrorKinds {
		if k == kind {
			return true
		}
	}
	return false
}

type ReviewerCandidate struct {
	UserID         string `json:"user_id"`
	Name           string `json:"name"`
	Email          string `json:"email,omitempty"`
	Role           Role   `json:"role,omitempty"`
	PendingReviews int    `json:"pending_reviews"`
}

type ReviewOutcome struct {
	Review           Review              `json:"review"`
	Activated        bool                `json:"activated"`
	Transition       *WorkflowTransition `json:"transition,omitempty"`
	ActivationErrors []string            `json:"activation_errors,omitempty"`
}

type WorkflowStateInfo struct {
	Item           ItemRef              `json:"item"`
	CurrentStage   Stage                `json:"current_stage"`
	NextStages     []Stage              `json:"next_stages"`
	History        []WorkflowTransition `json:"history"`
	PendingReviews []Review             `json:"pending_reviews"`
	Progress       float64              `json:"progress"`
}

type WorkflowStatistics struct {
	ScopeID                 string            `json:"scope_id,omitempty"`
	WindowDays              int               `json:"window_days"`
	StageCounts             map[Stage]int     `json:"stage_counts"`
	TotalReviews            int               `json:"total_reviews"`
	CompletedReviews        int               `json:"completed_reviews"`
	PendingReviews          int               `json:"pending_reviews"`
	ApprovedRecommendations int               `json:"approved_recommendations"`
	ApprovalRate            float64           `json:"approval_rate"`
	AverageDwellHours       map[Stage]float64 `json:"average_dwell_hours"`
	BottleneckStage         Stage             `json:"bottleneck_stage,omitempty"`
	GeneratedAt             string            `json:"generated_at" format:"date-time"`
}
