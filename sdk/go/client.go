// Package curatorsdk is a small HTTP client for the curation workflow API.
package curatorsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal curation API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	// ActorID is sent as X-Actor-Id when no token is set. Servers accept it
	// only when started with --allow-actor-header.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// Curation represents the API curation model (partial).
type Curation struct {
	ID              string   `json:"id"`
	ScopeID         string   `json:"scope_id"`
	GeneID          string   `json:"gene_id"`
	EvidenceSummary string   `json:"evidence_summary,omitempty"`
	ComputedScore   *float64 `json:"computed_score,omitempty"`
	Classification  *string  `json:"classification,omitempty"`
	Stage           string   `json:"stage"`
	Status          string   `json:"status"`
	CreatedBy       string   `json:"created_by"`
}

// NewCuration is the create payload.
type NewCuration struct {
	ScopeID         string   `json:"scope_id"`
	GeneID          string   `json:"gene_id"`
	PrecurationID   *string  `json:"precuration_id,omitempty"`
	EvidenceSummary string   `json:"evidence_summary,omitempty"`
	ComputedScore   *float64 `json:"computed_score,omitempty"`
	Classification  *string  `json:"classification,omitempty"`
	Stage           string   `json:"stage,omitempty"`
}

// Transition is one audit record.
type Transition struct {
	ID           int64          `json:"id"`
	WorkItemID   string         `json:"work_item_id"`
	WorkItemType string         `json:"work_item_type"`
	FromStage    string         `json:"from_stage"`
	ToStage      string         `json:"to_stage"`
	ExecutedBy   string         `json:"executed_by"`
	ExecutedAt   string         `json:"executed_at"`
	Notes        string         `json:"notes,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// ValidationResult is the verdict of a transition check.
type ValidationResult struct {
	IsValid      bool     `json:"is_valid"`
	Errors       []string `json:"errors"`
	Warnings     []string `json:"warnings"`
	Requirements []string `json:"requirements"`
	ErrorKinds   []string `json:"error_kinds"`
}

// Review is a peer review assignment.
type Review struct {
	ID             string  `json:"id"`
	WorkItemID     string  `json:"work_item_id"`
	WorkItemType   string  `json:"work_item_type"`
	ReviewerID     string  `json:"reviewer_id"`
	AssignedBy     string  `json:"assigned_by"`
	Status         string  `json:"status"`
	Recommendation *string `json:"recommendation,omitempty"`
	Comments       string  `json:"comments,omitempty"`
}

// ReviewOutcome is returned by SubmitReview.
type ReviewOutcome struct {
	Review           Review      `json:"review"`
	Activated        bool        `json:"activated"`
	Transition       *Transition `json:"transition,omitempty"`
	ActivationErrors []string    `json:"activation_errors,omitempty"`
}

// State is the inspector view of an item.
type State struct {
	CurrentStage   string       `json:"current_stage"`
	NextStages     []string     `json:"next_stages"`
	History        []Transition `json:"history"`
	PendingReviews []Review     `json:"pending_reviews"`
	Progress       float64      `json:"progress"`
}

// Statistics is the aggregate workflow view.
type Statistics struct {
	ScopeID           string             `json:"scope_id,omitempty"`
	WindowDays        int                `json:"window_days"`
	StageCounts       map[string]int     `json:"stage_counts"`
	TotalReviews      int                `json:"total_reviews"`
	CompletedReviews  int                `json:"completed_reviews"`
	PendingReviews    int                `json:"pending_reviews"`
	ApprovalRate      float64            `json:"approval_rate"`
	AverageDwellHours map[string]float64 `json:"average_dwell_hours"`
	BottleneckStage   string             `json:"bottleneck_stage,omitempty"`
}

// APIError wraps non-2xx responses. Code and Message come from the error
// envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateCuration creates a curation.
func (c *Client) CreateCuration(ctx context.Context, in NewCuration) (Curation, error) {
	var resp Curation
	err := c.do(ctx, http.MethodPost, "curations", in, &resp)
	return resp, err
}

// Validate checks a transition without executing it.
func (c *Client) Validate(ctx context.Context, itemType, itemID, target string) (ValidationResult, error) {
	var resp ValidationResult
	err := c.do(ctx, http.MethodPost, itemPath(itemType, itemID, "validate"), map[string]any{"target": target}, &resp)
	return resp, err
}

// Transition moves an item to target.
func (c *Client) Transition(ctx context.Context, itemType, itemID, target, notes string) (Transition, error) {
	body := map[string]any{"target": target}
	if notes != "" {
		body["notes"] = notes
	}
	var resp Transition
	err := c.do(ctx, http.MethodPost, itemPath(itemType, itemID, "transitions"), body, &resp)
	return resp, err
}

// State returns the inspector view of an item.
func (c *Client) State(ctx context.Context, itemType, itemID string) (State, error) {
	var resp State
	err := c.do(ctx, http.MethodGet, itemPath(itemType, itemID, "state"), nil, &resp)
	return resp, err
}

// AssignReviewer assigns reviewerID to an item in review.
func (c *Client) AssignReviewer(ctx context.Context, itemType, itemID, reviewerID string) (Review, error) {
	var resp Review
	err := c.do(ctx, http.MethodPost, itemPath(itemType, itemID, "reviews"), map[string]any{"reviewer_id": reviewerID}, &resp)
	return resp, err
}

// SubmitReview records the caller's decision on reviewID.
func (c *Client) SubmitReview(ctx context.Context, reviewID, decision, comments string) (ReviewOutcome, error) {
	body := map[string]any{"decision": decision}
	if comments != "" {
		body["comments"] = comments
	}
	var resp ReviewOutcome
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("reviews/%s/submit", url.PathEscape(reviewID)), body, &resp)
	return resp, err
}

// Statistics returns workflow statistics for a scope; empty scopeID asks for all scopes.
func (c *Client) Statistics(ctx context.Context, scopeID string, windowDays int) (Statistics, error) {
	q := url.Values{}
	if scopeID != "" {
		q.Set("scope_id", scopeID)
	}
	if windowDays > 0 {
		q.Set("window_days", fmt.Sprint(windowDays))
	}
	endpoint := "statistics"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp Statistics
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func itemPath(itemType, itemID, action string) string {
	return fmt.Sprintf("items/%s/%s/%s", url.PathEscape(itemType), url.PathEscape(itemID), action)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
