// Package metrics provides Prometheus metrics for workflow operations.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// WorkflowMetrics contains the Prometheus metrics of the workflow engine.
// A nil *WorkflowMetrics is valid and records nothing.
type WorkflowMetrics struct {
	TransitionsTotal      *prometheus.CounterVec   // Executed or rejected transitions by from, to, outcome
	TransitionDuration    *prometheus.HistogramVec // Execute latency by target stage
	ValidationErrorsTotal *prometheus.CounterVec   // Validation errors by kind
	ReviewsAssignedTotal  prometheus.Counter
	ReviewDecisionsTotal  *prometheus.CounterVec // Submitted reviews by decision
	AutoActivationsTotal  *prometheus.CounterVec // Auto-activation attempts by outcome

	registry *prometheus.Registry
}

// NewWorkflowMetrics creates the metrics and registers them on registry.
func NewWorkflowMetrics(registry *prometheus.Registry) (*WorkflowMetrics, error) {
	m := &WorkflowMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register workflow metrics: %w", err)
	}
	return m, nil
}

func (m *WorkflowMetrics) initMetrics() {
	m.TransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "curation_workflow_transitions_total",
			Help: "Total number of workflow transition attempts by from stage, to stage and outcome",
		},
		[]string{"from", "to", "outcome"}, // outcome: executed, rejected, error
	)
	m.TransitionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "curation_workflow_transition_duration_seconds",
			Help:    "Time taken to execute a workflow transition by target stage",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		},
		[]string{"to"},
	)
	m.ValidationErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "curation_workflow_validation_errors_total",
			Help: "Total number of transition validation errors by kind",
		},
		[]string{"kind"},
	)
	m.ReviewsAssignedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "curation_reviews_assigned_total",
			Help: "Total number of peer reviews assigned",
		},
	)
	m.ReviewDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "curation_review_decisions_total",
			Help: "Total number of submitted peer reviews by decision",
		},
		[]string{"decision"},
	)
	m.AutoActivationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "curation_auto_activations_total",
			Help: "Total number of automatic activations after peer review by outcome",
		},
		[]string{"outcome"}, // outcome: activated, blocked
	)
}

// Describe implements prometheus.Collector.
func (m *WorkflowMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.TransitionsTotal.Describe(ch)
	m.TransitionDuration.Describe(ch)
	m.ValidationErrorsTotal.Describe(ch)
	m.ReviewsAssignedTotal.Describe(ch)
	m.ReviewDecisionsTotal.Describe(ch)
	m.AutoActivationsTotal.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *WorkflowMetrics) Collect(ch chan<- prometheus.Metric) {
	m.TransitionsTotal.Collect(ch)
	m.TransitionDuration.Collect(ch)
	m.ValidationErrorsTotal.Collect(ch)
	m.ReviewsAssignedTotal.Collect(ch)
	m.ReviewDecisionsTotal.Collect(ch)
	m.AutoActivationsTotal.Collect(ch)
}

func (m *WorkflowMetrics) RecordTransition(from, to, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(from, to, outcome).Inc()
	if outcome == "executed" {
		m.TransitionDuration.WithLabelValues(to).Observe(d.Seconds())
	}
}

func (m *WorkflowMetrics) RecordValidationErrors(kinds []string) {
	if m == nil {
		return
	}
	for _, k := range kinds {
		m.ValidationErrorsTotal.WithLabelValues(k).Inc()
	}
}

func (m *WorkflowMetrics) RecordReviewAssigned() {
	if m == nil {
		return
	}
	m.ReviewsAssignedTotal.Inc()
}

func (m *WorkflowMetrics) RecordReviewDecision(decision string) {
	if m == nil {
		return
	}
	m.ReviewDecisionsTotal.WithLabelValues(decision).Inc()
}

func (m *WorkflowMetrics) RecordAutoActivation(outcome string) {
	if m == nil {
		return
	}
	m.AutoActivationsTotal.WithLabelValues(outcome).Inc()
}

// Registry returns the registry the metrics were registered on.
func (m *WorkflowMetrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}
