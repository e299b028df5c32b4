package engine

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/berntpopp/gene-curator-sub000/internal/domain"
)

const defaultWindowDays = 30

type StatisticsQuery struct {
	ScopeID    string
	WindowDays int
}

// GetStatistics aggregates stage counts, review throughput and stage dwell
// times over the trailing window.
func (e Engine) GetStatistics(ctx context.Context, q StatisticsQuery) (stats domain.WorkflowStatistics, err error) {
	if q.WindowDays <= 0 {
		q.WindowDays = defaultWindowDays
	}
	ctx, span := e.tracer().Start(ctx, "workflow.statistics", trace.WithAttributes(
		attribute.String("scope", q.ScopeID),
		attribute.Int("window_days", q.WindowDays),
	))
	defer func() { endSpan(span, err) }()

	now := e.now().UTC()
	since := now.AddDate(0, 0, -q.WindowDays).Format(time.RFC3339)

	counts, err := e.Repo.StageCounts(ctx, q.ScopeID, since)
	if err != nil {
		return stats, fmt.Errorf("stage counts: %w", err)
	}
	reviews, err := e.Repo.CountReviews(ctx, q.ScopeID, since)
	if err != nil {
		return stats, fmt.Errorf("review counts: %w", err)
	}
	transitions, err := e.Repo.TransitionsSince(ctx, q.ScopeID, since)
	if err != nil {
		return stats, fmt.Errorf("transitions: %w", err)
	}

	stats = domain.WorkflowStatistics{
		ScopeID:                 q.ScopeID,
		WindowDays:              q.WindowDays,
		StageCounts:             counts,
		TotalReviews:            reviews.Total,
		CompletedReviews:        reviews.Completed,
		PendingReviews:          reviews.Pending,
		ApprovedRecommendations: reviews.Approved,
		AverageDwellHours:       averageDwellHours(transitions),
		BottleneckStage:         bottleneck(counts),
		GeneratedAt:             now.Format(time.RFC3339),
	}
	if reviews.Completed > 0 {
		stats.ApprovalRate = float64(reviews.Approved) / float64(reviews.Completed)
	}
	return stats, nil
}

// averageDwellHours measures, per stage, the time between entering it and
// the item's next transition. transitions must be grouped by item and
// ordered by time within each item.
func averageDwellHours(transitions []domain.WorkflowTransition) map[domain.Stage]float64 {
	sum := map[domain.Stage]float64{}
	n := map[domain.Stage]int{}
	for i := 1; i < len(transitions); i++ {
		prev, cur := transitions[i-1], transitions[i]
		if prev.WorkItemID != cur.WorkItemID || prev.WorkItemType != cur.WorkItemType {
			continue
		}
		entered, err1 := time.Parse(time.RFC3339, prev.ExecutedAt)
		left, err2 := time.Parse(time.RFC3339, cur.ExecutedAt)
		if err1 != nil || err2 != nil || left.Before(entered) {
			continue
		}
		sum[prev.ToStage] += left.Sub(entered).Hours()
		n[prev.ToStage]++
	}
	out := make(map[domain.Stage]float64, len(domain.Stages))
	for _, s := range domain.Stages {
		if n[s] > 0 {
			out[s] = sum[s] / float64(n[s])
		} else {
			out[s] = 0
		}
	}
	return out
}

// bottleneck returns the most populated non-terminal stage, preferring the
// earlier stage on ties, or "" when all are empty.
func bottleneck(counts map[domain.Stage]int) domain.Stage {
	var best domain.Stage
	top := 0
	for _, s := range domain.Stages[:len(domain.Stages)-1] {
		if counts[s] > top {
			best, top = s, counts[s]
		}
	}
	return best
}
