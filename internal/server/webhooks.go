package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/berntpopp/gene-curator-sub000/internal/config"
	"github.com/berntpopp/gene-curator-sub000/internal/domain"
	"github.com/berntpopp/gene-curator-sub000/internal/logging"
	"github.com/berntpopp/gene-curator-sub000/internal/repo"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

// WebhookDispatcher posts new audit records to configured hooks. Each hook
// starts at the latest record present when it is first polled.
type WebhookDispatcher struct {
	Repo     repo.Repo
	Hooks    []config.WebhookConfig
	Interval time.Duration
	Logger   *log.Logger

	client  *http.Client
	mu      sync.Mutex
	cursors map[int]int64
}

func NewWebhookDispatcher(r repo.Repo, hooks []config.WebhookConfig, logger *log.Logger) *WebhookDispatcher {
	if logger == nil {
		logger = logging.Discard()
	}
	return &WebhookDispatcher{
		Repo:     r,
		Hooks:    hooks,
		Interval: defaultWebhookInterval,
		Logger:   logger,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		cursors:  make(map[int]int64),
	}
}

// Run polls until ctx is done.
func (d *WebhookDispatcher) Run(ctx context.Context) {
	if len(d.Hooks) == 0 {
		return
	}
	interval := d.Interval
	if interval <= 0 {
		interval = defaultWebhookInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		d.DispatchAll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *WebhookDispatcher) DispatchAll(ctx context.Context) {
	for i, hook := range d.Hooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		d.dispatchWebhook(ctx, i, hook)
	}
}

func (d *WebhookDispatcher) dispatchWebhook(ctx context.Context, idx int, hook config.WebhookConfig) {
	cursor := d.cursorFor(ctx, idx)
	records, err := d.Repo.TransitionsAfter(ctx, cursor, defaultWebhookBatch)
	if err != nil {
		d.Logger.Error("webhook: fetch transitions failed", "err", err)
		return
	}
	filter := newStageFilter(hook.Stages)
	for _, rec := range records {
		if !filter.match(rec.ToStage) {
			d.setCursor(idx, rec.ID)
			continue
		}
		if err := d.postTransition(ctx, hook, rec); err != nil {
			// Retried from the same record on the next tick.
			d.Logger.Warn("webhook: delivery failed", "url", hook.URL, "transition", rec.ID, "err", err)
			return
		}
		d.setCursor(idx, rec.ID)
	}
}

func (d *WebhookDispatcher) cursorFor(ctx context.Context, idx int) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cursors == nil {
		d.cursors = make(map[int]int64)
	}
	if cur, ok := d.cursors[idx]; ok {
		return cur
	}
	cur, err := d.Repo.LatestTransitionID(ctx)
	if err != nil {
		d.Logger.Error("webhook: init cursor failed", "err", err)
		cur = 0
	}
	d.cursors[idx] = cur
	return cur
}

func (d *WebhookDispatcher) setCursor(idx int, value int64) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

type webhookPayload struct {
	Event      string                    `json:"event"`
	Transition domain.WorkflowTransition `json:"transition"`
}

func eventName(rec domain.WorkflowTransition) string {
	return "transition." + string(rec.ToStage)
}

func (d *WebhookDispatcher) postTransition(ctx context.Context, hook config.WebhookConfig, rec domain.WorkflowTransition) error {
	data, err := json.Marshal(webhookPayload{Event: eventName(rec), Transition: rec})
	if err != nil {
		return err
	}
	client := d.client
	if client == nil {
		client = &http.Client{Timeout: defaultWebhookTimeout}
	}
	if hook.TimeoutSeconds > 0 {
		if timeout := time.Duration(hook.TimeoutSeconds) * time.Second; timeout != client.Timeout {
			client = &http.Client{Timeout: timeout}
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Curator-Event", eventName(rec))
	req.Header.Set("X-Curator-Delivery", fmt.Sprintf("%d", rec.ID))
	req.Header.Set("X-Curator-Scope", rec.ScopeID)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Curator-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

type stageFilter struct {
	all bool
	set map[domain.Stage]struct{}
}

func newStageFilter(stages []string) stageFilter {
	set := make(map[domain.Stage]struct{}, len(stages))
	for _, s := range stages {
		key := strings.TrimSpace(s)
		if key == "" {
			continue
		}
		set[domain.Stage(key)] = struct{}{}
	}
	if len(set) == 0 {
		return stageFilter{all: true}
	}
	return stageFilter{set: set}
}

func (f stageFilter) match(s domain.Stage) bool {
	if f.all {
		return true
	}
	_, ok := f.set[s]
	return ok
}
