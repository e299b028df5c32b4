package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/berntpopp/gene-curator-sub000/internal/app"
	"github.com/berntpopp/gene-curator-sub000/internal/config"
	"github.com/berntpopp/gene-curator-sub000/internal/domain"
	"github.com/berntpopp/gene-curator-sub000/internal/engine"
)

type delivery struct {
	header  http.Header
	payload webhookPayload
}

func hookReceiver(t *testing.T) (*httptest.Server, chan delivery) {
	t.Helper()
	got := make(chan delivery, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		var p webhookPayload
		if err := json.Unmarshal(data, &p); err != nil {
			t.Errorf("decode webhook: %v", err)
		}
		got <- delivery{header: r.Header.Clone(), payload: p}
		w.WriteHeader(http.StatusNoContent)
	}))
	return srv, got
}

func moveCuration(t *testing.T, rt *app.Runtime, id string, target domain.Stage, actor string) {
	t.Helper()
	_, err := rt.Engine.Execute(context.Background(), engine.ExecuteRequest{ItemID: id, ItemType: domain.ItemCuration, Target: target, ActorID: actor})
	if err != nil {
		t.Fatalf("move %s to %s: %v", id, target, err)
	}
}

func TestWebhookDeliversMatchingStages(t *testing.T) {
	rt := openRuntime(t)
	defer rt.Close()
	hook, got := hookReceiver(t)
	defer hook.Close()

	ctx := context.Background()
	// A record written before the first poll is never delivered.
	c, err := rt.Engine.CreateCuration(ctx, engine.CurationCreateOptions{ScopeID: testScope, GeneID: "HGNC:5", ActorID: "alice"})
	if err != nil {
		t.Fatalf("create curation: %v", err)
	}
	moveCuration(t, rt, c.ID, domain.StagePrecuration, "alice")

	d := NewWebhookDispatcher(rt.Engine.Repo, []config.WebhookConfig{{URL: hook.URL, Stages: []string{"curation"}, Secret: "s3"}}, nil)
	d.DispatchAll(ctx)
	select {
	case dl := <-got:
		t.Fatalf("unexpected delivery %+v", dl.payload)
	default:
	}

	moveCuration(t, rt, c.ID, domain.StageEntry, "alice")
	moveCuration(t, rt, c.ID, domain.StagePrecuration, "alice")
	moveCuration(t, rt, c.ID, domain.StageCuration, "alice")
	d.DispatchAll(ctx)

	select {
	case dl := <-got:
		if dl.payload.Event != "transition.curation" || dl.payload.Transition.ToStage != domain.StageCuration {
			t.Fatalf("unexpected payload %+v", dl.payload)
		}
		if dl.header.Get("X-Curator-Event") != "transition.curation" || dl.header.Get("X-Curator-Secret") != "s3" {
			t.Fatalf("unexpected headers %v", dl.header)
		}
		if dl.header.Get("X-Curator-Scope") != testScope {
			t.Fatalf("expected scope header, got %q", dl.header.Get("X-Curator-Scope"))
		}
	default:
		t.Fatalf("expected a delivery")
	}
	select {
	case dl := <-got:
		t.Fatalf("filtered stage delivered: %+v", dl.payload)
	default:
	}

	// Cursor advanced past everything; a second poll is a no-op.
	d.DispatchAll(ctx)
	if len(got) != 0 {
		t.Fatalf("expected no redelivery")
	}
}

func TestWebhookRetriesFailedDelivery(t *testing.T) {
	rt := openRuntime(t)
	defer rt.Close()
	attempts := 0
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer hook.Close()

	ctx := context.Background()
	d := NewWebhookDispatcher(rt.Engine.Repo, []config.WebhookConfig{{URL: hook.URL}}, nil)
	d.DispatchAll(ctx)
	c, err := rt.Engine.CreateCuration(ctx, engine.CurationCreateOptions{ScopeID: testScope, GeneID: "HGNC:6", ActorID: "alice"})
	if err != nil {
		t.Fatalf("create curation: %v", err)
	}
	moveCuration(t, rt, c.ID, domain.StagePrecuration, "alice")

	d.DispatchAll(ctx)
	d.DispatchAll(ctx)
	d.DispatchAll(ctx)
	if attempts != 2 {
		t.Fatalf("expected one failure and one success, got %d attempts", attempts)
	}
}

func TestWebhookDispatcherStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t,
		goleak.IgnoreCurrent(),
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		// The permission cache janitor lives until the cache is collected.
		goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"),
	)

	rt := openRuntime(t)
	hook, got := hookReceiver(t)

	d := NewWebhookDispatcher(rt.Engine.Repo, []config.WebhookConfig{{URL: hook.URL}}, nil)
	d.Interval = 10 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	d.DispatchAll(ctx)

	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	c, err := rt.Engine.CreateCuration(ctx, engine.CurationCreateOptions{ScopeID: testScope, GeneID: "HGNC:7", ActorID: "alice"})
	if err != nil {
		t.Fatalf("create curation: %v", err)
	}
	moveCuration(t, rt, c.ID, domain.StagePrecuration, "alice")

	select {
	case dl := <-got:
		if dl.payload.Transition.WorkItemID != c.ID {
			t.Fatalf("unexpected delivery %+v", dl.payload)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for delivery")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("dispatcher did not stop")
	}
	hook.Close()
	rt.Close()
}
