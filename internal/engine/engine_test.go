package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/berntpopp/gene-curator-sub000/internal/db"
	"github.com/berntpopp/gene-curator-sub000/internal/domain"
	"github.com/berntpopp/gene-curator-sub000/internal/engine"
	"github.com/berntpopp/gene-curator-sub000/internal/migrate"
	"github.com/berntpopp/gene-curator-sub000/internal/workflow"
)

const scope = "scope-1"

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Clock  *time.Time
}

// newTestEnv seeds:
//
//	alice, carol  curator in scope-1
//	bob, eve      reviewer in scope-1
//	victor        viewer in scope-1
//	root          application admin, no scope role
//	gone          inactive
func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, db.SQLite, workflow.MustDefault())
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	eng.Now = func() time.Time { return clock }
	ctx := context.Background()

	users := []domain.User{
		{ID: "alice", Name: "Alice", Active: true},
		{ID: "bob", Name: "Bob", Active: true},
		{ID: "carol", Name: "Carol", Active: true},
		{ID: "eve", Name: "Eve", Active: true},
		{ID: "victor", Name: "Victor", Active: true},
		{ID: "root", Name: "Root", Active: true, Admin: true},
		{ID: "gone", Name: "Gone", Active: false},
	}
	for _, u := range users {
		u.CreatedAt = clock.Format(time.RFC3339)
		if err := eng.Repo.UpsertUser(ctx, u); err != nil {
			t.Fatalf("seed user %s: %v", u.ID, err)
		}
	}
	roles := map[string]domain.Role{
		"alice":  domain.RoleCurator,
		"carol":  domain.RoleCurator,
		"bob":    domain.RoleReviewer,
		"eve":    domain.RoleReviewer,
		"victor": domain.RoleViewer,
		"gone":   domain.RoleReviewer,
	}
	for id, role := range roles {
		if err := eng.Repo.GrantScopeRole(ctx, scope, id, role); err != nil {
			t.Fatalf("grant %s: %v", id, err)
		}
	}
	return testEnv{Engine: eng, Ctx: ctx, Clock: &clock}
}

func (env testEnv) advance(d time.Duration) { *env.Clock = env.Clock.Add(d) }

func (env testEnv) curation(t *testing.T, author string) *domain.Curation {
	t.Helper()
	score := 12.5
	c, err := env.Engine.CreateCuration(env.Ctx, engine.CurationCreateOptions{
		ScopeID:         scope,
		GeneID:          "HGNC:1100",
		EvidenceSummary: "Strong segregation evidence",
		ComputedScore:   &score,
		ActorID:         author,
	})
	if err != nil {
		t.Fatalf("create curation: %v", err)
	}
	return c
}

func (env testEnv) move(t *testing.T, id string, to domain.Stage, actor string) domain.WorkflowTransition {
	t.Helper()
	rec, err := env.Engine.Execute(env.Ctx, engine.ExecuteRequest{ItemID: id, ItemType: domain.ItemCuration, Target: to, ActorID: actor})
	if err != nil {
		t.Fatalf("execute %s -> %s by %s: %v", id, to, actor, err)
	}
	return rec
}

// inReview returns an alice-authored curation moved to review.
func (env testEnv) inReview(t *testing.T) *domain.Curation {
	t.Helper()
	c := env.curation(t, "alice")
	env.move(t, c.ID, domain.StagePrecuration, "alice")
	env.move(t, c.ID, domain.StageCuration, "alice")
	env.move(t, c.ID, domain.StageReview, "carol")
	return c
}

func (env testEnv) stage(t *testing.T, id string) domain.Stage {
	t.Helper()
	c, err := env.Engine.Repo.GetCuration(env.Ctx, id)
	if err != nil {
		t.Fatalf("get curation: %v", err)
	}
	return c.Stage
}

func TestGraphClosure(t *testing.T) {
	env := newTestEnv(t)
	rules := env.Engine.Rules
	for _, e := range rules.Edges() {
		if len(rules.RolesFor(e[0], e[1])) == 0 {
			t.Fatalf("edge %s->%s has no roles", e[0], e[1])
		}
	}
	item := &domain.Curation{ID: "x", ScopeID: scope, CreatedBy: "alice"}
	for _, from := range domain.Stages {
		for _, to := range domain.Stages {
			if rules.Allowed(from, to) {
				continue
			}
			item.Stage = from
			for _, actor := range []string{"root", "alice", "bob", "nobody"} {
				res, err := env.Engine.Validate(env.Ctx, from, to, actor, item)
				if err != nil {
					t.Fatalf("validate: %v", err)
				}
				if res.IsValid || len(res.Errors) != 1 || res.ErrorKinds[0] != domain.KindInvalidTransition {
					t.Fatalf("%s->%s by %s: expected single invalid transition error, got %+v", from, to, actor, res)
				}
			}
		}
	}
}

func TestValidateMissingActorShortCircuits(t *testing.T) {
	env := newTestEnv(t)
	item := &domain.Curation{ID: "x", ScopeID: scope, Stage: domain.StageCuration, CreatedBy: "alice"}
	for _, actor := range []string{"nobody", "gone"} {
		res, err := env.Engine.Validate(env.Ctx, domain.StageCuration, domain.StageReview, actor, item)
		if err != nil {
			t.Fatalf("validate: %v", err)
		}
		if res.IsValid || len(res.Errors) != 1 || res.Errors[0] != "actor not found" || !res.Has(domain.KindNotFound) {
			t.Fatalf("expected single actor not found error for %s, got %+v", actor, res)
		}
		if len(res.Requirements) != 0 || len(res.Warnings) != 0 {
			t.Fatalf("expected no requirements or warnings, got %+v", res)
		}
	}
}

func TestFourEyesHoldsForAdmins(t *testing.T) {
	env := newTestEnv(t)
	item := &domain.Curation{ID: "x", ScopeID: scope, CreatedBy: "root", EvidenceSummary: "s"}
	for _, edge := range [][2]domain.Stage{
		{domain.StageCuration, domain.StageReview},
		{domain.StageReview, domain.StageActive},
	} {
		item.Stage = edge[0]
		res, err := env.Engine.Validate(env.Ctx, edge[0], edge[1], "root", item)
		if err != nil {
			t.Fatalf("validate: %v", err)
		}
		if res.IsValid || !res.Has(domain.KindFourEyesViolation) {
			t.Fatalf("%s->%s: expected four-eyes violation for admin author, got %+v", edge[0], edge[1], res)
		}
		if res.Has(domain.KindUnauthorized) {
			t.Fatalf("admin should pass role checks, got %+v", res)
		}
	}
}

func TestValidateAccumulatesErrors(t *testing.T) {
	env := newTestEnv(t)
	item := &domain.Curation{ID: "x", ScopeID: scope, Stage: domain.StageCuration, CreatedBy: "victor"}
	res, err := env.Engine.Validate(env.Ctx, domain.StageCuration, domain.StageReview, "victor", item)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	for _, kind := range []domain.ErrorKind{domain.KindUnauthorized, domain.KindFourEyesViolation, domain.KindStructuralValidation} {
		if !res.Has(kind) {
			t.Fatalf("expected %s in %+v", kind, res)
		}
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("expected missing score warning, got %v", res.Warnings)
	}
	if len(res.Requirements) == 0 {
		t.Fatalf("expected review requirements from config")
	}
}

func TestValidateWarningDoesNotInvalidate(t *testing.T) {
	env := newTestEnv(t)
	item := &domain.Curation{ID: "x", ScopeID: scope, Stage: domain.StageCuration, CreatedBy: "alice", EvidenceSummary: "summary"}
	res, err := env.Engine.Validate(env.Ctx, domain.StageCuration, domain.StageReview, "carol", item)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !res.IsValid || len(res.Warnings) != 1 {
		t.Fatalf("expected valid result with one warning, got %+v", res)
	}
}

func TestPrecurationCannotPassCuration(t *testing.T) {
	env := newTestEnv(t)
	item := &domain.Precuration{ID: "p", ScopeID: scope, Stage: domain.StageCuration, CreatedBy: "alice", Rationale: "r"}
	res, err := env.Engine.Validate(env.Ctx, domain.StageCuration, domain.StageReview, "carol", item)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if res.IsValid || !res.Has(domain.KindStructuralValidation) {
		t.Fatalf("expected structural error, got %+v", res)
	}
}

func TestReviewerScenario(t *testing.T) {
	env := newTestEnv(t)
	c := env.curation(t, "alice")
	env.move(t, c.ID, domain.StagePrecuration, "alice")
	env.move(t, c.ID, domain.StageCuration, "alice")
	c, _ = env.Engine.Repo.GetCuration(env.Ctx, c.ID)

	res, err := env.Engine.Validate(env.Ctx, domain.StageCuration, domain.StageReview, "carol", c)
	if err != nil || !res.IsValid {
		t.Fatalf("carol should be allowed: %+v %v", res, err)
	}
	res, err = env.Engine.Validate(env.Ctx, domain.StageCuration, domain.StageReview, "alice", c)
	if err != nil || res.IsValid || !res.Has(domain.KindFourEyesViolation) {
		t.Fatalf("alice should hit four-eyes: %+v %v", res, err)
	}

	before, _ := env.Engine.GetState(env.Ctx, c.ID, domain.ItemCuration)
	rec := env.move(t, c.ID, domain.StageReview, "carol")
	if rec.FromStage != domain.StageCuration || rec.ToStage != domain.StageReview || rec.ExecutedBy != "carol" {
		t.Fatalf("unexpected record %+v", rec)
	}
	after, err := env.Engine.GetState(env.Ctx, c.ID, domain.ItemCuration)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if len(after.History) != len(before.History)+1 {
		t.Fatalf("expected one new history entry, got %d -> %d", len(before.History), len(after.History))
	}
	got, _ := env.Engine.Repo.GetCuration(env.Ctx, c.ID)
	if got.Status != "submitted" || got.SubmittedBy == nil || *got.SubmittedBy != "carol" {
		t.Fatalf("expected submitted by carol, got %+v", got)
	}
}

func TestExecuteRejectsFourEyesWithSentinels(t *testing.T) {
	env := newTestEnv(t)
	c := env.curation(t, "alice")
	env.move(t, c.ID, domain.StagePrecuration, "alice")
	env.move(t, c.ID, domain.StageCuration, "alice")
	_, err := env.Engine.Execute(env.Ctx, engine.ExecuteRequest{ItemID: c.ID, ItemType: domain.ItemCuration, Target: domain.StageReview, ActorID: "alice"})
	if !errors.Is(err, engine.ErrInvalidTransition) || !errors.Is(err, engine.ErrFourEyesViolation) {
		t.Fatalf("expected invalid transition with four-eyes, got %v", err)
	}
	var werr *engine.WorkflowError
	if !errors.As(err, &werr) || werr.Result == nil || werr.Result.IsValid {
		t.Fatalf("expected workflow error carrying result, got %#v", err)
	}
	if env.stage(t, c.ID) != domain.StageCuration {
		t.Fatalf("rejected transition must not change stage")
	}
}

func TestExecuteMissingItem(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.Execute(env.Ctx, engine.ExecuteRequest{ItemID: "missing", ItemType: domain.ItemCuration, Target: domain.StagePrecuration, ActorID: "alice"})
	if !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAuditChainIsContinuous(t *testing.T) {
	env := newTestEnv(t)
	c := env.curation(t, "alice")
	path := []struct {
		to    domain.Stage
		actor string
	}{
		{domain.StagePrecuration, "alice"},
		{domain.StageCuration, "alice"},
		{domain.StagePrecuration, "alice"},
		{domain.StageCuration, "alice"},
		{domain.StageReview, "carol"},
		{domain.StageCuration, "bob"},
		{domain.StageReview, "carol"},
		{domain.StageActive, "bob"},
	}
	for _, step := range path {
		env.advance(time.Minute)
		env.move(t, c.ID, step.to, step.actor)
	}
	state, err := env.Engine.GetState(env.Ctx, c.ID, domain.ItemCuration)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if len(state.History) != len(path) {
		t.Fatalf("expected %d records, got %d", len(path), len(state.History))
	}
	if state.History[0].FromStage != domain.StageEntry {
		t.Fatalf("history must start at entry, got %s", state.History[0].FromStage)
	}
	for i := 1; i < len(state.History); i++ {
		prev, cur := state.History[i-1], state.History[i]
		if cur.FromStage != prev.ToStage {
			t.Fatalf("chain broken at %d: %s then %s", i, prev.ToStage, cur.FromStage)
		}
		if cur.ExecutedAt < prev.ExecutedAt {
			t.Fatalf("history not ordered at %d", i)
		}
	}
	if state.CurrentStage != domain.StageActive || state.Progress != 100 {
		t.Fatalf("unexpected state %+v", state)
	}
}

func TestActivationCreatesAndSupersedesActiveRecord(t *testing.T) {
	env := newTestEnv(t)
	c := env.inReview(t)
	rec := env.move(t, c.ID, domain.StageActive, "bob")
	activeID, _ := rec.Metadata["active_curation_id"].(string)
	if activeID == "" {
		t.Fatalf("expected active curation id in metadata, got %v", rec.Metadata)
	}
	active, err := env.Engine.Repo.CurrentActiveCuration(env.Ctx, c.ID)
	if err != nil || active.ID != activeID || active.ActivatedBy != "bob" {
		t.Fatalf("current active: %+v %v", active, err)
	}
	cur, _ := env.Engine.Repo.GetCuration(env.Ctx, c.ID)
	if cur.Status != "active" || cur.ApprovedBy == nil || *cur.ApprovedBy != "bob" {
		t.Fatalf("expected curation approved by bob, got %+v", cur)
	}

	// Transition the active record itself; the audit lands on the curation.
	rec, err = env.Engine.Execute(env.Ctx, engine.ExecuteRequest{ItemID: activeID, ItemType: domain.ItemActive, Target: domain.StageReview, ActorID: "root"})
	if err != nil {
		t.Fatalf("reopen active: %v", err)
	}
	if rec.WorkItemID != c.ID || rec.WorkItemType != domain.ItemCuration || rec.FromStage != domain.StageActive {
		t.Fatalf("expected record on backing curation, got %+v", rec)
	}
	if env.stage(t, c.ID) != domain.StageReview {
		t.Fatalf("curation should be back in review")
	}
	archived, err := env.Engine.Repo.GetActiveCuration(env.Ctx, activeID)
	if err != nil || !archived.Archived() || *archived.ArchivedBy != "root" {
		t.Fatalf("expected archived active record, got %+v %v", archived, err)
	}

	state, err := env.Engine.GetState(env.Ctx, activeID, domain.ItemActive)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if len(state.NextStages) != 0 || len(state.History) != 5 {
		t.Fatalf("archived active state: %+v", state)
	}

	env.advance(time.Hour)
	env.move(t, c.ID, domain.StageActive, "bob")
	all, err := env.Engine.Repo.ListActiveCurations(env.Ctx, c.ID)
	if err != nil || len(all) != 2 {
		t.Fatalf("expected two active records, got %d %v", len(all), err)
	}
	if !all[0].Archived() || all[1].Archived() {
		t.Fatalf("only the newest record may be current: %+v", all)
	}
}

func TestActiveToReviewRequiresScopeAdmin(t *testing.T) {
	env := newTestEnv(t)
	c := env.inReview(t)
	env.move(t, c.ID, domain.StageActive, "bob")
	_, err := env.Engine.Execute(env.Ctx, engine.ExecuteRequest{ItemID: c.ID, ItemType: domain.ItemCuration, Target: domain.StageReview, ActorID: "carol"})
	if !errors.Is(err, engine.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestAssignReviewerRejectsAuthorInEveryStage(t *testing.T) {
	env := newTestEnv(t)
	c := env.curation(t, "alice")
	stages := []domain.Stage{domain.StageEntry, domain.StagePrecuration, domain.StageCuration, domain.StageReview, domain.StageActive}
	actors := map[domain.Stage]string{
		domain.StagePrecuration: "alice",
		domain.StageCuration:    "alice",
		domain.StageReview:      "carol",
		domain.StageActive:      "bob",
	}
	for _, s := range stages {
		if s != domain.StageEntry {
			env.move(t, c.ID, s, actors[s])
		}
		_, err := env.Engine.AssignReviewer(env.Ctx, engine.AssignRequest{ItemID: c.ID, ItemType: domain.ItemCuration, ReviewerID: "alice", AssignedBy: "root"})
		if !errors.Is(err, engine.ErrFourEyesViolation) {
			t.Fatalf("stage %s: expected four-eyes violation, got %v", s, err)
		}
	}
}

func TestAssignReviewerChecks(t *testing.T) {
	env := newTestEnv(t)
	draft := env.curation(t, "alice")
	_, err := env.Engine.AssignReviewer(env.Ctx, engine.AssignRequest{ItemID: draft.ID, ItemType: domain.ItemCuration, ReviewerID: "bob", AssignedBy: "root"})
	if !errors.Is(err, engine.ErrInvalidTransition) {
		t.Fatalf("expected stage error, got %v", err)
	}

	c := env.inReview(t)
	for _, reviewer := range []string{"nobody", "gone"} {
		_, err = env.Engine.AssignReviewer(env.Ctx, engine.AssignRequest{ItemID: c.ID, ItemType: domain.ItemCuration, ReviewerID: reviewer, AssignedBy: "root"})
		if !errors.Is(err, engine.ErrNotFound) {
			t.Fatalf("reviewer %s: expected not found, got %v", reviewer, err)
		}
	}
	rv, err := env.Engine.AssignReviewer(env.Ctx, engine.AssignRequest{ItemID: c.ID, ItemType: domain.ItemCuration, ReviewerID: "bob", AssignedBy: "root"})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if rv.Status != domain.ReviewPending || rv.ScopeID != scope {
		t.Fatalf("unexpected review %+v", rv)
	}
	_, err = env.Engine.AssignReviewer(env.Ctx, engine.AssignRequest{ItemID: c.ID, ItemType: domain.ItemCuration, ReviewerID: "bob", AssignedBy: "root"})
	if !errors.Is(err, engine.ErrAlreadyAssigned) {
		t.Fatalf("expected already assigned, got %v", err)
	}
	state, err := env.Engine.GetState(env.Ctx, c.ID, domain.ItemCuration)
	if err != nil || len(state.PendingReviews) != 1 {
		t.Fatalf("expected one pending review, got %+v %v", state.PendingReviews, err)
	}
}

func TestSubmitReviewAutoActivates(t *testing.T) {
	env := newTestEnv(t)
	c := env.inReview(t)
	r1, _ := env.Engine.AssignReviewer(env.Ctx, engine.AssignRequest{ItemID: c.ID, ItemType: domain.ItemCuration, ReviewerID: "bob", AssignedBy: "root"})
	r2, _ := env.Engine.AssignReviewer(env.Ctx, engine.AssignRequest{ItemID: c.ID, ItemType: domain.ItemCuration, ReviewerID: "eve", AssignedBy: "root"})

	out, err := env.Engine.SubmitReview(env.Ctx, engine.SubmitRequest{ReviewID: r1.ID, ReviewerID: "bob", Decision: domain.RecommendApprove})
	if err != nil || out.Activated {
		t.Fatalf("first approval must not activate: %+v %v", out, err)
	}
	out, err = env.Engine.SubmitReview(env.Ctx, engine.SubmitRequest{ReviewID: r2.ID, ReviewerID: "eve", Decision: domain.RecommendApprove, Comments: "LGTM"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !out.Activated || out.Transition == nil || out.Transition.ExecutedBy != "eve" || out.Transition.ToStage != domain.StageActive {
		t.Fatalf("expected activation by eve, got %+v", out)
	}
	if out.Transition.Notes == "" || out.Transition.Metadata["trigger"] != "peer_review" {
		t.Fatalf("expected system note and trigger, got %+v", out.Transition)
	}
	if env.stage(t, c.ID) != domain.StageActive {
		t.Fatalf("expected item active")
	}
	if out.Review.Status != domain.ReviewApproved || out.Review.ReviewedAt == nil {
		t.Fatalf("review not completed: %+v", out.Review)
	}
}

func TestSubmitReviewRejectLeavesItemInReview(t *testing.T) {
	env := newTestEnv(t)
	c := env.inReview(t)
	r1, _ := env.Engine.AssignReviewer(env.Ctx, engine.AssignRequest{ItemID: c.ID, ItemType: domain.ItemCuration, ReviewerID: "bob", AssignedBy: "root"})
	r2, _ := env.Engine.AssignReviewer(env.Ctx, engine.AssignRequest{ItemID: c.ID, ItemType: domain.ItemCuration, ReviewerID: "eve", AssignedBy: "root"})
	if _, err := env.Engine.SubmitReview(env.Ctx, engine.SubmitRequest{ReviewID: r1.ID, ReviewerID: "bob", Decision: domain.RecommendApprove}); err != nil {
		t.Fatalf("submit r1: %v", err)
	}
	out, err := env.Engine.SubmitReview(env.Ctx, engine.SubmitRequest{ReviewID: r2.ID, ReviewerID: "eve", Decision: domain.RecommendReject})
	if err != nil {
		t.Fatalf("submit r2: %v", err)
	}
	if out.Activated || env.stage(t, c.ID) != domain.StageReview {
		t.Fatalf("reject must leave item in review")
	}
	if out.Review.Recommendation == nil || *out.Review.Recommendation != domain.RecommendReject {
		t.Fatalf("recommendation not stored: %+v", out.Review)
	}
}

func TestAutoActivationBlockedStillCommitsReview(t *testing.T) {
	env := newTestEnv(t)
	c := env.inReview(t)
	// carol is a curator, which may not move review -> active.
	rv, err := env.Engine.AssignReviewer(env.Ctx, engine.AssignRequest{ItemID: c.ID, ItemType: domain.ItemCuration, ReviewerID: "carol", AssignedBy: "root"})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	out, err := env.Engine.SubmitReview(env.Ctx, engine.SubmitRequest{ReviewID: rv.ID, ReviewerID: "carol", Decision: domain.RecommendApprove})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if out.Activated || len(out.ActivationErrors) == 0 {
		t.Fatalf("expected blocked activation, got %+v", out)
	}
	stored, err := env.Engine.Repo.GetReview(env.Ctx, rv.ID)
	if err != nil || !stored.Completed() {
		t.Fatalf("review should be committed: %+v %v", stored, err)
	}
	if env.stage(t, c.ID) != domain.StageReview {
		t.Fatalf("item should stay in review")
	}
}

func TestSubmitReviewErrors(t *testing.T) {
	env := newTestEnv(t)
	c := env.inReview(t)
	rv, _ := env.Engine.AssignReviewer(env.Ctx, engine.AssignRequest{ItemID: c.ID, ItemType: domain.ItemCuration, ReviewerID: "bob", AssignedBy: "root"})

	_, err := env.Engine.SubmitReview(env.Ctx, engine.SubmitRequest{ReviewID: "missing", ReviewerID: "bob", Decision: domain.RecommendApprove})
	if !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	_, err = env.Engine.SubmitReview(env.Ctx, engine.SubmitRequest{ReviewID: rv.ID, ReviewerID: "eve", Decision: domain.RecommendApprove})
	if !errors.Is(err, engine.ErrReviewerMismatch) {
		t.Fatalf("expected reviewer mismatch, got %v", err)
	}
	_, err = env.Engine.SubmitReview(env.Ctx, engine.SubmitRequest{ReviewID: rv.ID, ReviewerID: "bob", Decision: "maybe"})
	if !errors.Is(err, engine.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if _, err = env.Engine.SubmitReview(env.Ctx, engine.SubmitRequest{ReviewID: rv.ID, ReviewerID: "bob", Decision: domain.RecommendRequestChanges}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	_, err = env.Engine.SubmitReview(env.Ctx, engine.SubmitRequest{ReviewID: rv.ID, ReviewerID: "bob", Decision: domain.RecommendApprove})
	if !errors.Is(err, engine.ErrAlreadyCompleted) {
		t.Fatalf("expected already completed, got %v", err)
	}
}

func TestEligibleReviewers(t *testing.T) {
	env := newTestEnv(t)
	c := env.inReview(t)
	if _, err := env.Engine.AssignReviewer(env.Ctx, engine.AssignRequest{ItemID: c.ID, ItemType: domain.ItemCuration, ReviewerID: "bob", AssignedBy: "root"}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	got, err := env.Engine.GetEligibleReviewers(env.Ctx, scope, "alice")
	if err != nil {
		t.Fatalf("eligible: %v", err)
	}
	var ids []string
	for _, cand := range got {
		ids = append(ids, cand.UserID)
	}
	want := []string{"carol", "eve", "bob"}
	if len(ids) != len(want) {
		t.Fatalf("expected %v, got %v", want, ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, ids)
		}
	}
	if got[2].PendingReviews != 1 {
		t.Fatalf("bob should carry one pending review, got %+v", got[2])
	}

	all, err := env.Engine.GetEligibleReviewers(env.Ctx, "", "")
	if err != nil {
		t.Fatalf("eligible all: %v", err)
	}
	for _, cand := range all {
		if cand.UserID == "gone" {
			t.Fatalf("inactive users are not eligible")
		}
	}
	if len(all) != 6 {
		t.Fatalf("expected 6 active users, got %d", len(all))
	}
}

func TestStatisticsWithoutReviews(t *testing.T) {
	env := newTestEnv(t)
	stats, err := env.Engine.GetStatistics(env.Ctx, engine.StatisticsQuery{ScopeID: scope})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.ApprovalRate != 0 || stats.WindowDays != 30 || stats.BottleneckStage != "" {
		t.Fatalf("unexpected empty stats %+v", stats)
	}
}

func TestStatistics(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 2; i++ {
		if _, err := env.Engine.CreatePrecuration(env.Ctx, engine.PrecurationCreateOptions{ScopeID: scope, GeneID: "HGNC:5", ActorID: "alice"}); err != nil {
			t.Fatalf("create precuration: %v", err)
		}
	}
	c := env.curation(t, "alice")
	env.move(t, c.ID, domain.StagePrecuration, "alice")
	env.advance(2 * time.Hour)
	env.move(t, c.ID, domain.StageCuration, "alice")
	env.advance(4 * time.Hour)
	env.move(t, c.ID, domain.StageReview, "carol")
	r1, _ := env.Engine.AssignReviewer(env.Ctx, engine.AssignRequest{ItemID: c.ID, ItemType: domain.ItemCuration, ReviewerID: "bob", AssignedBy: "root"})
	if _, err := env.Engine.AssignReviewer(env.Ctx, engine.AssignRequest{ItemID: c.ID, ItemType: domain.ItemCuration, ReviewerID: "eve", AssignedBy: "root"}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := env.Engine.SubmitReview(env.Ctx, engine.SubmitRequest{ReviewID: r1.ID, ReviewerID: "bob", Decision: domain.RecommendRequestChanges}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	stats, err := env.Engine.GetStatistics(env.Ctx, engine.StatisticsQuery{ScopeID: scope, WindowDays: 7})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.StageCounts[domain.StageEntry] != 2 || stats.StageCounts[domain.StageReview] != 1 {
		t.Fatalf("unexpected counts %v", stats.StageCounts)
	}
	if stats.BottleneckStage != domain.StageEntry {
		t.Fatalf("expected entry bottleneck, got %q", stats.BottleneckStage)
	}
	if stats.TotalReviews != 2 || stats.CompletedReviews != 1 || stats.PendingReviews != 1 || stats.ApprovalRate != 0 {
		t.Fatalf("unexpected review stats %+v", stats)
	}
	if stats.AverageDwellHours[domain.StagePrecuration] != 2 || stats.AverageDwellHours[domain.StageCuration] != 4 {
		t.Fatalf("unexpected dwell %v", stats.AverageDwellHours)
	}

	other, err := env.Engine.GetStatistics(env.Ctx, engine.StatisticsQuery{ScopeID: "scope-2"})
	if err != nil || other.TotalReviews != 0 || other.StageCounts[domain.StageEntry] != 0 {
		t.Fatalf("scope filter leaked: %+v %v", other, err)
	}
}

func TestCreateItemsValidation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateCuration(env.Ctx, engine.CurationCreateOptions{ScopeID: scope, GeneID: "g", Stage: domain.StageReview, ActorID: "alice"})
	if !errors.Is(err, engine.ErrInvalidInput) {
		t.Fatalf("expected invalid input for review start, got %v", err)
	}
	_, err = env.Engine.CreatePrecuration(env.Ctx, engine.PrecurationCreateOptions{ScopeID: scope, GeneID: "g", ActorID: "nobody"})
	if !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("expected unknown author error, got %v", err)
	}
	p, err := env.Engine.CreatePrecuration(env.Ctx, engine.PrecurationCreateOptions{ScopeID: scope, GeneID: "g", Stage: domain.StagePrecuration, ActorID: "alice"})
	if err != nil || p.Status != "in_progress" {
		t.Fatalf("create precuration: %+v %v", p, err)
	}
	c, err := env.Engine.CreateCuration(env.Ctx, engine.CurationCreateOptions{ScopeID: scope, GeneID: "g", PrecurationID: p.ID, ActorID: "alice"})
	if err != nil || c.PrecurationID == nil || *c.PrecurationID != p.ID {
		t.Fatalf("create curation: %+v %v", c, err)
	}
}

func TestUpdateEvidenceLockedAfterSubmission(t *testing.T) {
	env := newTestEnv(t)
	c, err := env.Engine.CreateCuration(env.Ctx, engine.CurationCreateOptions{ScopeID: scope, GeneID: "g", ActorID: "alice"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	summary := "Moderate evidence"
	score := 7.0
	if _, err := env.Engine.UpdateEvidence(env.Ctx, engine.EvidenceUpdate{CurationID: c.ID, EvidenceSummary: &summary, ComputedScore: &score, ActorID: "alice"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	env.move(t, c.ID, domain.StagePrecuration, "alice")
	env.move(t, c.ID, domain.StageCuration, "alice")
	env.move(t, c.ID, domain.StageReview, "carol")
	_, err = env.Engine.UpdateEvidence(env.Ctx, engine.EvidenceUpdate{CurationID: c.ID, EvidenceSummary: &summary, ActorID: "alice"})
	if !errors.Is(err, engine.ErrInvalidTransition) {
		t.Fatalf("expected locked curation, got %v", err)
	}
}

func TestUpdateEvidenceRacesSubmission(t *testing.T) {
	env := newTestEnv(t)
	empty := ""
	for i := 0; i < 20; i++ {
		c := env.curation(t, "alice")
		env.move(t, c.ID, domain.StagePrecuration, "alice")
		env.move(t, c.ID, domain.StageCuration, "alice")

		var wg sync.WaitGroup
		var updErr, execErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, updErr = env.Engine.UpdateEvidence(env.Ctx, engine.EvidenceUpdate{CurationID: c.ID, EvidenceSummary: &empty, ActorID: "alice"})
		}()
		go func() {
			defer wg.Done()
			_, execErr = env.Engine.Execute(env.Ctx, engine.ExecuteRequest{ItemID: c.ID, ItemType: domain.ItemCuration, Target: domain.StageReview, ActorID: "carol"})
		}()
		wg.Wait()

		if (updErr == nil) == (execErr == nil) {
			t.Fatalf("run %d: exactly one side must win, update=%v execute=%v", i, updErr, execErr)
		}
		for _, err := range []error{updErr, execErr} {
			if err != nil && !errors.Is(err, engine.ErrInvalidTransition) {
				t.Fatalf("run %d: unexpected error %v", i, err)
			}
		}
		got, err := env.Engine.Repo.GetCuration(env.Ctx, c.ID)
		if err != nil {
			t.Fatalf("reload: %v", err)
		}
		if got.Stage == domain.StageReview && got.EvidenceSummary == "" {
			t.Fatalf("run %d: curation reached review without a summary", i)
		}
	}
}

func TestConcurrentExecuteHasOneWinner(t *testing.T) {
	env := newTestEnv(t)
	c := env.curation(t, "alice")
	env.move(t, c.ID, domain.StagePrecuration, "alice")
	env.move(t, c.ID, domain.StageCuration, "alice")

	errs := make([]error, 4)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.Engine.Execute(env.Ctx, engine.ExecuteRequest{ItemID: c.ID, ItemType: domain.ItemCuration, Target: domain.StageReview, ActorID: "carol"})
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case !errors.Is(err, engine.ErrInvalidTransition):
			t.Fatalf("unexpected error %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected one winner, got %d (%v)", wins, errs)
	}
	history, err := env.Engine.Repo.ListTransitions(env.Ctx, domain.ItemRef{ID: c.ID, Type: domain.ItemCuration})
	if err != nil || len(history) != 3 {
		t.Fatalf("expected 3 transitions, got %d %v", len(history), err)
	}
}

func TestConcurrentApprovalsActivateOnce(t *testing.T) {
	env := newTestEnv(t)
	c := env.inReview(t)
	var reviews []domain.Review
	for _, reviewer := range []string{"bob", "eve"} {
		rv, err := env.Engine.AssignReviewer(env.Ctx, engine.AssignRequest{ItemID: c.ID, ItemType: domain.ItemCuration, ReviewerID: reviewer, AssignedBy: "root"})
		if err != nil {
			t.Fatalf("assign %s: %v", reviewer, err)
		}
		reviews = append(reviews, rv)
	}

	outs := make([]domain.ReviewOutcome, len(reviews))
	errs := make([]error, len(reviews))
	var wg sync.WaitGroup
	for i, rv := range reviews {
		wg.Add(1)
		go func(i int, rv domain.Review) {
			defer wg.Done()
			outs[i], errs[i] = env.Engine.SubmitReview(env.Ctx, engine.SubmitRequest{ReviewID: rv.ID, ReviewerID: rv.ReviewerID, Decision: domain.RecommendApprove})
		}(i, rv)
	}
	wg.Wait()

	activated := 0
	for i := range outs {
		if errs[i] != nil {
			t.Fatalf("submit %s: %v", reviews[i].ReviewerID, errs[i])
		}
		if outs[i].Activated {
			activated++
		}
	}
	if activated != 1 {
		t.Fatalf("expected one activation, got %d", activated)
	}
	records, err := env.Engine.Repo.ListActiveCurations(env.Ctx, c.ID)
	if err != nil || len(records) != 1 {
		t.Fatalf("expected one active record, got %d %v", len(records), err)
	}
	if env.stage(t, c.ID) != domain.StageActive {
		t.Fatalf("expected item active")
	}
}

func TestSecondReviewRoundIgnoresEarlierReviews(t *testing.T) {
	env := newTestEnv(t)
	c := env.inReview(t)
	r1, err := env.Engine.AssignReviewer(env.Ctx, engine.AssignRequest{ItemID: c.ID, ItemType: domain.ItemCuration, ReviewerID: "bob", AssignedBy: "root"})
	if err != nil {
		t.Fatalf("assign bob: %v", err)
	}
	stale, err := env.Engine.AssignReviewer(env.Ctx, engine.AssignRequest{ItemID: c.ID, ItemType: domain.ItemCuration, ReviewerID: "eve", AssignedBy: "root"})
	if err != nil {
		t.Fatalf("assign eve: %v", err)
	}
	if _, err := env.Engine.SubmitReview(env.Ctx, engine.SubmitRequest{ReviewID: r1.ID, ReviewerID: "bob", Decision: domain.RecommendRequestChanges}); err != nil {
		t.Fatalf("request changes: %v", err)
	}
	env.move(t, c.ID, domain.StageCuration, "bob")
	env.move(t, c.ID, domain.StageReview, "carol")

	state, err := env.Engine.GetState(env.Ctx, c.ID, domain.ItemCuration)
	if err != nil || len(state.PendingReviews) != 0 {
		t.Fatalf("new round should start without pending reviews: %+v %v", state.PendingReviews, err)
	}
	_, err = env.Engine.SubmitReview(env.Ctx, engine.SubmitRequest{ReviewID: stale.ID, ReviewerID: "eve", Decision: domain.RecommendApprove})
	if !errors.Is(err, engine.ErrAlreadyCompleted) {
		t.Fatalf("expected closed review, got %v", err)
	}
	r2, err := env.Engine.AssignReviewer(env.Ctx, engine.AssignRequest{ItemID: c.ID, ItemType: domain.ItemCuration, ReviewerID: "eve", AssignedBy: "root"})
	if err != nil {
		t.Fatalf("reassign eve: %v", err)
	}
	out, err := env.Engine.SubmitReview(env.Ctx, engine.SubmitRequest{ReviewID: r2.ID, ReviewerID: "eve", Decision: domain.RecommendApprove})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if !out.Activated || env.stage(t, c.ID) != domain.StageActive {
		t.Fatalf("approval in the new round should activate, got %+v", out)
	}
	all, err := env.Engine.Repo.ListReviews(env.Ctx, domain.ItemRef{ID: c.ID, Type: domain.ItemCuration})
	if err != nil || len(all) != 3 {
		t.Fatalf("review history should be kept: %d %v", len(all), err)
	}
}
