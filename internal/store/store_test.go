package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"taskgenie/internal/db"
	"taskgenie/internal/domain"
	"taskgenie/internal/migrate"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return Store{DB: conn}
}

func sampleExecution(id string, outcome domain.Outcome) domain.Execution {
	return domain.Execution{
		ExecutionID:     id,
		ExecutionResult: domain.ResultSucceeded,
		Outcome:         outcome,
		Timestamp:       "2026-08-31T10:00:00Z",
		WorkItemID:      "42",
		WorkItem: domain.WorkItem{
			ID:       "42",
			Title:    "Implement OAuth login",
			ItemType: domain.ItemTypeStory,
		},
	}
}

func TestGetExecutionBeforePut(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetExecution(context.Background(), "never-written")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPutThenGetExecution(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rec := sampleExecution("exec-1", domain.OutcomeDecomposed)
	rec.ChildItemsCount = 3
	rec.ChildItemIDs = []string{"101", "102", "103"}
	if err := s.PutExecution(ctx, rec); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := s.GetExecution(ctx, "exec-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Outcome != domain.OutcomeDecomposed {
		t.Fatalf("outcome = %s", got.Outcome)
	}
	if got.ChildItemsCount != 3 || len(got.ChildItemIDs) != 3 {
		t.Fatalf("child counts = %d %d", got.ChildItemsCount, len(got.ChildItemIDs))
	}
	if got.ChildItemIDs[0] != "101" || got.ChildItemIDs[2] != "103" {
		t.Fatalf("child ids out of order: %v", got.ChildItemIDs)
	}
}

func TestPutExecutionOverwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r1 := sampleExecution("exec-2", domain.OutcomeSkipped)
	if err := s.PutExecution(ctx, r1); err != nil {
		t.Fatalf("first put: %v", err)
	}
	r2 := sampleExecution("exec-2", domain.OutcomeError)
	r2.ExecutionResult = domain.ResultFailed
	r2.Comment = "upstream failure"
	if err := s.PutExecution(ctx, r2); err != nil {
		t.Fatalf("second put: %v", err)
	}
	got, err := s.GetExecution(ctx, "exec-2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Outcome != domain.OutcomeError || got.ExecutionResult != domain.ResultFailed {
		t.Fatalf("expected second record, got %+v", got)
	}
	list, err := s.ListExecutions(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 record after overwrite, got %d", len(list))
	}
}

func TestPutExecutionRequiresID(t *testing.T) {
	s := newTestStore(t)
	if err := s.PutExecution(context.Background(), domain.Execution{}); err == nil {
		t.Fatal("expected error for missing execution id")
	}
}

func TestPromptConfigAuditColumns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	cfg := domain.PromptConfig{
		AreaPath:     "Contoso\\Payments",
		BusinessUnit: "payments",
		System:       "checkout",
		Prompt:       "Break stories into deployable tasks.",
	}
	t0 := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	created, err := s.UpsertPromptConfig(ctx, cfg, "alice", t0)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if created.CreatedBy != "alice" || created.UpdatedBy != "alice" {
		t.Fatalf("audit fields = %s/%s", created.CreatedBy, created.UpdatedBy)
	}

	cfg.Prompt = "Break stories into deployable tasks with test notes."
	t1 := t0.Add(48 * time.Hour)
	updated, err := s.UpsertPromptConfig(ctx, cfg, "bob", t1)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if updated.CreatedBy != "alice" || updated.CreatedAt != created.CreatedAt {
		t.Fatalf("created audit not preserved: %+v", updated)
	}
	if updated.UpdatedBy != "bob" || updated.UpdatedAt == created.UpdatedAt {
		t.Fatalf("updated audit not advanced: %+v", updated)
	}
}

func TestPromptConfigDeleteAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	for _, unit := range []string{"a", "b", "c"} {
		_, err := s.UpsertPromptConfig(ctx, domain.PromptConfig{
			AreaPath:     "Area",
			BusinessUnit: unit,
			System:       "sys",
			Prompt:       "p",
		}, "alice", now)
		if err != nil {
			t.Fatalf("upsert %s: %v", unit, err)
		}
	}

	page1, err := s.ListPromptConfigs(ctx, 2, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page1) != 2 {
		t.Fatalf("page1 len = %d", len(page1))
	}
	page2, err := s.ListPromptConfigs(ctx, 2, page1[len(page1)-1].Key())
	if err != nil {
		t.Fatalf("list page2: %v", err)
	}
	if len(page2) != 1 {
		t.Fatalf("page2 len = %d", len(page2))
	}

	if err := s.DeletePromptConfig(ctx, domain.PromptKey("Area", "b", "sys")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.DeletePromptConfig(ctx, domain.PromptKey("Area", "b", "sys")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestRunEventsAppendOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	w := EventWriter{DB: s.DB}
	for _, evt := range []string{"run.started", "run.evaluated", "run.finalized"} {
		if err := w.Append(ctx, "exec-3", evt, EventPayload{"outcome": "decomposed"}); err != nil {
			t.Fatalf("append %s: %v", evt, err)
		}
	}
	events, err := s.RunEvents(ctx, "exec-3")
	if err != nil {
		t.Fatalf("run events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Type != "run.started" || events[2].Type != "run.finalized" {
		t.Fatalf("events out of order: %v %v", events[0].Type, events[2].Type)
	}
}
