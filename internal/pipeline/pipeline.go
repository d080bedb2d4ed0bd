// Package pipeline runs the decomposition flow for one work item: quality
// gate, child generation, creation in the tracking system, commenting, and
// the terminal execution record.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"taskgenie/internal/domain"
	"taskgenie/internal/llm"
	"taskgenie/internal/store"
)

// ProcessedTag marks items the pipeline has already handled. Items
// carrying it are skipped, and children created here carry it too.
const ProcessedTag = "Task Genie"

// Model is the language model side of the pipeline.
type Model interface {
	Evaluate(ctx context.Context, item domain.WorkItem) (llm.Evaluation, error)
	Generate(ctx context.Context, item domain.WorkItem, existing []domain.ChildItem, promptOverride string) ([]domain.ChildItem, error)
}

// Tracker is the work item tracking system side of the pipeline.
type Tracker interface {
	GetWorkItem(ctx context.Context, teamProject, id string) (domain.WorkItem, error)
	GetChildItems(ctx context.Context, item domain.WorkItem) ([]domain.ChildItem, error)
	CreateChild(ctx context.Context, parent domain.WorkItem, child domain.ChildItem, tag string) (string, error)
	Comment(ctx context.Context, item domain.WorkItem, text string) error
	AddTag(ctx context.Context, item domain.WorkItem, tag string) error
}

// ExecutionStore persists terminal records and resolves prompt overrides.
type ExecutionStore interface {
	PutExecution(ctx context.Context, rec domain.Execution) error
	GetPromptConfig(ctx context.Context, areaPath, businessUnit, system string) (domain.PromptConfig, error)
}

// EventSink records stage transitions. Failures are logged, never fatal.
type EventSink interface {
	Append(ctx context.Context, executionID, evtType string, payload store.EventPayload) error
}

// Metrics counts pipeline outcomes. Implementations must tolerate being
// called on every run.
type Metrics interface {
	RecordIncomplete(ctx context.Context, itemType domain.ItemType)
	RecordGenerated(ctx context.Context, itemType domain.ItemType, n int)
	RecordUpdated(ctx context.Context, itemType domain.ItemType)
}

// Pipeline wires the collaborators together. Now and NewID exist so tests
// can pin timestamps and execution ids.
type Pipeline struct {
	Tracker Tracker
	Model   Model
	Store   ExecutionStore
	Events  EventSink
	Metrics Metrics
	Logger  *slog.Logger
	Now     func() time.Time
	NewID   func() string
}

// Request names the work item to process. ExecutionID may be supplied by
// the caller; when empty a fresh one is generated.
type Request struct {
	ExecutionID    string
	TeamProject    string
	WorkItemID     string
	PromptOverride string
}

func New(tracker Tracker, model Model, st ExecutionStore, events EventSink, m Metrics) *Pipeline {
	return &Pipeline{
		Tracker: tracker,
		Model:   model,
		Store:   st,
		Events:  events,
		Metrics: m,
		Logger:  slog.Default().With("component", "pipeline"),
		Now:     time.Now,
		NewID:   uuid.NewString,
	}
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *Pipeline) newID() string {
	if p.NewID != nil {
		return p.NewID()
	}
	return uuid.NewString()
}

func (p *Pipeline) event(ctx context.Context, logger *slog.Logger, executionID, evtType string, payload store.EventPayload) {
	if p.Events == nil {
		return
	}
	if err := p.Events.Append(ctx, executionID, evtType, payload); err != nil {
		logger.Warn("run event not recorded", "type", evtType, "error", err)
	}
}

// Run executes the full flow and always leaves exactly one terminal
// record behind, including on failure. The returned record mirrors what
// was stored; err reports the stage failure when the outcome is error.
func (p *Pipeline) Run(ctx context.Context, req Request) (domain.Execution, error) {
	if p.Tracker == nil || p.Model == nil || p.Store == nil {
		return domain.Execution{}, &ConfigurationError{Setting: "pipeline", Reason: "tracker, model, and store must be configured"}
	}
	execID := req.ExecutionID
	if execID == "" {
		execID = p.newID()
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("executionId", execID, "workItemId", req.WorkItemID)

	if req.WorkItemID == "" {
		err := &ValidationError{Field: "workItemId", Reason: "must not be empty"}
		return p.fail(ctx, logger, execID, req.WorkItemID, domain.WorkItem{}, nil, err), err
	}

	logger.Info("run started")
	p.event(ctx, logger, execID, "started", store.EventPayload{"workItemId": req.WorkItemID})

	item, err := p.Tracker.GetWorkItem(ctx, req.TeamProject, req.WorkItemID)
	if err != nil {
		uerr := &UpstreamError{System: "tracker", Op: "get work item", Err: err}
		return p.fail(ctx, logger, execID, req.WorkItemID, domain.WorkItem{}, nil, uerr), uerr
	}

	if item.HasTag(ProcessedTag) {
		logger.Info("item already processed, skipping")
		p.event(ctx, logger, execID, "skipped", store.EventPayload{"reason": "already processed"})
		return p.finalize(ctx, logger, domain.Execution{
			ExecutionID:     execID,
			ExecutionResult: domain.ResultSucceeded,
			Outcome:         domain.OutcomeSkipped,
			Timestamp:       p.now().UTC().Format(time.RFC3339),
			WorkItemID:      item.ID,
			WorkItem:        item,
		}), nil
	}

	p.event(ctx, logger, execID, "evaluating", nil)
	eval, err := p.Model.Evaluate(ctx, item)
	if err != nil {
		uerr := &UpstreamError{System: "model", Op: "evaluate", Err: err}
		return p.fail(ctx, logger, execID, item.ID, item, nil, uerr), uerr
	}

	if !eval.Pass {
		logger.Info("quality gate rejected item")
		if p.Metrics != nil {
			p.Metrics.RecordIncomplete(ctx, item.ItemType)
		}
		if err := p.Tracker.Comment(ctx, item, eval.Comment); err != nil {
			uerr := &UpstreamError{System: "tracker", Op: "comment", Err: err}
			return p.fail(ctx, logger, execID, item.ID, item, nil, uerr), uerr
		}
		p.event(ctx, logger, execID, "feedback", nil)
		return p.finalize(ctx, logger, domain.Execution{
			ExecutionID:     execID,
			ExecutionResult: domain.ResultSucceeded,
			Outcome:         domain.OutcomeFeedbackProvided,
			Timestamp:       p.now().UTC().Format(time.RFC3339),
			WorkItemID:      item.ID,
			WorkItem:        item,
			Comment:         eval.Comment,
		}), nil
	}

	p.event(ctx, logger, execID, "decomposing", nil)
	prompt := p.resolvePrompt(ctx, logger, req.PromptOverride, item)

	existing, err := p.Tracker.GetChildItems(ctx, item)
	if err != nil {
		uerr := &UpstreamError{System: "tracker", Op: "get child items", Err: err}
		return p.fail(ctx, logger, execID, item.ID, item, nil, uerr), uerr
	}

	children, err := p.Model.Generate(ctx, item, existing, prompt)
	if err != nil {
		uerr := &UpstreamError{System: "model", Op: "generate", Err: err}
		return p.fail(ctx, logger, execID, item.ID, item, nil, uerr), uerr
	}
	if len(children) == 0 {
		logger.Info("nothing left to decompose")
		p.event(ctx, logger, execID, "skipped", store.EventPayload{"reason": "no children generated"})
		if err := p.Tracker.Comment(ctx, item, skippedComment); err != nil {
			uerr := &UpstreamError{System: "tracker", Op: "comment", Err: err}
			return p.fail(ctx, logger, execID, item.ID, item, nil, uerr), uerr
		}
		return p.finalize(ctx, logger, domain.Execution{
			ExecutionID:     execID,
			ExecutionResult: domain.ResultSucceeded,
			Outcome:         domain.OutcomeSkipped,
			Timestamp:       p.now().UTC().Format(time.RFC3339),
			WorkItemID:      item.ID,
			WorkItem:        item,
			Comment:         skippedComment,
		}), nil
	}

	p.event(ctx, logger, execID, "creating", store.EventPayload{"count": len(children)})
	var created []domain.ChildItem
	for i, child := range children {
		id, err := p.Tracker.CreateChild(ctx, item, child, ProcessedTag)
		if id == "" && err != nil {
			uerr := &UpstreamError{System: "tracker", Op: fmt.Sprintf("create child %d", i), Err: err}
			return p.fail(ctx, logger, execID, item.ID, item, created, uerr), uerr
		}
		if err != nil {
			// The child exists but the hierarchy link did not take. Keep
			// going; an unlinked child beats a half-aborted batch.
			logger.Warn("child created but not linked", "error", &PartialCreationError{ChildID: id, Err: err})
		}
		child.ID = id
		created = append(created, child)
	}

	if err := p.Tracker.AddTag(ctx, item, ProcessedTag); err != nil {
		uerr := &UpstreamError{System: "tracker", Op: "tag parent", Err: err}
		return p.fail(ctx, logger, execID, item.ID, item, created, uerr), uerr
	}
	if p.Metrics != nil {
		p.Metrics.RecordGenerated(ctx, item.ItemType, len(created))
		p.Metrics.RecordUpdated(ctx, item.ItemType)
	}

	p.event(ctx, logger, execID, "commenting", nil)
	summary := decompositionComment(created)
	if err := p.Tracker.Comment(ctx, item, summary); err != nil {
		uerr := &UpstreamError{System: "tracker", Op: "comment", Err: err}
		return p.fail(ctx, logger, execID, item.ID, item, created, uerr), uerr
	}

	logger.Info("run decomposed item", "children", len(created))
	return p.finalize(ctx, logger, domain.Execution{
		ExecutionID:     execID,
		ExecutionResult: domain.ResultSucceeded,
		Outcome:         domain.OutcomeDecomposed,
		Timestamp:       p.now().UTC().Format(time.RFC3339),
		WorkItemID:      item.ID,
		WorkItem:        item,
		ChildItemsCount: len(created),
		ChildItemIDs:    childIDs(created),
		ChildItems:      created,
		Comment:         summary,
	}), nil
}

// resolvePrompt picks the generation prompt: an explicit override wins,
// then a stored prompt config for the item's area, then the built-in
// default (empty string).
func (p *Pipeline) resolvePrompt(ctx context.Context, logger *slog.Logger, override string, item domain.WorkItem) string {
	if override != "" {
		return override
	}
	cfg, err := p.Store.GetPromptConfig(ctx, item.AreaPath, item.BusinessUnit, item.System)
	switch {
	case err == nil:
		return cfg.Prompt
	case errors.Is(err, store.ErrNotFound):
		return ""
	default:
		logger.Warn("prompt config lookup failed, using default prompt", "error", err)
		return ""
	}
}

func (p *Pipeline) fail(ctx context.Context, logger *slog.Logger, execID, workItemID string, item domain.WorkItem, created []domain.ChildItem, cause error) domain.Execution {
	logger.Error("run failed", "error", cause)
	return p.finalize(ctx, logger, domain.Execution{
		ExecutionID:     execID,
		ExecutionResult: domain.ResultFailed,
		Outcome:         domain.OutcomeError,
		Timestamp:       p.now().UTC().Format(time.RFC3339),
		WorkItemID:      workItemID,
		WorkItem:        item,
		ChildItemsCount: len(created),
		ChildItemIDs:    childIDs(created),
		ChildItems:      created,
		Comment:         cause.Error(),
	})
}

// finalize writes the terminal record. A store failure here is logged and
// swallowed; the run's outcome stands regardless.
func (p *Pipeline) finalize(ctx context.Context, logger *slog.Logger, rec domain.Execution) domain.Execution {
	if rec.ChildItemIDs == nil {
		rec.ChildItemIDs = []string{}
	}
	if rec.ChildItems == nil {
		rec.ChildItems = []domain.ChildItem{}
	}
	if err := p.Store.PutExecution(ctx, rec); err != nil {
		perr := &PersistenceError{Op: "put execution", Err: err}
		logger.Error("terminal record not persisted", "error", perr)
	}
	p.event(ctx, logger, rec.ExecutionID, "finalized", store.EventPayload{"outcome": string(rec.Outcome), "result": rec.ExecutionResult})
	return rec
}

func childIDs(children []domain.ChildItem) []string {
	if len(children) == 0 {
		return nil
	}
	ids := make([]string, len(children))
	for i, c := range children {
		ids[i] = c.ID
	}
	return ids
}

const skippedComment = "Created 0 child items. The item is already small enough to work on as written."

func decompositionComment(created []domain.ChildItem) string {
	s := fmt.Sprintf("Created %d child item", len(created))
	if len(created) != 1 {
		s += "s"
	}
	s += ":<br>"
	for _, c := range created {
		s += fmt.Sprintf("#%s %s<br>", c.ID, c.Title)
	}
	return s
}
