package domain

// ItemType classifies a work item in the tracking system.
type ItemType string

const (
	ItemTypeEpic    ItemType = "Epic"
	ItemTypeFeature ItemType = "Feature"
	ItemTypeStory   ItemType = "Story"
	ItemTypeTask    ItemType = "Task"
)

// Outcome is the terminal classification of one pipeline run.
type Outcome string

const (
	OutcomeDecomposed       Outcome = "decomposed"
	OutcomeFeedbackProvided Outcome = "feedback_provided"
	OutcomeSkipped          Outcome = "skipped"
	OutcomeError            Outcome = "error"
)

// Execution results as persisted in the record.
const (
	ResultSucceeded = "SUCCEEDED"
	ResultFailed    = "FAILED"
)

// WorkItem is an immutable snapshot of the parent item under evaluation.
// The live item in the tracking system may keep changing after capture.
type WorkItem struct {
	ID                 string   `json:"id"`
	Title              string   `json:"title"`
	Description        string   `json:"description,omitempty"`
	AcceptanceCriteria string   `json:"acceptanceCriteria,omitempty"`
	ItemType           ItemType `json:"itemType" enum:"Epic,Feature,Story,Task"`
	AreaPath           string   `json:"areaPath,omitempty"`
	IterationPath      string   `json:"iterationPath,omitempty"`
	BusinessUnit       string   `json:"businessUnit,omitempty"`
	System             string   `json:"system,omitempty"`
	ChangedBy          string   `json:"changedBy,omitempty"`
	Tags               []string `json:"tags,omitempty"`
	TeamProject        string   `json:"teamProject,omitempty"`
}

// HasTag reports whether the snapshot carries the given tag.
func (w WorkItem) HasTag(tag string) bool {
	for _, t := range w.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// ChildItem is one generated decomposition unit. Created once per run,
// never mutated by the pipeline afterward.
type ChildItem struct {
	ID          string   `json:"id,omitempty"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	ItemType    ItemType `json:"itemType"`
}

// Execution is the terminal record of one run, keyed by execution id.
// Before the record exists the run is implicitly running; writing the
// record is an idempotent overwrite.
type Execution struct {
	ExecutionID     string      `json:"executionId"`
	ExecutionResult string      `json:"executionResult" enum:"SUCCEEDED,FAILED"`
	Outcome         Outcome     `json:"outcome" enum:"decomposed,feedback_provided,skipped,error"`
	Timestamp       string      `json:"timestamp" format:"date-time"`
	WorkItemID      string      `json:"workItemId"`
	WorkItem        WorkItem    `json:"workItem"`
	ChildItemsCount int         `json:"childItemsCount"`
	ChildItemIDs    []string    `json:"childItemIds"`
	ChildItems      []ChildItem `json:"childItems"`
	Comment         string      `json:"comment"`
}

// PromptConfig is a per-team generation prompt override, keyed by
// areaPath#businessUnit#system. CreatedAt/CreatedBy are set once;
// UpdatedAt/UpdatedBy track the latest write.
type PromptConfig struct {
	AreaPath     string `json:"areaPath"`
	BusinessUnit string `json:"businessUnit"`
	System       string `json:"system"`
	Prompt       string `json:"prompt"`
	CreatedAt    string `json:"createdAt" format:"date-time"`
	CreatedBy    string `json:"createdBy"`
	UpdatedAt    string `json:"updatedAt" format:"date-time"`
	UpdatedBy    string `json:"updatedBy"`
}

// Key returns the composite business key for a prompt config.
func (c PromptConfig) Key() string {
	return PromptKey(c.AreaPath, c.BusinessUnit, c.System)
}

// PromptKey builds the composite key areaPath#businessUnit#system.
func PromptKey(areaPath, businessUnit, system string) string {
	return areaPath + "#" + businessUnit + "#" + system
}

// RunEvent is one stage transition in a run's event log.
type RunEvent struct {
	ID          int64  `json:"id"`
	ExecutionID string `json:"executionId"`
	TS          string `json:"ts" format:"date-time"`
	Type        string `json:"type"`
	Payload     string `json:"payload,omitempty"`
}
