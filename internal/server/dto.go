package server

import "taskgenie/internal/domain"

// Execution status values reported by the poll endpoint.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
)

// ProcessRequest is the webhook payload accepted by the process endpoint.
type ProcessRequest struct {
	WorkItemID     string `json:"workItemId" example:"42"`
	TeamProject    string `json:"teamProject,omitempty" example:"Platform"`
	ExecutionID    string `json:"executionId,omitempty"`
	PromptOverride string `json:"promptOverride,omitempty"`
}

// ProcessResponse acknowledges an accepted run.
type ProcessResponse struct {
	ExecutionID string `json:"executionId"`
	Status      string `json:"status" enum:"running"`
}

// ExecutionStatusResponse is the poll result. Result is set only when the
// run has reached a terminal record.
type ExecutionStatusResponse struct {
	Status      string            `json:"status" enum:"running,completed"`
	ExecutionID string            `json:"executionId"`
	Result      *domain.Execution `json:"result,omitempty"`
}

// PromptUpsertRequest creates or replaces a prompt config.
type PromptUpsertRequest struct {
	AreaPath     string `json:"areaPath"`
	BusinessUnit string `json:"businessUnit"`
	System       string `json:"system"`
	Prompt       string `json:"prompt"`
	Username     string `json:"username,omitempty"`
}

type paginatedPrompts struct {
	Items      []domain.PromptConfig `json:"items"`
	NextCursor string                `json:"nextCursor,omitempty"`
}
