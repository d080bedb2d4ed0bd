package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"taskgenie/internal/domain"
)

// Evaluation is the quality-gate verdict for a work item.
type Evaluation struct {
	Pass    bool   `json:"pass"`
	Comment string `json:"comment,omitempty"`
}

// Evaluate asks the model whether the item is well-defined enough to
// decompose. A failing verdict carries feedback for the item's author.
// An empty description is not short-circuited here; the model judges it.
func (c *Client) Evaluate(ctx context.Context, item domain.WorkItem) (Evaluation, error) {
	logger := slog.Default().With("component", "llm", "model", string(c.Model()), "workItemId", item.ID)
	logger.InfoContext(ctx, "evaluating work item", "itemType", item.ItemType)

	raw, err := c.complete(ctx, evaluationSystemPrompt(item), evaluationUserPrompt(item), 2048)
	if err != nil {
		return Evaluation{}, fmt.Errorf("evaluate work item %s: %w", item.ID, err)
	}

	ev, err := parseEvaluation(raw)
	if err != nil {
		return Evaluation{}, fmt.Errorf("evaluate work item %s: %w", item.ID, err)
	}
	logger.InfoContext(ctx, "evaluation completed", "pass", ev.Pass)
	return ev, nil
}

func evaluationSystemPrompt(item domain.WorkItem) string {
	var criteria string
	switch item.ItemType {
	case domain.ItemTypeEpic:
		criteria = `- Evaluate the epic based on the following criteria:
  - It should clearly describe a high-level business objective or strategic goal.
  - The description should provide sufficient business context and rationale.
  - Success criteria should define measurable outcomes or business value.
  - The scope should be appropriate for breaking down into multiple features.`
	case domain.ItemTypeFeature:
		criteria = `- Evaluate the feature based on the following criteria:
  - It should describe a cohesive piece of functionality that delivers user value.
  - The description should clearly define the functional boundaries and user interactions.
  - Success criteria should be testable and define what constitutes completion.
  - The scope should be appropriate for breaking down into multiple stories.`
	default:
		criteria = `- Evaluate the story based on the following criteria:
  - It should generally state the user, the need, and the business value in some way.
  - The acceptance criteria should provide guidance that is testable or verifiable, though it need not be exhaustive.
  - The story should be appropriately sized for a development team to complete within a sprint.`
	}

	return fmt.Sprintf(`You are an AI assistant that reviews work items in a work-tracking system.
**Instructions**
- Evaluate the work item to check if it is reasonably clear and has enough detail for a developer or team to begin with minimal clarification.
- Your task is to assess the quality of a %s based on the provided title, description, and available criteria fields.
%s

**Output Rules**
- Return a JSON object with the following structure:
  - "pass": boolean (true if the work item is good enough to proceed, false only if it is seriously incomplete or confusing)
  - if "pass" is false, include a "comment" field (string) with a clear explanation of what's missing or unclear, and provide an example of a higher-quality %s that would pass. If you have multiple feedback points, use line breaks and indentations with HTML tags.
- Only output the JSON object, no extra text outside it.`, item.ItemType, criteria, item.ItemType)
}

func evaluationUserPrompt(item domain.WorkItem) string {
	var b strings.Builder
	b.WriteString("**Context**\n- Work item:\nUse this information to understand the scope and expectation for evaluation.\n")
	fmt.Fprintf(&b, "  - Work Item Type: %s\n", item.ItemType)
	fmt.Fprintf(&b, "  - Title: %s\n", item.Title)
	fmt.Fprintf(&b, "  - Description: %s\n", item.Description)
	if item.AcceptanceCriteria != "" {
		fmt.Fprintf(&b, "  - Acceptance Criteria: %s\n", item.AcceptanceCriteria)
	}
	return b.String()
}
