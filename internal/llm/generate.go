package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"taskgenie/internal/domain"
)

// Generate decomposes a well-defined work item into child items. The
// returned slice preserves the model's ordering and may be empty, which
// means no decomposition is needed. promptOverride replaces the default
// system instructions when non-empty; existing children are given to the
// model so it does not duplicate them.
func (c *Client) Generate(ctx context.Context, item domain.WorkItem, existing []domain.ChildItem, promptOverride string) ([]domain.ChildItem, error) {
	logger := slog.Default().With("component", "llm", "model", string(c.Model()), "workItemId", item.ID)
	logger.InfoContext(ctx, "generating child items",
		"itemType", item.ItemType,
		"existingCount", len(existing),
		"promptOverride", promptOverride != "")

	raw, err := c.complete(ctx, generationSystemPrompt(item, promptOverride), generationUserPrompt(item, existing), maxOutputTokens)
	if err != nil {
		return nil, fmt.Errorf("generate child items for %s: %w", item.ID, err)
	}

	children, err := parseChildItems(raw, childItemType(item.ItemType))
	if err != nil {
		return nil, fmt.Errorf("generate child items for %s: %w", item.ID, err)
	}
	logger.InfoContext(ctx, "generation completed", "count", len(children))
	return children, nil
}

// childItemType maps a parent type to the type of items it decomposes into.
func childItemType(parent domain.ItemType) domain.ItemType {
	switch parent {
	case domain.ItemTypeEpic:
		return domain.ItemTypeFeature
	case domain.ItemTypeFeature:
		return domain.ItemTypeStory
	default:
		return domain.ItemTypeTask
	}
}

func generationSystemPrompt(item domain.WorkItem, override string) string {
	base := override
	if base == "" {
		base = defaultGenerationPrompt(item.ItemType)
	}
	child := childItemType(item.ItemType)
	return fmt.Sprintf(`%s

**Output Rules**
- ONLY return a JSON object with the following structure:
  - "workItems": array of %s objects, each with:
    - "title": string (%s title, prefixed with order, e.g., "1. Title")
    - "description": string (detailed description with HTML formatting)
- DO NOT output any text outside of the JSON object.`, base, child, child)
}

func defaultGenerationPrompt(parent domain.ItemType) string {
	switch parent {
	case domain.ItemTypeEpic:
		return `You are an expert Agile software development assistant that specializes in decomposing an Epic into clear, actionable, and appropriately sized Features.
**Instructions**
- Your task is to break down the provided Epic into a sequence of Features that are clear and deliver business value.
- Ensure each Feature has a title and a comprehensive description.
- Avoid creating duplicate Features if they already exist.`
	case domain.ItemTypeFeature:
		return `You are an expert Agile software development assistant that specializes in decomposing a Feature into clear, actionable, and appropriately sized Stories.
**Instructions**
- Your task is to break down the provided Feature into a sequence of Stories that are clear and deliver business value.
- Ensure each Story has a title, description, and acceptance criteria.
- Avoid creating duplicate Stories if they already exist.`
	default:
		return `You are an expert Agile software development assistant that specializes in decomposing a Story into clear, actionable, and appropriately sized Tasks.
**Instructions**
- Your task is to break down the provided Story into a sequence of Tasks that are clear and actionable for developers to work on. Each task should be independent and deployable.
- Ensure each Task has a title and a description that guides the developer (why, what, how, technical details, references to relevant systems/APIs).
- Avoid creating duplicate Tasks if they already exist.
- Do NOT create any Tasks for analysis, investigation, testing, or deployment.`
	}
}

func generationUserPrompt(item domain.WorkItem, existing []domain.ChildItem) string {
	var b strings.Builder
	b.WriteString("**Context**\n- Work item:\nUse this information to understand the scope and expectation to generate relevant child items.\n")
	fmt.Fprintf(&b, "  - Work Item Type: %s\n", item.ItemType)
	fmt.Fprintf(&b, "  - Title: %s\n", item.Title)
	fmt.Fprintf(&b, "  - Description: %s\n", item.Description)
	if item.AcceptanceCriteria != "" {
		fmt.Fprintf(&b, "  - Acceptance Criteria: %s\n", item.AcceptanceCriteria)
	}

	childType := childItemType(item.ItemType)
	fmt.Fprintf(&b, "\n- Existing %ss (if any):\nAvoid duplicating these; generate only missing or supplementary items for completeness.\n", childType)
	if len(existing) == 0 {
		b.WriteString("  None\n")
	}
	for i, child := range existing {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, child.Title)
		if child.Description != "" {
			fmt.Fprintf(&b, "     Description: %s\n", child.Description)
		}
	}
	return b.String()
}
