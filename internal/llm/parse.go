package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"taskgenie/internal/domain"
)

// safeJSONObject extracts the JSON object embedded in a model response.
// Models occasionally wrap the object in prose or code fences; the
// substring from the first '{' to the last '}' is taken as the payload.
func safeJSONObject(s string) (string, error) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end <= start {
		return "", fmt.Errorf("no JSON object in model response")
	}
	return s[start : end+1], nil
}

func parseEvaluation(raw string) (Evaluation, error) {
	payload, err := safeJSONObject(raw)
	if err != nil {
		return Evaluation{}, err
	}
	var ev Evaluation
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return Evaluation{}, fmt.Errorf("invalid JSON in model response: %w", err)
	}
	if !ev.Pass && ev.Comment == "" {
		ev.Comment = "The work item needs more detail before it can be decomposed."
	}
	return ev, nil
}

func parseChildItems(raw string, itemType domain.ItemType) ([]domain.ChildItem, error) {
	payload, err := safeJSONObject(raw)
	if err != nil {
		return nil, err
	}
	var resp struct {
		WorkItems []struct {
			Title       string `json:"title"`
			Description string `json:"description"`
		} `json:"workItems"`
	}
	if err := json.Unmarshal([]byte(payload), &resp); err != nil {
		return nil, fmt.Errorf("invalid JSON in model response: %w", err)
	}
	if resp.WorkItems == nil {
		return nil, fmt.Errorf("model response missing workItems")
	}
	children := make([]domain.ChildItem, 0, len(resp.WorkItems))
	for i, wi := range resp.WorkItems {
		if wi.Title == "" || wi.Description == "" {
			return nil, fmt.Errorf("generated item %d missing title or description", i+1)
		}
		children = append(children, domain.ChildItem{
			Title:       wi.Title,
			Description: wi.Description,
			ItemType:    itemType,
		})
	}
	return children, nil
}
