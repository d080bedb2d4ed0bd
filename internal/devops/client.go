// Package devops talks to the Azure DevOps work item tracking REST API.
package devops

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"taskgenie/internal/domain"
)

const apiVersion = "7.1"

// Config for the tracking-system client.
type Config struct {
	Organization string
	TenantID     string
	ClientID     string
	ClientSecret string
	Scope        string
	MentionUser  string

	// BaseURL and TokenURL override the service endpoints, for tests.
	BaseURL  string
	TokenURL string
}

// Client is an authenticated Azure DevOps API client. Access tokens are
// cached and refreshed shortly before expiry.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewClient builds a client from validated config.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = fmt.Sprintf("https://%s.visualstudio.com", cfg.Organization)
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", cfg.TenantID)
	}
	if cfg.Scope == "" {
		// Azure DevOps resource id, fixed across tenants.
		cfg.Scope = "499b84ac-1321-427f-aa17-267ca6975798/.default"
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: 30 * time.Second},
		logger: slog.Default().With("component", "devops"),
	}
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && time.Now().Before(c.expiresAt.Add(-60*time.Second)) {
		return c.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)
	form.Set("scope", c.cfg.Scope)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("request access token: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(res.Body)
		return "", fmt.Errorf("request access token: status %d: %s", res.StatusCode, string(body))
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(res.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	c.token = tok.AccessToken
	c.expiresAt = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	c.logger.Debug("refreshed access token", "expiresIn", tok.ExpiresIn)
	return c.token, nil
}

func (c *Client) do(ctx context.Context, method, url string, contentType string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		data, _ := io.ReadAll(res.Body)
		return fmt.Errorf("%s %s: status %d: %s", method, url, res.StatusCode, string(data))
	}
	if out != nil {
		return json.NewDecoder(res.Body).Decode(out)
	}
	return nil
}

type workItemFields struct {
	Title              string `json:"System.Title"`
	Description        string `json:"System.Description"`
	AcceptanceCriteria string `json:"Microsoft.VSTS.Common.AcceptanceCriteria"`
	WorkItemType       string `json:"System.WorkItemType"`
	AreaPath           string `json:"System.AreaPath"`
	IterationPath      string `json:"System.IterationPath"`
	State              string `json:"System.State"`
	Tags               string `json:"System.Tags"`
	TeamProject        string `json:"System.TeamProject"`
	BusinessUnit       string `json:"Custom.BusinessUnit"`
	System             string `json:"Custom.System"`
	ChangedBy          struct {
		UniqueName  string `json:"uniqueName"`
		DisplayName string `json:"displayName"`
	} `json:"System.ChangedBy"`
}

type workItemResponse struct {
	ID        int            `json:"id"`
	Fields    workItemFields `json:"fields"`
	Relations []struct {
		Rel string `json:"rel"`
		URL string `json:"url"`
	} `json:"relations"`
}

func toWorkItem(w workItemResponse) domain.WorkItem {
	item := domain.WorkItem{
		ID:                 strconv.Itoa(w.ID),
		Title:              w.Fields.Title,
		Description:        w.Fields.Description,
		AcceptanceCriteria: w.Fields.AcceptanceCriteria,
		ItemType:           normalizeItemType(w.Fields.WorkItemType),
		AreaPath:           w.Fields.AreaPath,
		IterationPath:      w.Fields.IterationPath,
		BusinessUnit:       w.Fields.BusinessUnit,
		System:             w.Fields.System,
		ChangedBy:          w.Fields.ChangedBy.DisplayName,
		TeamProject:        w.Fields.TeamProject,
	}
	if w.Fields.Tags != "" {
		for _, tag := range strings.Split(w.Fields.Tags, ";") {
			if t := strings.TrimSpace(tag); t != "" {
				item.Tags = append(item.Tags, t)
			}
		}
	}
	return item
}

// normalizeItemType folds tracker-specific type names onto the pipeline's
// item type enum. "User Story" and "Product Backlog Item" are both stories.
func normalizeItemType(s string) domain.ItemType {
	switch s {
	case "Epic":
		return domain.ItemTypeEpic
	case "Feature":
		return domain.ItemTypeFeature
	case "Task":
		return domain.ItemTypeTask
	default:
		return domain.ItemTypeStory
	}
}

// GetWorkItem fetches a work item snapshot by id.
func (c *Client) GetWorkItem(ctx context.Context, teamProject, id string) (domain.WorkItem, error) {
	u := fmt.Sprintf("%s/%s/_apis/wit/workItems/%s?api-version=%s", c.cfg.BaseURL, url.PathEscape(teamProject), url.PathEscape(id), apiVersion)
	var resp workItemResponse
	if err := c.do(ctx, http.MethodGet, u, "", nil, &resp); err != nil {
		return domain.WorkItem{}, fmt.Errorf("get work item %s: %w", id, err)
	}
	item := toWorkItem(resp)
	if item.TeamProject == "" {
		item.TeamProject = teamProject
	}
	return item, nil
}

// GetChildItems returns the item's existing hierarchy children, skipping
// ones in a closed-out state.
func (c *Client) GetChildItems(ctx context.Context, item domain.WorkItem) ([]domain.ChildItem, error) {
	u := fmt.Sprintf("%s/%s/_apis/wit/workItems/%s?$expand=relations&api-version=%s",
		c.cfg.BaseURL, url.PathEscape(item.TeamProject), url.PathEscape(item.ID), apiVersion)
	var resp workItemResponse
	if err := c.do(ctx, http.MethodGet, u, "", nil, &resp); err != nil {
		return nil, fmt.Errorf("get child items of %s: %w", item.ID, err)
	}

	var ids []int
	for _, rel := range resp.Relations {
		if rel.Rel != "System.LinkTypes.Hierarchy-Forward" || rel.URL == "" {
			continue
		}
		seg := rel.URL[strings.LastIndex(rel.URL, "/")+1:]
		id, err := strconv.Atoi(seg)
		if err != nil {
			c.logger.Warn("unparsable child relation url", "url", rel.URL)
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	batchURL := fmt.Sprintf("%s/%s/_apis/wit/workitemsbatch?api-version=%s", c.cfg.BaseURL, url.PathEscape(item.TeamProject), apiVersion)
	batchReq := map[string]any{
		"ids":    ids,
		"fields": []string{"System.Id", "System.Title", "System.Description", "System.WorkItemType", "System.State"},
	}
	var batch struct {
		Value []workItemResponse `json:"value"`
	}
	if err := c.do(ctx, http.MethodPost, batchURL, "application/json", batchReq, &batch); err != nil {
		return nil, fmt.Errorf("batch fetch children of %s: %w", item.ID, err)
	}

	var children []domain.ChildItem
	for _, w := range batch.Value {
		switch w.Fields.State {
		case "Removed", "Closed", "Resolved":
			continue
		}
		children = append(children, domain.ChildItem{
			ID:          strconv.Itoa(w.ID),
			Title:       w.Fields.Title,
			Description: w.Fields.Description,
			ItemType:    normalizeItemType(w.Fields.WorkItemType),
		})
	}
	return children, nil
}

type patchOp struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value"`
}

// CreateChild creates one child item under the parent and links it. The
// link is a second call; if it fails the child survives unlinked, which
// is logged and reported through err while the created id is still
// returned to the caller.
func (c *Client) CreateChild(ctx context.Context, parent domain.WorkItem, child domain.ChildItem, tag string) (string, error) {
	ops := []patchOp{
		{Op: "add", Path: "/fields/System.Title", Value: child.Title},
		{Op: "add", Path: "/fields/System.Description", Value: child.Description},
		{Op: "add", Path: "/fields/System.AreaPath", Value: parent.AreaPath},
		{Op: "add", Path: "/fields/System.IterationPath", Value: parent.IterationPath},
	}
	if tag != "" {
		ops = append(ops, patchOp{Op: "add", Path: "/fields/System.Tags", Value: tag})
	}

	u := fmt.Sprintf("%s/%s/_apis/wit/workitems/$%s?api-version=%s",
		c.cfg.BaseURL, url.PathEscape(parent.TeamProject), url.PathEscape(string(child.ItemType)), apiVersion)
	var created workItemResponse
	if err := c.do(ctx, http.MethodPost, u, "application/json-patch+json", ops, &created); err != nil {
		return "", fmt.Errorf("create %s under %s: %w", child.ItemType, parent.ID, err)
	}
	childID := strconv.Itoa(created.ID)
	c.logger.Info("created child item", "childId", childID, "parentId", parent.ID)

	if err := c.link(ctx, parent.TeamProject, parent.ID, childID); err != nil {
		c.logger.Warn("child created but linking failed", "childId", childID, "parentId", parent.ID, "error", err)
		return childID, err
	}
	return childID, nil
}

func (c *Client) link(ctx context.Context, teamProject, parentID, childID string) error {
	u := fmt.Sprintf("%s/%s/_apis/wit/workitems/%s?api-version=%s", c.cfg.BaseURL, url.PathEscape(teamProject), url.PathEscape(parentID), apiVersion)
	body := []patchOp{{
		Op:   "add",
		Path: "/relations/-",
		Value: map[string]any{
			"rel": "System.LinkTypes.Hierarchy-Forward",
			"url": fmt.Sprintf("%s/%s/_apis/wit/workItems/%s", c.cfg.BaseURL, url.PathEscape(teamProject), childID),
			"attributes": map[string]any{
				"comment": "Linking dependency",
			},
		},
	}}
	if err := c.do(ctx, http.MethodPatch, u, "application/json-patch+json", body, nil); err != nil {
		return fmt.Errorf("link %s to parent %s: %w", childID, parentID, err)
	}
	return nil
}

// Comment posts a discussion comment on the item, mentioning the
// configured user when one is set.
func (c *Client) Comment(ctx context.Context, item domain.WorkItem, text string) error {
	u := fmt.Sprintf("%s/%s/_apis/wit/workItems/%s/comments?api-version=7.1-preview.4",
		c.cfg.BaseURL, url.PathEscape(item.TeamProject), url.PathEscape(item.ID))
	mention := c.cfg.MentionUser
	if mention == "" {
		mention = item.ChangedBy
	}
	body := map[string]string{
		"text": fmt.Sprintf(`<div><a href="#" data-vss-mention="version:2.0">@%s</a> %s</div>`, mention, text),
	}
	if err := c.do(ctx, http.MethodPost, u, "application/json", body, nil); err != nil {
		return fmt.Errorf("comment on %s: %w", item.ID, err)
	}
	return nil
}

// AddTag appends a tag to the item's tag list.
func (c *Client) AddTag(ctx context.Context, item domain.WorkItem, tag string) error {
	u := fmt.Sprintf("%s/%s/_apis/wit/workItems/%s?api-version=%s", c.cfg.BaseURL, url.PathEscape(item.TeamProject), url.PathEscape(item.ID), apiVersion)
	ops := []patchOp{{Op: "add", Path: "/fields/System.Tags", Value: tag}}
	if err := c.do(ctx, http.MethodPatch, u, "application/json-patch+json", ops, nil); err != nil {
		return fmt.Errorf("tag %s: %w", item.ID, err)
	}
	return nil
}
