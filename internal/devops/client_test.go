package devops

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"taskgenie/internal/domain"
)

func newTokenServer(t *testing.T, tokenRequests *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tokenRequests != nil {
			tokenRequests.Add(1)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse token form: %v", err)
		}
		if got := r.Form.Get("grant_type"); got != "client_credentials" {
			t.Errorf("grant_type = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-123",
			"expires_in":   3600,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, handler http.Handler, tokenRequests *atomic.Int64) *Client {
	t.Helper()
	api := httptest.NewServer(handler)
	t.Cleanup(api.Close)
	tokens := newTokenServer(t, tokenRequests)
	return NewClient(Config{
		Organization: "acme",
		TenantID:     "tenant",
		ClientID:     "client",
		ClientSecret: "secret",
		MentionUser:  "Project Lead",
		BaseURL:      api.URL,
		TokenURL:     tokens.URL,
	})
}

func TestGetWorkItemMapsFields(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-123" {
			t.Errorf("Authorization = %q", got)
		}
		if !strings.Contains(r.URL.Path, "/Platform/_apis/wit/workItems/42") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id": 42,
			"fields": map[string]any{
				"System.Title":        "Checkout flow",
				"System.Description":  "<p>desc</p>",
				"System.WorkItemType": "User Story",
				"System.AreaPath":     "Acme\\Web",
				"System.Tags":         "Task Genie; backlog",
				"System.TeamProject":  "Platform",
			},
		})
	})
	c := newTestClient(t, handler, nil)

	item, err := c.GetWorkItem(context.Background(), "Platform", "42")
	if err != nil {
		t.Fatalf("GetWorkItem: %v", err)
	}
	if item.ID != "42" || item.Title != "Checkout flow" {
		t.Fatalf("unexpected item %+v", item)
	}
	if item.ItemType != domain.ItemTypeStory {
		t.Errorf("ItemType = %s, want story", item.ItemType)
	}
	if len(item.Tags) != 2 || item.Tags[0] != "Task Genie" || item.Tags[1] != "backlog" {
		t.Errorf("Tags = %v", item.Tags)
	}
	if !item.HasTag("Task Genie") {
		t.Error("HasTag(Task Genie) = false")
	}
}

func TestAccessTokenIsCached(t *testing.T) {
	var tokenRequests atomic.Int64
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"id": 1, "fields": map[string]any{"System.TeamProject": "P"}})
	})
	c := newTestClient(t, handler, &tokenRequests)

	for i := 0; i < 3; i++ {
		if _, err := c.GetWorkItem(context.Background(), "P", "1"); err != nil {
			t.Fatalf("GetWorkItem: %v", err)
		}
	}
	if got := tokenRequests.Load(); got != 1 {
		t.Errorf("token requests = %d, want 1", got)
	}
}

func TestGetChildItemsFiltersClosedStates(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "/workitemsbatch"):
			var req struct {
				IDs []int `json:"ids"`
			}
			json.NewDecoder(r.Body).Decode(&req)
			if len(req.IDs) != 3 {
				t.Errorf("batch ids = %v", req.IDs)
			}
			json.NewEncoder(w).Encode(map[string]any{
				"value": []map[string]any{
					{"id": 10, "fields": map[string]any{"System.Title": "Open task", "System.WorkItemType": "Task", "System.State": "New"}},
					{"id": 11, "fields": map[string]any{"System.Title": "Done task", "System.WorkItemType": "Task", "System.State": "Closed"}},
					{"id": 12, "fields": map[string]any{"System.Title": "Gone task", "System.WorkItemType": "Task", "System.State": "Removed"}},
				},
			})
		default:
			if r.URL.Query().Get("$expand") != "relations" {
				t.Errorf("missing $expand, query %s", r.URL.RawQuery)
			}
			json.NewEncoder(w).Encode(map[string]any{
				"id": 5,
				"relations": []map[string]any{
					{"rel": "System.LinkTypes.Hierarchy-Forward", "url": "https://x/_apis/wit/workItems/10"},
					{"rel": "System.LinkTypes.Hierarchy-Forward", "url": "https://x/_apis/wit/workItems/11"},
					{"rel": "System.LinkTypes.Hierarchy-Forward", "url": "https://x/_apis/wit/workItems/12"},
					{"rel": "System.LinkTypes.Hierarchy-Reverse", "url": "https://x/_apis/wit/workItems/4"},
				},
			})
		}
	})
	c := newTestClient(t, handler, nil)

	children, err := c.GetChildItems(context.Background(), domain.WorkItem{ID: "5", TeamProject: "P"})
	if err != nil {
		t.Fatalf("GetChildItems: %v", err)
	}
	if len(children) != 1 || children[0].ID != "10" || children[0].Title != "Open task" {
		t.Fatalf("children = %+v", children)
	}
}

func TestCreateChildThenLink(t *testing.T) {
	var linked bool
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			if got := r.Header.Get("Content-Type"); got != "application/json-patch+json" {
				t.Errorf("create Content-Type = %q", got)
			}
			var ops []patchOp
			json.NewDecoder(r.Body).Decode(&ops)
			byPath := map[string]any{}
			for _, op := range ops {
				byPath[op.Path] = op.Value
			}
			if byPath["/fields/System.Title"] != "1. Build login form" {
				t.Errorf("title op = %v", byPath["/fields/System.Title"])
			}
			if byPath["/fields/System.AreaPath"] != "Acme\\Web" {
				t.Errorf("area path op = %v", byPath["/fields/System.AreaPath"])
			}
			if byPath["/fields/System.Tags"] != "Task Genie" {
				t.Errorf("tags op = %v", byPath["/fields/System.Tags"])
			}
			json.NewEncoder(w).Encode(map[string]any{"id": 900})
		case http.MethodPatch:
			linked = true
			if !strings.Contains(r.URL.Path, "/workitems/5") {
				t.Errorf("link path = %s", r.URL.Path)
			}
			var ops []patchOp
			json.NewDecoder(r.Body).Decode(&ops)
			if len(ops) != 1 || ops[0].Path != "/relations/-" {
				t.Errorf("link ops = %+v", ops)
			}
			w.WriteHeader(http.StatusOK)
		}
	})
	c := newTestClient(t, handler, nil)

	parent := domain.WorkItem{ID: "5", TeamProject: "P", AreaPath: "Acme\\Web", IterationPath: "Acme\\S1"}
	child := domain.ChildItem{Title: "1. Build login form", Description: "<p>form</p>", ItemType: domain.ItemTypeTask}
	id, err := c.CreateChild(context.Background(), parent, child, "Task Genie")
	if err != nil {
		t.Fatalf("CreateChild: %v", err)
	}
	if id != "900" {
		t.Errorf("child id = %s", id)
	}
	if !linked {
		t.Error("link call never made")
	}
}

func TestCreateChildLinkFailureStillReturnsID(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			json.NewEncoder(w).Encode(map[string]any{"id": 901})
		case http.MethodPatch:
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	})
	c := newTestClient(t, handler, nil)

	parent := domain.WorkItem{ID: "5", TeamProject: "P"}
	id, err := c.CreateChild(context.Background(), parent, domain.ChildItem{Title: "t", Description: "d", ItemType: domain.ItemTypeTask}, "")
	if err == nil {
		t.Fatal("expected link error")
	}
	if id != "901" {
		t.Errorf("child id = %s, want 901 despite link failure", id)
	}
}

func TestCommentUsesMentionMarkup(t *testing.T) {
	var body map[string]string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/workItems/42/comments") {
			t.Errorf("comment path = %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "{}")
	})
	c := newTestClient(t, handler, nil)

	err := c.Comment(context.Background(), domain.WorkItem{ID: "42", TeamProject: "P"}, "Needs acceptance criteria.")
	if err != nil {
		t.Fatalf("Comment: %v", err)
	}
	if !strings.Contains(body["text"], "data-vss-mention") {
		t.Errorf("comment text missing mention markup: %s", body["text"])
	}
	if !strings.Contains(body["text"], "@Project Lead") || !strings.Contains(body["text"], "Needs acceptance criteria.") {
		t.Errorf("comment text = %s", body["text"])
	}
}

func TestAddTag(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("method = %s", r.Method)
		}
		var ops []patchOp
		json.NewDecoder(r.Body).Decode(&ops)
		if len(ops) != 1 || ops[0].Path != "/fields/System.Tags" || ops[0].Value != "Task Genie" {
			t.Errorf("ops = %+v", ops)
		}
		w.WriteHeader(http.StatusOK)
	})
	c := newTestClient(t, handler, nil)

	if err := c.AddTag(context.Background(), domain.WorkItem{ID: "42", TeamProject: "P"}, "Task Genie"); err != nil {
		t.Fatalf("AddTag: %v", err)
	}
}
