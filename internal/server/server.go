package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"taskgenie/internal/domain"
	"taskgenie/internal/pipeline"
	"taskgenie/internal/store"
)

// Config for the HTTP API handler.
type Config struct {
	Pipeline      *pipeline.Pipeline
	Store         store.Store
	BasePath      string
	WebhookSecret string
	RunTimeout    time.Duration
	Logger        *slog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"bad_request"`
	Message string         `json:"message" example:"workItemId is required"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Task Genie API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	if cfg.RunTimeout == 0 {
		cfg.RunTimeout = 10 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default().With("component", "server")
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope above.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	hcfg := huma.DefaultConfig("Task Genie API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerProcess(group, cfg)
	registerExecutions(group, cfg)
	registerPrompts(group, cfg)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	var verr *pipeline.ValidationError
	if errors.As(err, &verr) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func checkWebhookSecret(cfg Config, got string) huma.StatusError {
	if cfg.WebhookSecret == "" {
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(got), []byte(cfg.WebhookSecret)) != 1 {
		return newAPIError(http.StatusUnauthorized, "unauthorized", "invalid webhook secret", nil)
	}
	return nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 200 {
		return 200
	}
	return limit
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerProcess(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID:   "process-work-item",
		Method:        http.MethodPost,
		Path:          "/work-items/process",
		Summary:       "Process a work item",
		Description:   "Accepts the work item for asynchronous processing and returns immediately. Poll the executions endpoint with the returned executionId for the result.",
		DefaultStatus: http.StatusAccepted,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Secret string         `header:"X-Webhook-Secret"`
		Body   ProcessRequest `json:"body"`
	}) (*struct {
		Body ProcessResponse `json:"body"`
	}, error) {
		if err := checkWebhookSecret(cfg, input.Secret); err != nil {
			return nil, err
		}
		if input.Body.WorkItemID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "workItemId is required", nil)
		}
		req := pipeline.Request{
			ExecutionID:    input.Body.ExecutionID,
			TeamProject:    input.Body.TeamProject,
			WorkItemID:     input.Body.WorkItemID,
			PromptOverride: input.Body.PromptOverride,
		}
		if req.ExecutionID == "" {
			req.ExecutionID = cfg.Pipeline.NewID()
		}
		go func() {
			runCtx, cancel := context.WithTimeout(context.Background(), cfg.RunTimeout)
			defer cancel()
			// Run writes its own terminal record and logs failures.
			_, _ = cfg.Pipeline.Run(runCtx, req)
		}()
		return &struct {
			Body ProcessResponse `json:"body"`
		}{Body: ProcessResponse{ExecutionID: req.ExecutionID, Status: StatusRunning}}, nil
	})
}

func registerExecutions(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "poll-execution",
		Method:      http.MethodGet,
		Path:        "/executions",
		Summary:     "Poll an execution",
		Description: "Returns 202 with status running while no terminal record exists, and 200 with the record once the run has finished.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ExecutionID string `query:"executionId"`
	}) (*struct {
		Status int
		Body   ExecutionStatusResponse `json:"body"`
	}, error) {
		if input.ExecutionID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "executionId is required", nil)
		}
		rec, err := cfg.Store.GetExecution(ctx, input.ExecutionID)
		if errors.Is(err, store.ErrNotFound) {
			return &struct {
				Status int
				Body   ExecutionStatusResponse `json:"body"`
			}{Status: http.StatusAccepted, Body: ExecutionStatusResponse{
				Status:      StatusRunning,
				ExecutionID: input.ExecutionID,
			}}, nil
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Status int
			Body   ExecutionStatusResponse `json:"body"`
		}{Status: http.StatusOK, Body: ExecutionStatusResponse{
			Status:      StatusCompleted,
			ExecutionID: input.ExecutionID,
			Result:      &rec,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "execution-events",
		Method:      http.MethodGet,
		Path:        "/executions/{execution_id}/events",
		Summary:     "Execution event log",
		Errors:      []int{http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		ExecutionID string `path:"execution_id"`
	}) (*struct {
		Body []domain.RunEvent `json:"body"`
	}, error) {
		events, err := cfg.Store.RunEvents(ctx, input.ExecutionID)
		if err != nil {
			return nil, handleError(err)
		}
		if events == nil {
			events = []domain.RunEvent{}
		}
		return &struct {
			Body []domain.RunEvent `json:"body"`
		}{Body: events}, nil
	})
}

func registerPrompts(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "upsert-prompt",
		Method:      http.MethodPut,
		Path:        "/prompts",
		Summary:     "Create or update a prompt config",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body PromptUpsertRequest `json:"body"`
	}) (*struct {
		Body domain.PromptConfig `json:"body"`
	}, error) {
		if input.Body.AreaPath == "" || input.Body.BusinessUnit == "" || input.Body.System == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "areaPath, businessUnit, and system are required", nil)
		}
		if input.Body.Prompt == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "prompt is required", nil)
		}
		username := input.Body.Username
		if username == "" {
			username = "api"
		}
		saved, err := cfg.Store.UpsertPromptConfig(ctx, domain.PromptConfig{
			AreaPath:     input.Body.AreaPath,
			BusinessUnit: input.Body.BusinessUnit,
			System:       input.Body.System,
			Prompt:       input.Body.Prompt,
		}, username, time.Now())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.PromptConfig `json:"body"`
		}{Body: saved}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-prompt",
		Method:      http.MethodGet,
		Path:        "/prompts/lookup",
		Summary:     "Get a prompt config",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		AreaPath     string `query:"areaPath"`
		BusinessUnit string `query:"businessUnit"`
		System       string `query:"system"`
	}) (*struct {
		Body domain.PromptConfig `json:"body"`
	}, error) {
		if input.AreaPath == "" || input.BusinessUnit == "" || input.System == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "areaPath, businessUnit, and system are required", nil)
		}
		cfgOut, err := cfg.Store.GetPromptConfig(ctx, input.AreaPath, input.BusinessUnit, input.System)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.PromptConfig `json:"body"`
		}{Body: cfgOut}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-prompts",
		Method:      http.MethodGet,
		Path:        "/prompts",
		Summary:     "List prompt configs",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginatedPrompts `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		items, err := cfg.Store.ListPromptConfigs(ctx, limit+1, input.Cursor)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedPrompts{Items: []domain.PromptConfig{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = items[limit-1].Key()
		}
		resp.Items = items
		return &struct {
			Body paginatedPrompts `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-prompt",
		Method:      http.MethodDelete,
		Path:        "/prompts",
		Summary:     "Delete a prompt config",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		AreaPath     string `query:"areaPath"`
		BusinessUnit string `query:"businessUnit"`
		System       string `query:"system"`
	}) (*struct{}, error) {
		if input.AreaPath == "" || input.BusinessUnit == "" || input.System == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "areaPath, businessUnit, and system are required", nil)
		}
		key := domain.PromptKey(input.AreaPath, input.BusinessUnit, input.System)
		if err := cfg.Store.DeletePromptConfig(ctx, key); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
