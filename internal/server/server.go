package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"forgegate/internal/domain"
	"forgegate/internal/engine"
	"forgegate/internal/ratelimit"
	"forgegate/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine    engine.Engine
	BasePath  string
	Auth      AuthConfig
	Limiter   ratelimit.Limiter
	RateLimit int
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"session_scope_mismatch"`
	Message string         `json:"message" example:"token is not valid for this session"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"status\":\"consumed\"}"`
}

// apiError models the error envelope every failure response uses.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Forgegate API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/api/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			// Schema validation failures are plain validation errors here.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Limiter, cfg.RateLimit))
	hcfg := huma.DefaultConfig("Forgegate API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerAuth(group, cfg.Auth, cfg.Engine)
	registerProjects(group, cfg.Engine)
	registerArtifacts(group, cfg.Engine)
	registerApprovals(group, cfg.Engine)
	registerGate(group, cfg.Engine)
	registerChecks(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerAudit(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

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

// handleError maps engine and repo failures onto the stable error code
// taxonomy clients dispatch on.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		details := map[string]any{}
		if ve.Field != "" {
			details["field"] = ve.Field
		}
		return newAPIError(http.StatusBadRequest, "validation_error", err.Error(), details)
	}
	var nu engine.ApprovalNotUsableError
	if errors.As(err, &nu) {
		return newAPIError(http.StatusBadRequest, "approval_not_usable", err.Error(), map[string]any{"status": nu.Status})
	}
	switch {
	case errors.Is(err, engine.ErrApprovalNotFound):
		return newAPIError(http.StatusNotFound, "approval_not_found", err.Error(), nil)
	case errors.Is(err, engine.ErrApprovalExpired):
		return newAPIError(http.StatusBadRequest, "approval_expired", err.Error(), nil)
	case errors.Is(err, engine.ErrGateNotPassed):
		return newAPIError(http.StatusConflict, "gate_not_passed", err.Error(), nil)
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "validation_error"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func actorFor(p Principal) engine.Actor {
	return engine.Actor{Sub: p.Sub, Role: p.Role, ProjectID: p.ProjectID}
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

func registerAuth(api huma.API, auth AuthConfig, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "mint-token",
		Method:      http.MethodPost,
		Path:        "/auth/token",
		Summary:     "Exchange an API key for a scoped access token",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body MintTokenRequest `json:"body"`
	}) (*struct {
		Body MintTokenResponse `json:"body"`
	}, error) {
		if input.Body.APIKey == "" {
			return nil, newAPIError(http.StatusBadRequest, "validation_error", "api_key is required", map[string]any{"field": "api_key"})
		}
		if input.Body.Role == "" {
			return nil, newAPIError(http.StatusBadRequest, "validation_error", "role is required", map[string]any{"field": "role"})
		}
		if !validRole(input.Body.Role) {
			return nil, newAPIError(http.StatusBadRequest, "validation_error", fmt.Sprintf("unknown role %q", input.Body.Role), map[string]any{"field": "role"})
		}
		token, ttl, err := auth.MintToken(input.Body.APIKey, input.Body.Role, input.Body.ProjectID,
			input.Body.SessionID, input.Body.Subject, input.Body.TTLSeconds, e.Now())
		if errors.Is(err, errInvalidAPIKey) {
			return nil, newAPIError(http.StatusUnauthorized, "invalid_api_key", "invalid api key", nil)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MintTokenResponse `json:"body"`
		}{Body: MintTokenResponse{
			AccessToken: token,
			TokenType:   "Bearer",
			ExpiresIn:   ttl,
		}}, nil
	})
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		_, authErr := requireRole(ctx, domain.RoleAdmin)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.Name == "" {
			return nil, newAPIError(http.StatusBadRequest, "validation_error", "name is required", map[string]any{"field": "name"})
		}
		p, err := e.CreateProject(ctx, input.Body.ID, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-session",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/sessions",
		Summary:       "Create pipeline session",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Body      CreateSessionRequest
	}) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		_, authErr := requireRole(ctx, domain.RoleAdmin)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.CreateSession(ctx, input.ProjectID, input.Body.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SessionResponse `json:"body"`
		}{Body: sessionResponse(s)}, nil
	})
}

func registerArtifacts(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "presign-put-artifact",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/artifacts/presign-put",
		Summary:     "Presign an artifact upload",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		SessionID string `path:"session_id"`
		Body      PresignPutRequest
	}) (*struct {
		Body PresignPutResponse `json:"body"`
	}, error) {
		p, authErr := requireRole(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.PresignPut(ctx, actorFor(p), input.SessionID, engine.PresignPutParams{
			Iteration:   input.Body.Iteration,
			Name:        input.Body.Name,
			ContentType: input.Body.ContentType,
			SizeBytes:   input.Body.SizeBytes,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PresignPutResponse `json:"body"`
		}{Body: PresignPutResponse{
			Artifact:  artifactResponse(res.Artifact),
			UploadURL: res.UploadURL,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-artifact",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/artifacts/complete",
		Summary:     "Mark an uploaded artifact complete",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		SessionID string `path:"session_id"`
		Body      CompleteArtifactRequest
	}) (*struct {
		Body ArtifactResponse `json:"body"`
	}, error) {
		p, authErr := requireRole(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.CompleteArtifact(ctx, actorFor(p), input.SessionID, input.Body.Key, input.Body.SHA256, input.Body.SizeBytes); err != nil {
			return nil, handleError(err)
		}
		a, err := e.Repo.GetArtifactByKey(ctx, input.SessionID, input.Body.Key)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ArtifactResponse `json:"body"`
		}{Body: artifactResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "presign-get-artifact",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}/artifacts/presign-get",
		Summary:     "Presign an artifact download",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		SessionID string `path:"session_id"`
		Key       string `query:"key" required:"true" doc:"Storage key returned by presign-put"`
	}) (*struct {
		Body PresignGetResponse `json:"body"`
	}, error) {
		p, authErr := requireRole(ctx)
		if authErr != nil {
			return nil, authErr
		}
		url, err := e.PresignGet(ctx, actorFor(p), input.SessionID, input.Key)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PresignGetResponse `json:"body"`
		}{Body: PresignGetResponse{
			Key:         input.Key,
			DownloadURL: url,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-artifacts",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}/artifacts",
		Summary:     "List session artifacts",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SessionID string `path:"session_id"`
	}) (*struct {
		Body []ArtifactResponse `json:"body"`
	}, error) {
		p, authErr := requireRole(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := e.ResolveSession(ctx, actorFor(p), input.SessionID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListArtifacts(ctx, input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ArtifactResponse `json:"body"`
		}{Body: mapArtifacts(items)}, nil
	})
}

func registerApprovals(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "request-apply-approval",
		Method:        http.MethodPost,
		Path:          "/sessions/{session_id}/approvals/apply",
		Summary:       "Issue a single-use apply approval token",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		SessionID string `path:"session_id"`
		Body      RequestApprovalRequest
	}) (*struct {
		Body ApprovalGrantResponse `json:"body"`
	}, error) {
		p, authErr := requireRole(ctx, domain.RoleAdmin, domain.RoleUser)
		if authErr != nil {
			return nil, authErr
		}
		grant, err := e.RequestApproval(ctx, actorFor(p), input.SessionID, input.Body.Reason, input.Body.TTLSeconds)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ApprovalGrantResponse `json:"body"`
		}{Body: ApprovalGrantResponse{
			ID:        grant.Approval.ID,
			Token:     grant.RawToken,
			Status:    grant.Approval.Status,
			Reason:    grant.Approval.Reason,
			ExpiresAt: grant.Approval.ExpiresAt,
			ExpiresIn: grant.ExpiresInSeconds,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "consume-apply-approval",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/approvals/apply/consume",
		Summary:     "Consume an apply approval token",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		SessionID string `path:"session_id"`
		Body      ConsumeApprovalRequest
	}) (*struct {
		Body ConsumeApprovalResponse `json:"body"`
	}, error) {
		p, authErr := requireRole(ctx, domain.RoleAdmin, domain.RoleRunner)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.Token == "" {
			return nil, newAPIError(http.StatusBadRequest, "validation_error", "token is required", map[string]any{"field": "token"})
		}
		if err := e.ConsumeApproval(ctx, actorFor(p), input.SessionID, input.Body.Token); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ConsumeApprovalResponse `json:"body"`
		}{Body: ConsumeApprovalResponse{Consumed: true}}, nil
	})
}

func registerGate(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "evaluate-gate",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}/gate",
		Summary:     "Evaluate the session readiness gate",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SessionID string `path:"session_id"`
	}) (*struct {
		Body GateResponse `json:"body"`
	}, error) {
		p, authErr := requireRole(ctx)
		if authErr != nil {
			return nil, authErr
		}
		eval, err := e.EvaluateGate(ctx, actorFor(p), input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GateResponse `json:"body"`
		}{Body: gateResponse(eval)}, nil
	})
}

func registerChecks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "report-check",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/checks",
		Summary:     "Report a check outcome",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		SessionID string `path:"session_id"`
		Body      ReportCheckRequest
	}) (*struct {
		Body CheckResponse `json:"body"`
	}, error) {
		p, authErr := requireRole(ctx, domain.RoleAdmin, domain.RoleRunner)
		if authErr != nil {
			return nil, authErr
		}
		rec, err := e.ReportCheck(ctx, actorFor(p), input.SessionID, input.Body.Name, input.Body.OK, input.Body.Details)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CheckResponse `json:"body"`
		}{Body: checkResponse(rec)}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/sessions/{session_id}/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		SessionID string `path:"session_id"`
		Body      CreateTaskRequest
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		p, authErr := requireRole(ctx, domain.RoleAdmin, domain.RoleUser)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.CreateTask(ctx, actorFor(p), input.SessionID, input.Body.Title)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-task-status",
		Method:      http.MethodPatch,
		Path:        "/sessions/{session_id}/tasks/{task_id}",
		Summary:     "Update task status",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		SessionID string `path:"session_id"`
		TaskID    string `path:"task_id"`
		Body      UpdateTaskRequest
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		p, authErr := requireRole(ctx, domain.RoleAdmin, domain.RoleRunner)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.Status == "" {
			return nil, newAPIError(http.StatusBadRequest, "validation_error", "status is required", map[string]any{"field": "status"})
		}
		t, err := e.SetTaskStatus(ctx, actorFor(p), input.SessionID, input.TaskID, input.Body.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}/tasks",
		Summary:     "List session tasks",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SessionID string `path:"session_id"`
	}) (*struct {
		Body []TaskResponse `json:"body"`
	}, error) {
		p, authErr := requireRole(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := e.ResolveSession(ctx, actorFor(p), input.SessionID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListTasks(ctx, input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []TaskResponse `json:"body"`
		}{Body: mapTasks(items)}, nil
	})
}

func registerAudit(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-audit-entries",
		Method:      http.MethodGet,
		Path:        "/audit",
		Summary:     "List audit entries",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		SessionID string `query:"session_id"`
		Action    string `query:"action"`
		Limit     int    `query:"limit" default:"50"`
		Cursor    int64  `query:"cursor"`
	}) (*struct {
		Body paginatedAudit `json:"body"`
	}, error) {
		if _, authErr := requireRole(ctx, domain.RoleAdmin); authErr != nil {
			return nil, authErr
		}
		limit := input.Limit
		if limit <= 0 || limit > 200 {
			limit = 50
		}
		entries, err := e.Repo.ListAuditEntries(ctx, repo.AuditFilters{
			SessionID: input.SessionID,
			Action:    input.Action,
			Limit:     limit + 1,
			Cursor:    input.Cursor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedAudit{Items: []AuditEntryResponse{}}
		if len(entries) > limit {
			resp.NextCursor = entries[limit-1].ID
			entries = entries[:limit]
		}
		resp.Items = mapAuditEntries(entries)
		return &struct {
			Body paginatedAudit `json:"body"`
		}{Body: resp}, nil
	})
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	openPaths := map[string]bool{
		"/" + strings.TrimPrefix(path.Join(basePath, "health"), "/"):     true,
		"/" + strings.TrimPrefix(path.Join(basePath, "auth/token"), "/"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if openPaths[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Forgegate API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt;.
    </p>
  </body>
</html>`, specURL)
}
