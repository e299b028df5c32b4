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
	"time"

	"github.com/charmbracelet/log"
	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/berntpopp/gene-curator-sub000/internal/domain"
	"github.com/berntpopp/gene-curator-sub000/internal/engine"
	"github.com/berntpopp/gene-curator-sub000/internal/engine/auth"
	"github.com/berntpopp/gene-curator-sub000/internal/logging"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	// DevLogin exposes POST /auth/dev/login. Never enable in production.
	DevLogin bool
	// Registry is served on /metrics when set.
	Registry *prometheus.Registry
	Logger   *log.Logger
	// OnMembershipChange is called with the user id after a user or role write.
	OnMembershipChange func(userID string)
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"four_eyes_violation"`
	Message string         `json:"message" example:"reviewer cannot be the item's creator"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

type output[T any] struct {
	Body T
}

func reply[T any](body T) *output[T] { return &output[T]{Body: body} }

// New returns an HTTP handler exposing the curation API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = logger
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors are 400; 422 is reserved for workflow rejections.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(requestLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Gene Curator API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	h := handlers{engine: cfg.Engine, onMembership: cfg.OnMembershipChange}
	if h.onMembership == nil {
		h.onMembership = func(string) {}
	}

	registerDocs(router, basePath)
	registerHealth(group)
	registerMe(group, h)
	if cfg.DevLogin {
		registerDevAuth(group, h, cfg.Auth)
	}
	registerItems(group, h)
	registerWorkflow(group, h)
	registerReviews(group, h)
	registerStatistics(group, h)
	registerAdmin(group, h)
	registerOpenAPI(router, api, basePath)
	if cfg.Registry != nil {
		router.Handle("/metrics", promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}))
	}
	return router, nil
}

func requestLogger(logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()))
		})
	}
}

type handlers struct {
	engine       engine.Engine
	onMembership func(userID string)
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

func badRequest(format string, args ...any) huma.StatusError {
	return newAPIError(http.StatusBadRequest, "bad_request", fmt.Sprintf(format, args...), nil)
}

// handleError maps engine errors onto the envelope. A rejected transition
// carries its validation result under details.validation.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"scope_id": fe.Scope, "role": string(fe.Role)})
	}
	var details map[string]any
	var we *engine.WorkflowError
	if errors.As(err, &we) && we.Result != nil {
		details = map[string]any{"validation": *we.Result}
	}
	msg := err.Error()
	switch {
	case errors.Is(err, engine.ErrInvalidInput):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, details)
	case errors.Is(err, engine.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", msg, details)
	case errors.Is(err, engine.ErrFourEyesViolation):
		return newAPIError(http.StatusForbidden, "four_eyes_violation", msg, details)
	case errors.Is(err, engine.ErrReviewerMismatch):
		return newAPIError(http.StatusForbidden, "reviewer_mismatch", msg, details)
	case errors.Is(err, engine.ErrUnauthorized):
		return newAPIError(http.StatusForbidden, "forbidden", msg, details)
	case errors.Is(err, engine.ErrAlreadyCompleted):
		return newAPIError(http.StatusConflict, "review_completed", msg, details)
	case errors.Is(err, engine.ErrAlreadyAssigned):
		return newAPIError(http.StatusConflict, "already_assigned", msg, details)
	case errors.Is(err, engine.ErrStructuralValidation):
		return newAPIError(http.StatusUnprocessableEntity, "structural_validation_failed", msg, details)
	case errors.Is(err, engine.ErrInvalidTransition):
		return newAPIError(http.StatusUnprocessableEntity, "invalid_transition", msg, details)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// requireScopeRole passes application admins and members of scopeID holding
// one of allowed. An empty allowed list accepts any membership.
func requireScopeRole(ctx context.Context, e engine.Engine, actorID, scopeID string, allowed ...domain.Role) error {
	admin, err := e.Oracle.IsApplicationAdmin(ctx, actorID)
	if err != nil {
		return err
	}
	if admin {
		return nil
	}
	role, ok, err := e.Oracle.UserRoleInScope(ctx, actorID, scopeID)
	if err != nil {
		return err
	}
	if !ok {
		return auth.ForbiddenError{Scope: scopeID}
	}
	if len(allowed) == 0 {
		return nil
	}
	for _, r := range allowed {
		if r == role {
			return nil
		}
	}
	return auth.ForbiddenError{Scope: scopeID, Role: role}
}

func requireAdmin(ctx context.Context, e engine.Engine, actorID string) error {
	admin, err := e.Oracle.IsApplicationAdmin(ctx, actorID)
	if err != nil {
		return err
	}
	if !admin {
		return newAPIError(http.StatusForbidden, "forbidden", "application admin required", nil)
	}
	return nil
}

func parseRef(itemType, id string) (domain.ItemRef, error) {
	t, err := domain.ParseItemType(itemType)
	if err != nil {
		return domain.ItemRef{}, badRequest("%v", err)
	}
	return domain.ItemRef{ID: id, Type: t}, nil
}

// loadItem resolves the item and checks the caller can see its scope.
func (h handlers) loadItem(ctx context.Context, itemType, id string) (domain.WorkItem, string, error) {
	actor, authErr := actorIDFromContext(ctx)
	if authErr != nil {
		return nil, "", authErr
	}
	ref, err := parseRef(itemType, id)
	if err != nil {
		return nil, "", err
	}
	item, err := h.engine.Repo.GetItem(ctx, ref)
	if err != nil {
		return nil, "", handleError(err)
	}
	if err := requireScopeRole(ctx, h.engine, actor, item.Scope()); err != nil {
		return nil, "", handleError(err)
	}
	return item, actor, nil
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
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
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
	public := map[string]bool{
		path.Join("/", basePath, "health"):         true,
		path.Join("/", basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if public[route] {
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
    <title>Gene Curator API Docs</title>
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

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*output[map[string]string], error) {
		return reply(map[string]string{"status": "ok"}), nil
	})
}

func registerMe(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*output[WhoAmIResponse], error) {
		principal, ok := principalFromContext(ctx)
		if !ok {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		resp := WhoAmIResponse{ActorID: principal.ActorID, Source: principal.Source, Scopes: []ScopeRoleDTO{}}
		user, err := h.engine.Repo.GetUser(ctx, principal.ActorID)
		switch {
		case errors.Is(err, engine.ErrNotFound):
			return reply(resp), nil
		case err != nil:
			return nil, handleError(err)
		}
		resp.User = &user
		resp.Admin = user.Admin && user.Active
		members, err := h.engine.Repo.ListUserScopes(ctx, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		for _, m := range members {
			resp.Scopes = append(resp.Scopes, ScopeRoleDTO{ScopeID: m.ScopeID, Role: m.Role})
		}
		return reply(resp), nil
	})
}

func registerDevAuth(api huma.API, h handlers, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for an existing user",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest
	}) (*output[DevLoginResponse], error) {
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, badRequest("actor_id is required")
		}
		user, err := h.engine.Repo.GetUser(ctx, actor)
		if err != nil {
			return nil, handleError(err)
		}
		if !user.Active {
			return nil, badRequest("user %s is inactive", actor)
		}
		token, err := SignToken(authCfg.JWTSecret, actor, 0, time.Now())
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return reply(DevLoginResponse{Token: token}), nil
	})
}

func registerItems(api huma.API, h handlers) {
	e := h.engine
	huma.Register(api, huma.Operation{
		OperationID:   "create-precuration",
		Method:        http.MethodPost,
		Path:          "/precurations",
		Summary:       "Create a precuration",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body CreatePrecurationRequest
	}) (*output[domain.Precuration], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		if err := requireScopeRole(ctx, e, actor, b.ScopeID, domain.RoleCurator, domain.RoleScopeAdmin, domain.RoleAdmin); err != nil {
			return nil, handleError(err)
		}
		p, err := e.CreatePrecuration(ctx, engine.PrecurationCreateOptions{
			ID:                b.ID,
			ScopeID:           b.ScopeID,
			GeneID:            b.GeneID,
			DiseaseName:       b.DiseaseName,
			ModeOfInheritance: b.ModeOfInheritance,
			Rationale:         b.Rationale,
			Stage:             domain.Stage(b.Stage),
			ActorID:           actor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(*p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-curation",
		Method:        http.MethodPost,
		Path:          "/curations",
		Summary:       "Create a curation",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body CreateCurationRequest
	}) (*output[domain.Curation], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		if err := requireScopeRole(ctx, e, actor, b.ScopeID, domain.RoleCurator, domain.RoleScopeAdmin, domain.RoleAdmin); err != nil {
			return nil, handleError(err)
		}
		c, err := e.CreateCuration(ctx, engine.CurationCreateOptions{
			ID:                b.ID,
			ScopeID:           b.ScopeID,
			GeneID:            b.GeneID,
			PrecurationID:     b.PrecurationID,
			DiseaseName:       b.DiseaseName,
			ModeOfInheritance: b.ModeOfInheritance,
			EvidenceJSON:      b.EvidenceJSON,
			EvidenceSummary:   b.EvidenceSummary,
			ComputedScore:     b.ComputedScore,
			Classification:    b.Classification,
			Stage:             domain.Stage(b.Stage),
			ActorID:           actor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(*c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-item",
		Method:      http.MethodGet,
		Path:        "/items/{item_type}/{item_id}",
		Summary:     "Get a work item",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ItemType string `path:"item_type" enum:"precuration,curation,active"`
		ItemID   string `path:"item_id"`
	}) (*output[ItemResponse], error) {
		item, _, err := h.loadItem(ctx, input.ItemType, input.ItemID)
		if err != nil {
			return nil, err
		}
		return reply(itemResponse(item)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-evidence",
		Method:      http.MethodPatch,
		Path:        "/curations/{curation_id}/evidence",
		Summary:     "Edit curation evidence before submission",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		CurationID string `path:"curation_id"`
		Body       EvidenceUpdateRequest
	}) (*output[domain.Curation], error) {
		item, actor, err := h.loadItem(ctx, string(domain.ItemCuration), input.CurationID)
		if err != nil {
			return nil, err
		}
		if err := requireScopeRole(ctx, e, actor, item.Scope(), domain.RoleCurator, domain.RoleScopeAdmin, domain.RoleAdmin); err != nil {
			return nil, handleError(err)
		}
		b := input.Body
		c, err := e.UpdateEvidence(ctx, engine.EvidenceUpdate{
			CurationID:      input.CurationID,
			EvidenceJSON:    b.EvidenceJSON,
			EvidenceSummary: b.EvidenceSummary,
			ComputedScore:   b.ComputedScore,
			Classification:  b.Classification,
			ActorID:         actor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(*c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-active-curations",
		Method:      http.MethodGet,
		Path:        "/curations/{curation_id}/active",
		Summary:     "Active records of a curation, newest first, archived included",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CurationID string `path:"curation_id"`
	}) (*output[ActiveCurationsResponse], error) {
		if _, _, err := h.loadItem(ctx, string(domain.ItemCuration), input.CurationID); err != nil {
			return nil, err
		}
		items, err := e.Repo.ListActiveCurations(ctx, input.CurationID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(ActiveCurationsResponse{Items: nonNilSlice(items)}), nil
	})
}

func registerWorkflow(api huma.API, h handlers) {
	e := h.engine
	huma.Register(api, huma.Operation{
		OperationID: "validate-transition",
		Method:      http.MethodPost,
		Path:        "/items/{item_type}/{item_id}/validate",
		Summary:     "Check a transition without executing it",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ItemType string `path:"item_type" enum:"precuration,curation,active"`
		ItemID   string `path:"item_id"`
		Body     ValidateRequest
	}) (*output[domain.ValidationResult], error) {
		item, actor, err := h.loadItem(ctx, input.ItemType, input.ItemID)
		if err != nil {
			return nil, err
		}
		target, err := domain.ParseStage(input.Body.Target)
		if err != nil {
			return nil, badRequest("%v", err)
		}
		res, err := e.Validate(ctx, item.CurrentStage(), target, actor, item)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "execute-transition",
		Method:        http.MethodPost,
		Path:          "/items/{item_type}/{item_id}/transitions",
		Summary:       "Move an item to another stage",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ItemType string `path:"item_type" enum:"precuration,curation,active"`
		ItemID   string `path:"item_id"`
		Body     TransitionRequest
	}) (*output[domain.WorkflowTransition], error) {
		item, actor, err := h.loadItem(ctx, input.ItemType, input.ItemID)
		if err != nil {
			return nil, err
		}
		target, err := domain.ParseStage(input.Body.Target)
		if err != nil {
			return nil, badRequest("%v", err)
		}
		rec, err := e.Execute(ctx, engine.ExecuteRequest{
			ItemID:   item.Ref().ID,
			ItemType: item.Ref().Type,
			Target:   target,
			ActorID:  actor,
			Notes:    input.Body.Notes,
			Metadata: input.Body.Metadata,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(rec), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-workflow-state",
		Method:      http.MethodGet,
		Path:        "/items/{item_type}/{item_id}/state",
		Summary:     "Stage, next stages, history and pending reviews of an item",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ItemType string `path:"item_type" enum:"precuration,curation,active"`
		ItemID   string `path:"item_id"`
	}) (*output[domain.WorkflowStateInfo], error) {
		item, _, err := h.loadItem(ctx, input.ItemType, input.ItemID)
		if err != nil {
			return nil, err
		}
		state, err := e.GetState(ctx, item.Ref().ID, item.Ref().Type)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(state), nil
	})
}

func registerReviews(api huma.API, h handlers) {
	e := h.engine
	huma.Register(api, huma.Operation{
		OperationID:   "assign-reviewer",
		Method:        http.MethodPost,
		Path:          "/items/{item_type}/{item_id}/reviews",
		Summary:       "Assign a peer reviewer",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ItemType string `path:"item_type" enum:"precuration,curation,active"`
		ItemID   string `path:"item_id"`
		Body     AssignReviewerRequest
	}) (*output[domain.Review], error) {
		item, actor, err := h.loadItem(ctx, input.ItemType, input.ItemID)
		if err != nil {
			return nil, err
		}
		rv, err := e.AssignReviewer(ctx, engine.AssignRequest{
			ItemID:     item.Ref().ID,
			ItemType:   item.Ref().Type,
			ReviewerID: input.Body.ReviewerID,
			AssignedBy: actor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(rv), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-reviews",
		Method:      http.MethodGet,
		Path:        "/items/{item_type}/{item_id}/reviews",
		Summary:     "Reviews of an item",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ItemType string `path:"item_type" enum:"precuration,curation,active"`
		ItemID   string `path:"item_id"`
	}) (*output[ReviewsResponse], error) {
		item, _, err := h.loadItem(ctx, input.ItemType, input.ItemID)
		if err != nil {
			return nil, err
		}
		reviews, err := e.Repo.ListReviews(ctx, item.Ref())
		if err != nil {
			return nil, handleError(err)
		}
		return reply(ReviewsResponse{Items: nonNilSlice(reviews)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-review",
		Method:      http.MethodPost,
		Path:        "/reviews/{review_id}/submit",
		Summary:     "Submit a review decision",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ReviewID string `path:"review_id"`
		Body     SubmitReviewRequest
	}) (*output[domain.ReviewOutcome], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		out, err := e.SubmitReview(ctx, engine.SubmitRequest{
			ReviewID:         input.ReviewID,
			ReviewerID:       actor,
			Decision:         domain.Recommendation(input.Body.Decision),
			Comments:         input.Body.Comments,
			SuggestedChanges: input.Body.SuggestedChanges,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(out), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "eligible-reviewers",
		Method:      http.MethodGet,
		Path:        "/scopes/{scope_id}/reviewers",
		Summary:     "Review-capable members of a scope, least loaded first",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ScopeID string `path:"scope_id"`
		Exclude string `query:"exclude" doc:"User id to leave out, typically the item's creator"`
	}) (*output[ReviewersResponse], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requireScopeRole(ctx, e, actor, input.ScopeID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.GetEligibleReviewers(ctx, input.ScopeID, input.Exclude)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(ReviewersResponse{Items: nonNilSlice(items)}), nil
	})
}

func registerStatistics(api huma.API, h handlers) {
	e := h.engine
	huma.Register(api, huma.Operation{
		OperationID: "workflow-statistics",
		Method:      http.MethodGet,
		Path:        "/statistics",
		Summary:     "Stage counts, review throughput, dwell times and bottleneck",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ScopeID    string `query:"scope_id" doc:"Omit for all scopes (admins only)"`
		WindowDays int    `query:"window_days" minimum:"0" doc:"Defaults to 30"`
	}) (*output[domain.WorkflowStatistics], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var err error
		if input.ScopeID == "" {
			err = requireAdmin(ctx, e, actor)
		} else {
			err = requireScopeRole(ctx, e, actor, input.ScopeID)
		}
		if err != nil {
			return nil, handleError(err)
		}
		stats, err := e.GetStatistics(ctx, engine.StatisticsQuery{ScopeID: input.ScopeID, WindowDays: input.WindowDays})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(stats), nil
	})
}

func registerAdmin(api huma.API, h handlers) {
	e := h.engine
	huma.Register(api, huma.Operation{
		OperationID: "list-users",
		Method:      http.MethodGet,
		Path:        "/users",
		Summary:     "List users",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ActiveOnly bool `query:"active_only"`
	}) (*output[UsersResponse], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requireAdmin(ctx, e, actor); err != nil {
			return nil, handleError(err)
		}
		users, err := e.Repo.ListUsers(ctx, input.ActiveOnly)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(UsersResponse{Items: nonNilSlice(users)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "upsert-user",
		Method:      http.MethodPut,
		Path:        "/users/{user_id}",
		Summary:     "Create or update a user",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		UserID string `path:"user_id"`
		Body   UpsertUserRequest
	}) (*output[domain.User], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requireAdmin(ctx, e, actor); err != nil {
			return nil, handleError(err)
		}
		if strings.TrimSpace(input.Body.Name) == "" {
			return nil, badRequest("name is required")
		}
		u := domain.User{
			ID:        input.UserID,
			Name:      input.Body.Name,
			Email:     input.Body.Email,
			Active:    input.Body.Active == nil || *input.Body.Active,
			Admin:     input.Body.Admin,
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
		}
		if existing, err := e.Repo.GetUser(ctx, input.UserID); err == nil {
			u.CreatedAt = existing.CreatedAt
		}
		if err := e.Repo.UpsertUser(ctx, u); err != nil {
			return nil, handleError(err)
		}
		h.onMembership(u.ID)
		return reply(u), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-scope-members",
		Method:      http.MethodGet,
		Path:        "/scopes/{scope_id}/members",
		Summary:     "Members of a scope",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ScopeID string `path:"scope_id"`
	}) (*output[MembersResponse], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requireScopeRole(ctx, e, actor, input.ScopeID); err != nil {
			return nil, handleError(err)
		}
		members, err := e.Repo.ListScopeMembers(ctx, input.ScopeID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(MembersResponse{Items: nonNilSlice(members)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "grant-scope-role",
		Method:      http.MethodPut,
		Path:        "/scopes/{scope_id}/members/{user_id}",
		Summary:     "Grant or change a user's role in a scope",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ScopeID string `path:"scope_id"`
		UserID  string `path:"user_id"`
		Body    GrantRoleRequest
	}) (*output[domain.ScopeMember], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requireScopeRole(ctx, e, actor, input.ScopeID, domain.RoleScopeAdmin, domain.RoleAdmin); err != nil {
			return nil, handleError(err)
		}
		role, err := domain.ParseRole(input.Body.Role)
		if err != nil {
			return nil, badRequest("%v", err)
		}
		if _, err := e.Repo.GetUser(ctx, input.UserID); err != nil {
			return nil, handleError(err)
		}
		if err := e.Repo.GrantScopeRole(ctx, input.ScopeID, input.UserID, role); err != nil {
			return nil, handleError(err)
		}
		h.onMembership(input.UserID)
		return reply(domain.ScopeMember{ScopeID: input.ScopeID, UserID: input.UserID, Role: role}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "revoke-scope-role",
		Method:        http.MethodDelete,
		Path:          "/scopes/{scope_id}/members/{user_id}",
		Summary:       "Remove a user from a scope",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ScopeID string `path:"scope_id"`
		UserID  string `path:"user_id"`
	}) (*struct{}, error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requireScopeRole(ctx, e, actor, input.ScopeID, domain.RoleScopeAdmin, domain.RoleAdmin); err != nil {
			return nil, handleError(err)
		}
		if err := e.Repo.RevokeScopeRole(ctx, input.ScopeID, input.UserID); err != nil {
			return nil, handleError(err)
		}
		h.onMembership(input.UserID)
		return nil, nil
	})
}
