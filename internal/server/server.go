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
	"github.com/google/uuid"

	"trackline/internal/authority"
	"trackline/internal/domain"
	"trackline/internal/engine"
	"trackline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"self_approval"`
	Message string         `json:"message" example:"cannot approve own proof"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Trackline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Trackline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerWorkstreams(group, cfg.Engine)
	registerUnits(group, cfg.Engine)
	registerProofs(group, cfg.Engine)
	registerEscalations(group, cfg.Engine)
	registerTicks(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerActors(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine)

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
	var denied authority.DeniedError
	if errors.As(err, &denied) {
		return newAPIError(http.StatusForbidden, denied.Rule, denied.Reason, nil)
	}
	var verr domain.ValidationError
	if errors.As(err, &verr) {
		details := map[string]any{}
		if verr.Field != "" {
			details["field"] = verr.Field
		}
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", verr.Error(), details)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrConflict) {
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
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

// requireTier is the API-surface gate for operations that are not
// unit-scoped; unit-scoped gates live in the authority package and run
// inside the engine.
func requireTier(p Principal, min authority.Role) huma.StatusError {
	if !p.Role.AtLeast(min) {
		return newAPIError(http.StatusForbidden, "forbidden",
			fmt.Sprintf("requires %s tier or above", min), nil)
	}
	return nil
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

func registerWorkstreams(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-workstream",
		Method:        http.MethodPost,
		Path:          "/workstreams",
		Summary:       "Create workstream",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body CreateWorkstreamRequest `json:"body"`
	}) (*struct {
		Body WorkstreamResponse `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requireTier(p, authority.RoleLead); err != nil {
			return nil, err
		}
		id := ""
		if input.Body.ID != nil {
			id = *input.Body.ID
		}
		w, err := e.CreateWorkstream(ctx, id, input.Body.Name, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkstreamResponse `json:"body"`
		}{Body: workstreamResponse(w)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-workstreams",
		Method:      http.MethodGet,
		Path:        "/workstreams",
		Summary:     "List workstreams",
	}, func(ctx context.Context, input *struct {
		IncludeArchived bool `query:"include_archived"`
	}) (*struct {
		Body []WorkstreamResponse `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListWorkstreams(ctx, "", input.IncludeArchived)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []WorkstreamResponse `json:"body"`
		}{Body: mapWorkstreams(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-workstream",
		Method:      http.MethodGet,
		Path:        "/workstreams/{workstream_id}",
		Summary:     "Get workstream",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		WorkstreamID string `path:"workstream_id"`
	}) (*struct {
		Body WorkstreamResponse `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		w, err := e.Repo.GetWorkstream(ctx, input.WorkstreamID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkstreamResponse `json:"body"`
		}{Body: workstreamResponse(w)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "workstream-status",
		Method:      http.MethodGet,
		Path:        "/workstreams/{workstream_id}/status",
		Summary:     "Aggregated workstream status",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		WorkstreamID string `path:"workstream_id"`
	}) (*struct {
		Body WorkstreamStatusResponse `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		st, units, err := e.WorkstreamStatus(ctx, input.WorkstreamID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkstreamStatusResponse `json:"body"`
		}{Body: WorkstreamStatusResponse{
			WorkstreamID: input.WorkstreamID,
			Status:       string(st),
			Units:        unitSummaries(units),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "archive-workstream",
		Method:      http.MethodPost,
		Path:        "/workstreams/{workstream_id}/archive",
		Summary:     "Archive workstream",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		WorkstreamID string `path:"workstream_id"`
	}) (*struct {
		Body WorkstreamResponse `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requireTier(p, authority.RoleLead); err != nil {
			return nil, err
		}
		if err := e.ArchiveWorkstream(ctx, input.WorkstreamID, p.ActorID); err != nil {
			return nil, handleError(err)
		}
		w, err := e.Repo.GetWorkstream(ctx, input.WorkstreamID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkstreamResponse `json:"body"`
		}{Body: workstreamResponse(w)}, nil
	})
}

func registerUnits(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-unit",
		Method:        http.MethodPost,
		Path:          "/units",
		Summary:       "Create unit",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateUnitRequest `json:"body"`
	}) (*struct {
		Body domain.Unit `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.UnitCreateOptions{
			WorkstreamID:       input.Body.WorkstreamID,
			Name:               input.Body.Name,
			RequiredProofCount: input.Body.RequiredProofCount,
			RequiredProofTypes: input.Body.RequiredProofTypes,
			Deadline:           input.Body.Deadline,
			AlertProfile:       input.Body.AlertProfile,
			CustomThresholds:   input.Body.CustomThresholds,
			HighCriticality:    input.Body.HighCriticality,
			ActorID:            p.ActorID,
			Role:               p.Role,
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		u, err := e.CreateUnit(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Unit `json:"body"`
		}{Body: u}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-units",
		Method:      http.MethodGet,
		Path:        "/units",
		Summary:     "List units",
	}, func(ctx context.Context, input *struct {
		WorkstreamID    string `query:"workstream_id"`
		Status          string `query:"status" enum:",red,green,blocked"`
		IncludeArchived bool   `query:"include_archived"`
		Limit           int    `query:"limit"`
		Cursor          string `query:"cursor"`
	}) (*struct {
		Body struct {
			Items      []domain.Unit `json:"items"`
			NextCursor string        `json:"next_cursor,omitempty"`
		} `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		filters := repo.UnitFilters{
			WorkstreamID:    input.WorkstreamID,
			Status:          input.Status,
			IncludeArchived: input.IncludeArchived,
			Limit:           input.Limit,
		}
		if input.Cursor != "" {
			createdAt, id, err := decodeCursor(input.Cursor)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", nil)
			}
			filters.CursorCreatedAt = createdAt
			filters.CursorID = id
		}
		items, err := e.Repo.ListUnits(ctx, filters)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Items      []domain.Unit `json:"items"`
				NextCursor string        `json:"next_cursor,omitempty"`
			} `json:"body"`
		}{}
		out.Body.Items = items
		if filters.Limit > 0 && len(items) == filters.Limit {
			last := items[len(items)-1]
			out.Body.NextCursor = encodeCursor(last.CreatedAt, last.ID)
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-unit",
		Method:      http.MethodGet,
		Path:        "/units/{unit_id}",
		Summary:     "Get unit with its proof ledger",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		UnitID string `path:"unit_id"`
	}) (*struct {
		Body struct {
			Unit   domain.Unit    `json:"unit"`
			Proofs []domain.Proof `json:"proofs"`
		} `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		u, err := e.Repo.GetUnit(ctx, input.UnitID)
		if err != nil {
			return nil, handleError(err)
		}
		proofs, err := e.Repo.ListUnitProofs(ctx, u.ID)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Unit   domain.Unit    `json:"unit"`
				Proofs []domain.Proof `json:"proofs"`
			} `json:"body"`
		}{}
		out.Body.Unit = u
		out.Body.Proofs = proofs
		return out, nil
	})

	type unitPath struct {
		UnitID string `path:"unit_id"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "confirm-unit",
		Method:      http.MethodPost,
		Path:        "/units/{unit_id}/confirm",
		Summary:     "Confirm unit scope",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *unitPath) (*struct {
		Body domain.Unit `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, err := e.ConfirmUnit(ctx, input.UnitID, p.ActorID, p.Role)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Unit `json:"body"`
		}{Body: u}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "archive-unit",
		Method:      http.MethodPost,
		Path:        "/units/{unit_id}/archive",
		Summary:     "Archive unit",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *unitPath) (*struct {
		Body domain.Unit `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, err := e.ArchiveUnit(ctx, input.UnitID, p.ActorID, p.Role)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Unit `json:"body"`
		}{Body: u}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "block-unit",
		Method:      http.MethodPost,
		Path:        "/units/{unit_id}/block",
		Summary:     "Block unit or record a block proposal",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		UnitID string       `path:"unit_id"`
		Body   BlockRequest `json:"body"`
	}) (*struct {
		Body domain.Unit `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, err := e.Block(ctx, input.UnitID, p.ActorID, p.Role, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Unit `json:"body"`
		}{Body: u}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "unblock-unit",
		Method:      http.MethodPost,
		Path:        "/units/{unit_id}/unblock",
		Summary:     "Unblock unit",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *unitPath) (*struct {
		Body domain.Unit `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, err := e.Unblock(ctx, input.UnitID, p.ActorID, p.Role)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Unit `json:"body"`
		}{Body: u}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "escalate-unit",
		Method:      http.MethodPost,
		Path:        "/units/{unit_id}/escalate",
		Summary:     "Manually escalate unit",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		UnitID string          `path:"unit_id"`
		Body   EscalateRequest `json:"body"`
	}) (*struct {
		Body struct {
			Escalation domain.Escalation `json:"escalation"`
			Unit       domain.Unit       `json:"unit"`
		} `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		esc, u, err := e.Escalate(ctx, engine.EscalateOptions{
			UnitID:      input.UnitID,
			ActorID:     p.ActorID,
			Role:        p.Role,
			Level:       input.Body.Level,
			Reason:      input.Body.Reason,
			MarkBlocked: input.Body.MarkBlocked,
		})
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Escalation domain.Escalation `json:"escalation"`
				Unit       domain.Unit       `json:"unit"`
			} `json:"body"`
		}{}
		out.Body.Escalation = esc
		out.Body.Unit = u
		return out, nil
	})
}

func registerProofs(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-proof",
		Method:        http.MethodPost,
		Path:          "/units/{unit_id}/proofs",
		Summary:       "Submit proof",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		UnitID string             `path:"unit_id"`
		Body   SubmitProofRequest `json:"body"`
	}) (*struct {
		Body domain.Proof `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		proof, err := e.SubmitProof(ctx, input.UnitID, input.Body.Type, p.ActorID, p.Role)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Proof `json:"body"`
		}{Body: proof}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-unit-proofs",
		Method:      http.MethodGet,
		Path:        "/units/{unit_id}/proofs",
		Summary:     "List a unit's proof ledger",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		UnitID string `path:"unit_id"`
	}) (*struct {
		Body []domain.Proof `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetUnit(ctx, input.UnitID); err != nil {
			return nil, handleError(err)
		}
		proofs, err := e.Repo.ListUnitProofs(ctx, input.UnitID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Proof `json:"body"`
		}{Body: proofs}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "decide-proof",
		Method:      http.MethodPost,
		Path:        "/proofs/{proof_id}/decision",
		Summary:     "Approve or reject a pending proof",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ProofID string             `path:"proof_id"`
		Body    DecideProofRequest `json:"body"`
	}) (*struct {
		Body struct {
			Proof domain.Proof `json:"proof"`
			Unit  domain.Unit  `json:"unit"`
		} `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		approve := false
		switch input.Body.Decision {
		case "approve":
			approve = true
		case "reject":
		default:
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "decision must be approve or reject", nil)
		}
		proof, u, err := e.DecideProof(ctx, engine.ProofDecideOptions{
			ProofID: input.ProofID,
			ActorID: p.ActorID,
			Role:    p.Role,
			Approve: approve,
			Reason:  input.Body.Reason,
		})
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Proof domain.Proof `json:"proof"`
				Unit  domain.Unit  `json:"unit"`
			} `json:"body"`
		}{}
		out.Body.Proof = proof
		out.Body.Unit = u
		return out, nil
	})
}

func registerEscalations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-escalations",
		Method:      http.MethodGet,
		Path:        "/escalations",
		Summary:     "List escalations",
	}, func(ctx context.Context, input *struct {
		UnitID     string `query:"unit_id"`
		Resolution string `query:"resolution" enum:",active,resolved"`
		Limit      int    `query:"limit"`
	}) (*struct {
		Body []domain.Escalation `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListEscalations(ctx, repo.EscalationFilters{
			UnitID:     input.UnitID,
			Resolution: input.Resolution,
			Limit:      input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Escalation `json:"body"`
		}{Body: items}, nil
	})
}

func registerTicks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "run-tick",
		Method:      http.MethodPost,
		Path:        "/ticks",
		Summary:     "Run one escalation evaluation across eligible units",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body TickResponse `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requireTier(p, authority.RoleLead); err != nil {
			return nil, err
		}
		raised, err := e.EvaluateAllEligible(ctx, e.Now())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TickResponse `json:"body"`
		}{Body: TickResponse{Raised: raised}}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List audit trail events",
	}, func(ctx context.Context, input *struct {
		UnitID string `query:"unit_id"`
		Type   string `query:"type"`
		Limit  int    `query:"limit"`
		Cursor int64  `query:"cursor"`
	}) (*struct {
		Body struct {
			Items      []domain.StatusEvent `json:"items"`
			NextCursor int64                `json:"next_cursor,omitempty"`
		} `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.LatestStatusEvents(ctx, input.Limit, input.Cursor, input.UnitID, input.Type)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Items      []domain.StatusEvent `json:"items"`
				NextCursor int64                `json:"next_cursor,omitempty"`
			} `json:"body"`
		}{}
		out.Body.Items = items
		if len(items) > 0 {
			out.Body.NextCursor = items[len(items)-1].ID
		}
		return out, nil
	})
}

func registerActors(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-actors",
		Method:      http.MethodGet,
		Path:        "/actors",
		Summary:     "List actors",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Actor `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requireTier(p, authority.RoleLead); err != nil {
			return nil, err
		}
		actors, err := e.Repo.ListActors(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Actor `json:"body"`
		}{Body: actors}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-actor-role",
		Method:      http.MethodPut,
		Path:        "/actors/{actor_id}/role",
		Summary:     "Set actor role",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ActorID string              `path:"actor_id"`
		Body    SetActorRoleRequest `json:"body"`
	}) (*struct {
		Body domain.Actor `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requireTier(p, authority.RoleAdmin); err != nil {
			return nil, err
		}
		if !authority.Known(authority.Role(input.Body.Role)) {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "unknown role", nil)
		}
		if _, err := e.Repo.EnsureActor(ctx, input.ActorID, input.Body.Role); err != nil {
			return nil, handleError(err)
		}
		if err := e.Repo.SetActorRole(ctx, input.ActorID, input.Body.Role); err != nil {
			return nil, handleError(err)
		}
		actor, err := e.Repo.GetActor(ctx, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Actor `json:"body"`
		}{Body: actor}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/keys",
		Summary:       "Register a hashed API key",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body domain.APIKey `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requireTier(p, authority.RoleAdmin); err != nil {
			return nil, err
		}
		if input.Body.ActorID == "" || input.Body.Key == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id and key are required", nil)
		}
		key := domain.APIKey{
			ID:      uuid.NewString(),
			ActorID: input.Body.ActorID,
			Name:    input.Body.Name,
			KeyHash: repo.HashAPIKey(input.Body.Key),
		}
		if err := e.Repo.InsertAPIKey(ctx, key); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.APIKey `json:"body"`
		}{Body: key}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/keys",
		Summary:     "List API keys",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ActorID string `query:"actor_id"`
	}) (*struct {
		Body []domain.APIKey `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requireTier(p, authority.RoleAdmin); err != nil {
			return nil, err
		}
		keys, err := e.Repo.ListAPIKeys(ctx, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.APIKey `json:"body"`
		}{Body: keys}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-api-key",
		Method:      http.MethodDelete,
		Path:        "/keys/{key_id}",
		Summary:     "Delete API key",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		KeyID string `path:"key_id"`
	}) (*struct{}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requireTier(p, authority.RoleAdmin); err != nil {
			return nil, err
		}
		if err := e.Repo.DeleteAPIKey(ctx, input.KeyID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

// Cursor encoding: "<created_at>|<id>".
func encodeCursor(createdAt, id string) string {
	return createdAt + "|" + id
}

func decodeCursor(cursor string) (string, string, error) {
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed cursor")
	}
	return parts[0], parts[1], nil
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
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
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
    <title>Trackline API Docs</title>
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
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}
