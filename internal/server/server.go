package server

import (
	"bytes"
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

	"bountyline/internal/domain"
	"bountyline/internal/engine"
	"bountyline/internal/engine/auth"
	"bountyline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"invalid status transition review -> pending"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Bountyline API.
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
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(raw))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, raw)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Bountyline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerStatus(group, cfg.Engine)
	registerContracts(group, cfg.Engine)
	registerProof(group, cfg.Engine)
	registerLedger(group, cfg.Engine)
	registerRewards(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine)

	return router, nil
}

func bodyBytes(ctx context.Context) []byte {
	raw, _ := ctx.Value(bodyBytesKey{}).([]byte)
	return raw
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
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"action": fe.Action})
	}
	var te engine.TransitionError
	if errors.As(err, &te) {
		return newAPIError(http.StatusUnprocessableEntity, "invalid_transition", err.Error(), map[string]any{"from": te.From, "to": te.To})
	}
	var pe engine.ProofValidationError
	if errors.As(err, &pe) {
		return newAPIError(http.StatusBadRequest, "invalid_proof", err.Error(), map[string]any{"reasons": pe.Reasons})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, engine.ErrAlreadySettled) {
		return newAPIError(http.StatusConflict, "already_settled", err.Error(), nil)
	}
	if errors.Is(err, engine.ErrInsufficientCredits) {
		return newAPIError(http.StatusUnprocessableEntity, "insufficient_credits", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required") || strings.Contains(lowered, "must be"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	case strings.Contains(lowered, "cannot") || strings.Contains(lowered, "already"):
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", msg, nil)
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
    <title>Bountyline API Docs</title>
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

func registerStatus(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Contract counts by status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		counts, err := e.Repo.CountContractsByStatus(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{
			"contract_counts": counts,
		}}, nil
	})
}

func registerContracts(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-contract",
		Method:        http.MethodPost,
		Path:          "/contracts",
		Summary:       "Create contract",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateContractRequest `json:"body"`
	}) (*struct {
		Body ContractResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Title == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "title is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.ContractCreateOptions{
			Title:         input.Body.Title,
			ProofRequired: input.Body.ProofRequired,
			RewardKind:    input.Body.RewardKind,
			RewardAmount:  input.Body.RewardAmount,
			ActorID:       actorID,
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		if input.Body.Description != nil {
			opts.Description = *input.Body.Description
		}
		if input.Body.PerformerID != nil {
			opts.PerformerID = *input.Body.PerformerID
		}
		if input.Body.RewardLabel != nil {
			opts.RewardLabel = *input.Body.RewardLabel
		}
		c, err := e.CreateContract(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ContractResponse `json:"body"`
		}{Body: contractResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-contracts",
		Method:      http.MethodGet,
		Path:        "/contracts",
		Summary:     "List visible contracts",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status"`
		All    bool   `query:"all"`
	}) (*struct {
		Body paginatedContracts `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var items []domain.Contract
		var err error
		if input.All {
			items, err = e.Repo.ListContracts(ctx, repo.ContractFilters{Status: input.Status})
		} else {
			items, err = e.Repo.ListVisibleContracts(ctx, actorID)
			if err == nil && input.Status != "" {
				filtered := items[:0]
				for _, c := range items {
					if c.Status == input.Status {
						filtered = append(filtered, c)
					}
				}
				items = filtered
			}
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body paginatedContracts `json:"body"`
		}{Body: paginatedContracts{Items: mapContracts(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-contract",
		Method:      http.MethodGet,
		Path:        "/contracts/{id}",
		Summary:     "Get contract",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ContractResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		c, err := e.Repo.GetContract(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ContractResponse `json:"body"`
		}{Body: contractResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-contract",
		Method:      http.MethodPatch,
		Path:        "/contracts/{id}",
		Summary:     "Update contract",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body UpdateContractRequest `json:"body"`
	}) (*struct {
		Body ContractResponse `json:"body"`
	}, error) {
		raw := bodyBytes(ctx)
		if len(raw) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var bodyMap map[string]json.RawMessage
		_ = json.Unmarshal(raw, &bodyMap)
		opts := engine.ContractUpdateOptions{
			ID:           input.ID,
			ActorID:      actorID,
			Title:        input.Body.Title,
			Description:  input.Body.Description,
			RewardAmount: input.Body.RewardAmount,
			RewardLabel:  input.Body.RewardLabel,
		}
		if _, ok := bodyMap["performer_id"]; ok {
			opts.PerformerProvided = true
			opts.PerformerID = input.Body.PerformerID
		}
		c, err := e.UpdateContract(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ContractResponse `json:"body"`
		}{Body: contractResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-contract",
		Method:      http.MethodDelete,
		Path:        "/contracts/{id}",
		Summary:     "Delete contract",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteContract(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-contract-status",
		Method:      http.MethodPost,
		Path:        "/contracts/{id}/status",
		Summary:     "Change contract status",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body StatusChangeRequest `json:"body"`
	}) (*struct {
		Body ContractResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Status == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "status is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, _, err := e.SetContractStatus(ctx, engine.StatusChangeOptions{
			ID:      input.ID,
			Status:  input.Body.Status,
			ActorID: actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ContractResponse `json:"body"`
		}{Body: contractResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "claim-contract",
		Method:      http.MethodPost,
		Path:        "/contracts/{id}/claim",
		Summary:     "Claim contract",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ContractResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.ClaimContract(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ContractResponse `json:"body"`
		}{Body: contractResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "archive-contract",
		Method:      http.MethodPost,
		Path:        "/contracts/{id}/archive",
		Summary:     "Archive contract",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ContractResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.ArchiveContract(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ContractResponse `json:"body"`
		}{Body: contractResponse(c)}, nil
	})
}

func registerProof(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "submit-proof",
		Method:      http.MethodPost,
		Path:        "/contracts/{id}/proof",
		Summary:     "Submit proof of completion",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID   string       `path:"id"`
		Body ProofRequest `json:"body"`
	}) (*struct {
		Body ContractResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, _, err := e.SubmitProof(ctx, engine.ProofSubmitOptions{
			ID:      input.ID,
			ActorID: actorID,
			Payload: engine.ProofPayload{
				Kind:        input.Body.Kind,
				Note:        input.Body.Note,
				Filename:    input.Body.Filename,
				Size:        input.Body.Size,
				ContentType: input.Body.ContentType,
			},
			AttachmentRef: input.Body.URL,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ContractResponse `json:"body"`
		}{Body: contractResponse(c)}, nil
	})
}

func registerLedger(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-ledger",
		Method:      http.MethodGet,
		Path:        "/ledger",
		Summary:     "List credit ledger entries",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ActorID string `query:"actor_id"`
		Kind    string `query:"kind"`
		Limit   int    `query:"limit" default:"50"`
	}) (*struct {
		Body []LedgerEntryResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListCreditEntries(ctx, repo.LedgerFilters{
			ActorID: input.ActorID,
			Kind:    input.Kind,
			Limit:   input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []LedgerEntryResponse `json:"body"`
		}{Body: mapLedgerEntries(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "mint-credit",
		Method:        http.MethodPost,
		Path:          "/ledger/mint",
		Summary:       "Mint credits for a completed contract",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Body MintRequest `json:"body"`
	}) (*struct {
		Body LedgerEntryResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.PerformerID == "" || input.Body.SourceContractID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "performer_id and source_contract_id are required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		entry, err := e.MintCredit(ctx, engine.MintOptions{
			PerformerID:      input.Body.PerformerID,
			Amount:           input.Body.Amount,
			SourceContractID: input.Body.SourceContractID,
			StreakDays:       input.Body.StreakDays,
			ActorID:          actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LedgerEntryResponse `json:"body"`
		}{Body: ledgerEntryResponse(entry)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-balance",
		Method:      http.MethodGet,
		Path:        "/actors/{actor_id}/balance",
		Summary:     "Credit balance for an actor",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ActorID string `path:"actor_id"`
	}) (*struct {
		Body BalanceResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		balance, err := e.Repo.Balance(ctx, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BalanceResponse `json:"body"`
		}{Body: BalanceResponse{ActorID: input.ActorID, Balance: balance}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-streak",
		Method:      http.MethodGet,
		Path:        "/actors/{actor_id}/streak",
		Summary:     "Consecutive-day earning streak for an actor",
	}, func(ctx context.Context, input *struct {
		ActorID string `path:"actor_id"`
	}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		streak, err := e.StreakFor(ctx, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{"actor_id": input.ActorID, "streak_days": streak.Days}}, nil
	})
}

func registerRewards(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-reward",
		Method:        http.MethodPost,
		Path:          "/rewards",
		Summary:       "Add a catalog reward",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateRewardRequest `json:"body"`
	}) (*struct {
		Body RewardResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.RewardCreateOptions{
			Title:   input.Body.Title,
			Cost:    input.Body.Cost,
			ActorID: actorID,
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		if input.Body.Description != nil {
			opts.Description = *input.Body.Description
		}
		rw, err := e.CreateReward(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RewardResponse `json:"body"`
		}{Body: rewardResponse(rw)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-rewards",
		Method:      http.MethodGet,
		Path:        "/rewards",
		Summary:     "List catalog rewards",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []RewardResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListRewards(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]RewardResponse, 0, len(items))
		for _, rw := range items {
			out = append(out, rewardResponse(rw))
		}
		return &struct {
			Body []RewardResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "redeem-reward",
		Method:        http.MethodPost,
		Path:          "/rewards/{id}/redeem",
		Summary:       "Redeem a reward against the caller's balance",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body LedgerEntryResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		entry, err := e.RedeemReward(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LedgerEntryResponse `json:"body"`
		}{Body: ledgerEntryResponse(entry)}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Limit      int    `query:"limit" default:"50"`
		Cursor     int64  `query:"cursor"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		limit := input.Limit
		if limit <= 0 || limit > 200 {
			limit = 50
		}
		items, err := e.Repo.LatestEventsFrom(ctx, limit+1, input.Cursor, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit].ID)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}
