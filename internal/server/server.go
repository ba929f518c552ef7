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
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"agentmarket/internal/domain"
	"agentmarket/internal/engine"
	"agentmarket/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_state"`
	Message string         `json:"message" example:"job 7 is COMPLETED, bids are only accepted while posted"`
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

// New returns an HTTP handler exposing the Agentmarket API.
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
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Agentmarket API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerJobs(group, cfg.Engine)
	registerEscrow(group, cfg.Engine)
	registerMilestones(group, cfg.Engine)
	registerDisputes(group, cfg.Engine)
	registerAgents(group, cfg.Engine)
	registerRatings(group, cfg.Engine)
	registerMessages(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerStats(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
	registerMe(group)
	registerDevAuth(group, cfg.Auth)
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

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if kind := engine.KindOf(err); kind != "" {
		return newAPIError(statusForKind(kind), string(kind), err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "invalid") || strings.Contains(lowered, "unknown") || strings.Contains(lowered, "required") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
}

func statusForKind(kind engine.Kind) int {
	switch kind {
	case engine.KindNotFound, engine.KindBidNotFound:
		return http.StatusNotFound
	case engine.KindUnauthorized:
		return http.StatusForbidden
	case engine.KindInvalidAmount, engine.KindInvalidMilestones:
		return http.StatusBadRequest
	default:
		// invalid_state, duplicate_bid, duplicate_rating, already_registered,
		// already_funded, already_resolved, insufficient_escrow, no_agent
		return http.StatusConflict
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

func registerJobs(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "post-job",
		Method:      http.MethodPost,
		Path:        "/jobs",
		Summary:     "Post a job",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body PostJobRequest `json:"body"`
	}) (*struct {
		Body JobResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		payment, err := decimal.NewFromString(input.Body.Payment)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", fmt.Sprintf("invalid payment: %v", err), nil)
		}
		specs := make([]engine.MilestoneSpec, 0, len(input.Body.Milestones))
		for _, m := range input.Body.Milestones {
			specs = append(specs, engine.MilestoneSpec{
				Title:             m.Title,
				Description:       strVal(m.Description),
				PaymentPercentage: m.PaymentPercentage,
				DueDate:           m.DueDate,
			})
		}
		j, err := e.PostJob(ctx, engine.JobPostOptions{
			Client:      actorID,
			Title:       input.Body.Title,
			Description: strVal(input.Body.Description),
			Payment:     payment,
			Category:    strVal(input.Body.Category),
			Tags:        input.Body.Tags,
			Deadline:    input.Body.Deadline,
			Milestones:  specs,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body JobResponse `json:"body"`
		}{Body: mapJob(j)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-jobs",
		Method:      http.MethodGet,
		Path:        "/jobs",
		Summary:     "List jobs",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status   string `query:"status"`
		Client   string `query:"client"`
		Agent    string `query:"agent"`
		Category string `query:"category"`
		Tag      string `query:"tag"`
		Search   string `query:"q"`
		SortBy   string `query:"sort_by"`
		SortDir  string `query:"sort_dir"`
		Limit    int    `query:"limit"`
		Offset   int    `query:"offset" minimum:"0"`
	}) (*struct {
		Body JobListResponse `json:"body"`
	}, error) {
		f := repo.JobFilter{
			Client:   input.Client,
			Agent:    input.Agent,
			Category: input.Category,
			Tag:      input.Tag,
			Search:   input.Search,
			SortBy:   input.SortBy,
			SortDir:  input.SortDir,
			Limit:    normalizeLimit(input.Limit),
			Offset:   input.Offset,
		}
		if input.Status != "" {
			st, err := domain.ParseJobStatus(input.Status)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
			}
			f.Status = &st
		}
		items, err := e.Repo.ListJobs(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		total, err := e.Repo.CountJobs(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body JobListResponse `json:"body"`
		}{Body: JobListResponse{Items: mapJobs(items), Total: total}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-job",
		Method:      http.MethodGet,
		Path:        "/jobs/{job_id}",
		Summary:     "Get a job",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		JobID int64 `path:"job_id"`
	}) (*struct {
		Body JobResponse `json:"body"`
	}, error) {
		j, err := e.Repo.GetJob(ctx, input.JobID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body JobResponse `json:"body"`
		}{Body: mapJob(j)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "place-bid",
		Method:      http.MethodPost,
		Path:        "/jobs/{job_id}/bids",
		Summary:     "Place a bid",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		JobID int64           `path:"job_id"`
		Body  PlaceBidRequest `json:"body"`
	}) (*struct {
		Body BidResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		amount, err := decimal.NewFromString(input.Body.Amount)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", fmt.Sprintf("invalid amount: %v", err), nil)
		}
		b, err := e.PlaceBid(ctx, engine.BidOptions{
			JobID:         input.JobID,
			Agent:         actorID,
			Amount:        amount,
			Proposal:      strVal(input.Body.Proposal),
			EstimatedDays: intVal(input.Body.EstimatedDays),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BidResponse `json:"body"`
		}{Body: mapBid(b)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-bids",
		Method:      http.MethodGet,
		Path:        "/jobs/{job_id}/bids",
		Summary:     "List bids on a job",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		JobID int64 `path:"job_id"`
	}) (*struct {
		Body []BidResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetJob(ctx, input.JobID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListBids(ctx, input.JobID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []BidResponse `json:"body"`
		}{Body: mapBids(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "accept-bid",
		Method:      http.MethodPost,
		Path:        "/jobs/{job_id}/accept",
		Summary:     "Accept a bid",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		JobID int64            `path:"job_id"`
		Body  AcceptBidRequest `json:"body"`
	}) (*struct {
		Body JobResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		j, err := e.AcceptBid(ctx, input.JobID, input.Body.BidID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body JobResponse `json:"body"`
		}{Body: mapJob(j)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-job",
		Method:      http.MethodPost,
		Path:        "/jobs/{job_id}/complete",
		Summary:     "Complete a job",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		JobID int64 `path:"job_id"`
	}) (*struct {
		Body JobResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		j, err := e.CompleteJob(ctx, input.JobID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body JobResponse `json:"body"`
		}{Body: mapJob(j)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-job",
		Method:      http.MethodPost,
		Path:        "/jobs/{job_id}/cancel",
		Summary:     "Cancel a posted job",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		JobID int64 `path:"job_id"`
	}) (*struct {
		Body JobResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		j, err := e.CancelJob(ctx, input.JobID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body JobResponse `json:"body"`
		}{Body: mapJob(j)}, nil
	})
}

// JobListResponse pairs a page of jobs with the filtered total.
type JobListResponse struct {
	Items []JobResponse `json:"items"`
	Total int64         `json:"total"`
}

// AgentListResponse pairs a page of agents with the filtered total.
type AgentListResponse struct {
	Items []AgentResponse `json:"items"`
	Total int64           `json:"total"`
}

func registerEscrow(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-escrow",
		Method:      http.MethodGet,
		Path:        "/jobs/{job_id}/escrow",
		Summary:     "Get escrow state for a job",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		JobID int64 `path:"job_id"`
	}) (*struct {
		Body EscrowResponse `json:"body"`
	}, error) {
		esc, err := e.Repo.GetEscrow(ctx, input.JobID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EscrowResponse `json:"body"`
		}{Body: mapEscrow(esc)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-active-escrows",
		Method:      http.MethodGet,
		Path:        "/escrows/active",
		Summary:     "List escrows still holding funds",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body struct {
			Items []EscrowResponse `json:"items"`
		} `json:"body"`
	}, error) {
		items, err := e.Repo.ListActiveEscrows(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Items []EscrowResponse `json:"items"`
			} `json:"body"`
		}{}
		out.Body.Items = make([]EscrowResponse, 0, len(items))
		for _, esc := range items {
			out.Body.Items = append(out.Body.Items, mapEscrow(esc))
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "fund-escrow",
		Method:      http.MethodPost,
		Path:        "/jobs/{job_id}/escrow/fund",
		Summary:     "Fund escrow for an assigned job",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		JobID int64 `path:"job_id"`
	}) (*struct {
		Body EscrowResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		esc, err := e.FundEscrow(ctx, input.JobID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EscrowResponse `json:"body"`
		}{Body: mapEscrow(esc)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "release-escrow",
		Method:      http.MethodPost,
		Path:        "/jobs/{job_id}/escrow/release",
		Summary:     "Release part of the escrow to the agent",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		JobID int64                `path:"job_id"`
		Body  ReleaseEscrowRequest `json:"body"`
	}) (*struct {
		Body EscrowResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		amount, err := decimal.NewFromString(input.Body.Amount)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", fmt.Sprintf("invalid amount: %v", err), nil)
		}
		esc, err := e.ReleaseEscrow(ctx, input.JobID, actorID, amount)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EscrowResponse `json:"body"`
		}{Body: mapEscrow(esc)}, nil
	})
}

func registerMilestones(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-milestones",
		Method:      http.MethodGet,
		Path:        "/jobs/{job_id}/milestones",
		Summary:     "List milestones for a job",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		JobID int64 `path:"job_id"`
	}) (*struct {
		Body []MilestoneResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetJob(ctx, input.JobID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListMilestones(ctx, input.JobID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []MilestoneResponse `json:"body"`
		}{Body: mapMilestones(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-milestone",
		Method:      http.MethodPost,
		Path:        "/jobs/{job_id}/milestones/{milestone_id}/submit",
		Summary:     "Submit milestone work",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		JobID       int64                  `path:"job_id"`
		MilestoneID int64                  `path:"milestone_id"`
		Body        SubmitMilestoneRequest `json:"body"`
	}) (*struct {
		Body MilestoneResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.SubmitMilestone(ctx, input.JobID, input.MilestoneID, actorID, strVal(input.Body.Notes))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MilestoneResponse `json:"body"`
		}{Body: mapMilestone(m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-milestone",
		Method:      http.MethodPost,
		Path:        "/jobs/{job_id}/milestones/{milestone_id}/approve",
		Summary:     "Approve a submitted milestone",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		JobID       int64 `path:"job_id"`
		MilestoneID int64 `path:"milestone_id"`
	}) (*struct {
		Body MilestoneResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.ApproveMilestone(ctx, input.JobID, input.MilestoneID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MilestoneResponse `json:"body"`
		}{Body: mapMilestone(m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "request-milestone-revision",
		Method:      http.MethodPost,
		Path:        "/jobs/{job_id}/milestones/{milestone_id}/revision",
		Summary:     "Request changes on a submitted milestone",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		JobID       int64                  `path:"job_id"`
		MilestoneID int64                  `path:"milestone_id"`
		Body        RequestRevisionRequest `json:"body"`
	}) (*struct {
		Body MilestoneResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.RequestMilestoneRevision(ctx, input.JobID, input.MilestoneID, actorID, input.Body.Feedback)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MilestoneResponse `json:"body"`
		}{Body: mapMilestone(m)}, nil
	})
}

func registerDisputes(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "open-dispute",
		Method:      http.MethodPost,
		Path:        "/jobs/{job_id}/disputes",
		Summary:     "Open a dispute on an in-progress job",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		JobID int64              `path:"job_id"`
		Body  OpenDisputeRequest `json:"body"`
	}) (*struct {
		Body DisputeResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.OpenDispute(ctx, input.JobID, actorID, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DisputeResponse `json:"body"`
		}{Body: mapDispute(d)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-disputes",
		Method:      http.MethodGet,
		Path:        "/disputes",
		Summary:     "List disputes",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		JobID  int64  `query:"job_id"`
		Status string `query:"status"`
		Limit  int    `query:"limit"`
		Offset int    `query:"offset" minimum:"0"`
	}) (*struct {
		Body []DisputeResponse `json:"body"`
	}, error) {
		f := repo.DisputeFilter{
			Limit:  normalizeLimit(input.Limit),
			Offset: input.Offset,
		}
		if input.JobID > 0 {
			f.JobID = &input.JobID
		}
		if input.Status != "" {
			st, err := domain.ParseDisputeStatus(input.Status)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
			}
			f.Status = &st
		}
		items, err := e.Repo.ListDisputes(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []DisputeResponse `json:"body"`
		}{Body: mapDisputes(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-dispute",
		Method:      http.MethodGet,
		Path:        "/disputes/{dispute_id}",
		Summary:     "Get a dispute",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DisputeID int64 `path:"dispute_id"`
	}) (*struct {
		Body DisputeResponse `json:"body"`
	}, error) {
		d, err := e.Repo.GetDispute(ctx, input.DisputeID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DisputeResponse `json:"body"`
		}{Body: mapDispute(d)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "respond-dispute",
		Method:      http.MethodPost,
		Path:        "/disputes/{dispute_id}/respond",
		Summary:     "Respond to a dispute",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		DisputeID int64                 `path:"dispute_id"`
		Body      RespondDisputeRequest `json:"body"`
	}) (*struct {
		Body DisputeResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.RespondToDispute(ctx, input.DisputeID, actorID, input.Body.Response)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DisputeResponse `json:"body"`
		}{Body: mapDispute(d)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-dispute",
		Method:      http.MethodPost,
		Path:        "/disputes/{dispute_id}/resolve",
		Summary:     "Resolve a dispute (admin)",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		DisputeID int64                 `path:"dispute_id"`
		Body      ResolveDisputeRequest `json:"body"`
	}) (*struct {
		Body DisputeResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		outcome, err := domain.ParseDisputeStatus(input.Body.Outcome)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		d, err := e.ResolveDispute(ctx, engine.DisputeResolveOptions{
			DisputeID:        input.DisputeID,
			Actor:            principal.ActorID,
			Admin:            principal.Admin(),
			Outcome:          outcome,
			Notes:            strVal(input.Body.Notes),
			RefundPercentage: input.Body.RefundPercentage,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DisputeResponse `json:"body"`
		}{Body: mapDispute(d)}, nil
	})
}

func registerAgents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "register-agent",
		Method:      http.MethodPost,
		Path:        "/agents",
		Summary:     "Register an agent profile",
		Errors:      []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body RegisterAgentRequest `json:"body"`
	}) (*struct {
		Body AgentResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var rate *decimal.Decimal
		if input.Body.HourlyRate != nil {
			parsed, err := decimal.NewFromString(*input.Body.HourlyRate)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", fmt.Sprintf("invalid hourly rate: %v", err), nil)
			}
			rate = &parsed
		}
		availability := true
		if input.Body.Availability != nil {
			availability = *input.Body.Availability
		}
		a, err := e.RegisterAgent(ctx, engine.AgentRegisterOptions{
			Owner:              actorID,
			Name:               input.Body.Name,
			ServiceDescription: strVal(input.Body.ServiceDescription),
			Skills:             input.Body.Skills,
			PortfolioURLs:      input.Body.PortfolioURLs,
			HourlyRate:         rate,
			Availability:       availability,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AgentResponse `json:"body"`
		}{Body: mapAgent(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-agents",
		Method:      http.MethodGet,
		Path:        "/agents",
		Summary:     "List agent profiles",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Skill        string `query:"skill"`
		Available    string `query:"available"`
		Verification string `query:"verification"`
		MinLevel     string `query:"min_level"`
		SortBy       string `query:"sort_by"`
		SortDir      string `query:"sort_dir"`
		Limit        int    `query:"limit"`
		Offset       int    `query:"offset" minimum:"0"`
	}) (*struct {
		Body AgentListResponse `json:"body"`
	}, error) {
		f := repo.AgentFilter{
			Skill:   input.Skill,
			SortBy:  input.SortBy,
			SortDir: input.SortDir,
			Limit:   normalizeLimit(input.Limit),
			Offset:  input.Offset,
		}
		if input.Available != "" {
			v := strings.EqualFold(input.Available, "true")
			f.Available = &v
		}
		if input.Verification != "" {
			level, err := domain.ParseVerificationLevel(input.Verification)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
			}
			f.Verification = &level
		}
		if input.MinLevel != "" {
			level, err := domain.ParseVerificationLevel(input.MinLevel)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
			}
			f.MinVerification = &level
		}
		items, err := e.Repo.ListAgents(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		total, err := e.Repo.CountAgents(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AgentListResponse `json:"body"`
		}{Body: AgentListResponse{Items: mapAgents(items), Total: total}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-agent",
		Method:      http.MethodGet,
		Path:        "/agents/{owner}",
		Summary:     "Get an agent profile",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Owner string `path:"owner"`
	}) (*struct {
		Body AgentResponse `json:"body"`
	}, error) {
		a, err := e.Repo.GetAgent(ctx, input.Owner)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AgentResponse `json:"body"`
		}{Body: mapAgent(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-agent",
		Method:      http.MethodPatch,
		Path:        "/agents/{owner}",
		Summary:     "Update an agent profile",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Owner string             `path:"owner"`
		Body  UpdateAgentRequest `json:"body"`
	}) (*struct {
		Body AgentResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var rate *decimal.Decimal
		if input.Body.HourlyRate != nil {
			parsed, err := decimal.NewFromString(*input.Body.HourlyRate)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", fmt.Sprintf("invalid hourly rate: %v", err), nil)
			}
			rate = &parsed
		}
		a, err := e.UpdateAgentProfile(ctx, input.Owner, actorID, engine.AgentUpdateOptions{
			Name:               input.Body.Name,
			ServiceDescription: input.Body.ServiceDescription,
			Skills:             input.Body.Skills,
			PortfolioURLs:      input.Body.PortfolioURLs,
			HourlyRate:         rate,
			Availability:       input.Body.Availability,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AgentResponse `json:"body"`
		}{Body: mapAgent(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-agent-verification",
		Method:      http.MethodPost,
		Path:        "/agents/{owner}/verification",
		Summary:     "Set an agent's verification level (admin)",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Owner string                 `path:"owner"`
		Body  SetVerificationRequest `json:"body"`
	}) (*struct {
		Body AgentResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		level, err := domain.ParseVerificationLevel(input.Body.Level)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		a, err := e.SetAgentVerification(ctx, input.Owner, principal.ActorID, principal.Admin(), level)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AgentResponse `json:"body"`
		}{Body: mapAgent(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-agent-ratings",
		Method:      http.MethodGet,
		Path:        "/agents/{owner}/ratings",
		Summary:     "List ratings received by an agent",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Owner  string `path:"owner"`
		Limit  int    `query:"limit"`
		Offset int    `query:"offset" minimum:"0"`
	}) (*struct {
		Body []RatingResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetAgent(ctx, input.Owner); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListRatingsForAgent(ctx, input.Owner, normalizeLimit(input.Limit), input.Offset)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []RatingResponse `json:"body"`
		}{Body: mapRatings(items)}, nil
	})
}

func registerRatings(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "rate-job",
		Method:      http.MethodPost,
		Path:        "/jobs/{job_id}/ratings",
		Summary:     "Rate the counterparty on a completed job",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		JobID int64            `path:"job_id"`
		Body  RateAgentRequest `json:"body"`
	}) (*struct {
		Body RatingResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rt, err := e.RateAgent(ctx, engine.RateOptions{
			JobID:  input.JobID,
			Rater:  actorID,
			Rating: input.Body.Rating,
			Review: strVal(input.Body.Review),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RatingResponse `json:"body"`
		}{Body: mapRating(rt)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-job-ratings",
		Method:      http.MethodGet,
		Path:        "/jobs/{job_id}/ratings",
		Summary:     "List ratings on a job",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		JobID int64 `path:"job_id"`
	}) (*struct {
		Body []RatingResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetJob(ctx, input.JobID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListRatingsForJob(ctx, input.JobID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []RatingResponse `json:"body"`
		}{Body: mapRatings(items)}, nil
	})
}

func registerMessages(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "send-message",
		Method:      http.MethodPost,
		Path:        "/jobs/{job_id}/messages",
		Summary:     "Send a message between job parties",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		JobID int64              `path:"job_id"`
		Body  SendMessageRequest `json:"body"`
	}) (*struct {
		Body MessageResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.SendMessage(ctx, input.JobID, actorID, input.Body.Content)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MessageResponse `json:"body"`
		}{Body: mapMessage(m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-messages",
		Method:      http.MethodGet,
		Path:        "/jobs/{job_id}/messages",
		Summary:     "List messages on a job",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		JobID  int64 `path:"job_id"`
		Limit  int   `query:"limit"`
		Offset int   `query:"offset" minimum:"0"`
	}) (*struct {
		Body []MessageResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		j, err := e.Repo.GetJob(ctx, input.JobID)
		if err != nil {
			return nil, handleError(err)
		}
		if actorID != j.Client && (j.Agent == nil || actorID != *j.Agent) {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "only a party to the job may read its messages", nil)
		}
		items, err := e.Repo.ListMessages(ctx, input.JobID, normalizeLimit(input.Limit), input.Offset)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []MessageResponse `json:"body"`
		}{Body: mapMessages(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "mark-messages-read",
		Method:      http.MethodPost,
		Path:        "/jobs/{job_id}/messages/read",
		Summary:     "Mark messages addressed to the caller as read",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		JobID int64 `path:"job_id"`
	}) (*struct {
		Body struct {
			Updated int64 `json:"updated"`
		} `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := e.MarkMessagesRead(ctx, input.JobID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Updated int64 `json:"updated"`
			} `json:"body"`
		}{}
		out.Body.Updated = n
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "unread-message-count",
		Method:      http.MethodGet,
		Path:        "/messages/unread",
		Summary:     "Count unread messages addressed to the caller",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body struct {
			Unread int64 `json:"unread"`
		} `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := e.Repo.CountUnreadMessages(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Unread int64 `json:"unread"`
			} `json:"body"`
		}{}
		out.Body.Unread = n
		return out, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List ledger events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Type       string `query:"type"`
		AfterID    int64  `query:"after_id" minimum:"0"`
		Limit      int    `query:"limit"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListEvents(ctx, repo.EventFilter{
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Type:       input.Type,
			AfterID:    input.AfterID,
			Limit:      normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: mapEvents(items)}, nil
	})
}

func registerStats(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "marketplace-stats",
		Method:      http.MethodGet,
		Path:        "/stats",
		Summary:     "Marketplace-wide counters",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body StatsResponse `json:"body"`
	}, error) {
		s, err := e.Repo.Stats(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StatsResponse `json:"body"`
		}{Body: mapStats(s)}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "create-api-key",
		Method:      http.MethodPost,
		Path:        "/apikeys",
		Summary:     "Create an API key (admin)",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if !principal.Admin() && (e.Config == nil || !e.Config.IsDisputeAdmin(principal.ActorID)) {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "only admins may create api keys", nil)
		}
		if strings.TrimSpace(input.Body.Owner) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "owner is required", nil)
		}
		rawKey := uuid.NewString() + uuid.NewString()
		key := domain.APIKey{
			ID:      uuid.NewString(),
			Owner:   input.Body.Owner,
			Name:    strVal(input.Body.Name),
			KeyHash: repo.HashAPIKey(rawKey),
		}
		if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
			return nil, handleError(err)
		}
		stored, err := e.Repo.GetAPIKeyByHash(ctx, key.KeyHash)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: APIKeyResponse{
			ID:        stored.ID,
			Owner:     stored.Owner,
			Name:      stored.Name,
			Key:       rawKey,
			CreatedAt: stored.CreatedAt,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/apikeys",
		Summary:     "List API keys (admin)",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Owner string `query:"owner"`
	}) (*struct {
		Body []APIKeyResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if !principal.Admin() && (e.Config == nil || !e.Config.IsDisputeAdmin(principal.ActorID)) {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "only admins may list api keys", nil)
		}
		keys, err := e.Repo.ListAPIKeys(ctx, input.Owner)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]APIKeyResponse, 0, len(keys))
		for _, k := range keys {
			res = append(res, APIKeyResponse{
				ID:        k.ID,
				Owner:     k.Owner,
				Name:      k.Name,
				CreatedAt: k.CreatedAt,
			})
		}
		return &struct {
			Body []APIKeyResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-api-key",
		Method:      http.MethodDelete,
		Path:        "/apikeys/{id}",
		Summary:     "Delete an API key (admin)",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if !principal.Admin() && (e.Config == nil || !e.Config.IsDisputeAdmin(principal.ActorID)) {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "only admins may delete api keys", nil)
		}
		if err := e.Repo.DeleteAPIKey(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{
			ActorID: principal.ActorID,
			Roles:   nonNilSlice(principal.Roles),
			Source:  principal.Source,
		}}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, actor, input.Body.Roles)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
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
	openPaths := map[string]struct{}{
		ensureLeadingSlash(path.Join(basePath, "health")):         {},
		ensureLeadingSlash(path.Join(basePath, "auth/dev/login")): {},
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if _, open := openPaths[route]; open {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func ensureLeadingSlash(p string) string {
	if !strings.HasPrefix(p, "/") {
		return "/" + p
	}
	return p
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Agentmarket API Docs</title>
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

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
