package server

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"leadline/internal/config"
	"leadline/internal/domain"
	"leadline/internal/engine"
	"leadline/internal/report"
	"leadline/internal/repo"
)

type leadPath struct {
	ID string `path:"id" doc:"Lead id or lead number"`
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

func registerPolicy(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-policy",
		Method:      http.MethodGet,
		Path:        "/policy",
		Summary:     "Active scoring policy",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body *config.Policy `json:"body"`
	}, error) {
		return &struct {
			Body *config.Policy `json:"body"`
		}{Body: e.Scoring.Policy()}, nil
	})
}

func registerLeads(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-lead",
		Method:        http.MethodPost,
		Path:          "/leads",
		Summary:       "Create lead",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateLeadRequest `json:"body"`
	}) (*struct {
		Body domain.Lead `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		in := input.Body
		lead, err := e.CreateLead(ctx, engine.NewLead{
			CompanyName:    in.CompanyName,
			ContactName:    in.ContactName,
			ContactPhone:   in.ContactPhone,
			ContactEmail:   in.ContactEmail,
			DealType:       domain.DealType(in.DealType),
			EstimatedValue: in.EstimatedValue,
			SubStage:       in.SubStage,
			Source:         in.Source,
			Notes:          in.Notes,
			ActorID:        actorID,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body domain.Lead `json:"body"`
		}{Body: lead}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-leads",
		Method:      http.MethodGet,
		Path:        "/leads",
		Summary:     "List leads",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Stage    []string `query:"stage" doc:"Filter by stage; repeat or comma-separate"`
		Status   string   `query:"status" enum:"cold,warm,hot,critical"`
		DealType string   `query:"deal_type" enum:"supply,apply,supply_apply"`
		Limit    int      `query:"limit" default:"50"`
	}) (*struct {
		Body leadList `json:"body"`
	}, error) {
		q := engine.LeadQuery{
			Status:   domain.TemperatureStatus(input.Status),
			DealType: domain.DealType(input.DealType),
			Limit:    normalizeLimit(input.Limit),
		}
		for _, raw := range input.Stage {
			for _, s := range strings.Split(raw, ",") {
				if s = strings.TrimSpace(s); s != "" {
					q.Stages = append(q.Stages, domain.Stage(s))
				}
			}
		}
		leads, err := e.ListLeads(ctx, q)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		if leads == nil {
			leads = []domain.Lead{}
		}
		return &struct {
			Body leadList `json:"body"`
		}{Body: leadList{Items: leads}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-lead",
		Method:      http.MethodGet,
		Path:        "/leads/{id}",
		Summary:     "Get lead",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *leadPath) (*struct {
		Body domain.Lead `json:"body"`
	}, error) {
		lead, err := e.GetLead(ctx, input.ID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body domain.Lead `json:"body"`
		}{Body: lead}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-activities",
		Method:      http.MethodGet,
		Path:        "/leads/{id}/activities",
		Summary:     "List lead activities",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID    string `path:"id"`
		Limit int    `query:"limit" default:"50"`
	}) (*struct {
		Body activityList `json:"body"`
	}, error) {
		items, err := e.ListActivities(ctx, input.ID, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(ctx, err)
		}
		if items == nil {
			items = []domain.LeadActivity{}
		}
		return &struct {
			Body activityList `json:"body"`
		}{Body: activityList{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "temperature-history",
		Method:      http.MethodGet,
		Path:        "/leads/{id}/temperature-history",
		Summary:     "Temperature audit trail",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *leadPath) (*struct {
		Body temperatureHistory `json:"body"`
	}, error) {
		items, err := e.TemperatureHistory(ctx, input.ID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		if items == nil {
			items = []domain.TemperatureChange{}
		}
		return &struct {
			Body temperatureHistory `json:"body"`
		}{Body: temperatureHistory{Items: items}}, nil
	})
}

func registerLeadActions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "log-activity",
		Method:        http.MethodPost,
		Path:          "/leads/{id}/activities",
		Summary:       "Log an activity",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body LogActivityRequest `json:"body"`
	}) (*struct {
		Body engine.ActivityResult `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		id, err := resolveLead(ctx, e, input.ID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		res, err := e.LogActivity(ctx, engine.ActivityInput{
			LeadID:         id,
			Type:           input.Body.Type,
			Subject:        input.Body.Subject,
			Description:    input.Body.Description,
			Outcome:        input.Body.Outcome,
			NextAction:     input.Body.NextAction,
			NextActionDate: input.Body.NextActionDate,
			ActorID:        actorID,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body engine.ActivityResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-temperature",
		Method:      http.MethodPost,
		Path:        "/leads/{id}/temperature",
		Summary:     "Apply an activity impact or manual adjustment",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string                   `path:"id"`
		Body UpdateTemperatureRequest `json:"body"`
	}) (*struct {
		Body engine.TemperatureResult `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		id, err := resolveLead(ctx, e, input.ID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		res, err := e.UpdateTemperature(ctx, engine.TemperatureUpdate{
			LeadID:           id,
			ActivityType:     input.Body.ActivityType,
			ManualAdjustment: input.Body.ManualAdjustment,
			Reason:           input.Body.Reason,
			ActorID:          actorID,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body engine.TemperatureResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "move-stage",
		Method:      http.MethodPost,
		Path:        "/leads/{id}/stage",
		Summary:     "Move lead to another open stage",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string           `path:"id"`
		Body MoveStageRequest `json:"body"`
	}) (*struct {
		Body domain.Lead `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		id, err := resolveLead(ctx, e, input.ID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		lead, err := e.MoveStage(ctx, engine.StageMove{
			LeadID:   id,
			Stage:    domain.Stage(input.Body.Stage),
			SubStage: input.Body.SubStage,
			Note:     input.Body.Note,
			ActorID:  actorID,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body domain.Lead `json:"body"`
		}{Body: lead}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "mark-won",
		Method:      http.MethodPost,
		Path:        "/leads/{id}/won",
		Summary:     "Close lead as won",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"id"`
		Body MarkWonRequest `json:"body"`
	}) (*struct {
		Body domain.Lead `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		id, err := resolveLead(ctx, e, input.ID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		lead, err := e.MarkWon(ctx, engine.WonInput{
			LeadID:     id,
			FinalValue: input.Body.FinalValue,
			PONumber:   input.Body.PONumber,
			ActorID:    actorID,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body domain.Lead `json:"body"`
		}{Body: lead}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "mark-lost",
		Method:      http.MethodPost,
		Path:        "/leads/{id}/lost",
		Summary:     "Close lead as lost",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body MarkLostRequest `json:"body"`
	}) (*struct {
		Body domain.Lead `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		id, err := resolveLead(ctx, e, input.ID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		lead, err := e.MarkLost(ctx, engine.LostInput{
			LeadID:     id,
			Reason:     input.Body.Reason,
			Competitor: input.Body.Competitor,
			Notes:      input.Body.Notes,
			ActorID:    actorID,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body domain.Lead `json:"body"`
		}{Body: lead}, nil
	})
}

func registerPipeline(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "pipeline-summary",
		Method:      http.MethodGet,
		Path:        "/pipeline/summary",
		Summary:     "Lead count and value per stage",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body pipelineSummary `json:"body"`
	}, error) {
		stages, err := e.PipelineSummary(ctx)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body pipelineSummary `json:"body"`
		}{Body: newPipelineSummary(stages)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "run-sweep",
		Method:      http.MethodPost,
		Path:        "/sweeps",
		Summary:     "Run the cooling sweep now",
	}, func(ctx context.Context, input *struct {
		Body *SweepRequest `json:"body,omitempty" required:"false"`
	}) (*struct {
		Body engine.SweepReport `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		var opts engine.SweepOptions
		if input.Body != nil {
			opts.Concurrency = input.Body.Concurrency
		}
		rep, err := e.CoolingSweep(ctx, opts)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body engine.SweepReport `json:"body"`
		}{Body: rep}, nil
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
		Type     string `query:"type"`
		EntityID string `query:"entity_id"`
		Limit    int    `query:"limit" default:"50"`
		Cursor   string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var before int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil || parsed <= 0 {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			before = parsed
		}
		items, err := e.Repo.LatestEvents(ctx, repo.EventFilters{
			Type:     input.Type,
			EntityID: input.EntityID,
			Before:   before,
			Limit:    limit + 1,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

// registerExport serves the XLSX workbook outside huma since the body is binary.
func registerExport(r chi.Router, basePath string, e engine.Engine) {
	r.Get(basePath+"/pipeline/export.xlsx", func(w http.ResponseWriter, req *http.Request) {
		ctx := req.Context()
		leads, err := e.ListLeads(ctx, engine.LeadQuery{})
		if err != nil {
			respondStatusError(w, handleError(ctx, err))
			return
		}
		summary, err := e.PipelineSummary(ctx)
		if err != nil {
			respondStatusError(w, handleError(ctx, err))
			return
		}
		var buf bytes.Buffer
		if err := report.WritePipeline(&buf, leads, summary); err != nil {
			respondStatusError(w, handleError(ctx, err))
			return
		}
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", `attachment; filename="pipeline.xlsx"`)
		w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
		_, _ = w.Write(buf.Bytes())
	})
}

func resolveLead(ctx context.Context, e engine.Engine, ref string) (string, error) {
	lead, err := e.GetLead(ctx, ref)
	if err != nil {
		return "", err
	}
	return lead.ID, nil
}
