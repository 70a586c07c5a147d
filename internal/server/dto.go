package server

import (
	"encoding/json"

	"leadline/internal/domain"
)

// Request payloads

type CreateLeadRequest struct {
	CompanyName    string  `json:"company_name" minLength:"1"`
	ContactName    string  `json:"contact_name,omitempty"`
	ContactPhone   string  `json:"contact_phone,omitempty"`
	ContactEmail   string  `json:"contact_email,omitempty"`
	DealType       string  `json:"deal_type" enum:"supply,apply,supply_apply"`
	EstimatedValue float64 `json:"estimated_value,omitempty"`
	SubStage       string  `json:"sub_stage,omitempty"`
	Source         string  `json:"source,omitempty"`
	Notes          string  `json:"notes,omitempty"`
}

type LogActivityRequest struct {
	Type           string `json:"type" minLength:"1"`
	Subject        string `json:"subject,omitempty"`
	Description    string `json:"description,omitempty"`
	Outcome        string `json:"outcome,omitempty"`
	NextAction     string `json:"next_action,omitempty"`
	NextActionDate string `json:"next_action_date,omitempty" doc:"YYYY-MM-DD"`
}

type UpdateTemperatureRequest struct {
	ActivityType     string `json:"activity_type,omitempty"`
	ManualAdjustment *int   `json:"manual_adjustment,omitempty"`
	Reason           string `json:"reason,omitempty"`
}

type MoveStageRequest struct {
	Stage    string `json:"stage" enum:"lead,qualified,negotiation,closing"`
	SubStage string `json:"sub_stage,omitempty"`
	Note     string `json:"note,omitempty"`
}

type MarkWonRequest struct {
	FinalValue float64 `json:"final_value"`
	PONumber   string  `json:"po_number,omitempty"`
}

type MarkLostRequest struct {
	Reason     string `json:"reason" minLength:"1"`
	Competitor string `json:"competitor,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

type SweepRequest struct {
	Concurrency int `json:"concurrency,omitempty" minimum:"0" maximum:"64"`
}

// Response payloads

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type leadList struct {
	Items []domain.Lead `json:"items"`
}

type activityList struct {
	Items []domain.LeadActivity `json:"items"`
}

type temperatureHistory struct {
	Items []domain.TemperatureChange `json:"items"`
}

type pipelineSummary struct {
	Stages        []domain.StageSummary `json:"stages"`
	TotalValue    float64               `json:"total_value"`
	WeightedValue float64               `json:"weighted_value"`
}

func eventResponse(evt domain.Event) EventResponse {
	out := EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
	}
	if evt.Payload != "" {
		var payload map[string]any
		if err := json.Unmarshal([]byte(evt.Payload), &payload); err == nil {
			out.Payload = payload
		}
	}
	return out
}

func newPipelineSummary(stages []domain.StageSummary) pipelineSummary {
	out := pipelineSummary{Stages: stages}
	if out.Stages == nil {
		out.Stages = []domain.StageSummary{}
	}
	for _, s := range stages {
		out.TotalValue += s.TotalValue
		out.WeightedValue += s.WeightedValue
	}
	return out
}
