package leadlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Leadline HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	// ActorID is sent as X-Actor-Id when no bearer token is set.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Lead represents the API lead model.
type Lead struct {
	ID                string   `json:"id"`
	LeadNumber        string   `json:"lead_number"`
	CompanyName       string   `json:"company_name"`
	ContactName       string   `json:"contact_name,omitempty"`
	ContactPhone      string   `json:"contact_phone,omitempty"`
	ContactEmail      string   `json:"contact_email,omitempty"`
	DealType          string   `json:"deal_type"`
	Stage             string   `json:"stage"`
	SubStage          string   `json:"sub_stage,omitempty"`
	Temperature       int      `json:"temperature"`
	TemperatureStatus string   `json:"temperature_status"`
	Probability       int      `json:"probability"`
	EstimatedValue    float64  `json:"estimated_value"`
	StageEnteredAt    string   `json:"stage_entered_at"`
	FinalValue        *float64 `json:"final_value,omitempty"`
	PONumber          string   `json:"po_number,omitempty"`
	AfterSalesStatus  string   `json:"after_sales_status,omitempty"`
	LostReason        string   `json:"lost_reason,omitempty"`
	CreatedBy         string   `json:"created_by"`
	CreatedAt         string   `json:"created_at"`
	UpdatedAt         string   `json:"updated_at"`
	Version           int64    `json:"version"`
}

type Activity struct {
	ID                string `json:"id"`
	LeadID            string `json:"lead_id"`
	Type              string `json:"type"`
	Subject           string `json:"subject,omitempty"`
	Outcome           string `json:"outcome,omitempty"`
	NextActionDate    string `json:"next_action_date,omitempty"`
	TemperatureImpact int    `json:"temperature_impact"`
	ActorID           string `json:"actor_id"`
	CreatedAt         string `json:"created_at"`
}

type TemperatureChange struct {
	ID           string `json:"id"`
	LeadID       string `json:"lead_id"`
	FromValue    int    `json:"from_value"`
	ToValue      int    `json:"to_value"`
	FromStatus   string `json:"from_status"`
	ToStatus     string `json:"to_status"`
	TriggerEvent string `json:"trigger_event"`
	Reason       string `json:"reason,omitempty"`
	ActorID      string `json:"actor_id"`
	CreatedAt    string `json:"created_at"`
}

// ActivityResult is returned by LogActivity.
type ActivityResult struct {
	Activity Activity           `json:"activity"`
	Lead     Lead               `json:"lead"`
	Change   *TemperatureChange `json:"change,omitempty"`
}

type TemperatureResult struct {
	Lead   Lead              `json:"lead"`
	Change TemperatureChange `json:"change"`
}

type StageSummary struct {
	Stage         string  `json:"stage"`
	Count         int     `json:"count"`
	TotalValue    float64 `json:"total_value"`
	WeightedValue float64 `json:"weighted_value"`
}

type PipelineSummary struct {
	Stages        []StageSummary `json:"stages"`
	TotalValue    float64        `json:"total_value"`
	WeightedValue float64        `json:"weighted_value"`
}

type SweepReport struct {
	StartedAt string `json:"started_at"`
	Duration  string `json:"duration"`
	Scanned   int    `json:"scanned"`
	Cooled    int    `json:"cooled"`
	Skipped   int    `json:"skipped"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

type CreateLeadRequest struct {
	CompanyName    string  `json:"company_name"`
	ContactName    string  `json:"contact_name,omitempty"`
	ContactPhone   string  `json:"contact_phone,omitempty"`
	ContactEmail   string  `json:"contact_email,omitempty"`
	DealType       string  `json:"deal_type"`
	EstimatedValue float64 `json:"estimated_value,omitempty"`
	Source         string  `json:"source,omitempty"`
	Notes          string  `json:"notes,omitempty"`
}

type ActivityRequest struct {
	Type           string `json:"type"`
	Subject        string `json:"subject,omitempty"`
	Description    string `json:"description,omitempty"`
	Outcome        string `json:"outcome,omitempty"`
	NextAction     string `json:"next_action,omitempty"`
	NextActionDate string `json:"next_action_date,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateLead opens a lead at stage lead.
func (c *Client) CreateLead(ctx context.Context, in CreateLeadRequest) (Lead, error) {
	var resp Lead
	err := c.do(ctx, http.MethodPost, "v0/leads", in, &resp)
	return resp, err
}

// GetLead fetches a lead by id.
func (c *Client) GetLead(ctx context.Context, id string) (Lead, error) {
	var resp Lead
	err := c.do(ctx, http.MethodGet, leadPath(id, ""), nil, &resp)
	return resp, err
}

// ListLeads returns leads, optionally restricted to the given stages.
func (c *Client) ListLeads(ctx context.Context, limit int, stages ...string) ([]Lead, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if len(stages) > 0 {
		q.Set("stage", strings.Join(stages, ","))
	}
	var resp struct {
		Items []Lead `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, withQuery("v0/leads", q), nil, &resp)
	return resp.Items, err
}

func (c *Client) LogActivity(ctx context.Context, leadID string, in ActivityRequest) (ActivityResult, error) {
	var resp ActivityResult
	err := c.do(ctx, http.MethodPost, leadPath(leadID, "activities"), in, &resp)
	return resp, err
}

func (c *Client) ListActivities(ctx context.Context, leadID string) ([]Activity, error) {
	var resp struct {
		Items []Activity `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, leadPath(leadID, "activities"), nil, &resp)
	return resp.Items, err
}

// AdjustTemperature applies a manual delta to the lead's temperature.
func (c *Client) AdjustTemperature(ctx context.Context, leadID string, delta int, reason string) (TemperatureResult, error) {
	body := map[string]any{
		"manual_adjustment": delta,
		"reason":            reason,
	}
	var resp TemperatureResult
	err := c.do(ctx, http.MethodPost, leadPath(leadID, "temperature"), body, &resp)
	return resp, err
}

// ApplyActivityImpact applies the configured impact of activityType without logging an activity.
func (c *Client) ApplyActivityImpact(ctx context.Context, leadID, activityType string) (TemperatureResult, error) {
	var resp TemperatureResult
	err := c.do(ctx, http.MethodPost, leadPath(leadID, "temperature"), map[string]any{"activity_type": activityType}, &resp)
	return resp, err
}

func (c *Client) TemperatureHistory(ctx context.Context, leadID string) ([]TemperatureChange, error) {
	var resp struct {
		Items []TemperatureChange `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, leadPath(leadID, "temperature-history"), nil, &resp)
	return resp.Items, err
}

// MoveStage moves a lead to another open stage.
func (c *Client) MoveStage(ctx context.Context, leadID, stage, note string) (Lead, error) {
	body := map[string]any{"stage": stage}
	if note != "" {
		body["note"] = note
	}
	var resp Lead
	err := c.do(ctx, http.MethodPost, leadPath(leadID, "stage"), body, &resp)
	return resp, err
}

func (c *Client) MarkWon(ctx context.Context, leadID string, finalValue float64, poNumber string) (Lead, error) {
	body := map[string]any{"final_value": finalValue}
	if poNumber != "" {
		body["po_number"] = poNumber
	}
	var resp Lead
	err := c.do(ctx, http.MethodPost, leadPath(leadID, "won"), body, &resp)
	return resp, err
}

func (c *Client) MarkLost(ctx context.Context, leadID, reason, competitor string) (Lead, error) {
	body := map[string]any{"reason": reason}
	if competitor != "" {
		body["competitor"] = competitor
	}
	var resp Lead
	err := c.do(ctx, http.MethodPost, leadPath(leadID, "lost"), body, &resp)
	return resp, err
}

// RunSweep triggers the cooling sweep on the server.
func (c *Client) RunSweep(ctx context.Context) (SweepReport, error) {
	var resp SweepReport
	err := c.do(ctx, http.MethodPost, "v0/sweeps", map[string]any{}, &resp)
	return resp, err
}

func (c *Client) PipelineSummary(ctx context.Context) (PipelineSummary, error) {
	var resp PipelineSummary
	err := c.do(ctx, http.MethodGet, "v0/pipeline/summary", nil, &resp)
	return resp, err
}

// ExportPipeline writes the XLSX pipeline workbook to w.
func (c *Client) ExportPipeline(ctx context.Context, w io.Writer) error {
	resp, err := c.send(ctx, http.MethodGet, "v0/pipeline/export.xlsx", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, err = io.Copy(w, resp.Body)
	return err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing, newest first.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, withQuery("v0/events", q), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	resp, err := c.send(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, endpoint string, body any) (*http.Response, error) {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return nil, apiErr
	}
	return resp, nil
}

func leadPath(id, sub string) string {
	p := "v0/leads/" + url.PathEscape(id)
	if sub != "" {
		p += "/" + sub
	}
	return p
}

func withQuery(endpoint string, q url.Values) string {
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
