package domain

// Stage is a pipeline phase.
type Stage string

const (
	StageLead        Stage = "lead"
	StageQualified   Stage = "qualified"
	StageNegotiation Stage = "negotiation"
	StageClosing     Stage = "closing"
	StageWon         Stage = "won"
	StageLost        Stage = "lost"
)

// OpenStages are the stages the cooling sweep visits.
var OpenStages = []Stage{StageLead, StageQualified, StageNegotiation, StageClosing}

func (s Stage) Valid() bool {
	switch s {
	case StageLead, StageQualified, StageNegotiation, StageClosing, StageWon, StageLost:
		return true
	}
	return false
}

func (s Stage) Terminal() bool {
	return s == StageWon || s == StageLost
}

type DealType string

const (
	DealSupply      DealType = "supply"
	DealApply       DealType = "apply"
	DealSupplyApply DealType = "supply_apply"
)

func (d DealType) Valid() bool {
	return d == DealSupply || d == DealApply || d == DealSupplyApply
}

type TemperatureStatus string

const (
	StatusCold     TemperatureStatus = "cold"
	StatusWarm     TemperatureStatus = "warm"
	StatusHot      TemperatureStatus = "hot"
	StatusCritical TemperatureStatus = "critical"
)

const AfterSalesPOPending = "po_pending"

// Trigger recorded on temperature changes produced by the cooling sweep.
const TriggerAutoCooling = "auto_cooling"

type Lead struct {
	ID                string            `json:"id"`
	LeadNumber        string            `json:"lead_number"`
	CompanyName       string            `json:"company_name"`
	ContactName       string            `json:"contact_name,omitempty"`
	ContactPhone      string            `json:"contact_phone,omitempty"`
	ContactEmail      string            `json:"contact_email,omitempty"`
	Source            string            `json:"source,omitempty"`
	Notes             string            `json:"notes,omitempty"`
	DealType          DealType          `json:"deal_type"`
	Stage             Stage             `json:"stage"`
	SubStage          string            `json:"sub_stage,omitempty"`
	Temperature       int               `json:"temperature"`
	TemperatureStatus TemperatureStatus `json:"temperature_status"`
	Probability       int               `json:"probability"`
	EstimatedValue    float64           `json:"estimated_value"`
	StageEnteredAt    string            `json:"stage_entered_at"`
	WonDate           string            `json:"won_date,omitempty"`
	LostDate          string            `json:"lost_date,omitempty"`
	LostReason        string            `json:"lost_reason,omitempty"`
	LostCompetitor    string            `json:"lost_competitor,omitempty"`
	LostNotes         string            `json:"lost_notes,omitempty"`
	FinalValue        *float64          `json:"final_value,omitempty"`
	PONumber          string            `json:"po_number,omitempty"`
	AfterSalesStatus  string            `json:"after_sales_status,omitempty"`
	ActualCloseDate   string            `json:"actual_close_date,omitempty"`
	CreatedBy         string            `json:"created_by"`
	CreatedAt         string            `json:"created_at"`
	UpdatedAt         string            `json:"updated_at"`
	Version           int64             `json:"version"`
}

type LeadActivity struct {
	ID                string `json:"id"`
	LeadID            string `json:"lead_id"`
	Type              string `json:"type"`
	Subject           string `json:"subject,omitempty"`
	Description       string `json:"description,omitempty"`
	Outcome           string `json:"outcome,omitempty"`
	NextAction        string `json:"next_action,omitempty"`
	NextActionDate    string `json:"next_action_date,omitempty"`
	TemperatureImpact int    `json:"temperature_impact"`
	ActorID           string `json:"actor_id"`
	CreatedAt         string `json:"created_at"`
}

type TemperatureChange struct {
	ID           string            `json:"id"`
	LeadID       string            `json:"lead_id"`
	FromValue    int               `json:"from_value"`
	ToValue      int               `json:"to_value"`
	FromStatus   TemperatureStatus `json:"from_status"`
	ToStatus     TemperatureStatus `json:"to_status"`
	TriggerEvent string            `json:"trigger_event"`
	Reason       string            `json:"reason,omitempty"`
	ActorID      string            `json:"actor_id"`
	CreatedAt    string            `json:"created_at"`
}

type AfterSales struct {
	ID         string  `json:"id"`
	LeadID     string  `json:"lead_id"`
	Status     string  `json:"status"`
	PONumber   string  `json:"po_number,omitempty"`
	FinalValue float64 `json:"final_value"`
	CreatedAt  string  `json:"created_at"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload"`
}

// StageSummary aggregates open pipeline value for one stage.
type StageSummary struct {
	Stage         Stage   `json:"stage"`
	Count         int     `json:"count"`
	TotalValue    float64 `json:"total_value"`
	WeightedValue float64 `json:"weighted_value"`
}
