package config

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

// Policy models the scoring policy file (leadline.yml).
type Policy struct {
	Temperature struct {
		Min int `yaml:"min" json:"min"`
		Max int `yaml:"max" json:"max"`
	} `yaml:"temperature" json:"temperature"`
	// Statuses are evaluated in ascending order of Max; the first band whose
	// Max is >= the temperature wins.
	Statuses         []StatusBand           `yaml:"statuses" json:"statuses"`
	Impacts          map[string]int         `yaml:"impacts" json:"impacts"`
	Cooling          map[string]CoolingRule `yaml:"cooling" json:"cooling"`
	StageProbability map[string]int         `yaml:"stage_probability" json:"stage_probability"`
	StageOrder       []string               `yaml:"stage_order" json:"stage_order"`
	ForwardBonus     int                    `yaml:"forward_bonus" json:"forward_bonus"`
	DealTypeFactors  map[string]float64     `yaml:"deal_type_factors" json:"deal_type_factors"`
	LeadNumber       struct {
		Prefix   string `yaml:"prefix" json:"prefix"`
		Timezone string `yaml:"timezone" json:"timezone"`
	} `yaml:"lead_number" json:"lead_number"`
	PhoneRegion string `yaml:"phone_region" json:"phone_region"`
}

type StatusBand struct {
	Status string `yaml:"status" json:"status"`
	Max    int    `yaml:"max" json:"max"`
}

type CoolingRule struct {
	ThresholdDays int `yaml:"threshold_days" json:"threshold_days"`
	RatePerDay    int `yaml:"rate_per_day" json:"rate_per_day"`
}

// Stages known to the scoring model.
var Stages = []string{"lead", "qualified", "negotiation", "closing", "won", "lost"}

// Validate ensures the policy meets required structure.
func (p *Policy) Validate() error {
	if p.Temperature.Min >= p.Temperature.Max {
		return fmt.Errorf("policy.temperature.min must be below max")
	}
	if len(p.Statuses) == 0 {
		return fmt.Errorf("policy.statuses is required")
	}
	prev := p.Temperature.Min - 1
	for i, band := range p.Statuses {
		if band.Status == "" {
			return fmt.Errorf("policy.statuses[%d] has empty status", i)
		}
		if band.Max <= prev {
			return fmt.Errorf("policy.statuses must be strictly ascending (band %s)", band.Status)
		}
		prev = band.Max
	}
	if prev < p.Temperature.Max {
		return fmt.Errorf("policy.statuses must cover temperature %d", p.Temperature.Max)
	}
	for activity := range p.Impacts {
		if activity == "" {
			return fmt.Errorf("policy.impacts has empty activity type")
		}
	}
	for stage, rule := range p.Cooling {
		if !knownStage(stage) {
			return fmt.Errorf("policy.cooling references unknown stage %s", stage)
		}
		if stage == "won" || stage == "lost" {
			return fmt.Errorf("policy.cooling cannot apply to terminal stage %s", stage)
		}
		if rule.ThresholdDays < 0 || rule.RatePerDay < 0 {
			return fmt.Errorf("policy.cooling.%s must be non-negative", stage)
		}
	}
	for _, stage := range Stages {
		v, ok := p.StageProbability[stage]
		if !ok {
			return fmt.Errorf("policy.stage_probability.%s is required", stage)
		}
		if v < 0 || v > 100 {
			return fmt.Errorf("policy.stage_probability.%s must be within 0..100", stage)
		}
	}
	seen := map[string]bool{}
	for _, stage := range p.StageOrder {
		if !knownStage(stage) {
			return fmt.Errorf("policy.stage_order references unknown stage %s", stage)
		}
		if stage == "lost" {
			return fmt.Errorf("policy.stage_order cannot include lost")
		}
		if seen[stage] {
			return fmt.Errorf("policy.stage_order repeats %s", stage)
		}
		seen[stage] = true
	}
	for dealType, factor := range p.DealTypeFactors {
		if factor <= 0 {
			return fmt.Errorf("policy.deal_type_factors.%s must be positive", dealType)
		}
	}
	if p.LeadNumber.Prefix == "" {
		return fmt.Errorf("policy.lead_number.prefix is required")
	}
	if _, err := p.Location(); err != nil {
		return fmt.Errorf("policy.lead_number.timezone: %w", err)
	}
	return nil
}

// Location resolves the lead-number timezone, UTC when unset.
func (p *Policy) Location() (*time.Location, error) {
	if p.LeadNumber.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(p.LeadNumber.Timezone)
}

// ActivityTypes returns the configured activity types sorted by name.
func (p *Policy) ActivityTypes() []string {
	out := make([]string, 0, len(p.Impacts))
	for k := range p.Impacts {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func knownStage(s string) bool {
	for _, v := range Stages {
		if v == s {
			return true
		}
	}
	return false
}

// Default returns the built-in policy.
func Default() *Policy {
	var p Policy
	if err := yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&p); err != nil {
		panic(fmt.Sprintf("default policy: %v", err))
	}
	return &p
}

// GenerateDefault returns default policy YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses and validates a policy from raw YAML bytes. Sections left
// out of the document keep their default values.
func FromYAML(data []byte) (*Policy, error) {
	p := Default()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("invalid policy yaml: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// FromFile reads a YAML policy from the given path.
func FromFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// ToYAML renders the policy as YAML.
func (p *Policy) ToYAML() ([]byte, error) {
	return yaml.Marshal(p)
}

const defaultTemplate = `temperature:
  min: -20
  max: 100

statuses:
  - status: cold
    max: 25
  - status: warm
    max: 50
  - status: hot
    max: 75
  - status: critical
    max: 100

impacts:
  phone_call: 10
  email_sent: 5
  email_received: 5
  meeting_scheduled: 20
  site_visit: 30
  quote_sent: 25
  quote_revised: 15
  positive_response: 20
  negative_response: -15
  no_response: -5

cooling:
  lead:
    threshold_days: 3
    rate_per_day: 10
  qualified:
    threshold_days: 5
    rate_per_day: 5
  negotiation:
    threshold_days: 3
    rate_per_day: 15
  closing:
    threshold_days: 2
    rate_per_day: 20

stage_probability:
  lead: 10
  qualified: 25
  negotiation: 50
  closing: 75
  won: 100
  lost: 0

stage_order: [lead, qualified, negotiation, closing, won]
forward_bonus: 10

deal_type_factors:
  supply: 1.2
  supply_apply: 0.8

lead_number:
  prefix: L
  timezone: UTC

phone_region: ID
`
