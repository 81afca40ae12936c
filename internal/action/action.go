// Package action defines the fixed set of corrective actions the optimizer
// may emit, as a tagged variant type with strongly-typed parameter records,
// plus the fail-closed validator that guards the dispatch boundary.
package action

import (
	"encoding/json"
	"fmt"
)

// Type tags one action variant.
type Type string

const (
	TypeStatusRead            Type = "status_read"
	TypePauseCampaign         Type = "pause_campaign"
	TypePauseUnit             Type = "pause_unit"
	TypeUpdateUnitBudget      Type = "update_unit_budget"
	TypePauseSubComponent     Type = "pause_sub_component"
	TypeDuplicateWithAudience Type = "duplicate_with_audience"
	TypeCreateUnitWithAssets  Type = "create_unit_with_assets"
)

// Action is the closed variant interface. Only the types in this package
// implement it; validation switches exhaustively over them.
type Action interface {
	ActionType() Type
}

// StatusRead reads a campaign's current status. Within a batch it always
// precedes mutating actions on that campaign's units.
type StatusRead struct {
	CampaignID string `json:"campaignId"`
}

func (StatusRead) ActionType() Type { return TypeStatusRead }

// PauseCampaign pauses an entire platform campaign.
type PauseCampaign struct {
	CampaignID string `json:"campaignId"`
	Reason     string `json:"reason,omitempty"`
}

func (PauseCampaign) ActionType() Type { return TypePauseCampaign }

// PauseUnit pauses one ad-serving unit.
type PauseUnit struct {
	UnitID string `json:"unitId"`
	Reason string `json:"reason,omitempty"`
}

func (PauseUnit) ActionType() Type { return TypePauseUnit }

// UpdateUnitBudget sets a unit's daily budget in integer minor-currency units.
type UpdateUnitBudget struct {
	UnitID         string `json:"unitId"`
	NewBudgetCents int64  `json:"newBudgetCents"`
	Reason         string `json:"reason,omitempty"`
}

func (UpdateUnitBudget) ActionType() Type { return TypeUpdateUnitBudget }

// PauseSubComponent pauses a single ad inside a unit (budget-eater).
type PauseSubComponent struct {
	UnitID         string `json:"unitId"`
	SubComponentID string `json:"subComponentId"`
	Reason         string `json:"reason,omitempty"`
}

func (PauseSubComponent) ActionType() Type { return TypePauseSubComponent }

// DuplicateWithAudience duplicates an existing unit onto a lookalike
// audience at a small starting budget.
type DuplicateWithAudience struct {
	SourceUnitID string `json:"sourceUnitId"`
	AudienceID   string `json:"audienceId"`
	BudgetCents  int64  `json:"budgetCents"`
}

func (DuplicateWithAudience) ActionType() Type { return TypeDuplicateWithAudience }

// CreateUnitWithAssets synthesizes a new unit seeded with creative assets.
type CreateUnitWithAssets struct {
	DirectionID string   `json:"directionId"`
	CampaignID  string   `json:"campaignId"`
	AssetTags   []string `json:"assetTags"`
	BudgetCents int64    `json:"budgetCents"`
}

func (CreateUnitWithAssets) ActionType() Type { return TypeCreateUnitWithAssets }

// Envelope is the wire/audit form of one action.
type Envelope struct {
	Type   Type            `json:"type"`
	Params json.RawMessage `json:"params"`
}

// MarshalBatch encodes an ordered batch into envelopes.
func MarshalBatch(batch []Action) ([]Envelope, error) {
	out := make([]Envelope, 0, len(batch))
	for _, a := range batch {
		params, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", a.ActionType(), err)
		}
		out = append(out, Envelope{Type: a.ActionType(), Params: params})
	}
	return out, nil
}

// UnmarshalBatch decodes envelopes back into typed actions. Unknown types
// are returned as-is in the error so the caller can decide to drop or abort.
func UnmarshalBatch(envelopes []Envelope) ([]Action, error) {
	out := make([]Action, 0, len(envelopes))
	for _, e := range envelopes {
		a, err := unmarshalOne(e)
		if err != nil {
			return nil, err
		}
		if a != nil {
			out = append(out, a)
		}
	}
	return out, nil
}

func unmarshalOne(e Envelope) (Action, error) {
	fail := func(err error) (Action, error) {
		return nil, fmt.Errorf("decode %s params: %w", e.Type, err)
	}

	switch e.Type {
	case TypeStatusRead:
		var a StatusRead
		if err := json.Unmarshal(e.Params, &a); err != nil {
			return fail(err)
		}
		return a, nil
	case TypePauseCampaign:
		var a PauseCampaign
		if err := json.Unmarshal(e.Params, &a); err != nil {
			return fail(err)
		}
		return a, nil
	case TypePauseUnit:
		var a PauseUnit
		if err := json.Unmarshal(e.Params, &a); err != nil {
			return fail(err)
		}
		return a, nil
	case TypeUpdateUnitBudget:
		var a UpdateUnitBudget
		if err := json.Unmarshal(e.Params, &a); err != nil {
			return fail(err)
		}
		return a, nil
	case TypePauseSubComponent:
		var a PauseSubComponent
		if err := json.Unmarshal(e.Params, &a); err != nil {
			return fail(err)
		}
		return a, nil
	case TypeDuplicateWithAudience:
		var a DuplicateWithAudience
		if err := json.Unmarshal(e.Params, &a); err != nil {
			return fail(err)
		}
		return a, nil
	case TypeCreateUnitWithAssets:
		var a CreateUnitWithAssets
		if err := json.Unmarshal(e.Params, &a); err != nil {
			return fail(err)
		}
		return a, nil
	default:
		// Unknown types are not an error at decode time; validation drops
		// them silently.
		return nil, nil
	}
}
