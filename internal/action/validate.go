package action

import (
	"fmt"

	"adpilot_backend/platform/apperr"
)

// Bounds are the absolute budget limits applied to every numeric budget
// parameter, in integer minor-currency units.
type Bounds struct {
	MinBudgetCents int64
	MaxBudgetCents int64
}

// Clamp forces a budget into the allowed range.
func (b Bounds) Clamp(cents int64) int64 {
	if cents < b.MinBudgetCents {
		return b.MinBudgetCents
	}
	if cents > b.MaxBudgetCents {
		return b.MaxBudgetCents
	}
	return cents
}

// ValidateBatch normalizes a candidate batch, failing closed: actions of a
// type outside the allow-list are silently dropped; an action missing a
// required parameter aborts the whole batch with a validation error (the
// caller falls back to the deterministic plan). Budgets are clamped to the
// bounds.
func ValidateBatch(batch []Action, bounds Bounds) ([]Action, error) {
	out := make([]Action, 0, len(batch))

	for i, a := range batch {
		switch v := a.(type) {
		case StatusRead:
			if v.CampaignID == "" {
				return nil, missing(i, v.ActionType(), "campaignId")
			}
			out = append(out, v)

		case PauseCampaign:
			if v.CampaignID == "" {
				return nil, missing(i, v.ActionType(), "campaignId")
			}
			out = append(out, v)

		case PauseUnit:
			if v.UnitID == "" {
				return nil, missing(i, v.ActionType(), "unitId")
			}
			out = append(out, v)

		case UpdateUnitBudget:
			if v.UnitID == "" {
				return nil, missing(i, v.ActionType(), "unitId")
			}
			if v.NewBudgetCents <= 0 {
				return nil, missing(i, v.ActionType(), "newBudgetCents")
			}
			v.NewBudgetCents = bounds.Clamp(v.NewBudgetCents)
			out = append(out, v)

		case PauseSubComponent:
			if v.UnitID == "" {
				return nil, missing(i, v.ActionType(), "unitId")
			}
			if v.SubComponentID == "" {
				return nil, missing(i, v.ActionType(), "subComponentId")
			}
			out = append(out, v)

		case DuplicateWithAudience:
			if v.SourceUnitID == "" {
				return nil, missing(i, v.ActionType(), "sourceUnitId")
			}
			if v.AudienceID == "" {
				return nil, missing(i, v.ActionType(), "audienceId")
			}
			if v.BudgetCents <= 0 {
				return nil, missing(i, v.ActionType(), "budgetCents")
			}
			v.BudgetCents = bounds.Clamp(v.BudgetCents)
			out = append(out, v)

		case CreateUnitWithAssets:
			if v.DirectionID == "" {
				return nil, missing(i, v.ActionType(), "directionId")
			}
			if v.CampaignID == "" {
				return nil, missing(i, v.ActionType(), "campaignId")
			}
			if len(v.AssetTags) == 0 {
				return nil, missing(i, v.ActionType(), "assetTags")
			}
			if v.BudgetCents <= 0 {
				return nil, missing(i, v.ActionType(), "budgetCents")
			}
			v.BudgetCents = bounds.Clamp(v.BudgetCents)
			out = append(out, v)

		default:
			// Not on the allow-list: dropped, never dispatched.
		}
	}

	return out, nil
}

func missing(index int, t Type, param string) error {
	return apperr.Validation(fmt.Sprintf("action %d (%s): missing or invalid %s", index, t, param)).WithOp("action.ValidateBatch")
}
