// Package metrics defines the windowed performance aggregates the optimizer
// consumes and the port to the external metrics aggregator that produces them.
package metrics

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Window identifies one fixed aggregation window.
type Window string

const (
	WindowToday     Window = "today"
	WindowYesterday Window = "yesterday"
	WindowLast3d    Window = "last_3d"
	WindowLast7d    Window = "last_7d"
	WindowLast30d   Window = "last_30d"
)

// Objective determines which conversion-counting rule applies to a unit.
type Objective string

const (
	ObjectiveLeadGen  Objective = "lead_gen"
	ObjectiveMessages Objective = "messages"
	ObjectiveLegacy   Objective = "legacy"
)

// Conversion kinds reported by the aggregator's classified conversion list.
const (
	ConversionLead         = "lead"
	ConversionConversation = "conversation"
	ConversionPrimary      = "primary"
)

// WindowMetrics is an immutable per-unit-per-window aggregate.
type WindowMetrics struct {
	SpendCents  int64            `json:"spendCents"`
	Impressions int64            `json:"impressions"`
	CTR         float64          `json:"ctr"` // percent
	CPM         float64          `json:"cpm"` // cents per thousand impressions
	Frequency   float64          `json:"frequency"`
	Conversions map[string]int64 `json:"conversions"` // classified counts by kind
}

// ResultCount selects the conversion count for the unit's objective.
// One canonical rule per objective; messaging and pixel counts are never
// summed together.
func ResultCount(obj Objective, m WindowMetrics) int64 {
	switch obj {
	case ObjectiveLeadGen:
		return m.Conversions[ConversionLead]
	case ObjectiveMessages:
		return m.Conversions[ConversionConversation]
	default:
		return m.Conversions[ConversionPrimary]
	}
}

// SubComponent is one ad inside a unit, reported with yesterday's spend and
// results. Used for budget-eater detection.
type SubComponent struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	SpendCents int64  `json:"spendCents"`
	Results    int64  `json:"results"`
}

// HistoryFlags summarize recent optimizer actions on a unit.
type HistoryFlags struct {
	WasIncreasedYesterday bool `json:"wasIncreasedYesterday"`
	WasDecreasedYesterday bool `json:"wasDecreasedYesterday"`
	ConsecutiveDecreases  int  `json:"consecutiveDecreases"`
}

// UnitSnapshot is one budget-bearing ad-serving unit with its windowed metrics.
type UnitSnapshot struct {
	ID               string                   `json:"id" validate:"required"`
	Name             string                   `json:"name"`
	DirectionID      string                   `json:"directionId"`
	CampaignID       string                   `json:"campaignId" validate:"required"`
	Status           string                   `json:"status" validate:"oneof=active paused"`
	Objective        Objective                `json:"objective" validate:"oneof=lead_gen messages legacy"`
	DailyBudgetCents int64                    `json:"dailyBudgetCents" validate:"min=0"`
	CreatedAt        time.Time                `json:"createdAt"`
	Windows          map[Window]WindowMetrics `json:"windows"`
	SubComponents    []SubComponent           `json:"subComponents"`
	History          HistoryFlags             `json:"history"`
}

// Active reports whether the unit currently serves.
func (u *UnitSnapshot) Active() bool { return u.Status == "active" }

// IsNew reports whether the unit is younger than 48 hours at the given time.
// New units are never pause-eligible and get only minimum-step cuts.
func (u *UnitSnapshot) IsNew(now time.Time) bool {
	return !u.CreatedAt.IsZero() && now.Sub(u.CreatedAt) < 48*time.Hour
}

// CreativeAsset is one tagged creative known for a direction.
type CreativeAsset struct {
	Tag                 string `json:"tag"`
	Status              string `json:"status"`
	HistoricalCostCents int64  `json:"historicalCostCents"` // 0 when never measured
}

// DirectionSnapshot is one business line (1:1 with a platform campaign),
// its budget envelope and cost target, its units and creative inventory.
type DirectionSnapshot struct {
	ID              string          `json:"id" validate:"required"`
	Name            string          `json:"name"`
	CampaignID      string          `json:"campaignId" validate:"required"`
	EnvelopeCents   int64           `json:"envelopeCents" validate:"min=0"`   // target daily budget
	TargetCostCents int64           `json:"targetCostCents" validate:"min=0"` // target cost per result
	Units           []UnitSnapshot  `json:"units" validate:"dive"`
	UnusedAssets    []CreativeAsset `json:"unusedAssets"`
	ReadyAssets     []CreativeAsset `json:"readyAssets"` // historically used, acceptable cost
	LookalikeAudID  string          `json:"lookalikeAudienceId"`
}

// AccountSnapshot is everything collected for one tenant in one run.
type AccountSnapshot struct {
	TenantID    uuid.UUID           `json:"tenantId"`
	CollectedAt time.Time           `json:"collectedAt"`
	Directions  []DirectionSnapshot `json:"directions" validate:"dive"`
}

// Empty reports whether the snapshot carries no units and no yesterday spend.
// An empty snapshot short-circuits the run to a zero-action report.
func (s *AccountSnapshot) Empty() bool {
	if s == nil {
		return true
	}
	for _, d := range s.Directions {
		for _, u := range d.Units {
			if u.Windows[WindowYesterday].SpendCents > 0 || u.Active() {
				return false
			}
		}
	}
	return true
}

// Aggregator supplies account snapshots. The production implementation calls
// the external metrics collaborator; tests use fakes.
type Aggregator interface {
	Collect(ctx context.Context, tenantID uuid.UUID) (*AccountSnapshot, error)
}
