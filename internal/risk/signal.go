// Package risk carries the independently computed risk/trend signal and fuses
// it with the health assessment into one actionable level.
package risk

// Signal is the per-unit risk metadata. Trends are percent changes of the
// cost proxy (positive = cost rising = deterioration); ranks are percentiles
// 0-100 where higher is better.
type Signal struct {
	UnitID string `json:"unitId"`
	Valid  bool   `json:"valid"`

	Score int `json:"score"` // 0-100, higher is riskier

	Trend1dPct float64 `json:"trend1dPct"`
	Trend3dPct float64 `json:"trend3dPct"`
	Trend7dPct float64 `json:"trend7dPct"`

	CostRankPct float64 `json:"costRankPct"`
	CTRRankPct  float64 `json:"ctrRankPct"`

	Frequency30d           float64 `json:"frequency30d"`
	PredictedCostChangePct float64 `json:"predictedCostChangePct"`
}

// Level of a signal score, matching the analyzer's banding.
type ScoreLevel string

const (
	ScoreLow      ScoreLevel = "low"      // 0-25
	ScoreMedium   ScoreLevel = "medium"   // 26-50
	ScoreHigh     ScoreLevel = "high"     // 51-75
	ScoreCritical ScoreLevel = "critical" // 76-100
)

// LevelOf bands a risk score.
func LevelOf(score int) ScoreLevel {
	switch {
	case score <= 25:
		return ScoreLow
	case score <= 50:
		return ScoreMedium
	case score <= 75:
		return ScoreHigh
	default:
		return ScoreCritical
	}
}
