package risk

import (
	"fmt"
	"math"

	"adpilot_backend/internal/health"
)

// Level is the unified decision level. It is either one of the fusion's own
// levels or a health class passed through verbatim.
type Level string

const (
	LevelCritical   Level = "critical"
	LevelPreventive Level = "preventive_high_risk"
	LevelMediumRisk Level = "medium_risk"
	LevelExcellent  Level = "excellent"

	LevelVeryGood    Level = Level(health.ClassVeryGood)
	LevelGood        Level = Level(health.ClassGood)
	LevelNeutral     Level = Level(health.ClassNeutral)
	LevelSlightlyBad Level = Level(health.ClassSlightlyBad)
	LevelBad         Level = Level(health.ClassBad)
)

// Severity of the unified alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Hint is the fusion's budget-action suggestion consumed by the rebalancer.
type Hint string

const (
	HintNone         Hint = ""
	HintCutModerate  Hint = "cut_moderate" // ~20%
	HintCutLarge     Hint = "cut_large"    // ~40%
	HintFreezeGrowth Hint = "freeze_growth"
	HintScaleUp      Hint = "scale_up"
)

// UnifiedAssessment is the merge of one unit's health assessment and risk
// signal. One per unit per run.
type UnifiedAssessment struct {
	UnitID           string            `json:"unitId"`
	Level            Level             `json:"level"`
	Severity         Severity          `json:"severity"`
	Hint             Hint              `json:"hint"`
	Reasoning        string            `json:"reasoning"`
	ScoringAvailable bool              `json:"scoringAvailable"`
	SignalBand       ScoreLevel        `json:"signalBand,omitempty"`
	Health           health.Assessment `json:"health"`
	Signal           *Signal           `json:"signal,omitempty"`
}

// Fusion thresholds. The medium tier is half the critical tier on every
// trend dimension.
const (
	criticalRankPct  = 10.0
	criticalTrend1d  = 25.0
	criticalTrend3d  = 15.0
	criticalTrend7d  = 10.0
	criticalFreq     = 3.5
	mediumRankPct    = 25.0
	mediumFreq       = 2.5
	positiveTrendAbs = 5.0
	positiveRankPct  = 50.0
)

// Fuse merges a health assessment with a risk signal. Pure function,
// evaluated in strict priority order; exactly one branch fires.
func Fuse(h health.Assessment, sig *Signal) UnifiedAssessment {
	if sig == nil || !sig.Valid {
		return UnifiedAssessment{
			UnitID:           h.UnitID,
			Level:            Level(h.Class),
			Severity:         severityFor(Level(h.Class)),
			Hint:             HintNone,
			Reasoning:        "risk signal unavailable, health assessment passed through",
			ScoringAvailable: false,
			Health:           h,
		}
	}

	ua := UnifiedAssessment{
		UnitID:           h.UnitID,
		ScoringAvailable: true,
		SignalBand:       LevelOf(sig.Score),
		Health:           h,
		Signal:           sig,
	}

	switch {
	case criticalTrigger(sig):
		if h.Class.Positive() {
			// The health score is lagging a real risk the external signal
			// already sees.
			ua.Level = LevelPreventive
			ua.Severity = SeverityHigh
			ua.Hint = HintCutModerate
			ua.Reasoning = fmt.Sprintf("health %s but risk signal critical: %s", h.Class, triggerDetail(sig, criticalRankPct, criticalTrend1d, criticalTrend3d, criticalTrend7d, criticalFreq))
		} else {
			ua.Level = LevelCritical
			ua.Severity = SeverityCritical
			ua.Hint = HintCutLarge
			ua.Reasoning = fmt.Sprintf("health %s and risk signal agree: %s", h.Class, triggerDetail(sig, criticalRankPct, criticalTrend1d, criticalTrend3d, criticalTrend7d, criticalFreq))
		}

	case mediumTrigger(sig):
		if h.Class == health.ClassBad {
			ua.Level = LevelBad
		} else {
			ua.Level = LevelMediumRisk
		}
		ua.Severity = SeverityWarning
		ua.Hint = HintFreezeGrowth
		ua.Reasoning = fmt.Sprintf("medium risk signal: %s", triggerDetail(sig, mediumRankPct, criticalTrend1d/2, criticalTrend3d/2, criticalTrend7d/2, mediumFreq))

	case positiveTrigger(h, sig):
		ua.Level = LevelExcellent
		ua.Severity = SeverityInfo
		ua.Hint = HintScaleUp
		ua.Reasoning = fmt.Sprintf("health %s confirmed by stable trends and rankings", h.Class)

	default:
		ua.Level = Level(h.Class)
		ua.Severity = severityFor(Level(h.Class))
		ua.Hint = HintNone
		ua.Reasoning = "no overriding risk signal, health class applies"
	}

	return ua
}

func criticalTrigger(sig *Signal) bool {
	return sig.CostRankPct <= criticalRankPct ||
		sig.CTRRankPct <= criticalRankPct ||
		sig.Trend1dPct > criticalTrend1d ||
		sig.Trend3dPct > criticalTrend3d ||
		sig.Trend7dPct > criticalTrend7d ||
		sig.Frequency30d > criticalFreq
}

func mediumTrigger(sig *Signal) bool {
	return sig.CostRankPct <= mediumRankPct ||
		sig.CTRRankPct <= mediumRankPct ||
		sig.Trend1dPct > criticalTrend1d/2 ||
		sig.Trend3dPct > criticalTrend3d/2 ||
		sig.Trend7dPct > criticalTrend7d/2 ||
		sig.Frequency30d > mediumFreq
}

func positiveTrigger(h health.Assessment, sig *Signal) bool {
	return h.Class.Positive() &&
		math.Abs(sig.Trend1dPct) <= positiveTrendAbs &&
		math.Abs(sig.Trend3dPct) <= positiveTrendAbs &&
		math.Abs(sig.Trend7dPct) <= positiveTrendAbs &&
		sig.CostRankPct >= positiveRankPct &&
		sig.CTRRankPct >= positiveRankPct
}

func severityFor(l Level) Severity {
	switch l {
	case LevelBad, LevelCritical:
		return SeverityCritical
	case LevelSlightlyBad, LevelPreventive:
		return SeverityHigh
	case LevelNeutral, LevelMediumRisk:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

func triggerDetail(sig *Signal, rank, t1, t3, t7, freq float64) string {
	switch {
	case sig.CostRankPct <= rank:
		return fmt.Sprintf("cost rank p%.0f", sig.CostRankPct)
	case sig.CTRRankPct <= rank:
		return fmt.Sprintf("ctr rank p%.0f", sig.CTRRankPct)
	case sig.Trend1dPct > t1:
		return fmt.Sprintf("cost +%.1f%% in 1d", sig.Trend1dPct)
	case sig.Trend3dPct > t3:
		return fmt.Sprintf("cost +%.1f%% in 3d", sig.Trend3dPct)
	case sig.Trend7dPct > t7:
		return fmt.Sprintf("cost +%.1f%% in 7d", sig.Trend7dPct)
	case sig.Frequency30d > freq:
		return fmt.Sprintf("frequency %.1f", sig.Frequency30d)
	default:
		return "threshold exceeded"
	}
}
