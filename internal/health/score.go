// Package health implements the Health Score Engine: it converts one unit's
// windowed metrics into a bounded score and a five-level class.
package health

import (
	"math"
	"sort"

	"adpilot_backend/internal/metrics"
)

// Class is the five-level ordinal classification of a unit.
type Class string

const (
	ClassVeryGood    Class = "very_good"
	ClassGood        Class = "good"
	ClassNeutral     Class = "neutral"
	ClassSlightlyBad Class = "slightly_bad"
	ClassBad         Class = "bad"
)

// Positive reports whether the class is good or very good.
func (c Class) Positive() bool { return c == ClassGood || c == ClassVeryGood }

// Components are the diagnostic sub-scores of an assessment.
type Components struct {
	Gap          float64 `json:"gap"`
	Trend        float64 `json:"trend"`
	Diagnostics  float64 `json:"diagnostics"`
	TodayAdj     float64 `json:"todayAdj"`
	VolumeFactor float64 `json:"volumeFactor"`
}

// Assessment is the engine output for one unit. Recomputed every run, logged,
// never persisted as mutable state.
type Assessment struct {
	UnitID     string     `json:"unitId"`
	Score      int        `json:"score"`
	Class      Class      `json:"class"`
	Components Components `json:"components"`
}

// Input carries the effective costs and diagnostics for one unit. Costs are
// in cents per result; math.Inf(1) marks a window that spent without results,
// 0 marks a window with no data.
type Input struct {
	UnitID          string
	TargetCostCents int64

	CostYesterday float64
	CostToday     float64
	Cost3d        float64
	Cost7d        float64
	Cost30d       float64

	CTRYesterday         float64
	CPMYesterday         float64
	Frequency30d         float64
	ImpressionsYesterday int64
	ImpressionsToday     int64

	PeerMedianCPM float64 // 0 when no peer group is available
}

// EffectiveCost computes the cost per result for a window in cents.
// A zero denominator means infinite cost (worst case), never a division error.
func EffectiveCost(spendCents, results int64) float64 {
	if results <= 0 {
		return math.Inf(1)
	}
	return float64(spendCents) / float64(results)
}

// BuildInput derives the engine input from a unit snapshot.
func BuildInput(u metrics.UnitSnapshot, targetCostCents int64, peerMedianCPM float64) Input {
	cost := func(w metrics.Window) float64 {
		m := u.Windows[w]
		if m.SpendCents == 0 && metrics.ResultCount(u.Objective, m) == 0 && m.Impressions == 0 {
			return 0 // window never served: no data, not infinite
		}
		return EffectiveCost(m.SpendCents, metrics.ResultCount(u.Objective, m))
	}

	y := u.Windows[metrics.WindowYesterday]
	today := u.Windows[metrics.WindowToday]
	d30 := u.Windows[metrics.WindowLast30d]

	return Input{
		UnitID:               u.ID,
		TargetCostCents:      targetCostCents,
		CostYesterday:        cost(metrics.WindowYesterday),
		CostToday:            cost(metrics.WindowToday),
		Cost3d:               cost(metrics.WindowLast3d),
		Cost7d:               cost(metrics.WindowLast7d),
		Cost30d:              cost(metrics.WindowLast30d),
		CTRYesterday:         y.CTR,
		CPMYesterday:         y.CPM,
		Frequency30d:         d30.Frequency,
		ImpressionsYesterday: y.Impressions,
		ImpressionsToday:     today.Impressions,
		PeerMedianCPM:        peerMedianCPM,
	}
}

// Score computes the full health assessment for one unit.
func Score(in Input, cfg Config) Assessment {
	gap := costGap(in.CostYesterday, in.TargetCostCents, cfg)
	trend := trendScore(in, cfg)
	diag := diagnostics(in, cfg)
	today := todayCompensation(in, gap, cfg)
	vol := volumeFactor(in.ImpressionsYesterday)

	raw := (gap + trend + diag + today) * vol
	score := int(math.Round(raw))

	return Assessment{
		UnitID: in.UnitID,
		Score:  score,
		Class:  Classify(score, cfg),
		Components: Components{
			Gap:          round2(gap),
			Trend:        round2(trend),
			Diagnostics:  round2(diag),
			TodayAdj:     round2(today),
			VolumeFactor: vol,
		},
	}
}

// costGap scores yesterday's effective cost against the target. Piecewise
// linear over the ratio with knots 0.5, 0.7, 1.0, 1.5, 2.0 mapping to
// +W, +2/3 W, 0, -2/3 W, -W.
func costGap(cost float64, targetCents int64, cfg Config) float64 {
	if targetCents <= 0 {
		return 0
	}
	if cost == 0 {
		return 0 // no data: neutral
	}

	w := cfg.GapWeight
	if math.IsInf(cost, 1) {
		return -w
	}

	ratio := cost / float64(targetCents)
	third := w / 3

	switch {
	case ratio <= 0.5:
		return w
	case ratio <= 0.7:
		return w - (ratio-0.5)*(third/0.2)
	case ratio <= 1.0:
		return 2*third - (ratio-0.7)*(2*third/0.3)
	case ratio <= 1.5:
		return -(ratio - 1.0) * (2 * third / 0.5)
	case ratio <= 2.0:
		return -2*third - (ratio-1.5)*(third/0.5)
	default:
		return -w
	}
}

// trendScore awards partial weight for d3 improving on d7 and for d7
// improving on d30, independently. Worsening costs half of what improving
// earns, to avoid over-punishing noisy short windows.
func trendScore(in Input, cfg Config) float64 {
	half := cfg.TrendWeight / 2

	pair := func(short, long float64) float64 {
		if short == 0 || long == 0 || math.IsInf(short, 1) || math.IsInf(long, 1) {
			return 0
		}
		if short < long {
			return half
		}
		if short > long {
			return -half / 2
		}
		return 0
	}

	return pair(in.Cost3d, in.Cost7d) + pair(in.Cost7d, in.Cost30d)
}

// diagnostics subtracts fixed penalties for a weak CTR, a CPM far above the
// peer median, and excessive 30-day frequency.
func diagnostics(in Input, cfg Config) float64 {
	penalty := 0.0

	if in.ImpressionsYesterday > 0 && in.CTRYesterday < cfg.CTRFloorPct {
		penalty -= cfg.CTRPenalty
	}
	if in.CPMYesterday > 0 && in.PeerMedianCPM > 0 && in.CPMYesterday > in.PeerMedianCPM*cfg.CPMMedianRatio {
		penalty -= cfg.CPMPenalty
	}
	if in.Frequency30d > cfg.FrequencyCeiling {
		penalty -= cfg.FrequencyPenalty
	}

	return penalty
}

// todayCompensation lets a meaningfully better same-day cost offset the
// penalty computed from yesterday. Attribution lag makes yesterday an
// unreliable sole signal; a strong today cancels the gap penalty entirely and
// adds a bonus on top.
func todayCompensation(in Input, gap float64, cfg Config) float64 {
	if in.ImpressionsToday < cfg.TodayMinImpressions {
		return 0
	}
	if in.CostToday <= 0 || in.CostYesterday <= 0 {
		return 0
	}
	if math.IsInf(in.CostToday, 1) || math.IsInf(in.CostYesterday, 1) {
		return 0
	}

	cancel := math.Max(0, -gap)
	ratio := in.CostToday / in.CostYesterday

	switch {
	case ratio <= 0.5:
		return cancel + cfg.TodayBonus
	case ratio <= 0.7:
		return cancel
	case ratio <= 0.9:
		return cancel / 2
	default:
		return 0
	}
}

// volumeFactor scales the score down for thin yesterday volume.
func volumeFactor(impressions int64) float64 {
	switch {
	case impressions < 500:
		return 0.6
	case impressions < 1000:
		return 0.7
	case impressions < 2000:
		return 0.8
	case impressions < 5000:
		return 0.9
	default:
		return 1.0
	}
}

// Classify maps a score to its ordinal class.
func Classify(score int, cfg Config) Class {
	s := float64(score)
	switch {
	case s >= cfg.VeryGoodMin:
		return ClassVeryGood
	case s >= cfg.GoodMin:
		return ClassGood
	case s >= cfg.NeutralMin:
		return ClassNeutral
	case s >= cfg.SlightlyBadMin:
		return ClassSlightlyBad
	default:
		return ClassBad
	}
}

// MedianCPM computes the peer-group median over all units in a run.
// Zero-CPM entries are excluded; returns 0 when no unit has CPM data.
func MedianCPM(cpms []float64) float64 {
	vals := make([]float64, 0, len(cpms))
	for _, v := range cpms {
		if v > 0 {
			vals = append(vals, v)
		}
	}
	if len(vals) == 0 {
		return 0
	}

	sort.Float64s(vals)
	mid := len(vals) / 2
	if len(vals)%2 == 1 {
		return vals[mid]
	}
	return (vals[mid-1] + vals[mid]) / 2
}

// Distribution counts units per class.
type Distribution map[Class]int

// Distribute tallies assessments by class.
func Distribute(assessments []Assessment) Distribution {
	dist := Distribution{}
	for _, a := range assessments {
		dist[a.Class]++
	}
	return dist
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
