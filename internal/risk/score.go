package risk

import (
	"math"
	"sort"

	"adpilot_backend/internal/health"
	"adpilot_backend/internal/metrics"
)

// Scorer computes risk signals from an account snapshot: a 0-100 score built
// from cost deviation, trend, volume confidence and consistency, plus
// percentile rankings across the run's peer group.
type Scorer struct {
	// MinSpendCents is the spend level at which volume confidence starts;
	// twice this amount means full confidence.
	MinSpendCents int64
}

// NewScorer returns a scorer with the production confidence floor ($50).
func NewScorer() *Scorer {
	return &Scorer{MinSpendCents: 5000}
}

// Compute derives a signal per unit. Units with no window data get an
// invalid signal, which the fusion treats as "pass health through".
func (s *Scorer) Compute(snapshot *metrics.AccountSnapshot) map[string]Signal {
	signals := make(map[string]Signal)
	if snapshot == nil {
		return signals
	}

	type unitCtx struct {
		unit   metrics.UnitSnapshot
		target int64
	}
	var units []unitCtx
	for _, d := range snapshot.Directions {
		for _, u := range d.Units {
			units = append(units, unitCtx{unit: u, target: d.TargetCostCents})
		}
	}

	costRatios := make(map[string]float64, len(units))
	ctrs := make(map[string]float64, len(units))
	for _, uc := range units {
		c7 := windowCost(uc.unit, metrics.WindowLast7d)
		if uc.target > 0 && c7 > 0 && !math.IsInf(c7, 1) {
			costRatios[uc.unit.ID] = c7 / float64(uc.target)
		}
		if ctr := uc.unit.Windows[metrics.WindowYesterday].CTR; ctr > 0 {
			ctrs[uc.unit.ID] = ctr
		}
	}

	costRank := percentileRanks(costRatios, false) // lower ratio ranks higher
	ctrRank := percentileRanks(ctrs, true)         // higher CTR ranks higher

	for _, uc := range units {
		u := uc.unit
		y := windowCost(u, metrics.WindowYesterday)
		c3 := windowCost(u, metrics.WindowLast3d)
		c7 := windowCost(u, metrics.WindowLast7d)
		c30 := windowCost(u, metrics.WindowLast30d)
		spend7d := u.Windows[metrics.WindowLast7d].SpendCents

		sig := Signal{
			UnitID:       u.ID,
			Trend1dPct:   pctChange(y, c3),
			Trend3dPct:   pctChange(c3, c7),
			Trend7dPct:   pctChange(c7, c30),
			Frequency30d: u.Windows[metrics.WindowLast30d].Frequency,
		}

		if spend7d == 0 && u.Windows[metrics.WindowYesterday].SpendCents == 0 {
			sig.Valid = false
			signals[u.ID] = sig
			continue
		}

		sig.Valid = true
		sig.Score = s.score(c7, uc.target, c3, c7, spend7d)
		sig.PredictedCostChangePct = sig.Trend3dPct / 2

		if r, ok := costRank[u.ID]; ok {
			sig.CostRankPct = r
		} else {
			sig.CostRankPct = 50
		}
		if r, ok := ctrRank[u.ID]; ok {
			sig.CTRRankPct = r
		} else {
			sig.CTRRankPct = 50
		}

		signals[u.ID] = sig
	}

	return signals
}

// score is the 0-100 composite: cost deviation (0-40), trend (0-20),
// volume confidence (0-20) and a consistency bonus (-20..0).
func (s *Scorer) score(aggCost float64, targetCents int64, c3, c7 float64, spendCents int64) int {
	score := 0.0

	if aggCost > 0 && !math.IsInf(aggCost, 1) && targetCents > 0 {
		ratio := aggCost / float64(targetCents)
		switch {
		case ratio <= 1.0:
			// at or under target: low risk
		case ratio <= 1.5:
			score += (ratio - 1.0) * 40
		case ratio <= 2.0:
			score += 20 + (ratio-1.5)*30
		default:
			score += math.Min(40, 35+(ratio-2.0)*10)
		}
	} else {
		score += 25 // spend without results yet: moderate risk
	}

	if c3 > 0 && c7 > 0 && !math.IsInf(c3, 1) && !math.IsInf(c7, 1) {
		trendPct := (c3 - c7) / c7 * 100
		switch {
		case trendPct <= -10:
			// improving: no added risk
		case trendPct <= 0:
			score += 5
		case trendPct <= 20:
			score += 5 + trendPct*0.5
		default:
			score += 15 + math.Min(5, (trendPct-20)*0.25)
		}
	} else {
		score += 10
	}

	min := s.MinSpendCents
	switch {
	case spendCents >= min*2:
		// full confidence
	case spendCents >= min:
		score += 10
	case spendCents >= min/2:
		score += 15
	default:
		score += 20
	}

	if c3 > 0 && c7 > 0 && !math.IsInf(c3, 1) && !math.IsInf(c7, 1) {
		variancePct := math.Abs(c3-c7) / c7 * 100
		switch {
		case variancePct <= 10:
			score -= 20
		case variancePct <= 20:
			score -= 10
		case variancePct <= 30:
			score -= 5
		}
	}

	return int(math.Max(0, math.Min(100, math.Round(score))))
}

func windowCost(u metrics.UnitSnapshot, w metrics.Window) float64 {
	m := u.Windows[w]
	if m.SpendCents == 0 && metrics.ResultCount(u.Objective, m) == 0 {
		return 0
	}
	return health.EffectiveCost(m.SpendCents, metrics.ResultCount(u.Objective, m))
}

// pctChange returns the percent change from prior to current on the cost
// proxy; positive means cost rose. Zero when either side lacks data.
func pctChange(current, prior float64) float64 {
	if current <= 0 || prior <= 0 || math.IsInf(current, 1) || math.IsInf(prior, 1) {
		return 0
	}
	return (current - prior) / prior * 100
}

// percentileRanks converts raw values into 0-100 percentiles. With
// higherIsBetter=false, the lowest value gets the highest rank.
func percentileRanks(values map[string]float64, higherIsBetter bool) map[string]float64 {
	if len(values) == 0 {
		return nil
	}

	type kv struct {
		id string
		v  float64
	}
	sorted := make([]kv, 0, len(values))
	for id, v := range values {
		sorted = append(sorted, kv{id, v})
	}
	sort.Slice(sorted, func(i, j int) bool {
		if higherIsBetter {
			return sorted[i].v < sorted[j].v
		}
		return sorted[i].v > sorted[j].v
	})

	ranks := make(map[string]float64, len(sorted))
	if len(sorted) == 1 {
		ranks[sorted[0].id] = 50
		return ranks
	}
	for i, e := range sorted {
		ranks[e.id] = float64(i) / float64(len(sorted)-1) * 100
	}
	return ranks
}
