// Package rebalance turns unified assessments into a bounded, ordered action
// batch, enforcing per-step caps and hierarchical budget conservation across
// account, direction and unit.
package rebalance

import (
	"fmt"
	"math"
	"sort"
	"time"

	"adpilot_backend/internal/action"
	"adpilot_backend/internal/metrics"
	"adpilot_backend/internal/risk"
)

// Plan is the synthesized candidate batch for one account, before validation.
type Plan struct {
	Actions    []action.Action `json:"actions"`
	Advisories []Advisory      `json:"advisories"`
	Directions []DirectionSum  `json:"directions"`
}

// DirectionSum records the conservation outcome for one direction.
type DirectionSum struct {
	DirectionID         string `json:"directionId"`
	EnvelopeCents       int64  `json:"envelopeCents"`
	ProposedActiveCents int64  `json:"proposedActiveCents"`
	FreedCents          int64  `json:"freedCents"`
}

// unitPlan is the working state for one unit during synthesis.
type unitPlan struct {
	unit     *metrics.UnitSnapshot
	ua       risk.UnifiedAssessment
	current  int64
	proposed int64
	pause    bool
	frozen   bool // growth freeze: no top-up eligibility
	reason   string
}

// PlanAccount synthesizes the full candidate batch for a tenant.
// Assessments are keyed by unit ID; units without an assessment are held.
func PlanAccount(snapshot *metrics.AccountSnapshot, assessments map[string]risk.UnifiedAssessment, cfg Config, now time.Time) Plan {
	var plan Plan
	if snapshot == nil {
		return plan
	}

	for i := range snapshot.Directions {
		dir := &snapshot.Directions[i]
		planDirection(&plan, dir, assessments, cfg, now)
	}

	plan.Advisories = append(plan.Advisories, fatigueAdvisories(snapshot)...)
	return plan
}

func planDirection(plan *Plan, dir *metrics.DirectionSnapshot, assessments map[string]risk.UnifiedAssessment, cfg Config, now time.Time) {
	var (
		ups        []*unitPlan
		freedCents int64
		reanimate  bool
		subPauses  []action.PauseSubComponent
	)

	for i := range dir.Units {
		u := &dir.Units[i]
		if !u.Active() {
			continue
		}

		up := &unitPlan{
			unit:     u,
			current:  u.DailyBudgetCents,
			proposed: u.DailyBudgetCents,
		}
		ua, ok := assessments[u.ID]
		if !ok {
			ups = append(ups, up)
			continue
		}
		up.ua = ua

		decideUnit(up, dir, cfg, now)

		switch ua.Level {
		case risk.LevelNeutral, risk.LevelMediumRisk:
			if e := detectEater(u, dir.TargetCostCents, cfg); e != nil {
				subPauses = append(subPauses, *e)
			}
		case risk.LevelSlightlyBad, risk.LevelBad, risk.LevelCritical:
			if e := detectEater(u, dir.TargetCostCents, cfg); e != nil {
				subPauses = append(subPauses, *e)
			}
			reanimate = true
		}

		if up.pause {
			freedCents += up.current
		} else if up.proposed < up.current {
			freedCents += up.current - up.proposed
		}
		ups = append(ups, up)
	}

	var newUnits []action.Action
	if reanimate && freedCents >= cfg.NewUnitMinCents {
		newUnits = reanimationWaterfall(dir, freedCents, cfg.MaxNewUnits, cfg)
	}

	activeSum := sumActive(ups, newUnits)
	activeSum = conserve(ups, &newUnits, dir, activeSum, cfg)

	materialize(plan, dir, ups, subPauses, newUnits)
	plan.Directions = append(plan.Directions, DirectionSum{
		DirectionID:         dir.ID,
		EnvelopeCents:       dir.EnvelopeCents,
		ProposedActiveCents: activeSum,
		FreedCents:          freedCents,
	})
}

// decideUnit applies the per-level state machine to one unit.
func decideUnit(up *unitPlan, dir *metrics.DirectionSnapshot, cfg Config, now time.Time) {
	u := up.unit
	score := float64(up.ua.Health.Score)
	isNew := u.IsNew(now)

	switch up.ua.Level {
	case risk.LevelExcellent, risk.LevelVeryGood:
		if u.History.WasIncreasedYesterday {
			// Yesterday's raise has not produced settled results yet.
			up.frozen = true
			up.reason = "holding after yesterday's increase"
			break
		}
		// Scale the increase with how far the score clears the very-good bar.
		pct := cfg.MinIncreasePct + (cfg.MaxStepUpPct-cfg.MinIncreasePct)*clamp01((score-25)/25)
		up.proposed = stepUp(up.current, pct, cfg)
		up.reason = fmt.Sprintf("health %d, scaling up %.0f%%", up.ua.Health.Score, pct*100)

	case risk.LevelGood:
		if directionUnderspends(dir) && !u.History.WasIncreasedYesterday {
			up.proposed = stepUp(up.current, cfg.MinIncreasePct, cfg)
			up.reason = "good unit, direction under envelope"
		}

	case risk.LevelNeutral:
		// Hold.

	case risk.LevelMediumRisk:
		up.frozen = true
		up.reason = "growth frozen on medium risk signal"

	case risk.LevelPreventive:
		up.frozen = true
		up.proposed = stepDown(up.current, cfg.MinCutPct, cfg)
		up.reason = "preventive cut, risk signal ahead of health score"

	case risk.LevelSlightlyBad:
		pct := cfg.MinCutPct + (cfg.MaxStepDownPct-cfg.MinCutPct)*clamp01((-score-5)/20)
		if isNew {
			pct = cfg.MinCutPct
		}
		up.frozen = true
		up.proposed = stepDown(up.current, pct, cfg)
		up.reason = fmt.Sprintf("health %d, cutting %.0f%%", up.ua.Health.Score, pct*100)

	case risk.LevelCritical:
		up.frozen = true
		pct := 0.40
		if isNew {
			pct = cfg.MinCutPct
		}
		up.proposed = stepDown(up.current, pct, cfg)
		up.reason = "critical risk, large cut"

	case risk.LevelBad:
		up.frozen = true
		costRatio, zeroResults := yesterdayCostRatio(u, dir.TargetCostCents)
		switch {
		case isNew:
			// Young units get the minimum step, never a pause.
			up.proposed = stepDown(up.current, cfg.MinCutPct, cfg)
			up.reason = "bad but under 48h old, minimum cut"
		case zeroResults || costRatio > cfg.PauseCostRatio:
			up.pause = true
			up.proposed = 0
			up.reason = "spend without results or cost far over target"
		case cfg.MaxConsecutiveCuts > 0 && u.History.ConsecutiveDecreases >= cfg.MaxConsecutiveCuts:
			// Repeated cuts have not fixed it; stop the drip.
			up.pause = true
			up.proposed = 0
			up.reason = fmt.Sprintf("still bad after %d cuts, pausing", u.History.ConsecutiveDecreases)
		case costRatio > cfg.HardCutCostRatio:
			up.proposed = stepDown(up.current, cfg.MaxStepDownPct, cfg)
			up.reason = fmt.Sprintf("cost %.1fx target, halving budget", costRatio)
		default:
			up.proposed = stepDown(up.current, 0.40, cfg)
			up.reason = fmt.Sprintf("cost %.1fx target, large cut", costRatio)
		}
	}
}

// conserve forces the direction's active budget sum into the corridor,
// trimming weakest units when over and topping up strongest (or adding small
// reanimation units) when under. Returns the final sum.
func conserve(ups []*unitPlan, newUnits *[]action.Action, dir *metrics.DirectionSnapshot, sum int64, cfg Config) int64 {
	if dir.EnvelopeCents <= 0 {
		return sum
	}

	low := int64(math.Floor(float64(dir.EnvelopeCents) * (1 - cfg.CorridorPct)))
	high := int64(math.Ceil(float64(dir.EnvelopeCents) * (1 + cfg.CorridorPct)))

	if sum > high {
		// Trim weakest first, bounded by the same step-down cap.
		sorted := activeByScore(ups, true)
		for _, up := range sorted {
			if sum <= high {
				break
			}
			floor := maxInt64(stepDown(up.current, cfg.MaxStepDownPct, cfg), cfg.Bounds.MinBudgetCents)
			headroom := up.proposed - floor
			if headroom <= 0 {
				continue
			}
			cut := minInt64(headroom, sum-dir.EnvelopeCents)
			up.proposed -= cut
			sum -= cut
		}
	}

	if sum < low {
		// Top up strongest first (best-of-a-bad-set when none are strong).
		// Frozen-but-active units are the fallback target: the corridor must
		// hold even when every unit in the direction is under a growth freeze.
		sorted := activeByScore(ups, false)
		for _, allowFrozen := range []bool{false, true} {
			for _, up := range sorted {
				if sum >= low {
					break
				}
				if up.frozen && !allowFrozen {
					continue
				}
				ceil := minInt64(stepUp(up.current, cfg.MaxStepUpPct, cfg), cfg.Bounds.MaxBudgetCents)
				headroom := ceil - up.proposed
				if headroom <= 0 {
					continue
				}
				add := minInt64(headroom, dir.EnvelopeCents-sum)
				up.proposed += add
				sum += add
			}
		}

		// Still short: fill with additional small reanimation units, within
		// the direction's per-run cap counted across both waterfall calls.
		for sum < low {
			room := cfg.MaxNewUnits - countNewUnits(*newUnits)
			if room <= 0 {
				break
			}
			extra := reanimationWaterfall(dir, minInt64(low-sum+cfg.NewUnitMinCents, cfg.NewUnitMaxCents), room, cfg)
			if len(extra) == 0 {
				break
			}
			*newUnits = append(*newUnits, extra...)
			sum += newUnitBudget(extra)
		}
	}

	return sum
}

// materialize orders the batch: the campaign status read always precedes any
// mutating action on the campaign's units.
func materialize(plan *Plan, dir *metrics.DirectionSnapshot, ups []*unitPlan, subPauses []action.PauseSubComponent, newUnits []action.Action) {
	var muts []action.Action

	for _, up := range ups {
		switch {
		case up.pause:
			muts = append(muts, action.PauseUnit{UnitID: up.unit.ID, Reason: up.reason})
		case up.proposed != up.current:
			muts = append(muts, action.UpdateUnitBudget{
				UnitID:         up.unit.ID,
				NewBudgetCents: up.proposed,
				Reason:         up.reason,
			})
		}
	}
	for _, sp := range subPauses {
		muts = append(muts, sp)
	}
	muts = append(muts, newUnits...)

	if len(muts) == 0 {
		return
	}
	plan.Actions = append(plan.Actions, action.StatusRead{CampaignID: dir.CampaignID})
	plan.Actions = append(plan.Actions, muts...)
}

func sumActive(ups []*unitPlan, newUnits []action.Action) int64 {
	var sum int64
	for _, up := range ups {
		if !up.pause {
			sum += up.proposed
		}
	}
	return sum + newUnitBudget(newUnits)
}

func newUnitBudget(acts []action.Action) int64 {
	var sum int64
	for _, a := range acts {
		switch v := a.(type) {
		case action.CreateUnitWithAssets:
			sum += v.BudgetCents
		case action.DuplicateWithAudience:
			sum += v.BudgetCents
		}
	}
	return sum
}

func countNewUnits(acts []action.Action) int {
	n := 0
	for _, a := range acts {
		switch a.(type) {
		case action.CreateUnitWithAssets, action.DuplicateWithAudience:
			n++
		}
	}
	return n
}

func activeByScore(ups []*unitPlan, ascending bool) []*unitPlan {
	sorted := make([]*unitPlan, 0, len(ups))
	for _, up := range ups {
		if !up.pause {
			sorted = append(sorted, up)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if ascending {
			return sorted[i].ua.Health.Score < sorted[j].ua.Health.Score
		}
		return sorted[i].ua.Health.Score > sorted[j].ua.Health.Score
	})
	return sorted
}

func directionUnderspends(dir *metrics.DirectionSnapshot) bool {
	var sum int64
	for i := range dir.Units {
		if dir.Units[i].Active() {
			sum += dir.Units[i].DailyBudgetCents
		}
	}
	return sum < dir.EnvelopeCents
}

// yesterdayCostRatio returns yesterday's effective cost over target and
// whether the unit spent with zero results.
func yesterdayCostRatio(u *metrics.UnitSnapshot, targetCents int64) (float64, bool) {
	m := u.Windows[metrics.WindowYesterday]
	results := metrics.ResultCount(u.Objective, m)
	if results == 0 {
		return math.Inf(1), m.SpendCents > 0
	}
	if targetCents <= 0 {
		return 0, false
	}
	return float64(m.SpendCents) / float64(results) / float64(targetCents), false
}

func stepUp(current int64, pct float64, cfg Config) int64 {
	if pct > cfg.MaxStepUpPct {
		pct = cfg.MaxStepUpPct
	}
	proposed := int64(math.Round(float64(current) * (1 + pct)))
	return cfg.Bounds.Clamp(proposed)
}

func stepDown(current int64, pct float64, cfg Config) int64 {
	if pct > cfg.MaxStepDownPct {
		pct = cfg.MaxStepDownPct
	}
	proposed := int64(math.Round(float64(current) * (1 - pct)))
	return cfg.Bounds.Clamp(proposed)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
