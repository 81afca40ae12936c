package rebalance

import (
	"fmt"

	"adpilot_backend/internal/action"
	"adpilot_backend/internal/metrics"
)

// detectEater finds a budget-eating ad inside a struggling unit: with at
// least two sub-components reporting yesterday, the top spender is flagged
// when it took over half the unit's spend at a cost above the eater ratio.
// Pausing the one bad ad is cheaper than cutting the whole unit.
func detectEater(u *metrics.UnitSnapshot, targetCents int64, cfg Config) *action.PauseSubComponent {
	if len(u.SubComponents) < 2 || targetCents <= 0 {
		return nil
	}

	var total int64
	top := u.SubComponents[0]
	for _, sc := range u.SubComponents {
		total += sc.SpendCents
		if sc.SpendCents > top.SpendCents {
			top = sc
		}
	}
	if total <= 0 {
		return nil
	}

	share := float64(top.SpendCents) / float64(total)
	if share < cfg.EaterSpendShare {
		return nil
	}

	var reason string
	switch {
	case top.Results == 0 && top.SpendCents > 0:
		reason = fmt.Sprintf("ad took %.0f%% of unit spend with zero results", share*100)
	default:
		cost := float64(top.SpendCents) / float64(top.Results)
		ratio := cost / float64(targetCents)
		if ratio <= cfg.EaterCostRatio {
			return nil
		}
		reason = fmt.Sprintf("ad took %.0f%% of unit spend at %.1fx target cost", share*100, ratio)
	}

	return &action.PauseSubComponent{
		UnitID:         u.ID,
		SubComponentID: top.ID,
		Reason:         reason,
	}
}
