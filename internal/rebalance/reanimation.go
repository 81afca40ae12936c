package rebalance

import (
	"sort"

	"adpilot_backend/internal/action"
	"adpilot_backend/internal/metrics"
)

// reanimationWaterfall redeploys freed budget into new delivery instead of
// letting it evaporate. Strict priority: never-used creatives, then proven
// creatives whose historical cost is still acceptable, then a lookalike
// duplicate of the direction's best unit. The first tier with inventory takes
// every budget slot; lower tiers never mix into the same batch. No tier
// available, or a freed amount below one minimum-sized unit, means no
// reanimation at all.
func reanimationWaterfall(dir *metrics.DirectionSnapshot, freedCents int64, maxUnits int, cfg Config) []action.Action {
	budgets := splitBudget(freedCents, maxUnits, cfg)
	if len(budgets) == 0 {
		return nil
	}

	if tags := assetTags(dir.UnusedAssets, 0, cfg.MaxAssetsPerNew); len(tags) > 0 {
		return createUnits(dir, tags, budgets)
	}

	maxCost := int64(float64(dir.TargetCostCents) * cfg.ReadyAssetCostRatio)
	if tags := assetTags(dir.ReadyAssets, maxCost, cfg.MaxAssetsPerNew); len(tags) > 0 {
		return createUnits(dir, tags, budgets)
	}

	if dir.LookalikeAudID != "" {
		if src := bestUnitID(dir); src != "" {
			out := make([]action.Action, 0, len(budgets))
			for _, b := range budgets {
				out = append(out, action.DuplicateWithAudience{
					SourceUnitID: src,
					AudienceID:   dir.LookalikeAudID,
					BudgetCents:  b,
				})
			}
			return out
		}
	}

	return nil
}

func createUnits(dir *metrics.DirectionSnapshot, tags []string, budgets []int64) []action.Action {
	out := make([]action.Action, 0, len(budgets))
	for _, b := range budgets {
		out = append(out, action.CreateUnitWithAssets{
			DirectionID: dir.ID,
			CampaignID:  dir.CampaignID,
			AssetTags:   tags,
			BudgetCents: b,
		})
	}
	return out
}

// splitBudget sizes new units between the configured floor and ceiling, at
// most maxUnits (never above the per-direction cap). Remainder below the
// floor is left unspent.
func splitBudget(freedCents int64, maxUnits int, cfg Config) []int64 {
	if maxUnits > cfg.MaxNewUnits {
		maxUnits = cfg.MaxNewUnits
	}
	var out []int64
	remaining := freedCents
	for len(out) < maxUnits && remaining >= cfg.NewUnitMinCents {
		b := remaining
		if b > cfg.NewUnitMaxCents {
			b = cfg.NewUnitMaxCents
		}
		out = append(out, b)
		remaining -= b
	}
	return out
}

// assetTags picks up to limit creative tags. With maxCost > 0 only assets
// whose historical cost is known and within bounds qualify, cheapest first.
func assetTags(assets []metrics.CreativeAsset, maxCost int64, limit int) []string {
	eligible := make([]metrics.CreativeAsset, 0, len(assets))
	for _, a := range assets {
		if maxCost > 0 {
			if a.HistoricalCostCents <= 0 || a.HistoricalCostCents > maxCost {
				continue
			}
		}
		eligible = append(eligible, a)
	}
	if maxCost > 0 {
		sort.Slice(eligible, func(i, j int) bool {
			return eligible[i].HistoricalCostCents < eligible[j].HistoricalCostCents
		})
	}

	tags := make([]string, 0, limit)
	for _, a := range eligible {
		if len(tags) == limit {
			break
		}
		tags = append(tags, a.Tag)
	}
	return tags
}

// bestUnitID returns the active unit with the lowest effective cost over the
// last 7 days, the natural seed for a lookalike duplicate.
func bestUnitID(dir *metrics.DirectionSnapshot) string {
	var (
		bestID   string
		bestCost float64
	)
	for i := range dir.Units {
		u := &dir.Units[i]
		if !u.Active() {
			continue
		}
		m := u.Windows[metrics.WindowLast7d]
		results := metrics.ResultCount(u.Objective, m)
		if results == 0 {
			continue
		}
		cost := float64(m.SpendCents) / float64(results)
		if bestID == "" || cost < bestCost {
			bestID = u.ID
			bestCost = cost
		}
	}
	return bestID
}
