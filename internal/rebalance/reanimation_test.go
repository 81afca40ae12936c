package rebalance

import (
	"testing"

	"adpilot_backend/internal/action"
	"adpilot_backend/internal/metrics"
)

func TestSplitBudgetSizing(t *testing.T) {
	cfg := testConfig()

	cases := []struct {
		freed int64
		want  []int64
	}{
		{freed: 500, want: nil},                      // below the floor, left unspent
		{freed: 1000, want: []int64{1000}},           // exactly one minimum unit
		{freed: 2500, want: []int64{2000}},           // remainder 500 below floor
		{freed: 5000, want: []int64{2000, 2000, 1000}},
		{freed: 9000, want: []int64{2000, 2000, 2000}}, // capped at three units
	}

	for _, tc := range cases {
		got := splitBudget(tc.freed, cfg.MaxNewUnits, cfg)
		if len(got) != len(tc.want) {
			t.Fatalf("splitBudget(%d) = %v, want %v", tc.freed, got, tc.want)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("splitBudget(%d) = %v, want %v", tc.freed, got, tc.want)
			}
		}
	}
}

func TestAssetTagsCostFilter(t *testing.T) {
	assets := []metrics.CreativeAsset{
		{Tag: "expensive", HistoricalCostCents: 900},
		{Tag: "cheap", HistoricalCostCents: 400},
		{Tag: "unmeasured", HistoricalCostCents: 0},
		{Tag: "mid", HistoricalCostCents: 600},
	}

	got := assetTags(assets, 650, 3)
	if len(got) != 2 {
		t.Fatalf("assetTags = %v, want 2 tags within cost bound", got)
	}
	if got[0] != "cheap" || got[1] != "mid" {
		t.Fatalf("assetTags = %v, want cheapest first [cheap mid]", got)
	}
}

func TestAssetTagsUnfilteredKeepsOrder(t *testing.T) {
	assets := []metrics.CreativeAsset{{Tag: "a"}, {Tag: "b"}, {Tag: "c"}, {Tag: "d"}}
	got := assetTags(assets, 0, 3)
	if len(got) != 3 || got[0] != "a" || got[2] != "c" {
		t.Fatalf("assetTags = %v, want first three in order", got)
	}
}

// waterfallDir has every tier's inventory available.
func waterfallDir() *metrics.DirectionSnapshot {
	return &metrics.DirectionSnapshot{
		ID: "dir-1", CampaignID: "camp-1", TargetCostCents: 500,
		UnusedAssets:   []metrics.CreativeAsset{{Tag: "fresh"}},
		ReadyAssets:    []metrics.CreativeAsset{{Tag: "proven", HistoricalCostCents: 550}},
		LookalikeAudID: "aud-1",
		Units: []metrics.UnitSnapshot{func() metrics.UnitSnapshot {
			u := testUnit("u1", 4000)
			u.Windows[metrics.WindowLast7d] = metrics.WindowMetrics{
				SpendCents:  10000,
				Conversions: map[string]int64{metrics.ConversionLead: 20},
			}
			return u
		}()},
	}
}

func TestWaterfallFirstTierTakesAllSlots(t *testing.T) {
	cfg := testConfig()
	got := reanimationWaterfall(waterfallDir(), 5000, cfg.MaxNewUnits, cfg)
	if len(got) != 3 {
		t.Fatalf("waterfall produced %d actions, want 3 units from the winning tier", len(got))
	}

	for i, a := range got {
		cu, ok := a.(action.CreateUnitWithAssets)
		if !ok {
			t.Fatalf("slot %d = %+v, want create from unused assets only", i, a)
		}
		if cu.AssetTags[0] != "fresh" {
			t.Fatalf("slot %d seeded with %v, want the unused asset", i, cu.AssetTags)
		}
	}
}

func TestWaterfallFallsThroughToReadyAssets(t *testing.T) {
	cfg := testConfig()
	dir := waterfallDir()
	dir.UnusedAssets = nil

	got := reanimationWaterfall(dir, 2000, cfg.MaxNewUnits, cfg)
	if len(got) != 1 {
		t.Fatalf("waterfall produced %d actions, want 1", len(got))
	}
	cu, ok := got[0].(action.CreateUnitWithAssets)
	if !ok || cu.AssetTags[0] != "proven" {
		t.Fatalf("got %+v, want rotation of the ready asset", got[0])
	}
}

func TestWaterfallLookalikeIsLastResort(t *testing.T) {
	cfg := testConfig()
	dir := waterfallDir()
	dir.UnusedAssets = nil
	dir.ReadyAssets = nil

	got := reanimationWaterfall(dir, 3000, cfg.MaxNewUnits, cfg)
	if len(got) != 2 {
		t.Fatalf("waterfall produced %d actions, want 2 duplicates", len(got))
	}
	for i, a := range got {
		d, ok := a.(action.DuplicateWithAudience)
		if !ok || d.SourceUnitID != "u1" || d.AudienceID != "aud-1" {
			t.Fatalf("slot %d = %+v, want lookalike duplicate of best unit", i, a)
		}
	}
}

func TestWaterfallHonorsUnitCap(t *testing.T) {
	cfg := testConfig()
	got := reanimationWaterfall(waterfallDir(), 9000, 1, cfg)
	if len(got) != 1 {
		t.Fatalf("waterfall produced %d actions, want the caller's cap of 1", len(got))
	}
}

func TestWaterfallReadyAssetTooExpensive(t *testing.T) {
	cfg := testConfig()
	dir := &metrics.DirectionSnapshot{
		ID: "dir-1", CampaignID: "camp-1", TargetCostCents: 500,
		ReadyAssets: []metrics.CreativeAsset{{Tag: "costly", HistoricalCostCents: 700}}, // 1.4x target
	}
	got := reanimationWaterfall(dir, 2000, cfg.MaxNewUnits, cfg)
	if len(got) != 0 {
		t.Fatalf("waterfall redeployed into an over-cost asset: %+v", got)
	}
}

func TestWaterfallBelowMinimumSkipped(t *testing.T) {
	cfg := testConfig()
	dir := &metrics.DirectionSnapshot{
		ID: "dir-1", CampaignID: "camp-1", TargetCostCents: 500,
		UnusedAssets: []metrics.CreativeAsset{{Tag: "fresh"}},
	}
	if got := reanimationWaterfall(dir, 900, cfg.MaxNewUnits, cfg); len(got) != 0 {
		t.Fatalf("freed amount below minimum still produced units: %+v", got)
	}
}
