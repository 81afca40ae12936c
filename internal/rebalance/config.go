package rebalance

import "adpilot_backend/internal/action"

// Config holds the rebalancer's step caps, detection thresholds and sizing
// rules. Immutable, passed in at call time.
type Config struct {
	MaxStepUpPct   float64 // per-run increase cap on a unit's budget
	MaxStepDownPct float64 // per-run cut cap
	MinIncreasePct float64 // smallest meaningful increase
	MinCutPct      float64 // smallest meaningful cut

	CorridorPct float64 // direction budget corridor half-width

	EaterSpendShare float64 // top sub-component spend share that flags an eater
	EaterCostRatio  float64 // eater's cost vs target

	HardCutCostRatio float64 // cost vs target that forces a 50% cut
	PauseCostRatio   float64 // cost vs target that forces a pause

	MaxConsecutiveCuts int // cuts in a row before a bad unit is paused instead

	ReadyAssetCostRatio float64 // acceptable historical cost vs target for rotation

	NewUnitMinCents int64 // reanimation unit sizing floor (~$10)
	NewUnitMaxCents int64 // reanimation unit sizing ceiling (~$20)
	MaxAssetsPerNew int   // creative tags seeded into one new unit
	MaxNewUnits     int   // reanimation units per direction per run

	Bounds action.Bounds
}

// DefaultConfig returns the production thresholds.
func DefaultConfig(bounds action.Bounds) Config {
	return Config{
		MaxStepUpPct:        0.30,
		MaxStepDownPct:      0.50,
		MinIncreasePct:      0.10,
		MinCutPct:           0.20,
		CorridorPct:         0.05,
		EaterSpendShare:     0.50,
		EaterCostRatio:      1.3,
		HardCutCostRatio:    2.0,
		PauseCostRatio:      3.0,
		MaxConsecutiveCuts:  3,
		ReadyAssetCostRatio: 1.3,
		NewUnitMinCents:     1000,
		NewUnitMaxCents:     2000,
		MaxAssetsPerNew:     3,
		MaxNewUnits:         3,
		Bounds:              bounds,
	}
}
