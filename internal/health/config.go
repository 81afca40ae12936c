package health

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the weight and threshold tables for the Health Score Engine.
// It is an immutable value passed in at call time; nothing here is shared
// module-level state.
type Config struct {
	GapWeight   float64 `yaml:"gapWeight"`   // dominant cost-gap weight
	TrendWeight float64 `yaml:"trendWeight"` // total trend weight across both pairs

	CTRFloorPct      float64 `yaml:"ctrFloorPct"`
	CTRPenalty       float64 `yaml:"ctrPenalty"`
	CPMMedianRatio   float64 `yaml:"cpmMedianRatio"`
	CPMPenalty       float64 `yaml:"cpmPenalty"`
	FrequencyCeiling float64 `yaml:"frequencyCeiling"`
	FrequencyPenalty float64 `yaml:"frequencyPenalty"`

	TodayMinImpressions int64   `yaml:"todayMinImpressions"`
	TodayBonus          float64 `yaml:"todayBonus"` // extra on top of a full gap cancel

	VeryGoodMin    float64 `yaml:"veryGoodMin"`
	GoodMin        float64 `yaml:"goodMin"`
	NeutralMin     float64 `yaml:"neutralMin"`
	SlightlyBadMin float64 `yaml:"slightlyBadMin"`
}

// DefaultConfig returns the production weight table.
func DefaultConfig() Config {
	return Config{
		GapWeight:           45,
		TrendWeight:         15,
		CTRFloorPct:         1.0,
		CTRPenalty:          8,
		CPMMedianRatio:      1.3,
		CPMPenalty:          12,
		FrequencyCeiling:    2.0,
		FrequencyPenalty:    10,
		TodayMinImpressions: 500,
		TodayBonus:          15,
		VeryGoodMin:         25,
		GoodMin:             5,
		NeutralMin:          -5,
		SlightlyBadMin:      -25,
	}
}

// LoadConfig reads a weight table from a YAML file, layering it over the
// defaults. An empty path returns the defaults unchanged.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read scoring config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse scoring config: %w", err)
	}
	if cfg.GapWeight <= 0 || cfg.TrendWeight <= 0 {
		return Config{}, fmt.Errorf("scoring config: weights must be positive")
	}
	return cfg, nil
}
