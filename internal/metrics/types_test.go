package metrics

import (
	"testing"
	"time"
)

func TestResultCountPerObjective(t *testing.T) {
	m := WindowMetrics{Conversions: map[string]int64{
		ConversionLead:         7,
		ConversionConversation: 12,
		ConversionPrimary:      3,
	}}

	if got := ResultCount(ObjectiveLeadGen, m); got != 7 {
		t.Fatalf("lead_gen count = %d, want 7", got)
	}
	if got := ResultCount(ObjectiveMessages, m); got != 12 {
		t.Fatalf("messages count = %d, want 12", got)
	}
	if got := ResultCount(ObjectiveLegacy, m); got != 3 {
		t.Fatalf("legacy count = %d, want 3", got)
	}
	if got := ResultCount(ObjectiveLeadGen, WindowMetrics{}); got != 0 {
		t.Fatalf("nil conversions = %d, want 0", got)
	}
}

func TestSnapshotEmpty(t *testing.T) {
	var nilSnap *AccountSnapshot
	if !nilSnap.Empty() {
		t.Fatalf("nil snapshot must be empty")
	}

	paused := &AccountSnapshot{Directions: []DirectionSnapshot{{
		ID: "d1",
		Units: []UnitSnapshot{
			{ID: "u1", Status: "paused"},
		},
	}}}
	if !paused.Empty() {
		t.Fatalf("all-paused, zero-spend snapshot must be empty")
	}

	// A paused unit that still spent yesterday keeps the account in scope.
	spent := &AccountSnapshot{Directions: []DirectionSnapshot{{
		ID: "d1",
		Units: []UnitSnapshot{
			{ID: "u1", Status: "paused", Windows: map[Window]WindowMetrics{
				WindowYesterday: {SpendCents: 200},
			}},
		},
	}}}
	if spent.Empty() {
		t.Fatalf("snapshot with yesterday spend must not be empty")
	}

	active := &AccountSnapshot{Directions: []DirectionSnapshot{{
		ID:    "d1",
		Units: []UnitSnapshot{{ID: "u1", Status: "active"}},
	}}}
	if active.Empty() {
		t.Fatalf("snapshot with an active unit must not be empty")
	}
}

func TestUnitIsNew(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	fresh := UnitSnapshot{CreatedAt: now.Add(-12 * time.Hour)}
	if !fresh.IsNew(now) {
		t.Fatalf("12h-old unit must be new")
	}

	aged := UnitSnapshot{CreatedAt: now.Add(-72 * time.Hour)}
	if aged.IsNew(now) {
		t.Fatalf("72h-old unit must not be new")
	}

	unknown := UnitSnapshot{}
	if unknown.IsNew(now) {
		t.Fatalf("unit without creation time must not count as new")
	}
}
