package action

import (
	"encoding/json"
	"testing"

	"adpilot_backend/platform/apperr"
)

type rogueAction struct{}

func (rogueAction) ActionType() Type { return Type("delete_account") }

var testBounds = Bounds{MinBudgetCents: 300, MaxBudgetCents: 100000}

func TestValidateBatchDropsUnknownTypes(t *testing.T) {
	batch := []Action{
		StatusRead{CampaignID: "c1"},
		rogueAction{},
		PauseUnit{UnitID: "u1"},
	}

	out, err := ValidateBatch(batch, testBounds)
	if err != nil {
		t.Fatalf("ValidateBatch: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d actions, want 2 (unknown type dropped)", len(out))
	}
	if out[0].ActionType() != TypeStatusRead || out[1].ActionType() != TypePauseUnit {
		t.Fatalf("unexpected batch order: %v, %v", out[0].ActionType(), out[1].ActionType())
	}
}

func TestValidateBatchMissingParamAborts(t *testing.T) {
	batch := []Action{
		StatusRead{CampaignID: "c1"},
		UpdateUnitBudget{UnitID: "", NewBudgetCents: 5000},
	}

	out, err := ValidateBatch(batch, testBounds)
	if err == nil {
		t.Fatalf("expected validation error, got batch %v", out)
	}
	if apperr.GetKind(err) != apperr.KindValidation {
		t.Fatalf("kind = %v, want validation", apperr.GetKind(err))
	}
	if out != nil {
		t.Fatalf("aborted batch must return nil, got %v", out)
	}
}

func TestValidateBatchClampsBudgets(t *testing.T) {
	batch := []Action{
		UpdateUnitBudget{UnitID: "u1", NewBudgetCents: 50},
		UpdateUnitBudget{UnitID: "u2", NewBudgetCents: 900000},
		DuplicateWithAudience{SourceUnitID: "u3", AudienceID: "aud1", BudgetCents: 120},
	}

	out, err := ValidateBatch(batch, testBounds)
	if err != nil {
		t.Fatalf("ValidateBatch: %v", err)
	}

	low := out[0].(UpdateUnitBudget)
	if low.NewBudgetCents != testBounds.MinBudgetCents {
		t.Fatalf("low budget = %d, want clamped to %d", low.NewBudgetCents, testBounds.MinBudgetCents)
	}
	high := out[1].(UpdateUnitBudget)
	if high.NewBudgetCents != testBounds.MaxBudgetCents {
		t.Fatalf("high budget = %d, want clamped to %d", high.NewBudgetCents, testBounds.MaxBudgetCents)
	}
	dup := out[2].(DuplicateWithAudience)
	if dup.BudgetCents != testBounds.MinBudgetCents {
		t.Fatalf("duplicate budget = %d, want clamped to %d", dup.BudgetCents, testBounds.MinBudgetCents)
	}
}

func TestValidateBatchZeroBudgetIsInvalid(t *testing.T) {
	// A zero budget means the caller never set it; that aborts rather than
	// silently clamping up to the minimum.
	_, err := ValidateBatch([]Action{UpdateUnitBudget{UnitID: "u1"}}, testBounds)
	if apperr.GetKind(err) != apperr.KindValidation {
		t.Fatalf("kind = %v, want validation", apperr.GetKind(err))
	}
}

func TestValidateBatchCreateUnitRequiresAssets(t *testing.T) {
	a := CreateUnitWithAssets{
		DirectionID: "d1",
		CampaignID:  "c1",
		BudgetCents: 1500,
	}
	if _, err := ValidateBatch([]Action{a}, testBounds); err == nil {
		t.Fatalf("expected error for empty assetTags")
	}

	a.AssetTags = []string{"vid-03"}
	out, err := ValidateBatch([]Action{a}, testBounds)
	if err != nil {
		t.Fatalf("ValidateBatch: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("got %d actions, want 1", len(out))
	}
}

func TestBatchRoundTrip(t *testing.T) {
	batch := []Action{
		StatusRead{CampaignID: "c1"},
		UpdateUnitBudget{UnitID: "u1", NewBudgetCents: 4200, Reason: "cost over target"},
		PauseSubComponent{UnitID: "u1", SubComponentID: "ad9", Reason: "budget eater"},
		CreateUnitWithAssets{DirectionID: "d1", CampaignID: "c1", AssetTags: []string{"img-1"}, BudgetCents: 1500},
	}

	envelopes, err := MarshalBatch(batch)
	if err != nil {
		t.Fatalf("MarshalBatch: %v", err)
	}

	decoded, err := UnmarshalBatch(envelopes)
	if err != nil {
		t.Fatalf("UnmarshalBatch: %v", err)
	}
	if len(decoded) != len(batch) {
		t.Fatalf("got %d actions, want %d", len(decoded), len(batch))
	}
	budget, ok := decoded[1].(UpdateUnitBudget)
	if !ok {
		t.Fatalf("decoded[1] is %T, want UpdateUnitBudget", decoded[1])
	}
	if budget.NewBudgetCents != 4200 || budget.Reason != "cost over target" {
		t.Fatalf("round trip lost fields: %+v", budget)
	}

	// Decoded values must pass back through validation as value types.
	if _, err := ValidateBatch(decoded, testBounds); err != nil {
		t.Fatalf("revalidate decoded batch: %v", err)
	}
}

func TestUnmarshalBatchSkipsUnknownType(t *testing.T) {
	envelopes := []Envelope{
		{Type: TypePauseUnit, Params: json.RawMessage(`{"unitId":"u1"}`)},
		{Type: Type("launch_rockets"), Params: json.RawMessage(`{}`)},
	}

	out, err := UnmarshalBatch(envelopes)
	if err != nil {
		t.Fatalf("UnmarshalBatch: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("got %d actions, want 1 (unknown envelope skipped)", len(out))
	}
}

func TestUnmarshalBatchBadParams(t *testing.T) {
	envelopes := []Envelope{
		{Type: TypeUpdateUnitBudget, Params: json.RawMessage(`{"newBudgetCents":"high"}`)},
	}
	if _, err := UnmarshalBatch(envelopes); err == nil {
		t.Fatalf("expected decode error for malformed params")
	}
}
