// Package advisor lets an external reasoning service refine the
// deterministic plan. Its output is advisory: it goes through the same
// fail-closed validation as any other batch, and any malfunction falls back
// to the deterministic plan untouched.
package advisor

import (
	"context"
	"encoding/json"
	"fmt"

	"adpilot_backend/internal/action"
	"adpilot_backend/internal/metrics"
	"adpilot_backend/internal/rebalance"
	"adpilot_backend/internal/risk"
	"adpilot_backend/platform/logger"
)

const systemPrompt = `You review automated ad budget decisions. You receive the account state and a proposed action batch. Return the batch you would dispatch, as JSON: {"actions":[{"type":"...","params":{...}}]}. You may reorder, drop or adjust actions, but only use the action types present in the proposal, keep every status_read before mutations on the same campaign, and never invent unit or campaign ids.`

// Completer is the chat completion port. The production implementation is
// platform/ai/advisor.Client.
type Completer interface {
	CompleteJSON(ctx context.Context, system, user string) (string, error)
}

// Advisor asks the reasoning service for a refined batch.
type Advisor struct {
	llm        Completer
	maxActions int
	log        *logger.Logger
}

func New(llm Completer, maxActions int, log *logger.Logger) *Advisor {
	return &Advisor{llm: llm, maxActions: maxActions, log: log}
}

// unitView is the compact per-unit state shown to the model.
type unitView struct {
	ID          string  `json:"id"`
	BudgetCents int64   `json:"budgetCents"`
	Level       string  `json:"level"`
	Score       int     `json:"score"`
	RiskBand    string  `json:"riskBand,omitempty"`
	Reasoning   string  `json:"reasoning"`
	CostRatio   float64 `json:"costRatioYesterday,omitempty"`
}

type directionView struct {
	ID              string     `json:"id"`
	CampaignID      string     `json:"campaignId"`
	EnvelopeCents   int64      `json:"envelopeCents"`
	TargetCostCents int64      `json:"targetCostCents"`
	Units           []unitView `json:"units"`
}

type promptPayload struct {
	Directions []directionView   `json:"directions"`
	Proposal   []action.Envelope `json:"proposal"`
}

type refineResponse struct {
	Actions []action.Envelope `json:"actions"`
}

// Refine submits the deterministic plan for review and returns the revised
// batch. Every error path returns an error; the caller keeps the original
// plan in that case.
func (a *Advisor) Refine(ctx context.Context, snapshot *metrics.AccountSnapshot, assessments map[string]risk.UnifiedAssessment, plan rebalance.Plan) ([]action.Action, error) {
	proposal, err := action.MarshalBatch(plan.Actions)
	if err != nil {
		return nil, err
	}

	payload := promptPayload{Proposal: proposal}
	for i := range snapshot.Directions {
		payload.Directions = append(payload.Directions, directionSummary(&snapshot.Directions[i], assessments))
	}

	user, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	raw, err := a.llm.CompleteJSON(ctx, systemPrompt, string(user))
	if err != nil {
		return nil, err
	}

	var resp refineResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, fmt.Errorf("advisor returned malformed batch: %w", err)
	}
	if len(resp.Actions) > a.maxActions {
		return nil, fmt.Errorf("advisor returned %d actions, cap is %d", len(resp.Actions), a.maxActions)
	}

	refined, err := action.UnmarshalBatch(resp.Actions)
	if err != nil {
		return nil, err
	}

	a.log.Debug("advisor refined batch", "proposed", len(plan.Actions), "refined", len(refined))
	return refined, nil
}

func directionSummary(dir *metrics.DirectionSnapshot, assessments map[string]risk.UnifiedAssessment) directionView {
	dv := directionView{
		ID:              dir.ID,
		CampaignID:      dir.CampaignID,
		EnvelopeCents:   dir.EnvelopeCents,
		TargetCostCents: dir.TargetCostCents,
	}
	for i := range dir.Units {
		u := &dir.Units[i]
		if !u.Active() {
			continue
		}
		uv := unitView{ID: u.ID, BudgetCents: u.DailyBudgetCents}
		if ua, ok := assessments[u.ID]; ok {
			uv.Level = string(ua.Level)
			uv.Score = ua.Health.Score
			uv.RiskBand = string(ua.SignalBand)
			uv.Reasoning = ua.Reasoning
		}
		m := u.Windows[metrics.WindowYesterday]
		if results := metrics.ResultCount(u.Objective, m); results > 0 && dir.TargetCostCents > 0 {
			uv.CostRatio = float64(m.SpendCents) / float64(results) / float64(dir.TargetCostCents)
		}
		dv.Units = append(dv.Units, uv)
	}
	return dv
}
