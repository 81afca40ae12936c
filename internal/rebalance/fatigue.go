package rebalance

import (
	"fmt"

	"adpilot_backend/internal/metrics"
)

// Fatigue thresholds: a 30-day frequency above 3 means the audience has seen
// the creatives too often; a CTR more than 20% below the 30-day baseline
// means they stopped reacting.
const (
	fatigueFrequency  = 3.0
	fatigueCTRDecline = 0.20
)

// Advisory is a non-dispatched recommendation surfaced in the run report.
type Advisory struct {
	UnitID string `json:"unitId"`
	Kind   string `json:"kind"` // replace_creatives, urgent_replace_creatives
	Detail string `json:"detail"`
	Urgent bool   `json:"urgent"`
}

// fatigueAdvisories scans active units for creative fatigue. Advisories are
// informational only; creative replacement needs a human.
func fatigueAdvisories(snapshot *metrics.AccountSnapshot) []Advisory {
	var out []Advisory
	for i := range snapshot.Directions {
		for j := range snapshot.Directions[i].Units {
			u := &snapshot.Directions[i].Units[j]
			if !u.Active() {
				continue
			}
			if adv := fatigueCheck(u); adv != nil {
				out = append(out, *adv)
			}
		}
	}
	return out
}

func fatigueCheck(u *metrics.UnitSnapshot) *Advisory {
	m30 := u.Windows[metrics.WindowLast30d]
	m7 := u.Windows[metrics.WindowLast7d]

	highFreq := m30.Frequency > fatigueFrequency

	ctrDeclined := false
	var declinePct float64
	if m30.CTR > 0 && m7.Impressions > 0 {
		declinePct = (m30.CTR - m7.CTR) / m30.CTR
		ctrDeclined = declinePct > fatigueCTRDecline
	}

	switch {
	case highFreq && ctrDeclined:
		return &Advisory{
			UnitID: u.ID,
			Kind:   "urgent_replace_creatives",
			Detail: fmt.Sprintf("frequency %.1f and ctr down %.0f%% vs 30d", m30.Frequency, declinePct*100),
			Urgent: true,
		}
	case highFreq:
		return &Advisory{
			UnitID: u.ID,
			Kind:   "replace_creatives",
			Detail: fmt.Sprintf("frequency %.1f over 30d", m30.Frequency),
		}
	case ctrDeclined:
		return &Advisory{
			UnitID: u.ID,
			Kind:   "replace_creatives",
			Detail: fmt.Sprintf("ctr down %.0f%% vs 30d baseline", declinePct*100),
		}
	default:
		return nil
	}
}
