package proctor

import (
	"github.com/edupulse/proctor-backend/internal/config"
	"github.com/edupulse/proctor-backend/internal/model"
)

// Aggregator folds violation events into a RiskState. Updates are O(1) per
// event (running sums, no rescan) and a full replay of the log yields the
// exact same state, which is what audit and dispute resolution rely on.
//
// The aggregator itself holds no per-session state and is safe to share;
// serialization of updates for one session is the session mailbox's job.
type Aggregator struct {
	weights            map[model.Severity]float64
	warnThreshold      float64
	terminateThreshold float64
}

// NewAggregator builds an Aggregator from the configured weights and
// thresholds.
func NewAggregator(cfg config.ProctoringConfig) *Aggregator {
	return &Aggregator{
		weights: map[model.Severity]float64{
			model.SeverityHigh:   cfg.WeightHigh,
			model.SeverityMedium: cfg.WeightMedium,
			model.SeverityLow:    cfg.WeightLow,
		},
		warnThreshold:      cfg.WarnThreshold,
		terminateThreshold: cfg.TerminateThreshold,
	}
}

// Weight returns the score contribution of one event:
// severityWeight × confidence, except ai_flagged_frame which always uses
// the high-severity base weight scaled by detector confidence.
func (a *Aggregator) Weight(ev model.ViolationEvent) float64 {
	if ev.Type == model.ViolationAIFlaggedFrame {
		return a.weights[model.SeverityHigh] * ev.Confidence
	}
	return a.weights[ev.Severity] * ev.Confidence
}

// Apply returns the state after one more event. Escalation is monotonic:
// a level is never downgraded once reached.
func (a *Aggregator) Apply(state model.RiskState, ev model.ViolationEvent) model.RiskState {
	next := state.Clone()
	next.CountsByType[ev.Type]++
	next.WeightedScore += a.Weight(ev)
	next.EscalationLevel = maxLevel(state.EscalationLevel, a.levelFor(next.WeightedScore))
	return next
}

// Replay recomputes the state from the full violation log.
func (a *Aggregator) Replay(events []model.ViolationEvent) model.RiskState {
	state := model.NewRiskState()
	for _, ev := range events {
		state = a.Apply(state, ev)
	}
	return state
}

// ShouldTerminate reports whether the weighted score has crossed the
// force-submit threshold.
func (a *Aggregator) ShouldTerminate(state model.RiskState) bool {
	return state.WeightedScore >= a.terminateThreshold
}

func (a *Aggregator) levelFor(score float64) model.EscalationLevel {
	switch {
	case score >= a.terminateThreshold:
		return model.EscalationCritical
	case score >= a.warnThreshold:
		return model.EscalationWarned
	default:
		return model.EscalationNormal
	}
}

func maxLevel(a, b model.EscalationLevel) model.EscalationLevel {
	rank := map[model.EscalationLevel]int{
		model.EscalationNormal:   0,
		model.EscalationWarned:   1,
		model.EscalationCritical: 2,
	}
	if rank[b] > rank[a] {
		return b
	}
	return a
}
