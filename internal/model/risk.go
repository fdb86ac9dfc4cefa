package model

// EscalationLevel is the decision tier derived from the weighted risk score.
type EscalationLevel string

const (
	EscalationNormal   EscalationLevel = "NORMAL"
	EscalationWarned   EscalationLevel = "WARNED"
	EscalationCritical EscalationLevel = "CRITICAL_PENDING_SUBMIT"
)

// RiskState is derived state: always reconstructible by replaying the
// violation log, which remains the audit source of truth.
type RiskState struct {
	CountsByType    map[ViolationType]int `json:"counts_by_type"`
	WeightedScore   float64               `json:"weighted_score"`
	EscalationLevel EscalationLevel       `json:"escalation_level"`
}

// NewRiskState returns the zero risk state of a fresh session.
func NewRiskState() RiskState {
	return RiskState{
		CountsByType:    make(map[ViolationType]int),
		EscalationLevel: EscalationNormal,
	}
}

// Clone returns a deep copy so snapshots cannot alias live state.
func (s RiskState) Clone() RiskState {
	counts := make(map[ViolationType]int, len(s.CountsByType))
	for k, v := range s.CountsByType {
		counts[k] = v
	}
	return RiskState{
		CountsByType:    counts,
		WeightedScore:   s.WeightedScore,
		EscalationLevel: s.EscalationLevel,
	}
}
