package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SessionState enumerates the attempt state machine.
// SUBMITTED and TERMINATED are terminal and immutable thereafter.
type SessionState string

const (
	SessionStateCreated    SessionState = "CREATED"
	SessionStateActive     SessionState = "ACTIVE"
	SessionStateWarned     SessionState = "WARNED"
	SessionStateSubmitting SessionState = "SUBMITTING"
	SessionStateSubmitted  SessionState = "SUBMITTED"
	SessionStateTerminated SessionState = "TERMINATED"
)

// Terminal reports whether the state admits no further mutation.
func (s SessionState) Terminal() bool {
	return s == SessionStateSubmitted || s == SessionStateTerminated
}

// Writable reports whether answers and violations may still be applied.
func (s SessionState) Writable() bool {
	return s == SessionStateActive || s == SessionStateWarned
}

// TerminationReason records why a session ended.
type TerminationReason string

const (
	ReasonManual            TerminationReason = "manual"
	ReasonTimerExpired      TerminationReason = "timer-expired"
	ReasonRiskThreshold     TerminationReason = "risk-threshold"
	ReasonDisconnectTimeout TerminationReason = "disconnect-timeout"
)

// Answer is owned exclusively by the session goroutine and mutated only
// through the answer/navigation capture path. TimeSpentMs never decreases.
type Answer struct {
	QuestionID    uuid.UUID       `json:"question_id"`
	Value         json.RawMessage `json:"value"`
	TimeSpentMs   int64           `json:"time_spent_ms"`
	Flagged       bool            `json:"flagged"`
	Bookmarked    bool            `json:"bookmarked"`
	LastTouchedAt time.Time       `json:"last_touched_at"`
}

// SessionInfo is the start-response payload.
type SessionInfo struct {
	SessionID  uuid.UUID `json:"session_id"`
	DeadlineAt time.Time `json:"deadline_at"`
	Sections   []Section `json:"sections"`
}

// SessionSnapshot is a point-in-time read of a live session.
type SessionSnapshot struct {
	SessionID            uuid.UUID            `json:"session_id"`
	AssessmentID         uuid.UUID            `json:"assessment_id"`
	SubjectID            int                  `json:"subject_id"`
	State                SessionState         `json:"state"`
	StartedAt            time.Time            `json:"started_at"`
	DeadlineAt           time.Time            `json:"deadline_at"`
	CurrentSectionIndex  int                  `json:"current_section_index"`
	CurrentQuestionIndex int                  `json:"current_question_index"`
	SecondsRemaining     float64              `json:"seconds_remaining"`
	Risk                 RiskState            `json:"risk"`
	Answers              map[uuid.UUID]Answer `json:"answers"`
}

// SessionUpdate is pushed to live subscribers (student UI, proctor monitor)
// on every state-relevant change.
type SessionUpdate struct {
	SessionID        uuid.UUID       `json:"session_id"`
	AssessmentID     uuid.UUID       `json:"assessment_id"`
	SubjectID        int             `json:"subject_id"`
	State            SessionState    `json:"state"`
	RiskLevel        EscalationLevel `json:"risk_level"`
	WeightedScore    float64         `json:"weighted_score"`
	SecondsRemaining float64         `json:"seconds_remaining"`
	LowTime          bool            `json:"low_time,omitempty"`
}
