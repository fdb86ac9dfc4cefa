package model

import (
	"time"

	"github.com/google/uuid"
)

// SubmissionRecord is the write-once snapshot handed to grading. It is
// created exactly once per session and never modified afterwards.
type SubmissionRecord struct {
	SessionID         uuid.UUID            `json:"session_id"`
	AssessmentID      uuid.UUID            `json:"assessment_id"`
	SubjectID         int                  `json:"subject_id"`
	Answers           map[uuid.UUID]Answer `json:"answers"`
	Violations        []ViolationEvent     `json:"violations"`
	Risk              RiskState            `json:"risk"`
	TerminationReason TerminationReason    `json:"termination_reason"`
	StartedAt         time.Time            `json:"started_at"`
	SubmittedAt       time.Time            `json:"submitted_at"`
}

// GradeResult is produced by the grading worker for the objective part of a
// submission. Essay and free-text answers stay pending for manual review.
type GradeResult struct {
	SessionID     uuid.UUID `json:"session_id"`
	AutoScore     float64   `json:"auto_score"`
	MaxAutoPoints float64   `json:"max_auto_points"`
	PendingManual int       `json:"pending_manual"`
	Passed        *bool     `json:"passed,omitempty"`
	GradedAt      time.Time `json:"graded_at"`
}
