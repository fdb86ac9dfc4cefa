package proctor

import (
	"fmt"
	"time"

	"github.com/edupulse/proctor-backend/internal/model"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Finalizer converts a session's terminal state into an immutable
// SubmissionRecord and hands it off downstream. Exactly-once is enforced by
// the session event loop: Finalize is only ever reached by the first
// terminal trigger; every later caller gets the stored record back.
//
// The handoff is fire-and-forget with respect to the engine: a grading or
// notification failure never rolls back a finalization.
type Finalizer struct {
	grading GradingService
	notify  NotificationSink
	log     zerolog.Logger
}

// NewFinalizer creates a Finalizer.
func NewFinalizer(grading GradingService, notify NotificationSink, log zerolog.Logger) *Finalizer {
	return &Finalizer{
		grading: grading,
		notify:  notify,
		log:     log.With().Str("component", "finalizer").Logger(),
	}
}

// Finalize builds the write-once record from the session's state and
// dispatches it to grading and notification.
func (f *Finalizer) Finalize(s *session, reason model.TerminationReason, submittedAt time.Time) *model.SubmissionRecord {
	answers := make(map[uuid.UUID]model.Answer, len(s.answers))
	for id, a := range s.answers {
		answers[id] = *a
	}
	violations := make([]model.ViolationEvent, len(s.violations))
	copy(violations, s.violations)

	rec := &model.SubmissionRecord{
		SessionID:         s.id,
		AssessmentID:      s.assessment.ID,
		SubjectID:         s.subjectID,
		Answers:           answers,
		Violations:        violations,
		Risk:              s.risk.Clone(),
		TerminationReason: reason,
		StartedAt:         s.startedAt,
		SubmittedAt:       submittedAt,
	}

	f.grading.Grade(rec)
	f.notify.Notify(s.subjectID, fmt.Sprintf("Session ended: %s", reason))

	return rec
}
