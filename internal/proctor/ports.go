package proctor

import (
	"context"
	"time"

	"github.com/edupulse/proctor-backend/internal/model"
	"github.com/google/uuid"
)

// AssessmentSource loads the read-only assessment definition. Called once
// at session start; the question set is immutable afterwards.
type AssessmentSource interface {
	Get(ctx context.Context, assessmentID uuid.UUID) (*model.Assessment, error)
}

// EligibilityChecker decides whether a subject may start an attempt.
// A denial is returned as *EligibilityDeniedError.
type EligibilityChecker interface {
	CanStart(ctx context.Context, assessment *model.Assessment, subjectID int) error
}

// SessionStore records attempt rows durably. Create is the only call on the
// start path; everything after start is asynchronous.
type SessionStore interface {
	Create(ctx context.Context, sessionID, assessmentID uuid.UUID, subjectID int, startedAt, deadlineAt time.Time) error
}

// PersistenceSink appends violation events to the durable audit log.
// Best-effort and non-blocking: implementations must never stall the
// session event loop.
type PersistenceSink interface {
	Append(sessionID uuid.UUID, ev model.ViolationEvent)
}

// GradingService receives finalized submissions. Fire-and-forget: a grading
// failure never rolls back or reopens a finalized session.
type GradingService interface {
	Grade(rec *model.SubmissionRecord)
}

// NotificationSink delivers warnings and submission confirmations.
// Failures are swallowed by implementations.
type NotificationSink interface {
	Notify(subjectID int, message string)
}

// MonitorPublisher fans live session updates out to proctor dashboards.
type MonitorPublisher interface {
	Publish(assessmentID uuid.UUID, upd model.SessionUpdate)
}

// Collaborators bundles every external dependency of the session engine.
type Collaborators struct {
	Assessments AssessmentSource
	Eligibility EligibilityChecker
	Sessions    SessionStore
	Audit       PersistenceSink
	Grading     GradingService
	Notify      NotificationSink
	Monitor     MonitorPublisher
}
