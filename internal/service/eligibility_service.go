package service

import (
	"context"
	"fmt"
	"time"

	"github.com/edupulse/proctor-backend/internal/model"
	"github.com/edupulse/proctor-backend/internal/proctor"
	"github.com/google/uuid"
)

// AttemptCounter reports prior attempts for the (assessment, subject) pair.
type AttemptCounter interface {
	CountAttempts(ctx context.Context, assessmentID uuid.UUID, subjectID int) (int, error)
}

// EligibilityService enforces the availability window and the attempt limit
// before a session may start.
type EligibilityService struct {
	attempts AttemptCounter
	now      func() time.Time
}

// NewEligibilityService creates a new EligibilityService.
func NewEligibilityService(attempts AttemptCounter) *EligibilityService {
	return &EligibilityService{attempts: attempts, now: time.Now}
}

// CanStart returns nil when the subject may begin an attempt, or
// *proctor.EligibilityDeniedError naming the rule that blocked it.
func (s *EligibilityService) CanStart(ctx context.Context, assessment *model.Assessment, subjectID int) error {
	now := s.now()

	if assessment.AvailableFrom != nil && now.Before(*assessment.AvailableFrom) {
		return &proctor.EligibilityDeniedError{Reason: "assessment is not open yet"}
	}
	if assessment.AvailableUntil != nil && now.After(*assessment.AvailableUntil) {
		return &proctor.EligibilityDeniedError{Reason: "assessment window has closed"}
	}

	if assessment.MaxAttempts > 0 {
		n, err := s.attempts.CountAttempts(ctx, assessment.ID, subjectID)
		if err != nil {
			return fmt.Errorf("count attempts: %w", err)
		}
		if n >= assessment.MaxAttempts {
			return &proctor.EligibilityDeniedError{Reason: "attempt limit reached"}
		}
	}

	return nil
}
