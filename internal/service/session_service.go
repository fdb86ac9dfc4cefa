package service

import (
	"context"
	"encoding/json"

	"github.com/edupulse/proctor-backend/internal/model"
	"github.com/edupulse/proctor-backend/internal/proctor"
	"github.com/google/uuid"
)

// SessionService fronts the session engine for the transport layer. It adds
// the ownership check (a subject can only touch their own session) on top of
// the engine's operations.
type SessionService struct {
	manager *proctor.Manager
}

// NewSessionService creates a new SessionService.
func NewSessionService(manager *proctor.Manager) *SessionService {
	return &SessionService{manager: manager}
}

// Start begins a new attempt for the subject.
func (s *SessionService) Start(ctx context.Context, assessmentID uuid.UUID, subjectID int) (*model.SessionInfo, error) {
	return s.manager.Start(ctx, assessmentID, subjectID)
}

// VerifyOwner confirms the session exists and belongs to the subject.
func (s *SessionService) VerifyOwner(ctx context.Context, sessionID uuid.UUID, subjectID int) error {
	snap, err := s.manager.Snapshot(ctx, sessionID)
	if err != nil {
		return err
	}
	if snap.SubjectID != subjectID {
		return proctor.ErrSessionNotFound
	}
	return nil
}

// RecordAnswer stores or updates one answer.
func (s *SessionService) RecordAnswer(ctx context.Context, sessionID uuid.UUID, subjectID int, questionID uuid.UUID, value json.RawMessage, flagged, bookmarked *bool) error {
	if err := s.VerifyOwner(ctx, sessionID, subjectID); err != nil {
		return err
	}
	return s.manager.RecordAnswer(ctx, sessionID, questionID, value, flagged, bookmarked)
}

// Navigate moves the subject's current position.
func (s *SessionService) Navigate(ctx context.Context, sessionID uuid.UUID, subjectID, sectionIndex, questionIndex int) error {
	if err := s.VerifyOwner(ctx, sessionID, subjectID); err != nil {
		return err
	}
	return s.manager.Navigate(ctx, sessionID, sectionIndex, questionIndex)
}

// ReportViolation feeds one raw detector signal into the engine.
func (s *SessionService) ReportViolation(ctx context.Context, sessionID uuid.UUID, subjectID int, sig model.RawSignal) (model.RiskState, error) {
	if err := s.VerifyOwner(ctx, sessionID, subjectID); err != nil {
		return model.RiskState{}, err
	}
	return s.manager.IngestViolation(ctx, sessionID, sig)
}

// Submit finalizes the session manually.
func (s *SessionService) Submit(ctx context.Context, sessionID uuid.UUID, subjectID int) (*model.SubmissionRecord, error) {
	if err := s.VerifyOwner(ctx, sessionID, subjectID); err != nil {
		return nil, err
	}
	return s.manager.Submit(ctx, sessionID)
}

// Leave starts the disconnect grace window after an explicit client leave.
func (s *SessionService) Leave(ctx context.Context, sessionID uuid.UUID, subjectID int) error {
	if err := s.VerifyOwner(ctx, sessionID, subjectID); err != nil {
		return err
	}
	return s.manager.Leave(ctx, sessionID)
}

// Snapshot returns the current state of the session.
func (s *SessionService) Snapshot(ctx context.Context, sessionID uuid.UUID, subjectID int) (model.SessionSnapshot, error) {
	snap, err := s.manager.Snapshot(ctx, sessionID)
	if err != nil {
		return model.SessionSnapshot{}, err
	}
	if snap.SubjectID != subjectID {
		return model.SessionSnapshot{}, proctor.ErrSessionNotFound
	}
	return snap, nil
}

// Subscribe registers a live update stream for the session.
func (s *SessionService) Subscribe(ctx context.Context, sessionID uuid.UUID, subjectID int) (chan model.SessionUpdate, error) {
	if err := s.VerifyOwner(ctx, sessionID, subjectID); err != nil {
		return nil, err
	}
	return s.manager.Subscribe(ctx, sessionID)
}

// Unsubscribe removes a live update stream.
func (s *SessionService) Unsubscribe(sessionID uuid.UUID, ch chan model.SessionUpdate) {
	s.manager.Unsubscribe(sessionID, ch)
}
