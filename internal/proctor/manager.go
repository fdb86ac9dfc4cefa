package proctor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/edupulse/proctor-backend/internal/config"
	"github.com/edupulse/proctor-backend/internal/model"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type pairKey struct {
	assessmentID uuid.UUID
	subjectID    int
}

// Manager orchestrates all live sessions on this node: it owns the registry,
// enforces the one-active-attempt-per-(assessment,subject) invariant, and
// routes every operation into the owning session's mailbox. Cross-session
// parallelism is unbounded; the mutex below only guards the registry maps.
type Manager struct {
	cfg        config.ProctoringConfig
	log        zerolog.Logger
	deps       Collaborators
	classifier *Classifier
	aggregator *Aggregator
	finalizer  *Finalizer
	now        func() time.Time

	mu       sync.Mutex
	byID     map[uuid.UUID]*session
	byPair   map[pairKey]*session
	shutdown bool
}

// NewManager creates the session engine.
func NewManager(cfg config.ProctoringConfig, deps Collaborators, log zerolog.Logger) *Manager {
	return &Manager{
		cfg:        cfg,
		log:        log.With().Str("component", "session_manager").Logger(),
		deps:       deps,
		classifier: NewClassifier(),
		aggregator: NewAggregator(cfg),
		finalizer:  NewFinalizer(deps.Grading, deps.Notify, log),
		now:        time.Now,
		byID:       make(map[uuid.UUID]*session),
		byPair:     make(map[pairKey]*session),
	}
}

// Start creates and activates a session for the subject. It fails with
// ErrDuplicateSession while another non-terminal attempt exists for the
// same pair, and with *EligibilityDeniedError when the collaborator says no.
func (m *Manager) Start(ctx context.Context, assessmentID uuid.UUID, subjectID int) (*model.SessionInfo, error) {
	pk := pairKey{assessmentID: assessmentID, subjectID: subjectID}

	// Reserve the pair slot before any side effect. Of two racing starts
	// for the same pair, the loser fails here, before a session row is
	// written, so a double-click can never burn an attempt.
	placeholder := &session{}
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	if _, exists := m.byPair[pk]; exists {
		m.mu.Unlock()
		return nil, ErrDuplicateSession
	}
	m.byPair[pk] = placeholder
	m.mu.Unlock()

	release := func() {
		m.mu.Lock()
		if m.byPair[pk] == placeholder {
			delete(m.byPair, pk)
		}
		m.mu.Unlock()
	}

	assessment, err := m.deps.Assessments.Get(ctx, assessmentID)
	if err != nil {
		release()
		return nil, fmt.Errorf("load assessment: %w", err)
	}

	if err := m.deps.Eligibility.CanStart(ctx, assessment, subjectID); err != nil {
		release()
		return nil, err
	}

	now := m.now()
	deadline := now.Add(assessment.TimeLimit)
	sessionID := uuid.New()

	if err := m.deps.Sessions.Create(ctx, sessionID, assessmentID, subjectID, now, deadline); err != nil {
		release()
		return nil, fmt.Errorf("persist session: %w", err)
	}

	s := &session{
		id:           sessionID,
		assessment:   assessment,
		subjectID:    subjectID,
		log:          m.log.With().Str("session_id", sessionID.String()).Int("subject_id", subjectID).Logger(),
		now:          m.now,
		classifier:   m.classifier,
		aggregator:   m.aggregator,
		finalizer:    m.finalizer,
		deps:         m.deps,
		disconnGrace: m.cfg.DisconnectGrace,
		events:       make(chan command, 128),
		done:         make(chan struct{}),
		state:        model.SessionStateActive,
		startedAt:    now,
		deadlineAt:   deadline,
		lastNavAt:    now,
		answers:      make(map[uuid.UUID]*model.Answer),
		risk:         model.NewRiskState(),
		subscribers:  make(map[chan model.SessionUpdate]struct{}),
	}
	s.onTerminal = func(ended *session) {
		m.mu.Lock()
		if m.byPair[pk] == ended {
			delete(m.byPair, pk)
		}
		m.mu.Unlock()
	}

	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		release()
		return nil, ErrSessionNotFound
	}
	m.byID[sessionID] = s
	m.byPair[pk] = s
	m.mu.Unlock()

	lowTimeBefore := time.Duration(float64(assessment.TimeLimit) * m.cfg.LowTimeFraction)
	if m.cfg.LowTimeFloor > lowTimeBefore {
		lowTimeBefore = m.cfg.LowTimeFloor
	}
	s.clock = NewClock(deadline, lowTimeBefore, m.now, func(t Tick) {
		_ = s.post(tickCmd{tick: t})
	})
	if len(assessment.Sections) > 0 {
		s.clock.StartSection(0, time.Duration(assessment.Sections[0].AllocatedSeconds)*time.Second)
	}

	go s.run()

	m.log.Info().
		Str("session_id", sessionID.String()).
		Str("assessment_id", assessmentID.String()).
		Int("subject_id", subjectID).
		Time("deadline_at", deadline).
		Msg("Session started")

	return &model.SessionInfo{
		SessionID:  sessionID,
		DeadlineAt: deadline,
		Sections:   assessment.Sections,
	}, nil
}

// RecordAnswer updates one answer. Valid only while the session is
// ACTIVE or WARNED.
func (m *Manager) RecordAnswer(ctx context.Context, sessionID, questionID uuid.UUID, value json.RawMessage, flagged, bookmarked *bool) error {
	s, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	reply := make(chan error, 1)
	if err := s.post(answerCmd{questionID: questionID, value: value, flagged: flagged, bookmarked: bookmarked, reply: reply}); err != nil {
		return err
	}
	return m.await(ctx, reply)
}

// Navigate moves the current position. Out-of-range indices are rejected
// with *InvalidNavigationError carrying the valid ranges.
func (m *Manager) Navigate(ctx context.Context, sessionID uuid.UUID, sectionIndex, questionIndex int) error {
	s, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	reply := make(chan error, 1)
	if err := s.post(navigateCmd{section: sectionIndex, question: questionIndex, reply: reply}); err != nil {
		return err
	}
	return m.await(ctx, reply)
}

// IngestViolation classifies a raw detector signal, applies the decision
// policy, and returns the resulting risk state.
func (m *Manager) IngestViolation(ctx context.Context, sessionID uuid.UUID, sig model.RawSignal) (model.RiskState, error) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return model.RiskState{}, err
	}
	reply := make(chan violationReply, 1)
	if err := s.post(violationCmd{sig: sig, reply: reply}); err != nil {
		return model.RiskState{}, err
	}
	select {
	case r := <-reply:
		return r.risk, r.err
	case <-ctx.Done():
		return model.RiskState{}, ctx.Err()
	}
}

// Submit finalizes manually. Idempotent: repeat calls return the same
// record.
func (m *Manager) Submit(ctx context.Context, sessionID uuid.UUID) (*model.SubmissionRecord, error) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	reply := make(chan submitReply, 1)
	if err := s.post(submitCmd{reply: reply}); err != nil {
		return nil, err
	}
	select {
	case r := <-reply:
		return r.record, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Leave begins the disconnect grace window for an explicit client leave.
func (m *Manager) Leave(ctx context.Context, sessionID uuid.UUID) error {
	s, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	reply := make(chan error, 1)
	if err := s.post(leaveCmd{reply: reply}); err != nil {
		return err
	}
	return m.await(ctx, reply)
}

// Snapshot returns a point-in-time copy of the session.
func (m *Manager) Snapshot(ctx context.Context, sessionID uuid.UUID) (model.SessionSnapshot, error) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return model.SessionSnapshot{}, err
	}
	reply := make(chan model.SessionSnapshot, 1)
	if err := s.post(snapshotCmd{reply: reply}); err != nil {
		return model.SessionSnapshot{}, err
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return model.SessionSnapshot{}, ctx.Err()
	}
}

// Subscribe registers a live update channel for the session. The channel is
// closed when the session turns terminal or the caller unsubscribes.
func (m *Manager) Subscribe(ctx context.Context, sessionID uuid.UUID) (chan model.SessionUpdate, error) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	ch := make(chan model.SessionUpdate, 16)
	reply := make(chan struct{}, 1)
	if err := s.post(subscribeCmd{ch: ch, reply: reply}); err != nil {
		return nil, err
	}
	select {
	case <-reply:
		return ch, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Unsubscribe removes a live update channel.
func (m *Manager) Unsubscribe(sessionID uuid.UUID, ch chan model.SessionUpdate) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return
	}
	reply := make(chan struct{}, 1)
	if err := s.post(unsubscribeCmd{ch: ch, reply: reply}); err != nil {
		return
	}
	<-reply
}

// ActiveSessions reports how many sessions are registered (terminal ones
// linger for idempotent reads until shutdown).
func (m *Manager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byPair)
}

// Shutdown stops every session goroutine. In-flight finalizations have
// already dispatched their side effects by the time this returns.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shutdown {
		return
	}
	m.shutdown = true
	for _, s := range m.byID {
		close(s.done)
	}
}

func (m *Manager) lookup(sessionID uuid.UUID) (*session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (m *Manager) await(ctx context.Context, reply chan error) error {
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
