package proctor

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/edupulse/proctor-backend/internal/model"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// fakeDeps satisfies every collaborator port in memory.
type fakeDeps struct {
	mu         sync.Mutex
	assessment *model.Assessment
	eligErr    error
	createErr  error
	createGate chan struct{} // when set, Create blocks until closed
	appended   []model.ViolationEvent
	graded     []*model.SubmissionRecord
	notices    []string
	published  []model.SessionUpdate
	created    int
}

func (f *fakeDeps) Get(ctx context.Context, assessmentID uuid.UUID) (*model.Assessment, error) {
	return f.assessment, nil
}

func (f *fakeDeps) CanStart(ctx context.Context, assessment *model.Assessment, subjectID int) error {
	return f.eligErr
}

func (f *fakeDeps) Create(ctx context.Context, sessionID, assessmentID uuid.UUID, subjectID int, startedAt, deadlineAt time.Time) error {
	if f.createGate != nil {
		<-f.createGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.created++
	return nil
}

func (f *fakeDeps) Append(sessionID uuid.UUID, ev model.ViolationEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appended = append(f.appended, ev)
}

func (f *fakeDeps) Grade(rec *model.SubmissionRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.graded = append(f.graded, rec)
}

func (f *fakeDeps) Notify(subjectID int, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices = append(f.notices, message)
}

func (f *fakeDeps) Publish(assessmentID uuid.UUID, upd model.SessionUpdate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, upd)
}

func (f *fakeDeps) gradedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.graded)
}

func testAssessment(timeLimit time.Duration) *model.Assessment {
	a := &model.Assessment{
		ID:        uuid.New(),
		Title:     "Algebra Midterm",
		TimeLimit: timeLimit,
	}
	for i := 0; i < 3; i++ {
		sec := model.Section{ID: uuid.New(), Title: "Part"}
		for j := 0; j < 2; j++ {
			sec.Questions = append(sec.Questions, model.Question{
				ID:     uuid.New(),
				Type:   model.QuestionSingleChoice,
				Prompt: "pick one",
				Points: 1,
			})
		}
		a.Sections = append(a.Sections, sec)
	}
	return a
}

func newTestManager(t *testing.T, deps *fakeDeps) *Manager {
	t.Helper()
	m := NewManager(testProctoringConfig(), Collaborators{
		Assessments: deps,
		Eligibility: deps,
		Sessions:    deps,
		Audit:       deps,
		Grading:     deps,
		Notify:      deps,
		Monitor:     deps,
	}, zerolog.Nop())
	t.Cleanup(m.Shutdown)
	return m
}

func waitForState(t *testing.T, m *Manager, sessionID uuid.UUID, want model.SessionState) model.SessionSnapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := m.Snapshot(context.Background(), sessionID)
		if err != nil {
			t.Fatalf("Snapshot: %v", err)
		}
		if snap.State == want {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	snap, _ := m.Snapshot(context.Background(), sessionID)
	t.Fatalf("session never reached %s, last state %s", want, snap.State)
	return model.SessionSnapshot{}
}

func TestStartAndSnapshot(t *testing.T) {
	deps := &fakeDeps{assessment: testAssessment(time.Hour)}
	m := newTestManager(t, deps)

	info, err := m.Start(context.Background(), deps.assessment.ID, 7)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(info.Sections) != 3 {
		t.Errorf("sections = %d, want 3", len(info.Sections))
	}

	snap, err := m.Snapshot(context.Background(), info.SessionID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.State != model.SessionStateActive {
		t.Errorf("state = %s, want ACTIVE", snap.State)
	}
	if snap.SubjectID != 7 {
		t.Errorf("subject = %d, want 7", snap.SubjectID)
	}
	if snap.SecondsRemaining <= 0 {
		t.Errorf("seconds remaining = %f, want > 0", snap.SecondsRemaining)
	}
	if snap.Risk.EscalationLevel != model.EscalationNormal {
		t.Errorf("risk level = %s, want NORMAL", snap.Risk.EscalationLevel)
	}
}

func TestStartDuplicateRejected(t *testing.T) {
	deps := &fakeDeps{assessment: testAssessment(time.Hour)}
	m := newTestManager(t, deps)

	if _, err := m.Start(context.Background(), deps.assessment.ID, 7); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	_, err := m.Start(context.Background(), deps.assessment.ID, 7)
	if !errors.Is(err, ErrDuplicateSession) {
		t.Fatalf("second Start err = %v, want ErrDuplicateSession", err)
	}

	// A different subject on the same assessment is fine.
	if _, err := m.Start(context.Background(), deps.assessment.ID, 8); err != nil {
		t.Fatalf("other subject Start: %v", err)
	}
}

func TestStartConcurrentDuplicatePersistsOneRow(t *testing.T) {
	deps := &fakeDeps{
		assessment: testAssessment(time.Hour),
		createGate: make(chan struct{}),
	}
	m := newTestManager(t, deps)

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := m.Start(context.Background(), deps.assessment.ID, 7)
			errs <- err
		}()
	}

	// Hold the winner inside the store call so the loser races against a
	// not-yet-persisted start, then let it through.
	time.Sleep(20 * time.Millisecond)
	close(deps.createGate)

	var started, duplicates int
	for i := 0; i < 2; i++ {
		switch err := <-errs; {
		case err == nil:
			started++
		case errors.Is(err, ErrDuplicateSession):
			duplicates++
		default:
			t.Fatalf("unexpected Start error: %v", err)
		}
	}
	if started != 1 || duplicates != 1 {
		t.Fatalf("started = %d, duplicates = %d, want 1 and 1", started, duplicates)
	}

	deps.mu.Lock()
	created := deps.created
	deps.mu.Unlock()
	if created != 1 {
		t.Fatalf("persisted session rows = %d, want 1", created)
	}
}

func TestStartEligibilityDenied(t *testing.T) {
	deps := &fakeDeps{
		assessment: testAssessment(time.Hour),
		eligErr:    &EligibilityDeniedError{Reason: "attempt limit reached"},
	}
	m := newTestManager(t, deps)

	_, err := m.Start(context.Background(), deps.assessment.ID, 7)
	var denied *EligibilityDeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("err = %v, want *EligibilityDeniedError", err)
	}
	if deps.created != 0 {
		t.Error("session row created despite denial")
	}
}

func TestStartStoreFailureDoesNotRegister(t *testing.T) {
	deps := &fakeDeps{
		assessment: testAssessment(time.Hour),
		createErr:  errors.New("db down"),
	}
	m := newTestManager(t, deps)

	if _, err := m.Start(context.Background(), deps.assessment.ID, 7); err == nil {
		t.Fatal("Start should fail when the store does")
	}

	// The failed start must not hold the pair slot.
	deps.mu.Lock()
	deps.createErr = nil
	deps.mu.Unlock()
	if _, err := m.Start(context.Background(), deps.assessment.ID, 7); err != nil {
		t.Fatalf("retry Start: %v", err)
	}
}

func TestRecordAnswer(t *testing.T) {
	deps := &fakeDeps{assessment: testAssessment(time.Hour)}
	m := newTestManager(t, deps)

	info, _ := m.Start(context.Background(), deps.assessment.ID, 7)
	qID := deps.assessment.Sections[0].Questions[0].ID

	flagged := true
	err := m.RecordAnswer(context.Background(), info.SessionID, qID, json.RawMessage(`"b"`), &flagged, nil)
	if err != nil {
		t.Fatalf("RecordAnswer: %v", err)
	}

	snap, _ := m.Snapshot(context.Background(), info.SessionID)
	ans, ok := snap.Answers[qID]
	if !ok {
		t.Fatal("answer missing from snapshot")
	}
	if string(ans.Value) != `"b"` {
		t.Errorf("value = %s, want \"b\"", ans.Value)
	}
	if !ans.Flagged {
		t.Error("flagged not applied")
	}

	// Overwrite keeps the single-answer-per-question shape.
	if err := m.RecordAnswer(context.Background(), info.SessionID, qID, json.RawMessage(`"c"`), nil, nil); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	snap, _ = m.Snapshot(context.Background(), info.SessionID)
	if len(snap.Answers) != 1 {
		t.Errorf("answers = %d, want 1", len(snap.Answers))
	}
	if string(snap.Answers[qID].Value) != `"c"` {
		t.Errorf("value = %s, want \"c\"", snap.Answers[qID].Value)
	}
	if !snap.Answers[qID].Flagged {
		t.Error("flag lost on overwrite without flag field")
	}
}

func TestRecordAnswerUnknownQuestion(t *testing.T) {
	deps := &fakeDeps{assessment: testAssessment(time.Hour)}
	m := newTestManager(t, deps)

	info, _ := m.Start(context.Background(), deps.assessment.ID, 7)
	err := m.RecordAnswer(context.Background(), info.SessionID, uuid.New(), json.RawMessage(`"x"`), nil, nil)
	if !errors.Is(err, ErrUnknownQuestion) {
		t.Fatalf("err = %v, want ErrUnknownQuestion", err)
	}
}

func TestNavigateOutOfRange(t *testing.T) {
	deps := &fakeDeps{assessment: testAssessment(time.Hour)}
	m := newTestManager(t, deps)
	info, _ := m.Start(context.Background(), deps.assessment.ID, 7)

	err := m.Navigate(context.Background(), info.SessionID, 5, 0)
	var navErr *InvalidNavigationError
	if !errors.As(err, &navErr) {
		t.Fatalf("err = %v, want *InvalidNavigationError", err)
	}
	if navErr.MaxSection != 2 {
		t.Errorf("max section = %d, want 2", navErr.MaxSection)
	}

	err = m.Navigate(context.Background(), info.SessionID, 1, 9)
	if !errors.As(err, &navErr) {
		t.Fatalf("err = %v, want *InvalidNavigationError", err)
	}
	if navErr.MaxQuestion != 1 {
		t.Errorf("max question = %d, want 1", navErr.MaxQuestion)
	}

	// A rejected navigation must not move the pointer.
	snap, _ := m.Snapshot(context.Background(), info.SessionID)
	if snap.CurrentSectionIndex != 0 || snap.CurrentQuestionIndex != 0 {
		t.Errorf("position moved to %d/%d after invalid navigation", snap.CurrentSectionIndex, snap.CurrentQuestionIndex)
	}
}

func TestRiskThresholdTerminates(t *testing.T) {
	deps := &fakeDeps{assessment: testAssessment(time.Hour)}
	m := newTestManager(t, deps)
	info, _ := m.Start(context.Background(), deps.assessment.ID, 7)

	risk, err := m.IngestViolation(context.Background(), info.SessionID, model.RawSignal{Type: "tab_switch"})
	if err != nil {
		t.Fatalf("first violation: %v", err)
	}
	if risk.EscalationLevel != model.EscalationWarned {
		t.Fatalf("level after first = %s, want WARNED", risk.EscalationLevel)
	}

	snap, _ := m.Snapshot(context.Background(), info.SessionID)
	if snap.State != model.SessionStateWarned {
		t.Fatalf("state = %s, want WARNED", snap.State)
	}

	// Answers still land while WARNED.
	qID := deps.assessment.Sections[0].Questions[0].ID
	if err := m.RecordAnswer(context.Background(), info.SessionID, qID, json.RawMessage(`"a"`), nil, nil); err != nil {
		t.Fatalf("answer while WARNED: %v", err)
	}

	risk, err = m.IngestViolation(context.Background(), info.SessionID, model.RawSignal{Type: "multiple_faces"})
	if err != nil {
		t.Fatalf("second violation: %v", err)
	}
	if risk.EscalationLevel != model.EscalationCritical {
		t.Fatalf("level after second = %s, want CRITICAL_PENDING_SUBMIT", risk.EscalationLevel)
	}

	snap = waitForState(t, m, info.SessionID, model.SessionStateTerminated)
	if snap.Risk.WeightedScore != 2.0 {
		t.Errorf("score = %f, want 2.0", snap.Risk.WeightedScore)
	}

	// Terminal session rejects further writes.
	err = m.RecordAnswer(context.Background(), info.SessionID, qID, json.RawMessage(`"b"`), nil, nil)
	if !errors.Is(err, ErrSessionNotActive) {
		t.Fatalf("late answer err = %v, want ErrSessionNotActive", err)
	}

	// Repeat submit is idempotent and reports the forced termination.
	rec, err := m.Submit(context.Background(), info.SessionID)
	if err != nil {
		t.Fatalf("Submit after termination: %v", err)
	}
	if rec.TerminationReason != model.ReasonRiskThreshold {
		t.Errorf("reason = %s, want risk-threshold", rec.TerminationReason)
	}
	if len(rec.Violations) != 2 {
		t.Errorf("violations in record = %d, want 2", len(rec.Violations))
	}
	if deps.gradedCount() != 1 {
		t.Errorf("grading dispatched %d times, want 1", deps.gradedCount())
	}

	// The pair slot is free again for a fresh attempt.
	if _, err := m.Start(context.Background(), deps.assessment.ID, 7); err != nil {
		t.Fatalf("restart after termination: %v", err)
	}
}

func TestUnknownSignalDoesNotTouchRisk(t *testing.T) {
	deps := &fakeDeps{assessment: testAssessment(time.Hour)}
	m := newTestManager(t, deps)
	info, _ := m.Start(context.Background(), deps.assessment.ID, 7)

	_, err := m.IngestViolation(context.Background(), info.SessionID, model.RawSignal{Type: "nonsense"})
	var sigErr *UnknownSignalError
	if !errors.As(err, &sigErr) {
		t.Fatalf("err = %v, want *UnknownSignalError", err)
	}

	snap, _ := m.Snapshot(context.Background(), info.SessionID)
	if snap.Risk.WeightedScore != 0 {
		t.Errorf("score = %f, want 0 after dropped signal", snap.Risk.WeightedScore)
	}
	if len(deps.appended) != 0 {
		t.Error("dropped signal reached the audit sink")
	}
}

func TestManualSubmitIdempotent(t *testing.T) {
	deps := &fakeDeps{assessment: testAssessment(time.Hour)}
	m := newTestManager(t, deps)
	info, _ := m.Start(context.Background(), deps.assessment.ID, 7)

	first, err := m.Submit(context.Background(), info.SessionID)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if first.TerminationReason != model.ReasonManual {
		t.Errorf("reason = %s, want manual", first.TerminationReason)
	}

	second, err := m.Submit(context.Background(), info.SessionID)
	if err != nil {
		t.Fatalf("repeat Submit: %v", err)
	}
	if !second.SubmittedAt.Equal(first.SubmittedAt) {
		t.Error("repeat submit produced a different record")
	}
	if deps.gradedCount() != 1 {
		t.Errorf("grading dispatched %d times, want 1", deps.gradedCount())
	}

	snap, _ := m.Snapshot(context.Background(), info.SessionID)
	if snap.State != model.SessionStateSubmitted {
		t.Errorf("state = %s, want SUBMITTED", snap.State)
	}
	if snap.SecondsRemaining != 0 {
		t.Errorf("seconds remaining = %f, want 0 once terminal", snap.SecondsRemaining)
	}
}

func TestConcurrentSubmitSingleRecord(t *testing.T) {
	deps := &fakeDeps{assessment: testAssessment(time.Hour)}
	m := newTestManager(t, deps)
	info, _ := m.Start(context.Background(), deps.assessment.ID, 7)

	const n = 16
	records := make([]*model.SubmissionRecord, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, err := m.Submit(context.Background(), info.SessionID)
			if err != nil {
				t.Errorf("Submit %d: %v", i, err)
				return
			}
			records[i] = rec
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if records[i] == nil || records[0] == nil {
			t.Fatal("missing record")
		}
		if !records[i].SubmittedAt.Equal(records[0].SubmittedAt) {
			t.Fatal("concurrent submits produced different records")
		}
	}
	if deps.gradedCount() != 1 {
		t.Errorf("grading dispatched %d times, want exactly 1", deps.gradedCount())
	}
}

func TestDeadlineAutoSubmits(t *testing.T) {
	deps := &fakeDeps{assessment: testAssessment(60 * time.Millisecond)}
	m := newTestManager(t, deps)
	info, _ := m.Start(context.Background(), deps.assessment.ID, 7)

	snap := waitForState(t, m, info.SessionID, model.SessionStateSubmitted)
	if snap.SecondsRemaining != 0 {
		t.Errorf("seconds remaining = %f, want 0", snap.SecondsRemaining)
	}

	rec, err := m.Submit(context.Background(), info.SessionID)
	if err != nil {
		t.Fatalf("Submit after expiry: %v", err)
	}
	if rec.TerminationReason != model.ReasonTimerExpired {
		t.Errorf("reason = %s, want timer-expired", rec.TerminationReason)
	}
}

func TestDoubleDeadlineTickFinalizesOnce(t *testing.T) {
	deps := &fakeDeps{assessment: testAssessment(time.Hour)}
	m := newTestManager(t, deps)
	info, _ := m.Start(context.Background(), deps.assessment.ID, 7)

	s, err := m.lookup(info.SessionID)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}

	// A timer can fire twice around Stop; the second delivery must be a
	// no-op, not an error or a second record.
	for i := 0; i < 2; i++ {
		if err := s.post(tickCmd{tick: Tick{Kind: TickDeadline}}); err != nil {
			t.Fatalf("post deadline tick %d: %v", i, err)
		}
	}

	waitForState(t, m, info.SessionID, model.SessionStateSubmitted)

	rec, err := m.Submit(context.Background(), info.SessionID)
	if err != nil {
		t.Fatalf("Submit after double tick: %v", err)
	}
	if rec.TerminationReason != model.ReasonTimerExpired {
		t.Errorf("reason = %s, want timer-expired", rec.TerminationReason)
	}
	if deps.gradedCount() != 1 {
		t.Errorf("grading dispatched %d times, want exactly 1", deps.gradedCount())
	}
}

func TestTimeSpentFlushes(t *testing.T) {
	deps := &fakeDeps{assessment: testAssessment(time.Hour)}
	m := newTestManager(t, deps)

	var mu sync.Mutex
	current := time.Now()
	m.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return current
	}
	advance := func(d time.Duration) {
		mu.Lock()
		current = current.Add(d)
		mu.Unlock()
	}

	info, _ := m.Start(context.Background(), deps.assessment.ID, 7)
	q0 := deps.assessment.Sections[0].Questions[0].ID
	q1 := deps.assessment.Sections[0].Questions[1].ID

	advance(1500 * time.Millisecond)
	if err := m.Navigate(context.Background(), info.SessionID, 0, 1); err != nil {
		t.Fatalf("Navigate: %v", err)
	}

	advance(700 * time.Millisecond)
	rec, err := m.Submit(context.Background(), info.SessionID)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if got := rec.Answers[q0].TimeSpentMs; got != 1500 {
		t.Errorf("q0 time = %dms, want 1500", got)
	}
	if got := rec.Answers[q1].TimeSpentMs; got != 700 {
		t.Errorf("q1 time = %dms, want 700", got)
	}
}

func TestLeaveGraceTerminates(t *testing.T) {
	cfg := testProctoringConfig()
	cfg.DisconnectGrace = 40 * time.Millisecond

	deps := &fakeDeps{assessment: testAssessment(time.Hour)}
	m := NewManager(cfg, Collaborators{
		Assessments: deps, Eligibility: deps, Sessions: deps,
		Audit: deps, Grading: deps, Notify: deps, Monitor: deps,
	}, zerolog.Nop())
	defer m.Shutdown()

	info, _ := m.Start(context.Background(), deps.assessment.ID, 7)
	if err := m.Leave(context.Background(), info.SessionID); err != nil {
		t.Fatalf("Leave: %v", err)
	}

	snap := waitForState(t, m, info.SessionID, model.SessionStateSubmitted)
	_ = snap

	rec, err := m.Submit(context.Background(), info.SessionID)
	if err != nil {
		t.Fatalf("Submit after grace: %v", err)
	}
	if rec.TerminationReason != model.ReasonDisconnectTimeout {
		t.Errorf("reason = %s, want disconnect-timeout", rec.TerminationReason)
	}
}

func TestActivityCancelsLeave(t *testing.T) {
	cfg := testProctoringConfig()
	cfg.DisconnectGrace = 40 * time.Millisecond

	deps := &fakeDeps{assessment: testAssessment(time.Hour)}
	m := NewManager(cfg, Collaborators{
		Assessments: deps, Eligibility: deps, Sessions: deps,
		Audit: deps, Grading: deps, Notify: deps, Monitor: deps,
	}, zerolog.Nop())
	defer m.Shutdown()

	info, _ := m.Start(context.Background(), deps.assessment.ID, 7)
	if err := m.Leave(context.Background(), info.SessionID); err != nil {
		t.Fatalf("Leave: %v", err)
	}

	// The client came back before the grace window ran out.
	qID := deps.assessment.Sections[0].Questions[0].ID
	if err := m.RecordAnswer(context.Background(), info.SessionID, qID, json.RawMessage(`"a"`), nil, nil); err != nil {
		t.Fatalf("RecordAnswer: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	snap, _ := m.Snapshot(context.Background(), info.SessionID)
	if snap.State.Terminal() {
		t.Fatalf("session ended despite renewed activity, state %s", snap.State)
	}
}

func TestSubscribeStreamsAndCloses(t *testing.T) {
	deps := &fakeDeps{assessment: testAssessment(time.Hour)}
	m := newTestManager(t, deps)
	info, _ := m.Start(context.Background(), deps.assessment.ID, 7)

	ch, err := m.Subscribe(context.Background(), info.SessionID)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	// Initial state arrives immediately.
	select {
	case upd := <-ch:
		if upd.State != model.SessionStateActive {
			t.Errorf("initial state = %s, want ACTIVE", upd.State)
		}
	case <-time.After(time.Second):
		t.Fatal("no initial update")
	}

	if _, err := m.IngestViolation(context.Background(), info.SessionID, model.RawSignal{Type: "copy_paste"}); err != nil {
		t.Fatalf("IngestViolation: %v", err)
	}
	select {
	case upd := <-ch:
		if upd.WeightedScore != 0.5 {
			t.Errorf("score in update = %f, want 0.5", upd.WeightedScore)
		}
	case <-time.After(time.Second):
		t.Fatal("no violation update")
	}

	if _, err := m.Submit(context.Background(), info.SessionID); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// The channel drains the final update and then closes.
	deadline := time.After(time.Second)
	for {
		select {
		case upd, ok := <-ch:
			if !ok {
				return
			}
			_ = upd
		case <-deadline:
			t.Fatal("channel never closed after finalization")
		}
	}
}

func TestSnapshotUnknownSession(t *testing.T) {
	deps := &fakeDeps{assessment: testAssessment(time.Hour)}
	m := newTestManager(t, deps)

	_, err := m.Snapshot(context.Background(), uuid.New())
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}
