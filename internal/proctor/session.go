package proctor

import (
	"encoding/json"
	"time"

	"github.com/edupulse/proctor-backend/internal/model"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// session is one proctored attempt. All mutable state below is owned by a
// single goroutine (run); answers, navigation, violations, clock ticks and
// finalize triggers are commands delivered through one mailbox and handled
// in arrival order. Nothing here takes a lock and nothing blocks on I/O:
// every collaborator call on the hot path is fire-and-forget.
type session struct {
	id           uuid.UUID
	assessment   *model.Assessment
	subjectID    int
	log          zerolog.Logger
	now          func() time.Time
	classifier   *Classifier
	aggregator   *Aggregator
	finalizer    *Finalizer
	deps         Collaborators
	clock        *Clock
	disconnGrace time.Duration
	onTerminal   func(*session)

	events chan command
	done   chan struct{}

	state       model.SessionState
	startedAt   time.Time
	deadlineAt  time.Time
	curSection  int
	curQuestion int
	lastNavAt   time.Time
	answers     map[uuid.UUID]*model.Answer
	violations  []model.ViolationEvent
	risk        model.RiskState
	record      *model.SubmissionRecord
	subscribers map[chan model.SessionUpdate]struct{}

	pendingLeave bool
	leaveSeq     int
	graceTimer   *time.Timer
}

// ─── Mailbox commands ───────────────────────────────────────────────

type command interface{}

type answerCmd struct {
	questionID uuid.UUID
	value      json.RawMessage
	flagged    *bool
	bookmarked *bool
	reply      chan error
}

type navigateCmd struct {
	section  int
	question int
	reply    chan error
}

type violationCmd struct {
	sig   model.RawSignal
	reply chan violationReply
}

type violationReply struct {
	risk model.RiskState
	err  error
}

type submitCmd struct {
	reply chan submitReply
}

type submitReply struct {
	record *model.SubmissionRecord
	err    error
}

type snapshotCmd struct {
	reply chan model.SessionSnapshot
}

type subscribeCmd struct {
	ch    chan model.SessionUpdate
	reply chan struct{}
}

type unsubscribeCmd struct {
	ch    chan model.SessionUpdate
	reply chan struct{}
}

type leaveCmd struct {
	reply chan error
}

type graceExpiredCmd struct {
	seq int
}

type tickCmd struct {
	tick Tick
}

// post delivers a command unless the engine is shutting down.
func (s *session) post(cmd command) error {
	select {
	case s.events <- cmd:
		return nil
	case <-s.done:
		return ErrSessionNotFound
	}
}

// run is the session event loop. It keeps serving reads (snapshot, repeat
// submit) after the session turns terminal so idempotent callers observe
// the finalized record; the manager closes done at engine shutdown.
func (s *session) run() {
	for {
		select {
		case <-s.done:
			s.clock.Stop()
			if s.graceTimer != nil {
				s.graceTimer.Stop()
			}
			return
		case cmd := <-s.events:
			s.handle(cmd)
		}
	}
}

func (s *session) handle(cmd command) {
	switch c := cmd.(type) {
	case answerCmd:
		c.reply <- s.handleAnswer(c)
	case navigateCmd:
		c.reply <- s.handleNavigate(c)
	case violationCmd:
		c.reply <- s.handleViolation(c)
	case submitCmd:
		c.reply <- s.handleSubmit()
	case snapshotCmd:
		c.reply <- s.snapshot()
	case subscribeCmd:
		s.handleSubscribe(c.ch)
		c.reply <- struct{}{}
	case unsubscribeCmd:
		if _, ok := s.subscribers[c.ch]; ok {
			delete(s.subscribers, c.ch)
			close(c.ch)
		}
		c.reply <- struct{}{}
	case leaveCmd:
		c.reply <- s.handleLeave()
	case graceExpiredCmd:
		s.handleGraceExpired(c.seq)
	case tickCmd:
		s.handleTick(c.tick)
	}
}

// ─── Answer / navigation capture ────────────────────────────────────

func (s *session) handleAnswer(c answerCmd) error {
	if !s.state.Writable() {
		s.log.Debug().Str("question_id", c.questionID.String()).Msg("Late answer rejected")
		return ErrSessionNotActive
	}

	q := s.assessment.FindQuestion(c.questionID)
	if q == nil {
		return ErrUnknownQuestion
	}

	now := s.now()
	s.markActivity()

	// Time accrues only while the question is the current one.
	if cq := s.currentQuestion(); cq != nil && cq.ID == c.questionID {
		s.flushElapsed(now)
	}

	ans := s.ensureAnswer(c.questionID)
	ans.Value = c.value
	if c.flagged != nil {
		ans.Flagged = *c.flagged
	}
	if c.bookmarked != nil {
		ans.Bookmarked = *c.bookmarked
	}
	ans.LastTouchedAt = now

	return nil
}

func (s *session) handleNavigate(c navigateCmd) error {
	if !s.state.Writable() {
		return ErrSessionNotActive
	}

	if c.section < 0 || c.section >= len(s.assessment.Sections) {
		return &InvalidNavigationError{
			SectionIndex:  c.section,
			QuestionIndex: c.question,
			MaxSection:    len(s.assessment.Sections) - 1,
			MaxQuestion:   -1,
		}
	}
	target := &s.assessment.Sections[c.section]
	if c.question < 0 || c.question >= len(target.Questions) {
		return &InvalidNavigationError{
			SectionIndex:  c.section,
			QuestionIndex: c.question,
			MaxSection:    len(s.assessment.Sections) - 1,
			MaxQuestion:   len(target.Questions) - 1,
		}
	}

	now := s.now()
	s.markActivity()

	// Flush happens atomically with the pointer move: either both apply
	// or (on the rejections above) neither does.
	s.flushElapsed(now)

	sectionChanged := c.section != s.curSection
	s.curSection = c.section
	s.curQuestion = c.question

	if sectionChanged {
		budget := time.Duration(target.AllocatedSeconds) * time.Second
		s.clock.StartSection(c.section, budget)
	}

	return nil
}

// flushElapsed moves wall time since the last navigation event onto the
// current question. lastNavAt always advances, so no interval is ever
// counted twice.
func (s *session) flushElapsed(now time.Time) {
	q := s.currentQuestion()
	if q != nil {
		if elapsed := now.Sub(s.lastNavAt); elapsed > 0 {
			ans := s.ensureAnswer(q.ID)
			ans.TimeSpentMs += elapsed.Milliseconds()
		}
	}
	s.lastNavAt = now
}

func (s *session) currentQuestion() *model.Question {
	if s.curSection >= len(s.assessment.Sections) {
		return nil
	}
	sec := &s.assessment.Sections[s.curSection]
	if s.curQuestion >= len(sec.Questions) {
		return nil
	}
	return &sec.Questions[s.curQuestion]
}

func (s *session) ensureAnswer(questionID uuid.UUID) *model.Answer {
	if ans, ok := s.answers[questionID]; ok {
		return ans
	}
	ans := &model.Answer{QuestionID: questionID}
	s.answers[questionID] = ans
	return ans
}

// ─── Violation ingestion and decision policy ────────────────────────

func (s *session) handleViolation(c violationCmd) violationReply {
	if !s.state.Writable() {
		s.log.Warn().Str("type", c.sig.Type).Msg("Late violation dropped")
		return violationReply{err: ErrSessionNotActive}
	}

	ev, err := s.classifier.Classify(s.id, c.sig, s.now())
	if err != nil {
		s.log.Warn().Err(err).Msg("Discarding unclassifiable signal")
		return violationReply{err: err}
	}

	s.markActivity()
	s.violations = append(s.violations, ev)
	s.risk = s.aggregator.Apply(s.risk, ev)
	s.deps.Audit.Append(s.id, ev)

	s.log.Info().
		Str("type", string(ev.Type)).
		Str("severity", string(ev.Severity)).
		Float64("score", s.risk.WeightedScore).
		Msg("Violation recorded")

	switch {
	case s.aggregator.ShouldTerminate(s.risk):
		s.finalize(model.ReasonRiskThreshold)
	case s.risk.EscalationLevel == model.EscalationWarned && s.state == model.SessionStateActive:
		s.state = model.SessionStateWarned
		s.deps.Notify.Notify(s.subjectID, "Integrity warning: further violations will end your session.")
		s.publish(false)
	default:
		s.publish(false)
	}

	return violationReply{risk: s.risk.Clone()}
}

// ─── Clock ticks ────────────────────────────────────────────────────

func (s *session) handleTick(t Tick) {
	switch t.Kind {
	case TickDeadline:
		// Idempotent: a double fire after the session left ACTIVE/WARNED
		// is a no-op, not an error.
		if s.state.Writable() {
			s.finalize(model.ReasonTimerExpired)
		}
	case TickLowTime:
		if s.state.Writable() {
			s.deps.Notify.Notify(s.subjectID, "Time is running low.")
			s.publish(true)
		}
	case TickSectionDeadline:
		if !s.state.Writable() || t.SectionIndex != s.curSection {
			return
		}
		s.flushElapsed(s.now())
		if s.curSection+1 < len(s.assessment.Sections) {
			s.curSection++
			s.curQuestion = 0
			next := &s.assessment.Sections[s.curSection]
			s.clock.StartSection(s.curSection, time.Duration(next.AllocatedSeconds)*time.Second)
			s.publish(false)
		} else {
			s.finalize(model.ReasonTimerExpired)
		}
	}
}

// ─── Submission ─────────────────────────────────────────────────────

func (s *session) handleSubmit() submitReply {
	if s.record != nil {
		return submitReply{record: s.record}
	}
	if !s.state.Writable() {
		return submitReply{err: ErrSessionNotActive}
	}
	return submitReply{record: s.finalize(model.ReasonManual)}
}

// finalize is the single exit point to a terminal state. It runs inside the
// session goroutine, so concurrent triggers (manual submit racing clock
// expiry racing a risk breach) serialize here; only the first caller builds
// the record and every later one observes it unchanged.
func (s *session) finalize(reason model.TerminationReason) *model.SubmissionRecord {
	if s.record != nil {
		return s.record
	}

	now := s.now()
	s.state = model.SessionStateSubmitting

	// The in-flight question keeps its time up to this instant, not beyond.
	s.flushElapsed(now)

	s.clock.Stop()
	if s.graceTimer != nil {
		s.graceTimer.Stop()
	}

	s.record = s.finalizer.Finalize(s, reason, now)

	if reason == model.ReasonRiskThreshold {
		s.state = model.SessionStateTerminated
	} else {
		s.state = model.SessionStateSubmitted
	}

	s.log.Info().
		Str("reason", string(reason)).
		Str("state", string(s.state)).
		Int("answers", len(s.record.Answers)).
		Int("violations", len(s.record.Violations)).
		Msg("Session finalized")

	s.publish(false)
	for ch := range s.subscribers {
		delete(s.subscribers, ch)
		close(ch)
	}
	s.onTerminal(s)

	return s.record
}

// ─── Disconnect handling ────────────────────────────────────────────

// handleLeave starts the disconnect grace window. A dropped socket alone
// never reaches this path; only an explicit client leave does, so transient
// network blips cannot end an attempt.
func (s *session) handleLeave() error {
	if !s.state.Writable() {
		return ErrSessionNotActive
	}
	s.pendingLeave = true
	s.leaveSeq++
	seq := s.leaveSeq
	if s.graceTimer != nil {
		s.graceTimer.Stop()
	}
	s.graceTimer = time.AfterFunc(s.disconnGrace, func() {
		_ = s.post(graceExpiredCmd{seq: seq})
	})
	return nil
}

func (s *session) handleGraceExpired(seq int) {
	if s.pendingLeave && seq == s.leaveSeq && s.state.Writable() {
		s.finalize(model.ReasonDisconnectTimeout)
	}
}

// markActivity cancels a pending leave: the client came back.
func (s *session) markActivity() {
	if s.pendingLeave {
		s.pendingLeave = false
		if s.graceTimer != nil {
			s.graceTimer.Stop()
		}
	}
}

// ─── Reads and fan-out ──────────────────────────────────────────────

// remaining reports seconds until the deadline. A terminal session has no
// countdown left regardless of how it ended.
func (s *session) remaining() float64 {
	if s.state.Terminal() {
		return 0
	}
	return s.clock.Remaining(s.now()).Seconds()
}

func (s *session) snapshot() model.SessionSnapshot {
	answers := make(map[uuid.UUID]model.Answer, len(s.answers))
	for id, a := range s.answers {
		answers[id] = *a
	}
	return model.SessionSnapshot{
		SessionID:            s.id,
		AssessmentID:         s.assessment.ID,
		SubjectID:            s.subjectID,
		State:                s.state,
		StartedAt:            s.startedAt,
		DeadlineAt:           s.deadlineAt,
		CurrentSectionIndex:  s.curSection,
		CurrentQuestionIndex: s.curQuestion,
		SecondsRemaining:     s.remaining(),
		Risk:                 s.risk.Clone(),
		Answers:              answers,
	}
}

func (s *session) handleSubscribe(ch chan model.SessionUpdate) {
	if s.state.Terminal() {
		// Deliver the final state once so late subscribers see the end.
		select {
		case ch <- s.update(false):
		default:
		}
		close(ch)
		return
	}
	s.subscribers[ch] = struct{}{}
	select {
	case ch <- s.update(false):
	default:
	}
}

func (s *session) update(lowTime bool) model.SessionUpdate {
	return model.SessionUpdate{
		SessionID:        s.id,
		AssessmentID:     s.assessment.ID,
		SubjectID:        s.subjectID,
		State:            s.state,
		RiskLevel:        s.risk.EscalationLevel,
		WeightedScore:    s.risk.WeightedScore,
		SecondsRemaining: s.remaining(),
		LowTime:          lowTime,
	}
}

// publish pushes an update to every subscriber without ever blocking the
// event loop: a slow consumer misses intermediate updates instead of
// stalling the session.
func (s *session) publish(lowTime bool) {
	upd := s.update(lowTime)
	for ch := range s.subscribers {
		select {
		case ch <- upd:
		default:
		}
	}
	s.deps.Monitor.Publish(s.assessment.ID, upd)
}
