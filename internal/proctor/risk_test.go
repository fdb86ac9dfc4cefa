package proctor

import (
	"math"
	"testing"
	"time"

	"github.com/edupulse/proctor-backend/internal/config"
	"github.com/edupulse/proctor-backend/internal/model"
	"github.com/google/uuid"
)

func testProctoringConfig() config.ProctoringConfig {
	return config.ProctoringConfig{
		WarnThreshold:      1.0,
		TerminateThreshold: 2.0,
		WeightHigh:         1.0,
		WeightMedium:       0.5,
		WeightLow:          0.25,
		LowTimeFraction:    0.1,
		LowTimeFloor:       time.Minute,
		DisconnectGrace:    30 * time.Second,
	}
}

func event(vt model.ViolationType, sev model.Severity, confidence float64) model.ViolationEvent {
	return model.ViolationEvent{
		ID:         uuid.New(),
		SessionID:  uuid.New(),
		Type:       vt,
		Severity:   sev,
		Confidence: confidence,
		OccurredAt: time.Now(),
	}
}

func TestAggregatorApplyAccumulates(t *testing.T) {
	agg := NewAggregator(testProctoringConfig())
	state := model.NewRiskState()

	state = agg.Apply(state, event(model.ViolationBlockedShortcut, model.SeverityLow, 1.0))
	if got := state.WeightedScore; got != 0.25 {
		t.Fatalf("score after low = %f, want 0.25", got)
	}
	if state.EscalationLevel != model.EscalationNormal {
		t.Fatalf("level = %s, want NORMAL", state.EscalationLevel)
	}

	state = agg.Apply(state, event(model.ViolationCopyPaste, model.SeverityMedium, 1.0))
	if got := state.WeightedScore; got != 0.75 {
		t.Fatalf("score after medium = %f, want 0.75", got)
	}

	state = agg.Apply(state, event(model.ViolationTabSwitch, model.SeverityHigh, 1.0))
	if got := state.WeightedScore; got != 1.75 {
		t.Fatalf("score after high = %f, want 1.75", got)
	}
	if state.EscalationLevel != model.EscalationWarned {
		t.Fatalf("level = %s, want WARNED", state.EscalationLevel)
	}

	if state.CountsByType[model.ViolationTabSwitch] != 1 {
		t.Errorf("tab_switch count = %d, want 1", state.CountsByType[model.ViolationTabSwitch])
	}
}

func TestAggregatorConfidenceScalesWeight(t *testing.T) {
	agg := NewAggregator(testProctoringConfig())
	state := agg.Apply(model.NewRiskState(), event(model.ViolationSuspiciousAudio, model.SeverityMedium, 0.6))

	if got, want := state.WeightedScore, 0.5*0.6; math.Abs(got-want) > 1e-9 {
		t.Fatalf("score = %f, want %f", got, want)
	}
}

func TestAggregatorAIFrameUsesHighBaseWeight(t *testing.T) {
	agg := NewAggregator(testProctoringConfig())

	// Even when derived severity is low, an AI frame scores against the
	// high-severity base weight scaled by confidence.
	ev := event(model.ViolationAIFlaggedFrame, model.SeverityLow, 0.3)
	if got, want := agg.Weight(ev), 1.0*0.3; math.Abs(got-want) > 1e-9 {
		t.Fatalf("weight = %f, want %f", got, want)
	}
}

func TestAggregatorTwoHighSeverityTerminate(t *testing.T) {
	agg := NewAggregator(testProctoringConfig())
	state := model.NewRiskState()

	state = agg.Apply(state, event(model.ViolationTabSwitch, model.SeverityHigh, 1.0))
	if agg.ShouldTerminate(state) {
		t.Fatal("one high-severity event should not terminate")
	}
	if state.EscalationLevel != model.EscalationWarned {
		t.Fatalf("level = %s, want WARNED", state.EscalationLevel)
	}

	state = agg.Apply(state, event(model.ViolationFullscreenExit, model.SeverityHigh, 1.0))
	if !agg.ShouldTerminate(state) {
		t.Fatal("two high-severity events should terminate")
	}
	if state.EscalationLevel != model.EscalationCritical {
		t.Fatalf("level = %s, want CRITICAL_PENDING_SUBMIT", state.EscalationLevel)
	}
}

func TestAggregatorEscalationIsMonotonic(t *testing.T) {
	cfg := testProctoringConfig()
	agg := NewAggregator(cfg)

	// Force WARNED, then apply a zero-weight event; the level must not drop.
	state := agg.Apply(model.NewRiskState(), event(model.ViolationTabSwitch, model.SeverityHigh, 1.0))
	if state.EscalationLevel != model.EscalationWarned {
		t.Fatalf("level = %s, want WARNED", state.EscalationLevel)
	}

	state = agg.Apply(state, event(model.ViolationBlockedShortcut, model.SeverityLow, 0.0))
	if state.EscalationLevel != model.EscalationWarned {
		t.Fatalf("level after zero-weight event = %s, want WARNED (no downgrade)", state.EscalationLevel)
	}
}

func TestAggregatorReplayMatchesIncremental(t *testing.T) {
	agg := NewAggregator(testProctoringConfig())

	events := []model.ViolationEvent{
		event(model.ViolationBlockedShortcut, model.SeverityLow, 1.0),
		event(model.ViolationAIFlaggedFrame, model.SeverityMedium, 0.7),
		event(model.ViolationTabSwitch, model.SeverityHigh, 1.0),
		event(model.ViolationCopyPaste, model.SeverityMedium, 0.4),
	}

	incremental := model.NewRiskState()
	for _, ev := range events {
		incremental = agg.Apply(incremental, ev)
	}
	replayed := agg.Replay(events)

	if math.Abs(incremental.WeightedScore-replayed.WeightedScore) > 1e-9 {
		t.Errorf("scores differ: incremental %f, replay %f", incremental.WeightedScore, replayed.WeightedScore)
	}
	if incremental.EscalationLevel != replayed.EscalationLevel {
		t.Errorf("levels differ: incremental %s, replay %s", incremental.EscalationLevel, replayed.EscalationLevel)
	}
	for vt, n := range incremental.CountsByType {
		if replayed.CountsByType[vt] != n {
			t.Errorf("count for %s differs: incremental %d, replay %d", vt, n, replayed.CountsByType[vt])
		}
	}
}

func TestAggregatorApplyDoesNotAliasInput(t *testing.T) {
	agg := NewAggregator(testProctoringConfig())
	before := model.NewRiskState()

	after := agg.Apply(before, event(model.ViolationTabSwitch, model.SeverityHigh, 1.0))

	if before.WeightedScore != 0 || len(before.CountsByType) != 0 {
		t.Error("Apply mutated its input state")
	}
	if after.WeightedScore != 1.0 {
		t.Errorf("after score = %f, want 1.0", after.WeightedScore)
	}
}
