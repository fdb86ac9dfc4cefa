package proctor

import (
	"errors"
	"testing"
	"time"

	"github.com/edupulse/proctor-backend/internal/model"
	"github.com/google/uuid"
)

func floatPtr(v float64) *float64 { return &v }

func TestClassifySeverityTaxonomy(t *testing.T) {
	cases := []struct {
		sigType string
		want    model.Severity
	}{
		{"face_not_detected", model.SeverityHigh},
		{"multiple_faces", model.SeverityHigh},
		{"tab_switch", model.SeverityHigh},
		{"fullscreen_exit", model.SeverityHigh},
		{"copy_paste", model.SeverityMedium},
		{"suspicious_audio", model.SeverityMedium},
		{"blocked_shortcut", model.SeverityLow},
	}

	c := NewClassifier()
	sessionID := uuid.New()
	now := time.Now()

	for _, tc := range cases {
		ev, err := c.Classify(sessionID, model.RawSignal{Type: tc.sigType}, now)
		if err != nil {
			t.Fatalf("Classify(%s) returned error: %v", tc.sigType, err)
		}
		if ev.Severity != tc.want {
			t.Errorf("Classify(%s) severity = %s, want %s", tc.sigType, ev.Severity, tc.want)
		}
		if ev.Confidence != 1.0 {
			t.Errorf("Classify(%s) confidence = %f, want 1.0 default", tc.sigType, ev.Confidence)
		}
		if ev.SessionID != sessionID {
			t.Errorf("Classify(%s) session = %s, want %s", tc.sigType, ev.SessionID, sessionID)
		}
		if !ev.OccurredAt.Equal(now) {
			t.Errorf("Classify(%s) occurred_at = %v, want %v", tc.sigType, ev.OccurredAt, now)
		}
	}
}

func TestClassifyUnknownTypeRejected(t *testing.T) {
	c := NewClassifier()

	_, err := c.Classify(uuid.New(), model.RawSignal{Type: "teleportation"}, time.Now())
	var sigErr *UnknownSignalError
	if !errors.As(err, &sigErr) {
		t.Fatalf("expected *UnknownSignalError, got %v", err)
	}
	if sigErr.Type != "teleportation" {
		t.Errorf("error type = %s, want teleportation", sigErr.Type)
	}
}

func TestClassifyAIFlaggedFrameSeverityFromConfidence(t *testing.T) {
	cases := []struct {
		confidence float64
		want       model.Severity
	}{
		{0.95, model.SeverityHigh},
		{0.8, model.SeverityHigh},
		{0.79, model.SeverityMedium},
		{0.5, model.SeverityMedium},
		{0.49, model.SeverityLow},
		{0.0, model.SeverityLow},
	}

	c := NewClassifier()
	for _, tc := range cases {
		ev, err := c.Classify(uuid.New(), model.RawSignal{
			Type:       "ai_flagged_frame",
			Confidence: floatPtr(tc.confidence),
		}, time.Now())
		if err != nil {
			t.Fatalf("Classify(ai_flagged_frame, %f) returned error: %v", tc.confidence, err)
		}
		if ev.Severity != tc.want {
			t.Errorf("confidence %f: severity = %s, want %s", tc.confidence, ev.Severity, tc.want)
		}
	}
}

func TestClassifyConfidenceClamped(t *testing.T) {
	c := NewClassifier()

	ev, err := c.Classify(uuid.New(), model.RawSignal{Type: "tab_switch", Confidence: floatPtr(3.5)}, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if ev.Confidence != 1.0 {
		t.Errorf("confidence = %f, want clamped 1.0", ev.Confidence)
	}

	ev, err = c.Classify(uuid.New(), model.RawSignal{Type: "tab_switch", Confidence: floatPtr(-0.3)}, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if ev.Confidence != 0.0 {
		t.Errorf("confidence = %f, want clamped 0.0", ev.Confidence)
	}
}

func TestClassifySourceDefaultsToClient(t *testing.T) {
	c := NewClassifier()

	ev, err := c.Classify(uuid.New(), model.RawSignal{Type: "tab_switch"}, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if ev.Source != "client" {
		t.Errorf("source = %s, want client", ev.Source)
	}

	ev, err = c.Classify(uuid.New(), model.RawSignal{Type: "ai_flagged_frame", Source: "frame-analyzer", Confidence: floatPtr(0.9)}, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if ev.Source != "frame-analyzer" {
		t.Errorf("source = %s, want frame-analyzer", ev.Source)
	}
}
