package proctor

import (
	"time"

	"github.com/edupulse/proctor-backend/internal/model"
	"github.com/google/uuid"
)

// severityByType is the default taxonomy. ai_flagged_frame is absent on
// purpose: its severity is derived from detector confidence.
var severityByType = map[model.ViolationType]model.Severity{
	model.ViolationFaceNotDetected: model.SeverityHigh,
	model.ViolationMultipleFaces:   model.SeverityHigh,
	model.ViolationTabSwitch:       model.SeverityHigh,
	model.ViolationFullscreenExit:  model.SeverityHigh,
	model.ViolationCopyPaste:       model.SeverityMedium,
	model.ViolationSuspiciousAudio: model.SeverityMedium,
	model.ViolationBlockedShortcut: model.SeverityLow,
}

// Classifier normalizes raw detector signals into typed violation events.
// It is stateless and safe for concurrent use.
type Classifier struct{}

// NewClassifier creates a Classifier.
func NewClassifier() *Classifier {
	return &Classifier{}
}

// Classify turns a raw signal into an immutable ViolationEvent. Unknown
// signal types are rejected with *UnknownSignalError so callers can log and
// drop them without touching session state.
func (c *Classifier) Classify(sessionID uuid.UUID, sig model.RawSignal, now time.Time) (model.ViolationEvent, error) {
	vt := model.ViolationType(sig.Type)

	confidence := 1.0
	if sig.Confidence != nil {
		confidence = clamp01(*sig.Confidence)
	}

	var severity model.Severity
	switch vt {
	case model.ViolationAIFlaggedFrame:
		severity = aiSeverity(confidence)
	default:
		var ok bool
		severity, ok = severityByType[vt]
		if !ok {
			return model.ViolationEvent{}, &UnknownSignalError{Type: sig.Type}
		}
		// Heuristic detectors may report reduced confidence; deterministic
		// ones (tab switch, fullscreen exit, shortcuts) stay at 1.0.
	}

	source := sig.Source
	if source == "" {
		source = "client"
	}

	return model.ViolationEvent{
		ID:         uuid.New(),
		SessionID:  sessionID,
		Type:       vt,
		Severity:   severity,
		Source:     source,
		Confidence: confidence,
		OccurredAt: now,
	}, nil
}

// aiSeverity maps AI frame-analysis confidence onto the severity ladder.
func aiSeverity(confidence float64) model.Severity {
	switch {
	case confidence >= 0.8:
		return model.SeverityHigh
	case confidence >= 0.5:
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
