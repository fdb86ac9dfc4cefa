package model

import (
	"time"

	"github.com/google/uuid"
)

// ViolationType enumerates the integrity signals the engine understands.
type ViolationType string

const (
	ViolationFaceNotDetected ViolationType = "face_not_detected"
	ViolationMultipleFaces   ViolationType = "multiple_faces"
	ViolationTabSwitch       ViolationType = "tab_switch"
	ViolationFullscreenExit  ViolationType = "fullscreen_exit"
	ViolationCopyPaste       ViolationType = "copy_paste"
	ViolationSuspiciousAudio ViolationType = "suspicious_audio"
	ViolationBlockedShortcut ViolationType = "blocked_shortcut"
	ViolationAIFlaggedFrame  ViolationType = "ai_flagged_frame"
)

// Severity classifies how serious a single violation is.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// RawSignal is what a detector reports before classification. Confidence is
// optional; deterministic detectors (tab switch, fullscreen exit) omit it.
type RawSignal struct {
	Type       string   `json:"type" binding:"required"`
	Source     string   `json:"source,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// ViolationEvent is the classified, immutable form appended to a session's
// violation log. It is never edited or removed after creation.
type ViolationEvent struct {
	ID         uuid.UUID     `json:"id"`
	SessionID  uuid.UUID     `json:"session_id"`
	Type       ViolationType `json:"type"`
	Severity   Severity      `json:"severity"`
	Source     string        `json:"source"`
	Confidence float64       `json:"confidence"`
	OccurredAt time.Time     `json:"occurred_at"`
}
