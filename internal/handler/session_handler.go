package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/edupulse/proctor-backend/internal/middleware"
	"github.com/edupulse/proctor-backend/internal/model"
	"github.com/edupulse/proctor-backend/internal/proctor"
	"github.com/edupulse/proctor-backend/internal/response"
	"github.com/edupulse/proctor-backend/internal/service"
	"github.com/edupulse/proctor-backend/internal/validator"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SessionHandler exposes the session engine over HTTP.
type SessionHandler struct {
	sessionService *service.SessionService
	log            zerolog.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(sessionService *service.SessionService, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		sessionService: sessionService,
		log:            log.With().Str("component", "session_handler").Logger(),
	}
}

type startSessionRequest struct {
	AssessmentID uuid.UUID `json:"assessment_id" binding:"required"`
}

type recordAnswerRequest struct {
	QuestionID uuid.UUID       `json:"question_id" binding:"required"`
	Value      json.RawMessage `json:"value" binding:"required"`
	Flagged    *bool           `json:"flagged,omitempty"`
	Bookmarked *bool           `json:"bookmarked,omitempty"`
}

type navigateRequest struct {
	SectionIndex  int `json:"section_index" binding:"gte=0"`
	QuestionIndex int `json:"question_index" binding:"gte=0"`
}

// Start godoc
// POST /api/v1/sessions/start
// Begins a new attempt for the authenticated subject.
func (h *SessionHandler) Start(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req startSessionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	info, err := h.sessionService.Start(c.Request.Context(), req.AssessmentID, claims.UserID)
	if err != nil {
		h.failSession(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"session": info})
}

// GetState godoc
// GET /api/v1/sessions/:id/state
// Returns a point-in-time snapshot of the subject's session.
func (h *SessionHandler) GetState(c *gin.Context) {
	claims, sessionID, ok := h.sessionParams(c)
	if !ok {
		return
	}

	snap, err := h.sessionService.Snapshot(c.Request.Context(), sessionID, claims.UserID)
	if err != nil {
		h.failSession(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"session": snap})
}

// RecordAnswer godoc
// POST /api/v1/sessions/:id/answers
// Stores or updates one answer.
func (h *SessionHandler) RecordAnswer(c *gin.Context) {
	claims, sessionID, ok := h.sessionParams(c)
	if !ok {
		return
	}

	var req recordAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	err := h.sessionService.RecordAnswer(c.Request.Context(), sessionID, claims.UserID, req.QuestionID, req.Value, req.Flagged, req.Bookmarked)
	if err != nil {
		h.failSession(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"status": "saved"})
}

// Navigate godoc
// POST /api/v1/sessions/:id/navigate
// Moves the subject's current position and flushes time tracking.
func (h *SessionHandler) Navigate(c *gin.Context) {
	claims, sessionID, ok := h.sessionParams(c)
	if !ok {
		return
	}

	var req navigateRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	err := h.sessionService.Navigate(c.Request.Context(), sessionID, claims.UserID, req.SectionIndex, req.QuestionIndex)
	if err != nil {
		h.failSession(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"status": "moved"})
}

// ReportViolation godoc
// POST /api/v1/sessions/:id/violations
// Feeds one raw detector signal into the engine and returns the updated risk.
func (h *SessionHandler) ReportViolation(c *gin.Context) {
	claims, sessionID, ok := h.sessionParams(c)
	if !ok {
		return
	}

	var sig model.RawSignal
	if fields := validator.Bind(c, &sig); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	risk, err := h.sessionService.ReportViolation(c.Request.Context(), sessionID, claims.UserID, sig)
	if err != nil {
		h.failSession(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"risk": risk})
}

// Submit godoc
// POST /api/v1/sessions/:id/submit
// Finalizes the session. Safe to retry: repeats return the same record.
func (h *SessionHandler) Submit(c *gin.Context) {
	claims, sessionID, ok := h.sessionParams(c)
	if !ok {
		return
	}

	rec, err := h.sessionService.Submit(c.Request.Context(), sessionID, claims.UserID)
	if err != nil {
		h.failSession(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"submission": gin.H{
			"session_id":         rec.SessionID,
			"termination_reason": rec.TerminationReason,
			"submitted_at":       rec.SubmittedAt,
			"answered_count":     len(rec.Answers),
			"violation_count":    len(rec.Violations),
		},
	})
}

// Leave godoc
// POST /api/v1/sessions/:id/leave
// Announces an intentional departure; the disconnect grace window starts.
func (h *SessionHandler) Leave(c *gin.Context) {
	claims, sessionID, ok := h.sessionParams(c)
	if !ok {
		return
	}

	if err := h.sessionService.Leave(c.Request.Context(), sessionID, claims.UserID); err != nil {
		h.failSession(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"status": "grace_started"})
}

func (h *SessionHandler) sessionParams(c *gin.Context) (*service.Claims, uuid.UUID, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return nil, uuid.Nil, false
	}

	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return nil, uuid.Nil, false
	}

	return claims, sessionID, true
}

// failSession maps engine errors onto the response envelope.
func (h *SessionHandler) failSession(c *gin.Context, err error) {
	var (
		navErr    *proctor.InvalidNavigationError
		eligErr   *proctor.EligibilityDeniedError
		signalErr *proctor.UnknownSignalError
	)

	switch {
	case errors.Is(err, proctor.ErrSessionNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	case errors.Is(err, proctor.ErrDuplicateSession):
		response.Fail(c, http.StatusConflict, response.ErrDuplicateSession)
	case errors.Is(err, proctor.ErrSessionNotActive):
		response.Fail(c, http.StatusConflict, response.ErrSessionNotActive)
	case errors.Is(err, proctor.ErrUnknownQuestion):
		response.Fail(c, http.StatusBadRequest, response.ErrUnknownQuestion)
	case errors.As(err, &navErr):
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidNavigation, map[string]string{
			"section_index":  strconv.Itoa(navErr.SectionIndex),
			"question_index": strconv.Itoa(navErr.QuestionIndex),
			"max_section":    strconv.Itoa(navErr.MaxSection),
			"max_question":   strconv.Itoa(navErr.MaxQuestion),
		})
	case errors.As(err, &signalErr):
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidPayload, map[string]string{
			"type": "unknown violation signal type: " + signalErr.Type,
		})
	case errors.As(err, &eligErr):
		response.FailWithMessage(c, http.StatusForbidden, response.ErrEligibilityDenied, eligErr.Reason)
	default:
		h.log.Error().Err(err).Msg("Session operation failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
