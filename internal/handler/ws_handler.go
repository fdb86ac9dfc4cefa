package handler

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/edupulse/proctor-backend/internal/middleware"
	"github.com/edupulse/proctor-backend/internal/model"
	"github.com/edupulse/proctor-backend/internal/service"
	ws "github.com/edupulse/proctor-backend/internal/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler handles WebSocket session streaming.
type WSHandler struct {
	sessionService *service.SessionService
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(sessionService *service.SessionService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		sessionService: sessionService,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// SessionStream godoc
// WS /ws/v1/sessions/:session_id/stream
// Upgrades to WebSocket for live session updates and inbound violation
// reports. A dropped socket on its own never ends the session; only an
// explicit leave action starts the disconnect grace window.
func (h *WSHandler) SessionStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session ID"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	subjectID := claims.UserID

	// SECURITY: Validate ownership before streaming anything.
	updates, err := h.sessionService.Subscribe(c.Request.Context(), sessionID, subjectID)
	if err != nil {
		ws.WriteError(conn, "no session found")
		return
	}
	defer h.sessionService.Unsubscribe(sessionID, updates)

	wsLog := h.log.With().
		Int("subject_id", subjectID).
		Str("session_id", sessionID.String()).
		Logger()

	wsLog.Info().Msg("Subject connected")

	// The update pump and the reader both write to the socket; gorilla
	// allows one concurrent writer, so serialize through a mutex.
	var wmu sync.Mutex
	write := func(v interface{}) error {
		wmu.Lock()
		defer wmu.Unlock()
		return ws.WriteTyped(conn, v)
	}

	go func() {
		for upd := range updates {
			if upd.State.Terminal() {
				write(ws.EndedResponse{Event: ws.EventEnded, State: upd.State})
				conn.Close()
				return
			}
			event := ws.EventUpdate
			if upd.State == model.SessionStateWarned && upd.RiskLevel == model.EscalationWarned {
				event = ws.EventWarning
			}
			if err := write(ws.UpdateResponse{Event: event, Update: upd}); err != nil {
				return
			}
		}
	}()

	for {
		var msg ws.RequestPayload
		if err := ws.ReadJSON(conn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			break
		}

		switch msg.Action {
		case ws.ActionPing:
			write(ws.PongResponse{Event: ws.EventPong})

		case ws.ActionViolation:
			h.handleViolation(c.Request.Context(), write, sessionID, subjectID, msg.Signal)

		case ws.ActionLeave:
			if err := h.sessionService.Leave(c.Request.Context(), sessionID, subjectID); err != nil {
				write(ws.ErrorResponse{Event: ws.EventError, Error: err.Error()})
				continue
			}
			wsLog.Info().Msg("Subject announced leave")

		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			write(ws.ErrorResponse{Event: ws.EventError, Error: "unknown action: " + string(msg.Action)})
		}
	}
}

func (h *WSHandler) handleViolation(ctx context.Context, write func(interface{}) error, sessionID uuid.UUID, subjectID int, sig model.RawSignal) {
	if sig.Type == "" {
		write(ws.ErrorResponse{Event: ws.EventError, Error: "signal.type is required"})
		return
	}

	risk, err := h.sessionService.ReportViolation(ctx, sessionID, subjectID, sig)
	if err != nil {
		write(ws.ErrorResponse{Event: ws.EventError, Error: err.Error()})
		return
	}

	write(ws.RiskResponse{Event: ws.EventRisk, Risk: risk})
}
