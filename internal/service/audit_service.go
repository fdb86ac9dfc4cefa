package service

import (
	"context"
	"encoding/json"

	"github.com/edupulse/proctor-backend/internal/config"
	"github.com/edupulse/proctor-backend/internal/model"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// AuditService pushes classified violation events onto the persistence
// queue. The push happens off the caller's goroutine so a Redis stall can
// never back up a session event loop; a lost event degrades the audit
// trail but not the session.
type AuditService struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewAuditService creates a new AuditService.
func NewAuditService(rdb *redis.Client, log zerolog.Logger) *AuditService {
	return &AuditService{
		rdb: rdb,
		log: log.With().Str("component", "audit_service").Logger(),
	}
}

// Append enqueues one violation event for the persistence worker.
func (s *AuditService) Append(sessionID uuid.UUID, ev model.ViolationEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		s.log.Error().Err(err).Str("session_id", sessionID.String()).Msg("Failed to encode violation event")
		return
	}
	go func() {
		if err := s.rdb.RPush(context.Background(), config.WorkerKey.PersistViolationsQueue, payload).Err(); err != nil {
			s.log.Error().Err(err).
				Str("session_id", sessionID.String()).
				Str("type", string(ev.Type)).
				Msg("Failed to enqueue violation event")
		}
	}()
}
