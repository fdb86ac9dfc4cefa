package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/edupulse/proctor-backend/internal/config"
	"github.com/edupulse/proctor-backend/internal/model"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// MonitorService fans live session updates out to proctor dashboards over
// Redis pub/sub and mirrors the latest risk state into a volatile key so a
// dashboard that connects late can still render the current picture.
type MonitorService struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(rdb *redis.Client, log zerolog.Logger) *MonitorService {
	return &MonitorService{
		rdb: rdb,
		log: log.With().Str("component", "monitor_service").Logger(),
	}
}

// Publish sends one update to the assessment's monitor channel.
func (s *MonitorService) Publish(assessmentID uuid.UUID, upd model.SessionUpdate) {
	payload, err := json.Marshal(upd)
	if err != nil {
		return
	}
	go func() {
		ctx := context.Background()
		channel := config.CacheKey.AssessmentMonitorChannel(assessmentID.String())

		pipe := s.rdb.Pipeline()
		pipe.Publish(ctx, channel, payload)
		pipe.Set(ctx, config.CacheKey.SessionRiskKey(upd.SessionID.String()), payload, time.Hour)
		if _, err := pipe.Exec(ctx); err != nil {
			s.log.Debug().Err(err).
				Str("assessment_id", assessmentID.String()).
				Msg("Failed to publish monitor update")
		}
	}()
}
