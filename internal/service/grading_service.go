package service

import (
	"context"
	"encoding/json"

	"github.com/edupulse/proctor-backend/internal/config"
	"github.com/edupulse/proctor-backend/internal/model"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// GradingQueueService hands finalized submissions to the grading worker via
// the Redis queue. Fire-and-forget: a failed enqueue is logged loudly but
// never reopens the session.
type GradingQueueService struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewGradingQueueService creates a new GradingQueueService.
func NewGradingQueueService(rdb *redis.Client, log zerolog.Logger) *GradingQueueService {
	return &GradingQueueService{
		rdb: rdb,
		log: log.With().Str("component", "grading_queue").Logger(),
	}
}

// Grade enqueues the submission record for asynchronous scoring.
func (s *GradingQueueService) Grade(rec *model.SubmissionRecord) {
	payload, err := json.Marshal(rec)
	if err != nil {
		s.log.Error().Err(err).Str("session_id", rec.SessionID.String()).Msg("CRITICAL: failed to encode submission record")
		return
	}
	go func() {
		if err := s.rdb.RPush(context.Background(), config.WorkerKey.GradeSubmissionsQueue, payload).Err(); err != nil {
			s.log.Error().Err(err).
				Str("session_id", rec.SessionID.String()).
				Msg("CRITICAL: failed to enqueue submission for grading")
		}
	}()
}
