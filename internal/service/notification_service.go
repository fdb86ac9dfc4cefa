package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/edupulse/proctor-backend/internal/config"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type subjectNotice struct {
	Message string    `json:"message"`
	SentAt  time.Time `json:"sent_at"`
}

// NotificationService publishes subject-facing notices (warnings, submission
// confirmations) over Redis pub/sub. Best-effort: nobody listening is not
// an error, and delivery failures are swallowed after logging.
type NotificationService struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewNotificationService creates a new NotificationService.
func NewNotificationService(rdb *redis.Client, log zerolog.Logger) *NotificationService {
	return &NotificationService{
		rdb: rdb,
		log: log.With().Str("component", "notification_service").Logger(),
	}
}

// Notify publishes one notice to the subject's channel.
func (s *NotificationService) Notify(subjectID int, message string) {
	payload, err := json.Marshal(subjectNotice{Message: message, SentAt: time.Now()})
	if err != nil {
		return
	}
	go func() {
		channel := config.CacheKey.SubjectNotifyChannel(subjectID)
		if err := s.rdb.Publish(context.Background(), channel, payload).Err(); err != nil {
			s.log.Debug().Err(err).Int("subject_id", subjectID).Msg("Failed to publish notice")
		}
	}()
}
