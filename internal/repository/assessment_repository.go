package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/edupulse/proctor-backend/internal/config"
	"github.com/edupulse/proctor-backend/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// AssessmentRepository loads assessment definitions. Assembled payloads are
// cached in Redis so session starts under load don't fan out into the
// database; the question set is immutable once published, so the cache
// never goes stale mid-attempt.
type AssessmentRepository struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	log  zerolog.Logger
}

// NewAssessmentRepository creates a new AssessmentRepository.
func NewAssessmentRepository(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *AssessmentRepository {
	return &AssessmentRepository{
		pool: pool,
		rdb:  rdb,
		log:  log.With().Str("component", "assessment_repo").Logger(),
	}
}

// Get returns the full assessment with ordered sections and questions.
func (r *AssessmentRepository) Get(ctx context.Context, assessmentID uuid.UUID) (*model.Assessment, error) {
	cacheKey := config.CacheKey.AssessmentPayloadKey(assessmentID.String())

	cached, err := r.rdb.Get(ctx, cacheKey).Result()
	if err == nil {
		var a model.Assessment
		if uerr := json.Unmarshal([]byte(cached), &a); uerr == nil {
			return &a, nil
		}
		// Corrupt cache entry: fall through to the database and overwrite.
	} else if !errors.Is(err, redis.Nil) {
		r.log.Warn().Err(err).Msg("Redis read failed, falling back to DB")
	}

	a, err := r.loadFromDB(ctx, assessmentID)
	if err != nil {
		return nil, err
	}

	if payload, merr := json.Marshal(a); merr == nil {
		if serr := r.rdb.Set(ctx, cacheKey, payload, 0).Err(); serr != nil {
			r.log.Warn().Err(serr).Msg("Failed to cache assessment payload")
		}
	}

	return a, nil
}

// GetAnswerKey returns the correct answers for every question of the
// assessment, keyed by question ID. Cached separately from the payload so
// the key never travels with client-facing data.
func (r *AssessmentRepository) GetAnswerKey(ctx context.Context, assessmentID uuid.UUID) (map[uuid.UUID]model.AnswerKeyEntry, error) {
	cacheKey := config.CacheKey.AssessmentAnswerKey(assessmentID.String())

	cached, err := r.rdb.Get(ctx, cacheKey).Result()
	if err == nil {
		var key map[uuid.UUID]model.AnswerKeyEntry
		if uerr := json.Unmarshal([]byte(cached), &key); uerr == nil {
			return key, nil
		}
	}

	rows, err := r.pool.Query(ctx, `
		SELECT q.id, q.type, q.points, q.correct_answer
		FROM questions q
		JOIN assessment_sections s ON s.id = q.section_id
		WHERE s.assessment_id = $1`, assessmentID)
	if err != nil {
		return nil, fmt.Errorf("query answer key: %w", err)
	}
	defer rows.Close()

	key := make(map[uuid.UUID]model.AnswerKeyEntry)
	for rows.Next() {
		var e model.AnswerKeyEntry
		if err := rows.Scan(&e.QuestionID, &e.Type, &e.Points, &e.Correct); err != nil {
			return nil, fmt.Errorf("scan answer key: %w", err)
		}
		key[e.QuestionID] = e
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate answer key: %w", err)
	}

	if payload, merr := json.Marshal(key); merr == nil {
		_ = r.rdb.Set(ctx, cacheKey, payload, 0).Err()
	}

	return key, nil
}

// PrewarmAll loads every assessment (and its answer key) into Redis before
// traffic arrives, avoiding lazy-load races under a thundering herd.
func (r *AssessmentRepository) PrewarmAll(ctx context.Context) error {
	rows, err := r.pool.Query(ctx, `SELECT id FROM assessments`)
	if err != nil {
		return fmt.Errorf("list assessments: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("scan assessment id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate assessments: %w", err)
	}

	for _, id := range ids {
		if _, err := r.Get(ctx, id); err != nil {
			r.log.Warn().Err(err).Str("assessment_id", id.String()).Msg("Prewarm payload failed")
			continue
		}
		if _, err := r.GetAnswerKey(ctx, id); err != nil {
			r.log.Warn().Err(err).Str("assessment_id", id.String()).Msg("Prewarm answer key failed")
		}
	}

	r.log.Info().Int("count", len(ids)).Msg("Assessment caches prewarmed")
	return nil
}

func (r *AssessmentRepository) loadFromDB(ctx context.Context, assessmentID uuid.UUID) (*model.Assessment, error) {
	var (
		a            model.Assessment
		timeLimitSec int
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, title, time_limit_seconds, passing_score, max_attempts, available_from, available_until
		FROM assessments WHERE id = $1`, assessmentID).
		Scan(&a.ID, &a.Title, &timeLimitSec, &a.PassingScore, &a.MaxAttempts, &a.AvailableFrom, &a.AvailableUntil)
	if err != nil {
		return nil, fmt.Errorf("get assessment: %w", err)
	}
	a.TimeLimit = time.Duration(timeLimitSec) * time.Second

	sectionRows, err := r.pool.Query(ctx, `
		SELECT id, title, allocated_seconds
		FROM assessment_sections
		WHERE assessment_id = $1
		ORDER BY position`, assessmentID)
	if err != nil {
		return nil, fmt.Errorf("query sections: %w", err)
	}
	defer sectionRows.Close()

	sectionIndex := make(map[uuid.UUID]int)
	for sectionRows.Next() {
		var sec model.Section
		if err := sectionRows.Scan(&sec.ID, &sec.Title, &sec.AllocatedSeconds); err != nil {
			return nil, fmt.Errorf("scan section: %w", err)
		}
		sectionIndex[sec.ID] = len(a.Sections)
		a.Sections = append(a.Sections, sec)
	}
	if err := sectionRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sections: %w", err)
	}

	questionRows, err := r.pool.Query(ctx, `
		SELECT q.id, q.section_id, q.type, q.prompt, q.points, q.options, q.match_pairs
		FROM questions q
		JOIN assessment_sections s ON s.id = q.section_id
		WHERE s.assessment_id = $1
		ORDER BY s.position, q.position`, assessmentID)
	if err != nil {
		return nil, fmt.Errorf("query questions: %w", err)
	}
	defer questionRows.Close()

	for questionRows.Next() {
		var (
			q          model.Question
			sectionID  uuid.UUID
			options    []byte
			matchPairs []byte
		)
		if err := questionRows.Scan(&q.ID, &sectionID, &q.Type, &q.Prompt, &q.Points, &options, &matchPairs); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		if len(options) > 0 {
			if err := json.Unmarshal(options, &q.Options); err != nil {
				return nil, fmt.Errorf("decode options for question %s: %w", q.ID, err)
			}
		}
		if len(matchPairs) > 0 {
			if err := json.Unmarshal(matchPairs, &q.MatchPairs); err != nil {
				return nil, fmt.Errorf("decode match pairs for question %s: %w", q.ID, err)
			}
		}
		idx, ok := sectionIndex[sectionID]
		if !ok {
			continue // Question points at a section of another assessment
		}
		a.Sections[idx].Questions = append(a.Sections[idx].Questions, q)
	}
	if err := questionRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}

	return &a, nil
}
