package worker

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/edupulse/proctor-backend/internal/config"
	"github.com/edupulse/proctor-backend/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	GradeBatchSize    = 25
	GradeBatchTimeout = 2 * time.Second
	GradePollTimeout  = 1 * time.Second

	numericTolerance = 1e-6
)

// AssessmentCatalog provides the grading worker with assessment definitions
// and answer keys. Backed by the Redis-cached assessment repository.
type AssessmentCatalog interface {
	Get(ctx context.Context, assessmentID uuid.UUID) (*model.Assessment, error)
	GetAnswerKey(ctx context.Context, assessmentID uuid.UUID) (map[uuid.UUID]model.AnswerKeyEntry, error)
}

// GradingWorker consumes finalized submission records, scores the objective
// questions against the answer key, persists the submission and flips the
// session row to its terminal status. Essay and free-text answers are
// counted as pending for manual review, never auto-scored.
type GradingWorker struct {
	pool    *pgxpool.Pool
	rdb     *redis.Client
	catalog AssessmentCatalog
	log     zerolog.Logger
}

func NewGradingWorker(pool *pgxpool.Pool, rdb *redis.Client, catalog AssessmentCatalog, log zerolog.Logger) *GradingWorker {
	return &GradingWorker{
		pool:    pool,
		rdb:     rdb,
		catalog: catalog,
		log:     log.With().Str("component", "grading_worker").Logger(),
	}
}

// gradedSubmission pairs a record with its computed result for persistence.
type gradedSubmission struct {
	rec    *model.SubmissionRecord
	result model.GradeResult
}

// ----------------------------------------------------------------
// Worker loop with batching
// ----------------------------------------------------------------

func (w *GradingWorker) Start(ctx context.Context) {
	w.log.Info().Msg("GradingWorker started")

	batch := make([]*model.SubmissionRecord, 0, GradeBatchSize)
	lastFlush := time.Now()

	for {
		// Should flush?
		if len(batch) > 0 &&
			(len(batch) >= GradeBatchSize || time.Since(lastFlush) >= GradeBatchTimeout) {

			w.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Shutdown requested. Flushing remaining batch...")
			w.flushSafe(context.Background(), batch)
			return

		default:
			item, err := w.rdb.BLPop(ctx, GradePollTimeout, config.WorkerKey.GradeSubmissionsQueue).Result()
			if err != nil {
				if err != redis.Nil && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
				}
				continue
			}

			if len(item) < 2 {
				continue
			}

			var rec model.SubmissionRecord
			if err := json.Unmarshal([]byte(item[1]), &rec); err != nil {
				w.log.Error().Err(err).Msg("Invalid JSON payload")
				continue
			}

			batch = append(batch, &rec)
		}
	}
}

// ----------------------------------------------------------------
// Batch grading and persistence
// ----------------------------------------------------------------

func (w *GradingWorker) flushSafe(ctx context.Context, batch []*model.SubmissionRecord) {
	if len(batch) == 0 {
		return
	}

	graded := make([]*gradedSubmission, 0, len(batch))
	for _, rec := range batch {
		result, err := w.grade(ctx, rec)
		if err != nil {
			// Answer key unavailable (cache and DB both down): requeue the
			// raw record rather than persisting a zero score.
			w.log.Error().Err(err).Str("session_id", rec.SessionID.String()).Msg("Grading failed, requeueing")
			w.requeueOne(ctx, rec)
			continue
		}
		graded = append(graded, &gradedSubmission{rec: rec, result: result})
	}
	if len(graded) == 0 {
		return
	}

	if err := w.bulkPersist(ctx, graded); err != nil {
		w.log.Warn().Err(err).Msg("Bulk persist failed, using fallback")
		for _, g := range graded {
			if err := w.persistSingle(ctx, g); err != nil {
				w.log.Error().Err(err).Str("session_id", g.rec.SessionID.String()).Msg("persistSingle failed, requeueing")
				w.requeueOne(ctx, g.rec)
			}
		}
		return
	}

	// Terminal sessions no longer need their live risk mirror.
	w.bulkClearRiskMirrors(ctx, graded)
}

func (w *GradingWorker) grade(ctx context.Context, rec *model.SubmissionRecord) (model.GradeResult, error) {
	key, err := w.catalog.GetAnswerKey(ctx, rec.AssessmentID)
	if err != nil {
		return model.GradeResult{}, err
	}

	result := model.GradeResult{
		SessionID: rec.SessionID,
		GradedAt:  time.Now(),
	}

	totalPoints := 0.0
	for _, entry := range key {
		totalPoints += entry.Points
		if entry.Type.AutoGradable() {
			result.MaxAutoPoints += entry.Points
		}
	}

	for questionID, answer := range rec.Answers {
		entry, ok := key[questionID]
		if !ok || len(answer.Value) == 0 {
			continue
		}
		if !entry.Type.AutoGradable() {
			result.PendingManual++
			continue
		}
		if answerMatches(entry, answer.Value) {
			result.AutoScore += entry.Points
		}
	}

	// Pass/fail is only decidable once nothing awaits manual review.
	if result.PendingManual == 0 && totalPoints > 0 {
		if assessment, err := w.catalog.Get(ctx, rec.AssessmentID); err == nil {
			passed := result.AutoScore/totalPoints*100 >= assessment.PassingScore
			result.Passed = &passed
		}
	}

	return result, nil
}

// answerMatches compares a submitted value against the answer key entry.
func answerMatches(entry model.AnswerKeyEntry, value json.RawMessage) bool {
	switch entry.Type {
	case model.QuestionSingleChoice, model.QuestionBoolean:
		var got, want string
		if json.Unmarshal(value, &got) != nil || json.Unmarshal(entry.Correct, &want) != nil {
			return false
		}
		return got == want

	case model.QuestionMultiChoice:
		var got, want []string
		if json.Unmarshal(value, &got) != nil || json.Unmarshal(entry.Correct, &want) != nil {
			return false
		}
		if len(got) != len(want) {
			return false
		}
		set := make(map[string]struct{}, len(want))
		for _, v := range want {
			set[v] = struct{}{}
		}
		for _, v := range got {
			if _, ok := set[v]; !ok {
				return false
			}
		}
		return true

	case model.QuestionNumeric:
		var got, want float64
		if json.Unmarshal(value, &got) != nil || json.Unmarshal(entry.Correct, &want) != nil {
			return false
		}
		return math.Abs(got-want) <= numericTolerance

	case model.QuestionMatching:
		var got, want map[string]string
		if json.Unmarshal(value, &got) != nil || json.Unmarshal(entry.Correct, &want) != nil {
			return false
		}
		if len(got) != len(want) {
			return false
		}
		for k, v := range want {
			if got[k] != v {
				return false
			}
		}
		return true
	}
	return false
}

// ----------------------------------------------------------------
// BULK insert + UNNEST session status update
// ----------------------------------------------------------------

func (w *GradingWorker) bulkPersist(ctx context.Context, graded []*gradedSubmission) error {
	rows := make([][]interface{}, 0, len(graded))
	for _, g := range graded {
		answers, err := json.Marshal(g.rec.Answers)
		if err != nil {
			return err
		}
		violations, err := json.Marshal(g.rec.Violations)
		if err != nil {
			return err
		}
		risk, err := json.Marshal(g.rec.Risk)
		if err != nil {
			return err
		}
		rows = append(rows, []interface{}{
			g.rec.SessionID, g.rec.AssessmentID, g.rec.SubjectID,
			string(g.rec.TerminationReason), answers, violations, risk,
			g.result.AutoScore, g.result.MaxAutoPoints, g.result.PendingManual, g.result.Passed,
			g.rec.StartedAt, g.rec.SubmittedAt, g.result.GradedAt,
		})
	}

	_, err := w.pool.CopyFrom(
		ctx,
		pgx.Identifier{"submissions"},
		[]string{
			"session_id", "assessment_id", "subject_id",
			"termination_reason", "answers", "violations", "risk",
			"auto_score", "max_auto_points", "pending_manual", "passed",
			"started_at", "submitted_at", "graded_at",
		},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return err
	}

	return w.bulkUpdateSessions(ctx, graded)
}

func (w *GradingWorker) bulkUpdateSessions(ctx context.Context, graded []*gradedSubmission) error {
	n := len(graded)

	ids := make([]uuid.UUID, 0, n)
	statuses := make([]string, 0, n)
	scores := make([]float64, 0, n)
	submittedAts := make([]time.Time, 0, n)

	for _, g := range graded {
		ids = append(ids, g.rec.SessionID)
		statuses = append(statuses, terminalStatus(g.rec.TerminationReason))
		scores = append(scores, g.rec.Risk.WeightedScore)
		submittedAts = append(submittedAts, g.rec.SubmittedAt)
	}

	query := `
		UPDATE proctor_sessions AS s
		SET status = t.status,
		    weighted_score = t.weighted_score,
		    submitted_at = t.submitted_at
		FROM (
			SELECT
				u.id,
				u.status,
				u.weighted_score,
				u.submitted_at
			FROM UNNEST(
				$1::uuid[],
				$2::text[],
				$3::float8[],
				$4::timestamptz[]
			) AS u (id, status, weighted_score, submitted_at)
		) AS t
		WHERE s.id = t.id
	`

	_, err := w.pool.Exec(ctx, query, ids, statuses, scores, submittedAts)
	return err
}

func terminalStatus(reason model.TerminationReason) string {
	if reason == model.ReasonRiskThreshold {
		return string(model.SessionStateTerminated)
	}
	return string(model.SessionStateSubmitted)
}

// ----------------------------------------------------------------
// BULK Redis DEL for stale risk mirrors
// ----------------------------------------------------------------

func (w *GradingWorker) bulkClearRiskMirrors(ctx context.Context, graded []*gradedSubmission) {
	pipe := w.rdb.Pipeline()

	for _, g := range graded {
		pipe.Del(ctx, config.CacheKey.SessionRiskKey(g.rec.SessionID.String()))
	}

	_, _ = pipe.Exec(ctx)
}

// ----------------------------------------------------------------
// FALLBACK single persist
// ----------------------------------------------------------------

func (w *GradingWorker) persistSingle(ctx context.Context, g *gradedSubmission) error {
	answers, err := json.Marshal(g.rec.Answers)
	if err != nil {
		return err
	}
	violations, err := json.Marshal(g.rec.Violations)
	if err != nil {
		return err
	}
	risk, err := json.Marshal(g.rec.Risk)
	if err != nil {
		return err
	}

	_, err = w.pool.Exec(ctx,
		`INSERT INTO submissions (
			session_id, assessment_id, subject_id,
			termination_reason, answers, violations, risk,
			auto_score, max_auto_points, pending_manual, passed,
			started_at, submitted_at, graded_at
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 ON CONFLICT (session_id) DO NOTHING`,
		g.rec.SessionID, g.rec.AssessmentID, g.rec.SubjectID,
		string(g.rec.TerminationReason), answers, violations, risk,
		g.result.AutoScore, g.result.MaxAutoPoints, g.result.PendingManual, g.result.Passed,
		g.rec.StartedAt, g.rec.SubmittedAt, g.result.GradedAt,
	)
	if err != nil {
		return err
	}

	_, err = w.pool.Exec(ctx,
		`UPDATE proctor_sessions
		 SET status = $1, weighted_score = $2, submitted_at = $3
		 WHERE id = $4`,
		terminalStatus(g.rec.TerminationReason), g.rec.Risk.WeightedScore, g.rec.SubmittedAt, g.rec.SessionID,
	)
	return err
}

func (w *GradingWorker) requeueOne(ctx context.Context, rec *model.SubmissionRecord) {
	raw, err := json.Marshal(rec)
	if err != nil {
		w.log.Error().Err(err).Msg("CRITICAL: cannot re-encode submission record")
		return
	}
	if err := w.rdb.RPush(ctx, config.WorkerKey.GradeSubmissionsQueue, raw).Err(); err != nil {
		w.log.Error().Err(err).Msg("CRITICAL: Failed to requeue submission. Data loss occurred.")
	}
}
