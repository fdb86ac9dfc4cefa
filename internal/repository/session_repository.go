package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SessionRepository persists attempt rows. The engine writes one row at
// start; the grading worker updates it after finalization.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// Create inserts the attempt row in ACTIVE state.
func (r *SessionRepository) Create(ctx context.Context, sessionID, assessmentID uuid.UUID, subjectID int, startedAt, deadlineAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO proctor_sessions (id, assessment_id, subject_id, status, started_at, deadline_at)
		VALUES ($1, $2, $3, 'ACTIVE', $4, $5)`,
		sessionID, assessmentID, subjectID, startedAt, deadlineAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// CountAttempts returns how many attempts the subject has made on the
// assessment, terminal or not.
func (r *SessionRepository) CountAttempts(ctx context.Context, assessmentID uuid.UUID, subjectID int) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM proctor_sessions
		WHERE assessment_id = $1 AND subject_id = $2`,
		assessmentID, subjectID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}
	return n, nil
}
