package repository

import (
	"context"
	"fmt"

	"github.com/edupulse/proctor-backend/internal/model"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AccountRepository manages proctor staff accounts.
type AccountRepository struct {
	pool *pgxpool.Pool
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(pool *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{pool: pool}
}

// GetByEmail returns the account with the given email.
// Returns pgx.ErrNoRows when none exists.
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*model.ProctorAccount, error) {
	var acc model.ProctorAccount
	err := r.pool.QueryRow(ctx, `
		SELECT id, email, name, password_hash, created_at
		FROM proctor_accounts WHERE email = $1`, email).
		Scan(&acc.ID, &acc.Email, &acc.Name, &acc.PasswordHash, &acc.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

// GetByID returns the account with the given ID.
func (r *AccountRepository) GetByID(ctx context.Context, id int) (*model.ProctorAccount, error) {
	var acc model.ProctorAccount
	err := r.pool.QueryRow(ctx, `
		SELECT id, email, name, password_hash, created_at
		FROM proctor_accounts WHERE id = $1`, id).
		Scan(&acc.ID, &acc.Email, &acc.Name, &acc.PasswordHash, &acc.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

// Create inserts a new account and fills in its generated ID.
func (r *AccountRepository) Create(ctx context.Context, acc *model.ProctorAccount) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO proctor_accounts (email, name, password_hash)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`,
		acc.Email, acc.Name, acc.PasswordHash,
	).Scan(&acc.ID, &acc.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}
