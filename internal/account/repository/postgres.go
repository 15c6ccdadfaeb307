package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"auth-session-core/internal/account/domain"
)

const uniqueViolation = "23505"

const accountColumns = `
	id::text, email, username, password_hash, is_active, is_admin,
	max_concurrent_sessions, failed_login_attempts, last_login_at,
	COALESCE(last_login_ip, ''), password_changed_at, created_at, updated_at`

// PostgresRepository persists accounts with pgx.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository returns an account repository backed by pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// GetByID returns the account for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	return scanAccount(row)
}

// GetByEmail returns the account with the given email, or nil if not found.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE lower(email) = lower($1)`, email)
	return scanAccount(row)
}

// Create inserts a new account. The account must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.Account) error {
	if err := a.Validate(); err != nil {
		return err
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO accounts (
			id, email, username, password_hash, is_active, is_admin,
			max_concurrent_sessions, failed_login_attempts, password_changed_at,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9, $9)
	`, a.ID, a.Email, a.Username, a.PasswordHash, a.IsActive, a.IsAdmin,
		a.MaxConcurrentSessions, a.PasswordChangedAt, a.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicateEmail
	}
	return err
}

// RecordFailedLogin increments failed_login_attempts.
func (r *PostgresRepository) RecordFailedLogin(ctx context.Context, id string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE accounts
		SET failed_login_attempts = failed_login_attempts + 1, updated_at = $2
		WHERE id = $1
	`, id, at)
	return err
}

// SetActive sets is_active.
func (r *PostgresRepository) SetActive(ctx context.Context, id string, active bool) error {
	_, err := r.pool.Exec(ctx, `UPDATE accounts SET is_active = $2, updated_at = now() WHERE id = $1`, id, active)
	return err
}

// SetMaxSessions sets max_concurrent_sessions.
func (r *PostgresRepository) SetMaxSessions(ctx context.Context, id string, limit int) error {
	if limit < 0 {
		return errors.New("max sessions must not be negative")
	}
	_, err := r.pool.Exec(ctx, `UPDATE accounts SET max_concurrent_sessions = $2, updated_at = now() WHERE id = $1`, id, limit)
	return err
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	err := row.Scan(
		&a.ID, &a.Email, &a.Username, &a.PasswordHash, &a.IsActive, &a.IsAdmin,
		&a.MaxConcurrentSessions, &a.FailedLoginAttempts, &a.LastLoginAt,
		&a.LastLoginIP, &a.PasswordChangedAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}
