package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"auth-session-core/internal/blacklist/domain"
)

// PostgresRepository implements Repository over the token_blacklist table.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository returns a blacklist repository backed by pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Add(ctx context.Context, e *domain.Entry) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO token_blacklist (jti, account_id, token_type, reason, revoked_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (jti) DO NOTHING
	`, e.JTI, nullIfEmpty(e.AccountID), e.TokenType, e.Reason, e.RevokedAt, e.ExpiresAt)
	return err
}

func (r *PostgresRepository) Contains(ctx context.Context, jti string, now time.Time) (bool, error) {
	var found bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM token_blacklist WHERE jti = $1 AND expires_at > $2)
	`, jti, now).Scan(&found)
	return found, err
}

func (r *PostgresRepository) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM token_blacklist WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *PostgresRepository) CountActive(ctx context.Context, now time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM token_blacklist WHERE expires_at > $1`, now).Scan(&n)
	return n, err
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
