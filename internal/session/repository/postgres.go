package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"auth-session-core/internal/session/domain"
)

const refreshTokenColumns = `
	id::text, account_id::text, token_hash, device_fingerprint, family_id::text,
	COALESCE(ip_address, ''), COALESCE(user_agent, ''), COALESCE(device_type, ''),
	is_active, created_at, last_used_at, expires_at`

const sessionColumns = `
	id::text, account_id::text, COALESCE(refresh_token_id::text, ''),
	COALESCE(ip_address, ''), COALESCE(user_agent, ''), COALESCE(device_type, ''),
	device_fingerprint, is_remember_me, is_active, created_at, last_activity_at,
	expires_at, terminated_at, COALESCE(termination_reason, '')`

// maxTxAttempts bounds retries of a write transaction that hit a deadlock or saw a
// session repointed between reading its token and locking it.
const maxTxAttempts = 3

// sqlStateDeadlock is deadlock_detected.
const sqlStateDeadlock = "40P01"

// errSessionMoved aborts a termination whose session was repointed to a token the
// transaction does not hold a lock on.
var errSessionMoved = errors.New("session: refresh token changed during termination")

// PostgresRepository implements Repository with pgx. Multi-statement operations run in
// one transaction; issuance locks the account row so concurrent logins of one account
// see an exact session count, and rotation compare-and-swaps the old token's is_active.
//
// Lock order is accounts, then refresh_tokens (by id), then sessions, in every
// transaction that writes more than one of them.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository returns a session repository backed by pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// inTx runs fn in a transaction, retrying it from the start on deadlock or errSessionMoved.
func (r *PostgresRepository) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	return retryTx(ctx, func() error { return pgx.BeginFunc(ctx, r.pool, fn) })
}

func retryTx(ctx context.Context, run func() error) error {
	var err error
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err = run()
		if !retryable(err) || ctx.Err() != nil {
			return err
		}
	}
	return err
}

func retryable(err error) bool {
	if errors.Is(err, errSessionMoved) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == sqlStateDeadlock
}

func (r *PostgresRepository) FindActiveRefreshToken(ctx context.Context, tokenHash string, now time.Time) (*domain.RefreshToken, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+refreshTokenColumns+`
		FROM refresh_tokens
		WHERE token_hash = $1 AND is_active AND expires_at > $2
	`, tokenHash, now)
	return scanRefreshToken(row)
}

func (r *PostgresRepository) GetRefreshToken(ctx context.Context, id string) (*domain.RefreshToken, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+refreshTokenColumns+` FROM refresh_tokens WHERE id = $1`, id)
	return scanRefreshToken(row)
}

func (r *PostgresRepository) ListFamily(ctx context.Context, familyID string) ([]*domain.RefreshToken, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+refreshTokenColumns+`
		FROM refresh_tokens
		WHERE family_id = $1
		ORDER BY created_at ASC, id ASC
	`, familyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.RefreshToken
	for rows.Next() {
		t, err := scanRefreshToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	return scanSession(row)
}

func (r *PostgresRepository) GetSessionByRefreshToken(ctx context.Context, tokenID string) (*domain.Session, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE refresh_token_id = $1`, tokenID)
	return scanSession(row)
}

func (r *PostgresRepository) CountActiveSessions(ctx context.Context, accountID string, now time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM sessions
		WHERE account_id = $1 AND is_active AND expires_at > $2
	`, accountID, now).Scan(&n)
	return n, err
}

func (r *PostgresRepository) ListActiveSessions(ctx context.Context, accountID string, now time.Time) ([]*domain.Session, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE account_id = $1 AND is_active AND expires_at > $2
		ORDER BY created_at ASC, id ASC
	`, accountID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) CreateSession(ctx context.Context, p CreateParams) (*CreateResult, error) {
	now := p.Session.CreatedAt
	accountID := p.Session.AccountID
	limit := p.MaxSessions
	if limit < 1 {
		limit = 1
	}

	var evicted []string
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		var lockedID string
		err := tx.QueryRow(ctx, `SELECT id::text FROM accounts WHERE id = $1 FOR UPDATE`, accountID).Scan(&lockedID)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock account: %w", err)
		}

		evicted, err = evictOverLimitTx(ctx, tx, accountID, limit, now)
		if err != nil {
			return fmt.Errorf("evict sessions: %w", err)
		}

		t := p.Token
		if err := insertRefreshTokenTx(ctx, tx, &t); err != nil {
			return fmt.Errorf("insert refresh token: %w", err)
		}

		s := p.Session
		_, err = tx.Exec(ctx, `
			INSERT INTO sessions (
				id, account_id, refresh_token_id, ip_address, user_agent, device_type,
				device_fingerprint, is_remember_me, is_active, created_at, last_activity_at, expires_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, true, $9, $9, $10)
		`, s.ID, s.AccountID, t.ID, nullIfEmpty(s.IPAddress), nullIfEmpty(s.UserAgent), nullIfEmpty(s.DeviceType),
			s.DeviceFingerprint, s.IsRememberMe, now, s.ExpiresAt)
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}

		_, err = tx.Exec(ctx, `
			UPDATE accounts
			SET last_login_at = $2, last_login_ip = $3, failed_login_attempts = 0, updated_at = $2
			WHERE id = $1
		`, accountID, now, nullIfEmpty(s.IPAddress))
		if err != nil {
			return fmt.Errorf("stamp login: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &CreateResult{EvictedSessionIDs: evicted}, nil
}

func (r *PostgresRepository) RotateRefreshToken(ctx context.Context, p RotateParams) (string, error) {
	var sessionID string
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE refresh_tokens
			SET is_active = false, last_used_at = $2
			WHERE id = $1 AND is_active AND expires_at > $2
		`, p.OldTokenID, p.Now)
		if err != nil {
			return fmt.Errorf("deactivate refresh token: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrTokenNotActive
		}

		t := p.NewToken
		if err := insertRefreshTokenTx(ctx, tx, &t); err != nil {
			return fmt.Errorf("insert refresh token: %w", err)
		}

		err = tx.QueryRow(ctx, `
			UPDATE sessions
			SET refresh_token_id = $2,
			    last_activity_at = $3,
			    ip_address = COALESCE($4, ip_address)
			WHERE refresh_token_id = $1 AND is_active
			RETURNING id
		`, p.OldTokenID, t.ID, p.Now, nullIfEmpty(p.IPAddress)).Scan(&sessionID)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrTokenNotActive
		}
		if err != nil {
			return fmt.Errorf("repoint session: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return sessionID, nil
}

func (r *PostgresRepository) RevokeRefreshToken(ctx context.Context, tokenID string, reason domain.TerminationReason, now time.Time) (bool, error) {
	revoked := false
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE refresh_tokens SET is_active = false WHERE id = $1 AND is_active`, tokenID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		_, err = tx.Exec(ctx, `
			UPDATE sessions
			SET is_active = false, terminated_at = $2, termination_reason = $3
			WHERE refresh_token_id = $1 AND is_active
		`, tokenID, now, string(reason))
		if err != nil {
			return err
		}
		revoked = true
		return nil
	})
	return revoked, err
}

// RevokeFamily locks every token of the family before touching sessions, so it cannot
// deadlock against a rotation of the same family.
func (r *PostgresRepository) RevokeFamily(ctx context.Context, familyID string, reason domain.TerminationReason, now time.Time) (int, error) {
	n := 0
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			SELECT id FROM refresh_tokens WHERE family_id = $1 ORDER BY id FOR UPDATE
		`, familyID); err != nil {
			return fmt.Errorf("lock family: %w", err)
		}
		tag, err := tx.Exec(ctx, `UPDATE refresh_tokens SET is_active = false WHERE family_id = $1 AND is_active`, familyID)
		if err != nil {
			return err
		}
		n = int(tag.RowsAffected())
		_, err = tx.Exec(ctx, `
			UPDATE sessions
			SET is_active = false, terminated_at = $2, termination_reason = $3
			WHERE is_active AND refresh_token_id IN (SELECT id FROM refresh_tokens WHERE family_id = $1)
		`, familyID, now, string(reason))
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (r *PostgresRepository) TerminateSession(ctx context.Context, sessionID string, reason domain.TerminationReason, now time.Time) (bool, error) {
	ended := 0
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		ended, err = terminateWhereTx(ctx, tx, `id = $1`, []any{sessionID}, reason, now)
		return err
	})
	return ended > 0, err
}

func (r *PostgresRepository) TerminateAllSessions(ctx context.Context, accountID string, reason domain.TerminationReason, now time.Time) (int, error) {
	n := 0
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		n, err = terminateWhereTx(ctx, tx, `account_id = $1`, []any{accountID}, reason, now)
		return err
	})
	return n, err
}

// DeleteExpired removes tokens before sessions; the foreign key's SET NULL touches
// sessions after the token rows, matching the store's lock order.
func (r *PostgresRepository) DeleteExpired(ctx context.Context, now time.Time) (domain.SweepCounts, error) {
	var c domain.SweepCounts
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		c = domain.SweepCounts{}
		tag, err := tx.Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at <= $1`, now)
		if err != nil {
			return fmt.Errorf("delete refresh tokens: %w", err)
		}
		c.RefreshTokens = int(tag.RowsAffected())
		tag, err = tx.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now)
		if err != nil {
			return fmt.Errorf("delete sessions: %w", err)
		}
		c.Sessions = int(tag.RowsAffected())
		return nil
	})
	return c, err
}

func (r *PostgresRepository) DeactivateIdleRefreshTokens(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE refresh_tokens
		SET is_active = false
		WHERE is_active AND COALESCE(last_used_at, created_at) <= $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *PostgresRepository) TerminateIdleSessions(ctx context.Context, cutoff, now time.Time) (int, error) {
	n := 0
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		n, err = terminateWhereTx(ctx, tx, `last_activity_at <= $1`, []any{cutoff}, domain.ReasonInactivityTimeout, now)
		return err
	})
	return n, err
}

func (r *PostgresRepository) TerminateOrphanedSessions(ctx context.Context, now time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE sessions s
		SET is_active = false, terminated_at = $1, termination_reason = $2
		WHERE s.is_active AND NOT EXISTS (
			SELECT 1 FROM refresh_tokens t WHERE t.id = s.refresh_token_id AND t.is_active
		)
	`, now, string(domain.ReasonOrphanedCleanup))
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *PostgresRepository) Stats(ctx context.Context, now time.Time) (domain.Stats, error) {
	var st domain.Stats
	err := r.pool.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM refresh_tokens WHERE is_active AND expires_at > $1),
			(SELECT count(*) FROM refresh_tokens WHERE expires_at <= $1),
			(SELECT count(*) FROM sessions WHERE is_active AND expires_at > $1),
			(SELECT count(*) FROM sessions WHERE expires_at <= $1),
			(SELECT count(DISTINCT account_id) FROM sessions WHERE is_active AND expires_at > $1)
	`, now).Scan(
		&st.ActiveRefreshTokens,
		&st.ExpiredRefreshTokens,
		&st.ActiveSessions,
		&st.ExpiredSessions,
		&st.AccountsWithActiveSessions,
	)
	return st, err
}

// evictOverLimitTx terminates the oldest active sessions of an account until fewer
// than limit remain, so one more can be inserted.
func evictOverLimitTx(ctx context.Context, tx pgx.Tx, accountID string, limit int, now time.Time) ([]string, error) {
	rows, err := tx.Query(ctx, `
		SELECT id::text FROM sessions
		WHERE account_id = $1 AND is_active AND expires_at > $2
		ORDER BY created_at ASC, id ASC
	`, accountID, now)
	if err != nil {
		return nil, err
	}
	var active []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		active = append(active, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	excess := len(active) - limit + 1
	if excess <= 0 {
		return nil, nil
	}
	victims := active[:excess]
	if _, err := terminateWhereTx(ctx, tx, `id = ANY($1::uuid[])`, []any{victims}, domain.ReasonSessionLimitExceeded, now); err != nil {
		return nil, err
	}
	return victims, nil
}

// terminateWhereTx ends every active session matching cond and deactivates the
// refresh tokens they point at. cond uses $1.. for args; now and reason are
// appended after them. The tokens are locked before the sessions are updated; if a
// session was repointed in between, errSessionMoved asks the caller to retry.
func terminateWhereTx(ctx context.Context, tx pgx.Tx, cond string, args []any, reason domain.TerminationReason, now time.Time) (int, error) {
	pointed, err := collectIDs(tx.Query(ctx, fmt.Sprintf(`
		SELECT refresh_token_id::text FROM sessions
		WHERE is_active AND refresh_token_id IS NOT NULL AND %s
	`, cond), args...))
	if err != nil {
		return 0, err
	}
	locked := make(map[string]bool, len(pointed))
	if len(pointed) > 0 {
		ids, err := collectIDs(tx.Query(ctx, `
			SELECT id::text FROM refresh_tokens WHERE id = ANY($1::uuid[]) ORDER BY id FOR UPDATE
		`, pointed))
		if err != nil {
			return 0, fmt.Errorf("lock refresh tokens: %w", err)
		}
		for _, id := range ids {
			locked[id] = true
		}
	}

	n := len(args)
	query := fmt.Sprintf(`
		UPDATE sessions
		SET is_active = false, terminated_at = $%d, termination_reason = $%d
		WHERE is_active AND %s
		RETURNING COALESCE(refresh_token_id::text, '')
	`, n+1, n+2, cond)
	ended, err := collectIDs(tx.Query(ctx, query, append(args, now, string(reason))...))
	if err != nil {
		return 0, err
	}
	var tokenIDs []string
	for _, id := range ended {
		if id == "" {
			continue
		}
		if !locked[id] {
			return 0, errSessionMoved
		}
		tokenIDs = append(tokenIDs, id)
	}
	if len(tokenIDs) > 0 {
		if _, err := tx.Exec(ctx, `UPDATE refresh_tokens SET is_active = false WHERE id = ANY($1::uuid[])`, tokenIDs); err != nil {
			return 0, err
		}
	}
	return len(ended), nil
}

func collectIDs(rows pgx.Rows, err error) ([]string, error) {
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func insertRefreshTokenTx(ctx context.Context, tx pgx.Tx, t *domain.RefreshToken) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO refresh_tokens (
			id, account_id, token_hash, device_fingerprint, family_id,
			ip_address, user_agent, device_type, is_active, created_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, true, $9, $10)
	`, t.ID, t.AccountID, t.TokenHash, t.DeviceFingerprint, t.FamilyID,
		nullIfEmpty(t.IPAddress), nullIfEmpty(t.UserAgent), nullIfEmpty(t.DeviceType),
		t.CreatedAt, t.ExpiresAt)
	return err
}

func scanRefreshToken(row pgx.Row) (*domain.RefreshToken, error) {
	var t domain.RefreshToken
	err := row.Scan(
		&t.ID, &t.AccountID, &t.TokenHash, &t.DeviceFingerprint, &t.FamilyID,
		&t.IPAddress, &t.UserAgent, &t.DeviceType,
		&t.IsActive, &t.CreatedAt, &t.LastUsedAt, &t.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func scanSession(row pgx.Row) (*domain.Session, error) {
	var s domain.Session
	var reason string
	err := row.Scan(
		&s.ID, &s.AccountID, &s.RefreshTokenID,
		&s.IPAddress, &s.UserAgent, &s.DeviceType,
		&s.DeviceFingerprint, &s.IsRememberMe, &s.IsActive, &s.CreatedAt, &s.LastActivityAt,
		&s.ExpiresAt, &s.TerminatedAt, &reason,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.TerminationReason = domain.TerminationReason(reason)
	return &s, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
