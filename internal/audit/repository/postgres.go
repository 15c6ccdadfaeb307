package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"auth-session-core/internal/audit/domain"
)

// PostgresRepository persists events in the security_events table.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository returns an audit repository backed by pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Create inserts e. Details are stored as jsonb.
func (r *PostgresRepository) Create(ctx context.Context, e *domain.Event) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("marshal details: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO security_events (
			id, account_id, session_id, event_type, category, severity,
			ip_address, user_agent, device_fingerprint, details, success, error_message, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, e.ID, nullIfEmpty(e.AccountID), nullIfEmpty(e.SessionID), e.EventType, string(e.Category), string(e.Severity),
		nullIfEmpty(e.IPAddress), nullIfEmpty(e.UserAgent), nullIfEmpty(e.DeviceFingerprint),
		details, e.Success, nullIfEmpty(e.ErrorMessage), e.CreatedAt)
	return err
}

func (r *PostgresRepository) RecentByAccount(ctx context.Context, accountID string, since time.Time, limit int) ([]*domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, COALESCE(account_id::text, ''), COALESCE(session_id::text, ''), event_type, category, severity,
		       COALESCE(ip_address, ''), COALESCE(user_agent, ''), COALESCE(device_fingerprint, ''),
		       details, success, COALESCE(error_message, ''), created_at
		FROM security_events
		WHERE account_id = $1 AND created_at >= $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, accountID, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) CountByIPSince(ctx context.Context, eventType string, since time.Time) ([]domain.IPCount, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT ip_address, count(*)
		FROM security_events
		WHERE event_type = $1 AND created_at >= $2 AND ip_address IS NOT NULL
		GROUP BY ip_address
		ORDER BY count(*) DESC, ip_address ASC
	`, eventType, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.IPCount
	for rows.Next() {
		var c domain.IPCount
		if err := rows.Scan(&c.IPAddress, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) CountByTypesAndSeverity(ctx context.Context, eventTypes []string, severities []domain.Severity, since time.Time) (int, error) {
	sev := make([]string, len(severities))
	for i, s := range severities {
		sev[i] = string(s)
	}
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM security_events
		WHERE event_type = ANY($1) AND severity = ANY($2) AND created_at >= $3
	`, eventTypes, sev, since).Scan(&n)
	return n, err
}

func (r *PostgresRepository) CountSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM security_events WHERE created_at >= $1`, since).Scan(&n)
	return n, err
}

func (r *PostgresRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM security_events WHERE created_at <= $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func scanEvent(row pgx.Row) (*domain.Event, error) {
	var e domain.Event
	var category, severity string
	var details []byte
	err := row.Scan(
		&e.ID, &e.AccountID, &e.SessionID, &e.EventType, &category, &severity,
		&e.IPAddress, &e.UserAgent, &e.DeviceFingerprint,
		&details, &e.Success, &e.ErrorMessage, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Category = domain.Category(category)
	e.Severity = domain.Severity(severity)
	if len(details) > 0 {
		if err := json.Unmarshal(details, &e.Details); err != nil {
			return nil, fmt.Errorf("unmarshal details: %w", err)
		}
	}
	return &e, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
