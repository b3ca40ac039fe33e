package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/mstefan21/qrelay/internal/pool"
)

// Postgres persists accounts and usage logs. Account provisioning and
// deletion happen through external administration against the same tables;
// this layer only reads the pool's fields and writes back usage and health
// mutations.
type Postgres struct {
	conn *sql.DB
}

func NewPostgres(databaseURL string) (*Postgres, error) {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(10)
	conn.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("database ping: %w", err)
	}

	return &Postgres{conn: conn}, nil
}

func (s *Postgres) Close() error { return s.conn.Close() }

func (s *Postgres) LoadAccounts(ctx context.Context) ([]*pool.Account, error) {
	query := `
		SELECT id, name, refresh_token, client_id, client_secret,
		       COALESCE(profile_arn, ''), requests_per_minute, current_rpm,
		       rpm_reset_at, is_active, is_healthy, error_count,
		       first_error_time, last_error_time, auto_recover_at,
		       COALESCE(health_check_error, ''), total_requests, total_tokens,
		       last_used, created_at
		FROM accounts
		ORDER BY created_at, id
	`

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*pool.Account
	for rows.Next() {
		var (
			a         pool.Account
			rpmReset  sql.NullTime
			firstErr  sql.NullTime
			lastErr   sql.NullTime
			recoverAt sql.NullTime
			lastUsed  sql.NullTime
		)
		if err := rows.Scan(
			&a.ID, &a.Name, &a.RefreshToken, &a.ClientID, &a.ClientSecret,
			&a.ProfileARN, &a.RequestsPerMinute, &a.CurrentRPM,
			&rpmReset, &a.IsActive, &a.IsHealthy, &a.ErrorCount,
			&firstErr, &lastErr, &recoverAt,
			&a.HealthCheckError, &a.TotalRequests, &a.TotalTokens,
			&lastUsed, &a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		a.RPMResetAt = rpmReset.Time
		a.FirstErrorTime = firstErr.Time
		a.LastErrorTime = lastErr.Time
		a.AutoRecoverAt = recoverAt.Time
		a.LastUsed = lastUsed.Time
		accounts = append(accounts, &a)
	}

	return accounts, rows.Err()
}

func (s *Postgres) SaveAccount(ctx context.Context, a *pool.Account) error {
	query := `
		UPDATE accounts SET
			current_rpm = $2, rpm_reset_at = $3,
			is_healthy = $4, error_count = $5, first_error_time = $6,
			last_error_time = $7, auto_recover_at = $8, health_check_error = $9,
			total_requests = $10, total_tokens = $11, last_used = $12,
			updated_at = NOW()
		WHERE id = $1
	`

	_, err := s.conn.ExecContext(ctx, query,
		a.ID, a.CurrentRPM, nullTime(a.RPMResetAt),
		a.IsHealthy, a.ErrorCount, nullTime(a.FirstErrorTime),
		nullTime(a.LastErrorTime), nullTime(a.AutoRecoverAt), a.HealthCheckError,
		a.TotalRequests, a.TotalTokens, nullTime(a.LastUsed),
	)
	if err != nil {
		return fmt.Errorf("update account %d: %w", a.ID, err)
	}
	return nil
}

func (s *Postgres) AppendUsage(ctx context.Context, rec pool.UsageRecord) error {
	query := `
		INSERT INTO usage_logs
			(account_id, model, endpoint, input_tokens, output_tokens,
			 status_code, response_time, error_message, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := s.conn.ExecContext(ctx, query,
		rec.AccountID, rec.Model, rec.Endpoint, rec.InputTokens, rec.OutputTokens,
		rec.StatusCode, rec.Latency.Seconds(), rec.ErrorMessage, rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert usage log: %w", err)
	}
	return nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
