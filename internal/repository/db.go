package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrVersionConflict is returned when a conditional update lost a race with another writer.
// Callers re-read the row and re-evaluate.
var ErrVersionConflict = errors.New("row changed concurrently")

// PoolConfig tunes the connection pool.
type PoolConfig struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// NewDB creates a new PostgreSQL connection pool.
func NewDB(ctx context.Context, databaseURL string, pc PoolConfig) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	if pc.MaxConns > 0 {
		config.MaxConns = pc.MaxConns
	}
	if pc.MinConns > 0 {
		config.MinConns = pc.MinConns
	}
	if pc.MaxConnLifetime > 0 {
		config.MaxConnLifetime = pc.MaxConnLifetime
	}
	if pc.MaxConnIdleTime > 0 {
		config.MaxConnIdleTime = pc.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

// RunMigrations executes the schema migration.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	query := `
		CREATE TABLE IF NOT EXISTS users (
			id         TEXT PRIMARY KEY,
			email      TEXT NOT NULL UNIQUE,
			name       TEXT NOT NULL DEFAULT '',
			role       TEXT NOT NULL DEFAULT 'user',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS subscriptions (
			id                       TEXT PRIMARY KEY,
			supporter_id             TEXT NOT NULL,
			creator_id               TEXT NOT NULL,
			tier_level               INT NOT NULL,
			amount                   NUMERIC(14,2) NOT NULL,
			currency                 TEXT NOT NULL DEFAULT 'IDR',
			gateway                  TEXT NOT NULL,
			external_subscription_id TEXT,
			status                   TEXT NOT NULL,
			current_period_start     TIMESTAMPTZ NOT NULL,
			current_period_end       TIMESTAMPTZ NOT NULL,
			auto_renew               BOOLEAN NOT NULL DEFAULT FALSE,
			renewal_count            INT NOT NULL DEFAULT 0,
			cancelled_at             TIMESTAMPTZ,
			cancel_reason            TEXT NOT NULL DEFAULT '',
			created_at               TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at               TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			version                  BIGINT NOT NULL DEFAULT 1
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_subscriptions_one_active
			ON subscriptions(supporter_id, creator_id) WHERE status = 'active';
		CREATE INDEX IF NOT EXISTS idx_subscriptions_pair ON subscriptions(supporter_id, creator_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_subscriptions_status_end ON subscriptions(status, current_period_end);

		CREATE TABLE IF NOT EXISTS subscription_reminders (
			subscription_id TEXT NOT NULL REFERENCES subscriptions(id),
			period_end      TIMESTAMPTZ NOT NULL,
			threshold_days  INT NOT NULL,
			sent_at         TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (subscription_id, period_end, threshold_days)
		);

		CREATE TABLE IF NOT EXISTS supporters (
			supporter_id TEXT NOT NULL,
			creator_id   TEXT NOT NULL,
			tier_level   INT NOT NULL,
			active       BOOLEAN NOT NULL DEFAULT FALSE,
			amount       NUMERIC(14,2) NOT NULL DEFAULT 0,
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (supporter_id, creator_id)
		);

		CREATE TABLE IF NOT EXISTS transactions (
			key             TEXT PRIMARY KEY,
			supporter_id    TEXT NOT NULL,
			creator_id      TEXT NOT NULL,
			subscription_id TEXT,
			tier_level      INT NOT NULL,
			amount          NUMERIC(14,2) NOT NULL,
			currency        TEXT NOT NULL DEFAULT 'IDR',
			gateway         TEXT NOT NULL,
			external_ref    TEXT NOT NULL DEFAULT '',
			recurring       BOOLEAN NOT NULL DEFAULT FALSE,
			status          TEXT NOT NULL,
			raw_payload     TEXT NOT NULL DEFAULT '',
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_transactions_subscription ON transactions(subscription_id);

		CREATE TABLE IF NOT EXISTS community_channels (
			id          TEXT PRIMARY KEY,
			creator_id  TEXT NOT NULL,
			name        TEXT NOT NULL,
			external_id TEXT NOT NULL DEFAULT '',
			min_tier    INT NOT NULL DEFAULT 1,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_community_channels_creator ON community_channels(creator_id);

		CREATE TABLE IF NOT EXISTS notification_preferences (
			supporter_id TEXT NOT NULL,
			creator_id   TEXT NOT NULL,
			muted        BOOLEAN NOT NULL DEFAULT FALSE,
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (supporter_id, creator_id)
		);

		CREATE TABLE IF NOT EXISTS notification_outbox (
			id              BIGSERIAL PRIMARY KEY,
			kind            TEXT NOT NULL,
			recipient       TEXT NOT NULL,
			data            JSONB NOT NULL DEFAULT '{}',
			attempts        INT NOT NULL DEFAULT 0,
			status          TEXT NOT NULL DEFAULT 'pending',
			last_error      TEXT NOT NULL DEFAULT '',
			next_attempt_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			locked_until    TIMESTAMPTZ,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_notification_outbox_due ON notification_outbox(status, next_attempt_at);

		CREATE TABLE IF NOT EXISTS lifecycle_outcomes (
			transaction_key TEXT PRIMARY KEY,
			result          JSONB NOT NULL,
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`
	_, err := pool.Exec(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// isUniqueViolation reports a unique_violation (23505) from PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}
