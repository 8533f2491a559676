package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is applied in order. Every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id          VARCHAR(64) PRIMARY KEY,
		name        VARCHAR(255) NOT NULL DEFAULT '',
		role        VARCHAR(20) NOT NULL CHECK (role IN ('admin', 'treasury', 'owner', 'driver')),
		password    TEXT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS accounts (
		id            BIGSERIAL PRIMARY KEY,
		owner_type    VARCHAR(10) NOT NULL CHECK (owner_type IN ('owner', 'driver')),
		principal_id  VARCHAR(64) NOT NULL,
		balance       NUMERIC(14,2) NOT NULL DEFAULT 0 CHECK (balance >= 0),
		version       INTEGER NOT NULL DEFAULT 1,
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (owner_type, principal_id)
	)`,
	`CREATE TABLE IF NOT EXISTS closings (
		id                    BIGSERIAL PRIMARY KEY,
		closing_date          DATE NOT NULL,
		sequence              INTEGER NOT NULL,
		performed_by          VARCHAR(64) NOT NULL,
		system_total          NUMERIC(14,2) NOT NULL,
		counted_total         NUMERIC(14,2) NOT NULL,
		difference            NUMERIC(14,2) NOT NULL,
		request_count         INTEGER NOT NULL DEFAULT 0,
		approved_count        INTEGER NOT NULL DEFAULT 0,
		trip_count            INTEGER NOT NULL DEFAULT 0,
		includes_prior_dates  BOOLEAN NOT NULL DEFAULT FALSE,
		earliest_entry_at     TIMESTAMPTZ,
		note                  TEXT,
		status                VARCHAR(10) NOT NULL CHECK (status IN ('closed', 'reopened', 'adjusted')),
		adjustment_amount     NUMERIC(14,2),
		adjustment_note       TEXT,
		status_changed_by     VARCHAR(64),
		status_changed_at     TIMESTAMPTZ,
		created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (performed_by, closing_date, sequence)
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_entries (
		id              BIGSERIAL PRIMARY KEY,
		kind            VARCHAR(20) NOT NULL,
		status          VARCHAR(10) NOT NULL CHECK (status IN ('pending', 'approved', 'rejected', 'completed')),
		direction       VARCHAR(6) NOT NULL CHECK (direction IN ('credit', 'debit')),
		amount          NUMERIC(14,2) NOT NULL CHECK (amount > 0),
		balance_before  NUMERIC(14,2),
		balance_after   NUMERIC(14,2),
		account_id      BIGINT NOT NULL REFERENCES accounts(id),
		driver_id       VARCHAR(64),
		requester_role  VARCHAR(20) NOT NULL,
		requested_by    VARCHAR(64) NOT NULL,
		approver_id     VARCHAR(64),
		method          VARCHAR(10),
		proof_ref       TEXT,
		description     TEXT,
		transfer_ref    UUID,
		closing_id      BIGINT REFERENCES closings(id),
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		resolved_at     TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_entries_account ON ledger_entries(account_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_entries_unclosed ON ledger_entries(kind, status) WHERE closing_id IS NULL`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_entries_closing ON ledger_entries(closing_id)`,
	`CREATE TABLE IF NOT EXISTS authorization_keys (
		id            SMALLINT PRIMARY KEY CHECK (id = 1),
		admin_id      VARCHAR(64) NOT NULL,
		key_version   UUID,
		secret_hash   TEXT,
		secret_plain  TEXT,
		is_temporary  BOOLEAN NOT NULL DEFAULT FALSE,
		expires_at    TIMESTAMPTZ,
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS authorization_key_uses (
		key_version   UUID NOT NULL,
		principal_id  VARCHAR(64) NOT NULL,
		used_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (key_version, principal_id)
	)`,
	`CREATE TABLE IF NOT EXISTS maintenance_progress (
		id                  SMALLINT PRIMARY KEY CHECK (id = 1),
		cutoff              TIMESTAMPTZ NOT NULL,
		cutoff_age_seconds  BIGINT NOT NULL,
		eliminated          BIGINT NOT NULL DEFAULT 0,
		remaining           BIGINT NOT NULL DEFAULT 0,
		completed           BOOLEAN NOT NULL DEFAULT FALSE,
		started_at          TIMESTAMPTZ NOT NULL,
		updated_at          TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS trips (
		id          BIGSERIAL PRIMARY KEY,
		driver_id   VARCHAR(64) NOT NULL,
		started_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tickets (
		id          BIGSERIAL PRIMARY KEY,
		trip_id     BIGINT REFERENCES trips(id),
		status      VARCHAR(20) NOT NULL DEFAULT 'pending',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// Migrate creates the treasury tables inside one transaction.
func Migrate(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback()

	for i, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	return nil
}
