package db

import (
	"fmt"

	"gorm.io/gorm"
)

var migrationStatements = []string{
	`DO $$
	BEGIN
		IF NOT EXISTS (SELECT 1 FROM pg_type WHERE typname = 'sealed_bid_status') THEN
			CREATE TYPE sealed_bid_status AS ENUM ('SEALED', 'OPENED');
		END IF;
		IF NOT EXISTS (SELECT 1 FROM pg_type WHERE typname = 'opening_session_status') THEN
			CREATE TYPE opening_session_status AS ENUM ('PENDING', 'IN_PROGRESS', 'COMPLETED');
		END IF;
		IF NOT EXISTS (SELECT 1 FROM pg_type WHERE typname = 'security_incident_status') THEN
			CREATE TYPE security_incident_status AS ENUM ('OPEN', 'ACKNOWLEDGED');
		END IF;
	END
	$$;`,
	`CREATE TABLE IF NOT EXISTS sealed_bids (
		id UUID PRIMARY KEY,
		tender_id UUID NOT NULL,
		tender_ref VARCHAR(128) NOT NULL DEFAULT '',
		supplier_id UUID NOT NULL,
		supplier_name VARCHAR(255) NOT NULL DEFAULT '',
		status sealed_bid_status NOT NULL DEFAULT 'SEALED',
		key_id VARCHAR(64) NOT NULL,
		ciphertext BYTEA,
		nonce BYTEA,
		auth_tag BYTEA,
		ciphertext_digest CHAR(64) NOT NULL,
		sealed_at TIMESTAMPTZ NOT NULL,
		opening_deadline TIMESTAMPTZ NOT NULL,
		decrypted_bid JSONB,
		opened_at TIMESTAMPTZ,
		opened_by UUID,
		CONSTRAINT chk_sealed_bid_payload CHECK (
			(status = 'SEALED' AND ciphertext IS NOT NULL AND nonce IS NOT NULL AND auth_tag IS NOT NULL AND decrypted_bid IS NULL)
			OR
			(status = 'OPENED' AND ciphertext IS NULL AND nonce IS NULL AND auth_tag IS NULL AND decrypted_bid IS NOT NULL AND opened_at IS NOT NULL)
		)
	);`,
	`CREATE INDEX IF NOT EXISTS idx_sealed_bids_tender_id ON sealed_bids (tender_id, status);`,
	`CREATE OR REPLACE FUNCTION sealed_bids_forward_only() RETURNS trigger AS $$
	BEGIN
		IF OLD.status = 'OPENED' THEN
			RAISE EXCEPTION 'sealed bid % is already opened', OLD.id;
		END IF;
		RETURN NEW;
	END
	$$ LANGUAGE plpgsql;`,
	`DROP TRIGGER IF EXISTS trg_sealed_bids_forward_only ON sealed_bids;`,
	`CREATE TRIGGER trg_sealed_bids_forward_only
		BEFORE UPDATE ON sealed_bids
		FOR EACH ROW EXECUTE FUNCTION sealed_bids_forward_only();`,
	`CREATE TABLE IF NOT EXISTS opening_sessions (
		id UUID PRIMARY KEY,
		tender_id UUID NOT NULL,
		tender_ref VARCHAR(128) NOT NULL DEFAULT '',
		tender_title TEXT NOT NULL DEFAULT '',
		scheduled_at TIMESTAMPTZ NOT NULL,
		started_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		status opening_session_status NOT NULL DEFAULT 'PENDING',
		total_bids INTEGER NOT NULL DEFAULT 0 CHECK (total_bids >= 0),
		opened_bids INTEGER NOT NULL DEFAULT 0 CHECK (opened_bids >= 0 AND opened_bids <= total_bids),
		created_by UUID NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_opening_sessions_active_tender
		ON opening_sessions (tender_id) WHERE status <> 'COMPLETED';`,
	`CREATE INDEX IF NOT EXISTS idx_opening_sessions_status ON opening_sessions (status, scheduled_at);`,
	`CREATE OR REPLACE FUNCTION opening_sessions_forward_only() RETURNS trigger AS $$
	BEGIN
		IF NEW.status < OLD.status THEN
			RAISE EXCEPTION 'opening session % cannot move from % to %', OLD.id, OLD.status, NEW.status;
		END IF;
		IF NEW.opened_bids < OLD.opened_bids THEN
			RAISE EXCEPTION 'opening session % opened_bids cannot decrease', OLD.id;
		END IF;
		IF NEW.status = 'COMPLETED' AND NEW.opened_bids <> NEW.total_bids THEN
			RAISE EXCEPTION 'opening session % cannot complete with unopened bids', OLD.id;
		END IF;
		RETURN NEW;
	END
	$$ LANGUAGE plpgsql;`,
	`DROP TRIGGER IF EXISTS trg_opening_sessions_forward_only ON opening_sessions;`,
	`CREATE TRIGGER trg_opening_sessions_forward_only
		BEFORE UPDATE ON opening_sessions
		FOR EACH ROW EXECUTE FUNCTION opening_sessions_forward_only();`,
	`CREATE TABLE IF NOT EXISTS opening_committee_members (
		session_id UUID NOT NULL REFERENCES opening_sessions(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		user_id UUID NOT NULL,
		name VARCHAR(255) NOT NULL,
		role VARCHAR(64) NOT NULL DEFAULT '',
		attended BOOLEAN NOT NULL DEFAULT FALSE,
		attended_at TIMESTAMPTZ,
		PRIMARY KEY (session_id, user_id)
	);`,
	`CREATE TABLE IF NOT EXISTS audit_events (
		seq BIGSERIAL PRIMARY KEY,
		id UUID NOT NULL UNIQUE,
		type VARCHAR(64) NOT NULL,
		actor VARCHAR(64) NOT NULL,
		tender_id UUID,
		session_id UUID,
		bid_id UUID,
		outcome VARCHAR(16) NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		occurred_at TIMESTAMPTZ NOT NULL,
		prev_hash CHAR(64) NOT NULL DEFAULT '',
		hash CHAR(64) NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_audit_events_tender_id ON audit_events (tender_id) WHERE tender_id IS NOT NULL;`,
	`CREATE INDEX IF NOT EXISTS idx_audit_events_bid_id ON audit_events (bid_id) WHERE bid_id IS NOT NULL;`,
	`CREATE OR REPLACE FUNCTION audit_events_append_only() RETURNS trigger AS $$
	BEGIN
		RAISE EXCEPTION 'audit_events is append-only';
	END
	$$ LANGUAGE plpgsql;`,
	`DROP TRIGGER IF EXISTS trg_audit_events_append_only ON audit_events;`,
	`CREATE TRIGGER trg_audit_events_append_only
		BEFORE UPDATE OR DELETE ON audit_events
		FOR EACH ROW EXECUTE FUNCTION audit_events_append_only();`,
	`CREATE TABLE IF NOT EXISTS security_incidents (
		id UUID PRIMARY KEY,
		event_id UUID NOT NULL REFERENCES audit_events(id),
		bid_id UUID NOT NULL,
		tender_id UUID NOT NULL,
		session_id UUID,
		detail TEXT NOT NULL DEFAULT '',
		status security_incident_status NOT NULL DEFAULT 'OPEN',
		opened_at TIMESTAMPTZ NOT NULL,
		acknowledged_at TIMESTAMPTZ,
		acknowledged_by UUID
	);`,
	`CREATE INDEX IF NOT EXISTS idx_security_incidents_status ON security_incidents (status, opened_at);`,
}

// Migrate applies every statement in order. Statements are idempotent so it
// is safe to run on each start.
func Migrate(db *gorm.DB) error {
	for i, stmt := range migrationStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
