package repository

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nurpe/sealed-bids/internal/model"
)

// auditChainLock serializes appends so every event links to the latest hash.
const auditChainLock = 7_310_442_019

type PostgresAuditRepository struct {
	db *gorm.DB
}

func NewPostgresAuditRepository(db *gorm.DB) *PostgresAuditRepository {
	return &PostgresAuditRepository{db: db}
}

type auditRow struct {
	ID         uuid.UUID
	Seq        int64
	Type       string
	Actor      string
	TenderID   *uuid.UUID
	SessionID  *uuid.UUID
	BidID      *uuid.UUID
	Outcome    string
	Detail     string
	OccurredAt time.Time
	PrevHash   string
	Hash       string
}

func (r *PostgresAuditRepository) Append(ctx context.Context, event *model.AuditEvent) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(`SELECT pg_advisory_xact_lock(?)`, auditChainLock).Error; err != nil {
			return err
		}

		var prev string
		if err := tx.Raw(`
			SELECT hash FROM audit_events ORDER BY seq DESC LIMIT 1
		`).Scan(&prev).Error; err != nil {
			return err
		}

		event.PrevHash = prev
		event.Hash = event.Digest(prev)

		return tx.Raw(`
			INSERT INTO audit_events (
				id,
				type,
				actor,
				tender_id,
				session_id,
				bid_id,
				outcome,
				detail,
				occurred_at,
				prev_hash,
				hash
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			RETURNING seq
		`,
			event.ID,
			event.Type,
			event.Actor,
			event.TenderID,
			event.SessionID,
			event.BidID,
			event.Outcome,
			event.Detail,
			event.OccurredAt,
			event.PrevHash,
			event.Hash,
		).Scan(&event.Seq).Error
	})
}

func (r *PostgresAuditRepository) List(ctx context.Context, filter model.AuditFilter) ([]model.AuditEvent, error) {
	query := `
		SELECT id, seq, type, actor, tender_id, session_id, bid_id, outcome, detail, occurred_at, prev_hash, hash
		FROM audit_events
	`
	var args []interface{}
	var filters []string
	if filter.TenderID != nil {
		filters = append(filters, "tender_id = ?")
		args = append(args, *filter.TenderID)
	}
	if filter.SessionID != nil {
		filters = append(filters, "session_id = ?")
		args = append(args, *filter.SessionID)
	}
	if filter.BidID != nil {
		filters = append(filters, "bid_id = ?")
		args = append(args, *filter.BidID)
	}
	if filter.Type != nil {
		filters = append(filters, "type = ?")
		args = append(args, *filter.Type)
	}
	if len(filters) > 0 {
		query += " WHERE " + strings.Join(filters, " AND ")
	}
	query += " ORDER BY seq ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	var rows []auditRow
	if err := r.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}

	events := make([]model.AuditEvent, 0, len(rows))
	for _, row := range rows {
		events = append(events, model.AuditEvent{
			ID:         row.ID,
			Seq:        row.Seq,
			Type:       model.AuditEventType(row.Type),
			Actor:      row.Actor,
			TenderID:   row.TenderID,
			SessionID:  row.SessionID,
			BidID:      row.BidID,
			Outcome:    model.AuditOutcome(row.Outcome),
			Detail:     row.Detail,
			OccurredAt: row.OccurredAt,
			PrevHash:   row.PrevHash,
			Hash:       row.Hash,
		})
	}
	return events, nil
}
