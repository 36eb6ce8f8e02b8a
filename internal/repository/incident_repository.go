package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nurpe/sealed-bids/internal/model"
)

type PostgresIncidentRepository struct {
	db *gorm.DB
}

func NewPostgresIncidentRepository(db *gorm.DB) *PostgresIncidentRepository {
	return &PostgresIncidentRepository{db: db}
}

const incidentColumns = `
	id,
	event_id,
	bid_id,
	tender_id,
	session_id,
	detail,
	status,
	opened_at,
	acknowledged_at,
	acknowledged_by
`

func (r *PostgresIncidentRepository) Open(ctx context.Context, incident *model.Incident) error {
	err := r.db.WithContext(ctx).Exec(`
		INSERT INTO security_incidents (`+incidentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		incident.ID,
		incident.EventID,
		incident.BidID,
		incident.TenderID,
		incident.SessionID,
		incident.Detail,
		incident.Status,
		incident.OpenedAt,
		incident.AcknowledgedAt,
		incident.AcknowledgedBy,
	).Error
	return translate(err)
}

func (r *PostgresIncidentRepository) Get(ctx context.Context, id uuid.UUID) (*model.Incident, error) {
	var incident model.Incident
	if err := r.db.WithContext(ctx).Raw(`
		SELECT `+incidentColumns+`
		FROM security_incidents
		WHERE id = ?
		LIMIT 1
	`, id).Scan(&incident).Error; err != nil {
		return nil, err
	}
	if incident.ID == uuid.Nil {
		return nil, ErrNotFound
	}
	return &incident, nil
}

func (r *PostgresIncidentRepository) List(ctx context.Context, status *model.IncidentStatus) ([]model.Incident, error) {
	query := r.db.WithContext(ctx).Raw(`
		SELECT ` + incidentColumns + `
		FROM security_incidents
		ORDER BY opened_at ASC, id ASC
	`)
	if status != nil {
		query = r.db.WithContext(ctx).Raw(`
			SELECT `+incidentColumns+`
			FROM security_incidents
			WHERE status = ?
			ORDER BY opened_at ASC, id ASC
		`, *status)
	}

	var incidents []model.Incident
	if err := query.Scan(&incidents).Error; err != nil {
		return nil, err
	}
	return incidents, nil
}

func (r *PostgresIncidentRepository) Acknowledge(ctx context.Context, id uuid.UUID, by uuid.UUID, at time.Time) error {
	result := r.db.WithContext(ctx).Exec(`
		UPDATE security_incidents
		SET status = ?, acknowledged_at = ?, acknowledged_by = ?
		WHERE id = ? AND status = ?
	`, model.IncidentStatusAcknowledged, at, by, id, model.IncidentStatusOpen)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}
