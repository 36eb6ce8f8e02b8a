package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nurpe/sealed-bids/internal/model"
)

type PostgresSessionRepository struct {
	db *gorm.DB
}

func NewPostgresSessionRepository(db *gorm.DB) *PostgresSessionRepository {
	return &PostgresSessionRepository{db: db}
}

type sessionRow struct {
	ID          uuid.UUID
	TenderID    uuid.UUID
	TenderRef   string
	TenderTitle string
	ScheduledAt time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	Status      string
	TotalBids   int
	OpenedBids  int
	CreatedBy   uuid.UUID
	CreatedAt   time.Time
}

type committeeRow struct {
	SessionID  uuid.UUID
	UserID     uuid.UUID
	Name       string
	Role       string
	Attended   bool
	AttendedAt *time.Time
}

const sessionColumns = `
	id,
	tender_id,
	tender_ref,
	tender_title,
	scheduled_at,
	started_at,
	completed_at,
	status,
	total_bids,
	opened_bids,
	created_by,
	created_at
`

func (r *PostgresSessionRepository) Create(ctx context.Context, session *model.OpeningSession) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(`
			INSERT INTO opening_sessions (
				id,
				tender_id,
				tender_ref,
				tender_title,
				scheduled_at,
				status,
				total_bids,
				opened_bids,
				created_by,
				created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			session.ID,
			session.TenderID,
			session.TenderRef,
			session.TenderTitle,
			session.ScheduledAt,
			session.Status,
			session.TotalBids,
			session.OpenedBids,
			session.CreatedBy,
			session.CreatedAt,
		).Error; err != nil {
			return err
		}

		for position, member := range session.Committee {
			if err := tx.Exec(`
				INSERT INTO opening_committee_members (
					session_id,
					position,
					user_id,
					name,
					role,
					attended,
					attended_at
				) VALUES (?, ?, ?, ?, ?, ?, ?)
			`, session.ID, position, member.UserID, member.Name, member.Role, member.Attended, member.AttendedAt).Error; err != nil {
				return err
			}
		}
		return nil
	})
	return translate(err)
}

func (r *PostgresSessionRepository) Get(ctx context.Context, id uuid.UUID) (*model.OpeningSession, error) {
	return r.getOne(ctx, `SELECT `+sessionColumns+` FROM opening_sessions WHERE id = ? LIMIT 1`, id)
}

func (r *PostgresSessionRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.OpeningSession, error) {
	return r.getOne(ctx, `SELECT `+sessionColumns+` FROM opening_sessions WHERE id = ? FOR UPDATE`, id)
}

func (r *PostgresSessionRepository) ActiveByTender(ctx context.Context, tenderID uuid.UUID) (*model.OpeningSession, error) {
	return r.getOne(ctx, `
		SELECT `+sessionColumns+`
		FROM opening_sessions
		WHERE tender_id = ? AND status <> 'COMPLETED'
		LIMIT 1
		FOR UPDATE
	`, tenderID)
}

func (r *PostgresSessionRepository) getOne(ctx context.Context, query string, arg interface{}) (*model.OpeningSession, error) {
	var row sessionRow
	if err := r.db.WithContext(ctx).Raw(query, arg).Scan(&row).Error; err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, ErrNotFound
	}

	sessions, err := r.attachCommittee(ctx, []sessionRow{row})
	if err != nil {
		return nil, err
	}
	return &sessions[0], nil
}

func (r *PostgresSessionRepository) ListByStatus(ctx context.Context, status *model.SessionStatus) ([]model.OpeningSession, error) {
	query := r.db.WithContext(ctx).Raw(`
		SELECT ` + sessionColumns + `
		FROM opening_sessions
		ORDER BY scheduled_at ASC, id ASC
	`)
	if status != nil {
		query = r.db.WithContext(ctx).Raw(`
			SELECT `+sessionColumns+`
			FROM opening_sessions
			WHERE status = ?
			ORDER BY scheduled_at ASC, id ASC
		`, *status)
	}

	var rows []sessionRow
	if err := query.Scan(&rows).Error; err != nil {
		return nil, err
	}
	return r.attachCommittee(ctx, rows)
}

func (r *PostgresSessionRepository) attachCommittee(ctx context.Context, rows []sessionRow) ([]model.OpeningSession, error) {
	sessions := make([]model.OpeningSession, 0, len(rows))
	if len(rows) == 0 {
		return sessions, nil
	}

	ids := make([]uuid.UUID, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}

	var members []committeeRow
	if err := r.db.WithContext(ctx).Raw(`
		SELECT session_id, user_id, name, role, attended, attended_at
		FROM opening_committee_members
		WHERE session_id IN ?
		ORDER BY session_id, position ASC
	`, ids).Scan(&members).Error; err != nil {
		return nil, err
	}

	bySession := make(map[uuid.UUID][]model.CommitteeMember, len(rows))
	for _, m := range members {
		bySession[m.SessionID] = append(bySession[m.SessionID], model.CommitteeMember{
			UserID:     m.UserID,
			Name:       m.Name,
			Role:       m.Role,
			Attended:   m.Attended,
			AttendedAt: m.AttendedAt,
		})
	}

	for _, row := range rows {
		sessions = append(sessions, model.OpeningSession{
			ID:          row.ID,
			TenderID:    row.TenderID,
			TenderRef:   row.TenderRef,
			TenderTitle: row.TenderTitle,
			ScheduledAt: row.ScheduledAt,
			StartedAt:   row.StartedAt,
			CompletedAt: row.CompletedAt,
			Status:      model.SessionStatus(row.Status),
			Committee:   bySession[row.ID],
			TotalBids:   row.TotalBids,
			OpenedBids:  row.OpenedBids,
			CreatedBy:   row.CreatedBy,
			CreatedAt:   row.CreatedAt,
		})
	}
	return sessions, nil
}

func (r *PostgresSessionRepository) SaveAttendance(ctx context.Context, sessionID uuid.UUID, member model.CommitteeMember) error {
	result := r.db.WithContext(ctx).Exec(`
		UPDATE opening_committee_members
		SET attended = ?, attended_at = ?
		WHERE session_id = ? AND user_id = ?
	`, member.Attended, member.AttendedAt, sessionID, member.UserID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresSessionRepository) SaveProgress(ctx context.Context, session *model.OpeningSession) error {
	result := r.db.WithContext(ctx).Exec(`
		UPDATE opening_sessions
		SET
			status = ?,
			total_bids = ?,
			opened_bids = ?,
			started_at = ?,
			completed_at = ?
		WHERE id = ?
	`, session.Status, session.TotalBids, session.OpenedBids, session.StartedAt, session.CompletedAt, session.ID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
