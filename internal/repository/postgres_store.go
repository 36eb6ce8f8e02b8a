package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// PostgresStore is the Store backed by gorm over postgres. Inside Transaction
// every ForUpdate read takes a row lock held until commit.
type PostgresStore struct {
	db *gorm.DB
}

func NewPostgresStore(db *gorm.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Bids() BidRepository {
	return NewPostgresBidRepository(s.db)
}

func (s *PostgresStore) Sessions() SessionRepository {
	return NewPostgresSessionRepository(s.db)
}

func (s *PostgresStore) Audit() AuditRepository {
	return NewPostgresAuditRepository(s.db)
}

func (s *PostgresStore) Incidents() IncidentRepository {
	return NewPostgresIncidentRepository(s.db)
}

func (s *PostgresStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&PostgresStore{db: tx})
	})
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrConflict
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	default:
		return err
	}
}
