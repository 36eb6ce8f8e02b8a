package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/nurpe/sealed-bids/internal/model"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record conflict")
)

// Store groups the repositories that take part in bid opening. Transaction
// runs fn against a Store whose reads lock the rows they return and whose
// writes commit together or not at all.
type Store interface {
	Bids() BidRepository
	Sessions() SessionRepository
	Audit() AuditRepository
	Incidents() IncidentRepository
	Transaction(ctx context.Context, fn func(tx Store) error) error
}

type BidRepository interface {
	// Create fails with ErrConflict if the id is taken.
	Create(ctx context.Context, bid *model.SealedBid) error
	Get(ctx context.Context, id uuid.UUID) (*model.SealedBid, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*model.SealedBid, error)
	ListByTender(ctx context.Context, tenderID uuid.UUID) ([]model.SealedBid, error)
	ListSealedIDs(ctx context.Context, tenderID uuid.UUID) ([]uuid.UUID, error)
	// CountSealedByTender counts the bids of the tender still waiting to be opened.
	CountSealedByTender(ctx context.Context, tenderID uuid.UUID) (int, error)
	// SaveOpened persists the OPENED state; ErrConflict if the bid is no longer SEALED.
	SaveOpened(ctx context.Context, bid *model.SealedBid) error
}

type SessionRepository interface {
	// Create fails with ErrConflict if the tender already has a session that is not COMPLETED.
	Create(ctx context.Context, session *model.OpeningSession) error
	Get(ctx context.Context, id uuid.UUID) (*model.OpeningSession, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*model.OpeningSession, error)
	ActiveByTender(ctx context.Context, tenderID uuid.UUID) (*model.OpeningSession, error)
	ListByStatus(ctx context.Context, status *model.SessionStatus) ([]model.OpeningSession, error)
	SaveAttendance(ctx context.Context, sessionID uuid.UUID, member model.CommitteeMember) error
	SaveProgress(ctx context.Context, session *model.OpeningSession) error
}

type AuditRepository interface {
	Append(ctx context.Context, event *model.AuditEvent) error
	List(ctx context.Context, filter model.AuditFilter) ([]model.AuditEvent, error)
}

type IncidentRepository interface {
	Open(ctx context.Context, incident *model.Incident) error
	Get(ctx context.Context, id uuid.UUID) (*model.Incident, error)
	List(ctx context.Context, status *model.IncidentStatus) ([]model.Incident, error)
	// Acknowledge fails with ErrConflict if the incident was already acknowledged.
	Acknowledge(ctx context.Context, id uuid.UUID, by uuid.UUID, at time.Time) error
}
