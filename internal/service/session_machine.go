package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/nurpe/sealed-bids/internal/audit"
	"github.com/nurpe/sealed-bids/internal/metrics"
	"github.com/nurpe/sealed-bids/internal/model"
	"github.com/nurpe/sealed-bids/internal/repository"
)

// SessionMachine drives an opening session PENDING -> IN_PROGRESS -> COMPLETED.
// There is no other transition.
type SessionMachine struct {
	clock   clockwork.Clock
	emitter *audit.Emitter
	ledger  *AttendanceLedger
	metrics *metrics.Metrics
}

func NewSessionMachine(clock clockwork.Clock, emitter *audit.Emitter, ledger *AttendanceLedger, m *metrics.Metrics) *SessionMachine {
	return &SessionMachine{clock: clock, emitter: emitter, ledger: ledger, metrics: m}
}

type ScheduleInput struct {
	Tender      model.Tender
	ScheduledAt time.Time
	Committee   []model.CommitteeMember
	CreatedBy   uuid.UUID
}

func (m *SessionMachine) Schedule(ctx context.Context, store repository.Store, input ScheduleInput) (*model.OpeningSession, error) {
	if err := m.ledger.ValidateRoster(input.Committee); err != nil {
		return nil, err
	}
	if input.ScheduledAt.IsZero() {
		return nil, fmt.Errorf("%w: scheduled_at is required", ErrInvalidInput)
	}
	if input.ScheduledAt.Before(input.Tender.SubmissionDeadline) {
		return nil, fmt.Errorf("%w: opening cannot be scheduled before the submission deadline %s",
			ErrInvalidInput, input.Tender.SubmissionDeadline.UTC().Format(time.RFC3339))
	}

	committee := make([]model.CommitteeMember, len(input.Committee))
	for i, member := range input.Committee {
		member.Attended = false
		member.AttendedAt = nil
		committee[i] = member
	}

	session := model.OpeningSession{
		ID:          uuid.New(),
		TenderID:    input.Tender.ID,
		TenderRef:   input.Tender.ReferenceNumber,
		TenderTitle: input.Tender.Title,
		ScheduledAt: input.ScheduledAt.UTC(),
		Status:      model.SessionStatusPending,
		Committee:   committee,
		CreatedBy:   input.CreatedBy,
		CreatedAt:   m.clock.Now().UTC(),
	}

	err := store.Transaction(ctx, func(tx repository.Store) error {
		if err := tx.Sessions().Create(ctx, &session); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return &DuplicateSessionError{TenderID: session.TenderID}
			}
			return err
		}
		_, err := m.emitter.Record(ctx, tx.Audit(), model.AuditEvent{
			Type:      model.AuditSessionScheduled,
			Actor:     input.CreatedBy.String(),
			TenderID:  &session.TenderID,
			SessionID: &session.ID,
			Detail: fmt.Sprintf("scheduled for %s with %d committee members",
				session.ScheduledAt.Format(time.RFC3339), len(session.Committee)),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	m.metrics.Transition(model.SessionStatusPending)
	return &session, nil
}

// Start is a single compare-and-set under the session row lock. The session
// must be PENDING, then due, then fully attended; the first failed check is
// the error returned.
func (m *SessionMachine) Start(ctx context.Context, store repository.Store, sessionID uuid.UUID, actor string) (*model.OpeningSession, error) {
	var started *model.OpeningSession
	err := store.Transaction(ctx, func(tx repository.Store) error {
		session, err := tx.Sessions().GetForUpdate(ctx, sessionID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}
		if session.Status != model.SessionStatusPending {
			return &SessionStateError{SessionID: session.ID, Status: session.Status, Want: model.SessionStatusPending}
		}

		now := m.clock.Now().UTC()
		if now.Before(session.ScheduledAt) {
			return &NotYetDueError{DueAt: session.ScheduledAt}
		}
		if pending := m.ledger.PendingMembers(*session); len(pending) > 0 {
			return &QuorumNotMetError{Pending: pending}
		}

		total, err := tx.Bids().CountSealedByTender(ctx, session.TenderID)
		if err != nil {
			return err
		}
		session.Start(total, now)
		if err := tx.Sessions().SaveProgress(ctx, session); err != nil {
			return err
		}

		_, err = m.emitter.Record(ctx, tx.Audit(), model.AuditEvent{
			Type:      model.AuditSessionStarted,
			Actor:     actor,
			TenderID:  &session.TenderID,
			SessionID: &session.ID,
			Detail:    fmt.Sprintf("%d sealed bids to open", total),
		})
		if err != nil {
			return err
		}
		if err := m.recordCompleted(ctx, tx, session, actor); err != nil {
			return err
		}
		started = session
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.metrics.Transition(model.SessionStatusInProgress)
	if started.Status == model.SessionStatusCompleted {
		m.metrics.Transition(model.SessionStatusCompleted)
	}
	return started, nil
}

// RecordOpened counts an opened bid against the session. It must run in the
// transaction that marked the bid OPENED, with session locked by it.
func (m *SessionMachine) RecordOpened(ctx context.Context, tx repository.Store, session *model.OpeningSession, actor string) error {
	if !session.RecordOpened(m.clock.Now().UTC()) {
		return &SessionStateError{SessionID: session.ID, Status: session.Status, Want: model.SessionStatusInProgress}
	}
	if err := tx.Sessions().SaveProgress(ctx, session); err != nil {
		return err
	}
	return m.recordCompleted(ctx, tx, session, actor)
}

func (m *SessionMachine) recordCompleted(ctx context.Context, tx repository.Store, session *model.OpeningSession, actor string) error {
	if session.Status != model.SessionStatusCompleted {
		return nil
	}
	_, err := m.emitter.Record(ctx, tx.Audit(), model.AuditEvent{
		Type:      model.AuditSessionCompleted,
		Actor:     actor,
		TenderID:  &session.TenderID,
		SessionID: &session.ID,
		Detail:    fmt.Sprintf("%d of %d bids opened", session.OpenedBids, session.TotalBids),
	})
	return err
}
