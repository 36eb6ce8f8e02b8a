package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/nurpe/sealed-bids/internal/audit"
	"github.com/nurpe/sealed-bids/internal/model"
	"github.com/nurpe/sealed-bids/internal/repository"
)

// AttendanceLedger tracks which committee members of a session confirmed
// their presence. Attendance is per session and never carried over.
type AttendanceLedger struct {
	clock   clockwork.Clock
	emitter *audit.Emitter
}

func NewAttendanceLedger(clock clockwork.Clock, emitter *audit.Emitter) *AttendanceLedger {
	return &AttendanceLedger{clock: clock, emitter: emitter}
}

func (l *AttendanceLedger) ValidateRoster(committee []model.CommitteeMember) error {
	if len(committee) == 0 {
		return &InvalidRosterError{Reason: "committee must not be empty"}
	}
	seen := make(map[uuid.UUID]struct{}, len(committee))
	for i, member := range committee {
		if member.UserID == uuid.Nil {
			return &InvalidRosterError{Reason: fmt.Sprintf("member %d has no user id", i)}
		}
		if strings.TrimSpace(member.Name) == "" {
			return &InvalidRosterError{Reason: fmt.Sprintf("member %s has no name", member.UserID)}
		}
		if _, dup := seen[member.UserID]; dup {
			return &InvalidRosterError{Reason: fmt.Sprintf("member %s is listed twice", member.UserID)}
		}
		seen[member.UserID] = struct{}{}
	}
	return nil
}

// ConfirmAttendance marks userID as present. Confirming twice is a no-op.
func (l *AttendanceLedger) ConfirmAttendance(ctx context.Context, store repository.Store, sessionID, userID uuid.UUID) (*model.OpeningSession, error) {
	var result *model.OpeningSession
	err := store.Transaction(ctx, func(tx repository.Store) error {
		session, err := tx.Sessions().GetForUpdate(ctx, sessionID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}

		member, ok := session.Member(userID)
		if !ok {
			return &UnknownMemberError{SessionID: sessionID, UserID: userID}
		}
		if member.Attended {
			result = session
			return nil
		}
		if session.Status != model.SessionStatusPending {
			return &SessionStateError{SessionID: sessionID, Status: session.Status, Want: model.SessionStatusPending}
		}

		now := l.clock.Now().UTC()
		member.Attended = true
		member.AttendedAt = &now
		if err := tx.Sessions().SaveAttendance(ctx, sessionID, *member); err != nil {
			return err
		}

		_, err = l.emitter.Record(ctx, tx.Audit(), model.AuditEvent{
			Type:      model.AuditAttendanceConfirmed,
			Actor:     userID.String(),
			TenderID:  &session.TenderID,
			SessionID: &session.ID,
			Detail:    fmt.Sprintf("%s (%s) confirmed attendance", member.Name, member.Role),
		})
		if err != nil {
			return err
		}
		result = session
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (l *AttendanceLedger) IsQuorumMet(session model.OpeningSession) bool {
	return len(l.PendingMembers(session)) == 0
}

// PendingMembers lists the members who have not confirmed, in roster order.
func (l *AttendanceLedger) PendingMembers(session model.OpeningSession) []model.CommitteeMember {
	var pending []model.CommitteeMember
	for _, member := range session.Committee {
		if !member.Attended {
			pending = append(pending, member)
		}
	}
	return pending
}
