package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nurpe/sealed-bids/internal/model"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrInvalidInput     = errors.New("invalid input")
	ErrSubmissionClosed = errors.New("bid submission is closed")

	ErrInvalidRoster        = errors.New("invalid committee roster")
	ErrDuplicateSession     = errors.New("tender already has an open session")
	ErrNotYetDue            = errors.New("opening not yet due")
	ErrQuorumNotMet         = errors.New("committee quorum not met")
	ErrUnknownMember        = errors.New("user is not on the committee")
	ErrAlreadyOpened        = errors.New("bid already opened")
	ErrDuplicateSeal        = errors.New("bid already sealed")
	ErrSessionNotComplete   = errors.New("opening session not complete")
	ErrSessionState         = errors.New("invalid session state")
	ErrSessionNotInProgress = errors.New("opening session not in progress")
	ErrSealBreach           = errors.New("seal breach")
	ErrIncidentAcknowledged = errors.New("incident already acknowledged")
)

type InvalidRosterError struct {
	Reason string
}

func (e *InvalidRosterError) Error() string {
	return fmt.Sprintf("invalid committee roster: %s", e.Reason)
}

func (e *InvalidRosterError) Unwrap() error { return ErrInvalidRoster }

type DuplicateSessionError struct {
	TenderID uuid.UUID
}

func (e *DuplicateSessionError) Error() string {
	return fmt.Sprintf("tender %s already has an opening session that is not completed", e.TenderID)
}

func (e *DuplicateSessionError) Unwrap() error { return ErrDuplicateSession }

// NotYetDueError carries the earliest moment the operation is allowed.
type NotYetDueError struct {
	DueAt time.Time
}

func (e *NotYetDueError) Error() string {
	return fmt.Sprintf("opening not due until %s", e.DueAt.UTC().Format(time.RFC3339))
}

func (e *NotYetDueError) Unwrap() error { return ErrNotYetDue }

type QuorumNotMetError struct {
	Pending []model.CommitteeMember
}

func (e *QuorumNotMetError) Error() string {
	return fmt.Sprintf("%d committee members have not confirmed", len(e.Pending))
}

func (e *QuorumNotMetError) Unwrap() error { return ErrQuorumNotMet }

type UnknownMemberError struct {
	SessionID uuid.UUID
	UserID    uuid.UUID
}

func (e *UnknownMemberError) Error() string {
	return fmt.Sprintf("user %s is not on the committee of session %s", e.UserID, e.SessionID)
}

func (e *UnknownMemberError) Unwrap() error { return ErrUnknownMember }

type AlreadyOpenedError struct {
	BidID uuid.UUID
}

func (e *AlreadyOpenedError) Error() string {
	return fmt.Sprintf("bid %s is already opened", e.BidID)
}

func (e *AlreadyOpenedError) Unwrap() error { return ErrAlreadyOpened }

type DuplicateSealError struct {
	BidID uuid.UUID
}

func (e *DuplicateSealError) Error() string {
	return fmt.Sprintf("bid %s is already sealed", e.BidID)
}

func (e *DuplicateSealError) Unwrap() error { return ErrDuplicateSeal }

type SessionNotCompleteError struct {
	SessionID uuid.UUID
	Status    model.SessionStatus
}

func (e *SessionNotCompleteError) Error() string {
	return fmt.Sprintf("session %s is %s, report requires COMPLETED", e.SessionID, e.Status)
}

func (e *SessionNotCompleteError) Unwrap() error { return ErrSessionNotComplete }

type SessionStateError struct {
	SessionID uuid.UUID
	Status    model.SessionStatus
	Want      model.SessionStatus
}

func (e *SessionStateError) Error() string {
	return fmt.Sprintf("session %s is %s, expected %s", e.SessionID, e.Status, e.Want)
}

func (e *SessionStateError) Unwrap() error { return ErrSessionState }

// SessionNotInProgressError is returned when a bid is opened outside an
// IN_PROGRESS session. Status is empty when the tender has no open session.
type SessionNotInProgressError struct {
	TenderID uuid.UUID
	Status   model.SessionStatus
}

func (e *SessionNotInProgressError) Error() string {
	if e.Status == "" {
		return fmt.Sprintf("tender %s has no opening session in progress", e.TenderID)
	}
	return fmt.Sprintf("opening session of tender %s is %s", e.TenderID, e.Status)
}

func (e *SessionNotInProgressError) Unwrap() error { return ErrSessionNotInProgress }

// SealBreachError means the stored ciphertext failed authentication. The bid
// stays SEALED and IncidentID names the incident raised for it.
type SealBreachError struct {
	BidID      uuid.UUID
	IncidentID uuid.UUID
}

func (e *SealBreachError) Error() string {
	return fmt.Sprintf("bid %s failed integrity verification; escalate to administrator (incident %s)", e.BidID, e.IncidentID)
}

func (e *SealBreachError) Unwrap() error { return ErrSealBreach }

// rejectionReason classifies an open failure for audit and metrics. It
// returns "" for errors that are not a rejection.
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrAlreadyOpened):
		return "already_opened"
	case errors.Is(err, ErrSessionNotInProgress):
		return "session_not_in_progress"
	case errors.Is(err, ErrNotYetDue):
		return "not_yet_due"
	default:
		return ""
	}
}
