package model

import (
	"time"

	"github.com/google/uuid"
)

type SessionStatus string

const (
	SessionStatusPending    SessionStatus = "PENDING"
	SessionStatusInProgress SessionStatus = "IN_PROGRESS"
	SessionStatusCompleted  SessionStatus = "COMPLETED"
)

func (s SessionStatus) Valid() bool {
	switch s {
	case SessionStatusPending, SessionStatusInProgress, SessionStatusCompleted:
		return true
	default:
		return false
	}
}

type CommitteeMember struct {
	UserID     uuid.UUID
	Name       string
	Role       string
	Attended   bool
	AttendedAt *time.Time
}

type OpeningSession struct {
	ID          uuid.UUID
	TenderID    uuid.UUID
	TenderRef   string
	TenderTitle string
	ScheduledAt time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	Status      SessionStatus
	Committee   []CommitteeMember
	TotalBids   int
	OpenedBids  int
	CreatedBy   uuid.UUID
	CreatedAt   time.Time
}

func (s *OpeningSession) Member(userID uuid.UUID) (*CommitteeMember, bool) {
	for i := range s.Committee {
		if s.Committee[i].UserID == userID {
			return &s.Committee[i], true
		}
	}
	return nil, false
}

// Start moves a PENDING session to IN_PROGRESS. A tender without bids has
// nothing to open and completes in the same step.
func (s *OpeningSession) Start(totalBids int, at time.Time) bool {
	if s.Status != SessionStatusPending {
		return false
	}
	startedAt := at
	s.Status = SessionStatusInProgress
	s.StartedAt = &startedAt
	s.TotalBids = totalBids
	s.OpenedBids = 0
	if totalBids == 0 {
		s.complete(at)
	}
	return true
}

// RecordOpened counts one more opened bid and completes the session once
// every bid has been opened.
func (s *OpeningSession) RecordOpened(at time.Time) bool {
	if s.Status != SessionStatusInProgress || s.OpenedBids >= s.TotalBids {
		return false
	}
	s.OpenedBids++
	if s.OpenedBids == s.TotalBids {
		s.complete(at)
	}
	return true
}

func (s *OpeningSession) complete(at time.Time) {
	completedAt := at
	s.Status = SessionStatusCompleted
	s.CompletedAt = &completedAt
}

func (s *OpeningSession) Clone() OpeningSession {
	clone := *s
	clone.Committee = make([]CommitteeMember, len(s.Committee))
	copy(clone.Committee, s.Committee)
	return clone
}
