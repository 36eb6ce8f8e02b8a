package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type AuditEventType string

const (
	AuditSealed              AuditEventType = "SEALED"
	AuditOpenAttempt         AuditEventType = "OPEN_ATTEMPT"
	AuditOpened              AuditEventType = "OPENED"
	AuditFailedOpen          AuditEventType = "FAILED_OPEN"
	AuditAttendanceConfirmed AuditEventType = "ATTENDANCE_CONFIRMED"
	AuditSessionScheduled    AuditEventType = "SESSION_SCHEDULED"
	AuditSessionStarted      AuditEventType = "SESSION_STARTED"
	AuditSessionCompleted    AuditEventType = "SESSION_COMPLETED"
)

type AuditOutcome string

const (
	OutcomeInitiated AuditOutcome = "INITIATED"
	OutcomeSuccess   AuditOutcome = "SUCCESS"
	OutcomeRejected  AuditOutcome = "REJECTED"
	OutcomeFailure   AuditOutcome = "FAILURE"
)

// SystemActor marks events caused by the service itself rather than a user.
const SystemActor = "system"

type AuditEvent struct {
	ID         uuid.UUID
	Seq        int64
	Type       AuditEventType
	Actor      string
	TenderID   *uuid.UUID
	SessionID  *uuid.UUID
	BidID      *uuid.UUID
	Outcome    AuditOutcome
	Detail     string
	OccurredAt time.Time
	PrevHash   string
	Hash       string
}

// Digest chains the event to its predecessor. Seq is assigned by the store
// and is deliberately not part of the digest.
func (e AuditEvent) Digest(prevHash string) string {
	data := fmt.Sprintf("%s|%s|%s|%s|%s|%s|%s|%s|%s|%s",
		prevHash,
		e.ID,
		e.Type,
		e.Actor,
		optionalID(e.TenderID),
		optionalID(e.SessionID),
		optionalID(e.BidID),
		e.Outcome,
		e.Detail,
		e.OccurredAt.UTC().Format(time.RFC3339Nano),
	)
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

func optionalID(id *uuid.UUID) string {
	if id == nil {
		return "-"
	}
	return id.String()
}

type AuditFilter struct {
	TenderID  *uuid.UUID
	SessionID *uuid.UUID
	BidID     *uuid.UUID
	Type      *AuditEventType
	Limit     int
}

type IncidentStatus string

const (
	IncidentStatusOpen         IncidentStatus = "OPEN"
	IncidentStatusAcknowledged IncidentStatus = "ACKNOWLEDGED"
)

// Incident is raised for every integrity failure during opening and stays
// OPEN until an administrator acknowledges it.
type Incident struct {
	ID             uuid.UUID
	EventID        uuid.UUID
	BidID          uuid.UUID
	TenderID       uuid.UUID
	SessionID      *uuid.UUID
	Detail         string
	Status         IncidentStatus
	OpenedAt       time.Time
	AcknowledgedAt *time.Time
	AcknowledgedBy *uuid.UUID
}
