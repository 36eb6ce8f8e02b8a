package http

import (
	"time"

	"github.com/google/uuid"

	"github.com/nurpe/sealed-bids/internal/model"
	"github.com/nurpe/sealed-bids/internal/service"
)

// sealedBidView is the only shape in which a bid leaves the service. Sealed
// bids expose neither ciphertext nor plaintext.
type sealedBidView struct {
	ID               uuid.UUID         `json:"id"`
	TenderID         uuid.UUID         `json:"tender_id"`
	TenderRef        string            `json:"tender_ref"`
	SupplierID       uuid.UUID         `json:"supplier_id"`
	SupplierName     string            `json:"supplier_name"`
	Status           model.BidStatus   `json:"status"`
	KeyID            string            `json:"key_id"`
	CiphertextDigest string            `json:"ciphertext_digest"`
	SealedAt         time.Time         `json:"sealed_at"`
	OpeningDeadline  time.Time         `json:"opening_deadline"`
	DecryptedBid     *model.BidPayload `json:"decrypted_bid,omitempty"`
	OpenedAt         *time.Time        `json:"opened_at,omitempty"`
	OpenedBy         *uuid.UUID        `json:"opened_by,omitempty"`
}

func newSealedBidView(bid model.SealedBid) sealedBidView {
	view := sealedBidView{
		ID:               bid.ID,
		TenderID:         bid.TenderID,
		TenderRef:        bid.TenderRef,
		SupplierID:       bid.SupplierID,
		SupplierName:     bid.SupplierName,
		Status:           bid.Status,
		KeyID:            bid.KeyID,
		CiphertextDigest: bid.CiphertextDigest,
		SealedAt:         bid.SealedAt,
		OpeningDeadline:  bid.OpeningDeadline,
	}
	if bid.Status == model.BidStatusOpened {
		view.DecryptedBid = bid.DecryptedBid
		view.OpenedAt = bid.OpenedAt
		view.OpenedBy = bid.OpenedBy
	}
	return view
}

func newSealedBidViews(bids []model.SealedBid) []sealedBidView {
	views := make([]sealedBidView, 0, len(bids))
	for _, bid := range bids {
		views = append(views, newSealedBidView(bid))
	}
	return views
}

type committeeMemberView struct {
	UserID     uuid.UUID  `json:"user_id"`
	Name       string     `json:"name"`
	Role       string     `json:"role"`
	Attended   bool       `json:"attended"`
	AttendedAt *time.Time `json:"attended_at,omitempty"`
}

type sessionView struct {
	ID          uuid.UUID             `json:"id"`
	TenderID    uuid.UUID             `json:"tender_id"`
	TenderRef   string                `json:"tender_ref"`
	TenderTitle string                `json:"tender_title"`
	ScheduledAt time.Time             `json:"scheduled_at"`
	StartedAt   *time.Time            `json:"started_at,omitempty"`
	CompletedAt *time.Time            `json:"completed_at,omitempty"`
	Status      model.SessionStatus   `json:"status"`
	Committee   []committeeMemberView `json:"committee"`
	TotalBids   int                   `json:"total_bids"`
	OpenedBids  int                   `json:"opened_bids"`
	CreatedBy   uuid.UUID             `json:"created_by"`
	CreatedAt   time.Time             `json:"created_at"`
}

func newSessionView(session model.OpeningSession) sessionView {
	committee := make([]committeeMemberView, 0, len(session.Committee))
	for _, member := range session.Committee {
		committee = append(committee, committeeMemberView(member))
	}
	return sessionView{
		ID:          session.ID,
		TenderID:    session.TenderID,
		TenderRef:   session.TenderRef,
		TenderTitle: session.TenderTitle,
		ScheduledAt: session.ScheduledAt,
		StartedAt:   session.StartedAt,
		CompletedAt: session.CompletedAt,
		Status:      session.Status,
		Committee:   committee,
		TotalBids:   session.TotalBids,
		OpenedBids:  session.OpenedBids,
		CreatedBy:   session.CreatedBy,
		CreatedAt:   session.CreatedAt,
	}
}

type openingRunView struct {
	Session  sessionView          `json:"session"`
	Opened   []uuid.UUID          `json:"opened"`
	Failures []service.BidFailure `json:"failures"`
}

func newOpeningRunView(run *service.OpeningRun) openingRunView {
	return openingRunView{
		Session:  newSessionView(*run.Session),
		Opened:   run.Opened,
		Failures: run.Failures,
	}
}

type auditEventView struct {
	ID         uuid.UUID            `json:"id"`
	Seq        int64                `json:"seq"`
	Type       model.AuditEventType `json:"type"`
	Actor      string               `json:"actor"`
	TenderID   *uuid.UUID           `json:"tender_id,omitempty"`
	SessionID  *uuid.UUID           `json:"session_id,omitempty"`
	BidID      *uuid.UUID           `json:"bid_id,omitempty"`
	Outcome    model.AuditOutcome   `json:"outcome"`
	Detail     string               `json:"detail"`
	OccurredAt time.Time            `json:"occurred_at"`
	PrevHash   string               `json:"prev_hash"`
	Hash       string               `json:"hash"`
}

func newAuditEventViews(events []model.AuditEvent) []auditEventView {
	views := make([]auditEventView, 0, len(events))
	for _, e := range events {
		views = append(views, auditEventView(e))
	}
	return views
}

type incidentView struct {
	ID             uuid.UUID            `json:"id"`
	EventID        uuid.UUID            `json:"event_id"`
	BidID          uuid.UUID            `json:"bid_id"`
	TenderID       uuid.UUID            `json:"tender_id"`
	SessionID      *uuid.UUID           `json:"session_id,omitempty"`
	Detail         string               `json:"detail"`
	Status         model.IncidentStatus `json:"status"`
	OpenedAt       time.Time            `json:"opened_at"`
	AcknowledgedAt *time.Time           `json:"acknowledged_at,omitempty"`
	AcknowledgedBy *uuid.UUID           `json:"acknowledged_by,omitempty"`
}

func newIncidentViews(incidents []model.Incident) []incidentView {
	views := make([]incidentView, 0, len(incidents))
	for _, incident := range incidents {
		views = append(views, incidentView(incident))
	}
	return views
}
