package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ReportFormat string

const (
	ReportFormatPDF    ReportFormat = "pdf"
	ReportFormatXLSX   ReportFormat = "xlsx"
	ReportFormatSigned ReportFormat = "cose"
)

type RankedBid struct {
	Rank             int             `cbor:"1,keyasint" json:"rank"`
	BidID            uuid.UUID       `cbor:"2,keyasint" json:"bid_id"`
	SupplierID       uuid.UUID       `cbor:"3,keyasint" json:"supplier_id"`
	SupplierName     string          `cbor:"4,keyasint" json:"supplier_name"`
	Amount           decimal.Decimal `cbor:"5,keyasint" json:"amount"`
	Currency         string          `cbor:"6,keyasint" json:"currency"`
	ValidityDays     int             `cbor:"7,keyasint" json:"validity_days"`
	SealedAt         time.Time       `cbor:"8,keyasint" json:"sealed_at"`
	OpenedAt         time.Time       `cbor:"9,keyasint" json:"opened_at"`
	CiphertextDigest string          `cbor:"10,keyasint" json:"ciphertext_digest"`
}

type ReportSummary struct {
	Count         int             `cbor:"1,keyasint" json:"count"`
	Lowest        decimal.Decimal `cbor:"2,keyasint" json:"lowest"`
	Highest       decimal.Decimal `cbor:"3,keyasint" json:"highest"`
	Average       decimal.Decimal `cbor:"4,keyasint" json:"average"`
	Currency      string          `cbor:"5,keyasint" json:"currency,omitempty"`
	MixedCurrency bool            `cbor:"6,keyasint" json:"mixed_currency"`
}

type AttendanceRecord struct {
	UserID     uuid.UUID  `cbor:"1,keyasint" json:"user_id"`
	Name       string     `cbor:"2,keyasint" json:"name"`
	Role       string     `cbor:"3,keyasint" json:"role"`
	Attended   bool       `cbor:"4,keyasint" json:"attended"`
	AttendedAt *time.Time `cbor:"5,keyasint" json:"attended_at,omitempty"`
}

// OpeningReport is a projection of a completed session. It can be rebuilt at
// any time from the stored bids and session and is never persisted.
type OpeningReport struct {
	SessionID   uuid.UUID          `cbor:"1,keyasint" json:"session_id"`
	TenderID    uuid.UUID          `cbor:"2,keyasint" json:"tender_id"`
	TenderRef   string             `cbor:"3,keyasint" json:"tender_ref"`
	TenderTitle string             `cbor:"4,keyasint" json:"tender_title"`
	ScheduledAt time.Time          `cbor:"5,keyasint" json:"scheduled_at"`
	StartedAt   *time.Time         `cbor:"6,keyasint" json:"started_at,omitempty"`
	CompletedAt time.Time          `cbor:"7,keyasint" json:"completed_at"`
	Committee   []AttendanceRecord `cbor:"8,keyasint" json:"committee"`
	Ranking     []RankedBid        `cbor:"9,keyasint" json:"ranking"`
	Summary     ReportSummary      `cbor:"10,keyasint" json:"summary"`
	Digest      string             `cbor:"-" json:"digest"`
	GeneratedAt time.Time          `cbor:"-" json:"generated_at"`
}
