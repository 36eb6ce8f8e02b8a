package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type BidStatus string

const (
	BidStatusSealed BidStatus = "SEALED"
	BidStatusOpened BidStatus = "OPENED"
)

type SealedBid struct {
	ID           uuid.UUID
	TenderID     uuid.UUID
	TenderRef    string
	SupplierID   uuid.UUID
	SupplierName string
	Status       BidStatus
	KeyID        string
	Ciphertext   []byte
	Nonce        []byte
	AuthTag      []byte
	// CiphertextDigest survives opening and ties the revealed payload to what was sealed.
	CiphertextDigest string
	SealedAt         time.Time
	OpeningDeadline  time.Time
	DecryptedBid     *BidPayload
	OpenedAt         *time.Time
	OpenedBy         *uuid.UUID
}

func (b *SealedBid) IsSealed() bool {
	return b.Status == BidStatusSealed
}

// MarkOpened records the revealed payload and drops the ciphertext. It reports
// false when the bid has already left the SEALED state.
func (b *SealedBid) MarkOpened(payload BidPayload, at time.Time, by uuid.UUID) bool {
	if b.Status != BidStatusSealed {
		return false
	}
	openedAt := at
	openedBy := by
	b.Status = BidStatusOpened
	b.DecryptedBid = &payload
	b.OpenedAt = &openedAt
	b.OpenedBy = &openedBy
	b.Ciphertext = nil
	b.Nonce = nil
	b.AuthTag = nil
	return true
}

// BidPayload is the plaintext a supplier submits. It only ever exists in
// memory before sealing and after opening.
type BidPayload struct {
	Amount       decimal.Decimal `cbor:"1,keyasint" json:"amount"`
	Currency     string          `cbor:"2,keyasint" json:"currency"`
	ValidityDays int             `cbor:"3,keyasint" json:"validity_days"`
	Declarations []Declaration   `cbor:"4,keyasint" json:"declarations"`
	Submitter    Submitter       `cbor:"5,keyasint" json:"submitter"`
	SubmittedAt  time.Time       `cbor:"6,keyasint" json:"submitted_at"`
	Notes        string          `cbor:"7,keyasint,omitempty" json:"notes,omitempty"`
}

type Declaration struct {
	Code     string `cbor:"1,keyasint" json:"code"`
	Text     string `cbor:"2,keyasint" json:"text"`
	Accepted bool   `cbor:"3,keyasint" json:"accepted"`
}

type Submitter struct {
	Name     string `cbor:"1,keyasint" json:"name"`
	Position string `cbor:"2,keyasint,omitempty" json:"position,omitempty"`
	Email    string `cbor:"3,keyasint,omitempty" json:"email,omitempty"`
}
