package model

import (
	"time"

	"github.com/google/uuid"
)

// Tender is the read-only projection of a tender owned by the procurement CRUD system.
type Tender struct {
	ID                 uuid.UUID
	ReferenceNumber    string
	Title              string
	SubmissionDeadline time.Time
}

type Supplier struct {
	ID   uuid.UUID
	Name string
}
