package keystore

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/nurpe/sealed-bids/internal/model"
)

func testPayload() model.BidPayload {
	return model.BidPayload{
		Amount:       decimal.NewFromInt(1000),
		Currency:     "KZT",
		ValidityDays: 30,
		Submitter:    model.Submitter{Name: "Test"},
		SubmittedAt:  time.Now().UTC(),
	}
}
