package report

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/shopspring/decimal"

	"github.com/nurpe/sealed-bids/internal/model"
)

var (
	ErrSessionNotComplete = errors.New("opening session is not completed")
	ErrBidNotOpened       = errors.New("bid is not opened")
)

// Generator builds opening reports. It never mutates its inputs.
type Generator struct {
	enc cbor.EncMode
}

func NewGenerator() (*Generator, error) {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	enc, err := opts.EncMode()
	if err != nil {
		return nil, fmt.Errorf("failed to build cbor encoder: %w", err)
	}
	return &Generator{enc: enc}, nil
}

// Generate ranks the opened bids of a completed session.
//
// Ranking: ascending amount (lowest price is rank 1). Equal amounts are
// ordered by SealedAt, earlier submission first, and then by bid id so the
// order is total and the same on every run.
func (g *Generator) Generate(session model.OpeningSession, bids []model.SealedBid, now time.Time) (*model.OpeningReport, error) {
	if session.Status != model.SessionStatusCompleted || session.CompletedAt == nil {
		return nil, ErrSessionNotComplete
	}

	opened := make([]model.SealedBid, 0, len(bids))
	for _, bid := range bids {
		if bid.TenderID != session.TenderID {
			continue
		}
		if bid.Status != model.BidStatusOpened || bid.DecryptedBid == nil {
			return nil, fmt.Errorf("%w: %s", ErrBidNotOpened, bid.ID)
		}
		opened = append(opened, bid)
	}

	sort.SliceStable(opened, func(i, j int) bool {
		a, b := opened[i], opened[j]
		if cmp := a.DecryptedBid.Amount.Cmp(b.DecryptedBid.Amount); cmp != 0 {
			return cmp < 0
		}
		if !a.SealedAt.Equal(b.SealedAt) {
			return a.SealedAt.Before(b.SealedAt)
		}
		return a.ID.String() < b.ID.String()
	})

	ranking := make([]model.RankedBid, 0, len(opened))
	for i, bid := range opened {
		var openedAt time.Time
		if bid.OpenedAt != nil {
			openedAt = bid.OpenedAt.UTC()
		}
		ranking = append(ranking, model.RankedBid{
			Rank:             i + 1,
			BidID:            bid.ID,
			SupplierID:       bid.SupplierID,
			SupplierName:     bid.SupplierName,
			Amount:           bid.DecryptedBid.Amount,
			Currency:         bid.DecryptedBid.Currency,
			ValidityDays:     bid.DecryptedBid.ValidityDays,
			SealedAt:         bid.SealedAt.UTC(),
			OpenedAt:         openedAt,
			CiphertextDigest: bid.CiphertextDigest,
		})
	}

	committee := make([]model.AttendanceRecord, 0, len(session.Committee))
	for _, m := range session.Committee {
		committee = append(committee, model.AttendanceRecord{
			UserID:     m.UserID,
			Name:       m.Name,
			Role:       m.Role,
			Attended:   m.Attended,
			AttendedAt: m.AttendedAt,
		})
	}

	report := &model.OpeningReport{
		SessionID:   session.ID,
		TenderID:    session.TenderID,
		TenderRef:   session.TenderRef,
		TenderTitle: session.TenderTitle,
		ScheduledAt: session.ScheduledAt.UTC(),
		StartedAt:   session.StartedAt,
		CompletedAt: session.CompletedAt.UTC(),
		Committee:   committee,
		Ranking:     ranking,
		Summary:     summarize(ranking),
		GeneratedAt: now.UTC(),
	}

	digest, err := g.Digest(report)
	if err != nil {
		return nil, err
	}
	report.Digest = digest
	return report, nil
}

// Encode returns the canonical CBOR form of the report. GeneratedAt and
// Digest are excluded so regenerating a report yields identical bytes.
func (g *Generator) Encode(report *model.OpeningReport) ([]byte, error) {
	data, err := g.enc.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("failed to encode report: %w", err)
	}
	return data, nil
}

// Decode parses the canonical CBOR form back into a report. Digest and
// GeneratedAt are left empty.
func Decode(data []byte) (*model.OpeningReport, error) {
	var report model.OpeningReport
	if err := cbor.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}
	return &report, nil
}

func (g *Generator) Digest(report *model.OpeningReport) (string, error) {
	data, err := g.Encode(report)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func summarize(ranking []model.RankedBid) model.ReportSummary {
	summary := model.ReportSummary{
		Count:   len(ranking),
		Lowest:  decimal.Zero,
		Highest: decimal.Zero,
		Average: decimal.Zero,
	}
	if len(ranking) == 0 {
		return summary
	}

	total := decimal.Zero
	summary.Lowest = ranking[0].Amount
	summary.Highest = ranking[0].Amount
	summary.Currency = ranking[0].Currency
	for _, entry := range ranking {
		total = total.Add(entry.Amount)
		if entry.Amount.LessThan(summary.Lowest) {
			summary.Lowest = entry.Amount
		}
		if entry.Amount.GreaterThan(summary.Highest) {
			summary.Highest = entry.Amount
		}
		if entry.Currency != summary.Currency {
			summary.MixedCurrency = true
		}
	}
	if summary.MixedCurrency {
		summary.Currency = ""
	}
	summary.Average = total.Div(decimal.NewFromInt(int64(len(ranking)))).Round(2)
	return summary
}
