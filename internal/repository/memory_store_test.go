package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nurpe/sealed-bids/internal/model"
)

func sealedBid(tenderID uuid.UUID, sealedAt time.Time) *model.SealedBid {
	return &model.SealedBid{
		ID:               uuid.New(),
		TenderID:         tenderID,
		SupplierID:       uuid.New(),
		Status:           model.BidStatusSealed,
		KeyID:            "k1",
		Ciphertext:       []byte{1, 2, 3},
		Nonce:            make([]byte, 12),
		AuthTag:          make([]byte, 16),
		CiphertextDigest: "digest",
		SealedAt:         sealedAt,
	}
}

func TestMemoryTransactionRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	bid := sealedBid(uuid.New(), time.Now())
	require.NoError(t, store.Bids().Create(ctx, bid))

	boom := errors.New("boom")
	err := store.Transaction(ctx, func(tx Store) error {
		current, err := tx.Bids().GetForUpdate(ctx, bid.ID)
		require.NoError(t, err)
		current.MarkOpened(model.BidPayload{Amount: decimal.NewFromInt(1)}, time.Now(), uuid.New())
		require.NoError(t, tx.Bids().SaveOpened(ctx, current))
		_, err = tx.Audit().List(ctx, model.AuditFilter{})
		require.NoError(t, err)
		require.NoError(t, tx.Audit().Append(ctx, &model.AuditEvent{ID: uuid.New(), Type: model.AuditOpened}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	stored, err := store.Bids().Get(ctx, bid.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BidStatusSealed, stored.Status)
	assert.Nil(t, stored.DecryptedBid)

	events, err := store.Audit().List(ctx, model.AuditFilter{})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestMemoryTransactionCommits(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	bid := sealedBid(uuid.New(), time.Now())
	require.NoError(t, store.Bids().Create(ctx, bid))

	err := store.Transaction(ctx, func(tx Store) error {
		current, err := tx.Bids().GetForUpdate(ctx, bid.ID)
		if err != nil {
			return err
		}
		current.MarkOpened(model.BidPayload{Amount: decimal.NewFromInt(7)}, time.Now(), uuid.New())
		return tx.Bids().SaveOpened(ctx, current)
	})
	require.NoError(t, err)

	stored, err := store.Bids().Get(ctx, bid.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BidStatusOpened, stored.Status)
	require.NotNil(t, stored.DecryptedBid)
	assert.Nil(t, stored.Ciphertext)

	assert.ErrorIs(t, store.Bids().SaveOpened(ctx, stored), ErrConflict)
}

func TestMemoryBidCreateConflict(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	bid := sealedBid(uuid.New(), time.Now())
	require.NoError(t, store.Bids().Create(ctx, bid))
	assert.ErrorIs(t, store.Bids().Create(ctx, bid), ErrConflict)

	_, err := store.Bids().Get(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryListByTenderOrdersBySealedAt(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	tenderID := uuid.New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	late := sealedBid(tenderID, base.Add(time.Hour))
	early := sealedBid(tenderID, base)
	other := sealedBid(uuid.New(), base)
	for _, b := range []*model.SealedBid{late, early, other} {
		require.NoError(t, store.Bids().Create(ctx, b))
	}

	bids, err := store.Bids().ListByTender(ctx, tenderID)
	require.NoError(t, err)
	require.Len(t, bids, 2)
	assert.Equal(t, early.ID, bids[0].ID)
	assert.Equal(t, late.ID, bids[1].ID)

	count, err := store.Bids().CountSealedByTender(ctx, tenderID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	ids, err := store.Bids().ListSealedIDs(ctx, tenderID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{early.ID, late.ID}, ids)
}

func TestMemoryCountSealedSkipsOpenedBids(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	tenderID := uuid.New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	opened := sealedBid(tenderID, base)
	sealed := sealedBid(tenderID, base.Add(time.Minute))
	require.NoError(t, store.Bids().Create(ctx, opened))
	require.NoError(t, store.Bids().Create(ctx, sealed))

	require.True(t, opened.MarkOpened(model.BidPayload{Currency: "KZT"}, base.Add(time.Hour), uuid.New()))
	require.NoError(t, store.Bids().SaveOpened(ctx, opened))

	count, err := store.Bids().CountSealedByTender(ctx, tenderID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMemorySessionsOneActivePerTender(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	tenderID := uuid.New()

	first := &model.OpeningSession{ID: uuid.New(), TenderID: tenderID, Status: model.SessionStatusPending,
		Committee: []model.CommitteeMember{{UserID: uuid.New(), Name: "A"}}}
	require.NoError(t, store.Sessions().Create(ctx, first))

	second := &model.OpeningSession{ID: uuid.New(), TenderID: tenderID, Status: model.SessionStatusPending}
	assert.ErrorIs(t, store.Sessions().Create(ctx, second), ErrConflict)

	first.Start(0, time.Now())
	require.NoError(t, store.Sessions().SaveProgress(ctx, first))
	assert.NoError(t, store.Sessions().Create(ctx, second))

	active, err := store.Sessions().ActiveByTender(ctx, tenderID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, active.ID)

	completed := model.SessionStatusCompleted
	list, err := store.Sessions().ListByStatus(ctx, &completed)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, first.ID, list[0].ID)
}

func TestMemorySessionReadsAreCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	userID := uuid.New()
	session := &model.OpeningSession{ID: uuid.New(), TenderID: uuid.New(), Status: model.SessionStatusPending,
		Committee: []model.CommitteeMember{{UserID: userID, Name: "A"}}}
	require.NoError(t, store.Sessions().Create(ctx, session))

	loaded, err := store.Sessions().Get(ctx, session.ID)
	require.NoError(t, err)
	loaded.Committee[0].Attended = true

	again, err := store.Sessions().Get(ctx, session.ID)
	require.NoError(t, err)
	assert.False(t, again.Committee[0].Attended)

	now := time.Now()
	require.NoError(t, store.Sessions().SaveAttendance(ctx, session.ID, model.CommitteeMember{UserID: userID, Name: "A", Attended: true, AttendedAt: &now}))
	again, err = store.Sessions().Get(ctx, session.ID)
	require.NoError(t, err)
	assert.True(t, again.Committee[0].Attended)

	assert.ErrorIs(t, store.Sessions().SaveAttendance(ctx, session.ID, model.CommitteeMember{UserID: uuid.New()}), ErrNotFound)
}

func TestMemoryAuditChainIsConcurrencySafe(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			event := &model.AuditEvent{ID: uuid.New(), Type: model.AuditOpenAttempt, OccurredAt: time.Now().UTC()}
			assert.NoError(t, store.Audit().Append(ctx, event))
		}()
	}
	wg.Wait()

	events, err := store.Audit().List(ctx, model.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, events, 20)
	prev := ""
	for i, event := range events {
		assert.Equal(t, int64(i+1), event.Seq)
		assert.Equal(t, prev, event.PrevHash)
		assert.Equal(t, event.Digest(prev), event.Hash)
		prev = event.Hash
	}

	limited, err := store.Audit().List(ctx, model.AuditFilter{Limit: 5})
	require.NoError(t, err)
	assert.Len(t, limited, 5)
}

func TestMemoryIncidents(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	incident := &model.Incident{ID: uuid.New(), BidID: uuid.New(), TenderID: uuid.New(), Status: model.IncidentStatusOpen, OpenedAt: time.Now()}
	require.NoError(t, store.Incidents().Open(ctx, incident))

	open := model.IncidentStatusOpen
	list, err := store.Incidents().List(ctx, &open)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	admin := uuid.New()
	require.NoError(t, store.Incidents().Acknowledge(ctx, incident.ID, admin, time.Now()))
	assert.ErrorIs(t, store.Incidents().Acknowledge(ctx, incident.ID, admin, time.Now()), ErrConflict)
	assert.ErrorIs(t, store.Incidents().Acknowledge(ctx, uuid.New(), admin, time.Now()), ErrNotFound)

	stored, err := store.Incidents().Get(ctx, incident.ID)
	require.NoError(t, err)
	assert.Equal(t, model.IncidentStatusAcknowledged, stored.Status)
	require.NotNil(t, stored.AcknowledgedBy)
	assert.Equal(t, admin, *stored.AcknowledgedBy)

	list, err = store.Incidents().List(ctx, &open)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestMemoryDirectory(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryDirectory()
	tender := model.Tender{ID: uuid.New(), ReferenceNumber: "T-1", Title: "Road salt"}
	dir.PutTender(tender)

	got, err := dir.GetTender(ctx, tender.ID)
	require.NoError(t, err)
	assert.Equal(t, tender, *got)

	_, err = dir.GetSupplier(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}
