package service

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/nurpe/sealed-bids/internal/audit"
	"github.com/nurpe/sealed-bids/internal/cipher"
	"github.com/nurpe/sealed-bids/internal/keystore"
	"github.com/nurpe/sealed-bids/internal/metrics"
	"github.com/nurpe/sealed-bids/internal/model"
	"github.com/nurpe/sealed-bids/internal/repository"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// tamperStore flips a bit of the stored auth tag of selected bids whenever
// they are read for update, simulating corruption at rest.
type tamperStore struct {
	repository.Store
	targets *tamperTargets
}

type tamperTargets struct {
	mu         sync.Mutex
	ids        map[uuid.UUID]bool
	failCommit bool
}

var errCommitFailed = errors.New("commit failed")

func (t *tamperTargets) commitFails() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failCommit
}

func (t *tamperTargets) has(id uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ids[id]
}

func (s *tamperStore) Bids() repository.BidRepository {
	return &tamperBids{BidRepository: s.Store.Bids(), targets: s.targets}
}

func (s *tamperStore) Transaction(ctx context.Context, fn func(tx repository.Store) error) error {
	return s.Store.Transaction(ctx, func(tx repository.Store) error {
		if err := fn(&tamperStore{Store: tx, targets: s.targets}); err != nil {
			return err
		}
		if s.targets.commitFails() {
			return errCommitFailed
		}
		return nil
	})
}

type tamperBids struct {
	repository.BidRepository
	targets *tamperTargets
}

func (b *tamperBids) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.SealedBid, error) {
	bid, err := b.BidRepository.GetForUpdate(ctx, id)
	if err == nil && b.targets.has(id) && len(bid.AuthTag) > 0 {
		bid.AuthTag[0] ^= 0x01
	}
	return bid, err
}

type harness struct {
	t         *testing.T
	ctx       context.Context
	clock     clockwork.FakeClock
	memory    *repository.MemoryStore
	store     *tamperStore
	directory *repository.MemoryDirectory
	svc       *OpeningService
	metrics   *metrics.Metrics

	tender    model.Tender
	supplierA model.Supplier
	supplierB model.Supplier
	officer   model.Principal
	auditor   model.Principal
	admin     model.Principal
	committee []model.CommitteeMember

	notified []model.Incident
	mu       sync.Mutex
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	material, err := cipher.GenerateKeyMaterial()
	require.NoError(t, err)
	keys, err := keystore.NewConfigProvider(map[string]string{
		"k1": base64.StdEncoding.EncodeToString(material),
	})
	require.NoError(t, err)

	h := &harness{
		t:         t,
		ctx:       context.Background(),
		clock:     clockwork.NewFakeClockAt(epoch),
		memory:    repository.NewMemoryStore(),
		directory: repository.NewMemoryDirectory(),
		metrics:   metrics.New(),
		tender: model.Tender{
			ID:                 uuid.New(),
			ReferenceNumber:    "T1",
			Title:              "Snow removal equipment",
			SubmissionDeadline: epoch.Add(30 * time.Minute),
		},
		supplierA: model.Supplier{ID: uuid.New(), Name: "Alpha LLP"},
		supplierB: model.Supplier{ID: uuid.New(), Name: "Beta JSC"},
		officer:   model.Principal{UserID: uuid.New(), Role: model.UserRoleOfficer},
		auditor:   model.Principal{UserID: uuid.New(), Role: model.UserRoleAuditor},
		admin:     model.Principal{UserID: uuid.New(), Role: model.UserRoleAdmin},
		committee: []model.CommitteeMember{
			{UserID: uuid.New(), Name: "Chair", Role: "CHAIR"},
			{UserID: uuid.New(), Name: "Secretary", Role: "SECRETARY"},
			{UserID: uuid.New(), Name: "Member", Role: "MEMBER"},
		},
	}
	h.store = &tamperStore{Store: h.memory, targets: &tamperTargets{ids: make(map[uuid.UUID]bool)}}
	h.directory.PutTender(h.tender)
	h.directory.PutSupplier(h.supplierA)
	h.directory.PutSupplier(h.supplierB)

	h.svc, err = NewOpeningService(Dependencies{
		Store:       h.store,
		Tenders:     h.directory,
		Suppliers:   h.directory,
		Keys:        keys,
		ActiveKeyID: "k1",
		Clock:       h.clock,
		Logger:      zerolog.Nop(),
		Metrics:     h.metrics,
		Notifiers: []audit.Notifier{audit.NotifierFunc(func(_ context.Context, incident model.Incident, _ model.AuditEvent) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.notified = append(h.notified, incident)
		})},
		PDF:     rendererFunc(func(r model.OpeningReport) ([]byte, error) { return []byte("%PDF " + r.TenderRef), nil }),
		Excel:   rendererFunc(func(r model.OpeningReport) ([]byte, error) { return []byte("xlsx " + r.TenderRef), nil }),
		Workers: 2,
	})
	require.NoError(t, err)
	return h
}

type rendererFunc func(model.OpeningReport) ([]byte, error)

func (f rendererFunc) Generate(r model.OpeningReport) ([]byte, error) { return f(r) }

func (h *harness) corrupt(id uuid.UUID, on bool) {
	h.store.targets.mu.Lock()
	defer h.store.targets.mu.Unlock()
	h.store.targets.ids[id] = on
}

// failCommits makes every transaction that would otherwise commit roll back.
func (h *harness) failCommits(on bool) {
	h.store.targets.mu.Lock()
	defer h.store.targets.mu.Unlock()
	h.store.targets.failCommit = on
}

func (h *harness) supplierPrincipal(s model.Supplier) model.Principal {
	return model.Principal{UserID: uuid.New(), OrgID: s.ID, Role: model.UserRoleSupplier}
}

func (h *harness) member(i int) model.Principal {
	return model.Principal{UserID: h.committee[i].UserID, Role: model.UserRoleCommittee}
}

func payload(amount string) model.BidPayload {
	return model.BidPayload{
		Amount:       decimal.RequireFromString(amount),
		Currency:     "KZT",
		ValidityDays: 90,
		Declarations: []model.Declaration{{Code: "NO_CONFLICT", Text: "No conflict of interest", Accepted: true}},
		Submitter:    model.Submitter{Name: "A. Bidder", Position: "Director"},
		SubmittedAt:  epoch,
	}
}

func (h *harness) seal(s model.Supplier, amount string) uuid.UUID {
	h.t.Helper()
	id := uuid.New()
	_, err := h.svc.SealBid(h.ctx, SealBidInput{
		BidID:      id,
		TenderID:   h.tender.ID,
		SupplierID: s.ID,
		Payload:    payload(amount),
		Principal:  h.supplierPrincipal(s),
	})
	require.NoError(h.t, err)
	return id
}

// schedule seals bid A (150000) and bid B (120000) one second apart and
// schedules the opening an hour after epoch.
func (h *harness) schedule() (session *model.OpeningSession, bidA, bidB uuid.UUID) {
	h.t.Helper()
	bidA = h.seal(h.supplierA, "150000")
	h.clock.Advance(time.Second)
	bidB = h.seal(h.supplierB, "120000")

	session, err := h.svc.ScheduleOpening(h.ctx, ScheduleOpeningInput{
		TenderID:    h.tender.ID,
		ScheduledAt: epoch.Add(time.Hour),
		Committee:   h.committee,
		Principal:   h.officer,
	})
	require.NoError(h.t, err)
	return session, bidA, bidB
}

// ready advances past the scheduled time and confirms every member.
func (h *harness) ready(session *model.OpeningSession) {
	h.t.Helper()
	h.clock.Advance(2 * time.Hour)
	for i := range h.committee {
		_, err := h.svc.ConfirmAttendance(h.ctx, session.ID, h.member(i))
		require.NoError(h.t, err)
	}
}

func (h *harness) bid(id uuid.UUID) *model.SealedBid {
	h.t.Helper()
	bid, err := h.svc.GetSealedBid(h.ctx, id, h.officer)
	require.NoError(h.t, err)
	return bid
}

func (h *harness) sessionState(id uuid.UUID) *model.OpeningSession {
	h.t.Helper()
	session, err := h.svc.GetSession(h.ctx, id, h.officer)
	require.NoError(h.t, err)
	return session
}

func (h *harness) events(eventType model.AuditEventType) []model.AuditEvent {
	h.t.Helper()
	events, err := h.svc.ListAuditEvents(h.ctx, model.AuditFilter{Type: &eventType}, h.auditor)
	require.NoError(h.t, err)
	return events
}
