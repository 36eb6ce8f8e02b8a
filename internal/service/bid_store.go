package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/nurpe/sealed-bids/internal/audit"
	"github.com/nurpe/sealed-bids/internal/cipher"
	"github.com/nurpe/sealed-bids/internal/keystore"
	"github.com/nurpe/sealed-bids/internal/metrics"
	"github.com/nurpe/sealed-bids/internal/model"
	"github.com/nurpe/sealed-bids/internal/repository"
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// SealedBidStore owns the sealed form of every bid. Open is the only code
// path in the service that decrypts a bid.
type SealedBidStore struct {
	engine      *cipher.Engine
	keys        keystore.Provider
	activeKeyID string
	clock       clockwork.Clock
	emitter     *audit.Emitter
	sessions    *SessionMachine
	metrics     *metrics.Metrics
	log         zerolog.Logger
}

func NewSealedBidStore(
	engine *cipher.Engine,
	keys keystore.Provider,
	activeKeyID string,
	clock clockwork.Clock,
	emitter *audit.Emitter,
	sessions *SessionMachine,
	m *metrics.Metrics,
	log zerolog.Logger,
) *SealedBidStore {
	return &SealedBidStore{
		engine:      engine,
		keys:        keys,
		activeKeyID: activeKeyID,
		clock:       clock,
		emitter:     emitter,
		sessions:    sessions,
		metrics:     m,
		log:         log,
	}
}

type SealInput struct {
	BidID    uuid.UUID
	Tender   model.Tender
	Supplier model.Supplier
	Payload  model.BidPayload
	Actor    string
}

func (s *SealedBidStore) Seal(ctx context.Context, store repository.Store, input SealInput) (*model.SealedBid, error) {
	if input.BidID == uuid.Nil {
		return nil, fmt.Errorf("%w: bid_id is required", ErrInvalidInput)
	}
	if err := validatePayload(input.Payload); err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	if !now.Before(input.Tender.SubmissionDeadline) {
		return nil, fmt.Errorf("%w: deadline was %s", ErrSubmissionClosed, input.Tender.SubmissionDeadline.UTC())
	}
	if input.Payload.SubmittedAt.IsZero() {
		input.Payload.SubmittedAt = now
	}

	key, err := s.keys.EncryptionKey(ctx, s.activeKeyID)
	if err != nil {
		return nil, fmt.Errorf("load sealing key: %w", err)
	}
	defer key.Destroy()

	sealed, err := s.engine.Seal(input.Payload, key, binding(input.BidID))
	if err != nil {
		return nil, err
	}

	bid := model.SealedBid{
		ID:               input.BidID,
		TenderID:         input.Tender.ID,
		TenderRef:        input.Tender.ReferenceNumber,
		SupplierID:       input.Supplier.ID,
		SupplierName:     input.Supplier.Name,
		Status:           model.BidStatusSealed,
		KeyID:            key.ID(),
		Ciphertext:       sealed.Ciphertext,
		Nonce:            sealed.Nonce,
		AuthTag:          sealed.AuthTag,
		CiphertextDigest: sealed.Digest(),
		SealedAt:         now,
		OpeningDeadline:  input.Tender.SubmissionDeadline.UTC(),
	}

	err = store.Transaction(ctx, func(tx repository.Store) error {
		if err := tx.Bids().Create(ctx, &bid); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return &DuplicateSealError{BidID: bid.ID}
			}
			return err
		}
		_, err := s.emitter.Record(ctx, tx.Audit(), model.AuditEvent{
			Type:     model.AuditSealed,
			Actor:    input.Actor,
			TenderID: &bid.TenderID,
			BidID:    &bid.ID,
			Detail:   fmt.Sprintf("supplier %s, key %s, digest %s", bid.SupplierID, bid.KeyID, bid.CiphertextDigest),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Sealed()
	return &bid, nil
}

func (s *SealedBidStore) Get(ctx context.Context, store repository.Store, bidID uuid.UUID) (*model.SealedBid, error) {
	bid, err := store.Bids().Get(ctx, bidID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return bid, nil
}

func (s *SealedBidStore) GetByTender(ctx context.Context, store repository.Store, tenderID uuid.UUID) ([]model.SealedBid, error) {
	return store.Bids().ListByTender(ctx, tenderID)
}

// errBreach marks an integrity failure inside the open transaction so that
// the transaction rolls back before the breach is recorded.
var errBreach = errors.New("integrity failure")

// Open decrypts one bid. Bid and session rows are locked for the whole
// operation, so concurrent opens of the same bid serialize and exactly one
// succeeds. On an integrity failure nothing changes except the audit trail
// and a new incident.
func (s *SealedBidStore) Open(ctx context.Context, store repository.Store, bidID uuid.UUID, by uuid.UUID) (*model.SealedBid, error) {
	started := s.clock.Now()
	actor := by.String()

	current, err := s.Get(ctx, store, bidID)
	if err != nil {
		return nil, err
	}
	base := model.AuditEvent{
		Actor:    actor,
		TenderID: &current.TenderID,
		BidID:    &current.ID,
	}

	attempt := base
	attempt.Type = model.AuditOpenAttempt
	attempt.Outcome = model.OutcomeInitiated
	if _, err := s.emitter.Record(ctx, store.Audit(), attempt); err != nil {
		return nil, err
	}

	var (
		opened    *model.SealedBid
		sessionID *uuid.UUID
		completed bool
	)
	err = store.Transaction(ctx, func(tx repository.Store) error {
		bid, err := tx.Bids().GetForUpdate(ctx, bidID)
		if err != nil {
			return err
		}
		if !bid.IsSealed() {
			return &AlreadyOpenedError{BidID: bid.ID}
		}

		session, err := tx.Sessions().ActiveByTender(ctx, bid.TenderID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return &SessionNotInProgressError{TenderID: bid.TenderID}
			}
			return err
		}
		sessionID = &session.ID
		if session.Status != model.SessionStatusInProgress {
			return &SessionNotInProgressError{TenderID: bid.TenderID, Status: session.Status}
		}

		now := s.clock.Now().UTC()
		if now.Before(bid.OpeningDeadline) {
			return &NotYetDueError{DueAt: bid.OpeningDeadline}
		}

		key, err := s.keys.EncryptionKey(ctx, bid.KeyID)
		if err != nil {
			return fmt.Errorf("load sealing key: %w", err)
		}
		defer key.Destroy()

		payload, err := s.engine.Unseal(cipher.Sealed{
			Ciphertext: bid.Ciphertext,
			Nonce:      bid.Nonce,
			AuthTag:    bid.AuthTag,
		}, key, binding(bid.ID))
		if err != nil {
			if errors.Is(err, cipher.ErrIntegrity) {
				return errBreach
			}
			return err
		}

		bid.MarkOpened(payload, now, by)
		if err := tx.Bids().SaveOpened(ctx, bid); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return &AlreadyOpenedError{BidID: bid.ID}
			}
			return err
		}

		event := base
		event.Type = model.AuditOpened
		event.SessionID = &session.ID
		event.Detail = fmt.Sprintf("digest %s", bid.CiphertextDigest)
		if _, err := s.emitter.Record(ctx, tx.Audit(), event); err != nil {
			return err
		}
		if err := s.sessions.RecordOpened(ctx, tx, session, actor); err != nil {
			return err
		}
		completed = session.Status == model.SessionStatusCompleted
		opened = bid
		return nil
	})

	switch {
	case err == nil:
		s.metrics.Opened(s.clock.Now().Sub(started).Seconds())
		if completed {
			s.metrics.Transition(model.SessionStatusCompleted)
		}
		return opened, nil

	case errors.Is(err, errBreach):
		return nil, s.recordBreach(ctx, store, base, sessionID)

	case errors.Is(err, repository.ErrNotFound):
		return nil, ErrNotFound
	}

	if reason := rejectionReason(err); reason != "" {
		rejected := base
		rejected.Type = model.AuditOpenAttempt
		rejected.Outcome = model.OutcomeRejected
		rejected.SessionID = sessionID
		rejected.Detail = err.Error()
		if _, auditErr := s.emitter.Record(ctx, store.Audit(), rejected); auditErr != nil {
			return nil, errors.Join(err, auditErr)
		}
		s.metrics.Rejected(reason)
	}
	return nil, err
}

func (s *SealedBidStore) recordBreach(ctx context.Context, store repository.Store, base model.AuditEvent, sessionID *uuid.UUID) error {
	event := base
	event.SessionID = sessionID
	event.Detail = "ciphertext failed authentication; bid left sealed"

	var (
		incident *model.Incident
		recorded *model.AuditEvent
	)
	err := store.Transaction(ctx, func(tx repository.Store) error {
		var err error
		incident, recorded, err = s.emitter.RecordBreach(ctx, tx.Audit(), tx.Incidents(), event)
		return err
	})
	if err != nil {
		s.log.Error().Err(err).Str("bid_id", base.BidID.String()).Msg("failed to record seal breach")
		return fmt.Errorf("%w: bid %s failed integrity verification and the incident could not be recorded: %v", ErrSealBreach, base.BidID, err)
	}
	s.emitter.Notify(ctx, *incident, *recorded)
	return &SealBreachError{BidID: *base.BidID, IncidentID: incident.ID}
}

func binding(id uuid.UUID) []byte {
	return id[:]
}

func validatePayload(p model.BidPayload) error {
	if !p.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	if !currencyPattern.MatchString(p.Currency) {
		return fmt.Errorf("%w: currency must be a 3-letter ISO 4217 code", ErrInvalidInput)
	}
	if p.ValidityDays <= 0 {
		return fmt.Errorf("%w: validity_days must be positive", ErrInvalidInput)
	}
	if strings.TrimSpace(p.Submitter.Name) == "" {
		return fmt.Errorf("%w: submitter name is required", ErrInvalidInput)
	}
	for i, d := range p.Declarations {
		if strings.TrimSpace(d.Code) == "" {
			return fmt.Errorf("%w: declaration %d has no code", ErrInvalidInput, i)
		}
	}
	return nil
}
