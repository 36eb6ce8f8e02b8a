package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/nurpe/sealed-bids/internal/model"
)

var ErrChainBroken = errors.New("audit chain broken")

// Sink is the durable append-only log. Implementations assign Seq and link
// the event to its predecessor via PrevHash/Hash.
type Sink interface {
	Append(ctx context.Context, event *model.AuditEvent) error
}

type IncidentSink interface {
	Open(ctx context.Context, incident *model.Incident) error
}

// Notifier pushes a security incident to a channel a human will look at.
type Notifier interface {
	Notify(ctx context.Context, incident model.Incident, event model.AuditEvent)
}

type Emitter struct {
	clock     clockwork.Clock
	log       zerolog.Logger
	notifiers []Notifier
}

func NewEmitter(clock clockwork.Clock, log zerolog.Logger, notifiers ...Notifier) *Emitter {
	return &Emitter{clock: clock, log: log, notifiers: notifiers}
}

// Record stamps the event and appends it to sink.
func (e *Emitter) Record(ctx context.Context, sink Sink, event model.AuditEvent) (*model.AuditEvent, error) {
	event.ID = uuid.New()
	// postgres keeps microseconds; the digest has to survive a round trip
	event.OccurredAt = e.clock.Now().UTC().Truncate(time.Microsecond)
	if event.Actor == "" {
		event.Actor = model.SystemActor
	}
	if event.Outcome == "" {
		event.Outcome = model.OutcomeSuccess
	}
	if err := sink.Append(ctx, &event); err != nil {
		return nil, fmt.Errorf("append %s audit event: %w", event.Type, err)
	}
	e.log.Debug().
		Str("event", string(event.Type)).
		Str("outcome", string(event.Outcome)).
		Int64("seq", event.Seq).
		Msg("audit event recorded")
	return &event, nil
}

// RecordBreach appends a FAILED_OPEN event and opens an incident for it. It
// does not notify: callers run it in a transaction and call Notify after the
// commit.
func (e *Emitter) RecordBreach(ctx context.Context, sink Sink, incidents IncidentSink, event model.AuditEvent) (*model.Incident, *model.AuditEvent, error) {
	if event.BidID == nil || event.TenderID == nil {
		return nil, nil, fmt.Errorf("breach event requires bid and tender")
	}
	event.Type = model.AuditFailedOpen
	event.Outcome = model.OutcomeFailure

	recorded, err := e.Record(ctx, sink, event)
	if err != nil {
		return nil, nil, err
	}

	incident := model.Incident{
		ID:        uuid.New(),
		EventID:   recorded.ID,
		BidID:     *recorded.BidID,
		TenderID:  *recorded.TenderID,
		SessionID: recorded.SessionID,
		Detail:    recorded.Detail,
		Status:    model.IncidentStatusOpen,
		OpenedAt:  recorded.OccurredAt,
	}
	if err := incidents.Open(ctx, &incident); err != nil {
		return nil, nil, fmt.Errorf("open incident: %w", err)
	}
	return &incident, recorded, nil
}

// Notify pushes a stored incident to every configured channel.
func (e *Emitter) Notify(ctx context.Context, incident model.Incident, event model.AuditEvent) {
	for _, n := range e.notifiers {
		n.Notify(ctx, incident, event)
	}
}

// VerifyChain checks that events (ordered by Seq) form an unbroken hash chain.
func VerifyChain(events []model.AuditEvent) error {
	prev := ""
	for i, event := range events {
		if event.PrevHash != prev {
			return fmt.Errorf("%w: event %d (seq %d) does not link to its predecessor", ErrChainBroken, i, event.Seq)
		}
		if event.Digest(prev) != event.Hash {
			return fmt.Errorf("%w: event %d (seq %d) was modified", ErrChainBroken, i, event.Seq)
		}
		prev = event.Hash
	}
	return nil
}
