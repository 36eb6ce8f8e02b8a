package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nurpe/sealed-bids/internal/model"
)

type memoryState struct {
	bids      map[uuid.UUID]model.SealedBid
	sessions  map[uuid.UUID]model.OpeningSession
	events    []model.AuditEvent
	incidents map[uuid.UUID]model.Incident
}

func (s *memoryState) clone() *memoryState {
	next := &memoryState{
		bids:      make(map[uuid.UUID]model.SealedBid, len(s.bids)),
		sessions:  make(map[uuid.UUID]model.OpeningSession, len(s.sessions)),
		events:    append(make([]model.AuditEvent, 0, len(s.events)), s.events...),
		incidents: make(map[uuid.UUID]model.Incident, len(s.incidents)),
	}
	for id, bid := range s.bids {
		next.bids[id] = bid
	}
	for id, session := range s.sessions {
		next.sessions[id] = session.Clone()
	}
	for id, incident := range s.incidents {
		next.incidents[id] = incident
	}
	return next
}

// MemoryStore keeps everything in process. Transactions are serialized and
// work on a copy of the state that replaces the original on success. It backs
// tests and the DB_DRIVER=memory development mode.
type MemoryStore struct {
	mu    *sync.Mutex
	root  *MemoryStore
	state *memoryState
	inTx  bool
}

func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		mu: &sync.Mutex{},
		state: &memoryState{
			bids:      make(map[uuid.UUID]model.SealedBid),
			sessions:  make(map[uuid.UUID]model.OpeningSession),
			incidents: make(map[uuid.UUID]model.Incident),
		},
	}
	s.root = s
	return s
}

func (s *MemoryStore) Bids() BidRepository           { return &memoryBids{s} }
func (s *MemoryStore) Sessions() SessionRepository   { return &memorySessions{s} }
func (s *MemoryStore) Audit() AuditRepository        { return &memoryAudit{s} }
func (s *MemoryStore) Incidents() IncidentRepository { return &memoryIncidents{s} }

func (s *MemoryStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.inTx {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &MemoryStore{mu: s.mu, root: s.root, state: s.root.state.clone(), inTx: true}
	if err := fn(tx); err != nil {
		return err
	}
	s.root.state = tx.state
	return nil
}

func (s *MemoryStore) with(ctx context.Context, fn func(st *memoryState) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.inTx {
		return fn(s.state)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.root.state)
}

type memoryBids struct{ s *MemoryStore }

func copyBid(b model.SealedBid) *model.SealedBid {
	b.Ciphertext = append([]byte(nil), b.Ciphertext...)
	b.Nonce = append([]byte(nil), b.Nonce...)
	b.AuthTag = append([]byte(nil), b.AuthTag...)
	if b.DecryptedBid != nil {
		payload := *b.DecryptedBid
		payload.Declarations = append([]model.Declaration(nil), payload.Declarations...)
		b.DecryptedBid = &payload
	}
	return &b
}

func (r *memoryBids) Create(ctx context.Context, bid *model.SealedBid) error {
	return r.s.with(ctx, func(st *memoryState) error {
		if _, exists := st.bids[bid.ID]; exists {
			return ErrConflict
		}
		st.bids[bid.ID] = *copyBid(*bid)
		return nil
	})
}

func (r *memoryBids) Get(ctx context.Context, id uuid.UUID) (*model.SealedBid, error) {
	var out *model.SealedBid
	err := r.s.with(ctx, func(st *memoryState) error {
		bid, ok := st.bids[id]
		if !ok {
			return ErrNotFound
		}
		out = copyBid(bid)
		return nil
	})
	return out, err
}

func (r *memoryBids) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.SealedBid, error) {
	return r.Get(ctx, id)
}

func (r *memoryBids) ListByTender(ctx context.Context, tenderID uuid.UUID) ([]model.SealedBid, error) {
	var out []model.SealedBid
	err := r.s.with(ctx, func(st *memoryState) error {
		for _, bid := range st.bids {
			if bid.TenderID == tenderID {
				out = append(out, *copyBid(bid))
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SealedAt.Equal(out[j].SealedAt) {
			return out[i].SealedAt.Before(out[j].SealedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, err
}

func (r *memoryBids) ListSealedIDs(ctx context.Context, tenderID uuid.UUID) ([]uuid.UUID, error) {
	bids, err := r.ListByTender(ctx, tenderID)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(bids))
	for _, bid := range bids {
		if bid.IsSealed() {
			ids = append(ids, bid.ID)
		}
	}
	return ids, nil
}

func (r *memoryBids) CountSealedByTender(ctx context.Context, tenderID uuid.UUID) (int, error) {
	count := 0
	err := r.s.with(ctx, func(st *memoryState) error {
		for _, bid := range st.bids {
			if bid.TenderID == tenderID && bid.IsSealed() {
				count++
			}
		}
		return nil
	})
	return count, err
}

func (r *memoryBids) SaveOpened(ctx context.Context, bid *model.SealedBid) error {
	return r.s.with(ctx, func(st *memoryState) error {
		current, ok := st.bids[bid.ID]
		if !ok {
			return ErrNotFound
		}
		if !current.IsSealed() {
			return ErrConflict
		}
		st.bids[bid.ID] = *copyBid(*bid)
		return nil
	})
}

type memorySessions struct{ s *MemoryStore }

func (r *memorySessions) Create(ctx context.Context, session *model.OpeningSession) error {
	return r.s.with(ctx, func(st *memoryState) error {
		if _, exists := st.sessions[session.ID]; exists {
			return ErrConflict
		}
		for _, existing := range st.sessions {
			if existing.TenderID == session.TenderID && existing.Status != model.SessionStatusCompleted {
				return ErrConflict
			}
		}
		st.sessions[session.ID] = session.Clone()
		return nil
	})
}

func (r *memorySessions) Get(ctx context.Context, id uuid.UUID) (*model.OpeningSession, error) {
	var out *model.OpeningSession
	err := r.s.with(ctx, func(st *memoryState) error {
		session, ok := st.sessions[id]
		if !ok {
			return ErrNotFound
		}
		clone := session.Clone()
		out = &clone
		return nil
	})
	return out, err
}

func (r *memorySessions) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.OpeningSession, error) {
	return r.Get(ctx, id)
}

func (r *memorySessions) ActiveByTender(ctx context.Context, tenderID uuid.UUID) (*model.OpeningSession, error) {
	var out *model.OpeningSession
	err := r.s.with(ctx, func(st *memoryState) error {
		for _, session := range st.sessions {
			if session.TenderID == tenderID && session.Status != model.SessionStatusCompleted {
				clone := session.Clone()
				out = &clone
				return nil
			}
		}
		return ErrNotFound
	})
	return out, err
}

func (r *memorySessions) ListByStatus(ctx context.Context, status *model.SessionStatus) ([]model.OpeningSession, error) {
	var out []model.OpeningSession
	err := r.s.with(ctx, func(st *memoryState) error {
		for _, session := range st.sessions {
			if status == nil || session.Status == *status {
				out = append(out, session.Clone())
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledAt.Equal(out[j].ScheduledAt) {
			return out[i].ScheduledAt.Before(out[j].ScheduledAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, err
}

func (r *memorySessions) SaveAttendance(ctx context.Context, sessionID uuid.UUID, member model.CommitteeMember) error {
	return r.s.with(ctx, func(st *memoryState) error {
		session, ok := st.sessions[sessionID]
		if !ok {
			return ErrNotFound
		}
		session = session.Clone()
		stored, ok := session.Member(member.UserID)
		if !ok {
			return ErrNotFound
		}
		*stored = member
		st.sessions[sessionID] = session
		return nil
	})
}

func (r *memorySessions) SaveProgress(ctx context.Context, session *model.OpeningSession) error {
	return r.s.with(ctx, func(st *memoryState) error {
		current, ok := st.sessions[session.ID]
		if !ok {
			return ErrNotFound
		}
		current.Status = session.Status
		current.TotalBids = session.TotalBids
		current.OpenedBids = session.OpenedBids
		current.StartedAt = session.StartedAt
		current.CompletedAt = session.CompletedAt
		st.sessions[session.ID] = current
		return nil
	})
}

type memoryAudit struct{ s *MemoryStore }

func (r *memoryAudit) Append(ctx context.Context, event *model.AuditEvent) error {
	return r.s.with(ctx, func(st *memoryState) error {
		prev := ""
		if n := len(st.events); n > 0 {
			prev = st.events[n-1].Hash
		}
		event.Seq = int64(len(st.events) + 1)
		event.PrevHash = prev
		event.Hash = event.Digest(prev)
		st.events = append(st.events, *event)
		return nil
	})
}

func (r *memoryAudit) List(ctx context.Context, filter model.AuditFilter) ([]model.AuditEvent, error) {
	var out []model.AuditEvent
	err := r.s.with(ctx, func(st *memoryState) error {
		for _, event := range st.events {
			if matchesAuditFilter(event, filter) {
				out = append(out, event)
			}
		}
		return nil
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, err
}

func matchesAuditFilter(event model.AuditEvent, filter model.AuditFilter) bool {
	if filter.Type != nil && event.Type != *filter.Type {
		return false
	}
	if filter.TenderID != nil && (event.TenderID == nil || *event.TenderID != *filter.TenderID) {
		return false
	}
	if filter.SessionID != nil && (event.SessionID == nil || *event.SessionID != *filter.SessionID) {
		return false
	}
	if filter.BidID != nil && (event.BidID == nil || *event.BidID != *filter.BidID) {
		return false
	}
	return true
}

type memoryIncidents struct{ s *MemoryStore }

func (r *memoryIncidents) Open(ctx context.Context, incident *model.Incident) error {
	return r.s.with(ctx, func(st *memoryState) error {
		if _, exists := st.incidents[incident.ID]; exists {
			return ErrConflict
		}
		st.incidents[incident.ID] = *incident
		return nil
	})
}

func (r *memoryIncidents) Get(ctx context.Context, id uuid.UUID) (*model.Incident, error) {
	var out *model.Incident
	err := r.s.with(ctx, func(st *memoryState) error {
		incident, ok := st.incidents[id]
		if !ok {
			return ErrNotFound
		}
		out = &incident
		return nil
	})
	return out, err
}

func (r *memoryIncidents) List(ctx context.Context, status *model.IncidentStatus) ([]model.Incident, error) {
	var out []model.Incident
	err := r.s.with(ctx, func(st *memoryState) error {
		for _, incident := range st.incidents {
			if status == nil || incident.Status == *status {
				out = append(out, incident)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].OpenedAt.Before(out[j].OpenedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, err
}

func (r *memoryIncidents) Acknowledge(ctx context.Context, id uuid.UUID, by uuid.UUID, at time.Time) error {
	return r.s.with(ctx, func(st *memoryState) error {
		incident, ok := st.incidents[id]
		if !ok {
			return ErrNotFound
		}
		if incident.Status != model.IncidentStatusOpen {
			return ErrConflict
		}
		ackAt, ackBy := at, by
		incident.Status = model.IncidentStatusAcknowledged
		incident.AcknowledgedAt = &ackAt
		incident.AcknowledgedBy = &ackBy
		st.incidents[id] = incident
		return nil
	})
}
