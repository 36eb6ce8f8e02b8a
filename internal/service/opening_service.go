package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/nurpe/sealed-bids/internal/audit"
	"github.com/nurpe/sealed-bids/internal/cipher"
	"github.com/nurpe/sealed-bids/internal/keystore"
	"github.com/nurpe/sealed-bids/internal/metrics"
	"github.com/nurpe/sealed-bids/internal/model"
	"github.com/nurpe/sealed-bids/internal/report"
	"github.com/nurpe/sealed-bids/internal/repository"
)

const defaultOpeningWorkers = 4

type TenderDirectory interface {
	GetTender(ctx context.Context, id uuid.UUID) (*model.Tender, error)
}

type SupplierDirectory interface {
	GetSupplier(ctx context.Context, id uuid.UUID) (*model.Supplier, error)
}

// ReportRenderer turns an opening report into a downloadable document.
type ReportRenderer interface {
	Generate(report model.OpeningReport) ([]byte, error)
}

type ReportSigner interface {
	Sign(report *model.OpeningReport) ([]byte, error)
}

type Dependencies struct {
	Store       repository.Store
	Tenders     TenderDirectory
	Suppliers   SupplierDirectory
	Keys        keystore.Provider
	ActiveKeyID string
	Clock       clockwork.Clock
	Logger      zerolog.Logger
	Metrics     *metrics.Metrics
	Notifiers   []audit.Notifier
	PDF         ReportRenderer
	Excel       ReportRenderer
	// Signer is optional; signed export is unavailable without it.
	Signer  ReportSigner
	Workers int
}

// OpeningService exposes the sealed-bid lifecycle to the transport layer and
// enforces who may call what.
type OpeningService struct {
	store     repository.Store
	tenders   TenderDirectory
	suppliers SupplierDirectory
	clock     clockwork.Clock
	log       zerolog.Logger
	workers   int

	bids     *SealedBidStore
	ledger   *AttendanceLedger
	sessions *SessionMachine
	reports  *report.Generator

	renderers map[model.ReportFormat]ReportRenderer
	signer    ReportSigner
}

func NewOpeningService(deps Dependencies) (*OpeningService, error) {
	if deps.Store == nil || deps.Tenders == nil || deps.Suppliers == nil || deps.Keys == nil {
		return nil, errors.New("opening service: store, directories and key provider are required")
	}
	if deps.ActiveKeyID == "" {
		return nil, errors.New("opening service: active key id is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	workers := deps.Workers
	if workers <= 0 {
		workers = defaultOpeningWorkers
	}

	engine, err := cipher.NewEngine()
	if err != nil {
		return nil, err
	}
	generator, err := report.NewGenerator()
	if err != nil {
		return nil, err
	}

	notifiers := []audit.Notifier{audit.NewLogNotifier(deps.Logger)}
	if deps.Metrics != nil {
		notifiers = append(notifiers, deps.Metrics)
	}
	notifiers = append(notifiers, deps.Notifiers...)
	emitter := audit.NewEmitter(clock, deps.Logger, notifiers...)

	ledger := NewAttendanceLedger(clock, emitter)
	machine := NewSessionMachine(clock, emitter, ledger, deps.Metrics)
	bids := NewSealedBidStore(engine, deps.Keys, deps.ActiveKeyID, clock, emitter, machine, deps.Metrics, deps.Logger)

	renderers := make(map[model.ReportFormat]ReportRenderer)
	if deps.PDF != nil {
		renderers[model.ReportFormatPDF] = deps.PDF
	}
	if deps.Excel != nil {
		renderers[model.ReportFormatXLSX] = deps.Excel
	}

	return &OpeningService{
		store:     deps.Store,
		tenders:   deps.Tenders,
		suppliers: deps.Suppliers,
		clock:     clock,
		log:       deps.Logger,
		workers:   workers,
		bids:      bids,
		ledger:    ledger,
		sessions:  machine,
		reports:   generator,
		renderers: renderers,
		signer:    deps.Signer,
	}, nil
}

type SealBidInput struct {
	BidID      uuid.UUID
	TenderID   uuid.UUID
	SupplierID uuid.UUID
	Payload    model.BidPayload
	Principal  model.Principal
}

type SealedBidSummary struct {
	BidID            uuid.UUID       `json:"bid_id"`
	Status           model.BidStatus `json:"status"`
	SealedAt         time.Time       `json:"sealed_at"`
	CiphertextDigest string          `json:"ciphertext_digest"`
}

func (s *OpeningService) SealBid(ctx context.Context, input SealBidInput) (*SealedBidSummary, error) {
	if !(input.Principal.IsSupplier() || input.Principal.IsAdmin()) {
		return nil, ErrPermissionDenied
	}
	if input.Principal.IsSupplier() && input.Principal.OrgID != input.SupplierID {
		return nil, ErrPermissionDenied
	}
	if input.TenderID == uuid.Nil || input.SupplierID == uuid.Nil {
		return nil, fmt.Errorf("%w: tender_id and supplier_id are required", ErrInvalidInput)
	}

	tender, err := s.tender(ctx, input.TenderID)
	if err != nil {
		return nil, err
	}
	supplier, err := s.suppliers.GetSupplier(ctx, input.SupplierID)
	if err != nil {
		return nil, notFound(err)
	}

	bid, err := s.bids.Seal(ctx, s.store, SealInput{
		BidID:    input.BidID,
		Tender:   *tender,
		Supplier: *supplier,
		Payload:  input.Payload,
		Actor:    input.Principal.UserID.String(),
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("bid_id", bid.ID.String()).
		Str("tender_id", bid.TenderID.String()).
		Str("key_id", bid.KeyID).
		Msg("bid sealed")
	return &SealedBidSummary{
		BidID:            bid.ID,
		Status:           bid.Status,
		SealedAt:         bid.SealedAt,
		CiphertextDigest: bid.CiphertextDigest,
	}, nil
}

type ScheduleOpeningInput struct {
	TenderID    uuid.UUID
	ScheduledAt time.Time
	Committee   []model.CommitteeMember
	Principal   model.Principal
}

func (s *OpeningService) ScheduleOpening(ctx context.Context, input ScheduleOpeningInput) (*model.OpeningSession, error) {
	if !input.Principal.CanRunOpening() {
		return nil, ErrPermissionDenied
	}
	tender, err := s.tender(ctx, input.TenderID)
	if err != nil {
		return nil, err
	}
	return s.sessions.Schedule(ctx, s.store, ScheduleInput{
		Tender:      *tender,
		ScheduledAt: input.ScheduledAt,
		Committee:   input.Committee,
		CreatedBy:   input.Principal.UserID,
	})
}

// ConfirmAttendance records the caller's own presence; nobody can confirm on
// behalf of another member.
func (s *OpeningService) ConfirmAttendance(ctx context.Context, sessionID uuid.UUID, principal model.Principal) (*model.OpeningSession, error) {
	if principal.UserID == uuid.Nil {
		return nil, ErrPermissionDenied
	}
	return s.ledger.ConfirmAttendance(ctx, s.store, sessionID, principal.UserID)
}

type BidFailure struct {
	BidID      uuid.UUID  `json:"bid_id"`
	Error      string     `json:"error"`
	IncidentID *uuid.UUID `json:"incident_id,omitempty"`
}

// OpeningRun is the outcome of one bulk open. Failed bids stay SEALED and can
// be retried with ResumeOpening once the cause is resolved.
type OpeningRun struct {
	Session  *model.OpeningSession `json:"session"`
	Opened   []uuid.UUID           `json:"opened"`
	Failures []BidFailure          `json:"failures"`

	errs *multierror.Error
}

// Err aggregates every per-bid failure of the run, or nil.
func (r *OpeningRun) Err() error {
	return r.errs.ErrorOrNil()
}

func (s *OpeningService) StartOpening(ctx context.Context, sessionID uuid.UUID, principal model.Principal) (*OpeningRun, error) {
	if !principal.CanRunOpening() {
		return nil, ErrPermissionDenied
	}
	session, err := s.sessions.Start(ctx, s.store, sessionID, principal.UserID.String())
	if err != nil {
		return nil, err
	}
	s.log.Info().
		Str("session_id", session.ID.String()).
		Int("total_bids", session.TotalBids).
		Msg("opening session started")
	return s.openAll(ctx, session, principal.UserID)
}

// ResumeOpening re-runs the bulk open over the bids of an IN_PROGRESS
// session that are still sealed.
func (s *OpeningService) ResumeOpening(ctx context.Context, sessionID uuid.UUID, principal model.Principal) (*OpeningRun, error) {
	if !principal.CanRunOpening() {
		return nil, ErrPermissionDenied
	}
	session, err := s.session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != model.SessionStatusInProgress {
		return nil, &SessionStateError{SessionID: session.ID, Status: session.Status, Want: model.SessionStatusInProgress}
	}
	return s.openAll(ctx, session, principal.UserID)
}

func (s *OpeningService) openAll(ctx context.Context, session *model.OpeningSession, by uuid.UUID) (*OpeningRun, error) {
	run := &OpeningRun{Session: session, Opened: []uuid.UUID{}, Failures: []BidFailure{}}
	if session.Status == model.SessionStatusCompleted {
		return run, nil
	}

	ids, err := s.store.Bids().ListSealedIDs(ctx, session.TenderID)
	if err != nil {
		return nil, err
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.workers)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			_, err := s.bids.Open(ctx, s.store, id, by)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failure := BidFailure{BidID: id, Error: err.Error()}
				var breach *SealBreachError
				if errors.As(err, &breach) {
					incidentID := breach.IncidentID
					failure.IncidentID = &incidentID
				}
				run.Failures = append(run.Failures, failure)
				run.errs = multierror.Append(run.errs, fmt.Errorf("bid %s: %w", id, err))
				return nil
			}
			run.Opened = append(run.Opened, id)
			return nil
		})
	}
	// per-bid failures never abort the group
	_ = g.Wait()

	sort.Slice(run.Opened, func(i, j int) bool { return run.Opened[i].String() < run.Opened[j].String() })
	sort.Slice(run.Failures, func(i, j int) bool { return run.Failures[i].BidID.String() < run.Failures[j].BidID.String() })

	refreshed, err := s.store.Sessions().Get(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	run.Session = refreshed

	entry := s.log.Info()
	if len(run.Failures) > 0 {
		entry = s.log.Warn().Err(run.Err())
	}
	entry.
		Str("session_id", refreshed.ID.String()).
		Str("status", string(refreshed.Status)).
		Int("opened", len(run.Opened)).
		Int("failed", len(run.Failures)).
		Msg("opening run finished")
	return run, nil
}

func (s *OpeningService) OpenBid(ctx context.Context, bidID uuid.UUID, principal model.Principal) (*model.SealedBid, error) {
	if !principal.CanRunOpening() {
		return nil, ErrPermissionDenied
	}
	return s.bids.Open(ctx, s.store, bidID, principal.UserID)
}

func canReadOpening(p model.Principal) bool {
	return p.IsOfficer() || p.IsCommittee() || p.IsAuditor() || p.IsAdmin()
}

func canReadAudit(p model.Principal) bool {
	return p.IsAuditor() || p.IsAdmin()
}

func (s *OpeningService) GetOpeningReport(ctx context.Context, sessionID uuid.UUID, principal model.Principal) (*model.OpeningReport, error) {
	if !canReadOpening(principal) {
		return nil, ErrPermissionDenied
	}
	session, err := s.session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != model.SessionStatusCompleted {
		return nil, &SessionNotCompleteError{SessionID: session.ID, Status: session.Status}
	}
	bids, err := s.store.Bids().ListByTender(ctx, session.TenderID)
	if err != nil {
		return nil, err
	}
	return s.reports.Generate(*session, bids, s.clock.Now())
}

type ExportResult struct {
	FileName    string
	ContentType string
	Content     []byte
}

var contentTypes = map[model.ReportFormat]string{
	model.ReportFormatPDF:    "application/pdf",
	model.ReportFormatXLSX:   "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	model.ReportFormatSigned: "application/cose",
}

func (s *OpeningService) ExportReport(ctx context.Context, sessionID uuid.UUID, format model.ReportFormat, principal model.Principal) (*ExportResult, error) {
	var render func(*model.OpeningReport) ([]byte, error)
	switch format {
	case model.ReportFormatSigned:
		if s.signer == nil {
			return nil, fmt.Errorf("%w: report signing is not configured", ErrInvalidInput)
		}
		render = s.signer.Sign
	default:
		renderer, ok := s.renderers[format]
		if !ok {
			return nil, fmt.Errorf("%w: unsupported report format %q", ErrInvalidInput, format)
		}
		render = func(r *model.OpeningReport) ([]byte, error) { return renderer.Generate(*r) }
	}

	rep, err := s.GetOpeningReport(ctx, sessionID, principal)
	if err != nil {
		return nil, err
	}
	content, err := render(rep)
	if err != nil {
		return nil, err
	}
	return &ExportResult{
		FileName:    buildFileName(rep, format),
		ContentType: contentTypes[format],
		Content:     content,
	}, nil
}

// GetSealedBid returns the stored bid. Suppliers only see their own.
func (s *OpeningService) GetSealedBid(ctx context.Context, bidID uuid.UUID, principal model.Principal) (*model.SealedBid, error) {
	bid, err := s.bids.Get(ctx, s.store, bidID)
	if err != nil {
		return nil, err
	}
	if principal.IsSupplier() {
		if bid.SupplierID != principal.OrgID {
			return nil, ErrNotFound
		}
		return bid, nil
	}
	if !canReadOpening(principal) {
		return nil, ErrPermissionDenied
	}
	return bid, nil
}

func (s *OpeningService) ListTenderBids(ctx context.Context, tenderID uuid.UUID, principal model.Principal) ([]model.SealedBid, error) {
	if !(principal.IsSupplier() || canReadOpening(principal)) {
		return nil, ErrPermissionDenied
	}
	bids, err := s.bids.GetByTender(ctx, s.store, tenderID)
	if err != nil {
		return nil, err
	}
	if !principal.IsSupplier() {
		return bids, nil
	}
	own := make([]model.SealedBid, 0, len(bids))
	for _, bid := range bids {
		if bid.SupplierID == principal.OrgID {
			own = append(own, bid)
		}
	}
	return own, nil
}

func (s *OpeningService) GetSession(ctx context.Context, sessionID uuid.UUID, principal model.Principal) (*model.OpeningSession, error) {
	if !canReadOpening(principal) {
		return nil, ErrPermissionDenied
	}
	return s.session(ctx, sessionID)
}

func (s *OpeningService) ListSessionsByStatus(ctx context.Context, status *model.SessionStatus, principal model.Principal) ([]model.OpeningSession, error) {
	if !canReadOpening(principal) {
		return nil, ErrPermissionDenied
	}
	if status != nil && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown session status %q", ErrInvalidInput, *status)
	}
	return s.store.Sessions().ListByStatus(ctx, status)
}

func (s *OpeningService) ListAuditEvents(ctx context.Context, filter model.AuditFilter, principal model.Principal) ([]model.AuditEvent, error) {
	if !canReadAudit(principal) {
		return nil, ErrPermissionDenied
	}
	return s.store.Audit().List(ctx, filter)
}

type ChainStatus struct {
	Events int    `json:"events"`
	Head   string `json:"head"`
	Valid  bool   `json:"valid"`
	Error  string `json:"error,omitempty"`
}

// VerifyAuditChain recomputes the hash chain over the whole audit trail.
// A broken chain is reported in the result, not as an error.
func (s *OpeningService) VerifyAuditChain(ctx context.Context, principal model.Principal) (*ChainStatus, error) {
	if !canReadAudit(principal) {
		return nil, ErrPermissionDenied
	}
	events, err := s.store.Audit().List(ctx, model.AuditFilter{})
	if err != nil {
		return nil, err
	}
	status := &ChainStatus{Events: len(events), Valid: true}
	if len(events) > 0 {
		status.Head = events[len(events)-1].Hash
	}
	if err := audit.VerifyChain(events); err != nil {
		status.Valid = false
		status.Error = err.Error()
		s.log.Error().Err(err).Msg("audit chain verification failed")
	}
	return status, nil
}

func (s *OpeningService) ListIncidents(ctx context.Context, status *model.IncidentStatus, principal model.Principal) ([]model.Incident, error) {
	if !canReadAudit(principal) {
		return nil, ErrPermissionDenied
	}
	return s.store.Incidents().List(ctx, status)
}

func (s *OpeningService) AcknowledgeIncident(ctx context.Context, incidentID uuid.UUID, principal model.Principal) (*model.Incident, error) {
	if !principal.IsAdmin() {
		return nil, ErrPermissionDenied
	}
	err := s.store.Incidents().Acknowledge(ctx, incidentID, principal.UserID, s.clock.Now().UTC())
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return nil, ErrNotFound
	case errors.Is(err, repository.ErrConflict):
		return nil, fmt.Errorf("%w: %s", ErrIncidentAcknowledged, incidentID)
	case err != nil:
		return nil, err
	}
	incident, err := s.store.Incidents().Get(ctx, incidentID)
	if err != nil {
		return nil, notFound(err)
	}
	s.log.Info().
		Str("incident_id", incident.ID.String()).
		Str("acknowledged_by", principal.UserID.String()).
		Msg("security incident acknowledged")
	return incident, nil
}

func (s *OpeningService) tender(ctx context.Context, id uuid.UUID) (*model.Tender, error) {
	tender, err := s.tenders.GetTender(ctx, id)
	if err != nil {
		return nil, notFound(err)
	}
	return tender, nil
}

func (s *OpeningService) session(ctx context.Context, id uuid.UUID) (*model.OpeningSession, error) {
	session, err := s.store.Sessions().Get(ctx, id)
	if err != nil {
		return nil, notFound(err)
	}
	return session, nil
}

func notFound(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func buildFileName(rep *model.OpeningReport, format model.ReportFormat) string {
	target := sanitizeFileName(rep.TenderRef)
	if target == "" {
		target = rep.TenderID.String()
	}
	return fmt.Sprintf("opening-report-%s-%s.%s", target, rep.CompletedAt.Format("20060102"), format)
}

func sanitizeFileName(input string) string {
	result := make([]rune, 0, len(input))
	for _, r := range input {
		switch {
		case r >= 'a' && r <= 'z':
			result = append(result, r)
		case r >= 'A' && r <= 'Z':
			result = append(result, r)
		case r >= '0' && r <= '9':
			result = append(result, r)
		case r == '-', r == '_':
			result = append(result, r)
		default:
			result = append(result, '-')
		}
	}
	return strings.Trim(string(result), "-")
}
