package http

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nurpe/sealed-bids/internal/auth"
	"github.com/nurpe/sealed-bids/internal/cipher"
	"github.com/nurpe/sealed-bids/internal/http/middleware"
	"github.com/nurpe/sealed-bids/internal/keystore"
	"github.com/nurpe/sealed-bids/internal/metrics"
	"github.com/nurpe/sealed-bids/internal/model"
	"github.com/nurpe/sealed-bids/internal/repository"
	"github.com/nurpe/sealed-bids/internal/service"
)

const testSecret = "handler-secret"

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type renderer func(model.OpeningReport) ([]byte, error)

func (f renderer) Generate(r model.OpeningReport) ([]byte, error) { return f(r) }

type server struct {
	t         *testing.T
	clock     clockwork.FakeClock
	router    *gin.Engine
	tender    model.Tender
	supplier  model.Supplier
	officer   model.Principal
	auditor   model.Principal
	committee []model.CommitteeMember
}

func newServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	material, err := cipher.GenerateKeyMaterial()
	require.NoError(t, err)
	keys, err := keystore.NewConfigProvider(map[string]string{"k1": base64.StdEncoding.EncodeToString(material)})
	require.NoError(t, err)

	s := &server{
		t:     t,
		clock: clockwork.NewFakeClockAt(epoch),
		tender: model.Tender{
			ID:                 uuid.New(),
			ReferenceNumber:    "T-77",
			Title:              "Road salt",
			SubmissionDeadline: epoch.Add(30 * time.Minute),
		},
		supplier: model.Supplier{ID: uuid.New(), Name: "Alpha LLP"},
		officer:  model.Principal{UserID: uuid.New(), Role: model.UserRoleOfficer},
		auditor:  model.Principal{UserID: uuid.New(), Role: model.UserRoleAuditor},
		committee: []model.CommitteeMember{
			{UserID: uuid.New(), Name: "Chair", Role: "CHAIR"},
			{UserID: uuid.New(), Name: "Member", Role: "MEMBER"},
		},
	}

	directory := repository.NewMemoryDirectory()
	directory.PutTender(s.tender)
	directory.PutSupplier(s.supplier)

	m := metrics.New()
	svc, err := service.NewOpeningService(service.Dependencies{
		Store:       repository.NewMemoryStore(),
		Tenders:     directory,
		Suppliers:   directory,
		Keys:        keys,
		ActiveKeyID: "k1",
		Clock:       s.clock,
		Logger:      zerolog.Nop(),
		Metrics:     m,
		PDF:         renderer(func(r model.OpeningReport) ([]byte, error) { return []byte("%PDF-" + r.TenderRef), nil }),
		Excel:       renderer(func(r model.OpeningReport) ([]byte, error) { return []byte("xlsx"), nil }),
	})
	require.NoError(t, err)

	s.router = NewRouter(NewHandler(svc, zerolog.Nop()), middleware.Auth(auth.NewParser(testSecret)), RouterConfig{
		Environment:    "development",
		AllowedOrigins: []string{"*"},
		Metrics:        m,
		Log:            zerolog.Nop(),
	})
	return s
}

func (s *server) token(p model.Principal) string {
	s.t.Helper()
	claims := auth.Claims{
		UserID: p.UserID.String(),
		OrgID:  p.OrgID.String(),
		Role:   string(p.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(s.t, err)
	return token
}

func (s *server) do(method, path string, p *model.Principal, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if p != nil {
		req.Header.Set("Authorization", "Bearer "+s.token(*p))
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *server) supplierPrincipal() model.Principal {
	return model.Principal{UserID: uuid.New(), OrgID: s.supplier.ID, Role: model.UserRoleSupplier}
}

func (s *server) member(i int) model.Principal {
	return model.Principal{UserID: s.committee[i].UserID, Role: model.UserRoleCommittee}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func data(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	body := decode(t, rec)
	out, ok := body["data"].(map[string]any)
	require.True(t, ok, "response has no data object: %s", rec.Body.String())
	return out
}

func (s *server) sealBid(amount string) string {
	s.t.Helper()
	supplier := s.supplierPrincipal()
	rec := s.do(http.MethodPost, "/bids", &supplier, gin.H{
		"tender_id": s.tender.ID,
		"payload": gin.H{
			"amount":        amount,
			"currency":      "KZT",
			"validity_days": 60,
			"submitter":     gin.H{"name": "A. Bidder"},
		},
	})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return data(s.t, rec)["bid_id"].(string)
}

func (s *server) scheduleSession() string {
	s.t.Helper()
	committee := make([]gin.H, 0, len(s.committee))
	for _, m := range s.committee {
		committee = append(committee, gin.H{"user_id": m.UserID, "name": m.Name, "role": m.Role})
	}
	rec := s.do(http.MethodPost, "/sessions", &s.officer, gin.H{
		"tender_id":    s.tender.ID,
		"scheduled_at": epoch.Add(time.Hour).Format(time.RFC3339),
		"committee":    committee,
	})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return data(s.t, rec)["id"].(string)
}

func TestHealthAndMetricsArePublic(t *testing.T) {
	s := newServer(t)

	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/healthz", nil, nil).Code)

	rec := s.do(http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := newServer(t)

	rec := s.do(http.MethodGet, "/sessions", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSealedBidViewHidesContent(t *testing.T) {
	s := newServer(t)
	bidID := s.sealBid("1000.50")

	rec := s.do(http.MethodGet, "/bids/"+bidID, &s.officer, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	view := data(t, rec)
	assert.Equal(t, "SEALED", view["status"])
	assert.NotEmpty(t, view["ciphertext_digest"])
	assert.NotContains(t, view, "decrypted_bid")
	assert.NotContains(t, view, "Ciphertext")
	assert.NotContains(t, rec.Body.String(), "1000.5")
	assert.NotContains(t, rec.Body.String(), "A. Bidder")
}

func TestSealAfterDeadlineConflicts(t *testing.T) {
	s := newServer(t)
	s.clock.Advance(time.Hour)
	supplier := s.supplierPrincipal()

	rec := s.do(http.MethodPost, "/bids", &supplier, gin.H{
		"tender_id": s.tender.ID,
		"payload":   gin.H{"amount": "10", "currency": "KZT", "validity_days": 1, "submitter": gin.H{"name": "x"}},
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestOpeningLifecycleOverHTTP(t *testing.T) {
	s := newServer(t)
	bidID := s.sealBid("1000.50")
	sessionID := s.scheduleSession()

	rec := s.do(http.MethodPost, "/sessions/"+sessionID+"/start", &s.officer, nil)
	require.Equal(t, http.StatusTooEarly, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Contains(t, body, "due_at")
	assert.NotContains(t, body, "pending")

	s.clock.Advance(2 * time.Hour)
	first := s.member(0)
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/sessions/"+sessionID+"/attendance", &first, nil).Code)

	rec = s.do(http.MethodPost, "/sessions/"+sessionID+"/start", &s.officer, nil)
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	pending := decode(t, rec)["pending"].([]any)
	require.Len(t, pending, 1)
	assert.Equal(t, s.committee[1].UserID.String(), pending[0].(map[string]any)["user_id"])

	second := s.member(1)
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/sessions/"+sessionID+"/attendance", &second, nil).Code)

	rec = s.do(http.MethodPost, "/sessions/"+sessionID+"/start", &s.officer, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	run := data(t, rec)
	assert.Equal(t, []any{bidID}, run["opened"])
	assert.Equal(t, "COMPLETED", run["session"].(map[string]any)["status"])

	rec = s.do(http.MethodGet, "/bids/"+bidID, &s.officer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	opened := data(t, rec)
	assert.Equal(t, "OPENED", opened["status"])
	assert.Equal(t, "1000.5", opened["decrypted_bid"].(map[string]any)["amount"])

	rec = s.do(http.MethodPost, "/bids/"+bidID+"/open", &s.officer, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodGet, "/sessions/"+sessionID+"/report", &s.auditor, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report := data(t, rec)
	assert.Len(t, report["ranking"], 1)
	assert.NotEmpty(t, report["digest"])

	rec = s.do(http.MethodGet, "/sessions/"+sessionID+"/report/pdf", &s.officer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "opening-report-T-77-")
	assert.Equal(t, "%PDF-T-77", rec.Body.String())

	rec = s.do(http.MethodGet, "/sessions/"+sessionID+"/report/signed", &s.officer, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/audit/verify", &s.auditor, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, data(t, rec)["valid"])
}

func TestReportBeforeCompletionConflicts(t *testing.T) {
	s := newServer(t)
	s.sealBid("10")
	sessionID := s.scheduleSession()

	rec := s.do(http.MethodGet, "/sessions/"+sessionID+"/report", &s.officer, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAttendanceByOutsiderIsForbidden(t *testing.T) {
	s := newServer(t)
	sessionID := s.scheduleSession()
	outsider := model.Principal{UserID: uuid.New(), Role: model.UserRoleCommittee}

	rec := s.do(http.MethodPost, "/sessions/"+sessionID+"/attendance", &outsider, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAuditRequiresAuditor(t *testing.T) {
	s := newServer(t)
	s.sealBid("10")

	supplier := s.supplierPrincipal()
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, "/audit", &supplier, nil).Code)

	rec := s.do(http.MethodGet, "/audit?type=sealed&tender_id="+s.tender.ID.String(), &s.auditor, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	events := decode(t, rec)["data"].([]any)
	require.Len(t, events, 1)
	assert.Equal(t, "SEALED", events[0].(map[string]any)["type"])
}

func TestBadRequests(t *testing.T) {
	s := newServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
	}{
		{name: "bid id", method: http.MethodGet, path: "/bids/not-a-uuid"},
		{name: "session id", method: http.MethodPost, path: "/sessions/xyz/start"},
		{name: "audit filter", method: http.MethodGet, path: "/audit?bid_id=nope"},
		{name: "audit limit", method: http.MethodGet, path: "/audit?limit=-1"},
		{name: "incident status", method: http.MethodGet, path: "/incidents?status=closed"},
		{name: "report format", method: http.MethodGet, path: "/sessions/" + uuid.NewString() + "/report/docx"},
		{name: "schedule date", method: http.MethodPost, path: "/sessions", body: gin.H{
			"tender_id": s.tender.ID, "scheduled_at": "tomorrow", "committee": []gin.H{},
		}},
		{name: "session status", method: http.MethodGet, path: "/sessions?status=archived"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			admin := model.Principal{UserID: uuid.New(), Role: model.UserRoleAdmin}
			rec := s.do(tt.method, tt.path, &admin, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestHandleErrorMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHandler(nil, zerolog.Nop())
	incidentID := uuid.New()
	due := epoch.Add(time.Hour)

	tests := []struct {
		name   string
		err    error
		status int
		field  string
	}{
		{name: "breach", err: &service.SealBreachError{BidID: uuid.New(), IncidentID: incidentID}, status: http.StatusLocked, field: "incident_id"},
		{name: "not due", err: &service.NotYetDueError{DueAt: due}, status: http.StatusTooEarly, field: "due_at"},
		{name: "quorum", err: &service.QuorumNotMetError{}, status: http.StatusConflict, field: "pending"},
		{name: "unknown member", err: &service.UnknownMemberError{}, status: http.StatusForbidden},
		{name: "permission", err: service.ErrPermissionDenied, status: http.StatusForbidden},
		{name: "already opened", err: &service.AlreadyOpenedError{}, status: http.StatusConflict},
		{name: "duplicate seal", err: &service.DuplicateSealError{}, status: http.StatusConflict},
		{name: "duplicate session", err: &service.DuplicateSessionError{}, status: http.StatusConflict},
		{name: "not in progress", err: &service.SessionNotInProgressError{}, status: http.StatusConflict},
		{name: "acknowledged", err: fmt.Errorf("wrap: %w", service.ErrIncidentAcknowledged), status: http.StatusConflict},
		{name: "roster", err: &service.InvalidRosterError{Reason: "empty"}, status: http.StatusBadRequest},
		{name: "not found", err: service.ErrNotFound, status: http.StatusNotFound},
		{name: "unexpected", err: context.DeadlineExceeded, status: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(rec)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

			h.handleError(c, tt.err)

			assert.Equal(t, tt.status, rec.Code)
			body := decode(t, rec)
			if tt.field != "" {
				assert.Contains(t, body, tt.field)
			}
			if tt.status == http.StatusInternalServerError {
				assert.Equal(t, "internal error", body["error"])
			}
		})
	}
}
