package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nurpe/sealed-bids/internal/http/middleware"
	"github.com/nurpe/sealed-bids/internal/model"
	"github.com/nurpe/sealed-bids/internal/service"
)

type Handler struct {
	openings *service.OpeningService
	log      zerolog.Logger
}

func NewHandler(openings *service.OpeningService, log zerolog.Logger) *Handler {
	return &Handler{openings: openings, log: log}
}

func (h *Handler) Register(router *gin.Engine, authMiddleware gin.HandlerFunc) {
	protected := router.Group("/")
	protected.Use(authMiddleware)

	protected.POST("/bids", h.sealBid)
	protected.GET("/bids/:id", h.getBid)
	protected.POST("/bids/:id/open", h.openBid)
	protected.GET("/tenders/:id/bids", h.listTenderBids)

	protected.POST("/sessions", h.scheduleOpening)
	protected.GET("/sessions", h.listSessions)
	protected.GET("/sessions/:id", h.getSession)
	protected.POST("/sessions/:id/attendance", h.confirmAttendance)
	protected.POST("/sessions/:id/start", h.startOpening)
	protected.POST("/sessions/:id/resume", h.resumeOpening)
	protected.GET("/sessions/:id/report", h.getReport)
	protected.GET("/sessions/:id/report/:format", h.exportReport)

	protected.GET("/audit", h.listAuditEvents)
	protected.GET("/audit/verify", h.verifyAuditChain)
	protected.GET("/incidents", h.listIncidents)
	protected.POST("/incidents/:id/acknowledge", h.acknowledgeIncident)
}

type sealBidRequest struct {
	BidID      string           `json:"bid_id"`
	TenderID   string           `json:"tender_id" binding:"required"`
	SupplierID string           `json:"supplier_id"`
	Payload    model.BidPayload `json:"payload"`
}

func (h *Handler) sealBid(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing principal"})
		return
	}

	var req sealBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tenderID, err := uuid.Parse(strings.TrimSpace(req.TenderID))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tender_id"})
		return
	}

	bidID := uuid.New()
	if raw := strings.TrimSpace(req.BidID); raw != "" {
		if bidID, err = uuid.Parse(raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid bid_id"})
			return
		}
	}

	supplierID := principal.OrgID
	if raw := strings.TrimSpace(req.SupplierID); raw != "" {
		if supplierID, err = uuid.Parse(raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid supplier_id"})
			return
		}
	}

	summary, err := h.openings.SealBid(c.Request.Context(), service.SealBidInput{
		BidID:      bidID,
		TenderID:   tenderID,
		SupplierID: supplierID,
		Payload:    req.Payload,
		Principal:  principal,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": summary})
}

func (h *Handler) getBid(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing principal"})
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	bid, err := h.openings.GetSealedBid(c.Request.Context(), id, principal)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": newSealedBidView(*bid)})
}

func (h *Handler) openBid(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing principal"})
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	bid, err := h.openings.OpenBid(c.Request.Context(), id, principal)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": newSealedBidView(*bid)})
}

func (h *Handler) listTenderBids(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing principal"})
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	bids, err := h.openings.ListTenderBids(c.Request.Context(), id, principal)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": newSealedBidViews(bids)})
}

type committeeMemberRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Name   string `json:"name" binding:"required"`
	Role   string `json:"role"`
}

type scheduleOpeningRequest struct {
	TenderID    string                   `json:"tender_id" binding:"required"`
	ScheduledAt string                   `json:"scheduled_at" binding:"required"`
	Committee   []committeeMemberRequest `json:"committee" binding:"required"`
}

func (h *Handler) scheduleOpening(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing principal"})
		return
	}

	var req scheduleOpeningRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tenderID, err := uuid.Parse(strings.TrimSpace(req.TenderID))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tender_id"})
		return
	}

	scheduledAt, err := parseDate(req.ScheduledAt)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid scheduled_at"})
		return
	}

	committee := make([]model.CommitteeMember, 0, len(req.Committee))
	for _, member := range req.Committee {
		userID, err := uuid.Parse(strings.TrimSpace(member.UserID))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid committee user_id"})
			return
		}
		committee = append(committee, model.CommitteeMember{
			UserID: userID,
			Name:   strings.TrimSpace(member.Name),
			Role:   strings.TrimSpace(member.Role),
		})
	}

	session, err := h.openings.ScheduleOpening(c.Request.Context(), service.ScheduleOpeningInput{
		TenderID:    tenderID,
		ScheduledAt: scheduledAt,
		Committee:   committee,
		Principal:   principal,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": newSessionView(*session)})
}

func (h *Handler) listSessions(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing principal"})
		return
	}

	var status *model.SessionStatus
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		value := model.SessionStatus(strings.ToUpper(raw))
		status = &value
	}

	sessions, err := h.openings.ListSessionsByStatus(c.Request.Context(), status, principal)
	if err != nil {
		h.handleError(c, err)
		return
	}
	views := make([]sessionView, 0, len(sessions))
	for _, session := range sessions {
		views = append(views, newSessionView(session))
	}
	c.JSON(http.StatusOK, gin.H{"data": views})
}

func (h *Handler) getSession(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing principal"})
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	session, err := h.openings.GetSession(c.Request.Context(), id, principal)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": newSessionView(*session)})
}

func (h *Handler) confirmAttendance(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing principal"})
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	session, err := h.openings.ConfirmAttendance(c.Request.Context(), id, principal)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": newSessionView(*session)})
}

func (h *Handler) startOpening(c *gin.Context) {
	h.runOpening(c, h.openings.StartOpening)
}

func (h *Handler) resumeOpening(c *gin.Context) {
	h.runOpening(c, h.openings.ResumeOpening)
}

type openingFunc func(ctx context.Context, sessionID uuid.UUID, principal model.Principal) (*service.OpeningRun, error)

func (h *Handler) runOpening(c *gin.Context, run openingFunc) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing principal"})
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	result, err := run(c.Request.Context(), id, principal)
	if err != nil {
		h.handleError(c, err)
		return
	}
	if err := result.Err(); err != nil {
		h.log.Warn().
			Err(err).
			Str("session_id", id.String()).
			Int("failed", len(result.Failures)).
			Msg("opening run left bids sealed")
	}
	c.JSON(http.StatusOK, gin.H{"data": newOpeningRunView(result)})
}

func (h *Handler) getReport(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing principal"})
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	report, err := h.openings.GetOpeningReport(c.Request.Context(), id, principal)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": report})
}

func (h *Handler) exportReport(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing principal"})
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	format, err := parseReportFormat(c.Param("format"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid format"})
		return
	}

	result, err := h.openings.ExportReport(c.Request.Context(), id, format, principal)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.Header("Content-Type", result.ContentType)
	c.Header("Content-Disposition", "attachment; filename=\""+result.FileName+"\"")
	c.Data(http.StatusOK, result.ContentType, result.Content)
}

func (h *Handler) listAuditEvents(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing principal"})
		return
	}

	var filter model.AuditFilter
	for param, target := range map[string]**uuid.UUID{
		"tender_id":  &filter.TenderID,
		"session_id": &filter.SessionID,
		"bid_id":     &filter.BidID,
	} {
		raw := strings.TrimSpace(c.Query(param))
		if raw == "" {
			continue
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + param})
			return
		}
		*target = &id
	}
	if raw := strings.TrimSpace(c.Query("type")); raw != "" {
		eventType := model.AuditEventType(strings.ToUpper(raw))
		filter.Type = &eventType
	}
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		filter.Limit = limit
	}

	events, err := h.openings.ListAuditEvents(c.Request.Context(), filter, principal)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": newAuditEventViews(events)})
}

func (h *Handler) verifyAuditChain(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing principal"})
		return
	}

	status, err := h.openings.VerifyAuditChain(c.Request.Context(), principal)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": status})
}

func (h *Handler) listIncidents(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing principal"})
		return
	}

	var status *model.IncidentStatus
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		value := model.IncidentStatus(strings.ToUpper(raw))
		if value != model.IncidentStatusOpen && value != model.IncidentStatusAcknowledged {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
			return
		}
		status = &value
	}

	incidents, err := h.openings.ListIncidents(c.Request.Context(), status, principal)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": newIncidentViews(incidents)})
}

func (h *Handler) acknowledgeIncident(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing principal"})
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	incident, err := h.openings.AcknowledgeIncident(c.Request.Context(), id, principal)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": newIncidentViews([]model.Incident{*incident})[0]})
}

func (h *Handler) handleError(c *gin.Context, err error) {
	var (
		breach   *service.SealBreachError
		notDue   *service.NotYetDueError
		noQuorum *service.QuorumNotMetError
	)
	switch {
	case errors.As(err, &breach):
		c.JSON(http.StatusLocked, gin.H{"error": err.Error(), "incident_id": breach.IncidentID})
	case errors.As(err, &notDue):
		c.JSON(http.StatusTooEarly, gin.H{"error": err.Error(), "due_at": notDue.DueAt.UTC()})
	case errors.As(err, &noQuorum):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "pending": pendingMembers(noQuorum.Pending)})
	case errors.Is(err, service.ErrUnknownMember), errors.Is(err, service.ErrPermissionDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrAlreadyOpened),
		errors.Is(err, service.ErrDuplicateSeal),
		errors.Is(err, service.ErrDuplicateSession),
		errors.Is(err, service.ErrSessionNotComplete),
		errors.Is(err, service.ErrSessionState),
		errors.Is(err, service.ErrSessionNotInProgress),
		errors.Is(err, service.ErrSubmissionClosed),
		errors.Is(err, service.ErrIncidentAcknowledged):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidRoster), errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func pendingMembers(members []model.CommitteeMember) []committeeMemberView {
	views := make([]committeeMemberView, 0, len(members))
	for _, member := range members {
		views = append(views, committeeMemberView(member))
	}
	return views
}

func pathID(c *gin.Context, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(strings.TrimSpace(c.Param(param)))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + param})
		return uuid.Nil, false
	}
	return id, true
}

func parseReportFormat(raw string) (model.ReportFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pdf":
		return model.ReportFormatPDF, nil
	case "xlsx", "excel":
		return model.ReportFormatXLSX, nil
	case "signed", "cose":
		return model.ReportFormatSigned, nil
	default:
		return "", service.ErrInvalidInput
	}
}

func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, service.ErrInvalidInput
	}
	layouts := []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, service.ErrInvalidInput
}
