package audit

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/nurpe/sealed-bids/internal/model"
)

// LogNotifier raises incidents as error-level log lines tagged for alerting.
type LogNotifier struct {
	log zerolog.Logger
}

func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(_ context.Context, incident model.Incident, event model.AuditEvent) {
	entry := n.log.Error().
		Bool("security_incident", true).
		Str("incident_id", incident.ID.String()).
		Str("bid_id", incident.BidID.String()).
		Str("tender_id", incident.TenderID.String()).
		Str("actor", event.Actor).
		Int64("audit_seq", event.Seq)
	if incident.SessionID != nil {
		entry = entry.Str("session_id", incident.SessionID.String())
	}
	entry.Msg("sealed bid failed integrity verification; administrator review required")
}

// NotifierFunc adapts a plain function to Notifier.
type NotifierFunc func(ctx context.Context, incident model.Incident, event model.AuditEvent)

func (f NotifierFunc) Notify(ctx context.Context, incident model.Incident, event model.AuditEvent) {
	f(ctx, incident, event)
}
