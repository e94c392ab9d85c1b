package dmarcauth

import (
	"context"
	"io"
	"log/slog"
	"strconv"

	"github.com/MrEthical07/dmarcauth/internal/audit"
	"github.com/MrEthical07/dmarcauth/ledger"
)

// NewJSONAuditSink writes one JSON object per event to w.
func NewJSONAuditSink(w io.Writer) AuditSink {
	return audit.NewJSONWriterSink(w)
}

// NewSlogAuditSink logs events through logger.
func NewSlogAuditSink(logger *slog.Logger) AuditSink {
	return audit.NewSlogSink(logger)
}

// NewChannelAuditSink returns a sink and the channel it feeds.
func NewChannelAuditSink(buffer int) (AuditSink, <-chan AuditEvent) {
	s := audit.NewChannelSink(buffer)
	return s, s.Events()
}

func (e *Engine) emit(ctx context.Context, event AuditEvent, err error) {
	if e == nil || e.audit == nil {
		return
	}
	if event.IP == "" {
		event.IP = ClientIPFromContext(ctx)
	}
	if err != nil {
		event.Error = ErrorCode(err)
	}
	e.audit.Emit(ctx, event)
}

// theftAlerter routes refresh-token theft alerts into the audit pipeline.
type theftAlerter struct {
	engine *Engine
}

func (a theftAlerter) TheftDetected(ctx context.Context, alert ledger.Alert) {
	a.engine.metricInc(MetricRefreshTheftDetected)
	a.engine.emit(ctx, AuditEvent{
		Timestamp: alert.DetectedAt,
		Type:      audit.TypeTheftDetected,
		UserID:    alert.UserID,
		FamilyID:  alert.FamilyID,
		IP:        alert.ClientIP,
		Metadata: map[string]string{
			"token_id":        alert.TokenID,
			"original_reason": string(alert.OriginalReason),
			"family_revoked":  strconv.FormatInt(alert.FamilyRevoked, 10),
			"revoke_failed":   strconv.FormatBool(alert.RevokeFailed),
		},
	}, ErrSessionCompromised)
}
