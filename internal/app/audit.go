package app

import (
	"context"
	"time"

	"starwatch/internal/eventbus"
	"starwatch/internal/poller"
	"starwatch/internal/storage"
	"starwatch/pkg/logx"
)

// Audit kinds written to the store.
const (
	AuditAlertPresented = "alert.presented"
	AuditAlertFailed    = "alert.failed"
	AuditAlertActivated = "alert.activated"
	AuditConsent        = "consent"
)

// auditEntry maps an event to an audit record. Events that are not audited
// return ok=false.
func auditEntry(e eventbus.Event) (storage.AuditEntry, bool) {
	switch d := e.Data.(type) {
	case poller.AlertEvent:
		kind := ""
		switch e.Type {
		case eventbus.TypeAlertPresented:
			kind = AuditAlertPresented
		case eventbus.TypeAlertFailed:
			kind = AuditAlertFailed
		case eventbus.TypeAlertActivated:
			kind = AuditAlertActivated
		default:
			return storage.AuditEntry{}, false
		}
		ae := storage.AuditEntry{
			At:       e.Time,
			Kind:     kind,
			Surface:  d.Surface,
			ItemID:   d.Item.ID,
			SourceID: d.Item.SourceID,
			Title:    d.Item.Title,
			URL:      d.Item.URL,
		}
		if d.Err != nil {
			ae.Error = d.Err.Error()
		}
		return ae, true
	case poller.ConsentChange:
		if e.Type != eventbus.TypeConsentChanged {
			return storage.AuditEntry{}, false
		}
		return storage.AuditEntry{
			At:      e.Time,
			Kind:    AuditConsent,
			Surface: d.Surface,
			Title:   d.From.String() + " -> " + d.To.String(),
		}, true
	}
	return storage.AuditEntry{}, false
}

// auditLoop logs every event and records alert and consent events in store
// (when set) until ctx is done or the subscription closes.
func auditLoop(ctx context.Context, events <-chan eventbus.Event, store storage.Store, log logx.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			// Keep this debug-level to avoid noise for short intervals.
			log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			if store == nil {
				continue
			}
			ae, ok := auditEntry(e)
			if !ok {
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err := store.AppendAudit(wctx, ae)
			cancel()
			if err != nil {
				log.Warn("audit write failed", logx.String("kind", ae.Kind), logx.Err(err))
			}
		}
	}
}
