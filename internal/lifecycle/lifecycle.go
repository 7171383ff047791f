// Package lifecycle applies delivery and engagement events to send records.
// The transition rules live in pure functions; persistence-level conditional
// writes enforce them under concurrent webhook delivery, so a redelivered
// event is a no-op rather than an error.
package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/ignite/sendrelay/internal/domain"
	"github.com/ignite/sendrelay/internal/pkg/logger"
)

// ErrUnknownSendRecord means an event referenced a send this system has no
// record of. Expected for sends predating retention or for another tenant's
// traffic on a shared endpoint; callers log it and move on.
var ErrUnknownSendRecord = errors.New("no send record matches event")

// CanApply reports whether an event may change the status of a record in
// the given state. Terminal states are sticky; engagement timestamps are
// still recordable afterward, which is the store's concern, not this one's.
func CanApply(status domain.SendStatus, kind domain.EventKind) bool {
	if status.Terminal() {
		return false
	}
	switch kind {
	case domain.EventDelivery:
		return status == domain.StatusSent
	case domain.EventOpen:
		return status == domain.StatusSent || status == domain.StatusDelivered
	case domain.EventClick:
		return status == domain.StatusSent || status == domain.StatusDelivered || status == domain.StatusOpened
	case domain.EventBounce, domain.EventComplaint:
		return true
	default:
		return false
	}
}

// NextStatus returns the status an event advances a record to, assuming
// CanApply holds.
func NextStatus(kind domain.EventKind) domain.SendStatus {
	switch kind {
	case domain.EventDelivery:
		return domain.StatusDelivered
	case domain.EventOpen:
		return domain.StatusOpened
	case domain.EventClick:
		return domain.StatusClicked
	case domain.EventBounce:
		return domain.StatusBounced
	case domain.EventComplaint:
		return domain.StatusComplained
	default:
		return ""
	}
}

// RecordStore is the persistence surface the machine drives.
type RecordStore interface {
	SendRecordByID(ctx context.Context, id string) (*domain.SendRecord, error)
	SendRecordByProviderMessageID(ctx context.Context, messageID string) (*domain.SendRecord, error)
	SendRecordByTrackingToken(ctx context.Context, token string) (*domain.SendRecord, error)
	MarkDelivered(ctx context.Context, id string, at time.Time) (bool, error)
	MarkOpened(ctx context.Context, id string, at time.Time) (bool, error)
	MarkClicked(ctx context.Context, id string, at time.Time) (bool, error)
	MarkBounced(ctx context.Context, id string, at time.Time) (bool, error)
	MarkComplained(ctx context.Context, id string, at time.Time) (bool, error)
	AppendTrackingEvent(ctx context.Context, ev *domain.TrackingEvent) error
}

// Machine correlates events to records and applies transitions.
type Machine struct {
	store RecordStore
	log   *logger.Logger
}

// NewMachine creates a machine over a record store.
func NewMachine(store RecordStore, log *logger.Logger) *Machine {
	return &Machine{store: store, log: log}
}

// ApplyByProviderMessageID handles webhook-delivered events, which carry the
// provider's message id. Returns the matched record and whether the event
// changed anything.
func (m *Machine) ApplyByProviderMessageID(ctx context.Context, kind domain.EventKind, messageID string, at time.Time) (*domain.SendRecord, bool, error) {
	rec, err := m.store.SendRecordByProviderMessageID(ctx, messageID)
	if err != nil {
		return nil, false, err
	}
	if rec == nil {
		return nil, false, ErrUnknownSendRecord
	}
	changed, err := m.apply(ctx, rec, kind, at, nil)
	return rec, changed, err
}

// ApplyOpenByToken handles a tracking pixel hit, which carries only the
// opaque pixel token.
func (m *Machine) ApplyOpenByToken(ctx context.Context, token string, at time.Time, meta map[string]string) (*domain.SendRecord, bool, error) {
	rec, err := m.store.SendRecordByTrackingToken(ctx, token)
	if err != nil {
		return nil, false, err
	}
	if rec == nil {
		return nil, false, ErrUnknownSendRecord
	}
	changed, err := m.apply(ctx, rec, domain.EventOpen, at, meta)
	return rec, changed, err
}

// ApplyClick handles a click-redirect hit, which carries the send id.
func (m *Machine) ApplyClick(ctx context.Context, sendID, url string, at time.Time, meta map[string]string) (*domain.SendRecord, bool, error) {
	rec, err := m.store.SendRecordByID(ctx, sendID)
	if err != nil {
		return nil, false, err
	}
	if rec == nil {
		return nil, false, ErrUnknownSendRecord
	}
	if meta == nil {
		meta = map[string]string{}
	}

	changed, err := m.applyMark(ctx, rec, domain.EventClick, at)
	if err != nil {
		return rec, false, err
	}
	m.journal(ctx, rec.ID, domain.EventClick, at, url, meta)
	return rec, changed, nil
}

func (m *Machine) apply(ctx context.Context, rec *domain.SendRecord, kind domain.EventKind, at time.Time, meta map[string]string) (bool, error) {
	changed, err := m.applyMark(ctx, rec, kind, at)
	if err != nil {
		return false, err
	}
	m.journal(ctx, rec.ID, kind, at, "", meta)
	if !changed {
		m.log.Debug("event was a no-op", "send_id", rec.ID, "kind", string(kind), "status", string(rec.Status))
	}
	return changed, nil
}

func (m *Machine) applyMark(ctx context.Context, rec *domain.SendRecord, kind domain.EventKind, at time.Time) (bool, error) {
	switch kind {
	case domain.EventDelivery:
		return m.store.MarkDelivered(ctx, rec.ID, at)
	case domain.EventOpen:
		return m.store.MarkOpened(ctx, rec.ID, at)
	case domain.EventClick:
		return m.store.MarkClicked(ctx, rec.ID, at)
	case domain.EventBounce:
		return m.store.MarkBounced(ctx, rec.ID, at)
	case domain.EventComplaint:
		return m.store.MarkComplained(ctx, rec.ID, at)
	default:
		return false, nil
	}
}

// journal appends the audit entry. The event log is best-effort relative to
// the transition; a write failure is logged, never propagated.
func (m *Machine) journal(ctx context.Context, sendID string, kind domain.EventKind, at time.Time, url string, meta map[string]string) {
	ev := &domain.TrackingEvent{
		SendID:     sendID,
		Kind:       kind,
		OccurredAt: at,
		URL:        url,
		Meta:       meta,
	}
	if err := m.store.AppendTrackingEvent(ctx, ev); err != nil {
		m.log.Error("tracking event journal write failed", "send_id", sendID, "kind", string(kind), "error", err.Error())
	}
}
