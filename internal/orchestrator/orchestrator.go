// Package orchestrator drives single and bulk sends: personalization,
// tracking instrumentation, the provider call, and mandatory outcome
// persistence. A provider failure is recorded as a Failed send record
// before the error is surfaced, so attempted-but-failed sends always leave
// an audit trail.
package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/sendrelay/internal/counters"
	"github.com/ignite/sendrelay/internal/domain"
	"github.com/ignite/sendrelay/internal/personalize"
	"github.com/ignite/sendrelay/internal/pkg/distlock"
	"github.com/ignite/sendrelay/internal/pkg/logger"
	"github.com/ignite/sendrelay/internal/provider"
	"github.com/ignite/sendrelay/internal/tracking"
)

// ErrNoRecipients means a bulk request resolved to zero active recipients.
// Checked before any provider call.
var ErrNoRecipients = errors.New("no active recipients")

// ErrAllFailed means every active recipient of a bulk send failed. Partial
// failure is not an error; total failure is.
var ErrAllFailed = errors.New("all sends failed")

// ErrBulkInProgress means another process is already dispatching to the
// same recipient list.
var ErrBulkInProgress = errors.New("bulk send already in progress for list")

// MessageSender is the provider capability the orchestrator needs. An
// adapter instance is bound to one tenant's credentials, so it arrives per
// call rather than living on the orchestrator.
type MessageSender interface {
	SendMessage(ctx context.Context, msg provider.Message) (string, error)
}

// RecordStore persists send outcomes.
type RecordStore interface {
	CreateSendRecord(ctx context.Context, rec *domain.SendRecord) error
	GetListRecipients(ctx context.Context, listID string) ([]domain.Recipient, error)
}

// Pacer spaces consecutive bulk sends. The fixed inter-send delay is a
// deliberate crude rate limit: provider-side throttling is the real
// bottleneck, so anything fancier buys nothing.
type Pacer interface {
	Pause(ctx context.Context)
}

// IntervalPacer sleeps a fixed duration, honoring context cancellation.
type IntervalPacer struct {
	Interval time.Duration
}

func (p IntervalPacer) Pause(ctx context.Context) {
	if p.Interval <= 0 {
		return
	}
	select {
	case <-time.After(p.Interval):
	case <-ctx.Done():
	}
}

// Orchestrator coordinates the send pipeline.
type Orchestrator struct {
	store        RecordStore
	instrumenter *tracking.Instrumenter
	pacer        Pacer
	counters     *counters.Counters
	locks        distlock.Factory
	log          *logger.Logger
}

// SetLockFactory enables per-list bulk locking. Without it, concurrent
// bulk sends of the same list are not prevented.
func (o *Orchestrator) SetLockFactory(f distlock.Factory) {
	o.locks = f
}

// New creates an orchestrator.
func New(store RecordStore, instrumenter *tracking.Instrumenter, pacer Pacer, ctrs *counters.Counters, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		store:        store,
		instrumenter: instrumenter,
		pacer:        pacer,
		counters:     ctrs,
		log:          log,
	}
}

// SendRequest describes one outbound message before personalization.
type SendRequest struct {
	TenantID   string
	To         string
	From       string
	Subject    string
	Body       string
	Vars       map[string]string
	CampaignID string
}

// SendOne renders, instruments, dispatches, and records a single message.
// The adapter's error is re-raised after the Failed record is persisted so
// interactive callers can surface it immediately.
func (o *Orchestrator) SendOne(ctx context.Context, sender MessageSender, req SendRequest) (*domain.SendRecord, error) {
	subject, body := personalize.RenderAll(req.Subject, req.Body, req.Vars)

	// The id exists before persistence so tracking artifacts can carry it.
	sendID := uuid.New().String()
	instrumented, token := o.instrumenter.Instrument(body, sendID)

	rec := &domain.SendRecord{
		ID:               sendID,
		TrackingToken:    token,
		TenantID:         req.TenantID,
		RecipientAddress: req.To,
		RenderedSubject:  subject,
		RenderedBody:     body,
		CampaignID:       req.CampaignID,
	}

	messageID, sendErr := sender.SendMessage(ctx, provider.Message{
		From:    req.From,
		To:      req.To,
		Subject: subject,
		HTML:    instrumented,
		SendID:  sendID,
	})

	now := time.Now()
	if sendErr != nil {
		rec.Status = domain.StatusFailed
		rec.FailedAt = &now
		rec.FailureReason = provider.Kind(sendErr)
	} else {
		rec.Status = domain.StatusSent
		rec.SentAt = &now
		rec.ProviderMessageID = messageID
	}

	if err := o.store.CreateSendRecord(ctx, rec); err != nil {
		// The failure record is mandatory. Losing it is worse than the
		// send error itself.
		o.log.Error("send record persistence failed", "send_id", sendID, "recipient", req.To, "error", err.Error())
		if sendErr != nil {
			return rec, sendErr
		}
		return rec, err
	}

	if sendErr != nil {
		o.log.Warn("send failed", "send_id", sendID, "recipient", req.To, "reason", rec.FailureReason)
		return rec, sendErr
	}

	if err := o.counters.IncrSent(ctx); err != nil {
		o.log.Debug("sent counter unavailable", "error", err.Error())
	}
	o.log.Info("message sent", "send_id", sendID, "recipient", req.To, "message_id", messageID)
	return rec, nil
}

// FailedRecipient is one bulk casualty.
type FailedRecipient struct {
	Address string `json:"address"`
	Reason  string `json:"reason"`
}

// BulkResult aggregates per-recipient outcomes of one bulk send.
type BulkResult struct {
	Sent   []string          `json:"sent"`
	Failed []FailedRecipient `json:"failed"`
}

// SendBulk dispatches to every active recipient sequentially. One
// recipient's failure never aborts the batch; inactive recipients are
// skipped entirely and appear in neither list. Zero active recipients fails
// fast with ErrNoRecipients; zero successes returns ErrAllFailed alongside
// the per-recipient detail.
func (o *Orchestrator) SendBulk(ctx context.Context, sender MessageSender, recipients []domain.Recipient, req SendRequest) (*BulkResult, error) {
	active := recipients[:0:0]
	for _, r := range recipients {
		if r.Active {
			active = append(active, r)
		}
	}
	if len(active) == 0 {
		return nil, ErrNoRecipients
	}

	result := &BulkResult{}
	for i, r := range active {
		if i > 0 {
			o.pacer.Pause(ctx)
		}

		one := req
		one.To = r.Address
		one.Vars = r.Vars

		rec, err := o.SendOne(ctx, sender, one)
		if err != nil {
			result.Failed = append(result.Failed, FailedRecipient{Address: r.Address, Reason: provider.Kind(err)})
			continue
		}
		result.Sent = append(result.Sent, rec.ID)
	}

	o.log.Info("bulk send complete",
		"campaign_id", req.CampaignID,
		"sent", len(result.Sent),
		"failed", len(result.Failed),
		"skipped", len(recipients)-len(active))

	if len(result.Sent) == 0 {
		return result, ErrAllFailed
	}
	return result, nil
}

// SendBulkList resolves a stored recipient list and dispatches to it. A
// per-list lock keeps two processes from double-sending the same list; a
// lock-backend failure degrades to unlocked dispatch rather than blocking
// sends.
func (o *Orchestrator) SendBulkList(ctx context.Context, sender MessageSender, listID string, req SendRequest) (*BulkResult, error) {
	if o.locks != nil {
		lock := o.locks("bulk:" + listID)
		acquired, err := lock.TryAcquire(ctx)
		if err != nil {
			o.log.Warn("bulk lock unavailable, dispatching unlocked", "list_id", listID, "error", err.Error())
		} else if !acquired {
			return nil, ErrBulkInProgress
		} else {
			defer func() {
				if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
					o.log.Warn("bulk lock release failed", "list_id", listID, "error", err.Error())
				}
			}()
		}
	}

	recipients, err := o.store.GetListRecipients(ctx, listID)
	if err != nil {
		return nil, err
	}
	return o.SendBulk(ctx, sender, recipients, req)
}
