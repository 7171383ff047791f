// Package ingest is the public webhook gateway for provider delivery
// notifications. It completes the SNS subscription handshake, unwraps
// notification envelopes, and hands classified events to the lifecycle
// machine. Structurally valid input always gets a 200: the provider retries
// on anything else, and retrying cannot fix a correlation miss.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/ignite/sendrelay/internal/counters"
	"github.com/ignite/sendrelay/internal/domain"
	"github.com/ignite/sendrelay/internal/lifecycle"
	"github.com/ignite/sendrelay/internal/pkg/httpretry"
	"github.com/ignite/sendrelay/internal/pkg/logger"
)

// SNSEnvelope is the outer AWS SNS transport wrapper.
type SNSEnvelope struct {
	Type         string `json:"Type"`
	SubscribeURL string `json:"SubscribeURL"`
	Message      string `json:"Message"`
	MessageId    string `json:"MessageId"`
	TopicArn     string `json:"TopicArn"`
}

// Notification is the inner SES event payload.
type Notification struct {
	NotificationType string `json:"notificationType"`
	Mail             struct {
		MessageID string `json:"messageId"`
	} `json:"mail"`
	Bounce    *BouncePayload    `json:"bounce,omitempty"`
	Complaint *ComplaintPayload `json:"complaint,omitempty"`
	Delivery  *DeliveryPayload  `json:"delivery,omitempty"`
}

type BouncePayload struct {
	BounceType        string    `json:"bounceType"`
	BounceSubType     string    `json:"bounceSubType"`
	Timestamp         time.Time `json:"timestamp"`
	BouncedRecipients []struct {
		EmailAddress   string `json:"emailAddress"`
		DiagnosticCode string `json:"diagnosticCode"`
	} `json:"bouncedRecipients"`
}

type ComplaintPayload struct {
	ComplaintFeedbackType string `json:"complaintFeedbackType"`
	ComplainedRecipients  []struct {
		EmailAddress string `json:"emailAddress"`
	} `json:"complainedRecipients"`
}

type DeliveryPayload struct {
	Timestamp  time.Time `json:"timestamp"`
	Recipients []string  `json:"recipients"`
}

// ReputationStore receives the denormalized bounce/complaint rows.
type ReputationStore interface {
	RecordBounceComplaint(ctx context.Context, ev *domain.BounceComplaintEvent) error
}

// Gateway processes provider webhook traffic.
type Gateway struct {
	machine  *lifecycle.Machine
	repStore ReputationStore
	counters *counters.Counters
	log      *logger.Logger
	client   httpretry.Doer
}

// NewGateway creates a gateway. client is used only for the subscription
// handshake; nil selects a default with a 10s timeout. Confirmation URLs
// are fetched through a retrying wrapper since the topic endpoint can be
// briefly unavailable right after creation.
func NewGateway(machine *lifecycle.Machine, repStore ReputationStore, ctrs *counters.Counters, log *logger.Logger, client *http.Client) *Gateway {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Gateway{
		machine:  machine,
		repStore: repStore,
		counters: ctrs,
		log:      log,
		client:   httpretry.New(client, 2, httpretry.WithBaseDelay(250*time.Millisecond)),
	}
}

// HandleWebhook is the HTTP entry point for provider notifications.
func (g *Gateway) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	var envelope SNSEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	switch envelope.Type {
	case "SubscriptionConfirmation":
		g.confirmSubscription(envelope)
	case "UnsubscribeConfirmation":
		g.log.Info("webhook topic unsubscribed", "topic", envelope.TopicArn)
	case "Notification":
		g.processNotification(r.Context(), envelope.Message)
	default:
		g.log.Warn("unrecognized envelope type", "type", envelope.Type)
	}

	// 200 regardless of processing outcome; retries cannot help.
	w.WriteHeader(http.StatusOK)
}

// confirmSubscription completes the one-time handshake by fetching the
// provider-supplied confirmation URL. Failure is logged, never surfaced.
func (g *Gateway) confirmSubscription(envelope SNSEnvelope) {
	g.log.Info("subscription confirmation received", "topic", envelope.TopicArn)
	req, err := http.NewRequest(http.MethodGet, envelope.SubscribeURL, nil)
	if err != nil {
		g.log.Error("bad confirmation url", "topic", envelope.TopicArn, "error", err.Error())
		return
	}
	resp, err := g.client.Do(req)
	if err != nil {
		g.log.Error("subscription confirmation failed", "topic", envelope.TopicArn, "error", err.Error())
		return
	}
	resp.Body.Close()
	g.log.Info("subscription confirmed", "topic", envelope.TopicArn)
}

func (g *Gateway) processNotification(ctx context.Context, message string) {
	var n Notification
	if err := json.Unmarshal([]byte(message), &n); err != nil {
		g.log.Error("notification payload unparseable", "error", err.Error())
		return
	}

	kind, ok := classify(n.NotificationType)
	if !ok {
		g.log.Warn("unhandled notification type", "type", n.NotificationType)
		return
	}

	rec, changed, err := g.machine.ApplyByProviderMessageID(ctx, kind, n.Mail.MessageID, time.Now())
	if err != nil {
		if errors.Is(err, lifecycle.ErrUnknownSendRecord) {
			g.log.Warn("webhook for unknown send", "message_id", n.Mail.MessageID, "kind", string(kind))
			if cerr := g.counters.IncrCorrelationMiss(ctx); cerr != nil {
				g.log.Debug("miss counter unavailable", "error", cerr.Error())
			}
			return
		}
		g.log.Error("event application failed", "message_id", n.Mail.MessageID, "kind", string(kind), "error", err.Error())
		return
	}

	g.log.Info("provider event applied", "send_id", rec.ID, "kind", string(kind), "changed", changed)

	switch kind {
	case domain.EventBounce:
		g.recordBounce(ctx, rec, n.Bounce)
	case domain.EventComplaint:
		g.recordComplaint(ctx, rec, n.Complaint)
	}
}

// classify maps a provider notification type to an event kind.
func classify(notificationType string) (domain.EventKind, bool) {
	switch notificationType {
	case "Bounce":
		return domain.EventBounce, true
	case "Complaint":
		return domain.EventComplaint, true
	case "Delivery":
		return domain.EventDelivery, true
	default:
		return "", false
	}
}

// recordBounce appends the reputation row. Non-blocking relative to the
// lifecycle transition: a write failure here is logged only.
func (g *Gateway) recordBounce(ctx context.Context, rec *domain.SendRecord, payload *BouncePayload) {
	ev := &domain.BounceComplaintEvent{
		SendID:           rec.ID,
		Kind:             domain.EventBounce,
		RecipientAddress: rec.RecipientAddress,
		RecipientDomain:  domain.EmailDomain(rec.RecipientAddress),
		OccurredAt:       time.Now(),
	}
	if payload != nil {
		ev.BounceType = payload.BounceType
		ev.BounceSubType = payload.BounceSubType
		if len(payload.BouncedRecipients) > 0 {
			ev.Diagnostic = payload.BouncedRecipients[0].DiagnosticCode
		}
	}
	if err := g.repStore.RecordBounceComplaint(ctx, ev); err != nil {
		g.log.Error("bounce reputation write failed", "send_id", rec.ID, "error", err.Error())
	}
}

func (g *Gateway) recordComplaint(ctx context.Context, rec *domain.SendRecord, payload *ComplaintPayload) {
	ev := &domain.BounceComplaintEvent{
		SendID:           rec.ID,
		Kind:             domain.EventComplaint,
		RecipientAddress: rec.RecipientAddress,
		RecipientDomain:  domain.EmailDomain(rec.RecipientAddress),
		OccurredAt:       time.Now(),
	}
	if payload != nil {
		ev.Diagnostic = payload.ComplaintFeedbackType
	}
	if err := g.repStore.RecordBounceComplaint(ctx, ev); err != nil {
		g.log.Error("complaint reputation write failed", "send_id", rec.ID, "error", err.Error())
	}
}
