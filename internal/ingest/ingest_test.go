package ingest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/sendrelay/internal/counters"
	"github.com/ignite/sendrelay/internal/domain"
	"github.com/ignite/sendrelay/internal/lifecycle"
	"github.com/ignite/sendrelay/internal/pkg/logger"
)

// gwStore backs both the lifecycle machine and the reputation sink.
type gwStore struct {
	records    map[string]*domain.SendRecord
	byMsgID    map[string]string
	journal    []domain.TrackingEvent
	reputation []domain.BounceComplaintEvent
}

func newGwStore() *gwStore {
	return &gwStore{records: map[string]*domain.SendRecord{}, byMsgID: map[string]string{}}
}

func (s *gwStore) add(rec *domain.SendRecord) {
	s.records[rec.ID] = rec
	s.byMsgID[rec.ProviderMessageID] = rec.ID
}

func (s *gwStore) SendRecordByID(_ context.Context, id string) (*domain.SendRecord, error) {
	return s.records[id], nil
}

func (s *gwStore) SendRecordByProviderMessageID(_ context.Context, id string) (*domain.SendRecord, error) {
	return s.records[s.byMsgID[id]], nil
}

func (s *gwStore) SendRecordByTrackingToken(_ context.Context, _ string) (*domain.SendRecord, error) {
	return nil, nil
}

func (s *gwStore) MarkDelivered(_ context.Context, id string, at time.Time) (bool, error) {
	rec := s.records[id]
	if rec == nil || rec.Status != domain.StatusSent {
		return false, nil
	}
	rec.Status = domain.StatusDelivered
	rec.DeliveredAt = &at
	return true, nil
}

func (s *gwStore) MarkOpened(_ context.Context, id string, at time.Time) (bool, error) {
	return false, nil
}

func (s *gwStore) MarkClicked(_ context.Context, id string, at time.Time) (bool, error) {
	return false, nil
}

func (s *gwStore) MarkBounced(_ context.Context, id string, at time.Time) (bool, error) {
	rec := s.records[id]
	if rec == nil || rec.Status.Terminal() {
		return false, nil
	}
	rec.Status = domain.StatusBounced
	rec.BouncedAt = &at
	return true, nil
}

func (s *gwStore) MarkComplained(_ context.Context, id string, at time.Time) (bool, error) {
	rec := s.records[id]
	if rec == nil || rec.Status.Terminal() {
		return false, nil
	}
	rec.Status = domain.StatusComplained
	rec.ComplainedAt = &at
	return true, nil
}

func (s *gwStore) AppendTrackingEvent(_ context.Context, ev *domain.TrackingEvent) error {
	s.journal = append(s.journal, *ev)
	return nil
}

func (s *gwStore) RecordBounceComplaint(_ context.Context, ev *domain.BounceComplaintEvent) error {
	s.reputation = append(s.reputation, *ev)
	return nil
}

func setupGateway(t *testing.T, store *gwStore) (*Gateway, *counters.Counters) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	log := logger.New(logger.ERROR, "test").WithOutput(io.Discard)
	ctrs := counters.New(rdb)
	machine := lifecycle.NewMachine(store, log)
	return NewGateway(machine, store, ctrs, log, nil), ctrs
}

func snsNotification(t *testing.T, inner interface{}) string {
	t.Helper()
	msg, err := json.Marshal(inner)
	if err != nil {
		t.Fatal(err)
	}
	envelope, err := json.Marshal(SNSEnvelope{Type: "Notification", Message: string(msg)})
	if err != nil {
		t.Fatal(err)
	}
	return string(envelope)
}

func postWebhook(g *Gateway, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/provider", strings.NewReader(body))
	w := httptest.NewRecorder()
	g.HandleWebhook(w, req)
	return w
}

func TestSubscriptionHandshake(t *testing.T) {
	confirmed := make(chan struct{}, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		confirmed <- struct{}{}
	}))
	defer ts.Close()

	g, _ := setupGateway(t, newGwStore())
	body, _ := json.Marshal(SNSEnvelope{Type: "SubscriptionConfirmation", SubscribeURL: ts.URL})

	w := postWebhook(g, string(body))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	select {
	case <-confirmed:
	default:
		t.Error("confirmation URL was not fetched")
	}
}

func TestHandshakeFailureStillReturns200(t *testing.T) {
	g, _ := setupGateway(t, newGwStore())
	body, _ := json.Marshal(SNSEnvelope{Type: "SubscriptionConfirmation", SubscribeURL: "http://127.0.0.1:1/unreachable"})

	if w := postWebhook(g, string(body)); w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 despite handshake failure", w.Code)
	}
}

func TestBounceNotification(t *testing.T) {
	store := newGwStore()
	now := time.Now()
	store.add(&domain.SendRecord{
		ID:                "rec-1",
		ProviderMessageID: "ses-1",
		RecipientAddress:  "ada@bouncy.test",
		Status:            domain.StatusSent,
		SentAt:            &now,
	})
	g, _ := setupGateway(t, store)

	body := snsNotification(t, map[string]interface{}{
		"notificationType": "Bounce",
		"mail":             map[string]string{"messageId": "ses-1"},
		"bounce": map[string]interface{}{
			"bounceType":    "Permanent",
			"bounceSubType": "General",
			"bouncedRecipients": []map[string]string{
				{"emailAddress": "ada@bouncy.test", "diagnosticCode": "550 5.1.1"},
			},
		},
	})

	if w := postWebhook(g, body); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	rec := store.records["rec-1"]
	if rec.Status != domain.StatusBounced || rec.BouncedAt == nil {
		t.Errorf("record = %+v", rec)
	}
	if len(store.reputation) != 1 {
		t.Fatalf("reputation rows = %d, want 1", len(store.reputation))
	}
	rep := store.reputation[0]
	if rep.RecipientDomain != "bouncy.test" || rep.BounceType != "Permanent" || rep.Diagnostic != "550 5.1.1" {
		t.Errorf("reputation row = %+v", rep)
	}
}

func TestDeliveryNotification(t *testing.T) {
	store := newGwStore()
	now := time.Now()
	store.add(&domain.SendRecord{
		ID: "rec-1", ProviderMessageID: "ses-1",
		RecipientAddress: "a@dest.test", Status: domain.StatusSent, SentAt: &now,
	})
	g, _ := setupGateway(t, store)

	body := snsNotification(t, map[string]interface{}{
		"notificationType": "Delivery",
		"mail":             map[string]string{"messageId": "ses-1"},
		"delivery":         map[string]interface{}{"recipients": []string{"a@dest.test"}},
	})
	postWebhook(g, body)

	if store.records["rec-1"].Status != domain.StatusDelivered {
		t.Errorf("status = %s", store.records["rec-1"].Status)
	}
	// Delivery produces no reputation row.
	if len(store.reputation) != 0 {
		t.Errorf("reputation rows = %d", len(store.reputation))
	}
}

func TestUnknownMessageIDReturns200AndCounts(t *testing.T) {
	g, ctrs := setupGateway(t, newGwStore())

	body := snsNotification(t, map[string]interface{}{
		"notificationType": "Bounce",
		"mail":             map[string]string{"messageId": "never-seen"},
	})
	if w := postWebhook(g, body); w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 on correlation miss", w.Code)
	}

	n, err := ctrs.CorrelationMissesToday(context.Background())
	if err != nil {
		t.Fatalf("CorrelationMissesToday: %v", err)
	}
	if n != 1 {
		t.Errorf("misses = %d, want 1", n)
	}
}

func TestMalformedEnvelopeRejected(t *testing.T) {
	g, _ := setupGateway(t, newGwStore())
	if w := postWebhook(g, "{not json"); w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for structurally invalid input", w.Code)
	}
}

func TestUnparseableInnerPayloadStill200(t *testing.T) {
	g, _ := setupGateway(t, newGwStore())
	envelope, _ := json.Marshal(SNSEnvelope{Type: "Notification", Message: "{broken"})
	if w := postWebhook(g, string(envelope)); w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 for valid envelope with bad inner payload", w.Code)
	}
}

func TestRedeliveredBounceIsNoOp(t *testing.T) {
	store := newGwStore()
	now := time.Now()
	store.add(&domain.SendRecord{
		ID: "rec-1", ProviderMessageID: "ses-1",
		RecipientAddress: "a@dest.test", Status: domain.StatusSent, SentAt: &now,
	})
	g, _ := setupGateway(t, store)

	body := snsNotification(t, map[string]interface{}{
		"notificationType": "Bounce",
		"mail":             map[string]string{"messageId": "ses-1"},
	})
	postWebhook(g, body)
	first := *store.records["rec-1"].BouncedAt
	postWebhook(g, body)

	if !store.records["rec-1"].BouncedAt.Equal(first) {
		t.Error("redelivered bounce overwrote bounced_at")
	}
}
