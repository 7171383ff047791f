// Package store is the persistence layer for send records, tracking events,
// and tenant provider credentials. All lifecycle milestone writes are
// single-row conditional updates; the WHERE clause is the idempotency
// mechanism, not application-level locking.
package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/sendrelay/internal/domain"
)

// Store provides database operations for send records and events.
type Store struct {
	db *sql.DB
}

// New creates a store on an open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const sendRecordColumns = `id, provider_message_id, tracking_token, tenant_id, recipient_address,
	rendered_subject, rendered_body, campaign_id, status, failure_reason,
	sent_at, delivered_at, opened_at, clicked_at, bounced_at, complained_at, failed_at,
	created_at, updated_at`

// CreateSendRecord persists a new record. The ID is generated here when the
// caller has not already bound one to tracking artifacts.
func (s *Store) CreateSendRecord(ctx context.Context, rec *domain.SendRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	now := time.Now()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	query := `INSERT INTO send_records (` + sendRecordColumns + `)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, NULLIF($8, ''), $9, NULLIF($10, ''),
		$11, $12, $13, $14, $15, $16, $17, $18, $19)`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.ProviderMessageID, rec.TrackingToken, rec.TenantID, rec.RecipientAddress,
		rec.RenderedSubject, rec.RenderedBody, rec.CampaignID, rec.Status, rec.FailureReason,
		rec.SentAt, rec.DeliveredAt, rec.OpenedAt, rec.ClickedAt, rec.BouncedAt, rec.ComplainedAt, rec.FailedAt,
		rec.CreatedAt, rec.UpdatedAt)
	return err
}

// SendRecordByID fetches one record, or nil when absent.
func (s *Store) SendRecordByID(ctx context.Context, id string) (*domain.SendRecord, error) {
	return s.sendRecordWhere(ctx, "id = $1", id)
}

// SendRecordByProviderMessageID correlates a webhook event to its record.
func (s *Store) SendRecordByProviderMessageID(ctx context.Context, messageID string) (*domain.SendRecord, error) {
	return s.sendRecordWhere(ctx, "provider_message_id = $1", messageID)
}

// SendRecordByTrackingToken correlates a pixel hit to its record.
func (s *Store) SendRecordByTrackingToken(ctx context.Context, token string) (*domain.SendRecord, error) {
	return s.sendRecordWhere(ctx, "tracking_token = $1", token)
}

func (s *Store) sendRecordWhere(ctx context.Context, where string, arg interface{}) (*domain.SendRecord, error) {
	query := `SELECT ` + sendRecordColumns + ` FROM send_records WHERE ` + where

	rec := &domain.SendRecord{}
	var providerMessageID, campaignID, failureReason sql.NullString
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&rec.ID, &providerMessageID, &rec.TrackingToken, &rec.TenantID, &rec.RecipientAddress,
		&rec.RenderedSubject, &rec.RenderedBody, &campaignID, &rec.Status, &failureReason,
		&rec.SentAt, &rec.DeliveredAt, &rec.OpenedAt, &rec.ClickedAt, &rec.BouncedAt, &rec.ComplainedAt, &rec.FailedAt,
		&rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.ProviderMessageID = providerMessageID.String
	rec.CampaignID = campaignID.String
	rec.FailureReason = failureReason.String
	return rec, nil
}

// MarkDelivered sets delivered_at once. Delivery only advances a record that
// is currently Sent; anything else leaves the row untouched.
func (s *Store) MarkDelivered(ctx context.Context, id string, at time.Time) (bool, error) {
	query := `UPDATE send_records
		SET delivered_at = $2, status = 'delivered', updated_at = NOW()
		WHERE id = $1 AND delivered_at IS NULL AND status = 'sent'`
	return s.conditionalUpdate(ctx, query, id, at)
}

// MarkOpened sets opened_at at most once. Status advances only from
// sent/delivered; a clicked or terminal record keeps its status while the
// engagement timestamp is still recorded.
func (s *Store) MarkOpened(ctx context.Context, id string, at time.Time) (bool, error) {
	query := `UPDATE send_records
		SET opened_at = $2,
		    status = CASE WHEN status IN ('sent', 'delivered') THEN 'opened' ELSE status END,
		    updated_at = NOW()
		WHERE id = $1 AND opened_at IS NULL`
	return s.conditionalUpdate(ctx, query, id, at)
}

// MarkClicked sets clicked_at at most once, advancing status from any
// pre-click non-terminal state.
func (s *Store) MarkClicked(ctx context.Context, id string, at time.Time) (bool, error) {
	query := `UPDATE send_records
		SET clicked_at = $2,
		    status = CASE WHEN status IN ('sent', 'delivered', 'opened') THEN 'clicked' ELSE status END,
		    updated_at = NOW()
		WHERE id = $1 AND clicked_at IS NULL`
	return s.conditionalUpdate(ctx, query, id, at)
}

// MarkBounced moves a non-terminal record to bounced. A record that already
// reached a terminal state never changes again.
func (s *Store) MarkBounced(ctx context.Context, id string, at time.Time) (bool, error) {
	query := `UPDATE send_records
		SET bounced_at = $2, status = 'bounced', updated_at = NOW()
		WHERE id = $1 AND bounced_at IS NULL
		  AND status NOT IN ('bounced', 'complained', 'failed')`
	return s.conditionalUpdate(ctx, query, id, at)
}

// MarkComplained moves a non-terminal record to complained.
func (s *Store) MarkComplained(ctx context.Context, id string, at time.Time) (bool, error) {
	query := `UPDATE send_records
		SET complained_at = $2, status = 'complained', updated_at = NOW()
		WHERE id = $1 AND complained_at IS NULL
		  AND status NOT IN ('bounced', 'complained', 'failed')`
	return s.conditionalUpdate(ctx, query, id, at)
}

func (s *Store) conditionalUpdate(ctx context.Context, query, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
