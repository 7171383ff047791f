package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/sendrelay/internal/domain"
)

// AppendTrackingEvent writes one audit entry. The event log is append-only
// and never consulted for control flow.
func (s *Store) AppendTrackingEvent(ctx context.Context, ev *domain.TrackingEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}

	var meta []byte
	if len(ev.Meta) > 0 {
		var err error
		meta, err = json.Marshal(ev.Meta)
		if err != nil {
			return err
		}
	}

	query := `INSERT INTO tracking_events (id, send_id, kind, occurred_at, url, user_agent, remote_addr, meta)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), $8)`

	_, err := s.db.ExecContext(ctx, query,
		ev.ID, ev.SendID, ev.Kind, ev.OccurredAt, ev.URL, ev.UserAgent, ev.RemoteAddr, meta)
	return err
}

// RecordBounceComplaint writes the denormalized reputation row. Callers
// treat failures here as non-fatal relative to the lifecycle transition.
func (s *Store) RecordBounceComplaint(ctx context.Context, ev *domain.BounceComplaintEvent) error {
	query := `INSERT INTO bounce_complaint_events
		(id, send_id, kind, recipient_address, recipient_domain, bounce_type, bounce_sub_type, diagnostic, occurred_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), $9)`

	_, err := s.db.ExecContext(ctx, query,
		uuid.New().String(), ev.SendID, ev.Kind, ev.RecipientAddress, ev.RecipientDomain,
		ev.BounceType, ev.BounceSubType, ev.Diagnostic, ev.OccurredAt)
	return err
}

// DomainReputation aggregates per-domain sent, bounce, and complaint counts
// since the cutoff. Rates are computed against the domain's sent volume.
func (s *Store) DomainReputation(ctx context.Context, since time.Time) ([]domain.DomainReputation, error) {
	query := `SELECT domains.domain,
		COALESCE(sent.sent_count, 0),
		COALESCE(bc.bounce_count, 0),
		COALESCE(bc.complaint_count, 0),
		bc.last_event_at
	FROM (
		SELECT DISTINCT split_part(recipient_address, '@', 2) AS domain
		FROM send_records WHERE created_at >= $1
	) domains
	LEFT JOIN (
		SELECT split_part(recipient_address, '@', 2) AS domain, COUNT(*) AS sent_count
		FROM send_records WHERE created_at >= $1 AND sent_at IS NOT NULL
		GROUP BY 1
	) sent ON sent.domain = domains.domain
	LEFT JOIN (
		SELECT recipient_domain AS domain,
			COUNT(*) FILTER (WHERE kind = 'bounce') AS bounce_count,
			COUNT(*) FILTER (WHERE kind = 'complaint') AS complaint_count,
			MAX(occurred_at) AS last_event_at
		FROM bounce_complaint_events WHERE occurred_at >= $1
		GROUP BY 1
	) bc ON bc.domain = domains.domain
	ORDER BY domains.domain`

	rows, err := s.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DomainReputation
	for rows.Next() {
		var rep domain.DomainReputation
		var lastEvent sql.NullTime
		if err := rows.Scan(&rep.Domain, &rep.SentCount, &rep.BounceCount, &rep.ComplaintCount, &lastEvent); err != nil {
			return nil, err
		}
		if lastEvent.Valid {
			t := lastEvent.Time
			rep.LastEventAt = &t
		}
		if rep.SentCount > 0 {
			rep.BounceRate = float64(rep.BounceCount) / float64(rep.SentCount)
			rep.ComplaintRate = float64(rep.ComplaintCount) / float64(rep.SentCount)
		}
		out = append(out, rep)
	}
	return out, rows.Err()
}
