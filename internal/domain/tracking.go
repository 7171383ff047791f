package domain

import "time"

// EventKind names one class of delivery or engagement signal, whether it
// arrived from a provider webhook or from a tracking endpoint.
type EventKind string

const (
	EventDelivery  EventKind = "delivery"
	EventOpen      EventKind = "open"
	EventClick     EventKind = "click"
	EventBounce    EventKind = "bounce"
	EventComplaint EventKind = "complaint"
)

// TrackingEvent is an append-only observation tied to a send record.
// Every event is journaled even when it does not change record status.
type TrackingEvent struct {
	ID         string            `json:"id"`
	SendID     string            `json:"send_id"`
	Kind       EventKind         `json:"kind"`
	OccurredAt time.Time         `json:"occurred_at"`
	URL        string            `json:"url,omitempty"`
	UserAgent  string            `json:"user_agent,omitempty"`
	RemoteAddr string            `json:"remote_addr,omitempty"`
	Meta       map[string]string `json:"meta,omitempty"`
}

// BounceComplaintEvent carries the reputation-relevant details of a bounce
// or complaint, keyed by recipient domain for aggregation.
type BounceComplaintEvent struct {
	SendID           string    `json:"send_id"`
	Kind             EventKind `json:"kind"`
	RecipientAddress string    `json:"recipient_address"`
	RecipientDomain  string    `json:"recipient_domain"`
	BounceType       string    `json:"bounce_type,omitempty"`
	BounceSubType    string    `json:"bounce_sub_type,omitempty"`
	Diagnostic       string    `json:"diagnostic,omitempty"`
	OccurredAt       time.Time `json:"occurred_at"`
}

// DomainReputation aggregates bounce and complaint counts for one recipient
// domain over a reporting window.
type DomainReputation struct {
	Domain         string     `json:"domain"`
	SentCount      int        `json:"sent_count"`
	BounceCount    int        `json:"bounce_count"`
	ComplaintCount int        `json:"complaint_count"`
	BounceRate     float64    `json:"bounce_rate"`
	ComplaintRate  float64    `json:"complaint_rate"`
	LastEventAt    *time.Time `json:"last_event_at,omitempty"`
}

// DNSRecord is one record the tenant must publish to verify a sending domain.
type DNSRecord struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	Value   string `json:"value"`
	Purpose string `json:"purpose"`
}
