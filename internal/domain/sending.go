package domain

import (
	"net/url"
	"strings"
	"time"
)

// SendStatus tracks where a send record is in its delivery lifecycle.
type SendStatus string

const (
	StatusPending    SendStatus = "pending"
	StatusSent       SendStatus = "sent"
	StatusDelivered  SendStatus = "delivered"
	StatusOpened     SendStatus = "opened"
	StatusClicked    SendStatus = "clicked"
	StatusBounced    SendStatus = "bounced"
	StatusComplained SendStatus = "complained"
	StatusFailed     SendStatus = "failed"
)

// Terminal reports whether the status can never change again.
// Engagement timestamps may still be recorded on a terminal record;
// the status itself is sticky.
func (s SendStatus) Terminal() bool {
	return s == StatusBounced || s == StatusComplained || s == StatusFailed
}

// SendRecord is the authoritative row tracking one message attempt to one
// recipient. ID and TrackingToken are generated before the provider call so
// they can be embedded in tracking artifacts; ProviderMessageID is assigned
// by the provider on accept.
type SendRecord struct {
	ID                string     `json:"id"`
	ProviderMessageID string     `json:"provider_message_id,omitempty"`
	TrackingToken     string     `json:"-"`
	TenantID          string     `json:"tenant_id"`
	RecipientAddress  string     `json:"recipient_address"`
	RenderedSubject   string     `json:"rendered_subject"`
	RenderedBody      string     `json:"-"`
	CampaignID        string     `json:"campaign_id,omitempty"`
	Status            SendStatus `json:"status"`
	FailureReason     string     `json:"failure_reason,omitempty"`
	SentAt            *time.Time `json:"sent_at,omitempty"`
	DeliveredAt       *time.Time `json:"delivered_at,omitempty"`
	OpenedAt          *time.Time `json:"opened_at,omitempty"`
	ClickedAt         *time.Time `json:"clicked_at,omitempty"`
	BouncedAt         *time.Time `json:"bounced_at,omitempty"`
	ComplainedAt      *time.Time `json:"complained_at,omitempty"`
	FailedAt          *time.Time `json:"failed_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Recipient is one target of a bulk send. Vars carry flat key-value metadata
// sourced from list imports; the schema is open, so missing keys are normal.
type Recipient struct {
	ID      string            `json:"id"`
	Address string            `json:"address"`
	Active  bool              `json:"active"`
	Vars    map[string]string `json:"vars,omitempty"`
}

// EmailDomain extracts the lowercase domain part of an address, or "" when
// the address is malformed.
func EmailDomain(address string) string {
	parts := strings.Split(address, "@")
	if len(parts) != 2 || parts[1] == "" {
		return ""
	}
	return strings.ToLower(parts[1])
}

// ValidateEmail performs basic email validation.
func ValidateEmail(email string) bool {
	email = strings.TrimSpace(email)
	if len(email) < 3 || len(email) > 254 {
		return false
	}

	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return false
	}

	local, dom := parts[0], parts[1]
	if len(local) == 0 || len(local) > 64 {
		return false
	}
	if len(dom) == 0 || len(dom) > 253 {
		return false
	}
	if !strings.Contains(dom, ".") {
		return false
	}

	_, err := url.Parse("mailto:" + email)
	return err == nil
}
