package domain

import "testing"

func TestSendStatusTerminal(t *testing.T) {
	tests := []struct {
		status SendStatus
		want   bool
	}{
		{StatusPending, false},
		{StatusSent, false},
		{StatusDelivered, false},
		{StatusOpened, false},
		{StatusClicked, false},
		{StatusBounced, true},
		{StatusComplained, true},
		{StatusFailed, true},
	}

	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.want {
			t.Errorf("Terminal(%q) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestEmailDomain(t *testing.T) {
	tests := []struct {
		address string
		want    string
	}{
		{"user@example.com", "example.com"},
		{"User@EXAMPLE.COM", "example.com"},
		{"user@sub.example.com", "sub.example.com"},
		{"no-at-sign", ""},
		{"trailing@", ""},
		{"two@@example.com", ""},
		{"", ""},
	}

	for _, tt := range tests {
		if got := EmailDomain(tt.address); got != tt.want {
			t.Errorf("EmailDomain(%q) = %q, want %q", tt.address, got, tt.want)
		}
	}
}

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		email string
		want  bool
	}{
		{"user@example.com", true},
		{"a@b.co", true},
		{"missing-domain@", false},
		{"@missing-local.com", false},
		{"no-dot@localhost", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := ValidateEmail(tt.email); got != tt.want {
			t.Errorf("ValidateEmail(%q) = %v, want %v", tt.email, got, tt.want)
		}
	}
}
