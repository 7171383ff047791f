package provider

import (
	"errors"
	"fmt"
)

// Sentinel errors for the adapter's failure taxonomy. Callers branch on
// these with errors.Is; everything else is a generic provider rejection.
var (
	ErrCredentialsMissing = errors.New("provider credentials not configured")
	ErrCredentialsInvalid = errors.New("provider credentials invalid")
	ErrSenderNotVerified  = errors.New("sender identity not verified")
	ErrQuotaExceeded      = errors.New("provider sending quota exceeded")
)

// Error kinds as stored in failure_reason and surfaced in API error codes.
const (
	KindCredentialsMissing = "MISSING_CREDENTIALS"
	KindCredentialsInvalid = "INVALID_CREDENTIALS"
	KindSenderNotVerified  = "SENDER_NOT_VERIFIED"
	KindQuotaExceeded      = "QUOTA_EXCEEDED"
	KindProviderError      = "SEND_FAILED"
)

// Kind maps an adapter error to its stable string code.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrCredentialsMissing):
		return KindCredentialsMissing
	case errors.Is(err, ErrCredentialsInvalid):
		return KindCredentialsInvalid
	case errors.Is(err, ErrSenderNotVerified):
		return KindSenderNotVerified
	case errors.Is(err, ErrQuotaExceeded):
		return KindQuotaExceeded
	default:
		return KindProviderError
	}
}

// providerErr wraps an underlying SDK error so the original detail survives
// logging while callers still see a single generic kind.
func providerErr(op string, err error) error {
	return fmt.Errorf("ses %s: %w", op, err)
}
