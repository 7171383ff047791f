package logger

import "strings"

// RedactEmail masks the local part of an address, keeping enough to
// distinguish recipients in logs: "john.doe@example.com" → "jo***@example.com".
// Local parts of two characters or fewer are masked entirely; anything that
// is not shaped like an address comes back fully masked.
func RedactEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return "***@***"
	}
	local, domain := email[:at], email[at+1:]
	if len(local) <= 2 {
		return "***@" + domain
	}
	return local[:2] + "***@" + domain
}

// RedactToken keeps a short prefix of an opaque identifier so related log
// lines stay correlatable without exposing the full token.
func RedactToken(token string) string {
	if len(token) <= 8 {
		return "***"
	}
	return token[:8] + "***"
}
