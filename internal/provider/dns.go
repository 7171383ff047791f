package provider

import (
	"fmt"

	"github.com/ignite/sendrelay/internal/domain"
)

// DNSRecordSet translates DKIM tokens into the records a tenant must
// publish for a sending domain. Pure format translation, no provider calls.
func DNSRecordSet(dom string, dkimTokens []string) []domain.DNSRecord {
	records := make([]domain.DNSRecord, 0, len(dkimTokens)+2)

	for _, token := range dkimTokens {
		records = append(records, domain.DNSRecord{
			Type:    "CNAME",
			Name:    fmt.Sprintf("%s._domainkey.%s", token, dom),
			Value:   fmt.Sprintf("%s.dkim.amazonses.com", token),
			Purpose: "dkim",
		})
	}

	records = append(records, domain.DNSRecord{
		Type:    "TXT",
		Name:    dom,
		Value:   "v=spf1 include:amazonses.com ~all",
		Purpose: "spf",
	})

	records = append(records, domain.DNSRecord{
		Type:    "TXT",
		Name:    "_dmarc." + dom,
		Value:   fmt.Sprintf("v=DMARC1; p=none; rua=mailto:dmarc@%s", dom),
		Purpose: "dmarc",
	})

	return records
}
