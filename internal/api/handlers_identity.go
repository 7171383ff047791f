package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/sendrelay/internal/domain"
	"github.com/ignite/sendrelay/internal/pkg/httputil"
	"github.com/ignite/sendrelay/internal/provider"
)

func (s *Server) handleGetQuota(w http.ResponseWriter, r *http.Request) {
	sender, err := s.newAdapter(r.Context(), tenantID(r))
	if err != nil {
		s.writeSendError(w, err)
		return
	}

	quota, err := sender.GetQuota(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, quota)
}

// handleIdentityDNS returns the record set the tenant must publish for a
// sending domain, derived from the provider's current DKIM tokens.
func (s *Server) handleIdentityDNS(w http.ResponseWriter, r *http.Request) {
	dom := chi.URLParam(r, "domain")

	sender, err := s.newAdapter(r.Context(), tenantID(r))
	if err != nil {
		s.writeSendError(w, err)
		return
	}

	tokens, err := sender.DKIMTokens(r.Context(), dom)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	httputil.OK(w, struct {
		Domain  string             `json:"domain"`
		Records []domain.DNSRecord `json:"records"`
	}{Domain: dom, Records: provider.DNSRecordSet(dom, tokens)})
}

type identityVerifyRequest struct {
	Domain string `json:"domain"`
}

// handleIdentityVerify registers a domain identity with the provider and
// returns the DNS records to publish.
func (s *Server) handleIdentityVerify(w http.ResponseWriter, r *http.Request) {
	var req identityVerifyRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.Domain == "" {
		httputil.BadRequest(w, "domain is required")
		return
	}

	sender, err := s.newAdapter(r.Context(), tenantID(r))
	if err != nil {
		s.writeSendError(w, err)
		return
	}

	tokens, err := sender.VerifyDomain(r.Context(), req.Domain)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	httputil.OK(w, struct {
		Domain  string             `json:"domain"`
		Records []domain.DNSRecord `json:"records"`
	}{Domain: req.Domain, Records: provider.DNSRecordSet(req.Domain, tokens)})
}

func (s *Server) handleDomainReputation(w http.ResponseWriter, r *http.Request) {
	days := 30
	if v := r.URL.Query().Get("days"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 365 {
			days = n
		}
	}

	since := time.Now().AddDate(0, 0, -days)
	reputation, err := s.store.DomainReputation(r.Context(), since)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if reputation == nil {
		reputation = []domain.DomainReputation{}
	}
	httputil.OK(w, struct {
		Days    int                       `json:"days"`
		Domains []domain.DomainReputation `json:"domains"`
	}{Days: days, Domains: reputation})
}

// handleStats reports today's operational tallies. Zeros when Redis is not
// configured.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	sent, err := s.counters.SentToday(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	misses, err := s.counters.CorrelationMissesToday(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, struct {
		SentToday         int64 `json:"sentToday"`
		CorrelationMisses int64 `json:"correlationMissesToday"`
	}{SentToday: sent, CorrelationMisses: misses})
}

type credentialsRequest struct {
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	Region          string `json:"region"`
}

// handleUpsertCredentials seals the tenant's provider credentials and stores
// the ciphertext. Plaintext never touches the database.
func (s *Server) handleUpsertCredentials(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.AccessKeyID == "" || req.SecretAccessKey == "" {
		httputil.BadRequest(w, "access_key_id and secret_access_key are required")
		return
	}

	plaintext, err := json.Marshal(provider.Credentials{
		AccessKeyID:     req.AccessKeyID,
		SecretAccessKey: req.SecretAccessKey,
		Region:          req.Region,
	})
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	encrypted, err := s.sealCredentials(string(plaintext))
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	if err := s.store.UpsertProviderCredentials(r.Context(), tenantID(r), encrypted); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]bool{"success": true})
}
