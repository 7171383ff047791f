package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/sendrelay/internal/orchestrator"
	"github.com/ignite/sendrelay/internal/pkg/httputil"
	"github.com/ignite/sendrelay/internal/provider"
)

type sendOneRequest struct {
	To      string            `json:"to"`
	From    string            `json:"from"`
	Subject string            `json:"subject"`
	Content string            `json:"content"`
	Vars    map[string]string `json:"vars,omitempty"`
}

type sendOneResponse struct {
	Success   bool   `json:"success"`
	SendID    string `json:"sendId"`
	MessageID string `json:"messageId"`
}

func (s *Server) handleSendOne(w http.ResponseWriter, r *http.Request) {
	var req sendOneRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.From == "" {
		httputil.ErrorCode(w, http.StatusBadRequest, "MISSING_FROM", "from address is required")
		return
	}
	if req.To == "" {
		httputil.BadRequest(w, "to address is required")
		return
	}

	tenant := tenantID(r)
	sender, err := s.newAdapter(r.Context(), tenant)
	if err != nil {
		s.writeSendError(w, err)
		return
	}

	rec, err := s.orch.SendOne(r.Context(), sender, orchestrator.SendRequest{
		TenantID: tenant,
		To:       req.To,
		From:     req.From,
		Subject:  req.Subject,
		Body:     req.Content,
		Vars:     req.Vars,
	})
	if err != nil {
		s.writeSendError(w, err)
		return
	}

	httputil.OK(w, sendOneResponse{Success: true, SendID: rec.ID, MessageID: rec.ProviderMessageID})
}

type sendBulkRequest struct {
	RecipientListID string `json:"recipientListId"`
	From            string `json:"from"`
	Subject         string `json:"subject"`
	Content         string `json:"content"`
	CampaignID      string `json:"campaignId,omitempty"`
}

type sendBulkResponse struct {
	SentEmails   []string                       `json:"sentEmails"`
	FailedEmails []orchestrator.FailedRecipient `json:"failedEmails"`
}

func (s *Server) handleSendBulk(w http.ResponseWriter, r *http.Request) {
	var req sendBulkRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.From == "" {
		httputil.ErrorCode(w, http.StatusBadRequest, "MISSING_FROM", "from address is required")
		return
	}
	if req.RecipientListID == "" {
		httputil.BadRequest(w, "recipientListId is required")
		return
	}

	tenant := tenantID(r)
	sender, err := s.newAdapter(r.Context(), tenant)
	if err != nil {
		s.writeSendError(w, err)
		return
	}

	result, err := s.orch.SendBulkList(r.Context(), sender, req.RecipientListID, orchestrator.SendRequest{
		TenantID:   tenant,
		From:       req.From,
		Subject:    req.Subject,
		Body:       req.Content,
		CampaignID: req.CampaignID,
	})
	if err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrNoRecipients):
			httputil.ErrorCode(w, http.StatusBadRequest, "NO_RECIPIENTS", "list has no active recipients")
		case errors.Is(err, orchestrator.ErrBulkInProgress):
			httputil.ErrorCode(w, http.StatusConflict, "BULK_IN_PROGRESS", "a bulk send for this list is already running")
		case errors.Is(err, orchestrator.ErrAllFailed):
			httputil.JSON(w, http.StatusInternalServerError, struct {
				httputil.ErrorResponse
				sendBulkResponse
			}{
				httputil.ErrorResponse{Error: "every send failed", Code: "ALL_FAILED"},
				sendBulkResponse{SentEmails: []string{}, FailedEmails: result.Failed},
			})
		default:
			httputil.InternalError(w, err)
		}
		return
	}

	resp := sendBulkResponse{SentEmails: result.Sent, FailedEmails: result.Failed}
	if resp.SentEmails == nil {
		resp.SentEmails = []string{}
	}
	if resp.FailedEmails == nil {
		resp.FailedEmails = []orchestrator.FailedRecipient{}
	}

	// Partial failure is a partial-content result, not an error.
	if len(result.Failed) > 0 {
		httputil.MultiStatus(w, resp)
		return
	}
	httputil.OK(w, resp)
}

// writeSendError maps the adapter taxonomy onto HTTP codes. Configuration
// and validation problems are the caller's to fix; everything else is a 500.
func (s *Server) writeSendError(w http.ResponseWriter, err error) {
	code := provider.Kind(err)
	switch {
	case errors.Is(err, provider.ErrCredentialsMissing),
		errors.Is(err, provider.ErrCredentialsInvalid),
		errors.Is(err, provider.ErrSenderNotVerified):
		httputil.ErrorCode(w, http.StatusBadRequest, code, err.Error())
	case errors.Is(err, provider.ErrQuotaExceeded):
		httputil.ErrorCode(w, http.StatusTooManyRequests, code, err.Error())
	default:
		s.log.Error("send failed", "error", err.Error())
		httputil.ErrorCode(w, http.StatusInternalServerError, "SEND_FAILED", "send failed")
	}
}

func (s *Server) handleGetSend(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.store.SendRecordByID(r.Context(), id)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if rec == nil {
		httputil.NotFound(w, "send record not found")
		return
	}
	httputil.OK(w, rec)
}
