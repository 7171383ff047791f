package api

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/sendrelay/internal/lifecycle"
	"github.com/ignite/sendrelay/internal/pkg/httputil"
	"github.com/ignite/sendrelay/internal/tracking"
)

// handleTrackOpen always serves the pixel. The side effect happens only when
// the token matches a record; an unknown token is counted and forgotten.
func (s *Server) handleTrackOpen(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	meta := map[string]string{
		"user_agent": r.UserAgent(),
		"device":     tracking.DetectDevice(r.UserAgent()),
	}
	if tracking.IsBot(r.UserAgent()) {
		meta["bot"] = "true"
	}

	_, _, err := s.machine.ApplyOpenByToken(r.Context(), token, time.Now(), meta)
	if err != nil {
		if errors.Is(err, lifecycle.ErrUnknownSendRecord) {
			s.log.Warn("open for unknown token", "token", token)
			s.counters.IncrCorrelationMiss(r.Context())
		} else {
			s.log.Error("open tracking failed", "token", token, "error", err.Error())
		}
	}

	s.servePixel(w)
}

func (s *Server) servePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.WriteHeader(http.StatusOK)
	w.Write(tracking.PixelGIF)
}

// handleTrackClick records the click then redirects. The recipient's
// navigation must survive every internal failure, unknown send id included.
func (s *Server) handleTrackClick(w http.ResponseWriter, r *http.Request) {
	sendID := chi.URLParam(r, "sendID")
	dest := r.URL.Query().Get("url")

	parsed, err := url.Parse(dest)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		httputil.BadRequest(w, "invalid redirect url")
		return
	}

	meta := map[string]string{
		"user_agent": r.UserAgent(),
		"device":     tracking.DetectDevice(r.UserAgent()),
		"remote":     tracking.GetIP(r),
	}

	_, _, err = s.machine.ApplyClick(r.Context(), sendID, dest, time.Now(), meta)
	if err != nil {
		if errors.Is(err, lifecycle.ErrUnknownSendRecord) {
			s.log.Warn("click for unknown send", "send_id", sendID)
			s.counters.IncrCorrelationMiss(r.Context())
		} else {
			s.log.Error("click tracking failed", "send_id", sendID, "error", err.Error())
		}
	}

	http.Redirect(w, r, dest, http.StatusFound)
}
