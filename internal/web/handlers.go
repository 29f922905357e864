package web

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/edgard/relaybot/internal/relay"
)

// maxFormBytes bounds a submission body.
const maxFormBytes = 64 << 10

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, pageData{})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		s.log.WarnContext(r.Context(), "Invalid form data", "error", err)
		http.Error(w, "Invalid form data", http.StatusBadRequest)
		return
	}

	text := r.PostFormValue("text")
	res := s.relay.HandleSubmission(r.Context(), sourceID(r), text, r.PostFormValue("csrf_token"))

	data := pageData{}
	if res.Outcome != relay.OutcomeDelivered {
		data.Submitted = text
	}
	s.respond(w, r, res, data)
}

func (s *Server) handleLinks(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		s.log.WarnContext(r.Context(), "Invalid form data", "error", err)
		http.Error(w, "Invalid form data", http.StatusBadRequest)
		return
	}

	res := s.relay.HandleLinks(r.Context(), sourceID(r), r.PostFormValue("csrf_token"))
	s.respond(w, r, res, pageData{})
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, res relay.Result, data pageData) {
	status, message := statusFor(res.Outcome)
	if res.Outcome == relay.OutcomeRejectedThrottled && res.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(res.RetryAfter)))
	}
	data.Status = message
	data.IsError = status != http.StatusOK
	s.render(w, r, status, data)
}

// statusFor maps an outcome to an HTTP status and the message shown on the page.
func statusFor(o relay.Outcome) (int, string) {
	switch o {
	case relay.OutcomeDelivered:
		return http.StatusOK, "Message sent."
	case relay.OutcomeRejectedThrottled:
		return http.StatusTooManyRequests, "Too many requests. Please try again later."
	case relay.OutcomeRejectedInvalid:
		return http.StatusForbidden, "Your session has expired. Please reload the page and try again."
	default:
		return http.StatusBadGateway, "The message could not be delivered. Please try again later."
	}
}

func retryAfterSeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}

// render issues a fresh token for the caller and writes the page.
func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, data pageData) {
	token, err := s.tokens.Issue(sourceID(r))
	if err != nil {
		s.log.ErrorContext(r.Context(), "Failed to issue anti-forgery token", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	data.Token = token

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := indexTmpl.Execute(w, data); err != nil {
		s.log.ErrorContext(r.Context(), "Failed to render template", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.store != nil {
		if err := s.store.Ping(r.Context()); err != nil {
			s.log.ErrorContext(r.Context(), "Health check failed", "error", err)
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}
