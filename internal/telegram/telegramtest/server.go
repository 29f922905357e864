// Package telegramtest provides a fake Telegram Bot API for tests.
package telegramtest

import (
	"encoding/json"
	"mime"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// Token is a syntactically valid bot token accepted by the fake server.
const Token = "123456:TEST-token"

// OKBody is a successful sendMessage response.
const OKBody = `{"ok":true,"result":{"message_id":1,"date":1700000000,"chat":{"id":42,"type":"private"},"text":"ok"}}`

// BareOKBody is a successful response without a result payload.
const BareOKBody = `{"ok": true}`

// BadRequestBody is an API-level rejection.
const BadRequestBody = `{"ok":false,"error_code":400,"description":"Bad Request"}`

// Response is what the fake server answers for one call.
type Response struct {
	Status int
	Body   string
}

// OK is a 200 response with OKBody.
var OK = Response{Status: http.StatusOK, Body: OKBody}

// BareOK is a 200 response with BareOKBody.
var BareOK = Response{Status: http.StatusOK, Body: BareOKBody}

// Call is one recorded sendMessage request.
type Call struct {
	Path   string
	ChatID string
	Text   string
}

// Server is an httptest server impersonating api.telegram.org.
type Server struct {
	*httptest.Server

	mu      sync.Mutex
	calls   []Call
	respond func(n int) Response
}

// NewServer starts a fake API that answers every call with OK until
// Respond is used. The server is closed when the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()

	s := &Server{respond: func(int) Response { return OK }}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// Respond installs fn; n is the 1-based index of the call.
func (s *Server) Respond(fn func(n int) Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.respond = fn
}

// Sequence answers calls with rs in order, repeating the last one.
func (s *Server) Sequence(rs ...Response) {
	s.Respond(func(n int) Response {
		if n > len(rs) {
			return rs[len(rs)-1]
		}
		return rs[n-1]
	})
}

// Calls returns a copy of the recorded calls.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallCount returns the number of recorded calls.
func (s *Server) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	call := Call{Path: r.URL.Path}
	call.ChatID, call.Text = readParams(r)

	s.mu.Lock()
	s.calls = append(s.calls, call)
	n := len(s.calls)
	respond := s.respond
	s.mu.Unlock()

	resp := respond(n)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Status)
	_, _ = w.Write([]byte(resp.Body))
}

func readParams(r *http.Request) (chatID, text string) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch {
	case strings.HasPrefix(mediaType, "multipart/"):
		if err := r.ParseMultipartForm(1 << 20); err == nil {
			return r.FormValue("chat_id"), r.FormValue("text")
		}
	case mediaType == "application/json":
		var body struct {
			ChatID any    `json:"chat_id"`
			Text   string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			id, _ := body.ChatID.(string)
			return id, body.Text
		}
	default:
		if err := r.ParseForm(); err == nil {
			return r.FormValue("chat_id"), r.FormValue("text")
		}
	}
	return "", ""
}
