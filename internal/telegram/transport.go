package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxErrorBody bounds how much of a failed response is kept for logging.
const maxErrorBody = 2048

// StatusError is returned for Bot API responses outside the 2xx range.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("telegram api http status %d: %s", e.StatusCode, e.Body)
}

// apiAck records whether the 2xx response of one attempt carried "ok": true.
// The Bot API defines success by that flag alone; the client library also
// insists on decoding "result", which a bare {"ok": true} does not have.
type apiAck struct {
	ok bool
}

type ackKey struct{}

func withAck(ctx context.Context) (context.Context, *apiAck) {
	ack := &apiAck{}
	return context.WithValue(ctx, ackKey{}, ack), ack
}

// statusTransport turns non-2xx responses into a *StatusError so the HTTP
// status is part of the success condition, not just the JSON "ok" field.
type statusTransport struct {
	base http.RoundTripper
}

func (t *statusTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		_ = resp.Body.Close()
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	ack, _ := req.Context().Value(ackKey{}).(*apiAck)
	if ack == nil {
		return resp, nil
	}

	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil, err
	}
	var envelope struct {
		OK bool `json:"ok"`
	}
	if json.Unmarshal(body, &envelope) == nil {
		ack.ok = envelope.OK
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	return resp, nil
}
