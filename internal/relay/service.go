// Package relay orchestrates inbound submissions and the daily digest:
// validation, throttling, message construction and delivery.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/edgard/relaybot/internal/database"
	"github.com/edgard/relaybot/internal/logger"
	"github.com/edgard/relaybot/internal/metrics"
	"github.com/edgard/relaybot/internal/ratelimit"
	"github.com/edgard/relaybot/internal/telegram"
)

// Kind names the message type of a delivery.
type Kind string

const (
	KindSubmission Kind = "submission"
	KindLinks      Kind = "links"
	KindDaily      Kind = "daily"
)

// Outcome is what the caller of a Handle method is told.
type Outcome string

const (
	OutcomeDelivered         Outcome = "delivered"
	OutcomeRejectedThrottled Outcome = "rejected_throttled"
	OutcomeRejectedInvalid   Outcome = "rejected_invalid"
	OutcomeDeliveryFailed    Outcome = "delivery_failed"
)

// Result describes one handled request. RetryAfter is set for throttled
// requests; Attempts counts Telegram send attempts.
type Result struct {
	Outcome    Outcome
	RetryAfter time.Duration
	Attempts   int
}

// TokenVerifier checks the anti-forgery token presented with a request.
type TokenVerifier interface {
	Verify(token, sourceID string) error
}

// Throttler decides whether a source may make another request.
type Throttler interface {
	Check(sourceID string) ratelimit.Decision
}

// Deliverer sends one message to the configured chat.
type Deliverer interface {
	Deliver(ctx context.Context, text string) telegram.Report
}

// DeliveryRecorder appends to the delivery log.
type DeliveryRecorder interface {
	RecordDelivery(ctx context.Context, d *database.Delivery) error
}

// Deps holds the collaborators of a Service. Recorder, Metrics and Clock
// are optional; a nil Clock means the real one.
type Deps struct {
	Verifier TokenVerifier
	Limiter  Throttler
	Sender   Deliverer
	Recorder DeliveryRecorder
	Digest   Digest
	Metrics  *metrics.Metrics
	Clock    clockwork.Clock
	Logger   *slog.Logger
}

// Service is safe for concurrent use as long as its collaborators are.
type Service struct {
	verifier TokenVerifier
	limiter  Throttler
	sender   Deliverer
	recorder DeliveryRecorder
	digest   Digest
	metrics  *metrics.Metrics
	clock    clockwork.Clock
	log      *slog.Logger
}

// New validates deps and builds a Service.
func New(deps Deps) (*Service, error) {
	var errs []error
	if deps.Verifier == nil {
		errs = append(errs, errors.New("token verifier is required"))
	}
	if deps.Limiter == nil {
		errs = append(errs, errors.New("rate limiter is required"))
	}
	if deps.Sender == nil {
		errs = append(errs, errors.New("sender is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid relay dependencies: %w", err)
	}

	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Service{
		verifier: deps.Verifier,
		limiter:  deps.Limiter,
		sender:   deps.Sender,
		recorder: deps.Recorder,
		digest:   deps.Digest,
		metrics:  deps.Metrics,
		clock:    clock,
		log:      logger.OrDefault(deps.Logger).With("component", "relay"),
	}, nil
}

// HandleSubmission forwards user text. The text is sent as-is, empty included.
func (s *Service) HandleSubmission(ctx context.Context, sourceID, text, token string) Result {
	return s.handle(ctx, KindSubmission, sourceID, token, func() string {
		return SubmissionMessage(sourceID, text)
	})
}

// HandleLinks sends the link digest on demand.
func (s *Service) HandleLinks(ctx context.Context, sourceID, token string) Result {
	return s.handle(ctx, KindLinks, sourceID, token, func() string {
		return LinksMessage(sourceID, s.digest.Build(s.clock.Now()))
	})
}

func (s *Service) handle(ctx context.Context, kind Kind, sourceID, token string, build func() string) Result {
	log := s.log.With("kind", kind, "source", sourceID)

	if err := s.verifier.Verify(token, sourceID); err != nil {
		log.WarnContext(ctx, "Request rejected: invalid anti-forgery token", "error", err)
		return s.finish(ctx, kind, sourceID, Result{Outcome: OutcomeRejectedInvalid})
	}

	if d := s.limiter.Check(sourceID); !d.Allowed {
		s.metrics.IncThrottled(string(d.Reason))
		log.WarnContext(ctx, "Request throttled", "reason", d.Reason, "retry_after", d.RetryAfter)
		return s.finish(ctx, kind, sourceID, Result{Outcome: OutcomeRejectedThrottled, RetryAfter: d.RetryAfter})
	}

	report := s.sender.Deliver(ctx, build())
	result := Result{Outcome: OutcomeDelivered, Attempts: report.Attempts}
	if !report.OK {
		result.Outcome = OutcomeDeliveryFailed
	}
	log.InfoContext(ctx, "Request handled", "outcome", result.Outcome, "attempts", report.Attempts)
	return s.finish(ctx, kind, sourceID, result)
}

// DispatchDaily builds the digest for now and sends it. It matches
// dispatch.Action.
func (s *Service) DispatchDaily(ctx context.Context, now time.Time) bool {
	report := s.sender.Deliver(ctx, s.digest.Build(now))

	outcome := OutcomeDelivered
	if !report.OK {
		outcome = OutcomeDeliveryFailed
	}
	s.log.InfoContext(ctx, "Daily digest dispatched", "outcome", outcome, "attempts", report.Attempts)
	s.finish(ctx, KindDaily, "", Result{Outcome: outcome, Attempts: report.Attempts})
	return report.OK
}

func (s *Service) finish(ctx context.Context, kind Kind, sourceID string, r Result) Result {
	s.metrics.IncDelivery(string(kind), string(r.Outcome))
	if s.recorder == nil {
		return r
	}

	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	err := s.recorder.RecordDelivery(recCtx, &database.Delivery{
		Kind:     string(kind),
		Source:   sourceID,
		Outcome:  string(r.Outcome),
		Attempts: r.Attempts,
	})
	if err != nil {
		s.log.WarnContext(ctx, "Failed to record delivery", "kind", kind, "error", err)
	}
	return r
}
