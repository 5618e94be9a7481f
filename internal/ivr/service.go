// Package ivr implements the call-event state machine: per-call sessions,
// the event router, and the inbound call acceptor.
package ivr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"ivr-gateway/internal/callautomation"
	"ivr-gateway/pkg/utils"
)

// ErrCapacityExhausted is returned when the concurrent-call cap rejects an
// incoming call before it is answered.
var ErrCapacityExhausted = errors.New("ivr: concurrent call capacity exhausted")

// ConcurrencyLimiter bounds the number of simultaneously answered calls.
type ConcurrencyLimiter interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context)
}

// RedisCallCap implements ConcurrencyLimiter on the shared Redis counter.
// A zero Limit disables the cap.
type RedisCallCap struct {
	RDB   *redis.Client
	Key   string
	Limit int
	TTL   time.Duration
}

func (c *RedisCallCap) Acquire(ctx context.Context) (bool, error) {
	if c.Limit <= 0 {
		return true, nil
	}
	ttl := c.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return utils.AcquireCallCap(ctx, c.RDB, c.Key, c.Limit, ttl)
}

func (c *RedisCallCap) Release(ctx context.Context) {
	if c.Limit <= 0 {
		return
	}
	_ = utils.ReleaseCallCap(ctx, c.RDB, c.Key)
}

// ServiceConfig wires the acceptor's fixed inputs.
type ServiceConfig struct {
	// CallbackBaseURL is the public base the platform posts call events to.
	CallbackBaseURL string

	// TransportURL is the websocket endpoint audio is streamed to.
	TransportURL string

	// SilenceRetries seeds each session's retry budget.
	SilenceRetries int
}

// Service accepts incoming calls and feeds callback batches to the router.
type Service struct {
	platform callautomation.Platform
	registry *Registry
	router   *Router
	callLog  CallLog
	limiter  ConcurrencyLimiter
	log      *slog.Logger
	cfg      ServiceConfig

	newToken func() string
	now      func() time.Time
}

func NewService(
	platform callautomation.Platform,
	registry *Registry,
	router *Router,
	callLog CallLog,
	limiter ConcurrencyLimiter,
	log *slog.Logger,
	cfg ServiceConfig,
) *Service {
	return &Service{
		platform: platform,
		registry: registry,
		router:   router,
		callLog:  callLog,
		limiter:  limiter,
		log:      log,
		cfg:      cfg,
		newToken: uuid.NewString,
		now:      time.Now,
	}
}

// AcceptIncomingCall answers one incoming-call notification: builds the
// per-call callback address, answers with media streaming enabled and
// registers the session. Exactly one answer request is issued per
// notification; on failure the notification is dropped by the caller.
func (s *Service) AcceptIncomingCall(ctx context.Context, ic callautomation.IncomingCall) error {
	if s.limiter != nil {
		ok, err := s.limiter.Acquire(ctx)
		if err != nil {
			// Fail open: a broken limiter must not take call handling down.
			s.log.Error("call cap check failed, admitting call", "err", err)
			ok = true
		}
		if !ok {
			s.log.Warn("incoming call rejected by concurrent call cap", "caller_id", ic.CallerRawID)
			return ErrCapacityExhausted
		}
	}

	callbackURL := s.callbackURL(ic.CallerRawID)
	res, err := s.platform.AnswerCall(ctx, callautomation.AnswerCallRequest{
		IncomingCallContext: ic.IncomingCallContext,
		CallbackURL:         callbackURL,
		TransportURL:        s.cfg.TransportURL,
	})
	if err != nil {
		if s.limiter != nil {
			s.limiter.Release(ctx)
		}
		return fmt.Errorf("answer call: %w", err)
	}

	sess := NewSession(res.CallConnectionID, ic.CallerRawID, s.cfg.SilenceRetries, res.Media)
	sess.CorrelationID = res.CorrelationID
	s.registry.Register(sess)

	if err := s.callLog.CallAnswered(ctx, res.CallConnectionID, ic.CallerRawID, s.now()); err != nil {
		s.log.Error("call record write failed", "call_connection_id", res.CallConnectionID, "err", err)
	}

	s.log.Info("answered call",
		"call_connection_id", res.CallConnectionID,
		"correlation_id", res.CorrelationID,
		"caller_id", ic.CallerRawID,
		"callback_url", callbackURL)
	return nil
}

// ProcessEvents feeds one callback batch through the router. Events for the
// same call are handled in arrival order; malformed envelopes are dropped.
func (s *Service) ProcessEvents(ctx context.Context, envelopes []callautomation.CloudEvent) {
	for _, ce := range envelopes {
		ev, ok, err := callautomation.ParseEvent(ce)
		if err != nil {
			s.log.Warn("malformed callback event dropped", "type", ce.Type, "err", err)
			continue
		}
		if !ok {
			s.log.Debug("unhandled callback event type dropped", "type", ce.Type)
			continue
		}
		s.router.Dispatch(ctx, ev)
	}
}

// Sessions exposes live-session snapshots for the ops API.
func (s *Service) Sessions() []SessionSnapshot {
	return s.registry.Snapshots()
}

func (s *Service) callbackURL(callerRawID string) string {
	base := strings.TrimSuffix(s.cfg.CallbackBaseURL, "/")
	return fmt.Sprintf("%s/api/callbacks/%s?callerId=%s", base, s.newToken(), url.QueryEscape(callerRawID))
}
