package ivr

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"ivr-gateway/internal/callautomation"
	"ivr-gateway/internal/nlu"
)

// Classifier is the minimal contract the router needs from the language
// backend. Failures degrade to a spoken fallback, never to a crashed call.
type Classifier interface {
	Classify(ctx context.Context, systemPrompt, userText string) (string, error)
	DetectIntent(ctx context.Context, userQuery, intentDescription string) (bool, error)
}

// CallLog records call lifecycle and transcript lines. Implementations must
// tolerate being called from concurrent calls' handlers.
type CallLog interface {
	CallAnswered(ctx context.Context, callConnectionID, callerID string, at time.Time) error
	Utterance(ctx context.Context, callConnectionID, role, text string, at time.Time) error
	CallEnded(ctx context.Context, callConnectionID, outcome string, at time.Time) error
}

// Call outcomes recorded on termination.
const (
	OutcomeCompleted      = "completed"
	OutcomePlayFailed     = "play_failed"
	OutcomeTransferred    = "transferred"
	OutcomeDisconnected   = "disconnected"
	OutcomeRequestFailure = "request_failed"
)

// RouterConfig carries the fixed routing policy.
type RouterConfig struct {
	// AgentPhoneNumber may be empty; the agents-busy prompt is played
	// instead of transferring.
	AgentPhoneNumber string

	VoiceName string

	// OnTerminated runs after a session reaches its terminal state, once
	// per call (used to release the concurrent-call slot).
	OnTerminated func(ctx context.Context, callConnectionID string)
}

// Router is the per-call event state machine. Each event for a call is
// dispatched under that call's session lock; events for different calls run
// independently.
type Router struct {
	registry   *Registry
	classifier Classifier
	callLog    CallLog
	log        *slog.Logger
	cfg        RouterConfig
}

func NewRouter(registry *Registry, classifier Classifier, callLog CallLog, log *slog.Logger, cfg RouterConfig) *Router {
	if cfg.VoiceName == "" {
		cfg.VoiceName = "en-US-NancyNeural"
	}
	return &Router{
		registry:   registry,
		classifier: classifier,
		callLog:    callLog,
		log:        log,
		cfg:        cfg,
	}
}

// Dispatch routes one parsed event to its handler. Unknown call-connection
// ids are dropped: late events after teardown are expected, not errors.
func (r *Router) Dispatch(ctx context.Context, ev callautomation.Event) {
	s, ok := r.registry.Lookup(ev.CallConnectionID)
	if !ok {
		r.log.Debug("event for unknown call dropped", "kind", ev.Kind, "call_connection_id", ev.CallConnectionID)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateTerminated {
		r.log.Debug("event for terminated call ignored", "kind", ev.Kind, "call_connection_id", s.CallConnectionID)
		return
	}

	log := r.log.With("call_connection_id", s.CallConnectionID, "kind", ev.Kind)

	switch ev.Kind {
	case callautomation.KindCallConnected:
		r.handleCallConnected(ctx, s, log)
	case callautomation.KindPlayCompleted:
		r.handlePlayCompleted(ctx, s, ev, log)
	case callautomation.KindPlayFailed:
		log.Warn("play failed, hanging up", "result", ev.ResultInformation)
		r.terminate(ctx, s, OutcomePlayFailed, true, log)
	case callautomation.KindRecognizeCompleted:
		r.handleRecognizeCompleted(ctx, s, ev, log)
	case callautomation.KindRecognizeFailed:
		r.handleRecognizeFailed(ctx, s, ev, log)
	case callautomation.KindCallTransferAccepted:
		log.Info("call transfer accepted")
		s.pending = OpNone
		s.state = StateIdle
		s.outcome = OutcomeTransferred
	case callautomation.KindCallTransferFailed:
		r.handleCallTransferFailed(ctx, s, ev, log)
	case callautomation.KindCallDisconnected:
		log.Info("call disconnected")
		r.terminate(ctx, s, "", false, log)
	case callautomation.KindMediaStreamingStarted,
		callautomation.KindMediaStreamingStopped,
		callautomation.KindMediaStreamingFailed:
		log.Info("media streaming update", "result", ev.ResultInformation)
	default:
		log.Debug("unhandled event kind")
	}
}

func (r *Router) handleCallConnected(ctx context.Context, s *Session, log *slog.Logger) {
	log.Info("call connected, playing greeting")
	r.recognize(ctx, s, helloPrompt, ContextFreeForm, log)
}

func (r *Router) handlePlayCompleted(ctx context.Context, s *Session, ev callautomation.Event, log *slog.Logger) {
	s.pending = OpNone

	opCtx := ev.OperationContext
	switch {
	case equalsContext(opCtx, ContextGoodbye), equalsContext(opCtx, ContextTransferFailed):
		log.Info("closing prompt finished, disconnecting")
		r.terminate(ctx, s, OutcomeCompleted, true, log)

	case equalsContext(opCtx, ContextConnectAgent):
		if r.cfg.AgentPhoneNumber == "" {
			log.Info("agent phone number not configured, playing busy prompt")
			r.play(ctx, s, agentsBusyPrompt, ContextTransferFailed, log)
			return
		}
		log.Info("initiating call transfer", "target", r.cfg.AgentPhoneNumber)
		r.transfer(ctx, s, log)

	default:
		log.Info("play completed", "operation_context", opCtx)
	}
}

func (r *Router) handleRecognizeCompleted(ctx context.Context, s *Session, ev callautomation.Event, log *slog.Logger) {
	s.pending = OpNone

	speech := strings.TrimSpace(ev.Speech)
	if speech == "" {
		log.Info("recognize completed with empty speech")
		return
	}
	log.Info("recognized speech", "speech", speech)
	r.record(ctx, s, "caller", ev.Speech)

	// Escalation intent wins over sentiment routing, always checked first.
	escalate, err := r.classifier.DetectIntent(ctx, speech, escalateIntentDescription)
	if err != nil {
		log.Warn("intent detection failed", "err", err)
		escalate = false
	}
	if escalate {
		log.Info("escalation intent detected")
		r.play(ctx, s, connectAgentPhrase, ContextConnectAgent, log)
		return
	}

	reply, err := r.classifier.Classify(ctx, answerSystemPrompt, speech)
	if err != nil {
		log.Warn("classifier unavailable, speaking apology", "err", err)
		r.speakResponse(ctx, s, apologyPrompt, log)
		return
	}

	v, parsed := nlu.ParseVerdict(reply)
	if !parsed {
		log.Info("classifier reply did not match extraction pattern")
		r.speakResponse(ctx, s, reply, log)
		return
	}

	log.Info("classifier verdict",
		"score", v.Score, "intent", v.Intent, "category", v.Category)
	if sentimentNeedsAgent(v.Score) {
		r.play(ctx, s, connectAgentPrompt, ContextConnectAgent, log)
		return
	}
	r.speakResponse(ctx, s, v.Answer, log)
}

// sentimentNeedsAgent routes scores 0 through 4 to a human. -1 is the
// unparseable-score sentinel and is answered normally, as is 5 and above.
func sentimentNeedsAgent(score int) bool {
	return score > -1 && score < 5
}

func (r *Router) handleRecognizeFailed(ctx context.Context, s *Session, ev callautomation.Event, log *slog.Logger) {
	s.pending = OpNone

	if ev.IsInitialSilenceTimeout() && s.retriesLeft > 0 {
		s.retriesLeft--
		log.Info("initial silence timeout, retrying recognize", "retries_left", s.retriesLeft)
		r.recognize(ctx, s, timeoutSilencePrompt, ContextFreeForm, log)
		return
	}

	log.Info("recognize failed, playing goodbye", "result", ev.ResultInformation)
	r.play(ctx, s, goodbyePrompt, ContextGoodbye, log)
}

func (r *Router) handleCallTransferFailed(ctx context.Context, s *Session, ev callautomation.Event, log *slog.Logger) {
	s.pending = OpNone
	s.outcome = ""

	if ri := ev.ResultInformation; ri != nil {
		log.Error("call transfer failed", "code", ri.Code, "sub_code", ri.SubCode, "message", ri.Message)
	} else {
		log.Error("call transfer failed")
	}
	r.play(ctx, s, callTransferFailurePrompt, ContextTransferFailed, log)
}

// play issues a play-to-all request. The session must be locked.
func (r *Router) play(ctx context.Context, s *Session, text string, opCtx OperationContext, log *slog.Logger) {
	if s.pending != OpNone {
		log.Warn("media action already outstanding, skipping play", "pending", s.pending)
		return
	}
	r.record(ctx, s, "assistant", text)
	err := s.media.PlayToAll(ctx, callautomation.PlayRequest{
		Text:             text,
		VoiceName:        r.cfg.VoiceName,
		OperationContext: string(opCtx),
	})
	if err != nil {
		log.Error("play request rejected, hanging up", "err", err)
		r.terminate(ctx, s, OutcomeRequestFailure, true, log)
		return
	}
	s.pending = OpPlay
	s.state = StateAwaitingPlay
}

// recognize plays a prompt and starts speech capture. The session must be locked.
func (r *Router) recognize(ctx context.Context, s *Session, prompt string, opCtx OperationContext, log *slog.Logger) {
	if s.pending != OpNone {
		log.Warn("media action already outstanding, skipping recognize", "pending", s.pending)
		return
	}
	r.record(ctx, s, "assistant", prompt)
	err := s.media.StartRecognizing(ctx, callautomation.RecognizeRequest{
		PromptText:            prompt,
		VoiceName:             r.cfg.VoiceName,
		OperationContext:      string(opCtx),
		TargetParticipant:     s.CallerID,
		InitialSilenceTimeout: 15 * time.Second,
		EndSilenceTimeout:     500 * time.Millisecond,
		InterruptPrompt:       false,
	})
	if err != nil {
		log.Error("recognize request rejected, hanging up", "err", err)
		r.terminate(ctx, s, OutcomeRequestFailure, true, log)
		return
	}
	s.pending = OpRecognize
	s.state = StateAwaitingRecognize
}

// speakResponse speaks text back and listens for the caller's next turn.
func (r *Router) speakResponse(ctx context.Context, s *Session, text string, log *slog.Logger) {
	r.recognize(ctx, s, text, ContextChatResponse, log)
}

func (r *Router) transfer(ctx context.Context, s *Session, log *slog.Logger) {
	if s.pending != OpNone {
		log.Warn("media action already outstanding, skipping transfer", "pending", s.pending)
		return
	}
	if err := s.media.TransferToParticipant(ctx, r.cfg.AgentPhoneNumber); err != nil {
		// Request rejection is routed like a CallTransferFailed event.
		log.Error("transfer request rejected", "err", err)
		r.play(ctx, s, callTransferFailurePrompt, ContextTransferFailed, log)
		return
	}
	s.pending = OpTransfer
	s.state = StateAwaitingTransfer
}

// terminate moves the session to its terminal state, optionally hanging the
// call up first, and detaches it from the registry.
func (r *Router) terminate(ctx context.Context, s *Session, outcome string, hangUp bool, log *slog.Logger) {
	if hangUp {
		if err := s.media.HangUp(ctx, true); err != nil {
			log.Error("hang up request failed", "err", err)
		}
	}
	if outcome == "" {
		outcome = s.outcome
	}
	if outcome == "" {
		outcome = OutcomeDisconnected
	}
	s.state = StateTerminated
	s.pending = OpNone
	r.registry.Remove(s.CallConnectionID)

	if err := r.callLog.CallEnded(ctx, s.CallConnectionID, outcome, time.Now()); err != nil {
		log.Error("call record finalize failed", "err", err)
	}
	if r.cfg.OnTerminated != nil {
		r.cfg.OnTerminated(ctx, s.CallConnectionID)
	}
	log.Info("session terminated", "outcome", outcome)
}

func (r *Router) record(ctx context.Context, s *Session, role, text string) {
	if err := r.callLog.Utterance(ctx, s.CallConnectionID, role, text, time.Now()); err != nil {
		r.log.Error("transcript write failed", "call_connection_id", s.CallConnectionID, "err", err)
	}
}

func equalsContext(raw string, want OperationContext) bool {
	return strings.EqualFold(strings.TrimSpace(raw), string(want))
}
