package ivr

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"ivr-gateway/internal/callautomation"
)

type fakeMedia struct {
	plays       []callautomation.PlayRequest
	recognizes  []callautomation.RecognizeRequest
	transfers   []string
	hangUps     int
	playErr     error
	recErr      error
	transferErr error
}

func (m *fakeMedia) PlayToAll(_ context.Context, req callautomation.PlayRequest) error {
	if m.playErr != nil {
		return m.playErr
	}
	m.plays = append(m.plays, req)
	return nil
}

func (m *fakeMedia) StartRecognizing(_ context.Context, req callautomation.RecognizeRequest) error {
	if m.recErr != nil {
		return m.recErr
	}
	m.recognizes = append(m.recognizes, req)
	return nil
}

func (m *fakeMedia) TransferToParticipant(_ context.Context, phoneNumber string) error {
	if m.transferErr != nil {
		return m.transferErr
	}
	m.transfers = append(m.transfers, phoneNumber)
	return nil
}

func (m *fakeMedia) HangUp(_ context.Context, _ bool) error {
	m.hangUps++
	return nil
}

func (m *fakeMedia) actionCount() int {
	return len(m.plays) + len(m.recognizes) + len(m.transfers) + m.hangUps
}

type fakeClassifier struct {
	intent        bool
	intentErr     error
	reply         string
	replyErr      error
	intentCalls   int
	classifyCalls int
}

func (c *fakeClassifier) Classify(_ context.Context, _, _ string) (string, error) {
	c.classifyCalls++
	return c.reply, c.replyErr
}

func (c *fakeClassifier) DetectIntent(_ context.Context, _, _ string) (bool, error) {
	c.intentCalls++
	return c.intent, c.intentErr
}

type recordingCallLog struct {
	answered []string
	ended    []string
	outcomes []string
	lines    []string
}

func (l *recordingCallLog) CallAnswered(_ context.Context, id, _ string, _ time.Time) error {
	l.answered = append(l.answered, id)
	return nil
}

func (l *recordingCallLog) Utterance(_ context.Context, _, role, text string, _ time.Time) error {
	l.lines = append(l.lines, role+": "+text)
	return nil
}

func (l *recordingCallLog) CallEnded(_ context.Context, id, outcome string, _ time.Time) error {
	l.ended = append(l.ended, id)
	l.outcomes = append(l.outcomes, outcome)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type routerFixture struct {
	router   *Router
	registry *Registry
	session  *Session
	media    *fakeMedia
	cls      *fakeClassifier
	callLog  *recordingCallLog
	released int
}

func newFixture(agentPhoneNumber string) *routerFixture {
	f := &routerFixture{
		registry: NewRegistry(),
		media:    &fakeMedia{},
		cls:      &fakeClassifier{},
		callLog:  &recordingCallLog{},
	}
	f.router = NewRouter(f.registry, f.cls, f.callLog, discardLogger(), RouterConfig{
		AgentPhoneNumber: agentPhoneNumber,
		VoiceName:        "en-US-NancyNeural",
		OnTerminated: func(context.Context, string) {
			f.released++
		},
	})
	f.session = NewSession("cc-1", "4:+15551234567", 2, f.media)
	f.registry.Register(f.session)
	return f
}

func ev(kind callautomation.EventKind) callautomation.Event {
	return callautomation.Event{Kind: kind, CallConnectionID: "cc-1"}
}

func evCtx(kind callautomation.EventKind, opCtx OperationContext) callautomation.Event {
	e := ev(kind)
	e.OperationContext = string(opCtx)
	return e
}

func TestRouter_CallConnectedIssuesGreeting(t *testing.T) {
	f := newFixture("")
	f.router.Dispatch(context.Background(), ev(callautomation.KindCallConnected))

	if len(f.media.recognizes) != 1 {
		t.Fatalf("expected one recognize, got %d", len(f.media.recognizes))
	}
	rec := f.media.recognizes[0]
	if rec.PromptText != helloPrompt {
		t.Fatalf("unexpected greeting: %q", rec.PromptText)
	}
	if rec.OperationContext != string(ContextFreeForm) {
		t.Fatalf("unexpected operation context: %q", rec.OperationContext)
	}
	if rec.TargetParticipant != "4:+15551234567" {
		t.Fatalf("recognize must target the caller, got %q", rec.TargetParticipant)
	}
	if rec.InitialSilenceTimeout != 15*time.Second || rec.EndSilenceTimeout != 500*time.Millisecond {
		t.Fatalf("unexpected silence timeouts: %+v", rec)
	}
	if f.session.state != StateAwaitingRecognize {
		t.Fatalf("unexpected state: %q", f.session.state)
	}
}

func TestRouter_EscalationIntentBeatsSentiment(t *testing.T) {
	f := newFixture("+15550001111")
	// Both branches would fire; the escalation check must win and the
	// sentiment path must never be consulted.
	f.cls.intent = true
	f.cls.reply = "Content: ok\nScore: 3\nIntent: agent\nCategory: support"

	e := evCtx(callautomation.KindRecognizeCompleted, ContextFreeForm)
	e.Speech = "I want to talk to a human"
	f.router.Dispatch(context.Background(), e)

	if f.cls.classifyCalls != 0 {
		t.Fatalf("classify must not run when escalation intent matched")
	}
	if len(f.media.plays) != 1 {
		t.Fatalf("expected one play, got %d", len(f.media.plays))
	}
	p := f.media.plays[0]
	if p.Text != connectAgentPhrase {
		t.Fatalf("unexpected prompt: %q", p.Text)
	}
	if p.OperationContext != string(ContextConnectAgent) {
		t.Fatalf("unexpected operation context: %q", p.OperationContext)
	}
	if f.session.state != StateAwaitingPlay {
		t.Fatalf("unexpected state: %q", f.session.state)
	}
}

func TestRouter_SentimentInRangeRoutesToAgent(t *testing.T) {
	f := newFixture("+15550001111")
	f.cls.reply = "Content: Let me get you some help.\nScore: 3\nIntent: complaint\nCategory: service"

	e := evCtx(callautomation.KindRecognizeCompleted, ContextFreeForm)
	e.Speech = "this is terrible"
	f.router.Dispatch(context.Background(), e)

	if len(f.media.plays) != 1 {
		t.Fatalf("expected one play, got %d", len(f.media.plays))
	}
	if f.media.plays[0].Text != connectAgentPrompt {
		t.Fatalf("unexpected prompt: %q", f.media.plays[0].Text)
	}
	if f.media.plays[0].OperationContext != string(ContextConnectAgent) {
		t.Fatalf("unexpected operation context: %q", f.media.plays[0].OperationContext)
	}
}

func TestSentimentNeedsAgent_Boundaries(t *testing.T) {
	cases := []struct {
		score int
		want  bool
	}{
		{-1, false}, // unparseable-score sentinel
		{0, true},
		{4, true},
		{5, false},
	}
	for _, tc := range cases {
		if got := sentimentNeedsAgent(tc.score); got != tc.want {
			t.Errorf("sentimentNeedsAgent(%d) = %v, want %v", tc.score, got, tc.want)
		}
	}
}

func TestRouter_SentimentBoundaryScores(t *testing.T) {
	cases := []struct {
		name    string
		score   string
		toAgent bool
	}{
		{"zero routes to agent", "0", true},
		{"four routes to agent", "4", true},
		{"five speaks answer back", "5", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture("+15550001111")
			f.cls.reply = "Content: Understood.\nScore: " + tc.score + "\nIntent: mood\nCategory: service"

			e := evCtx(callautomation.KindRecognizeCompleted, ContextFreeForm)
			e.Speech = "how do I reset the panel"
			f.router.Dispatch(context.Background(), e)

			if tc.toAgent {
				if len(f.media.plays) != 1 || f.media.plays[0].Text != connectAgentPrompt {
					t.Fatalf("expected agent prompt, plays: %+v", f.media.plays)
				}
				return
			}
			if len(f.media.recognizes) != 1 || f.media.recognizes[0].OperationContext != string(ContextChatResponse) {
				t.Fatalf("expected spoken answer, recognizes: %+v", f.media.recognizes)
			}
		})
	}
}

func TestRouter_HighScoreSpeaksAnswerBack(t *testing.T) {
	f := newFixture("")
	f.cls.reply = "Content: Glad to help! Anything else?\nScore: 9\nIntent: thanks\nCategory: general"

	e := evCtx(callautomation.KindRecognizeCompleted, ContextFreeForm)
	e.Speech = "thank you, that fixed it"
	f.router.Dispatch(context.Background(), e)

	if len(f.media.recognizes) != 1 {
		t.Fatalf("expected one recognize, got %d", len(f.media.recognizes))
	}
	rec := f.media.recognizes[0]
	if rec.OperationContext != string(ContextChatResponse) {
		t.Fatalf("unexpected operation context: %q", rec.OperationContext)
	}
	if rec.PromptText != " Glad to help! Anything else?" {
		t.Fatalf("unexpected answer text: %q", rec.PromptText)
	}
}

func TestRouter_UnparsedReplySpokenRaw(t *testing.T) {
	f := newFixture("")
	f.cls.reply = "Is everyone in or around the elevator safe right now?"

	e := evCtx(callautomation.KindRecognizeCompleted, ContextFreeForm)
	e.Speech = "the elevator is stuck"
	f.router.Dispatch(context.Background(), e)

	if len(f.media.plays) != 0 {
		t.Fatalf("pattern mismatch must not route to agent")
	}
	if len(f.media.recognizes) != 1 {
		t.Fatalf("expected one recognize, got %d", len(f.media.recognizes))
	}
	if f.media.recognizes[0].PromptText != f.cls.reply {
		t.Fatalf("raw reply must be spoken back, got %q", f.media.recognizes[0].PromptText)
	}
	if f.media.recognizes[0].OperationContext != string(ContextChatResponse) {
		t.Fatalf("unexpected operation context: %q", f.media.recognizes[0].OperationContext)
	}
}

func TestRouter_ClassifierUnavailableSpeaksApology(t *testing.T) {
	f := newFixture("")
	f.cls.replyErr = errors.New("backend down")

	e := evCtx(callautomation.KindRecognizeCompleted, ContextFreeForm)
	e.Speech = "hello?"
	f.router.Dispatch(context.Background(), e)

	if len(f.media.recognizes) != 1 {
		t.Fatalf("expected one recognize, got %d", len(f.media.recognizes))
	}
	if f.media.recognizes[0].PromptText != apologyPrompt {
		t.Fatalf("expected apology, got %q", f.media.recognizes[0].PromptText)
	}
	if f.session.state != StateAwaitingRecognize {
		t.Fatalf("classifier failure must not terminate the call")
	}
}

func TestRouter_EmptySpeechIsNoOp(t *testing.T) {
	f := newFixture("")
	e := evCtx(callautomation.KindRecognizeCompleted, ContextFreeForm)
	e.Speech = "   "
	f.router.Dispatch(context.Background(), e)

	if f.media.actionCount() != 0 {
		t.Fatalf("empty speech must not trigger media actions")
	}
	if f.cls.intentCalls != 0 {
		t.Fatalf("empty speech must not reach the classifier")
	}
}

func TestRouter_SilenceRetriesThenGoodbye(t *testing.T) {
	f := newFixture("")
	silence := ev(callautomation.KindRecognizeFailed)
	silence.ResultInformation = &callautomation.ResultInformation{
		SubCode: callautomation.ReasonCodeInitialSilenceTimeout,
	}

	f.router.Dispatch(context.Background(), silence)
	if f.session.retriesLeft != 1 {
		t.Fatalf("expected 1 retry left, got %d", f.session.retriesLeft)
	}
	f.router.Dispatch(context.Background(), silence)
	if f.session.retriesLeft != 0 {
		t.Fatalf("expected 0 retries left, got %d", f.session.retriesLeft)
	}
	if len(f.media.recognizes) != 2 {
		t.Fatalf("expected 2 retry recognizes, got %d", len(f.media.recognizes))
	}
	for _, rec := range f.media.recognizes {
		if rec.PromptText != timeoutSilencePrompt {
			t.Fatalf("retries must use the timeout silence prompt, got %q", rec.PromptText)
		}
	}

	// Budget exhausted: any further recognize failure plays goodbye.
	f.router.Dispatch(context.Background(), silence)
	if f.session.retriesLeft != 0 {
		t.Fatalf("retry budget must never go negative, got %d", f.session.retriesLeft)
	}
	if len(f.media.plays) != 1 || f.media.plays[0].Text != goodbyePrompt {
		t.Fatalf("expected goodbye play, got %+v", f.media.plays)
	}
	if f.media.plays[0].OperationContext != string(ContextGoodbye) {
		t.Fatalf("unexpected operation context: %q", f.media.plays[0].OperationContext)
	}

	// Goodbye finished: hang up and terminate.
	f.router.Dispatch(context.Background(), evCtx(callautomation.KindPlayCompleted, ContextGoodbye))
	if f.media.hangUps != 1 {
		t.Fatalf("expected hang up, got %d", f.media.hangUps)
	}
	if f.session.state != StateTerminated {
		t.Fatalf("unexpected state: %q", f.session.state)
	}
	if _, ok := f.registry.Lookup("cc-1"); ok {
		t.Fatalf("terminated session must be detached from registry")
	}
	if f.released != 1 {
		t.Fatalf("expected one capacity release, got %d", f.released)
	}
}

func TestRouter_NonSilenceRecognizeFailureGoesStraightToGoodbye(t *testing.T) {
	f := newFixture("")
	e := ev(callautomation.KindRecognizeFailed)
	e.ResultInformation = &callautomation.ResultInformation{SubCode: 8511}
	f.router.Dispatch(context.Background(), e)

	if f.session.retriesLeft != 2 {
		t.Fatalf("non-silence failures must not consume the retry budget")
	}
	if len(f.media.plays) != 1 || f.media.plays[0].Text != goodbyePrompt {
		t.Fatalf("expected goodbye play, got %+v", f.media.plays)
	}
}

func TestRouter_ConnectAgentWithoutNumberPlaysBusy(t *testing.T) {
	f := newFixture("")
	f.router.Dispatch(context.Background(), evCtx(callautomation.KindPlayCompleted, ContextConnectAgent))

	if len(f.media.transfers) != 0 {
		t.Fatalf("no transfer may be issued without an agent number")
	}
	if len(f.media.plays) != 1 || f.media.plays[0].Text != agentsBusyPrompt {
		t.Fatalf("expected agents busy prompt, got %+v", f.media.plays)
	}
	if f.media.plays[0].OperationContext != string(ContextTransferFailed) {
		t.Fatalf("unexpected operation context: %q", f.media.plays[0].OperationContext)
	}
}

func TestRouter_ConnectAgentWithNumberTransfers(t *testing.T) {
	f := newFixture("+15550001111")
	f.router.Dispatch(context.Background(), evCtx(callautomation.KindPlayCompleted, ContextConnectAgent))

	if len(f.media.transfers) != 1 || f.media.transfers[0] != "+15550001111" {
		t.Fatalf("expected transfer to agent, got %+v", f.media.transfers)
	}
	if f.session.state != StateAwaitingTransfer {
		t.Fatalf("unexpected state: %q", f.session.state)
	}
}

func TestRouter_TransferFailureThenHangUp(t *testing.T) {
	f := newFixture("+15550001111")
	f.session.pending = OpTransfer
	f.session.state = StateAwaitingTransfer

	e := ev(callautomation.KindCallTransferFailed)
	e.ResultInformation = &callautomation.ResultInformation{Code: 500, SubCode: 9999, Message: "no answer"}
	f.router.Dispatch(context.Background(), e)

	if len(f.media.plays) != 1 || f.media.plays[0].Text != callTransferFailurePrompt {
		t.Fatalf("expected transfer failure prompt, got %+v", f.media.plays)
	}

	f.router.Dispatch(context.Background(), evCtx(callautomation.KindPlayCompleted, ContextTransferFailed))
	if f.media.hangUps != 1 {
		t.Fatalf("expected hang up after transfer failure prompt, got %d", f.media.hangUps)
	}
	if f.session.state != StateTerminated {
		t.Fatalf("unexpected state: %q", f.session.state)
	}
}

func TestRouter_TransferAcceptedThenDisconnect(t *testing.T) {
	f := newFixture("+15550001111")
	f.session.pending = OpTransfer
	f.session.state = StateAwaitingTransfer

	f.router.Dispatch(context.Background(), ev(callautomation.KindCallTransferAccepted))
	if f.media.actionCount() != 0 {
		t.Fatalf("transfer accept must not trigger media actions")
	}
	if f.session.state != StateIdle {
		t.Fatalf("unexpected state: %q", f.session.state)
	}

	f.router.Dispatch(context.Background(), ev(callautomation.KindCallDisconnected))
	if f.media.hangUps != 0 {
		t.Fatalf("disconnect must not issue a hang up request")
	}
	if len(f.callLog.outcomes) != 1 || f.callLog.outcomes[0] != OutcomeTransferred {
		t.Fatalf("expected transferred outcome, got %+v", f.callLog.outcomes)
	}
}

func TestRouter_PlayFailedHangsUp(t *testing.T) {
	f := newFixture("")
	f.session.pending = OpPlay
	f.session.state = StateAwaitingPlay

	f.router.Dispatch(context.Background(), ev(callautomation.KindPlayFailed))
	if f.media.hangUps != 1 {
		t.Fatalf("expected hang up, got %d", f.media.hangUps)
	}
	if f.session.state != StateTerminated {
		t.Fatalf("unexpected state: %q", f.session.state)
	}
}

func TestRouter_TerminatedCallIgnoresReplayedEvents(t *testing.T) {
	f := newFixture("")
	f.router.Dispatch(context.Background(), ev(callautomation.KindPlayFailed))
	if f.session.state != StateTerminated {
		t.Fatalf("setup: expected terminated")
	}
	before := f.media.actionCount()

	// Redeliveries after termination must be complete no-ops.
	f.router.Dispatch(context.Background(), evCtx(callautomation.KindPlayCompleted, ContextGoodbye))
	f.router.Dispatch(context.Background(), ev(callautomation.KindRecognizeFailed))
	if f.media.actionCount() != before {
		t.Fatalf("terminated call must not re-trigger media actions")
	}
	if f.released != 1 {
		t.Fatalf("capacity must be released exactly once, got %d", f.released)
	}
}

func TestRouter_SingleFlightGuard(t *testing.T) {
	f := newFixture("")
	f.router.Dispatch(context.Background(), ev(callautomation.KindCallConnected))
	if len(f.media.recognizes) != 1 {
		t.Fatalf("setup: expected one recognize")
	}

	// A duplicate CallConnected while the recognize is outstanding must not
	// start a second media action.
	f.router.Dispatch(context.Background(), ev(callautomation.KindCallConnected))
	if len(f.media.recognizes) != 1 {
		t.Fatalf("second action issued while one was outstanding")
	}
}

func TestRouter_MediaStreamingEventsAreLogOnly(t *testing.T) {
	f := newFixture("")
	f.session.pending = OpRecognize
	f.session.state = StateAwaitingRecognize

	for _, kind := range []callautomation.EventKind{
		callautomation.KindMediaStreamingStarted,
		callautomation.KindMediaStreamingStopped,
		callautomation.KindMediaStreamingFailed,
	} {
		f.router.Dispatch(context.Background(), ev(kind))
	}
	if f.media.actionCount() != 0 {
		t.Fatalf("streaming events must not trigger media actions")
	}
	if f.session.state != StateAwaitingRecognize {
		t.Fatalf("streaming events must not change state, got %q", f.session.state)
	}
	if f.session.pending != OpRecognize {
		t.Fatalf("streaming events must not clear the outstanding action")
	}
}

func TestRouter_UnknownCallDropped(t *testing.T) {
	f := newFixture("")
	e := callautomation.Event{Kind: callautomation.KindPlayCompleted, CallConnectionID: "cc-unknown"}
	f.router.Dispatch(context.Background(), e)
	if f.media.actionCount() != 0 {
		t.Fatalf("unknown call must not reach any session")
	}
}

func TestRouter_PlayRequestRejectionTerminates(t *testing.T) {
	f := newFixture("")
	f.media.recErr = errors.New("rejected")

	f.router.Dispatch(context.Background(), ev(callautomation.KindCallConnected))
	if f.session.state != StateTerminated {
		t.Fatalf("rejected media request must terminate the call, got %q", f.session.state)
	}
	if f.media.hangUps != 1 {
		t.Fatalf("expected hang up, got %d", f.media.hangUps)
	}
	if len(f.callLog.outcomes) != 1 || f.callLog.outcomes[0] != OutcomeRequestFailure {
		t.Fatalf("expected request failure outcome, got %+v", f.callLog.outcomes)
	}
}
