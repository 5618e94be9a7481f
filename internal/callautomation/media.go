package callautomation

import (
	"context"
	"time"
)

// MediaChannel is the per-call media surface the IVR drives.
//
// Rules:
// - No platform REST calls outside this package.
// - Requests return once the platform accepts the action; completion arrives
//   later as a callback event, never through the return value.
// - Callers must not issue a second play/recognize while one is outstanding
//   for the same call.
type MediaChannel interface {
	PlayToAll(ctx context.Context, req PlayRequest) error
	StartRecognizing(ctx context.Context, req RecognizeRequest) error
	TransferToParticipant(ctx context.Context, phoneNumber string) error
	HangUp(ctx context.Context, forEveryone bool) error
}

// Platform answers incoming calls and hands back a media channel for them.
type Platform interface {
	AnswerCall(ctx context.Context, req AnswerCallRequest) (AnswerCallResult, error)
}

// PlayRequest plays synthesized speech to all participants on the call.
type PlayRequest struct {
	Text      string
	VoiceName string

	// OperationContext is echoed back on the PlayCompleted/PlayFailed event.
	OperationContext string
}

// RecognizeRequest plays a prompt and then captures caller speech.
type RecognizeRequest struct {
	PromptText string
	VoiceName  string

	// OperationContext is echoed back on the Recognize* completion event.
	OperationContext string

	// TargetParticipant is the raw identifier of the participant whose
	// speech is recognized (the caller).
	TargetParticipant string

	InitialSilenceTimeout time.Duration
	EndSilenceTimeout     time.Duration
	InterruptPrompt       bool
}

type AnswerCallRequest struct {
	IncomingCallContext string

	// CallbackURL receives the call's CloudEvent stream.
	CallbackURL string

	// TransportURL is the websocket endpoint for bidirectional audio
	// streaming; empty disables media streaming.
	TransportURL string
}

type AnswerCallResult struct {
	CallConnectionID string
	CorrelationID    string
	Media            MediaChannel
}
