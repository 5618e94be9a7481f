package callautomation

import (
	"encoding/json"
	"fmt"
)

// EventKind identifies a mid-call callback event.
type EventKind string

const (
	KindCallConnected         EventKind = "Microsoft.Communication.CallConnected"
	KindCallDisconnected      EventKind = "Microsoft.Communication.CallDisconnected"
	KindPlayCompleted         EventKind = "Microsoft.Communication.PlayCompleted"
	KindPlayFailed            EventKind = "Microsoft.Communication.PlayFailed"
	KindRecognizeCompleted    EventKind = "Microsoft.Communication.RecognizeCompleted"
	KindRecognizeFailed       EventKind = "Microsoft.Communication.RecognizeFailed"
	KindCallTransferAccepted  EventKind = "Microsoft.Communication.CallTransferAccepted"
	KindCallTransferFailed    EventKind = "Microsoft.Communication.CallTransferFailed"
	KindMediaStreamingStarted EventKind = "Microsoft.Communication.MediaStreamingStarted"
	KindMediaStreamingStopped EventKind = "Microsoft.Communication.MediaStreamingStopped"
	KindMediaStreamingFailed  EventKind = "Microsoft.Communication.MediaStreamingFailed"
)

// ReasonCodeInitialSilenceTimeout is the sub-code reported when a speech
// recognize operation gives up waiting for the caller to start speaking.
const ReasonCodeInitialSilenceTimeout = 8510

// ResultInformation carries the platform's failure detail for *Failed events.
type ResultInformation struct {
	Code    int    `json:"code"`
	SubCode int    `json:"subCode"`
	Message string `json:"message"`
}

// Event is the parsed, provider-agnostic form of one callback event.
// Kind-specific payload fields are zero for kinds that do not carry them.
type Event struct {
	Kind             EventKind
	CallConnectionID string
	CorrelationID    string

	// OperationContext is the tag attached to the media request this event
	// completes, echoed back by the platform.
	OperationContext string

	ResultInformation *ResultInformation

	// Speech is the recognized caller utterance (RecognizeCompleted only).
	Speech string
}

// CloudEvent is the envelope the platform delivers callback events in.
type CloudEvent struct {
	ID     string          `json:"id"`
	Source string          `json:"source"`
	Type   string          `json:"type"`
	Data   json.RawMessage `json:"data"`
}

type eventData struct {
	CallConnectionID  string             `json:"callConnectionId"`
	CorrelationID     string             `json:"correlationId"`
	OperationContext  string             `json:"operationContext"`
	ResultInformation *ResultInformation `json:"resultInformation"`
	RecognitionType   string             `json:"recognitionType"`
	SpeechResult      *struct {
		Speech string `json:"speech"`
	} `json:"speechResult"`
}

var knownKinds = map[EventKind]bool{
	KindCallConnected:         true,
	KindCallDisconnected:      true,
	KindPlayCompleted:         true,
	KindPlayFailed:            true,
	KindRecognizeCompleted:    true,
	KindRecognizeFailed:       true,
	KindCallTransferAccepted:  true,
	KindCallTransferFailed:    true,
	KindMediaStreamingStarted: true,
	KindMediaStreamingStopped: true,
	KindMediaStreamingFailed:  true,
}

// ParseEvent converts one envelope into an Event. ok is false for event
// types this service does not handle.
func ParseEvent(ce CloudEvent) (Event, bool, error) {
	kind := EventKind(ce.Type)
	if !knownKinds[kind] {
		return Event{}, false, nil
	}

	var data eventData
	if err := json.Unmarshal(ce.Data, &data); err != nil {
		return Event{}, false, fmt.Errorf("callautomation: decode %s data: %w", ce.Type, err)
	}

	ev := Event{
		Kind:              kind,
		CallConnectionID:  data.CallConnectionID,
		CorrelationID:     data.CorrelationID,
		OperationContext:  data.OperationContext,
		ResultInformation: data.ResultInformation,
	}
	if data.SpeechResult != nil {
		ev.Speech = data.SpeechResult.Speech
	}
	return ev, true, nil
}

// IsInitialSilenceTimeout reports whether a RecognizeFailed event was caused
// by the caller staying silent through the initial timeout window.
func (e Event) IsInitialSilenceTimeout() bool {
	return e.Kind == KindRecognizeFailed &&
		e.ResultInformation != nil &&
		e.ResultInformation.SubCode == ReasonCodeInitialSilenceTimeout
}

// EventGridEvent is the envelope used for out-of-call system notifications
// (incoming call, subscription validation).
type EventGridEvent struct {
	ID        string          `json:"id"`
	EventType string          `json:"eventType"`
	Data      json.RawMessage `json:"data"`
}

const (
	EventTypeSubscriptionValidation = "Microsoft.EventGrid.SubscriptionValidationEvent"
	EventTypeIncomingCall           = "Microsoft.Communication.IncomingCall"
)

// SubscriptionValidationData carries the handshake code that must be echoed
// back synchronously when the event subscription is created.
type SubscriptionValidationData struct {
	ValidationCode string `json:"validationCode"`
}

// IncomingCall is the parsed notification for a new inbound call.
type IncomingCall struct {
	CallerRawID         string
	CalleeRawID         string
	IncomingCallContext string
	CorrelationID       string
}

// ParseIncomingCall decodes the IncomingCall event payload.
func ParseIncomingCall(data json.RawMessage) (IncomingCall, error) {
	var raw struct {
		From struct {
			RawID string `json:"rawId"`
		} `json:"from"`
		To struct {
			RawID string `json:"rawId"`
		} `json:"to"`
		IncomingCallContext string `json:"incomingCallContext"`
		CorrelationID       string `json:"correlationId"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return IncomingCall{}, fmt.Errorf("callautomation: decode incoming call data: %w", err)
	}
	ic := IncomingCall{
		CallerRawID:         raw.From.RawID,
		CalleeRawID:         raw.To.RawID,
		IncomingCallContext: raw.IncomingCallContext,
		CorrelationID:       raw.CorrelationID,
	}
	if ic.IncomingCallContext == "" {
		return IncomingCall{}, fmt.Errorf("callautomation: incoming call data missing incomingCallContext")
	}
	return ic, nil
}
