package ivr

import (
	"sync"
	"time"

	"ivr-gateway/internal/callautomation"
)

// State is the router-visible lifecycle position of one call.
type State string

const (
	StateIdle              State = "idle"
	StateAwaitingPlay      State = "awaiting_play"
	StateAwaitingRecognize State = "awaiting_recognize"
	StateAwaitingTransfer  State = "awaiting_transfer"
	StateTerminated        State = "terminated"
)

// Operation is the kind of media action currently outstanding for a call.
type Operation string

const (
	OpNone      Operation = ""
	OpPlay      Operation = "play"
	OpRecognize Operation = "recognize"
	OpTransfer  Operation = "transfer"
)

// Session is the per-call mutable state. It is created when a call is
// answered and removed from the registry on a terminal event.
//
// The mutex serializes handler invocations for this call; the state machine
// has no other synchronization and depends on it.
type Session struct {
	mu sync.Mutex

	CallConnectionID string
	CallerID         string
	CorrelationID    string

	state       State
	pending     Operation
	retriesLeft int
	outcome     string

	answeredAt time.Time
	media      callautomation.MediaChannel
}

func NewSession(callConnectionID, callerID string, silenceRetries int, media callautomation.MediaChannel) *Session {
	if silenceRetries < 0 {
		silenceRetries = 0
	}
	return &Session{
		CallConnectionID: callConnectionID,
		CallerID:         callerID,
		state:            StateIdle,
		retriesLeft:      silenceRetries,
		answeredAt:       time.Now(),
		media:            media,
	}
}

// SessionSnapshot is a copy of session state safe to hand to the ops API.
type SessionSnapshot struct {
	CallConnectionID string    `json:"call_connection_id"`
	CallerID         string    `json:"caller_id"`
	State            State     `json:"state"`
	RetriesLeft      int       `json:"silence_retries_left"`
	AnsweredAt       time.Time `json:"answered_at"`
}

func (s *Session) Snapshot() SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionSnapshot{
		CallConnectionID: s.CallConnectionID,
		CallerID:         s.CallerID,
		State:            s.state,
		RetriesLeft:      s.retriesLeft,
		AnsweredAt:       s.answeredAt,
	}
}
