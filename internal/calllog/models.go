package calllog

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("calllog: not found")

// Record is the durable trace of one answered call.
type Record struct {
	CallConnectionID string     `json:"call_connection_id"`
	CallerID         string     `json:"caller_id"`
	Outcome          string     `json:"outcome,omitempty"`
	AnsweredAt       time.Time  `json:"answered_at"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`

	Transcript []Line `json:"transcript,omitempty"`
}

// Line is one transcript entry; role is "caller" or "assistant".
type Line struct {
	Role string    `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}
