package calllog

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store replacement for tests and local runs
// without Postgres.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func (m *MemoryStore) CallAnswered(_ context.Context, callConnectionID, callerID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[callConnectionID]; ok {
		return nil
	}
	m.records[callConnectionID] = &Record{
		CallConnectionID: callConnectionID,
		CallerID:         callerID,
		AnsweredAt:       at,
	}
	return nil
}

func (m *MemoryStore) Utterance(_ context.Context, callConnectionID, role, text string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[callConnectionID]
	if !ok {
		return ErrNotFound
	}
	rec.Transcript = append(rec.Transcript, Line{Role: role, Text: text, At: at})
	return nil
}

func (m *MemoryStore) CallEnded(_ context.Context, callConnectionID, outcome string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[callConnectionID]
	if !ok {
		return ErrNotFound
	}
	rec.Outcome = outcome
	ended := at
	rec.EndedAt = &ended
	return nil
}

func (m *MemoryStore) GetRecord(_ context.Context, callConnectionID string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[callConnectionID]
	if !ok {
		return Record{}, ErrNotFound
	}
	out := *rec
	out.Transcript = append([]Line(nil), rec.Transcript...)
	return out, nil
}
