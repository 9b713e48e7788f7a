package storage

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Memory is a process-local Store. It is not durable.
type Memory struct {
	mu      sync.Mutex
	fired   map[FireKey]time.Time
	reports []ReportRecord
}

func NewMemory() *Memory {
	return &Memory{fired: map[FireKey]time.Time{}}
}

func (m *Memory) MarkFired(_ context.Context, k FireKey, firedAt time.Time) (bool, error) {
	if !k.valid() {
		return false, errors.New("fire key needs event type and offset")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.fired[k]; ok {
		return false, nil
	}
	m.fired[k] = firedAt
	return true, nil
}

func (m *Memory) Fired(_ context.Context, k FireKey) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.fired[k]
	return at, ok, nil
}

func (m *Memory) Unmark(_ context.Context, k FireKey) error {
	m.mu.Lock()
	delete(m.fired, k)
	m.mu.Unlock()
	return nil
}

func (m *Memory) AppendReport(_ context.Context, r ReportRecord) error {
	m.mu.Lock()
	m.reports = append(m.reports, r)
	m.mu.Unlock()
	return nil
}

func (m *Memory) RecentReports(_ context.Context, limit int) ([]ReportRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ReportRecord, 0, limit)
	for i := len(m.reports) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.reports[i])
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }
