package sink

import (
	"context"
	"sync"

	"vehicle-generator/internal/event"
)

// Memory is an in-process sink. With retain set it keeps every sent batch,
// otherwise it only counts; the discard sink uses the latter to measure the
// generator without a broker.
type Memory struct {
	limits Limits
	retain bool

	// FailSend, when set, is consulted before a batch is accepted.
	FailSend func(msgs []*event.Message) error

	mu      sync.Mutex
	batches [][]*event.Message
	opened  int
	sent    int
	events  int
	closed  bool
}

func NewMemory(limits Limits, retain bool) *Memory {
	return &Memory{limits: limits, retain: retain}
}

func (m *Memory) OpenBatch(ctx context.Context) (Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	m.opened++
	return newBoundedBatch(m.limits), nil
}

func (m *Memory) SendBatch(ctx context.Context, b Batch) error {
	bb, err := asBounded(b)
	if err != nil {
		return err
	}
	if m.FailSend != nil {
		if err := m.FailSend(bb.Messages()); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.sent++
	m.events += bb.Len()
	if m.retain {
		m.batches = append(m.batches, bb.Messages())
	}
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Stats returns batches opened, batches sent and events sent so far.
func (m *Memory) Stats() (opened, sent, events int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opened, m.sent, m.events
}

// Batches returns the retained batches in send order.
func (m *Memory) Batches() [][]*event.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]*event.Message(nil), m.batches...)
}
