package nats_exchange_flow

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Queue is an unbounded in-memory message store. Concurrent receivers never
// get the same message: removal is by identity and only one remover wins.
type Queue struct {
	mu       sync.Mutex
	messages []*Message

	config   *pollingConfig
	sent     *atomic.Int64
	received *atomic.Int64
}

func NewQueue(opts ...PollingOption) (*Queue, error) {
	cfg, err := newPollingConfig("queue", opts...)
	if err != nil {
		return nil, err
	}
	return &Queue{
		config:   cfg,
		sent:     atomic.NewInt64(0),
		received: atomic.NewInt64(0),
	}, nil
}

func (q *Queue) Send(msg *Message) {
	if msg == nil {
		return
	}
	q.mu.Lock()
	q.messages = append(q.messages, msg)
	q.mu.Unlock()
	q.sent.Inc()
}

// Receive removes and returns the first accepted message, if any.
func (q *Queue) Receive(sel MessageSelector) (*Message, bool) {
	if sel == nil {
		sel = AcceptAll
	}
	for _, msg := range q.snapshot() {
		if !sel.Accept(msg) {
			continue
		}
		if q.remove(msg) {
			q.received.Inc()
			return msg, true
		}
		// Taken by a concurrent receiver, keep scanning.
	}
	return nil, false
}

// ReceiveTimeout retries Receive on the polling interval until timeout is spent.
func (q *Queue) ReceiveTimeout(sel MessageSelector, timeout time.Duration) (*Message, bool) {
	var found *Message
	ok := q.config.pollUntil(timeout, func() bool {
		var hit bool
		found, hit = q.Receive(sel)
		return hit
	})
	if !ok {
		q.config.logger.Debug("no message received within timeout",
			zap.String("queue", q.config.name), zap.Duration("timeout", timeout))
	}
	return found, ok
}

// Purge removes every message the selector accepts and returns how many it removed.
func (q *Queue) Purge(sel MessageSelector) int {
	if sel == nil {
		sel = AcceptAll
	}
	purged := 0
	for _, msg := range q.snapshot() {
		if !sel.Accept(msg) {
			continue
		}
		if q.remove(msg) {
			purged++
			continue
		}
		q.config.logger.Ctx(context.Background()).Debug("message already removed while purging",
			zap.String("queue", q.config.name), zap.String("message_id", msg.ID()))
	}
	return purged
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

func (q *Queue) Stats() (sent, received int64) {
	return q.sent.Load(), q.received.Load()
}

func (q *Queue) snapshot() []*Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*Message(nil), q.messages...)
}

func (q *Queue) remove(target *Message) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, msg := range q.messages {
		if msg == target {
			copy(q.messages[i:], q.messages[i+1:])
			q.messages[len(q.messages)-1] = nil
			q.messages = q.messages[:len(q.messages)-1]
			return true
		}
	}
	return false
}
