package nats_exchange_flow

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CorrelationManager hands values from a transport callback to a waiting
// test goroutine. Store may run on any goroutine; Find polls until the value
// shows up or the timeout is spent and consumes what it returns.
type CorrelationManager[T any] interface {
	SaveCorrelationKey(keyName, key string, tctx *TestContext)
	CorrelationKey(keyName string, tctx *TestContext) (string, error)
	Store(key string, value T)
	Find(key string, timeout time.Duration) (T, bool)
}

// ContextKeyRegistry keeps the key-name to key table in the TestContext.
type ContextKeyRegistry struct{}

func (ContextKeyRegistry) SaveCorrelationKey(keyName, key string, tctx *TestContext) {
	tctx.SetVariable(keyName, key)
}

// CorrelationKey fails right away when nothing was saved under keyName: the
// consumer asked before any producer sent.
func (ContextKeyRegistry) CorrelationKey(keyName string, tctx *TestContext) (string, error) {
	v, ok := tctx.Variable(keyName)
	key, isString := v.(string)
	if !ok || !isString || key == "" {
		return "", fmt.Errorf("%w: nothing saved for %s", ErrCorrelationKeyNotFound, keyName)
	}
	return key, nil
}

// PollingCorrelationManager is the in-process CorrelationManager. A second
// Store under the same key replaces the first; a Store after Find gave up is
// kept until something asks for it.
type PollingCorrelationManager[T any] struct {
	ContextKeyRegistry

	mu     sync.Mutex
	values map[string]T
	config *pollingConfig
}

func NewPollingCorrelationManager[T any](opts ...PollingOption) (*PollingCorrelationManager[T], error) {
	cfg, err := newPollingConfig("correlation_manager", opts...)
	if err != nil {
		return nil, err
	}
	return &PollingCorrelationManager[T]{
		values: make(map[string]T),
		config: cfg,
	}, nil
}

func (m *PollingCorrelationManager[T]) Store(key string, value T) {
	m.mu.Lock()
	_, replaced := m.values[key]
	m.values[key] = value
	m.mu.Unlock()

	if replaced {
		m.config.logger.Debug("correlation value replaced before it was consumed",
			zap.String("manager", m.config.name), zap.String("key", key))
	}
}

func (m *PollingCorrelationManager[T]) Find(key string, timeout time.Duration) (T, bool) {
	var found T
	ok := m.config.pollUntil(timeout, func() bool {
		var hit bool
		found, hit = m.take(key)
		return hit
	})
	if !ok {
		m.config.logger.Debug("no correlation value within timeout",
			zap.String("manager", m.config.name), zap.String("key", key), zap.Duration("timeout", timeout))
	}
	return found, ok
}

// Len is the number of stored values nobody has consumed yet.
func (m *PollingCorrelationManager[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.values)
}

func (m *PollingCorrelationManager[T]) take(key string) (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if ok {
		delete(m.values, key)
	}
	return v, ok
}

var _ CorrelationManager[*Message] = (*PollingCorrelationManager[*Message])(nil)
