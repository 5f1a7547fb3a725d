package nats_exchange_flow

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/pnvasko/nats-exchange-flow/common"
	"go.uber.org/zap"
)

const TermSignal = -1 * time.Nanosecond

type Delay interface {
	WaitTime(retryNum uint64) time.Duration
}
type StaticDelay struct {
	Delay time.Duration
}

func NewStaticDelay(delay time.Duration) StaticDelay {
	return StaticDelay{Delay: delay}
}

func (s StaticDelay) WaitTime(retryNum uint64) time.Duration {
	return s.Delay
}

var _ Delay = StaticDelay{}

type MaxRetryDelay struct {
	StaticDelay
	maxRetries uint64
}

func NewMaxRetryDelay(delay time.Duration, retryLimit uint64) MaxRetryDelay {
	return MaxRetryDelay{
		StaticDelay: NewStaticDelay(delay),
		maxRetries:  retryLimit,
	}
}

func (s MaxRetryDelay) WaitTime(retryNum uint64) time.Duration {
	if retryNum >= s.maxRetries {
		return TermSignal
	}
	return s.Delay
}

var _ Delay = MaxRetryDelay{}

var transientBusErrors = []error{
	nats.ErrConnectionReconnecting,
	nats.ErrNoServers,
	// core publish while reconnecting with the reconnect buffer full or disabled
	nats.ErrReconnectBufExceeded,
	// stream publish before the stream or JetStream itself answers
	nats.ErrNoResponders,
	jetstream.ErrNoStreamResponse,
}

// IsTransientBusError reports connection states where the bus is not ready yet.
func IsTransientBusError(err error) bool {
	for _, transient := range transientBusErrors {
		if errors.Is(err, transient) {
			return true
		}
	}
	return false
}

// publishWithRetry retries transient failures as long as delay allows, every
// other error is returned at once wrapped in a TransportError.
func publishWithRetry(ctx context.Context, destination string, publish func() error, delay Delay, clock clockwork.Clock, logger *common.Logger) error {
	var retryNum uint64
	for {
		err := publish()
		if err == nil {
			return nil
		}
		if !IsTransientBusError(err) {
			return newTransportError("publish", destination, err)
		}

		wait := delay.WaitTime(retryNum)
		if wait == TermSignal {
			return newTransportError("publish", destination, err)
		}
		logger.Ctx(ctx).Warn("bus not ready, retrying publish",
			zap.String("destination", destination), zap.Duration("backoff", wait), zap.Error(err))
		clock.Sleep(wait)
		retryNum++
	}
}
