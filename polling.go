package nats_exchange_flow

import (
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pnvasko/nats-exchange-flow/common"
)

type pollingConfig struct {
	name     string
	interval time.Duration
	clock    clockwork.Clock
	logger   *common.Logger
}

type PollingOption func(*pollingConfig) error

func WithPollingInterval(td time.Duration) PollingOption {
	return func(cfg *pollingConfig) error {
		if td <= 0 {
			return fmt.Errorf("polling interval must be positive, got %s", td)
		}
		cfg.interval = td
		return nil
	}
}

func WithPollingClock(clock clockwork.Clock) PollingOption {
	return func(cfg *pollingConfig) error {
		if clock == nil {
			return fmt.Errorf("polling clock is required")
		}
		cfg.clock = clock
		return nil
	}
}

func WithPollingLogger(logger *common.Logger) PollingOption {
	return func(cfg *pollingConfig) error {
		if logger == nil {
			return fmt.Errorf("polling logger is required")
		}
		cfg.logger = logger
		return nil
	}
}

func WithPollingName(name string) PollingOption {
	return func(cfg *pollingConfig) error {
		cfg.name = name
		return nil
	}
}

func newPollingConfig(defaultName string, opts ...PollingOption) (*pollingConfig, error) {
	cfg := &pollingConfig{
		name:     defaultName,
		interval: DefaultPollingInterval,
		clock:    clockwork.NewRealClock(),
		logger:   common.NewNopLogger(),
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// pollUntil calls attempt once, then again after every sleep until it
// succeeds or the timeout is spent. The last sleep is clamped to what is left
// of the timeout, so a miss returns after exactly timeout on the clock.
func (cfg *pollingConfig) pollUntil(timeout time.Duration, attempt func() bool) bool {
	if attempt() {
		return true
	}
	remaining := timeout
	for remaining > 0 {
		sleep := min(remaining, cfg.interval)
		cfg.clock.Sleep(sleep)
		remaining -= sleep
		if attempt() {
			return true
		}
	}
	return false
}
