package nats_exchange_flow

import (
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pnvasko/nats-exchange-flow/common"
	"github.com/rs/xid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/pnvasko/nats-exchange-flow"

type EndpointOption func(*EndpointConfig) error

func WithEndpointName(name string) EndpointOption {
	return func(cfg *EndpointConfig) error {
		cfg.name = name
		return nil
	}
}

func WithEndpointTimeout(td time.Duration) EndpointOption {
	return func(cfg *EndpointConfig) error {
		cfg.timeout = td
		return nil
	}
}

func WithEndpointPollingInterval(td time.Duration) EndpointOption {
	return func(cfg *EndpointConfig) error {
		cfg.pollingInterval = td
		return nil
	}
}

func WithRetryBackoff(td time.Duration) EndpointOption {
	return func(cfg *EndpointConfig) error {
		cfg.retryBackoff = td
		return nil
	}
}

func WithQueueGroup(group string) EndpointOption {
	return func(cfg *EndpointConfig) error {
		cfg.queueGroup = group
		return nil
	}
}

func WithCorrelator(correlator MessageCorrelator) EndpointOption {
	return func(cfg *EndpointConfig) error {
		cfg.correlator = correlator
		return nil
	}
}

func WithEndpointClock(clock clockwork.Clock) EndpointOption {
	return func(cfg *EndpointConfig) error {
		cfg.clock = clock
		return nil
	}
}

func WithEndpointLogger(logger *common.Logger) EndpointOption {
	return func(cfg *EndpointConfig) error {
		cfg.logger = logger
		return nil
	}
}

func WithEndpointTracer(tracer trace.Tracer) EndpointOption {
	return func(cfg *EndpointConfig) error {
		cfg.tracer = tracer
		return nil
	}
}

// WithCorrelationManager replaces the in-process reply store, e.g. with a
// coordination.CorrelationStore shared between processes.
func WithCorrelationManager(manager CorrelationManager[*Message]) EndpointOption {
	return func(cfg *EndpointConfig) error {
		cfg.correlationManager = manager
		return nil
	}
}

// EndpointConfig is resolved once in NewEndpointConfig; endpoints only read it.
type EndpointConfig struct {
	name               string
	address            string
	timeout            time.Duration
	pollingInterval    time.Duration
	retryBackoff       time.Duration
	queueGroup         string
	correlator         MessageCorrelator
	clock              clockwork.Clock
	logger             *common.Logger
	tracer             trace.Tracer
	correlationManager CorrelationManager[*Message]
}

func NewEndpointConfig(address string, opts ...EndpointOption) (*EndpointConfig, error) {
	if address == "" {
		return nil, fmt.Errorf("endpoint address is required")
	}

	cfg := &EndpointConfig{
		address:         address,
		timeout:         DefaultTimeout,
		pollingInterval: DefaultPollingInterval,
		retryBackoff:    DefaultRetryBackoff,
		correlator:      DefaultMessageCorrelator{},
		clock:           clockwork.NewRealClock(),
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.timeout <= 0 {
		return nil, fmt.Errorf("endpoint timeout must be positive, got %s", cfg.timeout)
	}
	if cfg.pollingInterval <= 0 {
		return nil, fmt.Errorf("endpoint polling interval must be positive, got %s", cfg.pollingInterval)
	}
	if cfg.retryBackoff <= 0 {
		return nil, fmt.Errorf("endpoint retry backoff must be positive, got %s", cfg.retryBackoff)
	}
	if cfg.correlator == nil {
		return nil, fmt.Errorf("endpoint correlator is required")
	}
	if cfg.clock == nil {
		return nil, fmt.Errorf("endpoint clock is required")
	}
	if cfg.name == "" {
		cfg.name = fmt.Sprintf("endpoint_%s", xid.New())
	}
	if cfg.logger == nil {
		cfg.logger = common.NewNopLogger()
	}
	if cfg.tracer == nil {
		cfg.tracer = otel.Tracer(tracerName)
	}
	if cfg.correlationManager == nil {
		manager, err := NewPollingCorrelationManager[*Message](cfg.pollingOptions(cfg.name + ".replies")...)
		if err != nil {
			return nil, err
		}
		cfg.correlationManager = manager
	}

	return cfg, nil
}

func (cfg *EndpointConfig) Name() string {
	return cfg.name
}

func (cfg *EndpointConfig) Address() string {
	return cfg.address
}

func (cfg *EndpointConfig) Timeout() time.Duration {
	return cfg.timeout
}

func (cfg *EndpointConfig) PollingInterval() time.Duration {
	return cfg.pollingInterval
}

func (cfg *EndpointConfig) RetryBackoff() time.Duration {
	return cfg.retryBackoff
}

func (cfg *EndpointConfig) QueueGroup() string {
	return cfg.queueGroup
}

func (cfg *EndpointConfig) Correlator() MessageCorrelator {
	return cfg.correlator
}

func (cfg *EndpointConfig) CorrelationManager() CorrelationManager[*Message] {
	return cfg.correlationManager
}

func (cfg *EndpointConfig) Logger() *common.Logger {
	return cfg.logger
}

// retryDelay retries a transient publish failure once.
func (cfg *EndpointConfig) retryDelay() Delay {
	return NewMaxRetryDelay(cfg.retryBackoff, 1)
}

func (cfg *EndpointConfig) pollingOptions(name string) []PollingOption {
	return []PollingOption{
		WithPollingName(name),
		WithPollingInterval(cfg.pollingInterval),
		WithPollingClock(cfg.clock),
		WithPollingLogger(cfg.logger),
	}
}

// timeoutOrDefault picks the caller supplied timeout, or the endpoint's when it is not positive.
func (cfg *EndpointConfig) timeoutOrDefault(td time.Duration) time.Duration {
	if td > 0 {
		return td
	}
	return cfg.timeout
}
