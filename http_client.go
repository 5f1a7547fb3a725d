package nats_exchange_flow

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

type HttpClientOption func(*HttpClient) error

func WithHttpClient(client *http.Client) HttpClientOption {
	return func(c *HttpClient) error {
		if client == nil {
			return fmt.Errorf("http client is required")
		}
		c.client = client
		return nil
	}
}

func WithDefaultMethod(method string) HttpClientOption {
	return func(c *HttpClient) error {
		c.defaultMethod = method
		return nil
	}
}

// HttpClient is a synchronous producer over HTTP. The request runs on its
// own goroutine; the response is stored for Receive like any async reply.
type HttpClient struct {
	config        *EndpointConfig
	name          string
	consumerName  string
	client        *http.Client
	defaultMethod string

	polling *pollingConfig

	// failures keeps the transport error of a request under its correlation key.
	failuresMu sync.Mutex
	failures   map[string]error

	wg     sync.WaitGroup
	closed *atomic.Bool
}

func NewHttpClient(config *EndpointConfig, opts ...HttpClientOption) (*HttpClient, error) {
	if config == nil {
		return nil, fmt.Errorf("endpoint config is required")
	}
	c := &HttpClient{
		config:        config,
		name:          config.Name() + ":producer",
		consumerName:  config.Name() + ":consumer",
		client:        &http.Client{},
		defaultMethod: http.MethodPost,
		failures:      make(map[string]error),
		closed:        atomic.NewBool(false),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	polling, err := newPollingConfig(c.name, config.pollingOptions(c.name)...)
	if err != nil {
		return nil, err
	}
	c.polling = polling
	return c, nil
}

func (c *HttpClient) Name() string {
	return c.name
}

func (c *HttpClient) CorrelationKeyName() string {
	return c.config.correlator.CorrelationKeyName(c.consumerName)
}

// Send issues the request described by msg. HTTPMethodHeader and
// HTTPRequestPath select the method and the path below the endpoint address.
func (c *HttpClient) Send(tctx *TestContext, msg *Message) error {
	if c.closed.Load() {
		return ErrEndpointClosed
	}

	key := c.config.correlator.CorrelationKey(msg)
	c.config.correlationManager.SaveCorrelationKey(c.CorrelationKeyName(), key, tctx)

	method := msg.HeaderString(HTTPMethodHeader)
	if method == "" {
		method = c.defaultMethod
	}
	url := strings.TrimSuffix(c.config.Address(), "/") + msg.HeaderString(HTTPRequestPath)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(tctx.Context()), c.config.Timeout())
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(msg.PayloadBytes()))
	if err != nil {
		cancel()
		return SetLogError(tctx.Context(), "cannot build http request", newTransportError(method, url, err), c.config.logger)
	}
	for k, v := range msg.Headers() {
		if strings.HasPrefix(k, "_") {
			continue
		}
		req.Header.Set(k, headerString(v))
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()
		c.exchange(req, key)
	}()
	return nil
}

func (c *HttpClient) exchange(req *http.Request, key string) {
	ctx, span := c.config.tracer.Start(req.Context(), "http.client.request", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("http.client.endpoint", c.config.Name()),
		attribute.String("http.client.url", req.URL.String()),
	)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.client.Do(req.WithContext(ctx))
	if err != nil {
		c.fail(ctx, key, "http request failed", newTransportError(req.Method, req.URL.String(), err))
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.fail(ctx, key, "cannot read http response", newTransportError("read response", req.URL.String(), err))
		return
	}

	headers := map[string]any{HTTPStatusCode: Int64ToString(int64(resp.StatusCode))}
	for k, v := range resp.Header {
		headers[k] = strings.Join(v, ",")
	}
	reply, err := NewMessage(body, WithHeaders(headers))
	if err != nil {
		_ = SetLogError(ctx, "cannot build http reply", err, c.config.logger)
		return
	}
	span.SetAttributes(attribute.Int("http.client.status", resp.StatusCode))
	c.config.correlationManager.Store(key, reply)
}

func (c *HttpClient) fail(ctx context.Context, key, description string, err error) {
	_ = SetLogError(ctx, description, err, c.config.logger)
	c.failuresMu.Lock()
	c.failures[key] = err
	c.failuresMu.Unlock()
}

func (c *HttpClient) takeFailure(key string) error {
	c.failuresMu.Lock()
	defer c.failuresMu.Unlock()
	err, ok := c.failures[key]
	if ok {
		delete(c.failures, key)
	}
	return err
}

func (c *HttpClient) Receive(tctx *TestContext, timeout time.Duration) (*Message, error) {
	key, err := c.config.correlationManager.CorrelationKey(c.CorrelationKeyName(), tctx)
	if err != nil {
		return nil, err
	}
	return c.ReceiveByKey(tctx, key, timeout)
}

func (c *HttpClient) ReceiveByKey(tctx *TestContext, key string, timeout time.Duration) (*Message, error) {
	td := c.config.timeoutOrDefault(timeout)
	var (
		reply   *Message
		failure error
	)
	ok := c.polling.pollUntil(td, func() bool {
		if failure = c.takeFailure(key); failure != nil {
			return true
		}
		var found bool
		reply, found = c.config.correlationManager.Find(key, 0)
		return found
	})
	if failure != nil {
		return nil, failure
	}
	if !ok {
		return nil, &ReplyTimeoutError{
			Message:     "action timeout while receiving http response",
			Timeout:     td,
			Destination: c.config.Address(),
		}
	}
	c.config.logger.Ctx(tctx.Context()).Debug("received http response",
		zap.String("client", c.name), zap.String("correlation_key", key), zap.String("status", reply.HeaderString(HTTPStatusCode)))
	return reply, nil
}

// Close waits for requests still in flight or until ctx is done.
func (c *HttpClient) Close(ctx context.Context) error {
	c.closed.Store(true)
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var (
	_ Producer      = (*HttpClient)(nil)
	_ ReplyConsumer = (*HttpClient)(nil)
)
