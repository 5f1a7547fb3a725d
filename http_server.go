package nats_exchange_flow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

type HttpServerOption func(*HttpServer) error

// WithHttpRoutes restricts the server to the given mux path templates.
// Template variables end up in HTTPPathVarPrefix headers.
func WithHttpRoutes(templates ...string) HttpServerOption {
	return func(s *HttpServer) error {
		s.routes = append(s.routes, templates...)
		return nil
	}
}

func WithReadHeaderTimeout(td time.Duration) HttpServerOption {
	return func(s *HttpServer) error {
		if td <= 0 {
			return fmt.Errorf("read header timeout must be positive")
		}
		s.readHeaderTimeout = td
		return nil
	}
}

// HttpServer is a synchronous server endpoint. Each request becomes a
// message in the server queue and its handler waits until the test sends a
// reply for it, answering 504 when none arrives in time.
type HttpServer struct {
	config *EndpointConfig
	name   string
	queue  *Queue

	routes            []string
	readHeaderTimeout time.Duration
	router            *mux.Router

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	closed   *atomic.Bool
}

func NewHttpServer(config *EndpointConfig, opts ...HttpServerOption) (*HttpServer, error) {
	if config == nil {
		return nil, fmt.Errorf("endpoint config is required")
	}
	name := config.Name() + ":server"
	queue, err := NewQueue(config.pollingOptions(name)...)
	if err != nil {
		return nil, err
	}
	s := &HttpServer{
		config:            config,
		name:              name,
		queue:             queue,
		readHeaderTimeout: 5 * time.Second,
		closed:            atomic.NewBool(false),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	s.router = mux.NewRouter()
	if len(s.routes) == 0 {
		s.router.PathPrefix("/").HandlerFunc(s.handle)
	}
	for _, route := range s.routes {
		s.router.HandleFunc(route, s.handle)
	}
	return s, nil
}

func (s *HttpServer) Name() string {
	return s.name
}

func (s *HttpServer) Handler() http.Handler {
	return s.router
}

func (s *HttpServer) CorrelationKeyName() string {
	return s.config.correlator.CorrelationKeyName(s.name)
}

// Run starts listening on the endpoint address and serves in the background.
func (s *HttpServer) Run(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return ErrEndpointClosed
	}
	if s.server != nil {
		return nil
	}

	listener, err := net.Listen("tcp", s.config.Address())
	if err != nil {
		return SetLogError(ctx, "cannot listen http server", newTransportError("listen", s.config.Address(), err), s.config.logger)
	}
	s.listener = listener
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: s.readHeaderTimeout,
	}

	go func(server *http.Server) {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.config.logger.Error("http server stopped", zap.String("server", s.name), zap.Error(err))
		}
	}(s.server)

	s.config.logger.Ctx(ctx).Debug("http server listening",
		zap.String("server", s.name), zap.String("address", listener.Addr().String()))
	return nil
}

// URL is the base URL of the running server, empty before Run.
func (s *HttpServer) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return "http://" + s.listener.Addr().String()
}

func (s *HttpServer) handle(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := s.config.tracer.Start(ctx, "http.server.request", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "cannot read request body", http.StatusBadRequest)
		return
	}

	msg, err := requestMessage(r, body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	msg.SetContext(ctx)

	key := s.config.correlator.CorrelationKey(msg)
	span.SetAttributes(
		attribute.String("http.server.endpoint", s.config.Name()),
		attribute.String("http.server.message.id", msg.ID()),
	)
	s.queue.Send(msg)

	reply, ok := s.config.correlationManager.Find(key, s.config.Timeout())
	if !ok {
		s.config.logger.Ctx(ctx).Warn("no reply for http request",
			zap.String("server", s.name), zap.String("correlation_key", key), zap.Duration("timeout", s.config.Timeout()))
		http.Error(w, (&ReplyTimeoutError{
			Message:     "action timeout while waiting for server reply",
			Timeout:     s.config.Timeout(),
			Destination: r.URL.Path,
		}).Error(), http.StatusGatewayTimeout)
		return
	}

	writeReply(w, reply)
}

func requestMessage(r *http.Request, body []byte) (*Message, error) {
	headers := map[string]any{
		HTTPMethodHeader: r.Method,
		HTTPRequestURI:   r.RequestURI,
		HTTPRequestPath:  r.URL.Path,
	}
	for k, v := range r.Header {
		headers[k] = strings.Join(v, ",")
	}
	for k, v := range mux.Vars(r) {
		headers[HTTPPathVarPrefix+k] = v
	}
	return NewMessage(body, WithHeaders(headers))
}

func writeReply(w http.ResponseWriter, reply *Message) {
	status := http.StatusOK
	if code := reply.HeaderString(HTTPStatusCode); code != "" {
		if n, err := strconv.Atoi(code); err == nil {
			status = n
		}
	}
	for k, v := range reply.Headers() {
		if strings.HasPrefix(k, "_") {
			continue
		}
		w.Header().Set(k, headerString(v))
	}
	w.WriteHeader(status)
	_, _ = w.Write(reply.PayloadBytes())
}

// Receive takes the next request the selector accepts and remembers its
// correlation key for the following Send.
func (s *HttpServer) Receive(tctx *TestContext, sel MessageSelector, timeout time.Duration) (*Message, error) {
	td := s.config.timeoutOrDefault(timeout)
	msg, ok := s.queue.ReceiveTimeout(sel, td)
	if !ok {
		return nil, &ReplyTimeoutError{
			Message:     "action timeout while receiving http request",
			Timeout:     td,
			Destination: s.config.Address(),
		}
	}
	key := s.config.correlator.CorrelationKey(msg)
	s.config.correlationManager.SaveCorrelationKey(s.CorrelationKeyName(), key, tctx)
	return msg, nil
}

// Send answers the request last received in tctx.
func (s *HttpServer) Send(tctx *TestContext, reply *Message) error {
	key, err := s.config.correlationManager.CorrelationKey(s.CorrelationKeyName(), tctx)
	if err != nil {
		return err
	}
	s.config.logger.Ctx(tctx.Context()).Debug("storing http reply",
		zap.String("server", s.name), zap.String("correlation_key", key))
	s.config.correlationManager.Store(key, reply)
	return nil
}

func (s *HttpServer) Close(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.mu.Lock()
	server := s.server
	s.mu.Unlock()
	if server == nil {
		return nil
	}
	if err := server.Shutdown(ctx); err != nil {
		return SetLogError(ctx, "cannot shutdown http server", err, s.config.logger)
	}
	return nil
}

var (
	_ SelectiveConsumer = (*HttpServer)(nil)
	_ Producer          = (*HttpServer)(nil)
)
