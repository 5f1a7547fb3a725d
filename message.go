package nats_exchange_flow

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/xid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Message is the envelope exchanged by producers and consumers: a payload,
// headers keyed case sensitively, ordered header data fragments, a name and a
// content type. The ID header is assigned at construction and can not change.
type Message struct {
	ctx context.Context

	mu         sync.RWMutex
	payload    any
	payloadFn  func() (any, error)
	headers    map[string]any
	headerData []string
	name       string
	msgType    MessageType
}

type MessageOption func(*Message) error

func WithName(name string) MessageOption {
	return func(msg *Message) error {
		msg.name = name
		return nil
	}
}

func WithType(t MessageType) MessageOption {
	return func(msg *Message) error {
		msg.msgType = t
		return nil
	}
}

// WithHeaders copies the given headers. A supplied ID header is kept as the message ID.
func WithHeaders(headers map[string]any) MessageOption {
	return func(msg *Message) error {
		for k, v := range headers {
			if k == IDHeader {
				id, ok := v.(string)
				if !ok {
					return fmt.Errorf("%w: %s must be a string, got %T", ErrReservedHeader, IDHeader, v)
				}
				if id == "" {
					return fmt.Errorf("%w: %s must not be empty", ErrReservedHeader, IDHeader)
				}
			}
			msg.headers[k] = v
		}
		return nil
	}
}

func WithHeader(name string, value any) MessageOption {
	return WithHeaders(map[string]any{name: value})
}

func WithHeaderData(data ...string) MessageOption {
	return func(msg *Message) error {
		msg.headerData = append(msg.headerData, data...)
		return nil
	}
}

func NewMessage(payload any, opts ...MessageOption) (*Message, error) {
	msg := &Message{
		payload: payload,
		headers: make(map[string]any),
	}

	for _, opt := range opts {
		if err := opt(msg); err != nil {
			return nil, err
		}
	}
	msg.ensureIdentity(false)

	return msg, nil
}

// NewMessageFrom copies src. With forceUpdate the copy always gets a fresh ID and
// timestamp, otherwise the source identity is kept when present.
func NewMessageFrom(src *Message, forceUpdate bool) *Message {
	src.mu.RLock()
	msg := &Message{
		ctx:        src.ctx,
		payload:    src.payload,
		payloadFn:  src.payloadFn,
		headers:    make(map[string]any, len(src.headers)),
		headerData: append([]string(nil), src.headerData...),
		name:       src.name,
		msgType:    src.msgType,
	}
	for k, v := range src.headers {
		msg.headers[k] = v
	}
	src.mu.RUnlock()

	msg.ensureIdentity(forceUpdate)
	return msg
}

func (m *Message) ensureIdentity(force bool) {
	if id, _ := m.headers[IDHeader].(string); force || id == "" {
		m.headers[IDHeader] = xid.New().String()
	}
	if _, ok := m.headers[TimestampHeader]; force || !ok {
		m.headers[TimestampHeader] = time.Now()
	}
}

func (m *Message) ID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, _ := m.headers[IDHeader].(string)
	return id
}

func (m *Message) Timestamp() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return toTime(m.headers[TimestampHeader])
}

func (m *Message) Name() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.name
}

func (m *Message) SetName(name string) {
	m.mu.Lock()
	m.name = name
	m.mu.Unlock()
}

// Type returns the explicit content type or, when none was set, the type
// detected from the payload.
func (m *Message) Type() MessageType {
	m.mu.RLock()
	t := m.msgType
	m.mu.RUnlock()
	if t != "" {
		return t
	}
	return DetectType(m.Payload())
}

func (m *Message) SetType(t MessageType) {
	m.mu.Lock()
	m.msgType = t
	m.mu.Unlock()
}

// Payload returns the payload, nil when a computed payload can not be built.
func (m *Message) Payload() any {
	payload, _ := m.payloadValue()
	return payload
}

// SetPayload replaces the payload, including a computed one.
func (m *Message) SetPayload(payload any) {
	m.mu.Lock()
	m.payload = payload
	m.payloadFn = nil
	m.mu.Unlock()
}

func (m *Message) setPayloadFunc(fn func() (any, error)) {
	m.mu.Lock()
	m.payloadFn = fn
	m.mu.Unlock()
}

func (m *Message) payloadValue() (any, error) {
	m.mu.RLock()
	payload, fn := m.payload, m.payloadFn
	m.mu.RUnlock()
	if fn != nil {
		return fn()
	}
	return payload, nil
}

func (m *Message) PayloadString() string {
	return payloadToString(m.Payload())
}

func (m *Message) PayloadBytes() []byte {
	return payloadToBytes(m.Payload())
}

// PayloadAs converts the payload to T: strings and byte slices convert into each
// other, anything else is decoded from the JSON form of the payload.
func PayloadAs[T any](m *Message) (T, error) {
	var zero T
	payload := m.Payload()
	if v, ok := payload.(T); ok {
		return v, nil
	}

	switch any(zero).(type) {
	case string:
		return any(payloadToString(payload)).(T), nil
	case []byte:
		return any(payloadToBytes(payload)).(T), nil
	}

	var out T
	if err := json.Unmarshal(payloadToBytes(payload), &out); err != nil {
		return zero, fmt.Errorf("cannot convert payload %T to %T: %w", payload, zero, err)
	}
	return out, nil
}

func (m *Message) Header(name string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.headers[name]
	return v, ok
}

// HeaderString returns the header rendered as text, empty when missing.
func (m *Message) HeaderString(name string) string {
	v, ok := m.Header(name)
	if !ok {
		return ""
	}
	return headerString(v)
}

func (m *Message) SetHeader(name string, value any) error {
	if name == IDHeader {
		return fmt.Errorf("%w: not allowed to set %s on message %s", ErrReservedHeader, IDHeader, m.ID())
	}
	m.mu.Lock()
	m.headers[name] = value
	m.mu.Unlock()
	return nil
}

func (m *Message) RemoveHeader(name string) error {
	if name == IDHeader {
		return fmt.Errorf("%w: not allowed to remove %s from message %s", ErrReservedHeader, IDHeader, m.ID())
	}
	m.mu.Lock()
	delete(m.headers, name)
	m.mu.Unlock()
	return nil
}

// Headers returns a copy of all headers including the reserved ones.
func (m *Message) Headers() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]any, len(m.headers))
	for k, v := range m.headers {
		out[k] = v
	}
	return out
}

func (m *Message) AddHeaderData(data string) {
	m.mu.Lock()
	m.headerData = append(m.headerData, data)
	m.mu.Unlock()
}

func (m *Message) HeaderData() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.headerData...)
}

func (m *Message) Context() context.Context {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ctx != nil {
		return m.ctx
	}
	return context.Background()
}

func (m *Message) SetContext(ctx context.Context) {
	m.mu.Lock()
	m.ctx = ctx
	m.mu.Unlock()
}

// Equals compares identity, headers, header data and payload bytes.
func (m *Message) Equals(other *Message) bool {
	if other == nil {
		return false
	}
	if m.ID() != other.ID() || m.Name() != other.Name() {
		return false
	}
	left, right := m.Headers(), other.Headers()
	if len(left) != len(right) {
		return false
	}
	for k, v := range left {
		if headerString(v) != headerString(right[k]) {
			return false
		}
	}
	if !reflect.DeepEqual(m.HeaderData(), other.HeaderData()) {
		return false
	}
	return bytes.Equal(m.PayloadBytes(), other.PayloadBytes())
}

func (m *Message) String() string {
	headers := m.Headers()
	names := SortedHeaderNames(m)
	rendered := make([]string, 0, len(names))
	for _, name := range names {
		rendered = append(rendered, name+":"+headerString(headers[name]))
	}
	return fmt.Sprintf("Message[id=%s, name=%s, type=%s, headers=map[%s], payload=%s]",
		m.ID(), m.Name(), m.Type(), strings.Join(rendered, " "), m.PayloadString())
}

func (m *Message) InjectTrace(ctx context.Context) {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	m.mu.Lock()
	for k, v := range carrier {
		m.headers[k] = v
	}
	m.mu.Unlock()
}

func (m *Message) ExtractTrace(ctx context.Context) context.Context {
	carrier := propagation.MapCarrier{}
	for k, v := range m.Headers() {
		if s, ok := v.(string); ok {
			carrier[k] = s
		}
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

func (m *Message) StartConsumerSpan(ctx context.Context, tracerName, operationName string) (context.Context, trace.Span) {
	ctx = m.ExtractTrace(ctx)
	return otel.Tracer(tracerName).Start(ctx, operationName)
}

// Marshal encodes the whole envelope, identity included, as a protobuf Struct.
func (m *Message) Marshal() ([]byte, error) {
	headers := make(map[string]any)
	for k, v := range m.Headers() {
		if k == IDHeader || k == TimestampHeader {
			continue
		}
		headers[k] = headerString(v)
	}
	headerData := make([]any, 0)
	for _, d := range m.HeaderData() {
		headerData = append(headerData, d)
	}

	m.mu.RLock()
	explicitType := string(m.msgType)
	m.mu.RUnlock()
	payload, err := m.payloadValue()
	if err != nil {
		return nil, fmt.Errorf("cannot build message payload: %w", err)
	}

	envelope, err := structpb.NewStruct(map[string]any{
		"id":         m.ID(),
		"timestamp":  m.Timestamp().UnixMilli(),
		"name":       m.Name(),
		"type":       explicitType,
		"headers":    headers,
		"headerData": headerData,
		"payload":    base64.StdEncoding.EncodeToString(payloadToBytes(payload)),
	})
	if err != nil {
		return nil, fmt.Errorf("cannot build message envelope: %w", err)
	}
	return proto.Marshal(envelope)
}

// UnmarshalMessage is the inverse of Marshal; the payload comes back as bytes.
func UnmarshalMessage(data []byte) (*Message, error) {
	envelope := &structpb.Struct{}
	if err := proto.Unmarshal(data, envelope); err != nil {
		return nil, fmt.Errorf("cannot decode message envelope: %w", err)
	}
	fields := envelope.AsMap()

	id, _ := fields["id"].(string)
	if id == "" {
		return nil, fmt.Errorf("message envelope without %s", IDHeader)
	}
	payload, err := base64.StdEncoding.DecodeString(stringField(fields, "payload"))
	if err != nil {
		return nil, fmt.Errorf("cannot decode message payload: %w", err)
	}

	msg := &Message{
		payload: payload,
		headers: map[string]any{IDHeader: id},
		name:    stringField(fields, "name"),
		msgType: MessageType(stringField(fields, "type")),
	}
	if ts, ok := fields["timestamp"].(float64); ok {
		msg.headers[TimestampHeader] = time.UnixMilli(int64(ts))
	}
	if headers, ok := fields["headers"].(map[string]any); ok {
		for k, v := range headers {
			msg.headers[k] = v
		}
	}
	if list, ok := fields["headerData"].([]any); ok {
		for _, d := range list {
			if s, ok := d.(string); ok {
				msg.headerData = append(msg.headerData, s)
			}
		}
	}
	msg.ensureIdentity(false)
	return msg, nil
}

func stringField(fields map[string]any, name string) string {
	s, _ := fields[name].(string)
	return s
}

// SortedHeaderNames returns the header names in lexical order.
func SortedHeaderNames(m *Message) []string {
	headers := m.Headers()
	names := make([]string, 0, len(headers))
	for k := range headers {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func headerString(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case []byte:
		return string(value)
	case time.Time:
		return Int64ToString(value.UnixMilli())
	case fmt.Stringer:
		return value.String()
	default:
		return fmt.Sprint(value)
	}
}

func toTime(v any) time.Time {
	switch value := v.(type) {
	case time.Time:
		return value
	case int64:
		return time.UnixMilli(value)
	case string:
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return time.UnixMilli(n)
		}
	}
	return time.Time{}
}

func payloadToString(payload any) string {
	switch p := payload.(type) {
	case nil:
		return ""
	case string:
		return p
	case []byte:
		return string(p)
	case fmt.Stringer:
		return p.String()
	}
	if isStructured(payload) {
		data, err := json.Marshal(payload)
		if err == nil {
			return string(data)
		}
	}
	return fmt.Sprint(payload)
}

func payloadToBytes(payload any) []byte {
	switch p := payload.(type) {
	case nil:
		return nil
	case []byte:
		return p
	case string:
		return []byte(p)
	}
	return []byte(payloadToString(payload))
}
