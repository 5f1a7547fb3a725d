package nats_exchange_flow

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/propagation"
)

// NewNatsMessage maps msg onto a core NATS message for subject.
func NewNatsMessage(subject string, msg *Message) *nats.Msg {
	headers := make(nats.Header)
	for k, v := range msg.Headers() {
		switch k {
		case IDHeader, TimestampHeader, ReplyAddressHeader, SubjectHeader:
			continue
		}
		headers.Set(k, headerString(v))
	}

	headers.Set(IDHeader, msg.ID())
	headers.Set(TimestampHeader, Int64ToString(msg.Timestamp().UnixMilli()))
	if name := msg.Name(); name != "" {
		headers.Set(NameHeader, name)
	}
	headers.Set(TypeHeader, msg.Type().String())
	for _, data := range msg.HeaderData() {
		headers.Add(HeaderDataHeader, data)
	}

	propagation.TraceContext{}.Inject(msg.Context(), natsHeaderCarrier(headers))

	return &nats.Msg{
		Subject: subject,
		Data:    msg.PayloadBytes(),
		Header:  headers,
	}
}

// LoadNatsMessage is the inverse of NewNatsMessage. The reply subject, if
// any, becomes the ReplyAddressHeader.
func LoadNatsMessage(natsMsg *nats.Msg) (*Message, error) {
	headers := natsMsg.Header
	if headers == nil {
		headers = make(nats.Header)
	}

	msg := &Message{
		payload: natsMsg.Data,
		headers: make(map[string]any),
		name:    headers.Get(NameHeader),
		msgType: MessageType(headers.Get(TypeHeader)),
	}
	if id := headers.Get(IDHeader); id != "" {
		msg.headers[IDHeader] = id
	}
	if ts := headers.Get(TimestampHeader); ts != "" {
		msg.headers[TimestampHeader] = toTime(ts)
	}
	msg.headerData = append(msg.headerData, headers.Values(HeaderDataHeader)...)

	for k, v := range headers {
		switch k {
		case IDHeader, TimestampHeader, NameHeader, TypeHeader, HeaderDataHeader,
			traceParentHeader, traceStateHeader,
			nats.MsgIdHdr, nats.ExpectedLastMsgIdHdr, nats.ExpectedStreamHdr, nats.ExpectedLastSubjSeqHdr, nats.ExpectedLastSeqHdr:
			continue
		default:
			if len(v) == 1 {
				msg.headers[k] = v[0]
			} else {
				return nil, fmt.Errorf("multiple values received in NATS header for %q: (%+v)", k, v)
			}
		}
	}

	if natsMsg.Subject != "" {
		msg.headers[SubjectHeader] = natsMsg.Subject
	}
	if natsMsg.Reply != "" {
		msg.headers[ReplyAddressHeader] = natsMsg.Reply
	}
	msg.ctx = ExtractContext(headers)
	msg.ensureIdentity(false)

	return msg, nil
}

// ExtractContext rebuilds the remote span context from W3C trace headers.
func ExtractContext(headers nats.Header) context.Context {
	return propagation.TraceContext{}.Extract(context.Background(), natsHeaderCarrier(headers))
}

// natsHeaderCarrier is a propagation.TextMapCarrier over nats.Header that
// keeps keys as they are.
type natsHeaderCarrier nats.Header

func (c natsHeaderCarrier) Get(key string) string {
	return nats.Header(c).Get(key)
}

func (c natsHeaderCarrier) Set(key, value string) {
	nats.Header(c).Set(key, value)
}

func (c natsHeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

var _ propagation.TextMapCarrier = natsHeaderCarrier(nil)
