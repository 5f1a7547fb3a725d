package nats_exchange_flow

import (
	"context"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestNatsMessage(t *testing.T) {
	t.Run("RoundTrip", func(t *testing.T) {
		msg := mustMessage(t, `{"id":1}`,
			WithName("order"),
			WithHeader("operation", "create"),
			WithHeader(ReplyAddressHeader, "ignored"),
			WithHeaderData("<h1/>", "<h2/>"),
		)

		natsMsg := NewNatsMessage("svc.orders", msg)
		assert.Equal(t, "svc.orders", natsMsg.Subject)
		assert.Equal(t, msg.ID(), natsMsg.Header.Get(IDHeader))
		assert.Empty(t, natsMsg.Header.Get(ReplyAddressHeader))
		assert.Equal(t, []string{"<h1/>", "<h2/>"}, natsMsg.Header.Values(HeaderDataHeader))

		loaded, err := LoadNatsMessage(natsMsg)
		require.NoError(t, err)
		assert.Equal(t, msg.ID(), loaded.ID())
		assert.Equal(t, msg.Timestamp().UnixMilli(), loaded.Timestamp().UnixMilli())
		assert.Equal(t, "order", loaded.Name())
		assert.Equal(t, MessageTypeJSON, loaded.Type())
		assert.Equal(t, "create", loaded.HeaderString("operation"))
		assert.Equal(t, "svc.orders", loaded.HeaderString(SubjectHeader))
		assert.Equal(t, []string{"<h1/>", "<h2/>"}, loaded.HeaderData())
		assert.Equal(t, `{"id":1}`, loaded.PayloadString())
		_, ok := loaded.Header(ReplyAddressHeader)
		assert.False(t, ok)
	})

	t.Run("ReplySubjectBecomesReplyAddress", func(t *testing.T) {
		natsMsg := NewNatsMessage("svc.echo", mustMessage(t, "ping"))
		natsMsg.Reply = "_INBOX.abc"
		loaded, err := LoadNatsMessage(natsMsg)
		require.NoError(t, err)
		assert.Equal(t, "_INBOX.abc", loaded.HeaderString(ReplyAddressHeader))
	})

	t.Run("ForeignMessageGetsIdentity", func(t *testing.T) {
		loaded, err := LoadNatsMessage(&nats.Msg{Subject: "raw", Data: []byte("hi")})
		require.NoError(t, err)
		assert.NotEmpty(t, loaded.ID())
		assert.False(t, loaded.Timestamp().IsZero())
		assert.Equal(t, "hi", loaded.PayloadString())
	})

	t.Run("MultiValueHeaderIsRejected", func(t *testing.T) {
		natsMsg := &nats.Msg{Subject: "raw", Header: nats.Header{}}
		natsMsg.Header.Add("k", "a")
		natsMsg.Header.Add("k", "b")
		_, err := LoadNatsMessage(natsMsg)
		assert.Error(t, err)
	})

	t.Run("TraceContextPropagates", func(t *testing.T) {
		traceState, err := trace.ParseTraceState("vendor=abc")
		require.NoError(t, err)
		sc := trace.NewSpanContext(trace.SpanContextConfig{
			TraceID:    trace.TraceID{0x0a, 0x0b, 0x0c, 0x0d, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x10, 0x11, 0x12},
			SpanID:     trace.SpanID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08},
			TraceFlags: trace.FlagsSampled,
			TraceState: traceState,
		})
		msg := mustMessage(t, "ping")
		msg.SetContext(trace.ContextWithSpanContext(context.Background(), sc))

		natsMsg := NewNatsMessage("svc.echo", msg)
		assert.NotEmpty(t, natsMsg.Header.Get(traceParentHeader))

		loaded, err := LoadNatsMessage(natsMsg)
		require.NoError(t, err)
		remote := trace.SpanContextFromContext(loaded.Context())
		assert.True(t, remote.IsRemote())
		assert.Equal(t, sc.TraceID(), remote.TraceID())
		assert.Equal(t, sc.SpanID(), remote.SpanID())
		assert.True(t, remote.IsSampled())
		assert.Equal(t, "vendor=abc", remote.TraceState().String())
		_, ok := loaded.Header(traceStateHeader)
		assert.False(t, ok)
	})
}

func TestExtractContext(t *testing.T) {
	tests := []struct {
		name        string
		traceparent string
		valid       bool
	}{
		{"empty", "", false},
		{"valid", "00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01", true},
		{"upper case", "00-0AF7651916CD43DD8448EB211C80319C-B7AD6B7169203331-01", false},
		{"short trace id", "00-0af7651916cd43dd-b7ad6b7169203331-01", false},
		{"zero trace id", "00-00000000000000000000000000000000-b7ad6b7169203331-01", false},
		{"version 0 extra field", "00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01-xx", false},
		{"future version extra field", "01-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01-xx", true},
		{"version ff", "ff-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := nats.Header{}
			if tt.traceparent != "" {
				headers.Set(traceParentHeader, tt.traceparent)
			}
			sc := trace.SpanContextFromContext(ExtractContext(headers))
			assert.Equal(t, tt.valid, sc.IsValid())
		})
	}
}
