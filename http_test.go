package nats_exchange_flow

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runHttpServer(t *testing.T, timeout time.Duration, opts ...HttpServerOption) *HttpServer {
	t.Helper()
	server, err := NewHttpServer(newTestEndpointConfig(t, "127.0.0.1:0",
		WithEndpointName("http_server"), WithEndpointTimeout(timeout)), opts...)
	require.NoError(t, err)
	require.NoError(t, server.Run(context.Background()))
	t.Cleanup(func() { _ = server.Close(context.Background()) })
	require.NotEmpty(t, server.URL())
	return server
}

func newHttpClient(t *testing.T, server *HttpServer) *HttpClient {
	t.Helper()
	client, err := NewHttpClient(newTestEndpointConfig(t, server.URL(),
		WithEndpointName("http_client"), WithEndpointTimeout(2*time.Second)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close(context.Background()) })
	return client
}

func TestHttpExchange(t *testing.T) {
	t.Run("RequestReply", func(t *testing.T) {
		server := runHttpServer(t, 2*time.Second)
		client := newHttpClient(t, server)
		tctx := NewTestContext(context.Background())

		request := mustMessage(t, `{"id":1}`,
			WithHeader(HTTPRequestPath, "/echo"),
			WithHeader("X-Order", "1"),
		)
		require.NoError(t, client.Send(tctx, request))

		received, err := server.Receive(tctx, headerSelector(t, HTTPRequestPath+" = '/echo'"), time.Second)
		require.NoError(t, err)
		assert.Equal(t, http.MethodPost, received.HeaderString(HTTPMethodHeader))
		assert.Equal(t, "1", received.HeaderString("X-Order"))
		assert.Equal(t, `{"id":1}`, received.PayloadString())

		reply := mustMessage(t, "created",
			WithHeader(HTTPStatusCode, 201),
			WithHeader("X-Result", "ok"),
		)
		require.NoError(t, server.Send(tctx, reply))

		response, err := client.Receive(tctx, 2*time.Second)
		require.NoError(t, err)
		assert.Equal(t, "201", response.HeaderString(HTTPStatusCode))
		assert.Equal(t, "ok", response.HeaderString("X-Result"))
		assert.Equal(t, "created", response.PayloadString())
	})

	t.Run("ServerTimeout", func(t *testing.T) {
		server := runHttpServer(t, 200*time.Millisecond)
		client := newHttpClient(t, server)
		tctx := NewTestContext(context.Background())

		require.NoError(t, client.Send(tctx, mustMessage(t, "nobody answers", WithHeader(HTTPRequestPath, "/slow"))))

		response, err := client.Receive(tctx, 2*time.Second)
		require.NoError(t, err)
		assert.Equal(t, "504", response.HeaderString(HTTPStatusCode))
		assert.Contains(t, response.PayloadString(), "/slow")
	})

	t.Run("PathVariables", func(t *testing.T) {
		server := runHttpServer(t, 2*time.Second, WithHttpRoutes("/orders/{id}"))
		client := newHttpClient(t, server)
		tctx := NewTestContext(context.Background())

		require.NoError(t, client.Send(tctx, mustMessage(t, "",
			WithHeader(HTTPMethodHeader, http.MethodGet),
			WithHeader(HTTPRequestPath, "/orders/17"),
		)))

		received, err := server.Receive(tctx, nil, time.Second)
		require.NoError(t, err)
		assert.Equal(t, http.MethodGet, received.HeaderString(HTTPMethodHeader))
		assert.Equal(t, "17", received.HeaderString(HTTPPathVarPrefix+"id"))
		require.NoError(t, server.Send(tctx, mustMessage(t, "order 17")))

		response, err := client.Receive(tctx, 2*time.Second)
		require.NoError(t, err)
		assert.Equal(t, "200", response.HeaderString(HTTPStatusCode))
		assert.Equal(t, "order 17", response.PayloadString())
	})

	t.Run("UnknownRoute", func(t *testing.T) {
		server := runHttpServer(t, 2*time.Second, WithHttpRoutes("/orders/{id}"))
		client := newHttpClient(t, server)
		tctx := NewTestContext(context.Background())

		require.NoError(t, client.Send(tctx, mustMessage(t, "", WithHeader(HTTPRequestPath, "/customers"))))
		response, err := client.Receive(tctx, 2*time.Second)
		require.NoError(t, err)
		assert.Equal(t, "404", response.HeaderString(HTTPStatusCode))
		assert.Equal(t, 0, server.queue.Len())
	})

	t.Run("ConnectionRefused", func(t *testing.T) {
		listener, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		address := "http://" + listener.Addr().String()
		require.NoError(t, listener.Close())

		client, err := NewHttpClient(newTestEndpointConfig(t, address,
			WithEndpointName("http_client"), WithEndpointTimeout(2*time.Second)))
		require.NoError(t, err)
		t.Cleanup(func() { _ = client.Close(context.Background()) })
		tctx := NewTestContext(context.Background())

		require.NoError(t, client.Send(tctx, mustMessage(t, "ping", WithHeader(HTTPRequestPath, "/echo"))))

		started := time.Now()
		_, err = client.Receive(tctx, 2*time.Second)
		require.Error(t, err)
		assert.Less(t, time.Since(started), time.Second)

		var transportErr *TransportError
		require.True(t, errors.As(err, &transportErr))
		assert.Equal(t, http.MethodPost, transportErr.Op)
		assert.Equal(t, address+"/echo", transportErr.Destination)
		assert.False(t, IsReplyTimeout(err))

		_, err = client.Receive(tctx, 100*time.Millisecond)
		assert.True(t, IsReplyTimeout(err), "the failure is reported once")
	})

	t.Run("ServerSendBeforeReceive", func(t *testing.T) {
		server := runHttpServer(t, time.Second)
		err := server.Send(NewTestContext(context.Background()), mustMessage(t, "reply"))
		assert.ErrorIs(t, err, ErrCorrelationKeyNotFound)
	})

	t.Run("ServerReceiveTimeout", func(t *testing.T) {
		server := runHttpServer(t, time.Second)
		_, err := server.Receive(NewTestContext(context.Background()), nil, 50*time.Millisecond)
		assert.True(t, IsReplyTimeout(err))
	})
}
