// Package natstest runs an in-process NATS server with JetStream for tests.
package natstest

import (
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"
)

const readyTimeout = 5 * time.Second

// RunServer starts a server on a random port and stops it when the test ends.
func RunServer(t testing.TB) *server.Server {
	t.Helper()

	srv, err := server.NewServer(&server.Options{
		Host:      "127.0.0.1",
		Port:      server.RANDOM_PORT,
		NoLog:     true,
		NoSigs:    true,
		JetStream: true,
		StoreDir:  t.TempDir(),
	})
	require.NoError(t, err)

	go srv.Start()
	if !srv.ReadyForConnections(readyTimeout) {
		srv.Shutdown()
		t.Fatalf("nats server not ready within %s", readyTimeout)
	}
	t.Cleanup(func() {
		srv.Shutdown()
		srv.WaitForShutdown()
	})
	return srv
}

// Connect starts a server and returns a connection that is closed when the test ends.
func Connect(t testing.TB) *nats.Conn {
	t.Helper()

	srv := RunServer(t)
	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	return nc
}

// ConnectJetStream is Connect plus a JetStream context on the same connection.
func ConnectJetStream(t testing.TB) (*nats.Conn, jetstream.JetStream) {
	t.Helper()

	nc := Connect(t)
	js, err := jetstream.New(nc)
	require.NoError(t, err)
	return nc, js
}
