package nats_exchange_flow

import (
	"archive/zip"
	"bytes"
	"io"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func zipContents(t *testing.T, data []byte) map[string]string {
	t.Helper()
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	out := make(map[string]string)
	for _, f := range r.File {
		rc, err := f.Open()
		require.NoError(t, err)
		content, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		out[f.Name] = string(content)
	}
	return out
}

func TestZipMessage(t *testing.T) {
	t.Run("ArchiveTree", func(t *testing.T) {
		msg, err := NewZipMessage(WithName("bundle"))
		require.NoError(t, err)
		msg.AddEntry(
			NewZipFile("readme.txt", []byte("hello")),
			NewZipDirectory("docs/", NewZipFile("a.txt", []byte("a"))),
		)

		contents := zipContents(t, msg.PayloadBytes())
		names := make([]string, 0, len(contents))
		for name := range contents {
			names = append(names, name)
		}
		sort.Strings(names)
		assert.Equal(t, []string{"docs/", "docs/a.txt", "readme.txt"}, names)
		assert.Equal(t, "hello", contents["readme.txt"])
		assert.Equal(t, "a", contents["docs/a.txt"])
		assert.Equal(t, "bundle", msg.Name())
	})

	t.Run("PayloadIsRebuiltOnEveryCall", func(t *testing.T) {
		msg, err := NewZipMessage()
		require.NoError(t, err)
		msg.AddEntry(NewZipFile("one.txt", []byte("1")))
		assert.Len(t, zipContents(t, msg.PayloadBytes()), 1)

		msg.AddEntry(NewZipFile("two.txt", []byte("2")))
		payload, ok := msg.Payload().([]byte)
		require.True(t, ok)
		assert.Len(t, zipContents(t, payload), 2)
	})

	t.Run("EntryWithoutName", func(t *testing.T) {
		msg, err := NewZipMessage()
		require.NoError(t, err)
		msg.AddEntry(&ZipEntry{Content: []byte("x")})
		_, err = msg.Archive()
		assert.Error(t, err)
		assert.Nil(t, msg.Payload())
	})

	t.Run("ToMessageKeepsIdentity", func(t *testing.T) {
		msg, err := NewZipMessage()
		require.NoError(t, err)
		msg.AddEntry(NewZipFile("one.txt", []byte("1")))

		plain, err := msg.ToMessage()
		require.NoError(t, err)
		assert.Equal(t, msg.ID(), plain.ID())
		assert.Equal(t, msg.PayloadBytes(), plain.PayloadBytes())
	})

	t.Run("ArchiveVisibleThroughMessage", func(t *testing.T) {
		msg, err := NewZipMessage()
		require.NoError(t, err)
		msg.AddEntry(NewZipFile("report.csv", []byte("a,b")))
		plain := msg.Message

		assert.Equal(t, "a,b", zipContents(t, plain.PayloadBytes())["report.csv"])
		asBytes, err := PayloadAs[[]byte](plain)
		require.NoError(t, err)
		assert.Equal(t, "a,b", zipContents(t, asBytes)["report.csv"])
		assert.Equal(t, "a,b", zipContents(t, NewNatsMessage("files", plain).Data)["report.csv"])

		data, err := plain.Marshal()
		require.NoError(t, err)
		decoded, err := UnmarshalMessage(data)
		require.NoError(t, err)
		assert.Equal(t, "a,b", zipContents(t, decoded.PayloadBytes())["report.csv"])
		assert.True(t, plain.Equals(decoded))
	})

	t.Run("ThroughQueue", func(t *testing.T) {
		q, err := NewQueue()
		require.NoError(t, err)
		msg, err := NewZipMessage()
		require.NoError(t, err)
		msg.AddEntry(NewZipFile("one.txt", []byte("1")))

		q.Send(msg.Message)
		msg.AddEntry(NewZipFile("two.txt", []byte("2")))

		received, ok := q.Receive(nil)
		require.True(t, ok)
		assert.Equal(t, msg.ID(), received.ID())
		assert.Equal(t, map[string]string{"one.txt": "1", "two.txt": "2"}, zipContents(t, received.PayloadBytes()))
	})

	t.Run("BrokenArchiveFailsMarshal", func(t *testing.T) {
		msg, err := NewZipMessage()
		require.NoError(t, err)
		msg.AddEntry(&ZipEntry{Content: []byte("x")})
		_, err = msg.Message.Marshal()
		assert.Error(t, err)
	})
}
