package server

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/portal-chat/internal/stats"
	"github.com/npezzotti/portal-chat/internal/testutil"
	"github.com/npezzotti/portal-chat/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSSESink(t *testing.T) {
	rr := httptest.NewRecorder()

	sink, err := NewSSESink(rr)
	require.NoError(t, err)

	assert.Equal(t, "text/event-stream", rr.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache, no-store, must-revalidate", rr.Header().Get("Cache-Control"))
	assert.Equal(t, "keep-alive", rr.Header().Get("Connection"))
	assert.True(t, rr.Flushed, "expected headers to be flushed")

	require.NoError(t, sink.WriteEvent([]byte(`{"type":"unban","userId":"u1"}`)))
	require.NoError(t, sink.WritePing())

	assert.Equal(t, "data: {\"type\":\"unban\",\"userId\":\"u1\"}\n\n:ping\n\n", rr.Body.String())

	require.NoError(t, sink.Close())
	err = sink.WriteEvent([]byte("{}"))
	assert.ErrorIs(t, err, types.ErrTransport, "writes after close should fail")
}

type noFlushWriter struct {
	header http.Header
}

func (w *noFlushWriter) Header() http.Header         { return w.header }
func (w *noFlushWriter) Write(b []byte) (int, error) { return len(b), nil }
func (w *noFlushWriter) WriteHeader(int)             {}

func TestNewSSESink_FlushNotSupported(t *testing.T) {
	_, err := NewSSESink(&noFlushWriter{header: http.Header{}})
	assert.ErrorIs(t, err, types.ErrTransport)
}

func TestSSE_EndToEnd(t *testing.T) {
	r := newTestRegistry(t)
	b := NewBroadcaster(testutil.TestLogger(t), r, stats.NewPermissiveMock())

	registered := make(chan *Connection, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		sink, err := NewSSESink(w)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		c := r.Register(types.RoomScope("r1"), "", sink)
		registered <- c
		c.Serve(req.Context())
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(t.Context())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var c *Connection
	select {
	case c = <-registered:
	case <-time.After(time.Second):
		t.Fatal("connection was not registered")
	}

	require.NoError(t, b.Publish(types.RoomScope("r1"), types.NewSystemEvent("hi")))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "data: {\"type\":\"system\",\"message\":\"hi\"}\n", line)

	cancel()
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("expected connection cleanup after client disconnect")
	}
	assert.Equal(t, 0, r.Len())
}

func TestWebSocketSink(t *testing.T) {
	r := newTestRegistry(t)
	logger := testutil.TestLogger(t)

	registered := make(chan *Connection, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}

		sink := NewWebSocketSink(conn, logger, time.Hour)
		ctx, cancel := context.WithCancel(context.Background())
		go sink.ReadPump(cancel)

		c := r.Register(types.GlobalScope, "u1", sink)
		registered <- c
		c.Serve(ctx)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	var c *Connection
	select {
	case c = <-registered:
	case <-time.After(time.Second):
		t.Fatal("connection was not registered")
	}

	require.True(t, c.Enqueue([]byte(`{"type":"system","message":"ws"}`)))

	client.SetReadDeadline(time.Now().Add(time.Second))
	msgType, data, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, msgType)
	assert.Equal(t, `{"type":"system","message":"ws"}`, string(data))

	client.Close()
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("expected connection cleanup after peer close")
	}
	assert.Equal(t, 0, r.Len())
}
