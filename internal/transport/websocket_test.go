package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"inkdown-collab/internal/protocol"

	"github.com/go-playground/assert/v2"
	"github.com/gorilla/websocket"
)

type echoServer struct {
	server     *httptest.Server
	authHeader chan string
	received   chan protocol.Envelope
	conns      chan *websocket.Conn
}

func newEchoServer(t *testing.T, status int) *echoServer {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	es := &echoServer{
		authHeader: make(chan string, 1),
		received:   make(chan protocol.Envelope, 16),
		conns:      make(chan *websocket.Conn, 1),
	}
	es.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			http.Error(w, "rejected", status)
			return
		}
		es.authHeader <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		es.conns <- conn
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var env protocol.Envelope
			if err := json.Unmarshal(msg, &env); err == nil {
				es.received <- env
			}
		}
	}))
	t.Cleanup(es.server.Close)
	return es
}

func testSettings() *WebSocketSettings {
	s := DefaultWebSocketSettings()
	s.HandshakeTimeout = 2 * time.Second
	return s
}

func TestWebSocketURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "http://localhost:5001", want: "ws://localhost:5001/ws"},
		{in: "https://sync.example.com/", want: "wss://sync.example.com/ws"},
		{in: "ws://host/custom", want: "ws://host/custom"},
		{in: "ftp://host", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := WebSocketURL(tt.in)
			if tt.wantErr {
				assert.NotEqual(t, err, nil)
				return
			}
			assert.Equal(t, err, nil)
			assert.Equal(t, got, tt.want)
		})
	}
}

func TestWebSocketDialerAttachesBearerAndSends(t *testing.T) {
	es := newEchoServer(t, http.StatusOK)

	dialer, err := NewWebSocketDialer(es.server.URL, testSettings(), nil)
	assert.Equal(t, err, nil)

	session, err := dialer.Dial(context.Background(), "token-123")
	assert.Equal(t, err, nil)
	defer session.Close()

	assert.Equal(t, <-es.authHeader, "Bearer token-123")

	env, _ := protocol.NewEnvelope(protocol.EventJoinNote, &protocol.NoteRef{NoteID: "n1"})
	assert.Equal(t, session.Send(context.Background(), env), nil)

	select {
	case got := <-es.received:
		assert.Equal(t, got.Event, protocol.EventJoinNote)
		assert.Equal(t, got.ID, env.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("expected server to receive join_note")
	}
}

func TestWebSocketSessionSplitsBatchedFrames(t *testing.T) {
	es := newEchoServer(t, http.StatusOK)

	dialer, _ := NewWebSocketDialer(es.server.URL, testSettings(), nil)
	session, err := dialer.Dial(context.Background(), "token")
	assert.Equal(t, err, nil)
	defer session.Close()

	conn := <-es.conns
	first, _ := protocol.NewEnvelope(protocol.EventUserJoined, &protocol.UserPayload{UserID: "u1", UserName: "Ann"})
	second, _ := protocol.NewEnvelope(protocol.EventUserLeft, &protocol.UserPayload{UserID: "u1", UserName: "Ann"})
	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	frame := append(append(a, '\n'), b...)
	assert.Equal(t, conn.WriteMessage(websocket.TextMessage, frame), nil)

	for _, want := range []protocol.EventName{protocol.EventUserJoined, protocol.EventUserLeft} {
		select {
		case got := <-session.Inbound():
			assert.Equal(t, got.Event, want)
		case <-time.After(2 * time.Second):
			t.Fatalf("expected %s within deadline", want)
		}
	}
}

func TestWebSocketSessionDoneWhenServerCloses(t *testing.T) {
	es := newEchoServer(t, http.StatusOK)

	dialer, _ := NewWebSocketDialer(es.server.URL, testSettings(), nil)
	session, err := dialer.Dial(context.Background(), "token")
	assert.Equal(t, err, nil)

	conn := <-es.conns
	conn.Close()

	select {
	case <-session.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("expected session to end after server closed the connection")
	}
	assert.NotEqual(t, session.Err(), nil)

	env, _ := protocol.NewEnvelope(protocol.EventLeaveNote, &protocol.NoteRef{NoteID: "n1"})
	assert.Equal(t, session.Send(context.Background(), env), ErrClosed)
}

func TestWebSocketDialerRejected(t *testing.T) {
	es := newEchoServer(t, http.StatusUnauthorized)

	dialer, _ := NewWebSocketDialer(es.server.URL, testSettings(), nil)
	session, err := dialer.Dial(context.Background(), "expired")
	assert.NotEqual(t, err, nil)
	assert.Equal(t, session, nil)
}

func TestLoopbackSession(t *testing.T) {
	session, err := NewLoopbackDialer(nil).Dial(context.Background(), "")
	assert.Equal(t, err, nil)

	env, _ := protocol.NewEnvelope(protocol.EventContentChanges, &protocol.ContentChangesPayload{NoteID: "n1", Content: "x"})
	assert.Equal(t, session.Send(context.Background(), env), nil)

	select {
	case <-session.Inbound():
		t.Fatal("loopback must not deliver anything")
	case <-time.After(50 * time.Millisecond):
	}

	session.Close()
	assert.Equal(t, session.Send(context.Background(), env), ErrClosed)
	<-session.Done()
}
