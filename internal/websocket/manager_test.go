package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"inkdown-collab/internal/protocol"
)

func newTestManager(maxConn int) *Manager {
	return NewManager(Settings{
		MaxConnPerUser: maxConn,
		WriteWait:      time.Second,
		PongWait:       time.Minute,
		PingPeriod:     time.Minute,
	}, nil)
}

func newTestClient(m *Manager, id, userID string) *Client {
	c := NewClient(id, userID, userID+"-name", nil, m)
	if !m.registerClient(c) {
		return nil
	}
	return c
}

func drain(c *Client) []protocol.Envelope {
	var out []protocol.Envelope
	for {
		select {
		case raw, ok := <-c.Send:
			if !ok {
				return out
			}
			var env protocol.Envelope
			if err := json.Unmarshal(raw, &env); err == nil {
				out = append(out, env)
			}
		default:
			return out
		}
	}
}

func TestManager_MaxConnectionsPerUser(t *testing.T) {
	m := newTestManager(2)

	if newTestClient(m, "c1", "alice") == nil || newTestClient(m, "c2", "alice") == nil {
		t.Fatal("first two connections should register")
	}
	rejected := NewClient("c3", "alice", "alice", nil, m)
	if m.registerClient(rejected) {
		t.Error("third connection should be rejected")
	}
	if _, ok := <-rejected.Send; ok {
		t.Error("rejected client send channel should be closed")
	}
	if got := m.GetUserConnections("alice"); got != 2 {
		t.Errorf("GetUserConnections() = %d, want 2", got)
	}
}

func TestManager_BroadcastExcludesSender(t *testing.T) {
	m := newTestManager(5)
	alice := newTestClient(m, "c1", "alice")
	bob := newTestClient(m, "c2", "bob")
	carol := newTestClient(m, "c3", "carol")

	m.JoinRoom(alice, "note-1")
	m.JoinRoom(bob, "note-1")
	m.JoinRoom(carol, "note-2")

	env, _ := protocol.NewEnvelope(protocol.EventContentChanged, &protocol.ContentChangedPayload{NoteID: "note-1", Content: "x"})
	if err := m.BroadcastToRoom("note-1", env, alice.ID); err != nil {
		t.Fatalf("BroadcastToRoom() error = %v", err)
	}

	if got := drain(alice); len(got) != 0 {
		t.Errorf("sender received %d envelopes", len(got))
	}
	if got := drain(bob); len(got) != 1 || got[0].Event != protocol.EventContentChanged {
		t.Errorf("bob received %+v", got)
	}
	if got := drain(carol); len(got) != 0 {
		t.Errorf("other room received %d envelopes", len(got))
	}
}

func TestManager_JoinReportsFirstConnectionOfUser(t *testing.T) {
	m := newTestManager(5)
	laptop := newTestClient(m, "c1", "alice")
	phone := newTestClient(m, "c2", "alice")

	if !m.JoinRoom(laptop, "note-1") {
		t.Error("first connection of alice should be reported")
	}
	if m.JoinRoom(phone, "note-1") {
		t.Error("second connection of alice should not be reported")
	}
	if m.JoinRoom(laptop, "note-1") {
		t.Error("rejoining should not be reported")
	}
	if users := m.RoomUsers("note-1"); len(users) != 1 {
		t.Errorf("RoomUsers() = %+v, want one user", users)
	}
}

func TestManager_LeaveAnnouncesOnlyWhenUserGone(t *testing.T) {
	m := newTestManager(5)
	laptop := newTestClient(m, "c1", "alice")
	phone := newTestClient(m, "c2", "alice")
	bob := newTestClient(m, "c3", "bob")
	for _, c := range []*Client{laptop, phone, bob} {
		m.JoinRoom(c, "note-1")
	}

	if m.LeaveRoom(laptop, "note-1") {
		t.Error("alice is still present through another connection")
	}
	if got := drain(bob); len(got) != 0 {
		t.Errorf("bob received %+v", got)
	}

	if !m.LeaveRoom(phone, "note-1") {
		t.Error("alice's last connection left")
	}
	got := drain(bob)
	if len(got) != 1 || got[0].Event != protocol.EventUserLeft {
		t.Fatalf("bob received %+v, want user-left", got)
	}
	var p protocol.UserPayload
	got[0].UnmarshalPayload(&p)
	if p.UserID != "alice" || p.NoteID != "note-1" {
		t.Errorf("user-left payload = %+v", p)
	}
	if m.InRoom(phone, "note-1") {
		t.Error("phone still in room")
	}
}

func TestManager_UnregisterLeavesAllRooms(t *testing.T) {
	m := newTestManager(5)
	alice := newTestClient(m, "c1", "alice")
	bob := newTestClient(m, "c2", "bob")
	carol := newTestClient(m, "c3", "carol")
	m.JoinRoom(alice, "note-1")
	m.JoinRoom(alice, "note-2")
	m.JoinRoom(bob, "note-1")
	m.JoinRoom(carol, "note-2")

	m.unregisterClient(alice)

	for _, c := range []*Client{bob, carol} {
		got := drain(c)
		if len(got) != 1 || got[0].Event != protocol.EventUserLeft {
			t.Errorf("%s received %+v, want user-left", c.UserID, got)
		}
	}
	if _, ok := <-alice.Send; ok {
		t.Error("unregistered client send channel should be closed")
	}
	if m.GetUserConnections("alice") != 0 {
		t.Error("alice still indexed")
	}

	m.unregisterClient(alice)
}

func TestManager_SlowClientIsDropped(t *testing.T) {
	m := newTestManager(5)
	alice := newTestClient(m, "c1", "alice")
	slow := NewClient("c2", "bob", "bob", nil, m)
	slow.Send = make(chan []byte)
	m.registerClient(slow)
	m.JoinRoom(alice, "note-1")
	m.JoinRoom(slow, "note-1")

	env, _ := protocol.NewEnvelope(protocol.EventCursorMoved, &protocol.CursorMovedPayload{NoteID: "note-1"})
	m.BroadcastToRoom("note-1", env, alice.ID)

	if m.InRoom(slow, "note-1") || m.GetUserConnections("bob") != 0 {
		t.Error("slow client should be unregistered")
	}
	got := drain(alice)
	if len(got) != 1 || got[0].Event != protocol.EventUserLeft {
		t.Errorf("alice received %+v, want user-left", got)
	}
}

type recordingHandler struct {
	got chan *protocol.Envelope
}

func (h *recordingHandler) HandleWebSocketMessage(ctx context.Context, client *Client, env *protocol.Envelope) error {
	h.got <- env
	return nil
}

func TestManager_RunDispatchesMessages(t *testing.T) {
	m := newTestManager(5)
	h := &recordingHandler{got: make(chan *protocol.Envelope, 1)}
	m.SetMessageHandler(h)

	ctx, cancel := context.WithCancel(context.Background())
	go m.Run(ctx)

	c := NewClient("c1", "alice", "alice", nil, m)
	m.Register <- c

	raw, _ := json.Marshal(protocol.Envelope{Event: protocol.EventJoinNote, Payload: json.RawMessage(`{"noteId":"n1"}`)})
	m.HandleMessage <- &ClientMessage{Client: c, Message: []byte("not json")}
	m.HandleMessage <- &ClientMessage{Client: c, Message: raw}

	select {
	case env := <-h.got:
		if env.Event != protocol.EventJoinNote {
			t.Errorf("dispatched %s", env.Event)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message not dispatched")
	}

	cancel()
	select {
	case <-m.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
	// closeAll runs after done is closed.
	deadline := time.Now().Add(2 * time.Second)
	for m.GetUserConnections("alice") != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if m.GetUserConnections("alice") != 0 {
		t.Error("clients should be closed on shutdown")
	}
}
