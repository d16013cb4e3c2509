package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"inkdown-collab/internal/logging"
	"inkdown-collab/internal/protocol"

	"go.uber.org/zap"
)

type ClientMessage struct {
	Client  *Client
	Message []byte
}

// Manager is the relay hub. It tracks connected clients per user and the
// note rooms each client has joined.
type Manager struct {
	clients        map[string]*Client
	userIndex      map[string]map[string]bool
	rooms          map[string]map[string]*Client
	clientsMutex   sync.RWMutex
	Register       chan *Client
	Unregister     chan *Client
	HandleMessage  chan *ClientMessage
	maxConnPerUser int
	maxMessageSize int64
	writeWait      time.Duration
	pongWait       time.Duration
	pingPeriod     time.Duration
	messageHandler MessageHandler
	logger         *zap.Logger
	done           chan struct{}
}

type MessageHandler interface {
	HandleWebSocketMessage(ctx context.Context, client *Client, env *protocol.Envelope) error
}

type Settings struct {
	MaxConnPerUser int
	MaxMessageSize int64
	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
}

func NewManager(settings Settings, logger *zap.Logger) *Manager {
	return &Manager{
		clients:        make(map[string]*Client),
		userIndex:      make(map[string]map[string]bool),
		rooms:          make(map[string]map[string]*Client),
		Register:       make(chan *Client),
		Unregister:     make(chan *Client),
		HandleMessage:  make(chan *ClientMessage),
		maxConnPerUser: settings.MaxConnPerUser,
		maxMessageSize: settings.MaxMessageSize,
		writeWait:      settings.WriteWait,
		pongWait:       settings.PongWait,
		pingPeriod:     settings.PingPeriod,
		logger:         logging.OrNop(logger),
		done:           make(chan struct{}),
	}
}

func (m *Manager) SetMessageHandler(handler MessageHandler) {
	m.messageHandler = handler
}

// Run serves the hub until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(m.done)
			m.closeAll()
			return

		case client := <-m.Register:
			m.registerClient(client)

		case client := <-m.Unregister:
			m.unregisterClient(client)

		case clientMsg := <-m.HandleMessage:
			m.processMessage(ctx, clientMsg)
		}
	}
}

// Done is closed once Run has returned.
func (m *Manager) Done() <-chan struct{} { return m.done }

func (m *Manager) registerClient(client *Client) bool {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	if m.userIndex[client.UserID] == nil {
		m.userIndex[client.UserID] = make(map[string]bool)
	}

	if m.maxConnPerUser > 0 && len(m.userIndex[client.UserID]) >= m.maxConnPerUser {
		m.logger.Warn("max connections reached", zap.String("user_id", client.UserID))
		if len(m.userIndex[client.UserID]) == 0 {
			delete(m.userIndex, client.UserID)
		}
		close(client.Send)
		return false
	}

	m.clients[client.ID] = client
	m.userIndex[client.UserID][client.ID] = true

	m.logger.Info("client registered",
		zap.String("client_id", client.ID),
		zap.String("user_id", client.UserID))
	return true
}

// unregisterClient drops the client from every room it joined and tells the
// remaining members the user left.
func (m *Manager) unregisterClient(client *Client) {
	m.clientsMutex.Lock()
	if _, ok := m.clients[client.ID]; !ok {
		m.clientsMutex.Unlock()
		return
	}

	delete(m.clients, client.ID)
	delete(m.userIndex[client.UserID], client.ID)
	if len(m.userIndex[client.UserID]) == 0 {
		delete(m.userIndex, client.UserID)
	}

	var departed []string
	for noteID := range client.rooms {
		if m.leaveLocked(client, noteID) {
			departed = append(departed, noteID)
		}
	}
	close(client.Send)
	m.clientsMutex.Unlock()

	m.logger.Info("client unregistered", zap.String("client_id", client.ID))

	for _, noteID := range departed {
		m.announceLeave(client, noteID)
	}
}

func (m *Manager) closeAll() {
	m.clientsMutex.RLock()
	clients := make([]*Client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	m.clientsMutex.RUnlock()

	for _, c := range clients {
		m.unregisterClient(c)
	}
}

func (m *Manager) processMessage(ctx context.Context, clientMsg *ClientMessage) {
	var env protocol.Envelope
	if err := json.Unmarshal(clientMsg.Message, &env); err != nil {
		m.logger.Warn("error unmarshaling message",
			zap.String("client_id", clientMsg.Client.ID), zap.Error(err))
		return
	}

	if m.messageHandler != nil {
		if err := m.messageHandler.HandleWebSocketMessage(ctx, clientMsg.Client, &env); err != nil {
			m.logger.Warn("error handling message",
				zap.String("event", string(env.Event)),
				zap.String("client_id", clientMsg.Client.ID),
				zap.Error(err))
		}
	}
}

// JoinRoom adds client to the room for noteID. It reports whether the
// client's user was not present in the room through any connection before.
func (m *Manager) JoinRoom(client *Client, noteID string) bool {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	if _, ok := m.clients[client.ID]; !ok {
		return false
	}

	room := m.rooms[noteID]
	if room == nil {
		room = make(map[string]*Client)
		m.rooms[noteID] = room
	}
	if _, ok := room[client.ID]; ok {
		return false
	}

	firstForUser := !m.userInRoomLocked(noteID, client.UserID, client.ID)
	room[client.ID] = client
	client.rooms[noteID] = struct{}{}
	return firstForUser
}

// LeaveRoom removes client from the room for noteID and announces the
// departure when no other connection of the same user remains.
func (m *Manager) LeaveRoom(client *Client, noteID string) bool {
	m.clientsMutex.Lock()
	left := m.leaveLocked(client, noteID)
	m.clientsMutex.Unlock()

	if left {
		m.announceLeave(client, noteID)
	}
	return left
}

// leaveLocked reports whether the user is now gone from the room entirely.
func (m *Manager) leaveLocked(client *Client, noteID string) bool {
	room := m.rooms[noteID]
	if _, ok := room[client.ID]; !ok {
		return false
	}

	delete(room, client.ID)
	delete(client.rooms, noteID)
	if len(room) == 0 {
		delete(m.rooms, noteID)
		return true
	}
	return !m.userInRoomLocked(noteID, client.UserID, "")
}

func (m *Manager) announceLeave(client *Client, noteID string) {
	env, err := protocol.NewEnvelope(protocol.EventUserLeft, &protocol.UserPayload{
		NoteID:   noteID,
		UserID:   client.UserID,
		UserName: client.UserName,
	})
	if err != nil {
		m.logger.Error("failed to build user-left", zap.Error(err))
		return
	}
	m.BroadcastToRoom(noteID, env, client.ID)
}

func (m *Manager) userInRoomLocked(noteID, userID, excludeClientID string) bool {
	for id, c := range m.rooms[noteID] {
		if id != excludeClientID && c.UserID == userID {
			return true
		}
	}
	return false
}

func (m *Manager) InRoom(client *Client, noteID string) bool {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	_, ok := m.rooms[noteID][client.ID]
	return ok
}

// RoomUsers lists the distinct users connected to the room for noteID.
func (m *Manager) RoomUsers(noteID string) []protocol.UserPayload {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	seen := make(map[string]bool)
	users := make([]protocol.UserPayload, 0, len(m.rooms[noteID]))
	for _, c := range m.rooms[noteID] {
		if seen[c.UserID] {
			continue
		}
		seen[c.UserID] = true
		users = append(users, protocol.UserPayload{
			NoteID:   noteID,
			UserID:   c.UserID,
			UserName: c.UserName,
		})
	}
	return users
}

// BroadcastToRoom queues env for every member of the room except
// excludeClientID. Members whose send buffer is full are disconnected.
func (m *Manager) BroadcastToRoom(noteID string, env *protocol.Envelope, excludeClientID string) error {
	messageBytes, err := json.Marshal(env)
	if err != nil {
		return err
	}

	var slow []*Client
	m.clientsMutex.RLock()
	for clientID, client := range m.rooms[noteID] {
		if clientID == excludeClientID {
			continue
		}
		select {
		case client.Send <- messageBytes:
		default:
			slow = append(slow, client)
		}
	}
	m.clientsMutex.RUnlock()

	for _, client := range slow {
		m.logger.Warn("client send buffer full, closing connection",
			zap.String("client_id", client.ID))
		m.unregisterClient(client)
	}

	return nil
}

func (m *Manager) SendToClient(clientID string, env *protocol.Envelope) error {
	messageBytes, err := json.Marshal(env)
	if err != nil {
		return err
	}

	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	client, exists := m.clients[clientID]
	if !exists {
		return nil
	}

	select {
	case client.Send <- messageBytes:
	default:
		m.logger.Warn("client send buffer full", zap.String("client_id", clientID))
	}

	return nil
}

func (m *Manager) GetUserConnections(userID string) int {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	if clients, exists := m.userIndex[userID]; exists {
		return len(clients)
	}
	return 0
}
