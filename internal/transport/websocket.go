package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"inkdown-collab/internal/logging"
	"inkdown-collab/internal/protocol"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type WebSocketSettings struct {
	HandshakeTimeout time.Duration
	WriteWait        time.Duration
	PongWait         time.Duration
	PingPeriod       time.Duration
	MaxMessageSize   int64
	SendBuffer       int
	InboundBuffer    int
}

func DefaultWebSocketSettings() *WebSocketSettings {
	return &WebSocketSettings{
		HandshakeTimeout: 10 * time.Second,
		WriteWait:        10 * time.Second,
		PongWait:         60 * time.Second,
		PingPeriod:       54 * time.Second,
		MaxMessageSize:   10485760,
		SendBuffer:       256,
		InboundBuffer:    256,
	}
}

type WebSocketDialer struct {
	url      string
	settings *WebSocketSettings
	dialer   *websocket.Dialer
	logger   *zap.Logger
}

// NewWebSocketDialer targets the /ws endpoint of serverURL. http and https
// URLs are rewritten to ws and wss.
func NewWebSocketDialer(serverURL string, settings *WebSocketSettings, logger *zap.Logger) (*WebSocketDialer, error) {
	wsURL, err := WebSocketURL(serverURL)
	if err != nil {
		return nil, err
	}
	if settings == nil {
		settings = DefaultWebSocketSettings()
	}

	return &WebSocketDialer{
		url:      wsURL,
		settings: settings,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: settings.HandshakeTimeout,
		},
		logger: logging.OrNop(logger),
	}, nil
}

func WebSocketURL(serverURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(serverURL))
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid server url scheme %q", u.Scheme)
	}

	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	return u.String(), nil
}

func (d *WebSocketDialer) Dial(ctx context.Context, credential string) (Session, error) {
	dialCtx, cancel := context.WithTimeout(ctx, d.settings.HandshakeTimeout)
	defer cancel()

	header := http.Header{}
	if credential != "" {
		header.Set("Authorization", "Bearer "+credential)
	}

	conn, resp, err := d.dialer.DialContext(dialCtx, d.url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", d.url, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", d.url, err)
	}

	s := &wsSession{
		conn:     conn,
		settings: d.settings,
		logger:   d.logger,
		send:     make(chan []byte, d.settings.SendBuffer),
		inbound:  make(chan *protocol.Envelope, d.settings.InboundBuffer),
		done:     make(chan struct{}),
	}
	go s.writePump()
	go s.readPump()

	return s, nil
}

type wsSession struct {
	conn     *websocket.Conn
	settings *WebSocketSettings
	logger   *zap.Logger

	send    chan []byte
	inbound chan *protocol.Envelope
	done    chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	err       error
}

func (s *wsSession) Send(ctx context.Context, env *protocol.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", env.Event, err)
	}

	select {
	case <-s.done:
		return ErrClosed
	default:
	}

	select {
	case s.send <- data:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *wsSession) Inbound() <-chan *protocol.Envelope { return s.inbound }

func (s *wsSession) Done() <-chan struct{} { return s.done }

func (s *wsSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *wsSession) Close() error {
	s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(s.settings.WriteWait),
	)
	s.shutdown(nil)
	return nil
}

func (s *wsSession) shutdown(err error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
		s.conn.Close()
	})
}

func (s *wsSession) readPump() {
	var readErr error
	defer func() {
		s.shutdown(readErr)
		close(s.inbound)
	}()

	s.conn.SetReadLimit(s.settings.MaxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(s.settings.PongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(s.settings.PongWait))
		return nil
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.logger.Warn("websocket read failed", zap.Error(err))
				}
				readErr = err
			}
			return
		}

		// The relay may batch several envelopes into one frame, one per line.
		for _, line := range bytes.Split(message, []byte{'\n'}) {
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			var env protocol.Envelope
			if err := json.Unmarshal(line, &env); err != nil {
				s.logger.Warn("dropping malformed frame", zap.Error(err))
				continue
			}
			select {
			case s.inbound <- &env:
			case <-s.done:
				return
			}
		}
	}
}

func (s *wsSession) writePump() {
	ticker := time.NewTicker(s.settings.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return

		case message := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(s.settings.WriteWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.logger.Warn("websocket write failed", zap.Error(err))
				s.shutdown(err)
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(s.settings.WriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.shutdown(err)
				return
			}
		}
	}
}
