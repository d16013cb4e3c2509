package handler

import (
	"net/http"

	"inkdown-collab/internal/logging"
	"inkdown-collab/internal/middleware"
	"inkdown-collab/internal/websocket"
	"inkdown-collab/pkg/jwt"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type WebSocketHandler struct {
	manager   *websocket.Manager
	jwtSecret string
	upgrader  ws.Upgrader
	logger    *zap.Logger
}

func NewWebSocketHandler(manager *websocket.Manager, jwtSecret string, origins *middleware.OriginPolicy, readBufferSize, writeBufferSize int, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		manager:   manager,
		jwtSecret: jwtSecret,
		upgrader: ws.Upgrader{
			ReadBufferSize:  readBufferSize,
			WriteBufferSize: writeBufferSize,
			CheckOrigin:     origins.CheckOrigin,
		},
		logger: logging.OrNop(logger),
	}
}

// HandleConnection authenticates with an access token from the token query
// parameter or the Authorization header, then hands the socket to the hub.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token, _ = middleware.BearerToken(r.Header.Get("Authorization"))
	}

	if token == "" {
		h.logger.Warn("websocket: missing authorization token", zap.String("remote", r.RemoteAddr))
		http.Error(w, "missing authorization token", http.StatusUnauthorized)
		return
	}

	claims, err := jwt.ValidateAccessToken(token, h.jwtSecret)
	if err != nil {
		h.logger.Warn("websocket: token validation failed", zap.Error(err))
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket: upgrade failed", zap.Error(err))
		return
	}

	userName := claims.UserName
	if userName == "" {
		userName = claims.UserID
	}

	client := websocket.NewClient(uuid.New().String(), claims.UserID, userName, conn, h.manager)

	select {
	case h.manager.Register <- client:
	case <-h.manager.Done():
		conn.Close()
		return
	}

	h.logger.Debug("websocket: connection upgraded",
		zap.String("client_id", client.ID), zap.String("user_id", client.UserID))

	go client.WritePump()
	go client.ReadPump()
}
