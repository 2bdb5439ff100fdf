package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ashureev/natal-chart/internal/identity"
	"github.com/coder/websocket"
)

const maxMessageBytes = 16 << 10

// Inbound consumes user input.
type Inbound interface {
	HandleText(ctx context.Context, userID, text string)
	HandleChoice(ctx context.Context, userID, choice string)
	Reject(ctx context.Context, userID, key string)
}

// wsMessage is a client frame.
type wsMessage struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// Handler upgrades requests to chat WebSockets.
type Handler struct {
	inbound       Inbound
	hub           *Hub
	limiter       *RateLimiter
	allowedOrigin string
	isDev         bool
	logger        *slog.Logger
}

// NewHandler creates a WebSocket chat handler. A nil limiter disables rate limiting.
func NewHandler(inbound Inbound, hub *Hub, limiter *RateLimiter, allowedOrigin string, isDev bool, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if limiter == nil {
		limiter = NewRateLimiter(0, 0)
	}
	return &Handler{
		inbound:       inbound,
		hub:           hub,
		limiter:       limiter,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
		logger:        logger,
	}
}

// ServeHTTP implements http.Handler for the WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	h.logger.Info("WebSocket connection request", "user_id", userID, "session_id", sessionID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()
	ws.SetReadLimit(maxMessageBytes)

	h.hub.Register(userID, sessionID, ws)
	defer h.hub.Unregister(userID, sessionID, ws)

	h.readLoop(r.Context(), ws, userID)
	h.logger.Info("Chat session ended", "user_id", userID, "session_id", sessionID)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, userID string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				h.logger.Debug("WebSocket closed", "user_id", userID)
			} else {
				h.logger.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			// Plain text frames are treated as chat text.
			msg = wsMessage{Type: "text", Content: string(data)}
		}
		h.hub.observer.ChatMessage("in", msg.Type)

		switch msg.Type {
		case "ping":
			if err := ws.Write(ctx, websocket.MessageText, []byte(`{"type":"pong"}`)); err != nil {
				h.logger.Debug("Failed to send pong", "error", err)
			}
		case "text", "choice":
			if !h.limiter.Allow(userID) {
				h.logger.Warn("Chat message rate limited", "user_id", userID)
				h.inbound.Reject(ctx, userID, "error.rate_limited")
				continue
			}
			if msg.Type == "text" {
				h.inbound.HandleText(ctx, userID, msg.Content)
			} else {
				h.inbound.HandleChoice(ctx, userID, msg.Content)
			}
		default:
			h.logger.Debug("Ignoring unknown message type", "type", msg.Type, "user_id", userID)
		}
	}
}
