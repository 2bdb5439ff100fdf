// Package chat provides the WebSocket chat transport for the bot.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ashureev/natal-chart/internal/bot"
	"github.com/coder/websocket"
)

// ErrNoConnection is returned by Send when the user has no open connection.
var ErrNoConnection = errors.New("no active connection")

// Observer records chat traffic.
type Observer interface {
	ChatMessage(direction, msgType string)
}

type nopObserver struct{}

func (nopObserver) ChatMessage(string, string) {}

// Hub tracks open connections per user and tab session.
type Hub struct {
	mu       sync.RWMutex
	active   map[string]map[string]*websocket.Conn
	observer Observer
}

// NewHub creates an empty hub. A nil observer disables traffic accounting.
func NewHub(observer Observer) *Hub {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Hub{
		active:   make(map[string]map[string]*websocket.Conn),
		observer: observer,
	}
}

// Len returns the number of open connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, sessions := range h.active {
		n += len(sessions)
	}
	return n
}

// Register adds a connection, closing any previous one for the same tab.
func (h *Hub) Register(userID, sessionID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.active[userID]; !exists {
		h.active[userID] = make(map[string]*websocket.Conn)
	}
	if existing, exists := h.active[userID][sessionID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "session replaced")
	}
	h.active[userID][sessionID] = conn
	slog.Info("Chat session registered", "user_id", userID, "session_id", sessionID)
}

// Unregister removes a connection if it is still the current one for its tab.
func (h *Hub) Unregister(userID, sessionID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sessions, ok := h.active[userID]
	if !ok {
		return
	}
	if current, exists := sessions[sessionID]; exists && current == conn {
		delete(sessions, sessionID)
		if len(sessions) == 0 {
			delete(h.active, userID)
		}
		slog.Info("Chat session unregistered", "user_id", userID, "session_id", sessionID)
	}
}

// Send writes msg to every open tab of the user. It succeeds if at least one
// write succeeds.
func (h *Hub) Send(ctx context.Context, userID string, msg bot.Outbound) error {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.active[userID]))
	for _, c := range h.active[userID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	if len(conns) == 0 {
		return ErrNoConnection
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode outbound message: %w", err)
	}

	var errs []error
	for _, c := range conns {
		if err := c.Write(ctx, websocket.MessageText, data); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == len(conns) {
		return fmt.Errorf("send to %s: %w", userID, errors.Join(errs...))
	}
	h.observer.ChatMessage("out", msg.Type)
	return nil
}
