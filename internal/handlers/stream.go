package handlers

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/codebuildervaibhav/mediascribe/internal/events"
)

// StreamHandler pushes task progress to WebSocket clients.
type StreamHandler struct {
	engine       Engine
	pingInterval time.Duration
	logger       *zap.Logger
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(engine Engine, logger *zap.Logger) *StreamHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamHandler{
		engine:       engine,
		pingInterval: 30 * time.Second,
		logger:       logger,
	}
}

// Upgrade rejects plain HTTP requests on websocket routes.
func (h *StreamHandler) Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// Handle serves /ws/tasks (every task) and /ws/tasks/:id (one task). The
// per-task stream starts with the current record state. Clients may send
// "ping" and get {"type":"pong"} back.
func (h *StreamHandler) Handle(c *websocket.Conn) {
	defer c.Close()

	key := c.Params("id")
	if key == "" {
		key = events.AllTasks
	}
	// Subscribe first so nothing between the snapshot and the stream is lost.
	ch, unsubscribe := h.engine.Subscribe(key)
	defer unsubscribe()

	logger := h.logger.With(zap.String("subscription", key))
	logger.Debug("websocket connection established")

	if key != events.AllTasks {
		rec, err := h.engine.GetStatus(context.Background(), key)
		if err != nil {
			_ = c.WriteJSON(fiber.Map{"type": "error", "error": "Task not found", "code": CodeNotFound})
			return
		}
		if err := c.WriteJSON(events.FromRecord(rec)); err != nil {
			return
		}
	}

	pongs := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			messageType, message, err := c.ReadMessage()
			if err != nil {
				return
			}
			if messageType == websocket.TextMessage && isPing(message) {
				select {
				case pongs <- struct{}{}:
				default:
				}
			}
		}
	}()

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := c.WriteJSON(ev); err != nil {
				logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		case <-pongs:
			if err := c.WriteMessage(websocket.TextMessage, []byte(`{"type":"pong"}`)); err != nil {
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(5 * time.Second)
			if err := c.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-done:
			logger.Debug("websocket connection closed")
			return
		}
	}
}

// isPing accepts "ping" or {"type":"ping"}.
func isPing(message []byte) bool {
	text := strings.TrimSpace(string(message))
	if strings.EqualFold(text, "ping") {
		return true
	}
	var msg struct {
		Type string `json:"type"`
	}
	return json.Unmarshal(message, &msg) == nil && strings.EqualFold(msg.Type, "ping")
}
