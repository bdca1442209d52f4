package handlers

import (
	"context"
	"sync"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/plan-agent/backend/internal/router"
	"github.com/plan-agent/backend/internal/vision"
	"github.com/plan-agent/backend/pkg/logger"
)

// ProgressHub fans batch extraction progress out to websocket
// subscribers keyed by document ID. Publish never blocks: a slow
// subscriber misses intermediate events and catches up on the next one.
type ProgressHub struct {
	mu   sync.RWMutex
	subs map[string]map[chan vision.BatchProgress]struct{}
}

func NewProgressHub() *ProgressHub {
	return &ProgressHub{
		subs: make(map[string]map[chan vision.BatchProgress]struct{}),
	}
}

func (h *ProgressHub) Subscribe(documentID string) chan vision.BatchProgress {
	ch := make(chan vision.BatchProgress, 16)

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.subs[documentID] == nil {
		h.subs[documentID] = make(map[chan vision.BatchProgress]struct{})
	}
	h.subs[documentID][ch] = struct{}{}

	return ch
}

func (h *ProgressHub) Unsubscribe(documentID string, ch chan vision.BatchProgress) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if set, ok := h.subs[documentID]; ok {
		delete(set, ch)
		if len(set) == 0 {
			delete(h.subs, documentID)
		}
	}
}

func (h *ProgressHub) Publish(ev vision.BatchProgress) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subs[ev.DocumentID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

type WebSocketHandler struct {
	router *router.Router
	hub    *ProgressHub
}

func NewWebSocketHandler(r *router.Router, hub *ProgressHub) *WebSocketHandler {
	return &WebSocketHandler{
		router: r,
		hub:    hub,
	}
}

// HandleQuery answers routed queries over a persistent connection.
func (h *WebSocketHandler) HandleQuery(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var msg struct {
			Type      string `json:"type"`
			Query     string `json:"query"`
			ProjectID string `json:"project_id"`
		}

		err := c.ReadJSON(&msg)
		if err != nil {
			logger.Error("Failed to read WebSocket message", zap.Error(err))
			break
		}

		if msg.Type != "query" {
			continue
		}

		logger.Info("Processing WebSocket query", zap.String("query", msg.Query))

		err = h.streamResponse(c, msg.Query, msg.ProjectID)
		if err != nil {
			logger.Error("Failed to stream response", zap.Error(err))
			h.sendError(c, "Failed to process query")
		}
	}
}

// HandleVisionProgress streams batch extraction progress for one
// document until that document settles or the client disconnects. The
// batch path emits one event per document, so the stream closes after
// delivering the event for the subscribed ID.
func (h *WebSocketHandler) HandleVisionProgress(c *websocket.Conn) {
	documentID := c.Params("documentID")

	ch := h.hub.Subscribe(documentID)
	defer func() {
		h.hub.Unsubscribe(documentID, ch)
		c.Close()
	}()

	logger.Info("Progress stream opened", zap.String("document_id", documentID))

	// Reads only serve to detect the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev := <-ch:
			if err := c.WriteJSON(ev); err != nil {
				return
			}
			if ev.DocumentID == documentID {
				return
			}
		case <-closed:
			return
		}
	}
}

func (h *WebSocketHandler) streamResponse(c *websocket.Conn, queryText, projectID string) error {
	ctx := context.Background()

	h.sendStatus(c, "Routing query...")

	response, err := h.router.Route(ctx, router.Request{
		Query:     queryText,
		ProjectID: projectID,
	})
	if err != nil {
		return err
	}

	msg := map[string]interface{}{
		"type":       "complete",
		"message_id": response.ID,
		"method":     response.Method,
		"response":   response,
		"confidence": response.Confidence,
		"latency_ms": response.LatencyMS,
	}

	return c.WriteJSON(msg)
}

func (h *WebSocketHandler) sendStatus(c *websocket.Conn, content string) {
	msg := map[string]interface{}{
		"type":    "status",
		"content": content,
	}

	if err := c.WriteJSON(msg); err != nil {
		logger.Error("Failed to send status message", zap.Error(err))
	}
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) {
	msg := map[string]interface{}{
		"type":  "error",
		"error": errorMsg,
	}

	if err := c.WriteJSON(msg); err != nil {
		logger.Error("Failed to send error message", zap.Error(err))
	}
}
