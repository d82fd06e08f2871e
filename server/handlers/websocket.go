package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/nandipalleparthu-eng/saferoute-ai/server/assessor"
	"github.com/nandipalleparthu-eng/saferoute-ai/server/models"
	"github.com/nandipalleparthu-eng/saferoute-ai/server/state"
	"go.uber.org/zap"
)

type ClientMessage struct {
	Type  string          `json:"type"`
	Field string          `json:"field,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
}

type ServerMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// WebSocketHandler streams assessments and alerts to connected dashboards
// and accepts slider edits and manual triggers over the same socket. It is
// the assessor's EventSink.
type WebSocketHandler struct {
	holder   *state.Holder
	assessor *assessor.Assessor
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mutex   sync.RWMutex
	clients map[*wsClient]struct{}
}

type wsClient struct {
	conn *websocket.Conn
	send chan ServerMessage
}

func NewWebSocketHandler(holder *state.Holder, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		holder:  holder,
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// SetAssessor breaks the construction cycle: the assessor needs the handler
// as its event sink, the handler needs the assessor for manual triggers.
func (h *WebSocketHandler) SetAssessor(riskAssessor *assessor.Assessor) {
	h.assessor = riskAssessor
}

func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket connection", zap.Error(err))
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan ServerMessage, 32),
	}

	h.mutex.Lock()
	h.clients[client] = struct{}{}
	h.mutex.Unlock()

	h.logger.Info("Dashboard client connected", zap.String("client_ip", c.ClientIP()))

	go h.writePump(client)
	h.readLoop(client)
}

func (h *WebSocketHandler) readLoop(client *wsClient) {
	defer h.unregister(client)

	client.conn.SetReadLimit(64 * 1024)
	client.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	client.conn.SetPongHandler(func(appData string) error {
		client.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		var message ClientMessage
		if err := client.conn.ReadJSON(&message); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Error("WebSocket error", zap.Error(err))
			}
			return
		}
		h.handleMessage(client, &message)
	}
}

func (h *WebSocketHandler) handleMessage(client *wsClient, message *ClientMessage) {
	switch message.Type {
	case "assess":
		h.triggerAssessment(client)
	case "set_field":
		h.setField(client, message)
	case "ping":
		h.send(client, ServerMessage{Type: "pong", Data: map[string]any{"timestamp": time.Now().Unix()}})
	default:
		h.logger.Warn("Unknown message type received", zap.String("type", message.Type))
		h.sendError(client, "Unknown message type: "+message.Type)
	}
}

// triggerAssessment classifies the currently held reading. The result also
// reaches this client through the broadcast path; only failures are reported
// directly.
func (h *WebSocketHandler) triggerAssessment(client *wsClient) {
	if h.assessor == nil {
		h.sendError(client, "Assessor not ready")
		return
	}

	go func() {
		if _, err := h.assessor.Assess(context.Background(), h.holder.Snapshot()); err != nil {
			h.sendError(client, "Risk classification failed")
		}
	}()
}

func (h *WebSocketHandler) setField(client *wsClient, message *ClientMessage) {
	if message.Field == "driving_mode" {
		var raw string
		if err := json.Unmarshal(message.Value, &raw); err != nil {
			h.sendError(client, "Driving mode must be a string")
			return
		}
		mode, err := models.ParseDrivingMode(raw)
		if err != nil {
			h.sendError(client, err.Error())
			return
		}
		h.holder.SetMode(mode)
	} else {
		var value float64
		if err := json.Unmarshal(message.Value, &value); err != nil {
			h.sendError(client, "Sensor value must be a number")
			return
		}
		if err := h.holder.SetField(message.Field, value); err != nil {
			h.sendError(client, err.Error())
			return
		}
	}

	h.send(client, ServerMessage{Type: "reading", Data: h.holder.Snapshot()})
}

// NotifyAssessment implements assessor.EventSink.
func (h *WebSocketHandler) NotifyAssessment(assessment models.RiskAssessment) {
	h.broadcast(ServerMessage{Type: "assessment", Data: assessment})
}

// NotifyAlert implements assessor.EventSink. The dashboard turns these into
// the visual flash and warning tone.
func (h *WebSocketHandler) NotifyAlert(alert models.Alert) {
	h.broadcast(ServerMessage{Type: "alert", Data: alert})
}

func (h *WebSocketHandler) broadcast(message ServerMessage) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	for client := range h.clients {
		select {
		case client.send <- message:
		default:
			// Slow consumer; drop rather than stall the assessor.
		}
	}
}

func (h *WebSocketHandler) send(client *wsClient, message ServerMessage) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if _, registered := h.clients[client]; !registered {
		return
	}
	select {
	case client.send <- message:
	default:
	}
}

func (h *WebSocketHandler) sendError(client *wsClient, errorMsg string) {
	h.send(client, ServerMessage{Type: "error", Data: map[string]any{
		"message":   errorMsg,
		"timestamp": time.Now().Unix(),
	}})
}

func (h *WebSocketHandler) writePump(client *wsClient) {
	ticker := time.NewTicker(54 * time.Second)
	defer ticker.Stop()
	defer client.conn.Close()

	for {
		select {
		case message, ok := <-client.send:
			if !ok {
				return
			}
			client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.conn.WriteJSON(message); err != nil {
				h.logger.Error("Failed to send WebSocket message", zap.Error(err))
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *WebSocketHandler) unregister(client *wsClient) {
	h.mutex.Lock()
	if _, exists := h.clients[client]; exists {
		delete(h.clients, client)
		close(client.send)
	}
	h.mutex.Unlock()

	client.conn.Close()
}
