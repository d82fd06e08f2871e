package handlers

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/nandipalleparthu-eng/saferoute-ai/server/assessor"
	"github.com/nandipalleparthu-eng/saferoute-ai/server/models"
	"github.com/nandipalleparthu-eng/saferoute-ai/server/state"
	"go.uber.org/zap"
)

func wsFixture(t *testing.T, classifier assessor.Classifier) (*WebSocketHandler, *websocket.Conn, func()) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	holder := state.NewHolder(models.SensorReading{
		LeftClearance:  120,
		RightClearance: 115,
		ClosingSpeed:   0.5,
		VehicleSpeed:   45,
		DrivingMode:    models.ModeTraffic,
	})
	wsHandler := NewWebSocketHandler(holder, logger)
	wsHandler.SetAssessor(assessor.New(classifier, nil, 0, wsHandler, logger))

	router := gin.New()
	router.GET("/ws", wsHandler.HandleWebSocket)
	server := httptest.NewServer(router)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		server.Close()
		t.Fatalf("failed to dial websocket: %v", err)
	}

	return wsHandler, conn, func() {
		conn.Close()
		server.Close()
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) ServerMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var message ServerMessage
	if err := conn.ReadJSON(&message); err != nil {
		t.Fatalf("failed to read message: %v", err)
	}
	return message
}

func TestWebSocketPing(t *testing.T) {
	_, conn, cleanup := wsFixture(t, &stubClassifier{})
	defer cleanup()

	if err := conn.WriteJSON(ClientMessage{Type: "ping"}); err != nil {
		t.Fatalf("failed to send ping: %v", err)
	}

	if message := readMessage(t, conn); message.Type != "pong" {
		t.Errorf("reply type = %q, want pong", message.Type)
	}
}

func TestWebSocketSetField(t *testing.T) {
	_, conn, cleanup := wsFixture(t, &stubClassifier{})
	defer cleanup()

	if err := conn.WriteJSON(map[string]any{"type": "set_field", "field": "vehicle_speed", "value": 88}); err != nil {
		t.Fatalf("failed to send set_field: %v", err)
	}

	message := readMessage(t, conn)
	if message.Type != "reading" {
		t.Fatalf("reply type = %q, want reading", message.Type)
	}
	data, ok := message.Data.(map[string]any)
	if !ok {
		t.Fatalf("reading payload is %T", message.Data)
	}
	if data["vehicle_speed"] != 88.0 {
		t.Errorf("vehicle_speed = %v, want 88", data["vehicle_speed"])
	}
}

func TestWebSocketUnknownType(t *testing.T) {
	_, conn, cleanup := wsFixture(t, &stubClassifier{})
	defer cleanup()

	if err := conn.WriteJSON(ClientMessage{Type: "selfdestruct"}); err != nil {
		t.Fatalf("failed to send message: %v", err)
	}

	if message := readMessage(t, conn); message.Type != "error" {
		t.Errorf("reply type = %q, want error", message.Type)
	}
}

func TestWebSocketAssessBroadcastsAssessmentAndAlert(t *testing.T) {
	_, conn, cleanup := wsFixture(t, &stubClassifier{
		verdict: models.RiskVerdict{RiskLevel: models.RiskHigh, Explanation: "left wall closing"},
	})
	defer cleanup()

	if err := conn.WriteJSON(ClientMessage{Type: "assess"}); err != nil {
		t.Fatalf("failed to send assess: %v", err)
	}

	// A HIGH verdict produces an assessment event followed by an alert.
	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		message := readMessage(t, conn)
		seen[message.Type] = true
	}
	if !seen["assessment"] || !seen["alert"] {
		t.Errorf("received %v, want assessment and alert", seen)
	}
}
