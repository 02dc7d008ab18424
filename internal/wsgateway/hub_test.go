package wsgateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mohamedkhairy/indicator-engine/internal/config"
	"github.com/mohamedkhairy/indicator-engine/internal/distribution"
	"github.com/mohamedkhairy/indicator-engine/internal/models"
)

var hubStart = time.Date(2024, 1, 2, 14, 30, 0, 0, time.UTC)

type fakeSource struct {
	indicators map[string][]models.IndicatorPoint
}

func (f *fakeSource) Snapshot() models.SnapshotMessage {
	return models.NewSnapshotMessage("MSFT", "1m", nil, f.indicators)
}

func (f *fakeSource) Outputs(id string) ([]string, bool) {
	if _, ok := f.indicators[id]; !ok {
		return nil, false
	}
	return []string{"value"}, true
}

func point(minute int, v float64) models.IndicatorPoint {
	return models.IndicatorPoint{
		Time:   hubStart.Add(time.Duration(minute) * time.Minute),
		Values: models.Values{"value": models.Number(v)},
	}
}

func testHubConfig() config.WSGatewayConfig {
	return config.WSGatewayConfig{
		ReadTimeout:    5 * time.Second,
		WriteTimeout:   time.Second,
		PingInterval:   time.Second,
		MaxConnections: 10,
		SendBuffer:     16,
	}
}

func startHub(t *testing.T, cfg config.WSGatewayConfig) (*Hub, *httptest.Server) {
	t.Helper()
	source := &fakeSource{indicators: map[string][]models.IndicatorPoint{
		"ema": {point(0, 1), point(1, 2)},
		"rsi": {point(1, 55)},
	}}
	hub := NewHub(cfg, source)
	if err := hub.Start(); err != nil {
		t.Fatalf("Failed to start hub: %v", err)
	}
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		srv.Close()
		hub.Stop()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readJSON(t *testing.T, ws *websocket.Conn, v interface{}) {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := ws.ReadJSON(v); err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
}

func TestHub_SnapshotThenUpdates(t *testing.T) {
	hub, srv := startHub(t, testHubConfig())
	ws := dial(t, srv)

	var snap models.SnapshotMessage
	readJSON(t, ws, &snap)
	if snap.Type != models.MessageTypeSnapshot {
		t.Fatalf("Expected snapshot first, got %s", snap.Type)
	}
	if len(snap.Indicators["ema"]) != 2 || len(snap.Indicators["rsi"]) != 1 {
		t.Errorf("Unexpected snapshot indicators: %v", snap.Indicators)
	}

	update := models.IndicatorUpdate{IndicatorID: "ema", Points: []models.IndicatorPoint{point(2, 3)}, Partial: true}
	if err := hub.Broadcast(update); err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}

	var msg models.UpdateMessage
	readJSON(t, ws, &msg)
	if msg.Type != models.MessageTypeUpdate || msg.IndicatorID != "ema" || !msg.Partial {
		t.Errorf("Unexpected update: %+v", msg)
	}
	if len(msg.Points) != 1 || msg.Points[0].Values["value"] != models.Number(3) {
		t.Errorf("Unexpected points: %+v", msg.Points)
	}

	stats := hub.GetStats()
	if stats.ConnectionsActive != 1 || stats.MessagesSent != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestHub_SubscriptionFilter(t *testing.T) {
	hub, srv := startHub(t, testHubConfig())
	ws := dial(t, srv)

	var snap models.SnapshotMessage
	readJSON(t, ws, &snap)

	if err := ws.WriteJSON(ClientMessage{Type: "subscribe", IndicatorID: "rsi"}); err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}
	var ack ServerMessage
	readJSON(t, ws, &ack)
	if ack.Type != "success" || ack.Action != "subscribed" {
		t.Fatalf("Unexpected ack: %+v", ack)
	}

	hub.Broadcast(models.IndicatorUpdate{IndicatorID: "ema", Points: []models.IndicatorPoint{point(2, 3)}})
	hub.Broadcast(models.IndicatorUpdate{IndicatorID: "rsi", Points: []models.IndicatorPoint{point(2, 60)}})

	var msg models.UpdateMessage
	readJSON(t, ws, &msg)
	if msg.IndicatorID != "rsi" {
		t.Errorf("Expected only rsi updates, got %s", msg.IndicatorID)
	}

	// a requested snapshot honours the filter
	if err := ws.WriteJSON(ClientMessage{Type: "snapshot"}); err != nil {
		t.Fatalf("Failed to request snapshot: %v", err)
	}
	var filtered models.SnapshotMessage
	readJSON(t, ws, &filtered)
	if _, ok := filtered.Indicators["ema"]; ok || len(filtered.Indicators["rsi"]) != 1 {
		t.Errorf("Expected filtered snapshot, got %v", filtered.Indicators)
	}

	if err := ws.WriteJSON(ClientMessage{Type: "subscribe", IndicatorID: "nope"}); err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}
	var errMsg models.ErrorMessage
	readJSON(t, ws, &errMsg)
	if errMsg.Code != CodeUnknownIndicator {
		t.Errorf("Expected %s, got %+v", CodeUnknownIndicator, errMsg)
	}
}

func TestHub_InvalidClientMessage(t *testing.T) {
	_, srv := startHub(t, testHubConfig())
	ws := dial(t, srv)

	var snap models.SnapshotMessage
	readJSON(t, ws, &snap)

	if err := ws.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
	var errMsg models.ErrorMessage
	readJSON(t, ws, &errMsg)
	if errMsg.Code != CodeInvalidMessage {
		t.Errorf("Expected %s, got %+v", CodeInvalidMessage, errMsg)
	}
}

func TestHub_MaxConnections(t *testing.T) {
	cfg := testHubConfig()
	cfg.MaxConnections = 1
	_, srv := startHub(t, cfg)

	ws := dial(t, srv)
	var snap models.SnapshotMessage
	readJSON(t, ws, &snap)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("Expected second connection to be rejected")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %v", resp)
	}
}

func TestHub_AttachToChannel(t *testing.T) {
	hub, srv := startHub(t, testHubConfig())
	ch := distribution.NewChannel(distribution.Config{Capacity: 1})
	hub.Attach(ch)

	ws := dial(t, srv)
	var snap models.SnapshotMessage
	readJSON(t, ws, &snap)

	// overflow: the first update is dropped and reported
	ch.Publish(models.IndicatorUpdate{IndicatorID: "ema", Points: []models.IndicatorPoint{point(2, 3)}})
	ch.Publish(models.IndicatorUpdate{IndicatorID: "ema", Points: []models.IndicatorPoint{point(3, 4)}})

	var errMsg models.ErrorMessage
	readJSON(t, ws, &errMsg)
	if errMsg.Type != models.MessageTypeError || errMsg.Code != "update_dropped" {
		t.Errorf("Expected dropped-update error, got %+v", errMsg)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := ch.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	var msg models.UpdateMessage
	readJSON(t, ws, &msg)
	if msg.IndicatorID != "ema" || len(msg.Points) != 1 || !msg.Points[0].Time.Equal(hubStart.Add(3*time.Minute)) {
		t.Errorf("Unexpected update: %+v", msg)
	}
}

func TestHub_RegisterQueuesSnapshot(t *testing.T) {
	hub := NewHub(testHubConfig(), &fakeSource{indicators: map[string][]models.IndicatorPoint{"ema": {point(0, 1)}}})
	conn := NewConnection("conn-1", nil, 4)
	hub.Register(conn)

	var snap models.SnapshotMessage
	if err := json.Unmarshal(<-conn.Send, &snap); err != nil {
		t.Fatalf("Failed to decode snapshot: %v", err)
	}
	if snap.Symbol != "MSFT" || len(snap.Indicators["ema"]) != 1 {
		t.Errorf("Unexpected snapshot: %+v", snap)
	}

	hub.Unregister(conn)
	if hub.GetStats().ConnectionsActive != 0 {
		t.Error("Expected no active connections")
	}
}
