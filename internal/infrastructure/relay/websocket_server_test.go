package relay

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"

	"codecollab/internal/core/domain"
	"codecollab/internal/core/services"
	"codecollab/internal/crdt"
	"codecollab/internal/infrastructure/repositories/memory"
	"codecollab/internal/protocol"
)

func newTestServer(t *testing.T, auth services.AuthService) (*WebSocketServer, *httptest.Server) {
	t.Helper()
	s := NewWebSocketServer(memory.NewMemoryPresenceRepository(), auth, DefaultServerConfig(), zaptest.NewLogger(t).Sugar())
	ts := httptest.NewServer(http.HandlerFunc(s.HandleWebSocket))
	t.Cleanup(ts.Close)
	return s, ts
}

func wsURL(ts *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/?" + query
}

// dialRoom connects and consumes the welcome frame, returning the assigned id.
func dialRoom(t *testing.T, ts *httptest.Server, roomID string) (*websocket.Conn, domain.ClientID) {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "room_id="+roomID), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	frame := readFrame(t, conn)
	if frame.Type != protocol.FrameWelcome {
		t.Fatalf("expected welcome, got %s", frame.Type)
	}
	var welcome protocol.WelcomePayload
	if err := json.Unmarshal(frame.Payload, &welcome); err != nil {
		t.Fatalf("bad welcome payload: %v", err)
	}
	return conn, welcome.ClientID
}

func readFrame(t *testing.T, conn *websocket.Conn) protocol.Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame protocol.Frame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return frame
}

func writeFrame(t *testing.T, conn *websocket.Conn, frame protocol.Frame) {
	t.Helper()
	if err := conn.WriteJSON(frame); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func TestWebSocketServer_RequiresRoomID(t *testing.T) {
	_, ts := newTestServer(t, nil)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, ""), nil)
	if err == nil {
		t.Fatal("expected handshake failure without room_id")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %+v", resp)
	}
}

func TestWebSocketServer_WelcomeCarriesPresenceSnapshot(t *testing.T) {
	_, ts := newTestServer(t, nil)

	first, firstID := dialRoom(t, ts, "room-1")
	entry, _ := json.Marshal(domain.PresenceEntry{Name: "alice"})
	writeFrame(t, first, protocol.Frame{Type: protocol.FramePresenceSet, Payload: entry})
	readFrame(t, first) // presence_full echo

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "room_id=room-1"), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	frame := readFrame(t, conn)
	var welcome protocol.WelcomePayload
	_ = json.Unmarshal(frame.Payload, &welcome)
	if e, ok := welcome.Presence[firstID]; !ok || e.Name != "alice" {
		t.Errorf("welcome missing existing presence: %+v", welcome.Presence)
	}
}

func TestWebSocketServer_DocOpsFanOutExcludingSender(t *testing.T) {
	_, ts := newTestServer(t, nil)

	a, aID := dialRoom(t, ts, "room-1")
	b, _ := dialRoom(t, ts, "room-1")

	doc := crdt.New("site-a")
	ops := doc.InsertAt(0, "hi")
	payload, _ := json.Marshal(protocol.DocOpsPayload{Ops: ops})
	writeFrame(t, a, protocol.Frame{
		Type:    protocol.FrameDocOps,
		Sender:  "forged-id", // the hub must overwrite this
		FileID:  "file-1",
		Payload: payload,
	})

	frame := readFrame(t, b)
	if frame.Type != protocol.FrameDocOps {
		t.Fatalf("expected doc_ops, got %s", frame.Type)
	}
	if frame.Sender != aID {
		t.Errorf("sender not stamped by hub: got %s, want %s", frame.Sender, aID)
	}
	if frame.FileID != "file-1" {
		t.Errorf("file id lost: %s", frame.FileID)
	}

	// The sender must not receive its own batch back.
	a.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var echo protocol.Frame
	if err := a.ReadJSON(&echo); err == nil {
		t.Errorf("sender received its own ops: %+v", echo)
	}
}

func TestWebSocketServer_EmptyOpBatchRejected(t *testing.T) {
	_, ts := newTestServer(t, nil)

	a, _ := dialRoom(t, ts, "room-1")
	payload, _ := json.Marshal(protocol.DocOpsPayload{})
	writeFrame(t, a, protocol.Frame{Type: protocol.FrameDocOps, FileID: "file-1", Payload: payload})

	frame := readFrame(t, a)
	if frame.Type != protocol.FrameError {
		t.Errorf("expected error frame, got %s", frame.Type)
	}
}

func TestWebSocketServer_PresenceBroadcastAndDeparture(t *testing.T) {
	_, ts := newTestServer(t, nil)

	a, aID := dialRoom(t, ts, "room-1")
	b, _ := dialRoom(t, ts, "room-1")

	entry, _ := json.Marshal(domain.PresenceEntry{Name: "alice", Muted: true})
	writeFrame(t, a, protocol.Frame{Type: protocol.FramePresenceSet, Payload: entry})

	frame := readFrame(t, b)
	if frame.Type != protocol.FramePresenceFull {
		t.Fatalf("expected presence_full, got %s", frame.Type)
	}
	var full protocol.PresenceFullPayload
	_ = json.Unmarshal(frame.Payload, &full)
	if e, ok := full.Entries[aID]; !ok || e.Name != "alice" || !e.Muted {
		t.Errorf("presence entry wrong: %+v", full.Entries)
	}

	// Departure clears the entry and notifies the room.
	readFrame(t, a) // drain a's own presence_full
	a.Close()

	frame = readFrame(t, b)
	if frame.Type != protocol.FramePresenceFull {
		t.Fatalf("expected departure presence_full, got %s", frame.Type)
	}
	full = protocol.PresenceFullPayload{}
	_ = json.Unmarshal(frame.Payload, &full)
	if _, ok := full.Entries[aID]; ok {
		t.Error("departed client still present in the map")
	}
}

func TestWebSocketServer_SignalRoutedToTargetOnly(t *testing.T) {
	_, ts := newTestServer(t, nil)

	a, _ := dialRoom(t, ts, "room-1")
	b, bID := dialRoom(t, ts, "room-1")
	c, _ := dialRoom(t, ts, "room-1")

	env, _ := json.Marshal(domain.SignalEnvelope{
		Target:    bID,
		Sender:    "ignored", // hub re-stamps
		Kind:      domain.SignalOffer,
		Payload:   []byte(`{"type":"offer","sdp":"v=0"}`),
		Timestamp: time.Now().UnixMilli(),
	})
	writeFrame(t, a, protocol.Frame{Type: protocol.FrameSignal, Payload: env})

	frame := readFrame(t, b)
	if frame.Type != protocol.FrameSignal {
		t.Fatalf("expected signal, got %s", frame.Type)
	}
	var got domain.SignalEnvelope
	_ = json.Unmarshal(frame.Payload, &got)
	if got.Kind != domain.SignalOffer || got.Sender == "ignored" || got.Sender == "" {
		t.Errorf("signal not re-stamped: %+v", got)
	}

	// The third client must not see the pairwise signal.
	c.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var leak protocol.Frame
	if err := c.ReadJSON(&leak); err == nil {
		t.Errorf("signal leaked to a third client: %+v", leak)
	}
}

func TestWebSocketServer_MalformedSignalRejected(t *testing.T) {
	_, ts := newTestServer(t, nil)

	a, _ := dialRoom(t, ts, "room-1")
	env, _ := json.Marshal(domain.SignalEnvelope{
		Target: "someone",
		Kind:   "bogus",
	})
	writeFrame(t, a, protocol.Frame{Type: protocol.FrameSignal, Payload: env})

	frame := readFrame(t, a)
	if frame.Type != protocol.FrameError {
		t.Errorf("expected error frame, got %s", frame.Type)
	}
}

func TestWebSocketServer_RoomsAreIsolated(t *testing.T) {
	srv, ts := newTestServer(t, nil)

	a, _ := dialRoom(t, ts, "room-1")
	b, _ := dialRoom(t, ts, "room-2")

	doc := crdt.New("site-a")
	payload, _ := json.Marshal(protocol.DocOpsPayload{Ops: doc.InsertAt(0, "x")})
	writeFrame(t, a, protocol.Frame{Type: protocol.FrameDocOps, FileID: "file-1", Payload: payload})

	b.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var leak protocol.Frame
	if err := b.ReadJSON(&leak); err == nil {
		t.Errorf("frame crossed rooms: %+v", leak)
	}

	if srv.RoomSize("room-1") != 1 || srv.RoomSize("room-2") != 1 {
		t.Errorf("room sizes wrong: %d, %d", srv.RoomSize("room-1"), srv.RoomSize("room-2"))
	}
}

func TestWebSocketServer_JoinTokenEnforced(t *testing.T) {
	auth := services.NewAuthService("test-secret", time.Minute)
	_, ts := newTestServer(t, auth)

	// No token.
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, "room_id=room-1"), nil)
	if err == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %+v", resp)
	}

	// Token for a different room.
	wrong, _ := auth.GenerateJoinToken("room-2", "user-1", "alice")
	_, resp, err = websocket.DefaultDialer.Dial(wsURL(ts, "room_id=room-1&token="+wrong), nil)
	if err == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 for wrong room, got %+v", resp)
	}

	// Valid token in the query fallback.
	token, _ := auth.GenerateJoinToken("room-1", "user-1", "alice")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "room_id=room-1&token="+token), nil)
	if err != nil {
		t.Fatalf("valid token rejected: %v", err)
	}
	conn.Close()
}

func TestWebSocketServer_AbruptDisconnectReleasesGoroutines(t *testing.T) {
	_, ts := newTestServer(t, nil)

	before := runtime.NumGoroutine()
	entry, _ := json.Marshal(domain.PresenceEntry{Name: "ghost"})
	for i := 0; i < 8; i++ {
		conn, _ := dialRoom(t, ts, "room-1")
		// Queue more inbound frames than the handler buffers, then drop the
		// connection without reading any of the fanout.
		for j := 0; j < 32; j++ {
			_ = conn.WriteJSON(protocol.Frame{Type: protocol.FramePresenceSet, Payload: entry})
		}
		conn.Close()
	}

	// Per-connection reader goroutines must wind down with their handlers.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if runtime.NumGoroutine() <= before+2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("goroutines did not settle: before=%d after=%d", before, runtime.NumGoroutine())
}
