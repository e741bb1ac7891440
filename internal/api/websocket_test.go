package api

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kwilde42/shadow-core/internal/shadow"
)

// wsTestEnv hosts the server router on an ephemeral port with the event
// broadcast wired, mirroring what Start does without binding a real listener.
type wsTestEnv struct {
	server  *Server
	httpSrv *httptest.Server
}

func newWSTestEnv(t *testing.T) *wsTestEnv {
	t.Helper()

	s := newTestServer(t)
	s.attachEventBroadcast()
	httpSrv := httptest.NewServer(s.buildRouter())
	t.Cleanup(func() {
		s.registry.closeAll()
		httpSrv.Close()
	})
	return &wsTestEnv{server: s, httpSrv: httpSrv}
}

func (env *wsTestEnv) createShadow(t *testing.T, deviceID string, reported map[string]any) {
	t.Helper()
	_, err := env.server.service.CreateDeviceShadow(context.Background(), deviceID, shadow.NewState(reported))
	if err != nil {
		t.Fatalf("CreateDeviceShadow failed: %v", err)
	}
}

func (env *wsTestEnv) dial(t *testing.T, deviceID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(env.httpSrv.URL, "http") + "/api/v1/shadows/" + deviceID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s failed: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	//nolint:errcheck // Test deadline; read error surfaces below
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read frame failed: %v", err)
	}
	return msg
}

func writeFrame(t *testing.T, conn *websocket.Conn, msg WSMessage) {
	t.Helper()
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write frame failed: %v", err)
	}
}

func TestWebSocketUnknownDeviceGetsErrorFrame(t *testing.T) {
	env := newWSTestEnv(t)

	conn := env.dial(t, "unknown")
	msg := readFrame(t, conn)
	if msg.Type != WSTypeError {
		t.Fatalf("first frame type = %q, want %q", msg.Type, WSTypeError)
	}
	if msg.Code != ErrCodeNotFound {
		t.Errorf("error code = %q, want %q", msg.Code, ErrCodeNotFound)
	}

	// The connection stays open: the client can wait for registration and
	// keep using the protocol.
	writeFrame(t, conn, WSMessage{Type: WSTypePing})
	pong := readFrame(t, conn)
	if pong.Type != WSTypePong {
		t.Errorf("frame type = %q, want %q", pong.Type, WSTypePong)
	}
}

func TestWebSocketInitialState(t *testing.T) {
	env := newWSTestEnv(t)
	env.createShadow(t, "light-1", map[string]any{"on": true})

	conn := env.dial(t, "light-1")
	msg := readFrame(t, conn)

	if msg.Type != WSTypeInitialState {
		t.Fatalf("first frame type = %q, want %q", msg.Type, WSTypeInitialState)
	}
	if msg.Shadow == nil || msg.Shadow.DeviceID != "light-1" {
		t.Fatalf("initial_state shadow = %+v", msg.Shadow)
	}
	if got := msg.Shadow.Reported.GetDefault("on", nil); got != true {
		t.Errorf("reported on = %v, want true", got)
	}
}

func TestWebSocketUpdateFanOut(t *testing.T) {
	env := newWSTestEnv(t)
	env.createShadow(t, "light-1", map[string]any{"on": false})

	connA := env.dial(t, "light-1")
	connB := env.dial(t, "light-1")
	readFrame(t, connA) // initial_state
	readFrame(t, connB) // initial_state

	writeFrame(t, connA, WSMessage{
		Type:  WSTypeUpdateReported,
		State: json.RawMessage(`{"on":true}`),
	})

	// Originator gets a direct acknowledgement.
	ack := readFrame(t, connA)
	if ack.Type != WSTypeReportedUpdated {
		t.Fatalf("originator frame type = %q, want %q", ack.Type, WSTypeReportedUpdated)
	}
	if ack.Shadow.Version != 2 {
		t.Errorf("ack version = %d, want 2", ack.Shadow.Version)
	}

	// Other subscribers get the broadcast.
	broadcast := readFrame(t, connB)
	if broadcast.Type != WSTypeShadowUpdated {
		t.Fatalf("subscriber frame type = %q, want %q", broadcast.Type, WSTypeShadowUpdated)
	}
	if got := broadcast.Shadow.Reported.GetDefault("on", nil); got != true {
		t.Errorf("broadcast reported on = %v, want true", got)
	}

	// The originator must not also receive the broadcast: the next frame it
	// sees should be the ack for a second update, not a shadow_updated echo.
	writeFrame(t, connA, WSMessage{
		Type:  WSTypeUpdateReported,
		State: json.RawMessage(`{"brightness":50}`),
	})
	next := readFrame(t, connA)
	if next.Type != WSTypeReportedUpdated {
		t.Errorf("originator saw %q frame, want only %q acks", next.Type, WSTypeReportedUpdated)
	}
}

func TestWebSocketUpdateDesired(t *testing.T) {
	env := newWSTestEnv(t)
	env.createShadow(t, "hvac-1", map[string]any{"target": float64(18)})

	conn := env.dial(t, "hvac-1")
	readFrame(t, conn) // initial_state

	writeFrame(t, conn, WSMessage{
		Type:  WSTypeUpdateDesired,
		State: json.RawMessage(`{"target":21}`),
	})

	ack := readFrame(t, conn)
	if ack.Type != WSTypeDesiredUpdated {
		t.Fatalf("frame type = %q, want %q", ack.Type, WSTypeDesiredUpdated)
	}
	if got := ack.Shadow.Desired.GetDefault("target", nil); got != float64(21) {
		t.Errorf("desired target = %v, want 21", got)
	}
}

func TestWebSocketRESTUpdateReachesSubscribers(t *testing.T) {
	env := newWSTestEnv(t)
	env.createShadow(t, "sensor-1", nil)

	conn := env.dial(t, "sensor-1")
	readFrame(t, conn) // initial_state

	// A REST write has no WebSocket identity, so every subscriber hears it.
	_, err := env.server.service.UpdateReportedState(
		context.Background(), "sensor-1", shadow.NewState(map[string]any{"temp": 22.0}), "")
	if err != nil {
		t.Fatalf("UpdateReportedState failed: %v", err)
	}

	msg := readFrame(t, conn)
	if msg.Type != WSTypeShadowUpdated {
		t.Fatalf("frame type = %q, want %q", msg.Type, WSTypeShadowUpdated)
	}
}

func TestWebSocketErrorFrameKeepsConnectionOpen(t *testing.T) {
	env := newWSTestEnv(t)
	env.createShadow(t, "light-1", nil)

	conn := env.dial(t, "light-1")
	readFrame(t, conn) // initial_state

	// Malformed state: not a JSON object.
	writeFrame(t, conn, WSMessage{
		Type:  WSTypeUpdateReported,
		State: json.RawMessage(`"flat"`),
	})
	errFrame := readFrame(t, conn)
	if errFrame.Type != WSTypeError {
		t.Fatalf("frame type = %q, want %q", errFrame.Type, WSTypeError)
	}
	if errFrame.Code != ErrCodeInvalidState {
		t.Errorf("error code = %q, want %q", errFrame.Code, ErrCodeInvalidState)
	}

	// Unknown frame type also produces an error frame.
	writeFrame(t, conn, WSMessage{Type: "nonsense"})
	errFrame = readFrame(t, conn)
	if errFrame.Type != WSTypeError || errFrame.Code != ErrCodeBadRequest {
		t.Errorf("frame = %+v, want %s/%s", errFrame, WSTypeError, ErrCodeBadRequest)
	}

	// The connection is still usable after errors.
	writeFrame(t, conn, WSMessage{Type: WSTypePing})
	pong := readFrame(t, conn)
	if pong.Type != WSTypePong {
		t.Errorf("frame type = %q, want %q", pong.Type, WSTypePong)
	}
}

func TestWebSocketDisconnectCleansRegistry(t *testing.T) {
	env := newWSTestEnv(t)
	env.createShadow(t, "light-1", nil)

	conn := env.dial(t, "light-1")
	readFrame(t, conn) // initial_state

	if got := env.server.registry.Subscribers("light-1"); got != 1 {
		t.Fatalf("Subscribers = %d, want 1", got)
	}

	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for env.server.registry.Subscribers("light-1") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("client not removed from registry after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
