package liveapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/auralink/aura/pkg/frames"
	"github.com/auralink/aura/pkg/transports"
)

type testServer struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader
	conns    chan *websocket.Conn
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{conns: make(chan *websocket.Conn, 1)}
	ts.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := ts.upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		ts.conns <- conn
	}))
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.srv.URL, "http")
}

func (ts *testServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-ts.conns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatalf("no websocket connection")
		return nil
	}
}

func dialTransport(t *testing.T, ts *testServer) (*Transport, *websocket.Conn) {
	t.Helper()
	tr := New(Config{URL: ts.wsURL()}, transports.SessionParams{SessionID: "sess-1", Persona: "nova", Voice: "warm"})
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = tr.Stop() })
	conn := ts.accept(t)

	var setup map[string]any
	if err := conn.ReadJSON(&setup); err != nil {
		t.Fatalf("read setup: %v", err)
	}
	if setup["type"] != "setup" || setup["session_id"] != "sess-1" {
		t.Fatalf("unexpected setup message: %v", setup)
	}
	return tr, conn
}

func TestStartSendsSetupAndDecodesEvents(t *testing.T) {
	ts := newTestServer(t)
	tr, conn := dialTransport(t, ts)

	pcm := []byte{1, 2, 3, 4}
	events := []map[string]any{
		{"type": "audio", "data_b64": base64.StdEncoding.EncodeToString(pcm)},
		{"type": "transcript", "text": "hello there", "final": true},
		{"type": "tool_call", "calls": []map[string]any{{"id": "call-1", "name": "play", "args": map[string]any{"query": "jazz"}}}},
		{"type": "turn_complete"},
		{"type": "interrupted"},
	}
	for _, ev := range events {
		if err := conn.WriteJSON(ev); err != nil {
			t.Fatalf("write event: %v", err)
		}
	}

	af := recvFrame(t, tr)
	audio, ok := af.(frames.AudioFrame)
	if !ok {
		t.Fatalf("expected audio frame, got %T", af)
	}
	if string(audio.RawPayload()) != string(pcm) {
		t.Fatalf("audio payload mismatch")
	}
	if audio.Meta()[frames.MetaCodec] != "pcm16" {
		t.Fatalf("expected default codec pcm16, got %q", audio.Meta()[frames.MetaCodec])
	}

	tf, ok := recvFrame(t, tr).(frames.TranscriptFrame)
	if !ok || tf.Text() != "hello there" || !tf.Final() {
		t.Fatalf("unexpected transcript frame: %#v", tf)
	}

	cf, ok := recvFrame(t, tr).(frames.ControlFrame)
	if !ok || cf.Code() != frames.ControlToolCall {
		t.Fatalf("expected tool_call control frame")
	}
	meta := cf.Meta()
	if meta[frames.MetaToolCallID] != "call-1" || meta[frames.MetaToolName] != "play" {
		t.Fatalf("unexpected tool call meta: %v", meta)
	}

	if cf, ok = recvFrame(t, tr).(frames.ControlFrame); !ok || cf.Code() != frames.ControlTurnComplete {
		t.Fatalf("expected turn_complete")
	}
	if cf, ok = recvFrame(t, tr).(frames.ControlFrame); !ok || cf.Code() != frames.ControlInterrupted {
		t.Fatalf("expected interrupted")
	}
}

func TestSendAudioFrameEncodesBase64(t *testing.T) {
	ts := newTestServer(t)
	tr, conn := dialTransport(t, ts)

	pcm := []byte{10, 20, 30}
	if err := tr.Send(frames.NewAudioFrame("sess-1", 1, pcm, 16000, 1, nil)); err != nil {
		t.Fatalf("send: %v", err)
	}

	var msg map[string]any
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read audio frame: %v", err)
	}
	if msg["type"] != "audio_frame" {
		t.Fatalf("expected audio_frame, got %v", msg["type"])
	}
	decoded, err := base64.StdEncoding.DecodeString(msg["data_b64"].(string))
	if err != nil || string(decoded) != string(pcm) {
		t.Fatalf("payload mismatch: %v %v", decoded, err)
	}
	if msg["seq"].(float64) != 1 {
		t.Fatalf("expected seq 1, got %v", msg["seq"])
	}
}

func TestSendToolResult(t *testing.T) {
	ts := newTestServer(t)
	tr, conn := dialTransport(t, ts)

	sf := frames.NewSystemFrame("sess-1", 1, frames.SystemToolResult, map[string]string{
		frames.MetaToolCallID: "call-9",
		frames.MetaToolName:   "search",
		frames.MetaToolResult: `{"status":"ok","delivered":true}`,
	})
	if err := tr.Send(sf); err != nil {
		t.Fatalf("send: %v", err)
	}

	var msg clientToolResult
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read tool result: %v", err)
	}
	if msg.Type != "tool_result" || msg.ID != "call-9" {
		t.Fatalf("unexpected tool result: %+v", msg)
	}
	var status map[string]any
	if err := json.Unmarshal(msg.Status, &status); err != nil || status["delivered"] != true {
		t.Fatalf("unexpected status payload: %s", msg.Status)
	}
}

func TestRemoteCloseEmitsChannelClosed(t *testing.T) {
	ts := newTestServer(t)
	tr, conn := dialTransport(t, ts)

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(time.Second))
	_ = conn.Close()

	sf, ok := recvFrame(t, tr).(frames.SystemFrame)
	if !ok || sf.Name() != frames.SystemChannelClosed {
		t.Fatalf("expected channel_closed, got %#v", sf)
	}
}

func TestSendAfterStopFails(t *testing.T) {
	ts := newTestServer(t)
	tr, _ := dialTransport(t, ts)
	_ = tr.Stop()
	if err := tr.Send(frames.NewAudioFrame("sess-1", 1, []byte{1}, 16000, 1, nil)); err == nil {
		t.Fatalf("expected error sending on stopped transport")
	}
}

func recvFrame(t *testing.T, tr *Transport) frames.Frame {
	t.Helper()
	select {
	case f, ok := <-tr.Recv():
		if !ok {
			t.Fatalf("recv channel closed")
		}
		return f
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for frame")
		return nil
	}
}
