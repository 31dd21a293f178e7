// Package liveapi implements the realtime channel to the remote
// conversational speech service over a websocket. Outbound audio frames and
// tool results are JSON messages with base64 payloads; inbound events are
// decoded into typed frames.
package liveapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/auralink/aura/pkg/configutil"
	"github.com/auralink/aura/pkg/errorsx"
	"github.com/auralink/aura/pkg/frames"
	"github.com/auralink/aura/pkg/transports"
)

type Config struct {
	URL         string `mapstructure:"url"`
	APIKey      string `mapstructure:"api_key"`
	SampleRate  int    `mapstructure:"sample_rate"`
	Codec       string `mapstructure:"codec"`
	DialTimeout int    `mapstructure:"dial_timeout_ms"`
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.Codec == "" {
		c.Codec = "pcm16"
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10000
	}
	return c
}

// SettingsSchema validates the free-form transport settings map from config.
var SettingsSchema = configutil.Schema{
	Required: []string{"url"},
	Optional: []string{"api_key", "sample_rate", "codec", "dial_timeout_ms"},
}

type Transport struct {
	cfg    Config
	params transports.SessionParams

	conn   *websocket.Conn
	recvCh chan frames.Frame
	pts    *frames.PTSGen

	writeMu sync.Mutex
	seq     atomic.Int64
	closed  atomic.Bool
	once    sync.Once
}

func New(cfg Config, params transports.SessionParams) *Transport {
	cfg = cfg.withDefaults()
	if params.SampleRate == 0 {
		params.SampleRate = cfg.SampleRate
	}
	if params.Codec == "" {
		params.Codec = cfg.Codec
	}
	return &Transport{
		cfg:    cfg,
		params: params,
		recvCh: make(chan frames.Frame, 512),
		pts:    frames.NewPTSGen(),
	}
}

// Factory returns a per-session transport constructor for the engine. A new
// Transport is built for every connection attempt so that no channel state
// survives a reconnect.
func Factory(cfg Config) func(params transports.SessionParams) transports.Transport {
	return func(params transports.SessionParams) transports.Transport {
		return New(cfg, params)
	}
}

func (t *Transport) Name() string { return "liveapi" }

func (t *Transport) Recv() <-chan frames.Frame { return t.recvCh }

func (t *Transport) ReadyFields() map[string]any {
	return map[string]any{"url": t.cfg.URL, "codec": t.params.Codec}
}

func (t *Transport) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	dialCtx, cancel := context.WithTimeout(ctx, time.Duration(t.cfg.DialTimeout)*time.Millisecond)
	defer cancel()

	header := http.Header{}
	if t.cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+t.cfg.APIKey)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, t.cfg.URL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonTransportOpen)
	}
	t.conn = conn

	if err := t.sendJSON(clientSetup{
		Type:       msgSetup,
		SessionID:  t.params.SessionID,
		Persona:    t.params.Persona,
		Voice:      t.params.Voice,
		SampleRate: t.params.SampleRate,
		Codec:      t.params.Codec,
		LowLatency: t.params.LowLatency,
	}); err != nil {
		_ = conn.Close()
		return errorsx.Wrap(err, errorsx.ReasonTransportOpen)
	}

	go t.readLoop()
	go func() {
		<-ctx.Done()
		_ = t.Stop()
	}()
	return nil
}

func (t *Transport) Stop() error {
	t.once.Do(func() {
		t.closed.Store(true)
		if t.conn != nil {
			t.writeMu.Lock()
			_ = t.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(2*time.Second))
			t.writeMu.Unlock()
			_ = t.conn.Close()
		}
	})
	return nil
}

func (t *Transport) Send(f frames.Frame) error {
	if t.closed.Load() {
		return errorsx.Wrap(errClosed, errorsx.ReasonTransportSend)
	}
	switch f.Kind() {
	case frames.KindAudio:
		af, ok := f.(frames.AudioFrame)
		if !ok {
			return nil
		}
		msg := clientAudioFrame{
			Type:    msgAudioFrame,
			Seq:     t.seq.Add(1),
			DataB64: base64.StdEncoding.EncodeToString(af.RawPayload()),
		}
		err := t.sendJSON(msg)
		frames.ReleaseAudioFrame(f)
		if err != nil {
			return errorsx.Wrap(err, errorsx.ReasonTransportSend)
		}
		return nil
	case frames.KindSystem:
		sf, ok := f.(frames.SystemFrame)
		if !ok || sf.Name() != frames.SystemToolResult {
			return nil
		}
		meta := sf.Meta()
		status := meta[frames.MetaToolResult]
		if status == "" {
			status = `{"status":"ok"}`
		}
		msg := clientToolResult{
			Type:   msgToolResult,
			ID:     meta[frames.MetaToolCallID],
			Name:   meta[frames.MetaToolName],
			Status: json.RawMessage(status),
		}
		if err := t.sendJSON(msg); err != nil {
			return errorsx.Wrap(err, errorsx.ReasonTransportSend)
		}
		return nil
	case frames.KindControl:
		cf, ok := f.(frames.ControlFrame)
		if !ok || cf.Code() != frames.ControlKeepalive {
			return nil
		}
		if err := t.sendJSON(clientKeepalive{Type: msgKeepalive}); err != nil {
			return errorsx.Wrap(err, errorsx.ReasonTransportSend)
		}
		return nil
	default:
		return nil
	}
}

func (t *Transport) sendJSON(v any) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if t.conn == nil {
		return errClosed
	}
	return t.conn.WriteJSON(v)
}

func (t *Transport) readLoop() {
	defer close(t.recvCh)
	sessionID := t.params.SessionID
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			if t.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.emit(frames.NewSystemFrame(sessionID, t.pts.Next(sessionID), frames.SystemChannelClosed, nil))
			} else {
				t.emit(frames.NewSystemFrame(sessionID, t.pts.Next(sessionID), frames.SystemChannelError, map[string]string{
					frames.MetaReason: err.Error(),
				}))
			}
			return
		}
		var env serverEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			slog.Debug("liveapi_bad_message", "error", err.Error())
			continue
		}
		t.dispatch(sessionID, env)
	}
}

func (t *Transport) dispatch(sessionID string, env serverEnvelope) {
	pts := t.pts.Next(sessionID)
	switch env.Type {
	case evtAudio:
		raw, err := base64.StdEncoding.DecodeString(env.DataB64)
		if err != nil {
			slog.Debug("liveapi_bad_audio", "error", err.Error())
			return
		}
		codec := env.Codec
		if codec == "" {
			codec = t.params.Codec
		}
		t.emit(frames.NewAudioFrame(sessionID, pts, raw, t.params.SampleRate, 1, map[string]string{
			frames.MetaCodec: codec,
		}))
	case evtTranscript:
		t.emit(frames.NewTranscriptFrame(sessionID, pts, env.Text, env.Final, nil))
	case evtToolCall:
		for _, call := range env.Calls {
			t.emit(frames.NewControlFrame(sessionID, pts, frames.ControlToolCall, map[string]string{
				frames.MetaToolCallID: call.ID,
				frames.MetaToolName:   call.Name,
				frames.MetaToolArgs:   string(call.Args),
			}))
		}
	case evtTurnComplete:
		t.emit(frames.NewControlFrame(sessionID, pts, frames.ControlTurnComplete, nil))
	case evtInterrupted:
		t.emit(frames.NewControlFrame(sessionID, pts, frames.ControlInterrupted, nil))
	case evtError:
		t.emit(frames.NewSystemFrame(sessionID, pts, frames.SystemChannelError, map[string]string{
			frames.MetaReason: env.Message,
		}))
	default:
		slog.Debug("liveapi_unknown_event", "type", env.Type)
	}
}

func (t *Transport) emit(f frames.Frame) {
	select {
	case t.recvCh <- f:
	default:
		// Inbound backlog is shed here rather than blocking the read loop;
		// the playback scheduler applies its own drop-oldest policy.
	}
}

type closedErr struct{}

func (closedErr) Error() string { return "liveapi: channel closed" }

var errClosed = closedErr{}
