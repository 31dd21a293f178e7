// Package aura is the live audio session engine. It owns the connection
// lifecycle, drives the capture and playback pipelines, supervises
// reconnection, and dispatches tool calls.
package aura

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/auralink/aura/pkg/capture"
	"github.com/auralink/aura/pkg/codec"
	"github.com/auralink/aura/pkg/errorsx"
	"github.com/auralink/aura/pkg/frames"
	"github.com/auralink/aura/pkg/metrics"
	"github.com/auralink/aura/pkg/playback"
	"github.com/auralink/aura/pkg/redact"
	"github.com/auralink/aura/pkg/resilience"
	"github.com/auralink/aura/pkg/standby"
	"github.com/auralink/aura/pkg/transports"
)

// LifecycleState is the session's connection state.
type LifecycleState int

const (
	StateDisconnected LifecycleState = iota
	StateConnecting
	StateConnected
	StateError
)

func (s LifecycleState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// TransportFactory builds a fresh transport for each session, so no channel
// state survives a reconnect.
type TransportFactory func(transports.SessionParams) transports.Transport

// Deps are the engine's collaborators. Device, Output, and NewTransport are
// required; the rest default to no-ops.
type Deps struct {
	Device       capture.Device
	Output       playback.Output
	Meter        capture.VolumeMeter
	NewTransport TransportFactory
	Executor     ActionExecutor
	Relay        CommandRelay
	Observer     metrics.Observer
	Decoder      codec.Decoder
	Clock        playback.Clock
}

// sessionRuntime is everything owned by exactly one session. Torn down as a
// unit; a reconnect builds a new one.
type sessionRuntime struct {
	session    *Session
	transport  transports.Transport
	stream     capture.Stream
	pipeline   *capture.Pipeline
	scheduler  *playback.Scheduler
	standby    *standby.Machine
	dispatcher *ToolDispatcher
	cancel     context.CancelFunc
}

// Engine is the live audio session engine. All shared state is guarded by one
// mutex; the busy flags (reconnecting, cyclingParams, playback's own drain
// flag) keep interleaved callbacks from compounding.
type Engine struct {
	cfg  Config
	deps Deps
	obs  metrics.Observer
	log  *slog.Logger

	mu            sync.Mutex
	state         LifecycleState
	rt            *sessionRuntime
	userClosed    bool
	reconnecting  bool
	cyclingParams bool

	reconnectDelay time.Duration
	breaker        *resilience.CircuitBreaker
}

func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Device == nil {
		return nil, errors.New("aura: capture device is required")
	}
	if deps.NewTransport == nil {
		return nil, errors.New("aura: transport factory is required")
	}
	if deps.Observer == nil {
		deps.Observer = metrics.NoopObserver{}
	}
	if deps.Clock == nil {
		deps.Clock = playback.RealClock{}
	}
	delay := time.Duration(cfg.Timers.ReconnectDelayMS) * time.Millisecond
	if delay <= 0 {
		delay = 2 * time.Second
	}
	redact.SetEnabled(cfg.Privacy.RedactPII)
	return &Engine{
		cfg:            cfg,
		deps:           deps,
		obs:            deps.Observer,
		log:            slog.Default().With("component", "engine"),
		state:          StateDisconnected,
		reconnectDelay: delay,
		breaker:        resilience.NewCircuitBreaker(5, 30*time.Second),
	}, nil
}

// State returns the lifecycle state.
func (e *Engine) State() LifecycleState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Standby reports whether the connected session is muted.
func (e *Engine) Standby() bool {
	e.mu.Lock()
	rt := e.rt
	e.mu.Unlock()
	return rt != nil && !rt.standby.Active()
}

// Session returns the live session record, or nil when disconnected.
func (e *Engine) Session() *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rt == nil {
		return nil
	}
	return e.rt.session
}

// Connect opens a session: acquires the capture device, opens the transport,
// resets all per-session buffers, and starts the capture tick and the
// housekeeping timers. A no-op while already connecting or connected.
func (e *Engine) Connect(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	e.mu.Lock()
	if e.state == StateConnecting || e.state == StateConnected {
		e.mu.Unlock()
		return nil
	}
	e.state = StateConnecting
	e.userClosed = false
	params := paramsFromConfig(e.cfg)
	e.mu.Unlock()

	sess := newSession(params)
	log := e.log.With("session_id", sess.ID)

	blockSize := capture.DefaultBlockSize
	if params.PowerSaving {
		blockSize = capture.PowerSaveBlockSize
	}
	stream, err := e.deps.Device.Acquire(ctx, capture.StreamConfig{
		SampleRate: e.cfg.Capture.SampleRate,
		Channels:   1,
		BlockSize:  blockSize,
	})
	if err != nil {
		reason := errorsx.ReasonDeviceAcquire
		if errors.Is(err, capture.ErrPermissionDenied) {
			reason = errorsx.ReasonPermissionDenied
		}
		e.mu.Lock()
		if reason == errorsx.ReasonPermissionDenied {
			e.state = StateError
		} else {
			e.state = StateDisconnected
		}
		e.mu.Unlock()
		log.Error("device_acquire_failed", "reason", string(reason), "error", err.Error())
		return errorsx.Wrap(err, reason)
	}

	tr := e.deps.NewTransport(sess.transportParams(e.cfg.Capture.SampleRate, e.cfg.Playback.Codec))
	if err := tr.Start(ctx); err != nil {
		_ = stream.Close()
		e.mu.Lock()
		e.state = StateDisconnected
		e.mu.Unlock()
		log.Error("transport_open_failed", "transport", tr.Name(), "error", err.Error())
		return errorsx.Wrap(err, errorsx.ReasonTransportOpen)
	}

	rt := e.buildRuntime(sess, tr, stream)

	e.mu.Lock()
	if e.userClosed {
		// Disconnect won the race while the device or channel was opening.
		e.mu.Unlock()
		e.teardown(rt)
		return nil
	}
	e.rt = rt
	e.state = StateConnected
	e.mu.Unlock()

	sessCtx, cancel := context.WithCancel(context.Background())
	rt.cancel = cancel
	go e.captureLoop(sessCtx, rt)
	go e.dispatchLoop(sessCtx, rt)
	go e.timerLoop(sessCtx, rt)

	e.obs.RecordEvent(metrics.MetricsEvent{
		Name: "connect",
		Time: time.Now(),
		Tags: map[string]string{"session_id": sess.ID, "transport": tr.Name()},
	})
	if rr, ok := tr.(transports.ReadyReporter); ok {
		log.Info("session_connected", slog.Any("transport", rr.ReadyFields()))
	} else {
		log.Info("session_connected", "transport", tr.Name())
	}
	return nil
}

func (e *Engine) buildRuntime(sess *Session, tr transports.Transport, stream capture.Stream) *sessionRuntime {
	rt := &sessionRuntime{session: sess, transport: tr, stream: stream}

	rt.standby = standby.NewMachine(standby.Config{
		WakePhrase:  sess.Params.WakePhrase,
		StopPhrase:  sess.Params.StopPhrase,
		IdleTimeout: time.Duration(e.cfg.Timers.IdleTimeoutMS) * time.Millisecond,
	})
	rt.standby.Reset()

	dec := e.deps.Decoder
	if dec == nil {
		dec = codec.PCMPassthrough{}
	}
	rt.scheduler = playback.NewScheduler(playback.Config{
		SessionID:  sess.ID,
		SampleRate: e.cfg.Capture.SampleRate,
		MaxBuffer:  e.cfg.Playback.MaxBuffer,
		PowerSave:  sess.Params.PowerSaving,
	}, dec, e.deps.Output, e.deps.Clock, func() bool {
		return e.playbackAllowed(rt)
	}, e.obs)

	rt.standby.AddListener(standby.StateListenerFunc(func(ev standby.StateChange) {
		switch ev.ToState {
		case standby.StateStandby:
			rt.scheduler.Clear()
			e.obs.RecordEvent(metrics.MetricsEvent{
				Name: "standby_enter",
				Time: time.Now(),
				Tags: map[string]string{"session_id": sess.ID, "reason": ev.Reason},
			})
		case standby.StateActive:
			rt.scheduler.ResetClock()
			e.obs.RecordEvent(metrics.MetricsEvent{
				Name: "standby_exit",
				Time: time.Now(),
				Tags: map[string]string{"session_id": sess.ID, "reason": ev.Reason},
			})
		}
		e.log.Info("standby_transition",
			"session_id", sess.ID,
			"from", ev.FromState.String(),
			"to", ev.ToState.String(),
			"reason", ev.Reason)
	}))

	rt.pipeline = capture.NewPipeline(capture.Config{
		SessionID:     sess.ID,
		SampleRate:    e.cfg.Capture.SampleRate,
		PowerSave:     sess.Params.PowerSaving,
		GateThreshold: e.cfg.Capture.GateThreshold,
		SuppressLimit: e.cfg.Capture.SuppressLimit,
	}, tr.Send, e.deps.Meter, e.obs)

	rt.dispatcher = NewToolDispatcher(e.deps.Executor, e.deps.Relay, tr.Send, ToolDispatcherOptions{
		Concurrency:  e.cfg.Tools.Concurrency,
		Timeout:      time.Duration(e.cfg.Tools.TimeoutMS) * time.Millisecond,
		Proxied:      e.cfg.Proxied,
		RelayRetries: e.cfg.Tools.Retries,
		RelayBackoff: time.Duration(e.cfg.Tools.RetryBackoffMS) * time.Millisecond,
	})
	return rt
}

// playbackAllowed gates the scheduler: the runtime must still be the live one
// and the session active.
func (e *Engine) playbackAllowed(rt *sessionRuntime) bool {
	e.mu.Lock()
	live := e.rt == rt && e.state == StateConnected
	e.mu.Unlock()
	return live && rt.standby.Active()
}

// Disconnect is the universal cancellation point: idempotent from any state.
// It cancels all timers, closes the transport, releases the capture device,
// flushes playback, and clears every per-session buffer.
func (e *Engine) Disconnect() error {
	e.mu.Lock()
	e.userClosed = true
	rt := e.rt
	e.rt = nil
	wasConnected := e.state == StateConnected || e.state == StateConnecting
	e.state = StateDisconnected
	e.mu.Unlock()

	if rt == nil {
		return nil
	}
	e.teardown(rt)
	if wasConnected {
		e.obs.RecordEvent(metrics.MetricsEvent{
			Name: "disconnect",
			Time: time.Now(),
			Tags: map[string]string{"session_id": rt.session.ID},
		})
		e.log.Info("session_disconnected", "session_id", rt.session.ID)
	}
	return nil
}

func (e *Engine) teardown(rt *sessionRuntime) {
	if rt.cancel != nil {
		rt.cancel()
	}
	if err := rt.transport.Stop(); err != nil {
		e.log.Debug("transport_stop_failed", "error", err.Error())
	}
	if err := rt.stream.Close(); err != nil {
		e.log.Debug("stream_close_failed", "error", err.Error())
	}
	rt.scheduler.Clear()
	rt.standby.ClearTranscript()
	rt.dispatcher.Close()
}

// captureLoop feeds device blocks through the capture pipeline. Voice
// activity defers the idle-standby timeout.
func (e *Engine) captureLoop(ctx context.Context, rt *sessionRuntime) {
	threshold := e.cfg.Capture.GateThreshold
	if threshold <= 0 {
		threshold = 0.01
	}
	for {
		select {
		case <-ctx.Done():
			return
		case block, ok := <-rt.stream.Blocks():
			if !ok {
				return
			}
			rt.pipeline.ProcessBlock(block)
			if rt.pipeline.Volume() >= threshold {
				rt.standby.MarkActivity()
			}
		}
	}
}

// dispatchLoop is the single consumer of the transport's inbound stream.
func (e *Engine) dispatchLoop(ctx context.Context, rt *sessionRuntime) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-rt.transport.Recv():
			if !ok {
				e.onChannelDown(rt, "recv closed")
				return
			}
			if down := e.handleFrame(rt, f); down {
				return
			}
		}
	}
}

// handleFrame routes one inbound frame. Returns true when the channel is
// down and the loop must exit.
func (e *Engine) handleFrame(rt *sessionRuntime, f frames.Frame) bool {
	switch f.Kind() {
	case frames.KindAudio:
		af, ok := f.(frames.AudioFrame)
		if !ok {
			return false
		}
		if !rt.standby.Active() {
			// Muted: discard immediately so no backlog builds up.
			frames.ReleaseAudioFrame(af)
			return false
		}
		rt.scheduler.Enqueue(af.Data())
		frames.ReleaseAudioFrame(af)
		e.obs.RecordEvent(metrics.MetricsEvent{
			Name: "audio_in",
			Time: time.Now(),
			Tags: map[string]string{"session_id": rt.session.ID},
		})
		rt.scheduler.Process()
	case frames.KindTranscript:
		tf, ok := f.(frames.TranscriptFrame)
		if !ok {
			return false
		}
		rt.standby.MarkActivity()
		rt.standby.Feed(tf.Text())
		e.log.Debug("transcript",
			"session_id", rt.session.ID,
			"text", redact.Text(tf.Text()),
			"final", tf.Final())
	case frames.KindControl:
		cf, ok := f.(frames.ControlFrame)
		if !ok {
			return false
		}
		switch cf.Code() {
		case frames.ControlTurnComplete:
			// Reset per-turn accumulators. The playback queue is left
			// untouched so a reply's tail finishes playing.
			rt.standby.ClearTranscript()
			rt.dispatcher.ResetTurn()
			e.obs.RecordEvent(metrics.MetricsEvent{
				Name: "turn_complete",
				Time: time.Now(),
				Tags: map[string]string{"session_id": rt.session.ID},
			})
		case frames.ControlInterrupted:
			// The default policy lets in-flight audio finish rather than
			// truncating the reply.
			if e.cfg.HaltOnInterrupt {
				rt.scheduler.Clear()
			} else {
				e.log.Debug("interrupt_ignored", "session_id", rt.session.ID)
			}
		case frames.ControlToolCall:
			rt.dispatcher.Dispatch(f.Meta())
		}
	case frames.KindSystem:
		sf, ok := f.(frames.SystemFrame)
		if !ok {
			return false
		}
		switch sf.Name() {
		case frames.SystemChannelClosed:
			e.onChannelDown(rt, "channel closed")
			return true
		case frames.SystemChannelError:
			e.onChannelDown(rt, sf.Meta()[frames.MetaReason])
			return true
		}
	}
	return false
}

// timerLoop runs the housekeeping timers: the keepalive tick resumes a
// suspended capture/output stack and pings the channel; the standby tick
// checks idle duration independently of the audio block rate.
func (e *Engine) timerLoop(ctx context.Context, rt *sessionRuntime) {
	keepalive := time.Duration(e.cfg.Timers.KeepaliveMS) * time.Millisecond
	if keepalive <= 0 {
		keepalive = 10 * time.Second
	}
	standbyCheck := time.Duration(e.cfg.Timers.StandbyCheckMS) * time.Millisecond
	if standbyCheck <= 0 {
		standbyCheck = 5 * time.Second
	}
	kaTicker := time.NewTicker(keepalive)
	sbTicker := time.NewTicker(standbyCheck)
	defer kaTicker.Stop()
	defer sbTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-kaTicker.C:
			if err := rt.stream.Resume(); err != nil {
				e.log.Warn("capture_resume_failed", "session_id", rt.session.ID, "error", err.Error())
			}
			if e.deps.Output != nil {
				if err := e.deps.Output.Resume(); err != nil {
					e.log.Warn("output_resume_failed", "session_id", rt.session.ID, "error", err.Error())
				}
			}
			ka := frames.NewControlFrame(rt.session.ID, time.Now().UnixNano(), frames.ControlKeepalive, nil)
			if err := rt.transport.Send(ka); err != nil {
				e.onChannelDown(rt, "keepalive send failed")
				return
			}
		case <-sbTicker.C:
			rt.standby.CheckIdle()
			if !rt.pipeline.Connected() {
				e.onChannelDown(rt, "outbound send failed")
				return
			}
		}
	}
}

// onChannelDown handles a transport close or error that the user did not
// initiate. The runtime is torn down; if auto-reconnect is on, one reconnect
// is scheduled after a fixed delay. The reconnecting flag keeps overlapping
// failure signals from stacking reconnects.
func (e *Engine) onChannelDown(rt *sessionRuntime, reason string) {
	e.mu.Lock()
	if e.rt != rt {
		// A newer session already owns the engine; this is a stale signal.
		e.mu.Unlock()
		return
	}
	e.rt = nil
	e.state = StateDisconnected
	scheduleReconnect := e.cfg.AutoReconnect && !e.userClosed && !e.reconnecting
	if scheduleReconnect {
		e.reconnecting = true
	}
	e.mu.Unlock()

	e.teardown(rt)
	e.log.Warn("channel_down", "session_id", rt.session.ID, "reason", reason, "reconnect", scheduleReconnect)

	if scheduleReconnect {
		go e.reconnectLater()
	}
}

func (e *Engine) reconnectLater() {
	time.Sleep(e.reconnectDelay)

	e.mu.Lock()
	e.reconnecting = false
	if e.userClosed {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	if !e.breaker.Allow() {
		e.log.Error("reconnect_suppressed", "reason", "too many consecutive failures")
		return
	}

	e.obs.RecordEvent(metrics.MetricsEvent{Name: "reconnect", Time: time.Now()})
	if err := e.Connect(context.Background()); err != nil {
		e.breaker.OnFailure()
		reason := errorsx.Reason(err)
		if !reason.Recoverable() {
			e.log.Error("reconnect_abandoned", "reason", string(reason), "error", err.Error())
			return
		}
		e.mu.Lock()
		again := e.cfg.AutoReconnect && !e.userClosed && !e.reconnecting
		if again {
			e.reconnecting = true
		}
		e.mu.Unlock()
		if again {
			go e.reconnectLater()
		}
		return
	}
	e.breaker.OnSuccess()
}

// UpdateParams applies a parameter change. While connected this cycles the
// session exactly once: full teardown, then one reconnect. A guard prevents
// the cycle from re-triggering itself.
func (e *Engine) UpdateParams(ctx context.Context, p Params) error {
	e.mu.Lock()
	e.cfg.Persona = p.Persona
	e.cfg.Voice = p.Voice
	e.cfg.WakePhrase = p.WakePhrase
	e.cfg.StopPhrase = p.StopPhrase
	e.cfg.LowLatency = p.LowLatency
	e.cfg.PowerSaving = p.PowerSaving
	connected := e.state == StateConnected || e.state == StateConnecting
	if !connected || e.cyclingParams {
		e.mu.Unlock()
		return nil
	}
	e.cyclingParams = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.cyclingParams = false
		e.mu.Unlock()
	}()

	if err := e.Disconnect(); err != nil {
		return err
	}
	return e.Connect(ctx)
}
