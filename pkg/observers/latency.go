package observers

import (
	"log/slog"
	"sync"
	"time"

	"github.com/auralink/aura/pkg/metrics"
)

// LatencyObserver measures per-turn response latency: from the last outbound
// voice activity to the first scheduled playback of the reply, plus jitter
// buffer residency. Traces are keyed by session and closed on turn_complete.
type LatencyObserver struct {
	mu     sync.Mutex
	traces map[string]*trace
	log    *slog.Logger
}

type trace struct {
	lastVoice  time.Time
	firstChunk time.Time
	firstPlay  time.Time
	traceID    string
}

func NewLatencyObserver(log *slog.Logger) *LatencyObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LatencyObserver{
		traces: make(map[string]*trace),
		log:    log,
	}
}

func (o *LatencyObserver) RecordEvent(ev metrics.MetricsEvent) {
	sessionID := ""
	if ev.Tags != nil {
		sessionID = ev.Tags["session_id"]
	}
	if sessionID == "" {
		return
	}
	o.mu.Lock()
	t := o.traces[sessionID]
	if t == nil {
		t = &trace{}
		o.traces[sessionID] = t
	}
	if t.traceID == "" && ev.Tags != nil {
		t.traceID = ev.Tags["trace_id"]
	}
	switch ev.Name {
	case "voice_activity":
		t.lastVoice = ev.Time
	case "audio_in":
		if t.firstChunk.IsZero() {
			t.firstChunk = ev.Time
		}
	case "playback_start":
		if t.firstPlay.IsZero() {
			t.firstPlay = ev.Time
		}
	case "turn_complete":
		o.logTurnLocked(sessionID, t)
		delete(o.traces, sessionID)
	}
	o.mu.Unlock()
}

func (o *LatencyObserver) logTurnLocked(sessionID string, t *trace) {
	o.log.Info("turn_latency",
		"session_id", sessionID,
		"trace_id", t.traceID,
		"reply_ms", durationMs(t.lastVoice, t.firstPlay),
		"first_chunk_ms", durationMs(t.lastVoice, t.firstChunk),
		"buffer_ms", durationMs(t.firstChunk, t.firstPlay),
	)
}

func durationMs(a, b time.Time) int64 {
	if a.IsZero() || b.IsZero() {
		return -1
	}
	return b.Sub(a).Milliseconds()
}
