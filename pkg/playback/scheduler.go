// Package playback implements the inbound jitter buffer: a bounded queue of
// opaque response chunks decoded and scheduled for gapless playback in strict
// arrival order, with drop-oldest shedding under lag.
package playback

import (
	"log/slog"
	"sync"
	"time"

	"github.com/auralink/aura/pkg/codec"
	"github.com/auralink/aura/pkg/metrics"
)

const (
	// DefaultMaxBuffer bounds the queue; power-saving mode halves it so a
	// slow device sheds sooner instead of accumulating stale audio.
	DefaultMaxBuffer   = 12
	PowerSaveMaxBuffer = 6
)

type Config struct {
	SessionID  string
	SampleRate int
	Channels   int
	MaxBuffer  int
	PowerSave  bool
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
	if c.MaxBuffer <= 0 {
		if c.PowerSave {
			c.MaxBuffer = PowerSaveMaxBuffer
		} else {
			c.MaxBuffer = DefaultMaxBuffer
		}
	}
	return c
}

// Gate reports whether playback may proceed: the session must be connected
// and in the active substate. Checked before every chunk.
type Gate func() bool

// Scheduler owns the PlaybackQueue. Chunks are enqueued from the dispatch
// loop; Process drains them. A busy flag makes Process a no-op while a drain
// is already running, mirroring the single-active-loop rule.
type Scheduler struct {
	cfg   Config
	dec   codec.Decoder
	out   Output
	clock Clock
	gate  Gate
	obs   metrics.Observer
	log   *slog.Logger

	mu           sync.Mutex
	queue        [][]byte
	busy         bool
	scheduledEnd time.Time
}

func NewScheduler(cfg Config, dec codec.Decoder, out Output, clock Clock, gate Gate, obs metrics.Observer) *Scheduler {
	cfg = cfg.withDefaults()
	if dec == nil {
		dec = codec.PCMPassthrough{}
	}
	if clock == nil {
		clock = RealClock{}
	}
	if gate == nil {
		gate = func() bool { return true }
	}
	if obs == nil {
		obs = metrics.NoopObserver{}
	}
	return &Scheduler{
		cfg:   cfg,
		dec:   dec,
		out:   out,
		clock: clock,
		gate:  gate,
		obs:   obs,
		log:   slog.Default().With("component", "playback"),
	}
}

// Enqueue appends one inbound chunk in arrival order.
func (s *Scheduler) Enqueue(chunk []byte) {
	s.mu.Lock()
	s.queue = append(s.queue, chunk)
	s.mu.Unlock()
}

// Len returns the current queue depth.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Clear empties the queue and stops anything scheduled but unplayed. Used on
// standby entry and session teardown.
func (s *Scheduler) Clear() {
	s.mu.Lock()
	s.queue = nil
	s.scheduledEnd = time.Time{}
	s.mu.Unlock()
	if s.out != nil {
		s.out.Stop()
	}
}

// ResetClock realigns the schedule baseline with the output clock, used when
// the session wakes from standby.
func (s *Scheduler) ResetClock() {
	s.mu.Lock()
	s.scheduledEnd = s.clock.Now()
	s.mu.Unlock()
}

// Process drains the queue once. Re-entrant calls while a drain is running
// are no-ops. Chunks play in strict arrival order; only whole chunks are
// ever dropped, and only the oldest ones.
func (s *Scheduler) Process() {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return
	}
	s.busy = true
	s.shedLocked()
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.busy = false
		s.mu.Unlock()
	}()

	for {
		if !s.gate() {
			// Standby or disconnect mid-loop: drop the backlog and leave.
			s.mu.Lock()
			s.queue = nil
			s.mu.Unlock()
			return
		}
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		chunk := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		pcm, err := s.dec.Decode(chunk)
		if err != nil {
			// A malformed chunk costs only itself.
			s.log.Debug("playback_decode_failed", "error", err.Error())
			continue
		}

		now := s.clock.Now()
		s.mu.Lock()
		start := s.scheduledEnd
		if start.Before(now) {
			start = now
		}
		s.scheduledEnd = start.Add(s.duration(len(pcm)))
		s.mu.Unlock()

		if s.out != nil {
			if err := s.out.ScheduleAt(pcm, start); err != nil {
				s.log.Debug("playback_schedule_failed", "error", err.Error())
				continue
			}
		}
		s.obs.RecordEvent(metrics.MetricsEvent{
			Name:  "playback_start",
			Time:  time.Now(),
			Value: s.duration(len(pcm)).Seconds(),
			Tags:  map[string]string{"session_id": s.cfg.SessionID},
		})
	}
}

// shedLocked applies the overload policy: when the queue outgrows the cap,
// the oldest excess entries are dropped and the schedule baseline jumps to
// now. Playback skips forward onto the freshest audio instead of finishing
// stale audio late.
func (s *Scheduler) shedLocked() {
	excess := len(s.queue) - s.cfg.MaxBuffer
	if excess <= 0 {
		return
	}
	s.queue = append([][]byte(nil), s.queue[excess:]...)
	s.scheduledEnd = s.clock.Now()
	s.obs.RecordEvent(metrics.MetricsEvent{
		Name:  "playback_drop",
		Time:  time.Now(),
		Value: float64(excess),
		Tags:  map[string]string{"session_id": s.cfg.SessionID},
	})
	s.log.Debug("playback_shed", "dropped", excess, "depth", len(s.queue))
}

func (s *Scheduler) duration(pcmBytes int) time.Duration {
	bytesPerSecond := s.cfg.SampleRate * s.cfg.Channels * 2
	return time.Duration(int64(pcmBytes) * int64(time.Second) / int64(bytesPerSecond))
}
