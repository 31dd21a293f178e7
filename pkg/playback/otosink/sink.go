// Package otosink plays scheduled PCM through the system speaker using oto.
package otosink

import (
	"errors"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/auralink/aura/pkg/errorsx"
)

var errClosed = errors.New("speaker closed")

// Config mirrors the output side of the session's audio parameters.
type Config struct {
	SampleRate int `mapstructure:"sample_rate"`
	Channels   int `mapstructure:"channels"`
	// BufferSize is the device buffer in bytes. Smaller is lower latency
	// but glitches sooner under load.
	BufferSize int `mapstructure:"buffer_size"`
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
	if c.BufferSize <= 0 {
		// ~100ms of 16-bit mono at the default rate.
		c.BufferSize = c.SampleRate * c.Channels * 2 / 10
	}
	return c
}

// Sink implements playback.Output over an oto player. The device pulls PCM
// from an internal buffer via Read; the scheduler has already paced chunks,
// so the buffer drains in arrival order and the target time is advisory.
type Sink struct {
	ctx *oto.Context

	mu      sync.Mutex
	cond    *sync.Cond
	buf     []byte
	player  *oto.Player
	playing bool
	closed  bool
}

// New initializes the speaker context and blocks until the device is ready.
func New(cfg Config) (*Sink, error) {
	cfg = cfg.withDefaults()
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   cfg.SampleRate,
		ChannelCount: cfg.Channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   cfg.BufferSize,
	})
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonDeviceAcquire)
	}
	<-ready
	s := &Sink{ctx: ctx}
	s.cond = sync.NewCond(&s.mu)
	return s, nil
}

// ScheduleAt appends the chunk for playback. The player is created lazily on
// the first chunk so an idle session holds no device handle.
func (s *Sink) ScheduleAt(pcm []byte, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errorsx.Wrap(errClosed, errorsx.ReasonDeviceSuspend)
	}
	s.buf = append(s.buf, pcm...)
	if !s.playing {
		s.playing = true
		s.player = s.ctx.NewPlayer(s)
		s.player.Play()
	}
	s.cond.Signal()
	return nil
}

// Read feeds the oto player. Blocks until PCM is buffered or the sink is
// stopped; on stop it returns silence so the device drains without popping.
func (s *Sink) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.buf) == 0 && !s.closed && s.playing {
		s.cond.Wait()
	}
	if len(s.buf) == 0 {
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}
	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

// Stop discards everything buffered and tears the player down so stale
// audio cannot overlap whatever plays next.
func (s *Sink) Stop() {
	s.mu.Lock()
	s.buf = s.buf[:0]
	if s.player != nil && s.playing {
		s.playing = false
		player := s.player
		s.player = nil
		s.cond.Broadcast()
		s.mu.Unlock()
		player.Pause()
		player.Reset()
		player.Close()
		return
	}
	s.mu.Unlock()
}

// Resume is a no-op for oto; the player is re-created on the next chunk.
func (s *Sink) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errorsx.Wrap(errClosed, errorsx.ReasonDeviceSuspend)
	}
	return nil
}

// Close releases the device permanently.
func (s *Sink) Close() {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	player := s.player
	s.player = nil
	s.mu.Unlock()
	if player != nil {
		player.Close()
	}
}
