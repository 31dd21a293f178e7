// Package capture implements the outbound audio path: block framing, volume
// estimation, the noise gate, PCM16 encoding, and handoff to the transport.
package capture

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/auralink/aura/pkg/codec"
	"github.com/auralink/aura/pkg/frames"
	"github.com/auralink/aura/pkg/metrics"
)

const (
	// DefaultBlockSize is 20 ms at 16 kHz; PowerSaveBlockSize is 60 ms.
	DefaultBlockSize   = 320
	PowerSaveBlockSize = 960

	volumeStride      = 8
	volumeGain        = 4.0
	gateThreshold     = 0.01
	suppressLimit     = 2
	meterFloor        = 0.005
	defaultSampleRate = 16000
)

type Config struct {
	SessionID  string
	SampleRate int
	BlockSize  int
	PowerSave  bool

	// Gate overrides; zero values take the package defaults.
	GateThreshold float64
	SuppressLimit int
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = defaultSampleRate
	}
	if c.BlockSize <= 0 {
		if c.PowerSave {
			c.BlockSize = PowerSaveBlockSize
		} else {
			c.BlockSize = DefaultBlockSize
		}
	}
	if c.GateThreshold <= 0 {
		c.GateThreshold = gateThreshold
	}
	if c.SuppressLimit <= 0 {
		c.SuppressLimit = suppressLimit
	}
	return c
}

// Sink receives encoded outbound frames, normally the transport's Send.
type Sink func(frames.Frame) error

// Pipeline processes one capture block per tick. It is driven from a single
// goroutine; accessors used by the engine's timers are safe from elsewhere.
type Pipeline struct {
	cfg   Config
	sink  Sink
	meter VolumeMeter
	obs   metrics.Observer
	pts   *frames.PTSGen
	log   *slog.Logger

	quietBlocks int
	connected   atomic.Bool

	mu        sync.Mutex
	lastVoice time.Time
	volume    float64
}

func NewPipeline(cfg Config, sink Sink, meter VolumeMeter, obs metrics.Observer) *Pipeline {
	cfg = cfg.withDefaults()
	if obs == nil {
		obs = metrics.NoopObserver{}
	}
	p := &Pipeline{
		cfg:   cfg,
		sink:  sink,
		meter: meter,
		obs:   obs,
		pts:   frames.NewPTSGen(),
		log:   slog.Default().With("component", "capture"),
	}
	p.connected.Store(true)
	p.mu.Lock()
	p.lastVoice = time.Now()
	p.mu.Unlock()
	return p
}

// ProcessBlock runs one capture tick over a sample block and reports whether
// the block was handed to the transport.
func (p *Pipeline) ProcessBlock(samples []float32) bool {
	vol := estimateVolume(samples)

	p.mu.Lock()
	p.volume = vol
	p.mu.Unlock()

	if vol < p.cfg.GateThreshold {
		p.quietBlocks++
		if p.cfg.PowerSave && p.quietBlocks > p.cfg.SuppressLimit {
			return false
		}
	} else {
		p.quietBlocks = 0
		p.mu.Lock()
		p.lastVoice = time.Now()
		p.mu.Unlock()
		p.obs.RecordEvent(metrics.MetricsEvent{
			Name:  "voice_activity",
			Time:  time.Now(),
			Value: vol,
			Tags:  map[string]string{"session_id": p.cfg.SessionID},
		})
	}

	if p.meter != nil && vol > meterFloor {
		p.meter.ReportVolume(vol)
	}

	if !p.connected.Load() || p.sink == nil {
		return false
	}

	data := codec.EncodePCM16(samples)
	f := frames.NewAudioFrameFromPool(p.cfg.SessionID, p.pts.Next(p.cfg.SessionID), data, p.cfg.SampleRate, 1, map[string]string{
		frames.MetaSource: "capture",
	})
	if err := p.sink(f); err != nil {
		// A failing send means the channel is going away. Flip the flag and
		// let the session lifecycle observe the close; never surface this to
		// the capture tick.
		p.connected.Store(false)
		p.log.Debug("capture_send_failed", "error", err.Error())
		return false
	}
	p.obs.RecordEvent(metrics.MetricsEvent{
		Name:  "audio_out",
		Time:  time.Now(),
		Value: vol,
		Tags:  map[string]string{"session_id": p.cfg.SessionID},
	})
	return true
}

// Connected reports whether the outbound path still accepts frames.
func (p *Pipeline) Connected() bool { return p.connected.Load() }

// Volume returns the most recent volume estimate.
func (p *Pipeline) Volume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// LastVoice returns the time of the last block that cleared the noise gate.
func (p *Pipeline) LastVoice() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastVoice
}

// MarkVoice resets the voice-activity clock, used when the session wakes
// from standby.
func (p *Pipeline) MarkVoice(t time.Time) {
	p.mu.Lock()
	p.lastVoice = t
	p.mu.Unlock()
}

// BlockSize returns the configured samples per block.
func (p *Pipeline) BlockSize() int { return p.cfg.BlockSize }

// estimateVolume samples a stride of the block rather than every sample and
// averages absolute magnitude, scaled by a fixed gain.
func estimateVolume(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	n := 0
	for i := 0; i < len(samples); i += volumeStride {
		s := float64(samples[i])
		if s < 0 {
			s = -s
		}
		sum += s
		n++
	}
	v := sum / float64(n) * volumeGain
	if v > 1 {
		v = 1
	}
	return v
}
