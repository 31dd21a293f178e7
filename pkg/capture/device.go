package capture

import (
	"context"
	"errors"
)

// ErrPermissionDenied is returned by Acquire when microphone access is
// refused. It is terminal for the session: the reconnection supervisor must
// not retry it.
var ErrPermissionDenied = errors.New("capture: permission denied")

// StreamConfig fixes the sample format a device must deliver.
type StreamConfig struct {
	SampleRate int
	Channels   int
	BlockSize  int // samples per block
}

// Device is the microphone collaborator. Acquire may suspend while the
// platform prompts for access.
type Device interface {
	Acquire(ctx context.Context, cfg StreamConfig) (Stream, error)
}

// Stream delivers fixed-size sample blocks at the device rate until closed.
type Stream interface {
	// Blocks yields blocks of exactly BlockSize float samples in [-1, 1].
	// The channel closes when the stream is closed or the device is lost.
	Blocks() <-chan []float32
	// Resume restarts a suspended capture stack. Mobile power management
	// can suspend the device mid-session; the engine calls this from its
	// keepalive timer.
	Resume() error
	Close() error
}

// VolumeMeter is the visual-layer collaborator fed with capture volume
// estimates.
type VolumeMeter interface {
	ReportVolume(v float64)
}
