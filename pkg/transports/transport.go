package transports

import (
	"context"

	"github.com/auralink/aura/pkg/frames"
)

// Transport owns the realtime channel to the remote speech service. Outbound
// audio and tool results go through Send; everything the service emits
// (response audio, transcripts, tool calls, turn signals, close/error)
// arrives on Recv as typed frames consumed by a single dispatch loop.
// Implementations are responsible for their own network lifecycle.
type Transport interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Recv() <-chan frames.Frame
	Send(frames.Frame) error
}

// SessionParams is the subset of engine configuration the remote service
// needs to shape its responses.
type SessionParams struct {
	SessionID  string
	Persona    string
	Voice      string
	SampleRate int
	Codec      string
	LowLatency bool
}

// ReadyReporter allows transports to expose readiness metadata for
// informational logging only.
type ReadyReporter interface {
	ReadyFields() map[string]any
}
