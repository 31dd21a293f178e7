package aura

import (
	"time"

	"github.com/google/uuid"

	"github.com/auralink/aura/pkg/transports"
)

// Params are the user-visible knobs that shape one session. Any change while
// connected cycles the session.
type Params struct {
	Persona     string
	Voice       string
	WakePhrase  string
	StopPhrase  string
	LowLatency  bool
	PowerSaving bool
}

func paramsFromConfig(cfg Config) Params {
	return Params{
		Persona:     cfg.Persona,
		Voice:       cfg.Voice,
		WakePhrase:  cfg.WakePhrase,
		StopPhrase:  cfg.StopPhrase,
		LowLatency:  cfg.LowLatency,
		PowerSaving: cfg.PowerSaving,
	}
}

// Session is one connection lifetime. It owns every per-connection buffer and
// is destroyed and recreated on each reconnect; nothing outside the engine
// mutates it.
type Session struct {
	ID        string
	TraceID   string
	Params    Params
	StartedAt time.Time
}

func newSession(p Params) *Session {
	return &Session{
		ID:        uuid.NewString(),
		TraceID:   uuid.NewString(),
		Params:    p,
		StartedAt: time.Now(),
	}
}

func (s *Session) transportParams(sampleRate int, codec string) transports.SessionParams {
	return transports.SessionParams{
		SessionID:  s.ID,
		Persona:    s.Params.Persona,
		Voice:      s.Params.Voice,
		SampleRate: sampleRate,
		Codec:      codec,
		LowLatency: s.Params.LowLatency,
	}
}
