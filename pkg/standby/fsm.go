package standby

import (
	"sync"
	"time"
)

// State is the connected session's attention substate.
type State int

const (
	StateActive State = iota
	StateStandby
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateStandby:
		return "standby"
	default:
		return "unknown"
	}
}

// legacyClosingPhrase predates the configurable stop phrase and is still
// honored so long-time users are not surprised.
const legacyClosingPhrase = "close session"

// DefaultIdleTimeout is how long without voice activity before the session
// drops to standby on its own.
const DefaultIdleTimeout = 30 * time.Second

// StateChange describes one transition.
type StateChange struct {
	FromState State
	ToState   State
	Timestamp time.Time
	Reason    string
}

// StateListener observes standby transitions.
type StateListener interface {
	OnStateChange(event StateChange)
}

// StateListenerFunc adapts a function to StateListener.
type StateListenerFunc func(event StateChange)

func (f StateListenerFunc) OnStateChange(event StateChange) { f(event) }

// Config holds the phrase and timing knobs.
type Config struct {
	// WakePhrase reactivates a standby session. Empty disables
	// phrase-triggered wake; the session then stays in standby.
	WakePhrase string
	// StopPhrase mutes an active session. Empty disables phrase-triggered
	// standby; idle timeout remains the only path in.
	StopPhrase    string
	IdleTimeout   time.Duration
	TranscriptCap int
}

// Machine is the active/standby state machine. Transitions are driven by
// transcript text and by the periodic idle check; callers never set the
// state directly.
type Machine struct {
	cfg Config
	now func() time.Time

	mu           sync.RWMutex
	currentState State
	transcript   *TranscriptBuffer
	lastActivity time.Time
	listeners    []StateListener
}

func NewMachine(cfg Config) *Machine {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	return &Machine{
		cfg:          cfg,
		now:          time.Now,
		currentState: StateActive,
		transcript:   NewTranscriptBuffer(cfg.TranscriptCap),
	}
}

// State returns the current substate.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentState
}

// Active reports whether inbound audio should be played and outbound audio
// treated as directed at the assistant.
func (m *Machine) Active() bool {
	return m.State() == StateActive
}

// AddListener registers a listener for transitions.
func (m *Machine) AddListener(l StateListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Feed appends recognized text to the transcript window and evaluates the
// phrase triggers. The buffer is cleared whenever a phrase fires.
func (m *Machine) Feed(text string) {
	m.transcript.Append(text)

	m.mu.RLock()
	state := m.currentState
	m.mu.RUnlock()

	switch state {
	case StateActive:
		if m.transcript.Contains(m.cfg.StopPhrase) {
			m.transition(StateActive, StateStandby, "stop phrase")
			return
		}
		if m.transcript.Contains(legacyClosingPhrase) {
			m.transition(StateActive, StateStandby, "closing phrase")
		}
	case StateStandby:
		if m.transcript.Contains(m.cfg.WakePhrase) {
			m.transition(StateStandby, StateActive, "wake phrase")
		}
	}
}

// MarkActivity records voice activity, deferring the idle timeout.
func (m *Machine) MarkActivity() {
	m.mu.Lock()
	m.lastActivity = m.now()
	m.mu.Unlock()
}

// CheckIdle drops an active session to standby when no voice activity was
// seen within the idle timeout. Invoked from the periodic standby-elapsed
// timer, not the audio path.
func (m *Machine) CheckIdle() {
	m.mu.RLock()
	state := m.currentState
	last := m.lastActivity
	m.mu.RUnlock()

	if state != StateActive || last.IsZero() {
		return
	}
	if m.now().Sub(last) >= m.cfg.IdleTimeout {
		m.transition(StateActive, StateStandby, "idle timeout")
	}
}

// ClearTranscript empties the rolling window, used at turn completion.
func (m *Machine) ClearTranscript() {
	m.transcript.Clear()
}

// Reset puts the machine back to active with fresh buffers, used at session
// open.
func (m *Machine) Reset() {
	m.transcript.Clear()
	m.mu.Lock()
	m.currentState = StateActive
	m.lastActivity = m.now()
	m.mu.Unlock()
}

// transition performs a guarded state change. The transcript is cleared and,
// on wake, last-activity is refreshed before listeners run.
func (m *Machine) transition(from, to State, reason string) {
	m.mu.Lock()
	if m.currentState != from {
		m.mu.Unlock()
		return
	}
	m.currentState = to
	if to == StateActive {
		m.lastActivity = m.now()
	}
	event := StateChange{
		FromState: from,
		ToState:   to,
		Timestamp: m.now(),
		Reason:    reason,
	}
	listeners := make([]StateListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	m.transcript.Clear()
	for _, l := range listeners {
		l.OnStateChange(event)
	}
}
