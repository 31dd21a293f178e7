package standby

import (
	"testing"
	"time"
	"unicode/utf8"
)

func TestStopPhraseEntersStandbyAndClearsTranscript(t *testing.T) {
	m := NewMachine(Config{WakePhrase: "hey aura", StopPhrase: "Stop"})
	m.Reset()

	var events []StateChange
	m.AddListener(StateListenerFunc(func(ev StateChange) {
		events = append(events, ev)
	}))

	m.Feed("...please stop now")

	if m.State() != StateStandby {
		t.Fatalf("state = %v, want standby", m.State())
	}
	if m.transcript.Len() != 0 {
		t.Fatalf("transcript not cleared after stop phrase, %d bytes left", m.transcript.Len())
	}
	if len(events) != 1 || events[0].Reason != "stop phrase" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestWakePhraseReactivates(t *testing.T) {
	m := NewMachine(Config{WakePhrase: "Hey Aura", StopPhrase: "stop"})
	m.Reset()
	m.Feed("stop")
	if m.State() != StateStandby {
		t.Fatalf("setup: expected standby, got %v", m.State())
	}

	m.Feed("ok HEY AURA what time is it")

	if m.State() != StateActive {
		t.Fatalf("state = %v, want active after wake phrase", m.State())
	}
	if m.transcript.Len() != 0 {
		t.Fatalf("transcript not cleared after wake")
	}
}

func TestEmptyWakePhraseNeverReactivates(t *testing.T) {
	m := NewMachine(Config{WakePhrase: "", StopPhrase: "stop"})
	m.Reset()
	m.Feed("stop")

	m.Feed("hello hello anyone there")
	m.Feed("wake up please")

	if m.State() != StateStandby {
		t.Fatalf("session woke without a wake phrase configured")
	}
}

func TestEmptyStopPhraseDisablesPhraseStandby(t *testing.T) {
	m := NewMachine(Config{WakePhrase: "hey", StopPhrase: ""})
	m.Reset()

	m.Feed("please stop talking")

	if m.State() != StateActive {
		t.Fatalf("empty stop phrase triggered standby")
	}
}

func TestLegacyClosingPhrase(t *testing.T) {
	m := NewMachine(Config{WakePhrase: "hey", StopPhrase: "halt"})
	m.Reset()

	m.Feed("ok Close Session thanks")

	if m.State() != StateStandby {
		t.Fatalf("legacy closing phrase did not enter standby")
	}
}

func TestIdleTimeout(t *testing.T) {
	m := NewMachine(Config{StopPhrase: "stop", IdleTimeout: 10 * time.Second})
	base := time.Unix(1000, 0)
	now := base
	m.now = func() time.Time { return now }
	m.Reset()

	now = base.Add(5 * time.Second)
	m.CheckIdle()
	if m.State() != StateActive {
		t.Fatalf("went to standby before the idle timeout")
	}

	now = base.Add(11 * time.Second)
	m.CheckIdle()
	if m.State() != StateStandby {
		t.Fatalf("did not enter standby after idle timeout")
	}
}

func TestMarkActivityDefersIdle(t *testing.T) {
	m := NewMachine(Config{IdleTimeout: 10 * time.Second})
	base := time.Unix(2000, 0)
	now := base
	m.now = func() time.Time { return now }
	m.Reset()

	now = base.Add(9 * time.Second)
	m.MarkActivity()

	now = base.Add(15 * time.Second)
	m.CheckIdle()
	if m.State() != StateActive {
		t.Fatalf("idle fired despite recent voice activity")
	}
}

func TestIdleNeverWakesFromStandby(t *testing.T) {
	m := NewMachine(Config{StopPhrase: "stop", IdleTimeout: time.Second})
	base := time.Unix(3000, 0)
	now := base
	m.now = func() time.Time { return now }
	m.Reset()
	m.Feed("stop")

	now = base.Add(time.Hour)
	m.CheckIdle()
	if m.State() != StateStandby {
		t.Fatalf("idle check changed a standby session")
	}
}

func TestTranscriptRollingCap(t *testing.T) {
	tb := NewTranscriptBuffer(8)
	tb.Append("abcdefgh")
	tb.Append("STOP")

	if tb.Len() != 8 {
		t.Fatalf("buffer length %d, want 8", tb.Len())
	}
	if !tb.Contains("stop") {
		t.Fatalf("recent text fell out of the window")
	}
	if tb.Contains("abcd") {
		t.Fatalf("oldest text survived past the cap")
	}
}

func TestTranscriptTrimKeepsRunesWhole(t *testing.T) {
	tb := NewTranscriptBuffer(8)
	// 11 bytes; a byte-exact trim would cut through the é.
	tb.Append("xxé2345678")

	tb.mu.Lock()
	window := tb.buf.String()
	tb.mu.Unlock()
	if !utf8.ValidString(window) {
		t.Fatalf("trim left invalid UTF-8: %q", window)
	}
	if tb.Len() > 8 {
		t.Fatalf("buffer length %d exceeds cap", tb.Len())
	}
	if !tb.Contains("2345678") {
		t.Fatalf("recent text fell out of the window")
	}
}
