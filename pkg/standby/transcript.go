// Package standby mutes and wakes the session based on what the user says.
// A rolling transcript window is tested for the configured wake and stop
// phrases; an idle timer is the second path into standby.
package standby

import (
	"strings"
	"sync"
	"unicode/utf8"
)

// DefaultTranscriptCap bounds the rolling window. The buffer exists only for
// phrase containment checks and must never be exposed as conversation
// history.
const DefaultTranscriptCap = 256

// TranscriptBuffer is a rolling window of recognized input text. Appends are
// strictly ordered; when the window outgrows its cap the oldest characters
// fall off the front.
type TranscriptBuffer struct {
	mu  sync.Mutex
	buf strings.Builder
	cap int
}

func NewTranscriptBuffer(capChars int) *TranscriptBuffer {
	if capChars <= 0 {
		capChars = DefaultTranscriptCap
	}
	return &TranscriptBuffer{cap: capChars}
}

// Append adds recognized text to the window, trimming from the front to stay
// within the character cap.
func (t *TranscriptBuffer) Append(text string) {
	if text == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.WriteString(text)
	if t.buf.Len() > t.cap {
		s := t.buf.String()
		// Trim forward to a rune boundary so the window never starts with a
		// torn multi-byte character.
		cut := len(s) - t.cap
		for cut < len(s) && !utf8.RuneStart(s[cut]) {
			cut++
		}
		t.buf.Reset()
		t.buf.WriteString(s[cut:])
	}
}

// Contains reports whether phrase occurs in the window, case-insensitively.
// An empty phrase never matches.
func (t *TranscriptBuffer) Contains(phrase string) bool {
	if phrase == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Contains(strings.ToLower(t.buf.String()), strings.ToLower(phrase))
}

// Clear empties the window.
func (t *TranscriptBuffer) Clear() {
	t.mu.Lock()
	t.buf.Reset()
	t.mu.Unlock()
}

// Len returns the window length in bytes.
func (t *TranscriptBuffer) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.Len()
}
