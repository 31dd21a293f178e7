package liveapi

import "encoding/json"

// Client to server messages.

type clientSetup struct {
	Type       string `json:"type"`
	SessionID  string `json:"session_id"`
	Persona    string `json:"persona,omitempty"`
	Voice      string `json:"voice,omitempty"`
	SampleRate int    `json:"sample_rate"`
	Codec      string `json:"codec"`
	LowLatency bool   `json:"low_latency,omitempty"`
}

type clientAudioFrame struct {
	Type    string `json:"type"`
	Seq     int64  `json:"seq"`
	DataB64 string `json:"data_b64"`
}

type clientToolResult struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	Name   string          `json:"name,omitempty"`
	Status json.RawMessage `json:"status"`
}

type clientKeepalive struct {
	Type string `json:"type"`
}

// Server to client messages. A single envelope covers every event shape; the
// Type field selects which of the optional payloads is populated.

type serverEnvelope struct {
	Type string `json:"type"`

	// type == "audio"
	DataB64 string `json:"data_b64,omitempty"`
	Codec   string `json:"codec,omitempty"`

	// type == "transcript"
	Text  string `json:"text,omitempty"`
	Final bool   `json:"final,omitempty"`

	// type == "tool_call"
	Calls []serverToolCall `json:"calls,omitempty"`

	// type == "error"
	Message string `json:"message,omitempty"`
}

type serverToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

const (
	msgSetup      = "setup"
	msgAudioFrame = "audio_frame"
	msgToolResult = "tool_result"
	msgKeepalive  = "keepalive"

	evtAudio        = "audio"
	evtTranscript   = "transcript"
	evtToolCall     = "tool_call"
	evtTurnComplete = "turn_complete"
	evtInterrupted  = "interrupted"
	evtError        = "error"
)
