package frames

// Meta keys shared across the engine. Transports populate MetaSessionID and
// MetaTraceID on every inbound frame; the rest are component-specific.
const (
	MetaSessionID = "session_id"
	MetaTraceID   = "trace_id"
	MetaSource    = "source"
	MetaReason    = "reason"

	// Capture pipeline.
	MetaVolume = "volume"

	// Inbound audio.
	MetaCodec = "codec"

	// Tool calls.
	MetaToolCallID = "tool_call_id"
	MetaToolName   = "tool_name"
	MetaToolArgs   = "tool_args"
	MetaToolStatus = "tool_status"
	MetaToolResult = "tool_result"
	MetaToolError  = "tool_error"
)
