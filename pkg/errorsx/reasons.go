package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	// Capture device.
	ReasonPermissionDenied ReasonCode = "permission_denied"
	ReasonDeviceAcquire    ReasonCode = "device_acquire"
	ReasonDeviceSuspend    ReasonCode = "device_suspend"

	// Realtime channel.
	ReasonTransportOpen  ReasonCode = "transport_open"
	ReasonTransportSend  ReasonCode = "transport_send"
	ReasonTransportClose ReasonCode = "transport_close"

	// Playback path.
	ReasonDecode ReasonCode = "decode"

	// Tool dispatch.
	ReasonToolExec ReasonCode = "tool_exec"
)

// Recoverable reports whether a failure with this reason may be retried by
// the reconnection supervisor. Permission failures are terminal for the
// session and must never be retried.
func (r ReasonCode) Recoverable() bool {
	switch r {
	case ReasonPermissionDenied, ReasonDeviceAcquire:
		return false
	default:
		return true
	}
}
