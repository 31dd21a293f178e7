package playback

import "time"

// Clock is the monotonic output clock playback is scheduled against.
type Clock interface {
	Now() time.Time
}

// RealClock reads the wall clock; time.Time carries a monotonic reading on
// every platform the engine targets.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// Output is the render device collaborator. It accepts decoded PCM16 buffers
// scheduled at future timestamps on the Clock.
type Output interface {
	// ScheduleAt queues pcm to start playing at the given instant. Buffers
	// arrive in non-decreasing start order and never overlap.
	ScheduleAt(pcm []byte, at time.Time) error
	// Stop discards anything scheduled but not yet played.
	Stop()
	// Resume restarts a suspended output stack (keepalive path).
	Resume() error
}
