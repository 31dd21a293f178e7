package playback

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/auralink/aura/pkg/codec"
	"github.com/auralink/aura/pkg/metrics"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type scheduled struct {
	pcm []byte
	at  time.Time
}

type recordingOutput struct {
	mu      sync.Mutex
	played  []scheduled
	stopped int
}

func (o *recordingOutput) ScheduleAt(pcm []byte, at time.Time) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.played = append(o.played, scheduled{pcm: pcm, at: at})
	return nil
}

func (o *recordingOutput) Stop() {
	o.mu.Lock()
	o.stopped++
	o.mu.Unlock()
}

func (o *recordingOutput) Resume() error { return nil }

type failingDecoder struct {
	failOn map[int]bool
	calls  int
}

func (d *failingDecoder) Name() string { return "failing" }

func (d *failingDecoder) Decode(data []byte) ([]byte, error) {
	d.calls++
	if d.failOn[d.calls] {
		return nil, errors.New("bad chunk")
	}
	return data, nil
}

func chunkOf(b byte, n int) []byte {
	c := make([]byte, n)
	for i := range c {
		c[i] = b
	}
	return c
}

func TestProcessPlaysInArrivalOrder(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	out := &recordingOutput{}
	s := NewScheduler(Config{SessionID: "s1", SampleRate: 16000}, codec.PCMPassthrough{}, out, clock, nil, metrics.NoopObserver{})

	for i := byte(0); i < 4; i++ {
		s.Enqueue(chunkOf(i, 640))
	}
	s.Process()

	if len(out.played) != 4 {
		t.Fatalf("played %d chunks, want 4", len(out.played))
	}
	for i, p := range out.played {
		if p.pcm[0] != byte(i) {
			t.Fatalf("chunk %d played out of order: got marker %d", i, p.pcm[0])
		}
	}
	// 640 bytes of mono pcm16 at 16k is 20ms; starts must be back to back.
	for i := 1; i < len(out.played); i++ {
		gap := out.played[i].at.Sub(out.played[i-1].at)
		if gap != 20*time.Millisecond {
			t.Fatalf("gap between chunk %d and %d is %v, want 20ms", i-1, i, gap)
		}
	}
}

func TestOverflowDropsOldestAndResetsSchedule(t *testing.T) {
	clock := &fakeClock{now: time.Unix(2000, 0)}
	out := &recordingOutput{}
	obs := metrics.NewMemoryObserver()
	s := NewScheduler(Config{SessionID: "s1", SampleRate: 16000, MaxBuffer: 3}, codec.PCMPassthrough{}, out, clock, nil, obs)

	// Pretend an earlier drain left the schedule far in the future.
	s.mu.Lock()
	s.scheduledEnd = clock.Now().Add(5 * time.Second)
	s.mu.Unlock()

	for i := byte(0); i < 5; i++ {
		s.Enqueue(chunkOf(i, 320))
	}
	s.Process()

	if len(out.played) != 3 {
		t.Fatalf("played %d chunks, want 3", len(out.played))
	}
	// The two oldest must be gone; survivors are 2, 3, 4.
	for i, p := range out.played {
		if want := byte(i + 2); p.pcm[0] != want {
			t.Fatalf("survivor %d has marker %d, want %d", i, p.pcm[0], want)
		}
	}
	// Schedule snapped back to now, so the first survivor starts immediately.
	if !out.played[0].at.Equal(clock.Now()) {
		t.Fatalf("first survivor scheduled at %v, want %v", out.played[0].at, clock.Now())
	}
	if obs.Count("playback_drop") != 1 {
		t.Fatalf("expected one playback_drop event, got %d", obs.Count("playback_drop"))
	}
}

func TestDecodeFailureDropsOnlyThatChunk(t *testing.T) {
	clock := &fakeClock{now: time.Unix(3000, 0)}
	out := &recordingOutput{}
	dec := &failingDecoder{failOn: map[int]bool{2: true}}
	s := NewScheduler(Config{SessionID: "s1", SampleRate: 16000}, dec, out, clock, nil, metrics.NoopObserver{})

	for i := byte(0); i < 3; i++ {
		s.Enqueue(chunkOf(i, 320))
	}
	s.Process()

	if len(out.played) != 2 {
		t.Fatalf("played %d chunks, want 2", len(out.played))
	}
	if out.played[0].pcm[0] != 0 || out.played[1].pcm[0] != 2 {
		t.Fatalf("wrong survivors: markers %d, %d", out.played[0].pcm[0], out.played[1].pcm[0])
	}
}

func TestGateClearsQueueMidLoop(t *testing.T) {
	clock := &fakeClock{now: time.Unix(4000, 0)}
	out := &recordingOutput{}
	var calls int
	gate := func() bool {
		calls++
		// Allow the first two chunks, then drop to standby.
		return calls <= 2
	}
	s := NewScheduler(Config{SessionID: "s1", SampleRate: 16000}, codec.PCMPassthrough{}, out, clock, gate, metrics.NoopObserver{})

	for i := byte(0); i < 5; i++ {
		s.Enqueue(chunkOf(i, 320))
	}
	s.Process()

	if len(out.played) != 2 {
		t.Fatalf("played %d chunks before standby, want 2", len(out.played))
	}
	if s.Len() != 0 {
		t.Fatalf("queue not cleared on standby, %d left", s.Len())
	}
}

func TestProcessReentrancyIsNoOp(t *testing.T) {
	clock := &fakeClock{now: time.Unix(5000, 0)}
	out := &recordingOutput{}
	s := NewScheduler(Config{SessionID: "s1", SampleRate: 16000}, codec.PCMPassthrough{}, out, clock, nil, metrics.NoopObserver{})

	s.mu.Lock()
	s.busy = true
	s.mu.Unlock()

	s.Enqueue(chunkOf(1, 320))
	s.Process()

	if len(out.played) != 0 {
		t.Fatalf("re-entrant Process drained the queue")
	}
	if s.Len() != 1 {
		t.Fatalf("queue depth %d, want 1", s.Len())
	}
}

func TestClearStopsOutput(t *testing.T) {
	clock := &fakeClock{now: time.Unix(6000, 0)}
	out := &recordingOutput{}
	s := NewScheduler(Config{SessionID: "s1", SampleRate: 16000}, codec.PCMPassthrough{}, out, clock, nil, metrics.NoopObserver{})

	s.Enqueue(chunkOf(1, 320))
	s.Clear()

	if s.Len() != 0 {
		t.Fatalf("queue depth %d after Clear, want 0", s.Len())
	}
	if out.stopped != 1 {
		t.Fatalf("output stopped %d times, want 1", out.stopped)
	}
}

func TestPowerSaveDefaultCap(t *testing.T) {
	s := NewScheduler(Config{PowerSave: true}, nil, nil, nil, nil, nil)
	if s.cfg.MaxBuffer != PowerSaveMaxBuffer {
		t.Fatalf("power-save cap %d, want %d", s.cfg.MaxBuffer, PowerSaveMaxBuffer)
	}
	s = NewScheduler(Config{}, nil, nil, nil, nil, nil)
	if s.cfg.MaxBuffer != DefaultMaxBuffer {
		t.Fatalf("default cap %d, want %d", s.cfg.MaxBuffer, DefaultMaxBuffer)
	}
}
