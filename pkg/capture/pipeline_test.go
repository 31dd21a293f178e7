package capture

import (
	"errors"
	"testing"
	"time"

	"github.com/auralink/aura/pkg/frames"
)

type captureSink struct {
	sent []frames.Frame
	err  error
}

func (s *captureSink) send(f frames.Frame) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, f)
	return nil
}

type captureMeter struct {
	volumes []float64
}

func (m *captureMeter) ReportVolume(v float64) {
	m.volumes = append(m.volumes, v)
}

func quietBlock(n int) []float32 {
	b := make([]float32, n)
	for i := range b {
		b[i] = 0.0005 // estimate ~0.002 after gain
	}
	return b
}

func loudBlock(n int, amp float32) []float32 {
	b := make([]float32, n)
	for i := range b {
		b[i] = amp
	}
	return b
}

func TestNoiseGateSuppressionInPowerSave(t *testing.T) {
	sink := &captureSink{}
	p := NewPipeline(Config{SessionID: "s", PowerSave: true, SuppressLimit: 2}, sink.send, nil, nil)

	// Three consecutive quiet blocks: the third exceeds the suppression
	// limit and is not sent.
	for i := 0; i < 2; i++ {
		if !p.ProcessBlock(quietBlock(p.BlockSize())) {
			t.Fatalf("block %d should still be sent", i+1)
		}
	}
	if p.ProcessBlock(quietBlock(p.BlockSize())) {
		t.Fatalf("third quiet block should be suppressed")
	}
	if len(sink.sent) != 2 {
		t.Fatalf("expected 2 sent frames, got %d", len(sink.sent))
	}

	// A loud block resets the counter and is sent.
	if !p.ProcessBlock(loudBlock(p.BlockSize(), 0.015)) { // ~0.06 after gain
		t.Fatalf("loud block should be sent")
	}
	if len(sink.sent) != 3 {
		t.Fatalf("expected 3 sent frames, got %d", len(sink.sent))
	}
}

func TestQuietBlocksStillSentWithoutPowerSave(t *testing.T) {
	sink := &captureSink{}
	p := NewPipeline(Config{SessionID: "s"}, sink.send, nil, nil)

	for i := 0; i < 5; i++ {
		if !p.ProcessBlock(quietBlock(p.BlockSize())) {
			t.Fatalf("quiet block %d should be sent outside power-saving mode", i+1)
		}
	}
}

func TestVolumeMeterFloor(t *testing.T) {
	meter := &captureMeter{}
	p := NewPipeline(Config{SessionID: "s"}, nil, meter, nil)

	p.ProcessBlock(make([]float32, p.BlockSize())) // silence, below floor
	if len(meter.volumes) != 0 {
		t.Fatalf("silence must not be reported to the meter")
	}

	p.ProcessBlock(loudBlock(p.BlockSize(), 0.1))
	if len(meter.volumes) != 1 {
		t.Fatalf("expected one meter report, got %d", len(meter.volumes))
	}
}

func TestSendFailureFlipsConnectedFlag(t *testing.T) {
	sink := &captureSink{err: errors.New("channel closing")}
	p := NewPipeline(Config{SessionID: "s"}, sink.send, nil, nil)

	if p.ProcessBlock(loudBlock(p.BlockSize(), 0.1)) {
		t.Fatalf("send failure should report block unsent")
	}
	if p.Connected() {
		t.Fatalf("failed send must flip the connected flag")
	}

	// Subsequent blocks are skipped without touching the sink.
	sink.err = nil
	if p.ProcessBlock(loudBlock(p.BlockSize(), 0.1)) {
		t.Fatalf("pipeline should stay disconnected")
	}
	if len(sink.sent) != 0 {
		t.Fatalf("no frames should reach the sink after disconnect")
	}
}

func TestVoiceActivityUpdatesLastVoice(t *testing.T) {
	p := NewPipeline(Config{SessionID: "s"}, nil, nil, nil)
	before := p.LastVoice()
	time.Sleep(2 * time.Millisecond)

	p.ProcessBlock(quietBlock(p.BlockSize()))
	if p.LastVoice() != before {
		t.Fatalf("quiet block must not refresh voice activity")
	}

	p.ProcessBlock(loudBlock(p.BlockSize(), 0.1))
	if !p.LastVoice().After(before) {
		t.Fatalf("loud block should refresh voice activity")
	}
}

func TestBlockSizeByMode(t *testing.T) {
	ll := NewPipeline(Config{SessionID: "s"}, nil, nil, nil)
	ps := NewPipeline(Config{SessionID: "s", PowerSave: true}, nil, nil, nil)
	if ll.BlockSize() != DefaultBlockSize || ps.BlockSize() != PowerSaveBlockSize {
		t.Fatalf("unexpected block sizes: %d %d", ll.BlockSize(), ps.BlockSize())
	}
}
