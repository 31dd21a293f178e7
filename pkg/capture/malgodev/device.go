// Package malgodev implements the capture device collaborator on top of
// miniaudio via malgo. It frames the device's S16 callback data into
// fixed-size float blocks for the capture pipeline.
package malgodev

import (
	"context"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/auralink/aura/pkg/capture"
)

type Device struct {
	mu  sync.Mutex
	ctx *malgo.AllocatedContext
}

func New() *Device {
	return &Device{}
}

func (d *Device) Acquire(ctx context.Context, cfg capture.StreamConfig) (capture.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx == nil {
		mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
		if err != nil {
			return nil, err
		}
		d.ctx = mctx
	}

	s := &stream{
		blockSize: cfg.BlockSize,
		blocks:    make(chan []float32, 8),
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(cfg.Channels)
	deviceConfig.SampleRate = uint32(cfg.SampleRate)

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			s.push(input)
		},
	}
	dev, err := malgo.InitDevice(d.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		if isAccessDenied(err) {
			return nil, capture.ErrPermissionDenied
		}
		return nil, err
	}
	s.device = dev
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, err
	}
	return s, nil
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx != nil {
		_ = d.ctx.Uninit()
		d.ctx.Free()
		d.ctx = nil
	}
	return nil
}

type stream struct {
	device    *malgo.Device
	blockSize int
	blocks    chan []float32

	mu      sync.Mutex
	pending []float32
	closed  bool
}

func (s *stream) Blocks() <-chan []float32 { return s.blocks }

func (s *stream) Resume() error {
	if s.device == nil || s.device.IsStarted() {
		return nil
	}
	return s.device.Start()
}

func (s *stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.device != nil {
		_ = s.device.Stop()
		s.device.Uninit()
	}
	close(s.blocks)
	return nil
}

// push converts S16LE callback bytes to floats and emits full blocks. Blocks
// are dropped when the consumer lags; capture must never stall the device
// callback.
func (s *stream) push(input []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for i := 0; i+1 < len(input); i += 2 {
		v := int16(uint16(input[i]) | uint16(input[i+1])<<8)
		s.pending = append(s.pending, float32(v)/32768)
	}
	for len(s.pending) >= s.blockSize {
		block := make([]float32, s.blockSize)
		copy(block, s.pending[:s.blockSize])
		s.pending = s.pending[s.blockSize:]
		select {
		case s.blocks <- block:
		default:
		}
	}
}

func isAccessDenied(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "access denied") || strings.Contains(msg, "permission")
}
