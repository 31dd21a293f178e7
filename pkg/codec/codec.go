// Package codec converts between the engine's float sample blocks, 16-bit
// PCM wire bytes, and the optional opus framing the remote service may
// negotiate for inbound audio.
package codec

import "math"

// EncodePCM16 converts float32 samples to little-endian 16-bit signed PCM.
// Samples are clamped to [-1, 1] before scaling.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(math.Round(float64(s) * 32767))
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// DecodePCM16 converts little-endian 16-bit signed PCM back to float32.
// A trailing odd byte is ignored.
func DecodePCM16(data []byte) []float32 {
	n := len(data) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(uint16(data[i*2]) | uint16(data[i*2+1])<<8)
		out[i] = float32(v) / 32768
	}
	return out
}

// Decoder converts one opaque inbound chunk to playable 16-bit PCM bytes.
type Decoder interface {
	Name() string
	Decode(chunk []byte) ([]byte, error)
}

// PCMPassthrough treats chunks as raw 16-bit PCM already.
type PCMPassthrough struct{}

func (PCMPassthrough) Name() string                        { return "pcm16" }
func (PCMPassthrough) Decode(chunk []byte) ([]byte, error) { return chunk, nil }
