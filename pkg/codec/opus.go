package codec

import (
	"fmt"

	"gopkg.in/hraban/opus.v2"
)

// maxOpusFrameSamples covers a 120 ms frame at 48 kHz, the largest frame
// opus permits.
const maxOpusFrameSamples = 5760

// OpusDecoder decodes opus-framed inbound chunks to 16-bit PCM. One decoder
// instance carries codec state across chunks and must only be used from the
// playback loop.
type OpusDecoder struct {
	dec *opus.Decoder
	ch  int
	pcm []int16
}

func NewOpusDecoder(sampleRate, channels int) (*OpusDecoder, error) {
	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("create opus decoder: %w", err)
	}
	return &OpusDecoder{
		dec: dec,
		ch:  channels,
		pcm: make([]int16, maxOpusFrameSamples*channels),
	}, nil
}

func (d *OpusDecoder) Name() string { return "opus" }

func (d *OpusDecoder) Decode(chunk []byte) ([]byte, error) {
	// Decode reports samples per channel; the pcm slice is interleaved.
	n, err := d.dec.Decode(chunk, d.pcm)
	if err != nil {
		return nil, fmt.Errorf("opus decode: %w", err)
	}
	total := n * d.ch
	out := make([]byte, total*2)
	for i := 0; i < total; i++ {
		out[i*2] = byte(d.pcm[i])
		out[i*2+1] = byte(d.pcm[i] >> 8)
	}
	return out, nil
}

var _ Decoder = (*OpusDecoder)(nil)
var _ Decoder = PCMPassthrough{}
