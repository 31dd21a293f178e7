package codec

import "testing"

func TestEncodePCM16Clamps(t *testing.T) {
	out := EncodePCM16([]float32{0, 1.5, -2.0})
	if len(out) != 6 {
		t.Fatalf("expected 6 bytes, got %d", len(out))
	}
	// 1.5 clamps to 1.0 -> 32767.
	if v := int16(uint16(out[2]) | uint16(out[3])<<8); v != 32767 {
		t.Fatalf("expected clamp to 32767, got %d", v)
	}
	// -2.0 clamps to -1.0 -> -32767.
	if v := int16(uint16(out[4]) | uint16(out[5])<<8); v != -32767 {
		t.Fatalf("expected clamp to -32767, got %d", v)
	}
}

func TestPCM16RoundTrip(t *testing.T) {
	in := []float32{0, 0.25, -0.5, 0.99}
	got := DecodePCM16(EncodePCM16(in))
	if len(got) != len(in) {
		t.Fatalf("length mismatch: %d != %d", len(got), len(in))
	}
	for i := range in {
		diff := got[i] - in[i]
		if diff < 0 {
			diff = -diff
		}
		if diff > 1.0/32000 {
			t.Fatalf("sample %d drifted: %f vs %f", i, got[i], in[i])
		}
	}
}

func TestDecodePCM16IgnoresTrailingByte(t *testing.T) {
	got := DecodePCM16([]byte{0, 0, 0xFF})
	if len(got) != 1 {
		t.Fatalf("expected 1 sample, got %d", len(got))
	}
}
