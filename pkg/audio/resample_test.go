package audio_test

import (
	"testing"

	"github.com/avishka-hashara/crosstalk/pkg/audio"
)

// ramp produces n samples of a linear ramp starting at base with the given step.
func ramp(n int, base, step int16) []int16 {
	out := make([]int16, n)
	v := base
	for i := range out {
		out[i] = v
		v += step
	}
	return out
}

func TestResampler_SameRatePassthrough(t *testing.T) {
	r, err := audio.NewResampler(16000, 16000)
	if err != nil {
		t.Fatalf("NewResampler: %v", err)
	}
	in := ramp(320, 0, 10)
	out := r.Resample(in)
	if len(out) != len(in) {
		t.Fatalf("length mismatch: got %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("sample %d: got %d, want %d", i, out[i], in[i])
		}
	}
}

func TestResampler_InvalidRates(t *testing.T) {
	if _, err := audio.NewResampler(0, 8000); err == nil {
		t.Error("expected error for zero source rate")
	}
	if _, err := audio.NewResampler(16000, -1); err == nil {
		t.Error("expected error for negative target rate")
	}
}

func TestResampler_Downsample2to1(t *testing.T) {
	r, err := audio.NewResampler(16000, 8000)
	if err != nil {
		t.Fatalf("NewResampler: %v", err)
	}
	in := ramp(320, 0, 4) // one 20 ms chunk at 16 kHz
	out := r.Resample(in)

	// 2:1 on a ramp picks every other sample exactly.
	if len(out) < 159 || len(out) > 160 {
		t.Fatalf("unexpected output length %d for 320 input samples", len(out))
	}
	for i, s := range out {
		if want := in[i*2]; s != want {
			t.Fatalf("sample %d: got %d, want %d", i, s, want)
		}
	}
}

func TestResampler_Upsample1to2(t *testing.T) {
	r, err := audio.NewResampler(8000, 16000)
	if err != nil {
		t.Fatalf("NewResampler: %v", err)
	}
	in := ramp(160, 0, 10)
	out := r.Resample(in)

	// Roughly double, and interpolated midpoints sit between neighbours.
	if len(out) < 318 || len(out) > 320 {
		t.Fatalf("unexpected output length %d for 160 input samples", len(out))
	}
	for i := 0; i+1 < len(out); i++ {
		if out[i+1] < out[i] {
			t.Fatalf("output not monotonic at %d: %d then %d", i, out[i], out[i+1])
		}
	}
}

// Chunked processing must produce the identical sample stream as one big
// call: the continuation state removes any boundary artifacts. 24 kHz to
// 16 kHz is the synthesis-to-wire conversion, and its 1.5 step keeps the
// position arithmetic exact so the comparison can demand equality.
func TestResampler_ChunkBoundaryContinuity(t *testing.T) {
	in := ramp(960, -2000, 7)

	whole, err := audio.NewResampler(24000, 16000)
	if err != nil {
		t.Fatalf("NewResampler: %v", err)
	}
	want := whole.Resample(in)

	chunked, err := audio.NewResampler(24000, 16000)
	if err != nil {
		t.Fatalf("NewResampler: %v", err)
	}
	var got []int16
	for _, chunk := range [][]int16{in[:100], in[100:101], in[101:500], in[500:]} {
		got = append(got, chunked.Resample(chunk)...)
	}

	if len(got) != len(want) {
		t.Fatalf("length mismatch: chunked %d, whole %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sample %d: chunked %d, whole %d", i, got[i], want[i])
		}
	}
}

func TestResampler_Reset(t *testing.T) {
	r, err := audio.NewResampler(16000, 8000)
	if err != nil {
		t.Fatalf("NewResampler: %v", err)
	}
	first := r.Resample(ramp(320, 0, 4))
	r.Reset()
	second := r.Resample(ramp(320, 0, 4))

	if len(first) != len(second) {
		t.Fatalf("length mismatch after reset: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("sample %d differs after reset: %d vs %d", i, first[i], second[i])
		}
	}
}
