package audio

import (
	"fmt"
	"math"
)

// Resampler converts 16-bit mono PCM between sample rates using linear
// interpolation. It is streaming and stateful: the last sample and the
// fractional read position are threaded across successive calls so chunk
// boundaries produce no discontinuity. Create one per stream direction;
// not safe for concurrent use.
type Resampler struct {
	srcRate int
	dstRate int
	step    float64

	// Continuation across chunks: prev is the final sample of the previous
	// chunk (virtual index -1 of the next one), pos the fractional position
	// of the next output sample relative to the incoming chunk.
	prev   int16
	pos    float64
	primed bool
}

// NewResampler creates a Resampler from srcRate to dstRate (both in Hz).
func NewResampler(srcRate, dstRate int) (*Resampler, error) {
	if srcRate <= 0 || dstRate <= 0 {
		return nil, fmt.Errorf("audio: resample rates must be positive, got %d -> %d", srcRate, dstRate)
	}
	return &Resampler{
		srcRate: srcRate,
		dstRate: dstRate,
		step:    float64(srcRate) / float64(dstRate),
	}, nil
}

// Resample converts one chunk of mono samples. The returned slice holds every
// output sample whose interpolation window is fully covered by the input seen
// so far; remaining position state is carried into the next call. When the
// source and destination rates match, the input is returned unchanged.
func (r *Resampler) Resample(in []int16) []int16 {
	if r.srcRate == r.dstRate {
		return in
	}
	if len(in) == 0 {
		return nil
	}

	out := make([]int16, 0, int(float64(len(in))/r.step)+2)
	pos := r.pos

	for {
		idx := int(math.Floor(pos))
		if idx+1 >= len(in) {
			break
		}
		frac := pos - float64(idx)
		s0 := r.sampleAt(in, idx)
		s1 := r.sampleAt(in, idx+1)
		out = append(out, int16(float64(s0)*(1-frac)+float64(s1)*frac))
		pos += r.step
	}

	r.prev = in[len(in)-1]
	r.primed = true
	r.pos = pos - float64(len(in))
	return out
}

// sampleAt reads the virtual input stream: index -1 is the carried-over final
// sample of the previous chunk.
func (r *Resampler) sampleAt(in []int16, idx int) int16 {
	if idx < 0 {
		if !r.primed {
			return in[0]
		}
		return r.prev
	}
	return in[idx]
}

// Reset clears the continuation state, as if no audio had been seen. Use when
// the same Resampler is reused for an unrelated stream.
func (r *Resampler) Reset() {
	r.prev = 0
	r.pos = 0
	r.primed = false
}

// SourceRate returns the configured input rate in Hz.
func (r *Resampler) SourceRate() int { return r.srcRate }

// TargetRate returns the configured output rate in Hz.
func (r *Resampler) TargetRate() int { return r.dstRate }
