// Package audio implements the codec plane of the voice pipeline: ITU-T G.711
// mu-law transcoding, 16-bit PCM packing, streaming sample-rate conversion,
// fixed-cadence frame assembly, and container decoding (RIFF/WAV, Ogg-Opus).
//
// Everything in this package is pure DSP with no transport or session
// knowledge. Lookup tables are process-wide immutable singletons; all per-call
// state (resampler continuation, framer residue) lives in the small stateful
// structs created per stream.
package audio

// G.711 mu-law constants. The bias centers each segment so that the encoder's
// highest-set-bit scan recovers the exponent the decoder applied; the clip
// keeps bias addition inside int16.
const (
	mulawBias = 0x84
	mulawClip = 32635
)

// mulawDecodeTable maps each mu-law byte to its signed 16-bit PCM sample.
// Built once at init; shared read-only across all sessions.
var mulawDecodeTable = buildMulawDecodeTable()

func buildMulawDecodeTable() [256]int16 {
	var table [256]int16
	for b := range 256 {
		u := ^uint8(b)
		sign := u & 0x80
		exponent := (u >> 4) & 0x07
		mantissa := u & 0x0F

		sample := ((int32(mantissa) << 3) + mulawBias) << exponent
		sample -= mulawBias

		if sign != 0 {
			sample = -sample
		}
		if sample > 32767 {
			sample = 32767
		} else if sample < -32768 {
			sample = -32768
		}
		table[b] = int16(sample)
	}
	return table
}

// DecodeMulawSample returns the 16-bit PCM sample for one mu-law byte.
func DecodeMulawSample(b byte) int16 {
	return mulawDecodeTable[b]
}

// EncodeMulawSample compresses one signed 16-bit PCM sample to a mu-law byte.
// Inverse of [DecodeMulawSample] for every code except 0x7F, which collapses
// to zero together with 0xFF and re-encodes as 0xFF.
func EncodeMulawSample(sample int16) byte {
	var sign byte
	s := int32(sample)
	if s < 0 {
		sign = 0x80
		s = -s
	}
	if s > mulawClip {
		s = mulawClip
	}
	s += mulawBias

	exponent := 7
	for mask := int32(0x4000); exponent > 0 && s&mask == 0; exponent-- {
		mask >>= 1
	}
	mantissa := byte(s>>(exponent+3)) & 0x0F

	return ^(sign | byte(exponent)<<4 | mantissa)
}

// DecodeMulaw expands a mu-law byte slice to 16-bit PCM samples.
func DecodeMulaw(data []byte) []int16 {
	pcm := make([]int16, len(data))
	for i, b := range data {
		pcm[i] = mulawDecodeTable[b]
	}
	return pcm
}

// EncodeMulaw compresses 16-bit PCM samples to mu-law bytes.
func EncodeMulaw(pcm []int16) []byte {
	out := make([]byte, len(pcm))
	for i, s := range pcm {
		out[i] = EncodeMulawSample(s)
	}
	return out
}

// DecodeMulawToBytes expands mu-law bytes straight to little-endian 16-bit PCM
// bytes, doubling the length. Convenience for pipelines that carry PCM as raw
// byte payloads.
func DecodeMulawToBytes(data []byte) []byte {
	out := make([]byte, len(data)*2)
	for i, b := range data {
		s := mulawDecodeTable[b]
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// EncodeMulawFromBytes compresses little-endian 16-bit PCM bytes to mu-law,
// halving the length. A trailing odd byte is ignored.
func EncodeMulawFromBytes(pcm []byte) []byte {
	n := len(pcm) / 2
	out := make([]byte, n)
	for i := range n {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = EncodeMulawSample(s)
	}
	return out
}
