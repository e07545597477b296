package audio

import (
	"fmt"
	"time"
)

// Encoding identifies the byte-level audio encoding carried on a wire or
// held in a buffer.
type Encoding string

const (
	// EncodingPCM16 is 16-bit little-endian linear PCM, 2 bytes per sample.
	EncodingPCM16 Encoding = "pcm16"

	// EncodingMulaw is 8-bit ITU-T G.711 mu-law, 1 byte per sample.
	EncodingMulaw Encoding = "mulaw"
)

// Valid reports whether e is a known encoding.
func (e Encoding) Valid() bool {
	return e == EncodingPCM16 || e == EncodingMulaw
}

// BytesPerSample returns the storage size of one sample.
func (e Encoding) BytesPerSample() int {
	if e == EncodingMulaw {
		return 1
	}
	return 2
}

// SilenceByte returns the byte that encodes a zero-valued sample, used to pad
// partial frames. For PCM16 this is 0x00; for mu-law it is 0xFF.
func (e Encoding) SilenceByte() byte {
	if e == EncodingMulaw {
		return 0xFF
	}
	return 0x00
}

// FrameBytes returns the byte length of a frame of the given duration at the
// given sample rate: 20 ms at 8 kHz mu-law is 160 bytes, 20 ms at 16 kHz
// PCM16 is 640 bytes.
func (e Encoding) FrameBytes(sampleRate int, d time.Duration) int {
	samples := int(time.Duration(sampleRate) * d / time.Second)
	return samples * e.BytesPerSample()
}

// DecodeSamples converts one encoded frame to linear PCM samples. PCM16 input
// must be sample-aligned; mu-law always is.
func (e Encoding) DecodeSamples(frame []byte) ([]int16, error) {
	switch e {
	case EncodingMulaw:
		return DecodeMulaw(frame), nil
	case EncodingPCM16:
		return BytesToPCM16(frame)
	default:
		return nil, fmt.Errorf("audio: unknown encoding %q", e)
	}
}

// EncodeSamples converts linear PCM samples to the encoded wire form.
func (e Encoding) EncodeSamples(pcm []int16) ([]byte, error) {
	switch e {
	case EncodingMulaw:
		return EncodeMulaw(pcm), nil
	case EncodingPCM16:
		return PCM16ToBytes(pcm), nil
	default:
		return nil, fmt.Errorf("audio: unknown encoding %q", e)
	}
}
