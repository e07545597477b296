package audio

import (
	"fmt"
	"math"
)

// BytesToPCM16 unpacks little-endian 16-bit PCM bytes into samples.
// Returns an error on odd-length input rather than silently truncating,
// because a misaligned stream corrupts every subsequent sample.
func BytesToPCM16(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("audio: pcm byte length %d is not sample-aligned", len(data))
	}
	pcm := make([]int16, len(data)/2)
	for i := range pcm {
		pcm[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return pcm, nil
}

// PCM16ToBytes packs samples into little-endian 16-bit PCM bytes.
func PCM16ToBytes(pcm []int16) []byte {
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// RMS computes the root-mean-square amplitude of the samples. Returns 0 for
// an empty slice.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sumSq float64
	for _, s := range samples {
		f := float64(s)
		sumSq += f * f
	}
	return math.Sqrt(sumSq / float64(len(samples)))
}

// PCM16ToFloat32 normalises 16-bit samples to float32 in [-1, 1], the input
// format expected by neural speech models.
func PCM16ToFloat32(pcm []int16) []float32 {
	out := make([]float32, len(pcm))
	for i, s := range pcm {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// StereoToMono downmixes interleaved stereo samples by averaging each pair.
// Odd trailing samples are dropped.
func StereoToMono(pcm []int16) []int16 {
	mono := make([]int16, len(pcm)/2)
	for i := range mono {
		// Average in int32 to avoid overflow on full-scale peaks.
		mono[i] = int16((int32(pcm[i*2]) + int32(pcm[i*2+1])) / 2)
	}
	return mono
}
