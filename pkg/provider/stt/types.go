package stt

import "time"

// Utterance is a complete spoken segment awaiting transcription.
type Utterance struct {
	// PCM is raw 16-bit signed little-endian PCM audio.
	PCM []byte

	// SampleRate is the audio sample rate in Hz. Common values: 8000
	// (telephony) and 16000 (STT-optimised mono).
	SampleRate int

	// Channels is the number of interleaved channels. Zero is treated as
	// mono. Providers may downmix multi-channel audio internally.
	Channels int

	// Language is an optional BCP-47 language hint (e.g., "en", "de").
	// An empty string falls back to the provider's configured default.
	Language string
}

// Duration returns the play time of the utterance, or zero if the format
// fields are not filled in.
func (u Utterance) Duration() time.Duration {
	ch := u.Channels
	if ch <= 0 {
		ch = 1
	}
	if u.SampleRate <= 0 {
		return 0
	}
	samples := len(u.PCM) / 2 / ch
	return time.Duration(samples) * time.Second / time.Duration(u.SampleRate)
}
