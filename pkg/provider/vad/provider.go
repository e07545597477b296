// Package vad defines the Engine interface for voice activity detection
// backends.
//
// A VAD engine maps individual audio frames to speech probabilities. It is
// surfaced as a stateful, per-stream session: each session carries its own
// smoothing or model state so that concurrent audio streams are scored
// independently. The turn-taking state machine consumes the per-frame
// probabilities and applies its own hysteresis; engines only score frames,
// they do not decide when a turn starts or ends.
//
// VAD is synchronous by design: ProcessFrame returns immediately with a
// score, making it suitable for the per-frame ingest path that gates STT
// input. Implementations must be safe for concurrent use across different
// sessions. A single SessionHandle is owned by one goroutine and must not be
// shared.
package vad

import "github.com/avishka-hashara/crosstalk/pkg/audio"

// Defaults applied by engines when the corresponding Config field is zero.
const (
	// DefaultEnergyThreshold is the RMS amplitude treated as certain speech
	// by the energy backend, in PCM sample units.
	DefaultEnergyThreshold = 500.0

	// DefaultSmoothing is the exponential smoothing factor: each new score is
	// smoothing*previous + (1-smoothing)*raw.
	DefaultSmoothing = 0.7

	// DefaultSpeechGate is the probability above which a frame counts as
	// speech.
	DefaultSpeechGate = 0.6
)

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz of the frames passed to
	// ProcessFrame. Common values: 8000, 16000.
	SampleRate int

	// Encoding is the byte encoding of incoming frames. Sessions decode
	// frames themselves so the ingest path can hand over wire payloads
	// untouched.
	Encoding audio.Encoding

	// EnergyThreshold is the RMS level mapped to raw probability 1.0 by
	// energy-based engines. Model-based engines ignore it. Zero selects
	// DefaultEnergyThreshold.
	EnergyThreshold float64

	// Smoothing is the exponential smoothing factor in [0,1) applied by
	// engines that smooth their raw scores. Zero selects DefaultSmoothing.
	Smoothing float64

	// SpeechGate is the probability above which IsSpeech is set on the
	// returned event. Zero selects DefaultSpeechGate.
	SpeechGate float64
}

// SessionHandle represents an active VAD session for a single audio stream.
// It is an interface so that test code can supply mock implementations
// without a live engine. Each session maintains its own scoring state; Reset
// clears this state without closing the session.
type SessionHandle interface {
	// ProcessFrame scores a single audio frame. Frames must arrive in stream
	// order. A frame that cannot be decoded scores probability 0 rather than
	// returning an error, so malformed input cannot fake a speech trigger;
	// errors are reserved for misuse such as processing after Close.
	//
	// ProcessFrame is called on the hot per-frame path and must not block.
	ProcessFrame(frame []byte) (VADEvent, error)

	// Reset clears all accumulated scoring state (smoothing history, model
	// context) without closing the session. Use this when the audio stream
	// is interrupted or restarted.
	Reset()

	// Close releases all resources associated with the session. After Close,
	// ProcessFrame returns an error. Calling Close more than once is safe.
	Close() error
}

// Engine is the factory for VAD sessions. It is the top-level interface
// implemented by each backend.
//
// Implementations must be safe for concurrent use: multiple goroutines may
// call NewSession simultaneously to create independent sessions.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration. The
	// session is immediately ready to accept audio frames.
	//
	// Returns an error if the configuration is invalid (e.g., unsupported
	// sample rate or threshold out of range) or if the engine cannot
	// allocate resources for the session.
	NewSession(cfg Config) (SessionHandle, error)
}
