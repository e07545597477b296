// Package energy implements vad.Engine with a short-term energy detector.
//
// Each frame is decoded to linear PCM and reduced to its RMS amplitude. The
// raw score is min(1, rms/threshold), then exponentially smoothed against the
// previous score so single loud frames (clicks, pops) do not flip the speech
// gate. The detector needs no model assets and costs one pass over the frame,
// which makes it the default backend for telephone-bandwidth audio.
package energy

import (
	"fmt"
	"math"

	"github.com/avishka-hashara/crosstalk/pkg/audio"
	"github.com/avishka-hashara/crosstalk/pkg/provider/vad"
)

// Engine creates energy-based VAD sessions. The zero value is ready to use.
type Engine struct{}

// New returns an energy VAD engine.
func New() *Engine {
	return &Engine{}
}

// NewSession creates a session scoring frames against cfg. Zero-valued
// threshold, smoothing and gate fields select the package defaults.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	cfg = applyDefaults(cfg)
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("energy: sample rate must be positive, got %d", cfg.SampleRate)
	}
	if !cfg.Encoding.Valid() {
		return nil, fmt.Errorf("energy: unknown encoding %q", cfg.Encoding)
	}
	if cfg.EnergyThreshold <= 0 {
		return nil, fmt.Errorf("energy: threshold must be positive, got %g", cfg.EnergyThreshold)
	}
	if cfg.Smoothing < 0 || cfg.Smoothing >= 1 {
		return nil, fmt.Errorf("energy: smoothing must be in [0,1), got %g", cfg.Smoothing)
	}
	if cfg.SpeechGate <= 0 || cfg.SpeechGate >= 1 {
		return nil, fmt.Errorf("energy: speech gate must be in (0,1), got %g", cfg.SpeechGate)
	}
	return &session{cfg: cfg}, nil
}

var _ vad.Engine = (*Engine)(nil)

func applyDefaults(cfg vad.Config) vad.Config {
	if cfg.EnergyThreshold == 0 {
		cfg.EnergyThreshold = vad.DefaultEnergyThreshold
	}
	if cfg.Smoothing == 0 {
		cfg.Smoothing = vad.DefaultSmoothing
	}
	if cfg.SpeechGate == 0 {
		cfg.SpeechGate = vad.DefaultSpeechGate
	}
	if cfg.Encoding == "" {
		cfg.Encoding = audio.EncodingPCM16
	}
	return cfg
}

// session holds the smoothing state for one audio stream. Owned by a single
// goroutine; no locking.
type session struct {
	cfg    vad.Config
	prev   float64
	closed bool
}

// ProcessFrame scores one frame. Undecodable frames score 0 without touching
// the smoothing state, so a burst of garbage neither triggers speech nor
// erases the recent history.
func (s *session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	if s.closed {
		return vad.VADEvent{}, fmt.Errorf("energy: session is closed")
	}

	samples, err := s.cfg.Encoding.DecodeSamples(frame)
	if err != nil || len(samples) == 0 {
		return vad.VADEvent{}, nil
	}

	raw := math.Min(1, audio.RMS(samples)/s.cfg.EnergyThreshold)
	p := s.cfg.Smoothing*s.prev + (1-s.cfg.Smoothing)*raw
	s.prev = p

	return vad.VADEvent{Probability: p, IsSpeech: p > s.cfg.SpeechGate}, nil
}

// Reset clears the smoothing history.
func (s *session) Reset() {
	s.prev = 0
}

// Close marks the session unusable. Safe to call repeatedly.
func (s *session) Close() error {
	s.closed = true
	return nil
}

var _ vad.SessionHandle = (*session)(nil)
