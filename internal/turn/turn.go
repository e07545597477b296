// Package turn implements the turn-taking state machine for full-duplex voice
// sessions.
//
// The Manager is a plain value type: it consumes one speech/silence decision
// per audio frame, updates its streak counters, and reports transitions back
// to the caller. It performs no side effects itself — cancelling jobs,
// draining queues and emitting wire events are the session's responsibility,
// keyed off the returned [Transition]. This keeps the machine deterministic
// and directly testable against frame sequences.
//
// Manager is not safe for concurrent use; the owning session serializes
// access across its ingest and cognition paths.
package turn

import (
	"errors"
	"time"
)

// State is the session's position in the conversational turn cycle.
type State int

const (
	// StateListening: idle, waiting for the caller to start speaking.
	StateListening State = iota

	// StateReceiving: caller audio is being accumulated into the utterance.
	StateReceiving

	// StateThinking: utterance handed to the cognition pipeline; awaiting a reply.
	StateThinking

	// StateSpeaking: reply audio is streaming out to the caller.
	StateSpeaking
)

// String returns the wire-protocol name of the state.
func (s State) String() string {
	switch s {
	case StateListening:
		return "LISTENING"
	case StateReceiving:
		return "RECEIVING"
	case StateThinking:
		return "THINKING"
	case StateSpeaking:
		return "SPEAKING"
	default:
		return "UNKNOWN"
	}
}

// ErrSuperseded is returned by dispatcher-driven transitions when the state
// machine has already moved on, typically because the caller barged in and a
// newer turn owns the session.
var ErrSuperseded = errors.New("turn: superseded by a newer turn")

// Reference windows for threshold derivation: roughly 60 ms of speech opens a
// turn, roughly 500 ms of silence closes one.
const (
	speechWindow  = 60 * time.Millisecond
	silenceWindow = 500 * time.Millisecond
)

// Config holds the streak thresholds, expressed in frames.
type Config struct {
	// SpeechThreshold is the number of consecutive speech frames that opens
	// a turn (or steals one while the agent is thinking or speaking).
	SpeechThreshold int

	// SilenceThreshold is the number of consecutive silence frames that ends
	// the caller's utterance.
	SilenceThreshold int
}

// ConfigForFrameDuration derives frame-count thresholds from the canonical
// time windows. At 20 ms frames this yields 3 speech and 25 silence frames;
// shorter frames scale the counts up so the time behavior stays put.
func ConfigForFrameDuration(frame time.Duration) Config {
	if frame <= 0 {
		frame = 20 * time.Millisecond
	}
	cfg := Config{
		SpeechThreshold:  int(speechWindow / frame),
		SilenceThreshold: int(silenceWindow / frame),
	}
	if cfg.SpeechThreshold < 1 {
		cfg.SpeechThreshold = 1
	}
	if cfg.SilenceThreshold < 1 {
		cfg.SilenceThreshold = 1
	}
	return cfg
}

// Transition records one state change.
type Transition struct {
	From State
	To   State
}

// Manager is the turn-taking state machine for one session.
type Manager struct {
	cfg   Config
	state State

	speechStreak  int
	silenceStreak int
}

// NewManager creates a Manager in StateListening. Non-positive thresholds
// fall back to the 20 ms frame defaults.
func NewManager(cfg Config) *Manager {
	def := ConfigForFrameDuration(20 * time.Millisecond)
	if cfg.SpeechThreshold <= 0 {
		cfg.SpeechThreshold = def.SpeechThreshold
	}
	if cfg.SilenceThreshold <= 0 {
		cfg.SilenceThreshold = def.SilenceThreshold
	}
	return &Manager{cfg: cfg}
}

// State returns the current state.
func (m *Manager) State() State {
	return m.state
}

// ProcessFrame consumes one frame's speech decision, updates the streak
// counters and evaluates the frame-driven transitions. It reports the
// transition that fired, if any. Counters saturate at their thresholds so
// arbitrarily long silence cannot overflow them.
func (m *Manager) ProcessFrame(isSpeech bool) (Transition, bool) {
	if isSpeech {
		if m.speechStreak < m.cfg.SpeechThreshold {
			m.speechStreak++
		}
		m.silenceStreak = 0
	} else {
		if m.silenceStreak < m.cfg.SilenceThreshold {
			m.silenceStreak++
		}
		m.speechStreak = 0
	}

	switch {
	case m.state == StateListening && m.speechStreak >= m.cfg.SpeechThreshold:
		return m.move(StateReceiving), true
	case m.state == StateSpeaking && m.speechStreak >= m.cfg.SpeechThreshold:
		return m.move(StateReceiving), true
	case m.state == StateReceiving && m.silenceStreak >= m.cfg.SilenceThreshold:
		return m.move(StateThinking), true
	case m.state == StateThinking && m.speechStreak >= m.cfg.SpeechThreshold:
		return m.move(StateReceiving), true
	}
	return Transition{}, false
}

// BeginSpeaking moves THINKING to SPEAKING. The dispatcher calls this right
// before enqueuing the first reply frame. Returns [ErrSuperseded] if the
// caller barged in first.
func (m *Manager) BeginSpeaking() (Transition, error) {
	if m.state != StateThinking {
		return Transition{}, ErrSuperseded
	}
	return m.move(StateSpeaking), nil
}

// CompleteTurn moves SPEAKING to LISTENING once the reply has fully drained.
// Returns [ErrSuperseded] if a barge-in already took the session elsewhere.
func (m *Manager) CompleteTurn() (Transition, error) {
	if m.state != StateSpeaking {
		return Transition{}, ErrSuperseded
	}
	return m.move(StateListening), nil
}

// AbortTurn returns a failed turn to LISTENING from either THINKING or
// SPEAKING. Returns [ErrSuperseded] when the state has already moved on, in
// which case the session must not emit anything for the dead turn.
func (m *Manager) AbortTurn() (Transition, error) {
	if m.state != StateThinking && m.state != StateSpeaking {
		return Transition{}, ErrSuperseded
	}
	return m.move(StateListening), nil
}

func (m *Manager) move(to State) Transition {
	tr := Transition{From: m.state, To: to}
	m.state = to
	return tr
}
