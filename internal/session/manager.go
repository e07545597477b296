package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/avishka-hashara/crosstalk/internal/observe"
	"github.com/avishka-hashara/crosstalk/internal/transport"
	"github.com/avishka-hashara/crosstalk/internal/turn"
	"github.com/avishka-hashara/crosstalk/pkg/provider/vad"
)

// Manager runs one Session per accepted call and tracks the live set. It
// holds the pieces every session shares: the VAD engine, the cognition
// dispatcher and the tuning knobs from configuration.
type Manager struct {
	vadEngine vad.Engine
	disp      Dispatcher

	logger  *slog.Logger
	metrics *observe.Metrics

	// mu guards the live set and the tuning fields below, which Retune may
	// swap on a config reload.
	mu       sync.Mutex
	sessions map[string]*Session

	speechHang  time.Duration
	silenceHang time.Duration

	energyThreshold float64
	smoothing       float64
	speechGate      float64
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithHangWindows overrides the time a speech or silence streak must last
// before it flips the turn state. Zero keeps the built-in window.
func WithHangWindows(speech, silence time.Duration) ManagerOption {
	return func(m *Manager) {
		m.speechHang = speech
		m.silenceHang = silence
	}
}

// WithVADTuning sets the energy threshold, smoothing factor and speech gate
// handed to new VAD sessions. Zeroes select the engine defaults.
func WithVADTuning(energyThreshold, smoothing, speechGate float64) ManagerOption {
	return func(m *Manager) {
		m.energyThreshold = energyThreshold
		m.smoothing = smoothing
		m.speechGate = speechGate
	}
}

// WithManagerLogger sets the base logger passed to sessions.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// WithManagerMetrics sets the metrics sink passed to sessions.
func WithManagerMetrics(metrics *observe.Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = metrics }
}

// NewManager assembles a session manager over a VAD engine and a dispatcher.
func NewManager(vadEngine vad.Engine, disp Dispatcher, opts ...ManagerOption) *Manager {
	m := &Manager{
		vadEngine: vadEngine,
		disp:      disp,
		sessions:  make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	return m
}

// Serve runs one session over an accepted, already authenticated connection
// and blocks until it ends. The tuning in force when the call arrives stays
// with the session for its whole life.
func (m *Manager) Serve(ctx context.Context, conn Conn, userID string, profile transport.Profile) error {
	m.mu.Lock()
	vadCfg := vad.Config{
		SampleRate:      profile.SampleRate,
		Encoding:        profile.Encoding,
		EnergyThreshold: m.energyThreshold,
		Smoothing:       m.smoothing,
		SpeechGate:      m.speechGate,
	}
	turnCfg := m.turnConfig(profile)
	m.mu.Unlock()

	vadSession, err := m.vadEngine.NewSession(vadCfg)
	if err != nil {
		conn.CloseWithError("vad unavailable")
		return fmt.Errorf("session: start vad: %w", err)
	}

	s := New(conn, vadSession, m.disp, userID, profile,
		WithTurnConfig(turnCfg),
		WithLogger(m.logger),
		WithMetrics(m.metrics),
	)

	m.register(s)
	defer m.unregister(s)
	return s.Run(ctx)
}

// Retune replaces the hang windows and VAD tuning handed to sessions that
// start after the call, for live config reloads. Zero values keep meaning
// "use the built-in default", exactly as at construction.
func (m *Manager) Retune(speechHang, silenceHang time.Duration, energyThreshold, smoothing, speechGate float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.speechHang = speechHang
	m.silenceHang = silenceHang
	m.energyThreshold = energyThreshold
	m.smoothing = smoothing
	m.speechGate = speechGate
}

// Len reports the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// turnConfig derives frame-count thresholds for a profile, applying the
// manager's time-based overrides where set. Callers hold m.mu.
func (m *Manager) turnConfig(profile transport.Profile) turn.Config {
	frame := profile.FrameDuration
	if frame <= 0 {
		frame = 20 * time.Millisecond
	}
	cfg := turn.ConfigForFrameDuration(frame)
	if m.speechHang > 0 {
		cfg.SpeechThreshold = framesIn(m.speechHang, frame)
	}
	if m.silenceHang > 0 {
		cfg.SilenceThreshold = framesIn(m.silenceHang, frame)
	}
	return cfg
}

func framesIn(window, frame time.Duration) int {
	n := int(window / frame)
	if n < 1 {
		n = 1
	}
	return n
}

func (m *Manager) register(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.id] = s
}

func (m *Manager) unregister(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, s.id)
}
