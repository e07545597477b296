// Package app wires all Crosstalk subsystems into a running HTTP server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves until the context is cancelled, and Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithStore, WithDecoder,
// etc.). When an option is not provided, New creates real implementations
// from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/avishka-hashara/crosstalk/internal/auth"
	"github.com/avishka-hashara/crosstalk/internal/cognition"
	"github.com/avishka-hashara/crosstalk/internal/config"
	"github.com/avishka-hashara/crosstalk/internal/health"
	"github.com/avishka-hashara/crosstalk/internal/observe"
	"github.com/avishka-hashara/crosstalk/internal/session"
	"github.com/avishka-hashara/crosstalk/pkg/memory"
	memorymock "github.com/avishka-hashara/crosstalk/pkg/memory/mock"
	"github.com/avishka-hashara/crosstalk/pkg/memory/postgres"
	"github.com/avishka-hashara/crosstalk/pkg/provider/llm"
	"github.com/avishka-hashara/crosstalk/pkg/provider/stt"
	"github.com/avishka-hashara/crosstalk/pkg/provider/tts"
	"github.com/avishka-hashara/crosstalk/pkg/provider/vad"
)

// DefaultListenAddr is used when server.listen_addr is left empty.
const DefaultListenAddr = ":8080"

// Providers holds one interface value per provider slot. All four are
// required; main.go populates them via the config registry and wraps the
// cognition providers in their fallback chains.
type Providers struct {
	STT stt.Provider
	LLM llm.Provider
	TTS tts.Provider
	VAD vad.Engine
}

// App owns all subsystem lifetimes and serves the voice mediation endpoints.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems, initialised in New and torn down in Shutdown.
	decoder    auth.TokenDecoder
	store      memory.ConversationStore
	pg         *postgres.Store // nil when history is not persisted
	dispatcher *cognition.Dispatcher
	sessions   *session.Manager

	metrics *observe.Metrics
	logger  *slog.Logger

	mux *http.ServeMux
	srv *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a conversation store instead of creating one from config.
func WithStore(s memory.ConversationStore) Option {
	return func(a *App) { a.store = s }
}

// WithDecoder injects a token decoder instead of creating one from config.
func WithDecoder(d auth.TokenDecoder) Option {
	return func(a *App) { a.decoder = d }
}

// WithMetrics injects a metrics bundle shared with the rest of the process.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogger injects the logger used by all subsystems.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry and wrapped in
// fallback chains). Use Option functions to inject test doubles.
//
// New performs all initialisation synchronously: token decoder, conversation
// store connection, cognition dispatcher, session manager, and HTTP routes.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.STT == nil || providers.LLM == nil || providers.TTS == nil || providers.VAD == nil {
		return nil, fmt.Errorf("app: stt, llm, tts and vad providers are all required")
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Token decoder ─────────────────────────────────────────────────
	if err := a.initAuth(); err != nil {
		return nil, fmt.Errorf("app: init auth: %w", err)
	}

	// ── 2. Conversation store ────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 3. Cognition dispatcher ──────────────────────────────────────────
	a.initDispatcher()

	// ── 4. Session manager ───────────────────────────────────────────────
	a.initSessions()

	// ── 5. HTTP routes ───────────────────────────────────────────────────
	a.initRoutes()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initAuth builds the token decoder from the auth config.
func (a *App) initAuth() error {
	if a.decoder != nil {
		return nil // injected
	}

	switch a.cfg.Auth.Mode {
	case config.AuthJWT:
		d, err := auth.NewJWTDecoder([]byte(a.cfg.Auth.Secret))
		if err != nil {
			return err
		}
		a.decoder = d
	case config.AuthStatic:
		a.decoder = auth.StaticDecoder(a.cfg.Auth.Tokens)
	default:
		return fmt.Errorf("unsupported auth mode %q", a.cfg.Auth.Mode)
	}
	return nil
}

// initStore connects the PostgreSQL conversation store, or falls back to the
// in-memory store when no DSN is configured.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil // injected
	}

	dsn := a.cfg.Memory.PostgresDSN
	if dsn == "" {
		a.store = memorymock.NewStore()
		a.logger.Info("conversation history held in memory only; set memory.postgres_dsn to persist")
		return nil
	}

	st, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		return err
	}
	a.store = st
	a.pg = st
	a.closers = append(a.closers, func() error {
		st.Close()
		return nil
	})
	return nil
}

// initDispatcher assembles the cognition pipeline from the agent config.
// Zero config values fall through to the dispatcher's own defaults.
func (a *App) initDispatcher() {
	voice := voiceProfile(a.cfg.Agent.Voice)

	opts := []cognition.Option{
		cognition.WithStageTimeouts(
			a.cfg.Agent.Timeouts.STTDuration(),
			a.cfg.Agent.Timeouts.LLMDuration(),
			a.cfg.Agent.Timeouts.TTSDuration(),
		),
		cognition.WithLogger(a.logger),
		cognition.WithMetrics(a.metrics),
	}
	if p := a.cfg.Agent.SystemPrompt; p != "" {
		opts = append(opts, cognition.WithSystemPrompt(p))
	}
	if lang := a.cfg.Agent.Language; lang != "" {
		opts = append(opts, cognition.WithLanguage(lang))
	}
	if n := a.cfg.Memory.HistoryLimit; n > 0 {
		opts = append(opts, cognition.WithHistoryLimit(n))
	}

	a.dispatcher = cognition.New(a.providers.STT, a.providers.LLM, a.providers.TTS, a.store, voice, opts...)
}

// initSessions builds the session manager with the turn-taking tuning from
// config. Zero values keep the per-profile defaults.
func (a *App) initSessions() {
	a.sessions = session.NewManager(a.providers.VAD, a.dispatcher,
		session.WithHangWindows(a.cfg.Turn.SpeechHangDuration(), a.cfg.Turn.SilenceHangDuration()),
		session.WithVADTuning(a.cfg.Turn.EnergyThreshold, a.cfg.Turn.Smoothing, a.cfg.Turn.SpeechGate),
		session.WithManagerLogger(a.logger),
		session.WithManagerMetrics(a.metrics),
	)
}

// initRoutes builds the HTTP mux: the websocket stream endpoint plus the
// operational surface (health probes and Prometheus metrics).
func (a *App) initRoutes() {
	checkers := []health.Checker{health.Synthesis(a.providers.TTS)}
	if a.pg != nil {
		checkers = append(checkers, health.Database(a.pg))
	}

	ops := http.NewServeMux()
	health.New(checkers...).Register(ops)
	ops.Handle("GET /metrics", promhttp.Handler())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/session/{profile}", a.handleStream)
	// The stream endpoint hijacks its connection for the websocket, so the
	// request middleware only wraps the operational surface.
	mux.Handle("/", observe.Middleware(a.metrics)(ops))

	a.mux = mux
}

// Handler returns the app's HTTP handler. Exposed for tests that want to
// serve the app from an httptest server instead of a real listener.
func (a *App) Handler() http.Handler {
	return a.mux
}

// ApplyConfig pushes a reloaded configuration into the running subsystems.
// Sessions already on a call keep the tuning they started with; the log
// level is the caller's to apply since the logger lives in main. Changes the
// diff does not track (listen address, providers, auth) need a restart.
func (a *App) ApplyConfig(cfg *config.Config, d config.ConfigDiff) {
	if d.PromptChanged || d.VoiceChanged {
		a.dispatcher.Retune(cfg.Agent.SystemPrompt, cfg.Agent.Language, voiceProfile(cfg.Agent.Voice))
		a.logger.Info("agent settings reloaded",
			"voice_id", cfg.Agent.Voice.VoiceID, "language", cfg.Agent.Language)
	}
	if d.TurnChanged {
		a.sessions.Retune(
			cfg.Turn.SpeechHangDuration(), cfg.Turn.SilenceHangDuration(),
			cfg.Turn.EnergyThreshold, cfg.Turn.Smoothing, cfg.Turn.SpeechGate,
		)
		a.logger.Info("turn tuning reloaded",
			"speech_hang", cfg.Turn.SpeechHang, "silence_hang", cfg.Turn.SilenceHang)
	}
}

// voiceProfile converts a config.VoiceConfig to the provider representation.
func voiceProfile(vc config.VoiceConfig) tts.VoiceProfile {
	return tts.VoiceProfile{
		ID:          vc.VoiceID,
		SpeedFactor: vc.SpeedFactor,
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP until ctx is cancelled or the listener fails.
//
// ctx is installed as the server's base context, so cancelling it also
// cancels every in-flight session: http.Server.Shutdown does not wait for
// hijacked websocket connections, the context is what ends them.
func (a *App) Run(ctx context.Context) error {
	addr := a.cfg.Server.ListenAddr
	if addr == "" {
		addr = DefaultListenAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           a.mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	a.srv = srv

	errCh := make(chan error, 1)
	go func() {
		if t := a.cfg.Server.TLS; t != nil {
			errCh <- srv.ListenAndServeTLS(t.CertFile, t.KeyFile)
		} else {
			errCh <- srv.ListenAndServe()
		}
	}()

	a.logger.Info("listening", "addr", addr, "tls", a.cfg.Server.TLS != nil)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears everything down in order: stop accepting connections, wait
// for in-flight sessions to finish their teardown, then run the closers. It
// respects the context deadline; on expiry the remaining steps are skipped
// and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.logger.Info("shutting down", "active_sessions", a.sessions.Len(), "closers", len(a.closers))

		if a.srv != nil {
			if err := a.srv.Shutdown(ctx); err != nil {
				a.logger.Warn("http shutdown error", "error", err)
			}
		}

		// Sessions end via the cancelled base context; give their
		// teardown a moment before closing the store under them.
		for a.sessions.Len() > 0 {
			select {
			case <-ctx.Done():
				a.logger.Warn("shutdown deadline exceeded", "active_sessions", a.sessions.Len())
				shutdownErr = ctx.Err()
				return
			case <-time.After(50 * time.Millisecond):
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.logger.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.logger.Warn("closer error", "index", i, "error", err)
			}
		}

		a.logger.Info("shutdown complete")
	})
	return shutdownErr
}
