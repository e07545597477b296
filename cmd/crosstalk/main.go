// Command crosstalk is the main entry point for the Crosstalk voice agent server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/avishka-hashara/crosstalk/internal/app"
	"github.com/avishka-hashara/crosstalk/internal/config"
	"github.com/avishka-hashara/crosstalk/internal/observe"
	"github.com/avishka-hashara/crosstalk/internal/resilience"
	"github.com/avishka-hashara/crosstalk/pkg/provider/llm"
	"github.com/avishka-hashara/crosstalk/pkg/provider/llm/anyllm"
	oaillm "github.com/avishka-hashara/crosstalk/pkg/provider/llm/openai"
	"github.com/avishka-hashara/crosstalk/pkg/provider/stt"
	"github.com/avishka-hashara/crosstalk/pkg/provider/stt/deepgram"
	groqstt "github.com/avishka-hashara/crosstalk/pkg/provider/stt/groq"
	"github.com/avishka-hashara/crosstalk/pkg/provider/stt/whisper"
	"github.com/avishka-hashara/crosstalk/pkg/provider/tts"
	"github.com/avishka-hashara/crosstalk/pkg/provider/tts/coqui"
	"github.com/avishka-hashara/crosstalk/pkg/provider/tts/elevenlabs"
	"github.com/avishka-hashara/crosstalk/pkg/provider/tts/openaispeech"
	"github.com/avishka-hashara/crosstalk/pkg/provider/vad"
	"github.com/avishka-hashara/crosstalk/pkg/provider/vad/energy"
	"github.com/avishka-hashara/crosstalk/pkg/provider/vad/silero"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "crosstalk: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "crosstalk: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level lives in a LevelVar so a config reload can change it without
	// swapping the handler out from under running sessions.
	logLevel := new(slog.LevelVar)
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("crosstalk starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	// Must come before the first DefaultMetrics call so the instruments bind
	// to the Prometheus-backed meter provider rather than the no-op default.
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate provider chains ───────────────────────────────────────────
	providers, closers, err := buildProviders(cfg, reg, metrics)
	defer closeProviders(closers)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers, app.WithLogger(logger), app.WithMetrics(metrics))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.Empty() {
			slog.Info("config file changed but nothing is hot-reloadable; restart to apply")
			return
		}
		if d.LogLevelChanged {
			logLevel.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		application.ApplyConfig(new, d)
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("server ready; press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages. The set of registered names
// matches [config.ValidProviderNames].
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// The openai provider speaks the first-party API directly; the remaining
	// hosted vendors share any-llm's unified client.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oaillm.WithOrganization(org))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, oaillm.WithTimeout(d))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	})

	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses base_url for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("groq", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []groqstt.Option
		if entry.BaseURL != "" {
			opts = append(opts, groqstt.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, groqstt.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, groqstt.WithLanguage(lang))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, groqstt.WithTimeout(d))
		}
		return groqstt.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("openaispeech", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []openaispeech.Option
		if entry.BaseURL != "" {
			opts = append(opts, openaispeech.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, openaispeech.WithModel(entry.Model))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, openaispeech.WithTimeout(d))
		}
		return openaispeech.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := optString(entry.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		if rate := optInt(entry.Options, "output_sample_rate"); rate > 0 {
			opts = append(opts, coqui.WithOutputSampleRate(rate))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, coqui.WithTimeout(d))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("energy", func(entry config.ProviderEntry) (vad.Engine, error) {
		return energy.New(), nil
	})

	reg.RegisterVAD("silero", func(entry config.ProviderEntry) (vad.Engine, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []silero.Option
		if lib := optString(entry.Options, "library_path"); lib != "" {
			opts = append(opts, silero.WithLibraryPath(lib))
		}
		return silero.New(modelPath, opts...)
	})

	// Debug log of all registered providers.
	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates the provider chains named in cfg and returns
// them in an [app.Providers] struct for the application to consume. STT, LLM
// and TTS are always wrapped in their resilience fallback groups, even when a
// chain has no fallbacks, so every provider call passes a circuit breaker.
//
// The returned closers own every provider that holds external resources (for
// example the native whisper bindings); the caller runs them after the
// application has shut down.
func buildProviders(cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) (*app.Providers, []io.Closer, error) {
	ps := &app.Providers{}
	var closers []io.Closer

	track := func(p any) {
		if c, ok := p.(io.Closer); ok {
			closers = append(closers, c)
		}
	}

	// ── STT chain ─────────────────────────────────────────────────────────────
	sttEntries := cfg.Providers.STT.All()
	sttPrimary, err := reg.CreateSTT(sttEntries[0])
	if err != nil {
		return nil, closers, fmt.Errorf("create stt provider %q: %w", sttEntries[0].Name, err)
	}
	track(sttPrimary)
	sttChain := resilience.NewSTTFallback(sttPrimary, sttEntries[0].Name, resilience.FallbackConfig{Metrics: metrics})
	for _, entry := range sttEntries[1:] {
		p, err := reg.CreateSTT(entry)
		if err != nil {
			return nil, closers, fmt.Errorf("create stt fallback %q: %w", entry.Name, err)
		}
		track(p)
		sttChain.AddFallback(entry.Name, p)
	}
	ps.STT = sttChain
	slog.Info("provider chain ready", "kind", "stt", "primary", sttEntries[0].Name, "fallbacks", len(sttEntries)-1)

	// ── LLM chain ─────────────────────────────────────────────────────────────
	llmEntries := cfg.Providers.LLM.All()
	llmPrimary, err := reg.CreateLLM(llmEntries[0])
	if err != nil {
		return nil, closers, fmt.Errorf("create llm provider %q: %w", llmEntries[0].Name, err)
	}
	track(llmPrimary)
	llmChain := resilience.NewLLMFallback(llmPrimary, llmEntries[0].Name, resilience.FallbackConfig{Metrics: metrics})
	for _, entry := range llmEntries[1:] {
		p, err := reg.CreateLLM(entry)
		if err != nil {
			return nil, closers, fmt.Errorf("create llm fallback %q: %w", entry.Name, err)
		}
		track(p)
		llmChain.AddFallback(entry.Name, p)
	}
	ps.LLM = llmChain
	slog.Info("provider chain ready", "kind", "llm", "primary", llmEntries[0].Name, "fallbacks", len(llmEntries)-1)

	// ── TTS chain ─────────────────────────────────────────────────────────────
	ttsEntries := cfg.Providers.TTS.All()
	ttsPrimary, err := reg.CreateTTS(ttsEntries[0])
	if err != nil {
		return nil, closers, fmt.Errorf("create tts provider %q: %w", ttsEntries[0].Name, err)
	}
	track(ttsPrimary)
	ttsChain := resilience.NewTTSFallback(ttsPrimary, ttsEntries[0].Name, resilience.FallbackConfig{Metrics: metrics})
	for _, entry := range ttsEntries[1:] {
		p, err := reg.CreateTTS(entry)
		if err != nil {
			return nil, closers, fmt.Errorf("create tts fallback %q: %w", entry.Name, err)
		}
		track(p)
		if err := ttsChain.AddFallback(entry.Name, p); err != nil {
			return nil, closers, err
		}
	}
	ps.TTS = ttsChain
	slog.Info("provider chain ready", "kind", "tts", "primary", ttsEntries[0].Name, "fallbacks", len(ttsEntries)-1)

	// ── VAD ───────────────────────────────────────────────────────────────────
	if name := cfg.Providers.VAD.Name; name != "" {
		p, err := reg.CreateVAD(cfg.Providers.VAD)
		if err != nil {
			return nil, closers, fmt.Errorf("create vad provider %q: %w", name, err)
		}
		track(p)
		ps.VAD = p
		slog.Info("provider created", "kind", "vad", "name", name)
	} else {
		ps.VAD = energy.New()
		slog.Info("provider created", "kind", "vad", "name", "energy (default)")
	}

	return ps, closers, nil
}

// closeProviders releases provider-held resources, logging rather than
// failing on individual close errors.
func closeProviders(closers []io.Closer) {
	for _, c := range closers {
		if err := c.Close(); err != nil {
			slog.Warn("provider close error", "err", err)
		}
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       Crosstalk startup summary       ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("STT", chainSummary(cfg.Providers.STT))
	printRow("LLM", chainSummary(cfg.Providers.LLM))
	printRow("TTS", chainSummary(cfg.Providers.TTS))
	vadName := cfg.Providers.VAD.Name
	if vadName == "" {
		vadName = "energy (default)"
	}
	printRow("VAD", vadName)
	printRow("Auth", string(cfg.Auth.Mode))
	voice := cfg.Agent.Voice.VoiceID
	if voice == "" {
		voice = "(provider default)"
	}
	printRow("Voice", voice)
	if cfg.Memory.PostgresDSN != "" {
		printRow("History", "postgres")
	} else {
		printRow("History", "in-memory")
	}
	if cfg.Server.TLS != nil {
		printRow("TLS", "enabled")
	} else {
		printRow("TLS", "(disabled)")
	}
	addr := cfg.Server.ListenAddr
	if addr == "" {
		addr = app.DefaultListenAddr
	}
	printRow("Listen", addr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

// chainSummary renders a provider chain as "name / model (+N)" for the
// startup box.
func chainSummary(chain config.ProviderChain) string {
	s := chain.Name
	if chain.Model != "" {
		s += " / " + chain.Model
	}
	if n := len(chain.Fallbacks); n > 0 {
		s += fmt.Sprintf(" (+%d)", n)
	}
	return s
}

func printRow(kind, value string) {
	if len(value) > 24 {
		value = value[:21] + "…"
	}
	fmt.Printf("║  %-9s : %-24s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

// optInt extracts an integer value from a provider Options map[string]any.
// Returns 0 if the key is absent or the value is not numeric.
func optInt(opts map[string]any, key string) int {
	if opts == nil {
		return 0
	}
	switch n := opts[key].(type) {
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}

// optDuration extracts a duration string (e.g. "30s") from a provider Options
// map. Returns 0 if the key is absent or the value does not parse.
func optDuration(opts map[string]any, key string) time.Duration {
	s := optString(opts, key)
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		slog.Warn("ignoring unparseable provider option", "key", key, "value", s)
		return 0
	}
	return d
}
