package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"groq", "whisper", "whisper-native", "deepgram"},
	"llm": {"openai", "anthropic", "gemini", "groq", "ollama", "deepseek", "mistral", "llamacpp", "llamafile"},
	"tts": {"elevenlabs", "openaispeech", "coqui"},
	"vad": {"energy", "silero"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Auth
	switch {
	case cfg.Auth.Mode == "":
		errs = append(errs, errors.New("auth.mode is required; valid values: jwt, static"))
	case !cfg.Auth.Mode.IsValid():
		errs = append(errs, fmt.Errorf("auth.mode %q is invalid; valid values: jwt, static", cfg.Auth.Mode))
	case cfg.Auth.Mode == AuthJWT && cfg.Auth.Secret == "":
		errs = append(errs, errors.New("auth.secret is required when auth.mode is jwt"))
	case cfg.Auth.Mode == AuthStatic && len(cfg.Auth.Tokens) == 0:
		errs = append(errs, errors.New("auth.tokens must list at least one token when auth.mode is static"))
	}

	// Providers: the cognition trio is mandatory, VAD defaults to the
	// in-process energy engine.
	errs = append(errs, validateChain("stt", cfg.Providers.STT)...)
	errs = append(errs, validateChain("llm", cfg.Providers.LLM)...)
	errs = append(errs, validateChain("tts", cfg.Providers.TTS)...)
	validateProviderName("vad", cfg.Providers.VAD.Name)

	// Agent
	if sf := cfg.Agent.Voice.SpeedFactor; sf != 0 && (sf < 0.5 || sf > 2.0) {
		errs = append(errs, fmt.Errorf("agent.voice.speed_factor %.2f is out of range [0.5, 2.0]", sf))
	}
	errs = append(errs, validateDuration("agent.timeouts.stt", cfg.Agent.Timeouts.STT)...)
	errs = append(errs, validateDuration("agent.timeouts.llm", cfg.Agent.Timeouts.LLM)...)
	errs = append(errs, validateDuration("agent.timeouts.tts", cfg.Agent.Timeouts.TTS)...)

	// Turn taking
	errs = append(errs, validateDuration("turn.speech_hang", cfg.Turn.SpeechHang)...)
	errs = append(errs, validateDuration("turn.silence_hang", cfg.Turn.SilenceHang)...)
	if cfg.Turn.EnergyThreshold < 0 {
		errs = append(errs, fmt.Errorf("turn.energy_threshold %.2f must not be negative", cfg.Turn.EnergyThreshold))
	}
	if s := cfg.Turn.Smoothing; s < 0 || s >= 1 {
		errs = append(errs, fmt.Errorf("turn.smoothing %.2f is out of range [0, 1)", s))
	}
	if g := cfg.Turn.SpeechGate; g < 0 || g > 1 {
		errs = append(errs, fmt.Errorf("turn.speech_gate %.2f is out of range [0, 1]", g))
	}

	// Memory
	if cfg.Memory.HistoryLimit < 0 {
		errs = append(errs, fmt.Errorf("memory.history_limit %d must not be negative", cfg.Memory.HistoryLimit))
	}
	if cfg.Memory.PostgresDSN == "" {
		slog.Warn("memory.postgres_dsn is empty; conversation history will not be persisted")
	}

	return errors.Join(errs...)
}

// validateChain checks one pipeline stage's failover chain: the primary name
// is required, fallback entries must each carry a name, and unknown names are
// warned about.
func validateChain(kind string, chain ProviderChain) []error {
	var errs []error
	if chain.Name == "" {
		errs = append(errs, fmt.Errorf("providers.%s.name is required", kind))
	} else {
		validateProviderName(kind, chain.Name)
	}
	for i, fb := range chain.Fallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.%s.fallbacks[%d].name is required", kind, i))
			continue
		}
		validateProviderName(kind, fb.Name)
	}
	return errs
}

// validateDuration checks that value, if set, parses as a non-negative
// duration string.
func validateDuration(field, value string) []error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s %q is not a valid duration (e.g. \"500ms\", \"10s\")", field, value)}
	}
	if d < 0 {
		return []error{fmt.Errorf("%s %q must not be negative", field, value)}
	}
	return nil
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
