package resilience

import (
	"context"
	"fmt"

	"github.com/avishka-hashara/crosstalk/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] with automatic failover across multiple
// TTS backends. Each backend has its own circuit breaker. Every entry must
// emit PCM at the primary's sample rate; [TTSFallback.AddFallback] enforces
// this.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

// Compile-time interface assertion.
var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	if cfg.Kind == "" {
		cfg.Kind = "tts"
	}
	return &TTSFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional TTS provider as a fallback. It rejects
// providers whose output rate differs from the primary's: the reply resampler
// is configured once per turn from SampleRate, so a mismatched fallback would
// play at the wrong pitch after a failover instead of failing loudly here.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) error {
	if want, got := f.SampleRate(), provider.SampleRate(); got != want {
		return fmt.Errorf("resilience: tts fallback %q emits %d Hz, primary emits %d Hz", name, got, want)
	}
	f.group.AddFallback(name, provider)
	return nil
}

// SynthesizeStream consumes text fragments and returns a channel of audio bytes,
// trying the first healthy provider. Only the initial stream setup is covered by
// failover; mid-stream errors are the caller's responsibility.
func (f *TTSFallback) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	return ExecuteWithResult(ctx, f.group, func(p tts.Provider) (<-chan []byte, error) {
		return p.SynthesizeStream(ctx, text, voice)
	})
}

// SampleRate reports the primary's output rate. It does not participate in
// failover because the value is static metadata.
func (f *TTSFallback) SampleRate() int {
	if len(f.group.entries) > 0 {
		return f.group.entries[0].value.SampleRate()
	}
	return 0
}

// ListVoices returns available voices from the first healthy provider.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	return ExecuteWithResult(ctx, f.group, func(p tts.Provider) ([]tts.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
}
