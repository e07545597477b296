// This file contains the NativeProvider implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/avishka-hashara/crosstalk/pkg/audio"
	"github.com/avishka-hashara/crosstalk/pkg/provider/stt"
)

// Compile-time assertion that NativeProvider satisfies stt.Provider.
var _ stt.Provider = (*NativeProvider)(nil)

// NativeProvider implements stt.Provider using the whisper.cpp Go bindings
// (CGO), eliminating HTTP overhead entirely. The model is loaded once at
// startup and shared across all transcriptions; each Transcribe call runs in
// its own whisper context, so calls may proceed concurrently.
//
// whisper.cpp inference is a blocking native call and cannot be interrupted
// once started. Cancellation is honoured only between pipeline steps.
type NativeProvider struct {
	model    whisperlib.Model
	language string
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the BCP-47 language code for transcription
// (e.g., "en", "de", "fr"). Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// NewNative creates a NativeProvider that loads the whisper.cpp model from
// the given file path. The model is loaded once and shared across all
// concurrent transcriptions. The caller must call Close when the provider is
// no longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &NativeProvider{
		model:    model,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model. Must be called when the provider is no
// longer needed.
func (p *NativeProvider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Transcribe converts the utterance to 16 kHz float32 mono, runs whisper.cpp
// inference in a fresh context, and returns the concatenated segment text.
func (p *NativeProvider) Transcribe(ctx context.Context, utt stt.Utterance) (string, error) {
	if len(utt.PCM) == 0 {
		return "", nil
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("whisper: context already cancelled: %w", err)
	}

	samples, err := p.prepare(utt)
	if err != nil {
		return "", err
	}
	if len(samples) == 0 {
		return "", nil
	}

	// Each whisper context is NOT thread-safe, but the model can be shared
	// across goroutines.
	wctx, err := p.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}

	lang := utt.Language
	if lang == "" {
		lang = p.language
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", lang, "error", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text != "" {
			parts = append(parts, text)
		}
	}

	return strings.Join(parts, " "), nil
}

// prepare downmixes and resamples the utterance into the 16 kHz float32 mono
// form whisper.cpp requires.
func (p *NativeProvider) prepare(utt stt.Utterance) ([]float32, error) {
	if utt.SampleRate <= 0 {
		return nil, errors.New("whisper: utterance sample rate must be positive")
	}

	pcm, err := audio.BytesToPCM16(utt.PCM)
	if err != nil {
		return nil, fmt.Errorf("whisper: decode utterance: %w", err)
	}
	if utt.Channels == 2 {
		pcm = audio.StereoToMono(pcm)
	} else if utt.Channels > 2 {
		return nil, fmt.Errorf("whisper: unsupported channel count %d", utt.Channels)
	}

	if utt.SampleRate != whisperlib.SampleRate {
		rs, err := audio.NewResampler(utt.SampleRate, whisperlib.SampleRate)
		if err != nil {
			return nil, fmt.Errorf("whisper: resample utterance: %w", err)
		}
		pcm = rs.Resample(pcm)
	}

	return audio.PCM16ToFloat32(pcm), nil
}
