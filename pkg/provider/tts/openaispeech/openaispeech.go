// Package openaispeech provides an OpenAI-backed TTS provider using the
// audio speech endpoint of the OpenAI SDK. It implements the tts.Provider
// interface.
//
// The endpoint runs in batch mode (one HTTP call per input), so
// SynthesizeStream accumulates incoming text into complete sentences and
// dispatches one request per sentence with a small lookahead buffer.
// Responses are requested as raw PCM, which OpenAI serves as 24 kHz 16-bit
// little-endian mono with no container, so no decoding step is needed.
package openaispeech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/avishka-hashara/crosstalk/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const (
	defaultModel = "tts-1"

	// pcmSampleRate is the fixed rate of OpenAI's raw PCM response format.
	pcmSampleRate = 24000

	// sentenceLookaheadBuf controls how many concurrent synthesis requests
	// may be in-flight simultaneously.
	sentenceLookaheadBuf = 4

	// pcmChunkSize is the size of each PCM chunk emitted on the audio channel.
	pcmChunkSize = 4096
)

// OpenAI voice identifiers.
const (
	VoiceAlloy   = "alloy"
	VoiceEcho    = "echo"
	VoiceFable   = "fable"
	VoiceOnyx    = "onyx"
	VoiceNova    = "nova"
	VoiceShimmer = "shimmer"
)

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	model   string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Useful for proxies
// and tests.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithModel sets the TTS model (e.g., "tts-1", "tts-1-hd").
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// Provider implements tts.Provider backed by the OpenAI speech API.
// It is safe for concurrent use.
type Provider struct {
	client oai.Client
	model  string
}

// New creates a new OpenAI speech Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openaispeech: apiKey must not be empty")
	}

	cfg := &config{
		model: defaultModel,
	}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Provider{
		client: oai.NewClient(reqOpts...),
		model:  cfg.model,
	}, nil
}

// SampleRate reports the fixed 24 kHz rate of OpenAI's PCM response format.
func (p *Provider) SampleRate() int {
	return pcmSampleRate
}

// SynthesizeStream consumes text fragments from the text channel, accumulates
// them into complete sentences, and issues one synthesis request per sentence.
// PCM is emitted on the returned channel in the original sentence order.
//
// If voice.ID is empty the "alloy" voice is used. voice.SpeedFactor maps onto
// the API's speed parameter (1.0 when unset).
//
// The returned channel is closed when all text has been synthesised or when
// ctx is cancelled. The caller must drain the channel to prevent goroutine leaks.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	voiceID := voice.ID
	if voiceID == "" {
		voiceID = VoiceAlloy
	}
	speed := voice.SpeedFactor
	if speed == 0 {
		speed = 1.0
	}

	audioCh := tts.SentenceStream(ctx, text, sentenceLookaheadBuf, pcmChunkSize,
		func(ctx context.Context, sentence string) ([]byte, error) {
			return p.synthesize(ctx, sentence, voiceID, speed)
		})
	return audioCh, nil
}

// synthesize performs a single speech request and returns the raw PCM.
func (p *Provider) synthesize(ctx context.Context, sentence, voiceID string, speed float64) ([]byte, error) {
	resp, err := p.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Model:          oai.SpeechModel(p.model),
		Input:          sentence,
		Voice:          oai.AudioSpeechNewParamsVoice(voiceID),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
		Speed:          param.NewOpt(speed),
	})
	if err != nil {
		return nil, fmt.Errorf("openaispeech: speech request: %w", err)
	}
	defer resp.Body.Close()

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openaispeech: read PCM response: %w", err)
	}
	return pcm, nil
}

// ListVoices returns the fixed OpenAI voice catalogue. The API exposes no
// listing endpoint, so the set is maintained here.
func (p *Provider) ListVoices(_ context.Context) ([]tts.VoiceProfile, error) {
	meta := func(gender, description string) map[string]string {
		return map[string]string{"gender": gender, "description": description}
	}
	return []tts.VoiceProfile{
		{ID: VoiceAlloy, Name: "Alloy", Provider: "openai", Metadata: meta("neutral", "Balanced, versatile voice")},
		{ID: VoiceEcho, Name: "Echo", Provider: "openai", Metadata: meta("male", "Clear male voice")},
		{ID: VoiceFable, Name: "Fable", Provider: "openai", Metadata: meta("female", "Expressive, British accent")},
		{ID: VoiceOnyx, Name: "Onyx", Provider: "openai", Metadata: meta("male", "Deep, authoritative voice")},
		{ID: VoiceNova, Name: "Nova", Provider: "openai", Metadata: meta("female", "Warm, friendly voice")},
		{ID: VoiceShimmer, Name: "Shimmer", Provider: "openai", Metadata: meta("female", "Soft, calm voice")},
	}, nil
}
