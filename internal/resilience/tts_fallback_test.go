package resilience

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/avishka-hashara/crosstalk/pkg/provider/tts"
	ttsmock "github.com/avishka-hashara/crosstalk/pkg/provider/tts/mock"
)

// ttsChain builds a two-entry chain; both mocks emit at the same rate so the
// AddFallback rate guard passes.
func ttsChain(t *testing.T, primary, secondary *ttsmock.Provider) *TTSFallback {
	t.Helper()
	primary.SampleRateValue = 16000
	secondary.SampleRateValue = 16000
	fb := NewTTSFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	if err := fb.AddFallback("secondary", secondary); err != nil {
		t.Fatalf("AddFallback: %v", err)
	}
	return fb
}

// synth runs one synthesis through the chain and drains the audio.
func synth(t *testing.T, fb *TTSFallback, text string) [][]byte {
	t.Helper()
	textCh := make(chan string, 1)
	textCh <- text
	close(textCh)

	audioCh, err := fb.SynthesizeStream(context.Background(), textCh, tts.VoiceProfile{ID: "v1"})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	var chunks [][]byte
	for chunk := range audioCh {
		chunks = append(chunks, chunk)
	}
	return chunks
}

func TestTTSFallbackServesFromPrimary(t *testing.T) {
	primary := &ttsmock.Provider{SynthesizeChunks: [][]byte{[]byte("audio1"), []byte("audio2")}}
	secondary := &ttsmock.Provider{SynthesizeChunks: [][]byte{[]byte("spare")}}
	fb := ttsChain(t, primary, secondary)

	chunks := synth(t, fb, "hello")
	if len(chunks) != 2 || string(chunks[0]) != "audio1" {
		t.Fatalf("chunks = %q, want the primary's two", chunks)
	}
	if len(secondary.SynthesizeStreamCalls) != 0 {
		t.Errorf("secondary called %d times, want 0", len(secondary.SynthesizeStreamCalls))
	}
}

func TestTTSFallbackFailsOverOnStreamSetup(t *testing.T) {
	primary := &ttsmock.Provider{SynthesizeErr: errors.New("primary down")}
	secondary := &ttsmock.Provider{SynthesizeChunks: [][]byte{[]byte("spare")}}
	fb := ttsChain(t, primary, secondary)

	chunks := synth(t, fb, "hello")
	if len(chunks) != 1 || string(chunks[0]) != "spare" {
		t.Fatalf("chunks = %q, want the fallback's audio", chunks)
	}
}

func TestTTSFallbackAllFailed(t *testing.T) {
	primary := &ttsmock.Provider{SynthesizeErr: errors.New("primary down")}
	secondary := &ttsmock.Provider{SynthesizeErr: errors.New("secondary down")}
	fb := ttsChain(t, primary, secondary)

	textCh := make(chan string)
	close(textCh)
	_, err := fb.SynthesizeStream(context.Background(), textCh, tts.VoiceProfile{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestTTSFallbackOpenBreakerSkipsPrimary(t *testing.T) {
	primary := &ttsmock.Provider{SynthesizeErr: errors.New("primary down"), SampleRateValue: 16000}
	secondary := &ttsmock.Provider{SynthesizeChunks: [][]byte{[]byte("spare")}, SampleRateValue: 16000}
	fb := NewTTSFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour},
	})
	if err := fb.AddFallback("secondary", secondary); err != nil {
		t.Fatalf("AddFallback: %v", err)
	}

	// Two failing turns trip the primary's breaker; the third must go
	// straight to the fallback without touching the dead backend.
	for range 3 {
		synth(t, fb, "hello")
	}
	if got := len(primary.SynthesizeStreamCalls); got != 2 {
		t.Errorf("primary called %d times, want 2 (breaker should skip it)", got)
	}
	if got := len(secondary.SynthesizeStreamCalls); got != 3 {
		t.Errorf("secondary called %d times, want 3", got)
	}
}

func TestTTSFallbackListVoicesFailsOver(t *testing.T) {
	primary := &ttsmock.Provider{ListVoicesErr: errors.New("primary down")}
	secondary := &ttsmock.Provider{ListVoicesResult: []tts.VoiceProfile{
		{ID: "v1", Name: "Alice"},
		{ID: "v2", Name: "Bob"},
	}}
	fb := ttsChain(t, primary, secondary)

	voices, err := fb.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 2 || voices[0].Name != "Alice" {
		t.Fatalf("voices = %+v, want the fallback's catalogue", voices)
	}
}

func TestTTSFallbackSampleRateIsPrimarys(t *testing.T) {
	primary := &ttsmock.Provider{SampleRateValue: 24000}
	fb := NewTTSFallback(primary, "primary", FallbackConfig{})

	if got := fb.SampleRate(); got != 24000 {
		t.Fatalf("SampleRate = %d, want the primary's 24000", got)
	}
}

func TestTTSFallbackRejectsMismatchedRate(t *testing.T) {
	primary := &ttsmock.Provider{SampleRateValue: 16000}
	odd := &ttsmock.Provider{SampleRateValue: 24000}
	fb := NewTTSFallback(primary, "primary", FallbackConfig{})

	err := fb.AddFallback("odd", odd)
	if err == nil {
		t.Fatal("expected an error for a 24 kHz fallback behind a 16 kHz primary")
	}
	if !strings.Contains(err.Error(), "24000") || !strings.Contains(err.Error(), "16000") {
		t.Errorf("error %q does not name both rates", err)
	}
}
