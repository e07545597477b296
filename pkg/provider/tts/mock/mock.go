// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to feed controlled audio chunks to consumers and to verify the
// text fragments and VoiceProfile passed to the TTS backend.
//
// Example:
//
//	p := &mock.Provider{
//	    SynthesizeChunks: [][]byte{pcmA, pcmB},
//	}
//	ch, _ := p.SynthesizeStream(ctx, textCh, voice)
package mock

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/avishka-hashara/crosstalk/pkg/provider/tts"
)

// SynthesizeStreamCall records a single invocation of SynthesizeStream.
type SynthesizeStreamCall struct {
	// Ctx is the context passed to SynthesizeStream.
	Ctx context.Context
	// Voice is the VoiceProfile passed to SynthesizeStream.
	Voice tts.VoiceProfile
	// Fragments collects the text fragments received before the text channel
	// closed. It is fully populated once the audio channel has closed.
	Fragments []string
}

// Text returns the recorded fragments joined into a single string.
func (c *SynthesizeStreamCall) Text() string {
	return strings.Join(c.Fragments, "")
}

// ListVoicesCall records a single invocation of ListVoices.
type ListVoicesCall struct {
	// Ctx is the context passed to ListVoices.
	Ctx context.Context
}

// Provider is a mock implementation of tts.Provider.
//
// SynthesizeStream drains the full text channel first, then emits
// SynthesizeChunks and closes the audio channel. Draining first makes the
// recorded fragments deterministic: once the audio channel closes, the
// matching SynthesizeStreamCall is complete.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// SynthesizeChunks is the sequence of audio byte slices emitted on the
	// channel returned by SynthesizeStream.
	SynthesizeChunks [][]byte

	// SynthesizeErr, if non-nil, is returned as the error from SynthesizeStream
	// instead of starting a channel.
	SynthesizeErr error

	// Delay is an artificial latency applied after the text channel closes and
	// before any audio is emitted. If ctx is cancelled first, the audio channel
	// closes without emitting. Useful for exercising caller-side timeouts.
	Delay time.Duration

	// SampleRateValue is reported by SampleRate. Defaults to 16000 when zero.
	SampleRateValue int

	// ListVoicesResult is returned by ListVoices.
	ListVoicesResult []tts.VoiceProfile

	// ListVoicesErr, if non-nil, is returned as the error from ListVoices.
	ListVoicesErr error

	// --- Call records ---

	// SynthesizeStreamCalls records every call to SynthesizeStream in order.
	SynthesizeStreamCalls []*SynthesizeStreamCall

	// ListVoicesCalls records every call to ListVoices in order.
	ListVoicesCalls []ListVoicesCall
}

// SynthesizeStream records the call and, if SynthesizeErr is nil, returns a
// channel that emits SynthesizeChunks after the text channel closes.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	p.mu.Lock()
	if p.SynthesizeErr != nil {
		err := p.SynthesizeErr
		p.SynthesizeStreamCalls = append(p.SynthesizeStreamCalls, &SynthesizeStreamCall{Ctx: ctx, Voice: voice})
		p.mu.Unlock()
		return nil, err
	}
	call := &SynthesizeStreamCall{Ctx: ctx, Voice: voice}
	p.SynthesizeStreamCalls = append(p.SynthesizeStreamCalls, call)
	chunks := make([][]byte, len(p.SynthesizeChunks))
	copy(chunks, p.SynthesizeChunks)
	delay := p.Delay
	p.mu.Unlock()

	ch := make(chan []byte, len(chunks))
	go func() {
		defer close(ch)
	drain:
		for {
			select {
			case fragment, ok := <-text:
				if !ok {
					break drain
				}
				p.mu.Lock()
				call.Fragments = append(call.Fragments, fragment)
				p.mu.Unlock()
			case <-ctx.Done():
				return
			}
		}
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
		}
		for _, audio := range chunks {
			select {
			case <-ctx.Done():
				return
			case ch <- audio:
			}
		}
	}()
	return ch, nil
}

// SampleRate returns SampleRateValue, defaulting to 16000.
func (p *Provider) SampleRate() int {
	if p.SampleRateValue != 0 {
		return p.SampleRateValue
	}
	return 16000
}

// ListVoices records the call and returns ListVoicesResult, ListVoicesErr.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListVoicesCalls = append(p.ListVoicesCalls, ListVoicesCall{Ctx: ctx})
	return p.ListVoicesResult, p.ListVoicesErr
}

// LastCall returns the most recent SynthesizeStream call, or nil if none.
// Thread-safe.
func (p *Provider) LastCall() *SynthesizeStreamCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.SynthesizeStreamCalls) == 0 {
		return nil
	}
	return p.SynthesizeStreamCalls[len(p.SynthesizeStreamCalls)-1]
}

// CallCount returns the number of SynthesizeStream calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.SynthesizeStreamCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeStreamCalls = nil
	p.ListVoicesCalls = nil
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
