// Package mock provides test doubles for the stt package interfaces.
//
// Use Provider to supply canned transcription results and inspect which
// utterances the caller submitted.
//
// Example:
//
//	p := &mock.Provider{Text: "hello there"}
//	text, _ := p.Transcribe(ctx, utt)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/avishka-hashara/crosstalk/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Utt is the utterance passed to Transcribe. The PCM slice is copied so
	// later mutations by the caller do not corrupt the record.
	Utt stt.Utterance
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Text is the transcript returned by Transcribe on success.
	Text string

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// Delay is an artificial latency applied before Transcribe returns.
	// The delay is interruptible: if ctx is cancelled first, Transcribe
	// returns ctx.Err(). Useful for exercising caller-side timeouts.
	Delay time.Duration

	// TranscribeCalls records every call to Transcribe.
	TranscribeCalls []TranscribeCall
}

// Transcribe records the call, waits Delay (if set), and returns Text, Err.
func (p *Provider) Transcribe(ctx context.Context, utt stt.Utterance) (string, error) {
	p.mu.Lock()
	rec := utt
	rec.PCM = append([]byte(nil), utt.PCM...)
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{Ctx: ctx, Utt: rec})
	delay, text, err := p.Delay, p.Text, p.Err
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return text, nil
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.TranscribeCalls)
}

// ResetCalls clears all recorded calls. Thread-safe.
func (p *Provider) ResetCalls() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeCalls = nil
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)
