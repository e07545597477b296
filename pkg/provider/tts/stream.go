package tts

import (
	"context"
	"strings"
	"unicode"
)

// audioChanBuf is the buffer depth of channels returned by SentenceStream.
const audioChanBuf = 256

// SynthesizeFunc performs one batch synthesis call and returns raw PCM for
// the given sentence.
type SynthesizeFunc func(ctx context.Context, sentence string) ([]byte, error)

// SentenceStream adapts a batch synthesis call to the streaming Provider
// contract. Backends whose service runs in batch mode (one HTTP round trip
// per utterance rather than a streaming socket) use it to accumulate
// incoming text fragments into complete sentences and dispatch one synth
// call per sentence.
//
// Up to lookahead synth calls may be in-flight concurrently to hide
// network/server latency; PCM is emitted on the returned channel in the
// original sentence order, split into slices of at most chunkSize bytes.
//
// The returned channel is closed when all text has been synthesised, when a
// synth call fails, or when ctx is cancelled. The caller must drain the
// channel to prevent goroutine leaks.
func SentenceStream(ctx context.Context, text <-chan string, lookahead, chunkSize int, synth SynthesizeFunc) <-chan []byte {
	audioCh := make(chan []byte, audioChanBuf)

	go func() {
		defer close(audioCh)

		// sentences carries complete sentences from the accumulator to the dispatcher.
		sentences := make(chan string, lookahead)

		// resultQueue carries ordered future channels so the collector can drain in order.
		resultQueue := make(chan chan synthResult, lookahead)

		// --- Accumulator goroutine ---
		// Reads text fragments, buffers them, and emits complete sentences.
		go func() {
			defer close(sentences)
			var buf strings.Builder
			for {
				select {
				case fragment, ok := <-text:
					if !ok {
						// Text channel closed: flush any remaining partial sentence.
						if remaining := strings.TrimSpace(buf.String()); remaining != "" {
							select {
							case sentences <- remaining:
							case <-ctx.Done():
							}
						}
						return
					}
					buf.WriteString(fragment)
					// Drain all complete sentences from the buffer.
					for {
						s := buf.String()
						idx := findSentenceBoundary(s)
						if idx < 0 {
							break
						}
						sentence := strings.TrimSpace(s[:idx+1])
						buf.Reset()
						buf.WriteString(s[idx+1:])
						if sentence == "" {
							continue
						}
						select {
						case sentences <- sentence:
						case <-ctx.Done():
							return
						}
					}
				case <-ctx.Done():
					return
				}
			}
		}()

		// --- Dispatcher goroutine ---
		// Reads sentences and launches a concurrent synth call for each, placing
		// an ordered result channel into resultQueue so the collector can drain in order.
		go func() {
			defer close(resultQueue)
			for {
				select {
				case sentence, ok := <-sentences:
					if !ok {
						return
					}
					ch := make(chan synthResult, 1)
					select {
					case resultQueue <- ch:
					case <-ctx.Done():
						return
					}
					go func(s string, out chan<- synthResult) {
						pcm, err := synth(ctx, s)
						out <- synthResult{pcm: pcm, err: err}
					}(sentence, ch)
				case <-ctx.Done():
					return
				}
			}
		}()

		// --- Collector ---
		// Drains resultQueue in-order and emits PCM chunks to the audio channel.
		for {
			select {
			case ch, ok := <-resultQueue:
				if !ok {
					return
				}
				select {
				case result := <-ch:
					if result.err != nil {
						// On synthesis error we stop the stream. The caller can
						// inspect ctx.Err() to distinguish cancellation from provider errors.
						return
					}
					pcm := result.pcm
					for len(pcm) > 0 {
						end := min(chunkSize, len(pcm))
						select {
						case audioCh <- pcm[:end]:
						case <-ctx.Done():
							return
						}
						pcm = pcm[end:]
					}
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return audioCh
}

// synthResult carries a synthesised PCM byte slice or an error from a worker goroutine.
type synthResult struct {
	pcm []byte
	err error
}

// findSentenceBoundary returns the index of the first sentence-ending character
// ('.', '!', '?') that is either at the end of s or immediately followed by
// whitespace. Returns -1 if no sentence boundary is found.
//
// This ensures that decimal numbers like "3.14" are not incorrectly treated as
// sentence boundaries when followed by a non-space character.
func findSentenceBoundary(s string) int {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '.' || c == '!' || c == '?' {
			// Boundary: end of string or followed by whitespace.
			if i+1 >= len(s) || unicode.IsSpace(rune(s[i+1])) {
				return i
			}
		}
	}
	return -1
}
