// Package stt defines the Provider interface for speech-to-text backends.
//
// An STT provider wraps a transcription service (e.g., a local whisper.cpp
// server, Groq, or Deepgram) behind a single batch operation: a complete
// spoken utterance goes in, the recognised text comes out. Utterance
// segmentation is the caller's job — the session layer detects turn
// boundaries with VAD and hands each finished utterance to the provider.
//
// Implementations must be safe for concurrent use. Multiple utterances may
// be transcribed in parallel (e.g., one per live session).
package stt

import "context"

// Provider is the abstraction over any STT backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Transcribe converts a complete spoken utterance into text.
	//
	// The audio must match the format declared in the Utterance. Transcribe
	// blocks until the provider commits to a result or ctx is cancelled;
	// callers are expected to bound the call with a deadline. An empty
	// string with a nil error means the provider heard no speech.
	Transcribe(ctx context.Context, utt Utterance) (string, error)
}
