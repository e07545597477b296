// Package transport implements the message-framed duplex channel between a
// voice peer and the session core.
//
// Every message is one UTF-8 JSON object discriminated by its "event" field.
// Inbound media carries base64 audio frames; outbound traffic is media,
// state-change notifications, transcripts, and the barge-in clear signal.
// The Adapter serializes all writes on a single mutex so that the ordering
// the session establishes (state before media, clear before state) is the
// ordering the peer observes.
package transport

import (
	"encoding/base64"
	"fmt"
)

// Event discriminator values.
const (
	EventMedia      = "media"
	EventState      = "state"
	EventTranscript = "transcript"
	EventClear      = "clear"
)

// Transcript roles.
const (
	RoleUser   = "user"
	RoleAI     = "ai"
	RoleSystem = "system"
)

// MediaPayload wraps the base64-encoded audio frame of a media event.
type MediaPayload struct {
	Payload string `json:"payload"`
}

// Envelope is the wire representation of every protocol message. Fields
// other than Event are populated depending on the event type.
type Envelope struct {
	Event string        `json:"event"`
	Media *MediaPayload `json:"media,omitempty"`
	State string        `json:"state,omitempty"`
	Role  string        `json:"role,omitempty"`
	Text  string        `json:"text,omitempty"`
}

// IsMedia reports whether the envelope carries an audio frame.
func (e Envelope) IsMedia() bool {
	return e.Event == EventMedia && e.Media != nil
}

// MediaFrame decodes the base64 audio payload of a media envelope.
func (e Envelope) MediaFrame() ([]byte, error) {
	if !e.IsMedia() {
		return nil, fmt.Errorf("transport: envelope %q carries no media", e.Event)
	}
	frame, err := base64.StdEncoding.DecodeString(e.Media.Payload)
	if err != nil {
		return nil, fmt.Errorf("transport: decode media payload: %w", err)
	}
	return frame, nil
}

// mediaEnvelope builds an outbound media envelope for a raw frame.
func mediaEnvelope(frame []byte) Envelope {
	return Envelope{
		Event: EventMedia,
		Media: &MediaPayload{Payload: base64.StdEncoding.EncodeToString(frame)},
	}
}
