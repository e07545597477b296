package transport

import (
	"fmt"
	"time"

	"github.com/avishka-hashara/crosstalk/pkg/audio"
)

// Profile fixes the audio contract for one session: encoding, rates, frame
// sizes and outbound pacing. It is chosen by the endpoint the peer connects
// to and never changes mid-session.
type Profile struct {
	// Name identifies the profile in config, logs and metrics.
	Name string

	// Encoding of the wire audio in both directions.
	Encoding audio.Encoding

	// SampleRate of the wire audio in Hz.
	SampleRate int

	// FrameDuration is the inbound frame cadence.
	FrameDuration time.Duration

	// InboundFrameBytes is the expected size of one inbound frame.
	InboundFrameBytes int

	// OutboundFrameBytes is the size of one outbound frame. Web peers take
	// larger frames to cut per-message overhead.
	OutboundFrameBytes int

	// OutboundInterval is the pacing delay between outbound frames; it
	// matches the real-time duration of one outbound frame.
	OutboundInterval time.Duration
}

// Telephony is the telephone-grade profile: 8 kHz mu-law in 20 ms frames
// both ways.
var Telephony = Profile{
	Name:               "telephony",
	Encoding:           audio.EncodingMulaw,
	SampleRate:         8000,
	FrameDuration:      20 * time.Millisecond,
	InboundFrameBytes:  160,
	OutboundFrameBytes: 160,
	OutboundInterval:   20 * time.Millisecond,
}

// Web is the browser profile: 16 kHz PCM16 mono, 20 ms inbound frames and
// 200 ms outbound frames.
var Web = Profile{
	Name:               "web",
	Encoding:           audio.EncodingPCM16,
	SampleRate:         16000,
	FrameDuration:      20 * time.Millisecond,
	InboundFrameBytes:  640,
	OutboundFrameBytes: 6400,
	OutboundInterval:   200 * time.Millisecond,
}

// ProfileByName resolves a configured profile name.
func ProfileByName(name string) (Profile, error) {
	switch name {
	case Telephony.Name:
		return Telephony, nil
	case Web.Name:
		return Web, nil
	default:
		return Profile{}, fmt.Errorf("transport: unknown profile %q", name)
	}
}
