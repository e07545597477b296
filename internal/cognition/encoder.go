package cognition

import (
	"fmt"

	"github.com/avishka-hashara/crosstalk/internal/transport"
	"github.com/avishka-hashara/crosstalk/pkg/audio"
)

// replyEncoder converts the TTS provider's PCM stream into wire frames for
// one session profile: sample alignment across chunk boundaries, rate
// conversion, wire encoding, then fixed-size framing. One per turn; not safe
// for concurrent use.
type replyEncoder struct {
	resampler *audio.Resampler
	encoding  audio.Encoding
	framer    *audio.Framer

	// carry holds the trailing odd byte of the previous chunk. Providers
	// emit 16-bit samples but chunk on transport boundaries, so a sample
	// can straddle two chunks.
	carry []byte
}

// newReplyEncoder builds the conversion chain from the provider's PCM rate to
// the profile's wire format.
func newReplyEncoder(srcRate int, profile transport.Profile) (*replyEncoder, error) {
	if !profile.Encoding.Valid() {
		return nil, fmt.Errorf("cognition: profile %q has unknown encoding %q", profile.Name, profile.Encoding)
	}
	if profile.OutboundFrameBytes <= 0 {
		return nil, fmt.Errorf("cognition: profile %q has no outbound frame size", profile.Name)
	}
	rs, err := audio.NewResampler(srcRate, profile.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("cognition: %w", err)
	}
	return &replyEncoder{
		resampler: rs,
		encoding:  profile.Encoding,
		framer:    audio.NewFramer(profile.OutboundFrameBytes, profile.Encoding.SilenceByte()),
	}, nil
}

// Push converts one provider chunk and returns every complete wire frame now
// available. Returned frames are freshly allocated and safe to retain.
func (e *replyEncoder) Push(chunk []byte) ([][]byte, error) {
	data := chunk
	if len(e.carry) > 0 {
		data = make([]byte, 0, len(e.carry)+len(chunk))
		data = append(data, e.carry...)
		data = append(data, chunk...)
		e.carry = e.carry[:0]
	}
	if len(data)%2 != 0 {
		e.carry = append(e.carry[:0], data[len(data)-1])
		data = data[:len(data)-1]
	}

	pcm, err := audio.BytesToPCM16(data)
	if err != nil {
		return nil, err
	}
	out, err := e.encoding.EncodeSamples(e.resampler.Resample(pcm))
	if err != nil {
		return nil, err
	}
	return e.framer.Push(out), nil
}

// Flush pads the trailing partial frame with silence and returns it, or false
// when the stream ended exactly on a frame boundary. A held carry byte is
// half a sample and is dropped.
func (e *replyEncoder) Flush() ([]byte, bool) {
	return e.framer.Flush()
}
