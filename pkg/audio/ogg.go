package audio

import (
	"errors"
	"fmt"
	"io"

	"github.com/pion/opus"
	"github.com/pion/opus/pkg/oggreader"
)

// OggOpusSampleRate is the PCM output rate of the Opus decoder. Opus packets
// always decode at 48 kHz regardless of the encoder's input rate.
const OggOpusSampleRate = 48000

// oggOpusFrameBytes is the decode buffer size for one 20 ms mono packet at
// 48 kHz: 960 samples of 2 bytes each.
const oggOpusFrameBytes = 1920

// DecodeOggOpus incrementally decodes an Ogg-encapsulated Opus stream into
// 16-bit little-endian mono PCM at [OggOpusSampleRate]. emit is called once
// per decoded packet with a freshly allocated chunk; if emit returns an
// error, decoding stops and that error is returned. Use emit to push chunks
// into a pipeline and to observe cancellation.
func DecodeOggOpus(r io.Reader, emit func(pcm []byte) error) error {
	ogg, hdr, err := oggreader.NewWith(r)
	if err != nil {
		return fmt.Errorf("audio: parse ogg container: %w", err)
	}
	if hdr.Channels > 1 {
		return fmt.Errorf("audio: ogg opus stream has %d channels, want mono", hdr.Channels)
	}

	decoder := opus.NewDecoder()
	out := make([]byte, oggOpusFrameBytes)

	for {
		segments, _, err := ogg.ParseNextPage()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("audio: parse ogg page: %w", err)
		}
		for i := range segments {
			if _, _, err := decoder.Decode(segments[i], out); err != nil {
				return fmt.Errorf("audio: decode opus packet: %w", err)
			}
			pcm := make([]byte, len(out))
			copy(pcm, out)
			if err := emit(pcm); err != nil {
				return err
			}
		}
	}
}
