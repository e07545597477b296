// Command callsim places a test call against a running crosstalk server.
//
// It dials a stream endpoint, speaks an audio file (WAV or Ogg-Opus, or a
// synthetic tone when no file is given) as real-time media frames, keeps the
// line fed with silence like a telephony gateway would, and prints every
// state, transcript and clear event the server sends back. With
// -interrupt-after it talks over the assistant's reply to exercise barge-in.
//
// Examples:
//
//	callsim -token dev-token
//	callsim -token dev-token -audio hello.wav -save reply.wav
//	callsim -token dev-token -interrupt-after 500ms
package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/avishka-hashara/crosstalk/internal/transport"
	"github.com/avishka-hashara/crosstalk/pkg/audio"
)

func main() {
	os.Exit(run())
}

func run() int {
	addr := flag.String("addr", "ws://localhost:8080", "crosstalk server base URL")
	token := flag.String("token", "", "bearer token for the stream endpoint")
	profileName := flag.String("profile", "telephony", "transport profile (telephony or web)")
	audioPath := flag.String("audio", "", "WAV or Ogg-Opus file to speak; empty synthesizes a tone")
	speakFor := flag.Duration("speak", 2*time.Second, "synthetic utterance length when no -audio is given")
	interruptAfter := flag.Duration("interrupt-after", 0, "speak again this long into the reply to trigger barge-in")
	savePath := flag.String("save", "", "write the assistant's reply audio to this WAV file")
	timeout := flag.Duration("timeout", 30*time.Second, "overall call deadline")
	flag.Parse()

	if *token == "" {
		fmt.Fprintln(os.Stderr, "callsim: -token is required")
		return 2
	}

	profile, err := transport.ProfileByName(*profileName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "callsim: %v\n", err)
		return 2
	}

	speech, err := loadSpeech(profile, *audioPath, *speakFor)
	if err != nil {
		fmt.Fprintf(os.Stderr, "callsim: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	url := strings.TrimSuffix(*addr, "/") + "/v1/session/" + profile.Name
	fmt.Printf("dialing %s\n", url)
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": {"Bearer " + *token}},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "callsim: dial: %v\n", err)
		return 1
	}
	defer conn.CloseNow()

	c := &call{
		conn:           conn,
		profile:        profile,
		speech:         speech,
		interruptAfter: *interruptAfter,
	}

	fmt.Printf("connected; speaking %d frames (%s)\n",
		len(speech), time.Duration(len(speech))*profile.FrameDuration)

	if err := c.run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "callsim: %v\n", err)
		return 1
	}

	c.printSummary()

	if *savePath != "" {
		if err := c.saveReply(*savePath); err != nil {
			fmt.Fprintf(os.Stderr, "callsim: %v\n", err)
			return 1
		}
	}
	return 0
}

// call drives one scripted conversation over an open stream connection.
type call struct {
	conn           *websocket.Conn
	profile        transport.Profile
	speech         [][]byte
	interruptAfter time.Duration

	mu     sync.Mutex
	queue  [][]byte // speech frames still to send; silence once drained
	sent   int
	recv   int
	clears int
	reply  []byte // reply audio in wire encoding, flushed on clear
}

// run streams media and walks the scripted turn(s) until the server returns
// to LISTENING. The writer and reader run for the whole call; the script in
// between only watches state transitions.
func (c *call) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	states := make(chan string, 64)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.pump(gctx) })
	g.Go(func() error { return c.listen(gctx, states) })

	scriptErr := c.script(gctx, states)
	if scriptErr == nil {
		// Polite close so the server logs a clean teardown rather than a
		// cut wire.
		_ = c.conn.Close(websocket.StatusNormalClosure, "call complete")
	}
	cancel()

	gerr := g.Wait()
	if scriptErr == nil {
		return nil
	}
	if gerr != nil && !errors.Is(gerr, context.Canceled) {
		return gerr
	}
	return scriptErr
}

// script enqueues the utterance, optionally barges in over the reply, and
// waits for the call to settle back to LISTENING.
func (c *call) script(ctx context.Context, states <-chan string) error {
	c.say(c.speech)

	if err := awaitState(ctx, states, "SPEAKING"); err != nil {
		return err
	}
	if c.interruptAfter > 0 {
		select {
		case <-time.After(c.interruptAfter):
		case <-ctx.Done():
			return ctx.Err()
		}
		fmt.Println("interrupting the reply")
		c.say(c.speech)
		if err := awaitState(ctx, states, "SPEAKING"); err != nil {
			return err
		}
	}
	return awaitState(ctx, states, "LISTENING")
}

// pump sends one media frame per frame interval: queued speech first, then
// silence, exactly like a telephony gateway that never stops sending audio.
func (c *call) pump(ctx context.Context) error {
	silence := make([]byte, c.profile.InboundFrameBytes)
	for i := range silence {
		silence[i] = c.profile.Encoding.SilenceByte()
	}

	ticker := time.NewTicker(c.profile.FrameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if err := c.send(ctx, c.nextFrame(silence)); err != nil {
			return err
		}
		c.mu.Lock()
		c.sent++
		c.mu.Unlock()
	}
}

func (c *call) nextFrame(silence []byte) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return silence
	}
	frame := c.queue[0]
	c.queue = c.queue[1:]
	return frame
}

func (c *call) say(frames [][]byte) {
	c.mu.Lock()
	c.queue = append(c.queue, frames...)
	c.mu.Unlock()
}

func (c *call) send(ctx context.Context, frame []byte) error {
	env := transport.Envelope{
		Event: transport.EventMedia,
		Media: &transport.MediaPayload{Payload: base64.StdEncoding.EncodeToString(frame)},
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// listen prints every server event and forwards state names to the script.
func (c *call) listen(ctx context.Context, states chan<- string) error {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			return fmt.Errorf("unexpected %v message from server", typ)
		}
		var env transport.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return fmt.Errorf("decode envelope: %w", err)
		}

		switch env.Event {
		case transport.EventState:
			fmt.Printf("  state      %s\n", env.State)
			select {
			case states <- env.State:
			case <-ctx.Done():
				return ctx.Err()
			}
		case transport.EventTranscript:
			fmt.Printf("  transcript [%s] %s\n", env.Role, env.Text)
		case transport.EventClear:
			fmt.Println("  clear      (flushing buffered reply audio)")
			c.mu.Lock()
			c.reply = c.reply[:0]
			c.clears++
			c.mu.Unlock()
		case transport.EventMedia:
			frame, err := env.MediaFrame()
			if err != nil {
				return err
			}
			c.mu.Lock()
			c.reply = append(c.reply, frame...)
			c.recv++
			c.mu.Unlock()
		}
	}
}

func (c *call) printSummary() {
	c.mu.Lock()
	defer c.mu.Unlock()
	sentDur := time.Duration(c.sent) * c.profile.FrameDuration
	replyDur := c.audioDuration(len(c.reply))
	fmt.Printf("\ncall complete: sent %d frames (%s), received %d reply frames (%s), %d barge-in\n",
		c.sent, sentDur.Round(time.Millisecond), c.recv, replyDur.Round(time.Millisecond), c.clears)
}

// audioDuration converts a wire-encoded byte count to its audible length.
func (c *call) audioDuration(n int) time.Duration {
	bytesPerSecond := c.profile.SampleRate * c.profile.Encoding.BytesPerSample()
	if bytesPerSecond == 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(bytesPerSecond)
}

// saveReply writes the surviving reply audio (anything not discarded by a
// clear) to path as a mono 16-bit WAV at the profile's sample rate.
func (c *call) saveReply(path string) error {
	c.mu.Lock()
	reply := make([]byte, len(c.reply))
	copy(reply, c.reply)
	c.mu.Unlock()

	if len(reply) == 0 {
		fmt.Println("no reply audio to save")
		return nil
	}
	samples, err := c.profile.Encoding.DecodeSamples(reply)
	if err != nil {
		return fmt.Errorf("decode reply audio: %w", err)
	}
	wav := audio.EncodeWAV(audio.PCM16ToBytes(samples), c.profile.SampleRate, 1)
	if err := os.WriteFile(path, wav, 0o644); err != nil {
		return fmt.Errorf("save reply: %w", err)
	}
	fmt.Printf("reply audio written to %s (%s)\n", path, c.audioDuration(len(reply)).Round(time.Millisecond))
	return nil
}

// awaitState consumes state notifications until want arrives.
func awaitState(ctx context.Context, states <-chan string, want string) error {
	for {
		select {
		case s := <-states:
			if s == want {
				return nil
			}
		case <-ctx.Done():
			return fmt.Errorf("waiting for state %s: %w", want, ctx.Err())
		}
	}
}

// loadSpeech prepares one utterance as wire-encoded frames for the profile:
// file input (WAV or Ogg-Opus, told apart by magic bytes) is downmixed and
// resampled as needed, the synthetic fallback is a wobbling tone loud enough
// to trip the energy detector.
func loadSpeech(profile transport.Profile, path string, speakFor time.Duration) ([][]byte, error) {
	var pcm []int16
	rate := profile.SampleRate

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		samples, sampleRate, err := decodeFile(raw)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		pcm, rate = samples, sampleRate
	} else {
		pcm = tone(speakFor, rate)
	}

	if rate != profile.SampleRate {
		rs, err := audio.NewResampler(rate, profile.SampleRate)
		if err != nil {
			return nil, err
		}
		pcm = rs.Resample(pcm)
	}

	wire, err := profile.Encoding.EncodeSamples(pcm)
	if err != nil {
		return nil, err
	}
	framer := audio.NewFramer(profile.InboundFrameBytes, profile.Encoding.SilenceByte())
	frames := framer.Push(wire)
	if last, ok := framer.Flush(); ok {
		frames = append(frames, last)
	}
	if len(frames) == 0 {
		return nil, errors.New("utterance shorter than one frame")
	}
	return frames, nil
}

// decodeFile turns a WAV or Ogg-Opus file into mono PCM16 samples.
func decodeFile(raw []byte) ([]int16, int, error) {
	if bytes.HasPrefix(raw, []byte("OggS")) {
		var pcmBytes []byte
		err := audio.DecodeOggOpus(bytes.NewReader(raw), func(chunk []byte) error {
			pcmBytes = append(pcmBytes, chunk...)
			return nil
		})
		if err != nil {
			return nil, 0, err
		}
		samples, err := audio.BytesToPCM16(pcmBytes)
		if err != nil {
			return nil, 0, err
		}
		return samples, audio.OggOpusSampleRate, nil
	}

	data, sampleRate, channels, err := audio.DecodeWAV(raw)
	if err != nil {
		return nil, 0, err
	}
	samples, err := audio.BytesToPCM16(data)
	if err != nil {
		return nil, 0, err
	}
	if channels == 2 {
		samples = audio.StereoToMono(samples)
	}
	return samples, sampleRate, nil
}

// tone synthesizes a 440 Hz carrier with a slow amplitude wobble so the
// energy detector sees sustained speech-like levels rather than a flat beep.
func tone(d time.Duration, rate int) []int16 {
	n := int(d.Seconds() * float64(rate))
	pcm := make([]int16, n)
	for i := range pcm {
		t := float64(i) / float64(rate)
		amp := 0.4 + 0.2*math.Sin(2*math.Pi*3*t)
		pcm[i] = int16(amp * 20000 * math.Sin(2*math.Pi*440*t))
	}
	return pcm
}
