package session

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/avishka-hashara/crosstalk/internal/cognition"
	"github.com/avishka-hashara/crosstalk/internal/transport"
	"github.com/avishka-hashara/crosstalk/internal/turn"
	"github.com/avishka-hashara/crosstalk/pkg/provider/vad"
	vadmock "github.com/avishka-hashara/crosstalk/pkg/provider/vad/mock"
)

// ─── Test doubles ────────────────────────────────────────────────────────────

type readResult struct {
	env transport.Envelope
	err error
}

type wireEvent struct {
	kind  string
	state string
	role  string
	text  string
	frame []byte
}

// fakeConn scripts the inbound side through a channel and records every
// outbound write in order.
type fakeConn struct {
	inbound chan readResult

	mu          sync.Mutex
	events      []wireEvent
	closed      bool
	closeReason string
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan readResult, 64)}
}

func (c *fakeConn) ReadEnvelope(ctx context.Context) (transport.Envelope, error) {
	select {
	case res := <-c.inbound:
		return res.env, res.err
	case <-ctx.Done():
		return transport.Envelope{}, ctx.Err()
	}
}

func (c *fakeConn) record(ev wireEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *fakeConn) WriteMedia(_ context.Context, frame []byte) error {
	cp := make([]byte, len(frame))
	copy(cp, frame)
	c.record(wireEvent{kind: "media", frame: cp})
	return nil
}

func (c *fakeConn) WriteState(_ context.Context, state string) error {
	c.record(wireEvent{kind: "state", state: state})
	return nil
}

func (c *fakeConn) WriteTranscript(_ context.Context, role, text string) error {
	c.record(wireEvent{kind: "transcript", role: role, text: text})
	return nil
}

func (c *fakeConn) WriteClear(context.Context) error {
	c.record(wireEvent{kind: "clear"})
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) CloseWithError(reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.closeReason = reason
	return nil
}

func (c *fakeConn) snapshot() []wireEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]wireEvent(nil), c.events...)
}

// names flattens the recorded writes into comparable strings, for example
// "state:SPEAKING", "transcript:user", "media", "clear".
func (c *fakeConn) names() []string {
	var out []string
	for _, ev := range c.snapshot() {
		switch ev.kind {
		case "state":
			out = append(out, "state:"+ev.state)
		case "transcript":
			out = append(out, "transcript:"+ev.role)
		default:
			out = append(out, ev.kind)
		}
	}
	return out
}

func (c *fakeConn) sendFrame(frame []byte) {
	c.inbound <- readResult{env: transport.Envelope{
		Event: transport.EventMedia,
		Media: &transport.MediaPayload{Payload: base64.StdEncoding.EncodeToString(frame)},
	}}
}

func (c *fakeConn) sendError(err error) {
	c.inbound <- readResult{err: err}
}

// fakeDispatcher records jobs and runs an optional per-job script.
type fakeDispatcher struct {
	mu      sync.Mutex
	jobs    []cognition.Job
	scripts []func(ctx context.Context, job cognition.Job, sink cognition.Sink)
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, job cognition.Job, sink cognition.Sink) {
	d.mu.Lock()
	idx := len(d.jobs)
	d.jobs = append(d.jobs, job)
	var run func(context.Context, cognition.Job, cognition.Sink)
	if idx < len(d.scripts) {
		run = d.scripts[idx]
	}
	d.mu.Unlock()
	if run != nil {
		run(ctx, job, sink)
	}
}

func (d *fakeDispatcher) jobCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.jobs)
}

func (d *fakeDispatcher) job(i int) cognition.Job {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.jobs[i]
}

// ─── Harness ─────────────────────────────────────────────────────────────────

// Thresholds are shrunk so scripts stay short: 2 speech frames open a turn,
// 3 silence frames close one.
var testTurnConfig = turn.Config{SpeechThreshold: 2, SilenceThreshold: 3}

type harness struct {
	conn *fakeConn
	vad  *vadmock.Session
	disp *fakeDispatcher
	sess *Session
	done chan error
}

func startSession(t *testing.T, events []vad.VADEvent, scripts ...func(context.Context, cognition.Job, cognition.Sink)) *harness {
	t.Helper()
	h := &harness{
		conn: newFakeConn(),
		vad:  &vadmock.Session{Events: events},
		disp: &fakeDispatcher{scripts: scripts},
		done: make(chan error, 1),
	}
	h.sess = New(h.conn, h.vad, h.disp, "user-1", transport.Telephony,
		WithTurnConfig(testTurnConfig),
		WithLogger(quietLogger()),
	)
	go func() { h.done <- h.sess.Run(context.Background()) }()
	return h
}

// end hangs up the peer and waits for Run to return.
func (h *harness) end(t *testing.T) error {
	t.Helper()
	h.conn.sendError(io.EOF)
	return h.wait(t)
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop")
		return nil
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (h *harness) waitForEvent(t *testing.T, name string) {
	t.Helper()
	waitFor(t, "wire event "+name, func() bool {
		for _, got := range h.conn.names() {
			if got == name {
				return true
			}
		}
		return false
	})
}

func muFrame(b byte) []byte {
	frame := make([]byte, transport.Telephony.InboundFrameBytes)
	for i := range frame {
		frame[i] = b
	}
	return frame
}

func speak(n int) []vad.VADEvent {
	out := make([]vad.VADEvent, n)
	for i := range out {
		out[i] = vad.VADEvent{Probability: 0.95, IsSpeech: true}
	}
	return out
}

func hush(n int) []vad.VADEvent {
	out := make([]vad.VADEvent, n)
	for i := range out {
		out[i] = vad.VADEvent{Probability: 0.02}
	}
	return out
}

func script(parts ...[]vad.VADEvent) []vad.VADEvent {
	var out []vad.VADEvent
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func assertNames(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("wire events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("wire events = %v, want %v", got, want)
		}
	}
}

// ─── Tests ───────────────────────────────────────────────────────────────────

func TestSessionRunsFullTurn(t *testing.T) {
	reply := muFrame(0xAA)
	h := startSession(t, script(speak(2), hush(3)),
		func(_ context.Context, _ cognition.Job, sink cognition.Sink) {
			sink.UserTranscript("turn on the lights")
			sink.AssistantTranscript("done")
			if err := sink.BeginSpeaking(); err != nil {
				t.Errorf("BeginSpeaking: %v", err)
				return
			}
			if err := sink.EnqueueFrame(reply); err != nil {
				t.Errorf("EnqueueFrame: %v", err)
				return
			}
			sink.FinishSpeaking()
		},
	)

	for i := 0; i < 5; i++ {
		h.conn.sendFrame(muFrame(0x42))
	}
	h.waitForEvent(t, "state:LISTENING")
	if err := h.end(t); err != nil {
		t.Fatalf("Run: %v", err)
	}

	assertNames(t, h.conn.names(), []string{
		"state:RECEIVING",
		"state:THINKING",
		"transcript:user",
		"transcript:ai",
		"state:SPEAKING",
		"media",
		"state:LISTENING",
	})

	events := h.conn.snapshot()
	if !bytes.Equal(events[5].frame, reply) {
		t.Fatal("played frame does not match the enqueued reply")
	}
	if events[2].text != "turn on the lights" || events[3].text != "done" {
		t.Fatalf("transcript texts = %q, %q", events[2].text, events[3].text)
	}

	if h.disp.jobCount() != 1 {
		t.Fatalf("dispatched %d jobs, want 1", h.disp.jobCount())
	}
	job := h.disp.job(0)
	if job.SessionID != h.sess.ID() || job.UserID != "user-1" {
		t.Fatalf("job identity = %q/%q", job.SessionID, job.UserID)
	}
	if job.SampleRate != 8000 || job.Profile.Name != "telephony" {
		t.Fatalf("job audio contract = %d Hz, profile %q", job.SampleRate, job.Profile.Name)
	}
	// The utterance spans the frame that completed the speech streak plus the
	// two silence frames before the one that closed the turn: 3 frames of 160
	// mu-law bytes, decoded to 320 bytes of PCM each.
	if len(job.PCM) != 3*320 {
		t.Fatalf("utterance PCM = %d bytes, want %d", len(job.PCM), 3*320)
	}
}

func TestBargeInCutsReplyAndFlushes(t *testing.T) {
	started := make(chan struct{})
	pushErr := make(chan error, 1)
	h := startSession(t, script(speak(2), hush(3), speak(2)),
		func(ctx context.Context, _ cognition.Job, sink cognition.Sink) {
			if err := sink.BeginSpeaking(); err != nil {
				t.Errorf("BeginSpeaking: %v", err)
				return
			}
			if err := sink.EnqueueFrame(muFrame(0xAA)); err != nil {
				t.Errorf("EnqueueFrame: %v", err)
				return
			}
			close(started)
			<-ctx.Done()
			// The dead turn may not add audio: the push must be refused.
			pushErr <- sink.EnqueueFrame(muFrame(0xBB))
		},
	)

	for i := 0; i < 5; i++ {
		h.conn.sendFrame(muFrame(0x42))
	}
	<-started
	h.waitForEvent(t, "media")

	// The caller talks over the reply.
	h.conn.sendFrame(muFrame(0x42))
	h.conn.sendFrame(muFrame(0x42))
	h.waitForEvent(t, "clear")

	select {
	case err := <-pushErr:
		if err == nil {
			t.Fatal("push after barge-in succeeded")
		}
		if !errors.Is(err, context.Canceled) && !errors.Is(err, turn.ErrSuperseded) {
			t.Fatalf("push after barge-in: err = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cognition job was not cancelled")
	}

	if err := h.end(t); err != nil {
		t.Fatalf("Run: %v", err)
	}

	names := h.conn.names()
	assertNames(t, names, []string{
		"state:RECEIVING",
		"state:THINKING",
		"state:SPEAKING",
		"media",
		"clear",
		"state:RECEIVING",
	})
}

func TestCallerResumeDuringThinkingCancelsQuietly(t *testing.T) {
	cancelled := make(chan struct{})
	h := startSession(t, script(speak(2), hush(3), speak(2)),
		func(ctx context.Context, _ cognition.Job, _ cognition.Sink) {
			<-ctx.Done()
			close(cancelled)
		},
	)

	for i := 0; i < 5; i++ {
		h.conn.sendFrame(muFrame(0x42))
	}
	h.waitForEvent(t, "state:THINKING")

	h.conn.sendFrame(muFrame(0x42))
	h.conn.sendFrame(muFrame(0x42))

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("job not cancelled by resumed speech")
	}
	if err := h.end(t); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// No reply ever started, so nothing is flushed and no audio is sent.
	assertNames(t, h.conn.names(), []string{
		"state:RECEIVING",
		"state:THINKING",
		"state:RECEIVING",
	})
}

func TestIngestSkipsUnusableMessages(t *testing.T) {
	h := startSession(t, hush(1))

	h.conn.sendError(fmt.Errorf("%w: not json", transport.ErrMalformed))
	h.conn.inbound <- readResult{env: transport.Envelope{Event: transport.EventState, State: "SPEAKING"}}
	h.conn.inbound <- readResult{env: transport.Envelope{
		Event: transport.EventMedia,
		Media: &transport.MediaPayload{Payload: "!!! not base64 !!!"},
	}}
	h.conn.sendFrame([]byte{1, 2, 3}) // wrong frame size for the profile
	h.conn.sendFrame(muFrame(0x00))   // the only frame that should reach the VAD

	// Inbound messages are handled in order, so once the hangup is processed
	// everything before it has been too.
	if err := h.end(t); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := len(h.vad.ProcessFrameCalls); got != 1 {
		t.Fatalf("vad saw %d frames, want 1", got)
	}
	if names := h.conn.names(); len(names) != 0 {
		t.Fatalf("junk input produced wire events: %v", names)
	}
	if h.disp.jobCount() != 0 {
		t.Fatalf("junk input dispatched %d jobs", h.disp.jobCount())
	}
}

func TestTransportErrorEndsSession(t *testing.T) {
	cancelled := make(chan struct{})
	h := startSession(t, script(speak(2), hush(3)),
		func(ctx context.Context, _ cognition.Job, _ cognition.Sink) {
			<-ctx.Done()
			close(cancelled)
		},
	)

	for i := 0; i < 5; i++ {
		h.conn.sendFrame(muFrame(0x42))
	}
	h.waitForEvent(t, "state:THINKING")

	h.conn.sendError(errors.New("connection reset"))
	err := h.wait(t)
	if err == nil || !strings.Contains(err.Error(), "connection reset") {
		t.Fatalf("Run: err = %v, want transport error", err)
	}

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight job survived session teardown")
	}
	if h.vad.CloseCallCount == 0 {
		t.Fatal("vad session not closed")
	}
	h.conn.mu.Lock()
	closed := h.conn.closed
	h.conn.mu.Unlock()
	if !closed {
		t.Fatal("connection not closed")
	}
}

func TestPeerHangupEndsCleanly(t *testing.T) {
	h := startSession(t, nil)
	if err := h.end(t); err != nil {
		t.Fatalf("Run after EOF: %v, want nil", err)
	}
	if h.vad.CloseCallCount == 0 {
		t.Fatal("vad session not closed")
	}
}

func TestFailedTurnReturnsToListening(t *testing.T) {
	h := startSession(t, script(speak(2), hush(3)),
		func(_ context.Context, _ cognition.Job, sink cognition.Sink) {
			sink.FailTurn(errors.New("synthesis exploded"))
		},
	)

	for i := 0; i < 5; i++ {
		h.conn.sendFrame(muFrame(0x42))
	}
	h.waitForEvent(t, "state:LISTENING")
	if err := h.end(t); err != nil {
		t.Fatalf("Run: %v", err)
	}

	assertNames(t, h.conn.names(), []string{
		"state:RECEIVING",
		"state:THINKING",
		"state:LISTENING",
	})
}

func TestSecondUtteranceStartsFresh(t *testing.T) {
	fail := func(_ context.Context, _ cognition.Job, sink cognition.Sink) {
		sink.FailTurn(cognition.ErrNoSpeech)
	}
	h := startSession(t, script(speak(2), hush(3), speak(2), hush(3)), fail, fail)

	for i := 0; i < 5; i++ {
		h.conn.sendFrame(muFrame(0x11))
	}
	h.waitForEvent(t, "state:LISTENING")

	for i := 0; i < 5; i++ {
		h.conn.sendFrame(muFrame(0x33))
	}
	waitFor(t, "second job", func() bool { return h.disp.jobCount() == 2 })
	if err := h.end(t); err != nil {
		t.Fatalf("Run: %v", err)
	}

	first, second := h.disp.job(0), h.disp.job(1)
	if len(first.PCM) != 3*320 || len(second.PCM) != 3*320 {
		t.Fatalf("utterance sizes = %d, %d bytes", len(first.PCM), len(second.PCM))
	}
	if bytes.Equal(first.PCM, second.PCM) {
		t.Fatal("second utterance repeats the first; buffer was not cleared")
	}
}

func TestDuplicateJobViolatesInvariant(t *testing.T) {
	h := startSession(t, script(speak(2), hush(3)))

	// Wedge a phantom job into the slot; reaching THINKING must now fail.
	h.sess.jobMu.Lock()
	h.sess.job = &jobHandle{cancel: func() {}}
	h.sess.jobMu.Unlock()

	for i := 0; i < 5; i++ {
		h.conn.sendFrame(muFrame(0x42))
	}

	err := h.wait(t)
	if !errors.Is(err, ErrInvariant) {
		t.Fatalf("Run: err = %v, want ErrInvariant", err)
	}
	h.conn.mu.Lock()
	reason := h.conn.closeReason
	h.conn.mu.Unlock()
	if reason == "" {
		t.Fatal("invariant violation did not close the connection with an error status")
	}
}

// ─── Manager ─────────────────────────────────────────────────────────────────

func TestManagerConfiguresVADFromProfile(t *testing.T) {
	engine := &vadmock.Engine{Session: &vadmock.Session{}}
	m := NewManager(engine, &fakeDispatcher{},
		WithVADTuning(750, 0.5, 0.8),
		WithManagerLogger(quietLogger()),
	)

	conn := newFakeConn()
	conn.sendError(io.EOF)
	if err := m.Serve(context.Background(), conn, "user-9", transport.Web); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	if len(engine.NewSessionCalls) != 1 {
		t.Fatalf("NewSession called %d times", len(engine.NewSessionCalls))
	}
	cfg := engine.NewSessionCalls[0].Cfg
	if cfg.SampleRate != 16000 || cfg.Encoding != transport.Web.Encoding {
		t.Fatalf("vad config = %+v, want web profile audio", cfg)
	}
	if cfg.EnergyThreshold != 750 || cfg.Smoothing != 0.5 || cfg.SpeechGate != 0.8 {
		t.Fatalf("vad tuning = %+v", cfg)
	}
	if m.Len() != 0 {
		t.Fatalf("Len after session end = %d", m.Len())
	}
}

func TestManagerRefusesWithoutVAD(t *testing.T) {
	engine := &vadmock.Engine{NewSessionErr: errors.New("model missing")}
	m := NewManager(engine, &fakeDispatcher{}, WithManagerLogger(quietLogger()))

	conn := newFakeConn()
	err := m.Serve(context.Background(), conn, "user-9", transport.Telephony)
	if err == nil {
		t.Fatal("Serve succeeded without a vad session")
	}
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if !conn.closed {
		t.Fatal("connection left open after vad refusal")
	}
}

func TestManagerDerivesTurnThresholds(t *testing.T) {
	m := NewManager(&vadmock.Engine{}, &fakeDispatcher{},
		WithHangWindows(40*time.Millisecond, 200*time.Millisecond),
	)
	m.mu.Lock()
	cfg := m.turnConfig(transport.Telephony)
	m.mu.Unlock()
	if cfg.SpeechThreshold != 2 || cfg.SilenceThreshold != 10 {
		t.Fatalf("turn config = %+v, want 2/10 frames", cfg)
	}

	// Without overrides the canonical windows apply.
	def := NewManager(&vadmock.Engine{}, &fakeDispatcher{})
	def.mu.Lock()
	defCfg := def.turnConfig(transport.Telephony)
	def.mu.Unlock()
	if defCfg.SpeechThreshold != 3 || defCfg.SilenceThreshold != 25 {
		t.Fatalf("default turn config = %+v, want 3/25 frames", defCfg)
	}
}

func TestManagerRetuneAppliesToNewSessions(t *testing.T) {
	engine := &vadmock.Engine{Session: &vadmock.Session{}}
	m := NewManager(engine, &fakeDispatcher{},
		WithVADTuning(750, 0.5, 0.8),
		WithManagerLogger(quietLogger()),
	)

	m.Retune(60*time.Millisecond, 300*time.Millisecond, 1200, 0.4, 0.9)

	conn := newFakeConn()
	conn.sendError(io.EOF)
	if err := m.Serve(context.Background(), conn, "user-9", transport.Telephony); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	if len(engine.NewSessionCalls) != 1 {
		t.Fatalf("NewSession called %d times", len(engine.NewSessionCalls))
	}
	cfg := engine.NewSessionCalls[0].Cfg
	if cfg.EnergyThreshold != 1200 || cfg.Smoothing != 0.4 || cfg.SpeechGate != 0.9 {
		t.Fatalf("vad tuning after retune = %+v", cfg)
	}

	m.mu.Lock()
	turn := m.turnConfig(transport.Telephony)
	m.mu.Unlock()
	if turn.SpeechThreshold != 3 || turn.SilenceThreshold != 15 {
		t.Fatalf("turn config after retune = %+v, want 3/15 frames", turn)
	}

	// Zero windows fall back to the canonical defaults, as at construction.
	m.Retune(0, 0, 0, 0, 0)
	m.mu.Lock()
	turn = m.turnConfig(transport.Telephony)
	m.mu.Unlock()
	if turn.SpeechThreshold != 3 || turn.SilenceThreshold != 25 {
		t.Fatalf("turn config after zero retune = %+v, want 3/25 frames", turn)
	}
}
